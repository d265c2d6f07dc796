package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	custommiddleware "github.com/teltec-net/backoffice/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware бэк-офиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/clientes", h.ListClientes)
			r.Post("/clientes", h.CreateCliente)
			r.Get("/clientes/{id}", h.GetCliente)

			r.Get("/pagos/cliente/{id}", h.GetPagos)
			r.Get("/pagos/cliente/{id}/meses", h.GetMesesDisponibles)
			r.Post("/pagos/flexible", h.RegistrarPago)
			// Совместимость со старыми клиентами API.
			r.Post("/pagos/create", h.RegistrarPago)

			r.Get("/deudas", h.GetDeudores)
			r.Get("/deudas/stats", h.GetDeudasStats)
			r.Post("/deudas/actualizar", h.ActualizarDeudas)
			r.Get("/deudas/auditoria", h.GetAuditoria)
			r.Get("/deudas/auditoria/{id}", h.GetAuditoriaCliente)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
