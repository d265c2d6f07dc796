// Package handler содержит HTTP-обработчики API биллингового бэк-офиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/teltec-net/backoffice/internal/middleware"
	"github.com/teltec-net/backoffice/internal/model"
	"github.com/teltec-net/backoffice/internal/repository"
	"github.com/teltec-net/backoffice/internal/service"
)

const dateLayout = "2006-01-02"

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	RegisterCliente(ctx context.Context, c *model.Customer) (*model.Customer, error)
	GetCliente(ctx context.Context, id int64) (*model.Customer, error)
	ListClientes(ctx context.Context) ([]model.Customer, error)
	GetDeudores(ctx context.Context) ([]model.Customer, error)
	GetDeudasStats(ctx context.Context) (*repository.DeudasStats, error)
	GetPagos(ctx context.Context, clienteID int64) ([]model.Payment, error)
	MesesDisponibles(ctx context.Context, clienteID int64) (*service.DisponibilidadMeses, error)
	RegistrarPago(ctx context.Context, reg service.RegistroPago) ([]model.Payment, error)
	RecomputarDeudas(ctx context.Context) (*service.BatchResult, error)
	AuditarCliente(ctx context.Context, clienteID int64) (*service.Auditoria, error)
	AuditarTodos(ctx context.Context) ([]service.Auditoria, error)
}

// Handler реализует HTTP-обработчики API биллингового бэк-офиса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// apiResponse — единый конверт ответов API.
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data any) {
	h.writeJSON(w, status, apiResponse{Success: true, Data: data})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, apiResponse{Success: false, Message: msg})
}

// mapError переводит ошибки нижних слоёв в HTTP-статусы.
func (h *Handler) mapError(w http.ResponseWriter, err error) {
	var (
		pErr *repository.PeriodosPagadosError
		aErr *service.InvalidAmountError
		vErr *service.ValidationError
	)

	switch {
	case errors.Is(err, repository.ErrClienteNotFound):
		h.writeError(w, http.StatusNotFound, "cliente no encontrado")
	case errors.Is(err, repository.ErrClienteExists):
		h.writeError(w, http.StatusConflict, "cliente ya registrado")
	case errors.As(err, &pErr):
		meses := make([]string, len(pErr.Periodos))
		for i, p := range pErr.Periodos {
			meses[i] = p.Key()
		}
		h.writeJSON(w, http.StatusConflict, apiResponse{
			Success: false,
			Message: pErr.Error(),
			Data:    map[string]any{"meses_ya_pagados": meses},
		})
	case errors.As(err, &aErr):
		esperado, _ := aErr.Esperado.Float64()
		h.writeJSON(w, http.StatusBadRequest, apiResponse{
			Success: false,
			Message: aErr.Error(),
			Data:    map[string]any{"monto_esperado": esperado},
		})
	case errors.As(err, &vErr):
		h.writeError(w, http.StatusBadRequest, vErr.Error())
	default:
		h.logger.Error("internal error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "error interno")
	}
}

func clienteIDFromURL(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового сотрудника.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Login == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "login y password son obligatorios")
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			h.writeError(w, http.StatusConflict, "login ocupado")
			return
		}
		h.logger.Error("register user", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "error interno")
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	h.writeData(w, http.StatusOK, map[string]int64{"id": userID})
}

// Login выполняет аутентификацию сотрудника и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Login == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "login y password son obligatorios")
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, "credenciales invalidas")
			return
		}
		h.logger.Error("login user", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "error interno")
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	h.writeData(w, http.StatusOK, map[string]int64{"id": userID})
}

type clienteRequest struct {
	Cedula          string  `json:"cedula"`
	Nombres         string  `json:"nombres"`
	Apellidos       string  `json:"apellidos"`
	Email           string  `json:"email"`
	Telefono        string  `json:"telefono"`
	Direccion       string  `json:"direccion"`
	Sector          string  `json:"sector"`
	TipoPlan        string  `json:"tipo_plan"`
	PrecioPlan      float64 `json:"precio_plan"`
	FechaNacimiento string  `json:"fecha_nacimiento"`
	TelegramChatID  string  `json:"telegram_chat_id"`
}

type clienteResponse struct {
	ID               int64   `json:"id"`
	Cedula           string  `json:"cedula"`
	Nombres          string  `json:"nombres"`
	Apellidos        string  `json:"apellidos"`
	NombreCompleto   string  `json:"nombre_completo"`
	Email            string  `json:"email"`
	Telefono         string  `json:"telefono"`
	Direccion        string  `json:"direccion"`
	Sector           string  `json:"sector"`
	TipoPlan         string  `json:"tipo_plan"`
	PrecioPlan       float64 `json:"precio_plan"`
	Estado           string  `json:"estado"`
	FechaRegistro    string  `json:"fecha_registro"`
	EstadoPago       string  `json:"estado_pago"`
	MesesPendientes  int     `json:"meses_pendientes"`
	MontoTotalDeuda  float64 `json:"monto_total_deuda"`
	FechaUltimoPago  *string `json:"fecha_ultimo_pago,omitempty"`
	FechaVencimiento *string `json:"fecha_vencimiento_pago,omitempty"`
}

func toClienteResponse(c *model.Customer) clienteResponse {
	precio, _ := c.PrecioPlan.Float64()
	deuda, _ := c.Snapshot.MontoTotalDeuda.Float64()

	resp := clienteResponse{
		ID:              c.ID,
		Cedula:          c.Cedula,
		Nombres:         c.Nombres,
		Apellidos:       c.Apellidos,
		NombreCompleto:  c.NombreCompleto(),
		Email:           c.Email,
		Telefono:        c.Telefono,
		Direccion:       c.Direccion,
		Sector:          c.Sector,
		TipoPlan:        c.TipoPlan,
		PrecioPlan:      precio,
		Estado:          string(c.Estado),
		FechaRegistro:   c.FechaRegistro.Format(dateLayout),
		EstadoPago:      string(c.Snapshot.EstadoPago),
		MesesPendientes: c.Snapshot.MesesPendientes,
		MontoTotalDeuda: deuda,
	}
	if c.Snapshot.FechaUltimoPago != nil {
		v := c.Snapshot.FechaUltimoPago.Format(dateLayout)
		resp.FechaUltimoPago = &v
	}
	if c.Snapshot.FechaVencimiento != nil {
		v := c.Snapshot.FechaVencimiento.Format(dateLayout)
		resp.FechaVencimiento = &v
	}
	return resp
}

// CreateCliente регистрирует нового абонента.
func (h *Handler) CreateCliente(w http.ResponseWriter, r *http.Request) {
	var req clienteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "cuerpo de solicitud invalido")
		return
	}

	nacimiento, err := time.Parse(dateLayout, req.FechaNacimiento)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "fecha_nacimiento invalida, formato AAAA-MM-DD")
		return
	}

	cliente := &model.Customer{
		Cedula:          req.Cedula,
		Nombres:         req.Nombres,
		Apellidos:       req.Apellidos,
		Email:           req.Email,
		Telefono:        req.Telefono,
		Direccion:       req.Direccion,
		Sector:          req.Sector,
		TipoPlan:        req.TipoPlan,
		PrecioPlan:      decimal.NewFromFloat(req.PrecioPlan).Round(2),
		FechaNacimiento: nacimiento,
		TelegramChatID:  req.TelegramChatID,
	}

	created, err := h.service.RegisterCliente(r.Context(), cliente)
	if err != nil {
		h.mapError(w, err)
		return
	}

	h.writeData(w, http.StatusCreated, toClienteResponse(created))
}

// GetCliente возвращает карточку абонента.
func (h *Handler) GetCliente(w http.ResponseWriter, r *http.Request) {
	id, err := clienteIDFromURL(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "id invalido")
		return
	}

	cliente, err := h.service.GetCliente(r.Context(), id)
	if err != nil {
		h.mapError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, toClienteResponse(cliente))
}

// ListClientes возвращает список всех абонентов.
func (h *Handler) ListClientes(w http.ResponseWriter, r *http.Request) {
	clientes, err := h.service.ListClientes(r.Context())
	if err != nil {
		h.mapError(w, err)
		return
	}

	resp := make([]clienteResponse, 0, len(clientes))
	for i := range clientes {
		resp = append(resp, toClienteResponse(&clientes[i]))
	}
	h.writeData(w, http.StatusOK, resp)
}

type pagoResponse struct {
	ID                 int64         `json:"id"`
	ClienteID          int64         `json:"cliente_id"`
	Monto              float64       `json:"monto"`
	FechaPago          string        `json:"fecha_pago"`
	MetodoPago         string        `json:"metodo_pago"`
	Concepto           string        `json:"concepto"`
	Periodo            *model.Period `json:"periodo,omitempty"`
	Estado             string        `json:"estado"`
	ComprobanteEnviado bool          `json:"comprobante_enviado"`
	NumeroComprobante  string        `json:"numero_comprobante"`
}

func toPagoResponse(p *model.Payment) pagoResponse {
	monto, _ := p.Monto.Float64()
	return pagoResponse{
		ID:                 p.ID,
		ClienteID:          p.ClienteID,
		Monto:              monto,
		FechaPago:          p.FechaPago.Format(dateLayout),
		MetodoPago:         string(p.MetodoPago),
		Concepto:           p.Concepto,
		Periodo:            p.Periodo,
		Estado:             string(p.Estado),
		ComprobanteEnviado: p.ComprobanteEnviado,
		NumeroComprobante:  p.NumeroComprobante,
	}
}

// GetPagos возвращает историю платежей абонента.
func (h *Handler) GetPagos(w http.ResponseWriter, r *http.Request) {
	id, err := clienteIDFromURL(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "id invalido")
		return
	}

	pagos, err := h.service.GetPagos(r.Context(), id)
	if err != nil {
		h.mapError(w, err)
		return
	}

	resp := make([]pagoResponse, 0, len(pagos))
	for i := range pagos {
		resp = append(resp, toPagoResponse(&pagos[i]))
	}
	h.writeData(w, http.StatusOK, resp)
}

type mesDisponibleResponse struct {
	Anio        int     `json:"año"`
	Mes         int     `json:"mes"`
	NombreMes   string  `json:"nombre_mes"`
	YaPagado    bool    `json:"ya_pagado"`
	Monto       float64 `json:"monto"`
	FechaLimite string  `json:"fecha_limite"`
}

// GetMesesDisponibles возвращает месяцы, доступные абоненту для оплаты.
func (h *Handler) GetMesesDisponibles(w http.ResponseWriter, r *http.Request) {
	id, err := clienteIDFromURL(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "id invalido")
		return
	}

	res, err := h.service.MesesDisponibles(r.Context(), id)
	if err != nil {
		h.mapError(w, err)
		return
	}

	meses := make([]mesDisponibleResponse, 0, len(res.Meses))
	for _, m := range res.Meses {
		monto, _ := m.Monto.Float64()
		meses = append(meses, mesDisponibleResponse{
			Anio:        m.Periodo.Anio,
			Mes:         m.Periodo.Mes,
			NombreMes:   m.NombreMes,
			YaPagado:    m.YaPagado,
			Monto:       monto,
			FechaLimite: m.FechaLimite.Format(dateLayout),
		})
	}

	h.writeData(w, http.StatusOK, map[string]any{
		"cliente_id":       res.Cliente.ID,
		"nombre_completo":  res.Cliente.NombreCompleto(),
		"tipo_plan":        res.Cliente.TipoPlan,
		"meses":            meses,
		"meses_pendientes": res.Pendientes,
	})
}

type pagoFlexibleRequest struct {
	ClienteID          int64          `json:"cliente_id"`
	Monto              float64        `json:"monto"`
	MetodoPago         string         `json:"metodo_pago"`
	FechaPago          string         `json:"fecha_pago,omitempty"`
	MesesSeleccionados []model.Period `json:"meses_seleccionados,omitempty"`
	CantidadMeses      int            `json:"cantidad_meses,omitempty"`
	Concepto           string         `json:"concepto,omitempty"`
}

// RegistrarPago принимает платёж: либо с явным списком месяцев, либо
// устаревшей записью на количество месяцев.
func (h *Handler) RegistrarPago(w http.ResponseWriter, r *http.Request) {
	var req pagoFlexibleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "cuerpo de solicitud invalido")
		return
	}

	reg := service.RegistroPago{
		ClienteID: req.ClienteID,
		Monto:     decimal.NewFromFloat(req.Monto).Round(2),
		Metodo:    model.PaymentMethod(req.MetodoPago),
		Meses:     req.MesesSeleccionados,
		Cantidad:  req.CantidadMeses,
		Concepto:  req.Concepto,
	}
	if req.FechaPago != "" {
		fecha, err := time.Parse(dateLayout, req.FechaPago)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "fecha_pago invalida, formato AAAA-MM-DD")
			return
		}
		reg.FechaPago = fecha
	}

	created, err := h.service.RegistrarPago(r.Context(), reg)
	if err != nil {
		h.mapError(w, err)
		return
	}

	resp := make([]pagoResponse, 0, len(created))
	for i := range created {
		resp = append(resp, toPagoResponse(&created[i]))
	}
	h.writeData(w, http.StatusCreated, map[string]any{"pagos": resp})
}

// GetDeudores возвращает активных абонентов с задолженностью.
func (h *Handler) GetDeudores(w http.ResponseWriter, r *http.Request) {
	deudores, err := h.service.GetDeudores(r.Context())
	if err != nil {
		h.mapError(w, err)
		return
	}

	resp := make([]clienteResponse, 0, len(deudores))
	for i := range deudores {
		resp = append(resp, toClienteResponse(&deudores[i]))
	}
	h.writeData(w, http.StatusOK, resp)
}

// GetDeudasStats возвращает сводную статистику задолженности.
func (h *Handler) GetDeudasStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetDeudasStats(r.Context())
	if err != nil {
		h.mapError(w, err)
		return
	}

	total, _ := stats.TotalDeuda.Float64()
	promedio, _ := stats.PromedioDeuda.Float64()
	h.writeData(w, http.StatusOK, map[string]any{
		"total_clientes":      stats.TotalClientes,
		"al_dia":              stats.AlDia,
		"proximo_vencimiento": stats.ProximoVencimiento,
		"vencidos":            stats.Vencidos,
		"total_deuda":         total,
		"promedio_deuda":      promedio,
	})
}

// ActualizarDeudas запускает немедленный пересчёт задолженностей.
func (h *Handler) ActualizarDeudas(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.RecomputarDeudas(r.Context())
	if err != nil {
		h.mapError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, map[string]int{
		"procesados": res.Procesados,
		"errores":    res.Errores,
	})
}

type auditoriaResponse struct {
	ClienteID          int64   `json:"cliente_id"`
	NombreCompleto     string  `json:"nombre_completo"`
	Consistente        bool    `json:"consistente"`
	EstadoAlmacenado   string  `json:"estado_almacenado"`
	EstadoRecalculado  string  `json:"estado_recalculado"`
	DeudaAlmacenada    float64 `json:"deuda_almacenada"`
	DeudaRecalculada   float64 `json:"deuda_recalculada"`
	DeltaDeuda         float64 `json:"delta_deuda"`
	DeltaMeses         int     `json:"delta_meses"`
	MesesTranscurridos int     `json:"meses_transcurridos"`
	MesesPagados       int     `json:"meses_pagados"`
}

func toAuditoriaResponse(a *service.Auditoria) auditoriaResponse {
	almacenada, _ := a.Almacenado.MontoTotalDeuda.Float64()
	recalculada, _ := a.Recalculado.MontoTotalDeuda.Float64()
	delta, _ := a.DeltaDeuda.Float64()

	return auditoriaResponse{
		ClienteID:          a.Cliente.ID,
		NombreCompleto:     a.Cliente.NombreCompleto(),
		Consistente:        a.Consistente,
		EstadoAlmacenado:   string(a.Almacenado.EstadoPago),
		EstadoRecalculado:  string(a.Recalculado.EstadoPago),
		DeudaAlmacenada:    almacenada,
		DeudaRecalculada:   recalculada,
		DeltaDeuda:         delta,
		DeltaMeses:         a.DeltaMeses,
		MesesTranscurridos: a.Trace.MesesTranscurridos,
		MesesPagados:       a.Trace.MesesPagados,
	}
}

// GetAuditoria прогоняет аудит по всем активным абонентам.
func (h *Handler) GetAuditoria(w http.ResponseWriter, r *http.Request) {
	auditorias, err := h.service.AuditarTodos(r.Context())
	if err != nil {
		h.mapError(w, err)
		return
	}

	inconsistentes := 0
	resp := make([]auditoriaResponse, 0, len(auditorias))
	for i := range auditorias {
		if !auditorias[i].Consistente {
			inconsistentes++
		}
		resp = append(resp, toAuditoriaResponse(&auditorias[i]))
	}

	h.writeData(w, http.StatusOK, map[string]any{
		"total":          len(resp),
		"inconsistentes": inconsistentes,
		"clientes":       resp,
	})
}

// GetAuditoriaCliente прогоняет аудит по одному абоненту.
func (h *Handler) GetAuditoriaCliente(w http.ResponseWriter, r *http.Request) {
	id, err := clienteIDFromURL(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "id invalido")
		return
	}

	a, err := h.service.AuditarCliente(r.Context(), id)
	if err != nil {
		h.mapError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, toAuditoriaResponse(a))
}
