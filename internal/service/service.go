// Package service реализует бизнес-логику биллингового бэк-офиса.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/teltec-net/backoffice/internal/billing"
	"github.com/teltec-net/backoffice/internal/model"
	"github.com/teltec-net/backoffice/internal/repository"
	"github.com/teltec-net/backoffice/internal/validation"
)

// Допустимое расхождение между заявленной и ожидаемой суммой платежа.
var amountTolerance = decimal.New(1, -2)

const (
	// Горизонт предоплаты в месяцах при выборе доступных периодов.
	lookaheadMonths = 6
	// Минимальный возраст абонента на дату регистрации.
	adultAge = 18
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ValidationError описывает нарушение бизнес-правил во входных данных.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// InvalidAmountError возвращается, когда сумма платежа расходится с
// ожидаемой больше, чем на допуск.
type InvalidAmountError struct {
	Esperado decimal.Decimal
	Recibido decimal.Decimal
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("monto invalido: esperado %s, recibido %s", e.Esperado, e.Recibido)
}

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	CreateCliente(ctx context.Context, c *model.Customer) (int64, error)
	GetClienteByID(ctx context.Context, id int64) (*model.Customer, error)
	ListClientes(ctx context.Context) ([]model.Customer, error)
	GetClientesActivos(ctx context.Context) ([]model.Customer, error)
	GetDeudores(ctx context.Context) ([]model.Customer, error)
	GetDeudasStats(ctx context.Context) (*repository.DeudasStats, error)
	GetPagosByCliente(ctx context.Context, clienteID int64) ([]model.Payment, error)
	GetPagosCompletados(ctx context.Context, clienteID int64) ([]model.Payment, error)
	CreatePagos(ctx context.Context, clienteID int64, pagos []model.Payment, prefix string) ([]model.Payment, error)
	UpdateClienteSnapshot(ctx context.Context, clienteID int64, s model.Snapshot) error
	MarkComprobanteEnviado(ctx context.Context, pagoID int64) error
}

// Notifier описывает канал уведомлений абонентов.
type Notifier interface {
	Enabled() bool
	SendMessage(ctx context.Context, chatID, text string) error
}

// Service содержит бизнес-логику биллингового бэк-офиса.
type Service struct {
	repo          Repository
	notifier      Notifier
	logger        *zap.Logger
	receiptPrefix string
	now           func() time.Time
}

// NewService создаёт сервис с указанным репозиторием и каналом уведомлений.
func NewService(repo Repository, notifier Notifier, logger *zap.Logger, receiptPrefix string) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:          repo,
		notifier:      notifier,
		logger:        logger,
		receiptPrefix: receiptPrefix,
		now:           time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового сотрудника бэк-офиса.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль сотрудника и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	hashed := hashPassword(login, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// RegisterCliente проверяет данные абонента и регистрирует его.
func (s *Service) RegisterCliente(ctx context.Context, c *model.Customer) (*model.Customer, error) {
	if !validation.IsValidCedula(c.Cedula) {
		return nil, &ValidationError{Reason: "cedula invalida"}
	}
	if strings.TrimSpace(c.Nombres) == "" || strings.TrimSpace(c.Apellidos) == "" {
		return nil, &ValidationError{Reason: "nombres y apellidos son obligatorios"}
	}
	if !strings.Contains(c.Email, "@") {
		return nil, &ValidationError{Reason: "email invalido"}
	}
	if strings.TrimSpace(c.TipoPlan) == "" {
		return nil, &ValidationError{Reason: "tipo de plan es obligatorio"}
	}
	if !c.PrecioPlan.IsPositive() {
		return nil, &ValidationError{Reason: "precio del plan debe ser positivo"}
	}
	if yearsBetween(c.FechaNacimiento, s.now()) < adultAge {
		return nil, &ValidationError{Reason: "el cliente debe ser mayor de edad"}
	}

	if c.Estado == "" {
		c.Estado = model.CustomerActive
	}

	id, err := s.repo.CreateCliente(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return c, nil
}

func yearsBetween(desde, hasta time.Time) int {
	years := hasta.Year() - desde.Year()
	if hasta.Month() < desde.Month() ||
		(hasta.Month() == desde.Month() && hasta.Day() < desde.Day()) {
		years--
	}
	return years
}

// GetCliente возвращает абонента по идентификатору.
func (s *Service) GetCliente(ctx context.Context, id int64) (*model.Customer, error) {
	return s.repo.GetClienteByID(ctx, id)
}

// ListClientes возвращает всех абонентов.
func (s *Service) ListClientes(ctx context.Context) ([]model.Customer, error) {
	return s.repo.ListClientes(ctx)
}

// GetDeudores возвращает активных абонентов с задолженностью.
func (s *Service) GetDeudores(ctx context.Context) ([]model.Customer, error) {
	return s.repo.GetDeudores(ctx)
}

// GetDeudasStats возвращает сводную статистику задолженности.
func (s *Service) GetDeudasStats(ctx context.Context) (*repository.DeudasStats, error) {
	return s.repo.GetDeudasStats(ctx)
}

// GetPagos возвращает историю платежей абонента.
func (s *Service) GetPagos(ctx context.Context, clienteID int64) ([]model.Payment, error) {
	if _, err := s.repo.GetClienteByID(ctx, clienteID); err != nil {
		return nil, err
	}
	return s.repo.GetPagosByCliente(ctx, clienteID)
}

// MesDisponible описывает расчётный месяц в выборе доступных периодов.
type MesDisponible struct {
	Periodo     model.Period
	NombreMes   string
	YaPagado    bool
	Monto       decimal.Decimal
	FechaLimite time.Time
}

// DisponibilidadMeses объединяет абонента и его расчётные месяцы от
// регистрации до горизонта предоплаты.
type DisponibilidadMeses struct {
	Cliente    *model.Customer
	Meses      []MesDisponible
	Pendientes int
}

// MesesDisponibles возвращает месяцы, доступные для оплаты: прошедшие
// с момента регистрации и шесть будущих. Месяц помечается оплаченным,
// если на него отнесён хотя бы один завершённый платёж.
func (s *Service) MesesDisponibles(ctx context.Context, clienteID int64) (*DisponibilidadMeses, error) {
	cliente, err := s.repo.GetClienteByID(ctx, clienteID)
	if err != nil {
		return nil, err
	}

	pagos, err := s.repo.GetPagosCompletados(ctx, clienteID)
	if err != nil {
		return nil, err
	}
	attr := billing.Attribution(pagos)

	hoy := s.now()
	pasados := billing.PeriodsSince(cliente.FechaRegistro, hoy)
	futuros := billing.LookaheadPeriods(hoy, lookaheadMonths)

	res := &DisponibilidadMeses{Cliente: cliente}
	for i, p := range append(pasados, futuros...) {
		_, pagado := attr[p]
		if !pagado && i < len(pasados) {
			res.Pendientes++
		}
		res.Meses = append(res.Meses, MesDisponible{
			Periodo:     p,
			NombreMes:   billing.MonthName(p.Mes),
			YaPagado:    pagado,
			Monto:       cliente.PrecioPlan,
			FechaLimite: billing.DueDate(p),
		})
	}

	return res, nil
}

// RegistroPago описывает запрос на регистрацию платежа.
// Заполненный список Meses включает явный режим: по строке на каждый
// выбранный месяц. Иначе создаётся одна устаревшая запись на Cantidad
// месяцев без структурированного периода.
type RegistroPago struct {
	ClienteID int64
	Monto     decimal.Decimal
	Metodo    model.PaymentMethod
	FechaPago time.Time
	Meses     []model.Period
	Cantidad  int
	Concepto  string
}

// RegistrarPago проверяет и записывает платёж абонента.
// В явном режиме сумма должна совпадать с ценой плана, умноженной на
// число месяцев, с допуском 0.01; в устаревшем режиме сумма
// записывается как заявлена. После записи абоненту отправляется
// квитанция; сбой отправки не откатывает платёж.
func (s *Service) RegistrarPago(ctx context.Context, reg RegistroPago) ([]model.Payment, error) {
	if !model.ValidMethod(reg.Metodo) {
		return nil, &ValidationError{Reason: "metodo de pago invalido"}
	}
	if !reg.Monto.IsPositive() {
		return nil, &ValidationError{Reason: "monto debe ser positivo"}
	}

	cliente, err := s.repo.GetClienteByID(ctx, reg.ClienteID)
	if err != nil {
		return nil, err
	}

	fechaPago := reg.FechaPago
	if fechaPago.IsZero() {
		fechaPago = s.now()
	}

	var filas []model.Payment
	if len(reg.Meses) > 0 {
		filas, err = s.buildPagosExplicitos(cliente, reg, fechaPago)
	} else {
		filas, err = s.buildPagoLegado(cliente, reg, fechaPago)
	}
	if err != nil {
		return nil, err
	}

	created, err := s.repo.CreatePagos(ctx, cliente.ID, filas, s.receiptPrefix)
	if err != nil {
		return nil, err
	}

	s.enviarComprobantes(ctx, cliente, created)

	return created, nil
}

func (s *Service) buildPagosExplicitos(cliente *model.Customer, reg RegistroPago, fechaPago time.Time) ([]model.Payment, error) {
	vistos := make(map[model.Period]bool, len(reg.Meses))
	for _, p := range reg.Meses {
		if p.Mes < 1 || p.Mes > 12 || p.Anio < 2000 {
			return nil, &ValidationError{Reason: fmt.Sprintf("periodo invalido: %s", p.Key())}
		}
		if vistos[p] {
			return nil, &ValidationError{Reason: fmt.Sprintf("periodo duplicado: %s", billing.PeriodLabel(p))}
		}
		vistos[p] = true
	}

	esperado := cliente.PrecioPlan.Mul(decimal.NewFromInt(int64(len(reg.Meses))))
	if reg.Monto.Sub(esperado).Abs().GreaterThan(amountTolerance) {
		return nil, &InvalidAmountError{Esperado: esperado, Recibido: reg.Monto}
	}

	filas := make([]model.Payment, 0, len(reg.Meses))
	for _, p := range reg.Meses {
		filas = append(filas, model.Payment{
			Monto:      cliente.PrecioPlan,
			FechaPago:  fechaPago,
			MetodoPago: reg.Metodo,
			Concepto:   fmt.Sprintf("Pago mensual - %s - %s", billing.PeriodLabel(p), cliente.TipoPlan),
			Periodo:    &p,
			Estado:     model.PaymentCompleted,
		})
	}
	return filas, nil
}

func (s *Service) buildPagoLegado(cliente *model.Customer, reg RegistroPago, fechaPago time.Time) ([]model.Payment, error) {
	cantidad := reg.Cantidad
	if cantidad < 1 {
		cantidad = 1
	}

	concepto := reg.Concepto
	if concepto == "" {
		concepto = "Pago mensual"
		if cantidad > 1 {
			concepto = fmt.Sprintf("Pago mensual (%d meses)", cantidad)
		}
	}

	// Сумма записывается как заявлена, одной строкой без периода.
	return []model.Payment{{
		Monto:      reg.Monto,
		FechaPago:  fechaPago,
		MetodoPago: reg.Metodo,
		Concepto:   concepto,
		Estado:     model.PaymentCompleted,
	}}, nil
}

func (s *Service) enviarComprobantes(ctx context.Context, cliente *model.Customer, pagos []model.Payment) {
	if s.notifier == nil || !s.notifier.Enabled() || cliente.TelegramChatID == "" {
		return
	}

	for _, p := range pagos {
		text := fmt.Sprintf(
			"Pago registrado\nCliente: %s\nConcepto: %s\nMonto: $%s\nComprobante: %s",
			cliente.NombreCompleto(), p.Concepto, p.Monto.StringFixed(2), p.NumeroComprobante,
		)
		if err := s.notifier.SendMessage(ctx, cliente.TelegramChatID, text); err != nil {
			s.logger.Warn("send comprobante",
				zap.Int64("pago_id", p.ID),
				zap.Int64("cliente_id", cliente.ID),
				zap.Error(err))
			continue
		}
		if err := s.repo.MarkComprobanteEnviado(ctx, p.ID); err != nil {
			s.logger.Warn("mark comprobante enviado",
				zap.Int64("pago_id", p.ID),
				zap.Error(err))
		}
	}
}

// BatchResult описывает итог пакетного пересчёта задолженностей.
type BatchResult struct {
	Procesados int
	Errores    int
}

// RecomputarDeudas пересчитывает снимки задолженности всех активных
// абонентов. Ошибка по одному абоненту логируется и не прерывает
// обработку остальных.
func (s *Service) RecomputarDeudas(ctx context.Context) (*BatchResult, error) {
	clientes, err := s.repo.GetClientesActivos(ctx)
	if err != nil {
		return nil, err
	}

	res := &BatchResult{}
	for i := range clientes {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		c := &clientes[i]
		pagos, err := s.repo.GetPagosCompletados(ctx, c.ID)
		if err != nil {
			s.logger.Warn("load pagos", zap.Int64("cliente_id", c.ID), zap.Error(err))
			res.Errores++
			continue
		}

		snap, _ := billing.ComputeSnapshot(c.FechaRegistro, c.PrecioPlan, pagos, s.now())
		if err := s.repo.UpdateClienteSnapshot(ctx, c.ID, snap); err != nil {
			s.logger.Warn("update snapshot", zap.Int64("cliente_id", c.ID), zap.Error(err))
			res.Errores++
			continue
		}
		res.Procesados++
	}

	return res, nil
}

// StartDeudaUpdates запускает периодический пересчёт задолженностей.
func (s *Service) StartDeudaUpdates(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res, err := s.RecomputarDeudas(ctx)
				if err != nil {
					s.logger.Error("recompute deudas", zap.Error(err))
					continue
				}
				s.logger.Info("deudas recomputed",
					zap.Int("procesados", res.Procesados),
					zap.Int("errores", res.Errores))
			}
		}
	}()
}

// Auditoria сопоставляет сохранённый снимок абонента с пересчётом по журналу.
type Auditoria struct {
	Cliente     *model.Customer
	Almacenado  model.Snapshot
	Recalculado model.Snapshot
	Trace       billing.Trace
	DeltaDeuda  decimal.Decimal
	DeltaMeses  int
	Consistente bool
}

// AuditarCliente пересчитывает задолженность абонента и сравнивает её
// с сохранённым снимком, не изменяя данных.
func (s *Service) AuditarCliente(ctx context.Context, clienteID int64) (*Auditoria, error) {
	cliente, err := s.repo.GetClienteByID(ctx, clienteID)
	if err != nil {
		return nil, err
	}

	pagos, err := s.repo.GetPagosCompletados(ctx, clienteID)
	if err != nil {
		return nil, err
	}

	snap, trace := billing.ComputeSnapshot(cliente.FechaRegistro, cliente.PrecioPlan, pagos, s.now())

	a := &Auditoria{
		Cliente:     cliente,
		Almacenado:  cliente.Snapshot,
		Recalculado: snap,
		Trace:       trace,
		DeltaDeuda:  snap.MontoTotalDeuda.Sub(cliente.Snapshot.MontoTotalDeuda),
		DeltaMeses:  snap.MesesPendientes - cliente.Snapshot.MesesPendientes,
	}
	a.Consistente = a.DeltaMeses == 0 &&
		a.DeltaDeuda.IsZero() &&
		snap.EstadoPago == cliente.Snapshot.EstadoPago

	return a, nil
}

// AuditarTodos прогоняет аудит по всем активным абонентам.
func (s *Service) AuditarTodos(ctx context.Context) ([]Auditoria, error) {
	clientes, err := s.repo.GetClientesActivos(ctx)
	if err != nil {
		return nil, err
	}

	res := make([]Auditoria, 0, len(clientes))
	for i := range clientes {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		a, err := s.AuditarCliente(ctx, clientes[i].ID)
		if err != nil {
			s.logger.Warn("audit cliente", zap.Int64("cliente_id", clientes[i].ID), zap.Error(err))
			continue
		}
		res = append(res, *a)
	}

	return res, nil
}
