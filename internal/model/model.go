// Package model содержит доменные сущности биллинга TelTec.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CustomerStatus описывает жизненный цикл абонента.
type CustomerStatus string

const (
	CustomerActive    CustomerStatus = "activo"
	CustomerInactive  CustomerStatus = "inactivo"
	CustomerSuspended CustomerStatus = "suspendido"
)

// PaymentState описывает расчётное состояние оплат абонента.
// Значения совпадают со значениями колонки estado_pago в БД.
type PaymentState string

const (
	StateUpToDate PaymentState = "al_dia"
	StateDueSoon  PaymentState = "proximo_vencimiento"
	StateOverdue  PaymentState = "vencido"
)

// PaymentStatus описывает статус обработки платежа.
// В сверке участвуют только завершённые платежи.
type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completado"
	PaymentPending   PaymentStatus = "pendiente"
	PaymentFailed    PaymentStatus = "fallido"
)

// PaymentMethod описывает способ оплаты.
type PaymentMethod string

const (
	MethodCash     PaymentMethod = "efectivo"
	MethodTransfer PaymentMethod = "transferencia"
	MethodDeposit  PaymentMethod = "deposito"
	MethodCard     PaymentMethod = "tarjeta"
	MethodOnline   PaymentMethod = "pago_online"
)

// ValidMethod проверяет, что способ оплаты входит в перечисление.
func ValidMethod(m PaymentMethod) bool {
	switch m {
	case MethodCash, MethodTransfer, MethodDeposit, MethodCard, MethodOnline:
		return true
	}
	return false
}

// Period идентифицирует расчётный месяц (год + номер месяца 1..12).
// Периоды не хранятся отдельной таблицей: они выводятся календарём
// и служат ключами аккумулятора при пересчёте задолженностей.
type Period struct {
	Anio int `json:"año"`
	Mes  int `json:"mes"`
}

// Key возвращает ключ периода в формате ГГГГ-ММ для словарей и логов.
func (p Period) Key() string {
	return fmt.Sprintf("%04d-%02d", p.Anio, p.Mes)
}

// Before сравнивает периоды хронологически.
func (p Period) Before(other Period) bool {
	if p.Anio != other.Anio {
		return p.Anio < other.Anio
	}
	return p.Mes < other.Mes
}

// Snapshot содержит производные биллинговые поля абонента.
// Источник истины — журнал платежей; снимок целиком перезаписывается
// движком пересчёта и не редактируется вручную.
type Snapshot struct {
	EstadoPago       PaymentState
	MesesPendientes  int
	MontoTotalDeuda  decimal.Decimal
	FechaUltimoPago  *time.Time
	FechaVencimiento *time.Time
}

// Customer представляет абонента тарифного плана.
type Customer struct {
	ID              int64
	Cedula          string
	Nombres         string
	Apellidos       string
	Email           string
	Telefono        string
	Direccion       string
	Sector          string
	TipoPlan        string
	PrecioPlan      decimal.Decimal
	FechaNacimiento time.Time
	TelegramChatID  string
	Estado          CustomerStatus
	FechaRegistro   time.Time
	Snapshot        Snapshot
}

// NombreCompleto возвращает полное имя абонента.
func (c *Customer) NombreCompleto() string {
	return c.Nombres + " " + c.Apellidos
}

// Payment представляет платёж абонента. Записи неизменяемы после
// создания, кроме флага отправки квитанции.
// Поле Periodo заполняется при создании платежа за конкретный месяц;
// у устаревших записей оно пустое, и период восстанавливается из Concepto.
type Payment struct {
	ID                 int64
	ClienteID          int64
	Monto              decimal.Decimal
	FechaPago          time.Time
	MetodoPago         PaymentMethod
	Concepto           string
	Periodo            *Period
	Estado             PaymentStatus
	ComprobanteEnviado bool
	NumeroComprobante  string
	FechaCreacion      time.Time
}

// User представляет сотрудника, работающего с бэк-офисом.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}
