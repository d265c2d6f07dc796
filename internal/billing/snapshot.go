package billing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/teltec-net/backoffice/internal/model"
)

// paidRatio — порог неполной оплаты: месяц считается оплаченным, если
// сумма отнесённых к нему платежей не меньше 0.8 цены плана. Это
// осознанный допуск для платежей, близких к полной цене, а не ошибка.
var paidRatio = decimal.NewFromFloat(0.8)

// Trace раскрывает промежуточные величины пересчёта. Возвращается
// вместе со снимком и используется аудитором согласованности.
type Trace struct {
	Hoy                time.Time
	MesesTranscurridos int
	MesesPagados       int
	Atribucion         map[model.Period]decimal.Decimal
	PeriodosPagados    []model.Period
}

// Attribution строит отнесение платежей к периодам: для каждого
// завершённого платежа восстанавливается его период, суммы по одному
// периоду накапливаются. Отнесение каждый раз строится с нуля по
// всему журналу, чтобы оно не могло разойтись с ним.
func Attribution(pagos []model.Payment) map[model.Period]decimal.Decimal {
	attr := make(map[model.Period]decimal.Decimal, len(pagos))
	for _, p := range pagos {
		if p.Estado != model.PaymentCompleted {
			continue
		}
		periodo := ResolvePeriod(p)
		attr[periodo] = attr[periodo].Add(p.Monto)
	}
	return attr
}

// ComputeSnapshot — единственная реализация арифметики задолженности:
// чистая функция от даты регистрации, цены плана, журнала платежей и
// текущей даты. Её вызывают и пакетный пересчёт, и аудитор, поэтому
// расчёт не может разойтись сам с собой. Повторный вызов на
// неизменном журнале даёт идентичный результат.
func ComputeSnapshot(fechaRegistro time.Time, precioPlan decimal.Decimal, pagos []model.Payment, hoy time.Time) (model.Snapshot, Trace) {
	attr := Attribution(pagos)
	umbral := precioPlan.Mul(paidRatio)

	var pagados []model.Period
	for periodo, monto := range attr {
		if monto.GreaterThanOrEqual(umbral) {
			pagados = append(pagados, periodo)
		}
	}
	sort.Slice(pagados, func(i, j int) bool { return pagados[i].Before(pagados[j]) })

	transcurridos := ElapsedMonths(fechaRegistro, hoy)
	pendientes := transcurridos - len(pagados)
	if pendientes < 0 {
		pendientes = 0
	}

	snap := model.Snapshot{
		MesesPendientes: pendientes,
		MontoTotalDeuda: precioPlan.Mul(decimal.NewFromInt(int64(pendientes))),
		EstadoPago:      classify(pendientes),
	}

	if ultimo := lastPaymentDate(pagos); ultimo != nil {
		snap.FechaUltimoPago = ultimo
		venc := AddMonth(*ultimo)
		snap.FechaVencimiento = &venc
	} else {
		venc := AddMonth(fechaRegistro)
		snap.FechaVencimiento = &venc
	}

	return snap, Trace{
		Hoy:                hoy,
		MesesTranscurridos: transcurridos,
		MesesPagados:       len(pagados),
		Atribucion:         attr,
		PeriodosPagados:    pagados,
	}
}

// ConflictingPeriods возвращает те из выбранных периодов, к которым
// уже отнесён хотя бы один завершённый платёж. Отнесение строится тем
// же ResolvePeriod, что и при пересчёте: строка без структурированного
// периода и без токена в concepto занимает месяц своей даты платежа,
// поэтому проверка занятости не может разойтись с выборкой доступных
// месяцев. Порядок результата повторяет порядок выбора.
func ConflictingPeriods(pagos []model.Payment, seleccion []model.Period) []model.Period {
	attr := Attribution(pagos)

	var res []model.Period
	for _, p := range seleccion {
		if _, ok := attr[p]; ok {
			res = append(res, p)
		}
	}
	return res
}

// PeriodPaid сообщает, закрыт ли период по порогу 0.8 цены плана.
func PeriodPaid(attr map[model.Period]decimal.Decimal, periodo model.Period, precioPlan decimal.Decimal) bool {
	monto, ok := attr[periodo]
	if !ok {
		return false
	}
	return monto.GreaterThanOrEqual(precioPlan.Mul(paidRatio))
}

func classify(pendientes int) model.PaymentState {
	switch {
	case pendientes == 0:
		return model.StateUpToDate
	case pendientes == 1:
		return model.StateDueSoon
	default:
		return model.StateOverdue
	}
}

func lastPaymentDate(pagos []model.Payment) *time.Time {
	var ultimo *time.Time
	for _, p := range pagos {
		if p.Estado != model.PaymentCompleted {
			continue
		}
		if ultimo == nil || p.FechaPago.After(*ultimo) {
			fecha := p.FechaPago
			ultimo = &fecha
		}
	}
	return ultimo
}
