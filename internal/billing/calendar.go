// Package billing реализует чистую расчётную логику биллинга:
// календарь расчётных месяцев, восстановление периода платежа и
// вычисление снимка задолженности из журнала платежей. Пакет не
// выполняет ввод-вывод.
package billing

import (
	"time"

	"github.com/teltec-net/backoffice/internal/model"
)

// monthNames — единая таблица испанских названий месяцев.
// Используется и для форматирования concepto, и для разбора
// устаревших записей, чтобы исключить расхождения между путями
// записи и чтения.
var monthNames = [12]string{
	"Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio",
	"Julio", "Agosto", "Septiembre", "Octubre", "Noviembre", "Diciembre",
}

// MonthName возвращает испанское название месяца 1..12.
// Для значения вне диапазона возвращается пустая строка.
func MonthName(mes int) string {
	if mes < 1 || mes > 12 {
		return ""
	}
	return monthNames[mes-1]
}

// PeriodLabel форматирует период как "Enero 2024" — в том же виде,
// в каком он встраивается в concepto платежа.
func PeriodLabel(p model.Period) string {
	return MonthName(p.Mes) + " " + formatYear(p.Anio)
}

func formatYear(anio int) string {
	// strconv не используется ради единообразия с Key().
	buf := [4]byte{}
	for i := 3; i >= 0; i-- {
		buf[i] = byte('0' + anio%10)
		anio /= 10
	}
	return string(buf[:])
}

// PeriodsSince перечисляет все расчётные месяцы от месяца регистрации
// до месяца as-of включительно, в хронологическом порядке. Если дата
// регистрации позже as-of, возвращается пустой срез.
func PeriodsSince(registro, hoy time.Time) []model.Period {
	start := model.Period{Anio: registro.Year(), Mes: int(registro.Month())}
	end := model.Period{Anio: hoy.Year(), Mes: int(hoy.Month())}
	if end.Before(start) {
		return nil
	}

	var periods []model.Period
	cur := start
	for {
		periods = append(periods, cur)
		if cur == end {
			return periods
		}
		cur = nextPeriod(cur)
	}
}

// LookaheadPeriods возвращает count месяцев, следующих за месяцем
// as-of. Они предлагаются для предоплаты и никогда не считаются
// задолженностью.
func LookaheadPeriods(hoy time.Time, count int) []model.Period {
	periods := make([]model.Period, 0, count)
	cur := model.Period{Anio: hoy.Year(), Mes: int(hoy.Month())}
	for i := 0; i < count; i++ {
		cur = nextPeriod(cur)
		periods = append(periods, cur)
	}
	return periods
}

func nextPeriod(p model.Period) model.Period {
	if p.Mes == 12 {
		return model.Period{Anio: p.Anio + 1, Mes: 1}
	}
	return model.Period{Anio: p.Anio, Mes: p.Mes + 1}
}

// ElapsedMonths возвращает число полных месяцев между датой
// регистрации и as-of. Если день месяца as-of меньше дня регистрации,
// частично прошедший текущий месяц не учитывается (округление вниз).
// Результат не бывает отрицательным.
func ElapsedMonths(registro, hoy time.Time) int {
	months := (hoy.Year()-registro.Year())*12 + int(hoy.Month()) - int(registro.Month())
	if hoy.Day() < registro.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// AddMonth возвращает дату на один календарный месяц позже, с
// корректным переходом через декабрь. День ограничивается длиной
// целевого месяца (31 января -> 28/29 февраля); time.AddDate здесь не
// подходит, так как переносит избыток дней на следующий месяц.
func AddMonth(d time.Time) time.Time {
	anio, mes := d.Year(), int(d.Month())
	if mes == 12 {
		anio++
		mes = 1
	} else {
		mes++
	}

	dia := d.Day()
	if last := daysInMonth(anio, mes); dia > last {
		dia = last
	}
	return time.Date(anio, time.Month(mes), dia, 0, 0, 0, 0, d.Location())
}

// DueDate возвращает предельный день оплаты периода — 5-е число месяца.
func DueDate(p model.Period) time.Time {
	return time.Date(p.Anio, time.Month(p.Mes), 5, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(anio, mes int) int {
	// День 0 следующего месяца — последний день текущего.
	return time.Date(anio, time.Month(mes)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
