package billing

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/teltec-net/backoffice/internal/model"
)

// periodTokenRe находит в concepto токен "<название месяца> <год>".
// Список месяцев намеренно совпадает с таблицей monthNames.
var periodTokenRe = regexp.MustCompile(
	`(?i)(enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|octubre|noviembre|diciembre)\s+(\d{4})`,
)

// ResolvePeriod определяет, какой расчётный месяц покрывает платёж.
// Приоритет источников:
//  1. структурированный период платежа — у всех записей, созданных
//     этим сервисом;
//  2. токен "<Mes> <Año>" в concepto — совместимость с записями,
//     созданными до ввода структурированного периода; если в тексте
//     встречается несколько валидных токенов, действует самый левый
//     (поведение зафиксировано тестом, а не оставлено случаю);
//  3. календарная дата платежа.
//
// Платёж всегда относится ровно к одному периоду: платёж за несколько
// месяцев хранится как несколько записей, по одной на месяц.
func ResolvePeriod(p model.Payment) model.Period {
	if p.Periodo != nil {
		return *p.Periodo
	}

	if m := periodTokenRe.FindStringSubmatch(p.Concepto); m != nil {
		if mes, ok := monthNumber(m[1]); ok {
			anio, err := strconv.Atoi(m[2])
			if err == nil {
				return model.Period{Anio: anio, Mes: mes}
			}
		}
	}

	return model.Period{Anio: p.FechaPago.Year(), Mes: int(p.FechaPago.Month())}
}

func monthNumber(nombre string) (int, bool) {
	for i, n := range monthNames {
		if strings.EqualFold(n, nombre) {
			return i + 1, true
		}
	}
	return 0, false
}
