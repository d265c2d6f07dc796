package billing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/teltec-net/backoffice/internal/model"
)

func TestResolvePeriod(t *testing.T) {
	fechaPago := date(2024, 5, 3)

	tests := []struct {
		name string
		pago model.Payment
		want model.Period
	}{
		{
			name: "structured period wins over concepto",
			pago: model.Payment{
				Concepto:  "Pago mensual - Marzo 2024 - Plan Basico",
				Periodo:   &model.Period{Anio: 2024, Mes: 1},
				FechaPago: fechaPago,
			},
			want: model.Period{Anio: 2024, Mes: 1},
		},
		{
			name: "legacy concepto token",
			pago: model.Payment{
				Concepto:  "Pago mensual - Marzo 2024 - Plan Basico",
				FechaPago: fechaPago,
			},
			want: model.Period{Anio: 2024, Mes: 3},
		},
		{
			name: "case insensitive token",
			pago: model.Payment{
				Concepto:  "pago ENERO 2023",
				FechaPago: fechaPago,
			},
			want: model.Period{Anio: 2023, Mes: 1},
		},
		{
			name: "no token falls back to payment date",
			pago: model.Payment{
				Concepto:  "Pago de servicio",
				FechaPago: fechaPago,
			},
			want: model.Period{Anio: 2024, Mes: 5},
		},
		{
			name: "month without year falls back to payment date",
			pago: model.Payment{
				Concepto:  "Pago de Enero",
				FechaPago: fechaPago,
			},
			want: model.Period{Anio: 2024, Mes: 5},
		},
		{
			name: "empty concepto falls back to payment date",
			pago: model.Payment{
				FechaPago: fechaPago,
			},
			want: model.Period{Anio: 2024, Mes: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolvePeriod(tt.pago); got != tt.want {
				t.Fatalf("ResolvePeriod = %v, want %v", got, tt.want)
			}
		})
	}
}

// Если в concepto два валидных токена, действует самый левый.
// Поведение выбрано явно и не должно меняться молча.
func TestResolvePeriod_TwoTokens(t *testing.T) {
	pago := model.Payment{
		Concepto:  "Ajuste Febrero 2024, originalmente Enero 2024",
		FechaPago: date(2024, 5, 3),
	}

	got := ResolvePeriod(pago)
	want := model.Period{Anio: 2024, Mes: 2}
	if got != want {
		t.Fatalf("ResolvePeriod = %v, want leftmost token %v", got, want)
	}
}

func TestAttribution(t *testing.T) {
	precio := decimal.RequireFromString("20.00")
	pagos := []model.Payment{
		{
			Monto:     precio,
			Estado:    model.PaymentCompleted,
			Periodo:   &model.Period{Anio: 2024, Mes: 1},
			FechaPago: date(2024, 1, 5),
		},
		{
			Monto:     decimal.RequireFromString("10.00"),
			Estado:    model.PaymentCompleted,
			Periodo:   &model.Period{Anio: 2024, Mes: 2},
			FechaPago: date(2024, 2, 5),
		},
		{
			// Второй платёж в тот же период накапливается.
			Monto:     decimal.RequireFromString("10.00"),
			Estado:    model.PaymentCompleted,
			Concepto:  "Pago mensual - Febrero 2024",
			FechaPago: date(2024, 2, 20),
		},
		{
			// Незавершённые платежи не участвуют.
			Monto:     precio,
			Estado:    model.PaymentPending,
			Periodo:   &model.Period{Anio: 2024, Mes: 3},
			FechaPago: date(2024, 3, 5),
		},
	}

	attr := Attribution(pagos)

	if len(attr) != 2 {
		t.Fatalf("attribution size = %d, want 2", len(attr))
	}
	if got := attr[model.Period{Anio: 2024, Mes: 1}]; !got.Equal(precio) {
		t.Fatalf("enero total = %s, want %s", got, precio)
	}
	if got := attr[model.Period{Anio: 2024, Mes: 2}]; !got.Equal(precio) {
		t.Fatalf("febrero total = %s, want %s", got, precio)
	}
}
