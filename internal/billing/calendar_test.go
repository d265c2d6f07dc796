package billing

import (
	"testing"
	"time"

	"github.com/teltec-net/backoffice/internal/model"
)

func date(anio, mes, dia int) time.Time {
	return time.Date(anio, time.Month(mes), dia, 0, 0, 0, 0, time.UTC)
}

func TestMonthName(t *testing.T) {
	tests := []struct {
		mes  int
		want string
	}{
		{1, "Enero"},
		{9, "Septiembre"},
		{12, "Diciembre"},
		{0, ""},
		{13, ""},
	}

	for _, tt := range tests {
		if got := MonthName(tt.mes); got != tt.want {
			t.Fatalf("MonthName(%d) = %q, want %q", tt.mes, got, tt.want)
		}
	}
}

func TestPeriodLabel(t *testing.T) {
	got := PeriodLabel(model.Period{Anio: 2024, Mes: 1})
	if got != "Enero 2024" {
		t.Fatalf("PeriodLabel = %q, want %q", got, "Enero 2024")
	}
}

func TestPeriodsSince(t *testing.T) {
	tests := []struct {
		name     string
		registro time.Time
		hoy      time.Time
		first    model.Period
		last     model.Period
		count    int
	}{
		{
			name:     "same month",
			registro: date(2024, 3, 15),
			hoy:      date(2024, 3, 20),
			first:    model.Period{Anio: 2024, Mes: 3},
			last:     model.Period{Anio: 2024, Mes: 3},
			count:    1,
		},
		{
			name:     "year rollover",
			registro: date(2023, 11, 1),
			hoy:      date(2024, 2, 10),
			first:    model.Period{Anio: 2023, Mes: 11},
			last:     model.Period{Anio: 2024, Mes: 2},
			count:    4,
		},
		{
			name:     "multi year span",
			registro: date(2021, 6, 30),
			hoy:      date(2024, 6, 1),
			first:    model.Period{Anio: 2021, Mes: 6},
			last:     model.Period{Anio: 2024, Mes: 6},
			count:    37,
		},
		{
			name:     "registration in the future",
			registro: date(2025, 1, 1),
			hoy:      date(2024, 6, 1),
			count:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PeriodsSince(tt.registro, tt.hoy)
			if len(got) != tt.count {
				t.Fatalf("len = %d, want %d", len(got), tt.count)
			}
			if tt.count == 0 {
				return
			}
			if got[0] != tt.first {
				t.Fatalf("first = %v, want %v", got[0], tt.first)
			}
			if got[len(got)-1] != tt.last {
				t.Fatalf("last = %v, want %v", got[len(got)-1], tt.last)
			}
			for i := 1; i < len(got); i++ {
				if !got[i-1].Before(got[i]) {
					t.Fatalf("periods not strictly increasing at %d: %v, %v", i, got[i-1], got[i])
				}
			}
		})
	}
}

func TestLookaheadPeriods(t *testing.T) {
	got := LookaheadPeriods(date(2024, 10, 20), 6)
	want := []model.Period{
		{Anio: 2024, Mes: 11},
		{Anio: 2024, Mes: 12},
		{Anio: 2025, Mes: 1},
		{Anio: 2025, Mes: 2},
		{Anio: 2025, Mes: 3},
		{Anio: 2025, Mes: 4},
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("period %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestElapsedMonths(t *testing.T) {
	tests := []struct {
		name     string
		registro time.Time
		hoy      time.Time
		want     int
	}{
		{
			name:     "spec scenario: three complete months",
			registro: date(2024, 1, 15),
			hoy:      date(2024, 4, 20),
			want:     3,
		},
		{
			name:     "partial month excluded",
			registro: date(2024, 1, 15),
			hoy:      date(2024, 4, 10),
			want:     2,
		},
		{
			name:     "same day counts the month",
			registro: date(2024, 1, 15),
			hoy:      date(2024, 2, 15),
			want:     1,
		},
		{
			name:     "same month",
			registro: date(2024, 1, 15),
			hoy:      date(2024, 1, 20),
			want:     0,
		},
		{
			name:     "year rollover",
			registro: date(2023, 11, 5),
			hoy:      date(2024, 2, 5),
			want:     3,
		},
		{
			name:     "future registration clamps to zero",
			registro: date(2025, 1, 1),
			hoy:      date(2024, 6, 1),
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ElapsedMonths(tt.registro, tt.hoy); got != tt.want {
				t.Fatalf("ElapsedMonths = %d, want %d", got, tt.want)
			}
		})
	}
}

// ElapsedMonths не убывает при движении as-of вперёд.
func TestElapsedMonthsMonotonic(t *testing.T) {
	registro := date(2023, 7, 14)
	prev := -1
	for hoy := registro; hoy.Before(date(2025, 7, 14)); hoy = hoy.AddDate(0, 0, 1) {
		got := ElapsedMonths(registro, hoy)
		if got < prev {
			t.Fatalf("ElapsedMonths decreased at %s: %d -> %d", hoy.Format("2006-01-02"), prev, got)
		}
		if got < 0 {
			t.Fatalf("ElapsedMonths negative at %s: %d", hoy.Format("2006-01-02"), got)
		}
		prev = got
	}
}

func TestAddMonth(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "regular month",
			in:   date(2024, 3, 10),
			want: date(2024, 4, 10),
		},
		{
			name: "december rollover",
			in:   date(2024, 12, 20),
			want: date(2025, 1, 20),
		},
		{
			name: "day clamped to short month",
			in:   date(2024, 1, 31),
			want: date(2024, 2, 29),
		},
		{
			name: "day clamped in non leap year",
			in:   date(2023, 1, 31),
			want: date(2023, 2, 28),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AddMonth(tt.in); !got.Equal(tt.want) {
				t.Fatalf("AddMonth(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestDueDate(t *testing.T) {
	got := DueDate(model.Period{Anio: 2024, Mes: 7})
	if got.Day() != 5 || got.Month() != time.July || got.Year() != 2024 {
		t.Fatalf("DueDate = %s, want 2024-07-05", got)
	}
}
