package validation

import "testing"

func TestIsValidCedula(t *testing.T) {
	tests := []struct {
		name   string
		cedula string
		valid  bool
	}{
		{
			name:   "valid example 1",
			cedula: "1710034065",
			valid:  true,
		},
		{
			name:   "valid example 2",
			cedula: "0926687856",
			valid:  true,
		},
		{
			name:   "control digit ten maps to zero",
			cedula: "1111111140",
			valid:  true,
		},
		{
			name:   "invalid checksum",
			cedula: "1710034064",
			valid:  false,
		},
		{
			name:   "contains letters",
			cedula: "17100340a5",
			valid:  false,
		},
		{
			name:   "too short",
			cedula: "12345",
			valid:  false,
		},
		{
			name:   "empty string",
			cedula: "",
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidCedula(tt.cedula)
			if got != tt.valid {
				t.Fatalf("IsValidCedula(%q) = %v, want %v", tt.cedula, got, tt.valid)
			}
		})
	}
}
