// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// IsValidCedula проверяет эквадорскую седулу: 10 цифр, последняя —
// контрольная по алгоритму "модуло 10" с коэффициентами 2-1-2-1...
func IsValidCedula(cedula string) bool {
	if len(cedula) != 10 {
		return false
	}

	sum := 0
	for i := 0; i < 9; i++ {
		ch := rune(cedula[i])
		if !unicode.IsDigit(ch) {
			return false
		}
		digit := int(ch - '0')
		if i%2 == 0 {
			digit *= 2
			if digit >= 10 {
				digit -= 9
			}
		}
		sum += digit
	}

	last := rune(cedula[9])
	if !unicode.IsDigit(last) {
		return false
	}
	verificador := int(last - '0')

	control := (sum/10+1)*10 - sum
	if control == 10 {
		control = 0
	}

	return control == verificador
}
