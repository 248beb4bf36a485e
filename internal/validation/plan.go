// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"

	"github.com/Draminhon/ClickPet-sub001/internal/plan"
)

// NormalizePlanName приводит имя тарифа к нижнему регистру без пробелов
// и проверяет, что такой тариф определён в каталоге.
func NormalizePlanName(name string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "", false
	}
	if !plan.Known(normalized) {
		return "", false
	}
	return normalized, true
}
