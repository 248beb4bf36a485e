// Package plan содержит статический каталог тарифных планов.
package plan

import "github.com/Draminhon/ClickPet-sub001/internal/model"

// Имена тарифных планов.
const (
	Free       = "free"
	Basic      = "basic"
	Premium    = "premium"
	Enterprise = "enterprise"
)

var catalog = map[string]model.PlanFeatures{
	Free: {
		MaxProducts: 10,
		MaxServices: 3,
		MaxImages:   3,
		PriceCents:  0,
	},
	Basic: {
		MaxProducts:  50,
		MaxServices:  10,
		MaxImages:    5,
		HasAnalytics: true,
		PriceCents:   4990,
	},
	Premium: {
		MaxProducts:        200,
		MaxServices:        50,
		MaxImages:          10,
		HasAnalytics:       true,
		HasPrioritySupport: true,
		HasAdvancedReports: true,
		PriceCents:         9990,
	},
	Enterprise: {
		MaxProducts:        -1,
		MaxServices:        -1,
		MaxImages:          -1,
		HasAnalytics:       true,
		HasPrioritySupport: true,
		HasAdvancedReports: true,
		PriceCents:         19990,
	},
}

// names задаёт порядок тарифов от дешёвого к дорогому.
var names = []string{Free, Basic, Premium, Enterprise}

// Features возвращает возможности тарифа по имени.
// Неизвестный тариф трактуется как free, функция ошибок не возвращает.
func Features(name string) model.PlanFeatures {
	if f, ok := catalog[name]; ok {
		return f
	}
	return catalog[Free]
}

// Known сообщает, определён ли тариф с таким именем в каталоге.
func Known(name string) bool {
	_, ok := catalog[name]
	return ok
}

// Names возвращает имена тарифов в фиксированном порядке.
func Names() []string {
	res := make([]string, len(names))
	copy(res, names)
	return res
}

// WithinLimit сообщает, укладывается ли текущее использование в лимит тарифа.
// Лимит -1 означает отсутствие ограничения и не превышается никогда.
func WithinLimit(used int64, limit int) bool {
	if limit < 0 {
		return true
	}
	return used < int64(limit)
}
