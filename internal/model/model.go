// Package model содержит доменные сущности сервиса кликпет.
package model

import "time"

// Role описывает роль учётной записи.
type Role string

const (
	RoleCustomer Role = "customer"
	RolePartner  Role = "partner"
	RoleAdmin    Role = "admin"
)

// User представляет зарегистрированного пользователя маркетплейса.
type User struct {
	ID             int64
	Login          string
	PasswordHash   []byte
	Role           Role
	SubscriptionID *int64
	CreatedAt      time.Time
}

// PlanFeatures описывает возможности тарифного плана.
// Значение -1 для лимитов означает отсутствие ограничения.
type PlanFeatures struct {
	MaxProducts        int
	MaxServices        int
	MaxImages          int
	HasAnalytics       bool
	HasPrioritySupport bool
	HasAdvancedReports bool
	PriceCents         int64
}

// SubscriptionStatus описывает статус подписки партнёра.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
)

// IsValidSubscriptionStatus проверяет, что статус входит в множество допустимых.
func IsValidSubscriptionStatus(s SubscriptionStatus) bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusExpired, SubscriptionStatusCancelled,
		SubscriptionStatusPending, SubscriptionStatusSuspended:
		return true
	default:
		return false
	}
}

// Subscription представляет подписку партнёра на тарифный план.
// Поле Features — снимок возможностей тарифа на момент назначения плана:
// изменения каталога тарифов не влияют на уже выданные подписки.
type Subscription struct {
	ID            int64
	PartnerID     int64
	Plan          string
	Status        SubscriptionStatus
	StartDate     time.Time
	EndDate       time.Time
	AutoRenew     bool
	PaymentMethod string
	AmountCents   int64
	Features      PlanFeatures
	History       []HistoryEntry
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsActive сообщает, действует ли подписка в указанный момент.
// Требуются оба условия: статус active и дата окончания строго позже now.
func (s *Subscription) IsActive(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.EndDate.After(now)
}

// IsExpiringSoon сообщает, истекает ли действующая подписка в ближайшие 7 дней.
func (s *Subscription) IsExpiringSoon(now time.Time) bool {
	return s.IsActive(now) && !s.EndDate.After(now.AddDate(0, 0, 7))
}

// HistoryAction описывает тип события в истории подписки.
type HistoryAction string

const (
	HistoryActionCreated    HistoryAction = "created"
	HistoryActionUpgraded   HistoryAction = "upgraded"
	HistoryActionDowngraded HistoryAction = "downgraded"
	HistoryActionRenewed    HistoryAction = "renewed"
	HistoryActionCancelled  HistoryAction = "cancelled"
	HistoryActionExpired    HistoryAction = "expired"
)

// HistoryEntry описывает одно событие жизненного цикла подписки.
// Записи истории только добавляются и никогда не изменяются.
type HistoryEntry struct {
	ID           int64
	Action       HistoryAction
	PreviousPlan string
	NewPlan      string
	Notes        string
	Date         time.Time
}

// ClassifyPlanChange классифицирует смену тарифа по сравнению стоимости:
// переход на более дорогой план считается повышением, любой другой — понижением.
func ClassifyPlanChange(prevAmountCents, newAmountCents int64) HistoryAction {
	if newAmountCents > prevAmountCents {
		return HistoryActionUpgraded
	}
	return HistoryActionDowngraded
}

// StatusChangeAction возвращает тип события истории для смены статуса подписки.
func StatusChangeAction(status SubscriptionStatus) HistoryAction {
	switch status {
	case SubscriptionStatusCancelled:
		return HistoryActionCancelled
	case SubscriptionStatusExpired:
		return HistoryActionExpired
	default:
		return HistoryActionRenewed
	}
}

// Tier описывает уровень программы лояльности.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

const (
	silverThreshold   int64 = 500
	goldThreshold     int64 = 1500
	platinumThreshold int64 = 3000
)

// TierForPoints вычисляет уровень лояльности по накопленным за всё время баллам.
func TierForPoints(lifetimePoints int64) Tier {
	switch {
	case lifetimePoints >= platinumThreshold:
		return TierPlatinum
	case lifetimePoints >= goldThreshold:
		return TierGold
	case lifetimePoints >= silverThreshold:
		return TierSilver
	default:
		return TierBronze
	}
}

// NextTier возвращает следующий уровень и порог баллов для его достижения.
// Для платинового уровня возвращает ok=false.
func NextTier(tier Tier) (Tier, int64, bool) {
	switch tier {
	case TierBronze:
		return TierSilver, silverThreshold, true
	case TierSilver:
		return TierGold, goldThreshold, true
	case TierGold:
		return TierPlatinum, platinumThreshold, true
	default:
		return "", 0, false
	}
}

func tierThreshold(tier Tier) int64 {
	switch tier {
	case TierSilver:
		return silverThreshold
	case TierGold:
		return goldThreshold
	case TierPlatinum:
		return platinumThreshold
	default:
		return 0
	}
}

// TierProgress возвращает долю пути до следующего уровня в диапазоне [0,1].
// Для платинового уровня всегда 1.
func TierProgress(lifetimePoints int64) float64 {
	tier := TierForPoints(lifetimePoints)
	_, nextThreshold, ok := NextTier(tier)
	if !ok {
		return 1
	}
	cur := tierThreshold(tier)
	return float64(lifetimePoints-cur) / float64(nextThreshold-cur)
}

// LoyaltyAccount представляет бонусный счёт пользователя.
// TotalPoints — доступный к списанию баланс, LifetimePoints — монотонно
// растущая сумма всех начислений, по которой вычисляется уровень.
type LoyaltyAccount struct {
	UserID         int64
	TotalPoints    int64
	LifetimePoints int64
	UpdatedAt      time.Time
}

// TransactionType описывает тип операции с баллами.
type TransactionType string

const (
	TransactionEarned   TransactionType = "earned"
	TransactionRedeemed TransactionType = "redeemed"
	TransactionExpired  TransactionType = "expired"
	TransactionBonus    TransactionType = "bonus"
	TransactionReferral TransactionType = "referral"
)

// PointsTransaction описывает одну операцию с баллами. Журнал операций
// только пополняется; BalanceAfter фиксирует баланс после применения операции.
type PointsTransaction struct {
	ID           int64
	UserID       int64
	Points       int64
	Type         TransactionType
	OrderID      string
	Description  string
	BalanceAfter int64
	CreatedAt    time.Time
}

// ReferralStatus описывает статус реферального приглашения.
type ReferralStatus string

const (
	ReferralStatusPending    ReferralStatus = "pending"
	ReferralStatusRegistered ReferralStatus = "registered"
	ReferralStatusCompleted  ReferralStatus = "completed"
)

// Referral представляет реферальное приглашение с уникальным кодом.
type Referral struct {
	ID             int64
	ReferrerID     int64
	ReferredID     *int64
	ReferredEmail  string
	Code           string
	Status         ReferralStatus
	PointsAwarded  int64
	OrderCompleted bool
	CompletedAt    *time.Time
	CreatedAt      time.Time
}

// CatalogItemKind описывает вид позиции каталога партнёра.
type CatalogItemKind string

const (
	CatalogItemProduct CatalogItemKind = "product"
	CatalogItemService CatalogItemKind = "service"
)

// CatalogItem описывает товар или услугу партнёра.
type CatalogItem struct {
	ID          int64
	PartnerID   int64
	Kind        CatalogItemKind
	Name        string
	PriceCents  int64
	ImagesCount int
	CreatedAt   time.Time
}

// SubscriptionDetails содержит сводку по подписке партнёра для проверки прав.
type SubscriptionDetails struct {
	Plan           string
	Status         SubscriptionStatus
	Features       PlanFeatures
	IsActive       bool
	IsExpiringSoon bool
	AutoRenew      bool
	AmountCents    int64
	EndDate        *time.Time
}

// UsageStats содержит текущее использование ресурсов партнёра
// и лимиты действующего тарифа.
type UsageStats struct {
	Plan         string
	Active       bool
	ProductsUsed int64
	ServicesUsed int64
	MaxProducts  int
	MaxServices  int
	MaxImages    int
}
