package service

import (
	"context"
	"errors"
	"time"

	"github.com/Draminhon/ClickPet-sub001/internal/billing"
	"github.com/Draminhon/ClickPet-sub001/internal/model"
	"github.com/Draminhon/ClickPet-sub001/internal/plan"
	"github.com/Draminhon/ClickPet-sub001/internal/repository"
	"github.com/Draminhon/ClickPet-sub001/internal/validation"
)

// CreateSubscriptionParams содержит параметры создания подписки администратором.
type CreateSubscriptionParams struct {
	PartnerID     int64
	Plan          string
	StartDate     *time.Time
	EndDate       *time.Time
	AutoRenew     bool
	PaymentMethod string
}

// CreateSubscription создаёт подписку для партнёрского аккаунта.
// Стоимость и возможности тарифа снимаются с каталога на момент создания.
func (s *Service) CreateSubscription(ctx context.Context, p CreateSubscriptionParams) (*model.Subscription, error) {
	planName, ok := validation.NormalizePlanName(p.Plan)
	if !ok {
		return nil, ErrInvalidPlan
	}

	user, err := s.repo.GetUserByID(ctx, p.PartnerID)
	if err != nil {
		return nil, err
	}
	if user.Role != model.RolePartner {
		return nil, ErrNotPartner
	}

	now := time.Now()
	start := now
	if p.StartDate != nil {
		start = *p.StartDate
	}
	end := start.AddDate(0, 1, 0)
	if p.EndDate != nil {
		end = *p.EndDate
	}
	if end.Before(start) {
		return nil, ErrInvalidPeriod
	}

	features := plan.Features(planName)

	id, err := s.repo.CreateSubscription(ctx, &model.Subscription{
		PartnerID:     p.PartnerID,
		Plan:          planName,
		Status:        model.SubscriptionStatusActive,
		StartDate:     start,
		EndDate:       end,
		AutoRenew:     p.AutoRenew,
		PaymentMethod: p.PaymentMethod,
		AmountCents:   features.PriceCents,
		Features:      features,
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetSubscriptionByID(ctx, id)
}

// GetSubscription возвращает подписку по идентификатору вместе с историей.
func (s *Service) GetSubscription(ctx context.Context, id int64) (*model.Subscription, error) {
	return s.repo.GetSubscriptionByID(ctx, id)
}

// ChangePlan переводит подписку на другой тариф. Совпадающий тариф не изменяет
// ни подписку, ни историю. Тип события определяется сравнением стоимости.
func (s *Service) ChangePlan(ctx context.Context, subscriptionID int64, newPlan, notes string) (*model.Subscription, error) {
	planName, ok := validation.NormalizePlanName(newPlan)
	if !ok {
		return nil, ErrInvalidPlan
	}

	sub, err := s.repo.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	if sub.Plan == planName {
		return sub, nil
	}

	features := plan.Features(planName)
	action := model.ClassifyPlanChange(sub.AmountCents, features.PriceCents)

	if err := s.repo.UpdateSubscriptionPlan(ctx, subscriptionID, planName, features, action, sub.Plan, notes); err != nil {
		return nil, err
	}

	return s.repo.GetSubscriptionByID(ctx, subscriptionID)
}

// ChangeStatus меняет статус подписки. Совпадающий статус не изменяет
// ни подписку, ни историю.
func (s *Service) ChangeStatus(ctx context.Context, subscriptionID int64, status model.SubscriptionStatus, notes string) (*model.Subscription, error) {
	if !model.IsValidSubscriptionStatus(status) {
		return nil, ErrInvalidStatus
	}

	sub, err := s.repo.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	if sub.Status == status {
		return sub, nil
	}

	action := model.StatusChangeAction(status)
	if err := s.repo.UpdateSubscriptionStatus(ctx, subscriptionID, status, action, notes); err != nil {
		return nil, err
	}

	return s.repo.GetSubscriptionByID(ctx, subscriptionID)
}

// CancelSubscription отменяет подписку. Повторная отмена оставляет статус
// cancelled, но каждая попытка добавляет отдельную запись в историю.
func (s *Service) CancelSubscription(ctx context.Context, subscriptionID int64) (*model.Subscription, error) {
	err := s.repo.UpdateSubscriptionStatus(ctx, subscriptionID,
		model.SubscriptionStatusCancelled, model.HistoryActionCancelled, "subscription cancelled")
	if err != nil {
		return nil, err
	}

	return s.repo.GetSubscriptionByID(ctx, subscriptionID)
}

// SelfServiceUpdate создаёт или продлевает подписку партнёра на месяц вперёд
// с немедленной активацией без оплаты.
func (s *Service) SelfServiceUpdate(ctx context.Context, partnerID int64, planName string) (*model.Subscription, error) {
	normalized, ok := validation.NormalizePlanName(planName)
	if !ok {
		return nil, ErrInvalidPlan
	}

	user, err := s.repo.GetUserByID(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if user.Role != model.RolePartner {
		return nil, ErrNotPartner
	}

	features := plan.Features(normalized)
	now := time.Now()

	id, _, err := s.repo.UpsertPartnerSubscription(ctx, partnerID, normalized, features, now, now.AddDate(0, 1, 0))
	if err != nil {
		return nil, err
	}

	return s.repo.GetSubscriptionByID(ctx, id)
}

// GetSubscriptionDetails возвращает сводку по подписке партнёра.
// Партнёр без подписки получает возможности тарифа free.
func (s *Service) GetSubscriptionDetails(ctx context.Context, partnerID int64) (*model.SubscriptionDetails, error) {
	sub, err := s.repo.GetSubscriptionByPartner(ctx, partnerID)
	if err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			return &model.SubscriptionDetails{
				Plan:     plan.Free,
				Features: plan.Features(plan.Free),
			}, nil
		}
		return nil, err
	}

	now := time.Now()
	end := sub.EndDate
	return &model.SubscriptionDetails{
		Plan:           sub.Plan,
		Status:         sub.Status,
		Features:       sub.Features,
		IsActive:       sub.IsActive(now),
		IsExpiringSoon: sub.IsExpiringSoon(now),
		AutoRenew:      sub.AutoRenew,
		AmountCents:    sub.AmountCents,
		EndDate:        &end,
	}, nil
}

// entitlementFeatures возвращает снимок возможностей, действующий для партнёра:
// возможности подписки, пока она действует, иначе — тариф free.
func (s *Service) entitlementFeatures(ctx context.Context, partnerID int64) (string, model.PlanFeatures, bool, error) {
	details, err := s.GetSubscriptionDetails(ctx, partnerID)
	if err != nil {
		return "", model.PlanFeatures{}, false, err
	}
	if details.IsActive {
		return details.Plan, details.Features, true, nil
	}
	return plan.Free, plan.Features(plan.Free), false, nil
}

// GetUsageStats возвращает использование ресурсов партнёра и действующие лимиты.
func (s *Service) GetUsageStats(ctx context.Context, partnerID int64) (*model.UsageStats, error) {
	planName, features, active, err := s.entitlementFeatures(ctx, partnerID)
	if err != nil {
		return nil, err
	}

	products, services, err := s.repo.CountCatalogItems(ctx, partnerID)
	if err != nil {
		return nil, err
	}

	return &model.UsageStats{
		Plan:         planName,
		Active:       active,
		ProductsUsed: products,
		ServicesUsed: services,
		MaxProducts:  features.MaxProducts,
		MaxServices:  features.MaxServices,
		MaxImages:    features.MaxImages,
	}, nil
}

// CreateCatalogItem добавляет товар или услугу партнёра, предварительно
// проверяя лимиты действующего тарифа. Лимит -1 не превышается никогда.
func (s *Service) CreateCatalogItem(ctx context.Context, partnerID int64, kind model.CatalogItemKind, name string, priceCents int64, imagesCount int) (*model.CatalogItem, error) {
	_, features, _, err := s.entitlementFeatures(ctx, partnerID)
	if err != nil {
		return nil, err
	}

	products, services, err := s.repo.CountCatalogItems(ctx, partnerID)
	if err != nil {
		return nil, err
	}

	switch kind {
	case model.CatalogItemProduct:
		if !plan.WithinLimit(products, features.MaxProducts) {
			return nil, ErrLimitExceeded
		}
	case model.CatalogItemService:
		if !plan.WithinLimit(services, features.MaxServices) {
			return nil, ErrLimitExceeded
		}
	}

	if features.MaxImages >= 0 && imagesCount > features.MaxImages {
		return nil, ErrTooManyImages
	}

	item := &model.CatalogItem{
		PartnerID:   partnerID,
		Kind:        kind,
		Name:        name,
		PriceCents:  priceCents,
		ImagesCount: imagesCount,
	}

	id, err := s.repo.CreateCatalogItem(ctx, item)
	if err != nil {
		return nil, err
	}
	item.ID = id

	return item, nil
}

// GetCatalogItems возвращает позиции каталога партнёра указанного вида.
func (s *Service) GetCatalogItems(ctx context.Context, partnerID int64, kind model.CatalogItemKind) ([]model.CatalogItem, error) {
	return s.repo.GetCatalogItems(ctx, partnerID, kind)
}

// StartExpirySweeps запускает фоновый процесс обработки истёкших подписок:
// подписки с автопродлением продлеваются (при настроенной платёжной системе —
// после подтверждённого списания), остальные переводятся в expired.
func (s *Service) StartExpirySweeps(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepExpiredSubscriptions(ctx)
			}
		}
	}()
}

func (s *Service) sweepExpiredSubscriptions(ctx context.Context) {
	now := time.Now()

	subs, err := s.repo.GetExpiredActiveSubscriptions(ctx, now, 100)
	if err != nil {
		return
	}

	for i := range subs {
		sub := &subs[i]
		if !sub.AutoRenew {
			_ = s.repo.UpdateSubscriptionStatus(ctx, sub.ID,
				model.SubscriptionStatusExpired, model.HistoryActionExpired, "subscription period ended")
			continue
		}

		if s.billingClient == nil {
			// Dev Mode: продление без списания оплаты
			_ = s.repo.RenewSubscriptionPeriod(ctx, sub.ID, sub.EndDate.AddDate(0, 1, 0), "auto-renew")
			continue
		}

		result, statusCode, retryAfter, err := s.billingClient.ChargeSubscription(ctx, sub.ID, sub.AmountCents)
		if err != nil {
			continue
		}

		if statusCode == 429 {
			if retryAfter > 0 {
				timer := time.NewTimer(retryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			continue
		}

		if result == nil {
			continue
		}

		switch result.Status {
		case billing.ChargeStatusConfirmed:
			_ = s.repo.RenewSubscriptionPeriod(ctx, sub.ID, sub.EndDate.AddDate(0, 1, 0), "auto-renew payment confirmed")
		case billing.ChargeStatusDeclined:
			_ = s.repo.UpdateSubscriptionStatus(ctx, sub.ID,
				model.SubscriptionStatusExpired, model.HistoryActionExpired, "auto-renew payment declined")
		}
	}
}
