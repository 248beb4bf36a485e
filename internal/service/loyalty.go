package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/Draminhon/ClickPet-sub001/internal/model"
	"github.com/Draminhon/ClickPet-sub001/internal/repository"
)

// minRedeemPoints — минимальное число баллов для одного списания.
const minRedeemPoints = 100

// LoyaltySummary содержит бонусный счёт пользователя вместе с вычисленным уровнем.
type LoyaltySummary struct {
	TotalPoints      int64
	LifetimePoints   int64
	CurrentTier      model.Tier
	NextTier         model.Tier
	PointsToNextTier int64
	TierProgress     float64
}

// RedeemResult содержит итог списания баллов.
type RedeemResult struct {
	DiscountCents int64
	TotalPoints   int64
}

var tierBenefits = map[model.Tier][]string{
	model.TierBronze:   {"1 point per currency unit spent"},
	model.TierSilver:   {"1 point per currency unit spent", "birthday bonus points"},
	model.TierGold:     {"1 point per currency unit spent", "birthday bonus points", "free delivery"},
	model.TierPlatinum: {"1 point per currency unit spent", "birthday bonus points", "free delivery", "early access to promotions"},
}

// TierBenefits возвращает список привилегий уровня лояльности.
// Неизвестный уровень возвращает nil.
func TierBenefits(tier model.Tier) []string {
	benefits, ok := tierBenefits[tier]
	if !ok {
		return nil
	}
	res := make([]string, len(benefits))
	copy(res, benefits)
	return res
}

func summarize(acc *model.LoyaltyAccount) *LoyaltySummary {
	summary := &LoyaltySummary{
		TotalPoints:    acc.TotalPoints,
		LifetimePoints: acc.LifetimePoints,
		CurrentTier:    model.TierForPoints(acc.LifetimePoints),
		TierProgress:   model.TierProgress(acc.LifetimePoints),
	}

	if next, threshold, ok := model.NextTier(summary.CurrentTier); ok {
		summary.NextTier = next
		summary.PointsToNextTier = threshold - acc.LifetimePoints
	}

	return summary
}

// GetLoyaltyAccount возвращает бонусный счёт пользователя,
// создавая его при первом обращении.
func (s *Service) GetLoyaltyAccount(ctx context.Context, userID int64) (*LoyaltySummary, error) {
	acc, err := s.repo.GetLoyaltyAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return summarize(acc), nil
}

// RedeemPoints списывает баллы со счёта пользователя и возвращает размер
// предоставленной скидки. Один балл равен одной копейке скидки.
func (s *Service) RedeemPoints(ctx context.Context, userID, points int64) (*RedeemResult, error) {
	if points < minRedeemPoints {
		return nil, fmt.Errorf("%w: minimum is %d points", ErrRedeemBelowMinimum, minRedeemPoints)
	}

	acc, err := s.repo.RedeemPoints(ctx, userID, points, fmt.Sprintf("redeemed %d points", points))
	if err != nil {
		return nil, err
	}

	return &RedeemResult{
		DiscountCents: points,
		TotalPoints:   acc.TotalPoints,
	}, nil
}

// GetPointsTransactions возвращает журнал операций с баллами пользователя.
func (s *Service) GetPointsTransactions(ctx context.Context, userID int64) ([]model.PointsTransaction, error) {
	return s.repo.GetPointsTransactions(ctx, userID)
}

// CompleteOrder начисляет баллы за завершённый заказ (один балл за каждую
// полную денежную единицу) и проверяет условие реферального вознаграждения.
func (s *Service) CompleteOrder(ctx context.Context, userID int64, orderID string, totalCents int64) (*LoyaltySummary, error) {
	if _, err := s.repo.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}

	points := totalCents / 100

	var acc *model.LoyaltyAccount
	var err error
	if points > 0 {
		acc, err = s.repo.AccruePoints(ctx, userID, points, model.TransactionEarned,
			orderID, fmt.Sprintf("points for order %s", orderID))
	} else {
		acc, err = s.repo.GetLoyaltyAccount(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	if err := s.completeReferralIfQualified(ctx, userID, totalCents); err != nil {
		return nil, err
	}

	return summarize(acc), nil
}

func (s *Service) completeReferralIfQualified(ctx context.Context, referredID, totalCents int64) error {
	ref, err := s.repo.GetRegisteredReferralByReferred(ctx, referredID)
	if err != nil {
		if errors.Is(err, repository.ErrReferralNotFound) {
			return nil
		}
		return err
	}

	if !s.referralQualifier(totalCents) {
		return nil
	}

	return s.repo.CompleteReferral(ctx, ref.ID, s.referralReward)
}

// GetOrCreateReferralCode возвращает персональный реферальный код пользователя,
// создавая новое приглашение, только если активного кода ещё нет.
func (s *Service) GetOrCreateReferralCode(ctx context.Context, referrerID int64) (*model.Referral, error) {
	ref, err := s.repo.GetPendingReferralByReferrer(ctx, referrerID)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, repository.ErrReferralNotFound) {
		return nil, err
	}

	return s.createReferral(ctx, referrerID, "")
}

// CreateReferralInvite создаёт реферальное приглашение на указанный адрес.
func (s *Service) CreateReferralInvite(ctx context.Context, referrerID int64, email string) (*model.Referral, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}

	return s.createReferral(ctx, referrerID, email)
}

// GetReferrals возвращает все приглашения пользователя.
func (s *Service) GetReferrals(ctx context.Context, referrerID int64) ([]model.Referral, error) {
	return s.repo.GetReferralsByReferrer(ctx, referrerID)
}

func (s *Service) createReferral(ctx context.Context, referrerID int64, email string) (*model.Referral, error) {
	// Повтор на случай коллизии уникального кода
	for attempt := 0; attempt < 3; attempt++ {
		code, err := generateReferralCode()
		if err != nil {
			return nil, err
		}

		ref := &model.Referral{
			ReferrerID:    referrerID,
			ReferredEmail: email,
			Code:          code,
			Status:        model.ReferralStatusPending,
		}

		id, err := s.repo.CreateReferral(ctx, ref)
		if err != nil {
			if errors.Is(err, repository.ErrReferralCodeTaken) {
				continue
			}
			return nil, err
		}

		ref.ID = id
		return ref, nil
	}

	return nil, repository.ErrReferralCodeTaken
}

const referralCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
const referralCodeLength = 8

func generateReferralCode() (string, error) {
	buf := make([]byte, referralCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate referral code: %w", err)
	}

	for i, b := range buf {
		buf[i] = referralCodeAlphabet[int(b)%len(referralCodeAlphabet)]
	}

	return string(buf), nil
}
