// Package service реализует бизнес-логику сервиса кликпет.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/Draminhon/ClickPet-sub001/internal/billing"
	"github.com/Draminhon/ClickPet-sub001/internal/model"
	"github.com/Draminhon/ClickPet-sub001/internal/repository"
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidRole возвращается при попытке регистрации с недопустимой ролью.
	ErrInvalidRole = errors.New("invalid role")
	// ErrNotPartner возвращается, когда операция с подпиской адресована не партнёрскому аккаунту.
	ErrNotPartner = errors.New("account is not a partner")
	// ErrInvalidPlan возвращается при неизвестном имени тарифа.
	ErrInvalidPlan = errors.New("invalid plan")
	// ErrInvalidStatus возвращается при недопустимом статусе подписки.
	ErrInvalidStatus = errors.New("invalid subscription status")
	// ErrInvalidPeriod возвращается, если дата окончания раньше даты начала.
	ErrInvalidPeriod = errors.New("end date before start date")
	// ErrRedeemBelowMinimum возвращается при списании меньше минимального порога.
	ErrRedeemBelowMinimum = errors.New("redeem amount below minimum")
	// ErrLimitExceeded возвращается, когда тарифный лимит позиций каталога исчерпан.
	ErrLimitExceeded = errors.New("plan limit exceeded")
	// ErrTooManyImages возвращается при превышении лимита изображений на позицию.
	ErrTooManyImages = errors.New("too many images for plan")
	// ErrInvalidEmail возвращается при пустом или некорректном адресе приглашения.
	ErrInvalidEmail = errors.New("invalid email")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)

	CreateSubscription(ctx context.Context, sub *model.Subscription) (int64, error)
	GetSubscriptionByID(ctx context.Context, id int64) (*model.Subscription, error)
	GetSubscriptionByPartner(ctx context.Context, partnerID int64) (*model.Subscription, error)
	UpdateSubscriptionPlan(ctx context.Context, id int64, newPlan string, f model.PlanFeatures, action model.HistoryAction, previousPlan, notes string) error
	UpdateSubscriptionStatus(ctx context.Context, id int64, status model.SubscriptionStatus, action model.HistoryAction, notes string) error
	UpsertPartnerSubscription(ctx context.Context, partnerID int64, planName string, f model.PlanFeatures, start, end time.Time) (int64, model.HistoryAction, error)
	GetExpiredActiveSubscriptions(ctx context.Context, now time.Time, limit int) ([]model.Subscription, error)
	RenewSubscriptionPeriod(ctx context.Context, id int64, newEnd time.Time, notes string) error

	GetLoyaltyAccount(ctx context.Context, userID int64) (*model.LoyaltyAccount, error)
	AccruePoints(ctx context.Context, userID, points int64, txType model.TransactionType, orderID, description string) (*model.LoyaltyAccount, error)
	RedeemPoints(ctx context.Context, userID, points int64, description string) (*model.LoyaltyAccount, error)
	GetPointsTransactions(ctx context.Context, userID int64) ([]model.PointsTransaction, error)

	CreateReferral(ctx context.Context, ref *model.Referral) (int64, error)
	GetPendingReferralByReferrer(ctx context.Context, referrerID int64) (*model.Referral, error)
	GetReferralByCode(ctx context.Context, code string) (*model.Referral, error)
	GetReferralsByReferrer(ctx context.Context, referrerID int64) ([]model.Referral, error)
	MarkReferralRegistered(ctx context.Context, code string, referredID int64) error
	GetRegisteredReferralByReferred(ctx context.Context, referredID int64) (*model.Referral, error)
	CompleteReferral(ctx context.Context, referralID, rewardPoints int64) error

	CreateCatalogItem(ctx context.Context, item *model.CatalogItem) (int64, error)
	GetCatalogItems(ctx context.Context, partnerID int64, kind model.CatalogItemKind) ([]model.CatalogItem, error)
	CountCatalogItems(ctx context.Context, partnerID int64) (products, services int64, err error)
}

// ReferralQualifier определяет, засчитывается ли завершённый заказ
// для выполнения условия реферального вознаграждения.
type ReferralQualifier func(orderTotalCents int64) bool

// Options содержит настройки бизнес-правил сервиса.
type Options struct {
	// ReferralRewardPoints — вознаграждение пригласившему за квалифицированный заказ.
	ReferralRewardPoints int64
	// ReferralQualifier — условие квалификации заказа; nil означает «любой завершённый заказ».
	ReferralQualifier ReferralQualifier
}

// Service содержит бизнес-логику сервиса кликпет.
type Service struct {
	repo              Repository
	billingClient     *billing.Client
	referralReward    int64
	referralQualifier ReferralQualifier
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом платёжной системы.
func NewService(repo Repository, billingClient *billing.Client, opts Options) *Service {
	reward := opts.ReferralRewardPoints
	if reward <= 0 {
		reward = 200
	}

	qualifier := opts.ReferralQualifier
	if qualifier == nil {
		qualifier = func(int64) bool { return true }
	}

	return &Service{
		repo:              repo,
		billingClient:     billingClient,
		referralReward:    reward,
		referralQualifier: qualifier,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя. Необязательный реферальный
// код связывает регистрацию с приглашением; неизвестный код игнорируется.
func (s *Service) RegisterUser(ctx context.Context, login, password string, role model.Role, referralCode string) (int64, error) {
	if role == "" {
		role = model.RoleCustomer
	}
	if role != model.RoleCustomer && role != model.RolePartner {
		return 0, ErrInvalidRole
	}

	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed, role)
	if err != nil {
		return 0, err
	}

	if referralCode != "" {
		if err := s.repo.MarkReferralRegistered(ctx, referralCode, id); err != nil &&
			!errors.Is(err, repository.ErrReferralNotFound) {
			return 0, err
		}
	}

	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор и роль.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, model.Role, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, "", err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, "", ErrInvalidCredentials
	}

	return u.ID, u.Role, nil
}

// EnsureAdmin создаёт администратора с указанными реквизитами,
// если такой логин ещё не занят.
func (s *Service) EnsureAdmin(ctx context.Context, login, password string) error {
	if login == "" || password == "" {
		return nil
	}

	hashed := hashPassword(login, password)
	_, err := s.repo.CreateUser(ctx, login, hashed, model.RoleAdmin)
	if err != nil && !errors.Is(err, repository.ErrUserExists) {
		return err
	}
	return nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}
