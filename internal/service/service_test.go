package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Draminhon/ClickPet-sub001/internal/model"
	"github.com/Draminhon/ClickPet-sub001/internal/plan"
	"github.com/Draminhon/ClickPet-sub001/internal/repository"
)

type stubRepo struct {
	createUserID  int64
	createUserErr error

	userByLogin *model.User
	users       map[int64]*model.User

	subs         map[int64]*model.Subscription
	nextSubID    int64
	createSubErr error

	expiredSubs []model.Subscription

	account *model.LoyaltyAccount

	transactions []model.PointsTransaction

	pendingRef      *model.Referral
	registeredRef   *model.Referral
	referralsByCode map[string]*model.Referral
	nextRefID       int64

	markedCode        string
	markRegisteredErr error

	completedReferralID int64
	completedReward     int64

	products     int64
	services     int64
	createdItems []*model.CatalogItem
	nextItemID   int64
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	return s.createUserID, s.createUserErr
}

func (s *stubRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	if s.userByLogin == nil {
		return nil, repository.ErrUserNotFound
	}
	return s.userByLogin, nil
}

func (s *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func (s *stubRepo) CreateSubscription(ctx context.Context, sub *model.Subscription) (int64, error) {
	if s.createSubErr != nil {
		return 0, s.createSubErr
	}
	if s.subs == nil {
		s.subs = make(map[int64]*model.Subscription)
	}
	s.nextSubID++
	stored := *sub
	stored.ID = s.nextSubID
	stored.History = []model.HistoryEntry{{Action: model.HistoryActionCreated, NewPlan: sub.Plan}}
	s.subs[stored.ID] = &stored
	return stored.ID, nil
}

func (s *stubRepo) GetSubscriptionByID(ctx context.Context, id int64) (*model.Subscription, error) {
	sub, ok := s.subs[id]
	if !ok {
		return nil, repository.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *stubRepo) GetSubscriptionByPartner(ctx context.Context, partnerID int64) (*model.Subscription, error) {
	for _, sub := range s.subs {
		if sub.PartnerID == partnerID {
			return sub, nil
		}
	}
	return nil, repository.ErrSubscriptionNotFound
}

func (s *stubRepo) UpdateSubscriptionPlan(ctx context.Context, id int64, newPlan string, f model.PlanFeatures, action model.HistoryAction, previousPlan, notes string) error {
	sub, ok := s.subs[id]
	if !ok {
		return repository.ErrSubscriptionNotFound
	}
	sub.Plan = newPlan
	sub.Features = f
	sub.AmountCents = f.PriceCents
	sub.History = append(sub.History, model.HistoryEntry{
		Action:       action,
		PreviousPlan: previousPlan,
		NewPlan:      newPlan,
		Notes:        notes,
	})
	return nil
}

func (s *stubRepo) UpdateSubscriptionStatus(ctx context.Context, id int64, status model.SubscriptionStatus, action model.HistoryAction, notes string) error {
	sub, ok := s.subs[id]
	if !ok {
		return repository.ErrSubscriptionNotFound
	}
	sub.Status = status
	sub.History = append(sub.History, model.HistoryEntry{Action: action, Notes: notes})
	return nil
}

func (s *stubRepo) UpsertPartnerSubscription(ctx context.Context, partnerID int64, planName string, f model.PlanFeatures, start, end time.Time) (int64, model.HistoryAction, error) {
	for _, sub := range s.subs {
		if sub.PartnerID == partnerID {
			action := model.ClassifyPlanChange(sub.AmountCents, f.PriceCents)
			if sub.Plan == planName {
				action = model.HistoryActionRenewed
			}
			sub.Plan = planName
			sub.Features = f
			sub.AmountCents = f.PriceCents
			sub.Status = model.SubscriptionStatusActive
			sub.StartDate = start
			sub.EndDate = end
			sub.History = append(sub.History, model.HistoryEntry{Action: action, NewPlan: planName})
			return sub.ID, action, nil
		}
	}

	id, err := s.CreateSubscription(ctx, &model.Subscription{
		PartnerID:   partnerID,
		Plan:        planName,
		Status:      model.SubscriptionStatusActive,
		StartDate:   start,
		EndDate:     end,
		AutoRenew:   true,
		AmountCents: f.PriceCents,
		Features:    f,
	})
	return id, model.HistoryActionCreated, err
}

func (s *stubRepo) GetExpiredActiveSubscriptions(ctx context.Context, now time.Time, limit int) ([]model.Subscription, error) {
	return s.expiredSubs, nil
}

func (s *stubRepo) RenewSubscriptionPeriod(ctx context.Context, id int64, newEnd time.Time, notes string) error {
	sub, ok := s.subs[id]
	if !ok {
		return repository.ErrSubscriptionNotFound
	}
	sub.EndDate = newEnd
	sub.History = append(sub.History, model.HistoryEntry{Action: model.HistoryActionRenewed, Notes: notes})
	return nil
}

func (s *stubRepo) GetLoyaltyAccount(ctx context.Context, userID int64) (*model.LoyaltyAccount, error) {
	if s.account == nil {
		s.account = &model.LoyaltyAccount{UserID: userID}
	}
	return s.account, nil
}

func (s *stubRepo) AccruePoints(ctx context.Context, userID, points int64, txType model.TransactionType, orderID, description string) (*model.LoyaltyAccount, error) {
	acc, _ := s.GetLoyaltyAccount(ctx, userID)
	acc.TotalPoints += points
	acc.LifetimePoints += points
	s.transactions = append(s.transactions, model.PointsTransaction{
		UserID: userID, Points: points, Type: txType, OrderID: orderID,
		Description: description, BalanceAfter: acc.TotalPoints,
	})
	return acc, nil
}

func (s *stubRepo) RedeemPoints(ctx context.Context, userID, points int64, description string) (*model.LoyaltyAccount, error) {
	acc, _ := s.GetLoyaltyAccount(ctx, userID)
	if points > acc.TotalPoints {
		return nil, repository.ErrInsufficientPoints
	}
	acc.TotalPoints -= points
	s.transactions = append(s.transactions, model.PointsTransaction{
		UserID: userID, Points: -points, Type: model.TransactionRedeemed,
		Description: description, BalanceAfter: acc.TotalPoints,
	})
	return acc, nil
}

func (s *stubRepo) GetPointsTransactions(ctx context.Context, userID int64) ([]model.PointsTransaction, error) {
	return s.transactions, nil
}

func (s *stubRepo) CreateReferral(ctx context.Context, ref *model.Referral) (int64, error) {
	if s.referralsByCode == nil {
		s.referralsByCode = make(map[string]*model.Referral)
	}
	if _, ok := s.referralsByCode[ref.Code]; ok {
		return 0, repository.ErrReferralCodeTaken
	}
	s.nextRefID++
	stored := *ref
	stored.ID = s.nextRefID
	s.referralsByCode[ref.Code] = &stored
	return stored.ID, nil
}

func (s *stubRepo) GetPendingReferralByReferrer(ctx context.Context, referrerID int64) (*model.Referral, error) {
	if s.pendingRef == nil {
		return nil, repository.ErrReferralNotFound
	}
	return s.pendingRef, nil
}

func (s *stubRepo) GetReferralByCode(ctx context.Context, code string) (*model.Referral, error) {
	ref, ok := s.referralsByCode[code]
	if !ok {
		return nil, repository.ErrReferralNotFound
	}
	return ref, nil
}

func (s *stubRepo) GetReferralsByReferrer(ctx context.Context, referrerID int64) ([]model.Referral, error) {
	var res []model.Referral
	for _, ref := range s.referralsByCode {
		res = append(res, *ref)
	}
	return res, nil
}

func (s *stubRepo) MarkReferralRegistered(ctx context.Context, code string, referredID int64) error {
	s.markedCode = code
	return s.markRegisteredErr
}

func (s *stubRepo) GetRegisteredReferralByReferred(ctx context.Context, referredID int64) (*model.Referral, error) {
	if s.registeredRef == nil {
		return nil, repository.ErrReferralNotFound
	}
	return s.registeredRef, nil
}

func (s *stubRepo) CompleteReferral(ctx context.Context, referralID, rewardPoints int64) error {
	s.completedReferralID = referralID
	s.completedReward = rewardPoints
	return nil
}

func (s *stubRepo) CreateCatalogItem(ctx context.Context, item *model.CatalogItem) (int64, error) {
	s.nextItemID++
	s.createdItems = append(s.createdItems, item)
	return s.nextItemID, nil
}

func (s *stubRepo) GetCatalogItems(ctx context.Context, partnerID int64, kind model.CatalogItemKind) ([]model.CatalogItem, error) {
	return nil, nil
}

func (s *stubRepo) CountCatalogItems(ctx context.Context, partnerID int64) (int64, int64, error) {
	return s.products, s.services, nil
}

func partnerRepo(partnerID int64) *stubRepo {
	return &stubRepo{
		users: map[int64]*model.User{
			partnerID: {ID: partnerID, Login: "partner", Role: model.RolePartner},
		},
	}
}

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

func TestRegisterUser_PropagatesDuplicateError(t *testing.T) {
	repo := &stubRepo{
		createUserErr: repository.ErrUserExists,
	}
	svc := NewService(repo, nil, Options{})

	_, err := svc.RegisterUser(context.Background(), "login", "pass", model.RoleCustomer, "")
	if !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestRegisterUser_RejectsAdminRole(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, Options{})

	_, err := svc.RegisterUser(context.Background(), "login", "pass", model.RoleAdmin, "")
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestRegisterUser_UnknownReferralCodeIgnored(t *testing.T) {
	repo := &stubRepo{
		createUserID:      5,
		markRegisteredErr: repository.ErrReferralNotFound,
	}
	svc := NewService(repo, nil, Options{})

	id, err := svc.RegisterUser(context.Background(), "login", "pass", "", "NOSUCH12")
	if err != nil {
		t.Fatalf("RegisterUser error: %v", err)
	}
	if id != 5 {
		t.Fatalf("user id = %d, want 5", id)
	}
	if repo.markedCode != "NOSUCH12" {
		t.Fatalf("referral code not passed to repository")
	}
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	hashed := hashPassword("user", "correct")
	repo := &stubRepo{
		userByLogin: &model.User{
			ID:           1,
			Login:        "user",
			PasswordHash: hashed,
			Role:         model.RoleCustomer,
		},
	}

	svc := NewService(repo, nil, Options{})

	_, _, err := svc.AuthenticateUser(context.Background(), "user", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateUser_ReturnsRole(t *testing.T) {
	hashed := hashPassword("shop", "pass")
	repo := &stubRepo{
		userByLogin: &model.User{
			ID:           9,
			Login:        "shop",
			PasswordHash: hashed,
			Role:         model.RolePartner,
		},
	}
	svc := NewService(repo, nil, Options{})

	id, role, err := svc.AuthenticateUser(context.Background(), "shop", "pass")
	if err != nil {
		t.Fatalf("AuthenticateUser error: %v", err)
	}
	if id != 9 || role != model.RolePartner {
		t.Fatalf("got id=%d role=%q, want 9 partner", id, role)
	}
}

func TestCreateSubscription_InvalidPlan(t *testing.T) {
	svc := NewService(partnerRepo(1), nil, Options{})

	_, err := svc.CreateSubscription(context.Background(), CreateSubscriptionParams{
		PartnerID: 1,
		Plan:      "ultimate",
	})
	if !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan, got %v", err)
	}
}

func TestCreateSubscription_NotPartner(t *testing.T) {
	repo := &stubRepo{
		users: map[int64]*model.User{
			1: {ID: 1, Role: model.RoleCustomer},
		},
	}
	svc := NewService(repo, nil, Options{})

	_, err := svc.CreateSubscription(context.Background(), CreateSubscriptionParams{
		PartnerID: 1,
		Plan:      plan.Basic,
	})
	if !errors.Is(err, ErrNotPartner) {
		t.Fatalf("expected ErrNotPartner, got %v", err)
	}
}

func TestCreateSubscription_InvalidPeriod(t *testing.T) {
	svc := NewService(partnerRepo(1), nil, Options{})

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -1)

	_, err := svc.CreateSubscription(context.Background(), CreateSubscriptionParams{
		PartnerID: 1,
		Plan:      plan.Basic,
		StartDate: &start,
		EndDate:   &end,
	})
	if !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestCreateSubscription_SnapshotsPlanPrice(t *testing.T) {
	repo := partnerRepo(1)
	svc := NewService(repo, nil, Options{})

	sub, err := svc.CreateSubscription(context.Background(), CreateSubscriptionParams{
		PartnerID: 1,
		Plan:      "Premium",
	})
	if err != nil {
		t.Fatalf("CreateSubscription error: %v", err)
	}
	if sub.Plan != plan.Premium {
		t.Fatalf("plan = %q, want premium", sub.Plan)
	}
	if sub.Status != model.SubscriptionStatusActive {
		t.Fatalf("status = %q, want active", sub.Status)
	}
	if sub.AmountCents != 9990 {
		t.Fatalf("amount = %d, want 9990", sub.AmountCents)
	}
	if len(sub.History) != 1 || sub.History[0].Action != model.HistoryActionCreated {
		t.Fatalf("unexpected history: %+v", sub.History)
	}
}

func TestCreateSubscription_PropagatesConflict(t *testing.T) {
	repo := partnerRepo(1)
	repo.createSubErr = repository.ErrSubscriptionExists
	svc := NewService(repo, nil, Options{})

	_, err := svc.CreateSubscription(context.Background(), CreateSubscriptionParams{
		PartnerID: 1,
		Plan:      plan.Basic,
	})
	if !errors.Is(err, repository.ErrSubscriptionExists) {
		t.Fatalf("expected ErrSubscriptionExists, got %v", err)
	}
}

func TestChangePlan_SamePlanNoHistory(t *testing.T) {
	repo := partnerRepo(1)
	svc := NewService(repo, nil, Options{})

	sub, err := svc.CreateSubscription(context.Background(), CreateSubscriptionParams{
		PartnerID: 1,
		Plan:      plan.Basic,
	})
	if err != nil {
		t.Fatalf("CreateSubscription error: %v", err)
	}

	updated, err := svc.ChangePlan(context.Background(), sub.ID, plan.Basic, "")
	if err != nil {
		t.Fatalf("ChangePlan error: %v", err)
	}
	if len(updated.History) != 1 {
		t.Fatalf("history length = %d, want 1 (no-op must not append)", len(updated.History))
	}
}

func TestChangePlan_ClassifiesByPrice(t *testing.T) {
	repo := partnerRepo(1)
	svc := NewService(repo, nil, Options{})

	sub, err := svc.CreateSubscription(context.Background(), CreateSubscriptionParams{
		PartnerID: 1,
		Plan:      plan.Basic,
	})
	if err != nil {
		t.Fatalf("CreateSubscription error: %v", err)
	}

	// basic 49.90 -> premium 99.90 считается повышением
	updated, err := svc.ChangePlan(context.Background(), sub.ID, plan.Premium, "seasonal push")
	if err != nil {
		t.Fatalf("ChangePlan error: %v", err)
	}
	last := updated.History[len(updated.History)-1]
	if last.Action != model.HistoryActionUpgraded {
		t.Fatalf("action = %q, want upgraded", last.Action)
	}
	if last.PreviousPlan != plan.Basic || last.NewPlan != plan.Premium {
		t.Fatalf("unexpected history entry: %+v", last)
	}
	if updated.AmountCents != 9990 {
		t.Fatalf("amount = %d, want 9990", updated.AmountCents)
	}

	// premium 99.90 -> free 0 считается понижением
	updated, err = svc.ChangePlan(context.Background(), sub.ID, plan.Free, "")
	if err != nil {
		t.Fatalf("ChangePlan error: %v", err)
	}
	last = updated.History[len(updated.History)-1]
	if last.Action != model.HistoryActionDowngraded {
		t.Fatalf("action = %q, want downgraded", last.Action)
	}
}

func TestChangeStatus_Invalid(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, Options{})

	_, err := svc.ChangeStatus(context.Background(), 1, "paused", "")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestChangeStatus_SameStatusNoHistory(t *testing.T) {
	repo := partnerRepo(1)
	svc := NewService(repo, nil, Options{})

	sub, _ := svc.CreateSubscription(context.Background(), CreateSubscriptionParams{
		PartnerID: 1,
		Plan:      plan.Basic,
	})

	updated, err := svc.ChangeStatus(context.Background(), sub.ID, model.SubscriptionStatusActive, "")
	if err != nil {
		t.Fatalf("ChangeStatus error: %v", err)
	}
	if len(updated.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(updated.History))
	}
}

func TestCancelSubscription_EachCallAppendsHistory(t *testing.T) {
	repo := partnerRepo(1)
	svc := NewService(repo, nil, Options{})

	sub, _ := svc.CreateSubscription(context.Background(), CreateSubscriptionParams{
		PartnerID: 1,
		Plan:      plan.Basic,
	})

	first, err := svc.CancelSubscription(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("CancelSubscription error: %v", err)
	}
	if first.Status != model.SubscriptionStatusCancelled {
		t.Fatalf("status = %q, want cancelled", first.Status)
	}

	second, err := svc.CancelSubscription(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("second CancelSubscription error: %v", err)
	}
	if len(second.History) != 3 {
		t.Fatalf("history length = %d, want 3 (created + two cancellations)", len(second.History))
	}
}

func TestGetSubscriptionDetails_FallbackToFree(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, Options{})

	details, err := svc.GetSubscriptionDetails(context.Background(), 77)
	if err != nil {
		t.Fatalf("GetSubscriptionDetails error: %v", err)
	}
	if details.Plan != plan.Free {
		t.Fatalf("plan = %q, want free", details.Plan)
	}
	if details.IsActive {
		t.Fatalf("fallback details must not be active")
	}
	if details.Features.MaxProducts != 10 {
		t.Fatalf("max products = %d, want 10", details.Features.MaxProducts)
	}
}

func TestSelfServiceUpdate_NotPartner(t *testing.T) {
	repo := &stubRepo{
		users: map[int64]*model.User{
			3: {ID: 3, Role: model.RoleCustomer},
		},
	}
	svc := NewService(repo, nil, Options{})

	_, err := svc.SelfServiceUpdate(context.Background(), 3, plan.Basic)
	if !errors.Is(err, ErrNotPartner) {
		t.Fatalf("expected ErrNotPartner, got %v", err)
	}
}

func TestSelfServiceUpdate_CreatesThenUpgrades(t *testing.T) {
	repo := partnerRepo(1)
	svc := NewService(repo, nil, Options{})

	sub, err := svc.SelfServiceUpdate(context.Background(), 1, plan.Basic)
	if err != nil {
		t.Fatalf("SelfServiceUpdate error: %v", err)
	}
	if sub.Plan != plan.Basic || sub.Status != model.SubscriptionStatusActive {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	if !sub.AutoRenew {
		t.Fatalf("self-service subscription must auto-renew by default")
	}

	sub, err = svc.SelfServiceUpdate(context.Background(), 1, plan.Premium)
	if err != nil {
		t.Fatalf("second SelfServiceUpdate error: %v", err)
	}
	last := sub.History[len(sub.History)-1]
	if last.Action != model.HistoryActionUpgraded {
		t.Fatalf("action = %q, want upgraded", last.Action)
	}
}

func TestCreateCatalogItem_LimitExceeded(t *testing.T) {
	repo := partnerRepo(1)
	repo.products = 10 // лимит free исчерпан
	svc := NewService(repo, nil, Options{})

	_, err := svc.CreateCatalogItem(context.Background(), 1, model.CatalogItemProduct, "leash", 1990, 1)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestCreateCatalogItem_TooManyImages(t *testing.T) {
	repo := partnerRepo(1)
	svc := NewService(repo, nil, Options{})

	_, err := svc.CreateCatalogItem(context.Background(), 1, model.CatalogItemProduct, "leash", 1990, 4)
	if !errors.Is(err, ErrTooManyImages) {
		t.Fatalf("expected ErrTooManyImages, got %v", err)
	}
}

func TestCreateCatalogItem_UnlimitedPlan(t *testing.T) {
	repo := partnerRepo(1)
	svc := NewService(repo, nil, Options{})

	if _, err := svc.SelfServiceUpdate(context.Background(), 1, plan.Enterprise); err != nil {
		t.Fatalf("SelfServiceUpdate error: %v", err)
	}
	repo.products = 100000

	item, err := svc.CreateCatalogItem(context.Background(), 1, model.CatalogItemProduct, "grooming table", 250000, 30)
	if err != nil {
		t.Fatalf("CreateCatalogItem error: %v", err)
	}
	if item.ID == 0 {
		t.Fatalf("item id must be assigned")
	}
}

func TestCreateCatalogItem_ExpiredSubscriptionFallsBackToFree(t *testing.T) {
	repo := partnerRepo(1)
	svc := NewService(repo, nil, Options{})

	start := time.Now().AddDate(0, -2, 0)
	end := time.Now().AddDate(0, -1, 0)
	if _, err := svc.CreateSubscription(context.Background(), CreateSubscriptionParams{
		PartnerID: 1,
		Plan:      plan.Enterprise,
		StartDate: &start,
		EndDate:   &end,
	}); err != nil {
		t.Fatalf("CreateSubscription error: %v", err)
	}

	repo.products = 10 // лимит free исчерпан, enterprise уже не действует
	_, err := svc.CreateCatalogItem(context.Background(), 1, model.CatalogItemProduct, "leash", 1990, 1)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded for expired subscription, got %v", err)
	}
}

func TestRedeemPoints_BelowMinimum(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, Options{})

	_, err := svc.RedeemPoints(context.Background(), 1, 99)
	if !errors.Is(err, ErrRedeemBelowMinimum) {
		t.Fatalf("expected ErrRedeemBelowMinimum, got %v", err)
	}
}

func TestRedeemPoints_Success(t *testing.T) {
	repo := &stubRepo{
		account: &model.LoyaltyAccount{UserID: 1, TotalPoints: 500, LifetimePoints: 500},
	}
	svc := NewService(repo, nil, Options{})

	res, err := svc.RedeemPoints(context.Background(), 1, 100)
	if err != nil {
		t.Fatalf("RedeemPoints error: %v", err)
	}
	if res.DiscountCents != 100 {
		t.Fatalf("discount = %d cents, want 100", res.DiscountCents)
	}
	if res.TotalPoints != 400 {
		t.Fatalf("total points = %d, want 400", res.TotalPoints)
	}
}

func TestRedeemPoints_InsufficientLeavesBalance(t *testing.T) {
	repo := &stubRepo{
		account: &model.LoyaltyAccount{UserID: 1, TotalPoints: 50, LifetimePoints: 50},
	}
	svc := NewService(repo, nil, Options{})

	_, err := svc.RedeemPoints(context.Background(), 1, 100)
	if !errors.Is(err, repository.ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
	if repo.account.TotalPoints != 50 {
		t.Fatalf("balance changed on failed redemption: %d", repo.account.TotalPoints)
	}
}

func TestCompleteOrder_AccruesWholeUnits(t *testing.T) {
	repo := &stubRepo{
		users: map[int64]*model.User{
			1: {ID: 1, Role: model.RoleCustomer},
		},
	}
	svc := NewService(repo, nil, Options{})

	summary, err := svc.CompleteOrder(context.Background(), 1, "order-1", 4990)
	if err != nil {
		t.Fatalf("CompleteOrder error: %v", err)
	}
	if summary.TotalPoints != 49 {
		t.Fatalf("total points = %d, want 49", summary.TotalPoints)
	}
	if len(repo.transactions) != 1 || repo.transactions[0].Type != model.TransactionEarned {
		t.Fatalf("unexpected transactions: %+v", repo.transactions)
	}
}

func TestCompleteOrder_UnknownUser(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, Options{})

	_, err := svc.CompleteOrder(context.Background(), 99, "order-1", 4990)
	if !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCompleteOrder_QualifiedReferralCompleted(t *testing.T) {
	repo := &stubRepo{
		users: map[int64]*model.User{
			2: {ID: 2, Role: model.RoleCustomer},
		},
		registeredRef: &model.Referral{ID: 11, ReferrerID: 1, Status: model.ReferralStatusRegistered},
	}
	svc := NewService(repo, nil, Options{
		ReferralRewardPoints: 300,
		ReferralQualifier:    func(totalCents int64) bool { return totalCents >= 5000 },
	})

	if _, err := svc.CompleteOrder(context.Background(), 2, "order-1", 7500); err != nil {
		t.Fatalf("CompleteOrder error: %v", err)
	}
	if repo.completedReferralID != 11 {
		t.Fatalf("referral not completed, id = %d", repo.completedReferralID)
	}
	if repo.completedReward != 300 {
		t.Fatalf("reward = %d, want 300", repo.completedReward)
	}
}

func TestCompleteOrder_UnqualifiedReferralStays(t *testing.T) {
	repo := &stubRepo{
		users: map[int64]*model.User{
			2: {ID: 2, Role: model.RoleCustomer},
		},
		registeredRef: &model.Referral{ID: 11, ReferrerID: 1, Status: model.ReferralStatusRegistered},
	}
	svc := NewService(repo, nil, Options{
		ReferralQualifier: func(totalCents int64) bool { return totalCents >= 5000 },
	})

	if _, err := svc.CompleteOrder(context.Background(), 2, "order-1", 1000); err != nil {
		t.Fatalf("CompleteOrder error: %v", err)
	}
	if repo.completedReferralID != 0 {
		t.Fatalf("referral must not complete below qualifying total")
	}
}

func TestGetOrCreateReferralCode_ReusesPending(t *testing.T) {
	repo := &stubRepo{
		pendingRef: &model.Referral{ID: 4, ReferrerID: 1, Code: "EXISTING1", Status: model.ReferralStatusPending},
	}
	svc := NewService(repo, nil, Options{})

	ref, err := svc.GetOrCreateReferralCode(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetOrCreateReferralCode error: %v", err)
	}
	if ref.Code != "EXISTING1" {
		t.Fatalf("code = %q, want existing code", ref.Code)
	}
}

func TestGetOrCreateReferralCode_CreatesNew(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, Options{})

	ref, err := svc.GetOrCreateReferralCode(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetOrCreateReferralCode error: %v", err)
	}
	if len(ref.Code) != 8 {
		t.Fatalf("code length = %d, want 8", len(ref.Code))
	}
	if ref.Status != model.ReferralStatusPending {
		t.Fatalf("status = %q, want pending", ref.Status)
	}
	if ref.ID == 0 {
		t.Fatalf("referral id must be assigned")
	}
}

func TestCreateReferralInvite_InvalidEmail(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, Options{})

	for _, email := range []string{"", "   ", "not-an-email"} {
		if _, err := svc.CreateReferralInvite(context.Background(), 1, email); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("email %q: expected ErrInvalidEmail, got %v", email, err)
		}
	}
}

func TestSweepExpired_NoAutoRenewExpires(t *testing.T) {
	repo := partnerRepo(1)
	svc := NewService(repo, nil, Options{})

	start := time.Now().AddDate(0, -2, 0)
	end := time.Now().Add(-time.Hour)
	sub, err := svc.CreateSubscription(context.Background(), CreateSubscriptionParams{
		PartnerID: 1,
		Plan:      plan.Basic,
		StartDate: &start,
		EndDate:   &end,
	})
	if err != nil {
		t.Fatalf("CreateSubscription error: %v", err)
	}
	repo.expiredSubs = []model.Subscription{*sub}

	svc.sweepExpiredSubscriptions(context.Background())

	updated, _ := repo.GetSubscriptionByID(context.Background(), sub.ID)
	if updated.Status != model.SubscriptionStatusExpired {
		t.Fatalf("status = %q, want expired", updated.Status)
	}
	last := updated.History[len(updated.History)-1]
	if last.Action != model.HistoryActionExpired {
		t.Fatalf("action = %q, want expired", last.Action)
	}
}

func TestSweepExpired_AutoRenewWithoutBillingRenews(t *testing.T) {
	repo := partnerRepo(1)
	svc := NewService(repo, nil, Options{})

	start := time.Now().AddDate(0, -2, 0)
	end := time.Now().Add(-time.Hour)
	sub, err := svc.CreateSubscription(context.Background(), CreateSubscriptionParams{
		PartnerID: 1,
		Plan:      plan.Basic,
		StartDate: &start,
		EndDate:   &end,
		AutoRenew: true,
	})
	if err != nil {
		t.Fatalf("CreateSubscription error: %v", err)
	}
	repo.expiredSubs = []model.Subscription{*sub}

	svc.sweepExpiredSubscriptions(context.Background())

	updated, _ := repo.GetSubscriptionByID(context.Background(), sub.ID)
	if updated.Status != model.SubscriptionStatusActive {
		t.Fatalf("status = %q, want active", updated.Status)
	}
	if !updated.EndDate.After(end) {
		t.Fatalf("end date not extended: %v", updated.EndDate)
	}
	last := updated.History[len(updated.History)-1]
	if last.Action != model.HistoryActionRenewed {
		t.Fatalf("action = %q, want renewed", last.Action)
	}
}

func TestStartExpirySweeps_StopsOnContextCancel(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	svc.StartExpirySweeps(ctx)
	cancel()

	// Горутина завершится по отмене контекста; паник и блокировок быть не должно.
	time.Sleep(10 * time.Millisecond)
}
