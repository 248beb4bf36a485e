// Package handler содержит HTTP-обработчики API сервиса кликпет.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Draminhon/ClickPet-sub001/internal/middleware"
	"github.com/Draminhon/ClickPet-sub001/internal/model"
	"github.com/Draminhon/ClickPet-sub001/internal/plan"
	"github.com/Draminhon/ClickPet-sub001/internal/repository"
	"github.com/Draminhon/ClickPet-sub001/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string, role model.Role, referralCode string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, model.Role, error)

	CreateSubscription(ctx context.Context, p service.CreateSubscriptionParams) (*model.Subscription, error)
	GetSubscription(ctx context.Context, id int64) (*model.Subscription, error)
	ChangePlan(ctx context.Context, subscriptionID int64, newPlan, notes string) (*model.Subscription, error)
	ChangeStatus(ctx context.Context, subscriptionID int64, status model.SubscriptionStatus, notes string) (*model.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID int64) (*model.Subscription, error)
	SelfServiceUpdate(ctx context.Context, partnerID int64, planName string) (*model.Subscription, error)
	GetSubscriptionDetails(ctx context.Context, partnerID int64) (*model.SubscriptionDetails, error)
	GetUsageStats(ctx context.Context, partnerID int64) (*model.UsageStats, error)
	CreateCatalogItem(ctx context.Context, partnerID int64, kind model.CatalogItemKind, name string, priceCents int64, imagesCount int) (*model.CatalogItem, error)
	GetCatalogItems(ctx context.Context, partnerID int64, kind model.CatalogItemKind) ([]model.CatalogItem, error)

	GetLoyaltyAccount(ctx context.Context, userID int64) (*service.LoyaltySummary, error)
	RedeemPoints(ctx context.Context, userID, points int64) (*service.RedeemResult, error)
	GetPointsTransactions(ctx context.Context, userID int64) ([]model.PointsTransaction, error)
	GetOrCreateReferralCode(ctx context.Context, referrerID int64) (*model.Referral, error)
	CreateReferralInvite(ctx context.Context, referrerID int64, email string) (*model.Referral, error)
	GetReferrals(ctx context.Context, referrerID int64) ([]model.Referral, error)
	CompleteOrder(ctx context.Context, userID int64, orderID string, totalCents int64) (*service.LoyaltySummary, error)
}

// Handler реализует HTTP-обработчики API сервиса кликпет.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type registerRequest struct {
	Login        string `json:"login"`
	Password     string `json:"password"`
	Role         string `json:"role,omitempty"`
	ReferralCode string `json:"referral_code,omitempty"`
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, model.Role(req.Role), req.ReferralCode)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserExists):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, service.ErrInvalidRole):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		default:
			h.logger.Error("register user error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	role := model.Role(req.Role)
	if role == "" {
		role = model.RoleCustomer
	}

	h.authMiddleware.SetAuthCookie(w, userID, role)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, role, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID, role)
	w.WriteHeader(http.StatusOK)
}

type planResponse struct {
	Name               string  `json:"name"`
	MaxProducts        int     `json:"max_products"`
	MaxServices        int     `json:"max_services"`
	MaxImages          int     `json:"max_images"`
	HasAnalytics       bool    `json:"has_analytics"`
	HasPrioritySupport bool    `json:"has_priority_support"`
	HasAdvancedReports bool    `json:"has_advanced_reports"`
	Price              float64 `json:"price"`
}

func toPlanResponse(name string, f model.PlanFeatures) planResponse {
	return planResponse{
		Name:               name,
		MaxProducts:        f.MaxProducts,
		MaxServices:        f.MaxServices,
		MaxImages:          f.MaxImages,
		HasAnalytics:       f.HasAnalytics,
		HasPrioritySupport: f.HasPrioritySupport,
		HasAdvancedReports: f.HasAdvancedReports,
		Price:              float64(f.PriceCents) / 100,
	}
}

// GetPlans возвращает каталог тарифных планов.
func (h *Handler) GetPlans(w http.ResponseWriter, r *http.Request) {
	names := plan.Names()
	resp := make([]planResponse, 0, len(names))
	for _, name := range names {
		resp = append(resp, toPlanResponse(name, plan.Features(name)))
	}

	h.writeJSON(w, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}
