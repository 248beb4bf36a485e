package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Draminhon/ClickPet-sub001/internal/middleware"
	"github.com/Draminhon/ClickPet-sub001/internal/model"
	"github.com/Draminhon/ClickPet-sub001/internal/repository"
	"github.com/Draminhon/ClickPet-sub001/internal/service"
)

type loyaltyResponse struct {
	TotalPoints      int64    `json:"total_points"`
	LifetimePoints   int64    `json:"lifetime_points"`
	Tier             string   `json:"tier"`
	NextTier         string   `json:"next_tier,omitempty"`
	PointsToNextTier int64    `json:"points_to_next_tier,omitempty"`
	TierProgress     float64  `json:"tier_progress"`
	Benefits         []string `json:"benefits"`
}

func toLoyaltyResponse(summary *service.LoyaltySummary) loyaltyResponse {
	return loyaltyResponse{
		TotalPoints:      summary.TotalPoints,
		LifetimePoints:   summary.LifetimePoints,
		Tier:             string(summary.CurrentTier),
		NextTier:         string(summary.NextTier),
		PointsToNextTier: summary.PointsToNextTier,
		TierProgress:     summary.TierProgress,
		Benefits:         service.TierBenefits(summary.CurrentTier),
	}
}

// GetLoyalty возвращает бонусный счёт текущего пользователя.
func (h *Handler) GetLoyalty(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	summary, err := h.service.GetLoyaltyAccount(r.Context(), userID)
	if err != nil {
		h.logger.Error("get loyalty account error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, toLoyaltyResponse(summary))
}

type redeemRequest struct {
	Points int64 `json:"points"`
}

type redeemResponse struct {
	Discount    float64 `json:"discount"`
	TotalPoints int64   `json:"total_points"`
}

// RedeemPoints списывает баллы текущего пользователя в обмен на скидку.
func (h *Handler) RedeemPoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	result, err := h.service.RedeemPoints(r.Context(), userID, req.Points)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRedeemBelowMinimum):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrInsufficientPoints):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		default:
			h.logger.Error("redeem points error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, redeemResponse{
		Discount:    float64(result.DiscountCents) / 100,
		TotalPoints: result.TotalPoints,
	})
}

type transactionResponse struct {
	ID           int64  `json:"id"`
	Points       int64  `json:"points"`
	Type         string `json:"type"`
	OrderID      string `json:"order_id,omitempty"`
	Description  string `json:"description,omitempty"`
	BalanceAfter int64  `json:"balance_after"`
	Date         string `json:"date"`
}

// GetTransactions возвращает журнал операций с баллами текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	transactions, err := h.service.GetPointsTransactions(r.Context(), userID)
	if err != nil {
		h.logger.Error("get transactions error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(transactions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for _, t := range transactions {
		resp = append(resp, transactionResponse{
			ID:           t.ID,
			Points:       t.Points,
			Type:         string(t.Type),
			OrderID:      t.OrderID,
			Description:  t.Description,
			BalanceAfter: t.BalanceAfter,
			Date:         formatTime(t.CreatedAt),
		})
	}

	h.writeJSON(w, resp)
}

type referralResponse struct {
	ID            int64  `json:"id"`
	Code          string `json:"code"`
	ReferredEmail string `json:"referred_email,omitempty"`
	Status        string `json:"status"`
	PointsAwarded int64  `json:"points_awarded"`
	CreatedAt     string `json:"created_at,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

func toReferralResponse(ref *model.Referral) referralResponse {
	resp := referralResponse{
		ID:            ref.ID,
		Code:          ref.Code,
		ReferredEmail: ref.ReferredEmail,
		Status:        string(ref.Status),
		PointsAwarded: ref.PointsAwarded,
	}
	if !ref.CreatedAt.IsZero() {
		resp.CreatedAt = formatTime(ref.CreatedAt)
	}
	if ref.CompletedAt != nil {
		resp.CompletedAt = formatTime(*ref.CompletedAt)
	}
	return resp
}

// GetReferralCode возвращает персональный реферальный код текущего пользователя.
func (h *Handler) GetReferralCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	ref, err := h.service.GetOrCreateReferralCode(r.Context(), userID)
	if err != nil {
		h.logger.Error("get referral code error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, toReferralResponse(ref))
}

type referralInviteRequest struct {
	Email string `json:"email"`
}

// CreateReferralInvite создаёт реферальное приглашение на указанный адрес.
func (h *Handler) CreateReferralInvite(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req referralInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ref, err := h.service.CreateReferralInvite(r.Context(), userID, req.Email)
	if err != nil {
		if errors.Is(err, service.ErrInvalidEmail) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.logger.Error("create referral invite error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toReferralResponse(ref)); err != nil {
		h.logger.Error("encode referral error", zap.Error(err))
	}
}

// GetReferrals возвращает все приглашения текущего пользователя.
func (h *Handler) GetReferrals(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	referrals, err := h.service.GetReferrals(r.Context(), userID)
	if err != nil {
		h.logger.Error("get referrals error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(referrals) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]referralResponse, 0, len(referrals))
	for i := range referrals {
		resp = append(resp, toReferralResponse(&referrals[i]))
	}

	h.writeJSON(w, resp)
}

type completeOrderRequest struct {
	UserID  int64   `json:"user_id"`
	OrderID string  `json:"order_id"`
	Total   float64 `json:"total"`
}

// CompleteOrder обрабатывает уведомление о завершённом заказе:
// начисляет баллы и проверяет реферальное вознаграждение.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	var req completeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.UserID <= 0 || req.OrderID == "" || req.Total < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	summary, err := h.service.CompleteOrder(r.Context(), req.UserID, req.OrderID, int64(req.Total*100))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("complete order error", zap.Error(err),
			zap.Int64("userID", req.UserID), zap.String("orderID", req.OrderID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, toLoyaltyResponse(summary))
}
