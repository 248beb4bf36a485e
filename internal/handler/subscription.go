package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Draminhon/ClickPet-sub001/internal/middleware"
	"github.com/Draminhon/ClickPet-sub001/internal/model"
	"github.com/Draminhon/ClickPet-sub001/internal/repository"
	"github.com/Draminhon/ClickPet-sub001/internal/service"
)

type historyEntryResponse struct {
	Action       string `json:"action"`
	PreviousPlan string `json:"previous_plan,omitempty"`
	NewPlan      string `json:"new_plan,omitempty"`
	Notes        string `json:"notes,omitempty"`
	Date         string `json:"date"`
}

type subscriptionResponse struct {
	ID             int64                  `json:"id"`
	PartnerID      int64                  `json:"partner_id"`
	Plan           string                 `json:"plan"`
	Status         string                 `json:"status"`
	StartDate      string                 `json:"start_date"`
	EndDate        string                 `json:"end_date"`
	AutoRenew      bool                   `json:"auto_renew"`
	PaymentMethod  string                 `json:"payment_method,omitempty"`
	Amount         float64                `json:"amount"`
	Features       planResponse           `json:"features"`
	IsActive       bool                   `json:"is_active"`
	IsExpiringSoon bool                   `json:"is_expiring_soon"`
	History        []historyEntryResponse `json:"history"`
}

func toSubscriptionResponse(sub *model.Subscription) subscriptionResponse {
	now := time.Now()

	history := make([]historyEntryResponse, 0, len(sub.History))
	for _, e := range sub.History {
		history = append(history, historyEntryResponse{
			Action:       string(e.Action),
			PreviousPlan: e.PreviousPlan,
			NewPlan:      e.NewPlan,
			Notes:        e.Notes,
			Date:         formatTime(e.Date),
		})
	}

	return subscriptionResponse{
		ID:             sub.ID,
		PartnerID:      sub.PartnerID,
		Plan:           sub.Plan,
		Status:         string(sub.Status),
		StartDate:      formatTime(sub.StartDate),
		EndDate:        formatTime(sub.EndDate),
		AutoRenew:      sub.AutoRenew,
		PaymentMethod:  sub.PaymentMethod,
		Amount:         float64(sub.AmountCents) / 100,
		Features:       toPlanResponse(sub.Plan, sub.Features),
		IsActive:       sub.IsActive(now),
		IsExpiringSoon: sub.IsExpiringSoon(now),
		History:        history,
	}
}

type createSubscriptionRequest struct {
	PartnerID     int64  `json:"partner_id"`
	Plan          string `json:"plan"`
	StartDate     string `json:"start_date,omitempty"`
	EndDate       string `json:"end_date,omitempty"`
	AutoRenew     bool   `json:"auto_renew,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

// CreateSubscription создаёт подписку для партнёра (административная операция).
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	params := service.CreateSubscriptionParams{
		PartnerID:     req.PartnerID,
		Plan:          req.Plan,
		AutoRenew:     req.AutoRenew,
		PaymentMethod: req.PaymentMethod,
	}

	if req.StartDate != "" {
		t, err := time.Parse(time.RFC3339, req.StartDate)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		params.StartDate = &t
	}
	if req.EndDate != "" {
		t, err := time.Parse(time.RFC3339, req.EndDate)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		params.EndDate = &t
	}

	sub, err := h.service.CreateSubscription(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrSubscriptionExists), errors.Is(err, service.ErrNotPartner):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, service.ErrInvalidPlan):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, service.ErrInvalidPeriod):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		default:
			h.logger.Error("create subscription error", zap.Error(err), zap.Int64("partnerID", req.PartnerID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toSubscriptionResponse(sub)); err != nil {
		h.logger.Error("encode subscription error", zap.Error(err))
	}
}

func subscriptionIDFromURL(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// GetSubscription возвращает подписку с историей событий.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sub, err := h.service.GetSubscription(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get subscription error", zap.Error(err), zap.Int64("subscriptionID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, toSubscriptionResponse(sub))
}

type changePlanRequest struct {
	Plan  string `json:"plan"`
	Notes string `json:"notes,omitempty"`
}

// ChangePlan переводит подписку на другой тариф (административная операция).
func (h *Handler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req changePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sub, err := h.service.ChangePlan(r.Context(), id, req.Plan, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrSubscriptionNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrInvalidPlan):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		default:
			h.logger.Error("change plan error", zap.Error(err), zap.Int64("subscriptionID", id))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, toSubscriptionResponse(sub))
}

type changeStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

// ChangeStatus меняет статус подписки (административная операция).
func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req changeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sub, err := h.service.ChangeStatus(r.Context(), id, model.SubscriptionStatus(req.Status), req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrSubscriptionNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrInvalidStatus):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		default:
			h.logger.Error("change status error", zap.Error(err), zap.Int64("subscriptionID", id))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, toSubscriptionResponse(sub))
}

// CancelSubscription отменяет подписку (административная операция).
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := subscriptionIDFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sub, err := h.service.CancelSubscription(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("cancel subscription error", zap.Error(err), zap.Int64("subscriptionID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, toSubscriptionResponse(sub))
}

type subscriptionDetailsResponse struct {
	Plan           string       `json:"plan"`
	Status         string       `json:"status,omitempty"`
	Features       planResponse `json:"features"`
	IsActive       bool         `json:"is_active"`
	IsExpiringSoon bool         `json:"is_expiring_soon"`
	AutoRenew      bool         `json:"auto_renew"`
	Amount         float64      `json:"amount"`
	EndDate        string       `json:"end_date,omitempty"`
}

// GetPartnerSubscription возвращает сводку по подписке текущего партнёра.
func (h *Handler) GetPartnerSubscription(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	details, err := h.service.GetSubscriptionDetails(r.Context(), partnerID)
	if err != nil {
		h.logger.Error("get subscription details error", zap.Error(err), zap.Int64("partnerID", partnerID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := subscriptionDetailsResponse{
		Plan:           details.Plan,
		Status:         string(details.Status),
		Features:       toPlanResponse(details.Plan, details.Features),
		IsActive:       details.IsActive,
		IsExpiringSoon: details.IsExpiringSoon,
		AutoRenew:      details.AutoRenew,
		Amount:         float64(details.AmountCents) / 100,
	}
	if details.EndDate != nil {
		resp.EndDate = formatTime(*details.EndDate)
	}

	h.writeJSON(w, resp)
}

type selfServiceUpdateRequest struct {
	Plan string `json:"plan"`
}

// UpdatePartnerSubscription создаёт или продлевает подписку текущего партнёра.
func (h *Handler) UpdatePartnerSubscription(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req selfServiceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sub, err := h.service.SelfServiceUpdate(r.Context(), partnerID, req.Plan)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPlan):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrNotPartner):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("self-service update error", zap.Error(err), zap.Int64("partnerID", partnerID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, toSubscriptionResponse(sub))
}

type usageStatsResponse struct {
	Plan         string `json:"plan"`
	Active       bool   `json:"active"`
	ProductsUsed int64  `json:"products_used"`
	ServicesUsed int64  `json:"services_used"`
	MaxProducts  int    `json:"max_products"`
	MaxServices  int    `json:"max_services"`
	MaxImages    int    `json:"max_images"`
}

// GetUsageStats возвращает использование ресурсов текущего партнёра.
func (h *Handler) GetUsageStats(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	stats, err := h.service.GetUsageStats(r.Context(), partnerID)
	if err != nil {
		h.logger.Error("get usage stats error", zap.Error(err), zap.Int64("partnerID", partnerID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, usageStatsResponse{
		Plan:         stats.Plan,
		Active:       stats.Active,
		ProductsUsed: stats.ProductsUsed,
		ServicesUsed: stats.ServicesUsed,
		MaxProducts:  stats.MaxProducts,
		MaxServices:  stats.MaxServices,
		MaxImages:    stats.MaxImages,
	})
}

type catalogItemRequest struct {
	Name   string  `json:"name"`
	Price  float64 `json:"price"`
	Images int     `json:"images"`
}

type catalogItemResponse struct {
	ID        int64   `json:"id"`
	Kind      string  `json:"kind"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Images    int     `json:"images"`
	CreatedAt string  `json:"created_at,omitempty"`
}

func (h *Handler) createCatalogItem(w http.ResponseWriter, r *http.Request, kind model.CatalogItemKind) {
	partnerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req catalogItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Price < 0 || req.Images < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	item, err := h.service.CreateCatalogItem(r.Context(), partnerID, kind, req.Name, int64(req.Price*100), req.Images)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrLimitExceeded):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		case errors.Is(err, service.ErrTooManyImages):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		default:
			h.logger.Error("create catalog item error", zap.Error(err), zap.Int64("partnerID", partnerID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(catalogItemResponse{
		ID:     item.ID,
		Kind:   string(item.Kind),
		Name:   item.Name,
		Price:  float64(item.PriceCents) / 100,
		Images: item.ImagesCount,
	}); err != nil {
		h.logger.Error("encode catalog item error", zap.Error(err))
	}
}

func (h *Handler) listCatalogItems(w http.ResponseWriter, r *http.Request, kind model.CatalogItemKind) {
	partnerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	items, err := h.service.GetCatalogItems(r.Context(), partnerID, kind)
	if err != nil {
		h.logger.Error("list catalog items error", zap.Error(err), zap.Int64("partnerID", partnerID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]catalogItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, catalogItemResponse{
			ID:        item.ID,
			Kind:      string(item.Kind),
			Name:      item.Name,
			Price:     float64(item.PriceCents) / 100,
			Images:    item.ImagesCount,
			CreatedAt: formatTime(item.CreatedAt),
		})
	}

	h.writeJSON(w, resp)
}

// CreateProduct добавляет товар в каталог текущего партнёра.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	h.createCatalogItem(w, r, model.CatalogItemProduct)
}

// GetProducts возвращает товары текущего партнёра.
func (h *Handler) GetProducts(w http.ResponseWriter, r *http.Request) {
	h.listCatalogItems(w, r, model.CatalogItemProduct)
}

// CreateService добавляет услугу в каталог текущего партнёра.
func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	h.createCatalogItem(w, r, model.CatalogItemService)
}

// GetServices возвращает услуги текущего партнёра.
func (h *Handler) GetServices(w http.ResponseWriter, r *http.Request) {
	h.listCatalogItems(w, r, model.CatalogItemService)
}
