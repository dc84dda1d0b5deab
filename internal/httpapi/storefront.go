package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/coupon"
	"github.com/vladislavdragonenkov/storefront/internal/service/newsletter"
)

func (s *Server) unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" unavailable", "")
}

// --- каталог ---

type productJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PriceMinor  int64  `json:"price_minor"`
	Stock       int64  `json:"stock"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	Handle      string `json:"handle,omitempty"`
	Ref         string `json:"ref,omitempty"`
}

func toProductJSON(p domain.Product) productJSON {
	return productJSON{
		ID:          p.ID,
		Name:        p.Name,
		PriceMinor:  p.PriceMinor,
		Stock:       p.Stock,
		Category:    p.Category,
		Description: p.Description,
		Handle:      p.Handle,
		Ref:         p.Ref,
	}
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		s.unavailable(w, "catalog")
		return
	}
	filter := domain.ProductFilter{Category: strings.TrimSpace(r.URL.Query().Get("category"))}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		filter.Limit = limit
	}
	list, err := s.deps.Catalog.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]productJSON, 0, len(list))
	for _, p := range list {
		out = append(out, toProductJSON(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": out})
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		s.unavailable(w, "catalog")
		return
	}
	p, err := s.deps.Catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductJSON(p))
}

// --- лояльность ---

type pointsEntryJSON struct {
	Date    time.Time `json:"date"`
	Points  int64     `json:"points"`
	Reason  string    `json:"reason"`
	OrderID string    `json:"order_id,omitempty"`
}

func (s *Server) handleLoyaltyBalance(w http.ResponseWriter, r *http.Request) {
	if s.deps.Loyalty == nil {
		s.unavailable(w, "loyalty")
		return
	}
	b, err := s.deps.Loyalty.Balance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	history := make([]pointsEntryJSON, 0, len(b.History))
	for _, e := range b.History {
		history = append(history, pointsEntryJSON{Date: e.Date, Points: e.Points, Reason: e.Reason, OrderID: e.OrderID})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":          b.UserID,
		"points":           b.Points,
		"level":            b.Level,
		"discount_percent": b.DiscountPercent,
		"expires_at":       timePtr(b.ExpiresAt),
		"history":          history,
	})
}

// --- купоны ---

type couponJSON struct {
	Code             string     `json:"code"`
	Description      string     `json:"description,omitempty"`
	Type             string     `json:"type"`
	Value            int64      `json:"value"`
	MaxDiscountMinor int64      `json:"max_discount_minor,omitempty"`
	MinAmountMinor   int64      `json:"min_amount_minor,omitempty"`
	UsageLimit       int        `json:"usage_limit,omitempty"`
	UsedCount        int        `json:"used_count"`
	OnePerUser       bool       `json:"one_per_user"`
	Active           bool       `json:"active"`
	Rule             string     `json:"rule,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

func toCouponJSON(c domain.Coupon) couponJSON {
	return couponJSON{
		Code:             c.Code,
		Description:      c.Description,
		Type:             string(c.Type),
		Value:            c.Value,
		MaxDiscountMinor: c.MaxDiscountMinor,
		MinAmountMinor:   c.MinAmountMinor,
		UsageLimit:       c.UsageLimit,
		UsedCount:        c.UsedCount,
		OnePerUser:       c.OnePerUser,
		Active:           c.Active,
		Rule:             c.Rule,
		ExpiresAt:        timePtr(c.ExpiresAt),
	}
}

type validateCouponRequest struct {
	Code          string `json:"code"`
	UserID        string `json:"user_id"`
	TotalMinor    int64  `json:"total_minor"`
	Items         int64  `json:"items"`
	PaymentMethod string `json:"payment_method"`
}

func (s *Server) handleValidateCoupon(w http.ResponseWriter, r *http.Request) {
	if s.deps.Coupons == nil {
		s.unavailable(w, "coupons")
		return
	}
	var req validateCouponRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	checkout := coupon.Checkout{
		Code:       req.Code,
		UserID:     strings.TrimSpace(req.UserID),
		TotalMinor: req.TotalMinor,
		Items:      req.Items,
	}
	if req.PaymentMethod != "" {
		method, err := domain.ParsePaymentMethod(req.PaymentMethod)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		checkout.Method = method
	}
	quote, err := s.deps.Coupons.Quote(r.Context(), checkout)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":          true,
		"coupon":         toCouponJSON(quote.Coupon),
		"discount_minor": quote.DiscountMinor,
	})
}

func (s *Server) handleAssignedCoupons(w http.ResponseWriter, r *http.Request) {
	if s.deps.Coupons == nil {
		s.unavailable(w, "coupons")
		return
	}
	list, err := s.deps.Coupons.ListAssigned(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(list))
	for _, a := range list {
		out = append(out, map[string]any{
			"code":        a.Code,
			"assigned_at": a.AssignedAt,
			"expires_at":  timePtr(a.ExpiresAt),
			"used":        a.Used,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"coupons": out})
}

type createCouponRequest struct {
	Code             string     `json:"code"`
	Description      string     `json:"description"`
	Type             string     `json:"type"`
	Value            int64      `json:"value"`
	MaxDiscountMinor int64      `json:"max_discount_minor"`
	MinAmountMinor   int64      `json:"min_amount_minor"`
	UsageLimit       int        `json:"usage_limit"`
	OnePerUser       bool       `json:"one_per_user"`
	Rule             string     `json:"rule"`
	ExpiresAt        *time.Time `json:"expires_at"`
	CreatedBy        string     `json:"created_by"`
}

func (s *Server) handleCreateCoupon(w http.ResponseWriter, r *http.Request) {
	if s.deps.Coupons == nil {
		s.unavailable(w, "coupons")
		return
	}
	var req createCouponRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	create := coupon.CreateRequest{
		Code:             req.Code,
		Description:      req.Description,
		Type:             domain.CouponType(strings.ToLower(strings.TrimSpace(req.Type))),
		Value:            req.Value,
		MaxDiscountMinor: req.MaxDiscountMinor,
		MinAmountMinor:   req.MinAmountMinor,
		UsageLimit:       req.UsageLimit,
		OnePerUser:       req.OnePerUser,
		Rule:             req.Rule,
		CreatedBy:        req.CreatedBy,
	}
	if req.ExpiresAt != nil {
		create.ExpiresAt = req.ExpiresAt.UTC()
	}
	c, err := s.deps.Coupons.Create(r.Context(), create)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCouponJSON(c))
}

func (s *Server) handleListCoupons(w http.ResponseWriter, r *http.Request) {
	if s.deps.Coupons == nil {
		s.unavailable(w, "coupons")
		return
	}
	list, err := s.deps.Coupons.List(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]couponJSON, 0, len(list))
	for _, c := range list {
		out = append(out, toCouponJSON(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"coupons": out})
}

func (s *Server) handleDeactivateCoupon(w http.ResponseWriter, r *http.Request) {
	if s.deps.Coupons == nil {
		s.unavailable(w, "coupons")
		return
	}
	c, err := s.deps.Coupons.Deactivate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponJSON(c))
}

func (s *Server) handleAssignCoupon(w http.ResponseWriter, r *http.Request) {
	if s.deps.Coupons == nil {
		s.unavailable(w, "coupons")
		return
	}
	var req struct {
		UserID string `json:"user_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := s.deps.Coupons.Assign(r.Context(), chi.URLParam(r, "code"), strings.TrimSpace(req.UserID))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"code":        a.Code,
		"user_id":     a.UserID,
		"assigned_at": a.AssignedAt,
		"expires_at":  timePtr(a.ExpiresAt),
	})
}

// --- рефералы ---

type referralJSON struct {
	Code          string     `json:"code"`
	ReferrerID    string     `json:"referrer_id"`
	ReferredID    string     `json:"referred_id"`
	ReferredEmail string     `json:"referred_email,omitempty"`
	Status        string     `json:"status"`
	Reward        int64      `json:"reward"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func toReferralJSON(ref domain.Referral) referralJSON {
	return referralJSON{
		Code:          ref.Code,
		ReferrerID:    ref.ReferrerID,
		ReferredID:    ref.ReferredID,
		ReferredEmail: ref.ReferredEmail,
		Status:        string(ref.Status),
		Reward:        ref.Reward,
		CreatedAt:     ref.CreatedAt,
		CompletedAt:   timePtr(ref.CompletedAt),
	}
}

func (s *Server) handleReferralCode(w http.ResponseWriter, r *http.Request) {
	if s.deps.Referrals == nil {
		s.unavailable(w, "referrals")
		return
	}
	var req struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
		Email  string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	code, err := s.deps.Referrals.EnsureCode(r.Context(), strings.TrimSpace(req.UserID), req.Name, req.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code.Code, "user_id": code.UserID})
}

func (s *Server) handleRegisterReferral(w http.ResponseWriter, r *http.Request) {
	if s.deps.Referrals == nil {
		s.unavailable(w, "referrals")
		return
	}
	var req struct {
		Code   string `json:"code"`
		UserID string `json:"user_id"`
		Email  string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ref, err := s.deps.Referrals.Register(r.Context(), req.Code, strings.TrimSpace(req.UserID), req.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReferralJSON(ref))
}

func (s *Server) handleReferralStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Referrals == nil {
		s.unavailable(w, "referrals")
		return
	}
	stats, list, err := s.deps.Referrals.Stats(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]referralJSON, 0, len(list))
	for _, ref := range list {
		out = append(out, toReferralJSON(ref))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     stats.Total,
		"pending":   stats.Pending,
		"completed": stats.Completed,
		"earnings":  stats.Earnings,
		"referrals": out,
	})
}

// --- рассылка ---

type subscriberJSON struct {
	Email          string     `json:"email"`
	UserID         string     `json:"user_id,omitempty"`
	Interests      []string   `json:"interests"`
	Source         string     `json:"source"`
	Active         bool       `json:"active"`
	SubscribedAt   time.Time  `json:"subscribed_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
}

func toSubscriberJSON(sub domain.Subscriber) subscriberJSON {
	interests := sub.Interests
	if interests == nil {
		interests = []string{}
	}
	return subscriberJSON{
		Email:          sub.Email,
		UserID:         sub.UserID,
		Interests:      interests,
		Source:         string(sub.Source),
		Active:         sub.Active,
		SubscribedAt:   sub.SubscribedAt,
		UnsubscribedAt: timePtr(sub.UnsubscribedAt),
	}
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if s.deps.Newsletter == nil {
		s.unavailable(w, "newsletter")
		return
	}
	var req struct {
		Email     string   `json:"email"`
		UserID    string   `json:"user_id"`
		Interests []string `json:"interests"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sub, err := s.deps.Newsletter.Subscribe(r.Context(), newsletter.SubscribeRequest{
		Email:     req.Email,
		UserID:    strings.TrimSpace(req.UserID),
		Interests: req.Interests,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubscriberJSON(sub))
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if s.deps.Newsletter == nil {
		s.unavailable(w, "newsletter")
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sub, err := s.deps.Newsletter.Unsubscribe(r.Context(), req.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriberJSON(sub))
}

func (s *Server) handleListSubscribers(w http.ResponseWriter, r *http.Request) {
	if s.deps.Newsletter == nil {
		s.unavailable(w, "newsletter")
		return
	}
	list, err := s.deps.Newsletter.ListActive(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]subscriberJSON, 0, len(list))
	for _, sub := range list {
		out = append(out, toSubscriberJSON(sub))
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscribers": out, "total": len(out)})
}
