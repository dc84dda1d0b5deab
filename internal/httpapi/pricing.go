package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
)

// --- история цен ---

type priceChangeJSON struct {
	OldPriceMinor int64     `json:"old_price_minor"`
	NewPriceMinor int64     `json:"new_price_minor"`
	Direction     string    `json:"direction"`
	PercentChange float64   `json:"percent_change"`
	ChangedBy     string    `json:"changed_by,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	ChangedAt     time.Time `json:"changed_at"`
}

func toPriceChangeJSON(c domain.PriceChange) priceChangeJSON {
	return priceChangeJSON{
		OldPriceMinor: c.OldPriceMinor,
		NewPriceMinor: c.NewPriceMinor,
		Direction:     c.Direction(),
		PercentChange: c.PercentChange(),
		ChangedBy:     c.ChangedBy,
		Reason:        c.Reason,
		ChangedAt:     c.ChangedAt,
	}
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pricing == nil {
		s.unavailable(w, "pricing")
		return
	}
	h, err := s.deps.Pricing.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	changes := make([]priceChangeJSON, 0, len(h.Changes))
	for _, c := range h.Changes {
		changes = append(changes, toPriceChangeJSON(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product_id":    h.ProductID,
		"current_minor": h.CurrentMinor,
		"lowest_minor":  h.LowestMinor,
		"at_lowest":     h.AtLowest,
		"changes":       changes,
	})
}

type updatePriceRequest struct {
	PriceMinor int64  `json:"price_minor"`
	Reason     string `json:"reason"`
}

// handleUpdatePrice обслуживает PUT /admin/products/{id}/price.
func (s *Server) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pricing == nil {
		s.unavailable(w, "pricing")
		return
	}
	var req updatePriceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	by := strings.TrimSpace(r.Header.Get("X-Admin-User"))
	if by == "" {
		by = "admin"
	}
	change, err := s.deps.Pricing.UpdatePrice(r.Context(), chi.URLParam(r, "id"), req.PriceMinor, by, strings.TrimSpace(req.Reason))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPriceChangeJSON(change))
}

// --- ценовые подписки ---

type priceAlertJSON struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	ProductID           string     `json:"product_id"`
	TargetPriceMinor    int64      `json:"target_price_minor"`
	Active              bool       `json:"active"`
	Notified            bool       `json:"notified"`
	TriggeredPriceMinor int64      `json:"triggered_price_minor,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	NotifiedAt          *time.Time `json:"notified_at,omitempty"`
}

func toPriceAlertJSON(a domain.PriceAlert) priceAlertJSON {
	return priceAlertJSON{
		ID:                  a.ID,
		UserID:              a.UserID,
		ProductID:           a.ProductID,
		TargetPriceMinor:    a.TargetPriceMinor,
		Active:              a.Active,
		Notified:            a.Notified,
		TriggeredPriceMinor: a.TriggeredPriceMinor,
		CreatedAt:           a.CreatedAt,
		NotifiedAt:          timePtr(a.NotifiedAt),
	}
}

type createAlertRequest struct {
	UserID           string `json:"user_id"`
	ProductID        string `json:"product_id"`
	TargetPriceMinor int64  `json:"target_price_minor"`
	Phone            string `json:"phone"`
}

func (s *Server) handleCreatePriceAlert(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pricing == nil {
		s.unavailable(w, "pricing")
		return
	}
	var req createAlertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	alert, err := s.deps.Pricing.CreateAlert(r.Context(), req.UserID, req.ProductID, req.TargetPriceMinor, req.Phone)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPriceAlertJSON(alert))
}

func (s *Server) handleListPriceAlerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pricing == nil {
		s.unavailable(w, "pricing")
		return
	}
	alerts, err := s.deps.Pricing.ListAlerts(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]priceAlertJSON, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toPriceAlertJSON(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": out})
}

func (s *Server) handleDeletePriceAlert(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pricing == nil {
		s.unavailable(w, "pricing")
		return
	}
	if err := s.deps.Pricing.RemoveAlert(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("user_id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- рекомендации ---

type recommendationJSON struct {
	productJSON
	Reason string `json:"reason"`
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recommender == nil {
		s.unavailable(w, "recommendations")
		return
	}
	q := r.URL.Query()
	req := inventory.RecommendRequest{
		ProductID: chi.URLParam(r, "id"),
		UserID:    strings.TrimSpace(q.Get("user_id")),
		Strategy:  strings.TrimSpace(q.Get("strategy")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		req.Limit = limit
	}
	recs, err := s.deps.Recommender.Recommend(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]recommendationJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recommendationJSON{productJSON: toProductJSON(rec.Product), Reason: rec.Reason})
	}
	writeJSON(w, http.StatusOK, map[string]any{"recommendations": out})
}
