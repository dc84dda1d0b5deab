package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
)

type customerJSON struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type placeItemJSON struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int32   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type placeOrderRequest struct {
	Customer      customerJSON    `json:"customer"`
	Items         []placeItemJSON `json:"items"`
	PaymentMethod string          `json:"payment_method"`
	CouponCode    string          `json:"coupon_code"`
}

type orderItemJSON struct {
	ProductID  string `json:"product_id,omitempty"`
	Name       string `json:"name"`
	Quantity   int32  `json:"quantity"`
	PriceMinor int64  `json:"price_minor"`
}

type paymentDetailsJSON struct {
	PaymentID   string     `json:"payment_id"`
	Status      string     `json:"status"`
	AmountMinor int64      `json:"amount_minor"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
}

type orderJSON struct {
	ID            string              `json:"id"`
	Customer      customerJSON        `json:"customer"`
	Status        string              `json:"status"`
	PaymentMethod string              `json:"payment_method"`
	PaymentID     string              `json:"payment_id,omitempty"`
	PreferenceID  string              `json:"preference_id,omitempty"`
	Currency      string              `json:"currency"`
	SubtotalMinor int64               `json:"subtotal_minor"`
	DiscountMinor int64               `json:"discount_minor"`
	AmountMinor   int64               `json:"amount_minor"`
	CouponCode    string              `json:"coupon_code,omitempty"`
	PointsEarned  int64               `json:"points_earned"`
	Items         []orderItemJSON     `json:"items"`
	Payment       *paymentDetailsJSON `json:"payment,omitempty"`
	ConfirmedAt   *time.Time          `json:"confirmed_at,omitempty"`
	ConfirmedBy   string              `json:"confirmed_by,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	CanceledAt    *time.Time          `json:"canceled_at,omitempty"`
	CancelReason  string              `json:"cancel_reason,omitempty"`
	Version       int64               `json:"version"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

type placeOrderResponse struct {
	Order            orderJSON `json:"order"`
	PreferenceID     string    `json:"preference_id,omitempty"`
	InitPoint        string    `json:"init_point,omitempty"`
	SandboxInitPoint string    `json:"sandbox_init_point,omitempty"`
	Demo             bool      `json:"demo,omitempty"`
}

type timelineEventJSON struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Actor    string    `json:"actor,omitempty"`
	Occurred time.Time `json:"occurred_at"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// toMinor переводит сумму в песо в сентаво.
func toMinor(pesos float64) int64 {
	return int64(math.Round(pesos * 100))
}

func toOrderJSON(o domain.Order) orderJSON {
	out := orderJSON{
		ID:            o.ID,
		Customer:      customerJSON{ID: o.Customer.ID, Name: o.Customer.Name, Email: o.Customer.Email, Phone: o.Customer.Phone},
		Status:        string(o.Status),
		PaymentMethod: string(o.PaymentMethod),
		PaymentID:     o.PaymentID,
		PreferenceID:  o.PreferenceID,
		Currency:      o.Currency,
		SubtotalMinor: o.SubtotalMinor,
		DiscountMinor: o.DiscountMinor,
		AmountMinor:   o.AmountMinor,
		CouponCode:    o.CouponCode,
		PointsEarned:  o.PointsEarned,
		Items:         make([]orderItemJSON, 0, len(o.Items)),
		ConfirmedAt:   timePtr(o.ConfirmedAt),
		ConfirmedBy:   o.ConfirmedBy,
		CompletedAt:   timePtr(o.CompletedAt),
		CanceledAt:    timePtr(o.CanceledAt),
		CancelReason:  o.CancelReason,
		Version:       o.Version,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	for _, it := range o.Items {
		out.Items = append(out.Items, orderItemJSON{
			ProductID:  it.ProductID,
			Name:       it.Name,
			Quantity:   it.Qty,
			PriceMinor: it.PriceMinor,
		})
	}
	if o.Payment != nil {
		out.Payment = &paymentDetailsJSON{
			PaymentID:   o.Payment.PaymentID,
			Status:      string(o.Payment.Status),
			AmountMinor: o.Payment.AmountMinor,
			ApprovedAt:  timePtr(o.Payment.ApprovedAt),
		}
	}
	return out
}

// handlePlaceOrder: POST /api/orders. С заголовком Idempotency-Key повтор запроса
// возвращает сохранённый ответ.
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	if s.deps.Orders == nil {
		s.unavailable(w, "orders")
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "")
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && s.deps.Guard.Enabled() {
		record, err := s.deps.Guard.Begin(r.Context(), key, r.Method+" "+r.URL.Path, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if record != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(record.HTTPStatus)
			_, _ = w.Write(record.ResponseBody)
			return
		}
	} else {
		key = ""
	}

	status, resp := s.placeOrder(r, body)
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.WithError(err).Error("marshal order response")
		status = http.StatusInternalServerError
		payload = []byte(`{"error":"internal error"}`)
	}
	if key != "" {
		s.deps.Guard.Finish(r.Context(), key, status, payload)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(payload, '\n'))
}

func (s *Server) placeOrder(r *http.Request, body []byte) (int, any) {
	var req placeOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return http.StatusBadRequest, errorResponse{Error: "invalid json", Details: err.Error()}
	}

	items := make([]orders.ItemRequest, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, orders.ItemRequest{
			ProductID:  it.ProductID,
			Name:       it.Name,
			Qty:        it.Quantity,
			PriceMinor: toMinor(it.UnitPrice),
		})
	}
	result, err := s.deps.Orders.Place(r.Context(), orders.PlaceRequest{
		Customer: domain.Customer{
			ID:    req.Customer.ID,
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
		Items:         items,
		PaymentMethod: req.PaymentMethod,
		CouponCode:    req.CouponCode,
	})
	if errors.Is(err, orders.ErrPaymentInitiation) {
		s.logger.WithError(err).WithField("order_id", result.Order.ID).Warn("order placed without payment preference")
		return http.StatusBadGateway, errorResponse{
			Error:    "payment initiation failed",
			Details:  err.Error(),
			Category: string(domain.CategorizeError(err)),
			OrderID:  result.Order.ID,
		}
	}
	if err != nil {
		status := statusForError(err)
		resp := errorResponse{Error: http.StatusText(status), Details: err.Error()}
		if status >= http.StatusInternalServerError {
			s.logger.WithError(err).Error("place order failed")
			resp.Category = string(domain.CategorizeError(err))
		}
		return status, resp
	}

	resp := placeOrderResponse{Order: toOrderJSON(result.Order)}
	if p := result.Preference; p != nil {
		resp.PreferenceID = p.ID
		resp.InitPoint = p.InitPoint
		resp.SandboxInitPoint = p.SandboxInitPoint
		resp.Demo = p.Demo
	}
	return http.StatusCreated, resp
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	if s.deps.Orders == nil {
		s.unavailable(w, "orders")
		return
	}
	order, err := s.deps.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderJSON(order))
}

func (s *Server) handleOrderTimeline(w http.ResponseWriter, r *http.Request) {
	if s.deps.Orders == nil {
		s.unavailable(w, "orders")
		return
	}
	events, err := s.deps.Orders.Timeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]timelineEventJSON, 0, len(events))
	for _, e := range events {
		out = append(out, timelineEventJSON{Type: e.Type, Reason: e.Reason, Actor: e.Actor, Occurred: e.Occurred})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// handleAdminListOrders: GET /admin/orders?status=pending|confirmed|...|all.
func (s *Server) handleAdminListOrders(w http.ResponseWriter, r *http.Request) {
	if s.deps.Orders == nil {
		s.unavailable(w, "orders")
		return
	}
	q := r.URL.Query()
	filter := domain.OrderFilter{CustomerID: strings.TrimSpace(q.Get("customer_id"))}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" && raw != "all" {
		for _, part := range strings.Split(raw, ",") {
			st, ok := domain.ParseOrderStatus(part)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid status", part)
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		filter.Limit = limit
	}

	list, err := s.deps.Orders.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]orderJSON, 0, len(list))
	for _, o := range list {
		out = append(out, toOrderJSON(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out, "total": len(out)})
}

type confirmRequest struct {
	ConfirmedBy string `json:"confirmed_by"`
}

// handleAdminConfirm обслуживает POST /admin/orders/{id}/confirm и legacy /admin/confirm-payment/{id}.
func (s *Server) handleAdminConfirm(w http.ResponseWriter, r *http.Request) {
	if s.deps.Orders == nil {
		s.unavailable(w, "orders")
		return
	}
	var req confirmRequest
	if r.Method == http.MethodPost && r.ContentLength > 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	by := strings.TrimSpace(req.ConfirmedBy)
	if by == "" {
		by = strings.TrimSpace(r.Header.Get("X-Admin-User"))
	}

	order, err := s.deps.Orders.Confirm(r.Context(), chi.URLParam(r, "id"), by)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"confirmed_by": order.ConfirmedBy,
	}).Info("admin confirmed order")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": toOrderJSON(order)})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleAdminCancel(w http.ResponseWriter, r *http.Request) {
	if s.deps.Orders == nil {
		s.unavailable(w, "orders")
		return
	}
	var req cancelRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	order, err := s.deps.Orders.Cancel(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.Reason))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": toOrderJSON(order)})
}
