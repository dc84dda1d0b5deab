package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
)

type preferenceItemJSON struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int32   `json:"quantity"`
}

type createPreferenceRequest struct {
	Items     []preferenceItemJSON `json:"items"`
	UsuarioID string               `json:"usuarioId"`
	Email     string               `json:"email"`
	Metadata  map[string]any       `json:"metadata"`
}

type preferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point,omitempty"`
	Demo             bool   `json:"demo,omitempty"`
}

// handleCreatePreference: POST /create_preference: preference без заказа, как у старой витрины.
func (s *Server) handleCreatePreference(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "payments unavailable", "")
		return
	}
	var req createPreferenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items required", "at least one item must be provided")
		return
	}
	if strings.TrimSpace(req.UsuarioID) == "" {
		writeError(w, http.StatusBadRequest, "user id required", "usuarioId must be provided")
		return
	}

	orderID := ""
	if v, ok := req.Metadata["order_id"].(string); ok {
		orderID = strings.TrimSpace(v)
	}
	if orderID == "" {
		orderID = uuid.NewString()
	}
	prefReq := domain.PreferenceRequest{
		OrderID:    orderID,
		CustomerID: strings.TrimSpace(req.UsuarioID),
		PayerEmail: req.Email,
		ExpiresAt:  time.Now().UTC().Add(orders.DefaultPreferenceLifetime),
	}
	for _, it := range req.Items {
		if strings.TrimSpace(it.Title) == "" || it.UnitPrice <= 0 || it.Quantity <= 0 {
			writeError(w, http.StatusBadRequest, "invalid item", "each item needs title, unit_price > 0 and quantity > 0")
			return
		}
		prefReq.Items = append(prefReq.Items, domain.PreferenceItem{
			ID:         it.ID,
			Title:      it.Title,
			Qty:        it.Quantity,
			PriceMinor: toMinor(it.UnitPrice),
		})
	}
	total := prefReq.TotalMinor()
	if total > domain.MaxProviderAmountMinor {
		writeError(w, http.StatusBadRequest, "amount exceeds the allowed limit",
			fmt.Sprintf("total cannot exceed %s", domain.FormatMoney(domain.MaxProviderAmountMinor)))
		return
	}
	prefReq.PointsEarned = domain.PointsForAmount(total)

	pref, err := s.deps.Gateway.CreatePreference(r.Context(), prefReq)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.WithFields(log.Fields{
		"preference_id": pref.ID,
		"user_id":       prefReq.CustomerID,
		"total_minor":   total,
		"demo":          pref.Demo,
	}).Info("preference created")
	writeJSON(w, http.StatusOK, preferenceResponse{
		ID:               pref.ID,
		InitPoint:        pref.InitPoint,
		SandboxInitPoint: pref.SandboxInitPoint,
		Demo:             pref.Demo,
	})
}

type paymentResponse struct {
	ID                string         `json:"id"`
	Status            string         `json:"status"`
	StatusDetail      string         `json:"status_detail,omitempty"`
	TransactionAmount float64        `json:"transaction_amount"`
	CurrencyID        string         `json:"currency_id,omitempty"`
	DateCreated       *time.Time     `json:"date_created,omitempty"`
	DateApproved      *time.Time     `json:"date_approved,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// handleGetPayment: GET /payment/{id}; id должен быть числом.
func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !payment.IsNumericPaymentID(id) {
		writeError(w, http.StatusBadRequest, "invalid payment id", "payment id must be numeric")
		return
	}
	if s.deps.Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "payments unavailable", "")
		return
	}
	p, err := s.deps.Gateway.GetPayment(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse{
		ID:                p.ID,
		Status:            string(p.Status),
		StatusDetail:      p.StatusDetail,
		TransactionAmount: float64(p.AmountMinor) / 100,
		CurrencyID:        p.Currency,
		DateCreated:       timePtr(p.CreatedAt),
		DateApproved:      timePtr(p.ApprovedAt),
		Metadata:          p.Metadata,
	})
}

type verifyResponse struct {
	Verified          bool       `json:"verified"`
	Status            string     `json:"status,omitempty"`
	PaymentID         string     `json:"payment_id"`
	TransactionAmount float64    `json:"transaction_amount,omitempty"`
	DateApproved      *time.Time `json:"date_approved,omitempty"`
	Error             string     `json:"error,omitempty"`
}

// handleVerifyPayment: GET /verify-payment/{id} для страницы успешной оплаты.
func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	if s.deps.Orders == nil {
		s.unavailable(w, "orders")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	p, err := s.deps.Orders.VerifyPayment(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrPaymentNotFound):
		writeJSON(w, http.StatusNotFound, verifyResponse{PaymentID: id, Error: "payment not found"})
		return
	case domain.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, verifyResponse{PaymentID: id, Error: err.Error()})
		return
	case err != nil:
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		Verified:          p.Status == domain.PaymentStatusApproved,
		Status:            string(p.Status),
		PaymentID:         id,
		TransactionAmount: float64(p.AmountMinor) / 100,
		DateApproved:      timePtr(p.ApprovedAt),
	})
}

type sendWhatsAppRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// handleSendWhatsApp: POST /send-whatsapp.
func (s *Server) handleSendWhatsApp(w http.ResponseWriter, r *http.Request) {
	var req sendWhatsAppRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.To) == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "missing required parameters", `"to" and "message" are required`)
		return
	}
	if s.deps.Messenger == nil {
		s.fail(w, r, domain.ErrNotifierNotConfigured)
		return
	}
	receipt, err := s.deps.Messenger.SendManual(r.Context(), req.To, req.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"messageId": receipt.SID,
		"status":    receipt.Status,
	})
}
