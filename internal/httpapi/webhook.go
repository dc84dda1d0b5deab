package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const signaturePrefix = "sha256="

// Sign возвращает значение заголовка x-signature для тела.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature сравнивает x-signature с HMAC-SHA256 тела за постоянное время.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" || !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	return hmac.Equal([]byte(header), []byte(Sign(secret, body)))
}

// flexibleID принимает id и строкой, и числом.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

type notificationJSON struct {
	ID       flexibleID `json:"id"`
	Type     string     `json:"type"`
	Topic    string     `json:"topic"`
	Action   string     `json:"action"`
	LiveMode bool       `json:"live_mode"`
	Data     struct {
		ID flexibleID `json:"id"`
	} `json:"data"`
}

// ParseNotification разбирает уведомление провайдера. Провайдер дублирует тип и id
// в query (type, data.id), они используются, если в теле их нет.
func ParseNotification(body []byte, query url.Values) (domain.PaymentNotification, error) {
	var raw notificationJSON
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			return domain.PaymentNotification{}, domain.NewValidationError(fmt.Sprintf("invalid notification body: %v", err))
		}
	}
	n := domain.PaymentNotification{
		ID:        string(raw.ID),
		Type:      raw.Type,
		Action:    raw.Action,
		PaymentID: strings.TrimSpace(string(raw.Data.ID)),
		LiveMode:  raw.LiveMode,
	}
	if n.Type == "" {
		n.Type = raw.Topic
	}
	if n.Type == "" {
		n.Type = firstNonEmpty(query.Get("type"), query.Get("topic"))
	}
	if n.PaymentID == "" {
		n.PaymentID = strings.TrimSpace(firstNonEmpty(query.Get("data.id"), query.Get("id")))
	}
	return n, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// handleSecureWebhook: POST /webhook/secure с проверкой x-signature.
func (s *Server) handleSecureWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		http.Error(w, "Payload Too Large", http.StatusRequestEntityTooLarge)
		return
	}
	signature := r.Header.Get("x-signature")
	if signature == "" || s.cfg.WebhookSecret == "" {
		s.logger.Warn("webhook without signature or secret not configured")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !VerifySignature(s.cfg.WebhookSecret, body, signature) {
		s.logger.WithField("remote_ip", clientIP(r)).Warn("invalid webhook signature")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}
	s.processWebhook(w, r, body)
}

// handleUnsignedWebhook: POST /webhook; включается только в development.
func (s *Server) handleUnsignedWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		http.Error(w, "Payload Too Large", http.StatusRequestEntityTooLarge)
		return
	}
	s.processWebhook(w, r, body)
}

// processWebhook отвечает 200 на всё, кроме временных сбоев: на 500 провайдер повторит доставку.
func (s *Server) processWebhook(w http.ResponseWriter, r *http.Request, body []byte) {
	n, err := ParseNotification(body, r.URL.Query())
	if err != nil {
		s.logger.WithError(err).Warn("malformed webhook ignored")
		_, _ = w.Write([]byte("OK"))
		return
	}
	if s.deps.Orders == nil {
		http.Error(w, "Error", http.StatusServiceUnavailable)
		return
	}

	result, err := s.deps.Orders.HandlePaymentNotification(r.Context(), n, body)
	if err != nil {
		http.Error(w, "Error", http.StatusInternalServerError)
		return
	}
	s.logger.WithFields(log.Fields{
		"type":       n.Type,
		"payment_id": n.PaymentID,
		"order_id":   result.OrderID,
		"outcome":    result.Outcome,
	}).Debug("webhook acknowledged")
	_, _ = w.Write([]byte("OK"))
}
