package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/resilience"
)

// maxBodyBytes ограничивает тело JSON-запросов.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error    string `json:"error"`
	Details  string `json:"details,omitempty"`
	Category string `json:"category,omitempty"`
	OrderID  string `json:"order_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorResponse{Error: msg, Details: details})
}

// readBody читает тело запроса с ограничением размера.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json", err.Error())
		return false
	}
	return true
}

// statusForError сопоставляет доменные ошибки HTTP-статусам.
func statusForError(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrCouponNotFound),
		errors.Is(err, domain.ErrReferralCodeNotFound),
		errors.Is(err, domain.ErrReferralNotFound),
		errors.Is(err, domain.ErrSubscriberNotFound),
		errors.Is(err, domain.ErrPriceAlertNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrOrderVersionConflict),
		errors.Is(err, domain.ErrCouponConflict),
		errors.Is(err, domain.ErrCouponExists),
		errors.Is(err, domain.ErrAlreadyReferred),
		errors.Is(err, domain.ErrSubscriberExists),
		errors.Is(err, domain.ErrPriceAlertExists),
		errors.Is(err, idempotency.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCouponInactive),
		errors.Is(err, domain.ErrCouponExpired),
		errors.Is(err, domain.ErrCouponExhausted),
		errors.Is(err, domain.ErrCouponAlreadyUsed),
		errors.Is(err, domain.ErrCouponMinAmount),
		errors.Is(err, domain.ErrCouponNotApplicable),
		errors.Is(err, domain.ErrSelfReferral),
		errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotifierNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrPaymentTemporary),
		errors.Is(err, domain.ErrPaymentProvider),
		errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail пишет ошибку в ответ. 5xx логируются и получают категорию ошибки.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	resp := errorResponse{Error: http.StatusText(status), Details: err.Error()}
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		resp.Category = string(domain.CategorizeError(err))
		if status == http.StatusInternalServerError && s.cfg.HideErrorDetails {
			resp.Details = ""
		}
	}
	writeJSON(w, status, resp)
}
