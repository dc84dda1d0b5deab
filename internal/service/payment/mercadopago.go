package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
)

const (
	// DefaultMercadoPagoURL: публичный REST API MercadoPago.
	DefaultMercadoPagoURL = "https://api.mercadopago.com"
	// PreferenceLifetime: срок действия платёжной preference.
	PreferenceLifetime = 24 * time.Hour

	maxTitleLength = 256
	maxErrorBody   = 4 << 10
)

// MercadoPagoConfig: параметры REST-клиента.
type MercadoPagoConfig struct {
	BaseURL     string
	AccessToken string
	// FrontendURL: база для back_urls (success/failure/pending).
	FrontendURL string
	// BackendURL: база для notification_url (/webhook/secure).
	BackendURL string
	Timeout    time.Duration
}

// MercadoPagoClient реализует PaymentGateway поверх REST API.
type MercadoPagoClient struct {
	cfg    MercadoPagoConfig
	http   *tracing.HTTPClient
	logger *log.Entry
	now    func() time.Time
}

// NewMercadoPagoClient создаёт клиент; http может быть nil, тогда используется трассируемый клиент по умолчанию.
func NewMercadoPagoClient(cfg MercadoPagoConfig, httpClient *tracing.HTTPClient, logger *log.Entry) *MercadoPagoClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMercadoPagoURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = tracing.NewHTTPClient(nil, cfg.Timeout)
	}
	if logger == nil {
		logger = log.New().WithField("component", "mercadopago")
	}
	return &MercadoPagoClient{
		cfg:    cfg,
		http:   httpClient,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type mpItem struct {
	ID         string  `json:"id,omitempty"`
	Title      string  `json:"title"`
	Quantity   int32   `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type mpBackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type mpPayer struct {
	Email string `json:"email,omitempty"`
}

type mpPreferenceRequest struct {
	Items              []mpItem       `json:"items"`
	Payer              *mpPayer       `json:"payer,omitempty"`
	BackURLs           mpBackURLs     `json:"back_urls"`
	AutoReturn         string         `json:"auto_return"`
	NotificationURL    string         `json:"notification_url,omitempty"`
	ExternalReference  string         `json:"external_reference,omitempty"`
	Metadata           map[string]any `json:"metadata"`
	Expires            bool           `json:"expires"`
	ExpirationDateFrom string         `json:"expiration_date_from"`
	ExpirationDateTo   string         `json:"expiration_date_to"`
}

type mpPreferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type mpPaymentResponse struct {
	ID                json.Number    `json:"id"`
	Status            string         `json:"status"`
	StatusDetail      string         `json:"status_detail"`
	ExternalReference string         `json:"external_reference"`
	TransactionAmount float64        `json:"transaction_amount"`
	CurrencyID        string         `json:"currency_id"`
	DateCreated       *time.Time     `json:"date_created"`
	DateApproved      *time.Time     `json:"date_approved"`
	Payer             mpPayer        `json:"payer"`
	Metadata          map[string]any `json:"metadata"`
}

type mpErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}

// CreatePreference регистрирует preference: order id уходит в external_reference,
// а notification_url указывает на подписанный вебхук.
func (c *MercadoPagoClient) CreatePreference(ctx context.Context, req domain.PreferenceRequest) (domain.Preference, error) {
	if errs := req.Validate(); len(errs) > 0 {
		return domain.Preference{}, errors.Join(errs...)
	}

	now := c.now()
	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(PreferenceLifetime)
	}

	body := mpPreferenceRequest{
		Items:      make([]mpItem, 0, len(req.Items)),
		AutoReturn: "approved",
		BackURLs: mpBackURLs{
			Success: c.cfg.FrontendURL + "/success",
			Failure: c.cfg.FrontendURL + "/failure",
			Pending: c.cfg.FrontendURL + "/pending",
		},
		ExternalReference: req.OrderID,
		Metadata: map[string]any{
			"usuario_id":    req.CustomerID,
			"order_id":      req.OrderID,
			"points_earned": req.PointsEarned,
			"timestamp":     now.Format(time.RFC3339),
		},
		Expires:            true,
		ExpirationDateFrom: now.Format(time.RFC3339),
		ExpirationDateTo:   expiresAt.Format(time.RFC3339),
	}
	if c.cfg.BackendURL != "" {
		body.NotificationURL = c.cfg.BackendURL + "/webhook/secure"
	}
	if req.PayerEmail != "" {
		body.Payer = &mpPayer{Email: req.PayerEmail}
	}
	for _, it := range req.Items {
		body.Items = append(body.Items, mpItem{
			ID:         it.ID,
			Title:      truncate(it.Title, maxTitleLength),
			Quantity:   it.Qty,
			UnitPrice:  float64(it.PriceMinor) / 100,
			CurrencyID: domain.CurrencyARS,
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return domain.Preference{}, fmt.Errorf("encode preference: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/checkout/preferences", bytes.NewReader(payload))
	if err != nil {
		return domain.Preference{}, fmt.Errorf("build preference request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.OrderID != "" {
		httpReq.Header.Set("X-Idempotency-Key", "preference-"+req.OrderID)
	}

	var out mpPreferenceResponse
	if err := c.do("mercadopago.create_preference", httpReq, &out); err != nil {
		return domain.Preference{}, err
	}

	c.logger.WithFields(log.Fields{
		"order_id":      req.OrderID,
		"preference_id": out.ID,
		"total_minor":   req.TotalMinor(),
	}).Info("payment preference created")

	return domain.Preference{
		ID:               out.ID,
		InitPoint:        out.InitPoint,
		SandboxInitPoint: out.SandboxInitPoint,
	}, nil
}

// GetPayment запрашивает платёж; идентификатор MercadoPago всегда числовой.
func (c *MercadoPagoClient) GetPayment(ctx context.Context, paymentID string) (domain.ProviderPayment, error) {
	if !IsNumericPaymentID(paymentID) {
		return domain.ProviderPayment{}, domain.ErrInvalidPaymentID
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/payments/"+paymentID, nil)
	if err != nil {
		return domain.ProviderPayment{}, fmt.Errorf("build payment request: %w", err)
	}

	var out mpPaymentResponse
	if err := c.do("mercadopago.get_payment", httpReq, &out); err != nil {
		return domain.ProviderPayment{}, err
	}

	p := domain.ProviderPayment{
		ID:                out.ID.String(),
		Status:            domain.ProviderPaymentStatus(out.Status),
		StatusDetail:      out.StatusDetail,
		ExternalReference: out.ExternalReference,
		AmountMinor:       int64(math.Round(out.TransactionAmount * 100)),
		Currency:          out.CurrencyID,
		PayerEmail:        out.Payer.Email,
		Metadata:          out.Metadata,
	}
	if out.DateCreated != nil {
		p.CreatedAt = out.DateCreated.UTC()
	}
	if out.DateApproved != nil {
		p.ApprovedAt = out.DateApproved.UTC()
	}
	return p, nil
}

func (c *MercadoPagoClient) do(spanName string, req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(spanName, req)
	if err != nil {
		return fmt.Errorf("mercadopago request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return classifyHTTPError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrPaymentProvider, err)
	}
	return nil
}

func classifyHTTPError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body mpErrorResponse
	_ = json.Unmarshal(raw, &body)
	msg := body.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrPaymentNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d: %s", domain.ErrPaymentTemporary, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", domain.ErrPaymentProvider, resp.StatusCode, msg)
	}
}

// IsNumericPaymentID проверяет формат идентификатора платежа MercadoPago.
func IsNumericPaymentID(id string) bool {
	if id == "" {
		return false
	}
	_, err := strconv.ParseUint(id, 10, 64)
	return err == nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

var _ domain.PaymentGateway = (*MercadoPagoClient)(nil)
