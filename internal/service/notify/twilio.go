package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
)

// DefaultTwilioURL: базовый адрес REST API Twilio.
const DefaultTwilioURL = "https://api.twilio.com/2010-04-01"

// TwilioConfig: учётные данные WhatsApp-отправителя.
type TwilioConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	// FromNumber: номер отправителя без префикса whatsapp:.
	FromNumber string
	Timeout    time.Duration
}

// Configured сообщает, заданы ли все учётные данные.
func (c TwilioConfig) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != ""
}

// TwilioClient отправляет WhatsApp-сообщения через Twilio.
type TwilioClient struct {
	cfg    TwilioConfig
	http   *tracing.HTTPClient
	logger *log.Entry
}

// NewTwilioClient создаёт клиент. Без учётных данных каждая отправка
// возвращает ErrNotifierNotConfigured.
func NewTwilioClient(cfg TwilioConfig, httpClient *tracing.HTTPClient, logger *log.Entry) *TwilioClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwilioURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = tracing.NewHTTPClient(nil, cfg.Timeout)
	}
	if logger == nil {
		logger = log.New().WithField("component", "twilio")
	}
	return &TwilioClient{cfg: cfg, http: httpClient, logger: logger}
}

type twilioMessage struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// SendWhatsApp отправляет сообщение; номер передаётся без префикса whatsapp:.
func (c *TwilioClient) SendWhatsApp(ctx context.Context, to, body string) (domain.MessageReceipt, error) {
	if strings.TrimSpace(to) == "" || strings.TrimSpace(body) == "" {
		return domain.MessageReceipt{}, domain.ErrMessageRequired
	}
	if !c.cfg.Configured() {
		c.logger.WithField("to", maskPhone(to)).Warn("twilio credentials not configured, skipping whatsapp message")
		return domain.MessageReceipt{}, domain.ErrNotifierNotConfigured
	}

	form := url.Values{}
	form.Set("To", "whatsapp:"+to)
	form.Set("From", "whatsapp:"+c.cfg.FromNumber)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.cfg.BaseURL, url.PathEscape(c.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.MessageReceipt{}, fmt.Errorf("build twilio request: %w", err)
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do("twilio.send_message", req)
	if err != nil {
		return domain.MessageReceipt{}, fmt.Errorf("twilio request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var msg twilioMessage
	_ = json.Unmarshal(raw, &msg)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return domain.MessageReceipt{}, fmt.Errorf("twilio temporary error: status %d: %s", resp.StatusCode, msg.Message)
	case resp.StatusCode >= http.StatusBadRequest:
		return domain.MessageReceipt{}, domain.NewValidationError(fmt.Sprintf("twilio rejected message: status %d code %d: %s", resp.StatusCode, msg.Code, msg.Message))
	}

	c.logger.WithFields(log.Fields{
		"to":     maskPhone(to),
		"sid":    msg.SID,
		"status": msg.Status,
	}).Info("whatsapp message sent")
	return domain.MessageReceipt{SID: msg.SID, Status: msg.Status}, nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

var _ domain.Notifier = (*TwilioClient)(nil)
