package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DemoGateway имитирует провайдера, когда токен MercadoPago не задан.
// Покупатель сразу попадает на страницу успеха, платёж считается одобренным.
type DemoGateway struct {
	frontendURL string
	logger      *log.Entry
	now         func() time.Time
	randN       func(int64) int64
}

// NewDemoGateway создаёт demo-шлюз.
func NewDemoGateway(frontendURL string, logger *log.Entry) *DemoGateway {
	if logger == nil {
		logger = log.New().WithField("component", "payment-demo")
	}
	return &DemoGateway{
		frontendURL: frontendURL,
		logger:      logger,
		now:         time.Now,
		randN:       rand.Int64N,
	}
}

// CreatePreference возвращает demo preference с init point на страницу успеха.
func (g *DemoGateway) CreatePreference(_ context.Context, req domain.PreferenceRequest) (domain.Preference, error) {
	if errs := req.Validate(); len(errs) > 0 {
		return domain.Preference{}, errors.Join(errs...)
	}

	id := fmt.Sprintf("demo_%d_%09d", g.now().UnixMilli(), g.randN(1_000_000_000))
	q := url.Values{}
	q.Set("payment_id", id)
	q.Set("status", string(domain.PaymentStatusApproved))
	q.Set("points", strconv.FormatInt(req.PointsEarned, 10))
	q.Set("level", domain.LevelBronze.Name)
	initPoint := g.frontendURL + "/success?" + q.Encode()

	g.logger.WithFields(log.Fields{
		"order_id":      req.OrderID,
		"preference_id": id,
	}).Warn("demo payment preference issued")

	return domain.Preference{ID: id, InitPoint: initPoint, Demo: true}, nil
}

// GetPayment всегда отвечает одобренным платежом.
func (g *DemoGateway) GetPayment(_ context.Context, paymentID string) (domain.ProviderPayment, error) {
	if paymentID == "" {
		return domain.ProviderPayment{}, domain.ErrInvalidPaymentID
	}
	now := g.now().UTC()
	return domain.ProviderPayment{
		ID:           paymentID,
		Status:       domain.PaymentStatusApproved,
		StatusDetail: "accredited",
		Currency:     domain.CurrencyARS,
		CreatedAt:    now,
		ApprovedAt:   now,
		Metadata:     map[string]any{"demo": true},
	}, nil
}

var _ domain.PaymentGateway = (*DemoGateway)(nil)
