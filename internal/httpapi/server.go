// Package httpapi обслуживает HTTP API витрины: заказы, оплата, вебхуки провайдера и админка.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/ratelimit"
	"github.com/vladislavdragonenkov/storefront/internal/service/coupon"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/service/loyalty"
	"github.com/vladislavdragonenkov/storefront/internal/service/newsletter"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/referral"
)

// OrderService: операции над заказами, которые публикует API.
type OrderService interface {
	Place(ctx context.Context, req orders.PlaceRequest) (orders.PlaceResult, error)
	Get(ctx context.Context, id string) (domain.Order, error)
	List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error)
	Confirm(ctx context.Context, id, confirmedBy string) (domain.Order, error)
	Cancel(ctx context.Context, id, reason string) (domain.Order, error)
	HandlePaymentNotification(ctx context.Context, n domain.PaymentNotification, raw []byte) (orders.WebhookResult, error)
	VerifyPayment(ctx context.Context, paymentID string) (domain.ProviderPayment, error)
}

// ProductCatalog: чтение каталога.
type ProductCatalog interface {
	Get(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
}

// Messenger отправляет WhatsApp-сообщение по запросу оператора.
type Messenger interface {
	SendManual(ctx context.Context, to, body string) (domain.MessageReceipt, error)
}

// Config: настройки HTTP-слоя.
type Config struct {
	// WebhookSecret: ключ HMAC для /webhook/secure.
	WebhookSecret string
	// AllowUnsignedWebhooks открывает POST /webhook без подписи.
	AllowUnsignedWebhooks bool
	// AdminToken: bearer-токен админки; пустой токен отключает проверку.
	AdminToken string
	// AllowedOrigins: источники, которым разрешён CORS; "*" разрешает всё.
	AllowedOrigins []string
	// HideErrorDetails скрывает текст внутренних ошибок (production).
	HideErrorDetails bool
	RequestTimeout   time.Duration
}

// Dependencies: сервисы, которые обслуживает API. Nil-сервисы отключают свои маршруты.
type Dependencies struct {
	Orders      OrderService
	Gateway     domain.PaymentGateway
	Catalog     ProductCatalog
	Pricing     *pricing.Service
	Recommender *inventory.Recommender
	Loyalty     *loyalty.Service
	Coupons     *coupon.Service
	Referrals   *referral.Service
	Newsletter  *newsletter.Service
	Messenger   Messenger
	Guard       *idempotency.Guard
	Limiter     ratelimit.Limiter
	Health      *health.Handler
	Logger      *log.Entry
}

// Server собирает маршруты API.
type Server struct {
	cfg  Config
	deps Dependencies

	logger *log.Entry
}

// NewServer создаёт HTTP API.
func NewServer(cfg Config, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "http")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Server{cfg: cfg, deps: deps, logger: logger}
}

// Routes возвращает корневой обработчик.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.corsHandler())
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	if s.deps.Health != nil {
		r.Get("/health", s.deps.Health.LegacyHandler)
		r.Method(http.MethodGet, "/healthz", s.deps.Health)
		r.Get("/readyz", s.deps.Health.ReadinessHandler)
	}
	r.Get("/livez", health.LivenessHandler)

	// Вебхуки провайдера не ограничиваются по IP: провайдер повторяет доставку сам.
	r.Post("/webhook/secure", s.handleSecureWebhook)
	if s.cfg.AllowUnsignedWebhooks {
		r.Post("/webhook", s.handleUnsignedWebhook)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit(ratelimit.GeneralRule))

		r.Get("/payment/{id}", s.handleGetPayment)
		r.Get("/verify-payment/{id}", s.handleVerifyPayment)
		r.Post("/send-whatsapp", s.handleSendWhatsApp)

		r.With(s.rateLimit(ratelimit.PaymentRule)).Post("/create_preference", s.handleCreatePreference)

		r.Route("/api", func(r chi.Router) {
			r.With(s.rateLimit(ratelimit.PaymentRule)).Post("/orders", s.handlePlaceOrder)
			r.Get("/orders/{id}", s.handleGetOrder)
			r.Get("/orders/{id}/timeline", s.handleOrderTimeline)

			r.Get("/products", s.handleListProducts)
			r.Get("/products/{id}", s.handleGetProduct)
			r.Get("/products/{id}/price-history", s.handlePriceHistory)
			r.Get("/products/{id}/recommendations", s.handleRecommendations)

			r.Post("/price-alerts", s.handleCreatePriceAlert)
			r.Delete("/price-alerts/{id}", s.handleDeletePriceAlert)
			r.Get("/users/{userID}/price-alerts", s.handleListPriceAlerts)

			r.Get("/loyalty/{userID}", s.handleLoyaltyBalance)

			r.Post("/coupons/validate", s.handleValidateCoupon)
			r.Get("/users/{userID}/coupons", s.handleAssignedCoupons)

			r.Post("/referrals/code", s.handleReferralCode)
			r.Post("/referrals", s.handleRegisterReferral)
			r.Get("/referrals/{userID}", s.handleReferralStats)

			r.Post("/newsletter/subscribe", s.handleSubscribe)
			r.Post("/newsletter/unsubscribe", s.handleUnsubscribe)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminAuth)
			r.Get("/orders", s.handleAdminListOrders)
			r.Get("/orders/{id}", s.handleGetOrder)
			r.Post("/orders/{id}/confirm", s.handleAdminConfirm)
			r.Post("/orders/{id}/cancel", s.handleAdminCancel)
			r.Get("/confirm-payment/{id}", s.handleAdminConfirm)
			r.Post("/confirm-payment/{id}", s.handleAdminConfirm)

			r.Put("/products/{id}/price", s.handleUpdatePrice)

			r.Get("/coupons", s.handleListCoupons)
			r.Post("/coupons", s.handleCreateCoupon)
			r.Post("/coupons/{code}/deactivate", s.handleDeactivateCoupon)
			r.Post("/coupons/{code}/assign", s.handleAssignCoupon)

			r.Get("/newsletter/subscribers", s.handleListSubscribers)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":  "endpoint not found",
			"path":   r.URL.Path,
			"method": r.Method,
		})
	})
	return r
}
