package domain

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ValidationError помечает ошибки входных данных: их нельзя исправить повтором запроса.
type ValidationError struct {
	msg string
}

// NewValidationError создаёт новую ошибку валидации с указанным текстом.
func NewValidationError(msg string) *ValidationError {
	return &ValidationError{msg: msg}
}

func (e *ValidationError) Error() string { return e.msg }

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = NewValidationError("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = NewValidationError("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = NewValidationError("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = NewValidationError("amount_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = NewValidationError("item qty must be greater than zero")
	// Ошибка, если цена позиции не положительная.
	ErrItemPriceInvalid = NewValidationError("item price must be greater than zero")
	// Ошибка, если у позиции нет названия.
	ErrItemNameRequired = NewValidationError("item title is required")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = NewValidationError("order amount does not match items sum")
	// Ошибка скидки больше суммы позиций или отрицательной скидки.
	ErrDiscountInvalid = NewValidationError("discount must be between zero and subtotal")
	// Ошибка превышения максимальной суммы для платёжного провайдера.
	ErrAmountTooLarge = NewValidationError("order total exceeds the provider limit")
	// Неизвестный способ оплаты.
	ErrInvalidPaymentMethod = NewValidationError("invalid payment method")
	// Телефон не соответствует формату 549XXXXXXXXXX.
	ErrInvalidPhone = NewValidationError("phone must match 549 followed by 10 digits")
	// Некорректный идентификатор платежа.
	ErrInvalidPaymentID = NewValidationError("payment id must be numeric")
	// Некорректный email.
	ErrInvalidEmail = NewValidationError("invalid email")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = NewValidationError("order_id is required")
	// Ошибка отсутствующего получателя или текста сообщения.
	ErrMessageRequired = NewValidationError("recipient and message are required")
	// Некорректные параметры купона.
	ErrCouponInvalid = NewValidationError("invalid coupon definition")
	// Некорректная строка каталога.
	ErrProductInvalid = NewValidationError("invalid product")
	// Пустой заголовок Idempotency-Key.
	ErrIdempotencyKeyRequired = NewValidationError("idempotency key is required")
	// Пустой хеш тела запроса.
	ErrIdempotencyRequestHashRequired = NewValidationError("idempotency request hash is required")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists возвращается при повторном создании заказа с тем же ID.
	ErrOrderExists = errors.New("order already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrInvalidTransition — переход между статусами заказа запрещён.
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrProductNotFound — товар отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrInventoryUnavailable — бизнес-ошибка склада (нет стока).
	ErrInventoryUnavailable = errors.New("inventory unavailable: insufficient stock")

	// ErrPaymentNotFound — провайдер не знает такой платёж.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentDeclined — платёж отклонён провайдером (бизнес-ошибка).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentTemporary — временная ошибка платёжного провайдера.
	ErrPaymentTemporary = errors.New("mercadopago temporary error")
	// ErrPaymentProvider — провайдер вернул ошибку, которую нельзя классифицировать точнее.
	ErrPaymentProvider = errors.New("mercadopago request failed")
	// ErrInvalidSignature — подпись вебхука отсутствует или не совпадает.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrNotifierNotConfigured — учётные данные мессенджера не заданы.
	ErrNotifierNotConfigured = errors.New("whatsapp credentials not configured")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrLoyaltyAccountNotFound — у пользователя ещё нет бонусного счёта.
	ErrLoyaltyAccountNotFound = errors.New("loyalty account not found")

	ErrCouponNotFound      = errors.New("coupon not found")
	ErrCouponExists        = errors.New("coupon already exists")
	ErrCouponInactive      = errors.New("coupon is inactive")
	ErrCouponExpired       = errors.New("coupon expired")
	ErrCouponExhausted     = errors.New("coupon usage limit reached")
	ErrCouponAlreadyUsed   = errors.New("coupon already used by this customer")
	ErrCouponMinAmount     = errors.New("order total below coupon minimum")
	ErrCouponNotApplicable = errors.New("coupon conditions not met")
	ErrCouponConflict      = errors.New("coupon version conflict")

	ErrReferralCodeNotFound = errors.New("referral code not found")
	ErrSelfReferral         = errors.New("cannot use your own referral code")
	ErrAlreadyReferred      = errors.New("customer was already referred")
	ErrReferralNotFound     = errors.New("referral not found")

	ErrSubscriberExists   = errors.New("email already subscribed")
	ErrSubscriberNotFound = errors.New("subscriber not found")

	// ErrIdempotencyKeyNotFound — ключ идемпотентности не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован другим запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — тот же ключ пришёл с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict) || errors.Is(err, ErrCouponConflict)
}

// IsValidation сообщает, что ошибка вызвана некорректными входными данными.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrorCategory группирует ошибки для принятия решения о повторе и для ответов API.
type ErrorCategory string

const (
	ErrorCategoryPayment    ErrorCategory = "payment_service"
	ErrorCategoryNetwork    ErrorCategory = "network"
	ErrorCategoryInventory  ErrorCategory = "inventory"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryUnknown    ErrorCategory = "unknown"
)

// Retryable сообщает, имеет ли смысл повторять операцию с ошибкой этой категории.
func (c ErrorCategory) Retryable() bool {
	switch c {
	case ErrorCategoryInventory, ErrorCategoryValidation:
		return false
	default:
		return true
	}
}

// CategorizeError классифицирует ошибку. Сначала проверяются известные типы,
// затем текст ошибки (ошибки сторонних SDK приходят строками).
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	switch {
	case IsValidation(err):
		return ErrorCategoryValidation
	case errors.Is(err, ErrInventoryUnavailable), errors.Is(err, ErrProductNotFound):
		return ErrorCategoryInventory
	case errors.Is(err, ErrPaymentTemporary), errors.Is(err, ErrPaymentProvider),
		errors.Is(err, ErrPaymentDeclined), errors.Is(err, ErrPaymentNotFound):
		return ErrorCategoryPayment
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorCategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "mercadopago"):
		return ErrorCategoryPayment
	case strings.Contains(msg, "network"), strings.Contains(msg, "timeout"):
		return ErrorCategoryNetwork
	case strings.Contains(msg, "stock"):
		return ErrorCategoryInventory
	case strings.Contains(msg, "invalid"):
		return ErrorCategoryValidation
	default:
		return ErrorCategoryUnknown
	}
}
