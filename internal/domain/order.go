package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// CurrencyARS — единственная валюта витрины.
const CurrencyARS = "ARS"

// MaxProviderAmountMinor — максимальная сумма заказа, которую принимает провайдер (999999 ARS).
const MaxProviderAmountMinor int64 = 999_999_00

// OrderStatus описывает жизненный цикл заказа витрины.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан и ждёт ручного подтверждения оплаты (наличные, перевод).
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — покупатель перенаправлен к платёжному провайдеру.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusConfirmed — оплату подтвердил оператор.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusCompleted — оплату подтвердил провайдер через вебхук.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCanceled — заказ отменён (истёк срок оплаты или платёж отклонён).
	OrderStatusCanceled OrderStatus = "canceled"
)

// ParseOrderStatus разбирает статус из строки запроса.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusConfirmed, OrderStatusCompleted, OrderStatusCanceled:
		return st, true
	}
	return "", false
}

// IsSettled сообщает, что оплата заказа подтверждена (оператором или провайдером).
func (s OrderStatus) IsSettled() bool {
	return s == OrderStatusConfirmed || s == OrderStatusCompleted
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCanceled
}

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusConfirmed, OrderStatusCompleted, OrderStatusCanceled},
	OrderStatusProcessing: {OrderStatusConfirmed, OrderStatusCompleted, OrderStatusCanceled},
	OrderStatusConfirmed:  {OrderStatusCompleted},
}

// CanTransition проверяет допустимость перехода; переход в тот же статус разрешён.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentMethod — способ оплаты, выбранный покупателем.
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodPaymentLink  PaymentMethod = "payment_link"
)

var paymentMethodAliases = map[string]PaymentMethod{
	"cash":          PaymentMethodCash,
	"efectivo":      PaymentMethodCash,
	"card":          PaymentMethodCard,
	"tarjeta":       PaymentMethodCard,
	"bank_transfer": PaymentMethodBankTransfer,
	"transfer":      PaymentMethodBankTransfer,
	"transferencia": PaymentMethodBankTransfer,
	"payment_link":  PaymentMethodPaymentLink,
	"link":          PaymentMethodPaymentLink,
}

// ParsePaymentMethod принимает как канонические имена, так и названия с витрины.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m, ok := paymentMethodAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, s)
	}
	return m, nil
}

// IsRedirect — оплата проходит на стороне провайдера (нужна платёжная preference).
func (m PaymentMethod) IsRedirect() bool {
	return m == PaymentMethodCard || m == PaymentMethodPaymentLink
}

// IsManual — оплату подтверждает оператор.
func (m PaymentMethod) IsManual() bool {
	return m == PaymentMethodCash || m == PaymentMethodBankTransfer
}

// InitialStatus возвращает статус нового заказа для способа оплаты.
func InitialStatus(m PaymentMethod) OrderStatus {
	if m.IsRedirect() {
		return OrderStatusProcessing
	}
	return OrderStatusPending
}

// PaymentIDFor формирует внутренний идентификатор платежа для redirect-способов.
func PaymentIDFor(orderID string, m PaymentMethod) string {
	if !m.IsRedirect() {
		return ""
	}
	return "payment_" + orderID
}

var argentinePhone = regexp.MustCompile(`^549[0-9]{10}$`)

// ValidateArgentinePhone проверяет номер в формате 549 + 10 цифр.
func ValidateArgentinePhone(phone string) error {
	if !argentinePhone.MatchString(phone) {
		return ErrInvalidPhone
	}
	return nil
}

// PointsForAmount начисляет один балл за каждые полные 1000 ARS.
func PointsForAmount(amountMinor int64) int64 {
	if amountMinor <= 0 {
		return 0
	}
	return amountMinor / (1000 * 100)
}

// FormatMoney форматирует сумму в минимальных единицах для сообщений.
func FormatMoney(amountMinor int64) string {
	sign := ""
	if amountMinor < 0 {
		sign = "-"
		amountMinor = -amountMinor
	}
	return fmt.Sprintf("%s$%d.%02d", sign, amountMinor/100, amountMinor%100)
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID string
	// ProductID — идентификатор товара в каталоге.
	ProductID string
	Name      string
	Qty       int32
	// PriceMinor — цена за единицу в сентаво.
	PriceMinor int64
	CreatedAt  time.Time
}

// Customer — контактные данные покупателя на момент заказа.
type Customer struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// PaymentDetails фиксирует подтверждённый провайдером платёж.
type PaymentDetails struct {
	PaymentID   string
	Status      ProviderPaymentStatus
	AmountMinor int64
	ApprovedAt  time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID            string
	Customer      Customer
	Status        OrderStatus
	PaymentMethod PaymentMethod
	// PaymentID — payment_<orderID> для redirect-оплаты, затем ID платежа провайдера.
	PaymentID     string
	PreferenceID  string
	Currency      string
	SubtotalMinor int64
	DiscountMinor int64
	AmountMinor   int64
	CouponCode    string
	PointsEarned  int64
	Items         []OrderItem
	Payment       *PaymentDetails
	ConfirmedAt   time.Time
	ConfirmedBy   string
	CompletedAt   time.Time
	CanceledAt    time.Time
	CancelReason  string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ItemsTotal считает сумму позиций qty * price.
func (o *Order) ItemsTotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += int64(item.Qty) * item.PriceMinor
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.Customer.ID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if _, err := ParsePaymentMethod(string(o.PaymentMethod)); err != nil {
		errs = append(errs, ErrInvalidPaymentMethod)
	}
	if o.PaymentMethod == PaymentMethodBankTransfer {
		if err := ValidateArgentinePhone(o.Customer.Phone); err != nil {
			errs = append(errs, err)
		}
	}

	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor <= 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if o.ItemsTotal() != o.SubtotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}
	if o.DiscountMinor < 0 || o.DiscountMinor > o.SubtotalMinor {
		errs = append(errs, ErrDiscountInvalid)
	}
	if o.SubtotalMinor-o.DiscountMinor != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Transition переводит заказ в новый статус, проставляя временные метки.
func (o *Order) Transition(to OrderStatus, at time.Time) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = at
	switch to {
	case OrderStatusConfirmed:
		o.ConfirmedAt = at
	case OrderStatusCompleted:
		o.CompletedAt = at
	case OrderStatusCanceled:
		o.CanceledAt = at
	}
	return nil
}

// OrderFilter задаёт выборку заказов для админки и воркеров.
type OrderFilter struct {
	// Statuses — пустой список означает все статусы.
	Statuses      []OrderStatus
	CustomerID    string
	CreatedBefore time.Time
	Limit         int
}

// Matches проверяет заказ на соответствие фильтру (для in-memory хранилищ).
func (f OrderFilter) Matches(o Order) bool {
	if f.CustomerID != "" && o.Customer.ID != f.CustomerID {
		return false
	}
	if !f.CreatedBefore.IsZero() && !o.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if o.Status == st {
			return true
		}
	}
	return false
}
