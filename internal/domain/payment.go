package domain

import "time"

// ProviderPaymentStatus — статус платежа в терминах MercadoPago.
type ProviderPaymentStatus string

const (
	PaymentStatusApproved   ProviderPaymentStatus = "approved"
	PaymentStatusPending    ProviderPaymentStatus = "pending"
	PaymentStatusInProcess  ProviderPaymentStatus = "in_process"
	PaymentStatusAuthorized ProviderPaymentStatus = "authorized"
	PaymentStatusRejected   ProviderPaymentStatus = "rejected"
	PaymentStatusCancelled  ProviderPaymentStatus = "cancelled"
	PaymentStatusRefunded   ProviderPaymentStatus = "refunded"
)

// IsFailure — платёж окончательно не прошёл.
func (s ProviderPaymentStatus) IsFailure() bool {
	return s == PaymentStatusRejected || s == PaymentStatusCancelled
}

// ProviderPayment — платёж, каким его видит провайдер.
type ProviderPayment struct {
	ID                string
	Status            ProviderPaymentStatus
	StatusDetail      string
	ExternalReference string
	AmountMinor       int64
	Currency          string
	PayerEmail        string
	ApprovedAt        time.Time
	CreatedAt         time.Time
	Metadata          map[string]any
}

// PreferenceItem — позиция платёжной preference.
type PreferenceItem struct {
	ID         string
	Title      string
	Qty        int32
	PriceMinor int64
}

// PreferenceRequest описывает запрос на создание redirect-оплаты.
type PreferenceRequest struct {
	// OrderID передаётся провайдеру как external_reference.
	OrderID    string
	CustomerID string
	PayerEmail string
	Items      []PreferenceItem
	// PointsEarned попадает в metadata и в demo init point.
	PointsEarned int64
	ExpiresAt    time.Time
}

// TotalMinor считает сумму позиций preference.
func (r PreferenceRequest) TotalMinor() int64 {
	var total int64
	for _, it := range r.Items {
		total += int64(it.Qty) * it.PriceMinor
	}
	return total
}

// Validate проверяет позиции и лимит суммы.
func (r PreferenceRequest) Validate() []error {
	var errs []error
	if r.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(r.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, it := range r.Items {
		if it.Title == "" {
			errs = append(errs, ErrItemNameRequired)
		}
		if it.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if it.PriceMinor <= 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if r.TotalMinor() > MaxProviderAmountMinor {
		errs = append(errs, ErrAmountTooLarge)
	}
	return errs
}

// Preference — ответ провайдера с адресом оплаты.
type Preference struct {
	ID               string
	InitPoint        string
	SandboxInitPoint string
	Demo             bool
}

// PaymentNotification — распакованное тело вебхука провайдера.
type PaymentNotification struct {
	ID        string
	Type      string
	Action    string
	PaymentID string
	LiveMode  bool
}

// IsPayment — уведомление относится к платежу (остальные типы подтверждаются без обработки).
func (n PaymentNotification) IsPayment() bool {
	return n.Type == "payment" && n.PaymentID != ""
}
