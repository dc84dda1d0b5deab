package domain

import (
	"errors"
	"math"
	"time"
)

// Направления изменения цены.
const (
	PriceChangeIncrease  = "increase"
	PriceChangeDecrease  = "decrease"
	PriceChangeUnchanged = "unchanged"
)

// EventPriceAlertTriggered: outbox-событие сработавшей ценовой подписки.
const EventPriceAlertTriggered = "PriceAlertTriggered"

// AggregatePriceAlert: тип агрегата outbox для ценовых подписок.
const AggregatePriceAlert = "price_alert"

var (
	ErrPriceAlertNotFound = errors.New("price alert not found")
	ErrPriceAlertExists   = errors.New("price alert already exists for this product")
	ErrTargetPriceInvalid = NewValidationError("target price must be greater than zero")
)

// PriceChange: запись истории цены товара.
type PriceChange struct {
	ID            string
	ProductID     string
	OldPriceMinor int64
	NewPriceMinor int64
	ChangedBy     string
	Reason        string
	ChangedAt     time.Time
}

// Direction: рост, снижение или без изменений.
func (c PriceChange) Direction() string {
	switch {
	case c.NewPriceMinor > c.OldPriceMinor:
		return PriceChangeIncrease
	case c.NewPriceMinor < c.OldPriceMinor:
		return PriceChangeDecrease
	default:
		return PriceChangeUnchanged
	}
}

// PercentChange: изменение в процентах с точностью до сотых; 0 для товара без старой цены.
func (c PriceChange) PercentChange() float64 {
	if c.OldPriceMinor == 0 {
		return 0
	}
	pct := float64(c.NewPriceMinor-c.OldPriceMinor) / float64(c.OldPriceMinor) * 100
	return math.Round(pct*100) / 100
}

// LowestPrice возвращает минимальную новую цену истории.
func LowestPrice(history []PriceChange) (int64, bool) {
	if len(history) == 0 {
		return 0, false
	}
	lowest := history[0].NewPriceMinor
	for _, c := range history[1:] {
		lowest = min(lowest, c.NewPriceMinor)
	}
	return lowest, true
}

// PriceAlert: подписка покупателя на снижение цены до TargetPriceMinor.
// Срабатывает один раз, после чего Notified=true.
type PriceAlert struct {
	ID                  string
	UserID              string
	ProductID           string
	Phone               string
	TargetPriceMinor    int64
	Active              bool
	Notified            bool
	TriggeredPriceMinor int64
	CreatedAt           time.Time
	NotifiedAt          time.Time
	DeletedAt           time.Time
}

// ShouldTrigger: подписка активна, ещё не сработала и цена достигла цели.
func (a PriceAlert) ShouldTrigger(priceMinor int64) bool {
	return a.Active && !a.Notified && priceMinor <= a.TargetPriceMinor
}

// PriceAlertPayload: тело outbox-события сработавшей подписки.
type PriceAlertPayload struct {
	AlertID     string `json:"alert_id"`
	UserID      string `json:"user_id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	TargetMinor int64  `json:"target_minor"`
	PriceMinor  int64  `json:"price_minor"`
	Timestamp   string `json:"ts"`
}
