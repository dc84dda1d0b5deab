package domain

import "time"

// SubscriberSource: откуда пришла подписка.
type SubscriberSource string

const (
	SubscriberSourceAuthenticated SubscriberSource = "authenticated"
	SubscriberSourceGuest         SubscriberSource = "guest"
)

// SubscriberPreferences: типы рассылок, на которые согласен подписчик.
type SubscriberPreferences struct {
	ProductUpdates bool
	Promotions     bool
	Newsletter     bool
}

// DefaultSubscriberPreferences включает все рассылки.
func DefaultSubscriberPreferences() SubscriberPreferences {
	return SubscriberPreferences{ProductUpdates: true, Promotions: true, Newsletter: true}
}

// Subscriber: подписчик рассылки.
type Subscriber struct {
	Email          string
	UserID         string
	Interests      []string
	Source         SubscriberSource
	Active         bool
	Preferences    SubscriberPreferences
	SubscribedAt   time.Time
	UnsubscribedAt time.Time
	UpdatedAt      time.Time
}
