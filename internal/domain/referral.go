package domain

import "time"

// ReferralReward: баллы пригласившему за первую покупку приглашённого.
const ReferralReward int64 = 50

// ReferralStatus: состояние приглашения.
type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusCompleted ReferralStatus = "completed"
)

// ReferralCode закрепляет код приглашения за пользователем.
type ReferralCode struct {
	Code      string
	UserID    string
	CreatedAt time.Time
}

// Referral связывает пригласившего и приглашённого.
type Referral struct {
	ID            string
	Code          string
	ReferrerID    string
	ReferredID    string
	ReferredEmail string
	Status        ReferralStatus
	Reward        int64
	CreatedAt     time.Time
	CompletedAt   time.Time
}

// ReferralStats: сводка для пригласившего.
type ReferralStats struct {
	Total     int
	Pending   int
	Completed int
	Earnings  int64
}

// StatsFor агрегирует приглашения пользователя.
func StatsFor(referrals []Referral) ReferralStats {
	var s ReferralStats
	for _, r := range referrals {
		s.Total++
		switch r.Status {
		case ReferralStatusPending:
			s.Pending++
		case ReferralStatusCompleted:
			s.Completed++
			s.Earnings += r.Reward
		}
	}
	return s
}
