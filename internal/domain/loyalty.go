package domain

import "time"

// PointsLifetime: баллы сгорают через 60 дней после последнего начисления.
const PointsLifetime = 60 * 24 * time.Hour

// LoyaltyLevel: уровень программы лояльности и его скидка.
type LoyaltyLevel struct {
	Name            string
	MinPoints       int64
	DiscountPercent int64
}

var (
	LevelNone   = LoyaltyLevel{Name: "", MinPoints: 0, DiscountPercent: 0}
	LevelBronze = LoyaltyLevel{Name: "Bronce", MinPoints: 25, DiscountPercent: 5}
	LevelSilver = LoyaltyLevel{Name: "Plata", MinPoints: 50, DiscountPercent: 10}
	LevelGold   = LoyaltyLevel{Name: "Oro", MinPoints: 100, DiscountPercent: 15}
)

// Levels перечислены по убыванию порога.
var Levels = []LoyaltyLevel{LevelGold, LevelSilver, LevelBronze}

// LevelFor возвращает уровень для количества баллов.
func LevelFor(points int64) LoyaltyLevel {
	for _, lvl := range Levels {
		if points >= lvl.MinPoints {
			return lvl
		}
	}
	return LevelNone
}

// PointsEntry: запись истории начислений.
type PointsEntry struct {
	Date    time.Time
	Points  int64
	Reason  string
	OrderID string
}

// LoyaltyAccount: бонусный счёт покупателя.
type LoyaltyAccount struct {
	UserID    string
	Points    int64
	Level     string
	History   []PointsEntry
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActivePoints возвращает баллы с учётом срока действия.
func (a LoyaltyAccount) ActivePoints(now time.Time) int64 {
	if !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt) {
		return 0
	}
	return a.Points
}

// CurrentLevel: уровень с учётом сгоревших баллов.
func (a LoyaltyAccount) CurrentLevel(now time.Time) LoyaltyLevel {
	return LevelFor(a.ActivePoints(now))
}
