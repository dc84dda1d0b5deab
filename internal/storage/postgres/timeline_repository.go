package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	insertTimelineSQL = `INSERT INTO timeline_events (order_id, type, reason, actor, occurred) VALUES ($1, $2, $3, $4, $5)`
	selectTimelineSQL = `SELECT order_id, type, reason, actor, occurred FROM timeline_events WHERE order_id = $1 ORDER BY occurred, id`
)

// TimelineRepository: журнал событий заказа в таблице timeline_events.
// Записи только добавляются; id задаёт порядок событий с одинаковым occurred.
type TimelineRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewTimelineRepository(store *Store) *TimelineRepository {
	return &TimelineRepository{db: store.DB(), now: time.Now}
}

// Append дописывает событие. Пустой actor становится system, нулевое время, текущим.
func (r *TimelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		return domain.ErrOrderIDRequired
	}
	actor := event.Actor
	if actor == "" {
		actor = domain.ActorSystem
	}
	occurred := event.Occurred
	if occurred.IsZero() {
		occurred = r.now()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, insertTimelineSQL, orderID, event.Type, event.Reason, actor, occurred.UTC()); err != nil {
		return fmt.Errorf("append %s to timeline of order %s: %w", event.Type, orderID, err)
	}
	return nil
}

func (r *TimelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, selectTimelineSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("query timeline of order %s: %w", orderID, err)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0, 8)
	for rows.Next() {
		var (
			event    domain.TimelineEvent
			occurred time.Time
		)
		if err := rows.Scan(&event.OrderID, &event.Type, &event.Reason, &event.Actor, &occurred); err != nil {
			return nil, fmt.Errorf("scan timeline row: %w", err)
		}
		event.Occurred = occurred.UTC()
		events = append(events, event)
	}
	return events, rows.Err()
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
