package orders

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultExpiryInterval  = 15 * time.Minute
	defaultExpiryBatchSize = 100
)

// ExpiryCanceler: то, что нужно воркеру от сервиса заказов.
type ExpiryCanceler interface {
	CancelExpired(ctx context.Context, batch int) (int, error)
}

// ExpiryWorker периодически отменяет заказы, не оплаченные за срок действия preference.
type ExpiryWorker struct {
	orders    ExpiryCanceler
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewExpiryWorker создаёт воркер; нулевые interval и batchSize заменяются значениями по умолчанию.
func NewExpiryWorker(orders ExpiryCanceler, interval time.Duration, batchSize int, logger *log.Entry) *ExpiryWorker {
	if logger == nil {
		logger = log.New().WithField("component", "order-expiry-worker")
	}
	if interval <= 0 {
		interval = defaultExpiryInterval
	}
	if batchSize <= 0 {
		batchSize = defaultExpiryBatchSize
	}
	return &ExpiryWorker{
		orders:    orders,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run запускает периодическую отмену до отмены ctx.
func (w *ExpiryWorker) Run(ctx context.Context) {
	if w.orders == nil {
		w.logger.Warn("order expiry worker is disabled: service is nil")
		return
	}

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход. Ошибка логируется, а проход считается отменившим 0 заказов.
func (w *ExpiryWorker) RunOnce(ctx context.Context) int {
	canceled, err := w.orders.CancelExpired(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.WithError(err).Warn("order expiry run failed")
		}
		return 0
	}
	if canceled > 0 {
		w.logger.WithField("canceled", canceled).Info("expired orders canceled")
	}
	return canceled
}
