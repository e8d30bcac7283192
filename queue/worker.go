package queue

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultScanInterval is how often the worker polls for due deliveries.
const DefaultScanInterval = 5 * time.Second

// DefaultConcurrency bounds how many deliveries scanOnce attempts at once
// when the caller doesn't configure one.
const DefaultConcurrency = 4

// Deliverer sends one delivery through whatever channel adapter owns
// d.Channel. Implemented by the channel bus.
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
}

// Worker repeatedly scans the queue for due deliveries and attempts them.
// Due deliveries for different channels are independent, so a scan attempts
// up to concurrency of them at once instead of serializing behind whichever
// channel adapter is slowest.
type Worker struct {
	queue        *Queue
	deliverer    Deliverer
	scanInterval time.Duration
	concurrency  int
	logger       *zap.Logger
}

// NewWorker creates a Worker. A zero scanInterval uses DefaultScanInterval; a
// non-positive concurrency uses DefaultConcurrency.
func NewWorker(q *Queue, deliverer Deliverer, scanInterval time.Duration, concurrency int, logger *zap.Logger) *Worker {
	if scanInterval <= 0 {
		scanInterval = DefaultScanInterval
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: q, deliverer: deliverer, scanInterval: scanInterval, concurrency: concurrency, logger: logger.With(zap.String("component", "queue_worker"))}
}

// Run blocks, scanning for due deliveries every scanInterval until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scanOnce(ctx)
		}
	}
}

func (w *Worker) scanOnce(ctx context.Context) {
	due := w.queue.Due(time.Now())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, d := range due {
		d := d
		g.Go(func() error {
			w.attempt(gctx, d)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *Worker) attempt(ctx context.Context, d Delivery) {
	if d.RetryCount >= d.MaxRetries {
		w.logger.Warn("delivery exhausted retries, dead-lettering without attempt", zap.String("id", d.ID), zap.String("channel", d.Channel), zap.Int("retry_count", d.RetryCount))
		if err := w.queue.DeadLetter(d.ID); err != nil {
			w.logger.Error("failed to dead-letter exhausted delivery", zap.String("id", d.ID), zap.Error(err))
		}
		return
	}

	err := w.deliverer.Deliver(ctx, d)
	if err == nil {
		if err := w.queue.MarkDelivered(d.ID); err != nil {
			w.logger.Warn("failed to mark delivery complete", zap.String("id", d.ID), zap.Error(err))
		}
		return
	}

	w.logger.Warn("delivery attempt failed", zap.String("id", d.ID), zap.String("channel", d.Channel), zap.Int("retry_count", d.RetryCount), zap.Error(err))
	if markErr := w.queue.MarkFailed(d.ID, err); markErr != nil {
		w.logger.Error("failed to record delivery failure", zap.String("id", d.ID), zap.Error(markErr))
	}
}
