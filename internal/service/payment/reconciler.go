package payment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liderhq/payhub/internal/apperrors"
	"github.com/liderhq/payhub/internal/logger"
	"github.com/liderhq/payhub/internal/models"
	"github.com/liderhq/payhub/internal/service/processor"
)

const (
	defaultCountWorkers    = 10
	defaultProduceInterval = 10 * time.Second
	defaultBatchSize       = 100

	// Entries younger than this are left to the request path
	defaultMinAge = time.Minute
)

// Reconciler is the background repair loop. It confirms stale unresolved
// entries against the processor and applies the balance effect of succeeded
// entries the request path did not finish.
type Reconciler struct {
	engine *Engine

	countWorkers int
	interval     time.Duration
	batchSize    int
	minAge       time.Duration

	// Processors may rate-limit. When they do, every worker waits until the
	// shared deadline passes.
	waitUntil atomic.Int64

	logger logger.Logger
}

func NewReconciler(engine *Engine, log logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewNoop()
	}

	return &Reconciler{
		engine:       engine,
		countWorkers: defaultCountWorkers,
		interval:     defaultProduceInterval,
		batchSize:    defaultBatchSize,
		minAge:       defaultMinAge,
		logger:       log.WithGroup("reconciler"),
	}
}

// Run starts the producer and the worker pool. The returned channel closes
// when both have stopped after ctx cancellation.
func (r *Reconciler) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	entryChan := make(chan models.Transaction)
	producerStopped := r.produce(ctx, entryChan)
	workersStopped := r.consume(ctx, entryChan)

	go func() {
		defer close(idleStopped)
		defer close(entryChan)
		<-producerStopped
		<-workersStopped
		r.logger.Debug("Reconciler stopped")
	}()

	return idleStopped
}

func (r *Reconciler) produce(ctx context.Context, out chan<- models.Transaction) <-chan struct{} {
	idleStopped := make(chan struct{})
	r.logger.Debug("Starting producer", "interval", r.interval, "batch_size", r.batchSize)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Debug("Producer stopped by context")
				return

			case <-ticker.C:
				before := time.Now().Add(-r.minAge)

				pending, err := r.engine.storage.Transaction().ListPendingConfirmation(ctx, before, r.batchSize)
				if err != nil {
					r.logger.Error("Failed to list pending entries", "error", err)
					continue
				}

				unapplied, err := r.engine.storage.Transaction().ListUnapplied(ctx, before, r.batchSize)
				if err != nil {
					r.logger.Error("Failed to list unapplied entries", "error", err)
					continue
				}

				for _, entry := range append(pending, unapplied...) {
					select {
					case <-ctx.Done():
						r.logger.Debug("Producer stopped by context while sending entries")
						return
					case out <- entry:
					}
				}
			}
		}
	}()

	return idleStopped
}

func (r *Reconciler) consume(ctx context.Context, in <-chan models.Transaction) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < r.countWorkers; i++ {
		wg.Add(1)
		go func() {
			r.worker(ctx, in)
			wg.Done()
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		r.logger.Debug("Workers stopped")
	}()

	return idleStopped
}

func (r *Reconciler) worker(ctx context.Context, in <-chan models.Transaction) {
	for {
		// Wait until the rate limit has passed or the context is done
		waitUntil := time.Unix(r.waitUntil.Load(), 0)
		if waitUntil.After(time.Now()) {
			r.logger.Debug("Worker waiting for rate limit to reset", "wait_until", waitUntil)

			select {
			case <-ctx.Done():
				continue
			case <-time.After(time.Until(waitUntil)):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return

		case entry, ok := <-in:
			if !ok {
				r.logger.Debug("Worker stopped, input channel closed")
				return
			}

			r.reconcile(ctx, entry)
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context, entry models.Transaction) {
	// Succeeded entries only owe their balance effect
	if entry.Status == models.TxStatusSucceeded {
		if err := r.engine.applyResolved(ctx, entry); err != nil {
			r.logger.Error("Failed to apply balance effect", "transaction_id", entry.ID, "error", err)
			return
		}

		r.engine.metrics.ReconcilerRepair()
		r.logger.Info("Applied deferred balance effect", "transaction_id", entry.ID)
		return
	}

	updated, err := r.engine.confirmEntry(ctx, entry)

	var perr *processor.Error
	switch {
	case err == nil:
		if updated.Status != entry.Status {
			r.logger.Info("Entry reconciled",
				"transaction_id", entry.ID, "status", updated.Status)
		}

	case errors.Is(err, apperrors.ErrPaymentFailed):
		r.logger.Info("Entry failed at processor", "transaction_id", entry.ID)

	case errors.As(err, &perr) && perr.Code == processor.CodeRetryAfter:
		r.logger.Info("Rate limit exceeded, waiting", "retry_after", perr.RetryAfter)
		r.waitUntil.Store(time.Now().Add(perr.RetryAfter).Unix())

	case errors.Is(err, apperrors.ErrProcessorUnavailable):
		r.logger.Warn("Processor unavailable, entry left as is",
			"transaction_id", entry.ID, "error", err)

	default:
		r.logger.Error("Failed to reconcile entry", "transaction_id", entry.ID, "error", err)
	}
}
