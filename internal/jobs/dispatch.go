package jobs

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/leadpilot-hq/leadpilot-backend/internal/config"
	"github.com/leadpilot-hq/leadpilot-backend/internal/services"
	"github.com/leadpilot-hq/leadpilot-backend/internal/storage"
)

// DispatchWorker polls for dispatchable messages and fans them out over a
// bounded worker pool. One fetch loop means each message is handed to exactly
// one worker; the pool bounds how many provider calls run at once.
type DispatchWorker struct {
	store        storage.Store
	orchestrator *services.Orchestrator
	interval     time.Duration
	batchSize    int
	workers      int

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewDispatchWorker creates a dispatch worker
func NewDispatchWorker(store storage.Store, orchestrator *services.Orchestrator, cfg *config.Config) *DispatchWorker {
	return &DispatchWorker{
		store:        store,
		orchestrator: orchestrator,
		interval:     cfg.DispatchInterval,
		batchSize:    cfg.DispatchBatchSize,
		workers:      cfg.DispatchWorkers,
	}
}

// Start begins the polling loop. Calling Start on a running worker is a no-op.
func (w *DispatchWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.mu.Unlock()

	log.WithFields(log.Fields{
		"interval":   w.interval,
		"batch_size": w.batchSize,
		"workers":    w.workers,
	}).Info("dispatch worker started")

	go w.run(ctx)
}

// Stop halts the loop and waits for in-flight dispatches to finish.
func (w *DispatchWorker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
	log.Info("dispatch worker stopped")
}

func (w *DispatchWorker) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.dispatchBatch(ctx)
		}
	}
}

// dispatchBatch fetches due messages once and drains them through the pool.
// The batch completes before the next tick is handled, so a slow provider
// cannot stack overlapping batches.
func (w *DispatchWorker) dispatchBatch(ctx context.Context) {
	msgs, err := w.store.GetDispatchableMessages(time.Now().UTC(), w.batchSize)
	if err != nil {
		log.WithError(err).Error("failed to fetch dispatchable messages")
		return
	}
	if len(msgs) == 0 {
		return
	}

	log.WithField("count", len(msgs)).Debug("dispatching batch")

	queue := make(chan int, len(msgs))
	for i := range msgs {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range queue {
				if ctx.Err() != nil {
					return
				}
				msg := msgs[idx]
				if err := w.orchestrator.Dispatch(ctx, msg); err != nil {
					log.WithError(err).WithField("message_id", msg.MessageID).Error("dispatch failed")
				}
			}
		}()
	}
	wg.Wait()
}
