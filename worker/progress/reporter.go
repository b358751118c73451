package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"watermarker/worker/models"
)

const (
	// Throttle thresholds for ReportThrottled. An update goes out when the
	// interval has passed, the percent moved far enough, or the transfer is
	// finished. The final 100% update is never dropped.
	minEmitInterval = 2000 * time.Millisecond
	minPercentDelta = 20.0
	terminalPercent = 100.0
)

// Store is the backing document store for progress records.
type Store interface {
	Merge(ctx context.Context, key string, update models.ProgressUpdate) error
	Clear(ctx context.Context, key string) error
}

// Reporter updates a user's progress record. Write failures are logged and
// swallowed; losing a progress update must never fail the owning task.
type Reporter struct {
	store  Store
	logger *zap.Logger

	mu   sync.Mutex
	last map[string]emitState

	now func() time.Time
}

type emitState struct {
	at      time.Time
	percent float64
}

func NewReporter(store Store, logger *zap.Logger) *Reporter {
	return &Reporter{
		store:  store,
		logger: logger,
		last:   make(map[string]emitState),
		now:    time.Now,
	}
}

// Report writes a progress message unconditionally and marks the record busy.
func (r *Reporter) Report(ctx context.Context, key, text string) {
	busy := true
	r.merge(ctx, key, models.ProgressUpdate{Progress: &text, Busy: &busy})
}

// ReportThrottled writes a progress message for a percent-based step,
// skipping updates that arrive too close together.
func (r *Reporter) ReportThrottled(ctx context.Context, key, text string, percent float64) {
	if !r.shouldEmit(key, percent) {
		return
	}

	busy := true
	r.merge(ctx, key, models.ProgressUpdate{Progress: &text, Busy: &busy})
}

// Fail records a terminal error on the progress record.
func (r *Reporter) Fail(ctx context.Context, key, text, errMsg string) {
	busy := false
	r.merge(ctx, key, models.ProgressUpdate{Progress: &text, Busy: &busy, Error: &errMsg})
	r.reset(key)
}

// Finish records completion, optionally attaching the final results payload.
func (r *Reporter) Finish(ctx context.Context, key, text string, results json.RawMessage) {
	busy := false
	r.merge(ctx, key, models.ProgressUpdate{Progress: &text, Busy: &busy, Results: results})
	r.reset(key)
}

// Clear drops the progress record entirely.
func (r *Reporter) Clear(ctx context.Context, key string) {
	if err := r.store.Clear(ctx, key); err != nil {
		r.logger.Warn("Failed to clear progress record",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	r.reset(key)
}

func (r *Reporter) merge(ctx context.Context, key string, update models.ProgressUpdate) {
	if err := r.store.Merge(ctx, key, update); err != nil {
		r.logger.Warn("Failed to write progress record",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func (r *Reporter) shouldEmit(key string, percent float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	state, seen := r.last[key]
	if !seen ||
		percent >= terminalPercent ||
		now.Sub(state.at) >= minEmitInterval ||
		percent-state.percent >= minPercentDelta {
		r.last[key] = emitState{at: now, percent: percent}
		return true
	}
	return false
}

func (r *Reporter) reset(key string) {
	r.mu.Lock()
	delete(r.last, key)
	r.mu.Unlock()
}
