package progress

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"watermarker/worker/models"
)

type memStore struct {
	mu      sync.Mutex
	merges  []models.ProgressUpdate
	cleared []string
	err     error
}

func (s *memStore) Merge(_ context.Context, _ string, update models.ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.merges = append(s.merges, update)
	return nil
}

func (s *memStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.cleared = append(s.cleared, key)
	return nil
}

func (s *memStore) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, u := range s.merges {
		if u.Progress != nil {
			out = append(out, *u.Progress)
		}
	}
	return out
}

func TestReport_AlwaysWrites(t *testing.T) {
	store := &memStore{}
	r := NewReporter(store, zaptest.NewLogger(t))

	r.Report(context.Background(), "u1", "Loading image...")
	r.Report(context.Background(), "u1", "Embedding watermark (1/4)...")

	require.Len(t, store.merges, 2)
	assert.True(t, *store.merges[0].Busy)
	assert.Equal(t, "Loading image...", *store.merges[0].Progress)
}

func TestReportThrottled_DropsRapidIntermediateUpdates(t *testing.T) {
	store := &memStore{}
	r := NewReporter(store, zaptest.NewLogger(t))

	// Freeze the clock so only the percent delta and the terminal rule apply.
	base := time.Unix(1700000000, 0)
	r.now = func() time.Time { return base }

	percents := []float64{0, 5, 12, 19, 31, 55, 100}
	for _, p := range percents {
		r.ReportThrottled(context.Background(), "u1", "Downloading original image...", p)
	}

	require.Len(t, store.merges, 4, "expected 0, 31, 55 and 100 to pass the throttle")
	last := *store.merges[len(store.merges)-1].Progress
	assert.Equal(t, "Downloading original image...", last)
}

func TestReportThrottled_TerminalPercentNeverDropped(t *testing.T) {
	store := &memStore{}
	r := NewReporter(store, zaptest.NewLogger(t))

	base := time.Unix(1700000000, 0)
	r.now = func() time.Time { return base }

	r.ReportThrottled(context.Background(), "u1", "step", 95)
	r.ReportThrottled(context.Background(), "u1", "step", 100)

	assert.Len(t, store.merges, 2)
}

func TestReportThrottled_IntervalElapsedEmits(t *testing.T) {
	store := &memStore{}
	r := NewReporter(store, zaptest.NewLogger(t))

	clock := time.Unix(1700000000, 0)
	r.now = func() time.Time { return clock }

	r.ReportThrottled(context.Background(), "u1", "step", 10)
	r.ReportThrottled(context.Background(), "u1", "step", 11)
	require.Len(t, store.merges, 1, "small delta inside the window is dropped")

	clock = clock.Add(minEmitInterval)
	r.ReportThrottled(context.Background(), "u1", "step", 12)
	assert.Len(t, store.merges, 2, "same small delta emits once the interval passed")
}

func TestReportThrottled_KeysAreIndependent(t *testing.T) {
	store := &memStore{}
	r := NewReporter(store, zaptest.NewLogger(t))

	base := time.Unix(1700000000, 0)
	r.now = func() time.Time { return base }

	r.ReportThrottled(context.Background(), "u1", "step", 10)
	r.ReportThrottled(context.Background(), "u2", "step", 11)

	assert.Len(t, store.merges, 2, "first update for each key always emits")
}

func TestFail_WritesErrorAndResetsThrottle(t *testing.T) {
	store := &memStore{}
	r := NewReporter(store, zaptest.NewLogger(t))

	base := time.Unix(1700000000, 0)
	r.now = func() time.Time { return base }

	r.ReportThrottled(context.Background(), "u1", "step", 10)
	r.Fail(context.Background(), "u1", "Marking failed", "tool exited with code 1")

	require.Len(t, store.merges, 2)
	failed := store.merges[1]
	assert.False(t, *failed.Busy)
	assert.Equal(t, "tool exited with code 1", *failed.Error)

	// The throttle window starts over after a terminal update.
	r.ReportThrottled(context.Background(), "u1", "step", 11)
	assert.Len(t, store.merges, 3)
}

func TestFinish_AttachesResults(t *testing.T) {
	store := &memStore{}
	r := NewReporter(store, zaptest.NewLogger(t))

	results := json.RawMessage(`{"detected":true}`)
	r.Finish(context.Background(), "u1", "Detection complete", results)

	require.Len(t, store.merges, 1)
	assert.False(t, *store.merges[0].Busy)
	assert.JSONEq(t, `{"detected":true}`, string(store.merges[0].Results))
}

func TestClear_DelegatesToStore(t *testing.T) {
	store := &memStore{}
	r := NewReporter(store, zaptest.NewLogger(t))

	r.Clear(context.Background(), "u1")

	assert.Equal(t, []string{"u1"}, store.cleared)
}

func TestStoreFailuresAreSwallowed(t *testing.T) {
	store := &memStore{err: errors.New("redis down")}
	r := NewReporter(store, zaptest.NewLogger(t))

	// None of these may panic or surface the error.
	r.Report(context.Background(), "u1", "step")
	r.Fail(context.Background(), "u1", "step", "boom")
	r.Finish(context.Background(), "u1", "done", nil)
	r.Clear(context.Background(), "u1")

	assert.Empty(t, store.messages())
}
