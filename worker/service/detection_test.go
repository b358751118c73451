package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"watermarker/worker/models"
	"watermarker/worker/runner"
)

func detectTask(t *testing.T, id string, p models.DetectPayload) models.Task {
	t.Helper()

	payload, err := json.Marshal(p)
	require.NoError(t, err)
	return models.Task{ID: id, Type: models.TypeDetect, Status: models.StatusProcessing, Payload: payload}
}

func seedDetectStore() *fakeStore {
	store := newFakeStore()
	store.objects["original-images/u1/o1/cat.png"] = []byte("original bytes")
	store.objects["marked-images/u1/tok/cat.png.png"] = []byte("marked bytes")
	return store
}

func TestDetectionHandler_HappyPath(t *testing.T) {
	store := seedDetectStore()
	repo := newFakeRepo()
	reporter := &recordingReporter{}
	scratch := t.TempDir()

	results := `{"detected":true,"confidence":0.92,"message":"hi","sequences":[{"shift":3,"peakToRms":7.5}]}`
	binary := writeTool(t, fmt.Sprintf(`
echo "PROGRESS:Analyzing images..."
printf '%%s' '%s' > %q/"$1".json
`, results, scratch))

	h := NewDetectionHandler(store, runner.New(zaptest.NewLogger(t)), reporter, repo,
		scratch, binary, URLPolicy{}, zaptest.NewLogger(t))

	task := detectTask(t, "task-42", models.DetectPayload{
		PathOriginal:    "original-images/u1/o1/cat.png",
		PathMarked:      "marked-images/u1/tok/cat.png.png",
		UserID:          "u1",
		ItemID:          "item-1",
		OriginalImageID: "o1",
		MarkedImageID:   "m1",
	})
	require.NoError(t, h.Handle(context.Background(), task))

	item, ok := repo.detectionItems["item-1"]
	require.True(t, ok, "detection item persisted under the payload's item id")
	assert.True(t, item.Detected)
	assert.InDelta(t, 0.92, item.Confidence, 1e-9)
	assert.Equal(t, "hi", item.Message)
	assert.Equal(t, "u1", item.UserID)
	assert.NotEmpty(t, item.ServingURL)
	assert.Contains(t, string(item.Result), `"message":"hi"`)

	require.Len(t, reporter.finishes, 1)
	assert.JSONEq(t, results, string(reporter.results[0]))
	assert.Contains(t, reporter.reports, "Analyzing images...")

	// Scratch dir and results file are both cleaned up.
	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDetectionHandler_GeneratesItemIDWhenMissing(t *testing.T) {
	store := seedDetectStore()
	repo := newFakeRepo()
	scratch := t.TempDir()

	binary := writeTool(t, fmt.Sprintf(`printf '%%s' '{"detected":false,"confidence":0.1,"message":"no"}' > %q/"$1".json`, scratch))

	h := NewDetectionHandler(store, runner.New(zaptest.NewLogger(t)), &recordingReporter{}, repo,
		scratch, binary, URLPolicy{}, zaptest.NewLogger(t))

	task := detectTask(t, "task-43", models.DetectPayload{
		PathOriginal: "original-images/u1/o1/cat.png",
		PathMarked:   "marked-images/u1/tok/cat.png.png",
		UserID:       "u1",
	})
	require.NoError(t, h.Handle(context.Background(), task))

	require.Len(t, repo.detectionItems, 1)
	for id, item := range repo.detectionItems {
		assert.NotEmpty(t, id)
		assert.False(t, item.Detected)
	}
}

func TestDetectionHandler_DimensionMismatch(t *testing.T) {
	store := seedDetectStore()
	reporter := &recordingReporter{}
	scratch := t.TempDir()

	binary := writeTool(t, `
echo "Original: 100x100, Marked: 50x50"
exit 254
`)

	h := NewDetectionHandler(store, runner.New(zaptest.NewLogger(t)), reporter, newFakeRepo(),
		scratch, binary, URLPolicy{}, zaptest.NewLogger(t))

	task := detectTask(t, "task-44", models.DetectPayload{
		PathOriginal: "original-images/u1/o1/cat.png",
		PathMarked:   "marked-images/u1/tok/cat.png.png",
		UserID:       "u1",
	})
	err := h.Handle(context.Background(), task)
	require.Error(t, err)

	var mismatch *DimensionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "100x100", mismatch.Original)
	assert.Equal(t, "50x50", mismatch.Marked)

	require.Len(t, reporter.fails, 1)
	assert.Contains(t, reporter.fails[0], "100x100")
	assert.Contains(t, reporter.fails[0], "50x50")

	entries, readErr := os.ReadDir(scratch)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "scratch removed on the failure path too")
}

func TestDetectionHandler_DimensionMismatchWithoutDims(t *testing.T) {
	store := seedDetectStore()

	binary := writeTool(t, `exit 254`)
	h := NewDetectionHandler(store, runner.New(zaptest.NewLogger(t)), &recordingReporter{}, newFakeRepo(),
		t.TempDir(), binary, URLPolicy{}, zaptest.NewLogger(t))

	task := detectTask(t, "task-45", models.DetectPayload{
		PathOriginal: "original-images/u1/o1/cat.png",
		PathMarked:   "marked-images/u1/tok/cat.png.png",
		UserID:       "u1",
	})
	err := h.Handle(context.Background(), task)

	var mismatch *DimensionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "image dimension mismatch between original and marked images", mismatch.Error())
}

func TestDetectionHandler_UnexpectedExitCode(t *testing.T) {
	store := seedDetectStore()
	reporter := &recordingReporter{}

	binary := writeTool(t, `
echo "internal failure" >&2
exit 3
`)

	h := NewDetectionHandler(store, runner.New(zaptest.NewLogger(t)), reporter, newFakeRepo(),
		t.TempDir(), binary, URLPolicy{}, zaptest.NewLogger(t))

	task := detectTask(t, "task-46", models.DetectPayload{
		PathOriginal: "original-images/u1/o1/cat.png",
		PathMarked:   "marked-images/u1/tok/cat.png.png",
		UserID:       "u1",
	})
	err := h.Handle(context.Background(), task)
	require.Error(t, err)

	var toolErr *runner.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, 3, toolErr.ExitCode)
	require.Len(t, reporter.fails, 1)
	assert.Contains(t, reporter.fails[0], "internal failure")
}

func TestDetectionHandler_MissingResultsFile(t *testing.T) {
	store := seedDetectStore()
	reporter := &recordingReporter{}

	// Exits cleanly but never writes the results document.
	binary := writeTool(t, `exit 0`)

	h := NewDetectionHandler(store, runner.New(zaptest.NewLogger(t)), reporter, newFakeRepo(),
		t.TempDir(), binary, URLPolicy{}, zaptest.NewLogger(t))

	task := detectTask(t, "task-47", models.DetectPayload{
		PathOriginal: "original-images/u1/o1/cat.png",
		PathMarked:   "marked-images/u1/tok/cat.png.png",
		UserID:       "u1",
	})
	err := h.Handle(context.Background(), task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read detection results")
	require.Len(t, reporter.fails, 1)
	assert.Equal(t, "detection results missing", reporter.fails[0])
}

func TestDetectionHandler_DownloadProgressIsReported(t *testing.T) {
	store := seedDetectStore()
	reporter := &recordingReporter{}
	scratch := t.TempDir()

	binary := writeTool(t, fmt.Sprintf(`printf '%%s' '{"detected":true,"confidence":1,"message":"ok"}' > %q/"$1".json`, scratch))

	h := NewDetectionHandler(store, runner.New(zaptest.NewLogger(t)), reporter, newFakeRepo(),
		scratch, binary, URLPolicy{}, zaptest.NewLogger(t))

	task := detectTask(t, "task-48", models.DetectPayload{
		PathOriginal: "original-images/u1/o1/cat.png",
		PathMarked:   "marked-images/u1/tok/cat.png.png",
		UserID:       "u1",
	})
	require.NoError(t, h.Handle(context.Background(), task))

	assert.Contains(t, reporter.reports, "Downloading original image... 100%")
	assert.Contains(t, reporter.reports, "Downloading marked image... 100%")
}
