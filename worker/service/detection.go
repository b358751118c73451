package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"watermarker/worker/models"
	"watermarker/worker/repository"
	"watermarker/worker/runner"
)

// The detection binary reports mismatched inputs on stdout in this shape.
var dimensionPattern = regexp.MustCompile(`Original: (\d+x\d+), Marked: (\d+x\d+)`)

// Exit code the detection binary uses for an original/marked size mismatch.
const exitDimensionMismatch = 254

// DimensionMismatchError is an expected, reportable outcome: the original
// and marked images cannot be compared because their sizes differ.
type DimensionMismatchError struct {
	Original string
	Marked   string
}

func (e *DimensionMismatchError) Error() string {
	if e.Original != "" && e.Marked != "" {
		return fmt.Sprintf("image dimension mismatch: original %s, marked %s", e.Original, e.Marked)
	}
	return "image dimension mismatch between original and marked images"
}

// DetectionHandler runs the detect pipeline: download both images, invoke
// the detection binary, parse its results file, persist a history item.
type DetectionHandler struct {
	store    ObjectStore
	runner   Runner
	reporter Reporter
	repo     repository.Repository

	scratchRoot string
	binary      string
	urls        URLPolicy

	logger *zap.Logger
}

func NewDetectionHandler(
	store ObjectStore,
	run Runner,
	reporter Reporter,
	repo repository.Repository,
	scratchRoot, binary string,
	urls URLPolicy,
	logger *zap.Logger,
) *DetectionHandler {
	return &DetectionHandler{
		store:       store,
		runner:      run,
		reporter:    reporter,
		repo:        repo,
		scratchRoot: scratchRoot,
		binary:      binary,
		urls:        urls,
		logger:      logger,
	}
}

// ResultsPath is where the detection binary writes its results document for
// a given task.
func (h *DetectionHandler) ResultsPath(taskID string) string {
	return filepath.Join(h.scratchRoot, taskID+".json")
}

func (h *DetectionHandler) Handle(ctx context.Context, task models.Task) error {
	var p models.DetectPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode detect payload: %w", err)
	}

	scratchDir := filepath.Join(h.scratchRoot, task.ID)
	originalLocal := filepath.Join(scratchDir, "original")
	markedLocal := filepath.Join(scratchDir, "marked")
	resultsPath := h.ResultsPath(task.ID)

	// Scratch removal runs on every exit path. A cleanup failure must not
	// replace the pipeline's own outcome, so it is logged only.
	defer h.cleanup(scratchDir, resultsPath)

	h.reporter.Report(ctx, p.UserID, "Server has received request, downloading original image from storage...")
	if err := h.downloadWithPercent(ctx, p.UserID, "original", p.PathOriginal, originalLocal); err != nil {
		h.reporter.Fail(ctx, p.UserID, "Detection unsuccessful.", err.Error())
		return fmt.Errorf("download original image: %w", err)
	}

	h.reporter.Report(ctx, p.UserID, "Server downloaded original image, now downloading marked image from storage...")
	if err := h.downloadWithPercent(ctx, p.UserID, "marked", p.PathMarked, markedLocal); err != nil {
		h.reporter.Fail(ctx, p.UserID, "Detection unsuccessful.", err.Error())
		return fmt.Errorf("download marked image: %w", err)
	}

	h.reporter.Report(ctx, p.UserID, "Server has downloaded both images, now detecting watermarks...")
	result, err := h.runner.Run(ctx, h.binary, []string{task.ID, originalLocal, markedLocal}, func(step string, args []string) {
		h.reporter.Report(ctx, p.UserID, step)
	})
	if err != nil {
		h.reporter.Fail(ctx, p.UserID, "Detection unsuccessful.", err.Error())
		return fmt.Errorf("run detection tool: %w", err)
	}

	switch result.ExitCode {
	case 0:
		return h.persistResults(ctx, task.ID, p, resultsPath)

	case exitDimensionMismatch:
		mismatch := &DimensionMismatchError{}
		if m := dimensionPattern.FindStringSubmatch(result.Stdout); m != nil {
			mismatch.Original, mismatch.Marked = m[1], m[2]
		}
		h.reporter.Fail(ctx, p.UserID, "Detection unsuccessful.", mismatch.Error())
		return mismatch

	default:
		toolErr := &runner.ToolError{Name: "detection tool", ExitCode: result.ExitCode, Stderr: result.Stderr}
		h.reporter.Fail(ctx, p.UserID, "Detection unsuccessful.", toolErr.Error())
		return fmt.Errorf("run detection tool: %w", toolErr)
	}
}

func (h *DetectionHandler) downloadWithPercent(ctx context.Context, key, label, remotePath, localPath string) error {
	return h.store.DownloadWithProgress(ctx, remotePath, localPath, func(percent float64, bytes, total int64) {
		text := fmt.Sprintf("Downloading %s image... %d%%", label, int(percent))
		h.reporter.ReportThrottled(ctx, key, text, percent)
	})
}

func (h *DetectionHandler) persistResults(ctx context.Context, taskID string, p models.DetectPayload, resultsPath string) error {
	data, err := os.ReadFile(resultsPath)
	if err != nil {
		h.reporter.Fail(ctx, p.UserID, "Detection unsuccessful.", "detection results missing")
		return fmt.Errorf("read detection results: %w", err)
	}

	res, err := models.ParseDetectionResult(data)
	if err != nil {
		h.reporter.Fail(ctx, p.UserID, "Detection unsuccessful.", "detection results unreadable")
		return fmt.Errorf("parse detection results: %w", err)
	}

	// Best effort: the history entry is still useful without a serving URL.
	servingURL, err := h.urls.ServableURL(ctx, h.store, p.PathMarked)
	if err != nil {
		h.logger.Warn("Failed to mint serving url for detection item",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		servingURL = ""
	}

	itemID := p.ItemID
	if itemID == "" {
		itemID = uuid.New().String()
	}

	item := &models.DetectionItem{
		ID:              itemID,
		UserID:          p.UserID,
		OriginalImageID: p.OriginalImageID,
		MarkedImageID:   p.MarkedImageID,
		PathOriginal:    p.PathOriginal,
		PathMarked:      p.PathMarked,
		Detected:        res.Detected,
		Confidence:      res.Confidence,
		Message:         res.Message,
		ServingURL:      servingURL,
		Result:          res.Raw,
	}
	if err := h.repo.InsertDetectionItem(ctx, item); err != nil {
		h.reporter.Fail(ctx, p.UserID, "Detection unsuccessful.", "could not save detection results")
		return fmt.Errorf("persist detection item: %w", err)
	}

	h.reporter.Finish(ctx, p.UserID, "Detection complete.", res.Raw)

	h.logger.Info("Detection task completed",
		zap.String("task_id", taskID),
		zap.String("user_id", p.UserID),
		zap.Bool("detected", res.Detected),
		zap.Float64("confidence", res.Confidence),
	)
	return nil
}

func (h *DetectionHandler) cleanup(scratchDir, resultsPath string) {
	if err := os.RemoveAll(scratchDir); err != nil {
		h.logger.Warn("Failed to remove scratch directory",
			zap.String("dir", scratchDir),
			zap.Error(err),
		)
	}
	if err := os.Remove(resultsPath); err != nil && !os.IsNotExist(err) {
		h.logger.Warn("Failed to remove results file",
			zap.String("path", resultsPath),
			zap.Error(err),
		)
	}
}
