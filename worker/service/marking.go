package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"watermarker/worker/models"
	"watermarker/worker/repository"
	"watermarker/worker/runner"
)

// MarkingHandler runs the embed pipeline: download the source image, invoke
// the marking binary, upload the marked output, persist the result record.
type MarkingHandler struct {
	store    ObjectStore
	runner   Runner
	reporter Reporter
	repo     repository.Repository

	scratchRoot string
	binary      string
	urls        URLPolicy

	logger *zap.Logger
}

func NewMarkingHandler(
	store ObjectStore,
	run Runner,
	reporter Reporter,
	repo repository.Repository,
	scratchRoot, binary string,
	urls URLPolicy,
	logger *zap.Logger,
) *MarkingHandler {
	return &MarkingHandler{
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

func (h *MarkingHandler) Handle(ctx context.Context, task models.Task) error {
	var p models.MarkPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode mark payload: %w", err)
	}

	// Fresh token so concurrent tasks never share a scratch directory and
	// marked objects land at unique destinations.
	token := uuid.New().String()
	scratchDir := filepath.Join(h.scratchRoot, token)
	localPath := filepath.Join(scratchDir, p.Name)

	defer h.cleanup(scratchDir)

	h.reporter.Report(ctx, p.UserID, "Downloading image for marking...")
	if err := h.store.Download(ctx, p.Path, localPath); err != nil {
		h.reporter.Fail(ctx, p.UserID, "Marking unsuccessful.", err.Error())
		return fmt.Errorf("download source image: %w", err)
	}
	h.reporter.Report(ctx, p.UserID, "Image downloaded, embedding watermark...")

	strength := strconv.FormatFloat(p.Strength, 'f', -1, 64)
	result, err := h.runner.Run(ctx, h.binary, []string{localPath, p.Name, p.Message, strength}, func(step string, args []string) {
		h.reportMarkingStep(ctx, p.UserID, step, args)
	})
	if err != nil {
		h.reporter.Fail(ctx, p.UserID, "Marking unsuccessful.", err.Error())
		return fmt.Errorf("run marking tool: %w", err)
	}
	if result.ExitCode != 0 {
		toolErr := &runner.ToolError{Name: "marking tool", ExitCode: result.ExitCode, Stderr: result.Stderr}
		h.reporter.Fail(ctx, p.UserID, "Marking unsuccessful.", toolErr.Error())
		return fmt.Errorf("run marking tool: %w", toolErr)
	}

	// The binary writes its output next to the input.
	markedLocal := localPath + "-marked.png"
	remotePath := path.Join("marked-images", p.UserID, token, p.Name+".png")

	h.reporter.Report(ctx, p.UserID, "Uploading marked image...")
	if err := h.store.Upload(ctx, markedLocal, remotePath); err != nil {
		h.reporter.Fail(ctx, p.UserID, "Marking unsuccessful.", err.Error())
		return fmt.Errorf("upload marked image: %w", err)
	}

	servingURL, err := h.urls.ServableURL(ctx, h.store, remotePath)
	if err != nil {
		h.reporter.Fail(ctx, p.UserID, "Marking unsuccessful.", err.Error())
		return fmt.Errorf("mint serving url: %w", err)
	}

	if err := h.repo.UpdateMarkedImage(ctx, p.MarkedImageID, remotePath, servingURL); err != nil {
		h.reporter.Fail(ctx, p.UserID, "Marking unsuccessful.", err.Error())
		return fmt.Errorf("persist marked image: %w", err)
	}

	h.reporter.Finish(ctx, p.UserID, "Marking complete.", nil)

	h.logger.Info("Marking task completed",
		zap.String("task_id", task.ID),
		zap.String("user_id", p.UserID),
		zap.String("path", remotePath),
	)
	return nil
}

func (h *MarkingHandler) reportMarkingStep(ctx context.Context, key, step string, args []string) {
	switch step {
	case "loading":
		h.reporter.Report(ctx, key, "Loading image...")
	case "marking":
		if len(args) >= 2 {
			h.reporter.Report(ctx, key, fmt.Sprintf("Embedding watermark (%s/%s)...", args[0], args[1]))
		} else {
			h.reporter.Report(ctx, key, "Embedding watermark...")
		}
	case "saving":
		h.reporter.Report(ctx, key, "Saving marked image...")
	}
}

func (h *MarkingHandler) cleanup(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		h.logger.Warn("Failed to remove scratch directory",
			zap.String("dir", dir),
			zap.Error(err),
		)
	}
}
