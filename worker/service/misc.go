package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"watermarker/worker/models"
	"watermarker/worker/notify"
	"watermarker/worker/repository"
)

// MiscHandler covers the bookkeeping task types: serving URLs, deletes,
// user verification and the admin notification.
type MiscHandler struct {
	store    ObjectStore
	reporter Reporter
	repo     repository.Repository
	notifier notify.Notifier
	urls     URLPolicy

	logger *zap.Logger
}

func NewMiscHandler(
	store ObjectStore,
	reporter Reporter,
	repo repository.Repository,
	notifier notify.Notifier,
	urls URLPolicy,
	logger *zap.Logger,
) *MiscHandler {
	return &MiscHandler{
		store:    store,
		reporter: reporter,
		repo:     repo,
		notifier: notifier,
		urls:     urls,
		logger:   logger,
	}
}

func (h *MiscHandler) Handle(ctx context.Context, task models.Task) error {
	switch task.Type {
	case models.TypeGetServingURL:
		return h.servingURL(ctx, task)
	case models.TypeDeleteMarkedImage:
		return h.deleteMarkedImage(ctx, task)
	case models.TypeDeleteDetectionItem:
		return h.deleteDetectionItem(ctx, task)
	case models.TypeVerifyUser:
		return h.verifyUser(ctx, task)
	case models.TypeNotifyAdmin:
		return h.notifyAdmin(ctx, task)
	default:
		return fmt.Errorf("unsupported task type: %s", task.Type)
	}
}

func (h *MiscHandler) servingURL(ctx context.Context, task models.Task) error {
	var p models.ServingURLPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode serving url payload: %w", err)
	}

	servingURL, err := h.urls.ServableURL(ctx, h.store, p.Path)
	if err != nil {
		return fmt.Errorf("mint serving url: %w", err)
	}

	if err := h.repo.SetOriginalImageURL(ctx, p.ImageID, servingURL); err != nil {
		return fmt.Errorf("persist serving url: %w", err)
	}

	h.logger.Info("Serving URL attached",
		zap.String("image_id", p.ImageID),
		zap.String("path", p.Path),
	)
	return nil
}

func (h *MiscHandler) deleteMarkedImage(ctx context.Context, task models.Task) error {
	var p models.DeleteMarkedImagePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode delete payload: %w", err)
	}

	img, err := h.repo.GetMarkedImage(ctx, p.MarkedImageID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			h.logger.Info("Marked image already deleted", zap.String("id", p.MarkedImageID))
			return nil
		}
		return fmt.Errorf("look up marked image: %w", err)
	}

	if img.Path != "" {
		if err := h.store.Delete(ctx, img.Path); err != nil {
			return fmt.Errorf("delete marked object: %w", err)
		}
	}

	if err := h.repo.DeleteMarkedImage(ctx, p.MarkedImageID); err != nil {
		return fmt.Errorf("delete marked image record: %w", err)
	}

	h.logger.Info("Marked image deleted", zap.String("id", p.MarkedImageID))
	return nil
}

func (h *MiscHandler) deleteDetectionItem(ctx context.Context, task models.Task) error {
	var p models.DeleteDetectionItemPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode delete payload: %w", err)
	}

	item, err := h.repo.GetDetectionItem(ctx, p.DetectionItemID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			h.logger.Info("Detection item already deleted", zap.String("id", p.DetectionItemID))
			return nil
		}
		return fmt.Errorf("look up detection item: %w", err)
	}

	for _, remote := range []string{item.PathOriginal, item.PathMarked} {
		if remote == "" {
			continue
		}
		if err := h.store.Delete(ctx, remote); err != nil {
			return fmt.Errorf("delete detection object: %w", err)
		}
	}

	if err := h.repo.DeleteDetectionItem(ctx, p.DetectionItemID); err != nil {
		return fmt.Errorf("delete detection item record: %w", err)
	}

	// Drop any in-flight progress still pointing at this item.
	h.reporter.Clear(ctx, p.UserID)

	h.logger.Info("Detection item deleted", zap.String("id", p.DetectionItemID))
	return nil
}

func (h *MiscHandler) verifyUser(ctx context.Context, task models.Task) error {
	var p models.VerifyUserPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode verify user payload: %w", err)
	}

	user := &models.User{ID: p.UserID, Name: p.Name, Email: p.Email}
	if err := h.repo.UpsertUser(ctx, user); err != nil {
		return fmt.Errorf("persist user: %w", err)
	}

	if err := h.repo.DeleteUserRequest(ctx, p.UserID); err != nil {
		return fmt.Errorf("remove user request: %w", err)
	}

	h.logger.Info("User verified", zap.String("user_id", p.UserID))
	return nil
}

// notifyAdmin sends at most one notification per verification request. The
// check and the flag write are separate statements, so two concurrent claims
// could both send; that window is accepted as low-impact.
func (h *MiscHandler) notifyAdmin(ctx context.Context, task models.Task) error {
	var p models.NotifyAdminPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode notify payload: %w", err)
	}

	req, err := h.repo.GetUserRequest(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			h.logger.Info("Verification request gone, skipping notification", zap.String("user_id", p.UserID))
			return nil
		}
		return fmt.Errorf("look up user request: %w", err)
	}

	if req.Notified {
		h.logger.Info("Admin already notified", zap.String("user_id", p.UserID))
		return nil
	}

	notification := &notify.AdminNotification{
		UserID:      p.UserID,
		Text:        "Someone has requested access to the watermarking web app.",
		RequestedAt: time.Now().UTC(),
	}
	if err := h.notifier.NotifyAdmin(ctx, notification); err != nil {
		return fmt.Errorf("send admin notification: %w", err)
	}

	if err := h.repo.SetUserRequestNotified(ctx, p.UserID); err != nil {
		return fmt.Errorf("mark request notified: %w", err)
	}

	h.logger.Info("Admin notified of verification request", zap.String("user_id", p.UserID))
	return nil
}
