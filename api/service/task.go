package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"

	"watermarker/api/cache"
	"watermarker/api/dto"
	"watermarker/api/models"
	"watermarker/api/repository"
)

// Uploader is the slice of object storage the api needs.
type Uploader interface {
	Put(ctx context.Context, remotePath string, r io.Reader, size int64, contentType string) error
}

type TaskService struct {
	repo     repository.Repository
	progress *cache.ProgressCache
	uploader Uploader
}

func NewTaskService(repo repository.Repository, progress *cache.ProgressCache, uploader Uploader) *TaskService {
	return &TaskService{
		repo:     repo,
		progress: progress,
		uploader: uploader,
	}
}

// MarkUpload carries a validated multipart upload into the mark flow.
type MarkUpload struct {
	UserID   string
	Name     string
	Message  string
	Strength float64

	File        io.Reader
	Size        int64
	ContentType string
	Width       int
	Height      int
}

// CreateMarkTask stores the original image, creates its records, and
// enqueues the mark task plus a serving-URL task for the original.
func (s *TaskService) CreateMarkTask(ctx context.Context, up *MarkUpload) (*dto.MarkCreatedResponse, error) {
	originalImageID := uuid.New().String()
	markedImageID := uuid.New().String()
	remotePath := path.Join("original-images", up.UserID, originalImageID, up.Name)

	if err := s.uploader.Put(ctx, remotePath, up.File, up.Size, up.ContentType); err != nil {
		return nil, fmt.Errorf("store original image: %w", err)
	}

	original := &models.OriginalImage{
		ID:     originalImageID,
		UserID: up.UserID,
		Name:   up.Name,
		Path:   remotePath,
		Width:  up.Width,
		Height: up.Height,
	}
	if err := s.repo.CreateOriginalImage(ctx, original); err != nil {
		return nil, fmt.Errorf("create original image record: %w", err)
	}

	marked := &models.MarkedImage{
		ID:              markedImageID,
		UserID:          up.UserID,
		OriginalImageID: originalImageID,
		Name:            up.Name,
		Message:         up.Message,
		Strength:        up.Strength,
	}
	if err := s.repo.CreateMarkedImage(ctx, marked); err != nil {
		return nil, fmt.Errorf("create marked image record: %w", err)
	}

	taskID, err := s.enqueue(ctx, models.TypeMark, models.MarkPayload{
		Path:          remotePath,
		Name:          up.Name,
		Message:       up.Message,
		Strength:      up.Strength,
		UserID:        up.UserID,
		MarkedImageID: markedImageID,
	})
	if err != nil {
		return nil, err
	}

	// The original gets its own serving URL out of band; failure here leaves
	// the mark task intact.
	if _, err := s.enqueue(ctx, models.TypeGetServingURL, models.ServingURLPayload{
		Path:    remotePath,
		ImageID: originalImageID,
	}); err != nil {
		return nil, err
	}

	return &dto.MarkCreatedResponse{
		TaskID:          taskID,
		OriginalImageID: originalImageID,
		MarkedImageID:   markedImageID,
	}, nil
}

func (s *TaskService) CreateDetectTask(ctx context.Context, req *dto.DetectRequest) (*dto.DetectCreatedResponse, error) {
	itemID := uuid.New().String()

	taskID, err := s.enqueue(ctx, models.TypeDetect, models.DetectPayload{
		PathOriginal:    req.PathOriginal,
		PathMarked:      req.PathMarked,
		UserID:          req.UserID,
		ItemID:          itemID,
		OriginalImageID: req.OriginalImageID,
		MarkedImageID:   req.MarkedImageID,
	})
	if err != nil {
		return nil, err
	}

	return &dto.DetectCreatedResponse{TaskID: taskID, ItemID: itemID}, nil
}

// CreateMiscTask enqueues a bookkeeping task with its raw payload.
func (s *TaskService) CreateMiscTask(ctx context.Context, req *dto.MiscTaskRequest) (string, error) {
	if !models.KnownType(models.TaskType(req.Type)) {
		return "", fmt.Errorf("unknown task type: %s", req.Type)
	}

	payload := req.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}

	task := &models.Task{
		ID:      uuid.New().String(),
		Type:    models.TaskType(req.Type),
		Payload: payload,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return task.ID, nil
}

// CreateVerificationRequest records an access request and enqueues the
// admin notification for it.
func (s *TaskService) CreateVerificationRequest(ctx context.Context, req *dto.VerificationRequest) (string, error) {
	if err := s.repo.CreateUserRequest(ctx, &models.UserRequest{
		UserID: req.UserID,
		Name:   req.Name,
		Email:  req.Email,
	}); err != nil {
		return "", fmt.Errorf("create user request: %w", err)
	}

	return s.enqueue(ctx, models.TypeNotifyAdmin, models.NotifyAdminPayload{UserID: req.UserID})
}

func (s *TaskService) GetTask(ctx context.Context, taskID string) (*dto.TaskResponse, error) {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		if err == repository.ErrTaskNotFound {
			return nil, dto.ErrTaskNotFound
		}
		return nil, err
	}
	return toResponse(task), nil
}

func (s *TaskService) GetProgress(ctx context.Context, userID string) (*dto.ProgressResponse, error) {
	return s.progress.Get(ctx, userID)
}

func (s *TaskService) enqueue(ctx context.Context, taskType models.TaskType, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", taskType, err)
	}

	task := &models.Task{
		ID:      uuid.New().String(),
		Type:    taskType,
		Payload: data,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("create %s task: %w", taskType, err)
	}
	return task.ID, nil
}

func toResponse(task *models.Task) *dto.TaskResponse {
	return &dto.TaskResponse{
		ID:          task.ID,
		Type:        string(task.Type),
		Status:      string(task.Status),
		Error:       task.Error,
		CreatedAt:   task.CreatedAt.Format(time.RFC3339),
		StartedAt:   formatTime(task.StartedAt),
		CompletedAt: formatTime(task.CompletedAt),
		FailedAt:    formatTime(task.FailedAt),
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.Format(time.RFC3339)
	return &formatted
}
