package repository

import (
	"context"
	"errors"

	"watermarker/worker/models"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrRecordNotFound = errors.New("record not found")
)

// Repository is the worker's view of the document store: the task collection
// plus the result entities the handlers persist into.
type Repository interface {
	// PendingTasks lists tasks still waiting to be claimed, oldest first.
	PendingTasks(ctx context.Context) ([]models.Task, error)

	// ClaimTask atomically moves a pending task to processing. It reports
	// false when the task was already claimed by someone else, which callers
	// treat as "skip, not mine".
	ClaimTask(ctx context.Context, taskID string) (bool, error)

	CompleteTask(ctx context.Context, taskID string) error
	FailTask(ctx context.Context, taskID, errMsg string) error

	GetMarkedImage(ctx context.Context, id string) (*models.MarkedImage, error)
	UpdateMarkedImage(ctx context.Context, id, path, servingURL string) error
	DeleteMarkedImage(ctx context.Context, id string) error

	InsertDetectionItem(ctx context.Context, item *models.DetectionItem) error
	GetDetectionItem(ctx context.Context, id string) (*models.DetectionItem, error)
	DeleteDetectionItem(ctx context.Context, id string) error

	SetOriginalImageURL(ctx context.Context, imageID, servingURL string) error

	UpsertUser(ctx context.Context, user *models.User) error
	GetUserRequest(ctx context.Context, userID string) (*models.UserRequest, error)
	SetUserRequestNotified(ctx context.Context, userID string) error
	DeleteUserRequest(ctx context.Context, userID string) error
}
