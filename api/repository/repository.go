package repository

import (
	"context"
	"errors"

	"watermarker/api/models"
)

var ErrTaskNotFound = errors.New("task not found")

type Repository interface {
	// CreateTask inserts a pending task and notifies the worker's change
	// feed in the same transaction.
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)

	CreateOriginalImage(ctx context.Context, img *models.OriginalImage) error
	CreateMarkedImage(ctx context.Context, img *models.MarkedImage) error
	CreateUserRequest(ctx context.Context, req *models.UserRequest) error
}
