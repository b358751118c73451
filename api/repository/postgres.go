package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"watermarker/api/database"
	"watermarker/api/models"
)

// Channel the worker dispatcher listens on.
const pendingChannel = "tasks_pending"

type PostgresRepo struct {
	db *database.DB
}

func NewPostgresRepo(db *database.DB) Repository {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) CreateTask(ctx context.Context, task *models.Task) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO tasks (id, type, status, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	if err := tx.QueryRow(ctx, query, task.ID, task.Type, models.StatusPending, task.Payload).
		Scan(&task.CreatedAt); err != nil {
		return err
	}

	// The notification rides the insert's transaction: the worker only hears
	// about tasks that actually committed.
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, pendingChannel, task.ID); err != nil {
		return err
	}

	task.Status = models.StatusPending
	return tx.Commit(ctx)
}

func (r *PostgresRepo) GetTask(ctx context.Context, id string) (*models.Task, error) {
	query := `
		SELECT id, type, status, payload, error_message, created_at, started_at, completed_at, failed_at
		FROM tasks
		WHERE id = $1
	`

	var task models.Task
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&task.ID,
		&task.Type,
		&task.Status,
		&task.Payload,
		&task.Error,
		&task.CreatedAt,
		&task.StartedAt,
		&task.CompletedAt,
		&task.FailedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

func (r *PostgresRepo) CreateOriginalImage(ctx context.Context, img *models.OriginalImage) error {
	query := `
		INSERT INTO original_images (id, user_id, name, path, width, height)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		img.ID, img.UserID, img.Name, img.Path, img.Width, img.Height,
	).Scan(&img.CreatedAt)
}

func (r *PostgresRepo) CreateMarkedImage(ctx context.Context, img *models.MarkedImage) error {
	query := `
		INSERT INTO marked_images (id, user_id, original_image_id, name, message, strength)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		img.ID, img.UserID, img.OriginalImageID, img.Name, img.Message, img.Strength,
	).Scan(&img.CreatedAt)
}

func (r *PostgresRepo) CreateUserRequest(ctx context.Context, req *models.UserRequest) error {
	query := `
		INSERT INTO user_requests (user_id, name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email
	`
	_, err := r.db.Pool.Exec(ctx, query, req.UserID, req.Name, req.Email)
	return err
}
