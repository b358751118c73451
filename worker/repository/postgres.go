package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"watermarker/worker/models"
)

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) PendingTasks(ctx context.Context) ([]models.Task, error) {
	query := `
		SELECT id, type, status, payload, error_message, created_at, started_at, completed_at, failed_at
		FROM tasks
		WHERE status = 'pending'
		ORDER BY created_at
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var task models.Task
		if err := rows.Scan(
			&task.ID,
			&task.Type,
			&task.Status,
			&task.Payload,
			&task.Error,
			&task.CreatedAt,
			&task.StartedAt,
			&task.CompletedAt,
			&task.FailedAt,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ClaimTask is the single conditional write that makes dispatch exactly-once:
// only the update that finds the row still pending wins the task.
func (r *PostgresRepo) ClaimTask(ctx context.Context, taskID string) (bool, error) {
	query := `
		UPDATE tasks
		SET status = 'processing', started_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.db.Exec(ctx, query, taskID)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (r *PostgresRepo) CompleteTask(ctx context.Context, taskID string) error {
	query := `
		UPDATE tasks
		SET status = 'completed', completed_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	result, err := r.db.Exec(ctx, query, taskID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *PostgresRepo) FailTask(ctx context.Context, taskID, errMsg string) error {
	query := `
		UPDATE tasks
		SET status = 'failed', error_message = $2, failed_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	result, err := r.db.Exec(ctx, query, taskID, errMsg)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *PostgresRepo) GetMarkedImage(ctx context.Context, id string) (*models.MarkedImage, error) {
	query := `
		SELECT id, user_id, original_image_id, name, message, strength, path, serving_url, created_at
		FROM marked_images
		WHERE id = $1
	`

	var img models.MarkedImage
	err := r.db.QueryRow(ctx, query, id).Scan(
		&img.ID,
		&img.UserID,
		&img.OriginalImageID,
		&img.Name,
		&img.Message,
		&img.Strength,
		&img.Path,
		&img.ServingURL,
		&img.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &img, nil
}

func (r *PostgresRepo) UpdateMarkedImage(ctx context.Context, id, path, servingURL string) error {
	query := `
		UPDATE marked_images
		SET path = $2, serving_url = $3
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id, path, servingURL)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *PostgresRepo) DeleteMarkedImage(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM marked_images WHERE id = $1`, id)
	return err
}

func (r *PostgresRepo) InsertDetectionItem(ctx context.Context, item *models.DetectionItem) error {
	query := `
		INSERT INTO detection_items (id, user_id, original_image_id, marked_image_id,
			path_original, path_marked, detected, confidence, message, serving_url, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			detected = EXCLUDED.detected,
			confidence = EXCLUDED.confidence,
			message = EXCLUDED.message,
			serving_url = EXCLUDED.serving_url,
			result = EXCLUDED.result
		RETURNING created_at
	`

	return r.db.QueryRow(ctx, query,
		item.ID,
		item.UserID,
		item.OriginalImageID,
		item.MarkedImageID,
		item.PathOriginal,
		item.PathMarked,
		item.Detected,
		item.Confidence,
		item.Message,
		item.ServingURL,
		item.Result,
	).Scan(&item.CreatedAt)
}

func (r *PostgresRepo) GetDetectionItem(ctx context.Context, id string) (*models.DetectionItem, error) {
	query := `
		SELECT id, user_id, original_image_id, marked_image_id, path_original, path_marked,
			detected, confidence, message, serving_url, result, created_at
		FROM detection_items
		WHERE id = $1
	`

	var item models.DetectionItem
	err := r.db.QueryRow(ctx, query, id).Scan(
		&item.ID,
		&item.UserID,
		&item.OriginalImageID,
		&item.MarkedImageID,
		&item.PathOriginal,
		&item.PathMarked,
		&item.Detected,
		&item.Confidence,
		&item.Message,
		&item.ServingURL,
		&item.Result,
		&item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *PostgresRepo) DeleteDetectionItem(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM detection_items WHERE id = $1`, id)
	return err
}

func (r *PostgresRepo) SetOriginalImageURL(ctx context.Context, imageID, servingURL string) error {
	query := `
		UPDATE original_images
		SET serving_url = $2
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, imageID, servingURL)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *PostgresRepo) UpsertUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email
	`

	_, err := r.db.Exec(ctx, query, user.ID, user.Name, user.Email)
	return err
}

func (r *PostgresRepo) GetUserRequest(ctx context.Context, userID string) (*models.UserRequest, error) {
	query := `
		SELECT user_id, name, email, notified
		FROM user_requests
		WHERE user_id = $1
	`

	var req models.UserRequest
	err := r.db.QueryRow(ctx, query, userID).Scan(&req.UserID, &req.Name, &req.Email, &req.Notified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *PostgresRepo) SetUserRequestNotified(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `UPDATE user_requests SET notified = TRUE WHERE user_id = $1`, userID)
	return err
}

func (r *PostgresRepo) DeleteUserRequest(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_requests WHERE user_id = $1`, userID)
	return err
}
