package dto

import (
	"encoding/json"
	"errors"
)

var ErrTaskNotFound = errors.New("task not found")

type MarkRequest struct {
	UserID   string  `json:"userId"`
	Message  string  `json:"message"`
	Strength float64 `json:"strength"`
}

type DetectRequest struct {
	UserID          string `json:"userId"`
	PathOriginal    string `json:"pathOriginal"`
	PathMarked      string `json:"pathMarked"`
	OriginalImageID string `json:"originalImageId,omitempty"`
	MarkedImageID   string `json:"markedImageId,omitempty"`
}

// MiscTaskRequest enqueues one of the bookkeeping task types with its raw
// payload; the worker's typed decode is the authority on the fields.
type MiscTaskRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type VerificationRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

type TaskResponse struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	Error       string  `json:"error,omitempty"`
	CreatedAt   string  `json:"created_at"`
	StartedAt   *string `json:"started_at,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
	FailedAt    *string `json:"failed_at,omitempty"`
}

type MarkCreatedResponse struct {
	TaskID          string `json:"task_id"`
	OriginalImageID string `json:"original_image_id"`
	MarkedImageID   string `json:"marked_image_id"`
}

type DetectCreatedResponse struct {
	TaskID string `json:"task_id"`
	ItemID string `json:"item_id"`
}

type ProgressResponse struct {
	Progress string          `json:"progress"`
	Busy     bool            `json:"busy"`
	Error    string          `json:"error,omitempty"`
	Results  json.RawMessage `json:"results,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}
