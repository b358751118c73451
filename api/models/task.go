package models

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

type TaskType string

const (
	TypeMark                TaskType = "mark"
	TypeDetect              TaskType = "detect"
	TypeGetServingURL       TaskType = "get_serving_url"
	TypeDeleteMarkedImage   TaskType = "delete_marked_image"
	TypeDeleteDetectionItem TaskType = "delete_detection_item"
	TypeVerifyUser          TaskType = "verify_user"
	TypeNotifyAdmin         TaskType = "notify_admin"
)

// KnownType reports whether the worker has a handler for this task type.
func KnownType(t TaskType) bool {
	switch t {
	case TypeMark, TypeDetect, TypeGetServingURL, TypeDeleteMarkedImage,
		TypeDeleteDetectionItem, TypeVerifyUser, TypeNotifyAdmin:
		return true
	default:
		return false
	}
}

type Task struct {
	ID          string
	Type        TaskType
	Status      TaskStatus
	Payload     json.RawMessage
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time
}

type OriginalImage struct {
	ID        string
	UserID    string
	Name      string
	Path      string
	Width     int
	Height    int
	CreatedAt time.Time
}

type MarkedImage struct {
	ID              string
	UserID          string
	OriginalImageID string
	Name            string
	Message         string
	Strength        float64
	CreatedAt       time.Time
}

type UserRequest struct {
	UserID string
	Name   string
	Email  string
}

// Task payloads, shaped exactly as the worker's handlers decode them.

type MarkPayload struct {
	Path          string  `json:"path"`
	Name          string  `json:"name"`
	Message       string  `json:"message"`
	Strength      float64 `json:"strength"`
	UserID        string  `json:"userId"`
	MarkedImageID string  `json:"markedImageId"`
}

type DetectPayload struct {
	PathOriginal    string `json:"pathOriginal"`
	PathMarked      string `json:"pathMarked"`
	UserID          string `json:"userId"`
	ItemID          string `json:"itemId,omitempty"`
	OriginalImageID string `json:"originalImageId,omitempty"`
	MarkedImageID   string `json:"markedImageId,omitempty"`
}

type ServingURLPayload struct {
	Path    string `json:"path"`
	ImageID string `json:"imageId"`
}

type NotifyAdminPayload struct {
	UserID string `json:"userId"`
}
