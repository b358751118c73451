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

// Task is one queued unit of work. Status only ever moves
// pending -> processing -> completed or failed.
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

type DeleteMarkedImagePayload struct {
	MarkedImageID string `json:"markedImageId"`
}

type DeleteDetectionItemPayload struct {
	DetectionItemID string `json:"detectionItemId"`
	UserID          string `json:"userId"`
}

type VerifyUserPayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

type NotifyAdminPayload struct {
	UserID string `json:"userId"`
}
