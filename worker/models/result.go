package models

import (
	"encoding/json"
	"time"
)

// MarkedImage is the persisted outcome of a mark task. The row is created by
// the api when the task is submitted and filled in by the marking handler.
type MarkedImage struct {
	ID              string
	UserID          string
	OriginalImageID string
	Name            string
	Message         string
	Strength        float64
	Path            string
	ServingURL      string
	CreatedAt       time.Time
}

// DetectionItem is one entry in a user's detection history.
type DetectionItem struct {
	ID              string
	UserID          string
	OriginalImageID string
	MarkedImageID   string
	PathOriginal    string
	PathMarked      string
	Detected        bool
	Confidence      float64
	Message         string
	ServingURL      string
	Result          json.RawMessage
	CreatedAt       time.Time
}

type OriginalImage struct {
	ID         string
	UserID     string
	Name       string
	Path       string
	ServingURL string
	Width      int
	Height     int
	CreatedAt  time.Time
}

type User struct {
	ID    string
	Name  string
	Email string
}

type UserRequest struct {
	UserID   string
	Name     string
	Email    string
	Notified bool
}

// SequenceStat describes one detected watermark sequence.
type SequenceStat struct {
	Shift     int     `json:"shift"`
	PeakToRMS float64 `json:"peakToRms"`
}

// DetectionResult is the typed form of the results file the detection binary
// writes. Raw keeps the full document so new fields survive a round trip.
type DetectionResult struct {
	Detected   bool               `json:"detected"`
	Confidence float64            `json:"confidence"`
	Message    string             `json:"message"`
	Sequences  []SequenceStat     `json:"sequences,omitempty"`
	TimingMS   map[string]float64 `json:"timingMs,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ParseDetectionResult decodes a results document, retaining the raw bytes.
func ParseDetectionResult(data []byte) (*DetectionResult, error) {
	var res DetectionResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	res.Raw = json.RawMessage(append([]byte(nil), data...))
	return &res, nil
}
