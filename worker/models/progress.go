package models

import "encoding/json"

// ProgressRecord is the ephemeral per-user status document the UI polls.
// It is overwritten by whichever task is currently running for the user.
type ProgressRecord struct {
	Progress string          `json:"progress"`
	Busy     bool            `json:"busy"`
	Error    string          `json:"error,omitempty"`
	Results  json.RawMessage `json:"results,omitempty"`
}

// ProgressUpdate is a partial merge into a ProgressRecord. Nil fields are
// left untouched.
type ProgressUpdate struct {
	Progress *string
	Busy     *bool
	Error    *string
	Results  json.RawMessage
}

// Apply merges the update into the record.
func (u ProgressUpdate) Apply(rec *ProgressRecord) {
	if u.Progress != nil {
		rec.Progress = *u.Progress
	}
	if u.Busy != nil {
		rec.Busy = *u.Busy
	}
	if u.Error != nil {
		rec.Error = *u.Error
	}
	if u.Results != nil {
		rec.Results = u.Results
	}
}
