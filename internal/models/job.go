package models

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobError is a structured error entry attached to a job.
type JobError struct {
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	URL     string    `json:"url,omitempty"`
	Time    time.Time `json:"time"`
}

// JobProgress carries the counters updated during detail visits.
type JobProgress struct {
	ItemsFound     int `json:"items_found"`
	ItemsProcessed int `json:"items_processed"`
	ItemsFailed    int `json:"items_failed"`
}

// JobRecord is the externally stored view of one import job.
type JobRecord struct {
	ID           string          `json:"id"`
	Status       JobStatus       `json:"status"`
	Mode         JobMode         `json:"mode"`
	Filter       string          `json:"filter,omitempty"`
	TargetCount  int             `json:"target_count"`
	Progress     JobProgress     `json:"progress"`
	ProductCount int             `json:"product_count"`
	Errors       []JobError      `json:"errors"`
	ImportID     *string         `json:"import_id,omitempty"`
	Import       json.RawMessage `json:"import,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}
