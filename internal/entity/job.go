package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
	StatusPaused    JobStatus = "paused"
	StatusRetrying  JobStatus = "retrying"
)

// Terminal reports whether the status can never change again.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Job struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	Status        JobStatus       `json:"status"`
	Priority      int             `json:"priority"`
	Payload       json.RawMessage `json:"payload"`
	Progress      int             `json:"progress"`
	Phase         *string         `json:"phase,omitempty"`
	PhaseProgress int             `json:"phase_progress"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	DedupeKey     *string         `json:"dedupe_key,omitempty"`
	ArtifactPath  *string         `json:"artifact_path,omitempty"`
	ArtifactType  *string         `json:"artifact_type,omitempty"`
	ErrorCode     *string         `json:"error_code,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	RunAfter      time.Time       `json:"run_after"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ArtifactKey is the stable identifier used to build the artifact path:
// the dedupe key when the job has one, otherwise the job id.
func (j *Job) ArtifactKey() string {
	if j.DedupeKey != nil && *j.DedupeKey != "" {
		return *j.DedupeKey
	}
	return j.ID.String()
}
