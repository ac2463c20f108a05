// Package handlers holds the phase state machines for the engine's job
// types. Every handler is idempotent per unit of work: a stale job that
// gets re-claimed repeats its phases without duplicating external effects.
package handlers

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"league-jobs-service/internal/entity"
)

// ItemStore is the fan-out persistence slice used by bulk handlers.
type ItemStore interface {
	CreateBatch(ctx context.Context, jobID uuid.UUID, targets []json.RawMessage) (int64, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*entity.JobItem, error)
	ListPending(ctx context.Context, jobID uuid.UUID) ([]*entity.JobItem, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, code, message string) error
	MarkSkipped(ctx context.Context, id uuid.UUID, code, message string) error
	CountByStatus(ctx context.Context, jobID uuid.UUID) (map[entity.ItemStatus]int, error)
}

// BatchStats are the aggregate outcome counts a bulk handler writes back
// into the job payload for the submitter.
type BatchStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped,omitempty"`
}
