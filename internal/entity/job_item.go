package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemRunning   ItemStatus = "running"
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
)

// JobItem is one addressable sub-unit of a bulk job, e.g. one recipient
// of a bulk mailing. Items are created once by the owning job's prepare
// phase and then processed independently: a failed item never blocks its
// siblings.
type JobItem struct {
	ID           uuid.UUID       `json:"id"`
	JobID        uuid.UUID       `json:"job_id"`
	Seq          int             `json:"seq"`
	Status       ItemStatus      `json:"status"`
	Target       json.RawMessage `json:"target"`
	ErrorCode    *string         `json:"error_code,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}
