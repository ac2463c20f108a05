package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"league-jobs-service/internal/entity"
	"league-jobs-service/internal/progress"
)

// ErrCancelled and ErrPaused are returned from StartPhase when the job was
// cancelled or paused while running. There is no mid-phase interruption: a
// job only stops on a phase boundary.
var (
	ErrCancelled = errors.New("job cancelled")
	ErrPaused    = errors.New("job paused")
)

// JobStore is the slice of the persistence layer a running handler needs.
type JobStore interface {
	GetStatus(ctx context.Context, id uuid.UUID) (entity.JobStatus, error)
	SetPhase(ctx context.Context, id uuid.UUID, phase string, overall int) error
	SetPhaseProgress(ctx context.Context, id uuid.UUID, phasePct, overall int) error
	SetArtifact(ctx context.Context, id uuid.UUID, path, contentType string) error
	UpdatePayload(ctx context.Context, id uuid.UUID, payload json.RawMessage) error
}

// Event is one change-feed entry describing job progress for the UI.
type Event struct {
	JobID    uuid.UUID        `json:"job_id"`
	Type     string           `json:"type"`
	Status   entity.JobStatus `json:"status"`
	Phase    string           `json:"phase,omitempty"`
	Progress int              `json:"progress"`
}

// Notifier publishes Events. Publishing is best-effort: the persisted job row
// stays the source of truth and a lost event only delays the UI one poll.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Execution carries one claimed job through its phases. It persists phase
// name and progress, keeps the overall percentage monotonic within the
// running episode, and checks for between-phase cancellation.
type Execution struct {
	Job *entity.Job

	store    JobStore
	notifier Notifier
	plan     progress.Plan

	phase   string
	overall int
}

func NewExecution(j *entity.Job, plan progress.Plan, store JobStore, notifier Notifier) *Execution {
	return &Execution{Job: j, plan: plan, store: store, notifier: notifier}
}

// StartPhase moves the job to the named phase with phase_progress 0.
// It first re-reads the job status: a cancel or pause requested while the
// job was running takes effect here, on the phase boundary.
func (ex *Execution) StartPhase(ctx context.Context, name string) error {
	status, err := ex.store.GetStatus(ctx, ex.Job.ID)
	if err != nil {
		return fmt.Errorf("read status before phase %q: %w", name, err)
	}
	switch status {
	case entity.StatusCancelled:
		return ErrCancelled
	case entity.StatusPaused:
		return ErrPaused
	}

	ex.phase = name
	if v := ex.plan.Overall(name, 0); v > ex.overall {
		ex.overall = v
	}
	if err := ex.store.SetPhase(ctx, ex.Job.ID, name, ex.overall); err != nil {
		return fmt.Errorf("start phase %q: %w", name, err)
	}
	ex.publish(ctx)
	return nil
}

// Step records completion pct (0-100) within the current phase and rolls it
// into the overall percentage. Overall progress never goes backwards, even
// if a phase reports out of order.
func (ex *Execution) Step(ctx context.Context, pct int) error {
	if v := ex.plan.Overall(ex.phase, pct); v > ex.overall {
		ex.overall = v
	}
	if err := ex.store.SetPhaseProgress(ctx, ex.Job.ID, pct, ex.overall); err != nil {
		return fmt.Errorf("progress in phase %q: %w", ex.phase, err)
	}
	ex.publish(ctx)
	return nil
}

// EndPhase marks the current phase fully complete.
func (ex *Execution) EndPhase(ctx context.Context) error {
	return ex.Step(ctx, 100)
}

// SetArtifact persists the produced artifact location and kind.
func (ex *Execution) SetArtifact(ctx context.Context, path, contentType string) error {
	if err := ex.store.SetArtifact(ctx, ex.Job.ID, path, contentType); err != nil {
		return fmt.Errorf("set artifact: %w", err)
	}
	ex.Job.ArtifactPath = &path
	ex.Job.ArtifactType = &contentType
	return nil
}

// SavePayload replaces the job payload, used by handlers to persist
// aggregate success/failure counts for the submitter.
func (ex *Execution) SavePayload(ctx context.Context, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := ex.store.UpdatePayload(ctx, ex.Job.ID, raw); err != nil {
		return fmt.Errorf("save payload: %w", err)
	}
	ex.Job.Payload = raw
	return nil
}

// Overall is the last overall percentage written.
func (ex *Execution) Overall() int {
	return ex.overall
}

func (ex *Execution) publish(ctx context.Context) {
	if ex.notifier == nil {
		return
	}
	_ = ex.notifier.Notify(ctx, Event{
		JobID:    ex.Job.ID,
		Type:     ex.Job.Type,
		Status:   entity.StatusRunning,
		Phase:    ex.phase,
		Progress: ex.overall,
	})
}
