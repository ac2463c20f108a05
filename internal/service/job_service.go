package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"league-jobs-service/internal/entity"
	"league-jobs-service/internal/repository/postgresql"
)

var (
	ErrUnknownType = errors.New("unknown job type")
	ErrNotFound    = errors.New("job not found")
)

// JobRepository is the submission-side slice of the persistence layer.
type JobRepository interface {
	Create(ctx context.Context, j *entity.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	FindActiveByDedupe(ctx context.Context, typ, key string) (*entity.Job, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, status entity.JobStatus, limit, offset int) ([]*entity.Job, error)
}

type ItemRepository interface {
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*entity.JobItem, error)
}

// TypeSet answers whether a job type has a registered handler; the jobs
// registry satisfies it. Rejecting unknown types at submission keeps
// configuration errors out of the queue entirely.
type TypeSet interface {
	Known(typ string) bool
}

type JobService struct {
	repo        JobRepository
	items       ItemRepository
	types       TypeSet
	maxAttempts int
}

func NewJobService(repo JobRepository, items ItemRepository, types TypeSet, maxAttempts int) *JobService {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &JobService{repo: repo, items: items, types: types, maxAttempts: maxAttempts}
}

type SubmitRequest struct {
	Type     string
	Payload  json.RawMessage
	Priority int
	Dedupe   bool

	// Total is the caller's expected unit count. When set it is checked
	// against the payload so a truncated request fails fast instead of
	// producing a quietly smaller batch.
	Total int
}

type SubmitResult struct {
	Job    *entity.Job
	Reused bool
}

// Submit creates a pending job, or returns the existing one when the caller
// opted into deduplication and an equivalent job is already in flight or
// completed. The uniqueness race (two submitters inserting the same key at
// once) resolves by re-querying: exactly one insert wins, the other caller
// gets the winner back with Reused set.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.Type == "" {
		return nil, errors.New("type is required")
	}
	if !s.types.Known(req.Type) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, req.Type)
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage(`{}`)
	}
	if req.Total > 0 {
		if n := countUnits(req.Payload); n != req.Total {
			return nil, fmt.Errorf("payload has %d units, caller expected %d", n, req.Total)
		}
	}

	var dedupeKey *string
	if req.Dedupe {
		key, err := DedupeKey(req.Type, req.Payload)
		if err != nil {
			return nil, err
		}
		dedupeKey = &key

		existing, err := s.repo.FindActiveByDedupe(ctx, req.Type, key)
		if err == nil {
			return &SubmitResult{Job: existing, Reused: true}, nil
		}
		if !errors.Is(err, postgresql.ErrNotFound) {
			return nil, err
		}
	}

	job := &entity.Job{
		ID:          uuid.New(),
		Type:        req.Type,
		Priority:    req.Priority,
		Payload:     req.Payload,
		MaxAttempts: s.maxAttempts,
		DedupeKey:   dedupeKey,
	}
	err := s.repo.Create(ctx, job)
	if errors.Is(err, postgresql.ErrDuplicateDedupe) && dedupeKey != nil {
		existing, findErr := s.repo.FindActiveByDedupe(ctx, req.Type, *dedupeKey)
		if findErr != nil {
			return nil, fmt.Errorf("lost dedupe race but winner not found: %w", findErr)
		}
		return &SubmitResult{Job: existing, Reused: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Job: job}, nil
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	j, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, postgresql.ErrNotFound) {
		return nil, ErrNotFound
	}
	return j, err
}

func (s *JobService) ListJobs(ctx context.Context, status entity.JobStatus, limit, offset int) ([]*entity.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, status, limit, offset)
}

func (s *JobService) ListItems(ctx context.Context, jobID uuid.UUID) ([]*entity.JobItem, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.items.ListByJob(ctx, jobID)
}

// countUnits is the size of the largest top-level array in the payload:
// the cards, recipients or rows of a batch, whichever the type carries.
func countUnits(payload json.RawMessage) int {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return 0
	}
	max := 0
	for _, raw := range obj {
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > max {
			max = len(arr)
		}
	}
	return max
}

// Cancel marks a non-terminal job cancelled. A running job stops at its
// next phase boundary; there is no mid-flight interruption of external
// calls.
func (s *JobService) Cancel(ctx context.Context, id uuid.UUID) error {
	err := s.repo.MarkCancelled(ctx, id)
	if errors.Is(err, postgresql.ErrNotFound) {
		// Either no such job or it is already terminal.
		j, getErr := s.repo.GetByID(ctx, id)
		if getErr != nil {
			return ErrNotFound
		}
		return fmt.Errorf("job is already %s", j.Status)
	}
	return err
}
