package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"league-jobs-service/internal/entity"
	"league-jobs-service/internal/respool"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testPool() *respool.Pool {
	p, err := respool.New(map[string]int64{
		respool.ClassPDFGeneration: 2,
		respool.ClassEmailSending:  2,
		respool.ClassNetwork:       2,
	})
	if err != nil {
		panic(err)
	}
	return p
}

// fakeJobStore records the phase and artifact updates an execution makes.
type fakeJobStore struct {
	phases       []string
	artifactPath string
	artifactType string
	payload      json.RawMessage
}

func (s *fakeJobStore) GetStatus(ctx context.Context, id uuid.UUID) (entity.JobStatus, error) {
	return entity.StatusRunning, nil
}

func (s *fakeJobStore) SetPhase(ctx context.Context, id uuid.UUID, phase string, overall int) error {
	s.phases = append(s.phases, phase)
	return nil
}

func (s *fakeJobStore) SetPhaseProgress(ctx context.Context, id uuid.UUID, phasePct, overall int) error {
	return nil
}

func (s *fakeJobStore) SetArtifact(ctx context.Context, id uuid.UUID, path, contentType string) error {
	s.artifactPath = path
	s.artifactType = contentType
	return nil
}

func (s *fakeJobStore) UpdatePayload(ctx context.Context, id uuid.UUID, payload json.RawMessage) error {
	s.payload = payload
	return nil
}

func runningJob(typ, payload string) *entity.Job {
	return &entity.Job{
		ID:      uuid.New(),
		Type:    typ,
		Status:  entity.StatusRunning,
		Payload: json.RawMessage(payload),
	}
}

type fakeStorage struct {
	uploads map[string][]byte
	types   map[string]string
}

func (s *fakeStorage) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if s.uploads == nil {
		s.uploads = make(map[string][]byte)
		s.types = make(map[string]string)
	}
	s.uploads[path] = data
	s.types[path] = contentType
	return nil
}

func (s *fakeStorage) CreateSignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	return "https://signed.test/" + path, nil
}

// fakeItemStore is an in-memory ItemStore with the repository's semantics:
// CreateBatch is a no-op once items exist, marks settle items in place.
type fakeItemStore struct {
	mu    sync.Mutex
	items []*entity.JobItem
}

func (s *fakeItemStore) CreateBatch(ctx context.Context, jobID uuid.UUID, targets []json.RawMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) > 0 {
		return 0, nil
	}
	for i, target := range targets {
		s.items = append(s.items, &entity.JobItem{
			ID:     uuid.New(),
			JobID:  jobID,
			Seq:    i + 1,
			Status: entity.ItemPending,
			Target: target,
		})
	}
	return int64(len(targets)), nil
}

func (s *fakeItemStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*entity.JobItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.JobItem, len(s.items))
	copy(out, s.items)
	return out, nil
}

func (s *fakeItemStore) ListPending(ctx context.Context, jobID uuid.UUID) ([]*entity.JobItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.JobItem
	for _, it := range s.items {
		if it.Status == entity.ItemPending || it.Status == entity.ItemRunning {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *fakeItemStore) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return s.set(id, entity.ItemRunning, nil, nil)
}

func (s *fakeItemStore) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return s.set(id, entity.ItemCompleted, nil, nil)
}

func (s *fakeItemStore) MarkFailed(ctx context.Context, id uuid.UUID, code, message string) error {
	return s.set(id, entity.ItemFailed, &code, &message)
}

func (s *fakeItemStore) MarkSkipped(ctx context.Context, id uuid.UUID, code, message string) error {
	return s.set(id, entity.ItemSkipped, &code, &message)
}

func (s *fakeItemStore) set(id uuid.UUID, status entity.ItemStatus, code, message *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.ID == id {
			it.Status = status
			it.ErrorCode = code
			it.ErrorMessage = message
			now := time.Now()
			it.FinishedAt = &now
			return nil
		}
	}
	return errors.New("item not found")
}

func (s *fakeItemStore) CountByStatus(ctx context.Context, jobID uuid.UUID) (map[entity.ItemStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[entity.ItemStatus]int)
	for _, it := range s.items {
		counts[it.Status]++
	}
	return counts, nil
}
