package httptransport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"league-jobs-service/internal/entity"
	"league-jobs-service/internal/repository/postgresql"
	"league-jobs-service/internal/service"
	httptransport "league-jobs-service/internal/transport/http"
)

type stubJobRepo struct {
	jobs map[uuid.UUID]*entity.Job
}

func newStubJobRepo(js ...*entity.Job) *stubJobRepo {
	r := &stubJobRepo{jobs: make(map[uuid.UUID]*entity.Job)}
	for _, j := range js {
		r.jobs[j.ID] = j
	}
	return r
}

func (r *stubJobRepo) Create(ctx context.Context, j *entity.Job) error {
	j.Status = entity.StatusPending
	j.CreatedAt = time.Now()
	j.UpdatedAt = j.CreatedAt
	r.jobs[j.ID] = j
	return nil
}

func (r *stubJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	return j, nil
}

func (r *stubJobRepo) FindActiveByDedupe(ctx context.Context, typ, key string) (*entity.Job, error) {
	for _, j := range r.jobs {
		if j.Type == typ && j.DedupeKey != nil && *j.DedupeKey == key &&
			j.Status != entity.StatusFailed && j.Status != entity.StatusCancelled {
			return j, nil
		}
	}
	return nil, postgresql.ErrNotFound
}

func (r *stubJobRepo) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	j, ok := r.jobs[id]
	if !ok || j.Status.Terminal() {
		return postgresql.ErrNotFound
	}
	j.Status = entity.StatusCancelled
	return nil
}

func (r *stubJobRepo) List(ctx context.Context, status entity.JobStatus, limit, offset int) ([]*entity.Job, error) {
	var out []*entity.Job
	for _, j := range r.jobs {
		if status == "" || j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}

type stubItemRepo struct {
	items []*entity.JobItem
}

func (r *stubItemRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*entity.JobItem, error) {
	return r.items, nil
}

type stubTypes struct{}

func (stubTypes) Known(typ string) bool { return typ == "assignments_export" }

type stubStorage struct {
	signErr error
}

func (s *stubStorage) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	return nil
}

func (s *stubStorage) CreateSignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if s.signErr != nil {
		return "", s.signErr
	}
	return "https://signed.test/" + path, nil
}

func newServer(repo *stubJobRepo, items *stubItemRepo, store *stubStorage) http.Handler {
	svc := service.NewJobService(repo, items, stubTypes{}, 3)
	return httptransport.Routes(httptransport.NewHandler(svc, store, time.Minute))
}

func doJSON(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestSubmitJob(t *testing.T) {
	repo := newStubJobRepo()
	srv := newServer(repo, &stubItemRepo{}, &stubStorage{})

	rec := doJSON(t, srv, http.MethodPost, "/jobs",
		`{"type":"assignments_export","payload":{"columns":["a"],"rows":[]},"priority":2}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		JobID    string `json:"jobId"`
		Reused   bool   `json:"reused"`
		Status   string `json:"status"`
		Progress int    `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Reused)
	assert.Equal(t, "pending", resp.Status)

	id, err := uuid.Parse(resp.JobID)
	require.NoError(t, err)
	assert.Contains(t, repo.jobs, id)
}

func TestSubmitJob_DedupeReturns200(t *testing.T) {
	repo := newStubJobRepo()
	srv := newServer(repo, &stubItemRepo{}, &stubStorage{})

	body := `{"type":"assignments_export","payload":{"columns":["a"],"rows":[]},"dedupe":true}`
	first := doJSON(t, srv, http.MethodPost, "/jobs", body)
	require.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(t, srv, http.MethodPost, "/jobs", body)
	require.Equal(t, http.StatusOK, second.Code)

	var resp struct {
		Reused bool `json:"reused"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.True(t, resp.Reused)
}

func TestSubmitJob_BadRequests(t *testing.T) {
	srv := newServer(newStubJobRepo(), &stubItemRepo{}, &stubStorage{})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing type", `{"payload":{}}`},
		{"unknown type", `{"type":"mystery"}`},
		{"priority out of range", `{"type":"assignments_export","priority":12}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetJob(t *testing.T) {
	job := &entity.Job{
		ID:        uuid.New(),
		Type:      "assignments_export",
		Status:    entity.StatusRunning,
		Progress:  45,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	srv := newServer(newStubJobRepo(job), &stubItemRepo{}, &stubStorage{})

	rec := doJSON(t, srv, http.MethodGet, "/jobs/"+job.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status   string `json:"status"`
		Progress int    `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, 45, resp.Progress)

	assert.Equal(t, http.StatusNotFound,
		doJSON(t, srv, http.MethodGet, "/jobs/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusBadRequest,
		doJSON(t, srv, http.MethodGet, "/jobs/not-a-uuid", "").Code)
}

func TestListItems(t *testing.T) {
	job := &entity.Job{ID: uuid.New(), Type: "assignments_export", Status: entity.StatusCompleted}
	code := "invalid_email"
	items := &stubItemRepo{items: []*entity.JobItem{
		{ID: uuid.New(), JobID: job.ID, Seq: 1, Status: entity.ItemCompleted, Target: json.RawMessage(`{"email":"a@x.test"}`)},
		{ID: uuid.New(), JobID: job.ID, Seq: 2, Status: entity.ItemSkipped, ErrorCode: &code, Target: json.RawMessage(`{"email":"bad"}`)},
	}}
	srv := newServer(newStubJobRepo(job), items, &stubStorage{})

	rec := doJSON(t, srv, http.MethodGet, "/jobs/"+job.ID.String()+"/items", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []struct {
		Seq       int     `json:"seq"`
		Status    string  `json:"status"`
		ErrorCode *string `json:"error_code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "completed", resp[0].Status)
	assert.Equal(t, "invalid_email", *resp[1].ErrorCode)
}

func TestGetArtifact(t *testing.T) {
	path := "exports/abc.csv"
	done := &entity.Job{ID: uuid.New(), Type: "assignments_export", Status: entity.StatusCompleted, ArtifactPath: &path}
	running := &entity.Job{ID: uuid.New(), Type: "assignments_export", Status: entity.StatusRunning}
	srv := newServer(newStubJobRepo(done, running), &stubItemRepo{}, &stubStorage{})

	rec := doJSON(t, srv, http.MethodGet, "/jobs/"+done.ID.String()+"/artifact", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://signed.test/exports/abc.csv", resp["url"])

	assert.Equal(t, http.StatusConflict,
		doJSON(t, srv, http.MethodGet, "/jobs/"+running.ID.String()+"/artifact", "").Code,
		"no artifact before completion")
}

func TestCancelJob(t *testing.T) {
	job := &entity.Job{ID: uuid.New(), Type: "assignments_export", Status: entity.StatusPending}
	repo := newStubJobRepo(job)
	srv := newServer(repo, &stubItemRepo{}, &stubStorage{})

	rec := doJSON(t, srv, http.MethodPost, "/jobs/"+job.ID.String()+"/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, entity.StatusCancelled, job.Status)

	// a second cancel conflicts with the terminal state
	assert.Equal(t, http.StatusConflict,
		doJSON(t, srv, http.MethodPost, "/jobs/"+job.ID.String()+"/cancel", "").Code)

	assert.Equal(t, http.StatusNotFound,
		doJSON(t, srv, http.MethodPost, "/jobs/"+uuid.NewString()+"/cancel", "").Code)
}
