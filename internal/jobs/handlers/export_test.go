package handlers_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"league-jobs-service/internal/jobs"
	"league-jobs-service/internal/jobs/handlers"
)

func TestExport_WritesCSVArtifact(t *testing.T) {
	store := &fakeStorage{}
	h := handlers.NewExportHandler(store, discard)

	payload := `{
		"columns": ["match", "official", "role"],
		"rows": [
			["M-1", "Ada", "referee"],
			["M-1", "Linus", "assistant"],
			["M-2", "Grace, PhD", "referee"]
		]
	}`
	job := runningJob(handlers.TypeAssignmentsExport, payload)
	jobStore := &fakeJobStore{}

	require.NoError(t, h.Run(context.Background(), jobs.NewExecution(job, h.Plan(), jobStore, nil)))

	wantPath := "exports/" + job.ID.String() + ".csv"
	assert.Equal(t, wantPath, jobStore.artifactPath)
	assert.Equal(t, "text/csv", jobStore.artifactType)

	want := "match,official,role\n" +
		"M-1,Ada,referee\n" +
		"M-1,Linus,assistant\n" +
		"M-2,\"Grace, PhD\",referee\n"
	assert.Equal(t, want, string(store.uploads[wantPath]))

	var out handlers.ExportPayload
	require.NoError(t, json.Unmarshal(jobStore.payload, &out))
	require.NotNil(t, out.Stats)
	assert.Equal(t, 3, out.Stats.Rows)
	assert.Equal(t, len(want), out.Stats.Bytes)
}

func TestExport_HeaderOnlyIsValid(t *testing.T) {
	store := &fakeStorage{}
	h := handlers.NewExportHandler(store, discard)

	job := runningJob(handlers.TypeAssignmentsExport, `{"columns":["match","official"],"rows":[]}`)
	jobStore := &fakeJobStore{}

	require.NoError(t, h.Run(context.Background(), jobs.NewExecution(job, h.Plan(), jobStore, nil)))
	assert.Equal(t, "match,official\n", string(store.uploads[jobStore.artifactPath]))
}

func TestExport_ValidatesShape(t *testing.T) {
	h := handlers.NewExportHandler(&fakeStorage{}, discard)

	tests := []struct {
		name    string
		payload string
		code    string
	}{
		{"no columns", `{"columns":[],"rows":[]}`, "missing_columns"},
		{"ragged rows", `{"columns":["a","b"],"rows":[["1","2"],["3"]]}`, "ragged_rows"},
		{"not an export", `"plain string"`, "bad_payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := runningJob(handlers.TypeAssignmentsExport, tt.payload)
			err := h.Run(context.Background(), jobs.NewExecution(job, h.Plan(), &fakeJobStore{}, nil))

			require.Error(t, err)
			category, code := jobs.Classify(err)
			assert.Equal(t, jobs.CategoryValidation, category)
			assert.Equal(t, tt.code, code)
		})
	}
}
