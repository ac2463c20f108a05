package handlers

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"

	"league-jobs-service/internal/jobs"
	"league-jobs-service/internal/progress"
	"league-jobs-service/internal/storage"
)

// TypeAssignmentsExport writes a CSV snapshot of assignment data and
// uploads it for download.
const TypeAssignmentsExport = "assignments_export"

var exportPlan = progress.MustPlan(
	progress.Phase{Name: "collect", Weight: 20},
	progress.Phase{Name: "encode", Weight: 40},
	progress.Phase{Name: "upload", Weight: 40},
)

type ExportPayload struct {
	Title   string      `json:"title,omitempty"`
	Columns []string    `json:"columns"`
	Rows    [][]string  `json:"rows"`
	Stats   *ExportStat `json:"stats,omitempty"`
}

type ExportStat struct {
	Rows  int `json:"rows"`
	Bytes int `json:"bytes"`
}

type ExportHandler struct {
	store storage.Client
	log   *slog.Logger
}

func NewExportHandler(store storage.Client, log *slog.Logger) *ExportHandler {
	return &ExportHandler{store: store, log: log}
}

func (h *ExportHandler) Type() string {
	return TypeAssignmentsExport
}

func (h *ExportHandler) Plan() progress.Plan {
	return exportPlan
}

func (h *ExportHandler) Run(ctx context.Context, ex *jobs.Execution) error {
	var payload ExportPayload
	if err := json.Unmarshal(ex.Job.Payload, &payload); err != nil {
		return jobs.Validation("bad_payload", "payload is not an export request: "+err.Error())
	}

	// collect
	if err := ex.StartPhase(ctx, "collect"); err != nil {
		return err
	}
	if len(payload.Columns) == 0 {
		return jobs.Validation("missing_columns", "export needs at least one column")
	}
	for i, row := range payload.Rows {
		if len(row) != len(payload.Columns) {
			return jobs.Validation("ragged_rows",
				fmt.Sprintf("row %d has %d cells, want %d", i+1, len(row), len(payload.Columns)))
		}
	}
	if err := ex.EndPhase(ctx); err != nil {
		return err
	}

	// encode
	if err := ex.StartPhase(ctx, "encode"); err != nil {
		return err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(payload.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range payload.Rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
		if (i+1)%100 == 0 {
			if err := ex.Step(ctx, (i+1)*100/len(payload.Rows)); err != nil {
				return err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := ex.EndPhase(ctx); err != nil {
		return err
	}

	// upload
	if err := ex.StartPhase(ctx, "upload"); err != nil {
		return err
	}
	if buf.Len() == 0 {
		return jobs.Validation("artifact_empty", "encoded export is empty")
	}
	path := "exports/" + ex.Job.ArtifactKey() + ".csv"
	if err := h.store.Upload(ctx, path, buf.Bytes(), "text/csv"); err != nil {
		return fmt.Errorf("upload export: %w", err)
	}
	if err := ex.SetArtifact(ctx, path, "text/csv"); err != nil {
		return err
	}

	payload.Stats = &ExportStat{Rows: len(payload.Rows), Bytes: buf.Len()}
	if err := ex.SavePayload(ctx, payload); err != nil {
		return err
	}
	return ex.EndPhase(ctx)
}
