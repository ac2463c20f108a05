package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"league-jobs-service/internal/jobs"
	"league-jobs-service/internal/pdf"
	"league-jobs-service/internal/progress"
	"league-jobs-service/internal/respool"
	"league-jobs-service/internal/storage"
)

// TypeMatchCards renders one appointment card per (match, official) pair
// and merges them into a single PDF for printing.
const TypeMatchCards = "match_cards_pdf"

var matchCardsPlan = progress.MustPlan(
	progress.Phase{Name: "validate", Weight: 5},
	progress.Phase{Name: "generate", Weight: 50},
	progress.Phase{Name: "merge", Weight: 25},
	progress.Phase{Name: "upload", Weight: 20},
)

type MatchCardsPayload struct {
	Cards []pdf.RenderRequest `json:"cards"`
	Stats *BatchStats         `json:"stats,omitempty"`
}

type MatchCardsHandler struct {
	generator pdf.Generator
	merger    pdf.Merger
	store     storage.Client
	pool      *respool.Pool
	log       *slog.Logger
}

func NewMatchCardsHandler(generator pdf.Generator, merger pdf.Merger, store storage.Client, pool *respool.Pool, log *slog.Logger) *MatchCardsHandler {
	return &MatchCardsHandler{generator: generator, merger: merger, store: store, pool: pool, log: log}
}

func (h *MatchCardsHandler) Type() string {
	return TypeMatchCards
}

func (h *MatchCardsHandler) Plan() progress.Plan {
	return matchCardsPlan
}

func (h *MatchCardsHandler) Run(ctx context.Context, ex *jobs.Execution) error {
	var payload MatchCardsPayload
	if err := json.Unmarshal(ex.Job.Payload, &payload); err != nil {
		return jobs.Validation("bad_payload", "payload is not a match-cards batch: "+err.Error())
	}

	// validate
	if err := ex.StartPhase(ctx, "validate"); err != nil {
		return err
	}
	if len(payload.Cards) == 0 {
		return jobs.Validation("empty_batch", "no cards to generate")
	}
	for i, card := range payload.Cards {
		if card.MatchID == "" || card.OfficialID == "" {
			return jobs.Validation("invalid_cards", fmt.Sprintf("card %d is missing matchId or officialId", i+1))
		}
	}
	if err := ex.EndPhase(ctx); err != nil {
		return err
	}

	// generate: per-card failures are recorded, not fatal. Only when every
	// card failed for a transient reason does the whole job retry.
	if err := ex.StartPhase(ctx, "generate"); err != nil {
		return err
	}
	var (
		docs          [][]byte
		failed        int
		lastTransient error
	)
	for i, card := range payload.Cards {
		doc, err := h.renderOne(ctx, card)
		if err != nil {
			failed++
			if cat, _ := jobs.Classify(err); cat.Retryable() {
				lastTransient = err
			}
			h.log.Warn("card render failed",
				"job_id", ex.Job.ID, "match_id", card.MatchID, "official_id", card.OfficialID, "error", err)
		} else {
			docs = append(docs, doc)
		}
		if err := ex.Step(ctx, (i+1)*100/len(payload.Cards)); err != nil {
			return err
		}
	}

	// merge
	if err := ex.StartPhase(ctx, "merge"); err != nil {
		return err
	}
	if len(docs) == 0 {
		if lastTransient != nil {
			return fmt.Errorf("every card failed upstream: %w", lastTransient)
		}
		return jobs.Validation("no_pages", "no cards were generated, refusing to produce an empty document")
	}
	merged, err := h.merger.Merge(ctx, docs)
	if err != nil {
		return fmt.Errorf("merge cards: %w", err)
	}
	if err := ex.EndPhase(ctx); err != nil {
		return err
	}

	// upload
	if err := ex.StartPhase(ctx, "upload"); err != nil {
		return err
	}
	if len(merged) == 0 {
		return jobs.Validation("artifact_empty", "merged document is empty")
	}
	path := "match-cards/" + ex.Job.ArtifactKey() + ".pdf"
	if err := h.store.Upload(ctx, path, merged, "application/pdf"); err != nil {
		return fmt.Errorf("upload merged cards: %w", err)
	}
	if err := ex.SetArtifact(ctx, path, "application/pdf"); err != nil {
		return err
	}

	payload.Stats = &BatchStats{
		Total:     len(payload.Cards),
		Completed: len(docs),
		Failed:    failed,
	}
	if err := ex.SavePayload(ctx, payload); err != nil {
		return err
	}
	return ex.EndPhase(ctx)
}

func (h *MatchCardsHandler) renderOne(ctx context.Context, card pdf.RenderRequest) ([]byte, error) {
	release, err := h.pool.Acquire(ctx, respool.ClassPDFGeneration)
	if err != nil {
		return nil, err
	}
	defer release()
	return h.generator.Render(ctx, card)
}
