package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	netmail "net/mail"

	"league-jobs-service/internal/entity"
	"league-jobs-service/internal/jobs"
	"league-jobs-service/internal/mail"
	"league-jobs-service/internal/progress"
	"league-jobs-service/internal/respool"
)

// TypeOfficialNotices sends one notice email per official, fanned out into
// job items so every recipient has an independently tracked outcome.
const TypeOfficialNotices = "official_notices_email"

var noticesPlan = progress.MustPlan(
	progress.Phase{Name: "validate", Weight: 5},
	progress.Phase{Name: "prepare", Weight: 10},
	progress.Phase{Name: "send", Weight: 70},
	progress.Phase{Name: "finalize", Weight: 15},
)

type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type NoticesPayload struct {
	Subject    string      `json:"subject"`
	HTML       string      `json:"html,omitempty"`
	Text       string      `json:"text,omitempty"`
	Recipients []Recipient `json:"recipients"`
	Stats      *BatchStats `json:"stats,omitempty"`
}

type NoticesHandler struct {
	sender mail.Sender
	items  ItemStore
	pool   *respool.Pool
	log    *slog.Logger
}

func NewNoticesHandler(sender mail.Sender, items ItemStore, pool *respool.Pool, log *slog.Logger) *NoticesHandler {
	return &NoticesHandler{sender: sender, items: items, pool: pool, log: log}
}

func (h *NoticesHandler) Type() string {
	return TypeOfficialNotices
}

func (h *NoticesHandler) Plan() progress.Plan {
	return noticesPlan
}

func (h *NoticesHandler) Run(ctx context.Context, ex *jobs.Execution) error {
	var payload NoticesPayload
	if err := json.Unmarshal(ex.Job.Payload, &payload); err != nil {
		return jobs.Validation("bad_payload", "payload is not a notices batch: "+err.Error())
	}

	// validate
	if err := ex.StartPhase(ctx, "validate"); err != nil {
		return err
	}
	if payload.Subject == "" {
		return jobs.Validation("missing_subject", "notice subject is required")
	}
	if payload.HTML == "" && payload.Text == "" {
		return jobs.Validation("missing_body", "notice needs an html or text body")
	}
	if len(payload.Recipients) == 0 {
		return jobs.Validation("empty_batch", "no recipients")
	}
	if err := ex.EndPhase(ctx); err != nil {
		return err
	}

	// prepare: one item per recipient, created exactly once. On a re-claimed
	// job CreateBatch inserts nothing and the send phase resumes where the
	// previous attempt stopped.
	if err := ex.StartPhase(ctx, "prepare"); err != nil {
		return err
	}
	targets := make([]json.RawMessage, len(payload.Recipients))
	for i, rcpt := range payload.Recipients {
		raw, err := json.Marshal(rcpt)
		if err != nil {
			return fmt.Errorf("marshal recipient %d: %w", i+1, err)
		}
		targets[i] = raw
	}
	if _, err := h.items.CreateBatch(ctx, ex.Job.ID, targets); err != nil {
		return fmt.Errorf("prepare items: %w", err)
	}
	if err := ex.EndPhase(ctx); err != nil {
		return err
	}

	// send
	if err := ex.StartPhase(ctx, "send"); err != nil {
		return err
	}
	pending, err := h.items.ListPending(ctx, ex.Job.ID)
	if err != nil {
		return fmt.Errorf("list pending items: %w", err)
	}
	total := len(payload.Recipients)
	processed := total - len(pending)

	for _, item := range pending {
		h.sendOne(ctx, item, &payload)
		processed++
		if err := ex.Step(ctx, processed*100/total); err != nil {
			return err
		}
	}

	// finalize: the job completes even when individual sends failed; the
	// outcome counts go back into the payload for the submitter.
	if err := ex.StartPhase(ctx, "finalize"); err != nil {
		return err
	}
	counts, err := h.items.CountByStatus(ctx, ex.Job.ID)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	payload.Stats = &BatchStats{
		Total:     total,
		Completed: counts[entity.ItemCompleted],
		Failed:    counts[entity.ItemFailed],
		Skipped:   counts[entity.ItemSkipped],
	}
	if err := ex.SavePayload(ctx, payload); err != nil {
		return err
	}
	return ex.EndPhase(ctx)
}

// sendOne settles a single item. Item outcomes never propagate: a bad
// address or provider failure is recorded on the item and the loop goes on.
func (h *NoticesHandler) sendOne(ctx context.Context, item *entity.JobItem, payload *NoticesPayload) {
	var rcpt Recipient
	if err := json.Unmarshal(item.Target, &rcpt); err != nil {
		_ = h.items.MarkSkipped(ctx, item.ID, "bad_target", err.Error())
		return
	}
	if _, err := netmail.ParseAddress(rcpt.Email); err != nil {
		_ = h.items.MarkSkipped(ctx, item.ID, "invalid_email", fmt.Sprintf("%q is not a valid address", rcpt.Email))
		return
	}

	if err := h.items.MarkRunning(ctx, item.ID); err != nil {
		h.log.Warn("mark item running failed", "job_id", item.JobID, "seq", item.Seq, "error", err)
	}

	err := h.deliver(ctx, mail.Message{
		To:      rcpt.Email,
		Subject: payload.Subject,
		HTML:    payload.HTML,
		Text:    payload.Text,
	})
	if err != nil {
		_, code := jobs.Classify(err)
		_ = h.items.MarkFailed(ctx, item.ID, code, err.Error())
		h.log.Warn("notice send failed", "job_id", item.JobID, "seq", item.Seq, "to", rcpt.Email, "error", err)
		return
	}
	_ = h.items.MarkCompleted(ctx, item.ID)
}

func (h *NoticesHandler) deliver(ctx context.Context, msg mail.Message) error {
	release, err := h.pool.Acquire(ctx, respool.ClassEmailSending)
	if err != nil {
		return err
	}
	defer release()
	return h.sender.Send(ctx, msg)
}
