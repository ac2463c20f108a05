package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"league-jobs-service/internal/entity"
	"league-jobs-service/internal/jobs"
	"league-jobs-service/internal/jobs/handlers"
	"league-jobs-service/internal/mail"
)

type fakeSender struct {
	sent     []string
	failWith map[string]error
}

func (s *fakeSender) Send(ctx context.Context, msg mail.Message) error {
	if err, ok := s.failWith[msg.To]; ok {
		return err
	}
	s.sent = append(s.sent, msg.To)
	return nil
}

func noticesPayload(emails ...string) string {
	rcpts := make([]map[string]string, len(emails))
	for i, e := range emails {
		rcpts[i] = map[string]string{"email": e}
	}
	raw, _ := json.Marshal(map[string]any{
		"subject":    "Round 12 appointments",
		"text":       "You have been appointed.",
		"recipients": rcpts,
	})
	return string(raw)
}

func TestNotices_SkipsInvalidAddressesAndCompletes(t *testing.T) {
	emails := make([]string, 10)
	for i := range emails {
		emails[i] = fmt.Sprintf("official%d@league.test", i+1)
	}
	// three addresses that cannot be delivered to anyone
	emails[1] = "not-an-email"
	emails[4] = "@missing-local"
	emails[7] = "spaces in@addr"

	sender := &fakeSender{}
	items := &fakeItemStore{}
	h := handlers.NewNoticesHandler(sender, items, testPool(), discard)

	job := runningJob(handlers.TypeOfficialNotices, noticesPayload(emails...))
	jobStore := &fakeJobStore{}

	require.NoError(t, h.Run(context.Background(), jobs.NewExecution(job, h.Plan(), jobStore, nil)),
		"bad recipients must not fail the batch")

	assert.Len(t, sender.sent, 7)

	var payload handlers.NoticesPayload
	require.NoError(t, json.Unmarshal(jobStore.payload, &payload))
	require.NotNil(t, payload.Stats)
	assert.Equal(t, handlers.BatchStats{Total: 10, Completed: 7, Skipped: 3}, *payload.Stats)

	counts, err := items.CountByStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, counts[entity.ItemCompleted])
	assert.Equal(t, 3, counts[entity.ItemSkipped])
}

func TestNotices_ProviderFailureIsRecordedOnItem(t *testing.T) {
	sender := &fakeSender{failWith: map[string]error{
		"b@league.test": jobs.Transient(jobs.CategoryRateLimit, "email_rate_limited", fmt.Errorf("429")),
	}}
	items := &fakeItemStore{}
	h := handlers.NewNoticesHandler(sender, items, testPool(), discard)

	job := runningJob(handlers.TypeOfficialNotices, noticesPayload("a@league.test", "b@league.test"))
	jobStore := &fakeJobStore{}

	require.NoError(t, h.Run(context.Background(), jobs.NewExecution(job, h.Plan(), jobStore, nil)))

	var payload handlers.NoticesPayload
	require.NoError(t, json.Unmarshal(jobStore.payload, &payload))
	assert.Equal(t, handlers.BatchStats{Total: 2, Completed: 1, Failed: 1}, *payload.Stats)

	all, err := items.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	for _, it := range all {
		if it.Status == entity.ItemFailed {
			assert.Equal(t, "email_rate_limited", *it.ErrorCode)
		}
	}
}

func TestNotices_ResumeDoesNotResendSettledItems(t *testing.T) {
	sender := &fakeSender{}
	items := &fakeItemStore{}
	h := handlers.NewNoticesHandler(sender, items, testPool(), discard)

	job := runningJob(handlers.TypeOfficialNotices, noticesPayload("a@league.test", "b@league.test", "c@league.test"))

	// first attempt ran the prepare phase and settled one item before dying
	targets := []json.RawMessage{
		json.RawMessage(`{"email":"a@league.test"}`),
		json.RawMessage(`{"email":"b@league.test"}`),
		json.RawMessage(`{"email":"c@league.test"}`),
	}
	_, err := items.CreateBatch(context.Background(), job.ID, targets)
	require.NoError(t, err)
	require.NoError(t, items.MarkCompleted(context.Background(), items.items[0].ID))

	jobStore := &fakeJobStore{}
	require.NoError(t, h.Run(context.Background(), jobs.NewExecution(job, h.Plan(), jobStore, nil)))

	assert.Equal(t, []string{"b@league.test", "c@league.test"}, sender.sent,
		"the settled item must not be delivered twice")

	var payload handlers.NoticesPayload
	require.NoError(t, json.Unmarshal(jobStore.payload, &payload))
	assert.Equal(t, handlers.BatchStats{Total: 3, Completed: 3}, *payload.Stats)

	all, err := items.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3, "prepare must not duplicate items on resume")
}

func TestNotices_ValidatesPayload(t *testing.T) {
	h := handlers.NewNoticesHandler(&fakeSender{}, &fakeItemStore{}, testPool(), discard)

	tests := []struct {
		name    string
		payload string
		code    string
	}{
		{"no subject", `{"text":"x","recipients":[{"email":"a@x.test"}]}`, "missing_subject"},
		{"no body", `{"subject":"s","recipients":[{"email":"a@x.test"}]}`, "missing_body"},
		{"no recipients", `{"subject":"s","text":"x","recipients":[]}`, "empty_batch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := runningJob(handlers.TypeOfficialNotices, tt.payload)
			err := h.Run(context.Background(), jobs.NewExecution(job, h.Plan(), &fakeJobStore{}, nil))

			require.Error(t, err)
			category, code := jobs.Classify(err)
			assert.Equal(t, jobs.CategoryValidation, category)
			assert.Equal(t, tt.code, code)
		})
	}
}
