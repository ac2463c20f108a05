package postgresql

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema for the job engine. The partial unique index on (type, dedupe_key)
// is what enforces idempotent submission: among non-discarded jobs of one
// type, a dedupe key may appear once. The (job_id, seq) unique constraint
// makes the item fan-out "prepare" phase idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id             UUID PRIMARY KEY,
    type           TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'pending',
    priority       INT NOT NULL DEFAULT 0,
    payload        JSONB NOT NULL DEFAULT '{}',
    progress       INT NOT NULL DEFAULT 0,
    phase          TEXT,
    phase_progress INT NOT NULL DEFAULT 0,
    attempts       INT NOT NULL DEFAULT 0,
    max_attempts   INT NOT NULL DEFAULT 3,
    dedupe_key     TEXT,
    artifact_path  TEXT,
    artifact_type  TEXT,
    error_code     TEXT,
    error_message  TEXT,
    run_after      TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at     TIMESTAMPTZ,
    finished_at    TIMESTAMPTZ,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS jobs_type_dedupe_key_active
    ON jobs (type, dedupe_key)
    WHERE dedupe_key IS NOT NULL
      AND status IN ('pending', 'running', 'retrying', 'completed');

CREATE INDEX IF NOT EXISTS jobs_claim
    ON jobs (priority DESC, created_at ASC)
    WHERE status IN ('pending', 'retrying');

CREATE TABLE IF NOT EXISTS job_items (
    id            UUID PRIMARY KEY,
    job_id        UUID NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
    seq           INT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending',
    target        JSONB NOT NULL DEFAULT '{}',
    error_code    TEXT,
    error_message TEXT,
    started_at    TIMESTAMPTZ,
    finished_at   TIMESTAMPTZ,
    UNIQUE (job_id, seq)
);

CREATE INDEX IF NOT EXISTS job_items_job_status ON job_items (job_id, status);
`

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate job schema: %w", err)
	}
	return nil
}
