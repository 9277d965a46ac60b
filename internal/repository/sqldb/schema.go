package sqldb

import (
	"context"
	"fmt"
	"strings"

	"github.com/alfanzaky/zkqueue/pkg/logger"
)

// Timestamps are BIGINT unix milliseconds in both dialects.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS mempool_entries (
  id                       TEXT PRIMARY KEY,
  tx_hash                  TEXT NOT NULL,
  initiator_address        TEXT NOT NULL,
  nonce                    BIGINT NOT NULL,
  origin                   TEXT NOT NULL,
  priority_op_id           BIGINT UNIQUE,
  payload                  {{BLOB}} NOT NULL,
  gas_limit                BIGINT NOT NULL DEFAULT 0,
  max_fee_per_gas          BIGINT NOT NULL DEFAULT 0,
  max_priority_fee_per_gas BIGINT NOT NULL DEFAULT 0,
  gas_per_pubdata_limit    BIGINT NOT NULL DEFAULT 0,
  status                   TEXT NOT NULL,
  created_at               BIGINT NOT NULL,
  updated_at               BIGINT NOT NULL,
  completed_at             BIGINT,
  block_number             BIGINT,
  index_in_block           INTEGER,
  execution_info           TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_mempool_live_key
  ON mempool_entries(initiator_address, nonce)
  WHERE origin = 'l2' AND status = 'queued';
CREATE INDEX IF NOT EXISTS idx_mempool_hash
  ON mempool_entries(tx_hash);
CREATE UNIQUE INDEX IF NOT EXISTS uq_mempool_live_hash
  ON mempool_entries(tx_hash)
  WHERE status = 'queued';
CREATE INDEX IF NOT EXISTS idx_mempool_status_created
  ON mempool_entries(status, created_at, id);
CREATE INDEX IF NOT EXISTS idx_mempool_block
  ON mempool_entries(block_number);

CREATE TABLE IF NOT EXISTS prover_jobs (
  id                TEXT PRIMARY KEY,
  batch_number      BIGINT NOT NULL,
  circuit_type      TEXT NOT NULL,
  circuit_blob_url  TEXT NOT NULL DEFAULT '',
  aggregation_round INTEGER NOT NULL,
  sequence_number   INTEGER NOT NULL,
  protocol_version  INTEGER NOT NULL,
  status            TEXT NOT NULL,
  attempts          INTEGER NOT NULL DEFAULT 0,
  error             TEXT,
  time_taken_ms     BIGINT,
  created_at        BIGINT NOT NULL,
  updated_at        BIGINT NOT NULL,
  leased_at         BIGINT,
  completed_at      BIGINT,
  UNIQUE (batch_number, circuit_type, aggregation_round)
);

CREATE INDEX IF NOT EXISTS idx_prover_jobs_claim
  ON prover_jobs(status, aggregation_round, batch_number, sequence_number);
CREATE INDEX IF NOT EXISTS idx_prover_jobs_leases
  ON prover_jobs(status, leased_at);
`

// Migrate creates the queue tables and indexes. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	schema := strings.ReplaceAll(schemaTemplate, "{{BLOB}}", s.dialect.blobType)

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return classify(fmt.Errorf("failed to apply schema: %w", err))
		}
	}

	logger.Info("Database schema ready", logger.String("dialect", s.dialect.name))
	return nil
}
