// internal/sink/sink.go

// Package sink persists final results. Writes are best-effort: the callback
// is the contract with the caller, storage is the audit trail, so a sink
// failure is logged and counted but never fails the invocation.
package sink

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	"memberflow/internal/common/errors"
	"memberflow/internal/common/logger"
	"memberflow/internal/common/metrics"
	"memberflow/internal/models"
)

// Upsert keyed by envelope id, so an at-least-once redelivery that slips past
// the dedupe claim overwrites its earlier row instead of duplicating it.
const upsertQuery = `
	INSERT INTO pipeline_results (id, flow, status, result, created_at, updated_at)
	VALUES ($1, $2, $3, $4, NOW(), NOW())
	ON CONFLICT (id) DO UPDATE
	SET status = EXCLUDED.status, result = EXCLUDED.result, updated_at = NOW()`

type Sink struct {
	db         *sql.DB
	es         *elasticsearch.Client
	auditIndex string
	logger     logger.Logger
}

func New(db *sql.DB, es *elasticsearch.Client, auditIndex string, log logger.Logger) *Sink {
	return &Sink{
		db:         db,
		es:         es,
		auditIndex: auditIndex,
		logger:     log,
	}
}

// Write persists one final result to both destinations. Each destination
// fails independently.
func (s *Sink) Write(ctx context.Context, result *models.FinalResult) {
	document, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("result not serializable, nothing persisted", map[string]interface{}{
			"id":    result.ID,
			"error": err.Error(),
		})
		return
	}

	if err := s.writePostgres(ctx, result, document); err != nil {
		metrics.SinkWriteFailures.WithLabelValues("postgres").Inc()
		s.logger.Error("postgres write failed", map[string]interface{}{
			"id":    result.ID,
			"error": err.Error(),
		})
	}

	if err := s.writeAudit(ctx, result, document); err != nil {
		metrics.SinkWriteFailures.WithLabelValues("elasticsearch").Inc()
		s.logger.Error("audit write failed", map[string]interface{}{
			"id":    result.ID,
			"error": err.Error(),
		})
	}
}

func (s *Sink) writePostgres(ctx context.Context, result *models.FinalResult, document []byte) error {
	if s.db == nil {
		return nil
	}

	_, err := s.db.ExecContext(ctx, upsertQuery, result.ID, string(result.Flow), result.Status, document)
	if err != nil {
		return errors.NewSinkWriteFailedError("postgres", err)
	}
	return nil
}

// writeAudit appends the result to the audit index, keyed by envelope id for
// the same overwrite-on-redelivery behavior as the table.
func (s *Sink) writeAudit(ctx context.Context, result *models.FinalResult, document []byte) error {
	if s.es == nil {
		return nil
	}

	res, err := s.es.Index(
		s.auditIndex,
		bytes.NewReader(document),
		s.es.Index.WithContext(ctx),
		s.es.Index.WithDocumentID(result.ID),
	)
	if err != nil {
		return errors.NewSinkWriteFailedError("elasticsearch", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.NewSinkWriteFailedError("elasticsearch", fmt.Errorf("index returned %s", res.Status()))
	}
	return nil
}
