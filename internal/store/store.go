// File: internal/store/store.go

// Package store persists validation reports and sandbox executions to
// PostgreSQL. Phase logs are brotli-compressed before insert; report
// checks go in bulk through CopyFrom. A Recorder wrapper decouples the
// validation path from database latency, and a Noop implementation
// stands in when no database is configured.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store is the PostgreSQL implementation of schemas.Store.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.Store = (*Store)(nil)

// Connect opens a pgx connection pool for the given URL. The caller owns
// the pool and closes it on shutdown.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("opening database pool: %w", err)
	}
	return pool, nil
}

// New verifies the connection and builds the store.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("Store")}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS validation_reports (
    id UUID PRIMARY KEY,
    capsule_id TEXT NOT NULL,
    overall_status TEXT NOT NULL,
    confidence_score DOUBLE PRECISION NOT NULL,
    iterations INTEGER NOT NULL DEFAULT 0,
    requires_human_review BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_validation_reports_capsule
    ON validation_reports (capsule_id, created_at DESC);

CREATE TABLE IF NOT EXISTS report_checks (
    report_id UUID NOT NULL REFERENCES validation_reports (id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    level TEXT NOT NULL,
    status TEXT NOT NULL,
    severity TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    details JSONB NOT NULL DEFAULT '{}',
    PRIMARY KEY (report_id, position)
);

CREATE TABLE IF NOT EXISTS sandbox_executions (
    id UUID PRIMARY KEY,
    capsule_id TEXT NOT NULL,
    language TEXT NOT NULL,
    phase TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    exit_code INTEGER NOT NULL,
    duration_ms BIGINT NOT NULL,
    peak_memory_bytes BIGINT NOT NULL,
    timed_out BOOLEAN NOT NULL,
    stdout_br BYTEA,
    stderr_br BYTEA,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sandbox_executions_capsule
    ON sandbox_executions (capsule_id, created_at DESC);
`

// EnsureSchema creates the tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

const insertReportSQL = `
INSERT INTO validation_reports
    (id, capsule_id, overall_status, confidence_score, iterations, requires_human_review, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`

// SaveReport writes a report and its checks in one transaction.
func (s *Store) SaveReport(ctx context.Context, report *schemas.ValidationReport) error {
	if report == nil {
		return errors.New("report cannot be nil")
	}
	if report.ID == "" {
		return errors.New("report id is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to roll back transaction.", zap.Error(rollbackErr))
		}
	}()

	createdAt := report.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = tx.Exec(ctx, insertReportSQL,
		report.ID, report.CapsuleID, string(report.OverallStatus),
		report.ConfidenceScore, report.Iterations, report.RequiresHumanReview,
		createdAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting report %s: %w", report.ID, err)
	}

	if len(report.Checks) > 0 {
		if err := s.copyChecks(ctx, tx, report.ID, report.Checks); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing report %s: %w", report.ID, err)
	}
	return nil
}

var checkColumns = []string{"report_id", "position", "name", "level", "status", "severity", "message", "details"}

func (s *Store) copyChecks(ctx context.Context, tx pgx.Tx, reportID string, checks []schemas.ValidationCheck) error {
	rows := make([][]any, len(checks))
	for i, check := range checks {
		details := json.RawMessage("{}")
		if len(check.Details) > 0 {
			encoded, err := json.Marshal(check.Details)
			if err != nil {
				return fmt.Errorf("encoding details for check %q: %w", check.Name, err)
			}
			details = encoded
		}
		rows[i] = []any{reportID, i, check.Name, string(check.Type), string(check.Status), string(check.Severity), check.Message, details}
	}

	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"report_checks"}, checkColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copying report checks: %w", err)
	}
	if int(copied) != len(checks) {
		return fmt.Errorf("copied %d of %d report checks", copied, len(checks))
	}
	return nil
}

const insertExecutionSQL = `
INSERT INTO sandbox_executions
    (id, capsule_id, language, phase, success, exit_code, duration_ms,
     peak_memory_bytes, timed_out, stdout_br, stderr_br, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
`

// SaveExecution writes one row per executed sandbox phase, with logs
// brotli-compressed. Results where no phase ran are skipped entirely.
func (s *Store) SaveExecution(ctx context.Context, capsuleID string, result *schemas.RuntimeValidationResult) error {
	if capsuleID == "" {
		return errors.New("capsule id is required")
	}
	if result == nil {
		return errors.New("result cannot be nil")
	}

	executed := make([]schemas.PhaseResult, 0, len(result.Phases))
	for _, phase := range result.Phases {
		if phase.Executed {
			executed = append(executed, phase)
		}
	}
	if len(executed) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to roll back transaction.", zap.Error(rollbackErr))
		}
	}()

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, phase := range executed {
		stdout, err := compress(phase.Stdout)
		if err != nil {
			return fmt.Errorf("compressing stdout for phase %s: %w", phase.Phase, err)
		}
		stderr, err := compress(phase.Stderr)
		if err != nil {
			return fmt.Errorf("compressing stderr for phase %s: %w", phase.Phase, err)
		}
		batch.Queue(insertExecutionSQL,
			uuid.NewString(), capsuleID, string(result.Language), string(phase.Phase),
			phase.Success, phase.ExitCode, phase.Duration.Milliseconds(),
			phase.PeakMemoryBytes, phase.TimedOut, stdout, stderr, now)
	}

	results := tx.SendBatch(ctx, batch)
	if results == nil {
		return errors.New("sending execution batch: batch results is nil")
	}
	for i, phase := range executed {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("inserting execution for phase %s (index %d): %w", phase.Phase, i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("closing execution batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing executions for capsule %s: %w", capsuleID, err)
	}
	return nil
}

const selectReportsSQL = `
SELECT r.id, r.capsule_id, r.overall_status, r.confidence_score,
       r.iterations, r.requires_human_review, r.created_at,
       c.name, c.level, c.status, c.severity, c.message, c.details
FROM validation_reports r
LEFT JOIN report_checks c ON c.report_id = r.id
WHERE r.capsule_id = $1
ORDER BY r.created_at DESC, c.position ASC;
`

// GetReportsByCapsule returns every report recorded for the capsule,
// newest first, with checks in their original order.
func (s *Store) GetReportsByCapsule(ctx context.Context, capsuleID string) ([]schemas.ValidationReport, error) {
	rows, err := s.pool.Query(ctx, selectReportsSQL, capsuleID)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	defer rows.Close()

	var reports []schemas.ValidationReport
	index := make(map[string]int)

	for rows.Next() {
		var (
			report     schemas.ValidationReport
			status     string
			checkName  *string
			checkLevel *string
			checkState *string
			checkSev   *string
			checkMsg   *string
			details    []byte
		)
		err := rows.Scan(
			&report.ID, &report.CapsuleID, &status, &report.ConfidenceScore,
			&report.Iterations, &report.RequiresHumanReview, &report.CreatedAt,
			&checkName, &checkLevel, &checkState, &checkSev, &checkMsg, &details)
		if err != nil {
			return nil, fmt.Errorf("scanning report row: %w", err)
		}
		report.OverallStatus = schemas.CheckStatus(status)

		pos, seen := index[report.ID]
		if !seen {
			pos = len(reports)
			index[report.ID] = pos
			reports = append(reports, report)
		}

		// A report without checks still yields one row, with NULLs on the
		// check side of the join.
		if checkName == nil {
			continue
		}
		check := schemas.ValidationCheck{
			Name:     *checkName,
			Type:     schemas.ValidationLevel(deref(checkLevel)),
			Status:   schemas.CheckStatus(deref(checkState)),
			Severity: schemas.FeedbackSeverity(deref(checkSev)),
		}
		if checkMsg != nil {
			check.Message = *checkMsg
		}
		if len(details) > 0 && string(details) != "{}" {
			if err := json.Unmarshal(details, &check.Details); err != nil {
				return nil, fmt.Errorf("decoding details for check %q: %w", check.Name, err)
			}
		}
		reports[pos].Checks = append(reports[pos].Checks, check)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating report rows: %w", err)
	}
	return reports, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// compress brotli-encodes a log stream. Empty input stays NULL in the row.
func compress(text string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write([]byte(text)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
