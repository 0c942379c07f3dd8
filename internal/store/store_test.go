package store

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/crucible/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

// anyValue accepts any argument (timestamps, generated ids, compressed blobs).
var anyValue = ArgumentMatcherFunc(func(interface{}) bool {
	return true
})

func observedStoreLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func sampleReport() *schemas.ValidationReport {
	return &schemas.ValidationReport{
		ID:              uuid.NewString(),
		CapsuleID:       "cap-1",
		OverallStatus:   schemas.StatusPassed,
		ConfidenceScore: 0.92,
		Iterations:      2,
		CreatedAt:       time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC),
		Checks: []schemas.ValidationCheck{
			{
				Name:    "syntax",
				Type:    schemas.LevelBasic,
				Status:  schemas.StatusPassed,
				Message: "All files parse.",
			},
			{
				Name:    "sandbox_run",
				Type:    schemas.LevelFunctional,
				Status:  schemas.StatusPassed,
				Message: "Capsule ran cleanly.",
				Details: map[string]interface{}{"exit_code": 0},
			},
		},
	}
}

func sampleRuntimeResult() *schemas.RuntimeValidationResult {
	return &schemas.RuntimeValidationResult{
		Language:   schemas.LangPython,
		Success:    false,
		Confidence: 0.4,
		Phases: []schemas.PhaseResult{
			{
				Phase:    schemas.PhaseInstall,
				Executed: true,
				Success:  true,
				ExitCode: 0,
				Stdout:   "installed 4 packages",
				Duration: 1200 * time.Millisecond,
			},
			{
				Phase:           schemas.PhaseRun,
				Executed:        true,
				Success:         false,
				ExitCode:        1,
				Stderr:          "Traceback (most recent call last):\n  ValueError",
				Duration:        300 * time.Millisecond,
				PeakMemoryBytes: 64 << 20,
			},
			{Phase: schemas.PhaseTest, Executed: false},
		},
	}
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should return store when ping succeeds", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()

		s, err := New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)
		assert.NotNil(t, s)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should reject nil logger", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		_, err = New(context.Background(), mockPool, nil)
		require.Error(t, err)
	})
}

func TestEnsureSchema(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	mockPool.ExpectExec(flexibleSQLMatcher("CREATE TABLE IF NOT EXISTS validation_reports")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveReport(t *testing.T) {
	newStore := func(t *testing.T) (*Store, pgxmock.PgxPoolIface, *observer.ObservedLogs) {
		t.Helper()
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		t.Cleanup(mockPool.Close)

		mockPool.ExpectPing()
		logger, logs := observedStoreLogger()
		s, err := New(context.Background(), mockPool, logger)
		require.NoError(t, err)
		return s, mockPool, logs
	}

	t.Run("should persist report and checks in one transaction", func(t *testing.T) {
		s, mockPool, logs := newStore(t)
		report := sampleReport()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertReportSQL)).
			WithArgs(report.ID, report.CapsuleID, "passed", report.ConfidenceScore,
				report.Iterations, false, report.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"report_checks"}, checkColumns).
			WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveReport(context.Background(), report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len(),
			"a rollback after commit must not be logged as an error")
	})

	t.Run("should skip the copy when the report has no checks", func(t *testing.T) {
		s, mockPool, _ := newStore(t)
		report := sampleReport()
		report.Checks = nil

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertReportSQL)).
			WithArgs(report.ID, report.CapsuleID, "passed", report.ConfidenceScore,
				report.Iterations, false, report.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveReport(context.Background(), report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail when the copy count does not match", func(t *testing.T) {
		s, mockPool, _ := newStore(t)
		report := sampleReport()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertReportSQL)).
			WithArgs(report.ID, report.CapsuleID, "passed", report.ConfidenceScore,
				report.Iterations, false, report.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"report_checks"}, checkColumns).
			WillReturnResult(1)
		mockPool.ExpectRollback()

		err := s.SaveReport(context.Background(), report)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "copied 1 of 2")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the insert fails", func(t *testing.T) {
		s, mockPool, _ := newStore(t)
		report := sampleReport()

		insertErr := errors.New("relation does not exist")
		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertReportSQL)).
			WithArgs(report.ID, report.CapsuleID, "passed", report.ConfidenceScore,
				report.Iterations, false, report.CreatedAt).
			WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err := s.SaveReport(context.Background(), report)
		require.Error(t, err)
		assert.ErrorIs(t, err, insertErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should reject invalid reports before touching the pool", func(t *testing.T) {
		s, mockPool, _ := newStore(t)

		require.Error(t, s.SaveReport(context.Background(), nil))
		require.Error(t, s.SaveReport(context.Background(), &schemas.ValidationReport{CapsuleID: "cap-1"}))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestSaveExecution(t *testing.T) {
	newStore := func(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
		t.Helper()
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		t.Cleanup(mockPool.Close)

		mockPool.ExpectPing()
		s, err := New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)
		return s, mockPool
	}

	t.Run("should insert one row per executed phase", func(t *testing.T) {
		s, mockPool := newStore(t)
		result := sampleRuntimeResult()

		mockPool.ExpectBegin()
		batch := mockPool.ExpectBatch()
		batch.ExpectExec(flexibleSQLMatcher(insertExecutionSQL)).
			WithArgs(anyValue, "cap-9", "python", "install", true, 0, int64(1200),
				int64(0), false, anyValue, anyValue, anyValue).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		batch.ExpectExec(flexibleSQLMatcher(insertExecutionSQL)).
			WithArgs(anyValue, "cap-9", "python", "run", false, 1, int64(300),
				int64(64<<20), false, anyValue, anyValue, anyValue).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveExecution(context.Background(), "cap-9", result))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should do nothing when no phase executed", func(t *testing.T) {
		s, mockPool := newStore(t)
		result := &schemas.RuntimeValidationResult{
			Language: schemas.LangGo,
			Phases:   []schemas.PhaseResult{{Phase: schemas.PhaseInstall, Executed: false}},
		}

		require.NoError(t, s.SaveExecution(context.Background(), "cap-9", result))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should name the failing phase in batch errors", func(t *testing.T) {
		s, mockPool := newStore(t)
		result := sampleRuntimeResult()

		batchErr := errors.New("value too long")
		mockPool.ExpectBegin()
		batch := mockPool.ExpectBatch()
		batch.ExpectExec(flexibleSQLMatcher(insertExecutionSQL)).
			WithArgs(anyValue, "cap-9", "python", "install", true, 0, int64(1200),
				int64(0), false, anyValue, anyValue, anyValue).
			WillReturnError(batchErr)
		batch.ExpectExec(flexibleSQLMatcher(insertExecutionSQL)).
			WithArgs(anyValue, "cap-9", "python", "run", false, 1, int64(300),
				int64(64<<20), false, anyValue, anyValue, anyValue).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectRollback()

		err := s.SaveExecution(context.Background(), "cap-9", result)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "phase install")
		assert.ErrorIs(t, err, batchErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should validate inputs", func(t *testing.T) {
		s, mockPool := newStore(t)

		require.Error(t, s.SaveExecution(context.Background(), "", sampleRuntimeResult()))
		require.Error(t, s.SaveExecution(context.Background(), "cap-9", nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestGetReportsByCapsule(t *testing.T) {
	columns := []string{
		"id", "capsule_id", "overall_status", "confidence_score",
		"iterations", "requires_human_review", "created_at",
		"name", "level", "status", "severity", "message", "details",
	}

	t.Run("should group checks under their report", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		s, err := New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)

		newerID := uuid.NewString()
		olderID := uuid.NewString()
		newerAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		olderAt := newerAt.Add(-time.Hour)

		syntax := "syntax"
		basic := "basic"
		passed := "passed"
		noSev := ""
		msg := "All files parse."
		run := "sandbox_run"
		functional := "functional"
		failed := "failed"
		critical := "critical"
		runMsg := "Run phase exited 1."

		rows := pgxmock.NewRows(columns).
			AddRow(newerID, "cap-1", "failed", 0.35, 1, true, newerAt,
				&syntax, &basic, &passed, &noSev, &msg, []byte(`{}`)).
			AddRow(newerID, "cap-1", "failed", 0.35, 1, true, newerAt,
				&run, &functional, &failed, &critical, &runMsg, []byte(`{"exit_code":1}`)).
			AddRow(olderID, "cap-1", "passed", 0.9, 0, false, olderAt,
				nil, nil, nil, nil, nil, nil)

		mockPool.ExpectQuery(flexibleSQLMatcher(selectReportsSQL)).
			WithArgs("cap-1").
			WillReturnRows(rows)

		reports, err := s.GetReportsByCapsule(context.Background(), "cap-1")
		require.NoError(t, err)
		require.Len(t, reports, 2)

		assert.Equal(t, newerID, reports[0].ID)
		assert.Equal(t, schemas.StatusFailed, reports[0].OverallStatus)
		assert.True(t, reports[0].RequiresHumanReview)
		require.Len(t, reports[0].Checks, 2)
		assert.Equal(t, "syntax", reports[0].Checks[0].Name)
		assert.Equal(t, schemas.LevelBasic, reports[0].Checks[0].Type)
		assert.Empty(t, reports[0].Checks[0].Severity)
		assert.Nil(t, reports[0].Checks[0].Details, "empty details object should stay nil")
		assert.Equal(t, schemas.StatusFailed, reports[0].Checks[1].Status)
		assert.Equal(t, schemas.FeedbackCritical, reports[0].Checks[1].Severity)
		assert.Equal(t, float64(1), reports[0].Checks[1].Details["exit_code"])

		assert.Equal(t, olderID, reports[1].ID)
		assert.Empty(t, reports[1].Checks, "a report without checks yields one NULL-padded row")

		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should propagate query errors", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		s, err := New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)

		queryErr := errors.New("connection reset")
		mockPool.ExpectQuery(flexibleSQLMatcher(selectReportsSQL)).
			WithArgs("cap-1").
			WillReturnError(queryErr)

		_, err = s.GetReportsByCapsule(context.Background(), "cap-1")
		require.Error(t, err)
		assert.ErrorIs(t, err, queryErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestCompressRoundTrip(t *testing.T) {
	t.Run("should keep empty streams NULL", func(t *testing.T) {
		out, err := compress("")
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("should produce decodable brotli", func(t *testing.T) {
		text := strings.Repeat("error: something exploded\n", 200)

		out, err := compress(text)
		require.NoError(t, err)
		require.NotEmpty(t, out)
		assert.Less(t, len(out), len(text), "repetitive logs should shrink")

		decoded, err := io.ReadAll(brotli.NewReader(strings.NewReader(string(out))))
		require.NoError(t, err)
		assert.Equal(t, text, string(decoded))
	})
}
