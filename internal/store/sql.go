package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/finscenario/scenariomap/internal/audit"
	"github.com/finscenario/scenariomap/internal/scenario"
)

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS scenarios (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		risk_type TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT 'form',
		file_name TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		step_log TEXT NOT NULL DEFAULT '[]',
		confidence_score DOUBLE PRECISION,
		matched_cases TEXT NOT NULL DEFAULT '[]',
		recommendations TEXT NOT NULL DEFAULT '[]',
		recommendation_source TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scenarios_created_at ON scenarios (created_at)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		resource TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log (created_at)`,
}

// SQL stores records in SQLite (modernc.org/sqlite) or PostgreSQL (pgx).
type SQL struct {
	db       *sql.DB
	driver   string
	postgres bool
}

// OpenSQL opens and migrates a database. For sqlite, dsn is a file path and
// its directory is created if missing.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQL, error) {
	var sqlDriver string
	switch driver {
	case "sqlite":
		sqlDriver = "sqlite"
		if dsn == "" {
			return nil, fmt.Errorf("sqlite storage requires a path")
		}
		if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	case "postgres":
		sqlDriver = "pgx"
		if dsn == "" {
			return nil, fmt.Errorf("postgres storage requires a DSN")
		}
	default:
		return nil, fmt.Errorf("unknown SQL driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		// One writer keeps SQLite from returning SQLITE_BUSY under batch fan-out.
		db.SetMaxOpenConns(1)
	}

	s := &SQL{db: db, driver: driver, postgres: driver == "postgres"}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQL) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

func (s *SQL) Driver() string { return s.driver }

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQL) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders as $1, $2, ... for postgres.
func (s *SQL) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ─── Scenarios ────────────────────────────────────────────────────────────────

type scenarioRow struct {
	stepLog, matches, recs string
	confidence            sql.NullFloat64
}

func encodeRow(sc *scenario.Scenario) (scenarioRow, error) {
	var row scenarioRow
	for _, f := range []struct {
		dst *string
		v   any
	}{
		{&row.stepLog, nonNil(sc.StepLog)},
		{&row.matches, nonNil(sc.MatchedCases)},
		{&row.recs, nonNil(sc.Recommendations)},
	} {
		b, err := json.Marshal(f.v)
		if err != nil {
			return row, fmt.Errorf("encoding scenario %s: %w", sc.ID, err)
		}
		*f.dst = string(b)
	}
	if sc.ConfidenceScore != nil {
		row.confidence = sql.NullFloat64{Float64: *sc.ConfidenceScore, Valid: true}
	}
	return row, nil
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func (s *SQL) Create(ctx context.Context, sc *scenario.Scenario) error {
	row, err := encodeRow(sc)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO scenarios
		(id, name, description, risk_type, source, file_name, state, step_log, confidence_score,
		 matched_cases, recommendations, recommendation_source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sc.ID, sc.Name, sc.Description, sc.RiskType, string(sc.Source), sc.FileName, string(sc.State),
		row.stepLog, row.confidence, row.matches, row.recs, string(sc.RecommendationSource),
		sc.CreatedAt.UTC().Format(timeLayout), now)
	if err != nil {
		if _, getErr := s.Get(ctx, sc.ID); getErr == nil {
			return fmt.Errorf("scenario %s: %w", sc.ID, ErrConflict)
		}
		return fmt.Errorf("inserting scenario %s: %w", sc.ID, err)
	}
	return nil
}

func (s *SQL) Update(ctx context.Context, sc *scenario.Scenario) error {
	row, err := encodeRow(sc)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE scenarios SET
		name = ?, description = ?, risk_type = ?, source = ?, file_name = ?, state = ?, step_log = ?,
		confidence_score = ?, matched_cases = ?, recommendations = ?, recommendation_source = ?, updated_at = ?
		WHERE id = ?`),
		sc.Name, sc.Description, sc.RiskType, string(sc.Source), sc.FileName, string(sc.State), row.stepLog,
		row.confidence, row.matches, row.recs, string(sc.RecommendationSource),
		time.Now().UTC().Format(timeLayout), sc.ID)
	if err != nil {
		return fmt.Errorf("updating scenario %s: %w", sc.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("scenario %s: %w", sc.ID, ErrNotFound)
	}
	return nil
}

func (s *SQL) Get(ctx context.Context, id string) (*scenario.Scenario, error) {
	var (
		sc                          scenario.Scenario
		source, state, recSource    string
		stepLog, matches, recs, cat string
		confidence                  sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name, description, risk_type, source, file_name,
		state, step_log, confidence_score, matched_cases, recommendations, recommendation_source, created_at
		FROM scenarios WHERE id = ?`), id).
		Scan(&sc.ID, &sc.Name, &sc.Description, &sc.RiskType, &source, &sc.FileName, &state, &stepLog,
			&confidence, &matches, &recs, &recSource, &cat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", id, err)
	}

	sc.Source = scenario.Source(source)
	sc.State = scenario.State(state)
	sc.RecommendationSource = scenario.RecommendationSource(recSource)
	if confidence.Valid {
		v := confidence.Float64
		sc.ConfidenceScore = &v
	}
	if sc.CreatedAt, err = time.Parse(timeLayout, cat); err != nil {
		return nil, fmt.Errorf("parsing created_at of %s: %w", id, err)
	}
	for _, f := range []struct {
		src string
		dst any
	}{
		{stepLog, &sc.StepLog},
		{matches, &sc.MatchedCases},
		{recs, &sc.Recommendations},
	} {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("decoding scenario %s: %w", id, err)
		}
	}
	return &sc, nil
}

func (s *SQL) Recent(ctx context.Context, limit int) ([]scenario.Summary, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, name, risk_type, source, state, confidence_score, created_at
		FROM scenarios ORDER BY created_at DESC, id DESC LIMIT ?`), ClampRecent(limit))
	if err != nil {
		return nil, fmt.Errorf("listing scenarios: %w", err)
	}
	defer rows.Close()

	out := []scenario.Summary{}
	for rows.Next() {
		var (
			sum                scenario.Summary
			source, state, cat string
			confidence         sql.NullFloat64
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.RiskType, &source, &state, &confidence, &cat); err != nil {
			return nil, fmt.Errorf("scanning scenario: %w", err)
		}
		sum.Source = scenario.Source(source)
		sum.State = scenario.State(state)
		if confidence.Valid {
			v := confidence.Float64
			sum.ConfidenceScore = &v
		}
		sum.CreatedAt, _ = time.Parse(timeLayout, cat)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ─── Audit ────────────────────────────────────────────────────────────────────

func (s *SQL) AppendAudit(ctx context.Context, e audit.Entry) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO audit_log (id, actor, action, resource, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		e.ID, e.Actor, e.Action, e.Resource, e.Details, e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func (s *SQL) ListAudit(ctx context.Context, limit int) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, actor, action, resource, details, created_at
		FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?`), clampAudit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	out := []audit.Entry{}
	for rows.Next() {
		var e audit.Entry
		var cat string
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Resource, &e.Details, &cat); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.CreatedAt, _ = time.Parse(timeLayout, cat)
		out = append(out, e)
	}
	return out, rows.Err()
}
