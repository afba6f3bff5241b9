package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cruise/internal/integration"
	logx "cruise/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (StateManager, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite state store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) HasPreviousState(ctx context.Context, project string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM project_state WHERE project = ?`, project).Scan(&n)
	return n > 0, err
}

func (s *sqliteStore) LoadState(ctx context.Context, project string) (IntegrationResult, error) {
	if s == nil || s.db == nil {
		return IntegrationResult{}, ErrDisabled
	}
	var (
		r                  IntegrationResult
		status, cond       string
		source, params, ee sql.NullString
		started, ended     string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT project, status, label, condition, source, parameters, started_at, ended_at, err
		 FROM project_state WHERE project = ?`, project,
	).Scan(&r.Project, &status, &r.Label, &cond, &source, &params, &started, &ended, &ee)
	if errors.Is(err, sql.ErrNoRows) {
		return IntegrationResult{}, ErrNoState
	}
	if err != nil {
		return IntegrationResult{}, err
	}

	r.Status = integration.BuildStatus(status)
	if r.Condition, err = integration.ParseBuildCondition(cond, integration.NoBuild); err != nil {
		return IntegrationResult{}, err
	}
	r.Source = source.String
	r.Error = ee.String
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &r.Parameters); err != nil {
			return IntegrationResult{}, fmt.Errorf("decode parameters: %w", err)
		}
	}
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return IntegrationResult{}, err
	}
	if r.EndedAt, err = time.Parse(time.RFC3339Nano, ended); err != nil {
		return IntegrationResult{}, err
	}
	return r, nil
}

func (s *sqliteStore) SaveState(ctx context.Context, r IntegrationResult) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(r.Project) == "" {
		return errors.New("result has no project")
	}
	var params any
	if len(r.Parameters) > 0 {
		b, err := json.Marshal(r.Parameters)
		if err != nil {
			return err
		}
		params = string(b)
	}
	started := r.StartedAt.UTC().Format(time.RFC3339Nano)
	ended := r.EndedAt.UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO project_state(project, status, label, condition, source, parameters, started_at, ended_at, err)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(project) DO UPDATE SET
		   status=excluded.status, label=excluded.label, condition=excluded.condition,
		   source=excluded.source, parameters=excluded.parameters,
		   started_at=excluded.started_at, ended_at=excluded.ended_at, err=excluded.err`,
		r.Project, string(r.Status), r.Label, r.Condition.String(), nullStr(r.Source), params, started, ended, nullStr(r.Error),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO build_history(project, status, label, condition, source, started_at, ended_at, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.Project, string(r.Status), r.Label, r.Condition.String(), nullStr(r.Source), started, ended, nullStr(r.Error),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
