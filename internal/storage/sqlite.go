//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"kpibot/internal/report"
	logx "kpibot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	keepRuns   int
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage: sqlite driver needs a path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLite out of SQLITE_BUSY territory; this process is
	// the only client anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	keep := cfg.KeepRuns
	if keep <= 0 {
		keep = defaultKeepRuns
	}
	st := &sqliteStore{db: db, log: log, keepRuns: keep, pruneEvery: 500}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
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

func (s *sqliteStore) LoadState(ctx context.Context) (State, bool, error) {
	if s == nil || s.db == nil {
		return State{}, false, ErrDisabled
	}
	var (
		hw, up                 string
		runID, status, trg, er sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT high_water, last_run_id, last_status, last_trigger, last_error, updated_at
		 FROM scheduler_state WHERE id = 1`,
	).Scan(&hw, &runID, &status, &trg, &er, &up)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	return State{
		HighWater:   decodeTime(hw),
		LastRunID:   runID.String,
		LastStatus:  status.String,
		LastTrigger: decodeTime(trg.String),
		LastError:   er.String,
		UpdatedAt:   decodeTime(up),
	}, true, nil
}

func (s *sqliteStore) SaveState(ctx context.Context, st State) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduler_state(id, high_water, last_run_id, last_status, last_trigger, last_error, updated_at)
		 VALUES(1,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   high_water=excluded.high_water,
		   last_run_id=excluded.last_run_id,
		   last_status=excluded.last_status,
		   last_trigger=excluded.last_trigger,
		   last_error=excluded.last_error,
		   updated_at=excluded.updated_at`,
		encodeTime(st.HighWater), nullStr(st.LastRunID), nullStr(st.LastStatus),
		nullStr(encodeOptTime(st.LastTrigger)), nullStr(st.LastError), encodeTime(st.UpdatedAt),
	)
	return err
}

func (s *sqliteStore) AppendRun(ctx context.Context, run report.Run) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, mode, origin, trigger_at, started_at, ended_at, status, err, retries, artifact_path)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		run.ID, string(run.Mode), string(run.Origin), encodeTime(run.Trigger),
		nullStr(encodeOptTime(run.StartedAt)), nullStr(encodeOptTime(run.EndedAt)),
		string(run.Status), nullStr(run.Err), run.Retries, nullStr(run.ArtifactPath),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		_ = s.pruneRuns(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]report.Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = s.keepRuns
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mode, origin, trigger_at, started_at, ended_at, status, err, retries, artifact_path
		 FROM runs ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []report.Run
	for rows.Next() {
		var (
			r                      report.Run
			mode, origin, status   string
			trg                    string
			started, ended, er, ap sql.NullString
		)
		if err := rows.Scan(&r.ID, &mode, &origin, &trg, &started, &ended, &status, &er, &r.Retries, &ap); err != nil {
			return nil, err
		}
		r.Mode = report.Mode(mode)
		r.Origin = report.Origin(origin)
		r.Status = report.Status(status)
		r.Trigger = decodeTime(trg)
		r.StartedAt = decodeTime(started.String)
		r.EndedAt = decodeTime(ended.String)
		r.Err = er.String
		r.ArtifactPath = ap.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *sqliteStore) pruneRuns(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE seq NOT IN (SELECT seq FROM runs ORDER BY seq DESC LIMIT ?)`,
		s.keepRuns,
	)
	return err
}

func encodeTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// encodeOptTime maps the zero time to "" so it lands as NULL.
func encodeOptTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return encodeTime(t)
}

func decodeTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
