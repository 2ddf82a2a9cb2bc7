package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "greensched/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	retain int

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serializes them anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log, retain: cfg.Retain, pruneEvery: 500}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(at, event, job_id, execution_id, fire_time, scheduled_fire_time, zone,
		   window_start, window_end, intensity, fallback, manual, took_ms, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.At.UnixNano(), r.Event, r.JobID, nullStr(r.ExecutionID), nullTime(r.FireTime),
		nullTime(r.ScheduledFireTime), nullStr(r.Zone), nullTime(r.WindowStart), nullTime(r.WindowEnd),
		r.Intensity, r.Fallback, r.Manual, r.TookMS, nullStr(r.Error),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("storage prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, q Query) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	const cols = `SELECT at, event, job_id, execution_id, fire_time, scheduled_fire_time, zone,
		window_start, window_end, intensity, fallback, manual, took_ms, err FROM runs`
	var (
		rows *sql.Rows
		err  error
	)
	if q.JobID != "" {
		rows, err = s.db.QueryContext(ctx, cols+` WHERE job_id = ? ORDER BY id DESC LIMIT ?`, q.JobID, q.limit())
	} else {
		rows, err = s.db.QueryContext(ctx, cols+` ORDER BY id DESC LIMIT ?`, q.limit())
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var at int64
		var execID, zone, errStr sql.NullString
		var fire, sched, wStart, wEnd, tookMS sql.NullInt64
		var intensity sql.NullFloat64
		if err := rows.Scan(&at, &r.Event, &r.JobID, &execID, &fire, &sched, &zone,
			&wStart, &wEnd, &intensity, &r.Fallback, &r.Manual, &tookMS, &errStr); err != nil {
			return nil, err
		}
		r.At = time.Unix(0, at)
		r.ExecutionID, r.Zone, r.Error = execID.String, zone.String, errStr.String
		r.FireTime, r.ScheduledFireTime = fromNull(fire), fromNull(sched)
		r.WindowStart, r.WindowEnd = fromNull(wStart), fromNull(wEnd)
		r.Intensity, r.TookMS = intensity.Float64, tookMS.Int64
		out = append(out, r)
	}
	return out, rows.Err()
}

// prune keeps the newest retain rows.
func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id <= (SELECT id FROM runs ORDER BY id DESC LIMIT 1 OFFSET ?)`, s.retain)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

func fromNull(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(0, v.Int64)
}
