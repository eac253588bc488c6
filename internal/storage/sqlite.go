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

	"bosswatch/internal/tracker"
	logx "bosswatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps each group's collection and settings as JSON blobs,
// matching the whole-collection read-modify-write semantics of the file
// driver. The kill log is a proper table.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (tracker.Store, error) {
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
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
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

func (s *sqliteStore) ReadBosses(ctx context.Context, groupID int64) ([]tracker.BossRecord, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT bosses FROM groups WHERE chat_id = ?`, groupID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var recs []tracker.BossRecord
	if err := json.Unmarshal([]byte(blob), &recs); err != nil {
		return nil, fmt.Errorf("decode bosses for group %d: %w", groupID, err)
	}
	if tracker.EnsureIDs(recs) {
		if err := s.WriteBosses(ctx, groupID, recs); err != nil {
			s.log.Warn("id backfill write failed",
				logx.Int64("group_id", groupID), logx.Err(err))
		}
	}
	return recs, nil
}

func (s *sqliteStore) WriteBosses(ctx context.Context, groupID int64, recs []tracker.BossRecord) error {
	tracker.EnsureIDs(recs)
	if recs == nil {
		recs = []tracker.BossRecord{}
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO groups(chat_id, bosses) VALUES(?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET bosses = excluded.bosses`,
		groupID, string(b))
	return err
}

func (s *sqliteStore) ReadSettings(ctx context.Context, groupID int64) (tracker.GroupSettings, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT settings FROM groups WHERE chat_id = ?`, groupID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.GroupSettings{}, nil
	}
	if err != nil {
		return tracker.GroupSettings{}, err
	}
	var st tracker.GroupSettings
	if err := json.Unmarshal([]byte(blob), &st); err != nil {
		return tracker.GroupSettings{}, fmt.Errorf("decode settings for group %d: %w", groupID, err)
	}
	return st, nil
}

func (s *sqliteStore) WriteSettings(ctx context.Context, groupID int64, st tracker.GroupSettings) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO groups(chat_id, settings) VALUES(?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET settings = excluded.settings`,
		groupID, string(b))
	return err
}

func (s *sqliteStore) ListGroups(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM groups ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendKillLog(ctx context.Context, groupID int64, e tracker.KillLogEntry) error {
	if e.KilledAt.IsZero() {
		e.KilledAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kill_log(chat_id, at, boss_id, boss_name, note, reported_by, source)
		 VALUES(?,?,?,?,?,?,?)`,
		groupID, e.KilledAt.Format(time.RFC3339Nano), e.BossID, e.BossName,
		nullStr(e.Note), e.ReportedBy, e.Source)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
