package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"bosswatch/internal/tracker"
	logx "bosswatch/pkg/logx"
)

// fileStore keeps one directory per group under the storage root:
//
//	<root>/group_<chat_id>/bosses.json   (whole ordered collection)
//	<root>/group_<chat_id>/settings.json
//	<root>/group_<chat_id>/kills.jsonl   (append-only kill log)
//
// Collection writes go through tmp+rename so readers never see a torn file.
type fileStore struct {
	root string
	log  logx.Logger

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (tracker.Store, error) {
	root := strings.TrimSpace(cfg.Path)
	if root == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{root: root, log: log}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) groupDir(groupID int64) string {
	return filepath.Join(s.root, "group_"+strconv.FormatInt(groupID, 10))
}

func (s *fileStore) ReadBosses(ctx context.Context, groupID int64) ([]tracker.BossRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.groupDir(groupID), "bosses.json")
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var recs []tracker.BossRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	// External editors may add records without IDs. Mint them once and
	// persist so the keys stay stable across reads.
	if tracker.EnsureIDs(recs) {
		if err := s.writeBossesLocked(groupID, recs); err != nil {
			s.log.Warn("id backfill write failed",
				logx.Int64("group_id", groupID), logx.Err(err))
		}
	}
	return recs, nil
}

func (s *fileStore) WriteBosses(ctx context.Context, groupID int64, recs []tracker.BossRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	tracker.EnsureIDs(recs)
	return s.writeBossesLocked(groupID, recs)
}

func (s *fileStore) writeBossesLocked(groupID int64, recs []tracker.BossRecord) error {
	dir := s.groupDir(groupID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if recs == nil {
		recs = []tracker.BossRecord{}
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(dir, "bosses.json"), b)
}

func (s *fileStore) ReadSettings(ctx context.Context, groupID int64) (tracker.GroupSettings, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.groupDir(groupID), "settings.json")
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return tracker.GroupSettings{}, nil
	}
	if err != nil {
		return tracker.GroupSettings{}, err
	}
	var st tracker.GroupSettings
	if err := json.Unmarshal(b, &st); err != nil {
		return tracker.GroupSettings{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return st, nil
}

func (s *fileStore) WriteSettings(ctx context.Context, groupID int64, st tracker.GroupSettings) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.groupDir(groupID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(dir, "settings.json"), b)
}

func (s *fileStore) ListGroups(ctx context.Context) ([]int64, error) {
	_ = ctx
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "group_") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(e.Name(), "group_"), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *fileStore) AppendKillLog(ctx context.Context, groupID int64, e tracker.KillLogEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.groupDir(groupID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, "kills.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(e)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
