package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bosswatch/internal/timerule"
	logx "bosswatch/pkg/logx"
)

// memStore is a minimal in-memory Store for recorder tests.
type memStore struct {
	mu       sync.Mutex
	bosses   map[int64][]BossRecord
	settings map[int64]GroupSettings
	killLog  []KillLogEntry
}

func newMemStore() *memStore {
	return &memStore{
		bosses:   map[int64][]BossRecord{},
		settings: map[int64]GroupSettings{},
	}
}

func (s *memStore) ReadBosses(_ context.Context, groupID int64) ([]BossRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BossRecord(nil), s.bosses[groupID]...), nil
}

func (s *memStore) WriteBosses(_ context.Context, groupID int64, recs []BossRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bosses[groupID] = append([]BossRecord(nil), recs...)
	return nil
}

func (s *memStore) ReadSettings(_ context.Context, groupID int64) (GroupSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[groupID], nil
}

func (s *memStore) WriteSettings(_ context.Context, groupID int64, st GroupSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[groupID] = st
	return nil
}

func (s *memStore) ListGroups(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.bosses))
	for id := range s.bosses {
		out = append(out, id)
	}
	return out, nil
}

func (s *memStore) AppendKillLog(_ context.Context, _ int64, e KillLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLog = append(s.killLog, e)
	return nil
}

func (s *memStore) Close() error { return nil }

func testRecords() []BossRecord {
	return []BossRecord{
		{ID: "a", Name: "Dragon Lord", Shortnames: []string{"dl", "dragon"}, RespawnType: RespawnCycle, Cycle: "02:00:00"},
		{ID: "b", Name: "Orc King", Shortnames: []string{"ok"}, RespawnType: RespawnCycle, Cycle: "00:30:00"},
		{ID: "c", Name: "Midnight Panther", Shortnames: []string{"mp"}, RespawnType: RespawnFixed, FixedTimes: []string{"09:00:00", "21:00:00"}},
	}
}

func newTestRecorder(t *testing.T, now time.Time) (*Recorder, *memStore) {
	t.Helper()
	st := newMemStore()
	if err := st.WriteBosses(context.Background(), 1, testRecords()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := NewRecorder(st, logx.Nop())
	r.SetClock(func() time.Time { return now })
	return r, st
}

func TestRecordKillNow(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.Local)
	r, st := newTestRecorder(t, now)

	res, err := r.RecordKill(context.Background(), 1, "dl", "", "tough fight", 42)
	if err != nil {
		t.Fatalf("RecordKill error: %v", err)
	}
	if !res.KilledAt.Equal(now) {
		t.Fatalf("KilledAt = %v, want %v", res.KilledAt, now)
	}
	if !res.HasNext {
		t.Fatal("expected a computed next spawn")
	}
	want := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)
	if !res.NextSpawn.Equal(want) {
		t.Fatalf("NextSpawn = %v, want %v", res.NextSpawn, want)
	}

	recs, _ := st.ReadBosses(context.Background(), 1)
	if recs[0].LastKill == nil || !recs[0].LastKill.Equal(now) {
		t.Fatalf("stored LastKill = %v", recs[0].LastKill)
	}
	if recs[0].Note != "tough fight" {
		t.Fatalf("stored Note = %q", recs[0].Note)
	}
	if len(st.killLog) != 1 || st.killLog[0].BossID != "a" || st.killLog[0].ReportedBy != 42 {
		t.Fatalf("kill log = %+v", st.killLog)
	}
}

func TestRecordKillReportedTimeCarriesSecond(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 14, 2, 37, 0, time.Local)
	r, st := newTestRecorder(t, now)

	res, err := r.RecordKill(context.Background(), 1, "Orc King", "1251", "", 0)
	if err != nil {
		t.Fatalf("RecordKill error: %v", err)
	}
	want := time.Date(2025, 3, 10, 12, 51, 37, 0, time.Local)
	if !res.KilledAt.Equal(want) {
		t.Fatalf("KilledAt = %v, want %v", res.KilledAt, want)
	}

	recs, _ := st.ReadBosses(context.Background(), 1)
	if recs[1].LastKill == nil || !recs[1].LastKill.Equal(want) {
		t.Fatalf("stored LastKill = %v", recs[1].LastKill)
	}
}

func TestRecordKillInvalidTimeLeavesStateAlone(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.Local)
	r, st := newTestRecorder(t, now)

	_, err := r.RecordKill(context.Background(), 1, "dl", "nonsense", "", 0)
	if !errors.Is(err, timerule.ErrInvalidTime) {
		t.Fatalf("err = %v, want ErrInvalidTime", err)
	}

	recs, _ := st.ReadBosses(context.Background(), 1)
	if recs[0].LastKill != nil {
		t.Fatal("state mutated despite invalid time")
	}
	if len(st.killLog) != 0 {
		t.Fatal("kill log written despite invalid time")
	}
}

func TestRecordKillUnknownBoss(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.Local)
	r, _ := newTestRecorder(t, now)

	if _, err := r.RecordKill(context.Background(), 1, "nosuch", "", "", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFindRecordNameBeforeShortname(t *testing.T) {
	t.Parallel()
	recs := []BossRecord{
		{ID: "x", Name: "dl", RespawnType: RespawnCycle},
		{ID: "y", Name: "Dragon Lord", Shortnames: []string{"dl"}, RespawnType: RespawnCycle},
	}
	// full-name pass wins even though a later record carries "dl" as shortname
	i, err := FindRecord(recs, "DL")
	if err != nil {
		t.Fatalf("FindRecord error: %v", err)
	}
	if recs[i].ID != "x" {
		t.Fatalf("matched %q, want the exact-name record", recs[i].ID)
	}

	if _, err := FindRecord(recs, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty key: err = %v, want ErrNotFound", err)
	}
}

func TestResetAllSkipsFixed(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.Local)
	r, st := newTestRecorder(t, now)

	at := time.Date(2025, 3, 10, 9, 30, 0, 0, time.Local)
	n, err := r.ResetAll(context.Background(), 1, &at)
	if err != nil {
		t.Fatalf("ResetAll error: %v", err)
	}
	if n != 2 {
		t.Fatalf("changed = %d, want 2", n)
	}

	recs, _ := st.ReadBosses(context.Background(), 1)
	for _, rec := range recs {
		if rec.RespawnType == RespawnFixed {
			if rec.LastKill != nil {
				t.Fatalf("fixed record %q was recalibrated", rec.Name)
			}
			continue
		}
		if rec.LastKill == nil || !rec.LastKill.Equal(at) {
			t.Fatalf("record %q LastKill = %v, want %v", rec.Name, rec.LastKill, at)
		}
	}

	// nil clears back to uncalibrated
	if _, err := r.ResetAll(context.Background(), 1, nil); err != nil {
		t.Fatalf("ResetAll(nil) error: %v", err)
	}
	recs, _ = st.ReadBosses(context.Background(), 1)
	if recs[0].LastKill != nil {
		t.Fatal("LastKill not cleared")
	}
}

// Whole-collection writes are last-writer-wins: an external edit read before
// a kill lands gets overwritten. This documents the accepted behavior at
// human-scale write rates.
func TestWholeCollectionLastWriterWins(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.Local)
	r, st := newTestRecorder(t, now)
	ctx := context.Background()

	// external editor renames a boss based on a stale snapshot...
	stale, _ := st.ReadBosses(ctx, 1)

	// ...a kill lands first...
	if _, err := r.RecordKill(ctx, 1, "dl", "", "", 0); err != nil {
		t.Fatalf("RecordKill error: %v", err)
	}

	// ...then the stale edit is written back whole.
	stale[0].Name = "Renamed Lord"
	if err := st.WriteBosses(ctx, 1, stale); err != nil {
		t.Fatalf("WriteBosses error: %v", err)
	}

	recs, _ := st.ReadBosses(ctx, 1)
	if recs[0].LastKill != nil {
		t.Fatal("expected the stale write to clobber the kill timestamp")
	}
}

func TestNextSpawnFixed(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 10, 30, 0, 0, time.Local)
	rec := BossRecord{RespawnType: RespawnFixed, FixedTimes: []string{"09:00:00", "21:00:00"}}
	got, ok := NextSpawn(rec, now)
	if !ok {
		t.Fatal("expected next spawn for fixed record")
	}
	want := time.Date(2025, 3, 10, 21, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("NextSpawn = %v, want %v", got, want)
	}
}

func TestNextSpawnUncalibratedCycle(t *testing.T) {
	t.Parallel()
	rec := BossRecord{RespawnType: RespawnCycle, Cycle: "02:00:00"}
	if _, ok := NextSpawn(rec, time.Now()); ok {
		t.Fatal("uncalibrated cycle record should have no next spawn")
	}
}

func TestEnsureIDs(t *testing.T) {
	t.Parallel()
	recs := []BossRecord{{Name: "a"}, {ID: "keep", Name: "b"}}
	if !EnsureIDs(recs) {
		t.Fatal("expected a change")
	}
	if recs[0].ID == "" || recs[1].ID != "keep" {
		t.Fatalf("ids = %q %q", recs[0].ID, recs[1].ID)
	}
	if EnsureIDs(recs) {
		t.Fatal("second pass should be a no-op")
	}
}
