package digest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"bosswatch/internal/tracker"
	kit "bosswatch/internal/transport"
	logx "bosswatch/pkg/logx"
)

type memStore struct {
	mu       sync.Mutex
	bosses   map[int64][]tracker.BossRecord
	settings map[int64]tracker.GroupSettings
}

func newMemStore() *memStore {
	return &memStore{
		bosses:   map[int64][]tracker.BossRecord{},
		settings: map[int64]tracker.GroupSettings{},
	}
}

func (s *memStore) ReadBosses(_ context.Context, groupID int64) ([]tracker.BossRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tracker.BossRecord(nil), s.bosses[groupID]...), nil
}

func (s *memStore) WriteBosses(_ context.Context, groupID int64, recs []tracker.BossRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bosses[groupID] = append([]tracker.BossRecord(nil), recs...)
	return nil
}

func (s *memStore) ReadSettings(_ context.Context, groupID int64) (tracker.GroupSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[groupID], nil
}

func (s *memStore) WriteSettings(_ context.Context, groupID int64, st tracker.GroupSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[groupID] = st
	return nil
}

func (s *memStore) ListGroups(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id := range s.bosses {
		ids = append(ids, id)
	}
	for id := range s.settings {
		if _, ok := s.bosses[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memStore) AppendKillLog(context.Context, int64, tracker.KillLogEntry) error { return nil }
func (s *memStore) Close() error                                                    { return nil }

type captureNotifier struct {
	mu   sync.Mutex
	sent []kit.Notification
}

func (n *captureNotifier) Notify(_ context.Context, msg kit.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func TestRunOncePostsToNotifyChats(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	last := time.Now().Add(-time.Hour)
	ctx := context.Background()

	// group 100 is fully configured, 200 has no notify chat, 300 is empty
	_ = st.WriteBosses(ctx, 100, []tracker.BossRecord{
		{ID: "a", Name: "Dragon Lord", RespawnType: tracker.RespawnCycle, Cycle: "02:00:00", LastKill: &last},
	})
	_ = st.WriteSettings(ctx, 100, tracker.GroupSettings{NotifyChatID: 900})
	_ = st.WriteBosses(ctx, 200, []tracker.BossRecord{
		{ID: "b", Name: "Orc King", RespawnType: tracker.RespawnCycle, Cycle: "01:00:00"},
	})
	_ = st.WriteSettings(ctx, 300, tracker.GroupSettings{NotifyChatID: 901})

	cn := &captureNotifier{}
	svc := New(Config{Enabled: true, Spec: "0 9 * * *"}, st, cn, logx.Nop())
	svc.RunOnce(ctx)

	cn.mu.Lock()
	defer cn.mu.Unlock()
	if len(cn.sent) != 1 {
		t.Fatalf("sent %d digests, want 1", len(cn.sent))
	}
	if cn.sent[0].Target.ChatID != 900 {
		t.Fatalf("target = %d", cn.sent[0].Target.ChatID)
	}
	if !strings.Contains(cn.sent[0].Text, "Dragon Lord") {
		t.Fatalf("text = %q", cn.sent[0].Text)
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	t.Parallel()
	svc := New(Config{Enabled: true, Spec: "not a cron spec"}, newMemStore(), &captureNotifier{}, logx.Nop())
	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("expected error for bad spec")
	}
}

func TestStartRejectsBadTimezone(t *testing.T) {
	t.Parallel()
	svc := New(Config{Enabled: true, Spec: "0 9 * * *", Timezone: "Mars/Olympus"}, newMemStore(), &captureNotifier{}, logx.Nop())
	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("expected error for bad timezone")
	}
}

func TestDisabledStartIsNoop(t *testing.T) {
	t.Parallel()
	svc := New(Config{Enabled: false}, newMemStore(), &captureNotifier{}, logx.Nop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("err = %v", err)
	}
	svc.Stop()
}
