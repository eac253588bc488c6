package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"bosswatch/internal/config"
	"bosswatch/internal/tracker"
	kit "bosswatch/internal/transport"
	logx "bosswatch/pkg/logx"
)

type sentMsg struct {
	chat kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sentMsg
	acks []string
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, sentMsg{chat: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (a *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, text)
	return nil
}

func (a *fakeAdapter) waitSent(t *testing.T, n int) []sentMsg {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		a.mu.Lock()
		if len(a.sent) >= n {
			out := append([]sentMsg(nil), a.sent...)
			a.mu.Unlock()
			return out
		}
		a.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sends", n)
	return nil
}

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

func (s *memStore) ListGroups(context.Context) ([]int64, error)                        { return nil, nil }
func (s *memStore) AppendKillLog(context.Context, int64, tracker.KillLogEntry) error   { return nil }
func (s *memStore) Close() error                                                       { return nil }

type fakeReminder struct {
	mu        sync.Mutex
	scheduled []string // boss IDs
	actions   []string
}

func (f *fakeReminder) Schedule(_ int64, _ kit.ChatTarget, bossID string, _ time.Time, _ string) {
	f.mu.Lock()
	f.scheduled = append(f.scheduled, bossID)
	f.mu.Unlock()
}

func (f *fakeReminder) HandleAction(_ context.Context, token, action string, _ int64) (string, error) {
	f.mu.Lock()
	f.actions = append(f.actions, action+":"+token)
	f.mu.Unlock()
	return "recorded", nil
}

func (f *fakeReminder) scheduledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled)
}

type testEnv struct {
	adapter  *fakeAdapter
	store    *memStore
	reminder *fakeReminder
	updates  chan kit.Update
}

func newTestEnv(t *testing.T, owners []int64) *testEnv {
	t.Helper()
	env := &testEnv{
		adapter:  &fakeAdapter{},
		store:    newMemStore(),
		reminder: &fakeReminder{},
		updates:  make(chan kit.Update, 16),
	}

	recorder := tracker.NewRecorder(env.store, logx.Nop())
	serv := &Services{
		Store:    env.store,
		Recorder: recorder,
		Reminder: env.reminder,
	}

	m := NewCommandManager(logx.Nop(), env.adapter, config.NewConfigManager("unused.json"), serv, owners)
	cmds, cbs := Registry()
	m.SetRegistry(cmds, cbs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, env.updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	last := time.Now().Add(-time.Hour)
	err := env.store.WriteBosses(context.Background(), 100, []tracker.BossRecord{
		{ID: "a", Name: "Dragon Lord", Shortnames: []string{"dl"}, RespawnType: tracker.RespawnCycle, Cycle: "02:00:00", LastKill: &last},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return env
}

func (env *testEnv) message(fromID int64, text string) {
	env.updates <- kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID: 1, ChatID: 100, FromID: fromID, Text: text, IsGroup: true,
		},
	}
}

func TestKillCommandRecordsAndSchedules(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	if err := env.store.WriteSettings(context.Background(), 100, tracker.GroupSettings{NotifyChatID: 200}); err != nil {
		t.Fatal(err)
	}

	env.message(7, "/kill dl 1030 near the ledge")

	sent := env.adapter.waitSent(t, 1)
	if !strings.Contains(sent[0].text, "Dragon Lord") {
		t.Fatalf("reply = %q", sent[0].text)
	}
	deadline := time.Now().Add(time.Second)
	for env.reminder.scheduledCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if env.reminder.scheduledCount() != 1 {
		t.Fatal("reminder not scheduled")
	}

	recs, _ := env.store.ReadBosses(context.Background(), 100)
	if recs[0].LastKill == nil {
		t.Fatal("kill not recorded")
	}
	if recs[0].LastKill.Hour() != 10 || recs[0].LastKill.Minute() != 30 {
		t.Fatalf("LastKill = %v", recs[0].LastKill)
	}
	if recs[0].Note != "near the ledge" {
		t.Fatalf("Note = %q", recs[0].Note)
	}
}

func TestKillWithoutNotifyChatSkipsReminder(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	env.message(7, "/k dl")
	env.adapter.waitSent(t, 1)

	time.Sleep(50 * time.Millisecond)
	if env.reminder.scheduledCount() != 0 {
		t.Fatal("reminder scheduled without a notify chat")
	}
}

func TestKillUnknownBoss(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	env.message(7, "/kill nosuch")
	sent := env.adapter.waitSent(t, 1)
	if !strings.Contains(sent[0].text, "unknown boss") {
		t.Fatalf("reply = %q", sent[0].text)
	}
}

func TestKillBadTimeArg(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	env.message(7, "/kill dl 1:2:3:4")
	sent := env.adapter.waitSent(t, 1)
	if !strings.Contains(sent[0].text, "bad time") {
		t.Fatalf("reply = %q", sent[0].text)
	}

	recs, _ := env.store.ReadBosses(context.Background(), 100)
	if recs[0].Note != "" {
		t.Fatal("state mutated on bad time")
	}
}

func TestOwnerOnlyCommandRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, []int64{1})

	env.message(7, "/reset")
	sent := env.adapter.waitSent(t, 1)
	if !strings.Contains(sent[0].text, "unauthorized") {
		t.Fatalf("reply = %q", sent[0].text)
	}

	env.message(1, "/reset")
	sent = env.adapter.waitSent(t, 2)
	if !strings.Contains(sent[1].text, "cleared kill times") {
		t.Fatalf("reply = %q", sent[1].text)
	}
	recs, _ := env.store.ReadBosses(context.Background(), 100)
	if recs[0].LastKill != nil {
		t.Fatal("reset did not clear LastKill")
	}
}

func TestUnknownCommandSilentInGroups(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	env.message(7, "/somethingelse")
	time.Sleep(50 * time.Millisecond)
	env.adapter.mu.Lock()
	n := len(env.adapter.sent)
	env.adapter.mu.Unlock()
	if n != 0 {
		t.Fatalf("replied %d times to a foreign command in a group", n)
	}
}

func TestBossCallbackRoutedToReminder(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	env.updates <- kit.Update{
		Kind: kit.UpdateCallback,
		Callback: &kit.Callback{
			ID: "cb1", ChatID: 100, FromID: 7, MessageID: 3,
			Data: "boss:kill:tok123",
		},
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		env.reminder.mu.Lock()
		n := len(env.reminder.actions)
		env.reminder.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	env.reminder.mu.Lock()
	defer env.reminder.mu.Unlock()
	if len(env.reminder.actions) != 1 || env.reminder.actions[0] != "kill:tok123" {
		t.Fatalf("actions = %v", env.reminder.actions)
	}
}
