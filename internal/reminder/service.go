// Package reminder schedules pre-respawn notifications and drives the
// confirm/undo interaction attached to them.
package reminder

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	rtsup "bosswatch/internal/runtime/supervisor"

	"bosswatch/internal/tracker"
	kit "bosswatch/internal/transport"
	"bosswatch/pkg/tgui"
	logx "bosswatch/pkg/logx"
)

// CallbackModule is the first segment of reminder callback data
// ("boss:<action>:<token>").
const CallbackModule = "boss"

type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

type Config struct {
	// LeadTime is how long before the computed respawn the reminder fires.
	LeadTime time.Duration
	// MinDelay is used when the fire time is already in the past; a late
	// reminder still fires once.
	MinDelay time.Duration
	// SessionTTL bounds how long an un-acted keyboard stays live.
	SessionTTL time.Duration
}

func (c *Config) defaults() {
	if c.LeadTime <= 0 {
		c.LeadTime = 5 * time.Minute
	}
	if c.MinDelay <= 0 {
		c.MinDelay = time.Second
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
}

// Service owns reminder goroutines and their interaction sessions. Pending
// reminders live in memory only and are lost across restarts.
type Service struct {
	mu  sync.Mutex
	cfg Config

	store    tracker.Store
	adapter  kit.Adapter
	notifier Notifier
	log      logx.Logger

	sessions *SessionStore
	sup      *rtsup.Supervisor
	seq      atomic.Uint64

	now func() time.Time
}

func New(cfg Config, store tracker.Store, adapter kit.Adapter, notifier Notifier, log logx.Logger) *Service {
	cfg.defaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		adapter:  adapter,
		notifier: notifier,
		log:      log,
		sessions: NewSessionStore(cfg.SessionTTL),
		now:      time.Now,
	}
}

// SetClock overrides the wall clock (tests).
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) Sessions() *SessionStore { return s.sessions }

// Apply updates timing knobs during hot-reload. Reminders already sleeping
// keep their original fire time.
func (s *Service) Apply(cfg Config) {
	cfg.defaults()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.sessions.SetTTL(cfg.SessionTTL)
}

func (s *Service) snapshotCfg() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "reminder"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	sup.Go0("session.sweeper", func(c context.Context) {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				if n := s.sessions.Sweep(s.now()); n > 0 {
					s.log.Debug("stale sessions swept", logx.Int("count", n))
				}
			}
		}
	})
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup != nil {
		_ = sup.Stop(ctx)
	}
}

// Schedule launches a fire-and-forget reminder for a just-recorded kill.
// There is no cancellation: a record deleted or re-recorded in the meantime
// is discovered at fire time and the reminder aborts silently.
func (s *Service) Schedule(groupID int64, chat kit.ChatTarget, bossID string, recordedAt time.Time, note string) {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		s.log.Warn("schedule called before start", logx.String("boss_id", bossID))
		return
	}

	name := "fire." + strconv.FormatUint(s.seq.Add(1), 10)
	sup.Go0(name, func(ctx context.Context) {
		s.run(ctx, groupID, chat, bossID, recordedAt, note)
	})
}

func (s *Service) run(ctx context.Context, groupID int64, chat kit.ChatTarget, bossID string, recordedAt time.Time, note string) {
	cfg := s.snapshotCfg()
	dbg := s.log.With(logx.Int64("group_id", groupID), logx.String("boss_id", bossID))

	recs, err := s.store.ReadBosses(ctx, groupID)
	if err != nil {
		dbg.Warn("reminder read failed", logx.Err(err))
		return
	}
	i, err := tracker.FindRecordByID(recs, bossID)
	if err != nil {
		dbg.Debug("reminder aborted, record gone")
		return
	}
	respawn, ok := tracker.NextSpawn(recs[i], recordedAt)
	if !ok {
		dbg.Debug("reminder aborted, no computable respawn")
		return
	}

	timer := time.NewTimer(fireDelay(respawn, s.now(), cfg))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	// Re-resolve at fire time; the collection may have been edited while we
	// slept.
	recs, err = s.store.ReadBosses(ctx, groupID)
	if err != nil {
		dbg.Warn("reminder re-read failed", logx.Err(err))
		return
	}
	i, err = tracker.FindRecordByID(recs, bossID)
	if err != nil {
		dbg.Debug("reminder aborted at fire time, record gone")
		return
	}
	rec := recs[i]

	settings, err := s.store.ReadSettings(ctx, groupID)
	if err != nil {
		dbg.Warn("reminder settings read failed", logx.Err(err))
	}

	// Optional spoken announcement ahead of the structured message. Queued
	// through the notifier; delivery order relative to the structured
	// message is best-effort.
	if settings.Announce && s.notifier != nil {
		spoken := fmt.Sprintf("%s spawns in about %s", rec.Name, formatLead(cfg.LeadTime))
		if err := s.notifier.Notify(ctx, kit.Notification{
			Channel: "telegram",
			Target:  chat,
			Text:    spoken,
			Options: &kit.SendOptions{Spoken: true},
		}); err != nil {
			dbg.Debug("spoken announce dropped", logx.Err(err))
		}
	}

	text := s.reminderText(rec, respawn, note)

	// Fixed-schedule bosses get a plain notification; there is nothing to
	// confirm because nobody calibrates them.
	if rec.RespawnType == tracker.RespawnFixed {
		if _, err := s.adapter.SendText(ctx, chat, text, &kit.SendOptions{ParseMode: "HTML"}); err != nil {
			dbg.Warn("reminder send failed", logx.Err(err))
		}
		return
	}

	sess := &Session{
		GroupID:  groupID,
		Chat:     chat,
		BossID:   rec.ID,
		BossName: rec.Name,
		State:    StateAwaiting,
	}
	tok := s.sessions.Put(sess)

	ref, err := s.adapter.SendText(ctx, chat, text, &kit.SendOptions{
		ParseMode:          "HTML",
		ReplyMarkupAdapter: awaitingKeyboard(tok),
	})
	if err != nil {
		s.sessions.Delete(tok)
		dbg.Warn("reminder send failed", logx.Err(err))
		return
	}
	sess.Msg = ref
}

func (s *Service) reminderText(rec tracker.BossRecord, respawn time.Time, note string) string {
	rule := rec.Cycle
	if rec.RespawnType == tracker.RespawnFixed {
		rule = "fixed " + fmt.Sprint(rec.FixedTimes)
	}
	parts := []tgui.H{
		tgui.JoinH(" ", "⏰", tgui.B(rec.Name), tgui.Esc("spawns at"), tgui.Code(respawn.Format("15:04:05"))),
		tgui.JoinH(" ", tgui.Esc("rule:"), tgui.Code(rule)),
	}
	if note != "" {
		parts = append(parts, tgui.I(note))
	}
	return tgui.JoinH("\n", parts...).String()
}

// fireDelay is how long to sleep before emitting the reminder: lead time
// ahead of the respawn, or the minimal delay when that moment already passed
// so a late reminder still fires once.
func fireDelay(respawn, now time.Time, cfg Config) time.Duration {
	d := respawn.Add(-cfg.LeadTime).Sub(now)
	if d <= 0 {
		return cfg.MinDelay
	}
	return d
}

func formatLead(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
	return d.String()
}

func awaitingKeyboard(token string) any {
	return tgui.NewInline().
		Row(
			tgui.Btn("✅ killed", tgui.Data(CallbackModule, "kill", token)),
			tgui.Btn("❌ failed", tgui.Data(CallbackModule, "fail", token)),
			tgui.Btn("\U0001f6ab no spawn", tgui.Data(CallbackModule, "skip", token)),
		).Markup()
}

func undoKeyboard(token string) any {
	return tgui.NewInline().
		Row(tgui.Btn("↩ undo", tgui.Data(CallbackModule, "undo", token))).
		Markup()
}

// HandleAction applies a button press. It returns the short acknowledgement
// text shown in the Telegram toast; the reminder message itself is edited to
// reflect the new state.
func (s *Service) HandleAction(ctx context.Context, token, action string, actorID int64) (string, error) {
	sess, ok := s.sessions.Get(token)
	if !ok {
		return "expired", nil
	}

	switch action {
	case "kill", "fail", "skip":
		return s.applyInitial(ctx, sess, action, actorID)
	case "undo":
		return s.applyUndo(ctx, sess)
	default:
		return "", fmt.Errorf("unknown reminder action %q", action)
	}
}

func (s *Service) applyInitial(ctx context.Context, sess *Session, action string, actorID int64) (string, error) {
	s.mu.Lock()
	if sess.State != StateAwaiting {
		s.mu.Unlock()
		return "already recorded", nil
	}
	// Claim the session before touching storage so a double-tap can't apply
	// twice; rolled back below if the record turned out to be gone.
	sess.State = StateRecorded
	s.mu.Unlock()

	now := s.now()

	recs, err := s.store.ReadBosses(ctx, sess.GroupID)
	if err != nil {
		s.rollbackToAwaiting(sess)
		return "", fmt.Errorf("read bosses: %w", err)
	}
	i, err := tracker.FindRecordByID(recs, sess.BossID)
	if err != nil {
		s.rollbackToAwaiting(sess)
		return "boss no longer exists", nil
	}

	// snapshot for the one-shot undo
	if recs[i].LastKill != nil {
		t := *recs[i].LastKill
		sess.PrevLastKill = &t
	} else {
		sess.PrevLastKill = nil
	}
	sess.PrevSkipCount = recs[i].SkipCount

	switch action {
	case "kill", "fail":
		recs[i].LastKill = &now
		recs[i].SkipCount = 0
	case "skip":
		recs[i].SkipCount++
	}

	if err := s.store.WriteBosses(ctx, sess.GroupID, recs); err != nil {
		s.rollbackToAwaiting(sess)
		return "", fmt.Errorf("write bosses: %w", err)
	}

	if action == "kill" {
		if err := s.store.AppendKillLog(ctx, sess.GroupID, tracker.KillLogEntry{
			BossID:     sess.BossID,
			BossName:   sess.BossName,
			KilledAt:   now,
			ReportedBy: actorID,
			Source:     "button",
		}); err != nil {
			s.log.Warn("kill log append failed",
				logx.Int64("group_id", sess.GroupID), logx.Err(err))
		}
	}

	sess.Action = action
	sess.ActedAt = now

	s.editMessage(ctx, sess, actionLine(action, now), undoKeyboard(sess.Token))
	return "recorded", nil
}

func (s *Service) applyUndo(ctx context.Context, sess *Session) (string, error) {
	s.mu.Lock()
	if sess.State != StateRecorded {
		s.mu.Unlock()
		if sess.State == StateUndone {
			return "already undone", nil
		}
		return "nothing to undo", nil
	}
	sess.State = StateUndone
	s.mu.Unlock()

	recs, err := s.store.ReadBosses(ctx, sess.GroupID)
	if err != nil {
		s.rollbackToRecorded(sess)
		return "", fmt.Errorf("read bosses: %w", err)
	}
	i, err := tracker.FindRecordByID(recs, sess.BossID)
	if err != nil {
		s.rollbackToRecorded(sess)
		return "boss no longer exists", nil
	}

	if sess.PrevLastKill != nil {
		t := *sess.PrevLastKill
		recs[i].LastKill = &t
	} else {
		recs[i].LastKill = nil
	}
	recs[i].SkipCount = sess.PrevSkipCount

	if err := s.store.WriteBosses(ctx, sess.GroupID, recs); err != nil {
		s.rollbackToRecorded(sess)
		return "", fmt.Errorf("write bosses: %w", err)
	}

	s.editMessage(ctx, sess, "↩ undone", nil)
	return "undone", nil
}

func (s *Service) rollbackToAwaiting(sess *Session) {
	s.mu.Lock()
	sess.State = StateAwaiting
	s.mu.Unlock()
}

func (s *Service) rollbackToRecorded(sess *Session) {
	s.mu.Lock()
	sess.State = StateRecorded
	s.mu.Unlock()
}

func (s *Service) editMessage(ctx context.Context, sess *Session, statusLine string, markup any) {
	if sess.Msg.ChatID == 0 {
		return
	}
	text := tgui.JoinH("\n",
		tgui.JoinH(" ", "⏰", tgui.B(sess.BossName)),
		tgui.Esc(statusLine),
	).String()
	opt := &kit.SendOptions{ParseMode: "HTML"}
	if markup != nil {
		opt.ReplyMarkupAdapter = markup
	}
	if err := s.adapter.EditText(ctx, sess.Msg, text, opt); err != nil {
		s.log.Debug("reminder edit failed",
			logx.Int64("chat_id", sess.Msg.ChatID), logx.Err(err))
	}
}

func actionLine(action string, at time.Time) string {
	switch action {
	case "kill":
		return "✅ kill recorded at " + at.Format("15:04:05")
	case "fail":
		return "❌ attempt failed, timer restarted at " + at.Format("15:04:05")
	default:
		return "\U0001f6ab no spawn, skip counted"
	}
}
