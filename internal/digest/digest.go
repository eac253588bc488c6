// Package digest reposts each group's boss table on a cron schedule so the
// pinned overview never goes stale.
package digest

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"bosswatch/internal/bot"
	"bosswatch/internal/tracker"
	kit "bosswatch/internal/transport"
	logx "bosswatch/pkg/logx"
)

type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

type Config struct {
	Enabled  bool
	Spec     string // cron spec, e.g. "0 9 * * *"
	Timezone string // IANA name, empty means local
}

type Service struct {
	cfg      Config
	store    tracker.Store
	notifier Notifier
	log      logx.Logger

	c   *cron.Cron
	now func() time.Time
}

func New(cfg Config, store tracker.Store, notifier Notifier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Start registers the cron entry. A bad spec or timezone is a config error
// and is returned rather than logged away.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}

	loc := time.Local
	if s.cfg.Timezone != "" {
		l, err := time.LoadLocation(s.cfg.Timezone)
		if err != nil {
			return err
		}
		loc = l
	}

	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(s.cfg.Spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		s.RunOnce(runCtx)
	})
	if err != nil {
		return err
	}
	s.c = c
	c.Start()
	s.log.Info("digest scheduled", logx.String("spec", s.cfg.Spec), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop() {
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
}

// RunOnce posts the table to every group that has a notify chat. Groups
// without one are skipped, as are per-group errors.
func (s *Service) RunOnce(ctx context.Context) {
	ids, err := s.store.ListGroups(ctx)
	if err != nil {
		s.log.Warn("digest group scan failed", logx.Err(err))
		return
	}

	for _, id := range ids {
		settings, err := s.store.ReadSettings(ctx, id)
		if err != nil {
			s.log.Warn("digest settings read failed", logx.Int64("group_id", id), logx.Err(err))
			continue
		}
		if settings.NotifyChatID == 0 {
			continue
		}
		recs, err := s.store.ReadBosses(ctx, id)
		if err != nil {
			s.log.Warn("digest bosses read failed", logx.Int64("group_id", id), logx.Err(err))
			continue
		}
		if len(recs) == 0 {
			continue
		}

		text := "\U0001f4cb daily overview\n" + bot.FormatBossTable(recs, s.now())
		err = s.notifier.Notify(ctx, kit.Notification{
			Channel: "telegram",
			Target:  kit.ChatTarget{ChatID: settings.NotifyChatID},
			Text:    text,
			Options: &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
		})
		if err != nil {
			s.log.Warn("digest post failed", logx.Int64("group_id", id), logx.Err(err))
		}
	}
}
