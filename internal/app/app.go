// Package app wires configuration, storage, transport and the domain
// services into one runnable unit.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bosswatch/internal/bot"
	"bosswatch/internal/config"
	"bosswatch/internal/digest"
	"bosswatch/internal/httpapi"
	"bosswatch/internal/notifier"
	"bosswatch/internal/reminder"
	rtsup "bosswatch/internal/runtime/supervisor"
	"bosswatch/internal/storage"
	"bosswatch/internal/tracker"
	kit "bosswatch/internal/transport"
	"bosswatch/internal/transport/telegram"
	logx "bosswatch/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	store   tracker.Store

	recorder *tracker.Recorder
	notif    *notifier.Service
	rem      *reminder.Service
	dig      *digest.Service
	api      *httpapi.Server

	cmdm *bot.CommandManager
	sup  *rtsup.Supervisor

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// The log service wants the adapter for its Telegram sink and the
	// adapter wants a logger; build the service first, attach the sender
	// once the adapter exists.
	logSvc, log := logx.New(logxConfig(cfg), nil)
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	logSvc.SetSender(ad)
	applyLogTarget(logSvc, cfg)

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	recorder := tracker.NewRecorder(store, logSvc.Logger().With(logx.String("comp", "tracker")))

	var ncfg notifier.Config
	if cfg.Notifier != nil {
		ncfg = notifier.Config{
			Workers:    cfg.Notifier.Workers,
			QueueSize:  cfg.Notifier.QueueSize,
			RatePerSec: cfg.Notifier.RatePerSec,
		}
	}
	notifSvc := notifier.New(ncfg, ad, logSvc.Logger().With(logx.String("comp", "notifier")))

	rcfg, err := reminderConfig(cfg)
	if err != nil {
		return nil, err
	}
	remSvc := reminder.New(rcfg, store, ad, notifSvc, logSvc.Logger().With(logx.String("comp", "reminder")))

	var digSvc *digest.Service
	if cfg.Digest != nil && cfg.Digest.Enabled {
		digSvc = digest.New(digest.Config{
			Enabled:  true,
			Spec:     cfg.Digest.Spec,
			Timezone: cfg.Digest.Timezone,
		}, store, notifSvc, logSvc.Logger().With(logx.String("comp", "digest")))
	}

	var apiSrv *httpapi.Server
	if cfg.HTTP != nil && cfg.HTTP.Enabled {
		apiSrv = httpapi.New(cfg.HTTP.Addr, store, logSvc.Logger().With(logx.String("comp", "httpapi")))
	}

	serv := &bot.Services{
		Store:    store,
		Recorder: recorder,
		Reminder: remSvc,
		Notifier: notifSvc,
	}
	cmdm := bot.NewCommandManager(logSvc.Logger().With(logx.String("comp", "commands")),
		ad, cfgm, serv, cfg.Telegram.OwnerUserIDs)
	cmds, cbs := bot.Registry()
	cmdm.SetRegistry(cmds, cbs)

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		adapter:  ad,
		store:    store,
		recorder: recorder,
		notif:    notifSvc,
		rem:      remSvc,
		dig:      digSvc,
		api:      apiSrv,
		cmdm:     cmdm,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the run context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional hot-reload: validate before commit/publish
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.notif.Start(a.sup.Context())
	a.rem.Start(a.sup.Context())

	if a.dig != nil {
		if err := a.dig.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("digest: %w", err)
		}
	}
	if a.api != nil {
		a.sup.Go("httpapi", a.api.Start)
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyReload pushes a validated config into the live services. Storage
// driver, digest schedule and the HTTP listener stay fixed until restart.
func (a *App) applyReload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(logxConfig(cfg))
	applyLogTarget(a.logs, cfg)

	a.cmdm.SetOwners(cfg.Telegram.OwnerUserIDs)

	rcfg, err := reminderConfig(cfg)
	if err != nil {
		// the validator rejects unparseable durations, so this is unexpected
		a.log.Warn("reminder config skipped on reload", logx.Err(err))
	} else {
		a.rem.Apply(rcfg)
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	if a.dig != nil {
		step("digest", 2*time.Second, func(context.Context) error { a.dig.Stop(); return nil })
	}
	step("reminder", 2*time.Second, func(c context.Context) error { a.rem.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

func logxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func applyLogTarget(logs *logx.Service, cfg *config.Config) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		logs.SetTelegramTarget(0, 0)
		return
	}
	if chatID, err := strconv.ParseInt(raw, 10, 64); err == nil {
		logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
}

func reminderConfig(cfg *config.Config) (reminder.Config, error) {
	lead, err := config.ParseDurationOrDefault("reminder.lead_time", cfg.Reminder.LeadTime, 5*time.Minute)
	if err != nil {
		return reminder.Config{}, err
	}
	minDelay, err := config.ParseDurationOrDefault("reminder.min_delay", cfg.Reminder.MinDelay, time.Second)
	if err != nil {
		return reminder.Config{}, err
	}
	ttl, err := config.ParseDurationOrDefault("reminder.session_ttl", cfg.Reminder.SessionTTL, 24*time.Hour)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{LeadTime: lead, MinDelay: minDelay, SessionTTL: ttl}, nil
}
