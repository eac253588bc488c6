// Package notifier is the async delivery pipeline for announcements and
// digest posts. Reminder messages that need a MessageRef bypass it and go
// through the adapter directly.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	rtsup "bosswatch/internal/runtime/supervisor"
	kit "bosswatch/internal/transport"
	logx "bosswatch/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
}

// Service implements queue + worker pool + rate limit in front of the
// adapter. Safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	queue     chan kit.Notification
	sup       *rtsup.Supervisor
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	return &Service{
		log:     log,
		adapter: adapter,
		cfg:     cfg,
		// burst = rate per sec so short spikes don't block too hard
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan kit.Notification, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		// delivery failures should never take down the app
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.workerLoop(c, q, idx)
			return nil
		})
	}
}

// Stop stops intake and drains workers best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.accepting = false
	q := s.queue
	sup := s.sup
	s.queue = nil
	s.sup = nil
	s.mu.Unlock()

	if q != nil {
		close(q)
	}
	if sup != nil {
		_ = sup.Wait(ctx)
		sup.Cancel()
	}
}

// Notify enqueues a notification. Full queue fails fast rather than blocking
// the caller.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	s.mu.Lock()
	accepting := s.accepting
	q := s.queue
	s.mu.Unlock()

	if !accepting || q == nil {
		return ErrStopped
	}
	select {
	case q <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan kit.Notification, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if _, err := s.adapter.SendText(ctx, n.Target, n.Text, n.Options); err != nil {
				s.log.Warn("notification send failed",
					logx.Int("worker", idx),
					logx.Int64("chat_id", n.Target.ChatID),
					logx.Err(err))
			}
		}
	}
}
