package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "bosswatch/internal/transport"
	logx "bosswatch/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (a *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (a *fakeAdapter) sentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

func TestNotifyDeliversThroughWorkers(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	svc := New(Config{Workers: 1, QueueSize: 8, RatePerSec: 1000}, ad, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	for i := 0; i < 3; i++ {
		if err := svc.Notify(ctx, kit.Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "hi"}); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for ad.sentCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := ad.sentCount(); got != 3 {
		t.Fatalf("delivered %d, want 3", got)
	}

	sctx, scancel := context.WithTimeout(context.Background(), time.Second)
	defer scancel()
	svc.Stop(sctx)
}

func TestNotifyFailsFastWhenStopped(t *testing.T) {
	t.Parallel()
	svc := New(Config{}, &fakeAdapter{}, logx.Nop())

	err := svc.Notify(context.Background(), kit.Notification{Text: "hi"})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestNotifyFailsFastWhenQueueFull(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	// zero workers would be normalized to 2; pin one worker and starve the
	// limiter so the queue backs up
	svc := New(Config{Workers: 1, QueueSize: 1, RatePerSec: 1}, ad, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	// first few are absorbed by the queue, worker hand-off and limiter burst;
	// keep pushing until the queue rejects
	var sawFull bool
	for i := 0; i < 50 && !sawFull; i++ {
		err := svc.Notify(ctx, kit.Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "x"})
		sawFull = errors.Is(err, ErrQueueFull)
	}
	if !sawFull {
		t.Fatal("queue never reported full")
	}

	sctx, scancel := context.WithTimeout(context.Background(), time.Second)
	defer scancel()
	svc.Stop(sctx)
}
