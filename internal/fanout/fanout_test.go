package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "outagebot/pkg/logx"
)

type fakeRegistry map[string][]int64

func (r fakeRegistry) ListSubscribers(_ context.Context, queue string) ([]int64, error) {
	if queue == "broken" {
		return nil, errors.New("registry down")
	}
	return r[queue], nil
}

type recordingTransport struct {
	mu       sync.Mutex
	received map[int64][]string
	deliver  func(ctx context.Context, id int64, text string) error
}

func (t *recordingTransport) Deliver(ctx context.Context, id int64, text string) error {
	if t.deliver != nil {
		if err := t.deliver(ctx, id, text); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.received == nil {
		t.received = map[int64][]string{}
	}
	t.received[id] = append(t.received[id], text)
	return nil
}

func (t *recordingTransport) got(id int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.received[id]...)
}

func fastConfig() Config {
	return Config{MaxConcurrency: 4, RetryMax: 0, RetryBase: time.Millisecond, AttemptTimeout: time.Second}
}

func TestNotifyDeliversOnlyToSubscribers(t *testing.T) {
	tr := &recordingTransport{}
	reg := fakeRegistry{"2.1": {1, 2, 2}, "3.1": {9}}
	s := New(fastConfig(), tr, reg, logx.Nop())

	res := s.Notify(context.Background(), "2.1", "hello")
	if res.Err != nil {
		t.Fatalf("Notify err: %v", res.Err)
	}
	if res.Recipients != 2 || res.Delivered != 2 || res.Failed() != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(tr.got(9)) != 0 {
		t.Fatalf("recipient of another queue was notified")
	}
	if got := tr.got(2); len(got) != 1 {
		t.Fatalf("duplicate recipient got %d messages", len(got))
	}
}

func TestNotifyIsolatesFailures(t *testing.T) {
	tr := &recordingTransport{deliver: func(_ context.Context, id int64, _ string) error {
		if id == 2 {
			return errors.New("blocked by user")
		}
		return nil
	}}
	s := New(fastConfig(), tr, fakeRegistry{"1.1": {1, 2, 3}}, logx.Nop())

	res := s.Notify(context.Background(), "1.1", "msg")
	if res.Delivered != 2 || res.Failed() != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Failures[0].RecipientID != 2 || !errors.Is(res.Failures[0].Err, ErrDelivery) {
		t.Fatalf("failure = %+v", res.Failures[0])
	}
	if len(tr.got(1)) != 1 || len(tr.got(3)) != 1 {
		t.Fatalf("healthy recipients not delivered")
	}
}

func TestNotifyRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	tr := &recordingTransport{deliver: func(context.Context, int64, string) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}}
	cfg := fastConfig()
	cfg.RetryMax = 2
	s := New(cfg, tr, fakeRegistry{"1.1": {5}}, logx.Nop())

	res := s.Notify(context.Background(), "1.1", "msg")
	if res.Delivered != 1 || calls.Load() != 3 {
		t.Fatalf("result = %+v calls = %d", res, calls.Load())
	}
}

func TestNotifyDoesNotRetryPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	tr := &recordingTransport{deliver: func(context.Context, int64, string) error {
		calls.Add(1)
		return fmt.Errorf("bot was blocked: %w", ErrPermanent)
	}}
	cfg := fastConfig()
	cfg.RetryMax = 3
	s := New(cfg, tr, fakeRegistry{"1.1": {5}}, logx.Nop())

	res := s.Notify(context.Background(), "1.1", "msg")
	if res.Failed() != 1 || calls.Load() != 1 {
		t.Fatalf("result = %+v calls = %d", res, calls.Load())
	}
}

func TestNotifyAttemptTimeout(t *testing.T) {
	tr := &recordingTransport{deliver: func(ctx context.Context, id int64, _ string) error {
		if id == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}}
	cfg := fastConfig()
	cfg.AttemptTimeout = 20 * time.Millisecond
	s := New(cfg, tr, fakeRegistry{"1.1": {1, 2}}, logx.Nop())

	start := time.Now()
	res := s.Notify(context.Background(), "1.1", "msg")
	if time.Since(start) > time.Second {
		t.Fatalf("hung recipient was not bounded")
	}
	if res.Delivered != 1 || res.Failed() != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestNotifyRegistryFailure(t *testing.T) {
	s := New(fastConfig(), &recordingTransport{}, fakeRegistry{}, logx.Nop())
	res := s.Notify(context.Background(), "broken", "msg")
	if res.Err == nil || res.Recipients != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestNotifyBoundsConcurrency(t *testing.T) {
	var inflight, peak atomic.Int32
	tr := &recordingTransport{deliver: func(context.Context, int64, string) error {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inflight.Add(-1)
		return nil
	}}
	cfg := fastConfig()
	cfg.MaxConcurrency = 3
	ids := make([]int64, 20)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	s := New(cfg, tr, fakeRegistry{"1.1": ids}, logx.Nop())

	res := s.Notify(context.Background(), "1.1", "msg")
	if res.Delivered != 20 {
		t.Fatalf("delivered = %d", res.Delivered)
	}
	if peak.Load() > 3 {
		t.Fatalf("peak concurrency = %d, want <= 3", peak.Load())
	}
}

func TestNotifyPreservesPerRecipientOrder(t *testing.T) {
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	tr := &recordingTransport{deliver: func(_ context.Context, _ int64, text string) error {
		if text == "first" {
			close(firstStarted)
			<-releaseFirst
		}
		return nil
	}}
	s := New(fastConfig(), tr, fakeRegistry{"1.1": {42}}, logx.Nop())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Notify(context.Background(), "1.1", "first")
	}()
	<-firstStarted
	go func() {
		defer wg.Done()
		s.Notify(context.Background(), "1.1", "second")
	}()

	// Give the second call a chance to overtake if ordering were broken.
	time.Sleep(30 * time.Millisecond)
	if got := tr.got(42); len(got) != 0 {
		t.Fatalf("second delivered before first: %v", got)
	}
	close(releaseFirst)
	wg.Wait()

	got := tr.got(42)
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("order = %v", got)
	}
	s.chainMu.Lock()
	defer s.chainMu.Unlock()
	if len(s.tails) != 0 {
		t.Fatalf("ordering chains leaked: %d", len(s.tails))
	}
}

func TestRetryDelayCapped(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: 300 * time.Millisecond}.withDefaults()
	for attempt := 1; attempt <= 6; attempt++ {
		if d := retryDelay(cfg, attempt); d > cfg.RetryMaxDelay || d < 0 {
			t.Fatalf("attempt %d delay %v out of range", attempt, d)
		}
	}
}
