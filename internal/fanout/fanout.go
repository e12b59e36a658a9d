package fanout

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	logx "outagebot/pkg/logx"
)

// ErrDelivery wraps a recipient that could not be reached after all attempts.
var ErrDelivery = errors.New("delivery failed")

// ErrPermanent marks a transport error that another attempt cannot fix
// (blocked bot, deleted chat). Transports wrap it; fanout stops retrying.
var ErrPermanent = errors.New("permanent delivery error")

// Transport delivers one text message to one recipient.
type Transport interface {
	Deliver(ctx context.Context, recipientID int64, text string) error
}

// Registry resolves the recipients subscribed to a queue.
type Registry interface {
	ListSubscribers(ctx context.Context, queue string) ([]int64, error)
}

type Config struct {
	MaxConcurrency int
	RatePerSec     int
	RetryMax       int
	RetryBase      time.Duration
	RetryMaxDelay  time.Duration
	AttemptTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	return c
}

// Failure is one recipient that did not receive the message.
type Failure struct {
	RecipientID int64
	Err         error
}

// Result summarizes one Notify call. Err is set only when the recipient set
// could not be resolved; per-recipient failures are listed in Failures.
type Result struct {
	Queue      string
	Recipients int
	Delivered  int
	Failures   []Failure
	Err        error
}

func (r Result) Failed() int { return len(r.Failures) }

// Service fans one message out to the subscribers of a queue.
//
// Deliveries inside one Notify run concurrently up to MaxConcurrency and share
// a token bucket across calls. Messages to the same recipient are delivered in
// the order the Notify calls were made.
type Service struct {
	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	transport Transport
	registry  Registry
	log       logx.Logger

	chainMu sync.Mutex
	tails   map[int64]chan struct{}
}

func New(cfg Config, transport Transport, registry Registry, log logx.Logger) *Service {
	s := &Service{
		transport: transport,
		registry:  registry,
		log:       log.With(logx.String("comp", "fanout")),
		tails:     map[int64]chan struct{}{},
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps the delivery settings for subsequent Notify calls.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(cfg)
}

func (s *Service) applyLocked(cfg Config) {
	s.cfg = cfg.withDefaults()
	if s.cfg.RatePerSec <= 0 {
		s.limiter = nil
		return
	}
	s.limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.RatePerSec)
}

// Notify delivers message to every recipient subscribed to queue and returns
// after all deliveries finished. It never fails as a whole because one
// recipient failed.
func (s *Service) Notify(ctx context.Context, queue, message string) Result {
	res := Result{Queue: queue}
	if s.registry == nil {
		res.Err = errors.New("fanout: no registry")
		return res
	}
	ids, err := s.registry.ListSubscribers(ctx, queue)
	if err != nil {
		res.Err = fmt.Errorf("list subscribers %s: %w", queue, err)
		s.log.Warn("recipient lookup failed", logx.String("queue", queue), logx.Err(err))
		return res
	}
	out := s.Send(ctx, ids, message)
	out.Queue = queue
	return out
}

// Send delivers message to an explicit recipient list.
func (s *Service) Send(ctx context.Context, recipients []int64, message string) Result {
	ids := uniq(recipients)
	res := Result{Recipients: len(ids)}
	if len(ids) == 0 || message == "" || s.transport == nil {
		return res
	}

	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	// Reserve a slot in every recipient's chain before any delivery starts,
	// so a later call cannot overtake this one.
	prevs := make([]chan struct{}, len(ids))
	dones := make([]chan struct{}, len(ids))
	s.chainMu.Lock()
	for i, id := range ids {
		prevs[i] = s.tails[id]
		dones[i] = make(chan struct{})
		s.tails[id] = dones[i]
	}
	s.chainMu.Unlock()

	var (
		resMu sync.Mutex
		g     errgroup.Group
	)
	g.SetLimit(cfg.MaxConcurrency)
	for i, id := range ids {
		prev, done := prevs[i], dones[i]
		g.Go(func() error {
			defer s.release(id, done)
			if prev != nil {
				<-prev
			}
			err := s.deliverWithRetry(ctx, cfg, lim, id, message)

			resMu.Lock()
			defer resMu.Unlock()
			if err != nil {
				res.Failures = append(res.Failures, Failure{RecipientID: id, Err: err})
				s.log.Warn("delivery failed", logx.Int64("recipient", id), logx.Err(err))
				return nil
			}
			res.Delivered++
			return nil
		})
	}
	_ = g.Wait()
	return res
}

func (s *Service) release(id int64, done chan struct{}) {
	close(done)
	s.chainMu.Lock()
	if s.tails[id] == done {
		delete(s.tails, id)
	}
	s.chainMu.Unlock()
}

func (s *Service) deliverWithRetry(ctx context.Context, cfg Config, lim *rate.Limiter, id int64, text string) error {
	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return fmt.Errorf("%w: %v", ErrDelivery, err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
		err := s.transport.Deliver(callCtx, id, text)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		s.log.Debug("delivery attempt failed", logx.Int64("recipient", id), logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))

		if attempt >= maxAttempts || ctx.Err() != nil || errors.Is(err, ErrPermanent) {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w after %d attempts: %v", ErrDelivery, attempt, lastErr)
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrDelivery, attempt, lastErr)
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// base * 2^(attempt-1), capped.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

func uniq(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
