package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"outagebot/internal/fanout"
	"outagebot/internal/render"
	"outagebot/internal/schedule"
	"outagebot/internal/source"
	logx "outagebot/pkg/logx"
)

// Store is the slice of storage the pipeline needs.
type Store interface {
	Get(ctx context.Context, date, queue string) (schedule.Windows, bool, error)
	Persist(ctx context.Context, date, queue string, ws schedule.Windows) (bool, error)
}

// Notifier fans a rendered message out to a queue's subscribers.
type Notifier interface {
	Notify(ctx context.Context, queue, message string) fanout.Result
}

type Config struct {
	// Parallelism bounds how many queues are processed at once.
	Parallelism int

	// Render builds the change message; defaults to render.Change.
	Render func(date, queue string, ws schedule.Windows) string

	Now func() time.Time
}

// Report summarizes one ingestion cycle.
type Report struct {
	CycleID     string        `json:"cycle_id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Dates       []string      `json:"dates"`
	Pairs       int           `json:"pairs"`
	Baselines   int           `json:"baselines"`
	Unchanged   int           `json:"unchanged"`
	Changed     int           `json:"changed"`
	Notified    int           `json:"notified"`
	Undelivered int           `json:"undelivered"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped_items"`
}

// Empty reports whether the cycle saw no data at all.
func (r Report) Empty() bool { return r.Pairs == 0 }

type Pipeline struct {
	cfg      Config
	src      source.Fetcher
	store    Store
	notifier Notifier
	log      logx.Logger

	mu   sync.RWMutex
	last *Report
}

func New(cfg Config, src source.Fetcher, store Store, notifier Notifier, log logx.Logger) *Pipeline {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.Render == nil {
		cfg.Render = render.Change
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		cfg:      cfg,
		src:      src,
		store:    store,
		notifier: notifier,
		log:      log.With(logx.String("comp", "ingest")),
	}
}

// Last returns the report of the most recently completed cycle.
func (p *Pipeline) Last() (Report, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return Report{}, false
	}
	return *p.last, true
}

type pair struct {
	date string
	raw  []string
}

// RunCycle fetches the source once and processes every (date, queue) pair.
//
// Queues are processed in parallel; dates of one queue are processed in
// ascending order so the notifications for one queue follow persist order.
// A failure on one pair is logged and counted, never aborting the cycle.
func (p *Pipeline) RunCycle(ctx context.Context) (rep Report) {
	rep = Report{CycleID: uuid.NewString(), StartedAt: p.cfg.Now()}
	log := p.log.With(logx.String("cycle", rep.CycleID))
	defer func() {
		rep.Duration = p.cfg.Now().Sub(rep.StartedAt)
		p.mu.Lock()
		r := rep
		p.last = &r
		p.mu.Unlock()
	}()

	raw := p.src.Fetch(ctx)
	rep.Dates = raw.Dates()
	if len(raw) == 0 {
		log.Warn("source returned no data; cycle skipped")
		return rep
	}

	byQueue := map[string][]pair{}
	for _, date := range rep.Dates {
		for queue, items := range raw[date] {
			byQueue[queue] = append(byQueue[queue], pair{date: date, raw: items})
		}
	}
	queues := make([]string, 0, len(byQueue))
	for q := range byQueue {
		queues = append(queues, q)
	}
	sort.Strings(queues)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.cfg.Parallelism)
	for _, queue := range queues {
		pairs := byQueue[queue]
		g.Go(func() error {
			for _, pr := range pairs {
				o := p.processPair(ctx, log, pr.date, queue, pr.raw)
				mu.Lock()
				rep.add(o)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("cycle finished",
		logx.Strings("dates", rep.Dates),
		logx.Int("pairs", rep.Pairs),
		logx.Int("baselines", rep.Baselines),
		logx.Int("changed", rep.Changed),
		logx.Int("notified", rep.Notified),
		logx.Int("failed", rep.Failed),
	)
	return rep
}

type outcome struct {
	baseline    bool
	changed     bool
	failed      bool
	skipped     int
	notified    int
	undelivered int
}

func (r *Report) add(o outcome) {
	r.Pairs++
	r.Skipped += o.skipped
	r.Notified += o.notified
	r.Undelivered += o.undelivered
	switch {
	case o.failed:
		r.Failed++
	case o.baseline:
		r.Baselines++
	case o.changed:
		r.Changed++
	default:
		r.Unchanged++
	}
}

func (p *Pipeline) processPair(ctx context.Context, log logx.Logger, date, queue string, raw []string) (o outcome) {
	log = log.With(logx.String("date", date), logx.String("queue", queue))
	defer func() {
		if r := recover(); r != nil {
			log.Error("pair panicked", logx.Any("panic", r))
			o.failed = true
		}
	}()

	ws, skipped := schedule.ParseWindows(raw)
	if len(skipped) > 0 {
		o.skipped = len(skipped)
		log.Warn("unparseable windows dropped", logx.Strings("items", skipped))
	}

	_, known, err := p.store.Get(ctx, date, queue)
	if err != nil {
		log.Error("read prior failed", logx.Err(err))
		o.failed = true
		return o
	}

	changed, err := p.store.Persist(ctx, date, queue, ws)
	if err != nil {
		log.Error("persist failed", logx.Err(err))
		o.failed = true
		return o
	}
	if !known {
		o.baseline = true
		log.Debug("baseline stored", logx.Strings("windows", ws.Strings()))
		return o
	}
	if !changed {
		return o
	}

	o.changed = true
	log.Info("schedule changed", logx.Strings("windows", ws.Strings()))
	if p.notifier == nil {
		return o
	}
	res := p.notifier.Notify(ctx, queue, p.cfg.Render(date, queue, ws))
	o.notified = res.Delivered
	o.undelivered = res.Failed()
	if res.Err != nil {
		log.Warn("notify failed", logx.Err(res.Err))
	}
	return o
}
