package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"outagebot/internal/ingest"
	rtsup "outagebot/internal/runtime/supervisor"
	"outagebot/internal/schedule"
	"outagebot/internal/scheduler"
	"outagebot/internal/storage"
	kit "outagebot/internal/transport"
	logx "outagebot/pkg/logx"
)

type nopAdapter struct{}

func (nopAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (nopAdapter) Stop(context.Context) error                     { return nil }
func (nopAdapter) SendText(context.Context, int64, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (nopAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (nopAdapter) AnswerCallback(context.Context, string, string) error { return nil }
func (nopAdapter) Deliver(context.Context, int64, string) error         { return nil }

func TestStopDrainsCycleBeforeClosingStorage(t *testing.T) {
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "app.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}

	started := make(chan struct{})
	persisted := make(chan error, 1)
	job := func(ctx context.Context) ingest.Report {
		close(started)
		time.Sleep(300 * time.Millisecond)
		_, err := st.Persist(ctx, "2024-01-10", "2.1", schedule.Windows{{Start: "08:00", End: "10:00"}})
		persisted <- err
		return ingest.Report{Pairs: 1}
	}

	a := &App{
		log:     logx.Nop(),
		store:   st,
		adapter: nopAdapter{},
		sched:   scheduler.New(scheduler.Config{Interval: time.Hour}, job, logx.Nop()),
	}
	a.sup = rtsup.New(context.Background(), rtsup.WithLogger(a.log))
	if err := a.sched.Start(a.sup.Context()); err != nil {
		t.Fatalf("sched.Start: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("cycle did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := a.Stop(ctx, StopSIGTERM); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case err := <-persisted:
		if err != nil {
			t.Fatalf("in-flight persist failed: %v", err)
		}
	default:
		t.Fatalf("Stop returned before the in-flight cycle finished")
	}
}
