package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"outagebot/internal/schedule"
	logx "outagebot/pkg/logx"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{}
	for _, tc := range []struct{ driver, file string }{
		{"sqlite", "state.db"},
		{"file", "state.json"},
	} {
		clk := &testClock{t: time.Date(2024, 1, 10, 6, 0, 0, 0, time.UTC)}
		st, err := Open(Config{
			Driver: tc.driver,
			Path:   filepath.Join(t.TempDir(), tc.file),
			Now:    clk.Now,
		}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", tc.driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[tc.driver] = st
	}
	return out
}

func ws(items ...string) schedule.Windows {
	out := schedule.Windows{}
	for _, it := range items {
		w, err := schedule.ParseWindow(it)
		if err != nil {
			panic(err)
		}
		out = append(out, w)
	}
	return out
}

func TestGetDistinguishesAbsentFromEmpty(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := st.Get(ctx, "2024-01-11", "3.2"); err != nil || ok {
				t.Fatalf("Get absent = ok:%v err:%v", ok, err)
			}
			changed, err := st.Persist(ctx, "2024-01-11", "3.2", schedule.Windows{})
			if err != nil {
				t.Fatalf("Persist: %v", err)
			}
			if changed {
				t.Fatalf("baseline persist must not report a change")
			}
			got, ok, err := st.Get(ctx, "2024-01-11", "3.2")
			if err != nil || !ok {
				t.Fatalf("Get after persist = ok:%v err:%v", ok, err)
			}
			if len(got) != 0 {
				t.Fatalf("expected empty windows, got %v", got)
			}
			h, err := st.RecentHistory(ctx, 10)
			if err != nil || len(h) != 0 {
				t.Fatalf("history = %v err:%v", h, err)
			}
		})
	}
}

func TestPersistHistoryOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			a := ws("08:00-10:00")
			b := ws("08:00-10:00", "18:00-20:00")

			mustPersist(t, st, a, false)
			first, _, _ := st.Entry(ctx, "2024-01-10", "2.1")

			// identical data: no history, last_updated refreshed
			mustPersist(t, st, a, false)
			second, _, _ := st.Entry(ctx, "2024-01-10", "2.1")
			if !second.LastUpdated.After(first.LastUpdated) {
				t.Fatalf("last_updated not refreshed: %v -> %v", first.LastUpdated, second.LastUpdated)
			}

			mustPersist(t, st, b, true)
			// repeated identical write after a change: still only one record
			mustPersist(t, st, b, false)

			h, err := st.RecentHistory(ctx, 10)
			if err != nil {
				t.Fatalf("RecentHistory: %v", err)
			}
			if len(h) != 1 {
				t.Fatalf("history len = %d, want 1", len(h))
			}
			if !h[0].Previous.Equal(a) || !h[0].New.Equal(b) {
				t.Fatalf("history = %v -> %v", h[0].Previous, h[0].New)
			}
			if h[0].Date != "2024-01-10" || h[0].Queue != "2.1" {
				t.Fatalf("history key = %s/%s", h[0].Date, h[0].Queue)
			}
		})
	}
}

func mustPersist(t *testing.T, st Store, w schedule.Windows, wantChanged bool) {
	t.Helper()
	changed, err := st.Persist(context.Background(), "2024-01-10", "2.1", w)
	if err != nil {
		t.Fatalf("Persist(%v): %v", w, err)
	}
	if changed != wantChanged {
		t.Fatalf("Persist(%v) changed = %v, want %v", w, changed, wantChanged)
	}
}

func TestRecentHistoryNewestFirstAndLimited(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			seq := []schedule.Windows{
				ws("08:00-10:00"),
				ws("09:00-11:00"),
				ws("10:00-12:00"),
				ws("11:00-13:00"),
			}
			for _, w := range seq {
				if _, err := st.Persist(ctx, "2024-01-10", "1.1", w); err != nil {
					t.Fatalf("Persist: %v", err)
				}
			}
			h, err := st.RecentHistory(ctx, 2)
			if err != nil {
				t.Fatalf("RecentHistory: %v", err)
			}
			if len(h) != 2 {
				t.Fatalf("len = %d, want 2", len(h))
			}
			if !h[0].New.Equal(seq[3]) || !h[1].New.Equal(seq[2]) {
				t.Fatalf("unexpected order: %v, %v", h[0].New, h[1].New)
			}
			if h[0].ID <= h[1].ID {
				t.Fatalf("ids not descending: %d, %d", h[0].ID, h[1].ID)
			}
			if none, _ := st.RecentHistory(ctx, 0); len(none) != 0 {
				t.Fatalf("limit 0 should return nothing")
			}
		})
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	for _, driver := range []string{"sqlite", "file"} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state")
			st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if _, err := st.Persist(ctx, "2024-01-10", "2.1", ws("08:00-10:00")); err != nil {
				t.Fatalf("Persist: %v", err)
			}
			if _, err := st.Persist(ctx, "2024-01-10", "2.1", ws("08:00-09:00")); err != nil {
				t.Fatalf("Persist: %v", err)
			}
			if _, err := st.EnsureRecipient(ctx, 7, "Жмеринка"); err != nil {
				t.Fatalf("EnsureRecipient: %v", err)
			}
			_ = st.Close()

			st2, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer st2.Close()
			got, ok, err := st2.Get(ctx, "2024-01-10", "2.1")
			if err != nil || !ok || !got.Equal(ws("08:00-09:00")) {
				t.Fatalf("Get after reopen = %v ok:%v err:%v", got, ok, err)
			}
			if h, _ := st2.RecentHistory(ctx, 5); len(h) != 1 {
				t.Fatalf("history after reopen = %d", len(h))
			}
			if _, ok, _ := st2.GetSubscription(ctx, 7); !ok {
				t.Fatalf("subscriber lost after reopen")
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			sub, err := st.EnsureRecipient(ctx, 10, "Жмеринка")
			if err != nil {
				t.Fatalf("EnsureRecipient: %v", err)
			}
			if sub.Queue != "" || !sub.Notify || sub.City != "Жмеринка" {
				t.Fatalf("new subscription = %+v", sub)
			}
			for _, id := range []int64{30, 20} {
				if _, err := st.EnsureRecipient(ctx, id, "Жмеринка"); err != nil {
					t.Fatalf("EnsureRecipient: %v", err)
				}
				if err := st.SetQueue(ctx, id, "2.1"); err != nil {
					t.Fatalf("SetQueue: %v", err)
				}
			}
			if err := st.SetQueue(ctx, 10, "2.1"); err != nil {
				t.Fatalf("SetQueue: %v", err)
			}
			if err := st.SetNotify(ctx, 10, false); err != nil {
				t.Fatalf("SetNotify: %v", err)
			}

			got, err := st.ListSubscribers(ctx, "2.1")
			if err != nil {
				t.Fatalf("ListSubscribers: %v", err)
			}
			if len(got) != 2 || got[0] != 20 || got[1] != 30 {
				t.Fatalf("subscribers = %v, want [20 30]", got)
			}
			if other, _ := st.ListSubscribers(ctx, "3.1"); len(other) != 0 {
				t.Fatalf("unexpected subscribers for 3.1: %v", other)
			}

			// EnsureRecipient must not reset an existing row.
			again, err := st.EnsureRecipient(ctx, 10, "Жмеринка")
			if err != nil || again.Queue != "2.1" || again.Notify {
				t.Fatalf("EnsureRecipient existing = %+v err:%v", again, err)
			}
			if err := st.SetQueue(ctx, 999, "1.1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("SetQueue unknown err = %v", err)
			}
		})
	}
}

func TestConcurrentReadsNeverTorn(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			a := ws("08:00-10:00")
			b := ws("12:00-14:00", "18:00-20:00")
			if _, err := st.Persist(ctx, "2024-01-10", "4.1", a); err != nil {
				t.Fatalf("Persist: %v", err)
			}

			var wg sync.WaitGroup
			stop := make(chan struct{})
			errs := make(chan error, 1)
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					got, ok, err := st.Get(ctx, "2024-01-10", "4.1")
					if err != nil || !ok || !(got.Equal(a) || got.Equal(b)) {
						select {
						case errs <- errors.New("torn or missing read: " + got.String()):
						default:
						}
						return
					}
				}
			}()
			for i := 0; i < 20; i++ {
				w := a
				if i%2 == 0 {
					w = b
				}
				if _, err := st.Persist(ctx, "2024-01-10", "4.1", w); err != nil {
					t.Fatalf("Persist: %v", err)
				}
			}
			close(stop)
			wg.Wait()
			select {
			case err := <-errs:
				t.Fatal(err)
			default:
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "mongo", Path: "x"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestFileFlushRenamesAndSyncsDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	if _, err := st.Persist(context.Background(), "2024-01-10", "2.1", ws("08:00-10:00")); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp snapshot left behind: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}

	if err := syncDir(dir); err != nil {
		t.Fatalf("syncDir: %v", err)
	}
	if err := syncDir(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("syncDir on a missing dir should fail")
	}
}
