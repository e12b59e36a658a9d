package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "outagebot/pkg/logx"
)

const todayPage = `<!doctype html>
<html><body>
<h2>Графік відключень</h2>
<p><strong>Черга 1.1</strong></p>
<ul>
  <li>💡 00:00 – 08:00 світло є</li>
  <li>08:00 – 12:00 відключення</li>
  <li>18:00-22:00</li>
</ul>
<p><strong>Черга 2.1</strong></p>
<ul>
  <li>💡 00:00 – 24:00</li>
</ul>
<p><strong>Черга 3.2</strong> <em>оновлено</em></p>
<div><ul><li>14:00 – 16:00</li><li>примітка без часу</li></ul></div>
<p><strong>Інформація</strong></p>
<ul><li>10:00 – 11:00</li></ul>
</body></html>`

const tomorrowPage = `<html><body>
<strong>Черга 1.1</strong><ul><li>10:00 – 14:00</li></ul>
</body></html>`

func TestParse(t *testing.T) {
	got, err := Parse(strings.NewReader(todayPage))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := map[string][]string{
		"1.1": {"08:00-12:00", "18:00-22:00"},
		"2.1": {},
		"3.2": {"14:00-16:00"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse = %#v, want %#v", got, want)
	}
}

func TestParseHeadingWithoutList(t *testing.T) {
	got, err := Parse(strings.NewReader(`<strong>Черга 6.2</strong><p>немає даних</p>`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if v, ok := got["6.2"]; !ok || v == nil || len(v) != 0 {
		t.Fatalf("6.2 = %#v ok:%v, want empty", v, ok)
	}
}

func newTestSource(t *testing.T, h http.Handler) *HTTP {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	loc := time.FixedZone("EET", 2*3600)
	return New(Config{
		URL:      srv.URL + "/zmerinka",
		Timeout:  time.Second,
		Location: loc,
		Now:      func() time.Time { return time.Date(2024, 1, 10, 23, 30, 0, 0, loc) },
	}, logx.Nop())
}

func TestFetchTodayAndTomorrow(t *testing.T) {
	var ua atomic.Value
	src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.UserAgent())
		switch r.URL.Path {
		case "/zmerinka":
			_, _ = w.Write([]byte(todayPage))
		case "/zmerinka/grafik-na-zavtra":
			_, _ = w.Write([]byte(tomorrowPage))
		default:
			http.NotFound(w, r)
		}
	}))

	raw := src.Fetch(context.Background())
	if got := raw.Dates(); !reflect.DeepEqual(got, []string{"2024-01-10", "2024-01-11"}) {
		t.Fatalf("dates = %v", got)
	}
	if got := raw["2024-01-11"]["1.1"]; !reflect.DeepEqual(got, []string{"10:00-14:00"}) {
		t.Fatalf("tomorrow 1.1 = %v", got)
	}
	if ua.Load() != DefaultUserAgent {
		t.Fatalf("user agent = %v", ua.Load())
	}
}

func TestFetchTomorrowFailureIsPartial(t *testing.T) {
	src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/zmerinka" {
			_, _ = w.Write([]byte(todayPage))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))

	raw, err := src.FetchDetailed(context.Background())
	if err != nil {
		t.Fatalf("FetchDetailed: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("dates = %v, want today only", raw.Dates())
	}
	if _, ok := raw["2024-01-10"]; !ok {
		t.Fatalf("today missing")
	}
}

func TestFetchTodayFailureIsEmpty(t *testing.T) {
	src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	raw, err := src.FetchDetailed(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
	if raw == nil || len(raw) != 0 {
		t.Fatalf("raw = %v, want empty", raw)
	}
	if got := src.Fetch(context.Background()); len(got) != 0 {
		t.Fatalf("Fetch = %v, want empty", got)
	}
}

func TestFetchTimesOut(t *testing.T) {
	release := make(chan struct{})
	src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)
	src.cfg.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := src.FetchDetailed(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("fetch not bounded by timeout")
	}
}
