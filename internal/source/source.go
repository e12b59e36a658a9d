// Package source fetches the published outage schedule and normalizes it
// into a date -> queue -> raw window strings mapping.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"outagebot/internal/schedule"
	logx "outagebot/pkg/logx"
)

const (
	DefaultURL          = "https://bezsvitla.com.ua/vinnytska-oblast/zmerinka"
	DefaultTomorrowPath = "/grafik-na-zavtra"
	DefaultTimeout      = 15 * time.Second
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	maxBodyBytes = 4 << 20
)

// ErrFetch marks a failed or unusable upstream response.
var ErrFetch = errors.New("source fetch failed")

// Raw is date -> queue -> raw "HH:MM-HH:MM" strings, as published.
// An empty Raw means nothing could be fetched.
type Raw map[string]map[string][]string

// Dates returns the date keys in ascending order.
func (r Raw) Dates() []string {
	out := make([]string, 0, len(r))
	for d := range r {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Fetcher produces a Raw mapping. It never returns an error: failures are
// logged and reflected as missing dates.
type Fetcher interface {
	Fetch(ctx context.Context) Raw
}

type Config struct {
	URL          string
	TomorrowPath string
	Timeout      time.Duration
	UserAgent    string
	Location     *time.Location

	Now    func() time.Time
	Client *http.Client
}

// HTTP fetches today's page and the tomorrow page of one city.
type HTTP struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) *HTTP {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.TomorrowPath == "" {
		cfg.TomorrowPath = DefaultTomorrowPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTP{cfg: cfg, client: client, log: log.With(logx.String("comp", "source"))}
}

// Fetch returns today's mapping and, when available, tomorrow's.
// A failed today page yields an empty Raw; a failed tomorrow page yields
// today only.
func (h *HTTP) Fetch(ctx context.Context) Raw {
	raw, err := h.FetchDetailed(ctx)
	if err != nil {
		h.log.Warn("fetch failed", logx.Err(err))
	}
	return raw
}

// FetchDetailed is Fetch with the today-page error surfaced.
func (h *HTTP) FetchDetailed(ctx context.Context) (Raw, error) {
	now := h.cfg.Now().In(h.cfg.Location)
	today := schedule.DateKey(now, h.cfg.Location)
	tomorrow := schedule.DateKey(now.AddDate(0, 0, 1), h.cfg.Location)

	out := Raw{}
	queues, err := h.page(ctx, h.cfg.URL)
	if err != nil {
		return Raw{}, err
	}
	out[today] = queues
	h.log.Debug("today fetched", logx.String("date", today), logx.Int("queues", len(queues)))

	tq, err := h.page(ctx, h.cfg.URL+h.cfg.TomorrowPath)
	if err != nil {
		h.log.Warn("tomorrow unavailable", logx.String("date", tomorrow), logx.Err(err))
		return out, nil
	}
	out[tomorrow] = tq
	h.log.Debug("tomorrow fetched", logx.String("date", tomorrow), logx.Int("queues", len(tq)))
	return out, nil
}

func (h *HTTP) page(ctx context.Context, url string) (map[string][]string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", h.cfg.UserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("%w: %s: status %d", ErrFetch, url, resp.StatusCode)
	}
	queues, err := Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}
	return queues, nil
}
