// Package schedule holds the canonical outage schedule types shared by the
// store, the ingestion pipeline and the chat front end.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// DateLayout is the calendar-day key format used everywhere (YYYY-MM-DD).
const DateLayout = "2006-01-02"

var (
	ErrBadWindow = errors.New("invalid outage window")

	reWindow = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*[-–—]\s*(\d{1,2}):(\d{2})\s*$`)
)

// Window is a half-open [Start, End) outage interval inside one day.
// Both ends are zero-padded HH:MM clock times and Start < End.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (w Window) String() string { return w.Start + "-" + w.End }

// ParseWindow parses "HH:MM-HH:MM" (hyphen, en dash or em dash, optional
// spaces) into a Window. "24:00" is accepted as an end-of-day bound.
func ParseWindow(raw string) (Window, error) {
	m := reWindow.FindStringSubmatch(raw)
	if m == nil {
		return Window{}, fmt.Errorf("%w: %q", ErrBadWindow, raw)
	}
	start, err := clock(m[1], m[2], false)
	if err != nil {
		return Window{}, fmt.Errorf("%w: %q: %v", ErrBadWindow, raw, err)
	}
	end, err := clock(m[3], m[4], true)
	if err != nil {
		return Window{}, fmt.Errorf("%w: %q: %v", ErrBadWindow, raw, err)
	}
	if start >= end {
		return Window{}, fmt.Errorf("%w: %q: start must be before end", ErrBadWindow, raw)
	}
	return Window{Start: start, End: end}, nil
}

func clock(hh, mm string, allowMidnightEnd bool) (string, error) {
	var h, m int
	if _, err := fmt.Sscanf(hh+":"+mm, "%d:%d", &h, &m); err != nil {
		return "", err
	}
	if m < 0 || m > 59 {
		return "", fmt.Errorf("minutes out of range")
	}
	if h == 24 && m == 0 && allowMidnightEnd {
		return "24:00", nil
	}
	if h < 0 || h > 23 {
		return "", fmt.Errorf("hours out of range")
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// Windows is an ordered list of outage windows for one (date, queue).
type Windows []Window

// ParseWindows parses every raw interval, sorts the result chronologically
// and merges overlapping windows. Unparseable items are returned
// in skipped so callers can log them.
func ParseWindows(raw []string) (ws Windows, skipped []string) {
	ws = Windows{}
	for _, r := range raw {
		w, err := ParseWindow(r)
		if err != nil {
			skipped = append(skipped, r)
			continue
		}
		ws = append(ws, w)
	}
	return ws.Normalize(), skipped
}

// Normalize returns a sorted copy with overlapping windows merged. Windows
// are half-open, so touching windows (10:00 end, 10:00 start) stay separate.
func (ws Windows) Normalize() Windows {
	out := make(Windows, len(ws))
	copy(out, ws)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	merged := out[:0]
	for _, w := range out {
		if n := len(merged); n > 0 && w.Start < merged[n-1].End {
			if w.End > merged[n-1].End {
				merged[n-1].End = w.End
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

// Equal is order-sensitive structural equality. nil and empty are equal.
func (ws Windows) Equal(other Windows) bool {
	if len(ws) != len(other) {
		return false
	}
	for i := range ws {
		if ws[i] != other[i] {
			return false
		}
	}
	return true
}

// Strings renders the canonical "HH:MM-HH:MM" list.
func (ws Windows) Strings() []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.String())
	}
	return out
}

func (ws Windows) String() string { return "[" + strings.Join(ws.Strings(), " ") + "]" }

// Entry is the persisted state of one (date, queue) key.
type Entry struct {
	Date        string    `json:"date"`
	Queue       string    `json:"queue"`
	Windows     Windows   `json:"windows"`
	LastUpdated time.Time `json:"last_updated"`
}

// HistoryRecord is an append-only audit entry for one detected change.
type HistoryRecord struct {
	ID        int64     `json:"id"`
	Date      string    `json:"date"`
	Queue     string    `json:"queue"`
	Previous  Windows   `json:"previous"`
	New       Windows   `json:"new"`
	ChangedAt time.Time `json:"changed_at"`
}

// DateKey formats t as a calendar-day key in loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(DateLayout)
}

// ValidDate reports whether s is a well-formed YYYY-MM-DD key.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}
