package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestParseWindowVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Window
	}{
		{raw: "08:00-10:00", want: Window{"08:00", "10:00"}},
		{raw: "8:00 – 10:30", want: Window{"08:00", "10:30"}},
		{raw: " 18:00—20:00 ", want: Window{"18:00", "20:00"}},
		{raw: "22:00-24:00", want: Window{"22:00", "24:00"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseWindow(tt.raw)
			if err != nil {
				t.Fatalf("ParseWindow(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseWindow(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseWindowRejects(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "10:00", "10:00-09:00", "10:00-10:00", "25:00-26:00", "10:70-11:00", "24:00-24:30"} {
		if _, err := ParseWindow(raw); !errors.Is(err, ErrBadWindow) {
			t.Fatalf("ParseWindow(%q) err = %v, want ErrBadWindow", raw, err)
		}
	}
}

func TestParseWindowsSortsMergesAndSkips(t *testing.T) {
	ws, skipped := ParseWindows([]string{"18:00-20:00", "garbage", "08:00-10:00", "09:30-11:00", "11:00-12:00"})
	want := Windows{{"08:00", "11:00"}, {"11:00", "12:00"}, {"18:00", "20:00"}}
	if !ws.Equal(want) {
		t.Fatalf("windows = %v, want %v", ws, want)
	}
	if len(skipped) != 1 || skipped[0] != "garbage" {
		t.Fatalf("skipped = %v", skipped)
	}
}

func TestNormalizeKeepsTouchingWindows(t *testing.T) {
	tests := []struct {
		name string
		in   Windows
		want Windows
	}{
		{"touching", Windows{{"10:00", "12:00"}, {"08:00", "10:00"}}, Windows{{"08:00", "10:00"}, {"10:00", "12:00"}}},
		{"overlapping", Windows{{"08:00", "10:30"}, {"10:00", "12:00"}}, Windows{{"08:00", "12:00"}}},
		{"contained", Windows{{"08:00", "12:00"}, {"09:00", "10:00"}}, Windows{{"08:00", "12:00"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Normalize(); !got.Equal(tt.want) {
				t.Fatalf("Normalize = %v, want %v", got, tt.want)
			}
		})
	}

	split, _ := ParseWindows([]string{"08:00-10:00", "10:00-12:00"})
	joined, _ := ParseWindows([]string{"08:00-12:00"})
	if split.Equal(joined) {
		t.Fatalf("split and joined schedules must differ")
	}
}

func TestParseWindowsEmptyIsNotNil(t *testing.T) {
	ws, _ := ParseWindows(nil)
	if ws == nil {
		t.Fatalf("expected empty non-nil windows")
	}
	if len(ws.Strings()) != 0 {
		t.Fatalf("expected no strings")
	}
}

func TestWindowsEqualIsOrderSensitive(t *testing.T) {
	a := Windows{{"08:00", "10:00"}, {"18:00", "20:00"}}
	b := Windows{{"18:00", "20:00"}, {"08:00", "10:00"}}
	if a.Equal(b) {
		t.Fatalf("expected order-sensitive inequality")
	}
	if !a.Equal(Windows{{"08:00", "10:00"}, {"18:00", "20:00"}}) {
		t.Fatalf("expected equality")
	}
	if !Windows(nil).Equal(Windows{}) {
		t.Fatalf("nil and empty should compare equal")
	}
}

func TestDateKeyUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	ts := time.Date(2024, 1, 10, 23, 30, 0, 0, time.UTC)
	if got := DateKey(ts, loc); got != "2024-01-11" {
		t.Fatalf("DateKey = %s", got)
	}
	if !ValidDate("2024-01-11") || ValidDate("11.01.2024") {
		t.Fatalf("ValidDate mismatch")
	}
}
