package render

import (
	"strings"
	"testing"
	"time"

	"outagebot/internal/schedule"
)

func mustWindows(t *testing.T, raw ...string) schedule.Windows {
	t.Helper()
	ws, skipped := schedule.ParseWindows(raw)
	if len(skipped) > 0 {
		t.Fatalf("skipped %v", skipped)
	}
	return ws
}

func TestChangeMessage(t *testing.T) {
	msg := Change("2024-01-10", "2.1", mustWindows(t, "08:00-10:00", "18:00-20:00"))
	for _, want := range []string{"🔔 <b>ЗМІНА ГРАФІКУ!</b>", "📅 Дата: 2024-01-10", "🔢 Черга: 2.1", "⚡️ 08:00-10:00\n⚡️ 18:00-20:00"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}

	empty := Change("2024-01-10", "2.1", schedule.Windows{})
	if !strings.Contains(empty, NoOutages) {
		t.Fatalf("empty change message missing %q:\n%s", NoOutages, empty)
	}
}

func TestScheduleDistinguishesAbsentFromEmpty(t *testing.T) {
	cases := []struct {
		name    string
		ws      schedule.Windows
		ok      bool
		want    string
		notWant string
	}{
		{"absent", nil, false, "Дані ще не завантажені", NoOutages},
		{"empty", schedule.Windows{}, true, NoOutages, "Дані ще не завантажені"},
		{"windows", mustWindows(t, "08:00-12:00"), true, "⚡️ 08:00-12:00", NoOutages},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Schedule(Tomorrow, "2024-01-11", "3.2", tc.ws, tc.ok)
			if !strings.Contains(got, tc.want) || strings.Contains(got, tc.notWant) {
				t.Fatalf("reply:\n%s", got)
			}
			if !strings.Contains(got, "Графік на завтра (11.01.2024)") {
				t.Fatalf("header missing:\n%s", got)
			}
		})
	}
}

func TestWelcomeEscapesCity(t *testing.T) {
	got := Welcome("<Жмеринка>", "")
	if strings.Contains(got, "<Жмеринка>") {
		t.Fatalf("city not escaped:\n%s", got)
	}
	if !strings.Contains(got, ChooseFirst) {
		t.Fatalf("missing queue hint:\n%s", got)
	}
	if !strings.Contains(Welcome("x", "4.1"), "<b>4.1</b>") {
		t.Fatalf("queue not shown")
	}
}

func TestHistory(t *testing.T) {
	if got := History(nil, nil); !strings.Contains(got, "ще не зафіксовано") {
		t.Fatalf("empty history = %q", got)
	}
	recs := []schedule.HistoryRecord{{
		ID: 2, Date: "2024-01-10", Queue: "1.1",
		Previous:  mustWindows(t, "08:00-10:00"),
		New:       schedule.Windows{},
		ChangedAt: time.Date(2024, 1, 10, 6, 5, 0, 0, time.UTC),
	}}
	got := History(recs, time.FixedZone("EET", 2*3600))
	for _, want := range []string{"10.01.2024 · черга 1.1", "08:05", "було: 08:00-10:00", "стало: немає відключень"} {
		if !strings.Contains(got, want) {
			t.Fatalf("history missing %q:\n%s", want, got)
		}
	}
	if strings.HasSuffix(got, "\n") {
		t.Fatalf("trailing newline")
	}
}

func TestReadable(t *testing.T) {
	if got := Readable("2024-03-07"); got != "07.03.2024" {
		t.Fatalf("Readable = %q", got)
	}
	if got := Readable("garbage"); got != "garbage" {
		t.Fatalf("Readable(garbage) = %q", got)
	}
}
