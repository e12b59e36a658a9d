package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outagebot/internal/schedule"
)

var (
	ErrClosed   = errors.New("storage closed")
	ErrNotFound = errors.New("recipient not found")

	// ErrPersist wraps any failure to durably write a schedule entry.
	ErrPersist = errors.New("persist schedule")
)

func persistErr(date, queue string, err error) error {
	if errors.Is(err, ErrClosed) {
		return err
	}
	return fmt.Errorf("%w %s/%s: %w", ErrPersist, date, queue, err)
}

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": dependency-free JSON snapshot backend
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Now overrides the clock used for last_updated/changed_at stamps.
	Now func() time.Time
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Subscription is a recipient's registry row.
type Subscription struct {
	RecipientID int64
	City        string
	Queue       string // empty until chosen
	Notify      bool
}

// Schedules is the schedule state plus its history trail.
//
// Get distinguishes "never ingested" (ok=false) from an ingested empty list.
// Persist overwrites the entry and appends a history record iff a prior entry
// existed with different windows; it reports whether that happened.
type Schedules interface {
	Get(ctx context.Context, date, queue string) (ws schedule.Windows, ok bool, err error)
	Entry(ctx context.Context, date, queue string) (e schedule.Entry, ok bool, err error)
	Persist(ctx context.Context, date, queue string, ws schedule.Windows) (changed bool, err error)
	RecentHistory(ctx context.Context, limit int) ([]schedule.HistoryRecord, error)
}

// Registry is the recipient subscription registry.
type Registry interface {
	EnsureRecipient(ctx context.Context, recipientID int64, city string) (Subscription, error)
	GetSubscription(ctx context.Context, recipientID int64) (Subscription, bool, error)
	SetQueue(ctx context.Context, recipientID int64, queue string) error
	SetNotify(ctx context.Context, recipientID int64, enabled bool) error
	// ListSubscribers returns recipients of queue with notifications enabled,
	// ordered by recipient id.
	ListSubscribers(ctx context.Context, queue string) ([]int64, error)
}

// Store is the persistence API owned by the app and shared by the ingestion
// pipeline and the chat front end.
type Store interface {
	Schedules
	Registry
	Close() error
}
