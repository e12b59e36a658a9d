package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"outagebot/internal/schedule"
	logx "outagebot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// State lives in memory and is mirrored to <path> as one JSON document.
// Each write serializes the full snapshot to <path>.tmp, fsyncs it and
// renames it over <path>, so a crash leaves either the old or the new state.
type fileStore struct {
	log logx.Logger
	cfg Config

	mu     sync.RWMutex
	path   string
	closed bool
	state  fileState
}

type fileState struct {
	Schedules   map[string]schedule.Entry       `json:"schedules"`
	History     []schedule.HistoryRecord        `json:"history"`
	NextID      int64                           `json:"next_id"`
	Subscribers map[int64]fileSubscriberPayload `json:"subscribers"`
}

type fileSubscriberPayload struct {
	City   string `json:"city"`
	Queue  string `json:"queue,omitempty"`
	Notify bool   `json:"notify"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	st := fileState{}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(b, &st); err != nil {
			return nil, err
		}
	}
	if st.Schedules == nil {
		st.Schedules = map[string]schedule.Entry{}
	}
	if st.Subscribers == nil {
		st.Subscribers = map[int64]fileSubscriberPayload{}
	}
	return &fileStore{log: log, cfg: cfg, path: path, state: st}, nil
}

func entryKey(date, queue string) string { return date + "|" + queue }

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) Get(ctx context.Context, date, queue string) (schedule.Windows, bool, error) {
	e, ok, err := s.Entry(ctx, date, queue)
	if err != nil || !ok {
		return nil, ok, err
	}
	return e.Windows, true, nil
}

func (s *fileStore) Entry(ctx context.Context, date, queue string) (schedule.Entry, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return schedule.Entry{}, false, ErrClosed
	}
	e, ok := s.state.Schedules[entryKey(date, queue)]
	if !ok {
		return schedule.Entry{}, false, nil
	}
	e.Windows = append(schedule.Windows{}, e.Windows...)
	return e, true, nil
}

func (s *fileStore) Persist(ctx context.Context, date, queue string, ws schedule.Windows) (bool, error) {
	_ = ctx
	now := s.cfg.now().UTC()
	ws = append(schedule.Windows{}, ws...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	key := entryKey(date, queue)
	prev, existed := s.state.Schedules[key]
	changed := existed && !prev.Windows.Equal(ws)

	next := s.state
	next.Schedules = make(map[string]schedule.Entry, len(s.state.Schedules)+1)
	for k, v := range s.state.Schedules {
		next.Schedules[k] = v
	}
	next.Schedules[key] = schedule.Entry{Date: date, Queue: queue, Windows: ws, LastUpdated: now}
	if changed {
		next.NextID++
		next.History = append(append([]schedule.HistoryRecord(nil), s.state.History...), schedule.HistoryRecord{
			ID:        next.NextID,
			Date:      date,
			Queue:     queue,
			Previous:  prev.Windows,
			New:       ws,
			ChangedAt: now,
		})
	}

	// Memory only advances once the snapshot is on disk.
	if err := s.flushLocked(next); err != nil {
		return false, persistErr(date, queue, err)
	}
	s.state = next
	return changed, nil
}

func (s *fileStore) RecentHistory(ctx context.Context, limit int) ([]schedule.HistoryRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	h := s.state.History
	out := make([]schedule.HistoryRecord, 0, min(limit, len(h)))
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}

func (s *fileStore) EnsureRecipient(ctx context.Context, recipientID int64, city string) (Subscription, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Subscription{}, ErrClosed
	}
	if p, ok := s.state.Subscribers[recipientID]; ok {
		return subscriptionFrom(recipientID, p), nil
	}
	p := fileSubscriberPayload{City: city, Notify: true}
	if err := s.updateSubscribersLocked(recipientID, p); err != nil {
		return Subscription{}, err
	}
	return subscriptionFrom(recipientID, p), nil
}

func (s *fileStore) GetSubscription(ctx context.Context, recipientID int64) (Subscription, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Subscription{}, false, ErrClosed
	}
	p, ok := s.state.Subscribers[recipientID]
	if !ok {
		return Subscription{}, false, nil
	}
	return subscriptionFrom(recipientID, p), true, nil
}

func (s *fileStore) SetQueue(ctx context.Context, recipientID int64, queue string) error {
	return s.mutateSubscriber(recipientID, func(p *fileSubscriberPayload) { p.Queue = strings.TrimSpace(queue) })
}

func (s *fileStore) SetNotify(ctx context.Context, recipientID int64, enabled bool) error {
	return s.mutateSubscriber(recipientID, func(p *fileSubscriberPayload) { p.Notify = enabled })
}

func (s *fileStore) mutateSubscriber(recipientID int64, fn func(p *fileSubscriberPayload)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	p, ok := s.state.Subscribers[recipientID]
	if !ok {
		return ErrNotFound
	}
	fn(&p)
	return s.updateSubscribersLocked(recipientID, p)
}

func (s *fileStore) updateSubscribersLocked(recipientID int64, p fileSubscriberPayload) error {
	next := s.state
	next.Subscribers = make(map[int64]fileSubscriberPayload, len(s.state.Subscribers)+1)
	for k, v := range s.state.Subscribers {
		next.Subscribers[k] = v
	}
	next.Subscribers[recipientID] = p
	if err := s.flushLocked(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *fileStore) ListSubscribers(ctx context.Context, queue string) ([]int64, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []int64
	for id, p := range s.state.Subscribers {
		if p.Notify && p.Queue != "" && p.Queue == queue {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func subscriptionFrom(id int64, p fileSubscriberPayload) Subscription {
	return Subscription{RecipientID: id, City: p.City, Queue: p.Queue, Notify: p.Notify}
}

func (s *fileStore) flushLocked(st fileState) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(st); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	return syncDir(filepath.Dir(s.path))
}

// syncDir makes a rename inside dir durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
