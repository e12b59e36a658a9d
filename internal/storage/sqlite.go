package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"outagebot/internal/schedule"
	logx "outagebot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const timeLayout = time.RFC3339Nano

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	cfg Config
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: every read and write is serialized, so a reader never
	// observes a half-applied Persist.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, cfg: cfg}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		// FULL: a committed Persist survives power loss.
		"PRAGMA synchronous = FULL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", p, err)
		}
	}

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Get(ctx context.Context, date, queue string) (schedule.Windows, bool, error) {
	e, ok, err := s.Entry(ctx, date, queue)
	if err != nil || !ok {
		return nil, ok, err
	}
	return e.Windows, true, nil
}

func (s *sqliteStore) Entry(ctx context.Context, date, queue string) (schedule.Entry, bool, error) {
	var raw, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT windows, last_updated FROM schedules WHERE date = ? AND queue = ?`,
		date, queue,
	).Scan(&raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Entry{}, false, nil
	}
	if err != nil {
		return schedule.Entry{}, false, err
	}
	ws, err := decodeWindows(raw)
	if err != nil {
		return schedule.Entry{}, false, err
	}
	at, _ := time.Parse(timeLayout, updated)
	return schedule.Entry{Date: date, Queue: queue, Windows: ws, LastUpdated: at}, true, nil
}

func (s *sqliteStore) Persist(ctx context.Context, date, queue string, ws schedule.Windows) (bool, error) {
	changed, err := s.persist(ctx, date, queue, ws)
	if err != nil {
		return false, persistErr(date, queue, err)
	}
	return changed, nil
}

func (s *sqliteStore) persist(ctx context.Context, date, queue string, ws schedule.Windows) (bool, error) {
	newRaw, err := encodeWindows(ws)
	if err != nil {
		return false, err
	}
	now := s.cfg.now().UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var oldRaw string
	err = tx.QueryRowContext(ctx,
		`SELECT windows FROM schedules WHERE date = ? AND queue = ?`, date, queue,
	).Scan(&oldRaw)
	existed := true
	if errors.Is(err, sql.ErrNoRows) {
		existed = false
	} else if err != nil {
		return false, err
	}

	changed := false
	if existed {
		old, err := decodeWindows(oldRaw)
		if err != nil {
			return false, err
		}
		if !old.Equal(ws) {
			changed = true
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO history(date, queue, old_windows, new_windows, changed_at) VALUES(?,?,?,?,?)`,
				date, queue, oldRaw, newRaw, now,
			); err != nil {
				return false, err
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schedules(date, queue, windows, last_updated) VALUES(?,?,?,?)
		 ON CONFLICT(date, queue) DO UPDATE SET windows = excluded.windows, last_updated = excluded.last_updated`,
		date, queue, newRaw, now,
	); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return changed, nil
}

func (s *sqliteStore) RecentHistory(ctx context.Context, limit int) ([]schedule.HistoryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, date, queue, old_windows, new_windows, changed_at FROM history ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.HistoryRecord
	for rows.Next() {
		var (
			r            schedule.HistoryRecord
			oldRaw, nRaw string
			at           string
		)
		if err := rows.Scan(&r.ID, &r.Date, &r.Queue, &oldRaw, &nRaw, &at); err != nil {
			return nil, err
		}
		if r.Previous, err = decodeWindows(oldRaw); err != nil {
			return nil, err
		}
		if r.New, err = decodeWindows(nRaw); err != nil {
			return nil, err
		}
		r.ChangedAt, _ = time.Parse(timeLayout, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- registry ----

func (s *sqliteStore) EnsureRecipient(ctx context.Context, recipientID int64, city string) (Subscription, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(recipient_id, city, queue, notify, created_at) VALUES(?,?,NULL,1,?)
		 ON CONFLICT(recipient_id) DO NOTHING`,
		recipientID, city, s.cfg.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return Subscription{}, err
	}
	sub, _, err := s.GetSubscription(ctx, recipientID)
	return sub, err
}

func (s *sqliteStore) GetSubscription(ctx context.Context, recipientID int64) (Subscription, bool, error) {
	var (
		sub    = Subscription{RecipientID: recipientID}
		queue  sql.NullString
		notify int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT city, queue, notify FROM subscribers WHERE recipient_id = ?`, recipientID,
	).Scan(&sub.City, &queue, &notify)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, false, nil
	}
	if err != nil {
		return Subscription{}, false, err
	}
	sub.Queue = queue.String
	sub.Notify = notify != 0
	return sub, true, nil
}

func (s *sqliteStore) SetQueue(ctx context.Context, recipientID int64, queue string) error {
	return s.updateSubscriber(ctx, `UPDATE subscribers SET queue = ? WHERE recipient_id = ?`, nullStr(queue), recipientID)
}

func (s *sqliteStore) SetNotify(ctx context.Context, recipientID int64, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	return s.updateSubscriber(ctx, `UPDATE subscribers SET notify = ? WHERE recipient_id = ?`, v, recipientID)
}

func (s *sqliteStore) updateSubscriber(ctx context.Context, q string, v any, recipientID int64) error {
	res, err := s.db.ExecContext(ctx, q, v, recipientID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListSubscribers(ctx context.Context, queue string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient_id FROM subscribers WHERE queue = ? AND notify = 1 ORDER BY recipient_id`, queue,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
