package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"outagebot/internal/schedule"
	logx "outagebot/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// encodeWindows stores windows as a JSON array of "HH:MM-HH:MM" strings.
func encodeWindows(ws schedule.Windows) (string, error) {
	b, err := json.Marshal(ws.Strings())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeWindows(s string) (schedule.Windows, error) {
	var raw []string
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("decode windows: %w", err)
	}
	ws := make(schedule.Windows, 0, len(raw))
	for _, r := range raw {
		w, err := schedule.ParseWindow(r)
		if err != nil {
			return nil, fmt.Errorf("decode windows: %w", err)
		}
		ws = append(ws, w)
	}
	return ws, nil
}
