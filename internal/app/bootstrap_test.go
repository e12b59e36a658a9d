package app

import (
	"os"
	"syscall"
	"testing"
	"time"

	"outagebot/internal/config"
)

func TestMapStorageConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      config.StorageConfig
		driver  string
		busy    time.Duration
		wantErr bool
	}{
		{name: "default sqlite", in: config.StorageConfig{Path: "a.db"}, driver: "sqlite", busy: time.Second},
		{name: "sqlite3 alias", in: config.StorageConfig{Driver: "SQLite3", Path: "a.db", BusyTimeout: "3s"}, driver: "sqlite", busy: 3 * time.Second},
		{name: "file", in: config.StorageConfig{Driver: "file", Path: "state.json"}, driver: "file"},
		{name: "sqlite without path", in: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "bad busy", in: config.StorageConfig{Path: "a.db", BusyTimeout: "soon"}, wantErr: true},
		{name: "unknown", in: config.StorageConfig{Driver: "postgres", Path: "x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Driver != tt.driver || got.BusyTimeout != tt.busy {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestMapLogConfigNeedsAdminChat(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Telegram.Enabled = true
	if mapLogConfig(cfg).Telegram.Enabled {
		t.Fatalf("telegram sink enabled without admin chat")
	}
	cfg.Telegram.AdminChatID = 99
	lc := mapLogConfig(cfg)
	if !lc.Telegram.Enabled || lc.Telegram.ChatID != 99 {
		t.Fatalf("telegram sink = %+v", lc.Telegram)
	}
}

func TestMapFanoutConfigDurations(t *testing.T) {
	cfg := &config.Config{Fanout: config.FanoutConfig{RetryMax: 2, RetryBase: "250ms", AttemptTimeout: "bogus"}}
	fc := mapFanoutConfig(cfg)
	if fc.RetryMax != 2 || fc.RetryBase != 250*time.Millisecond || fc.AttemptTimeout != 0 {
		t.Fatalf("fanout = %+v", fc)
	}
}

func TestMapBotConfigCopiesQueues(t *testing.T) {
	cfg := config.Default()
	cfg.City.Queues = []string{"1.1", "1.2"}
	bc := mapBotConfig(cfg)
	cfg.City.Queues[0] = "changed"
	if bc.Queues[0] != "1.1" {
		t.Fatalf("queues aliased: %v", bc.Queues)
	}
}

func TestStopReasonFromSignal(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want StopReason
	}{
		{os.Interrupt, StopSIGINT},
		{syscall.SIGTERM, StopSIGTERM},
		{syscall.SIGHUP, StopUnknown},
	}
	for _, tt := range tests {
		if got := StopReasonFromSignal(tt.sig); got != tt.want {
			t.Fatalf("%v: got %q, want %q", tt.sig, got, tt.want)
		}
	}
}
