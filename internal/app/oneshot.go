package app

import (
	"context"
	"strings"

	"outagebot/internal/config"
	"outagebot/internal/fanout"
	"outagebot/internal/ingest"
	"outagebot/internal/source"
	"outagebot/internal/storage"
	telegram "outagebot/internal/transport/telegram/adapter"
	logx "outagebot/pkg/logx"
)

// Tools is the wiring used by the one-shot CLI commands: no polling, no
// scheduler, no status server.
type Tools struct {
	Config   *config.Config
	Log      logx.Logger
	Store    storage.Store
	Source   *source.HTTP
	Pipeline *ingest.Pipeline
}

// OpenTools loads the config and opens storage. With dryRun (or without a
// token) change notifications are logged instead of sent.
func OpenTools(cfgPath string, dryRun bool) (*Tools, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	log := logx.NewConsole(cfg.Logging.Level)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	var tr fanout.Transport = dryRunTransport{log: log.With(logx.String("comp", "dry-run"))}
	if !dryRun && strings.TrimSpace(cfg.Telegram.Token) != "" {
		// Offline skips getMe; sends still go to the Bot API.
		ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, Offline: true}, log)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		tr = ad
	}

	src := source.New(mapSourceConfig(cfg), log)
	fan := fanout.New(mapFanoutConfig(cfg), tr, store, log)
	return &Tools{
		Config:   cfg,
		Log:      log,
		Store:    store,
		Source:   src,
		Pipeline: ingest.New(mapIngestConfig(cfg), src, store, fan, log),
	}, nil
}

func (t *Tools) Close() error {
	if t == nil || t.Store == nil {
		return nil
	}
	return t.Store.Close()
}

type dryRunTransport struct{ log logx.Logger }

func (d dryRunTransport) Deliver(_ context.Context, recipientID int64, text string) error {
	d.log.Info("would deliver", logx.Int64("recipient", recipientID), logx.Int("bytes", len(text)))
	return nil
}
