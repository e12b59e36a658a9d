package app

import (
	"fmt"
	"strings"
	"time"

	"outagebot/internal/bot"
	"outagebot/internal/config"
	"outagebot/internal/fanout"
	"outagebot/internal/ingest"
	"outagebot/internal/source"
	"outagebot/internal/storage"
	logx "outagebot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			// A sink without a target chat would only drop lines.
			Enabled:    cfg.Logging.Telegram.Enabled && cfg.Telegram.AdminChatID != 0,
			ChatID:     cfg.Telegram.AdminChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	path := strings.TrimSpace(sc.Path)
	dl := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch dl {
	case "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "", "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		if busy == 0 {
			busy = time.Second
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSourceConfig(cfg *config.Config) source.Config {
	return source.Config{
		URL:          cfg.Source.URL,
		TomorrowPath: cfg.Source.TomorrowPath,
		Timeout:      config.Duration(cfg.Source.Timeout, source.DefaultTimeout),
		UserAgent:    cfg.Source.UserAgent,
		Location:     cfg.Location(),
	}
}

func mapFanoutConfig(cfg *config.Config) fanout.Config {
	return fanout.Config{
		MaxConcurrency: cfg.Fanout.MaxConcurrency,
		RatePerSec:     cfg.Fanout.RatePerSec,
		RetryMax:       cfg.Fanout.RetryMax,
		RetryBase:      config.Duration(cfg.Fanout.RetryBase, 0),
		RetryMaxDelay:  config.Duration(cfg.Fanout.RetryMaxDelay, 0),
		AttemptTimeout: config.Duration(cfg.Fanout.AttemptTimeout, 0),
	}
}

func mapIngestConfig(cfg *config.Config) ingest.Config {
	return ingest.Config{Parallelism: cfg.Ingest.Parallelism}
}

func mapBotConfig(cfg *config.Config) bot.Config {
	return bot.Config{
		City:      cfg.City.Name,
		Queues:    append([]string(nil), cfg.City.Queues...),
		Location:  cfg.Location(),
		SourceURL: cfg.Source.URL,
	}
}
