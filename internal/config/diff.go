package config

import (
	"reflect"

	logx "outagebot/pkg/logx"
)

// Change summarizes what a reload touched.
type Change struct {
	// Sections lists changed top-level sections.
	Sections []string
	// Restart lists changed sections that are only read at startup.
	Restart []string
	// Attrs is safe to log (never includes secrets).
	Attrs []logx.Field
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Diff compares two configs. A nil side is treated as empty.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if restart {
			ch.Restart = append(ch.Restart, section)
		}
		ch.Attrs = append(ch.Attrs, attrs...)
	}

	if oldCfg.Ingest != newCfg.Ingest {
		mark("ingest", false,
			logx.Int("ingest.check_interval_minutes", newCfg.Ingest.CheckIntervalMinutes),
			logx.Int("ingest.parallelism", newCfg.Ingest.Parallelism),
		)
	}
	if oldCfg.Fanout != newCfg.Fanout {
		mark("fanout", false,
			logx.Int("fanout.max_concurrency", newCfg.Fanout.MaxConcurrency),
			logx.Int("fanout.rate_per_sec", newCfg.Fanout.RatePerSec),
			logx.Int("fanout.retry_max", newCfg.Fanout.RetryMax),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.City, newCfg.City) {
		mark("city", true, logx.String("city.name", newCfg.City.Name), logx.Int("city.queue_count", len(newCfg.City.Queues)))
	}
	if oldCfg.Source != newCfg.Source {
		mark("source", true, logx.String("source.url", newCfg.Source.URL))
	}
	// Telegram (never log token)
	if oldCfg.Telegram != newCfg.Telegram {
		mark("telegram", true, logx.Bool("telegram.token_set", newCfg.Telegram.Token != ""))
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage", true, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.API, newCfg.API) {
		mark("api", true, logx.Bool("api.enabled", newCfg.API.Enabled), logx.String("api.addr", newCfg.API.Addr))
	}
	return ch
}
