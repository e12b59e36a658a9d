package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "OUTAGEBOT"

var DefaultQueues = []string{"1.1", "1.2", "2.1", "2.2", "3.1", "3.2", "4.1", "4.2", "5.1", "5.2", "6.1", "6.2"}

// Default returns a config with every default filled in.
func Default() *Config {
	c := &Config{Logging: LoggingConfig{Console: true}}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.City.Name) == "" {
		c.City.Name = "Жмеринка"
	}
	if len(c.City.Queues) == 0 {
		c.City.Queues = append([]string(nil), DefaultQueues...)
	}
	if strings.TrimSpace(c.City.Timezone) == "" {
		c.City.Timezone = "Europe/Kyiv"
	}
	if strings.TrimSpace(c.Source.URL) == "" {
		c.Source.URL = "https://bezsvitla.com.ua/vinnytska-oblast/zmerinka"
	}
	if c.Ingest.CheckIntervalMinutes == 0 {
		c.Ingest.CheckIntervalMinutes = 30
	}
	if c.Ingest.Parallelism == 0 {
		c.Ingest.Parallelism = 4
	}
	if c.Fanout.MaxConcurrency == 0 {
		c.Fanout.MaxConcurrency = 8
	}
	if c.Fanout.RatePerSec == 0 {
		// Telegram allows ~30 msg/s per bot.
		c.Fanout.RatePerSec = 25
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "sqlite"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = "data/outagebot.db"
	}
	if strings.TrimSpace(c.API.Addr) == "" {
		c.API.Addr = "127.0.0.1:8080"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Ingest.CheckIntervalMinutes <= 0 {
		return errors.New("ingest.check_interval_minutes must be > 0")
	}
	if c.Ingest.Parallelism < 0 {
		return errors.New("ingest.parallelism must be >= 0")
	}
	seen := map[string]bool{}
	for _, q := range c.City.Queues {
		q = strings.TrimSpace(q)
		if q == "" {
			return errors.New("city.queues: empty queue id")
		}
		if seen[q] {
			return fmt.Errorf("city.queues: duplicate %q", q)
		}
		seen[q] = true
	}
	if _, err := time.LoadLocation(c.City.Timezone); err != nil {
		return fmt.Errorf("city.timezone: %w", err)
	}
	if c.Fanout.MaxConcurrency < 0 || c.Fanout.RatePerSec < 0 || c.Fanout.RetryMax < 0 {
		return errors.New("fanout: values must be >= 0")
	}
	for path, raw := range map[string]string{
		"source.timeout":         c.Source.Timeout,
		"fanout.retry_base":      c.Fanout.RetryBase,
		"fanout.retry_max_delay": c.Fanout.RetryMaxDelay,
		"fanout.attempt_timeout": c.Fanout.AttemptTimeout,
		"telegram.poll_timeout":  c.Telegram.PollTimeout,
		"storage.busy_timeout":   c.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file":
	default:
		return fmt.Errorf("storage.driver: unknown %q", c.Storage.Driver)
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.City.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Ingest.CheckIntervalMinutes) * time.Minute
}

// HasQueue reports whether q is one of the configured queues.
func (c *Config) HasQueue(q string) bool {
	for _, v := range c.City.Queues {
		if v == q {
			return true
		}
	}
	return false
}

// LoadDotEnv loads .env files into the process environment. Missing files are
// ignored; variables already set win.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

// applyEnv overlays OUTAGEBOT_* environment variables, e.g.
// OUTAGEBOT_TELEGRAM_TOKEN or OUTAGEBOT_INGEST_CHECK_INTERVAL_MINUTES.
func applyEnv(c *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	str := func(key string, dst *string) {
		_ = v.BindEnv(key)
		if s := strings.TrimSpace(v.GetString(key)); s != "" {
			*dst = s
		}
	}
	num := func(key string, dst *int) {
		_ = v.BindEnv(key)
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	str("telegram.token", &c.Telegram.Token)
	_ = v.BindEnv("telegram.admin_chat_id")
	if v.IsSet("telegram.admin_chat_id") {
		c.Telegram.AdminChatID = v.GetInt64("telegram.admin_chat_id")
	}
	str("storage.driver", &c.Storage.Driver)
	str("storage.path", &c.Storage.Path)
	str("source.url", &c.Source.URL)
	str("api.addr", &c.API.Addr)
	str("logging.level", &c.Logging.Level)
	str("city.timezone", &c.City.Timezone)
	num("ingest.check_interval_minutes", &c.Ingest.CheckIntervalMinutes)
}
