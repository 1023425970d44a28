// Package config загружает конфигурацию движка репутации из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Способы доставки уведомлений.
const (
	SinkTelegram = "telegram"
	SinkKafka    = "kafka"
	SinkLog      = "log"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Database ---
	// В Docker дефолт "postgres" (имя сервиса в docker-compose), для локалки DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"reputation"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"reputation"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- Catalog ---
	// TOML с уровнями, типами событий и достижениями. Пусто — только встроенные типы событий.
	CatalogPath string `envconfig:"CATALOG_PATH" default:"configs/catalog.toml"`

	// --- Engine ---
	RecalcBatchSize      int `envconfig:"RECALC_BATCH_SIZE" default:"500"`
	AudienceRecencyDays  int `envconfig:"AUDIENCE_RECENCY_DAYS" default:"7"`
	AudienceBatchSize    int `envconfig:"AUDIENCE_BATCH_SIZE" default:"200"`
	NotifyDefaultLimit   int `envconfig:"NOTIFY_DEFAULT_LIMIT" default:"1000"`
	NotifyMaxInflight    int `envconfig:"NOTIFY_MAX_INFLIGHT" default:"16"`
	NotifyLookaheadHours int `envconfig:"NOTIFY_LOOKAHEAD_HOURS" default:"24"`

	// --- Cron ---
	CronSweep  string `envconfig:"CRON_SWEEP" default:"*/5 * * * *"`
	CronRecalc string `envconfig:"CRON_RECALC" default:"30 3 * * *"`
	CronNotify string `envconfig:"CRON_NOTIFY" default:"0 * * * *"`

	// --- Delivery ---
	NotifySink         string        `envconfig:"NOTIFY_SINK" default:"log"`
	TelegramBotToken   string        `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramSendLimit  int           `envconfig:"TELEGRAM_SEND_LIMIT" default:"20"`
	TelegramSendWindow time.Duration `envconfig:"TELEGRAM_SEND_WINDOW" default:"1m"`
	KafkaBrokersRaw    string        `envconfig:"KAFKA_BROKERS"`
	KafkaBrokers       []string      `envconfig:"-"` // заполним вручную
	KafkaTopic         string        `envconfig:"KAFKA_TOPIC" default:"reputation.notifications"`

	// --- Metrics ---
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// Location возвращает часовой пояс приложения.
// Если зона не загружается — UTC+3, как и раньше для Москвы.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.AppTimezone)
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

func (c *Config) Validate() error {
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.RecalcBatchSize <= 0 {
		return fmt.Errorf("RECALC_BATCH_SIZE должен быть > 0")
	}
	if c.AudienceRecencyDays <= 0 {
		return fmt.Errorf("AUDIENCE_RECENCY_DAYS должен быть > 0")
	}
	if c.AudienceBatchSize <= 0 || c.NotifyDefaultLimit <= 0 || c.NotifyMaxInflight <= 0 {
		return fmt.Errorf("AUDIENCE_BATCH_SIZE, NOTIFY_DEFAULT_LIMIT и NOTIFY_MAX_INFLIGHT должны быть > 0")
	}
	if c.NotifyLookaheadHours <= 0 {
		return fmt.Errorf("NOTIFY_LOOKAHEAD_HOURS должен быть > 0")
	}
	switch c.NotifySink {
	case SinkLog:
	case SinkTelegram:
		if c.TelegramBotToken == "" {
			return fmt.Errorf("NOTIFY_SINK=telegram требует TELEGRAM_BOT_TOKEN")
		}
	case SinkKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("NOTIFY_SINK=kafka требует KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("неизвестный NOTIFY_SINK %q", c.NotifySink)
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	cfg.KafkaBrokers = splitCSV(cfg.KafkaBrokersRaw)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
