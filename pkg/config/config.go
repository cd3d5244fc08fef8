package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Logger      struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logger"`
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Engine struct {
		UpdateInterval       time.Duration `yaml:"update_interval"`
		PollTimeout          time.Duration `yaml:"poll_timeout"`
		CandlesLimit         int           `yaml:"candles_limit"`
		MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
		ErrorResetTime       time.Duration `yaml:"error_reset_time"`
		Timeframes           struct {
			Primary      string `yaml:"primary"`
			Confirmation string `yaml:"confirmation"`
			Context      string `yaml:"context"`
		} `yaml:"timeframes"`
	} `yaml:"engine"`
	Symbols []string `yaml:"symbols"`
	Alerts  struct {
		MinStrength float64       `yaml:"min_strength"`
		MaxPerHour  int           `yaml:"max_per_hour"`
		DedupWindow time.Duration `yaml:"dedup_window"`
		QueueSize   int           `yaml:"queue_size"`
		HistorySize int           `yaml:"history_size"`
	} `yaml:"alerts"`
	Fees struct {
		Maker float64 `yaml:"maker"`
		Taker float64 `yaml:"taker"`
	} `yaml:"fees"`
	Trading struct {
		InitialBalance   float64 `yaml:"initial_balance"`
		PositionSize     float64 `yaml:"position_size"`
		MaxOpenPositions int     `yaml:"max_open_positions"`
	} `yaml:"trading"`
	Binance struct {
		WebSocketURL    string        `yaml:"websocket_url"`
		APIBudgetPerMin int           `yaml:"api_budget_per_min"`
		Timeout         time.Duration `yaml:"timeout"`
		ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
		PingInterval    time.Duration `yaml:"ping_interval"`
	} `yaml:"binance"`
	Telegram struct {
		Enabled       bool   `yaml:"enabled"`
		Token         string `yaml:"token"`
		ChatID        int64  `yaml:"chat_id"`
		PacePerMinute int    `yaml:"pace_per_minute"`
	} `yaml:"telegram"`
	Webhook struct {
		Enabled bool          `yaml:"enabled"`
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"webhook"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Cache struct {
		KlineTTL    time.Duration `yaml:"kline_ttl"`
		PriceTTL    time.Duration `yaml:"price_ttl"`
		ResponseTTL time.Duration `yaml:"response_ttl"`
		MaxEntries  int           `yaml:"max_entries"`
	} `yaml:"cache"`
	Backend struct {
		Type         string        `yaml:"type"`
		BatchSize    int           `yaml:"batch_size"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
	} `yaml:"backend"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		LogsTopic    string   `yaml:"logs_topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID         string        `yaml:"group_id"`
			AutoOffsetReset string        `yaml:"auto_offset_reset"`
			Workers         int           `yaml:"workers"`
			BufferSize      int           `yaml:"buffer_size"`
			RetryMax        int           `yaml:"retry_max"`
			BackoffMin      time.Duration `yaml:"backoff_min"`
			BackoffMax      time.Duration `yaml:"backoff_max"`
			DLQTopic        string        `yaml:"dlq_topic"`
			MinBytes        int           `yaml:"min_bytes"`
			MaxBytes        int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.setDefaults()

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		c.Telegram.Token = v
		c.Telegram.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse TELEGRAM_CHAT_ID: %w", err)
		}
		c.Telegram.ChatID = id
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		c.Webhook.URL = v
		c.Webhook.Enabled = true
	}

	return c, nil
}

// setDefaults fills engine and alert knobs the YAML left at zero so a sparse
// config still produces a working monitor.
func (c *Config) setDefaults() {
	if c.Engine.UpdateInterval == 0 {
		c.Engine.UpdateInterval = 60 * time.Second
	}
	if c.Engine.PollTimeout == 0 {
		c.Engine.PollTimeout = 30 * time.Second
	}
	if c.Engine.CandlesLimit == 0 {
		c.Engine.CandlesLimit = 100
	}
	if c.Engine.MaxConsecutiveErrors == 0 {
		c.Engine.MaxConsecutiveErrors = 5
	}
	if c.Engine.ErrorResetTime == 0 {
		c.Engine.ErrorResetTime = 30 * time.Minute
	}
	if c.Engine.Timeframes.Primary == "" {
		c.Engine.Timeframes.Primary = "1h"
	}
	if c.Engine.Timeframes.Confirmation == "" {
		c.Engine.Timeframes.Confirmation = "30m"
	}
	if c.Engine.Timeframes.Context == "" {
		c.Engine.Timeframes.Context = "4h"
	}
	if c.Alerts.MinStrength == 0 {
		c.Alerts.MinStrength = 0.7
	}
	if c.Alerts.MaxPerHour == 0 {
		c.Alerts.MaxPerHour = 10
	}
	if c.Alerts.DedupWindow == 0 {
		c.Alerts.DedupWindow = 60 * time.Second
	}
	if c.Alerts.QueueSize == 0 {
		c.Alerts.QueueSize = 256
	}
	if c.Alerts.HistorySize == 0 {
		c.Alerts.HistorySize = 1000
	}
	if c.Fees.Maker == 0 {
		c.Fees.Maker = 0.0004
	}
	if c.Fees.Taker == 0 {
		c.Fees.Taker = 0.0005
	}
	if c.Trading.InitialBalance == 0 {
		c.Trading.InitialBalance = 10000
	}
	if c.Trading.PositionSize == 0 {
		c.Trading.PositionSize = 100
	}
	if c.Trading.MaxOpenPositions == 0 {
		c.Trading.MaxOpenPositions = 3
	}
	if c.Binance.APIBudgetPerMin == 0 {
		c.Binance.APIBudgetPerMin = 1200
	}
	if c.Binance.Timeout == 0 {
		c.Binance.Timeout = 30 * time.Second
	}
	if c.Binance.ReconnectDelay == 0 {
		c.Binance.ReconnectDelay = 5 * time.Second
	}
	if c.Binance.PingInterval == 0 {
		c.Binance.PingInterval = 30 * time.Second
	}
	if c.Telegram.PacePerMinute == 0 {
		c.Telegram.PacePerMinute = 20
	}
	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = 10 * time.Second
	}
	if c.Cache.KlineTTL == 0 {
		c.Cache.KlineTTL = 30 * time.Second
	}
	if c.Cache.PriceTTL == 0 {
		c.Cache.PriceTTL = 5 * time.Second
	}
	if c.Cache.ResponseTTL == 0 {
		c.Cache.ResponseTTL = 3 * time.Second
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 4096
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols cannot be empty")
	}
	if c.Engine.UpdateInterval < 5*time.Second || c.Engine.UpdateInterval > 300*time.Second {
		return fmt.Errorf("engine.update_interval must be within 5s..300s, got %s", c.Engine.UpdateInterval)
	}
	if c.Engine.CandlesLimit < 20 || c.Engine.CandlesLimit > 1500 {
		return fmt.Errorf("engine.candles_limit must be within 20..1500, got %d", c.Engine.CandlesLimit)
	}
	if c.Alerts.MinStrength < 0 || c.Alerts.MinStrength > 1 {
		return fmt.Errorf("alerts.min_strength must be within [0,1], got %f", c.Alerts.MinStrength)
	}
	if c.Alerts.MaxPerHour < 1 {
		return fmt.Errorf("alerts.max_per_hour must be at least 1, got %d", c.Alerts.MaxPerHour)
	}
	if c.Backend.Type == "" {
		return fmt.Errorf("backend.type is required")
	}
	if c.Backend.Type != "kafka" && c.Backend.Type != "clickhouse" && c.Backend.Type != "both" {
		return fmt.Errorf("backend.type must be 'kafka', 'clickhouse' or 'both', got '%s'", c.Backend.Type)
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		return fmt.Errorf("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		return fmt.Errorf("webhook.url is required when webhook is enabled")
	}
	return nil
}
