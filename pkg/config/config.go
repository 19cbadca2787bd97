package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ZepixTrader/pkg/logger"
)

type Config struct {
	Environment string        `yaml:"environment"`
	Log         logger.Config `yaml:"log"`
	Server      Server        `yaml:"server"`
	Metrics     Metrics       `yaml:"metrics"`
	Store       Store         `yaml:"store"`
	Broker      Broker        `yaml:"broker"`
	Kafka       Kafka         `yaml:"kafka"`
	Redis       Redis         `yaml:"redis"`
	Queue       Queue         `yaml:"queue"`
	ClickHouse  ClickHouse    `yaml:"clickhouse"`
	QuoteFeed   QuoteFeed     `yaml:"quote_feed"`
	Telegram    Telegram      `yaml:"telegram"`
	Trading     Trading       `yaml:"trading"`
	Reentry     Reentry       `yaml:"reentry"`
	RiskTiers   []RiskTier    `yaml:"risk_tiers"`
	// Volatility bucket -> base per-trade risk in account currency.
	VolatilityRisk map[string]float64 `yaml:"volatility_risk"`
	// Keyed by the symbol as it arrives on alerts.
	Symbols map[string]Symbol `yaml:"symbols"`
}

type Server struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Optional shared secret expected in the X-Webhook-Token header.
	WebhookToken string  `yaml:"webhook_token"`
	RateLimit    float64 `yaml:"rate_limit"` // alerts per second per source
	RateBurst    float64 `yaml:"rate_burst"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Store struct {
	Path string `yaml:"path"`
}

type Broker struct {
	// paper simulates fills locally; bridge talks to the MT5 REST bridge.
	Mode         string        `yaml:"mode"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	PaperBalance float64       `yaml:"paper_balance"`
}

type Kafka struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	AlertsTopic  string   `yaml:"alerts_topic"`
	EventsTopic  string   `yaml:"events_topic"`
	LogsTopic    string   `yaml:"logs_topic"`
	RequiredAcks int      `yaml:"required_acks"`
	Compression  string   `yaml:"compression"`

	// Create missing topics on first write; meant for local brokers.
	AutoCreateTopics bool `yaml:"auto_create_topics"`

	Producer struct {
		MaxAttempts  int           `yaml:"max_attempts"`
		Linger       time.Duration `yaml:"linger"`
		BatchBytes   int           `yaml:"batch_bytes"`
		BatchSize    int           `yaml:"batch_size"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id"`
		Workers    int           `yaml:"workers"`
		BufferSize int           `yaml:"buffer_size"`
		RetryMax   int           `yaml:"retry_max"`
		BackoffMin time.Duration `yaml:"backoff_min"`
		BackoffMax time.Duration `yaml:"backoff_max"`
		DLQTopic   string        `yaml:"dlq_topic"`
		MinBytes   int           `yaml:"min_bytes"`
		MaxBytes   int           `yaml:"max_bytes"`
		// StartOffset applies to a group with no committed offset: earliest or latest.
		StartOffset string `yaml:"start_offset"`
	} `yaml:"consumer"`
}

type Redis struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`

	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	PoolTimeout  time.Duration `yaml:"pool_timeout"`
}

type Queue struct {
	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queue_size"`
	RetryLimit int           `yaml:"retry_limit"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type ClickHouse struct {
	Enabled          bool          `yaml:"enabled"`
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
	ConnectRetries   int           `yaml:"connect_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
}

type QuoteFeed struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	APIKey         string        `yaml:"api_key"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	// Quotes older than this fall back to the broker price call.
	MaxAge   time.Duration `yaml:"max_age"`
	Throttle time.Duration `yaml:"throttle"`
	// Alert symbol -> provider symbol, e.g. EURUSD: "OANDA:EUR_USD".
	// Symbols without an entry are subscribed as-is.
	Symbols map[string]string `yaml:"symbols"`
}

type Telegram struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type Trading struct {
	SimulateOrders   bool          `yaml:"simulate_orders"`
	DedupWindow      time.Duration `yaml:"dedup_window"`
	MonitorInterval  time.Duration `yaml:"monitor_interval"`
	ExternalTimeout  time.Duration `yaml:"external_timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	DailyResetTime   string        `yaml:"daily_reset_time"` // HH:MM
	Timezone         string        `yaml:"timezone"`
	RRRatio          float64       `yaml:"rr_ratio"`
	EnabledLogics    []string      `yaml:"enabled_logics"`
	// Close opposing trades when an entry in the other direction is admitted.
	CloseOnOppositeSignal bool `yaml:"close_on_opposite_signal"`
	// Close opposing trades when a trend alert flips direction.
	CloseOnTrendReversal bool `yaml:"close_on_trend_reversal"`
	NotifyBuffer         int  `yaml:"notify_buffer"`
}

type Reentry struct {
	SLHuntEnabled           bool          `yaml:"sl_hunt_enabled"`
	TPContinuationEnabled   bool          `yaml:"tp_continuation_enabled"`
	ExitContinuationEnabled bool          `yaml:"exit_continuation_enabled"`
	MaxChainLevels          int           `yaml:"max_chain_levels"`
	SLReductionPerLevel     float64       `yaml:"sl_reduction_per_level"` // fraction kept per level
	RecoveryWindow          time.Duration `yaml:"recovery_window"`
	SLHuntOffsetPips        float64       `yaml:"sl_hunt_offset_pips"`
	TPGapPips               float64       `yaml:"tp_continuation_gap_pips"` // also the exit continuation gap
}

type RiskTier struct {
	Name           string  `yaml:"name"`
	MinBalance     float64 `yaml:"min_balance"`
	Lot            float64 `yaml:"lot"`
	PerTradeCap    float64 `yaml:"per_trade_cap"`
	DailyLossLimit float64 `yaml:"daily_loss_limit"`
	MaxTotalLoss   float64 `yaml:"max_total_loss"`
	RiskMultiplier float64 `yaml:"risk_multiplier"`
}

type Symbol struct {
	Broker     string  `yaml:"broker"` // broker-side name, defaults to the key
	Volatility string  `yaml:"volatility"`
	PipSize    float64 `yaml:"pip_size"`
	PipValue   float64 `yaml:"pip_value"` // per standard lot
	MaxLots    float64 `yaml:"max_lots"`
	MinSLPips  float64 `yaml:"min_sl_pips"`
	// Overrides the tier per-trade cap when set.
	MaxLoss float64 `yaml:"max_loss"`
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env (if present), then the YAML file, then applies
// environment overrides. An empty path means defaults only.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	var (
		c   *Config
		err error
	)
	if path == "" {
		c = Default()
	} else if c, err = Load(path); err != nil {
		return nil, err
	}

	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ZEPIX_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("ZEPIX_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("ZEPIX_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("ZEPIX_WEBHOOK_TOKEN"); v != "" {
		c.Server.WebhookToken = v
	}
	if v := os.Getenv("ZEPIX_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("ZEPIX_SIMULATE_ORDERS"); v != "" {
		c.Trading.SimulateOrders = v == "true" || v == "1"
	}
	if v := os.Getenv("BROKER_MODE"); v != "" {
		c.Broker.Mode = v
	}
	if v := os.Getenv("BROKER_BASE_URL"); v != "" {
		c.Broker.BaseURL = v
	}
	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		c.Broker.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		c.Telegram.Token = v
		c.Telegram.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("QUOTE_FEED_API_KEY"); v != "" {
		c.QuoteFeed.APIKey = v
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	switch c.Broker.Mode {
	case "paper":
	case "bridge":
		if c.Broker.BaseURL == "" {
			return fmt.Errorf("broker.base_url is required in bridge mode")
		}
	default:
		return fmt.Errorf("broker.mode must be 'paper' or 'bridge', got '%s'", c.Broker.Mode)
	}
	if c.Trading.DedupWindow <= 0 {
		return fmt.Errorf("trading.dedup_window must be positive")
	}
	if c.Trading.MonitorInterval <= 0 {
		return fmt.Errorf("trading.monitor_interval must be positive")
	}
	if c.Trading.ExternalTimeout <= 0 {
		return fmt.Errorf("trading.external_timeout must be positive")
	}
	if _, err := ParseClock(c.Trading.DailyResetTime); err != nil {
		return fmt.Errorf("trading.daily_reset_time: %w", err)
	}
	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		return fmt.Errorf("trading.timezone: %w", err)
	}
	if c.Trading.RRRatio <= 0 {
		return fmt.Errorf("trading.rr_ratio must be positive")
	}
	if c.Reentry.MaxChainLevels < 0 {
		return fmt.Errorf("reentry.max_chain_levels cannot be negative")
	}
	if f := c.Reentry.SLReductionPerLevel; f <= 0 || f > 1 {
		return fmt.Errorf("reentry.sl_reduction_per_level must be in (0,1], got %v", f)
	}
	if len(c.RiskTiers) == 0 {
		return fmt.Errorf("risk_tiers cannot be empty")
	}
	for i, t := range c.RiskTiers {
		if t.Lot <= 0 {
			return fmt.Errorf("risk_tiers[%d].lot must be positive", i)
		}
		if i > 0 && t.MinBalance <= c.RiskTiers[i-1].MinBalance {
			return fmt.Errorf("risk_tiers must be sorted by ascending min_balance")
		}
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols cannot be empty")
	}
	for name, s := range c.Symbols {
		if s.PipSize <= 0 || s.PipValue <= 0 {
			return fmt.Errorf("symbols.%s: pip_size and pip_value must be positive", name)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	switch c.Kafka.Consumer.StartOffset {
	case "", "earliest", "latest":
	default:
		return fmt.Errorf("kafka.consumer.start_offset must be earliest or latest, got %q", c.Kafka.Consumer.StartOffset)
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	return nil
}

// BrokerSymbol resolves the broker-side name of an alert symbol.
func (s Symbol) BrokerSymbol(key string) string {
	if s.Broker != "" {
		return s.Broker
	}
	return key
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
