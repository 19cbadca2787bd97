package config

import (
	"time"

	"ZepixTrader/pkg/logger"
)

// Default returns a config that runs against the paper broker with an
// on-disk sqlite store and no external infrastructure.
func Default() *Config {
	c := &Config{
		Environment: "development",
		Log:         logger.Config{Level: "info", Format: "console", Output: "stdout"},
		Server: Server{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       5,
			RateBurst:       20,
		},
		Metrics: Metrics{Enabled: true, Path: "/metrics"},
		Store:   Store{Path: "data/zepix.db"},
		Broker: Broker{
			Mode:         "paper",
			Timeout:      5 * time.Second,
			PaperBalance: 10000,
		},
		Kafka: Kafka{
			AlertsTopic:  "zepix.alerts",
			EventsTopic:  "zepix.events",
			LogsTopic:    "zepix.logs",
			RequiredAcks: 1,
			Compression:  "snappy",
		},
		Redis: Redis{
			Addr:         "localhost:6379",
			Prefix:       "zepix",
			PoolSize:     10,
			MinIdleConns: 2,
			PoolTimeout:  30 * time.Second,
		},
		Queue: Queue{
			Workers:    2,
			QueueSize:  100,
			RetryLimit: 5,
			RetryDelay: 10 * time.Second,
		},
		ClickHouse: ClickHouse{
			Host:           "localhost",
			Port:           9000,
			Database:       "zepix",
			User:           "default",
			DialTimeout:    5 * time.Second,
			ConnectRetries: 3,
			RetryBackoff:   500 * time.Millisecond,
		},
		QuoteFeed: QuoteFeed{
			ReconnectDelay: 5 * time.Second,
			PingInterval:   30 * time.Second,
			MaxAge:         10 * time.Second,
			Throttle:       250 * time.Millisecond,
		},
		Telegram: Telegram{BaseURL: "https://api.telegram.org"},
		Trading: Trading{
			DedupWindow:      5 * time.Minute,
			MonitorInterval:  30 * time.Second,
			ExternalTimeout:  5 * time.Second,
			FailureThreshold: 3,
			DailyResetTime:   "03:35",
			Timezone:         "UTC",
			RRRatio:          1.0,
			EnabledLogics:    []string{"LOGIC1", "LOGIC2", "LOGIC3"},
			NotifyBuffer:     256,
		},
		Reentry: Reentry{
			SLHuntEnabled:           true,
			TPContinuationEnabled:   true,
			ExitContinuationEnabled: true,
			MaxChainLevels:          2,
			SLReductionPerLevel:     0.5,
			RecoveryWindow:          30 * time.Minute,
			SLHuntOffsetPips:        1,
			TPGapPips:               2,
		},
		RiskTiers: []RiskTier{
			{Name: "5000", MinBalance: 0, Lot: 0.05, PerTradeCap: 150, DailyLossLimit: 200, MaxTotalLoss: 500, RiskMultiplier: 1},
			{Name: "10000", MinBalance: 7500, Lot: 0.10, PerTradeCap: 300, DailyLossLimit: 400, MaxTotalLoss: 1000, RiskMultiplier: 2},
			{Name: "25000", MinBalance: 17500, Lot: 0.25, PerTradeCap: 750, DailyLossLimit: 1000, MaxTotalLoss: 2500, RiskMultiplier: 5},
			{Name: "50000", MinBalance: 37500, Lot: 0.50, PerTradeCap: 1500, DailyLossLimit: 2000, MaxTotalLoss: 5000, RiskMultiplier: 10},
			{Name: "100000", MinBalance: 75000, Lot: 1.00, PerTradeCap: 3000, DailyLossLimit: 4000, MaxTotalLoss: 10000, RiskMultiplier: 20},
		},
		VolatilityRisk: map[string]float64{"LOW": 30, "MEDIUM": 50, "HIGH": 80},
		Symbols: map[string]Symbol{
			"EURUSD": {Volatility: "LOW", PipSize: 0.0001, PipValue: 10, MaxLots: 10, MinSLPips: 7},
			"GBPUSD": {Volatility: "MEDIUM", PipSize: 0.0001, PipValue: 10, MaxLots: 8, MinSLPips: 10},
			"USDJPY": {Volatility: "MEDIUM", PipSize: 0.01, PipValue: 9, MaxLots: 10, MinSLPips: 10},
			"AUDUSD": {Volatility: "MEDIUM", PipSize: 0.0001, PipValue: 10, MaxLots: 8, MinSLPips: 10},
			"USDCAD": {Volatility: "MEDIUM", PipSize: 0.0001, PipValue: 8, MaxLots: 10, MinSLPips: 10},
			"NZDUSD": {Volatility: "MEDIUM", PipSize: 0.0001, PipValue: 10, MaxLots: 8, MinSLPips: 10},
			"EURJPY": {Volatility: "HIGH", PipSize: 0.01, PipValue: 9.5, MaxLots: 5, MinSLPips: 15},
			"GBPJPY": {Volatility: "HIGH", PipSize: 0.01, PipValue: 9, MaxLots: 3, MinSLPips: 15},
			"AUDJPY": {Volatility: "HIGH", PipSize: 0.01, PipValue: 9.2, MaxLots: 5, MinSLPips: 15},
			"XAUUSD": {Broker: "GOLD", Volatility: "HIGH", PipSize: 0.01, PipValue: 1, MaxLots: 2, MinSLPips: 50},
		},
	}
	c.Kafka.Producer.MaxAttempts = 3
	c.Kafka.Producer.Linger = 10 * time.Millisecond
	c.Kafka.Producer.BatchSize = 100
	c.Kafka.Producer.WriteTimeout = 10 * time.Second
	c.Kafka.Producer.ReadTimeout = 10 * time.Second
	c.Kafka.Consumer.GroupID = "zepix-engine"
	c.Kafka.Consumer.Workers = 2
	c.Kafka.Consumer.BufferSize = 64
	c.Kafka.Consumer.RetryMax = 3
	c.Kafka.Consumer.BackoffMin = 200 * time.Millisecond
	c.Kafka.Consumer.BackoffMax = 5 * time.Second
	c.Kafka.Consumer.DLQTopic = "zepix.alerts.dlq"
	c.Kafka.Consumer.StartOffset = "latest"
	return c
}
