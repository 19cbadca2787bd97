package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ZepixTrader/internal/domain/models"
	drepo "ZepixTrader/internal/domain/repository"
	"ZepixTrader/internal/handler/api"
	mid "ZepixTrader/internal/middleware"
	"ZepixTrader/internal/repository"
	"ZepixTrader/internal/service/alertgate"
	"ZepixTrader/internal/service/broker"
	"ZepixTrader/internal/service/control"
	"ZepixTrader/internal/service/ledger"
	"ZepixTrader/internal/service/market"
	"ZepixTrader/internal/service/notify"
	"ZepixTrader/internal/service/pricefeed"
	"ZepixTrader/internal/service/ratelimit"
	"ZepixTrader/internal/service/reentry"
	"ZepixTrader/internal/service/risk"
	"ZepixTrader/internal/service/trend"
	"ZepixTrader/internal/usecase"
	"ZepixTrader/pkg/cache"
	pkgch "ZepixTrader/pkg/clickhouse"
	"ZepixTrader/pkg/config"
	xhttp "ZepixTrader/pkg/http"
	pkgkafka "ZepixTrader/pkg/kafka"
	"ZepixTrader/pkg/logger"
	"ZepixTrader/pkg/metrics"
	"ZepixTrader/pkg/queue"
	"ZepixTrader/pkg/server"
)

// ProvideKafkaProducer creates a Kafka producer, or nil when kafka is off.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithAutoCreateTopics(cfg.Kafka.AutoCreateTopics),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the application logger. With kafka on, warn and error
// entries are also aggregated and shipped to the logs topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, func(), error) {
	l, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	if producer == nil || cfg.Kafka.LogsTopic == "" {
		return l, func() {}, nil
	}
	l.AddCollector(&logger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		Topic:          cfg.Kafka.LogsTopic,
		Publisher:      producer,
	})
	return l, l.RemoveCollector, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config) drepo.Metrics {
	if !cfg.Metrics.Enabled {
		return drepo.NopMetrics{}
	}
	return metrics.New()
}

// ProvideStore opens the sqlite store.
func ProvideStore(ctx context.Context, cfg *config.Config) (*repository.SQLiteStore, func(), error) {
	s, err := repository.NewSQLiteStore(ctx, cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite store: %w", err)
	}
	return s, func() { _ = s.Close() }, nil
}

// ProvideSnapshot reads what survived the last run.
func ProvideSnapshot(ctx context.Context, store drepo.Store) (*models.Snapshot, error) {
	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

// ProvideRedisClient connects to redis, or returns nil when redis is off.
func ProvideRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	client, err := cache.NewRedisClient(ctx,
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideCache backs dedup fingerprints and persisted settings. Redis keeps
// both across restarts and replicas; the memory cache is per process.
func ProvideCache(cfg *config.Config, client *redis.Client) (cache.Service, func()) {
	if client != nil {
		return cache.NewRedisCache(client, cfg.Redis.Prefix), func() {}
	}
	mc := cache.NewMemoryCache()
	return mc, func() { _ = mc.Close() }
}

func ProvideQueue(cfg *config.Config, l *logger.Logger, client *redis.Client) queue.Queue {
	qc := &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		QueueSize:  cfg.Queue.QueueSize,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}
	if client != nil {
		return queue.NewRedisQueue(l, qc, client, queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
	}
	return queue.NewMemoryQueue(l, qc)
}

func ProvideInstruments(cfg *config.Config) *market.Table {
	return market.NewTable(cfg.Symbols)
}

func ProvideController(ctx context.Context, cfg *config.Config, c cache.Service, l *logger.Logger) (*control.Controller, error) {
	ctrl := control.New(control.FromConfig(cfg), control.WithPersistence(c), control.WithLogger(l))
	if err := ctrl.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore settings: %w", err)
	}
	return ctrl, nil
}

func ProvideLedger(ctx context.Context, store drepo.Store, m drepo.Metrics, l *logger.Logger, snap *models.Snapshot) (*ledger.Ledger, error) {
	lg := ledger.New(store, m, l)
	if err := lg.Load(ctx, snap); err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return lg, nil
}

func ProvideTrend(store drepo.Store, l *logger.Logger, snap *models.Snapshot) *trend.State {
	st := trend.NewState(store, nil, l)
	st.Load(snap.Trends)
	return st
}

func ProvideAccountant(cfg *config.Config, store drepo.Store, m drepo.Metrics, l *logger.Logger, snap *models.Snapshot) (*risk.Accountant, error) {
	loc, err := time.LoadLocation(cfg.Trading.Timezone)
	if err != nil {
		return nil, fmt.Errorf("trading timezone: %w", err)
	}
	offset, err := config.ParseClock(cfg.Trading.DailyResetTime)
	if err != nil {
		return nil, err
	}
	a := risk.NewAccountant(store,
		risk.WithDailyReset(loc, offset),
		risk.WithMetrics(m),
		risk.WithLogger(l),
	)
	a.Load(snap.Risk)
	return a, nil
}

func ProvideRiskGate(cfg *config.Config, table *market.Table, ctrl *control.Controller) *risk.Gate {
	return risk.NewGate(cfg.RiskTiers, cfg.VolatilityRisk, table, ctrl.RiskOverrides)
}

func ProvideQuoteBook(cfg *config.Config) *pricefeed.Book {
	return pricefeed.NewBook(cfg.QuoteFeed.MaxAge, time.Now)
}

// ProvideBroker picks the paper broker in simulation mode and the MT5
// bridge otherwise. Both read streamed quotes before asking the venue.
func ProvideBroker(cfg *config.Config, book *pricefeed.Book, table *market.Table, l *logger.Logger) drepo.Broker {
	if cfg.Trading.SimulateOrders || cfg.Broker.Mode == "paper" {
		return broker.NewPaper(cfg.Broker.PaperBalance, book, table, l)
	}
	bridge := broker.NewBridge(cfg.Broker.BaseURL, cfg.Broker.APIKey, cfg.Broker.Timeout, table, l)
	return broker.NewQuoting(bridge, book)
}

func ProvideQuotePipeline(cfg *config.Config, book *pricefeed.Book, m drepo.Metrics) *mid.QuotePipeline {
	return mid.NewQuotePipeline(book, m, mid.WithThrottle(cfg.QuoteFeed.Throttle))
}

// ProvideQuoteFeed returns nil when no quote feed is configured.
func ProvideQuoteFeed(cfg *config.Config, pipe *mid.QuotePipeline, table *market.Table, l *logger.Logger) *pricefeed.Feed {
	if !cfg.QuoteFeed.Enabled {
		return nil
	}
	stream := pricefeed.NewWSStream(cfg.QuoteFeed.URL, cfg.QuoteFeed.APIKey, cfg.QuoteFeed.Symbols,
		cfg.QuoteFeed.ReconnectDelay, cfg.QuoteFeed.PingInterval, l)
	return pricefeed.NewFeed(stream, pipe, table.Symbols(), l)
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when the
// analytics archive is off.
func ProvideClickHouseClient(ctx context.Context, cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		pkgch.WithConnectRetries(cfg.ClickHouse.ConnectRetries, cfg.ClickHouse.RetryBackoff),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.InitSchema(schemaCtx, repository.ArchiveSchema); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

func ProvideCHArchive(client *pkgch.Client, l *logger.Logger) *repository.CHArchive {
	if client == nil {
		return nil
	}
	return repository.NewCHArchive(client.DB(), l)
}

func ProvideTradeArchive(a *repository.CHArchive) drepo.TradeArchive {
	if a == nil {
		return repository.NopArchive{}
	}
	return a
}

// ProvideDispatcher fans events out to the log, kafka and telegram.
func ProvideDispatcher(cfg *config.Config, l *logger.Logger, m drepo.Metrics, producer *pkgkafka.Producer) (*notify.Dispatcher, func()) {
	sinks := []drepo.EventSink{notify.NewLogSink(l)}
	if producer != nil && cfg.Kafka.EventsTopic != "" {
		sinks = append(sinks, repository.NewKafkaEventSink(producer, cfg.Kafka.EventsTopic))
	}
	if cfg.Telegram.Enabled {
		client := xhttp.NewClient(
			xhttp.WithTimeout(cfg.Trading.ExternalTimeout),
			xhttp.WithRetries(2, 500*time.Millisecond),
		)
		sinks = append(sinks, notify.NewTelegramSink(client, cfg.Telegram.BaseURL, cfg.Telegram.Token, cfg.Telegram.ChatID))
	}
	d := notify.NewDispatcher(cfg.Trading.NotifyBuffer, cfg.Trading.ExternalTimeout, l, m, sinks...)
	return d, d.Close
}

func ProvideExecutor(
	cfg *config.Config,
	b drepo.Broker,
	l *ledger.Ledger,
	gate *risk.Gate,
	accountant *risk.Accountant,
	table *market.Table,
	store drepo.Store,
	archive drepo.TradeArchive,
	notifier drepo.Notifier,
	m drepo.Metrics,
	lgr *logger.Logger,
) *usecase.Executor {
	return usecase.NewExecutor(b, l, gate, accountant, table, store,
		usecase.WithArchive(archive),
		usecase.WithNotifier(notifier),
		usecase.WithMetrics(m),
		usecase.WithLogger(lgr),
		usecase.WithExternalTimeout(cfg.Trading.ExternalTimeout),
		usecase.WithRewardRatio(cfg.Trading.RRRatio),
	)
}

// ProvideEngine builds the re-entry engine and closes the executor/engine
// cycle.
func ProvideEngine(
	cfg *config.Config,
	l *ledger.Ledger,
	st *trend.State,
	table *market.Table,
	ctrl *control.Controller,
	exec *usecase.Executor,
	notifier drepo.Notifier,
	m drepo.Metrics,
	lgr *logger.Logger,
) *reentry.Engine {
	e := reentry.New(l, st, table, ctrl, exec, reentry.Config{
		SLFactor:         cfg.Reentry.SLReductionPerLevel,
		RecoveryWindow:   cfg.Reentry.RecoveryWindow,
		SLHuntOffsetPips: cfg.Reentry.SLHuntOffsetPips,
		TPGapPips:        cfg.Reentry.TPGapPips,
	}, reentry.WithNotifier(notifier), reentry.WithMetrics(m), reentry.WithLogger(lgr))
	exec.BindChains(e)
	return e
}

func ProvideAlertGate(c cache.Service, table *market.Table, ctrl *control.Controller, l *logger.Logger) *alertgate.Gate {
	return alertgate.New(c, table, alertgate.WithWindow(ctrl.DedupWindow), alertgate.WithLogger(l))
}

func ProvideExitHandler(l *ledger.Ledger, exec *usecase.Executor, e *reentry.Engine, store drepo.Store, lgr *logger.Logger) *usecase.ExitHandler {
	return usecase.NewExitHandler(l, exec, e, store, lgr)
}

func ProvideOrchestrator(
	gate *alertgate.Gate,
	st *trend.State,
	exits *usecase.ExitHandler,
	e *reentry.Engine,
	exec *usecase.Executor,
	ctrl *control.Controller,
	notifier drepo.Notifier,
	m drepo.Metrics,
	l *logger.Logger,
) *usecase.Orchestrator {
	return usecase.NewOrchestrator(gate, st, exits, e, exec, ctrl, notifier, m, l)
}

func ProvideMonitor(
	cfg *config.Config,
	l *ledger.Ledger,
	exec *usecase.Executor,
	e *reentry.Engine,
	b drepo.Broker,
	ctrl *control.Controller,
	notifier drepo.Notifier,
	m drepo.Metrics,
	lgr *logger.Logger,
) *usecase.PriceMonitor {
	return usecase.NewPriceMonitor(l, exec, e, b, ctrl.MonitorInterval,
		usecase.WithMonitorTimeout(cfg.Trading.ExternalTimeout),
		usecase.WithFailureThreshold(cfg.Trading.FailureThreshold),
		usecase.WithMonitorNotifier(notifier),
		usecase.WithMonitorMetrics(m),
		usecase.WithMonitorLogger(lgr),
	)
}

func ProvideDeferredAlerts(cfg *config.Config, q queue.Queue, orch *usecase.Orchestrator) *usecase.DeferredAlerts {
	return usecase.NewDeferredAlerts(q, orch, cfg.Queue.RetryDelay)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML, or nil
// when kafka is off.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.AlertsTopic == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset(cfg.Kafka.Consumer.StartOffset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideKafkaAlertsHandler(cfg *config.Config, orch *usecase.Orchestrator, m drepo.Metrics) *usecase.KafkaAlertsHandler {
	return usecase.NewKafkaAlertsHandler(cfg.Kafka.AlertsTopic, orch, m)
}

func ProvideWebhookHandler(cfg *config.Config, l *logger.Logger, orch *usecase.Orchestrator, deferred *usecase.DeferredAlerts) *api.WebhookEchoHandler {
	opts := []api.WebhookOption{
		api.WithWebhookToken(cfg.Server.WebhookToken),
		api.WithDeferrer(deferred),
	}
	if cfg.Server.RateLimit > 0 {
		opts = append(opts, api.WithRateLimiter(ratelimit.New(cfg.Server.RateLimit, cfg.Server.RateBurst)))
	}
	return api.NewWebhookEchoHandler(l, orch, opts...)
}

func ProvideControlHandler(
	cfg *config.Config,
	lgr *logger.Logger,
	ctrl *control.Controller,
	l *ledger.Ledger,
	accountant *risk.Accountant,
	gate *risk.Gate,
	st *trend.State,
	exits *usecase.ExitHandler,
	monitor *usecase.PriceMonitor,
	exec *usecase.Executor,
	b drepo.Broker,
	store *repository.SQLiteStore,
	archive *repository.CHArchive,
) *api.ControlEchoHandler {
	d := api.ControlDeps{
		Settings:   ctrl,
		Ledger:     l,
		Accountant: accountant,
		Gate:       gate,
		Trend:      st,
		Exits:      exits,
		Monitor:    monitor,
		Closer:     exec,
		Balance:    b,
		Store:      store,
		Version:    server.Version,
		Now:        time.Now,
	}
	if archive != nil {
		d.PnL = archive
	}
	return api.NewControlEchoHandler(lgr, d, cfg.Server.WebhookToken)
}

func ProvideHTTPServer(cfg *config.Config, l *logger.Logger, webhook *api.WebhookEchoHandler, ctl *api.ControlEchoHandler) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(xhttp.Handlers{webhook, ctl},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
		xhttp.WithMetricsPath(metricsPath),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	srv *xhttp.Server,
	monitor *usecase.PriceMonitor,
	pipe *mid.QuotePipeline,
	feed *pricefeed.Feed,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaAlertsHandler,
	q queue.Queue,
	lg *ledger.Ledger,
	accountant *risk.Accountant,
) *server.App {
	d := server.Deps{
		Config:     cfg,
		Logger:     l,
		HTTP:       srv,
		Monitor:    monitor,
		Consumer:   consumer,
		Alerts:     kh,
		Queue:      q,
		Ledger:     lg,
		Accountant: accountant,
	}
	if feed != nil {
		d.Pipeline = pipe
		d.Feed = feed
	}
	return server.New(d)
}
