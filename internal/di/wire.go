//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	drepo "ZepixTrader/internal/domain/repository"
	"ZepixTrader/internal/repository"
	"ZepixTrader/internal/service/notify"
	"ZepixTrader/pkg/config"
	"ZepixTrader/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// The cleanup closes infrastructure clients; call it after App.Run returns.
func InitializeApp(ctx context.Context, cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideStore,
		wire.Bind(new(drepo.Store), new(*repository.SQLiteStore)),
		ProvideSnapshot,
		ProvideRedisClient,
		ProvideCache,
		ProvideQueue,
		ProvideClickHouseClient,
		ProvideCHArchive,
		ProvideTradeArchive,
		ProvideDispatcher,
		wire.Bind(new(drepo.Notifier), new(*notify.Dispatcher)),

		// State loaded from the snapshot
		ProvideInstruments,
		ProvideController,
		ProvideLedger,
		ProvideTrend,
		ProvideAccountant,
		ProvideRiskGate,

		// Prices and the venue
		ProvideQuoteBook,
		ProvideQuotePipeline,
		ProvideQuoteFeed,
		ProvideBroker,

		// Use cases
		ProvideExecutor,
		ProvideEngine,
		ProvideAlertGate,
		ProvideExitHandler,
		ProvideOrchestrator,
		ProvideMonitor,
		ProvideDeferredAlerts,
		ProvideKafkaConsumer,
		ProvideKafkaAlertsHandler,

		// HTTP
		ProvideWebhookHandler,
		ProvideControlHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
