package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	mid "ZepixTrader/internal/middleware"
	"ZepixTrader/internal/service/ledger"
	"ZepixTrader/internal/service/pricefeed"
	"ZepixTrader/internal/service/risk"
	"ZepixTrader/internal/usecase"
	"ZepixTrader/pkg/config"
	xhttp "ZepixTrader/pkg/http"
	pkgkafka "ZepixTrader/pkg/kafka"
	applogger "ZepixTrader/pkg/logger"
	"ZepixTrader/pkg/queue"
)

// Version is stamped at build time with -ldflags "-X ZepixTrader/pkg/server.Version=...".
var Version = "dev"

// Deps is everything the App starts and stops. Optional parts are nil when
// disabled in config.
type Deps struct {
	Config     *config.Config
	Logger     *applogger.Logger
	HTTP       *xhttp.Server
	Monitor    *usecase.PriceMonitor
	Pipeline   *mid.QuotePipeline
	Feed       *pricefeed.Feed
	Consumer   *pkgkafka.Consumer
	Alerts     *usecase.KafkaAlertsHandler
	Queue      queue.Queue
	Ledger     *ledger.Ledger
	Accountant *risk.Accountant
}

// App encapsulates the entire application lifecycle.
type App struct {
	Deps
	wg sync.WaitGroup
}

func New(d Deps) *App {
	if d.Logger == nil {
		d.Logger = applogger.Nop()
	}
	return &App{Deps: d}
}

// Run starts every component and blocks until ctx ends, a shutdown signal
// arrives or the HTTP listener fails. State is flushed to the store before
// it returns.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	l := a.Logger

	if a.Queue != nil {
		if err := a.Queue.Start(); err != nil {
			return err
		}
	}

	if a.Pipeline != nil {
		a.Pipeline.Start(ctx)
	}
	if a.Feed != nil {
		a.goRun(ctx, "quote feed", a.Feed.Run)
	}
	a.goRun(ctx, "price monitor", a.Monitor.Run)

	if a.Consumer != nil && a.Alerts != nil {
		a.Consumer.RegisterHandler(a.Alerts)
		a.Consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TraceHook(), pkgkafka.LogHook(l)))
		if err := a.Consumer.Start(); err != nil {
			l.Error("kafka consumer start error", applogger.Error(err))
			_ = a.shutdown(cancel)
			return err
		}
		l.Info("kafka consumer started", applogger.String("topic", a.Alerts.Topic()))
	}

	if err := a.HTTP.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		_ = a.shutdown(cancel)
		return err
	}
	l.Info("zepix started",
		applogger.String("version", Version),
		applogger.String("broker", a.Config.Broker.Mode),
		applogger.Bool("simulate_orders", a.Config.Trading.SimulateOrders))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case <-sigCh:
		l.Info("shutdown signal received")
	case <-ctx.Done():
	case runErr = <-a.HTTP.Errors():
	}

	if err := a.shutdown(cancel); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *App) goRun(ctx context.Context, name string, run func(context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error(name+" stopped", applogger.Error(err))
		}
	}()
}

// shutdown stops intake first, then the background loops, then writes the
// in-memory state through. Infrastructure clients are closed by the caller.
func (a *App) shutdown(cancel context.CancelFunc) error {
	l := a.Logger
	l.Info("shutting down...")

	ctx, done := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer done()

	if a.HTTP != nil {
		if err := a.HTTP.Stop(ctx); err != nil {
			l.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.Consumer != nil {
		if err := a.Consumer.Stop(ctx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	cancel()
	a.wg.Wait()
	if a.Pipeline != nil {
		a.Pipeline.Stop()
	}
	if a.Queue != nil {
		if err := a.Queue.Stop(ctx); err != nil {
			l.Warn("queue stop error", applogger.Error(err))
		}
	}

	var errs []error
	if err := a.Ledger.Flush(ctx); err != nil {
		l.Error("ledger flush error", applogger.Error(err))
		errs = append(errs, err)
	}
	if err := a.Accountant.Flush(ctx); err != nil {
		l.Error("risk state flush error", applogger.Error(err))
		errs = append(errs, err)
	}

	l.Info("shutdown complete")
	return errors.Join(errs...)
}
