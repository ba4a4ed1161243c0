package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/warp/cashbook/config"
	"github.com/warp/cashbook/ledger"
	"github.com/warp/cashbook/ledger/store"
	"github.com/warp/cashbook/logging"
	"github.com/warp/cashbook/notify"
	"github.com/warp/cashbook/store/postgres"
	"github.com/warp/cashbook/store/sqlite"
	"go.uber.org/zap"
)

// app holds the dependencies every command needs.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   ledger.TxStore
	ledger  *ledger.Ledger
	closers []io.Closer
}

func newApp(g *Globals) (*app, error) {
	cfg, err := config.LoadFrom(g.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}

	logCfg := logging.DefaultConfig()
	if cfg.IsProduction() {
		logCfg = logging.ProductionConfig()
	}
	logCfg.Level = cfg.Log.Level
	if cfg.Log.Format != "" {
		logCfg.Format = cfg.Log.Format
	}
	if cfg.Log.Output != "" {
		logCfg.Output = cfg.Log.Output
	}
	log := logging.New(logCfg)

	a := &app{cfg: cfg, log: log}

	if err := a.openStore(); err != nil {
		return nil, err
	}

	notifiers := notify.Multi{notify.NewLogPublisher(log.Named("changes"))}
	if len(cfg.Notify.KafkaBrokers) > 0 {
		pub := notify.NewKafkaPublisher(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic)
		notifiers = append(notifiers, pub)
		a.closers = append(a.closers, pub)
		log.Info("publishing changes to kafka",
			zap.Strings("brokers", cfg.Notify.KafkaBrokers), zap.String("topic", cfg.Notify.KafkaTopic))
	}

	a.ledger = ledger.NewLedger(a.store,
		ledger.WithLogger(log.Named("ledger")),
		ledger.WithNotifier(notifiers),
		ledger.AllowRegisteredDelete(cfg.Ledger.AllowRegisteredDelete),
	)
	return a, nil
}

func (a *app) openStore() error {
	switch a.cfg.Database.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(a.cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("failed to open sqlite database: %w", err)
		}
		a.store = s
		a.closers = append(a.closers, s)
	case config.DriverPostgres:
		s, err := postgres.New(a.cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("failed to open postgres database: %w", err)
		}
		a.store = s
		a.closers = append(a.closers, s)
	case config.DriverMemory:
		a.log.Warn("using in-memory store; data is lost on exit")
		a.store = store.NewMemory()
	default:
		return fmt.Errorf("unknown database driver %q", a.cfg.Database.Driver)
	}
	a.log.Info("store ready", zap.String("driver", a.cfg.Database.Driver))
	return nil
}

// Close releases the store and publishers in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.log.Sync()
	return errors.Join(errs...)
}
