package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"tasklane/config"
	"tasklane/domain"
	"tasklane/notify"
	"tasklane/query"
	"tasklane/reminder"
	"tasklane/storage"
	"tasklane/tasks"
)

// app holds the wired collaborators shared by the commands.
type app struct {
	cfg       config.Config
	logger    *log.Logger
	store     storage.Backend
	service   *tasks.Service
	scheduler *reminder.Scheduler
	closers   []func() error
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: log.StandardLogger()}

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })

	base, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = base

	var rc *redis.Client
	if cfg.Redis.ConnectionString != "" {
		opts, err := cfg.Redis.RedisOptions()
		if err != nil {
			a.Close()
			return nil, err
		}
		rc = redis.NewClient(opts)
		a.closers = append(a.closers, rc.Close)
		a.store = storage.NewCache(base, rc, cfg.Redis.CacheTTL)
	}

	loc, err := cfg.Reminder.Location()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.service = tasks.NewService(a.store, query.NewEngine(loc), a.logger)

	notifier, err := a.openNotifier()
	if err != nil {
		a.Close()
		return nil, err
	}
	opts := []reminder.Option{reminder.WithLogger(a.logger)}
	if rc != nil {
		opts = append(opts, reminder.WithLease(reminder.NewRedisLease(rc, cfg.Redis.LeaseKey, cfg.Reminder.Interval)))
	}
	a.scheduler, err = reminder.New(a.store, a.store, notifier, reminder.Config{
		Interval:  cfg.Reminder.Interval,
		LeadTime:  cfg.Reminder.LeadTime,
		Tolerance: cfg.Reminder.Tolerance,
		Location:  loc,
	}, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) (storage.Backend, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendTables:
		st, err := storage.NewTables(a.cfg.Storage.ConnectionString, a.cfg.Storage.TasksTable, a.cfg.Storage.UsersTable)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		return st, nil
	case config.BackendPostgres:
		pg, err := storage.NewPostgres(a.cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return storage.NewMemory(), nil
	}
}

func (a *app) openNotifier() (domain.Notifier, error) {
	if a.cfg.Notify.Queue == "" {
		return notify.Log{Logger: a.logger}, nil
	}
	q, err := notify.NewQueue(a.cfg.Storage.ConnectionString, a.cfg.Notify.Queue)
	if err != nil {
		return nil, fmt.Errorf("notification queue: %w", err)
	}
	return q, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
