// Package app builds the attendance components selected by configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"classattend/internal/attendance"
	"classattend/internal/config"
	"classattend/internal/docstore"
	"classattend/internal/lock"
	"classattend/internal/notify"
	"classattend/internal/queue"
	"classattend/internal/store"

	"github.com/sirupsen/logrus"
)

// Store is what both the recorder and the sweep need from a backend.
type Store interface {
	attendance.ClassroomStore
	attendance.AttendanceStore
}

// App is the wired set of components shared by the api and worker binaries.
type App struct {
	Config     config.App
	Store      Store
	Recorder   *attendance.Recorder
	Service    *attendance.Service
	Sweeper    *attendance.Sweeper
	Queue      queue.Queue // nil with the amqp notify backend
	Classifier attendance.Classifier
	Health     map[string]func(context.Context) bool

	closers []func()
}

// Build connects the configured backends. Close releases them.
func Build(ctx context.Context, cfg config.App, log logrus.FieldLogger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Health: make(map[string]func(context.Context) bool)}
	fail := func(err error) (*App, error) {
		a.Close()
		return nil, err
	}

	st, err := a.buildStore(ctx, log)
	if err != nil {
		return fail(err)
	}
	a.Store = st

	var redis *store.Redis
	if cfg.LockBackend == "redis" || cfg.NotifyBackend == "redis" {
		redis = store.NewRedis(cfg.RedisAddr)
		a.Health["redis"] = redis.Healthy
		a.closers = append(a.closers, func() { _ = redis.Close() })
	}

	opts := []attendance.RecorderOption{
		attendance.WithCallTimeout(cfg.StoreTimeout),
		attendance.WithRecorderLogger(log),
	}
	switch cfg.LockBackend {
	case "local":
		opts = append(opts, attendance.WithLocker(lock.NewLocal()))
	case "redis":
		opts = append(opts, attendance.WithLocker(lock.NewRedis(redis.Client, cfg.LockTTL)))
	}
	a.Recorder = attendance.NewRecorder(st, opts...)

	var dispatcher attendance.Dispatcher
	switch cfg.NotifyBackend {
	case "memory":
		a.Queue = queue.NewInMemory(1024)
		dispatcher = notify.NewQueueDispatcher(a.Queue)
	case "redis":
		a.Queue = queue.NewRedisQueue(redis.Client, cfg.NotifyQueueKey)
		dispatcher = notify.NewQueueDispatcher(a.Queue)
	case "amqp":
		d, err := notify.NewAMQPDispatcher(cfg.AMQPURL, cfg.NotifyExchange)
		if err != nil {
			return fail(fmt.Errorf("amqp: %w", err))
		}
		a.closers = append(a.closers, d.Close)
		dispatcher = d
	}

	a.Classifier = attendance.NewClassifier(cfg.GracePeriod, cfg.AbsentHorizon)
	a.Service = attendance.NewService(st, a.Recorder, a.Classifier, cfg.StoreTimeout, log)
	a.Sweeper = attendance.NewSweeper(st, a.Recorder, dispatcher, attendance.SweeperConfig{
		Classifier:  a.Classifier,
		Concurrency: cfg.SweepConcurrency,
		CallTimeout: cfg.StoreTimeout,
		Logger:      log,
	})
	return a, nil
}

func (a *App) buildStore(ctx context.Context, log logrus.FieldLogger) (Store, error) {
	cfg := a.Config
	switch cfg.StoreBackend {
	case "postgres":
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		a.Health["db"] = db.Healthy
		if cfg.MigrateOnStart {
			if err := db.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return attendance.NewRepository(db.Client), nil

	case "mongo":
		client, err := docstore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("mongo: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Disconnect(context.Background()) })
		a.Health["mongo"] = func(ctx context.Context) bool { return client.Ping(ctx, nil) == nil }
		ds := docstore.New(client.Database(cfg.MongoDatabase))
		if cfg.MigrateOnStart {
			if err := ds.EnsureIndexes(ctx); err != nil {
				return nil, err
			}
		}
		if err := seedMongo(ctx, ds, cfg.SeedFile); err != nil {
			return nil, err
		}
		return ds, nil

	case "memory":
		mem := attendance.NewMemoryStore()
		seed, err := readSeed(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		mem.Apply(seed)
		log.WithField("classrooms", len(seed.Classrooms)).Info("memory store seeded")
		return mem, nil
	}
	return nil, errors.New("unreachable store backend")
}

func readSeed(path string) (attendance.Seed, error) {
	if path == "" {
		return attendance.Seed{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return attendance.Seed{}, err
	}
	defer f.Close()
	return attendance.ReadSeed(f)
}

func seedMongo(ctx context.Context, ds *docstore.Store, path string) error {
	seed, err := readSeed(path)
	if err != nil {
		return err
	}
	for _, c := range seed.Classrooms {
		if err := ds.PutClassroom(ctx, c); err != nil {
			return err
		}
	}
	for code, students := range seed.Enrollments {
		if err := ds.Enroll(ctx, code, students...); err != nil {
			return err
		}
	}
	return nil
}

// Close releases backend connections in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

var (
	_ Store = (*attendance.MemoryStore)(nil)
	_ Store = (*attendance.Repository)(nil)
	_ Store = (*docstore.Store)(nil)
)
