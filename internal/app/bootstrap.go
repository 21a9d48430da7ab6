// Package app собирает зависимости процессов mixmaster: хранилища, кеш,
// blob-хранилище, брокер и сервисы домена.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/mixmaster/internal/blobstore"
	"github.com/magabrotheeeer/mixmaster/internal/cache"
	"github.com/magabrotheeeer/mixmaster/internal/config"
	"github.com/magabrotheeeer/mixmaster/internal/dsp"
	"github.com/magabrotheeeer/mixmaster/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/mixmaster/internal/lib/sl"
	"github.com/magabrotheeeer/mixmaster/internal/metrics"
	"github.com/magabrotheeeer/mixmaster/internal/migrations"
	"github.com/magabrotheeeer/mixmaster/internal/services/entitlement"
	"github.com/magabrotheeeer/mixmaster/internal/services/jobs"
	"github.com/magabrotheeeer/mixmaster/internal/services/orchestrator"
	"github.com/magabrotheeeer/mixmaster/internal/storage"
	"github.com/magabrotheeeer/mixmaster/internal/storage/memory"
	"github.com/magabrotheeeer/mixmaster/internal/storage/repository"
)

// Storage объединяет хранилища ledger и задач.
type Storage interface {
	storage.LedgerRepository
	storage.JobRepository
}

// Deps — общие зависимости процесса.
type Deps struct {
	Storage  Storage
	DB       *repository.Storage
	Blobs    blobstore.Store
	Cache    *cache.Cache
	Metrics  *metrics.Metrics
	Ledger   *entitlement.Service
	Jobs     *jobs.Store
	Log      *slog.Logger
	Cfg      *config.Config
	closers  []func() error
	amqpConn *amqp.Connection
}

// Bootstrap открывает хранилище и blob-хранилище и собирает сервисы ledger и задач.
// Пустая строка подключения включает хранилище в памяти процесса.
func Bootstrap(ctx context.Context, cfg *config.Config, log *slog.Logger, m *metrics.Metrics) (*Deps, error) {
	const op = "app.Bootstrap"
	d := &Deps{Log: log, Cfg: cfg, Metrics: m}

	if err := d.openStorage(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := d.openBlobs(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	d.Ledger = entitlement.New(d.Storage, log, entitlement.WithMetrics(m))
	d.Jobs = jobs.New(d.Storage, log)
	return d, nil
}

func (d *Deps) openStorage(ctx context.Context) error {
	if d.Cfg.StorageConnectionString == "" {
		d.Log.Warn("storage connection string is empty, using in-memory storage")
		d.Storage = memory.New()
		return nil
	}

	db, err := repository.New(ctx, d.Cfg.StorageConnectionString)
	if err != nil {
		return err
	}
	d.closers = append(d.closers, db.Close)
	if err := migrations.Run(db.DB, d.Cfg.MigrationsPath); err != nil {
		return err
	}
	if err := waitForDB(ctx, db); err != nil {
		return err
	}
	d.DB = db
	d.Storage = db
	return nil
}

func waitForDB(ctx context.Context, db *repository.Storage) error {
	var err error
	for range 10 {
		if err = repository.CheckDatabaseReady(ctx, db); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return fmt.Errorf("database not ready after retries: %w", err)
}

func (d *Deps) openBlobs(ctx context.Context) error {
	if d.Cfg.BlobStorage.Bucket == "" {
		d.Log.Warn("blob storage bucket is empty, using in-memory blobs")
		d.Blobs = blobstore.NewMemory("http://localhost" + d.Cfg.AddressHTTP + "/blobs")
		return nil
	}
	s3, err := blobstore.NewS3(ctx, d.Cfg.BlobStorage, d.Cfg.Env, d.Log)
	if err != nil {
		return err
	}
	d.Blobs = s3
	return nil
}

// OpenCache подключает Redis. Пустой адрес оставляет кеш выключенным.
func (d *Deps) OpenCache(ctx context.Context) error {
	if d.Cfg.AddressRedis == "" {
		d.Log.Info("redis address is empty, status cache disabled")
		return nil
	}
	c, err := cache.InitServer(ctx, d.Cfg.RedisConnection)
	if err != nil {
		return fmt.Errorf("app.OpenCache: %w", err)
	}
	d.Cache = c
	d.closers = append(d.closers, c.Close)
	return nil
}

// OpenChannel подключается к RabbitMQ и объявляет очереди задач и уведомлений.
// Соединение переиспользуется последующими вызовами.
func (d *Deps) OpenChannel(ctx context.Context, prefetch int) (*amqp.Channel, error) {
	const op = "app.OpenChannel"
	if d.amqpConn == nil {
		conn, err := rabbitmq.Connect(ctx, d.Cfg.RabbitMQ.URL, d.Cfg.RabbitMQ.MaxRetries, d.Cfg.RabbitMQ.RetryDelay)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		d.amqpConn = conn
		d.closers = append(d.closers, conn.Close)
		d.Log.Info("connected to rabbitmq")
	}
	queues := append(rabbitmq.JobQueues(d.Cfg.JobsQueue), rabbitmq.NotificationQueues()...)
	ch, err := rabbitmq.SetupChannel(d.amqpConn, prefetch, queues)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	d.closers = append(d.closers, ch.Close)
	return ch, nil
}

// Orchestrator собирает оркестратор поверх общих зависимостей.
func (d *Deps) Orchestrator(dispatcher orchestrator.Dispatcher, opts ...orchestrator.Option) *orchestrator.Orchestrator {
	processor := dsp.NewClient(d.Cfg.DSPURL, d.Cfg.DSPTimeout)
	opts = append([]orchestrator.Option{
		orchestrator.WithBlobs(d.Blobs),
		orchestrator.WithMetrics(d.Metrics),
	}, opts...)
	return orchestrator.New(d.Ledger, d.Jobs, processor, dispatcher, orchestrator.Config{
		StageTimeout:   d.Cfg.StageTimeout,
		MaxJobDuration: d.Cfg.MaxJobDuration,
	}, d.Log, opts...)
}

// Close освобождает ресурсы в обратном порядке открытия.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && !errors.Is(err, amqp.ErrClosed) {
			d.Log.Error("failed to close resource", sl.Err(err))
		}
	}
	d.closers = nil
}
