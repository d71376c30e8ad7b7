package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Spok95/coffee-stock/internal/config"
	"github.com/Spok95/coffee-stock/internal/domain/inventory"
	"github.com/Spok95/coffee-stock/internal/domain/ledger"
	"github.com/Spok95/coffee-stock/internal/domain/materials"
	"github.com/Spok95/coffee-stock/internal/domain/recipes"
	"github.com/Spok95/coffee-stock/internal/domain/staff"
	"github.com/Spok95/coffee-stock/internal/infra/db"
	"github.com/Spok95/coffee-stock/internal/infra/events"
	httpx "github.com/Spok95/coffee-stock/internal/infra/http"
	"github.com/Spok95/coffee-stock/internal/infra/logger"
	"github.com/Spok95/coffee-stock/internal/infra/metrics"
	"github.com/Spok95/coffee-stock/internal/infra/reports"
	"github.com/Spok95/coffee-stock/internal/infra/tracing"

	"github.com/prometheus/client_golang/prometheus"
)

var version = "dev"

func newSink(ctx context.Context, cfg config.Config) (reports.Sink, error) {
	if cfg.Reports.Driver == "s3" {
		s3 := cfg.Reports.S3
		return reports.NewS3Sink(ctx, reports.S3Config{
			Bucket:          s3.Bucket,
			Prefix:          s3.Prefix,
			Region:          s3.Region,
			Endpoint:        s3.Endpoint,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			PathStyle:       s3.PathStyle,
		})
	}
	return reports.NewFSSink(cfg.Reports.Dir)
}

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Env)

	if err := db.Migrate(cfg.Postgres.DSN, log); err != nil {
		log.Error("migrations failed", "err", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		URLPath:        cfg.Tracing.URLPath,
		Insecure:       cfg.Tracing.Insecure,
		ServiceName:    "coffee-stock",
		ServiceVersion: version,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Error("tracing setup failed", "err", err)
		return
	}

	pool, err := db.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("db connect failed", "err", err)
		return
	}
	defer pool.Close()
	log.Info("db connected")

	// проверено в config.Load
	loc, _ := time.LoadLocation(cfg.App.Timezone)

	opts := []inventory.Option{
		inventory.WithStaff(staff.NewRepo(pool)),
		inventory.WithRecorder(metrics.New(prometheus.DefaultRegisterer)),
		inventory.WithLocation(loc),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := pub.Close(); err != nil {
				log.Warn("kafka writer close", "err", err)
			}
		}()
		opts = append(opts, inventory.WithPublisher(pub))
		log.Info("ledger events go to kafka", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers)
	}

	catalog := materials.NewRepo(pool)
	svc := inventory.NewService(
		log,
		ledger.NewRepo(pool, cfg.Ledger.LockTimeout),
		recipes.NewResolver(recipes.NewRepo(pool)),
		catalog,
		opts...,
	)

	sink, err := newSink(ctx, cfg)
	if err != nil {
		log.Error("report sink setup failed", "driver", cfg.Reports.Driver, "err", err)
		return
	}

	srv := httpx.New(cfg.HTTP.Addr, cfg.Metrics.Enabled, httpx.NewAPI(log, svc, catalog, sink))
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			stop()
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr, "version", version)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown", "err", err)
	}
	log.Info("graceful shutdown complete", slog.String("env", cfg.App.Env))
}
