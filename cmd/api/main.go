package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tiendalink/ordercore/internal/background"
	"github.com/tiendalink/ordercore/internal/config"
	"github.com/tiendalink/ordercore/internal/httpx"
	kafkax "github.com/tiendalink/ordercore/internal/kafka"
	"github.com/tiendalink/ordercore/internal/logger"
	"github.com/tiendalink/ordercore/internal/notify"
	"github.com/tiendalink/ordercore/internal/orders"
	"github.com/tiendalink/ordercore/internal/postgres"
	"github.com/tiendalink/ordercore/internal/redisx"
	"github.com/tiendalink/ordercore/internal/schedule"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		zlog.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	repo := &orders.Repo{DB: db}
	if err := repo.EnsureSchema(ctx); err != nil {
		zlog.Fatal("schema bootstrap", zap.Error(err))
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer func() { _ = rdb.Close() }()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, notify.Topic, 1024, zlog)
	prod.Start(ctx)

	notifier := &notify.FanOut{
		Producer: prod,
		Redis:    rdb,
		Service:  cfg.ServiceName,
		Log:      zlog,
	}
	tasks := background.NewExecutor(zlog)
	sched := schedule.NewValidator(repo, zlog)

	svc := orders.NewService(orders.ServiceConfig{
		ServiceName:   cfg.ServiceName,
		TaxRateBps:    cfg.TaxRateBps,
		ReadTimeout:   cfg.ReadTimeout,
		CommitTimeout: cfg.CommitTimeout,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
	}, repo, sched, notifier, tasks, zlog)

	router := httpx.NewRouter(zlog)
	handler := &httpx.OrdersHandler{Service: svc, Log: zlog}
	handler.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		zlog.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	zlog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	// in-flight notification batches, then flush the producer
	tasks.Wait()
	prod.Close()
	cancel()
	prod.WaitClosed()
}
