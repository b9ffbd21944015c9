package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parlo/internal/config"
	"parlo/internal/connectivity"
	"parlo/internal/drain"
	"parlo/internal/gateway"
	"parlo/internal/history"
	"parlo/internal/offline"
	"parlo/internal/storage"
	"parlo/internal/tutor"
	"parlo/pkg/kvstore"
	"parlo/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	if err := logger.Init("info"); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting parlo sync worker")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
		return
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Fatal("Failed to open local storage", zap.Error(err))
		return
	}
	defer store.Close()

	queue := offline.New(store)

	checker := connectivity.NewProbeChecker(
		cfg.Connectivity.ProbeAddr,
		time.Duration(cfg.Connectivity.ProbeTimeoutMs)*time.Millisecond,
		time.Duration(cfg.Connectivity.CacheTTLMs)*time.Millisecond,
	)

	gw := gateway.New(checker, cfg.GatewayConfig())
	client := tutor.NewClient(cfg.Backend.URL, cfg.Backend.APIKey, gw)

	var audio drain.AudioStore
	if cfg.Audio.Endpoint != "" {
		audioStore, err := storage.NewAudioStore(
			cfg.Audio.Endpoint,
			cfg.Audio.Region,
			cfg.Audio.AccessKey,
			cfg.Audio.SecretKey,
			cfg.Audio.Bucket,
		)
		if err != nil {
			logger.Fatal("Failed to initialize audio store", zap.Error(err))
			return
		}
		audio = audioStore
	} else {
		logger.Warn("No audio store configured, voice replays will be kept in the queue")
	}

	var archive drain.Archiver
	if cfg.History.DSN != "" {
		historyStore, err := history.NewStore(cfg.History.DSN)
		if err != nil {
			logger.Fatal("Failed to connect to history store", zap.Error(err))
			return
		}
		defer historyStore.Close()
		archive = historyStore
	}

	drainer := drain.New(queue, client, audio, archive, drain.Config{
		MaxAttempts: cfg.Drain.MaxAttempts,
		Concurrency: cfg.Drain.Concurrency,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	edges := connectivity.Watch(ctx, checker,
		time.Duration(cfg.Connectivity.PollIntervalMs)*time.Millisecond)

	go drainer.Run(ctx, time.Duration(cfg.Drain.IntervalMs)*time.Millisecond, edges)

	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	logger.Info("Sync worker shutdown complete")
}

func openStore(cfg *config.Config) (kvstore.Store, error) {
	switch cfg.Storage.Backend {
	case "redis":
		return kvstore.NewRedisStore(
			cfg.Storage.Redis.Addr,
			cfg.Storage.Redis.Password,
			cfg.Storage.Redis.DB,
		)
	default:
		return kvstore.NewFileStore(cfg.Storage.FilePath)
	}
}
