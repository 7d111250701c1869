package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fansphere/realtime/internal/config"
	"github.com/fansphere/realtime/internal/relay"
	"github.com/fansphere/realtime/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	logger.Init(cfg.LogLevel)
	log := logger.Log

	var backbone relay.Backbone
	if cfg.RedisURL != "" {
		backbone, err = relay.NewRedisBackbone(cfg.RedisURL)
		if err != nil {
			log.Error("failed to connect redis backbone", "error", err)
			os.Exit(1)
		}
		log.Info("using redis backbone")
	} else {
		backbone = relay.NewMemoryBackbone()
		log.Info("using in-process backbone")
	}
	defer backbone.Close()

	srv := relay.NewServer(relay.ServerConfig{
		Addr:     cfg.Addr,
		Backbone: backbone,
		Logger:   log,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Info("starting relay", "addr", cfg.Addr)
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			log.Error("relay failed", "error", err)
			os.Exit(1)
		}
	case sig := <-sigChan:
		log.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		srv.Stop(ctx)
		cancel()
	}

	log.Info("relay stopped")
}
