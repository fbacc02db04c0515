package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Aidin1998/depthsim/internal/book"
	"github.com/Aidin1998/depthsim/internal/config"
	"github.com/Aidin1998/depthsim/internal/demo"
	"github.com/Aidin1998/depthsim/internal/events"
	"github.com/Aidin1998/depthsim/internal/server"
	"github.com/Aidin1998/depthsim/internal/supervisor"
	"github.com/Aidin1998/depthsim/internal/venues"
	"github.com/Aidin1998/depthsim/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	eventLog := events.NewLog(256)
	engine := book.NewEngine(cfg.Book.MaxDepth, zapLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var conns server.Connections
	switch cfg.Mode {
	case config.ModeLive:
		registry, err := venues.NewRegistry(cfg.Venues)
		if err != nil {
			zapLogger.Fatal("Failed to build venue registry", zap.Error(err))
		}
		sup, err := supervisor.New(cfg.Venues, registry, engine, eventLog, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to create supervisor", zap.Error(err))
		}
		defer sup.Close()

		for _, venueCfg := range cfg.Venues {
			if err := sup.Connect(venueCfg.Name); err != nil {
				zapLogger.Error("Failed to start venue connection",
					zap.String("venue", venueCfg.Name), zap.Error(err))
			}
			for _, symbol := range cfg.Symbols {
				if err := sup.Subscribe(venueCfg.Name, symbol); err != nil {
					// Expected while the connection is still coming up;
					// the subscription is tracked and replayed on connect.
					zapLogger.Debug("subscription queued",
						zap.String("venue", venueCfg.Name),
						zap.String("symbol", symbol), zap.Error(err))
				}
			}
		}
		conns = sup

	case config.ModeDemo:
		feeder := demo.NewFeeder(cfg.Demo, cfg.Symbols, engine, zapLogger)
		go feeder.Run(ctx)
	}

	apiServer := server.New(cfg.Server, engine, conns, eventLog, zapLogger)
	go func() {
		if err := apiServer.Start(); err != nil {
			zapLogger.Fatal("API server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shut down API server", zap.Error(err))
	}
	zapLogger.Info("Server exited properly")
}
