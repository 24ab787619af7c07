package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"event-radar/anthropic"
	"event-radar/api"
	"event-radar/config"
	"event-radar/scanner"
	"event-radar/store"
)

func main() {
	// Load env (Anthropic key, region, paths); plain env vars still apply
	// when no .env file exists.
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.Load()
	if cfg.AnthropicKey == "" {
		log.Warn("ANTHROPIC_API_KEY not set, scans will be skipped")
	}

	st, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		log.Fatal("init store", zap.Error(err))
	}

	ai := anthropic.New(cfg.AnthropicKey, cfg.Model)
	sc := scanner.New(st, ai, cfg.Region, cfg.AnthropicKey != "", log)

	server := api.NewServer(st, sc, "./web", log)
	router := gin.Default()
	server.SetupRoutes(router)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Daily scan trigger. Fire-and-forget: the re-entry guard drops the tick
	// if a manually triggered scan is still running.
	go func() {
		ticker := time.NewTicker(cfg.ScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				go sc.Run(context.Background(), time.Now(), server.ProgressSink())
			}
		}
	}()

	srv := &http.Server{Addr: cfg.Addr, Handler: router}
	go func() {
		log.Info("event radar listening", zap.String("addr", cfg.Addr), zap.String("region", cfg.Region))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
}
