package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/makerloom/stitchpress/internal/catalog"
	"github.com/makerloom/stitchpress/internal/config"
	"github.com/makerloom/stitchpress/internal/pkg/logger"
	"github.com/makerloom/stitchpress/internal/unsub"
)

func main() {
	configPath := flag.String("config", "stitchpress.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		die("load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.RedactPII != nil {
		logger.SetRedactPII(*cfg.Log.RedactPII)
	}
	if err := cfg.ValidateUnsubscribe(); err != nil {
		die("%v", err)
	}

	store, err := catalog.NewStore(context.Background(), cfg.Storage)
	if err != nil {
		die("catalog: %v", err)
	}
	handler := unsub.NewHandler(store, cfg.Campaign.UnsubscribeSecret)

	addr := fmt.Sprintf("%s:%d", cfg.Unsubscribe.GetHost(), cfg.Unsubscribe.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("unsubscribe service listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			die("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down unsubscribe service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err.Error())
	}
}

func die(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "unsubscribed: "+format+"\n", args...)
	os.Exit(1)
}
