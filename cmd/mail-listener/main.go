package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"loadtender/internal/classifier"
	"loadtender/internal/config"
	"loadtender/internal/listener"
	"loadtender/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	log, err := config.NewLogger(cfg)
	must(err)
	defer func() { _ = log.Sync() }()

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	var cls classifier.Classifier
	if client := classifier.NewClient(cfg, log); client.Configured() {
		cls = client
	} else {
		log.Warn("CLASSIFIER_URL not set, drafts come from extracted candidates only")
	}

	svc := listener.NewService(db, cfg, cls, log)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("mail listener started",
		zap.String("provider", cfg.MailListenerProvider),
		zap.String("label", cfg.MailListenerLabel),
		zap.Int("interval_sec", cfg.MailListenerIntervalSec))
	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
