package listener

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"loadtender/internal/classifier"
	"loadtender/internal/config"
	"loadtender/internal/connectors"
	gmailconnector "loadtender/internal/connectors/gmail"
	imapconnector "loadtender/internal/connectors/imap"
	"loadtender/internal/pipeline"
	"loadtender/internal/storage"
)

// Service polls a mailbox and runs every new tender through the pipeline.
type Service struct {
	db         *storage.DB
	cfg        config.Config
	log        *zap.Logger
	classifier classifier.Classifier
	connect    func(ctx context.Context, provider string) (connectors.MailConnector, error)
}

func NewService(db *storage.DB, cfg config.Config, cls classifier.Classifier, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{db: db, cfg: cfg, log: log, classifier: cls}
	s.connect = s.makeConnector
	return s
}

func (s *Service) Run(ctx context.Context) error {
	for {
		if err := s.RunCycle(ctx); err != nil {
			s.log.Error("listener cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(s.cfg.MailListenerIntervalSec) * time.Second):
		}
	}
}

type CycleResult struct {
	Fetched   int
	Stored    int
	Processed int
	Exported  int
}

// RunCycle performs one fetch, process and export round.
func (s *Service) RunCycle(ctx context.Context) (err error) {
	_, err = s.runCycle(ctx)
	return err
}

func (s *Service) runCycle(ctx context.Context) (CycleResult, error) {
	provider := strings.ToLower(strings.TrimSpace(s.cfg.MailListenerProvider))
	mailConnector, err := s.connect(ctx, provider)
	if err != nil {
		return CycleResult{}, err
	}

	fetchService := connectors.NewFetchService(s.db, s.cfg.RawMailDir, mailConnector, s.log)
	fetched, err := fetchService.FetchAndStore(ctx, s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if err != nil {
		return CycleResult{}, err
	}
	res := CycleResult{Fetched: fetched.Fetched, Stored: fetched.Stored}

	processor := pipeline.NewProcessingService(s.db, s.cfg, s.classifier, s.log)
	res.Processed, err = processor.ProcessPending(ctx, s.cfg.MailListenerProcessBatch, provider)
	if err != nil {
		return res, err
	}

	if s.cfg.MailListenerAutoExport {
		if res.Exported, err = s.exportProcessed(provider); err != nil {
			return res, err
		}
	}

	s.log.Info("listener cycle done",
		zap.String("provider", provider),
		zap.Int("fetched", res.Fetched),
		zap.Int("stored", res.Stored),
		zap.Int("processed", res.Processed),
		zap.Int("exported", res.Exported))
	return res, nil
}

func (s *Service) exportProcessed(provider string) (int, error) {
	emails, err := s.db.ListEmailsByStatus(storage.EmailProcessed, 200)
	if err != nil {
		return 0, err
	}

	exported := 0
	for _, email := range emails {
		if email.Provider != provider {
			continue
		}
		review, err := pipeline.LoadReviewExport(s.db, email)
		if err != nil {
			return exported, err
		}
		if review == nil {
			continue
		}
		filename := fmt.Sprintf("%d_%s.xlsx", email.ID, sanitizeMessageID(email.MessageID))
		outputPath := filepath.Join(s.cfg.OutputDir, "listener", filename)
		if err := pipeline.ExportReviewXLSX(*review, outputPath); err != nil {
			return exported, err
		}
		_ = s.db.UpdateEmailStatus(email.ID, storage.EmailExported)
		exported++
	}
	return exported, nil
}

func (s *Service) makeConnector(ctx context.Context, provider string) (connectors.MailConnector, error) {
	switch provider {
	case "gmail":
		return gmailconnector.NewConnector(ctx, s.cfg, s.log)
	case "imap":
		return imapconnector.NewConnector(s.cfg, s.log)
	default:
		return nil, eris.Errorf("unsupported listener provider: %s", provider)
	}
}

func sanitizeMessageID(input string) string {
	repl := strings.NewReplacer("<", "_", ">", "_", ":", "_", "/", "_", "\\", "_", "|", "_", "?", "_", "*", "_", " ", "_")
	out := repl.Replace(input)
	if len(out) > 120 {
		out = out[:120]
	}
	return out
}
