package pipeline

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"loadtender/internal"
	"loadtender/internal/classifier"
	"loadtender/internal/config"
	"loadtender/internal/extract"
	"loadtender/internal/profile"
	"loadtender/internal/storage"
	"loadtender/internal/verify"
)

type ProcessingService struct {
	db         *storage.DB
	cfg        config.Config
	log        *zap.Logger
	classifier classifier.Classifier
	extractor  *extract.Extractor
}

// NewProcessingService wires the pipeline. A nil classifier makes drafts
// come from the extracted candidates alone.
func NewProcessingService(db *storage.DB, cfg config.Config, cls classifier.Classifier, log *zap.Logger) *ProcessingService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProcessingService{
		db:         db,
		cfg:        cfg,
		log:        log,
		classifier: cls,
		extractor:  extract.New(cfg, extract.WithLogger(log)),
	}
}

type ProcessResult struct {
	EmailID        int
	TraceID        string
	IsTender       bool
	CustomerID     string
	ExtractionID   int
	VerificationID int
	Candidates     int
	Warnings       int
	RulesApplied   int
}

func (s *ProcessingService) ProcessByProviderMessageID(ctx context.Context, provider, messageID string) (ProcessResult, error) {
	email, err := s.db.MustEmailByProviderMessageID(provider, messageID)
	if err != nil {
		return ProcessResult{}, err
	}
	return s.ProcessEmail(ctx, email)
}

// ProcessPending processes fetched e-mails concurrently. Each e-mail runs
// through its own extractor and verifier calls; nothing mutable is shared
// besides the database handle.
func (s *ProcessingService) ProcessPending(ctx context.Context, limit int, provider string) (int, error) {
	pending, err := s.db.ListEmailsByStatus(storage.EmailFetched, limit)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.cfg.ProcessConcurrency))

	var processed atomic.Int64
	for _, email := range pending {
		if provider != "" && email.Provider != provider {
			continue
		}
		g.Go(func() error {
			if _, err := s.ProcessEmail(gctx, email); err != nil {
				return eris.Wrapf(err, "pipeline: email %d", email.ID)
			}
			processed.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(processed.Load()), err
}

func (s *ProcessingService) ProcessEmail(ctx context.Context, email internal.EmailRow) (ProcessResult, error) {
	start := time.Now()
	result := ProcessResult{EmailID: email.ID, TraceID: uuid.NewString()}
	log := s.log.With(zap.String("trace_id", result.TraceID), zap.Int("email_id", email.ID))

	raw, err := os.ReadFile(email.RawRef)
	if err != nil {
		return result, eris.Wrapf(err, "pipeline: read raw %s", email.RawRef)
	}
	doc, err := DocumentFromEmail(raw)
	if err != nil {
		_ = s.db.UpdateEmailStatus(email.ID, storage.EmailFailed)
		return result, err
	}
	for _, sk := range doc.Skipped {
		s.log.Warn("attachment skipped",
			zap.Int("email_id", email.ID),
			zap.String("attachment", sk.Name),
			zap.String("reason", sk.Reason))
	}

	if err := s.db.ClearEmailProcessing(email.ID); err != nil {
		return result, err
	}

	detect := DetectLoadTender(firstNonEmpty(doc.Subject, email.Subject), doc.Text, doc.Attachments, s.cfg.TenderDetectThreshold)
	if !detect.IsTender {
		log.Info("not a load tender", zap.Float64("score", detect.Score))
		_ = s.db.UpdateEmailStatus(email.ID, storage.EmailSkipped)
		_ = s.db.InsertRun(result.TraceID, email.ID, map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())}, map[string]int{"candidates": 0, "warnings": 0})
		return result, nil
	}
	result.IsTender = true

	res, err := s.run(ctx, log, &result, firstNonEmpty(doc.From, email.Sender), doc)
	if err != nil {
		_ = s.db.UpdateEmailStatus(email.ID, storage.EmailFailed)
		return result, err
	}

	if err := s.db.UpdateEmailStatus(email.ID, storage.EmailProcessed); err != nil {
		return result, err
	}
	_ = s.db.InsertRun(result.TraceID, email.ID,
		map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())},
		map[string]int{
			"candidates":   result.Candidates,
			"warnings":     result.Warnings,
			"refsMoved":    res.Normalization.RefsMovedToStops,
			"refsDeduped":  res.Normalization.RefsDeduplicated,
			"rulesApplied": result.RulesApplied,
		})

	log.Info("processed tender",
		zap.String("customer_id", result.CustomerID),
		zap.Int("candidates", result.Candidates),
		zap.Int("warnings", result.Warnings),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (s *ProcessingService) run(ctx context.Context, log *zap.Logger, result *ProcessResult, from string, doc Document) (internal.VerifiedShipmentResult, error) {
	customer := internal.CustomerProfile{}
	if domain := senderDomain(from); domain != "" {
		id, err := s.db.CustomerBySenderDomain(domain)
		if err != nil {
			return internal.VerifiedShipmentResult{}, err
		}
		if id != nil {
			if customer, err = s.db.LoadProfile(*id); err != nil {
				return internal.VerifiedShipmentResult{}, err
			}
		}
	}
	result.CustomerID = customer.CustomerID

	rules := profile.Compile(customer)
	extraction := s.extractor.Extract(doc.Text, rules)
	result.Candidates = len(extraction.Candidates)
	result.RulesApplied = len(extraction.Metadata.AppliedCustomerRules)

	extractionID, err := s.db.InsertExtraction(result.EmailID, customer.CustomerID, doc.Text, extraction)
	if err != nil {
		return internal.VerifiedShipmentResult{}, err
	}
	result.ExtractionID = int(extractionID)

	draft, err := s.draft(ctx, log, customer.CustomerID, doc, extraction.Candidates)
	if err != nil {
		return internal.VerifiedShipmentResult{}, err
	}

	verifier := verify.New(s.cfg, verify.WithLogger(log), verify.WithSourceType(doc.Source))
	verified := verifier.Process(draft, extraction.Candidates, doc.Text, nil)
	result.Warnings = len(verified.Warnings)

	verificationID, err := s.db.InsertVerification(result.EmailID, extractionID, draft, verified)
	if err != nil {
		return internal.VerifiedShipmentResult{}, err
	}
	result.VerificationID = int(verificationID)

	if customer.CustomerID != "" && len(extraction.Metadata.AppliedCustomerRules) > 0 {
		if err := s.db.IncrementRuleHits(customer.CustomerID, extraction.Metadata.AppliedCustomerRules); err != nil {
			log.Warn("rule hit counting failed", zap.Error(err))
		}
	}
	return verified, nil
}

func (s *ProcessingService) draft(ctx context.Context, log *zap.Logger, customerID string, doc Document, candidates []internal.Candidate) (internal.StructuredShipment, error) {
	if s.classifier == nil {
		return DraftFromCandidates(candidates, doc.Text), nil
	}
	draft, err := s.classifier.Classify(ctx, classifier.Request{
		CustomerID: customerID,
		Subject:    doc.Subject,
		Text:       doc.Text,
		Candidates: candidates,
	})
	if err != nil {
		return internal.StructuredShipment{}, eris.Wrap(err, "pipeline: classify")
	}
	log.Debug("classifier draft received", zap.Int("refs", len(draft.ReferenceNumbers)), zap.Int("stops", len(draft.Stops)))
	return draft, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
