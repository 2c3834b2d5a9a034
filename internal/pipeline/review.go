package pipeline

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"loadtender/internal"
	"loadtender/internal/config"
	"loadtender/internal/learn"
	"loadtender/internal/storage"
)

// ReviewService records human corrections and turns them into rule
// suggestions for the sending customer.
type ReviewService struct {
	db       *storage.DB
	log      *zap.Logger
	detector *learn.Detector
}

func NewReviewService(db *storage.DB, cfg config.Config, log *zap.Logger) *ReviewService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReviewService{db: db, log: log, detector: learn.New(cfg, learn.WithLogger(log))}
}

type ReviewResult struct {
	VerificationID int
	CustomerID     string
	Suggestions    []internal.SuggestedRule
	Events         []internal.LearningEvent
}

// SubmitCorrection compares the latest verified shipment of an e-mail with
// the reviewer's final version. Suggestions and learning events are only
// persisted when the e-mail belongs to a known customer.
func (s *ReviewService) SubmitCorrection(emailID int, final internal.StructuredShipment) (ReviewResult, error) {
	rec, err := s.db.LatestVerificationForEmail(emailID)
	if err != nil {
		return ReviewResult{}, err
	}
	if rec == nil {
		return ReviewResult{}, eris.Errorf("email %d has no verification", emailID)
	}
	ext, err := s.db.GetExtraction(rec.ExtractionID)
	if err != nil {
		return ReviewResult{}, err
	}
	if ext == nil {
		return ReviewResult{}, eris.Errorf("extraction %d not found", rec.ExtractionID)
	}

	original := rec.Result.Shipment
	candidates := ext.Result.Candidates
	out := ReviewResult{VerificationID: rec.ID, CustomerID: ext.CustomerID}

	out.Suggestions = s.detector.DetectReclassifications(original, final, candidates, ext.Text)
	out.Events = s.detector.DetectAllEdits(original, final, candidates, ext.Text)

	if ext.CustomerID != "" {
		p, err := s.db.LoadProfile(ext.CustomerID)
		if err != nil {
			return out, err
		}
		out.Suggestions = learn.FilterLearned(out.Suggestions, p)

		if len(out.Suggestions) > 0 {
			if err := s.db.InsertSuggestions(ext.CustomerID, rec.ID, out.Suggestions); err != nil {
				return out, err
			}
		}
		if len(out.Events) > 0 {
			if err := s.db.InsertLearningEvents(ext.CustomerID, rec.ID, out.Events); err != nil {
				return out, err
			}
		}
	} else if len(out.Suggestions) > 0 {
		s.log.Info("suggestions not stored for unknown customer", zap.Int("email_id", emailID), zap.Int("count", len(out.Suggestions)))
	}

	if err := s.db.SetVerificationFinal(rec.ID, final); err != nil {
		return out, err
	}
	s.log.Info("review submitted",
		zap.Int("verification_id", rec.ID),
		zap.String("customer_id", ext.CustomerID),
		zap.Int("suggestions", len(out.Suggestions)),
		zap.Int("events", len(out.Events)))
	return out, nil
}

func (s *ReviewService) Approve(suggestionID int) (internal.SuggestionRecord, error) {
	rec, err := s.db.ApproveSuggestion(suggestionID)
	if err != nil {
		return rec, err
	}
	s.log.Info("suggestion approved", zap.Int("suggestion_id", suggestionID), zap.String("customer_id", rec.CustomerID), zap.String("type", string(rec.Rule.Type)))
	return rec, nil
}

func (s *ReviewService) Reject(suggestionID int) error {
	rec, err := s.db.GetSuggestion(suggestionID)
	if err != nil {
		return err
	}
	if rec == nil {
		return eris.Errorf("suggestion %d not found", suggestionID)
	}
	if rec.Status != internal.SuggestionPending {
		return eris.Errorf("suggestion %d is %s", suggestionID, rec.Status)
	}
	return s.db.SetSuggestionStatus(suggestionID, internal.SuggestionRejected)
}
