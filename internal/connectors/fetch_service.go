package connectors

import (
	"context"
	"time"

	"go.uber.org/zap"

	"loadtender/internal/storage"
)

type FetchService struct {
	connector MailConnector
	store     *MailStoreService
	log       *zap.Logger
}

type FetchResult struct {
	Fetched int
	Stored  int
	// Known counts messages already stored by an earlier fetch.
	Known int
}

func NewFetchService(db *storage.DB, rawMailDir string, connector MailConnector, log *zap.Logger) *FetchService {
	if log == nil {
		log = zap.NewNop()
	}
	return &FetchService{
		connector: connector,
		store:     NewMailStoreService(db, rawMailDir),
		log:       log,
	}
}

func (s *FetchService) FetchAndStore(ctx context.Context, label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(ctx, label, max)
	if err != nil {
		return FetchResult{}, err
	}

	res := FetchResult{Fetched: len(messages)}
	for _, msg := range messages {
		stored, err := s.store.Store(msg)
		if err != nil {
			return res, err
		}
		if stored.Created {
			res.Stored++
		} else {
			res.Known++
		}
	}
	if err := s.store.db.SetMetadata(LastFetchKey(label), time.Now().UTC().Format(time.RFC3339)); err != nil {
		s.log.Warn("record last fetch", zap.String("label", label), zap.Error(err))
	}
	s.log.Info("mail fetched", zap.String("label", label), zap.Int("fetched", res.Fetched), zap.Int("stored", res.Stored), zap.Int("known", res.Known))
	return res, nil
}

// LastFetchKey is the metadata key holding the time of the last fetch of a
// mailbox label.
func LastFetchKey(label string) string {
	return "mail.last_fetch." + label
}
