package connectors

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"loadtender/internal"
	"loadtender/internal/storage"
)

type MailStoreService struct {
	db         *storage.DB
	rawMailDir string
}

type StoredEmail struct {
	Email   internal.EmailRow
	Created bool
}

func NewMailStoreService(db *storage.DB, rawMailDir string) *MailStoreService {
	return &MailStoreService{db: db, rawMailDir: rawMailDir}
}

// Store writes the raw message under its content hash and records it as
// fetched. A message seen before keeps its processing status.
func (s *MailStoreService) Store(msg internal.FetchedMailMessage) (StoredEmail, error) {
	existing, err := s.db.GetEmailByProviderMessageID(msg.Provider, msg.MessageID)
	if err != nil {
		return StoredEmail{}, err
	}
	if existing != nil {
		return StoredEmail{Email: *existing}, nil
	}

	hashBytes := sha256.Sum256(msg.Raw)
	hash := hex.EncodeToString(hashBytes[:])

	if err := os.MkdirAll(s.rawMailDir, 0o755); err != nil {
		return StoredEmail{}, eris.Wrapf(err, "connectors: create %s", s.rawMailDir)
	}

	rawPath := filepath.Join(s.rawMailDir, hash+".eml")
	if _, err := os.Stat(rawPath); os.IsNotExist(err) {
		if err := os.WriteFile(rawPath, msg.Raw, 0o644); err != nil {
			return StoredEmail{}, eris.Wrapf(err, "connectors: write %s", rawPath)
		}
	}

	email, err := s.db.UpsertEmail(msg.Provider, msg.MessageID, msg.Subject, msg.From, msg.ReceivedAt, hash, rawPath, storage.EmailFetched)
	if err != nil {
		return StoredEmail{}, err
	}
	return StoredEmail{Email: email, Created: true}, nil
}
