package connectors

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadtender/internal"
	"loadtender/internal/storage"
)

type staticConnector struct {
	messages []internal.FetchedMailMessage
}

func (c staticConnector) FetchInbox(_ context.Context, _ string, max int) ([]internal.FetchedMailMessage, error) {
	if len(c.messages) > max {
		return c.messages[:max], nil
	}
	return c.messages, nil
}

func TestFetchAndStoreIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "app.db"))
	require.NoError(t, err)
	defer db.Close()

	conn := staticConnector{messages: []internal.FetchedMailMessage{
		{Provider: "imap", MessageID: "<a@acme>", Subject: "Load tender", From: "dispatch@acme.example.com", ReceivedAt: "2026-06-10T08:00:00Z", Raw: []byte("Subject: Load tender\r\n\r\nLoad # 121230\r\n")},
		{Provider: "imap", MessageID: "<b@acme>", Subject: "Re: rates", From: "sales@acme.example.com", ReceivedAt: "2026-06-10T09:00:00Z", Raw: []byte("Subject: Re: rates\r\n\r\nthanks\r\n")},
	}}
	rawDir := filepath.Join(dir, "raw")
	svc := NewFetchService(db, rawDir, conn, nil)

	res, err := svc.FetchAndStore(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	assert.Equal(t, FetchResult{Fetched: 2, Stored: 2}, res)
	last, err := db.GetMetadata(LastFetchKey("INBOX"))
	require.NoError(t, err)
	require.NotNil(t, last)

	email, err := db.GetEmailByProviderMessageID("imap", "<a@acme>")
	require.NoError(t, err)
	require.NotNil(t, email)
	assert.Equal(t, storage.EmailFetched, email.Status)
	blob, err := os.ReadFile(email.RawRef)
	require.NoError(t, err)
	assert.Equal(t, conn.messages[0].Raw, blob)

	require.NoError(t, db.UpdateEmailStatus(email.ID, storage.EmailProcessed))

	res, err = svc.FetchAndStore(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	assert.Equal(t, FetchResult{Fetched: 2, Known: 2}, res)

	email, err = db.GetEmailByProviderMessageID("imap", "<a@acme>")
	require.NoError(t, err)
	assert.Equal(t, storage.EmailProcessed, email.Status)
}
