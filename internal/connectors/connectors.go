package connectors

import (
	"context"

	"loadtender/internal"
)

// MailConnector delivers raw tender e-mails from a mailbox.
type MailConnector interface {
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error)
}
