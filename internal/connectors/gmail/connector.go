package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"mime"
	"net/mail"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"loadtender/internal"
	"loadtender/internal/config"
)

type Connector struct {
	service *gmail.Service
	query   string
	log     *zap.Logger
}

func NewConnector(ctx context.Context, cfg config.Config, log *zap.Logger) (*Connector, error) {
	if err := cfg.Require("GMAIL_CLIENT_ID", cfg.GmailClientID); err != nil {
		return nil, err
	}
	if err := cfg.Require("GMAIL_CLIENT_SECRET", cfg.GmailClientSecret); err != nil {
		return nil, err
	}
	if err := cfg.Require("GMAIL_REFRESH_TOKEN", cfg.GmailRefreshToken); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.GmailRedirectURI,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}

	tokenSource := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.GmailRefreshToken})
	svc, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, eris.Wrap(err, "gmail: new service")
	}

	return &Connector{service: svc, query: cfg.MailListenerQuery, log: log}, nil
}

func (c *Connector) FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error) {
	listCall := c.service.Users.Messages.List("me").LabelIds(label).MaxResults(int64(max)).Context(ctx)
	if c.query != "" {
		listCall = listCall.Q(c.query)
	}
	listResp, err := listCall.Do()
	if err != nil {
		return nil, eris.Wrapf(err, "gmail: list %s", label)
	}

	out := make([]internal.FetchedMailMessage, 0, len(listResp.Messages))
	for _, msgRef := range listResp.Messages {
		if msgRef.Id == "" {
			continue
		}

		rawResp, err := c.service.Users.Messages.Get("me", msgRef.Id).Format("raw").Context(ctx).Do()
		if err != nil {
			return nil, eris.Wrapf(err, "gmail: get %s", msgRef.Id)
		}
		if rawResp.Raw == "" {
			continue
		}
		raw, err := decodeBase64URL(rawResp.Raw)
		if err != nil {
			return nil, err
		}

		msg, err := messageFromRaw(msgRef.Id, raw)
		if err != nil {
			c.log.Warn("skipping unreadable message", zap.String("gmail_id", msgRef.Id), zap.Error(err))
			continue
		}
		out = append(out, msg)
	}

	return out, nil
}

// messageFromRaw reads the envelope headers of an RFC 5322 message. The
// Gmail id stands in for a missing Message-ID.
func messageFromRaw(gmailID string, raw []byte) (internal.FetchedMailMessage, error) {
	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return internal.FetchedMailMessage{}, eris.Wrap(err, "gmail: parse headers")
	}

	received := time.Now().UTC().Format(time.RFC3339)
	if t, err := parsed.Header.Date(); err == nil {
		received = t.UTC().Format(time.RFC3339)
	}

	messageID := parsed.Header.Get("Message-ID")
	if messageID == "" {
		messageID = gmailID
	}

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(parsed.Header.Get("Subject"))
	if err != nil {
		subject = parsed.Header.Get("Subject")
	}

	return internal.FetchedMailMessage{
		Provider:   "gmail",
		MessageID:  messageID,
		Subject:    subject,
		From:       parsed.Header.Get("From"),
		ReceivedAt: received,
		Raw:        raw,
	}, nil
}

func decodeBase64URL(input string) ([]byte, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.URLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	return nil, eris.Wrap(err, "gmail: decode raw payload")
}
