package gmail

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "Message-ID: <tender-9@acme.example.com>\r\n" +
	"From: Dispatch <dispatch@acme.example.com>\r\n" +
	"Subject: =?UTF-8?Q?Load_tender_121230?=\r\n" +
	"Date: Wed, 10 Jun 2026 08:15:00 -0500\r\n" +
	"\r\n" +
	"Load # 121230\r\n"

func TestMessageFromRaw(t *testing.T) {
	raw, err := decodeBase64URL(base64.RawURLEncoding.EncodeToString([]byte(sample)))
	require.NoError(t, err)

	msg, err := messageFromRaw("18f00", raw)
	require.NoError(t, err)
	assert.Equal(t, "gmail", msg.Provider)
	assert.Equal(t, "<tender-9@acme.example.com>", msg.MessageID)
	assert.Equal(t, "Load tender 121230", msg.Subject)
	assert.Equal(t, "Dispatch <dispatch@acme.example.com>", msg.From)
	assert.Equal(t, "2026-06-10T13:15:00Z", msg.ReceivedAt)
	assert.Equal(t, []byte(sample), msg.Raw)
}

func TestMessageFromRawFallsBackToGmailID(t *testing.T) {
	msg, err := messageFromRaw("18f00", []byte("Subject: hi\r\n\r\nbody\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "18f00", msg.MessageID)
}

func TestDecodeBase64URLPadded(t *testing.T) {
	got, err := decodeBase64URL(base64.URLEncoding.EncodeToString([]byte("ab")))
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), got)

	_, err = decodeBase64URL("***")
	require.Error(t, err)
}
