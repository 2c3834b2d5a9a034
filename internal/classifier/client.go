package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"loadtender/internal"
	"loadtender/internal/config"
)

const maxAttempts = 5

// Classifier turns tender text into a draft shipment.
type Classifier interface {
	Classify(ctx context.Context, req Request) (internal.StructuredShipment, error)
}

type Request struct {
	CustomerID string               `json:"customer_id,omitempty"`
	Subject    string               `json:"subject,omitempty"`
	Text       string               `json:"text"`
	Candidates []internal.Candidate `json:"candidates"`
}

type Client struct {
	cfg        config.Config
	log        *zap.Logger
	httpClient *http.Client
	limiter    *rate.Limiter
	pause      func(context.Context, time.Duration) error
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors"`
	Data    json.RawMessage `json:"data"`
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	rps := cfg.ClassifierRateLimitRPS
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		cfg:        cfg,
		log:        log,
		httpClient: &http.Client{Timeout: time.Duration(cfg.ClassifierTimeoutMs) * time.Millisecond},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		pause:      sleep,
	}
}

// Configured reports whether a classification endpoint is set.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.ClassifierURL) != ""
}

func (c *Client) Classify(ctx context.Context, req Request) (internal.StructuredShipment, error) {
	if !c.Configured() {
		return internal.StructuredShipment{}, eris.New("classifier: missing CLASSIFIER_URL")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return internal.StructuredShipment{}, eris.Wrap(err, "classifier: encode request")
	}

	data, err := c.post(ctx, payload)
	if err != nil {
		return internal.StructuredShipment{}, err
	}

	var shipment internal.StructuredShipment
	if err := json.Unmarshal(data, &shipment); err != nil {
		return internal.StructuredShipment{}, eris.Wrap(err, "classifier: decode shipment")
	}
	return Sanitize(shipment), nil
}

func (c *Client) post(ctx context.Context, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "classifier: rate limiter")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ClassifierURL, bytes.NewReader(payload))
		if err != nil {
			return nil, eris.Wrap(err, "classifier: build request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if token := strings.TrimSpace(c.cfg.ClassifierToken); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = eris.Wrap(err, "classifier: request")
			if err := c.retryPause(ctx, attempt, lastErr); err != nil {
				return nil, err
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = eris.Wrap(readErr, "classifier: read body")
			if err := c.retryPause(ctx, attempt, lastErr); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if isRetryableStatus(resp.StatusCode) && attempt < maxAttempts {
				lastErr = eris.Errorf("classifier: status %d", resp.StatusCode)
				if err := c.retryPause(ctx, attempt, lastErr); err != nil {
					return nil, err
				}
				continue
			}
			return nil, eris.Errorf("classifier: status=%d body=%s", resp.StatusCode, string(body))
		}

		var apiResp apiResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			return nil, eris.Wrap(err, "classifier: decode response")
		}
		if !apiResp.Success {
			return nil, eris.Errorf("classifier: unsuccessful: %s %s", apiResp.Message, string(apiResp.Errors))
		}
		return apiResp.Data, nil
	}

	if lastErr == nil {
		lastErr = eris.New("classifier: request failed")
	}
	return nil, lastErr
}

// retryPause waits out the backoff before the next attempt. The last attempt
// returns at once.
func (c *Client) retryPause(ctx context.Context, attempt int, cause error) error {
	if attempt >= maxAttempts {
		return nil
	}
	c.log.Warn("classifier retry", zap.Int("attempt", attempt), zap.Error(cause))
	if err := c.pause(ctx, backoff(attempt)); err != nil {
		return eris.Wrap(err, "classifier: backoff")
	}
	return nil
}

func backoff(attempt int) time.Duration {
	return time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
