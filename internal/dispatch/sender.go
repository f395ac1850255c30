package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var errMalformedTrigger = errors.New("malformed trigger message")

// Sender posts notification payloads to rule endpoints, signing each
// body with HMAC-SHA256 when a shared secret is configured so receivers
// can authenticate the source.
type Sender struct {
	httpClient *http.Client
	secret     string
}

// NewSender creates a webhook sender. The timeout bounds one attempt.
func NewSender(timeout time.Duration, secret string) *Sender {
	return &Sender{
		httpClient: &http.Client{Timeout: timeout},
		secret:     secret,
	}
}

// Send posts the payload to the endpoint. Returns the response status
// code (0 when the request never completed) and a non-nil error for any
// outcome other than a 2xx response.
func (s *Sender) Send(ctx context.Context, endpoint string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set("X-Webhook-Signature", signPayload(payload, s.secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
