// Package alerts polls the near-real-time hazard-alert feed and normalizes
// its CAP-style GeoJSON payload into alert records.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client fetches pages from the alert feed.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an alert feed client. The timeout applies per page.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// page is one paginated response from the feed.
type page struct {
	Features   []feature `json:"features"`
	Pagination struct {
		Next string `json:"next"`
	} `json:"pagination"`
}

// feature is a single CAP alert in the feed's GeoJSON encoding.
type feature struct {
	ID         string          `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties struct {
		Event       string           `json:"event"`
		Severity    string           `json:"severity"`
		Urgency     string           `json:"urgency"`
		Certainty   string           `json:"certainty"`
		Effective   time.Time        `json:"effective"`
		Expires     time.Time        `json:"expires"`
		Sent        time.Time        `json:"sent"`
		Headline    string           `json:"headline"`
		Description string           `json:"description"`
		AreaDesc    string           `json:"areaDesc"`
		Geocode     struct {
			UGC  []string `json:"UGC"`
			SAME []string `json:"SAME"`
		} `json:"geocode"`
		// Structured radar-indicated magnitudes; values may be encoded
		// as numbers or strings depending on the issuing office.
		Parameters map[string][]any `json:"parameters"`
	} `json:"properties"`
}

// BaseURL returns the first page URL for a polling cycle.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchPage retrieves one feed page. Any network or decode failure is a
// transient-fetch error: the caller aborts the cycle rather than commit a
// corrupted page.
func (c *Client) FetchPage(ctx context.Context, url string) (page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return page{}, fmt.Errorf("create feed request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return page{}, fmt.Errorf("fetch alert page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return page{}, fmt.Errorf("alert feed error: status %d: %s", resp.StatusCode, body)
	}

	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return page{}, fmt.Errorf("decode alert page: %w", err)
	}
	return p, nil
}
