// Package reports ingests the daily ground-truth storm report files:
// flat text, one file per date, with per-category section markers.
package reports

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client downloads report files by target date.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a report feed client. The timeout covers one download.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Download fetches the report file for one target date. The caller owns
// closing the returned body.
func (c *Client) Download(ctx context.Context, date time.Time) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/%s_rpts.txt", c.baseURL, date.UTC().Format("060102"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create report request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download report file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("report feed error: status %d for %s", resp.StatusCode, url)
	}
	return resp.Body, nil
}
