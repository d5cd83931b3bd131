// Package agent provides the device-side license verifier: an HTTP
// client for the licensor server plus the offline fallback over the
// local snapshot cache.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smartedu360/licensor/internal/models"
)

// Client is an HTTP client for communicating with the licensor server.
type Client struct {
	serverURL  string
	httpClient *http.Client
}

// NewClient creates a new license API client.
func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Verify submits an online verification request. A denial from the
// server is returned as a result, not an error; an error means the
// server could not be reached or answered garbage, which is the signal
// to fall back to offline verification.
func (c *Client) Verify(ctx context.Context, req models.VerifyRequest) (*models.VerificationResult, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/api/v1/licenses/verify", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// The server maps denial kinds to 4xx statuses but always ships the
	// full result in the body.
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var result models.VerificationResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	return &result, nil
}
