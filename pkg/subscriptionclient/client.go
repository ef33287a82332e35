/**
 * @description
 * Client for the subscription service's internal endpoints.
 */
package subscriptionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Allforms/estatepadi/internal/domain"
)

// ErrReconcileInProgress is returned when the service reports a run already in progress.
var ErrReconcileInProgress = errors.New("subscription reconciliation already in progress")

// Client provides methods to interact with the subscription service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new subscription service client. Reconciliation walks the
// whole gateway account, so the timeout is generous.
func NewClient(baseURL, apiKey string) *Client {
	normalizedURL := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	return &Client{
		baseURL:    normalizedURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Minute},
	}
}

// TriggerReconcile runs one reconciliation and returns its summary.
func (c *Client) TriggerReconcile(ctx context.Context) (*domain.ReconcileSummary, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("subscription service base URL is not configured")
	}

	url := fmt.Sprintf("%s%s", c.baseURL, "/internal/subscriptions/reconcile")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer([]byte("{}")))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil, ErrReconcileInProgress
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("subscription service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var summary domain.ReconcileSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, fmt.Errorf("failed to decode reconcile summary: %w", err)
	}
	return &summary, nil
}
