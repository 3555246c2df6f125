package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
)

// ServiceClient reports telephony events to the dialer's bulk event endpoint
type ServiceClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewServiceClient creates a client for the dialer at baseURL
func NewServiceClient(baseURL string) *ServiceClient {
	return &ServiceClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send posts events in one batch to /internal/events
func (c *ServiceClient) Send(ctx context.Context, evs ...types.TelephonyEvent) error {
	data, err := json.Marshal(evs)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/events", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Rejected int      `json:"rejected"`
		Errors   []string `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if result.Rejected > 0 {
		return fmt.Errorf("%d events rejected: %s", result.Rejected, strings.Join(result.Errors, "; "))
	}
	return nil
}
