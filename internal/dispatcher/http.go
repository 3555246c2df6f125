package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/types"
)

// HTTPDispatcher posts dial commands to the telephony layer's originate endpoint
type HTTPDispatcher struct {
	url    string
	client *http.Client
}

// NewHTTPDispatcher creates a dispatcher posting to url
func NewHTTPDispatcher(url string, timeout time.Duration) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPDispatcher{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Originate implements Dispatcher
func (d *HTTPDispatcher) Originate(ctx context.Context, cmd types.DialCommand) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal dial command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build originate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", cmd.AttemptID)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("originate request failed: %w", unconfirmed(err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("originate rejected: status %d", resp.StatusCode)
	}
	return nil
}
