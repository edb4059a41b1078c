package observer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ErrNotReady is returned when the API does not come up before the deadline.
var ErrNotReady = errors.New("api not ready")

// Backoff controls WaitForAPI.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Timeout time.Duration
}

// DefaultBackoff starts at 500ms, doubles up to 10s and gives up after two
// minutes.
var DefaultBackoff = Backoff{
	Initial: 500 * time.Millisecond,
	Max:     10 * time.Second,
	Timeout: 2 * time.Minute,
}

// WaitForAPI polls the status endpoint with exponential backoff until it
// answers 200.
func (o *Observer) WaitForAPI(ctx context.Context, b Backoff) error {
	backoff := b.Initial
	deadline := time.Now().Add(b.Timeout)

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/v1/status", nil)
		if err != nil {
			return err
		}
		resp, err := o.HTTPClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				slog.Info("simulation API is ready", "url", o.BaseURL)
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s", ErrNotReady, b.Timeout)
		}
		slog.Info("simulation API not ready, retrying", "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > b.Max {
			backoff = b.Max
		}
	}
}
