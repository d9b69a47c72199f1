// Package signature retrieves staff signature images from their stored
// references, with a Redis cache in front of the remote fetch.
package signature

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// maxImageSize caps a fetched signature image at 2 MiB.
const maxImageSize = 2 << 20

// Client fetches signature images over HTTP. The stored reference is
// the image URL. Repeated upstream failures open the breaker so report
// rendering degrades fast instead of stalling on every slot.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        *logrus.Logger
}

// NewClient creates a signature client with the given fetch timeout.
func NewClient(fetchTimeout time.Duration, logger *logrus.Logger) *Client {
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "signature-fetch",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &Client{
		httpClient: &http.Client{Timeout: fetchTimeout},
		breaker:    breaker,
		log:        logger,
	}
}

// Fetch downloads the signature image at ref.
func (c *Client) Fetch(ctx context.Context, ref string) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, ref)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Client) fetch(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("building signature request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching signature %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching signature %s: unexpected status %d", ref, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading signature %s: %w", ref, err)
	}
	if len(data) > maxImageSize {
		return nil, fmt.Errorf("signature %s exceeds %d bytes", ref, maxImageSize)
	}

	return data, nil
}
