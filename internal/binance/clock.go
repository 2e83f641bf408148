package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ServerClock stamps outgoing requests with the exchange's clock. It keeps a
// local-offset learned from the time endpoint and refreshes it when stale; it
// never falls back to the raw local clock after a failed sync.
type ServerClock struct {
	httpClient *http.Client
	baseURL    string
	maxAge     time.Duration

	mu         sync.RWMutex
	offset     int64
	lastSynced time.Time
}

func NewServerClock(httpClient *http.Client, baseURL string, maxAge time.Duration) *ServerClock {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &ServerClock{
		httpClient: httpClient,
		baseURL:    baseURL,
		maxAge:     maxAge,
	}
}

// Now returns the exchange time in milliseconds. A stale offset forces a
// resync first; if that fails the caller gets ErrTimeSync, not a guess.
func (c *ServerClock) Now(ctx context.Context) (int64, error) {
	c.mu.RLock()
	fresh := !c.lastSynced.IsZero() && time.Since(c.lastSynced) < c.maxAge
	offset := c.offset
	c.mu.RUnlock()

	if fresh {
		return time.Now().UnixMilli() + offset, nil
	}

	if err := c.Sync(ctx); err != nil {
		return 0, err
	}

	c.mu.RLock()
	offset = c.offset
	c.mu.RUnlock()
	return time.Now().UnixMilli() + offset, nil
}

// Sync reads the server time endpoint and records the offset to local time.
func (c *ServerClock) Sync(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpointServerTime, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTimeSync, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTimeSync, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTimeSync, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: http %d", ErrTimeSync, resp.StatusCode)
	}

	var result struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("%w: %v", ErrTimeSync, err)
	}
	if result.ServerTime <= 0 {
		return fmt.Errorf("%w: empty server time", ErrTimeSync)
	}

	c.mu.Lock()
	c.offset = result.ServerTime - time.Now().UnixMilli()
	c.lastSynced = time.Now()
	c.mu.Unlock()
	return nil
}

// LastSynced reports when the offset was last refreshed; zero means never.
func (c *ServerClock) LastSynced() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSynced
}
