// Package ordersync integrates with the external order-fulfilment
// system that owns ordered quantities.
package ordersync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client pulls authoritative ordered quantities over HTTP. It
// implements the reconciliation engine's OrderSyncPort.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type orderedResponse struct {
	Ordered map[int64]float64 `json:"ordered"`
}

// OrderedQuantities returns the summed order-line quantities per
// product for every order attributable to the vehicle's route on the
// date.
func (c *Client) OrderedQuantities(ctx context.Context, vehicleID int64, date time.Time) (map[int64]float64, error) {
	url := fmt.Sprintf("%s/api/orders/vehicle/%d/%s/quantities", c.baseURL, vehicleID, date.Format("2006-01-02"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("ordersync: quantities returned status %d", resp.StatusCode)
	}
	var decoded orderedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("ordersync: decode quantities: %w", err)
	}
	return decoded.Ordered, nil
}

// Ping checks if the remote order system is available.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/healthz", c.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ordersync: health returned status %d", resp.StatusCode)
	}
	return nil
}
