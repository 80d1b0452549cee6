// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package reconcile

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// stripeClient pages the Stripe events listing. The reconciliation
// credential is the secret API key.
type stripeClient struct {
	baseURL  string
	pageSize int
	client   *http.Client
}

// newStripeClient creates the client. baseURL is overridable for tests.
func newStripeClient(baseURL string, pageSize int, client *http.Client) *stripeClient {
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	return &stripeClient{baseURL: baseURL, pageSize: pageSize, client: client}
}

// stripeEventPage is the Stripe list envelope.
type stripeEventPage struct {
	Data []struct {
		ID      string          `json:"id"`
		Type    string          `json:"type"`
		Created int64           `json:"created"`
		Data    json.RawMessage `json:"data"`
	} `json:"data"`
	HasMore bool `json:"has_more"`
}

// ListEvents pages GET /v1/events within [since, until] using cursor
// pagination via starting_after.
func (c *stripeClient) ListEvents(ctx context.Context, credential string, since, until time.Time) ([]ProviderEvent, error) {
	var out []ProviderEvent
	startingAfter := ""

	for {
		params := url.Values{}
		params.Set("created[gte]", strconv.FormatInt(since.Unix(), 10))
		params.Set("created[lte]", strconv.FormatInt(until.Unix(), 10))
		params.Set("limit", strconv.Itoa(c.pageSize))
		if startingAfter != "" {
			params.Set("starting_after", startingAfter)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/v1/events?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+credential)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("list stripe events: %w", err)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("stripe events returned %d", resp.StatusCode)
		}

		var page stripeEventPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode page: %w", err)
		}

		for _, item := range page.Data {
			payload, _ := json.Marshal(map[string]interface{}{
				"id":      item.ID,
				"type":    item.Type,
				"created": item.Created,
				"data":    json.RawMessage(item.Data),
			})
			out = append(out, ProviderEvent{
				ID:        item.ID,
				Type:      item.Type,
				CreatedAt: time.Unix(item.Created, 0).UTC(),
				Payload:   payload,
			})
		}

		if !page.HasMore || len(page.Data) == 0 {
			return out, nil
		}
		startingAfter = page.Data[len(page.Data)-1].ID
	}
}
