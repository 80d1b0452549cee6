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
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// shopifyCredential is the decrypted reconciliation credential for Shopify
// integrations: the shop's Admin API host and access token.
type shopifyCredential struct {
	ShopDomain  string `json:"shop_domain"`
	AccessToken string `json:"access_token"`
}

// shopifyClient pages the shop's orders via the Admin REST API. Shopify has
// no generic events listing, so orders stand in as the reconciliation
// surface; each order synthesises an orders/create event.
type shopifyClient struct {
	baseURL  string // overrides the shop domain when set (tests)
	pageSize int
	client   *http.Client
}

// newShopifyClient creates the client.
func newShopifyClient(baseURL string, pageSize int, client *http.Client) *shopifyClient {
	if pageSize <= 0 || pageSize > 250 {
		pageSize = 100
	}
	return &shopifyClient{baseURL: baseURL, pageSize: pageSize, client: client}
}

// shopifyOrderPage is the Admin REST orders envelope.
type shopifyOrderPage struct {
	Orders []json.RawMessage `json:"orders"`
}

// ListEvents pages orders created within [since, until], following the
// Link: <url>; rel="next" header for pagination.
func (c *shopifyClient) ListEvents(ctx context.Context, credential string, since, until time.Time) ([]ProviderEvent, error) {
	var cred shopifyCredential
	if err := json.Unmarshal([]byte(credential), &cred); err != nil {
		return nil, fmt.Errorf("decode shopify credential: %w", err)
	}
	if cred.AccessToken == "" {
		return nil, fmt.Errorf("shopify credential missing access token")
	}

	base := c.baseURL
	if base == "" {
		if cred.ShopDomain == "" {
			return nil, fmt.Errorf("shopify credential missing shop domain")
		}
		base = "https://" + cred.ShopDomain
	}

	params := url.Values{}
	params.Set("status", "any")
	params.Set("created_at_min", since.UTC().Format(time.RFC3339))
	params.Set("created_at_max", until.UTC().Format(time.RFC3339))
	params.Set("limit", strconv.Itoa(c.pageSize))

	next := base + "/admin/api/2024-01/orders.json?" + params.Encode()

	var out []ProviderEvent
	for next != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("X-Shopify-Access-Token", cred.AccessToken)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("list shopify orders: %w", err)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		linkHeader := resp.Header.Get("Link")
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("shopify orders returned %d", resp.StatusCode)
		}

		var page shopifyOrderPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode page: %w", err)
		}

		for _, order := range page.Orders {
			var envelope struct {
				ID        json.Number `json:"id"`
				CreatedAt time.Time   `json:"created_at"`
			}
			if err := json.Unmarshal(order, &envelope); err != nil || envelope.ID.String() == "" {
				continue
			}
			out = append(out, ProviderEvent{
				ID:        "shopify:order:" + envelope.ID.String(),
				Type:      "orders/create",
				CreatedAt: envelope.CreatedAt.UTC(),
				Payload:   order,
			})
		}

		next = parseLinkNext(linkHeader)
		if len(page.Orders) == 0 {
			break
		}
	}

	return out, nil
}

// parseLinkNext extracts the rel="next" URL from a Link header, or "".
func parseLinkNext(header string) string {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start >= 0 && end > start {
			return part[start+1 : end]
		}
	}
	return ""
}
