// HookWise - Reliable Webhook Delivery
// Copyright 2026 HookWise Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hookwise/hookwise

package delivery

import (
	"testing"

	"github.com/hookwise/hookwise/internal/models"
)

func TestCorrelationKey(t *testing.T) {
	tests := []struct {
		name     string
		provider models.Provider
		payload  string
		want     string
	}{
		{
			name:     "stripe customer preferred",
			provider: models.ProviderStripe,
			payload:  `{"data":{"object":{"customer":"cus_9","id":"in_1"}}}`,
			want:     "stripe:customer:cus_9",
		},
		{
			name:     "stripe falls back to object id",
			provider: models.ProviderStripe,
			payload:  `{"data":{"object":{"id":"in_1"}}}`,
			want:     "stripe:object:in_1",
		},
		{
			name:     "stripe without identity yields none",
			provider: models.ProviderStripe,
			payload:  `{"data":{"object":{}}}`,
			want:     "",
		},
		{
			name:     "shopify order id preferred",
			provider: models.ProviderShopify,
			payload:  `{"order_id":441,"id":820}`,
			want:     "shopify:order:441",
		},
		{
			name:     "shopify falls back to resource id",
			provider: models.ProviderShopify,
			payload:  `{"id":820}`,
			want:     "shopify:resource:820",
		},
		{
			name:     "github repository",
			provider: models.ProviderGitHub,
			payload:  `{"repository":{"full_name":"octo/repo"}}`,
			want:     "github:repo:octo/repo",
		},
		{
			name:     "unparseable payload yields none",
			provider: models.ProviderGitHub,
			payload:  `not json`,
			want:     "",
		},
		{
			name:     "unknown provider yields none",
			provider: models.Provider("other"),
			payload:  `{"id":1}`,
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CorrelationKey(tt.provider, []byte(tt.payload))
			if got != tt.want {
				t.Errorf("CorrelationKey = %q, want %q", got, tt.want)
			}
		})
	}
}
