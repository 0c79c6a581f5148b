/**
 * @description
 * Thin HTTP client for the payment provider's purchase API. The provider is
 * the authority on purchase outcomes; this client only relays its typed
 * result. In an environment without provider credentials it returns the
 * STORE_REDIRECT sentinel, meaning the user must be handed to the platform
 * store rather than shown an error.
 */
package purchaseclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/glowcheck/subscription-service/internal/domain"
)

// Client calls the payment provider's purchase API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a purchase client. An empty baseURL or apiKey marks the
// provider as unconfigured.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type purchaseRequest struct {
	AppUserID string `json:"app_user_id"`
	ProductID string `json:"product_id"`
}

// Purchase submits a purchase attempt for a user and plan. Business failures
// come back inside the result; an error is returned only when the provider
// could not be reached at all.
func (c *Client) Purchase(ctx context.Context, userID, plan string) (*domain.PurchaseResult, error) {
	if c.baseURL == "" || c.apiKey == "" {
		// Unconfigured environment: hand the user to the store.
		return &domain.PurchaseResult{Success: false, Error: domain.StoreRedirectError}, nil
	}

	payload, err := json.Marshal(purchaseRequest{AppUserID: userID, ProductID: plan})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/purchases", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.PurchaseResult{
			Success: false,
			Error:   fmt.Sprintf("purchase API returned status %d", resp.StatusCode),
		}, nil
	}

	var result domain.PurchaseResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding purchase response: %w", err)
	}
	return &result, nil
}
