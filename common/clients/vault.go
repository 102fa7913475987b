package clients

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/veilflow/veilflow/common/config"
)

// VaultClient talks to the encrypted-storage service (nilDB). Records are
// encrypted server-side; the engine only ever sees plaintext values and
// opaque state keys.
type VaultClient struct {
	http    *HTTPClient
	baseURL string
	apiKey  string
	log     Logger
}

// NewVaultClient creates a storage-vault client from config
func NewVaultClient(cfg config.VaultConfig, log Logger) *VaultClient {
	return &VaultClient{
		http:    NewHTTPClient(30*time.Second, log),
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		log:     log,
	}
}

func (c *VaultClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

type vaultStoreResponse struct {
	StateKey string `json:"stateKey"`
}

type vaultReadResponse struct {
	Value interface{} `json:"value"`
}

// Store writes a record into a named collection under a key and returns
// the opaque state key referencing it
func (c *VaultClient) Store(ctx context.Context, collection, key string, value interface{}) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/collections/%s/records", c.baseURL, url.PathEscape(collection))
	body := map[string]interface{}{"key": key, "value": value}

	var resp vaultStoreResponse
	if err := c.http.DoJSON(ctx, "POST", endpoint, c.headers(), body, &resp); err != nil {
		return "", fmt.Errorf("vault store: %w", err)
	}
	if resp.StateKey == "" {
		// Older deployments identify records by collection/key only
		resp.StateKey = collection + "/" + key
	}

	return resp.StateKey, nil
}

// Read fetches and decrypts a record by collection and key
func (c *VaultClient) Read(ctx context.Context, collection, key string) (interface{}, error) {
	endpoint := fmt.Sprintf("%s/v1/collections/%s/records/%s",
		c.baseURL, url.PathEscape(collection), url.PathEscape(key))

	var resp vaultReadResponse
	if err := c.http.DoJSON(ctx, "GET", endpoint, c.headers(), nil, &resp); err != nil {
		return nil, fmt.Errorf("vault read: %w", err)
	}

	return resp.Value, nil
}
