package models

import (
	"time"

	"github.com/google/uuid"
)

// Connector is a stored external-service configuration (baseUrl, headers,
// credentials). Secret fields are encrypted at rest and never returned to
// clients in plaintext.
type Connector struct {
	ID       uuid.UUID `db:"id" json:"id"`
	TenantID string    `db:"tenant_id" json:"tenant_id"`
	Type     string    `db:"type" json:"type"`
	Name     string    `db:"name" json:"name"`

	Config map[string]interface{} `db:"config" json:"config,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// secretConfigKeys lists the connector config fields treated as secrets
var secretConfigKeys = map[string]bool{
	"apiKey":      true,
	"token":       true,
	"bearerToken": true,
	"secret":      true,
	"password":    true,
	"privateKey":  true,
}

// IsSecretConfigKey reports whether a connector config field is encrypted
// at rest and masked in API responses
func IsSecretConfigKey(key string) bool {
	return secretConfigKeys[key]
}

// BaseURL returns the connector's base URL, if configured
func (c *Connector) BaseURL() string {
	if v, ok := c.Config["baseUrl"].(string); ok {
		return v
	}
	return ""
}

// Headers returns the connector's configured headers
func (c *Connector) Headers() map[string]string {
	out := make(map[string]string)
	raw, ok := c.Config["headers"].(map[string]interface{})
	if !ok {
		return out
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
