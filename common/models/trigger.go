package models

import (
	"time"

	"github.com/google/uuid"
)

// TriggerType identifies the external event source of a trigger
type TriggerType string

const (
	TriggerWebhook      TriggerType = "webhook"
	TriggerForgeWebhook TriggerType = "forge-webhook"
	TriggerCron         TriggerType = "cron"
	TriggerChainMemo    TriggerType = "chain-memo-watch"
	TriggerHTTPPoll     TriggerType = "http-poll"
	TriggerSocialPost   TriggerType = "social-post"
)

// TriggerStatus represents whether a trigger fires
type TriggerStatus string

const (
	TriggerActive   TriggerStatus = "active"
	TriggerInactive TriggerStatus = "inactive"
)

// Trigger converts external events into runs of a bound workflow
type Trigger struct {
	ID       uuid.UUID   `db:"id" json:"id"`
	TenantID string      `db:"tenant_id" json:"tenant_id"`
	Type     TriggerType `db:"type" json:"type"`

	// Parsed trigger config (cron expression, watch address, poll URL, ...)
	Config map[string]interface{} `db:"config" json:"config,omitempty"`

	ConnectorID *uuid.UUID    `db:"connector_id" json:"connector_id,omitempty"`
	Status      TriggerStatus `db:"status" json:"status"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ConfigString reads a string config field with a default
func (t *Trigger) ConfigString(key, def string) string {
	if v, ok := t.Config[key].(string); ok && v != "" {
		return v
	}
	return def
}

// ConfigFloat reads a numeric config field with a default
func (t *Trigger) ConfigFloat(key string, def float64) float64 {
	switch v := t.Config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// ConfigBool reads a boolean config field with a default
func (t *Trigger) ConfigBool(key string, def bool) bool {
	if v, ok := t.Config[key].(bool); ok {
		return v
	}
	return def
}
