package triggers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veilflow/veilflow/common/clients"
	"github.com/veilflow/veilflow/common/logger"
	"github.com/veilflow/veilflow/common/metrics"
	"github.com/veilflow/veilflow/common/models"
	"github.com/veilflow/veilflow/common/paths"
)

const (
	httpPollTick        = 30 * time.Second
	httpPollMinInterval = 10 * time.Second

	defaultMaxBatch = 50
	maxBatchCap     = 200
)

// HTTPFetcher is the outbound-request surface the poller needs
type HTTPFetcher interface {
	Exchange(ctx context.Context, method, url string, headers map[string]string, body interface{}) (*clients.ActionResponse, error)
}

// HTTPPoller fetches configured endpoints on a cadence and fires a run
// per new or changed record
type HTTPPoller struct {
	triggers   TriggerSource
	workflows  WorkflowSource
	connectors ConnectorSource
	runs       RunCreator
	fetch      HTTPFetcher
	log        *logger.Logger

	mu         sync.Mutex
	lastPolled map[uuid.UUID]time.Time
	// record identity -> content hash, per trigger
	recordHashes map[uuid.UUID]map[string]string
}

// NewHTTPPoller creates the http-poll supervisor
func NewHTTPPoller(triggers TriggerSource, workflows WorkflowSource, connectors ConnectorSource, runs RunCreator, fetch HTTPFetcher, log *logger.Logger) *HTTPPoller {
	return &HTTPPoller{
		triggers:     triggers,
		workflows:    workflows,
		connectors:   connectors,
		runs:         runs,
		fetch:        fetch,
		log:          log,
		lastPolled:   make(map[uuid.UUID]time.Time),
		recordHashes: make(map[uuid.UUID]map[string]string),
	}
}

// Start runs the supervisor until the context is cancelled
func (p *HTTPPoller) Start(ctx context.Context) {
	ticker := time.NewTicker(httpPollTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one cycle over every active http-poll trigger whose cadence
// has elapsed
func (p *HTTPPoller) Poll(ctx context.Context) {
	triggers, err := p.triggers.ListActiveByType(ctx, models.TriggerHTTPPoll)
	if err != nil {
		p.log.Error("http poll trigger list failed", "error", err)
		return
	}

	for _, trigger := range triggers {
		if !p.due(trigger) {
			continue
		}
		p.pollTrigger(ctx, trigger)
	}
}

// due honours the per-trigger cadence with a 10s floor
func (p *HTTPPoller) due(trigger *models.Trigger) bool {
	interval := time.Duration(trigger.ConfigFloat("intervalSeconds", httpPollTick.Seconds())) * time.Second
	if interval < httpPollMinInterval {
		interval = httpPollMinInterval
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.lastPolled[trigger.ID]) < interval {
		return false
	}
	p.lastPolled[trigger.ID] = time.Now()
	return true
}

func (p *HTTPPoller) pollTrigger(ctx context.Context, trigger *models.Trigger) {
	log := p.log.WithTriggerID(trigger.ID.String())

	url, headers, err := p.requestFor(ctx, trigger)
	if err != nil {
		log.Warn("http poll misconfigured, skipping", "error", err)
		return
	}

	resp, err := p.fetch.Exchange(ctx, "GET", url, headers, nil)
	if err != nil {
		log.Error("http poll fetch failed", "url", url, "error", err)
		return
	}
	if resp.Status < 200 || resp.Status > 299 {
		log.Warn("http poll endpoint returned error status", "url", url, "status", resp.Status)
		return
	}

	records := extractRecords(resp.Body, trigger.ConfigString("recordsPath", ""))
	if records == nil {
		log.Warn("http poll response yielded no record array", "url", url)
		return
	}

	maxBatch := int(trigger.ConfigFloat("maxBatch", defaultMaxBatch))
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}
	if maxBatch > maxBatchCap {
		maxBatch = maxBatchCap
	}

	var wf *models.Workflow
	fired := 0
	for _, record := range records {
		if fired >= maxBatch {
			break
		}
		if !recordPassesCondition(trigger, record) {
			continue
		}
		if trigger.ConfigBool("changeDetection", true) && !p.changed(trigger, record) {
			continue
		}

		if wf == nil {
			wf, err = p.workflows.GetPublishedByTrigger(ctx, trigger.ID)
			if err != nil {
				log.Warn("no published workflow for http-poll trigger", "error", err)
				return
			}
		}

		payload := map[string]interface{}{"record": record}
		if _, err := p.runs.CreateRun(ctx, wf, &trigger.ID, payload, "http-poll"); err != nil {
			log.Error("http poll run creation failed", "error", err)
			continue
		}
		fired++
		metrics.TriggerFires.WithLabelValues(string(models.TriggerHTTPPoll)).Inc()
	}

	if fired > 0 {
		log.Info("http poll fired runs", "url", url, "count", fired)
	}
}

// requestFor composes the poll URL and headers: connector headers first,
// trigger headers overriding
func (p *HTTPPoller) requestFor(ctx context.Context, trigger *models.Trigger) (string, map[string]string, error) {
	url := trigger.ConfigString("url", "")
	headers := make(map[string]string)

	if trigger.ConnectorID != nil {
		connector, err := p.connectors.GetDecrypted(ctx, *trigger.ConnectorID)
		if err != nil {
			return "", nil, fmt.Errorf("connector lookup: %w", err)
		}
		for k, v := range connector.Headers() {
			headers[k] = v
		}
		if base := connector.BaseURL(); base != "" && !strings.HasPrefix(url, "http") {
			url = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(url, "/")
		}
	}

	if raw, ok := trigger.Config["headers"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	if url == "" {
		return "", nil, fmt.Errorf("http-poll trigger has no url")
	}
	return url, headers, nil
}

// extractRecords pulls the record array out of a response body: via
// recordsPath when configured, otherwise the body itself must be an array
func extractRecords(body interface{}, recordsPath string) []interface{} {
	root := body
	if recordsPath != "" {
		v, found := paths.LookupIn(body, recordsPath)
		if !found {
			return nil
		}
		root = v
	}
	records, ok := root.([]interface{})
	if !ok {
		return nil
	}
	return records
}

// recordPassesCondition applies the optional per-record gate
func recordPassesCondition(trigger *models.Trigger, record interface{}) bool {
	field := trigger.ConfigString("conditionField", "")
	operator := trigger.ConfigString("conditionOperator", "")
	if field == "" || operator == "" {
		return true
	}

	value, found := paths.LookupIn(record, field)
	expected := trigger.Config["conditionValue"]

	switch operator {
	case "exists":
		return found
	case "not_exists":
		return !found
	}
	if !found {
		return false
	}

	switch operator {
	case "equals":
		return fmt.Sprintf("%v", value) == fmt.Sprintf("%v", expected)
	case "not_equals":
		return fmt.Sprintf("%v", value) != fmt.Sprintf("%v", expected)
	case "contains":
		return strings.Contains(fmt.Sprintf("%v", value), fmt.Sprintf("%v", expected))
	case "not_contains":
		return !strings.Contains(fmt.Sprintf("%v", value), fmt.Sprintf("%v", expected))
	case "gt", "lt", "gte", "lte":
		a, aok := toFloat(value)
		b, bok := toFloat(expected)
		if !aok || !bok {
			return false
		}
		switch operator {
		case "gt":
			return a > b
		case "lt":
			return a < b
		case "gte":
			return a >= b
		default:
			return a <= b
		}
	default:
		return false
	}
}

// changed computes the record's identity and content hash and reports
// whether the content differs from what was seen before
func (p *HTTPPoller) changed(trigger *models.Trigger, record interface{}) bool {
	identity := recordIdentity(trigger, record)
	hash := recordHash(trigger, record)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recordHashes[trigger.ID] == nil {
		p.recordHashes[trigger.ID] = make(map[string]string)
	}
	if p.recordHashes[trigger.ID][identity] == hash {
		return false
	}
	p.recordHashes[trigger.ID][identity] = hash
	return true
}

// recordIdentity resolves recordIdPath, falling back to a digest of the
// whole record
func recordIdentity(trigger *models.Trigger, record interface{}) string {
	if idPath := trigger.ConfigString("recordIdPath", ""); idPath != "" {
		if v, found := paths.LookupIn(record, idPath); found {
			return fmt.Sprintf("%v", v)
		}
	}
	return digest(record)
}

// recordHash digests either the configured watchFields or the full record
func recordHash(trigger *models.Trigger, record interface{}) string {
	fields, ok := trigger.Config["watchFields"].([]interface{})
	if !ok || len(fields) == 0 {
		return digest(record)
	}

	watched := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		field, ok := f.(string)
		if !ok {
			continue
		}
		if v, found := paths.LookupIn(record, field); found {
			watched[field] = v
		}
	}
	return digest(watched)
}

// digest is a stable content hash: json.Marshal sorts map keys
func digest(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
