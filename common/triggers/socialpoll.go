package triggers

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veilflow/veilflow/common/clients"
	"github.com/veilflow/veilflow/common/logger"
	"github.com/veilflow/veilflow/common/metrics"
	"github.com/veilflow/veilflow/common/models"
)

const (
	socialPollTick        = 60 * time.Second
	socialPollMinInterval = 30 * time.Second
)

// FeedSource is the social-feed surface the poller needs
type FeedSource interface {
	Timeline(ctx context.Context, baseURL, token, account, sinceID string) ([]clients.SocialPost, error)
	Mentions(ctx context.Context, baseURL, token, account, sinceID string) ([]clients.SocialPost, error)
}

// SocialPoller watches social feeds through each trigger's bearer-token
// connector and fires a run per new matching post. The last-seen post id
// is watermarked per trigger and stream.
type SocialPoller struct {
	triggers   TriggerSource
	workflows  WorkflowSource
	connectors ConnectorSource
	runs       RunCreator
	feed       FeedSource
	log        *logger.Logger

	mu         sync.Mutex
	lastPolled map[uuid.UUID]time.Time
	// trigger -> stream ("post"/"mention") -> last seen post id
	watermarks map[uuid.UUID]map[string]string
}

// NewSocialPoller creates the social-post supervisor
func NewSocialPoller(triggers TriggerSource, workflows WorkflowSource, connectors ConnectorSource, runs RunCreator, feed FeedSource, log *logger.Logger) *SocialPoller {
	return &SocialPoller{
		triggers:   triggers,
		workflows:  workflows,
		connectors: connectors,
		runs:       runs,
		feed:       feed,
		log:        log,
		lastPolled: make(map[uuid.UUID]time.Time),
		watermarks: make(map[uuid.UUID]map[string]string),
	}
}

// Start runs the supervisor until the context is cancelled
func (p *SocialPoller) Start(ctx context.Context) {
	ticker := time.NewTicker(socialPollTick)
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

// Poll runs one cycle over every active social-post trigger whose cadence
// has elapsed
func (p *SocialPoller) Poll(ctx context.Context) {
	triggers, err := p.triggers.ListActiveByType(ctx, models.TriggerSocialPost)
	if err != nil {
		p.log.Error("social poll trigger list failed", "error", err)
		return
	}

	for _, trigger := range triggers {
		if !p.due(trigger) {
			continue
		}
		p.pollTrigger(ctx, trigger)
	}
}

func (p *SocialPoller) due(trigger *models.Trigger) bool {
	interval := time.Duration(trigger.ConfigFloat("intervalSeconds", socialPollTick.Seconds())) * time.Second
	if interval < socialPollMinInterval {
		interval = socialPollMinInterval
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.lastPolled[trigger.ID]) < interval {
		return false
	}
	p.lastPolled[trigger.ID] = time.Now()
	return true
}

func (p *SocialPoller) pollTrigger(ctx context.Context, trigger *models.Trigger) {
	log := p.log.WithTriggerID(trigger.ID.String())

	if trigger.ConnectorID == nil {
		log.Warn("social trigger has no connector, skipping")
		return
	}
	connector, err := p.connectors.GetDecrypted(ctx, *trigger.ConnectorID)
	if err != nil {
		log.Error("social connector lookup failed", "error", err)
		return
	}

	token, _ := connector.Config["bearerToken"].(string)
	if token == "" {
		token, _ = connector.Config["token"].(string)
	}
	baseURL := connector.BaseURL()
	if token == "" || baseURL == "" {
		log.Warn("social connector missing baseUrl or bearer token, skipping")
		return
	}

	account := trigger.ConfigString("account", "")
	if account == "" {
		log.Warn("social trigger has no account, skipping")
		return
	}

	keywords := parseKeywords(trigger.ConfigString("keywords", ""))

	if trigger.ConfigBool("watchTimeline", true) {
		posts, err := p.feed.Timeline(ctx, baseURL, token, account, p.watermark(trigger.ID, "post"))
		if err != nil {
			log.Error("social timeline fetch failed", "error", err)
		} else {
			p.emit(ctx, log, trigger, "post", posts, keywords)
		}
	}

	if trigger.ConfigBool("watchMentions", true) {
		posts, err := p.feed.Mentions(ctx, baseURL, token, account, p.watermark(trigger.ID, "mention"))
		if err != nil {
			log.Error("social mentions fetch failed", "error", err)
		} else {
			p.emit(ctx, log, trigger, "mention", posts, keywords)
		}
	}
}

func (p *SocialPoller) emit(ctx context.Context, log *logger.Logger, trigger *models.Trigger, eventType string, posts []clients.SocialPost, keywords []string) {
	var wf *models.Workflow
	var lastID string

	for _, post := range posts {
		lastID = post.ID
		if !matchesKeywords(post.Text, keywords) {
			continue
		}

		if wf == nil {
			loaded, err := p.workflows.GetPublishedByTrigger(ctx, trigger.ID)
			if err != nil {
				log.Warn("no published workflow for social trigger", "error", err)
				return
			}
			wf = loaded
		}

		payload := map[string]interface{}{
			"eventType": eventType,
			"post": map[string]interface{}{
				"id":        post.ID,
				"author":    post.Author,
				"text":      post.Text,
				"createdAt": post.CreatedAt,
			},
		}
		if _, err := p.runs.CreateRun(ctx, wf, &trigger.ID, payload, "social-poll"); err != nil {
			log.Error("social run creation failed", "post_id", post.ID, "error", err)
			continue
		}
		metrics.TriggerFires.WithLabelValues(string(models.TriggerSocialPost)).Inc()
	}

	if lastID != "" {
		p.setWatermark(trigger.ID, eventType, lastID)
	}
}

func (p *SocialPoller) watermark(triggerID uuid.UUID, stream string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watermarks[triggerID][stream]
}

func (p *SocialPoller) setWatermark(triggerID uuid.UUID, stream, postID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watermarks[triggerID] == nil {
		p.watermarks[triggerID] = make(map[string]string)
	}
	p.watermarks[triggerID][stream] = postID
}

// parseKeywords splits a comma/semicolon/pipe separated keyword list
func parseKeywords(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})
	keywords := make([]string, 0, len(parts))
	for _, part := range parts {
		if k := strings.TrimSpace(part); k != "" {
			keywords = append(keywords, strings.ToLower(k))
		}
	}
	return keywords
}

// matchesKeywords is an any-match, case-insensitive filter; no keywords
// means everything matches
func matchesKeywords(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
