package triggers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veilflow/veilflow/common/clients"
	"github.com/veilflow/veilflow/common/logger"
	"github.com/veilflow/veilflow/common/models"
)

type fakeFeed struct {
	timeline []clients.SocialPost
	mentions []clients.SocialPost

	timelineSince string
	mentionsSince string
}

func (f *fakeFeed) Timeline(ctx context.Context, baseURL, token, account, sinceID string) ([]clients.SocialPost, error) {
	f.timelineSince = sinceID
	return after(f.timeline, sinceID), nil
}

func (f *fakeFeed) Mentions(ctx context.Context, baseURL, token, account, sinceID string) ([]clients.SocialPost, error) {
	f.mentionsSince = sinceID
	return after(f.mentions, sinceID), nil
}

func after(posts []clients.SocialPost, sinceID string) []clients.SocialPost {
	if sinceID == "" {
		return posts
	}
	for i, p := range posts {
		if p.ID == sinceID {
			return posts[i+1:]
		}
	}
	return posts
}

func socialTrigger(connectorID uuid.UUID, config map[string]interface{}) *models.Trigger {
	return &models.Trigger{
		ID:          uuid.New(),
		Type:        models.TriggerSocialPost,
		Config:      config,
		ConnectorID: &connectorID,
		Status:      models.TriggerActive,
	}
}

func newSocialPoller(trigger *models.Trigger, feed *fakeFeed, runs *fakeRunCreator) *SocialPoller {
	connector := &models.Connector{
		ID: *trigger.ConnectorID,
		Config: map[string]interface{}{
			"baseUrl":     "https://social.example.com",
			"bearerToken": "tok",
		},
	}
	return NewSocialPoller(
		&fakeTriggerSource{triggers: []*models.Trigger{trigger}},
		&fakeWorkflowSource{workflow: &models.Workflow{ID: uuid.New(), Status: models.WorkflowPublished}},
		&fakeConnectorSource{connector: connector},
		runs, feed, logger.New("error", "text"))
}

func TestSocialPollerFiresPerNewPost(t *testing.T) {
	trigger := socialTrigger(uuid.New(), map[string]interface{}{
		"account":       "acme",
		"watchMentions": false,
	})
	feed := &fakeFeed{timeline: []clients.SocialPost{
		{ID: "p1", Author: "acme", Text: "shipping soon"},
		{ID: "p2", Author: "acme", Text: "shipped"},
	}}
	runs := &fakeRunCreator{}
	p := newSocialPoller(trigger, feed, runs)

	p.pollTrigger(context.Background(), trigger)
	require.Len(t, runs.created, 2)
	assert.Equal(t, "social-poll", runs.created[0].source)
	assert.Equal(t, "post", runs.created[0].payload["eventType"])

	post := runs.created[0].payload["post"].(map[string]interface{})
	assert.Equal(t, "p1", post["id"])
	assert.Equal(t, "acme", post["author"])
}

func TestSocialPollerWatermarkAdvances(t *testing.T) {
	trigger := socialTrigger(uuid.New(), map[string]interface{}{
		"account":       "acme",
		"watchMentions": false,
	})
	feed := &fakeFeed{timeline: []clients.SocialPost{
		{ID: "p1", Text: "one"},
		{ID: "p2", Text: "two"},
	}}
	runs := &fakeRunCreator{}
	p := newSocialPoller(trigger, feed, runs)

	p.pollTrigger(context.Background(), trigger)
	require.Len(t, runs.created, 2)

	// Second cycle asks only for posts after the watermark
	p.pollTrigger(context.Background(), trigger)
	assert.Equal(t, "p2", feed.timelineSince)
	assert.Len(t, runs.created, 2)

	feed.timeline = append(feed.timeline, clients.SocialPost{ID: "p3", Text: "three"})
	p.pollTrigger(context.Background(), trigger)
	require.Len(t, runs.created, 3)
	post := runs.created[2].payload["post"].(map[string]interface{})
	assert.Equal(t, "p3", post["id"])
}

func TestSocialPollerKeywordFilter(t *testing.T) {
	trigger := socialTrigger(uuid.New(), map[string]interface{}{
		"account":       "acme",
		"keywords":      "refund, Complaint",
		"watchMentions": false,
	})
	feed := &fakeFeed{timeline: []clients.SocialPost{
		{ID: "p1", Text: "lovely weather"},
		{ID: "p2", Text: "I want a REFUND now"},
		{ID: "p3", Text: "filing a complaint"},
	}}
	runs := &fakeRunCreator{}
	p := newSocialPoller(trigger, feed, runs)

	p.pollTrigger(context.Background(), trigger)
	require.Len(t, runs.created, 2)

	first := runs.created[0].payload["post"].(map[string]interface{})
	second := runs.created[1].payload["post"].(map[string]interface{})
	assert.Equal(t, "p2", first["id"])
	assert.Equal(t, "p3", second["id"])

	// The watermark still covers the non-matching tail
	p.pollTrigger(context.Background(), trigger)
	assert.Len(t, runs.created, 2)
}

func TestSocialPollerMentionsStream(t *testing.T) {
	trigger := socialTrigger(uuid.New(), map[string]interface{}{
		"account":       "acme",
		"watchTimeline": false,
		"watchMentions": true,
	})
	feed := &fakeFeed{mentions: []clients.SocialPost{
		{ID: "m1", Author: "customer", Text: "@acme help"},
	}}
	runs := &fakeRunCreator{}
	p := newSocialPoller(trigger, feed, runs)

	p.pollTrigger(context.Background(), trigger)
	require.Len(t, runs.created, 1)
	assert.Equal(t, "mention", runs.created[0].payload["eventType"])
}

func TestSocialPollerRequiresAccount(t *testing.T) {
	trigger := socialTrigger(uuid.New(), map[string]interface{}{
		"watchMentions": false,
	})
	feed := &fakeFeed{timeline: []clients.SocialPost{{ID: "p1", Text: "x"}}}
	runs := &fakeRunCreator{}
	p := newSocialPoller(trigger, feed, runs)

	p.pollTrigger(context.Background(), trigger)
	assert.Empty(t, runs.created)
}

func TestParseKeywords(t *testing.T) {
	assert.Nil(t, parseKeywords(""))
	assert.Equal(t, []string{"a", "b", "c"}, parseKeywords("a, b; c"))
	assert.Equal(t, []string{"refund"}, parseKeywords("Refund"))
}
