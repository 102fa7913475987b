package clients

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// SocialPost is one post from a watched feed
type SocialPost struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

// SocialClient polls a bearer-token social feed API for timeline posts
// and mentions. Credentials come from the trigger's connector, so one
// client serves many accounts.
type SocialClient struct {
	http *HTTPClient
	log  Logger
}

// NewSocialClient creates a feed client
func NewSocialClient(log Logger) *SocialClient {
	return &SocialClient{
		http: NewHTTPClient(30*time.Second, log),
		log:  log,
	}
}

type feedResponse struct {
	Posts []SocialPost `json:"posts"`
}

// Timeline returns posts for an account newer than sinceID. An empty
// sinceID returns the most recent page.
func (c *SocialClient) Timeline(ctx context.Context, baseURL, token, account, sinceID string) ([]SocialPost, error) {
	endpoint := fmt.Sprintf("%s/v1/accounts/%s/timeline", baseURL, url.PathEscape(account))
	return c.fetch(ctx, endpoint, token, sinceID)
}

// Mentions returns posts mentioning an account newer than sinceID
func (c *SocialClient) Mentions(ctx context.Context, baseURL, token, account, sinceID string) ([]SocialPost, error) {
	endpoint := fmt.Sprintf("%s/v1/accounts/%s/mentions", baseURL, url.PathEscape(account))
	return c.fetch(ctx, endpoint, token, sinceID)
}

func (c *SocialClient) fetch(ctx context.Context, endpoint, token, sinceID string) ([]SocialPost, error) {
	if sinceID != "" {
		endpoint += "?since_id=" + url.QueryEscape(sinceID)
	}
	headers := map[string]string{"Authorization": "Bearer " + token}

	var resp feedResponse
	if err := c.http.DoJSON(ctx, "GET", endpoint, headers, nil, &resp); err != nil {
		return nil, fmt.Errorf("social fetch: %w", err)
	}
	return resp.Posts, nil
}
