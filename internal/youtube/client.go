// Package youtube is a minimal YouTube Data API v3 client: it lists the most
// recent uploads of a channel.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"thirdcoast.systems/youmood/internal/resilience"
)

const defaultBaseURL = "https://youtube.googleapis.com/youtube/v3"

// MaxResults is the largest page the search endpoint returns.
const MaxResults = 50

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 600 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// SearchItem is one video entry as returned by the search endpoint.
type SearchItem struct {
	VideoID      string
	PublishedAt  time.Time
	Title        string
	ChannelID    string
	ChannelTitle string
}

type searchResponse struct {
	Items []struct {
		ID struct {
			Kind    string `json:"kind"`
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			PublishedAt  time.Time `json:"publishedAt"`
			ChannelID    string    `json:"channelId"`
			Title        string    `json:"title"`
			ChannelTitle string    `json:"channelTitle"`
		} `json:"snippet"`
	} `json:"items"`
}

// StatusError is returned for any non-200 response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("youtube: expected status 200 instead of %d: %s", e.StatusCode, e.Body)
}

// LatestVideos returns up to max of the channel's most recent videos, newest
// first. The search endpoint can return videos from other channels; callers
// filter on ChannelID.
func (c *Client) LatestVideos(ctx context.Context, channelID string, max int) ([]SearchItem, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, fmt.Errorf("channelID is required")
	}
	if max <= 0 || max > MaxResults {
		max = MaxResults
	}

	u, err := url.Parse(c.baseURL + "/search")
	if err != nil {
		return nil, err
	}

	q := u.Query()
	q.Set("part", "snippet")
	q.Set("channelId", channelID)
	q.Set("maxResults", strconv.Itoa(max))
	q.Set("order", "date")
	q.Set("type", "video")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-goog-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.Mark(resilience.KindTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		return nil, resilience.Mark(resilience.KindTransient, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		})
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("youtube: decode search response: %w", err)
	}

	items := make([]SearchItem, 0, len(out.Items))
	for _, it := range out.Items {
		if it.ID.VideoID == "" {
			continue
		}
		items = append(items, SearchItem{
			VideoID:      it.ID.VideoID,
			PublishedAt:  it.Snippet.PublishedAt.UTC(),
			Title:        it.Snippet.Title,
			ChannelID:    it.Snippet.ChannelID,
			ChannelTitle: it.Snippet.ChannelTitle,
		})
	}
	return items, nil
}
