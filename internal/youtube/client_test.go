package youtube

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/youmood/internal/resilience"
)

const searchBody = `{
  "kind": "youtube#searchListResponse",
  "items": [
    {
      "id": {"kind": "youtube#video", "videoId": "vid1"},
      "snippet": {
        "publishedAt": "2024-05-30T10:00:00Z",
        "channelId": "UC1",
        "title": "First",
        "channelTitle": "Channel One"
      }
    },
    {
      "id": {"kind": "youtube#video", "videoId": "vid2"},
      "snippet": {
        "publishedAt": "2024-05-29T10:00:00Z",
        "channelId": "UC-other",
        "title": "Other",
        "channelTitle": "Someone Else"
      }
    },
    {
      "id": {"kind": "youtube#channel"},
      "snippet": {"publishedAt": "2024-05-28T10:00:00Z", "channelId": "UC1"}
    }
  ]
}`

func TestLatestVideos(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-goog-api-key"))
		q := r.URL.Query()
		assert.Equal(t, "snippet", q.Get("part"))
		assert.Equal(t, "UC1", q.Get("channelId"))
		assert.Equal(t, "50", q.Get("maxResults"))
		assert.Equal(t, "date", q.Get("order"))
		assert.Equal(t, "video", q.Get("type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", time.Second)
	items, err := c.LatestVideos(context.Background(), "UC1", 0)
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Equal(t, SearchItem{
		VideoID:      "vid1",
		PublishedAt:  time.Date(2024, 5, 30, 10, 0, 0, 0, time.UTC),
		Title:        "First",
		ChannelID:    "UC1",
		ChannelTitle: "Channel One",
	}, items[0])
	require.Equal(t, "UC-other", items[1].ChannelID)
}

func TestLatestVideos_NonOKIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"quotaExceeded"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second)
	_, err := c.LatestVideos(context.Background(), "UC1", 50)
	require.Error(t, err)
	require.Equal(t, resilience.KindTransient, resilience.KindOf(err))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusForbidden, se.StatusCode)
	require.Contains(t, se.Body, "quotaExceeded")
}

func TestLatestVideos_RequiresChannel(t *testing.T) {
	c := NewClient("", "secret", time.Second)
	_, err := c.LatestVideos(context.Background(), " ", 10)
	require.Error(t, err)
}
