// Package videoid parses YouTube channel identifiers and builds watch URLs.
package videoid

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var channelIDPattern = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)

// youtubeHosts are the hosts that serve youtube.com pages.
var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
}

// ValidChannelID reports whether id has the shape of a YouTube channel id.
func ValidChannelID(id string) bool {
	return channelIDPattern.MatchString(id)
}

// WatchURL returns the canonical watch page for a video id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(videoID)
}

// ParseChannel accepts a bare channel id or a /channel/<id> URL and returns
// the channel id. Handles (@name) need an API lookup and are rejected.
func ParseChannel(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if ValidChannelID(raw) {
		return raw, nil
	}

	u, err := parseLoose(raw)
	if err != nil {
		return "", err
	}
	if !youtubeHosts[normalizeHost(u.Host)] || !strings.HasPrefix(u.Path, "/channel/") {
		return "", fmt.Errorf("not a channel id or channel url: %q", raw)
	}
	id := firstPathSegment(strings.TrimPrefix(u.Path, "/channel/"))
	if !ValidChannelID(id) {
		return "", fmt.Errorf("malformed channel id: %q", id)
	}
	return id, nil
}

func parseLoose(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		return url.Parse("https://" + raw)
	}
	return u, nil
}

func normalizeHost(hostport string) string {
	h := strings.TrimSpace(strings.ToLower(hostport))
	if h == "" {
		return ""
	}
	// url.URL.Host may include port.
	if strings.Contains(h, ":") {
		if parsed, err := url.Parse("//" + h); err == nil && parsed.Hostname() != "" {
			h = parsed.Hostname()
		}
	}
	return strings.TrimSuffix(h, ".")
}

func firstPathSegment(p string) string {
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	seg, _, _ := strings.Cut(p, "/")
	return strings.TrimSpace(seg)
}
