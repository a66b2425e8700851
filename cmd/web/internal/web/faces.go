package web

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"thirdcoast.systems/youmood/internal/domain"
	"thirdcoast.systems/youmood/internal/videoid"
)

// etagCache memoizes weak ETags for face images. Entries are invalidated
// when the file's size or modtime changes, which a replaced face always does.
type etagCache struct {
	mu      sync.RWMutex
	entries map[string]etagEntry
}

type etagEntry struct {
	size    int64
	modTime time.Time
	etag    string
}

func newETagCache() *etagCache {
	return &etagCache{entries: make(map[string]etagEntry)}
}

func (c *etagCache) ETag(path string, info os.FileInfo) string {
	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		return e.etag
	}

	etag := fmt.Sprintf(`W/"%x-%x"`, info.ModTime().UnixNano(), info.Size())
	c.mu.Lock()
	c.entries[path] = etagEntry{size: info.Size(), modTime: info.ModTime(), etag: etag}
	c.mu.Unlock()
	return etag
}

// handleFace serves the representative face of a channel for one label.
func (s *Webserver) handleFace(c echo.Context) error {
	channelID := c.Param("channel")
	if !videoid.ValidChannelID(channelID) {
		return echo.ErrNotFound
	}
	label, err := domain.ParseLabel(strings.TrimSuffix(c.Param("label"), ".jpg"))
	if err != nil {
		return echo.ErrNotFound
	}

	path := s.faces.Path(channelID, label)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return echo.ErrNotFound
	}

	etag := s.etags.ETag(path, info)
	if inm := c.Request().Header.Get("If-None-Match"); inm != "" && strings.TrimSpace(inm) == etag {
		return c.NoContent(http.StatusNotModified)
	}

	// Faces are replaced in place whenever a better one is found.
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=300")
	c.Response().Header().Set("ETag", etag)

	f, err := os.Open(path)
	if err != nil {
		return echo.ErrNotFound
	}
	defer f.Close()
	c.Response().Header().Set(echo.HeaderContentType, "image/jpeg")
	http.ServeContent(c.Response(), c.Request(), info.Name(), info.ModTime(), f)
	return nil
}
