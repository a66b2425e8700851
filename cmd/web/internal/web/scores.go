package web

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"thirdcoast.systems/youmood/internal/domain"
)

const defaultOrder = domain.LabelHappiness

// channelScores is one row of GET /api.
type channelScores struct {
	ID       string  `json:"id"`
	Title    *string `json:"title"`
	Angry    float64 `json:"angry"`
	Disgust  float64 `json:"disgust"`
	Fear     float64 `json:"fear"`
	Happy    float64 `json:"happy"`
	Neutral  float64 `json:"neutral"`
	Sad      float64 `json:"sad"`
	Surprise float64 `json:"surprise"`
	Contempt float64 `json:"contempt"`
}

func newChannelScores(ch domain.Channel) channelScores {
	var sc domain.Scores
	if ch.Scores != nil {
		sc = *ch.Scores
	}
	return channelScores{
		ID:       ch.ID,
		Title:    ch.Title,
		Angry:    sc.Get(domain.LabelAnger),
		Disgust:  sc.Get(domain.LabelDisgust),
		Fear:     sc.Get(domain.LabelFear),
		Happy:    sc.Get(domain.LabelHappiness),
		Neutral:  sc.Get(domain.LabelNeutral),
		Sad:      sc.Get(domain.LabelSadness),
		Surprise: sc.Get(domain.LabelSurprise),
		Contempt: sc.Get(domain.LabelContempt),
	}
}

// parseOrder reads order_by (a label or column name, default happy) and asc
// (default false).
func parseOrder(c echo.Context) (domain.Label, bool, error) {
	order := defaultOrder
	if raw := c.QueryParam("order_by"); raw != "" {
		l, err := domain.ParseLabel(raw)
		if err != nil {
			return "", false, echo.NewHTTPError(http.StatusBadRequest, "invalid order_by")
		}
		order = l
	}

	var asc bool
	if raw := c.QueryParam("asc"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return "", false, echo.NewHTTPError(http.StatusBadRequest, "invalid asc")
		}
		asc = v
	}
	return order, asc, nil
}

func (s *Webserver) listChannels(c echo.Context) ([]domain.Channel, domain.Label, bool, error) {
	order, asc, err := parseOrder(c)
	if err != nil {
		return nil, "", false, err
	}
	channels, err := s.store.ListChannelScores(c.Request().Context(), order, asc)
	if err != nil {
		return nil, "", false, fmt.Errorf("list channel scores: %w", err)
	}
	return channels, order, asc, nil
}

func (s *Webserver) handleScores(c echo.Context) error {
	channels, _, _, err := s.listChannels(c)
	if err != nil {
		return err
	}
	out := make([]channelScores, 0, len(channels))
	for _, ch := range channels {
		out = append(out, newChannelScores(ch))
	}
	return c.JSON(http.StatusOK, out)
}

type indexColumn struct {
	Key     string
	Name    string
	Active  bool
	NextAsc bool
}

type indexRow struct {
	Title string
	URL   string
	Cells []string
}

type indexPage struct {
	Columns []indexColumn
	Rows    []indexRow
}

// handleIndex renders the score table. Clicking the active column flips the
// sort direction; any other column sorts descending.
func (s *Webserver) handleIndex(c echo.Context) error {
	channels, order, asc, err := s.listChannels(c)
	if err != nil {
		return err
	}

	var page indexPage
	for _, l := range domain.Labels {
		active := l == order
		page.Columns = append(page.Columns, indexColumn{
			Key:     l.Column(),
			Name:    s.labelNames[l],
			Active:  active,
			NextAsc: active && !asc,
		})
	}
	for _, ch := range channels {
		row := indexRow{Title: ch.ID, URL: "https://www.youtube.com/channel/" + ch.ID}
		if ch.Title != nil && *ch.Title != "" {
			row.Title = *ch.Title
		}
		var sc domain.Scores
		if ch.Scores != nil {
			sc = *ch.Scores
		}
		for _, l := range domain.Labels {
			row.Cells = append(row.Cells, strconv.FormatFloat(sc.Get(l)*100, 'f', 1, 64)+"%")
		}
		page.Rows = append(page.Rows, row)
	}

	var buf bytes.Buffer
	if err := s.page.ExecuteTemplate(&buf, "index.html", page); err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

// handleHealth reports the stage histogram, or 503 when the store is
// unreachable.
func (s *Webserver) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	counts, err := s.store.VideoStageCounts(ctx)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	videos := make(map[string]int64, len(counts))
	for stage, n := range counts {
		videos[stage.String()] = n
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"videos": videos,
	})
}
