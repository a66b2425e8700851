package web

import (
	"context"
	"html/template"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"thirdcoast.systems/youmood/internal/domain"
	"thirdcoast.systems/youmood/internal/emotion"
	"thirdcoast.systems/youmood/internal/metrics"
	"thirdcoast.systems/youmood/static"
)

// Store is the read side of the work store.
type Store interface {
	ListChannelScores(ctx context.Context, orderBy domain.Label, asc bool) ([]domain.Channel, error)
	VideoStageCounts(ctx context.Context) (map[domain.Stage]int64, error)
}

type Webserver struct {
	*echo.Echo
	store   Store
	faces   *emotion.DiskFaceStore
	metrics *metrics.Metrics
	page    *template.Template
	etags   *etagCache

	// labelNames are the table headers, e.g. "Happy".
	labelNames map[domain.Label]string
}

func NewWebserver(store Store, faces *emotion.DiskFaceStore, m *metrics.Metrics) (*Webserver, error) {
	page, err := template.ParseFS(static.FS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	title := cases.Title(language.English)
	names := make(map[domain.Label]string, len(domain.Labels))
	for _, l := range domain.Labels {
		names[l] = title.String(l.Column())
	}

	s := &Webserver{
		Echo:       echo.New(),
		store:      store,
		faces:      faces,
		metrics:    m,
		page:       page,
		etags:      newETagCache(),
		labelNames: names,
	}
	s.setupMiddleware()
	s.registerRoutes()
	return s, nil
}

func (s *Webserver) setupMiddleware() {
	s.HideBanner = true
	s.HidePort = true
	s.Use(middleware.Recover())
	s.Use(middleware.RequestID())
	s.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/faces/:channel/:label"
		},
	}))
	s.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz" || c.Path() == "/metrics"
		},
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			slog.Info("request", fields...)
			return nil
		},
	}))
}

func (s *Webserver) registerRoutes() {
	s.GET("/", s.handleIndex)
	s.GET("/api", s.handleScores)
	s.GET("/faces/:channel/:label", s.handleFace)
	s.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}
}
