// Package dashboard serves the read-only web view of announcements, monitor
// stats and runtime telemetry, plus a websocket feed of live events.
package dashboard

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"launchwatch/config"
	"launchwatch/internal/events"
	"launchwatch/internal/metrics"
	"launchwatch/internal/models"
	"launchwatch/internal/monitor"
	"launchwatch/logger"
)

//go:embed templates/*.tmpl assets/*
var embeddedFS embed.FS

type AnnouncementLister interface {
	ListAnnouncements(ctx context.Context, limit int) ([]models.AnnouncementRecord, error)
}

type StatsReader interface {
	Snapshot() models.MonitorStats
}

type LoopStatus interface {
	Running() bool
	State() monitor.State
}

type Deps struct {
	Announcements AnnouncementLister
	Stats         StatsReader
	Loop          LoopStatus
	Bus           *events.Bus
	Prometheus    bool
}

type Server struct {
	cfg               config.DashboardConfig
	deps              Deps
	log               *logger.Log
	metricHistory     *metricHistory
	logHistory        *logHistory
	metricHandler     metrics.MetricHandlerID
	httpServer        *http.Server
	refreshIntervalMs int
	resourceSampler   *resourceSampler
}

// NewServer returns nil when the dashboard is disabled.
func NewServer(cfg config.DashboardConfig, deps Deps, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if deps.Announcements == nil || deps.Stats == nil {
		return nil, errors.New("dashboard needs an announcement lister and a stats reader")
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.TokensLimit <= 0 {
		cfg.TokensLimit = 50
	}

	mh := newMetricHistory(cfg.MetricsHistory)
	lh := newLogHistory(cfg.LogHistory)
	log.AddHook(lh)

	return &Server{
		cfg:               cfg,
		deps:              deps,
		log:               log,
		metricHistory:     mh,
		logHistory:        lh,
		metricHandler:     metrics.RegisterMetricHandler(mh.handle),
		refreshIntervalMs: int(cfg.RefreshInterval / time.Millisecond),
		resourceSampler:   newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, "/", log),
	}, nil
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}
	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.logHistory.close()
	s.resourceSampler.stop()
}

func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	tmpl := template.Must(template.New("dashboard").ParseFS(embeddedFS, "templates/index.tmpl"))
	router.SetHTMLTemplate(tmpl)
	if assetsFS, err := fs.Sub(embeddedFS, "assets"); err == nil {
		router.StaticFS("/assets", http.FS(assetsFS))
	}

	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.tmpl", gin.H{
			"AppName":           appName,
			"RefreshIntervalMs": s.refreshIntervalMs,
			"TokensLimit":       s.cfg.TokensLimit,
		})
	})
	router.GET("/healthz", s.handleHealth)
	router.GET("/api/tokens", s.handleTokens)
	router.GET("/api/stats", s.handleStats)
	router.GET("/ws", s.serveWS)

	router.GET("/api/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"metrics": s.metricHistory.snapshot()})
	})
	router.GET("/api/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"logs": s.logHistory.snapshot()})
	})
	router.GET("/api/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
	})
	if s.deps.Prometheus {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return router, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.deps.Loop != nil {
		body["monitor"] = s.deps.Loop.State().String()
		body["running"] = s.deps.Loop.Running()
	}
	c.JSON(http.StatusOK, body)
}

// handleTokens lists announcements, most recent first. ?limit= caps the
// count at the configured tokens limit.
func (s *Server) handleTokens(c *gin.Context) {
	limit := s.cfg.TokensLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "limit must be a positive integer"})
			return
		}
		if n < limit {
			limit = n
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	records, err := s.deps.Announcements.ListAnnouncements(ctx, limit)
	if err != nil {
		s.log.WithComponent("dashboard").WithError(err).Error("failed to list announcements")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to list announcements"})
		return
	}
	if records == nil {
		records = []models.AnnouncementRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tokens": records})
}

func (s *Server) handleStats(c *gin.Context) {
	snap := s.deps.Stats.Snapshot()
	body := gin.H{"success": true, "stats": snap}
	if s.deps.Loop != nil {
		body["state"] = s.deps.Loop.State().String()
	}
	c.JSON(http.StatusOK, body)
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if parsed.Host != "" {
				addr = parsed.Host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") && len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
		return "0.0.0.0" + addr
	}

	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if net.ParseIP(addr) != nil || !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}
	return addr
}
