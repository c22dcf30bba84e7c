package watch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"

	"github.com/openmined/cardsync/internal/reconcile"
	"github.com/openmined/cardsync/internal/version"
)

// Status is the shared view of the publish loop served over HTTP.
type Status struct {
	mu         sync.RWMutex
	started    time.Time
	runs       int
	failures   int
	lastRun    time.Time
	lastReport *reconcile.Report
	lastError  string
	running    bool
}

type StatusView struct {
	Version    string            `json:"version"`
	Started    time.Time         `json:"started"`
	Running    bool              `json:"running"`
	Runs       int               `json:"runs"`
	Failures   int               `json:"failures"`
	LastRun    *time.Time        `json:"last_run,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
	LastReport *reconcile.Report `json:"last_report,omitempty"`
}

func NewStatus() *Status {
	return &Status{started: time.Now()}
}

func (s *Status) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

func (s *Status) finish(report *reconcile.Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.runs++
	s.lastRun = time.Now()
	s.lastReport = report
	s.lastError = ""
	if err != nil {
		s.failures++
		s.lastError = err.Error()
	}
}

func (s *Status) View() StatusView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view := StatusView{
		Version:    version.Short(),
		Started:    s.started,
		Running:    s.running,
		Runs:       s.runs,
		Failures:   s.failures,
		LastError:  s.lastError,
		LastReport: s.lastReport,
	}
	if !s.lastRun.IsZero() {
		lastRun := s.lastRun
		view.LastRun = &lastRun
	}
	return view
}

// StatusServer serves /health and /v1/status for the watch loop.
type StatusServer struct {
	addr   string
	server *http.Server
}

func NewStatusServer(addr string, status *Status) *StatusServer {
	return &StatusServer{
		addr: addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           SetupRoutes(status),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

func SetupRoutes(status *Status) http.Handler {
	r := gin.New()

	httpLogger := slog.Default().WithGroup("http")
	r.Use(slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	}))
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.PureJSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	v1 := r.Group("/v1")
	{
		v1.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, status.View())
		})
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	return r.Handler()
}

func (s *StatusServer) Start(ctx context.Context) error {
	slog.Info("status server start", "addr", fmt.Sprintf("http://%s", s.addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

func (s *StatusServer) Stop(ctx context.Context) error {
	slog.Info("status server stop")
	return s.server.Shutdown(ctx)
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
