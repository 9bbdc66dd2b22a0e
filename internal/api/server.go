package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"DoomsdayClock/internal/domain"
)

const (
	defaultNewsLimit    = 40
	maxNewsLimit        = 250
	defaultHistoryLimit = 500
	maxHistoryLimit     = 10000
)

// Service is the use case surface exposed over HTTP.
type Service interface {
	Refresh(ctx context.Context) (domain.RefreshSummary, error)
	Current(ctx context.Context) (domain.RiskReading, error)
	Latest(ctx context.Context, filter domain.FeedFilter) ([]domain.FeedEntry, error)
	History(ctx context.Context, limit int) ([]domain.RiskPoint, error)
}

// Server serves the risk read API and the manual refresh trigger.
type Server struct {
	service Service
	logger  *slog.Logger
	addr    string
	http    *http.Server
}

// NewServer binds the service to addr.
func NewServer(addr string, service Service, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Server{service: service, logger: log, addr: addr}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.health)

	v1 := r.Group("/api/v1")
	v1.GET("/risk", s.currentRisk)
	v1.POST("/refresh", s.refresh)
	v1.GET("/news", s.listNews) // ?limit=40&source=&category=&label=
	v1.GET("/history", s.listHistory)
	return r
}

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) currentRisk(c *gin.Context) {
	reading, err := s.service.Current(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, reading)
}

func (s *Server) refresh(c *gin.Context) {
	summary, err := s.service.Refresh(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) listNews(c *gin.Context) {
	limit, err := limitParam(c, defaultNewsLimit, maxNewsLimit)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	label := c.Query("label")
	if label != "" && label != domain.UnscoredLabel && domain.Label(label).Rank() < 0 {
		s.fail(c, http.StatusBadRequest, fmt.Errorf("unknown label %q", label))
		return
	}

	entries, err := s.service.Latest(c.Request.Context(), domain.FeedFilter{
		Limit:    limit,
		Source:   c.Query("source"),
		Category: c.Query("category"),
		Label:    label,
	})
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries, "count": len(entries), "limit": limit})
}

func (s *Server) listHistory(c *gin.Context) {
	limit, err := limitParam(c, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	points, err := s.service.History(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": points, "count": len(points)})
}

// limitParam reads ?limit=, substituting def for absent or non-positive
// values and clamping to ceiling.
func limitParam(c *gin.Context, def, ceiling int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if limit <= 0 {
		return def, nil
	}
	if limit > ceiling {
		return ceiling, nil
	}
	return limit, nil
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
