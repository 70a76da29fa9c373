// Package server exposes the control surface: job start, status polling,
// and migration statistics. It only reads orchestrator state; single-flight
// enforcement lives in the orchestrator itself.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"wp2s3/internal/config"
	"wp2s3/internal/job"
	"wp2s3/internal/ledger"
	"wp2s3/internal/metrics"
	"wp2s3/internal/progress"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Server is the control surface HTTP server.
type Server struct {
	echo   *echo.Echo
	orch   *job.Orchestrator
	ledger ledger.Store
	cfg    *config.Config
	logger *zap.Logger

	// baseCtx outlives individual requests; background runs started over
	// HTTP are bound to it, not to the request context.
	baseCtx context.Context
}

// New creates the control surface server.
func New(baseCtx context.Context, orch *job.Orchestrator, ledgerStore ledger.Store, collector *metrics.Collector, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		echo:    echo.New(),
		orch:    orch,
		ledger:  ledgerStore,
		cfg:     cfg,
		logger:  logger,
		baseCtx: baseCtx,
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())

	s.echo.GET("/api/health", s.health)
	s.echo.GET("/api/videos/pending", s.pending)
	s.echo.GET("/api/videos/uploaded", s.uploaded)
	s.echo.GET("/api/videos/stats", s.stats)
	s.echo.GET("/api/upload/status", s.uploadStatus)
	s.echo.POST("/api/upload/start", s.startUpload)
	s.echo.GET("/api/config", s.configView)
	s.echo.GET("/metrics", echo.WrapHandler(collector.Handler()))

	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Control surface listening", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status":    "healthy",
		"service":   "wp2s3",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) pending(c echo.Context) error {
	maxCount := 0
	if err := echo.QueryParamsBinder(c).Int("max_posts", &maxCount).BindError(); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("max_posts must be an integer"))
	}

	posts, err := s.orch.Pending(c.Request().Context(), maxCount)
	if err != nil {
		s.logger.Error("Failed to list pending records", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to fetch pending videos"))
	}

	if posts == nil {
		posts = []job.PendingRecord{}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":   true,
		"count":     len(posts),
		"posts":     posts,
		"s3_bucket": s.cfg.Store.Bucket,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) uploaded(c echo.Context) error {
	ids, err := s.ledger.Snapshot()
	if err != nil {
		s.logger.Error("Failed to read ledger", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to fetch uploaded videos"))
	}

	if ids == nil {
		ids = []string{}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":           true,
		"count":             len(ids),
		"uploaded_post_ids": ids,
		"timestamp":         time.Now().Format(time.RFC3339),
	})
}

func (s *Server) stats(c echo.Context) error {
	migrated, err := s.ledger.Count()
	if err != nil {
		s.logger.Error("Failed to count ledger", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to fetch stats"))
	}

	pending, err := s.orch.Pending(c.Request().Context(), 0)
	if err != nil {
		s.logger.Error("Failed to list pending records", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to fetch stats"))
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"stats": echo.Map{
			"total_uploaded":  migrated,
			"pending_uploads": len(pending),
			"s3_bucket":       s.cfg.Store.Bucket,
			"aws_region":      s.cfg.Store.Region,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) uploadStatus(c echo.Context) error {
	prog := s.orch.Progress()
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"status":  s.orch.Status(),
		"progress": echo.Map{
			"processed_bytes": prog.ProcessedBytes,
			"total_bytes":     prog.TotalBytes,
			"current_speed":   progress.FormatSpeed(prog.CurrentSpeed),
			"average_speed":   progress.FormatSpeed(prog.AverageSpeed),
		},
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

type startRequest struct {
	MaxPosts int `json:"max_posts"`
}

func (s *Server) startUpload(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	if err := s.orch.Start(s.baseCtx, req.MaxPosts); err != nil {
		if errors.Is(err, job.ErrAlreadyRunning) {
			return c.JSON(http.StatusConflict, errorBody("Upload process is already running"))
		}
		s.logger.Error("Failed to start upload", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to start upload"))
	}

	return c.JSON(http.StatusAccepted, echo.Map{
		"success":   true,
		"message":   "Upload process started",
		"max_posts": req.MaxPosts,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) configView(c echo.Context) error {
	// Credentials are deliberately not echoed back.
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"config": echo.Map{
			"wordpress_api_url": s.cfg.Source.APIURL,
			"s3_bucket_name":    s.cfg.Store.Bucket,
			"aws_region":        s.cfg.Store.Region,
			"key_prefix":        s.cfg.Migration.KeyPrefix,
			"max_records":       s.cfg.Migration.MaxRecords,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func errorBody(msg string) echo.Map {
	return echo.Map{
		"success": false,
		"error":   msg,
	}
}
