// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/draftguard/draftguard/internal/admin"
	"github.com/draftguard/draftguard/internal/adp"
	"github.com/draftguard/draftguard/internal/analyzer"
	"github.com/draftguard/draftguard/internal/config"
	"github.com/draftguard/draftguard/internal/crossdraft"
	"github.com/draftguard/draftguard/internal/dispatch"
	"github.com/draftguard/draftguard/internal/drafts"
	"github.com/draftguard/draftguard/internal/flags"
	"github.com/draftguard/draftguard/internal/health"
	"github.com/draftguard/draftguard/internal/location"
	"github.com/draftguard/draftguard/internal/logging"
	"github.com/draftguard/draftguard/internal/metrics"
	"github.com/draftguard/draftguard/internal/pairkey"
	"github.com/draftguard/draftguard/internal/ratelimit"
	"github.com/draftguard/draftguard/internal/security"
	"github.com/draftguard/draftguard/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	pickStore    drafts.Store
	flagStore    flags.Store
	scoreStore   analyzer.Store
	pairStore    crossdraft.Store
	actionStore  admin.Store
	recorder     *flags.Recorder
	analyzer     *analyzer.Analyzer
	boards       *adp.CachedProvider
	dispatcher   *dispatch.Dispatcher
	aggregator   *crossdraft.Aggregator
	aggWorker    *crossdraft.Worker
	rateLimiter  *ratelimit.Limiter
	healthChecks *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithADPSource sets a custom board source (for testing)
func WithADPSource(source adp.Source) Option {
	return func(s *Server) {
		s.boards = adp.NewCachedProvider(source, time.Hour)
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:          cfg,
		logger:       logging.New(cfg.LogLevel, "json"),
		healthChecks: health.NewRegistry(),
	}

	// Apply options first (may set boards/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		pickStore := drafts.NewPostgresStore(db)
		if err := pickStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate pick store", "error", err)
		}
		s.pickStore = pickStore

		flagStore := flags.NewPostgresStore(db)
		if err := flagStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate flag store", "error", err)
		}
		s.flagStore = flagStore

		scoreStore := analyzer.NewPostgresStore(db)
		if err := scoreStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate score store", "error", err)
		}
		s.scoreStore = scoreStore

		pairStore := crossdraft.NewPostgresStore(db)
		if err := pairStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate pair store", "error", err)
		}
		s.pairStore = pairStore

		actionStore := admin.NewPostgresStore(db)
		if err := actionStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate admin action store", "error", err)
		}
		s.actionStore = actionStore

		s.healthChecks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		s.pickStore = drafts.NewMemoryStore()
		s.flagStore = flags.NewMemoryStore()
		s.scoreStore = analyzer.NewMemoryStore()
		s.pairStore = crossdraft.NewMemoryStore()
		s.actionStore = admin.NewMemoryStore()
	}

	// ADP board provider: remote feed when configured. Without one the
	// analyzer degrades benefit scoring to zero instead of guessing.
	if s.boards == nil {
		if cfg.ADPFeedURL != "" {
			if err := security.ValidateEndpointURL(cfg.ADPFeedURL); err != nil {
				return nil, fmt.Errorf("invalid ADP_FEED_URL: %w", err)
			}
			provider := adp.NewCachedProvider(adp.NewHTTPSource(cfg.ADPFeedURL), cfg.ADPCacheTTL)
			s.boards = provider
			s.healthChecks.Register("adp_cache", func(_ context.Context) health.Status {
				fetched, ok := provider.LastFetched()
				if !ok {
					// Lazy cache; no board yet just means nothing asked.
					return health.Status{Name: "adp_cache", Healthy: true, Detail: "not yet fetched"}
				}
				age := time.Since(fetched)
				if age > 2*cfg.ADPCacheTTL {
					return health.Status{Name: "adp_cache", Healthy: false, Detail: "board stale: " + age.Round(time.Second).String()}
				}
				return health.Status{Name: "adp_cache", Healthy: true, Detail: "age " + age.Round(time.Second).String()}
			})
			s.logger.Info("ADP feed enabled", "url", cfg.ADPFeedURL, "ttl", cfg.ADPCacheTTL)
		} else {
			s.boards = adp.NewCachedProvider(adp.NewStaticSource(nil), cfg.ADPCacheTTL)
			s.logger.Info("no ADP feed configured, benefit scoring disabled")
		}
	}

	// Post-draft analyzer
	s.analyzer = analyzer.New(s.flagStore, s.pickStore, s.scoreStore, s.boards, analyzer.Config{
		Weights: analyzer.Weights{
			Location: cfg.WeightLocation,
			Behavior: cfg.WeightBehavior,
			Benefit:  cfg.WeightBenefit,
		},
		Thresholds:        analyzer.DefaultThresholds(),
		MaxPairsPerDraft:  cfg.MaxPairsPerDraft,
		MinInclusionScore: cfg.MinInclusionScore,
	})

	// Completion dispatcher feeds completed drafts to the analyzer
	s.dispatcher = dispatch.New(func(ctx context.Context, draftID string) error {
		_, err := s.analyzer.AnalyzeDraft(ctx, draftID)
		return err
	}, 256)

	// Flag recorder runs inline in the pick path
	s.recorder = flags.NewRecorder(s.flagStore, s.dispatcher, flags.RecorderConfig{
		MaxAttempts: cfg.FlagMaxAttempts,
		RetryBase:   cfg.FlagRetryBase,
		RetryCap:    cfg.FlagRetryCap,
	})

	// Cross-draft aggregator with scheduled runs
	s.aggregator = crossdraft.New(s.scoreStore, s.pairStore, crossdraft.Config{
		Lookback:     time.Duration(cfg.LookbackDays) * 24 * time.Hour,
		Workers:      cfg.AggregatorWorkers,
		HistoryLimit: cfg.PairHistoryLimit,
	})
	s.aggWorker = crossdraft.NewWorker(s.aggregator, cfg.AggregatorInterval, s.logger)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (restrict origins in production deployments)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :draftId URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.DraftIDParamMiddleware())

	// Draft flow: picks arrive with optional location signals, and a
	// completion event seals the draft and queues it for analysis.
	v1.POST("/drafts/:draftId/picks", s.submitPick)
	v1.POST("/drafts/:draftId/complete", s.completeDraft)
	v1.GET("/drafts/:draftId/picks", s.listPicks)
	v1.GET("/drafts/:draftId/flags", s.getFlags)
	v1.GET("/drafts/:draftId/scores", s.getScores)

	// Cross-draft pair profile lookup
	v1.GET("/pairs/:user1/:user2", s.getPairAnalysis)

	// Admin review surface, guarded by the shared secret
	adminHandler := admin.NewHandler(s.scoreStore, s.flagStore, s.pairStore, s.actionStore)
	adminGroup := v1.Group("")
	adminGroup.Use(admin.AuthMiddleware(s.cfg.AdminSecret))
	adminHandler.RegisterRoutes(adminGroup)
	adminGroup.POST("/admin/aggregation/runs", s.runAggregation)
}

// pickRequest is the body for POST /v1/drafts/:draftId/picks.
type pickRequest struct {
	PickNumber int              `json:"pickNumber"`
	UserID     string           `json:"userId"`
	PlayerID   string           `json:"playerId"`
	PickedAt   time.Time        `json:"pickedAt"`
	Location   *location.Signal `json:"location,omitempty"`
}

// submitPick records a pick and folds its location signal into the
// draft's flag aggregate. A flag write failure never fails the pick:
// the pick is the product, the flag is the evidence.
func (s *Server) submitPick(c *gin.Context) {
	ctx := c.Request.Context()
	draftID := c.Param("draftId")

	var req pickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	verrs := validation.Validate(
		validation.Required("userId", req.UserID),
		validation.Required("playerId", req.PlayerID),
		validation.ValidUserID("userId", req.UserID),
		validation.ValidPlayerID("playerId", req.PlayerID),
	)
	if req.PickNumber <= 0 {
		verrs = append(verrs, validation.ValidationError{
			Field: "pickNumber", Message: "must be a positive integer",
		})
	}
	if len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "violations": verrs})
		return
	}

	pickedAt := req.PickedAt
	if pickedAt.IsZero() {
		pickedAt = time.Now()
	}

	pick := &drafts.Pick{
		DraftID:    draftID,
		PickNumber: req.PickNumber,
		UserID:     req.UserID,
		PlayerID:   req.PlayerID,
		PickedAt:   pickedAt,
	}
	if err := s.pickStore.UpsertPick(ctx, pick); err != nil {
		logging.L(ctx).Error("failed to record pick", "draft_id", draftID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to record pick",
		})
		return
	}

	flagRecorded := false
	if req.Location != nil {
		err := s.recorder.RecordSignal(ctx, draftID, req.PickNumber, req.UserID, req.Location)
		switch {
		case err == nil:
			flagRecorded = !req.Location.Empty()
		case errors.Is(err, flags.ErrDraftCompleted):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "draft_completed",
				"message": "Draft is completed; no further flags are accepted",
			})
			return
		default:
			// Pick is already durable; losing one signal degrades
			// evidence, not correctness.
			logging.L(ctx).Warn("failed to record flag signal",
				"draft_id", draftID,
				"user_id", req.UserID,
				"error", err,
			)
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"pick":         pick,
		"flagRecorded": flagRecorded,
	})
}

// completeDraft seals a draft's flag aggregate and queues it for
// post-draft analysis. Safe to call repeatedly.
func (s *Server) completeDraft(c *gin.Context) {
	ctx := c.Request.Context()
	draftID := c.Param("draftId")

	if err := s.recorder.MarkCompleted(ctx, draftID); err != nil {
		logging.L(ctx).Error("failed to complete draft", "draft_id", draftID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to complete draft",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"draftId": draftID,
		"status":  "completed",
	})
}

func (s *Server) listPicks(c *gin.Context) {
	ctx := c.Request.Context()
	draftID := c.Param("draftId")

	picks, err := s.pickStore.ListByDraft(ctx, draftID)
	if err != nil {
		if errors.Is(err, drafts.ErrDraftNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "draft_not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"draftId": draftID,
		"picks":   picks,
		"count":   len(picks),
	})
}

func (s *Server) getFlags(c *gin.Context) {
	ctx := c.Request.Context()
	draftID := c.Param("draftId")

	agg, err := s.flagStore.Get(ctx, draftID)
	if err != nil {
		if errors.Is(err, flags.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "flags_not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, agg)
}

func (s *Server) getScores(c *gin.Context) {
	ctx := c.Request.Context()
	draftID := c.Param("draftId")

	scores, err := s.scoreStore.Get(ctx, draftID)
	if err != nil {
		if errors.Is(err, analyzer.ErrScoresNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "scores_not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, scores)
}

func (s *Server) getPairAnalysis(c *gin.Context) {
	ctx := c.Request.Context()

	user1 := c.Param("user1")
	user2 := c.Param("user2")
	if !validation.IsValidUserID(user1) || !validation.IsValidUserID(user2) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}

	key, err := pairkey.Normalize(user1, user2)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_pair", "message": err.Error()})
		return
	}

	analysis, err := s.pairStore.Get(ctx, key)
	if err != nil {
		if errors.Is(err, crossdraft.ErrAnalysisNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "pair_not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, analysis)
}

// sweepCompletionsBatch bounds how many completed drafts one sweep
// inspects.
const sweepCompletionsBatch = 1000

// sweepCompletions re-enqueues completed drafts that have no risk
// scores yet. The dispatcher drops completion events when its queue is
// full; the sweep is the catch-up path that makes analysis of every
// completed draft eventual.
func (s *Server) sweepCompletions(ctx context.Context) {
	ids, err := s.flagStore.ListByStatus(ctx, flags.StatusCompleted, sweepCompletionsBatch)
	if err != nil {
		s.logger.Warn("completion sweep failed", "error", err)
		return
	}

	requeued := 0
	for _, id := range ids {
		_, err := s.scoreStore.Get(ctx, id)
		if err == nil {
			continue // already analyzed
		}
		if !errors.Is(err, analyzer.ErrScoresNotFound) {
			s.logger.Warn("completion sweep score lookup failed", "draft_id", id, "error", err)
			continue
		}
		if s.dispatcher.Enqueue(id) {
			requeued++
		}
	}
	if requeued > 0 {
		s.logger.Info("completion sweep requeued drafts", "count", requeued)
	}
}

// runAggregation triggers a full cross-draft analysis run outside the
// worker schedule.
func (s *Server) runAggregation(c *gin.Context) {
	report, err := s.aggregator.RunFullAnalysis(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("aggregation run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "aggregation_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthChecks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "DraftGuard",
		"description": "Draft collusion detection for fantasy sports",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start completion dispatcher
	go s.dispatcher.Start(runCtx)

	// Start cross-draft aggregation worker
	go s.aggWorker.Start(runCtx)

	// Catch-up sweep for completion events the dispatcher dropped
	sweepEvery := s.cfg.SweepInterval
	if sweepEvery <= 0 {
		sweepEvery = config.DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.sweepCompletions(runCtx)
			}
		}
	}()

	// Sample connection-pool and runtime stats
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (dispatcher, worker)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Drain the completion queue before closing storage
	if s.dispatcher != nil {
		s.dispatcher.Stop()
		s.logger.Info("completion dispatcher stopped")
	}

	// Stop aggregation worker
	if s.aggWorker != nil {
		s.aggWorker.Stop()
		s.logger.Info("aggregation worker stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
