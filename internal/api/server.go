// Package api exposes the matching engine over HTTP: batch ranking,
// single-trial screening, match history and a websocket stream that emits
// results trial by trial.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/cache"
	"github.com/trial-match-server/internal/config"
	"github.com/trial-match-server/internal/domain"
	"github.com/trial-match-server/internal/history"
	"github.com/trial-match-server/internal/middleware"
	"github.com/trial-match-server/internal/service"
)

const defaultTrialLimit = 100

// ProfileStore is the stored-profile surface the server exposes. The
// Postgres profile repository satisfies it.
type ProfileStore interface {
	domain.ProfileSource
	Upsert(ctx context.Context, profile *domain.RawPatientProfile) error
	Delete(ctx context.Context, userID string) error
}

// Dependencies bundles the collaborators the server routes requests to.
// Cache, History, Trials and Profiles are optional; nil disables the
// feature.
type Dependencies struct {
	Normalizer domain.Normalizer
	Matcher    *service.MatcherService
	Screener   *service.ScreenerService
	Cache      *cache.MatchCache
	History    history.Store
	Trials     domain.TrialSource
	Profiles   ProfileStore
}

// Server represents the HTTP server
type Server struct {
	configManager *config.Manager
	log           *logrus.Logger
	deps          Dependencies
	router        *gin.Engine
	server        *http.Server
	upgrader      websocket.Upgrader
}

// NewServer creates a new HTTP server instance
func NewServer(configManager *config.Manager, log *logrus.Logger, deps Dependencies) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.AuditLogger())
	router.Use(corsMiddleware())
	if cfg.Server.RateLimitRPS > 0 {
		router.Use(middleware.RateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))
	}

	server := &Server{
		configManager: configManager,
		log:           log,
		deps:          deps,
		router:        router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The REST surface is already open cross-origin; the stream
			// follows the same policy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Router exposes the configured handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.log.WithField("addr", addr).Info("HTTP server started")

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.router.Group("/api/v1")

	// The stream stays open for the life of the batch, so the per-request
	// deadline applies to the REST routes only.
	v1.GET("/match/stream", s.handleMatchStream)

	rest := v1.Group("", middleware.RequestTimeout(s.configManager.GetServerConfig().RequestTimeout))
	{
		rest.POST("/match", s.handleMatch)
		rest.POST("/screen", s.handleScreen)
		rest.GET("/trials/:id", s.handleGetTrial)
		rest.GET("/matches/:user_id", s.handleMatchHistory)
		rest.DELETE("/matches/:user_id/:trial_id", s.handleDeleteMatch)
		rest.PUT("/profiles/:user_id", s.handlePutProfile)
		rest.GET("/profiles/:user_id", s.handleGetProfile)
		rest.DELETE("/profiles/:user_id", s.handleDeleteProfile)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	payload := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}
	if s.deps.Cache != nil {
		payload["cache"] = s.deps.Cache.Stats()
	}
	c.JSON(http.StatusOK, payload)
}

// MatchRequest is the batch ranking request body. The patient comes inline
// or, when only user_id is set, from the stored profiles. Trials may be
// supplied inline; when absent the server pulls recruiting trials from its
// trial source, narrowed to condition when one is given.
type MatchRequest struct {
	Patient   *domain.RawPatientProfile `json:"patient,omitempty"`
	UserID    string                    `json:"user_id,omitempty"`
	Trials    []*domain.RawTrial        `json:"trials,omitempty"`
	Condition string                    `json:"condition,omitempty"`
	Limit     int                       `json:"limit,omitempty"`
}

// ScreenRequest is the single-trial screening request body.
type ScreenRequest struct {
	Patient *domain.RawPatientProfile `json:"patient" binding:"required"`
	Trial   *domain.RawTrial          `json:"trial" binding:"required"`
}

// handleMatch ranks trials for a patient.
func (s *Server) handleMatch(c *gin.Context) {
	var req MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	result, patient, err := s.rank(c.Request.Context(), &req)
	if err != nil {
		s.renderError(c, err)
		return
	}

	s.recordHistory(c.Request.Context(), patient.UserID, result.Matches)

	c.JSON(http.StatusOK, result)
}

// handleScreen produces the detailed single-trial assessment.
func (s *Server) handleScreen(c *gin.Context) {
	var req ScreenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	assessment, err := s.deps.Screener.Screen(req.Patient, req.Trial)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, assessment)
}

// handleGetTrial returns a single raw trial from the trial source.
func (s *Server) handleGetTrial(c *gin.Context) {
	if s.deps.Trials == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "trial source not configured"})
		return
	}

	trial, err := s.deps.Trials.GetTrial(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, trial)
}

// handleMatchHistory lists a user's stored match records, newest first.
func (s *Server) handleMatchHistory(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "match history not configured"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	records, err := s.deps.History.ListByUser(c.Request.Context(), c.Param("user_id"), limit, offset)
	if err != nil {
		s.renderError(c, err)
		return
	}
	if records == nil {
		records = []*history.MatchRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": c.Param("user_id"),
		"count":   len(records),
		"records": records,
	})
}

// handleDeleteMatch removes a stored match record.
func (s *Server) handleDeleteMatch(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "match history not configured"})
		return
	}

	if err := s.deps.History.Delete(c.Request.Context(), c.Param("user_id"), c.Param("trial_id")); err != nil {
		s.renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// handlePutProfile stores or replaces a patient profile.
func (s *Server) handlePutProfile(c *gin.Context) {
	if s.deps.Profiles == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile store not configured"})
		return
	}

	var profile domain.RawPatientProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		s.renderError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}
	// The path parameter wins over any user_id in the body.
	profile.UserID = c.Param("user_id")

	if err := s.deps.Profiles.Upsert(c.Request.Context(), &profile); err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

// handleGetProfile returns a stored patient profile.
func (s *Server) handleGetProfile(c *gin.Context) {
	if s.deps.Profiles == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile store not configured"})
		return
	}

	profile, err := s.deps.Profiles.GetProfile(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

// handleDeleteProfile removes a stored patient profile.
func (s *Server) handleDeleteProfile(c *gin.Context) {
	if s.deps.Profiles == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile store not configured"})
		return
	}

	if err := s.deps.Profiles.Delete(c.Request.Context(), c.Param("user_id")); err != nil {
		s.renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// streamMessage is one websocket frame on the match stream.
type streamMessage struct {
	Type  string                  `json:"type"`
	Match *domain.MatchResult     `json:"match,omitempty"`
	Error *domain.TrialMatchError `json:"error,omitempty"`
	Count int                     `json:"count,omitempty"`
}

// handleMatchStream upgrades to a websocket, reads one match request and
// emits results one trial at a time, ending with a complete frame.
func (s *Server) handleMatchStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	var req MatchRequest
	if err := conn.ReadJSON(&req); err != nil {
		conn.WriteJSON(streamMessage{Type: "error", Error: &domain.TrialMatchError{Error: "invalid request: " + err.Error()}})
		return
	}
	raw, err := s.resolvePatient(c.Request.Context(), &req)
	if err != nil {
		conn.WriteJSON(streamMessage{Type: "error", Error: &domain.TrialMatchError{Error: err.Error()}})
		return
	}

	patient, err := s.deps.Normalizer.NormalizePatient(raw)
	if err != nil {
		conn.WriteJSON(streamMessage{Type: "error", Error: &domain.TrialMatchError{Error: err.Error()}})
		return
	}

	rawTrials, err := s.resolveTrials(c.Request.Context(), &req)
	if err != nil {
		conn.WriteJSON(streamMessage{Type: "error", Error: &domain.TrialMatchError{Error: err.Error()}})
		return
	}

	var sent []*domain.MatchResult
	for _, raw := range rawTrials {
		match, err := s.scoreOne(c.Request.Context(), patient, raw)
		if errors.Is(err, errNotRankable) {
			s.log.WithField("trial_id", raw.ID).Debug("Skipping non-recruiting trial in batch match")
			continue
		}
		if err != nil {
			conn.WriteJSON(streamMessage{Type: "trial_error", Error: &domain.TrialMatchError{TrialID: raw.ID, Error: err.Error()}})
			continue
		}
		if err := conn.WriteJSON(streamMessage{Type: "match_result", Match: match}); err != nil {
			s.log.WithError(err).Debug("Websocket client went away")
			return
		}
		sent = append(sent, match)
	}

	s.recordHistoryPtr(c.Request.Context(), patient.UserID, sent)
	conn.WriteJSON(streamMessage{Type: "complete", Count: len(sent)})
}

// rank normalizes the request, scores every trial through the cache and
// returns the sorted batch result.
func (s *Server) rank(ctx context.Context, req *MatchRequest) (*domain.RankResult, *domain.PatientProfile, error) {
	raw, err := s.resolvePatient(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	patient, err := s.deps.Normalizer.NormalizePatient(raw)
	if err != nil {
		return nil, nil, err
	}

	rawTrials, err := s.resolveTrials(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	result := &domain.RankResult{Matches: []domain.MatchResult{}}
	for _, raw := range rawTrials {
		match, err := s.scoreOne(ctx, patient, raw)
		if errors.Is(err, errNotRankable) {
			s.log.WithField("trial_id", raw.ID).Debug("Skipping non-recruiting trial in batch match")
			continue
		}
		if err != nil {
			result.Errors = append(result.Errors, domain.TrialMatchError{TrialID: raw.ID, Error: err.Error()})
			continue
		}
		result.Matches = append(result.Matches, *match)
	}

	sort.SliceStable(result.Matches, func(i, j int) bool {
		if result.Matches[i].MatchScore != result.Matches[j].MatchScore {
			return result.Matches[i].MatchScore > result.Matches[j].MatchScore
		}
		return result.Matches[i].TrialID < result.Matches[j].TrialID
	})

	return result, patient, nil
}

// errNotRankable marks a trial that normalized fine but is not open to
// enrollment; batch paths skip it silently instead of reporting an error.
var errNotRankable = errors.New("trial is not recruiting")

// scoreOne normalizes and scores a single trial, consulting the match cache
// when one is configured. Returns errNotRankable for non-recruiting trials.
func (s *Server) scoreOne(ctx context.Context, patient *domain.PatientProfile, raw *domain.RawTrial) (*domain.MatchResult, error) {
	trial, err := s.deps.Normalizer.NormalizeTrial(raw)
	if err != nil {
		return nil, err
	}
	if !trial.Status.Rankable() {
		return nil, errNotRankable
	}

	var key string
	if s.deps.Cache != nil {
		key = s.deps.Cache.Key(patient, trial, s.configManager.ScoringPolicy())
		if match, hit := s.deps.Cache.Get(ctx, key); hit {
			return match, nil
		}
	}

	match, err := s.deps.Matcher.ScoreTrial(patient, trial)
	if err != nil {
		return nil, err
	}

	if s.deps.Cache != nil {
		s.deps.Cache.Set(ctx, key, match)
	}
	return match, nil
}

// resolvePatient returns the request's inline patient or loads the stored
// profile for user_id.
func (s *Server) resolvePatient(ctx context.Context, req *MatchRequest) (*domain.RawPatientProfile, error) {
	if req.Patient != nil {
		return req.Patient, nil
	}
	if req.UserID == "" {
		return nil, domain.NewValidationError("patient", "patient or user_id is required", nil)
	}
	if s.deps.Profiles == nil {
		return nil, domain.NewValidationError("user_id", "no profile store configured", nil)
	}
	return s.deps.Profiles.GetProfile(ctx, req.UserID)
}

// resolveTrials returns the request's inline trials or, when absent, the
// recruiting trials from the configured source.
// conditionSource is the optional narrowing a trial source can offer; the
// Postgres trial repository implements it.
type conditionSource interface {
	ListByCondition(ctx context.Context, condition string, limit int) ([]*domain.RawTrial, error)
}

func (s *Server) resolveTrials(ctx context.Context, req *MatchRequest) ([]*domain.RawTrial, error) {
	if len(req.Trials) > 0 {
		return req.Trials, nil
	}
	if s.deps.Trials == nil {
		return nil, domain.NewValidationError("trials", "no trials supplied and no trial source configured", nil)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultTrialLimit
	}

	if req.Condition != "" {
		source, ok := s.deps.Trials.(conditionSource)
		if !ok {
			return nil, domain.NewValidationError("condition", "trial source does not support condition search", nil)
		}
		return source.ListByCondition(ctx, req.Condition, limit)
	}
	return s.deps.Trials.ListRecruiting(ctx, limit)
}

// recordHistory persists batch results. History failures are logged, never
// surfaced; the match response is already computed.
func (s *Server) recordHistory(ctx context.Context, userID string, matches []domain.MatchResult) {
	if s.deps.History == nil {
		return
	}
	for i := range matches {
		record := history.FromMatchResult(userID, &matches[i])
		if err := s.deps.History.Save(ctx, record); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"user_id":  userID,
				"trial_id": matches[i].TrialID,
			}).Warn("Failed to record match history")
		}
	}
}

func (s *Server) recordHistoryPtr(ctx context.Context, userID string, matches []*domain.MatchResult) {
	if s.deps.History == nil {
		return
	}
	for _, match := range matches {
		if err := s.deps.History.Save(ctx, history.FromMatchResult(userID, match)); err != nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("Failed to record match history")
		}
	}
}

// renderError maps domain errors onto HTTP statuses.
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := domain.ErrCodeInternalServer
	switch {
	case domain.IsValidationError(err):
		status = http.StatusBadRequest
		code = domain.ErrCodeValidation
	case domain.IsNotFound(err):
		status = http.StatusNotFound
		code = domain.ErrCodeNotFound
	}

	c.JSON(status, domain.NewAPIError(code, err.Error(), "", c.GetString("correlation_id")))
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "Content-Length")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
