package admin

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/draftguard/draftguard/internal/analyzer"
	"github.com/draftguard/draftguard/internal/crossdraft"
	"github.com/draftguard/draftguard/internal/flags"
	"github.com/draftguard/draftguard/internal/idgen"
	"github.com/draftguard/draftguard/internal/logging"
	"github.com/draftguard/draftguard/internal/metrics"
	"github.com/draftguard/draftguard/internal/pagination"
	"github.com/draftguard/draftguard/internal/pairkey"
	"github.com/draftguard/draftguard/internal/validation"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100

	// maxDetailPairs bounds the flagged-pair list in a draft detail
	// payload.
	maxDetailPairs = 50
)

// Handler provides the admin review HTTP endpoints.
type Handler struct {
	scores  analyzer.Store
	flags   flags.Store
	pairs   crossdraft.Store
	actions Store
}

// NewHandler creates an admin handler over the review stores.
func NewHandler(scores analyzer.Store, flagStore flags.Store, pairs crossdraft.Store, actions Store) *Handler {
	return &Handler{
		scores:  scores,
		flags:   flagStore,
		pairs:   pairs,
		actions: actions,
	}
}

// AuthMiddleware requires the X-Admin-Secret header to match secret.
// An empty secret disables the check (development mode only; config
// validation refuses an empty secret in production).
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// RegisterRoutes sets up admin routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/admin/review/drafts", h.listReviewDrafts)
	r.GET("/admin/drafts/:draftId", h.draftDetail)
	r.GET("/admin/pairs", h.listHighRiskPairs)
	r.POST("/admin/actions", h.recordAction)
	r.GET("/admin/actions", h.listActions)
}

// pageParams parses limit and cursor query params.
func pageParams(c *gin.Context) (limit int, cursor *pagination.Cursor, ok bool) {
	limit = defaultPageSize
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return 0, nil, false
		}
		if parsed > maxPageSize {
			parsed = maxPageSize
		}
		limit = parsed
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
		return 0, nil, false
	}
	return limit, cursor, true
}

// listReviewDrafts returns analyzed drafts at or above a minimum max
// risk score, highest score first.
func (h *Handler) listReviewDrafts(c *gin.Context) {
	minScore := 50.0
	if s := c.Query("minScore"); s != "" {
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil || parsed < 0 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_min_score"})
			return
		}
		minScore = parsed
	}

	limit := defaultPageSize
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		if parsed > maxPageSize {
			parsed = maxPageSize
		}
		limit = parsed
	}
	cursor, err := pagination.DecodeScore(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
		return
	}

	var afterScore float64
	var afterID string
	if cursor != nil {
		afterScore = cursor.Score
		afterID = cursor.ID
	}

	items, err := h.scores.ListForReview(c.Request.Context(), minScore, afterScore, afterID, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list drafts", "message": err.Error()})
		return
	}

	page, next, hasMore := pagination.ComputeScorePage(items, limit, func(s *analyzer.DraftRiskScores) (float64, string) {
		return s.MaxRiskScore, s.DraftID
	})

	c.JSON(http.StatusOK, gin.H{
		"drafts":      page,
		"count":       len(page),
		"next_cursor": next,
		"has_more":    hasMore,
	})
}

// draftDetail returns one draft's scores plus its flag summary. Pair
// lists are bounded and raw location payloads are never included.
func (h *Handler) draftDetail(c *gin.Context) {
	draftID := c.Param("draftId")
	if !validation.IsValidDraftID(draftID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_draft_id"})
		return
	}

	scores, err := h.scores.Get(c.Request.Context(), draftID)
	if err != nil && !errors.Is(err, analyzer.ErrScoresNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load scores", "message": err.Error()})
		return
	}

	agg, err := h.flags.Get(c.Request.Context(), draftID)
	if err != nil && !errors.Is(err, flags.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load flags", "message": err.Error()})
		return
	}

	if scores == nil && agg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
		return
	}

	resp := gin.H{"draftId": draftID}
	if scores != nil {
		resp["scores"] = scores
	}
	if agg != nil {
		flagged := make([]*flags.FlaggedPair, 0, len(agg.Pairs))
		for _, fp := range agg.Pairs {
			flagged = append(flagged, fp)
			if len(flagged) >= maxDetailPairs {
				break
			}
		}
		resp["flags"] = gin.H{
			"status":                  agg.Status,
			"totalProximityEvents":    agg.TotalProximityEvents,
			"totalSharedOriginEvents": agg.TotalSharedOriginEvents,
			"uniquePairsFlagged":      agg.UniquePairsFlagged,
			"pairs":                   flagged,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// listHighRiskPairs returns pair analyses at or above a minimum risk
// level, most recent draft-together first.
func (h *Handler) listHighRiskPairs(c *gin.Context) {
	minLevel := crossdraft.LevelHigh
	if s := c.Query("minLevel"); s != "" {
		parsed, ok := crossdraft.ParseRiskLevel(s)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_min_level"})
			return
		}
		minLevel = parsed
	}

	limit, cursor, ok := pageParams(c)
	if !ok {
		return
	}

	var before time.Time
	var beforeKey string
	if cursor != nil {
		before = cursor.CreatedAt
		beforeKey = cursor.ID
	}

	items, err := h.pairs.ListByMinLevel(c.Request.Context(), minLevel, before, beforeKey, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pairs", "message": err.Error()})
		return
	}

	page, next, hasMore := pagination.ComputePage(items, limit, func(a *crossdraft.UserPairAnalysis) (time.Time, string) {
		return a.LastDraftTogether, a.Key.String()
	})

	c.JSON(http.StatusOK, gin.H{
		"pairs":       page,
		"count":       len(page),
		"next_cursor": next,
		"has_more":    hasMore,
	})
}

// actionRequest is the body for recording an admin decision.
type actionRequest struct {
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`
	AdminID    string `json:"adminId"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
	Notes      string `json:"notes"`
}

// recordAction validates and appends an AdminAction. All validation
// runs before any persistence; invalid input writes nothing.
func (h *Handler) recordAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	verrs := validation.Validate(
		validation.Required("targetType", req.TargetType),
		validation.Required("targetId", req.TargetID),
		validation.Required("adminId", req.AdminID),
		validation.Required("action", req.Action),
		validation.Required("reason", req.Reason),
		validation.MaxLength("reason", req.Reason, validation.MaxReasonLength),
		validation.MaxLength("notes", req.Notes, validation.MaxNotesLength),
		validation.ValidUserID("adminId", req.AdminID),
	)

	targetType, typeOK := ParseTargetType(req.TargetType)
	if req.TargetType != "" && !typeOK {
		verrs = append(verrs, validation.ValidationError{
			Field: "targetType", Message: "must be one of: draft, userPair, user",
		})
	}
	if typeOK && req.TargetID != "" && !targetType.ValidTargetID(req.TargetID) {
		verrs = append(verrs, validation.ValidationError{
			Field: "targetId", Message: "does not match the expected format for " + req.TargetType,
		})
	}
	action, actionOK := ParseAction(req.Action)
	if req.Action != "" && !actionOK {
		verrs = append(verrs, validation.ValidationError{
			Field: "action", Message: "must be one of: cleared, warned, suspended, banned, escalated",
		})
	}

	if len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "violations": verrs})
		return
	}

	record := &AdminAction{
		ID:         idgen.WithPrefix("act_"),
		TargetType: targetType,
		TargetID:   req.TargetID,
		AdminID:    req.AdminID,
		Action:     action,
		Reason:     req.Reason,
		Notes:      req.Notes,
		Evidence:   h.snapshotEvidence(c, targetType, req.TargetID),
		CreatedAt:  time.Now(),
	}

	if err := h.actions.Append(c.Request.Context(), record); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record action", "message": err.Error()})
		return
	}

	// A recorded decision on a draft resolves its review. Best effort:
	// the audit record is already durable, so a failed transition only
	// leaves the draft in the queue.
	if targetType == TargetDraft {
		if err := h.scores.MarkReviewed(c.Request.Context(), req.TargetID); err != nil &&
			!errors.Is(err, analyzer.ErrScoresNotFound) {
			logging.L(c.Request.Context()).Warn("failed to mark draft reviewed",
				"draft_id", req.TargetID, "error", err)
		}
	}

	metrics.AdminActionsTotal.WithLabelValues(string(action)).Inc()
	c.JSON(http.StatusCreated, record)
}

// snapshotEvidence freezes a bounded summary of the target's current
// risk state into the audit record. Lookup failures leave the snapshot
// empty; they never block the decision.
func (h *Handler) snapshotEvidence(c *gin.Context, targetType TargetType, targetID string) EvidenceSnapshot {
	var snap EvidenceSnapshot
	ctx := c.Request.Context()

	switch targetType {
	case TargetDraft:
		if scores, err := h.scores.Get(ctx, targetID); err == nil {
			snap.MaxRiskScore = scores.MaxRiskScore
			snap.PairCount = len(scores.Pairs)
		}
		if agg, err := h.flags.Get(ctx, targetID); err == nil {
			snap.FlagEventCount = agg.TotalEvents()
		}
	case TargetUserPair:
		if key, err := pairkey.Parse(targetID); err == nil {
			if analysis, err := h.pairs.Get(ctx, key); err == nil {
				snap.RiskLevel = string(analysis.OverallRiskLevel)
				snap.PairCount = analysis.TotalDraftsTogether
			}
		}
	}
	return snap
}

// listActions returns the audit history for one target, newest first.
func (h *Handler) listActions(c *gin.Context) {
	targetType, ok := ParseTargetType(c.Query("targetType"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_target_type"})
		return
	}
	targetID := c.Query("targetId")
	if !targetType.ValidTargetID(targetID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_target_id"})
		return
	}

	limit, cursor, ok := pageParams(c)
	if !ok {
		return
	}

	var before time.Time
	var beforeID string
	if cursor != nil {
		before = cursor.CreatedAt
		beforeID = cursor.ID
	}

	items, err := h.actions.ListByTarget(c.Request.Context(), targetType, targetID, before, beforeID, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list actions", "message": err.Error()})
		return
	}

	page, next, hasMore := pagination.ComputePage(items, limit, func(a *AdminAction) (time.Time, string) {
		return a.CreatedAt, a.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"actions":     page,
		"count":       len(page),
		"next_cursor": next,
		"has_more":    hasMore,
	})
}
