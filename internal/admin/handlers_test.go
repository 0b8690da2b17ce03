package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftguard/draftguard/internal/analyzer"
	"github.com/draftguard/draftguard/internal/crossdraft"
	"github.com/draftguard/draftguard/internal/flags"
	"github.com/draftguard/draftguard/internal/pairkey"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestHandler(t *testing.T) (*Handler, *MemoryStore, *gin.Engine) {
	t.Helper()

	scores := analyzer.NewMemoryStore()
	flagStore := flags.NewMemoryStore()
	pairs := crossdraft.NewMemoryStore()
	actions := NewMemoryStore()

	handler := NewHandler(scores, flagStore, pairs, actions)
	router := gin.New()
	handler.RegisterRoutes(router.Group("/v1"))

	ctx := context.Background()
	key, err := pairkey.Normalize("usr_alice", "usr_bob")
	require.NoError(t, err)

	require.NoError(t, scores.Put(ctx, &analyzer.DraftRiskScores{
		DraftID:      "dft_review1",
		Status:       analyzer.StatusAnalyzed,
		ReviewTier:   analyzer.TierUrgent,
		MaxRiskScore: 92,
		Pairs:        []analyzer.PairRiskScore{{Key: key, CompositeScore: 92}},
		AnalyzedAt:   time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, scores.Put(ctx, &analyzer.DraftRiskScores{
		DraftID:      "dft_review2",
		Status:       analyzer.StatusAnalyzed,
		ReviewTier:   analyzer.TierMonitor,
		MaxRiskScore: 55,
		AnalyzedAt:   time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC),
	}))

	agg := flags.NewAggregate("dft_review1")
	fp := agg.Pair(key)
	fp.Kind = flags.KindProximity
	fp.ProximityCount = 4
	fp.Events = []flags.FlagEvent{
		{PickNumber: 2, TriggeringUser: "usr_alice", OtherUser: "usr_bob", DetectedAt: time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)},
		{PickNumber: 5, TriggeringUser: "usr_bob", OtherUser: "usr_alice", DetectedAt: time.Date(2026, 3, 10, 11, 5, 0, 0, time.UTC)},
		{PickNumber: 8, TriggeringUser: "usr_alice", OtherUser: "usr_bob", DetectedAt: time.Date(2026, 3, 10, 11, 9, 0, 0, time.UTC)},
		{PickNumber: 11, TriggeringUser: "usr_bob", OtherUser: "usr_alice", DetectedAt: time.Date(2026, 3, 10, 11, 14, 0, 0, time.UTC)},
	}
	agg.TotalProximityEvents = 4
	agg.UniquePairsFlagged = 1
	require.NoError(t, flagStore.Put(ctx, agg))

	require.NoError(t, pairs.Put(ctx, &crossdraft.UserPairAnalysis{
		Key:                 key,
		TotalDraftsTogether: 6,
		DraftsCoLocated:     5,
		CoLocationRate:      0.83,
		OverallRiskLevel:    crossdraft.LevelCritical,
		LastDraftTogether:   time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
	}))

	return handler, actions, router
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListReviewDrafts(t *testing.T) {
	_, _, router := setupTestHandler(t)

	w := doJSON(router, http.MethodGet, "/v1/admin/review/drafts", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Drafts  []analyzer.DraftRiskScores `json:"drafts"`
		HasMore bool                       `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Drafts, 2)
	assert.Equal(t, "dft_review1", resp.Drafts[0].DraftID, "highest max risk score first")
	assert.False(t, resp.HasMore)
}

func TestListReviewDrafts_MinScoreFilter(t *testing.T) {
	_, _, router := setupTestHandler(t)

	w := doJSON(router, http.MethodGet, "/v1/admin/review/drafts?minScore=70", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Drafts []analyzer.DraftRiskScores `json:"drafts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Drafts, 1)
	assert.Equal(t, "dft_review1", resp.Drafts[0].DraftID)
}

func TestListReviewDrafts_Pagination(t *testing.T) {
	_, _, router := setupTestHandler(t)

	w := doJSON(router, http.MethodGet, "/v1/admin/review/drafts?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var first struct {
		Drafts     []analyzer.DraftRiskScores `json:"drafts"`
		NextCursor string                     `json:"next_cursor"`
		HasMore    bool                       `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	require.Len(t, first.Drafts, 1)
	assert.Equal(t, "dft_review1", first.Drafts[0].DraftID, "worst draft leads the queue")
	require.True(t, first.HasMore)
	require.NotEmpty(t, first.NextCursor)

	w = doJSON(router, http.MethodGet, "/v1/admin/review/drafts?limit=1&cursor="+first.NextCursor, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var second struct {
		Drafts  []analyzer.DraftRiskScores `json:"drafts"`
		HasMore bool                       `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	require.Len(t, second.Drafts, 1)
	assert.NotEqual(t, first.Drafts[0].DraftID, second.Drafts[0].DraftID)
	assert.False(t, second.HasMore)
}

func TestListReviewDrafts_InvalidCursor(t *testing.T) {
	_, _, router := setupTestHandler(t)

	w := doJSON(router, http.MethodGet, "/v1/admin/review/drafts?cursor=not-a-cursor", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDraftDetail(t *testing.T) {
	_, _, router := setupTestHandler(t)

	w := doJSON(router, http.MethodGet, "/v1/admin/drafts/dft_review1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp, "scores")
	assert.Contains(t, resp, "flags")

	var flagBlock struct {
		Status                  string              `json:"status"`
		TotalProximityEvents    int                 `json:"totalProximityEvents"`
		TotalSharedOriginEvents int                 `json:"totalSharedOriginEvents"`
		UniquePairsFlagged      int                 `json:"uniquePairsFlagged"`
		Pairs                   []flags.FlaggedPair `json:"pairs"`
	}
	require.NoError(t, json.Unmarshal(resp["flags"], &flagBlock))
	assert.Equal(t, 4, flagBlock.TotalProximityEvents)
	assert.Equal(t, 0, flagBlock.TotalSharedOriginEvents)
	assert.Equal(t, 1, flagBlock.UniquePairsFlagged)
	require.Len(t, flagBlock.Pairs, 1)
	require.Len(t, flagBlock.Pairs[0].Events, 4)
	assert.Equal(t, 2, flagBlock.Pairs[0].Events[0].PickNumber)
	assert.Equal(t, "usr_alice", flagBlock.Pairs[0].Events[0].TriggeringUser)
}

func TestDraftDetail_NotFound(t *testing.T) {
	_, _, router := setupTestHandler(t)

	w := doJSON(router, http.MethodGet, "/v1/admin/drafts/dft_missing99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDraftDetail_InvalidID(t *testing.T) {
	_, _, router := setupTestHandler(t)

	w := doJSON(router, http.MethodGet, "/v1/admin/drafts/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListHighRiskPairs(t *testing.T) {
	_, _, router := setupTestHandler(t)

	w := doJSON(router, http.MethodGet, "/v1/admin/pairs?minLevel=high", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Pairs []crossdraft.UserPairAnalysis `json:"pairs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Pairs, 1)
	assert.Equal(t, crossdraft.LevelCritical, resp.Pairs[0].OverallRiskLevel)
}

func TestListHighRiskPairs_InvalidLevel(t *testing.T) {
	_, _, router := setupTestHandler(t)

	w := doJSON(router, http.MethodGet, "/v1/admin/pairs?minLevel=extreme", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordAction(t *testing.T) {
	handler, actions, router := setupTestHandler(t)

	w := doJSON(router, http.MethodPost, "/v1/admin/actions", map[string]string{
		"targetType": "draft",
		"targetId":   "dft_review1",
		"adminId":    "usr_admin1",
		"action":     "suspended",
		"reason":     "confirmed co-location across six drafts",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var rec AdminAction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, ActionSuspended, rec.Action)
	assert.Equal(t, 92.0, rec.Evidence.MaxRiskScore, "evidence snapshot frozen at decision time")
	assert.Equal(t, 4, rec.Evidence.FlagEventCount)
	assert.Equal(t, 1, actions.Count())

	// Acting on a draft resolves its review.
	scores, err := handler.scores.Get(context.Background(), "dft_review1")
	require.NoError(t, err)
	assert.Equal(t, analyzer.StatusReviewed, scores.Status)
}

func TestRecordAction_ReviewedDraftLeavesQueue(t *testing.T) {
	_, _, router := setupTestHandler(t)

	w := doJSON(router, http.MethodPost, "/v1/admin/actions", map[string]string{
		"targetType": "draft",
		"targetId":   "dft_review1",
		"adminId":    "usr_admin1",
		"action":     "cleared",
		"reason":     "shared venue explained the proximity flags",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(router, http.MethodGet, "/v1/admin/review/drafts", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Drafts []analyzer.DraftRiskScores `json:"drafts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Drafts, 1)
	assert.Equal(t, "dft_review2", resp.Drafts[0].DraftID)
}

func TestRecordAction_PairEvidence(t *testing.T) {
	_, _, router := setupTestHandler(t)

	w := doJSON(router, http.MethodPost, "/v1/admin/actions", map[string]string{
		"targetType": "userPair",
		"targetId":   "usr_alice:usr_bob",
		"adminId":    "usr_admin1",
		"action":     "escalated",
		"reason":     "critical cross-draft profile",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var rec AdminAction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "critical", rec.Evidence.RiskLevel)
}

func TestRecordAction_UnknownActionRejected(t *testing.T) {
	_, actions, router := setupTestHandler(t)

	w := doJSON(router, http.MethodPost, "/v1/admin/actions", map[string]string{
		"targetType": "draft",
		"targetId":   "dft_review1",
		"adminId":    "usr_admin1",
		"action":     "deleted",
		"reason":     "remove this draft",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, actions.Count(), "rejected actions must not be persisted")
}

func TestRecordAction_Validation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing reason", map[string]string{
			"targetType": "draft", "targetId": "dft_review1",
			"adminId": "usr_admin1", "action": "cleared",
		}},
		{"bad target type", map[string]string{
			"targetType": "league", "targetId": "dft_review1",
			"adminId": "usr_admin1", "action": "cleared", "reason": "x",
		}},
		{"target id mismatch", map[string]string{
			"targetType": "user", "targetId": "dft_review1",
			"adminId": "usr_admin1", "action": "cleared", "reason": "x",
		}},
		{"reason too long", map[string]string{
			"targetType": "draft", "targetId": "dft_review1",
			"adminId": "usr_admin1", "action": "cleared",
			"reason": string(make([]byte, 1001)),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, actions, router := setupTestHandler(t)
			w := doJSON(router, http.MethodPost, "/v1/admin/actions", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, 0, actions.Count())
		})
	}
}

func TestListActions_AuditHistory(t *testing.T) {
	_, _, router := setupTestHandler(t)

	for _, action := range []string{"warned", "suspended"} {
		w := doJSON(router, http.MethodPost, "/v1/admin/actions", map[string]string{
			"targetType": "user",
			"targetId":   "usr_carol",
			"adminId":    "usr_admin1",
			"action":     action,
			"reason":     "repeat offender",
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(router, http.MethodGet, "/v1/admin/actions?targetType=user&targetId=usr_carol", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Actions []AdminAction `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Actions, 2)
	assert.Equal(t, ActionSuspended, resp.Actions[0].Action, "newest first")
}

func TestAuthMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(AuthMiddleware("s3cret"))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Admin-Secret", "wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Admin-Secret", "s3cret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
