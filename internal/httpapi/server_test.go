package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatbi-labs/queryassist/internal/behavior"
	"github.com/chatbi-labs/queryassist/internal/circuitbreaker"
	"github.com/chatbi-labs/queryassist/internal/docstore"
	"github.com/chatbi-labs/queryassist/internal/embeddings"
	"github.com/chatbi-labs/queryassist/internal/health"
	"github.com/chatbi-labs/queryassist/internal/lexical"
	"github.com/chatbi-labs/queryassist/internal/orchestrator"
	"github.com/chatbi-labs/queryassist/internal/prefix"
	"github.com/chatbi-labs/queryassist/internal/ranking"
	"github.com/chatbi-labs/queryassist/internal/search"
	"github.com/chatbi-labs/queryassist/internal/vectorindex"
)

const testDim = 32

func newTestServer(t *testing.T, limiter *RateLimiter) (*Server, *circuitbreaker.RedisWrapper) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	wrapped := circuitbreaker.NewRedisWrapper(client, zap.NewNop())

	lex := lexical.NewIndex(lexical.DefaultWeights(), zap.NewNop())
	vec := vectorindex.NewIndex(testDim)
	emb, err := embeddings.NewService(embeddings.Config{Model: "test"}, embeddings.NewHashingEncoder(testDim))
	require.NoError(t, err)
	docs := docstore.NewStore(lex, vec, emb, docstore.Config{}, zap.NewNop())
	store := behavior.NewStore(wrapped, behavior.DefaultConfig(), zap.NewNop())
	searcher := search.NewSearcher(lex, vec, search.DefaultConfig(), zap.NewNop())
	ranker := ranking.NewRanker(store, ranking.DefaultConfig(), zap.NewNop())
	pe := prefix.NewEngine(lex, nil, prefix.DefaultConfig(), zap.NewNop())
	svc := orchestrator.NewService(emb, docs, store, searcher, ranker, pe, nil, orchestrator.DefaultConfig(), zap.NewNop())

	hm := health.NewManager(0, zap.NewNop())
	hm.Register(health.CheckFunc{CheckerName: "lexical", Fn: func(ctx context.Context) error { return nil }})
	hm.Register(health.CheckFunc{CheckerName: "vector", Fn: func(ctx context.Context) error { return nil }})
	hm.Register(health.CheckFunc{CheckerName: "behavior", Fn: func(ctx context.Context) error {
		return wrapped.Ping(ctx).Err()
	}})

	return NewServer(svc, hm, limiter, "test", zap.NewNop()), wrapped
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func seedDocs(t *testing.T, srv *Server) {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/documents/bulk", map[string]interface{}{
		"documents": []map[string]interface{}{
			{"text": "销售额", "keywords": []string{"销售"}},
			{"text": "销售额趋势分析", "keywords": []string{"销售"}},
			{"text": "市场分析"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAutocompleteEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	seedDocs(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/autocomplete", map[string]interface{}{
		"query": "销售", "limit": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Query       string `json:"query"`
		Suggestions []struct {
			Text   string  `json:"text"`
			Score  float64 `json:"score"`
			Source string  `json:"source"`
		} `json:"suggestions"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "销售", resp.Query)
	assert.Equal(t, len(resp.Suggestions), resp.Total)
	assert.NotEmpty(t, resp.Suggestions)
}

func TestEmptyQueryRejected(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	for _, path := range []string{"/api/v1/autocomplete", "/api/v1/similar-queries", "/api/v1/related-queries"} {
		rec := doJSON(t, srv, http.MethodPost, path, map[string]interface{}{"query": "  "})
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestLimitBounds(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	seedDocs(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/autocomplete", map[string]interface{}{
		"query": "销售", "limit": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.LessOrEqual(t, resp.Total, 1)

	for _, limit := range []int{51, -2} {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/autocomplete", map[string]interface{}{
			"query": "销售", "limit": limit,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestInvalidJSONRejected(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/autocomplete", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDocumentEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/documents", map[string]interface{}{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/documents", map[string]interface{}{"text": "销售额"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.ID)
}

func TestBulkDocumentsPartialFailure(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/documents/bulk", map[string]interface{}{
		"documents": []map[string]interface{}{
			{"text": "销售额"},
			{"text": ""},
			{"text": "市场分析"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		SuccessCount int `json:"success_count"`
		ErrorCount   int `json:"error_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.SuccessCount)
	assert.Equal(t, 1, resp.ErrorCount)
}

func TestFeedbackEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	seedDocs(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/feedback", map[string]interface{}{
		"query": "销售", "selected_suggestion": "销售额", "user_id": "u1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/feedback", map[string]interface{}{
		"query": "", "user_id": "u1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status            string `json:"status"`
		LexicalConnected  bool   `json:"lexical_connected"`
		VectorConnected   bool   `json:"vector_connected"`
		BehaviorConnected bool   `json:"behavior_connected"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.LexicalConnected)
	assert.True(t, resp.VectorConnected)
	assert.True(t, resp.BehaviorConnected)
}

func TestInfoEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "queryassist")
}

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	wrapped := circuitbreaker.NewRedisWrapper(client, zap.NewNop())
	limiter := NewRateLimiter(wrapped, 2, zap.NewNop())

	srv, _ := newTestServer(t, limiter)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := doJSON(t, srv, http.MethodGet, "/", nil)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	wrapped := circuitbreaker.NewRedisWrapper(client, zap.NewNop())
	limiter := NewRateLimiter(wrapped, 2, zap.NewNop())
	srv, _ := newTestServer(t, limiter)

	mr.Close()
	rec := doJSON(t, srv, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
