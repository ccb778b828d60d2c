package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragpp/ragpp/internal/config"
	"github.com/ragpp/ragpp/internal/factstore"
	"github.com/ragpp/ragpp/internal/gate"
	"github.com/ragpp/ragpp/internal/judge"
	"github.com/ragpp/ragpp/internal/metastore"
	"github.com/ragpp/ragpp/internal/metrics"
	"github.com/ragpp/ragpp/internal/pipeline"
	"github.com/ragpp/ragpp/internal/rerank"
	"github.com/ragpp/ragpp/internal/solver"
	"github.com/ragpp/ragpp/internal/vectorindex"
	"github.com/ragpp/ragpp/pkg/capability/stub"
)

const testDimension = 16

func newTestServer(t *testing.T) *Server {
	t.Helper()

	index, err := vectorindex.New(vectorindex.DefaultConfig(testDimension))
	require.NoError(t, err)
	meta, err := metastore.New(context.Background(), nil)
	require.NoError(t, err)
	facts, err := factstore.New(factstore.DefaultConfig(testDimension))
	require.NoError(t, err)

	embedder := stub.NewEmbedder(testDimension)
	llm := stub.NewLanguageModel()
	var reranker rerank.Reranker = rerank.IdentityReranker{}

	solverPool, err := solver.New(solver.Config{NSolvers: 1, TSolver: time.Second, TPool: 2 * time.Second}, llm)
	require.NoError(t, err)

	jdg := judge.New(embedder)
	reg := metrics.New()

	cfg := config.NewConfig()
	cfg.Evidence.TauEvidence = 0
	cfg.Timeouts.Embed = time.Second
	cfg.Timeouts.Search = time.Second
	cfg.Timeouts.Request = 5 * time.Second

	app := pipeline.New(cfg, index, meta, facts, reranker, embedder, solverPool, jdg, reg)
	return New(app, nil)
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleQuery_EmptyCorpusReturnsRefusal(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/query", pipeline.QueryRequest{Query: "anything"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp pipeline.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, gate.RefusalAnswer, resp.Answer)
}

func TestHandleQuery_MalformedBodyReturns400(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQuery_EmptyQueryReturns400(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/query", pipeline.QueryRequest{Query: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIndexThenQuery(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/index", pipeline.IndexRequest{
		DocID: "doc1",
		Text:  "Paris is the capital of France.",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var indexResp pipeline.IndexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &indexResp))
	assert.True(t, indexResp.OK)
	assert.Equal(t, "doc1", indexResp.DocID)

	rec = doRequest(t, srv, http.MethodPost, "/query", pipeline.QueryRequest{Query: "What is the capital of France?"})
	require.Equal(t, http.StatusOK, rec.Code)

	var queryResp pipeline.QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queryResp))
	assert.NotEqual(t, gate.RefusalAnswer, queryResp.Answer)
	require.Len(t, queryResp.Citations, 1)
	assert.Equal(t, "doc1", queryResp.Citations[0].DocID)
}

func TestHandleIndex_MissingFieldsReturns400(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/index", pipeline.IndexRequest{DocID: "", Text: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminKillBlocksQueriesUntilReleased(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/admin/kill", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/query", pipeline.QueryRequest{Query: "anything"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/admin/release", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/query", pipeline.QueryRequest{Query: "anything"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminClearCacheAndStats(t *testing.T) {
	srv := newTestServer(t)

	doRequest(t, srv, http.MethodPost, "/index", pipeline.IndexRequest{DocID: "doc1", Text: "Paris is the capital of France."})
	doRequest(t, srv, http.MethodPost, "/query", pipeline.QueryRequest{Query: "What is the capital of France?"})

	rec := doRequest(t, srv, http.MethodGet, "/admin/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats pipeline.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Greater(t, stats.Cache.Count, 0)

	rec = doRequest(t, srv, http.MethodPost, "/admin/clear-cache", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/admin/stats", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.Cache.Count)
}

func TestHandleListFacts(t *testing.T) {
	srv := newTestServer(t)

	doRequest(t, srv, http.MethodPost, "/index", pipeline.IndexRequest{DocID: "doc1", Text: "Paris is the capital of France."})
	doRequest(t, srv, http.MethodPost, "/query", pipeline.QueryRequest{Query: "What is the capital of France?"})

	rec := doRequest(t, srv, http.MethodGet, "/facts", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Facts []factView `json:"facts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Facts, 1)
	assert.NotEmpty(t, body.Facts[0].Answer)

	rec = doRequest(t, srv, http.MethodGet, "/facts?limit=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/facts?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFactsStats(t *testing.T) {
	srv := newTestServer(t)

	doRequest(t, srv, http.MethodPost, "/index", pipeline.IndexRequest{DocID: "doc1", Text: "Paris is the capital of France."})
	doRequest(t, srv, http.MethodPost, "/query", pipeline.QueryRequest{Query: "What is the capital of France?"})

	rec := doRequest(t, srv, http.MethodGet, "/facts/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats factstore.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Greater(t, stats.Count, 0)
}
