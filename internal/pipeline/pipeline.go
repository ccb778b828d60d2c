// Package pipeline implements the answer pipeline (C8): the orchestrator
// that drives a query through cache lookup, retrieval, reranking, the
// evidence gate, the solver pool, and the judge, wiring together every
// other component package plus the kill switch and metrics registry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ragpp/ragpp/internal/apperr"
	"github.com/ragpp/ragpp/internal/chunk"
	"github.com/ragpp/ragpp/internal/config"
	"github.com/ragpp/ragpp/internal/factstore"
	"github.com/ragpp/ragpp/internal/gate"
	"github.com/ragpp/ragpp/internal/judge"
	"github.com/ragpp/ragpp/internal/metastore"
	"github.com/ragpp/ragpp/internal/metrics"
	"github.com/ragpp/ragpp/internal/rerank"
	"github.com/ragpp/ragpp/internal/solver"
	"github.com/ragpp/ragpp/internal/vectorindex"
	"github.com/ragpp/ragpp/pkg/capability"
)

// chunkKeySeparator joins a citation's doc_id and chunk_id into the single
// string key the vector index and metadata store key documents by; neither
// owns a native notion of a chunk within a document.
const chunkKeySeparator = "#"

func chunkKey(docID string, chunkIdx int) string {
	return docID + chunkKeySeparator + strconv.Itoa(chunkIdx)
}

// splitChunkKey reverses chunkKey. Keys produced before chunking existed
// (or for documents that chunked down to a single passage under the old
// whole-document behavior) have no separator; those are treated as
// chunk 0 of themselves.
func splitChunkKey(key string) (docID string, chunkIdx int) {
	idx := strings.LastIndex(key, chunkKeySeparator)
	if idx < 0 {
		return key, 0
	}
	n, err := strconv.Atoi(key[idx+1:])
	if err != nil {
		return key, 0
	}
	return key[:idx], n
}

// App wires the vector index, metadata store, facts store, reranker,
// solver pool, and judge into the query state machine described by the
// answer pipeline. It owns no long-lived state of its own beyond the
// kill switch and the in-flight single-flight map.
type App struct {
	cfg *config.Config

	index    *vectorindex.Index
	meta     *metastore.Store
	facts    *factstore.Store
	reranker rerank.Reranker
	embedder capability.Embedder
	solvers  *solver.Pool
	judge    *judge.Judge
	metrics  *metrics.Registry
	chunker  chunk.Chunker

	killed atomic.Bool
	sf     singleflight.Group
}

// New constructs an App from already-initialized components. Documents are
// split into passages with a markdown-aware chunker before indexing.
func New(
	cfg *config.Config,
	index *vectorindex.Index,
	meta *metastore.Store,
	facts *factstore.Store,
	reranker rerank.Reranker,
	embedder capability.Embedder,
	solvers *solver.Pool,
	jdg *judge.Judge,
	reg *metrics.Registry,
) *App {
	return &App{
		cfg:      cfg,
		index:    index,
		meta:     meta,
		facts:    facts,
		reranker: reranker,
		embedder: embedder,
		solvers:  solvers,
		judge:    jdg,
		metrics:  reg,
		chunker:  chunk.NewMarkdownChunker(),
	}
}

// TriggerKill sets the kill switch: new requests are rejected with
// SERVICE_UNAVAILABLE; in-flight requests are allowed to complete.
func (a *App) TriggerKill() { a.killed.Store(true) }

// ReleaseKill clears the kill switch.
func (a *App) ReleaseKill() { a.killed.Store(false) }

// Killed reports the current kill switch state.
func (a *App) Killed() bool { return a.killed.Load() }

// ClearCache empties the facts store.
func (a *App) ClearCache() {
	a.facts.Clear()
	a.metrics.SetCacheSize(0)
}

// Stats is the snapshot returned by the admin stats operation.
type Stats struct {
	Cache   factstore.Stats
	Metrics metrics.Snapshot
}

// GetStats reports the current cache and metrics snapshots.
func (a *App) GetStats() Stats {
	return Stats{Cache: a.facts.Stats(), Metrics: a.metrics.Snapshot()}
}

// ListFacts returns up to limit cached facts, most-recently-accessed
// first (the C3 list(limit) operation, §4.3/§6.3).
func (a *App) ListFacts(limit int) []*factstore.Fact {
	return a.facts.List(limit)
}

// IndexDocument splits a document into passages, embeds and stores each
// one, and reports how many chunks it produced (the Index API, §6.2).
// Each stored passage gets its own chunk_id (its position within the
// document), so citations can point at the passage that was actually
// retrieved rather than always at chunk 0 of a whole-document blob.
func (a *App) IndexDocument(ctx context.Context, req IndexRequest) (*IndexResponse, error) {
	if req.DocID == "" || req.Text == "" {
		return nil, apperr.InvalidInput("doc_id and text are required", nil)
	}

	chunks, err := a.chunker.Chunk(&chunk.DocumentInput{DocID: req.DocID, Content: []byte(req.Text)})
	if err != nil {
		return nil, apperr.InvalidInput(fmt.Sprintf("chunk document: %v", err), err)
	}
	if len(chunks) == 0 {
		return nil, apperr.InvalidInput("document produced no chunks", nil)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embedCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeouts.Embed)
	defer cancel()
	embeddings, err := a.embedder.EmbedBatch(embedCtx, texts)
	if err != nil {
		return nil, wrapUpstreamErr("embed", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, apperr.Internal("embed batch returned wrong count", fmt.Errorf("want %d, got %d", len(chunks), len(embeddings)))
	}

	items := make([]vectorindex.BatchItem, len(chunks))
	for i, c := range chunks {
		items[i] = vectorindex.BatchItem{DocID: chunkKey(req.DocID, i), Embedding: embeddings[i]}
	}
	result := a.index.AddBatch(ctx, items)
	if result.Failed > 0 {
		return nil, apperr.Internal("index chunk batch", fmt.Errorf("%d of %d chunks failed: %v", result.Failed, result.Total, result.Errors))
	}

	for i, c := range chunks {
		doc := &metastore.Document{DocID: chunkKey(req.DocID, i), Text: c.Content}
		for k, v := range req.Metadata {
			doc.UserMetadata = setMetadata(doc.UserMetadata, k, metastore.StringValue(v))
			doc.MetadataOrder = append(doc.MetadataOrder, k)
		}
		for k, v := range c.Metadata {
			doc.UserMetadata = setMetadata(doc.UserMetadata, k, metastore.StringValue(v))
			doc.MetadataOrder = append(doc.MetadataOrder, k)
		}
		if err := a.meta.Put(ctx, doc); err != nil {
			return nil, err
		}
	}

	a.metrics.SetDocuments(a.meta.Count())
	return &IndexResponse{OK: true, DocID: req.DocID, Chunks: len(chunks)}, nil
}

func setMetadata(m map[string]metastore.UserValue, k string, v metastore.UserValue) map[string]metastore.UserValue {
	if m == nil {
		m = make(map[string]metastore.UserValue)
	}
	m[k] = v
	return m
}

var defaultRequestDefaults = requestDefaults{
	topK:                config.TopK,
	enableVerification:  true,
	enableFuzzyCache:    true,
	confidenceThreshold: 0.70,
	fuzzyThreshold:      0.85,
}

// Answer drives one query through the full state machine: CACHE_LOOKUP,
// and on a miss EMBED_QUERY, RETRIEVE, RERANK, GATE, SOLVE, JUDGE,
// CACHE_WRITE.
func (a *App) Answer(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if a.Killed() {
		return nil, apperr.ServiceUnavailable()
	}
	if req.Query == "" {
		return nil, apperr.InvalidInput("query must not be empty", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeouts.Request)
	defer cancel()

	start := time.Now()
	a.metrics.IncQueries()

	rr := req.withDefaults(defaultRequestDefaults)

	// The exact tier needs no embedding, so an exact hit returns before
	// EMBED_QUERY runs.
	lookup, err := a.facts.Lookup(ctx, rr.Query, nil)
	if err != nil {
		return nil, a.classifyStageErr("cache_lookup", err)
	}

	var queryEmbedding []float32
	if !lookup.Found {
		embedCtx, embedCancel := context.WithTimeout(ctx, a.cfg.Timeouts.Embed)
		queryEmbedding, err = apperr.RetryWithResult(embedCtx, apperr.DefaultUpstreamRetryConfig(1), func() ([]float32, error) {
			return a.embedder.Embed(embedCtx, rr.Query)
		})
		embedCancel()
		if err != nil {
			return nil, a.classifyStageErr("embed", err)
		}

		lookup, err = a.facts.Lookup(ctx, rr.Query, queryEmbedding)
		if err != nil {
			return nil, a.classifyStageErr("cache_lookup", err)
		}
	}
	if lookup.Found && (lookup.MatchType == factstore.MatchExact || rr.EnableFuzzyCache) {
		if lookup.MatchType == factstore.MatchFuzzy && lookup.Similarity < rr.FuzzyThreshold {
			// Below this request's fuzzy bar: treat as a miss.
		} else {
			a.metrics.IncCacheHit(string(lookup.MatchType))
			a.metrics.ObserveConfidence(float64(lookup.Fact.Confidence))
			a.metrics.ObserveLatency(metrics.StageTotal, time.Since(start))
			return cachedResponse(lookup, start), nil
		}
	}

	resp, _, err := a.solveUncached(ctx, rr, queryEmbedding, start)
	return resp, err
}

// solveUncached runs RETRIEVE through CACHE_WRITE, coalescing concurrent
// identical questions through a single-flight group keyed by the
// normalized query text.
func (a *App) solveUncached(ctx context.Context, rr resolvedRequest, queryEmbedding []float32, start time.Time) (*QueryResponse, bool, error) {
	key := normalizeForCoalescing(rr.Query)

	type result struct {
		resp *QueryResponse
		err  error
	}

	leader := false
	v, err, shared := a.sf.Do(key, func() (interface{}, error) {
		leader = true
		resp, err := a.computeAnswer(ctx, rr, queryEmbedding, start)
		return result{resp: resp, err: err}, err
	})
	if err != nil {
		return nil, shared, err
	}
	r := v.(result)
	if shared && !leader {
		// Each follower gets its own copy marked Coalesced; the leader's
		// response is left as computed.
		cp := *r.resp
		cp.Coalesced = true
		return &cp, shared, nil
	}
	return r.resp, shared, nil
}

// computeAnswer runs RETRIEVE, RERANK, GATE, and on a pass SOLVE, JUDGE,
// and CACHE_WRITE.
func (a *App) computeAnswer(ctx context.Context, rr resolvedRequest, queryEmbedding []float32, start time.Time) (*QueryResponse, error) {
	retrieveStart := time.Now()
	searchCtx, searchCancel := context.WithTimeout(ctx, a.cfg.Timeouts.Search)
	results, err := a.index.Search(searchCtx, queryEmbedding, rr.TopK)
	searchCancel()
	a.metrics.ObserveLatency(metrics.StageRetrieve, time.Since(retrieveStart))
	if err != nil {
		return nil, a.classifyStageErr("retrieve", err)
	}

	candidates := make([]rerank.Candidate, 0, len(results))
	for _, res := range results {
		doc, ok := a.meta.Get(res.DocID)
		if !ok {
			continue
		}
		docID, chunkID := splitChunkKey(res.DocID)
		candidates = append(candidates, rerank.Candidate{
			DocID:      docID,
			ChunkID:    chunkID,
			Text:       doc.Text,
			Similarity: res.Similarity,
		})
	}

	rerankStart := time.Now()
	scores, err := a.reranker.Rerank(ctx, rr.Query, candidates)
	a.metrics.ObserveLatency(metrics.StageRerank, time.Since(rerankStart))
	if err != nil {
		return nil, a.classifyStageErr("rerank", err)
	}

	ranked := rankCandidates(candidates, scores)
	sortedScores := make([]float32, len(ranked))
	retrievedDocIDs := make([]string, len(ranked))
	for i, rc := range ranked {
		sortedScores[i] = rc.score
		retrievedDocIDs[i] = rc.candidate.DocID
	}

	decision := gate.Evaluate(sortedScores, a.cfg.Evidence.TauEvidence)
	if !decision.Pass {
		a.metrics.IncRefusals()
		a.metrics.ObserveConfidence(float64(decision.Evidence))
		a.metrics.ObserveLatency(metrics.StageTotal, time.Since(start))
		return refusalResponse(decision, start), nil
	}

	passages := make([]solver.Passage, len(ranked))
	for i, rc := range ranked {
		passages[i] = solver.Passage{DocID: rc.candidate.DocID, Text: rc.candidate.Text}
	}

	nSolvers := a.cfg.Solver.NSolvers
	if rr.UseMultiAgent && nSolvers < 2 {
		nSolvers = 3
	}

	solveStart := time.Now()
	outputs, err := a.solvers.DispatchN(ctx, rr.Query, passages, nSolvers)
	a.metrics.ObserveLatency(metrics.StageSolve, time.Since(solveStart))
	if err != nil {
		a.metrics.IncTimeouts(metrics.StageSolve)
		return nil, err
	}
	for i := 0; i < nSolvers-len(outputs); i++ {
		a.metrics.IncTimeouts(metrics.StageSolve)
	}

	verdict, err := a.judge.Decide(ctx, outputs, retrievedDocIDs, float64(decision.Evidence))
	if err != nil {
		return nil, a.classifyStageErr("judge", err)
	}

	resp := a.buildResponse(rr, verdict, ranked, decision, start)

	if verdict.FinalConfidence >= float64(rr.ConfidenceThreshold) {
		a.writeCache(ctx, rr.Query, queryEmbedding, verdict, resp)
	}

	a.metrics.ObserveConfidence(verdict.FinalConfidence)
	a.metrics.ObserveLatency(metrics.StageTotal, time.Since(start))
	return resp, nil
}

type rankedCandidate struct {
	candidate rerank.Candidate
	score     float32
}

// rankCandidates pairs each candidate with its rerank score and sorts
// descending by score, breaking ties by the candidate's original order.
func rankCandidates(candidates []rerank.Candidate, scores []float32) []rankedCandidate {
	ranked := make([]rankedCandidate, len(candidates))
	for i, c := range candidates {
		ranked[i] = rankedCandidate{candidate: c, score: scores[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	return ranked
}

func (a *App) buildResponse(rr resolvedRequest, verdict judge.Verdict, ranked []rankedCandidate, decision gate.Decision, start time.Time) *QueryResponse {
	// Citations are decided at the doc_id level (the solver/judge only see
	// whole documents), so within a cited doc we point at its
	// highest-scoring retrieved chunk; ranked is already sorted by score.
	bestByDocID := make(map[string]rankedCandidate, len(ranked))
	for _, rc := range ranked {
		if existing, ok := bestByDocID[rc.candidate.DocID]; !ok || rc.score > existing.score {
			bestByDocID[rc.candidate.DocID] = rc
		}
	}

	citedDocIDs := verdict.Winner.RawCitations
	verified := true
	if rr.EnableVerification {
		citedDocIDs = verdict.VerifiedDocIDs
		verified = verdict.Verified
	}

	citations := make([]ResponseCitation, 0, len(citedDocIDs))
	for _, docID := range citedDocIDs {
		best := bestByDocID[docID]
		citations = append(citations, ResponseCitation{
			DocID:   docID,
			ChunkID: best.candidate.ChunkID,
			Score:   best.score,
		})
	}

	resp := &QueryResponse{
		Answer:     verdict.Winner.Answer,
		Citations:  citations,
		Confidence: float32(verdict.FinalConfidence),
		LatencyMs:  time.Since(start).Milliseconds(),
		FromCache:  false,
	}
	if rr.EnableVerification {
		resp.Verification = &VerificationInfo{Verified: verified}
	}
	return resp
}

func (a *App) writeCache(ctx context.Context, question string, embedding []float32, verdict judge.Verdict, resp *QueryResponse) {
	citations := make([]factstore.Citation, len(resp.Citations))
	for i, c := range resp.Citations {
		citations[i] = factstore.Citation{DocID: c.DocID, ChunkID: c.ChunkID, Score: c.Score}
	}
	fact := &factstore.Fact{
		QuestionText:      question,
		QuestionEmbedding: embedding,
		Answer:            resp.Answer,
		Citations:         citations,
		Confidence:        resp.Confidence,
	}
	if err := a.facts.Insert(ctx, fact); err == nil {
		a.metrics.SetCacheSize(a.facts.Stats().Count)
	}
}

func refusalResponse(decision gate.Decision, start time.Time) *QueryResponse {
	return &QueryResponse{
		Answer:     gate.RefusalAnswer,
		Citations:  []ResponseCitation{},
		Confidence: decision.Evidence,
		LatencyMs:  time.Since(start).Milliseconds(),
		FromCache:  false,
	}
}

func cachedResponse(lookup factstore.LookupResult, start time.Time) *QueryResponse {
	citations := make([]ResponseCitation, len(lookup.Fact.Citations))
	for i, c := range lookup.Fact.Citations {
		citations[i] = ResponseCitation{DocID: c.DocID, ChunkID: c.ChunkID, Score: c.Score}
	}
	matchType := string(lookup.MatchType)
	return &QueryResponse{
		Answer:     lookup.Fact.Answer,
		Citations:  citations,
		Confidence: lookup.Fact.Confidence,
		LatencyMs:  time.Since(start).Milliseconds(),
		FromCache:  true,
		MatchType:  matchType,
		Similarity: lookup.Similarity,
	}
}

// classifyStageErr maps a raw error from an external capability call to
// the appropriate apperr kind, preserving any already-classified *apperr.Error.
func (a *App) classifyStageErr(stage string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		a.metrics.IncTimeouts(stage)
		return apperr.UpstreamTimeout(stage, err)
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Canceled(err)
	}
	return apperr.UpstreamError(stage, err)
}

func wrapUpstreamErr(stage string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.UpstreamTimeout(stage, err)
	}
	return apperr.UpstreamError(stage, err)
}

// normalizeForCoalescing is a coarse fold used only to key the
// single-flight map; it need not match the facts store's normalization
// exactly, only be stable for repeated identical questions.
func normalizeForCoalescing(q string) string {
	out := make([]rune, 0, len(q))
	prevSpace := false
	for _, r := range q {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		if r == ' ' || r == '\t' || r == '\n' {
			if prevSpace {
				continue
			}
			prevSpace = true
		} else {
			prevSpace = false
		}
		out = append(out, r)
	}
	return string(out)
}
