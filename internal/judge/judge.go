// Package judge selects the best of several solver outputs and verifies
// its citations against the passages that were actually retrieved.
package judge

import (
	"context"
	"math"

	"github.com/ragpp/ragpp/internal/solver"
	"github.com/ragpp/ragpp/pkg/capability"
)

// Verdict is the judge's decision: the winning solver, its computed
// sub-scores, the verified citation set, and the final confidence handed
// to the pipeline response.
type Verdict struct {
	Winner          solver.Output
	Grounding       float64
	Agreement       float64
	Score           float64
	VerifiedDocIDs  []string
	Verified        bool
	FinalConfidence float64
}

// Judge scores and verifies solver output using an embedder for
// answer-to-answer agreement.
type Judge struct {
	embedder capability.Embedder
}

// New constructs a Judge backed by the given embedder.
func New(embedder capability.Embedder) *Judge {
	return &Judge{embedder: embedder}
}

// Decide picks the best solver output, verifies its citations against
// retrievedDocIDs, and returns the final verdict. evidence is the
// evidence-gate score E for the request, folded into final_confidence.
func (j *Judge) Decide(ctx context.Context, outputs []solver.Output, retrievedDocIDs []string, evidence float64) (Verdict, error) {
	retrieved := make(map[string]bool, len(retrievedDocIDs))
	for _, id := range retrievedDocIDs {
		retrieved[id] = true
	}

	groundings := make([]float64, len(outputs))
	for i, o := range outputs {
		groundings[i] = groundingScore(o.RawCitations, retrieved)
	}

	agreements, err := j.agreementScores(ctx, outputs)
	if err != nil {
		return Verdict{}, err
	}

	bestIdx := 0
	bestScore := math.Inf(-1)
	scores := make([]float64, len(outputs))
	for i, o := range outputs {
		scores[i] = 0.5*o.Confidence + 0.3*groundings[i] + 0.2*agreements[i]
		// Tie-break by lowest solver_id: only replace on a strictly higher
		// score, so the first (lowest-id) maximum encountered wins.
		if scores[i] > bestScore {
			bestScore = scores[i]
			bestIdx = i
		}
	}

	winner := outputs[bestIdx]
	verifiedDocIDs, verified := verifyCitations(winner.RawCitations, retrieved)

	finalConfidence := clamp01(0.5*winner.Confidence + 0.3*groundings[bestIdx] + 0.2*evidence)

	return Verdict{
		Winner:          winner,
		Grounding:       groundings[bestIdx],
		Agreement:       agreements[bestIdx],
		Score:           scores[bestIdx],
		VerifiedDocIDs:  verifiedDocIDs,
		Verified:        verified,
		FinalConfidence: finalConfidence,
	}, nil
}

// groundingScore is |cited doc_ids ∩ retrieved doc_ids| / max(1, |cited|).
func groundingScore(cited []string, retrieved map[string]bool) float64 {
	if len(cited) == 0 {
		return 0
	}
	hits := 0
	for _, id := range cited {
		if retrieved[id] {
			hits++
		}
	}
	return float64(hits) / float64(len(cited))
}

// verifyCitations drops uncited or unknown doc_ids, reporting verified=false
// if anything was dropped.
func verifyCitations(cited []string, retrieved map[string]bool) ([]string, bool) {
	kept := make([]string, 0, len(cited))
	for _, id := range cited {
		if retrieved[id] {
			kept = append(kept, id)
		}
	}
	return kept, len(kept) == len(cited)
}

// agreementScores computes, for each solver, the fraction of the other
// solvers whose answer embedding has cosine similarity >= 0.8 with its own.
func (j *Judge) agreementScores(ctx context.Context, outputs []solver.Output) ([]float64, error) {
	n := len(outputs)
	agreements := make([]float64, n)
	if n <= 1 {
		return agreements, nil
	}

	embeddings := make([][]float32, n)
	for i, o := range outputs {
		if o.Answer == "" {
			continue
		}
		v, err := j.embedder.Embed(ctx, o.Answer)
		if err != nil {
			return nil, err
		}
		embeddings[i] = v
	}

	for i := 0; i < n; i++ {
		if embeddings[i] == nil {
			continue
		}
		agreeing := 0
		others := 0
		for k := 0; k < n; k++ {
			if k == i || embeddings[k] == nil {
				continue
			}
			others++
			if cosineSimilarity(embeddings[i], embeddings[k]) >= 0.8 {
				agreeing++
			}
		}
		if others > 0 {
			agreements[i] = float64(agreeing) / float64(others)
		}
	}
	return agreements, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
