// Package gate implements the evidence gate (C5): the decision of
// whether retrieved, reranked context clears the bar required to attempt
// an answer at all.
package gate

const (
	// RefusalAnswer is the canonical text returned when the gate refuses.
	RefusalAnswer = "Insufficient evidence to answer"

	// DefaultTauEvidence is the default evidence threshold.
	DefaultTauEvidence = 0.70
)

// Decision is the gate's verdict for one query.
type Decision struct {
	Evidence float32
	Pass     bool
}

// Evaluate computes the aggregate evidence score E = max(s1, mean(s1..s_min(3,K)))
// over descending-sorted reranked scores and compares it against tau.
// scores must already be sorted descending; K == 0 always refuses.
func Evaluate(scores []float32, tau float32) Decision {
	if len(scores) == 0 {
		return Decision{Evidence: 0, Pass: false}
	}

	n := len(scores)
	if n > 3 {
		n = 3
	}

	var sum float32
	for i := 0; i < n; i++ {
		sum += scores[i]
	}
	mean := sum / float32(n)

	evidence := scores[0]
	if mean > evidence {
		evidence = mean
	}

	return Decision{Evidence: evidence, Pass: evidence >= tau}
}
