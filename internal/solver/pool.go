package solver

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ragpp/ragpp/internal/apperr"
	"github.com/ragpp/ragpp/pkg/capability"
)

// defaultTemperatures is the monotonic diversity schedule: low temperature
// first for a conservative answer, rising afterward so later solvers
// explore more of the model's distribution.
var defaultTemperatures = []float64{0.0, 0.3, 0.7, 0.9, 0.95, 0.97, 0.99, 1.0}

// maxSolvers bounds N_solvers <= 8.
const maxSolvers = 8

// Config controls pool sizing and timeouts.
type Config struct {
	NSolvers     int
	Parallelism  int
	TSolver      time.Duration
	TPool        time.Duration
	Temperatures []float64
}

// DefaultConfig returns the default pool configuration: a single solver,
// t_solver=15s, t_pool=25s. Multi-solver dispatch is opt-in (use_multi_agent).
func DefaultConfig() Config {
	return Config{
		NSolvers:     1,
		Parallelism:  maxSolvers,
		TSolver:      15 * time.Second,
		TPool:        25 * time.Second,
		Temperatures: defaultTemperatures,
	}
}

func (c Config) temperatureFor(solverID int) float64 {
	sched := c.Temperatures
	if len(sched) == 0 {
		sched = defaultTemperatures
	}
	if solverID >= len(sched) {
		return sched[len(sched)-1]
	}
	return sched[solverID]
}

// Pool dispatches N parallel LanguageModel calls for a single question.
type Pool struct {
	cfg Config
	llm capability.LanguageModel
}

// New constructs a solver pool. NSolvers defaults to 1 when unset and more
// than 8 is rejected with INVALID_INPUT; Parallelism defaults to NSolvers
// when unset.
func New(cfg Config, llm capability.LanguageModel) (*Pool, error) {
	if llm == nil {
		return nil, apperr.InvalidInput("solver pool requires a language model", nil)
	}
	if cfg.NSolvers <= 0 {
		cfg.NSolvers = 1
	}
	if cfg.NSolvers > maxSolvers {
		return nil, apperr.InvalidInput("n_solvers exceeds the maximum of 8", nil)
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = cfg.NSolvers
	}
	if cfg.TSolver <= 0 {
		cfg.TSolver = 15 * time.Second
	}
	if cfg.TPool <= 0 {
		cfg.TPool = 25 * time.Second
	}
	return &Pool{cfg: cfg, llm: llm}, nil
}

// Dispatch runs NSolvers parallel calls against the language model, bounded
// by the pool's parallelism, per-call, and per-pool deadlines. It returns an
// Output per solver that completed within t_solver; solvers that timed out
// are omitted. If zero solvers complete before t_pool elapses, it returns
// an UPSTREAM_TIMEOUT error.
func (p *Pool) Dispatch(ctx context.Context, question string, passages []Passage) ([]Output, error) {
	return p.DispatchN(ctx, question, passages, p.cfg.NSolvers)
}

// DispatchN is Dispatch with an explicit solver count, clamped to [1, 8],
// overriding the pool's configured NSolvers. use_multi_agent in a query
// request widens a single-solver pool to this call without reconstructing
// the pool.
func (p *Pool) DispatchN(ctx context.Context, question string, passages []Passage, n int) ([]Output, error) {
	if n <= 0 {
		n = 1
	}
	if n > maxSolvers {
		n = maxSolvers
	}

	poolCtx, cancel := context.WithTimeout(ctx, p.cfg.TPool)
	defer cancel()

	results := make([]Output, n)
	completed := make([]bool, n)

	g, gctx := errgroup.WithContext(poolCtx)
	sem := make(chan struct{}, p.cfg.Parallelism)
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		solverID := i
		temperature := p.cfg.temperatureFor(solverID)

		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return nil
			}

			out, ok := p.runSolver(gctx, solverID, temperature, question, passages)

			mu.Lock()
			results[solverID] = out
			completed[solverID] = ok
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	outs := make([]Output, 0, n)
	for i := range results {
		if completed[i] {
			outs = append(outs, results[i])
		}
	}
	if len(outs) == 0 {
		return nil, apperr.UpstreamTimeout("solver_pool", poolCtx.Err())
	}
	return outs, nil
}

// runSolver executes a single solver call under its own t_solver deadline.
// A timed-out or failing call reports ok=false rather than an error, so the
// pool can proceed with whatever solvers did complete.
func (p *Pool) runSolver(ctx context.Context, solverID int, temperature float64, question string, passages []Passage) (Output, bool) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.TSolver)
	defer cancel()

	prompt := buildPrompt(question, passages)
	raw, err := p.llm.Generate(callCtx, prompt, temperature)
	if err != nil {
		return Output{SolverID: solverID, Temperature: temperature, Confidence: 0}, false
	}

	return Output{
		SolverID:     solverID,
		Answer:       raw,
		RawCitations: extractCitations(raw),
		Confidence:   parseConfidence(raw),
		Temperature:  temperature,
	}, true
}
