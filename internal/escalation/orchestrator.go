package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gatewarden/gatewarden/internal/circuitbreaker"
	"github.com/gatewarden/gatewarden/internal/idgen"
	"github.com/gatewarden/gatewarden/internal/metrics"
	"github.com/gatewarden/gatewarden/internal/traces"
)

// Breaker keys for the two consumed capabilities.
const (
	capCollector = "collector"
	capEvaluator = "evaluator"
)

// Orchestrator runs the escalation state machine against the configured
// capabilities. Safe for concurrent use; each Authorize call owns its own
// session.
type Orchestrator struct {
	collector   FactorCollector
	evaluator   RiskEvaluator
	maxRounds   int
	callTimeout time.Duration
	breaker     *circuitbreaker.Breaker
	outcomes    OutcomeStore
	logger      *slog.Logger
	onOutcome   func(*Result)
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMaxRounds overrides the round budget.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithCallTimeout overrides the per-capability-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithOutcomeStore sets the terminal-outcome audit store.
func WithOutcomeStore(s OutcomeStore) Option {
	return func(o *Orchestrator) { o.outcomes = s }
}

// OnOutcome registers a callback invoked on every terminal outcome (for the
// realtime feed). The callback must not block.
func OnOutcome(fn func(*Result)) Option {
	return func(o *Orchestrator) { o.onOutcome = fn }
}

// New creates an orchestrator over the given capabilities.
func New(collector FactorCollector, evaluator RiskEvaluator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		collector:   collector,
		evaluator:   evaluator,
		maxRounds:   DefaultMaxRounds,
		callTimeout: DefaultCallTimeout,
		breaker:     circuitbreaker.New(5, 30*time.Second),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Authorize runs the bounded escalation loop for one sensitive action and
// returns the terminal result. On context cancellation the in-flight session
// is torn down without recording anything.
func (o *Orchestrator) Authorize(ctx context.Context, username, feature string) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "escalation.authorize",
		traces.Username(username), traces.Feature(feature))
	defer span.End()

	sess := &Session{
		ID:        idgen.WithPrefix("esc_"),
		Username:  username,
		Feature:   feature,
		Round:     1,
		State:     StateCollecting,
		StartedAt: time.Now().UTC(),
	}

	var verdict Verdict
	for !sess.State.Terminal() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		switch sess.State {
		case StateCollecting:
			o.runCollect(ctx, sess)
			sess.State = StateEvaluating

		case StateEvaluating:
			verdict = o.runEvaluate(ctx, sess)
			switch verdict.Decision {
			case VerdictProceed:
				sess.State = StateProceeded
			case VerdictDeny:
				sess.State = StateDenied
			default:
				// more_info, including the defensive normalization of
				// malformed verdicts. The round is spent either way.
				if sess.Round >= o.maxRounds {
					sess.State = StateExhausted
				} else {
					sess.LastEvaluated = sess.Round
					for _, kind := range verdict.MissingInfo {
						sess.Observations = append(sess.Observations, Observation{
							Kind:   kind,
							Round:  sess.Round,
							Marker: true,
						})
					}
					sess.Round++
					sess.State = StateCollecting
				}
			}
		}
	}

	res := &Result{
		SessionID:    sess.ID,
		Username:     username,
		Feature:      feature,
		Authorized:   sess.State == StateProceeded,
		RiskScore:    verdict.RiskScore,
		RoundsUsed:   sess.Round,
		Observations: evidence(sess),
	}
	switch sess.State {
	case StateProceeded:
		res.Outcome = OutcomeProceeded
	case StateDenied:
		res.Outcome = OutcomeDenied
	default:
		res.Outcome = OutcomeExhausted
	}

	metrics.EscalationsTotal.WithLabelValues(string(res.Outcome)).Inc()
	metrics.EscalationRounds.Observe(float64(res.RoundsUsed))

	if o.outcomes != nil {
		rec := *res
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := o.outcomes.Record(ctx, &rec); err != nil {
				o.logger.Warn("escalation outcome write failed", "session", rec.SessionID, "error", err)
			}
		}()
	}
	if o.onOutcome != nil {
		o.onOutcome(res)
	}

	logFn := o.logger.Info
	if res.Outcome == OutcomeExhausted {
		// Exhaustion is logged distinctly from an explicit deny.
		logFn = o.logger.Warn
	}
	logFn("escalation finished",
		"session", sess.ID,
		"username", username,
		"feature", feature,
		"outcome", res.Outcome,
		"risk_score", res.RiskScore,
		"rounds", res.RoundsUsed,
	)
	return res, nil
}

// runCollect invokes the factor collector for the session's outstanding
// markers. A failed or timed-out call contributes no observations; the
// round is still spent when the evaluator asks for more.
func (o *Orchestrator) runCollect(ctx context.Context, sess *Session) {
	ctx, span := traces.StartSpan(ctx, "escalation.collect", traces.Round(sess.Round))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	var factors map[string]string
	start := time.Now()
	err := o.breaker.Do(capCollector, func() error {
		var callErr error
		factors, callErr = o.collector.Collect(callCtx, sess.Feature, sess.Outstanding())
		return callErr
	})
	metrics.CapabilityCallDuration.WithLabelValues(capCollector).Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		metrics.CapabilityCallsTotal.WithLabelValues(capCollector, "rejected").Inc()
		o.logger.Warn("collector circuit open", "session", sess.ID, "round", sess.Round)
		return
	case err != nil:
		metrics.CapabilityCallsTotal.WithLabelValues(capCollector, "error").Inc()
		o.logger.Warn("factor collection failed",
			"session", sess.ID, "round", sess.Round, "error", err)
		return
	}
	metrics.CapabilityCallsTotal.WithLabelValues(capCollector, "ok").Inc()

	// Map order is not stable; sort for deterministic observation order.
	kinds := make([]string, 0, len(factors))
	for kind := range factors {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		sess.Observations = append(sess.Observations, Observation{
			Kind:  kind,
			Value: factors[kind],
			Round: sess.Round,
		})
	}
}

// runEvaluate invokes the risk evaluator. Errors, timeouts, and malformed
// verdicts all normalize to more_info with an empty missing list: an invalid
// verdict must never become an allow, and it still consumes the round.
func (o *Orchestrator) runEvaluate(ctx context.Context, sess *Session) Verdict {
	ctx, span := traces.StartSpan(ctx, "escalation.evaluate", traces.Round(sess.Round))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	var verdict Verdict
	start := time.Now()
	err := o.breaker.Do(capEvaluator, func() error {
		var callErr error
		verdict, callErr = o.evaluator.Evaluate(callCtx, sess.Feature, sess.Observations)
		return callErr
	})
	metrics.CapabilityCallDuration.WithLabelValues(capEvaluator).Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		metrics.CapabilityCallsTotal.WithLabelValues(capEvaluator, "rejected").Inc()
		o.logger.Warn("evaluator circuit open", "session", sess.ID, "round", sess.Round)
		return Verdict{Decision: VerdictMoreInfo}
	case err != nil:
		metrics.CapabilityCallsTotal.WithLabelValues(capEvaluator, "error").Inc()
		o.logger.Warn("risk evaluation failed",
			"session", sess.ID, "round", sess.Round, "error", err)
		return Verdict{Decision: VerdictMoreInfo}
	}
	metrics.CapabilityCallsTotal.WithLabelValues(capEvaluator, "ok").Inc()

	if !verdict.Valid() {
		o.logger.Warn("malformed verdict treated as more_info",
			"session", sess.ID, "round", sess.Round, "decision", verdict.Decision)
		return Verdict{Decision: VerdictMoreInfo, RiskScore: verdict.RiskScore}
	}
	return verdict
}

// evidence returns the collected observations without marker entries.
func evidence(sess *Session) []Observation {
	var out []Observation
	for _, o := range sess.Observations {
		if !o.Marker {
			out = append(out, o)
		}
	}
	return out
}
