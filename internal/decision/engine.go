package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gatewarden/gatewarden/internal/history"
	"github.com/gatewarden/gatewarden/internal/idgen"
	"github.com/gatewarden/gatewarden/internal/metrics"
	"github.com/gatewarden/gatewarden/internal/retry"
	"github.com/gatewarden/gatewarden/internal/syncutil"
	"github.com/gatewarden/gatewarden/internal/traces"
)

// Contention retry policy for baseline commits.
const (
	commitAttempts  = 3
	commitBaseDelay = 50 * time.Millisecond
)

// ErrTransient is returned when a baseline commit kept failing on contention
// after the retry budget. The decision itself was made; only learning failed.
var ErrTransient = errors.New("decision: transient store failure")

// Engine is the single entry point for the login path: read baseline, score,
// decide, commit. The full sequence runs under a per-username lock so that
// concurrent logins for one user cannot interleave reads with commits.
type Engine struct {
	store    history.Store
	pipeline *Pipeline
	reasoner *Reasoner
	updater  *Updater
	audit    AuditStore
	locks    *syncutil.CtxStriped
	logger   *slog.Logger

	onDecision func(*Record) // optional event sink
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithAuditStore sets the decision audit trail store.
func WithAuditStore(s AuditStore) Option {
	return func(e *Engine) { e.audit = s }
}

// WithPipeline overrides the default scoring pipeline.
func WithPipeline(p *Pipeline) Option {
	return func(e *Engine) { e.pipeline = p }
}

// WithReasoner overrides the default reasoner.
func WithReasoner(r *Reasoner) Option {
	return func(e *Engine) { e.reasoner = r }
}

// OnDecision registers a callback invoked after every decision (for the
// realtime feed). The callback must not block.
func OnDecision(fn func(*Record)) Option {
	return func(e *Engine) { e.onDecision = fn }
}

// NewEngine creates a decision engine over the given baseline store.
func NewEngine(store history.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		pipeline: NewPipeline(),
		reasoner: NewReasoner(),
		updater:  NewUpdater(store),
		locks:    syncutil.NewCtxStriped(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide runs the full pipeline for one login and returns the terminal
// decision along with its audit record. Total for well-formed input: every
// failure mode resolves to a decision or an explicit error, never a panic.
func (e *Engine) Decide(ctx context.Context, login *LoginContext) (Decision, *Record, error) {
	ctx, span := traces.StartSpan(ctx, "decision.decide", traces.Username(login.Username))
	defer span.End()

	unlock, err := e.locks.Acquire(ctx, login.Username)
	if err != nil {
		return Decision{}, nil, fmt.Errorf("acquire user lock: %w", err)
	}
	defer unlock()

	baseline, found, err := e.store.Get(ctx, login.Username)
	if err != nil {
		return Decision{}, nil, fmt.Errorf("read baseline: %w", err)
	}
	if !found {
		baseline = nil
	}

	assessment := e.pipeline.Score(login, baseline)
	dec := e.reasoner.Decide(assessment, login.LoginMethod)
	span.SetAttributes(traces.DecisionAction(string(dec.Action)))

	// Commit always runs; it is a no-op for blocked logins. Contention is
	// retried with backoff, then surfaced as a transient failure rather
	// than silently dropped.
	commitErr := retry.Do(ctx, retry.Policy{Attempts: commitAttempts, Base: commitBaseDelay}, func() error {
		err := e.updater.Commit(ctx, login, dec)
		if err != nil && !errors.Is(err, history.ErrContention) {
			return retry.Abort(err)
		}
		return err
	})
	if commitErr != nil {
		e.logger.Error("baseline commit failed",
			"username", login.Username, "action", dec.Action, "error", commitErr)
		return dec, nil, fmt.Errorf("%w: %v", ErrTransient, commitErr)
	}

	metrics.DecisionsTotal.WithLabelValues(string(dec.Action)).Inc()

	rec := &Record{
		ID:        idgen.WithPrefix("dec_"),
		Username:  login.Username,
		IPAddress: login.IPAddress,
		DeviceID:  login.DeviceID,
		Method:    login.LoginMethod,
		Action:    dec.Action,
		Score:     dec.Score,
		Reason:    dec.Explanation,
		DecidedAt: time.Now().UTC(),
	}

	// Audit trail is best-effort and off the hot path.
	if e.audit != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.audit.Record(ctx, rec); err != nil {
				e.logger.Warn("decision audit write failed", "id", rec.ID, "error", err)
			}
		}()
	}
	if e.onDecision != nil {
		e.onDecision(rec)
	}

	e.logger.Info("login decided",
		"username", login.Username,
		"action", dec.Action,
		"score", dec.Score,
		"device_trusted", assessment.DeviceTrusted,
		"method_profiled", assessment.MethodProfiled,
	)
	return dec, rec, nil
}
