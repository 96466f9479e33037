package decision

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/gatewarden/gatewarden/internal/history"
)

func testLogin(username string) *LoginContext {
	return &LoginContext{
		Username:    username,
		IPAddress:   "203.0.113.10",
		DeviceID:    "laptop-1",
		LoginMethod: "web",
		Timestamp:   time.Now().UTC(),
	}
}

func TestEngine_DecideReturnsAuditRecord(t *testing.T) {
	store := history.NewMemoryStore()
	e := NewEngine(store)

	dec, rec, err := e.Decide(context.Background(), testLogin("alice"))
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.True(t, strings.HasPrefix(rec.ID, "dec_"))
	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, dec.Action, rec.Action)
	assert.Equal(t, dec.Score, rec.Score)
	assert.Equal(t, dec.Explanation, rec.Reason)
}

func TestEngine_BlockedLoginNeverLearns(t *testing.T) {
	store := history.NewMemoryStore()
	// Thresholds below any possible score force a block.
	e := NewEngine(store, WithReasoner(NewReasoner().WithThresholds(-1, -1)))

	dec, _, err := e.Decide(context.Background(), testLogin("mallory"))
	require.NoError(t, err)
	require.Equal(t, ActionBlock, dec.Action)

	_, found, err := store.Get(context.Background(), "mallory")
	require.NoError(t, err)
	assert.False(t, found, "blocked login must not create a baseline")
	assert.Equal(t, 0, store.Len())
}

func TestEngine_RepeatLoginBecomesFamiliar(t *testing.T) {
	store := history.NewMemoryStore()
	// Thresholds above any possible score so only familiarity rules apply.
	e := NewEngine(store, WithReasoner(NewReasoner().WithThresholds(1000, 1000)))

	login := testLogin("bob")

	first, _, err := e.Decide(context.Background(), login)
	require.NoError(t, err)
	assert.Equal(t, ActionMFA, first.Action, "first sight of a device requires mfa")

	second, _, err := e.Decide(context.Background(), login)
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, second.Action, "learned device and method should allow")
	assert.LessOrEqual(t, second.Score, first.Score)
}

func TestEngine_MFALoginStillLearns(t *testing.T) {
	store := history.NewMemoryStore()
	e := NewEngine(store, WithReasoner(NewReasoner().WithThresholds(1000, 1000)))

	login := testLogin("carol")
	_, _, err := e.Decide(context.Background(), login)
	require.NoError(t, err)

	b, found, err := store.Get(context.Background(), "carol")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, b.IPs.Contains(login.IPAddress))
	assert.True(t, b.Devices.Contains(login.DeviceID))
	assert.True(t, b.Methods.Contains(login.LoginMethod))
}

func TestEngine_OnDecisionCallback(t *testing.T) {
	store := history.NewMemoryStore()
	var got *Record
	e := NewEngine(store, OnDecision(func(rec *Record) { got = rec }))

	_, rec, err := e.Decide(context.Background(), testLogin("dave"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)
}

func TestEngine_AuditStoreReceivesRecord(t *testing.T) {
	store := history.NewMemoryStore()
	audit := NewMemoryAuditStore()
	e := NewEngine(store, WithAuditStore(audit))

	_, rec, err := e.Decide(context.Background(), testLogin("erin"))
	require.NoError(t, err)

	// Audit writes are async
	require.Eventually(t, func() bool {
		recs, err := audit.ListByUser(context.Background(), "erin", 10)
		return err == nil && len(recs) == 1 && recs[0].ID == rec.ID
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_DecideOpensSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	e := NewEngine(history.NewMemoryStore())
	dec, _, err := e.Decide(context.Background(), testLogin("grace"))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "decision.decide", spans[0].Name())

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "grace", attrs["user.name"].AsString())
	assert.Equal(t, string(dec.Action), attrs["decision.action"].AsString())
}

// blockingStore parks the first commit until released, keeping the per-user
// lock held so a second Decide for the same user must wait.
type blockingStore struct {
	*history.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) UpsertAtomic(ctx context.Context, username string, mutate func(*history.Baseline)) error {
	close(s.entered)
	<-s.release
	return s.MemoryStore.UpsertAtomic(ctx, username, mutate)
}

func TestEngine_CancelledContextWhileLockHeld(t *testing.T) {
	store := &blockingStore{
		MemoryStore: history.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	e := NewEngine(store)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = e.Decide(context.Background(), testLogin("frank"))
	}()
	<-store.entered // first Decide now holds frank's lock

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := e.Decide(ctx, testLogin("frank"))
	assert.ErrorIs(t, err, context.Canceled)

	close(store.release)
	<-done
}
