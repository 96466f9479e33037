//go:build integration

package escalation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gatewarden/gatewarden/internal/testutil"
)

// Run with: go test -tags=integration -timeout 120s ./internal/escalation/...
func TestPostgresOutcomeStore_RecordAndList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db := testutil.StartPostgres(t)
	store := NewPostgresOutcomeStore(db)
	ctx := context.Background()

	require.NoError(t, store.Migrate(ctx))

	res := &Result{
		SessionID:  "esc_1",
		Username:   "heidi",
		Feature:    "bill payment",
		Authorized: true,
		Outcome:    OutcomeProceeded,
		RiskScore:  0.25,
		RoundsUsed: 2,
		Observations: []Observation{
			{Kind: "device_fingerprint", Value: "FingerprintHash: abc123", Round: 1},
			{Kind: "sms_otp", Value: "OTP verified", Round: 2},
		},
	}
	require.NoError(t, store.Record(ctx, res))

	// Observations default to empty, not null
	require.NoError(t, store.Record(ctx, &Result{
		SessionID:  "esc_2",
		Username:   "heidi",
		Feature:    "statement view",
		Authorized: false,
		Outcome:    OutcomeExhausted,
		RiskScore:  0.5,
		RoundsUsed: 3,
	}))

	got, err := store.ListByUser(ctx, "heidi", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first
	require.Equal(t, "esc_2", got[0].SessionID)
	require.Empty(t, got[0].Observations)

	require.Equal(t, "esc_1", got[1].SessionID)
	require.Len(t, got[1].Observations, 2)
	require.Equal(t, "sms_otp", got[1].Observations[1].Kind)
	require.Equal(t, 2, got[1].Observations[1].Round)
}
