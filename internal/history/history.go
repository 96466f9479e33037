// Package history maintains per-user behavioral baselines: the IPs, devices,
// and login methods a user has recently been seen with, plus their last login
// time. Baselines are the reference data for anomaly detection - an IP or
// device absent from the baseline raises the risk score of a login.
//
// Baselines are learned, not configured: every non-blocked login is committed
// back into the store. Each recency set keeps a bounded window of recent
// values with oldest-eviction, so a user's profile tracks current behavior
// rather than everything they have ever done.
package history

import (
	"context"
	"time"
)

// DefaultWindowSize is the per-set recency window capacity.
const DefaultWindowSize = 10

// Baseline is one user's learned recent behavior.
//
// The store owns the canonical record. Get returns an independent snapshot;
// mutation happens only through UpsertAtomic so that concurrent commits for
// the same username cannot interleave.
type Baseline struct {
	Username  string      `json:"username"`
	IPs       *RecencySet `json:"ips"`
	Devices   *RecencySet `json:"devices"`
	Methods   *RecencySet `json:"methods"`
	LastLogin time.Time   `json:"lastLogin"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func nowUTC() time.Time { return time.Now().UTC() }

// NewBaseline creates an empty baseline for a user.
func NewBaseline(username string) *Baseline {
	now := nowUTC()
	return &Baseline{
		Username:  username,
		IPs:       NewRecencySet(DefaultWindowSize),
		Devices:   NewRecencySet(DefaultWindowSize),
		Methods:   NewRecencySet(DefaultWindowSize),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy safe to read after the store lock is released.
func (b *Baseline) Clone() *Baseline {
	if b == nil {
		return nil
	}
	return &Baseline{
		Username:  b.Username,
		IPs:       b.IPs.Clone(),
		Devices:   b.Devices.Clone(),
		Methods:   b.Methods.Clone(),
		LastLogin: b.LastLogin,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

// Store is the keyed baseline store contract.
//
// UpsertAtomic must guarantee an atomic read-modify-write per username:
// the mutate function observes the current baseline (created empty on first
// sight) and its changes are committed as one unit. Concurrent upserts for
// the same username serialize; different usernames proceed in parallel.
type Store interface {
	// Get returns a snapshot of the user's baseline, or found=false if the
	// user has never been seen.
	Get(ctx context.Context, username string) (baseline *Baseline, found bool, err error)

	// UpsertAtomic applies mutate to the user's baseline under per-key
	// exclusion, creating an empty baseline first if none exists.
	UpsertAtomic(ctx context.Context, username string, mutate func(*Baseline)) error
}
