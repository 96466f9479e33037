package decision

import (
	"context"

	"github.com/gatewarden/gatewarden/internal/history"
)

// Updater commits decided logins back into the baseline store.
type Updater struct {
	store history.Store
}

// NewUpdater creates an updater writing to store.
func NewUpdater(store history.Store) *Updater {
	return &Updater{store: store}
}

// Commit learns a login's IP, device, and method and refreshes the last-login
// timestamp. Blocked logins are never learned: a no-op keeps attacker
// behavior out of the trusted baseline. Set semantics make repeated commits
// of the same context idempotent.
func (u *Updater) Commit(ctx context.Context, login *LoginContext, dec Decision) error {
	if dec.Action == ActionBlock {
		return nil
	}
	return u.store.UpsertAtomic(ctx, login.Username, func(b *history.Baseline) {
		b.IPs.Add(login.IPAddress)
		b.Devices.Add(login.DeviceID)
		b.Methods.Add(login.LoginMethod)
		b.LastLogin = login.Timestamp
	})
}
