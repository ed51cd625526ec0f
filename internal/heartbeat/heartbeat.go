// Package heartbeat writes per-role liveness records. Heartbeats exist
// purely for external observability; write failures are swallowed and
// never influence scheduling.
package heartbeat

import (
	"context"
	"time"

	"github.com/yazinsai/mic-worker/internal/task"
)

// Beater stamps one logical worker role.
type Beater struct {
	store task.Store
	role  string
	now   func() time.Time
}

// New builds a beater for the given role.
func New(store task.Store, role string) *Beater {
	return &Beater{
		store: store,
		role:  role,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Beat upserts the role's liveness record. Errors are dropped.
func (b *Beater) Beat(ctx context.Context, status string) {
	if b == nil || b.store == nil {
		return
	}
	_ = b.store.WriteHeartbeat(ctx, task.Heartbeat{
		Role:     b.role,
		LastSeen: b.now(),
		Status:   status,
	})
}
