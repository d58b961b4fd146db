// Package change implements the pending change lifecycle: proposal
// construction with diff previews, the approval-gated registry, and plan
// execution against the managed host.
//
// The confirm-before-apply invariant lives here: no mutating remote
// command ever runs except through Approve on a registered, still-pending
// change, and the command plan that executes is exactly the one captured
// and previewed at proposal time.
package change

import (
	"context"
	"time"

	"github.com/opsgate/opsgate/internal/models"
)

// Store is the registry of pending changes and their audit trail. The
// production implementation is the SQLite store in internal/db; tests may
// substitute their own. TransitionChange must be atomic with respect to
// concurrent attempts on the same id: at most one transition out of
// PENDING succeeds per record.
type Store interface {
	CreateChange(ctx context.Context, change models.PendingChange) error
	GetChange(ctx context.Context, id string) (models.PendingChange, error)
	ListChangesByStatus(ctx context.Context, status models.ChangeStatus) ([]models.PendingChange, error)
	TransitionChange(ctx context.Context, id string, from, to models.ChangeStatus) (bool, error)
	SweepExpiredChanges(ctx context.Context, cutoff time.Time) ([]string, error)
	RecordChangeEvent(ctx context.Context, kind, changeID, msg, jsonPayload string) error
}
