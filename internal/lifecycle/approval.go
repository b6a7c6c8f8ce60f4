package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/EternisAI/provider-ca/internal/apperr"
	"github.com/EternisAI/provider-ca/internal/operation"
)

// Approvals records out-of-band approvals on the operation record itself, so every
// instance sharing the store sees them. It serves operations of any kind.
type Approvals struct {
	store      operation.Store
	maxRetries uint64
	now        func() time.Time
}

func NewApprovals(store operation.Store) *Approvals {
	return &Approvals{store: store, maxRetries: 5, now: time.Now}
}

// Approve marks the pending challenge as accepted by the end user. Approving an
// already approved challenge is a no-op. A reissued challenge starts unapproved.
func (a *Approvals) Approve(ctx context.Context, tenant, id string) (*operation.Operation, error) {
	var result *operation.Operation
	err := retry(ctx, a.maxRetries, func() error {
		op, err := a.store.GetOperation(ctx, id, tenant)
		if errors.Is(err, operation.ErrNotFound) {
			return apperr.NotFound("Operation not found.")
		}
		if err != nil {
			return apperr.Internal(err)
		}
		if op.State != operation.StateAwaitingConfirmation {
			return apperr.StateConflict(fmt.Sprintf("Operation in status %s cannot be approved.", op.State.Public()))
		}
		if op.Challenge.Expired(a.now()) {
			return apperr.StateConflict("The confirmation challenge has expired. Request a new confirmation.")
		}
		if op.Challenge.Approved() {
			result = op
			return nil
		}

		at := a.now().UTC()
		result, err = a.store.CompareAndSwapState(ctx, op.ID, tenant, operation.StateAwaitingConfirmation, operation.StateAwaitingConfirmation,
			func(o *operation.Operation) error {
				if o.Challenge == nil {
					return fmt.Errorf("operation %s has no challenge", o.ID)
				}
				o.Challenge.ApprovedAt = &at
				return nil
			})
		if err != nil && !transient(err) {
			return apperr.Internal(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Operation approved", "operation_id", result.ID, "kind", result.Kind, "tenant", tenant)
	return result, nil
}
