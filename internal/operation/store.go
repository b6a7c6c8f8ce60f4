package operation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("operation not found")
	ErrConflict          = errors.New("operation was modified concurrently")
	ErrStateMismatch     = errors.New("operation state does not match the expected state")
	ErrIllegalTransition = errors.New("illegal operation state transition")
)

// StateMismatchError carries the state found in the store when a compare-and-swap
// expected a different one.
type StateMismatchError struct {
	Expected State
	Current  State
}

func (e *StateMismatchError) Error() string {
	return fmt.Sprintf("expected state %s, found %s", e.Expected, e.Current)
}

func (e *StateMismatchError) Unwrap() error {
	return ErrStateMismatch
}

// Mutator edits the copy of an operation being committed by CompareAndSwapState.
// It may set Result, Challenge and Error; identity fields and State are restored
// after it runs.
type Mutator func(op *Operation) error

// Store is the durable keyed storage of operation records. CompareAndSwapState is the
// only way to change a stored operation.
type Store interface {
	CreateOperation(ctx context.Context, kind Kind, tenant, login string, payload Payload, policy ConfirmationPolicy) (*Operation, error)
	GetOperation(ctx context.Context, id, tenant string) (*Operation, error)
	CompareAndSwapState(ctx context.Context, id, tenant string, expected, next State, mutate Mutator) (*Operation, error)
	DeleteOperation(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

// New builds the initial record for a freshly created operation.
func New(id string, kind Kind, tenant, login string, payload Payload, policy ConfirmationPolicy, now time.Time, ttl time.Duration) *Operation {
	return &Operation{
		ID:        id,
		Kind:      kind,
		Tenant:    tenant,
		Login:     login,
		State:     StateCreated,
		Payload:   payload,
		Policy:    policy,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Advance computes the record that replaces current when moving from expected to next.
// Every backend commits the returned copy only if current is still the stored version.
func Advance(current *Operation, expected, next State, mutate Mutator, now time.Time) (*Operation, error) {
	if current.State != expected {
		return nil, &StateMismatchError{Expected: expected, Current: current.State}
	}
	if !CanTransition(current.Kind, expected, next) {
		return nil, fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, current.Kind, expected, next)
	}

	op := current.Clone()
	op.State = next
	if mutate != nil {
		if err := mutate(op); err != nil {
			return nil, err
		}
	}

	op.ID = current.ID
	op.Kind = current.Kind
	op.Tenant = current.Tenant
	op.Login = current.Login
	op.CreatedAt = current.CreatedAt
	op.ExpiresAt = current.ExpiresAt
	op.State = next
	op.Version = current.Version + 1
	op.UpdatedAt = now

	if err := op.CheckInvariants(); err != nil {
		return nil, err
	}
	return op, nil
}

// Visible reports whether a stored record may be returned to the given tenant.
func Visible(op *Operation, tenant string, now time.Time) bool {
	return op != nil && op.Tenant == tenant && !op.Expired(now)
}
