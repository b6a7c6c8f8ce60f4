package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/EternisAI/provider-ca/internal/apperr"
	"github.com/EternisAI/provider-ca/internal/confirmation"
	"github.com/EternisAI/provider-ca/internal/operation"
	"github.com/cenkalti/backoff/v4"
)

// Executor performs the irreversible part of an operation once it has been claimed.
type Executor interface {
	Execute(ctx context.Context, op *operation.Operation) (*operation.Result, error)
}

type ExecutorFunc func(ctx context.Context, op *operation.Operation) (*operation.Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, op *operation.Operation) (*operation.Result, error) {
	return f(ctx, op)
}

type Config struct {
	Kind            operation.Kind
	UnconfirmedCode string
	MaxRetries      uint64
	ExecTimeout     time.Duration
}

// Machine drives one kind of operation through its states. Every transition is a
// compare-and-swap on the store; no lock is held while the executor runs.
type Machine struct {
	store      operation.Store
	challenges *confirmation.Manager
	notifier   confirmation.Notifier
	executor   Executor

	kind            operation.Kind
	unconfirmedCode string
	maxRetries      uint64
	execTimeout     time.Duration
	now             func() time.Time

	wg sync.WaitGroup
}

// Deps are the collaborators shared by every machine.
type Deps struct {
	Store      operation.Store
	Challenges *confirmation.Manager
	Notifier   confirmation.Notifier
}

func New(cfg Config, deps Deps, executor Executor) *Machine {
	m := &Machine{
		store:           deps.Store,
		challenges:      deps.Challenges,
		notifier:        deps.Notifier,
		executor:        executor,
		kind:            cfg.Kind,
		unconfirmedCode: cfg.UnconfirmedCode,
		maxRetries:      cfg.MaxRetries,
		execTimeout:     cfg.ExecTimeout,
		now:             time.Now,
	}
	if m.maxRetries == 0 {
		m.maxRetries = 5
	}
	if m.execTimeout <= 0 {
		m.execTimeout = time.Minute
	}
	if m.notifier == nil {
		m.notifier = confirmation.LogNotifier{}
	}
	return m
}

func transient(err error) bool {
	return errors.Is(err, operation.ErrConflict) || errors.Is(err, operation.ErrStateMismatch)
}

// retry runs fn until it succeeds, fails permanently, or keeps racing past the limit.
func retry(ctx context.Context, maxRetries uint64, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond

	err := backoff.Retry(func() error {
		err := fn()
		if err == nil || transient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx))

	if transient(err) {
		return apperr.Internal(fmt.Errorf("operation kept changing concurrently: %w", err))
	}
	return err
}

func (m *Machine) retry(ctx context.Context, fn func() error) error {
	return retry(ctx, m.maxRetries, fn)
}

func (m *Machine) get(ctx context.Context, tenant, id string) (*operation.Operation, error) {
	op, err := m.store.GetOperation(ctx, id, tenant)
	if errors.Is(err, operation.ErrNotFound) {
		return nil, apperr.NotFound("Operation not found.")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if op.Kind != m.kind {
		return nil, apperr.NotFound("Operation not found.")
	}
	return op, nil
}

// Start persists a new operation and moves it to its first resting state: awaiting
// confirmation for interactive policies, otherwise claimed and executed in the background.
func (m *Machine) Start(ctx context.Context, tenant, login string, payload operation.Payload, policy operation.ConfirmationPolicy) (*operation.Operation, error) {
	op, err := m.store.CreateOperation(ctx, m.kind, tenant, login, payload, policy)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to create operation: %w", err))
	}
	slog.Info("Operation created", "operation_id", op.ID, "kind", m.kind, "tenant", tenant, "interactive", policy.Interactive())

	if policy.Interactive() {
		awaiting, err := m.openChallenge(ctx, op, operation.StateCreated)
		if err != nil {
			m.fail(context.WithoutCancel(ctx), op, operation.StateCreated, err)
			return nil, apperr.Internal(err)
		}
		return awaiting, nil
	}

	claimed, err := m.store.CompareAndSwapState(ctx, op.ID, tenant, operation.StateCreated, operation.StateConfirmed, nil)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to claim operation: %w", err))
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_, _ = m.execute(context.WithoutCancel(ctx), claimed)
	}()
	return claimed, nil
}

func (m *Machine) openChallenge(ctx context.Context, op *operation.Operation, from operation.State) (*operation.Operation, error) {
	presentations, err := m.challenges.BuildChallenge(op.Tenant, op.ID, op.Policy)
	if err != nil {
		return nil, err
	}

	var code, hash string
	if op.Policy.RequireCode {
		code, hash, err = m.challenges.NewCode()
		if err != nil {
			return nil, err
		}
	}

	now := m.now()
	expiresAt := now.Add(m.challenges.TTL())
	if expiresAt.After(op.ExpiresAt) {
		expiresAt = op.ExpiresAt
	}
	challenge := &operation.Challenge{
		Presentations: presentations,
		CodeHash:      hash,
		IssuedAt:      now,
		ExpiresAt:     expiresAt,
	}

	updated, err := m.store.CompareAndSwapState(ctx, op.ID, op.Tenant, from, operation.StateAwaitingConfirmation,
		func(o *operation.Operation) error {
			o.Challenge = challenge
			return nil
		})
	if err != nil {
		return nil, err
	}

	m.notify(ctx, updated, code)
	return updated, nil
}

func (m *Machine) notify(ctx context.Context, op *operation.Operation, code string) {
	n := confirmation.Notification{
		OperationID: op.ID,
		Kind:        op.Kind,
		Tenant:      op.Tenant,
		Login:       op.Login,
		Link:        m.challenges.Link(op.Tenant, op.ID),
		Code:        code,
	}
	for _, p := range op.Policy.Presentations {
		if p == operation.PresentationMobileAppPush {
			n.Push = true
		}
	}
	if err := m.notifier.Notify(ctx, n); err != nil {
		slog.Warn("Failed to deliver confirmation", "operation_id", op.ID, "error", err)
	}
}

func (m *Machine) Status(ctx context.Context, tenant, id string) (*operation.Operation, error) {
	return m.get(ctx, tenant, id)
}

// RequestConfirmation returns the stored challenge. A new one is issued only when the
// previous challenge expired or ran out of code attempts.
func (m *Machine) RequestConfirmation(ctx context.Context, tenant, id string) (*operation.Operation, error) {
	var result *operation.Operation
	err := m.retry(ctx, func() error {
		op, err := m.get(ctx, tenant, id)
		if err != nil {
			return err
		}
		if op.State != operation.StateAwaitingConfirmation {
			return apperr.StateConflict(fmt.Sprintf("Confirmation cannot be requested for an operation in status %s.", op.State.Public()))
		}
		if !m.needsNewChallenge(op) {
			result = op
			return nil
		}

		slog.Info("Reissuing confirmation challenge", "operation_id", op.ID, "attempts", op.Challenge.Attempts)
		result, err = m.openChallenge(ctx, op, operation.StateAwaitingConfirmation)
		if err != nil && !transient(err) {
			return apperr.Internal(err)
		}
		return err
	})
	return result, err
}

func (m *Machine) needsNewChallenge(op *operation.Operation) bool {
	c := op.Challenge
	return c.Expired(m.now()) || (c.HasCode() && c.Attempts >= m.challenges.MaxAttempts())
}

// Confirm validates the end user's confirmation, claims the operation and runs the
// executor. Without a code the challenge must have been approved out of band. Only
// the caller whose claim commits reaches the executor; the others re-read the
// claimed state and get a state conflict.
func (m *Machine) Confirm(ctx context.Context, tenant, id, code string) (*operation.Operation, error) {
	var claimed *operation.Operation
	err := m.retry(ctx, func() error {
		op, err := m.get(ctx, tenant, id)
		if err != nil {
			return err
		}
		if op.State != operation.StateAwaitingConfirmation {
			return apperr.StateConflict(fmt.Sprintf("Operation in status %s cannot be confirmed.", op.State.Public()))
		}
		if op.Challenge.Expired(m.now()) {
			return apperr.StateConflict("The confirmation challenge has expired. Request a new confirmation.")
		}

		if op.Challenge.HasCode() {
			if err := m.checkCode(ctx, op, code); err != nil {
				return err
			}
		} else if !op.Challenge.Approved() {
			return apperr.Unconfirmed(m.unconfirmedCode, "The user has not confirmed the operation in the remote application yet.")
		}

		claimed, err = m.store.CompareAndSwapState(ctx, op.ID, tenant, operation.StateAwaitingConfirmation, operation.StateConfirmed,
			func(o *operation.Operation) error {
				o.Challenge = nil
				return nil
			})
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Operation confirmed", "operation_id", claimed.ID, "kind", m.kind, "tenant", tenant)
	return m.execute(ctx, claimed)
}

func (m *Machine) checkCode(ctx context.Context, op *operation.Operation, code string) error {
	if op.Challenge.Attempts >= m.challenges.MaxAttempts() {
		return apperr.StateConflict("Too many invalid confirmation codes. Request a new confirmation.")
	}
	if code == "" {
		return apperr.FieldRequired("confirmationCode")
	}
	if m.challenges.VerifyCode(op.Challenge.CodeHash, code) {
		return nil
	}

	_, err := m.store.CompareAndSwapState(ctx, op.ID, op.Tenant, operation.StateAwaitingConfirmation, operation.StateAwaitingConfirmation,
		func(o *operation.Operation) error {
			o.Challenge.Attempts++
			return nil
		})
	if err != nil {
		return err
	}
	slog.Warn("Invalid confirmation code", "operation_id", op.ID, "attempts", op.Challenge.Attempts+1)
	return apperr.Validation("The confirmation code is invalid.",
		apperr.Detail{Field: "confirmationCode", Message: "The confirmation code is invalid."})
}

// execute runs the executor for a claimed operation and records the outcome. The
// outcome is committed even if the caller goes away.
func (m *Machine) execute(ctx context.Context, claimed *operation.Operation) (*operation.Operation, error) {
	ctx = context.WithoutCancel(ctx)
	execCtx, cancel := context.WithTimeout(ctx, m.execTimeout)
	defer cancel()

	result, err := m.executor.Execute(execCtx, claimed)
	if err != nil {
		slog.Error("Operation failed", "operation_id", claimed.ID, "kind", m.kind, "error", err)
		m.fail(ctx, claimed, operation.StateConfirmed, err)
		return nil, apperr.Internal(err)
	}

	var final *operation.Operation
	err = m.retry(ctx, func() error {
		var err error
		final, err = m.store.CompareAndSwapState(ctx, claimed.ID, claimed.Tenant, operation.StateConfirmed, operation.SuccessState(m.kind),
			func(o *operation.Operation) error {
				o.Result = result
				return nil
			})
		return err
	})
	if err != nil {
		slog.Error("Failed to record operation result", "operation_id", claimed.ID, "error", err)
		return nil, apperr.From(err)
	}

	slog.Info("Operation completed", "operation_id", final.ID, "kind", m.kind, "state", final.State)
	return final, nil
}

func (m *Machine) fail(ctx context.Context, op *operation.Operation, from operation.State, cause error) {
	err := m.retry(ctx, func() error {
		_, err := m.store.CompareAndSwapState(ctx, op.ID, op.Tenant, from, operation.StateFailed,
			func(o *operation.Operation) error {
				o.Challenge = nil
				o.Error = cause.Error()
				return nil
			})
		return err
	})
	if err != nil {
		slog.Error("Failed to record operation failure", "operation_id", op.ID, "error", err)
	}
}

// Cancel stops an operation that has not been claimed yet. Cancelling twice succeeds.
func (m *Machine) Cancel(ctx context.Context, tenant, id string) (*operation.Operation, error) {
	var result *operation.Operation
	err := m.retry(ctx, func() error {
		op, err := m.get(ctx, tenant, id)
		if err != nil {
			return err
		}

		switch op.State {
		case operation.StateCancelled:
			result = op
			return nil
		case operation.StateCreated, operation.StateAwaitingConfirmation:
			result, err = m.store.CompareAndSwapState(ctx, op.ID, tenant, op.State, operation.StateCancelled,
				func(o *operation.Operation) error {
					o.Challenge = nil
					return nil
				})
			return err
		default:
			return apperr.StateConflict(fmt.Sprintf("Operation in status %s can no longer be cancelled.", op.State.Public()))
		}
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Operation cancelled", "operation_id", result.ID, "kind", m.kind, "tenant", tenant)
	return result, nil
}

// Result returns a succeeded operation; any other state is a state conflict.
func (m *Machine) Result(ctx context.Context, tenant, id string) (*operation.Operation, error) {
	op, err := m.get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if !op.State.Succeeded() {
		return nil, apperr.StateConflict(fmt.Sprintf("The result is not available for an operation in status %s.", op.State.Public()))
	}
	return op, nil
}

// Wait blocks until background executions finish or ctx is done.
func (m *Machine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
