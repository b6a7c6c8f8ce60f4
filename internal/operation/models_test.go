package operation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSigningOp(now time.Time) *Operation {
	return New("op-1", KindSigning, "tenant-a", "UserLogin", Payload{
		Signing: &SigningPayload{Documents: []Document{{Name: "DocumentName1", Digest: "Hash1"}}},
	}, ConfirmationPolicy{Presentations: []PresentationType{PresentationLink}}, now, time.Hour)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(KindSigning, StateCreated, StateAwaitingConfirmation))
	assert.True(t, CanTransition(KindSigning, StateAwaitingConfirmation, StateAwaitingConfirmation))
	assert.True(t, CanTransition(KindSigning, StateConfirmed, StateSigned))
	assert.True(t, CanTransition(KindIssuance, StateConfirmed, StateIssued))
	assert.True(t, CanTransition(KindIssuance, StateCreated, StateFailed))

	assert.False(t, CanTransition(KindSigning, StateConfirmed, StateIssued))
	assert.False(t, CanTransition(KindIssuance, StateConfirmed, StateSigned))
	assert.False(t, CanTransition(KindSigning, StateConfirmed, StateCancelled))
	assert.False(t, CanTransition(KindSigning, StateConfirmed, StateAwaitingConfirmation))

	for _, terminal := range []State{StateSigned, StateIssued, StateFailed, StateCancelled} {
		for _, to := range []State{StateCreated, StateAwaitingConfirmation, StateConfirmed, StateFailed, StateCancelled} {
			assert.False(t, CanTransition(KindSigning, terminal, to), "%s -> %s", terminal, to)
		}
	}
}

func TestPublicStatus(t *testing.T) {
	assert.Equal(t, StatusInProgress, StateCreated.Public())
	assert.Equal(t, StatusNeedConfirm, StateAwaitingConfirmation.Public())
	assert.Equal(t, StatusInProgress, StateConfirmed.Public())
	assert.Equal(t, StatusSuccess, StateSigned.Public())
	assert.Equal(t, StatusSuccess, StateIssued.Public())
	assert.Equal(t, StatusFailed, StateFailed.Public())
	assert.Equal(t, StatusFailed, StateCancelled.Public())
}

func TestAdvance(t *testing.T) {
	now := time.Now()
	op := newSigningOp(now)

	next, err := Advance(op, StateCreated, StateAwaitingConfirmation, func(o *Operation) error {
		o.Challenge = &Challenge{IssuedAt: now, ExpiresAt: now.Add(time.Minute)}
		o.Tenant = "tampered"
		return nil
	}, now.Add(time.Second))
	require.NoError(t, err)

	assert.Equal(t, StateAwaitingConfirmation, next.State)
	assert.Equal(t, int64(2), next.Version)
	assert.Equal(t, "tenant-a", next.Tenant)
	assert.NotNil(t, next.Challenge)
	assert.Nil(t, op.Challenge, "the original record must not be modified")
	assert.Equal(t, StateCreated, op.State)
}

func TestAdvanceStateMismatch(t *testing.T) {
	op := newSigningOp(time.Now())

	_, err := Advance(op, StateAwaitingConfirmation, StateConfirmed, nil, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStateMismatch)

	var mismatch *StateMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, StateCreated, mismatch.Current)
}

func TestAdvanceRejectsIllegalTransition(t *testing.T) {
	op := newSigningOp(time.Now())
	_, err := Advance(op, StateCreated, StateSigned, func(o *Operation) error {
		o.Result = &Result{}
		return nil
	}, time.Now())
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestAdvanceEnforcesInvariants(t *testing.T) {
	op := newSigningOp(time.Now())

	// Entering awaiting_confirmation without a challenge.
	_, err := Advance(op, StateCreated, StateAwaitingConfirmation, nil, time.Now())
	assert.Error(t, err)

	// Failing while leaving a result behind.
	_, err = Advance(op, StateCreated, StateFailed, func(o *Operation) error {
		o.Result = &Result{}
		return nil
	}, time.Now())
	assert.Error(t, err)
}

func TestAdvanceMutatorError(t *testing.T) {
	op := newSigningOp(time.Now())
	boom := errors.New("boom")
	_, err := Advance(op, StateCreated, StateCancelled, func(*Operation) error { return boom }, time.Now())
	assert.ErrorIs(t, err, boom)
}

func TestVisible(t *testing.T) {
	now := time.Now()
	op := newSigningOp(now)

	assert.True(t, Visible(op, "tenant-a", now))
	assert.False(t, Visible(op, "tenant-b", now))
	assert.False(t, Visible(op, "tenant-a", now.Add(2*time.Hour)))
	assert.False(t, Visible(nil, "tenant-a", now))
}

func TestChallengeExpiry(t *testing.T) {
	now := time.Now()
	c := &Challenge{IssuedAt: now, ExpiresAt: now.Add(time.Minute)}
	assert.False(t, c.Expired(now))
	assert.True(t, c.Expired(now.Add(time.Minute)))

	var none *Challenge
	assert.True(t, none.Expired(now))
	assert.False(t, none.HasCode())
	assert.False(t, none.Approved())

	assert.False(t, c.Approved())
	c.ApprovedAt = &now
	assert.True(t, c.Approved())
}
