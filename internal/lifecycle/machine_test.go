package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EternisAI/provider-ca/internal/apperr"
	"github.com/EternisAI/provider-ca/internal/confirmation"
	"github.com/EternisAI/provider-ca/internal/operation"
	"github.com/EternisAI/provider-ca/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []confirmation.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n confirmation.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) lastCode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return ""
	}
	return r.sent[len(r.sent)-1].Code
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, n confirmation.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

type fixture struct {
	machine   *Machine
	approvals *Approvals
	store     *memory.Store
	notifier  *recordingNotifier
	calls     atomic.Int32
	execErr   error
}

func newFixture(t *testing.T, confCfg confirmation.Config) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(time.Hour), notifier: &recordingNotifier{}}
	f.approvals = NewApprovals(f.store)
	f.machine = f.newMachine(t, confCfg, f.notifier)
	return f
}

// newMachine builds another service instance on the fixture's store.
func (f *fixture) newMachine(t *testing.T, confCfg confirmation.Config, notifier confirmation.Notifier) *Machine {
	t.Helper()
	if confCfg.PublicBaseURL == "" {
		confCfg.PublicBaseURL = "https://ca.example.com"
	}
	confCfg.LinkSecret = "secret"
	manager, err := confirmation.NewManager(confCfg)
	require.NoError(t, err)

	executor := ExecutorFunc(func(ctx context.Context, op *operation.Operation) (*operation.Result, error) {
		f.calls.Add(1)
		if f.execErr != nil {
			return nil, f.execErr
		}
		var signatures []operation.Signature
		for _, d := range op.Payload.Signing.Documents {
			signatures = append(signatures, operation.Signature{DocumentName: d.Name, Signature: "sig-" + d.Digest})
		}
		return &operation.Result{Signatures: signatures}, nil
	})
	return New(Config{Kind: operation.KindSigning, UnconfirmedCode: apperr.CodeUnconfirmed},
		Deps{Store: f.store, Challenges: manager, Notifier: notifier}, executor)
}

func (f *fixture) approve(t *testing.T, id string) {
	t.Helper()
	_, err := f.approvals.Approve(context.Background(), "tenant-a", id)
	require.NoError(t, err)
}

func payload() operation.Payload {
	return operation.Payload{Signing: &operation.SigningPayload{
		CertificateID: "cert-1",
		Documents: []operation.Document{
			{Name: "DocumentName1", Digest: "Hash1"},
			{Name: "DocumentName2", Digest: "Hash2"},
		},
	}}
}

var (
	linkAndQR = operation.ConfirmationPolicy{
		Presentations: []operation.PresentationType{operation.PresentationLink, operation.PresentationQrCode},
		RequireCode:   true,
	}
	linkOnly = operation.ConfirmationPolicy{Presentations: []operation.PresentationType{operation.PresentationLink}}
)

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperr.Is(err, code), "expected %s, got %v", code, err)
}

func TestInteractiveSigningFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, confirmation.Config{})

	op, err := f.machine.Start(ctx, "tenant-a", "UserLogin", payload(), linkAndQR)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusNeedConfirm, op.State.Public())

	status, err := f.machine.Status(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.Contains(t, []operation.PublicStatus{operation.StatusInProgress, operation.StatusNeedConfirm}, status.State.Public())

	first, err := f.machine.RequestConfirmation(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	second, err := f.machine.RequestConfirmation(ctx, "tenant-a", op.ID)
	require.NoError(t, err)

	require.Len(t, first.Challenge.Presentations, 2)
	assert.Equal(t, operation.PresentationLink, first.Challenge.Presentations[0].Type)
	assert.Equal(t, operation.PresentationQrCode, first.Challenge.Presentations[1].Type)
	assert.Equal(t, first.Challenge, second.Challenge)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, operation.StateAwaitingConfirmation, second.State)

	_, err = f.machine.Result(ctx, "tenant-a", op.ID)
	assertCode(t, err, apperr.CodeStateConflict)

	done, err := f.machine.Confirm(ctx, "tenant-a", op.ID, f.notifier.lastCode())
	require.NoError(t, err)
	assert.Equal(t, operation.StateSigned, done.State)
	assert.Nil(t, done.Challenge)

	result, err := f.machine.Result(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	require.Len(t, result.Result.Signatures, 2)
	assert.Equal(t, "DocumentName1", result.Result.Signatures[0].DocumentName)
	assert.Equal(t, "DocumentName2", result.Result.Signatures[1].DocumentName)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestConfirmOnTerminalStateDoesNotExecuteAgain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, confirmation.Config{})

	op, err := f.machine.Start(ctx, "tenant-a", "UserLogin", payload(), linkAndQR)
	require.NoError(t, err)
	code := f.notifier.lastCode()
	_, err = f.machine.Confirm(ctx, "tenant-a", op.ID, code)
	require.NoError(t, err)

	_, err = f.machine.Confirm(ctx, "tenant-a", op.ID, code)
	assertCode(t, err, apperr.CodeStateConflict)
	assert.Equal(t, int32(1), f.calls.Load())

	_, err = f.machine.RequestConfirmation(ctx, "tenant-a", op.ID)
	assertCode(t, err, apperr.CodeStateConflict)
}

func TestConfirmCodeValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, confirmation.Config{MaxCodeAttempts: 2})

	op, err := f.machine.Start(ctx, "tenant-a", "UserLogin", payload(), linkAndQR)
	require.NoError(t, err)
	code := f.notifier.lastCode()

	_, err = f.machine.Confirm(ctx, "tenant-a", op.ID, "")
	assertCode(t, err, apperr.CodeValidation)
	assert.Equal(t, "confirmationCode", apperr.From(err).Details[0].Field)

	_, err = f.machine.Confirm(ctx, "tenant-a", op.ID, "wrong")
	assertCode(t, err, apperr.CodeValidation)
	stored, err := f.machine.Status(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Challenge.Attempts)

	_, err = f.machine.Confirm(ctx, "tenant-a", op.ID, "wrong")
	assertCode(t, err, apperr.CodeValidation)

	_, err = f.machine.Confirm(ctx, "tenant-a", op.ID, code)
	assertCode(t, err, apperr.CodeStateConflict)
	assert.Equal(t, int32(0), f.calls.Load())

	renewed, err := f.machine.RequestConfirmation(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, renewed.Challenge.Attempts)
	newCode := f.notifier.lastCode()

	done, err := f.machine.Confirm(ctx, "tenant-a", op.ID, newCode)
	require.NoError(t, err)
	assert.Equal(t, operation.StateSigned, done.State)
}

func TestExpiredChallengeIsReissued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, confirmation.Config{ChallengeTTL: 20 * time.Millisecond})

	op, err := f.machine.Start(ctx, "tenant-a", "UserLogin", payload(), linkOnly)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, err = f.machine.Confirm(ctx, "tenant-a", op.ID, "")
	assertCode(t, err, apperr.CodeStateConflict)

	renewed, err := f.machine.RequestConfirmation(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.Greater(t, renewed.Version, op.Version)
	assert.True(t, renewed.Challenge.IssuedAt.After(op.Challenge.IssuedAt))
	assert.Equal(t, op.Challenge.Presentations, renewed.Challenge.Presentations)
}

func TestPendingApprovalKeepsOperationConfirmable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, confirmation.Config{})

	op, err := f.machine.Start(ctx, "tenant-a", "UserLogin", payload(), linkOnly)
	require.NoError(t, err)

	_, err = f.machine.Confirm(ctx, "tenant-a", op.ID, "")
	assertCode(t, err, apperr.CodeUnconfirmed)

	stored, err := f.machine.Status(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.Equal(t, operation.StateAwaitingConfirmation, stored.State)
	assert.False(t, stored.Challenge.Approved())
	assert.Equal(t, int32(0), f.calls.Load())

	approved, err := f.approvals.Approve(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.True(t, approved.Challenge.Approved())
	assert.Equal(t, operation.StateAwaitingConfirmation, approved.State)

	again, err := f.approvals.Approve(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.Equal(t, approved.Version, again.Version)

	done, err := f.machine.Confirm(ctx, "tenant-a", op.ID, "")
	require.NoError(t, err)
	assert.Equal(t, operation.StateSigned, done.State)

	_, err = f.approvals.Approve(ctx, "tenant-a", op.ID)
	assertCode(t, err, apperr.CodeStateConflict)
}

func TestApprovalVisibleAcrossInstances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, confirmation.Config{})
	other := f.newMachine(t, confirmation.Config{}, &recordingNotifier{})
	otherApprovals := NewApprovals(f.store)

	op, err := f.machine.Start(ctx, "tenant-a", "UserLogin", payload(), linkOnly)
	require.NoError(t, err)

	_, err = other.Confirm(ctx, "tenant-a", op.ID, "")
	assertCode(t, err, apperr.CodeUnconfirmed)

	_, err = otherApprovals.Approve(ctx, "tenant-a", op.ID)
	require.NoError(t, err)

	done, err := f.machine.Confirm(ctx, "tenant-a", op.ID, "")
	require.NoError(t, err)
	assert.Equal(t, operation.StateSigned, done.State)

	_, err = other.Confirm(ctx, "tenant-a", op.ID, "")
	assertCode(t, err, apperr.CodeStateConflict)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestApprovalRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, confirmation.Config{ChallengeTTL: 20 * time.Millisecond})

	op, err := f.machine.Start(ctx, "tenant-a", "UserLogin", payload(), linkOnly)
	require.NoError(t, err)

	_, err = f.approvals.Approve(ctx, "tenant-b", op.ID)
	assertCode(t, err, apperr.CodeNotFound)
	_, err = f.approvals.Approve(ctx, "tenant-a", "missing")
	assertCode(t, err, apperr.CodeNotFound)

	f.approve(t, op.ID)
	time.Sleep(40 * time.Millisecond)

	renewed, err := f.machine.RequestConfirmation(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.False(t, renewed.Challenge.Approved())

	_, err = f.machine.Confirm(ctx, "tenant-a", op.ID, "")
	assertCode(t, err, apperr.CodeUnconfirmed)

	time.Sleep(40 * time.Millisecond)
	_, err = f.approvals.Approve(ctx, "tenant-a", op.ID)
	assertCode(t, err, apperr.CodeStateConflict)
}

func TestNotificationCarriesTenantLink(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, confirmation.Config{})
	notifier := &mockNotifier{}
	m := f.newMachine(t, confirmation.Config{}, notifier)

	push := operation.ConfirmationPolicy{Presentations: []operation.PresentationType{operation.PresentationMobileAppPush}}
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n confirmation.Notification) bool {
		return n.Push && n.Tenant == "tenant-a" && n.Code == "" &&
			strings.HasPrefix(n.Link, "https://ca.example.com/confirmations/"+n.OperationID+"?tenant=tenant-a&token=")
	})).Return(errors.New("gateway down")).Once()

	op, err := m.Start(ctx, "tenant-a", "UserLogin", payload(), push)
	require.NoError(t, err)
	assert.Equal(t, operation.StateAwaitingConfirmation, op.State)
	notifier.AssertExpectations(t)
}

func TestExecutorFailureMarksOperationFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, confirmation.Config{})
	f.execErr = errors.New("hsm offline")

	op, err := f.machine.Start(ctx, "tenant-a", "UserLogin", payload(), linkOnly)
	require.NoError(t, err)
	f.approve(t, op.ID)

	_, err = f.machine.Confirm(ctx, "tenant-a", op.ID, "")
	assertCode(t, err, apperr.CodeInternal)
	assert.Equal(t, apperr.InternalMessage, apperr.From(err).Message)

	stored, err := f.machine.Status(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.Equal(t, operation.StateFailed, stored.State)
	assert.Equal(t, operation.StatusFailed, stored.State.Public())
	assert.Equal(t, "hsm offline", stored.Error)

	_, err = f.machine.Result(ctx, "tenant-a", op.ID)
	assertCode(t, err, apperr.CodeStateConflict)
}

func TestNonInteractiveStartExecutesInBackground(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, confirmation.Config{})

	op, err := f.machine.Start(ctx, "tenant-a", "UserLogin", payload(), operation.ConfirmationPolicy{})
	require.NoError(t, err)
	assert.Equal(t, operation.StatusInProgress, op.State.Public())

	require.NoError(t, f.machine.Wait(ctx))

	stored, err := f.machine.Status(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.Equal(t, operation.StateSigned, stored.State)
	assert.Equal(t, int32(1), f.calls.Load())

	_, err = f.machine.Cancel(ctx, "tenant-a", op.ID)
	assertCode(t, err, apperr.CodeStateConflict)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, confirmation.Config{})

	op, err := f.machine.Start(ctx, "tenant-a", "UserLogin", payload(), linkOnly)
	require.NoError(t, err)

	cancelled, err := f.machine.Cancel(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.Equal(t, operation.StateCancelled, cancelled.State)
	assert.Nil(t, cancelled.Challenge)

	again, err := f.machine.Cancel(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.Equal(t, cancelled.Version, again.Version)

	_, err = f.machine.Confirm(ctx, "tenant-a", op.ID, "")
	assertCode(t, err, apperr.CodeStateConflict)
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, confirmation.Config{})

	op, err := f.machine.Start(ctx, "tenant-a", "UserLogin", payload(), linkOnly)
	require.NoError(t, err)

	_, err = f.machine.Status(ctx, "tenant-b", op.ID)
	assertCode(t, err, apperr.CodeNotFound)
	_, err = f.machine.Confirm(ctx, "tenant-b", op.ID, "")
	assertCode(t, err, apperr.CodeNotFound)
	_, err = f.machine.Cancel(ctx, "tenant-b", op.ID)
	assertCode(t, err, apperr.CodeNotFound)
	_, err = f.machine.Status(ctx, "tenant-a", "missing")
	assertCode(t, err, apperr.CodeNotFound)
}

func TestOtherKindIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, confirmation.Config{})

	op, err := f.store.CreateOperation(ctx, operation.KindIssuance, "tenant-a", "UserLogin", operation.Payload{}, operation.ConfirmationPolicy{})
	require.NoError(t, err)

	_, err = f.machine.Status(ctx, "tenant-a", op.ID)
	assertCode(t, err, apperr.CodeNotFound)
}

func TestConcurrentConfirmExecutesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, confirmation.Config{})
	peer := f.newMachine(t, confirmation.Config{}, &recordingNotifier{})

	op, err := f.machine.Start(ctx, "tenant-a", "UserLogin", payload(), linkOnly)
	require.NoError(t, err)
	f.approve(t, op.ID)

	const callers = 10
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := f.machine
			if i%2 == 1 {
				m = peer
			}
			_, err := m.Confirm(ctx, "tenant-a", op.ID, "")
			if err == nil {
				successes.Add(1)
				return
			}
			assert.True(t, apperr.Is(err, apperr.CodeStateConflict), "unexpected error: %v", err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestWaitHonoursContext(t *testing.T) {
	f := newFixture(t, confirmation.Config{})
	f.machine.wg.Add(1)
	defer f.machine.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.machine.Wait(ctx), context.DeadlineExceeded)
}
