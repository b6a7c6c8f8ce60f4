package signing

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/EternisAI/provider-ca/internal/apperr"
	"github.com/EternisAI/provider-ca/internal/cert"
	"github.com/EternisAI/provider-ca/internal/confirmation"
	"github.com/EternisAI/provider-ca/internal/credential"
	"github.com/EternisAI/provider-ca/internal/engine"
	"github.com/EternisAI/provider-ca/internal/lifecycle"
	"github.com/EternisAI/provider-ca/internal/operation"
	"github.com/EternisAI/provider-ca/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	service   *Service
	store     *memory.Store
	approvals *lifecycle.Approvals
	cert      *credential.Certificate
	pub       *rsa.PublicKey
}

func newTestEnv(t *testing.T, policy operation.ConfirmationPolicy) *testEnv {
	t.Helper()
	ctx := context.Background()

	ca, err := cert.New(cert.Config{Dir: t.TempDir(), KeyBits: 2048})
	require.NoError(t, err)
	eng := engine.New(ca, engine.Config{})
	store := memory.New(time.Hour)

	userCert, err := eng.IssueCertificate(ctx, "0b7f8a4e-6f0c-4f43-9d7e-1c1a3f2f9b10", cert.Subject{CommonName: "User"})
	require.NoError(t, err)
	registered := &credential.Certificate{
		ID:         "0b7f8a4e-6f0c-4f43-9d7e-1c1a3f2f9b10",
		Tenant:     "tenant-a",
		Login:      "UserLogin",
		Serial:     userCert.SerialNumber.Text(16),
		Thumbprint: cert.Thumbprint(userCert),
		Subject:    userCert.Subject.String(),
		NotBefore:  userCert.NotBefore,
		NotAfter:   userCert.NotAfter,
		Status:     credential.StatusActive,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.PutCertificate(ctx, registered))

	manager, err := confirmation.NewManager(confirmation.Config{PublicBaseURL: "https://ca.example.com", LinkSecret: "secret"})
	require.NoError(t, err)
	resolver := confirmation.NewResolver(store, policy, true)

	deps := lifecycle.Deps{Store: store, Challenges: manager}
	return &testEnv{
		service:   NewService(deps, store, resolver, eng, time.Minute),
		store:     store,
		approvals: lifecycle.NewApprovals(store),
		cert:      registered,
		pub:       userCert.PublicKey.(*rsa.PublicKey),
	}
}

func (e *testEnv) approve(t *testing.T, id string) {
	t.Helper()
	_, err := e.approvals.Approve(context.Background(), "tenant-a", id)
	require.NoError(t, err)
}

func (e *testEnv) request() Request {
	return Request{
		Login:                 "UserLogin",
		CertificateThumbprint: e.cert.Thumbprint,
		DataType:              "Hash",
		Documents: []Document{
			{Name: "DocumentName1", Data: "Hash1"},
			{Name: "DocumentName2", Data: "Hash2"},
		},
	}
}

func TestSigningScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, operation.ConfirmationPolicy{
		Presentations: []operation.PresentationType{operation.PresentationLink, operation.PresentationQrCode},
	})

	op, err := env.service.Start(ctx, "tenant-a", env.request())
	require.NoError(t, err)

	status, err := env.service.GetStatus(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusNeedConfirm, status.State.Public())

	challenge, err := env.service.RequestConfirmation(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	require.Len(t, challenge.Challenge.Presentations, 2)
	assert.Equal(t, operation.PresentationLink, challenge.Challenge.Presentations[0].Type)
	assert.Equal(t, operation.PresentationQrCode, challenge.Challenge.Presentations[1].Type)

	_, err = env.service.GetSigns(ctx, "tenant-a", op.ID)
	assert.True(t, apperr.Is(err, apperr.CodeStateConflict))

	_, err = env.service.Confirm(ctx, "tenant-a", op.ID, "")
	assert.True(t, apperr.Is(err, UnconfirmedCode))
	status, err = env.service.GetStatus(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.Equal(t, operation.StateAwaitingConfirmation, status.State)

	env.approve(t, op.ID)
	_, err = env.service.Confirm(ctx, "tenant-a", op.ID, "")
	require.NoError(t, err)

	status, err = env.service.GetStatus(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusSuccess, status.State.Public())

	signs, err := env.service.GetSigns(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	require.Len(t, signs, 2)
	assert.Equal(t, "DocumentName1", signs[0].DocumentName)
	assert.Equal(t, "DocumentName2", signs[1].DocumentName)

	for i, data := range []string{"Hash1", "Hash2"} {
		sig, err := base64.StdEncoding.DecodeString(signs[i].Signature)
		require.NoError(t, err)
		digest := sha256.Sum256([]byte(data))
		assert.NoError(t, rsa.VerifyPKCS1v15(env.pub, crypto.SHA256, digest[:], sig))
	}
}

func TestStartValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, operation.ConfirmationPolicy{})

	req := env.request()
	req.Login = ""
	_, err := env.service.Start(ctx, "tenant-a", req)
	require.True(t, apperr.Is(err, apperr.CodeValidation))
	assert.Equal(t, "Login", apperr.From(err).Details[0].Field)

	req = env.request()
	req.Documents = nil
	_, err = env.service.Start(ctx, "tenant-a", req)
	require.True(t, apperr.Is(err, apperr.CodeValidation))
	assert.Equal(t, "Documents", apperr.From(err).Details[0].Field)

	req = env.request()
	req.Documents[1].Data = ""
	_, err = env.service.Start(ctx, "tenant-a", req)
	require.True(t, apperr.Is(err, apperr.CodeValidation))
	assert.Equal(t, "Documents[1].Data", apperr.From(err).Details[0].Field)
}

func TestStartRejectsUnusableCertificate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, operation.ConfirmationPolicy{})

	req := env.request()
	req.CertificateThumbprint = "0000"
	_, err := env.service.Start(ctx, "tenant-a", req)
	require.True(t, apperr.Is(err, apperr.CodeValidation))
	assert.Equal(t, "CertificateThumbprint", apperr.From(err).Details[0].Field)

	req = env.request()
	req.Login = "SomeoneElse"
	_, err = env.service.Start(ctx, "tenant-a", req)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	_, err = env.service.Start(ctx, "tenant-b", env.request())
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	_, err = env.store.RevokeCertificate(ctx, env.cert.ID, "tenant-a", "keyCompromise", time.Now())
	require.NoError(t, err)
	_, err = env.service.Start(ctx, "tenant-a", env.request())
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestRevokedBeforeConfirmFailsOperation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, operation.ConfirmationPolicy{Presentations: []operation.PresentationType{operation.PresentationLink}})

	op, err := env.service.Start(ctx, "tenant-a", env.request())
	require.NoError(t, err)

	_, err = env.store.RevokeCertificate(ctx, env.cert.ID, "tenant-a", "keyCompromise", time.Now())
	require.NoError(t, err)

	env.approve(t, op.ID)
	_, err = env.service.Confirm(ctx, "tenant-a", op.ID, "")
	assert.True(t, apperr.Is(err, apperr.CodeInternal))

	status, err := env.service.GetStatus(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusFailed, status.State.Public())
}

func TestNonInteractiveSigning(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, operation.ConfirmationPolicy{})

	op, err := env.service.Start(ctx, "tenant-a", env.request())
	require.NoError(t, err)
	assert.Equal(t, operation.StatusInProgress, op.State.Public())

	require.NoError(t, env.service.Wait(ctx))
	signs, err := env.service.GetSigns(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.Len(t, signs, 2)
}

func TestCancelSigning(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, operation.ConfirmationPolicy{Presentations: []operation.PresentationType{operation.PresentationLink}})

	op, err := env.service.Start(ctx, "tenant-a", env.request())
	require.NoError(t, err)

	cancelled, err := env.service.Cancel(ctx, "tenant-a", op.ID)
	require.NoError(t, err)
	assert.Equal(t, operation.StatusFailed, cancelled.State.Public())

	env.approve(t, op.ID)
	_, err = env.service.Confirm(ctx, "tenant-a", op.ID, "")
	assert.True(t, apperr.Is(err, apperr.CodeStateConflict))
}
