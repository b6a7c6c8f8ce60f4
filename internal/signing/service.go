package signing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EternisAI/provider-ca/internal/apperr"
	"github.com/EternisAI/provider-ca/internal/confirmation"
	"github.com/EternisAI/provider-ca/internal/credential"
	"github.com/EternisAI/provider-ca/internal/lifecycle"
	"github.com/EternisAI/provider-ca/internal/operation"
)

const UnconfirmedCode = apperr.CodeUnconfirmed

// Signer produces one signature per digest, in the order given.
type Signer interface {
	SignDigests(ctx context.Context, certificateID string, digests []string) ([]string, error)
}

type Document struct {
	Name string
	Data string
}

type Request struct {
	Login                 string
	CertificateThumbprint string
	DataType              string
	Documents             []Document
}

type Service struct {
	machine  *lifecycle.Machine
	certs    credential.Store
	policies *confirmation.Resolver
	signer   Signer
	now      func() time.Time
}

func NewService(deps lifecycle.Deps, certs credential.Store, policies *confirmation.Resolver, signer Signer, execTimeout time.Duration) *Service {
	s := &Service{
		certs:    certs,
		policies: policies,
		signer:   signer,
		now:      time.Now,
	}
	s.machine = lifecycle.New(lifecycle.Config{
		Kind:            operation.KindSigning,
		UnconfirmedCode: UnconfirmedCode,
		ExecTimeout:     execTimeout,
	}, deps, lifecycle.ExecutorFunc(s.execute))
	return s
}

func validate(req Request) error {
	var details []apperr.Detail
	required := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			details = append(details, apperr.Detail{Field: field, Message: fmt.Sprintf("The %s field is required.", field)})
		}
	}

	required("Login", req.Login)
	required("CertificateThumbprint", req.CertificateThumbprint)
	if len(req.Documents) == 0 {
		details = append(details, apperr.Detail{Field: "Documents", Message: "At least one document is required."})
	}
	for i, doc := range req.Documents {
		required(fmt.Sprintf("Documents[%d].Name", i), doc.Name)
		required(fmt.Sprintf("Documents[%d].Data", i), doc.Data)
	}

	if len(details) > 0 {
		return apperr.Validation("Request validation failed.", details...)
	}
	return nil
}

// Start validates the request against the caller's certificate and opens a signing operation.
func (s *Service) Start(ctx context.Context, tenant string, req Request) (*operation.Operation, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	cert, err := s.certs.FindCertificate(ctx, tenant, strings.ToUpper(req.CertificateThumbprint))
	if errors.Is(err, credential.ErrNotFound) {
		return nil, invalidCertificate("No certificate with this thumbprint exists.")
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to look up certificate: %w", err))
	}
	if cert.Login != req.Login {
		return nil, invalidCertificate("The certificate does not belong to this user.")
	}
	if !cert.Usable(s.now()) {
		return nil, invalidCertificate("The certificate is revoked or outside its validity period.")
	}

	policy, err := s.policies.Resolve(ctx, tenant, req.Login)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	documents := make([]operation.Document, len(req.Documents))
	for i, doc := range req.Documents {
		documents[i] = operation.Document{Name: doc.Name, Digest: doc.Data}
	}
	payload := operation.Payload{Signing: &operation.SigningPayload{
		CertificateID:         cert.ID,
		CertificateThumbprint: cert.Thumbprint,
		DataType:              req.DataType,
		Documents:             documents,
	}}
	return s.machine.Start(ctx, tenant, req.Login, payload, policy)
}

func invalidCertificate(message string) error {
	return apperr.Validation("Request validation failed.", apperr.Detail{Field: "CertificateThumbprint", Message: message})
}

func (s *Service) execute(ctx context.Context, op *operation.Operation) (*operation.Result, error) {
	p := op.Payload.Signing
	if p == nil {
		return nil, errors.New("signing payload is missing")
	}

	cert, err := s.certs.GetCertificate(ctx, p.CertificateID, op.Tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate %s: %w", p.CertificateID, err)
	}
	if !cert.Usable(s.now()) {
		return nil, fmt.Errorf("certificate %s is no longer usable", cert.ID)
	}

	digests := make([]string, len(p.Documents))
	for i, doc := range p.Documents {
		digests[i] = doc.Digest
	}
	signatures, err := s.signer.SignDigests(ctx, cert.ID, digests)
	if err != nil {
		return nil, err
	}
	if len(signatures) != len(p.Documents) {
		return nil, fmt.Errorf("engine returned %d signatures for %d documents", len(signatures), len(p.Documents))
	}

	result := &operation.Result{Signatures: make([]operation.Signature, len(p.Documents))}
	for i, doc := range p.Documents {
		result.Signatures[i] = operation.Signature{DocumentName: doc.Name, Signature: signatures[i]}
	}
	return result, nil
}

func (s *Service) GetStatus(ctx context.Context, tenant, id string) (*operation.Operation, error) {
	return s.machine.Status(ctx, tenant, id)
}

func (s *Service) RequestConfirmation(ctx context.Context, tenant, id string) (*operation.Operation, error) {
	return s.machine.RequestConfirmation(ctx, tenant, id)
}

func (s *Service) Confirm(ctx context.Context, tenant, id, code string) (*operation.Operation, error) {
	return s.machine.Confirm(ctx, tenant, id, code)
}

// GetSigns returns the signatures in the order the documents were submitted.
func (s *Service) GetSigns(ctx context.Context, tenant, id string) ([]operation.Signature, error) {
	op, err := s.machine.Result(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	return op.Result.Signatures, nil
}

func (s *Service) Cancel(ctx context.Context, tenant, id string) (*operation.Operation, error) {
	return s.machine.Cancel(ctx, tenant, id)
}

func (s *Service) Wait(ctx context.Context) error {
	return s.machine.Wait(ctx)
}
