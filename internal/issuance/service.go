package issuance

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/EternisAI/provider-ca/internal/apperr"
	"github.com/EternisAI/provider-ca/internal/cert"
	"github.com/EternisAI/provider-ca/internal/confirmation"
	"github.com/EternisAI/provider-ca/internal/credential"
	"github.com/EternisAI/provider-ca/internal/lifecycle"
	"github.com/EternisAI/provider-ca/internal/operation"
	"github.com/google/uuid"
)

const UnconfirmedCode = "UnconfirmedCertificateIssueStatusError"

// Issuer is the certificate issuance capability.
type Issuer interface {
	IssueCertificate(ctx context.Context, certificateID string, subject cert.Subject) (*x509.Certificate, error)
	DestroyKey(ctx context.Context, certificateID string) error
}

type Service struct {
	machine  *lifecycle.Machine
	certs    credential.Store
	policies *confirmation.Resolver
	issuer   Issuer
	now      func() time.Time
}

func NewService(deps lifecycle.Deps, certs credential.Store, policies *confirmation.Resolver, issuer Issuer, execTimeout time.Duration) *Service {
	s := &Service{
		certs:    certs,
		policies: policies,
		issuer:   issuer,
		now:      time.Now,
	}
	s.machine = lifecycle.New(lifecycle.Config{
		Kind:            operation.KindIssuance,
		UnconfirmedCode: UnconfirmedCode,
		ExecTimeout:     execTimeout,
	}, deps, lifecycle.ExecutorFunc(s.execute))
	return s
}

func validate(a operation.Applicant) error {
	var details []apperr.Detail
	if strings.TrimSpace(a.Login) == "" {
		details = append(details, apperr.Detail{Field: "Login", Message: "The Login field is required."})
	}
	if strings.TrimSpace(a.CommonName) == "" {
		details = append(details, apperr.Detail{Field: "CommonName", Message: "The CommonName field is required."})
	}
	if a.Country != "" && !isCountryCode(a.Country) {
		details = append(details, apperr.Detail{Field: "Country", Message: "The Country field must be a two-letter country code."})
	}
	if len(details) > 0 {
		return apperr.Validation("Request validation failed.", details...)
	}
	return nil
}

func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// Create opens an issuance operation for the applicant.
func (s *Service) Create(ctx context.Context, tenant string, applicant operation.Applicant) (*operation.Operation, error) {
	if err := validate(applicant); err != nil {
		return nil, err
	}
	applicant.Country = strings.ToUpper(applicant.Country)

	policy, err := s.policies.Resolve(ctx, tenant, applicant.Login)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	payload := operation.Payload{Issuance: &operation.IssuancePayload{Applicant: applicant}}
	return s.machine.Start(ctx, tenant, applicant.Login, payload, policy)
}

func (s *Service) execute(ctx context.Context, op *operation.Operation) (*operation.Result, error) {
	p := op.Payload.Issuance
	if p == nil {
		return nil, errors.New("issuance payload is missing")
	}
	a := p.Applicant

	id := uuid.NewString()
	issued, err := s.issuer.IssueCertificate(ctx, id, cert.Subject{
		CommonName:         a.CommonName,
		Email:              a.Email,
		Organization:       a.Organization,
		OrganizationalUnit: a.OrganizationalUnit,
		Locality:           a.Locality,
		Country:            a.Country,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue certificate: %w", err)
	}

	record := &credential.Certificate{
		ID:         id,
		Tenant:     op.Tenant,
		Login:      a.Login,
		Serial:     strings.ToUpper(issued.SerialNumber.Text(16)),
		Thumbprint: cert.Thumbprint(issued),
		Subject:    issued.Subject.String(),
		PEM:        cert.CertToPEM(issued),
		NotBefore:  issued.NotBefore,
		NotAfter:   issued.NotAfter,
		Status:     credential.StatusActive,
		IssuanceID: op.ID,
		CreatedAt:  s.now(),
	}
	if err := s.certs.PutCertificate(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to register certificate: %w", err)
	}

	slog.Info("Certificate issued", "operation_id", op.ID, "certificate_id", id, "serial", record.Serial)
	return &operation.Result{CertificateID: id, Serial: record.Serial, Thumbprint: record.Thumbprint}, nil
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

func (s *Service) Cancel(ctx context.Context, tenant, id string) (*operation.Operation, error) {
	return s.machine.Cancel(ctx, tenant, id)
}

// Certificate looks up a registered certificate of the tenant.
func (s *Service) Certificate(ctx context.Context, tenant, id string) (*credential.Certificate, error) {
	c, err := s.certs.GetCertificate(ctx, id, tenant)
	if errors.Is(err, credential.ErrNotFound) {
		return nil, apperr.NotFound("Certificate not found.")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return c, nil
}

// Revoke moves an issued certificate to revoked and destroys its signing key.
// Revoking an already revoked certificate returns it unchanged.
func (s *Service) Revoke(ctx context.Context, tenant, certificateID, reason string) (*credential.Certificate, error) {
	if strings.TrimSpace(certificateID) == "" {
		return nil, apperr.FieldRequired("CertificateId")
	}

	c, err := s.certs.RevokeCertificate(ctx, certificateID, tenant, reason, s.now())
	if errors.Is(err, credential.ErrNotFound) {
		return nil, apperr.NotFound("Certificate not found.")
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to revoke certificate: %w", err))
	}

	if err := s.issuer.DestroyKey(ctx, c.ID); err != nil {
		return nil, apperr.Internal(err)
	}
	slog.Info("Certificate revoked", "certificate_id", c.ID, "tenant", tenant, "reason", c.RevocationReason)
	return c, nil
}

func (s *Service) Wait(ctx context.Context) error {
	return s.machine.Wait(ctx)
}
