package credential

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("certificate not found")

type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Certificate is an issued end-user certificate held by the provider.
type Certificate struct {
	ID               string     `json:"id"`
	Tenant           string     `json:"tenant"`
	Login            string     `json:"login"`
	Serial           string     `json:"serial"`
	Thumbprint       string     `json:"thumbprint"`
	Subject          string     `json:"subject"`
	PEM              string     `json:"pem"`
	NotBefore        time.Time  `json:"not_before"`
	NotAfter         time.Time  `json:"not_after"`
	Status           Status     `json:"status"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
	IssuanceID       string     `json:"issuance_id"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Usable reports whether the certificate may produce signatures at the given time.
func (c *Certificate) Usable(now time.Time) bool {
	return c.Status == StatusActive && !now.Before(c.NotBefore) && now.Before(c.NotAfter)
}

// Store is the certificate registry. Lookups are tenant scoped; a certificate of
// another tenant is reported as ErrNotFound.
type Store interface {
	PutCertificate(ctx context.Context, cert *Certificate) error
	GetCertificate(ctx context.Context, id, tenant string) (*Certificate, error)
	FindCertificate(ctx context.Context, tenant, thumbprint string) (*Certificate, error)
	RevokeCertificate(ctx context.Context, id, tenant, reason string, at time.Time) (*Certificate, error)
}

// Revoke applies a revocation to a copy of cert. Revoking twice keeps the first record.
func Revoke(cert *Certificate, reason string, at time.Time) *Certificate {
	c := *cert
	if c.Status == StatusRevoked {
		return &c
	}
	revokedAt := at
	c.Status = StatusRevoked
	c.RevokedAt = &revokedAt
	c.RevocationReason = reason
	return &c
}
