package auth

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/EternisAI/provider-ca/internal/cert"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUntrustedIssuer = errors.New("token issuer is not trusted")
	ErrInvalidToken    = errors.New("invalid token")
)

// tenantSeparator joins an issuer and the tenant it asserts. Issuer names may not
// contain it, so scoped tenants never collide with another issuer's tenants.
const tenantSeparator = "|"

// ScopedTenant is the tenant a token of issuer resolves to when it carries the
// given tenant claim. Without a claim the issuer itself is the tenant.
func ScopedTenant(issuer, claim string) string {
	claim = strings.TrimSpace(claim)
	if claim == "" {
		return issuer
	}
	return issuer + tenantSeparator + claim
}

// IssuerConfig describes one trusted token issuer. Exactly one of Key,
// CertificatePath or CertificateThumbprint must be set.
type IssuerConfig struct {
	Issuer                string `mapstructure:"issuer"`
	Key                   string `mapstructure:"key"`
	CertificatePath       string `mapstructure:"certificate_path"`
	CertificateThumbprint string `mapstructure:"certificate_thumbprint"`
}

type Config struct {
	Audience string `mapstructure:"audience"`
	// CertificateStore is the directory searched for issuers configured by thumbprint.
	CertificateStore string         `mapstructure:"certificate_store"`
	Issuers          []IssuerConfig `mapstructure:"issuers"`
}

// Claims are the bearer token claims accepted by the API.
type Claims struct {
	jwt.RegisteredClaims
	Tenant string `json:"tenant,omitempty"`
}

// Principal is the authenticated caller. Tenant is always scoped to Issuer.
type Principal struct {
	Issuer  string
	Subject string
	Tenant  string
}

type trustedIssuer struct {
	name    string
	key     any
	methods []string
}

// Validator checks bearer tokens against a fixed set of trusted issuers.
type Validator struct {
	audience string
	issuers  map[string]trustedIssuer
}

// NewValidator resolves every trusted issuer key once. Certificate files are read here
// and never again.
func NewValidator(cfg Config) (*Validator, error) {
	if cfg.Audience == "" {
		return nil, errors.New("auth audience is required")
	}
	if len(cfg.Issuers) == 0 {
		return nil, errors.New("at least one trusted issuer is required")
	}

	v := &Validator{audience: cfg.Audience, issuers: make(map[string]trustedIssuer, len(cfg.Issuers))}
	for _, ic := range cfg.Issuers {
		if ic.Issuer == "" {
			return nil, errors.New("trusted issuer name is required")
		}
		if strings.Contains(ic.Issuer, tenantSeparator) {
			return nil, fmt.Errorf("trusted issuer %q must not contain %q", ic.Issuer, tenantSeparator)
		}
		if _, dup := v.issuers[ic.Issuer]; dup {
			return nil, fmt.Errorf("trusted issuer %q configured twice", ic.Issuer)
		}
		ti, err := resolveIssuer(ic, cfg.CertificateStore)
		if err != nil {
			return nil, fmt.Errorf("issuer %q: %w", ic.Issuer, err)
		}
		v.issuers[ic.Issuer] = ti
	}
	return v, nil
}

func resolveIssuer(ic IssuerConfig, certificateStore string) (trustedIssuer, error) {
	set := 0
	for _, v := range []string{ic.Key, ic.CertificatePath, ic.CertificateThumbprint} {
		if v != "" {
			set++
		}
	}
	if set == 0 {
		return trustedIssuer{}, errors.New("key, certificate_path or certificate_thumbprint is required")
	}
	if set > 1 {
		return trustedIssuer{}, errors.New("key, certificate_path and certificate_thumbprint are mutually exclusive")
	}

	if ic.Key != "" {
		return trustedIssuer{
			name:    ic.Issuer,
			key:     []byte(ic.Key),
			methods: []string{"HS256", "HS384", "HS512"},
		}, nil
	}

	var (
		c   *x509.Certificate
		err error
	)
	if ic.CertificatePath != "" {
		c, err = loadCertificate(ic.CertificatePath)
	} else {
		c, err = findCertificate(certificateStore, ic.CertificateThumbprint)
	}
	if err != nil {
		return trustedIssuer{}, err
	}

	ti := trustedIssuer{name: ic.Issuer, key: c.PublicKey}
	switch c.PublicKey.(type) {
	case *rsa.PublicKey:
		ti.methods = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}
	case *ecdsa.PublicKey:
		ti.methods = []string{"ES256", "ES384", "ES512"}
	default:
		return trustedIssuer{}, fmt.Errorf("unsupported certificate key type %T", c.PublicKey)
	}
	return ti, nil
}

func loadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read issuer certificate: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("issuer certificate is not PEM encoded")
	}
	c, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer certificate: %w", err)
	}
	return c, nil
}

// findCertificate looks for the certificate with the given SHA-1 thumbprint among
// the PEM files of dir.
func findCertificate(dir, thumbprint string) (*x509.Certificate, error) {
	if dir == "" {
		return nil, errors.New("certificate_store is required to resolve certificate_thumbprint")
	}
	want := strings.ToUpper(strings.ReplaceAll(thumbprint, ":", ""))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate store: %w", err)
	}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".crt" && ext != ".pem" && ext != ".cer") {
			continue
		}
		c, err := loadCertificate(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		if cert.Thumbprint(c) == want {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no certificate with thumbprint %s in %s", want, dir)
}

// Validate verifies signature, audience, issuer and expiry of a bearer token.
func (v *Validator) Validate(tokenString string) (*Principal, error) {
	claims := &Claims{}
	var issuer trustedIssuer

	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		iss, err := t.Claims.GetIssuer()
		if err != nil {
			return nil, err
		}
		ti, ok := v.issuers[iss]
		if !ok {
			return nil, ErrUntrustedIssuer
		}
		if !slices.Contains(ti.methods, t.Method.Alg()) {
			return nil, fmt.Errorf("signing method %s is not accepted for issuer %s", t.Method.Alg(), iss)
		}
		issuer = ti
		return ti.key, nil
	},
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, ErrUntrustedIssuer) {
			return nil, ErrUntrustedIssuer
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return &Principal{
		Issuer:  issuer.name,
		Subject: claims.Subject,
		Tenant:  ScopedTenant(issuer.name, claims.Tenant),
	}, nil
}
