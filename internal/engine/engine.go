package engine

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/EternisAI/provider-ca/internal/cert"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Workers int           `mapstructure:"workers"`
}

// Engine is the local signing and issuance capability backed by the provider CA.
type Engine struct {
	ca      *cert.Service
	timeout time.Duration
	workers int
}

func New(ca *cert.Service, cfg Config) *Engine {
	e := &Engine{
		ca:      ca,
		timeout: cfg.Timeout,
		workers: cfg.Workers,
	}
	if e.timeout <= 0 {
		e.timeout = 30 * time.Second
	}
	if e.workers <= 0 {
		e.workers = 4
	}
	return e
}

// SignDigests signs every digest with the key of the certificate, preserving order.
// A base64 SHA-256 digest is signed as is; any other value is hashed first.
func (e *Engine) SignDigests(ctx context.Context, certificateID string, digests []string) ([]string, error) {
	key, err := e.ca.UserKey(certificateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key for %s: %w", certificateID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	signatures := make([]string, len(digests))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, digest := range digests {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digestBytes(digest))
			if err != nil {
				return fmt.Errorf("failed to sign document %d: %w", i, err)
			}
			signatures[i] = base64.StdEncoding.EncodeToString(sig)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("Signed digests", "certificate_id", certificateID, "count", len(digests))
	return signatures, nil
}

func digestBytes(digest string) []byte {
	if raw, err := base64.StdEncoding.DecodeString(digest); err == nil && len(raw) == sha256.Size {
		return raw
	}
	sum := sha256.Sum256([]byte(digest))
	return sum[:]
}

func (e *Engine) IssueCertificate(ctx context.Context, certificateID string, subject cert.Subject) (*x509.Certificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.ca.IssueUserCert(certificateID, subject)
}

func (e *Engine) DestroyKey(_ context.Context, certificateID string) error {
	return e.ca.DestroyUserKey(certificateID)
}
