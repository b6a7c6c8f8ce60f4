package cert

import (
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"
)

var ErrKeyNotFound = errors.New("signing key not found")

type Config struct {
	Dir            string        `mapstructure:"dir"`
	CACertPath     string        `mapstructure:"ca_cert_path"`
	CAKeyPath      string        `mapstructure:"ca_key_path"`
	ServerCertPath string        `mapstructure:"server_cert_path"`
	ServerKeyPath  string        `mapstructure:"server_key_path"`
	KeyBits        int           `mapstructure:"key_bits"`
	UserValidity   time.Duration `mapstructure:"user_validity"`
	Organization   string        `mapstructure:"organization"`
	DomainNames    []string      `mapstructure:"domain_names"`
	IPAddresses    []string      `mapstructure:"ip_addresses"`
}

// Service is the provider certificate authority. It keeps the CA in memory and the
// end-user keys on disk under Dir/users.
type Service struct {
	CACertPath     string
	CAKeyPath      string
	ServerCertPath string
	ServerKeyPath  string

	dir          string
	keyBits      int
	userValidity time.Duration
	organization string
	domainNames  []string
	ipAddresses  []net.IP

	caCert *x509.Certificate
	caKey  *rsa.PrivateKey
}

func New(cfg Config) (*Service, error) {
	if cfg.Dir == "" {
		cfg.Dir = "./certs"
	}
	s := &Service{
		CACertPath:     orDefault(cfg.CACertPath, filepath.Join(cfg.Dir, "ca", "ca.crt")),
		CAKeyPath:      orDefault(cfg.CAKeyPath, filepath.Join(cfg.Dir, "ca", "ca.key")),
		ServerCertPath: orDefault(cfg.ServerCertPath, filepath.Join(cfg.Dir, "server", "server.crt")),
		ServerKeyPath:  orDefault(cfg.ServerKeyPath, filepath.Join(cfg.Dir, "server", "server.key")),
		dir:            cfg.Dir,
		keyBits:        cfg.KeyBits,
		userValidity:   cfg.UserValidity,
		organization:   orDefault(cfg.Organization, "Provider CA"),
		domainNames:    cfg.DomainNames,
	}
	if s.keyBits <= 0 {
		s.keyBits = 4096
	}
	if s.userValidity <= 0 {
		s.userValidity = 365 * 24 * time.Hour
	}
	if len(s.domainNames) == 0 {
		s.domainNames = []string{"localhost"}
	}
	for _, ip := range cfg.IPAddresses {
		parsed := net.ParseIP(ip)
		if parsed == nil {
			return nil, fmt.Errorf("invalid ip address %q", ip)
		}
		s.ipAddresses = append(s.ipAddresses, parsed)
	}
	if len(s.ipAddresses) == 0 {
		s.ipAddresses = []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")}
	}

	if err := s.ensureCertificates(); err != nil {
		return nil, fmt.Errorf("failed to ensure certificates: %w", err)
	}
	return s, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func (s *Service) CACert() *x509.Certificate {
	return s.caCert
}

func (s *Service) ensureCertificates() error {
	if !fileExists(s.CACertPath) || !fileExists(s.CAKeyPath) {
		slog.Info("CA certificate not found, generating new CA", "cert_path", s.CACertPath)

		caCert, caKey, err := generateCA(s.organization, s.keyBits)
		if err != nil {
			return fmt.Errorf("failed to generate CA certificate: %w", err)
		}
		if err := writePair(caCert, caKey, s.CACertPath, s.CAKeyPath); err != nil {
			return fmt.Errorf("failed to write CA: %w", err)
		}
		s.caCert, s.caKey = caCert, caKey
		slog.Info("Generated CA certificate", "cert_path", s.CACertPath, "key_path", s.CAKeyPath)
	} else {
		caCert, caKey, err := loadPair(s.CACertPath, s.CAKeyPath)
		if err != nil {
			return fmt.Errorf("failed to load existing CA certificate: %w", err)
		}
		s.caCert, s.caKey = caCert, caKey
		slog.Debug("Using existing CA certificate", "cert_path", s.CACertPath)
	}

	if fileExists(s.ServerCertPath) && fileExists(s.ServerKeyPath) {
		slog.Debug("Using existing server certificate", "cert_path", s.ServerCertPath)
		return nil
	}

	slog.Info("Server certificate not found, generating new server certificate",
		"cert_path", s.ServerCertPath,
		"domains", s.domainNames,
		"ips", s.ipAddresses)

	serverCert, serverKey, err := generateServerCert(s.caCert, s.caKey, s.organization, s.keyBits, s.domainNames, s.ipAddresses)
	if err != nil {
		return fmt.Errorf("failed to generate server certificate: %w", err)
	}
	if err := writePair(serverCert, serverKey, s.ServerCertPath, s.ServerKeyPath); err != nil {
		return fmt.Errorf("failed to write server certificate: %w", err)
	}
	slog.Info("Generated server certificate", "cert_path", s.ServerCertPath, "key_path", s.ServerKeyPath)
	return nil
}

func (s *Service) UserCertPath(id string) string {
	return filepath.Join(s.dir, "users", filepath.Base(id)+".crt")
}

func (s *Service) UserKeyPath(id string) string {
	return filepath.Join(s.dir, "users", filepath.Base(id)+".key")
}

// IssueUserCert creates a signing key for id and a certificate for it signed by the CA.
func (s *Service) IssueUserCert(id string, subject Subject) (*x509.Certificate, error) {
	slog.Info("Issuing user certificate", "certificate_id", id, "common_name", subject.CommonName)

	userCert, userKey, err := generateUserCert(s.caCert, s.caKey, s.keyBits, s.userValidity, subject)
	if err != nil {
		return nil, err
	}
	if err := writePair(userCert, userKey, s.UserCertPath(id), s.UserKeyPath(id)); err != nil {
		return nil, fmt.Errorf("failed to write user certificate: %w", err)
	}
	return userCert, nil
}

func (s *Service) UserKey(id string) (*rsa.PrivateKey, error) {
	path := s.UserKeyPath(id)
	if !fileExists(path) {
		return nil, ErrKeyNotFound
	}
	return loadKey(path)
}

// DestroyUserKey removes the private key of id. The certificate file is kept.
func (s *Service) DestroyUserKey(id string) error {
	err := os.Remove(s.UserKeyPath(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove user key: %w", err)
	}
	slog.Info("Destroyed user signing key", "certificate_id", id)
	return nil
}
