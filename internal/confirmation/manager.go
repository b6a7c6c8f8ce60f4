package confirmation

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/EternisAI/provider-ca/internal/operation"
	"github.com/skip2/go-qrcode"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultCodeLength = 6
	defaultQRSize     = 256
	defaultTTL        = 10 * time.Minute
	linkPath          = "/confirmations/"
)

type Config struct {
	PublicBaseURL   string                       `mapstructure:"public_base_url"`
	LinkSecret      string                       `mapstructure:"link_secret"`
	ChallengeTTL    time.Duration                `mapstructure:"challenge_ttl"`
	MaxCodeAttempts int                          `mapstructure:"max_code_attempts"`
	CodeLength      int                          `mapstructure:"code_length"`
	QRSize          int                          `mapstructure:"qr_size"`
	Default         operation.ConfirmationPolicy `mapstructure:"default"`
	Webhook         WebhookConfig                `mapstructure:"webhook"`
}

// Manager renders confirmation challenges. Rendering depends only on the operation's
// tenant, id and policy, so repeated calls produce identical presentations.
type Manager struct {
	baseURL     string
	secret      []byte
	ttl         time.Duration
	maxAttempts int
	codeLength  int
	qrSize      int
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.LinkSecret == "" {
		return nil, errors.New("confirmation link secret is required")
	}
	base, err := url.Parse(cfg.PublicBaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid public base url %q", cfg.PublicBaseURL)
	}

	m := &Manager{
		baseURL:     strings.TrimRight(cfg.PublicBaseURL, "/"),
		secret:      []byte(cfg.LinkSecret),
		ttl:         cfg.ChallengeTTL,
		maxAttempts: cfg.MaxCodeAttempts,
		codeLength:  cfg.CodeLength,
		qrSize:      cfg.QRSize,
	}
	if m.ttl <= 0 {
		m.ttl = defaultTTL
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = 5
	}
	if m.codeLength <= 0 {
		m.codeLength = defaultCodeLength
	}
	if m.qrSize <= 0 {
		m.qrSize = defaultQRSize
	}
	return m, nil
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func (m *Manager) MaxAttempts() int {
	return m.maxAttempts
}

// BuildChallenge renders the presentations enabled by the policy for the operation.
func (m *Manager) BuildChallenge(tenant, operationID string, policy operation.ConfirmationPolicy) ([]operation.Presentation, error) {
	link := m.Link(tenant, operationID)

	presentations := make([]operation.Presentation, 0, len(policy.Presentations))
	seen := make(map[operation.PresentationType]bool, len(policy.Presentations))
	for _, t := range policy.Presentations {
		if seen[t] {
			continue
		}
		seen[t] = true

		switch t {
		case operation.PresentationLink:
			presentations = append(presentations, operation.Presentation{Type: t, Data: link})
		case operation.PresentationQrCode:
			png, err := qrcode.Encode(link, qrcode.Medium, m.qrSize)
			if err != nil {
				return nil, fmt.Errorf("failed to render qr code: %w", err)
			}
			presentations = append(presentations, operation.Presentation{Type: t, Data: base64.StdEncoding.EncodeToString(png)})
		case operation.PresentationMobileAppPush:
			presentations = append(presentations, operation.Presentation{Type: t, Data: operationID})
		default:
			return nil, fmt.Errorf("unsupported presentation type %q", t)
		}
	}
	return presentations, nil
}

// Link is the approval URL the remote application opens for the operation. It names
// the tenant so the approval can be recorded on the tenant's operation record.
func (m *Manager) Link(tenant, operationID string) string {
	q := url.Values{}
	q.Set("tenant", tenant)
	q.Set("token", m.LinkToken(tenant, operationID))
	return m.baseURL + linkPath + url.PathEscape(operationID) + "?" + q.Encode()
}

func (m *Manager) LinkToken(tenant, operationID string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(tenant))
	mac.Write([]byte{0})
	mac.Write([]byte(operationID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (m *Manager) VerifyLinkToken(tenant, operationID, token string) bool {
	return hmac.Equal([]byte(m.LinkToken(tenant, operationID)), []byte(token))
}

// NewCode returns a fresh numeric confirmation code and its bcrypt hash.
func (m *Manager) NewCode() (string, string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(m.codeLength)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate confirmation code: %w", err)
	}
	code := fmt.Sprintf("%0*d", m.codeLength, n)

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash confirmation code: %w", err)
	}
	return code, string(hash), nil
}

// VerifyCode compares a submitted code against the stored hash in constant time.
func (m *Manager) VerifyCode(hash, code string) bool {
	if hash == "" || code == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
