package operation

import (
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindSigning  Kind = "signing"
	KindIssuance Kind = "issuance"
)

type State string

const (
	StateCreated              State = "created"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateConfirmed            State = "confirmed"
	StateSigned               State = "signed"
	StateIssued               State = "issued"
	StateFailed               State = "failed"
	StateCancelled            State = "cancelled"
)

func (s State) Terminal() bool {
	switch s {
	case StateSigned, StateIssued, StateFailed, StateCancelled:
		return true
	}
	return false
}

func (s State) Succeeded() bool {
	return s == StateSigned || s == StateIssued
}

// SuccessState returns the success-terminal state of the given kind.
func SuccessState(kind Kind) State {
	if kind == KindIssuance {
		return StateIssued
	}
	return StateSigned
}

var transitions = map[State][]State{
	StateCreated:              {StateAwaitingConfirmation, StateConfirmed, StateFailed, StateCancelled},
	StateAwaitingConfirmation: {StateAwaitingConfirmation, StateConfirmed, StateFailed, StateCancelled},
	StateConfirmed:            {StateSigned, StateIssued, StateFailed},
}

// CanTransition reports whether an operation of the given kind may move from one state to another.
func CanTransition(kind Kind, from, to State) bool {
	if to.Succeeded() && to != SuccessState(kind) {
		return false
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// PublicStatus is the small vocabulary exposed to callers.
type PublicStatus string

const (
	StatusInProgress  PublicStatus = "InProgress"
	StatusNeedConfirm PublicStatus = "NeedConfirm"
	StatusSuccess     PublicStatus = "Success"
	StatusFailed      PublicStatus = "Failed"
)

func (s State) Public() PublicStatus {
	switch s {
	case StateAwaitingConfirmation:
		return StatusNeedConfirm
	case StateSigned, StateIssued:
		return StatusSuccess
	case StateFailed, StateCancelled:
		return StatusFailed
	default:
		return StatusInProgress
	}
}

type PresentationType string

const (
	PresentationLink          PresentationType = "Link"
	PresentationQrCode        PresentationType = "QrCode"
	PresentationMobileAppPush PresentationType = "MobileAppPush"
)

func (p PresentationType) Valid() bool {
	switch p {
	case PresentationLink, PresentationQrCode, PresentationMobileAppPush:
		return true
	}
	return false
}

// ConfirmationPolicy selects how the end user confirms an operation.
type ConfirmationPolicy struct {
	Presentations []PresentationType `json:"presentations" mapstructure:"presentations"`
	RequireCode   bool               `json:"require_code" mapstructure:"require_code"`
}

// Interactive reports whether the policy needs any end-user action at all.
func (p ConfirmationPolicy) Interactive() bool {
	return len(p.Presentations) > 0 || p.RequireCode
}

type Presentation struct {
	Type PresentationType `json:"type"`
	Data string           `json:"data"`
}

// Challenge is embedded in the operation while it awaits confirmation.
type Challenge struct {
	Presentations []Presentation `json:"presentations"`
	CodeHash      string         `json:"code_hash,omitempty"`
	Attempts      int            `json:"attempts,omitempty"`
	IssuedAt      time.Time      `json:"issued_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
	// ApprovedAt is set once the end user approved the operation out of band.
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}

func (c *Challenge) HasCode() bool {
	return c != nil && c.CodeHash != ""
}

func (c *Challenge) Approved() bool {
	return c != nil && c.ApprovedAt != nil
}

func (c *Challenge) Expired(now time.Time) bool {
	return c == nil || !now.Before(c.ExpiresAt)
}

type Document struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
}

type SigningPayload struct {
	CertificateID         string     `json:"certificate_id"`
	CertificateThumbprint string     `json:"certificate_thumbprint"`
	DataType              string     `json:"data_type,omitempty"`
	Documents             []Document `json:"documents"`
}

type Applicant struct {
	Login              string `json:"login"`
	CommonName         string `json:"common_name"`
	Email              string `json:"email,omitempty"`
	Phone              string `json:"phone,omitempty"`
	Organization       string `json:"organization,omitempty"`
	OrganizationalUnit string `json:"organizational_unit,omitempty"`
	Locality           string `json:"locality,omitempty"`
	Country            string `json:"country,omitempty"`
}

type IssuancePayload struct {
	Applicant Applicant `json:"applicant"`
}

// Payload holds the kind-specific input; exactly one member is set.
type Payload struct {
	Signing  *SigningPayload  `json:"signing,omitempty"`
	Issuance *IssuancePayload `json:"issuance,omitempty"`
}

type Signature struct {
	DocumentName string `json:"document_name"`
	Signature    string `json:"signature"`
}

// Result holds the kind-specific output of a succeeded operation.
type Result struct {
	Signatures    []Signature `json:"signatures,omitempty"`
	CertificateID string      `json:"certificate_id,omitempty"`
	Serial        string      `json:"serial,omitempty"`
	Thumbprint    string      `json:"thumbprint,omitempty"`
}

type Operation struct {
	ID        string             `json:"id"`
	Kind      Kind               `json:"kind"`
	Tenant    string             `json:"tenant"`
	Login     string             `json:"login"`
	State     State              `json:"state"`
	Payload   Payload            `json:"payload"`
	Policy    ConfirmationPolicy `json:"policy"`
	Result    *Result            `json:"result,omitempty"`
	Challenge *Challenge         `json:"challenge,omitempty"`
	Error     string             `json:"error,omitempty"`
	Version   int64              `json:"version"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	ExpiresAt time.Time          `json:"expires_at"`
}

func (o *Operation) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// CheckInvariants verifies the result and challenge invariants of the current state.
func (o *Operation) CheckInvariants() error {
	if (o.Result != nil) != o.State.Succeeded() {
		return fmt.Errorf("operation %s: result must be set exactly in a success state (state %s)", o.ID, o.State)
	}
	if (o.Challenge != nil) != (o.State == StateAwaitingConfirmation) {
		return fmt.Errorf("operation %s: challenge must be set exactly while awaiting confirmation (state %s)", o.ID, o.State)
	}
	return nil
}

// Clone returns a deep copy, so stores never share mutable state with callers.
func (o *Operation) Clone() *Operation {
	data, err := json.Marshal(o)
	if err != nil {
		panic(fmt.Sprintf("operation: clone marshal: %v", err))
	}
	var c Operation
	if err := json.Unmarshal(data, &c); err != nil {
		panic(fmt.Sprintf("operation: clone unmarshal: %v", err))
	}
	return &c
}
