package confirmation

import (
	"context"
	"errors"
	"fmt"

	"github.com/EternisAI/provider-ca/internal/operation"
)

var (
	ErrPolicyNotFound          = errors.New("confirmation policy not found")
	ErrUnsupportedPresentation = errors.New("unsupported presentation type")
	// ErrCodeDeliveryUnavailable rejects policies requiring a code while no notifier
	// can hand the code to the end user.
	ErrCodeDeliveryUnavailable = errors.New("confirmation codes cannot be delivered: no code-delivering notifier is configured")
)

// OptionsStore keeps confirmation policies per tenant. An empty login addresses the
// tenant default.
type OptionsStore interface {
	GetPolicy(ctx context.Context, tenant, login string) (operation.ConfirmationPolicy, error)
	SetPolicy(ctx context.Context, tenant, login string, policy operation.ConfirmationPolicy) error
}

// SupportedPresentations lists every presentation type the service can render.
var SupportedPresentations = []operation.PresentationType{
	operation.PresentationLink,
	operation.PresentationQrCode,
	operation.PresentationMobileAppPush,
}

// ValidatePolicy checks the presentations of policy. RequireCode is accepted only when
// codeDelivery reports that codes reach the end user.
func ValidatePolicy(policy operation.ConfirmationPolicy, codeDelivery bool) error {
	for _, t := range policy.Presentations {
		if !t.Valid() {
			return fmt.Errorf("%w %q", ErrUnsupportedPresentation, t)
		}
	}
	if policy.RequireCode && !codeDelivery {
		return ErrCodeDeliveryUnavailable
	}
	return nil
}

// Resolver picks the effective policy: user override, then tenant default, then the
// service-wide default.
type Resolver struct {
	store        OptionsStore
	fallback     operation.ConfirmationPolicy
	codeDelivery bool
}

func NewResolver(store OptionsStore, fallback operation.ConfirmationPolicy, codeDelivery bool) *Resolver {
	return &Resolver{store: store, fallback: fallback, codeDelivery: codeDelivery}
}

func (r *Resolver) Validate(policy operation.ConfirmationPolicy) error {
	return ValidatePolicy(policy, r.codeDelivery)
}

func (r *Resolver) Resolve(ctx context.Context, tenant, login string) (operation.ConfirmationPolicy, error) {
	if login != "" {
		policy, err := r.store.GetPolicy(ctx, tenant, login)
		if err == nil {
			return policy, nil
		}
		if !errors.Is(err, ErrPolicyNotFound) {
			return operation.ConfirmationPolicy{}, fmt.Errorf("load user policy: %w", err)
		}
	}
	return r.TenantDefault(ctx, tenant)
}

func (r *Resolver) TenantDefault(ctx context.Context, tenant string) (operation.ConfirmationPolicy, error) {
	policy, err := r.store.GetPolicy(ctx, tenant, "")
	if err == nil {
		return policy, nil
	}
	if errors.Is(err, ErrPolicyNotFound) {
		return r.fallback, nil
	}
	return operation.ConfirmationPolicy{}, fmt.Errorf("load tenant policy: %w", err)
}

func (r *Resolver) Set(ctx context.Context, tenant, login string, policy operation.ConfirmationPolicy) error {
	if err := r.Validate(policy); err != nil {
		return err
	}
	return r.store.SetPolicy(ctx, tenant, login, policy)
}
