// Package providers defines the adapter surface every payment
// processor integration implements. Services depend on the Adapter
// interface so Stripe, Paymob, and future processors stay swappable.
package providers

import (
	"context"

	"github.com/google/uuid"

	"github.com/nileshop/nileshop-backend/pkg/enums"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
)

// Intent statuses normalized across providers.
const (
	IntentStatusRequiresAction = "requires_action"
	IntentStatusProcessing     = "processing"
	IntentStatusSucceeded      = "succeeded"
	IntentStatusFailed         = "failed"
	IntentStatusCanceled       = "canceled"
)

// IntentRequest describes the charge a service wants the provider to set up.
type IntentRequest struct {
	OrderID        uuid.UUID
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// IntentHandle is the provider-side artifact the client continues payment with.
// Stripe populates ClientSecret; Paymob populates CheckoutURL.
type IntentHandle struct {
	IntentID     string
	ClientSecret string
	CheckoutURL  string
	Status       string
}

// RefundRequest targets a settled charge. ChargeID takes priority;
// IntentID is the fallback the adapter may resolve a charge from.
type RefundRequest struct {
	ChargeID    string
	IntentID    string
	AmountCents int64
	Reason      string
}

// RefundHandle reports the provider-side refund reference.
type RefundHandle struct {
	RefundID string
	Status   string
}

// Adapter is the per-processor integration surface.
type Adapter interface {
	Provider() enums.PaymentProvider
	CreateIntent(ctx context.Context, req IntentRequest) (*IntentHandle, error)
	RetrieveIntent(ctx context.Context, intentID string) (*IntentHandle, error)
	LookupChargeID(ctx context.Context, intentID string) (string, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundHandle, error)
}

// Transient wraps provider failures that a retry may resolve
// (timeouts, 5xx, connection resets).
func Transient(err error, message string) error {
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}

// Protocol wraps provider responses that violate the integration
// contract. Retrying will not help; a human needs to look.
func Protocol(err error, message string) error {
	return pkgerrors.Wrap(pkgerrors.CodeProtocol, err, message)
}

// IsTransient reports whether the error was produced by Transient.
func IsTransient(err error) bool {
	typed := pkgerrors.As(err)
	return typed != nil && typed.Code() == pkgerrors.CodeDependency
}
