package reconciler

import (
	"encoding/json"

	"github.com/nileshop/nileshop-backend/pkg/enums"
)

// Event is a provider notification normalized by the webhook
// controllers. The Variant carries what the event means; Payload keeps
// the raw body for audit.
type Event struct {
	Provider        enums.PaymentProvider
	ProviderEventID string
	Type            string
	Payload         json.RawMessage
	Variant         Variant
}

// Variant is the decoded meaning of a provider event.
type Variant interface {
	isVariant()
}

// PaymentSucceeded reports a settled charge against an intent.
type PaymentSucceeded struct {
	IntentID    string
	ChargeID    string
	AmountCents int64
	Currency    string
	Metadata    map[string]string
}

// PaymentFailed reports a definitively failed intent.
type PaymentFailed struct {
	IntentID string
	Reason   string
	Metadata map[string]string
}

// ChargeRefunded reports money returned on a previously settled charge.
type ChargeRefunded struct {
	ChargeID            string
	IntentID            string
	RefundedAmountCents int64
	Metadata            map[string]string
}

// Unrecognized covers event types the reconciler acknowledges without
// acting on.
type Unrecognized struct{}

func (PaymentSucceeded) isVariant() {}
func (PaymentFailed) isVariant()    {}
func (ChargeRefunded) isVariant()   {}
func (Unrecognized) isVariant()     {}
