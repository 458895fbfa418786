package paymob

import (
	"context"
	"strconv"
	"strings"

	"github.com/nileshop/nileshop-backend/internal/providers"
	"github.com/nileshop/nileshop-backend/pkg/enums"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
)

// Adapter implements providers.Adapter on Paymob Accept's hosted
// checkout. The intent id is the Accept order id; the charge id is the
// Accept transaction id settled against that order.
type Adapter struct {
	client *Client
}

// NewAdapter returns a Paymob-backed payment adapter.
func NewAdapter(client *Client) (*Adapter, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "paymob client required")
	}
	return &Adapter{client: client}, nil
}

func (a *Adapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderPaymob
}

// CreateIntent walks Accept's auth, order, payment-key chain and hands
// back the hosted checkout URL. The idempotency key folds into
// merchant_order_id so replays collide on Accept's duplicate check
// instead of creating a second order.
func (a *Adapter) CreateIntent(ctx context.Context, req providers.IntentRequest) (*providers.IntentHandle, error) {
	authToken, err := a.client.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	merchantOrderID := req.OrderID.String()
	if req.IdempotencyKey != "" {
		merchantOrderID = merchantOrderID + ":" + req.IdempotencyKey
	}

	currency := strings.ToUpper(req.Currency)
	paymobOrderID, err := a.client.RegisterOrder(ctx, authToken, merchantOrderID, currency, req.AmountCents)
	if err != nil {
		return nil, err
	}

	paymentKey, err := a.client.CreatePaymentKey(ctx, authToken, paymobOrderID, req.AmountCents, currency, billingFromMetadata(req.Metadata))
	if err != nil {
		return nil, err
	}

	return &providers.IntentHandle{
		IntentID:     strconv.FormatInt(paymobOrderID, 10),
		ClientSecret: paymentKey,
		CheckoutURL:  a.client.IframeURL(paymentKey),
		Status:       providers.IntentStatusRequiresAction,
	}, nil
}

// RetrieveIntent resolves the Accept order's transaction state.
func (a *Adapter) RetrieveIntent(ctx context.Context, intentID string) (*providers.IntentHandle, error) {
	paymobOrderID, err := parseIntentID(intentID)
	if err != nil {
		return nil, err
	}

	authToken, err := a.client.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	inquiry, err := a.client.InquireTransaction(ctx, authToken, paymobOrderID)
	if err != nil {
		return nil, err
	}

	return &providers.IntentHandle{
		IntentID: intentID,
		Status:   statusFromInquiry(inquiry),
	}, nil
}

// LookupChargeID returns the Accept transaction id settled against the
// order, or empty when nothing has settled yet.
func (a *Adapter) LookupChargeID(ctx context.Context, intentID string) (string, error) {
	paymobOrderID, err := parseIntentID(intentID)
	if err != nil {
		return "", err
	}

	authToken, err := a.client.Authenticate(ctx)
	if err != nil {
		return "", err
	}

	inquiry, err := a.client.InquireTransaction(ctx, authToken, paymobOrderID)
	if err != nil {
		return "", err
	}
	if inquiry == nil || inquiry.ID == 0 {
		return "", nil
	}
	return strconv.FormatInt(inquiry.ID, 10), nil
}

// Refund voids or refunds the Accept transaction behind the charge.
func (a *Adapter) Refund(ctx context.Context, req providers.RefundRequest) (*providers.RefundHandle, error) {
	chargeID := req.ChargeID
	if chargeID == "" && req.IntentID != "" {
		resolved, err := a.LookupChargeID(ctx, req.IntentID)
		if err != nil {
			return nil, err
		}
		chargeID = resolved
	}
	if chargeID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge id or intent id required")
	}

	authToken, err := a.client.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	result, err := a.client.Refund(ctx, authToken, chargeID, req.AmountCents)
	if err != nil {
		return nil, err
	}

	status := "pending"
	if result.Success {
		status = "succeeded"
	}
	return &providers.RefundHandle{
		RefundID: strconv.FormatInt(result.ID, 10),
		Status:   status,
	}, nil
}

func parseIntentID(intentID string) (int64, error) {
	id, err := strconv.ParseInt(intentID, 10, 64)
	if err != nil || id <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid paymob order id")
	}
	return id, nil
}

func statusFromInquiry(inquiry *TransactionInquiry) string {
	switch {
	case inquiry == nil || inquiry.ID == 0:
		return providers.IntentStatusRequiresAction
	case inquiry.Success && !inquiry.IsRefunded && !inquiry.IsVoided:
		return providers.IntentStatusSucceeded
	case inquiry.Pending:
		return providers.IntentStatusProcessing
	case inquiry.ErrorOccurred:
		return providers.IntentStatusFailed
	default:
		return providers.IntentStatusRequiresAction
	}
}

func billingFromMetadata(metadata map[string]string) BillingData {
	return BillingData{
		Email:       metadata["email"],
		FirstName:   metadata["first_name"],
		LastName:    metadata["last_name"],
		PhoneNumber: metadata["phone_number"],
		Street:      metadata["street"],
		City:        metadata["city"],
		Country:     metadata["country"],
	}
}
