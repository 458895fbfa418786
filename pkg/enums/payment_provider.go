package enums

import "fmt"

// PaymentProvider identifies the system that moved (or holds) the funds.
type PaymentProvider string

const (
	PaymentProviderStripe PaymentProvider = "stripe"
	PaymentProviderPaymob PaymentProvider = "paymob"
	PaymentProviderWallet PaymentProvider = "wallet"
)

var validPaymentProviders = []PaymentProvider{
	PaymentProviderStripe,
	PaymentProviderPaymob,
	PaymentProviderWallet,
}

// String implements fmt.Stringer.
func (p PaymentProvider) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentProvider.
func (p PaymentProvider) IsValid() bool {
	for _, candidate := range validPaymentProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsExternal reports whether the provider is a remote payment processor
// (as opposed to the internal wallet ledger).
func (p PaymentProvider) IsExternal() bool {
	return p == PaymentProviderStripe || p == PaymentProviderPaymob
}

// ParsePaymentProvider converts raw input into a PaymentProvider.
func ParsePaymentProvider(value string) (PaymentProvider, error) {
	for _, candidate := range validPaymentProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment provider %q", value)
}
