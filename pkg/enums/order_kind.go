package enums

import "fmt"

// OrderKind separates regular purchases from synthetic wallet top-up
// orders created by the funding flow.
type OrderKind string

const (
	OrderKindPurchase    OrderKind = "purchase"
	OrderKindWalletTopup OrderKind = "wallet_topup"
)

var validOrderKinds = []OrderKind{
	OrderKindPurchase,
	OrderKindWalletTopup,
}

func (k OrderKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known OrderKind.
func (k OrderKind) IsValid() bool {
	for _, candidate := range validOrderKinds {
		if k == candidate {
			return true
		}
	}
	return false
}

// ParseOrderKind converts raw input into an OrderKind.
func ParseOrderKind(value string) (OrderKind, error) {
	for _, candidate := range validOrderKinds {
		if OrderKind(value) == candidate {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order kind: %q", value)
}
