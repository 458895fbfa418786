package enums

import "fmt"

// LedgerEntryType is the direction of a wallet ledger entry.
type LedgerEntryType string

const (
	LedgerEntryTypeCredit LedgerEntryType = "credit"
	LedgerEntryTypeDebit  LedgerEntryType = "debit"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryTypeCredit,
	LedgerEntryTypeDebit,
}

// String implements fmt.Stringer.
func (t LedgerEntryType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known LedgerEntryType.
func (t LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// Sign returns +1 for credits and -1 for debits.
func (t LedgerEntryType) Sign() int64 {
	if t == LedgerEntryTypeDebit {
		return -1
	}
	return 1
}

// ParseLedgerEntryType converts raw input into a LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}
