package ledger

import (
	"math/big"
	"strings"
)

// maxAmountBits bounds amounts to a signed 128-bit value, the widest
// integer the ledger's host format carries.
const maxAmountBits = 127

// ValidateAmount enforces the amount invariants: strictly positive and
// within the 128-bit ledger range. Amounts are integers in the smallest
// asset unit.
func ValidateAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return validationf("amount must be a positive integer")
	}
	if amount.BitLen() > maxAmountBits {
		return validationf("amount exceeds the ledger's 128-bit range")
	}
	return nil
}

// ParseAmount reads a base-10 amount string and validates it.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, validationf("amount must be a base-10 integer")
	}
	if err := ValidateAmount(v); err != nil {
		return nil, err
	}
	return v, nil
}
