package server

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	// ZeroAddress is the Ethereum zero/burn address
	ZeroAddress = "0x0000000000000000000000000000000000000000"

	// MaxAmountDigits is the maximum number of characters allowed in an amount
	MaxAmountDigits = 78 // uint256 max is ~78 digits

	// MaxEtherDecimals is the precision of one wei
	MaxEtherDecimals = 18

	DefaultTransactionLimit = 10
	MaxTransactionLimit     = 100
)

var networkPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateAddress validates an Ethereum address format
func ValidateAddress(field, address string) error {
	if address == "" {
		return &ValidationError{Field: field, Message: "address is required"}
	}

	if !common.IsHexAddress(address) {
		return &ValidationError{Field: field, Message: fmt.Sprintf("invalid address format: %s", address)}
	}

	return nil
}

// ValidateRecipientAddress validates a recipient address - must be valid AND not the zero address
func ValidateRecipientAddress(field, address string) error {
	if err := ValidateAddress(field, address); err != nil {
		return err
	}

	// Prevent sending to zero/burn address
	if strings.EqualFold(address, ZeroAddress) {
		return &ValidationError{
			Field:   field,
			Message: "cannot send to zero address (burn address) - this would permanently destroy funds",
		}
	}

	return nil
}

// ValidateAmount validates a positive decimal ether amount
func ValidateAmount(field, amount string) error {
	if amount == "" {
		return &ValidationError{Field: field, Message: "amount is required"}
	}

	// Check for excessive length (overflow protection)
	if len(amount) > MaxAmountDigits {
		return &ValidationError{Field: field, Message: "amount exceeds maximum allowed digits"}
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return &ValidationError{Field: field, Message: fmt.Sprintf("invalid amount format: %s", amount)}
	}

	if d.IsNegative() {
		return &ValidationError{Field: field, Message: "amount cannot be negative"}
	}

	if d.IsZero() {
		return &ValidationError{Field: field, Message: "amount cannot be zero"}
	}

	if !d.Shift(MaxEtherDecimals).IsInteger() {
		return &ValidationError{Field: field, Message: fmt.Sprintf("amount has more than %d decimal places", MaxEtherDecimals)}
	}

	return nil
}

// ValidateNetwork validates an optional network name
func ValidateNetwork(network string) error {
	if network == "" {
		return nil
	}

	if !networkPattern.MatchString(network) {
		return &ValidationError{Field: "network", Message: fmt.Sprintf("invalid network name: %s", network)}
	}

	return nil
}

// NormalizeLimit applies the default and the upper bound to a requested
// transaction limit. Values below one are rejected.
func NormalizeLimit(limit *int) (int, error) {
	if limit == nil {
		return DefaultTransactionLimit, nil
	}

	if *limit < 1 {
		return 0, &ValidationError{Field: "limit", Message: "limit must be at least 1"}
	}

	return min(*limit, MaxTransactionLimit), nil
}
