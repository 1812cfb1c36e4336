package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
	ErrOutOfRange      = errors.New("amount out of range")
)

const (
	Scale = 2
	// IntegerDigits matches the NUMERIC(20,2) money columns.
	IntegerDigits = 18
)

// Max is the largest value a money column can hold.
var Max = decimal.New(1, IntegerDigits).Sub(decimal.New(1, -Scale))

// InRange reports whether value fits a money column.
func InRange(value decimal.Decimal) bool {
	return value.Abs().LessThanOrEqual(Max)
}

// Parse reads a decimal amount such as "12", "12.5" or "-3.25". At most two
// fractional digits and IntegerDigits integer digits are accepted.
func Parse(input string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	unsigned := strings.TrimLeft(trimmed, "+-")
	if len(trimmed)-len(unsigned) > 1 || unsigned == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	parts := strings.SplitN(unsigned, ".", 2)
	if !isDigits(parts[0]) {
		return decimal.Zero, ErrInvalidAmount
	}
	if len(strings.TrimLeft(parts[0], "0")) > IntegerDigits {
		return decimal.Zero, ErrOutOfRange
	}
	if len(parts) == 2 {
		if !isDigits(parts[1]) {
			return decimal.Zero, ErrInvalidAmount
		}
		if len(parts[1]) > Scale {
			return decimal.Zero, ErrTooManyDecimals
		}
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return value, nil
}

// ParsePositive is Parse restricted to amounts strictly greater than zero.
func ParsePositive(input string) (decimal.Decimal, error) {
	value, err := Parse(input)
	if err != nil {
		return decimal.Zero, err
	}
	if !value.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return value, nil
}

func Format(value decimal.Decimal) string {
	return value.StringFixedBank(Scale)
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
