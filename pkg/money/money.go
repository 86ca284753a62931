package money

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// PriceScale is the number of decimal places prices and position
// quantities are stored with. A close of 123.45 is persisted as
// 12345000000 base units.
const PriceScale = 8

// ToBaseUnits converts a human-readable amount string to base units (big.Int)
// Handles decimal inputs like "0.0005" → 50000 (with 8 decimals)
// "1.5" → 150000000
func ToBaseUnits(amountStr string, decimals int) (*big.Int, error) {
	if amountStr == "" {
		return nil, fmt.Errorf("amount is required")
	}

	// Use string manipulation to avoid floating point precision issues
	parts := strings.Split(amountStr, ".")

	intPart := parts[0]
	if intPart == "" {
		intPart = "0"
	}

	negative := strings.HasPrefix(intPart, "-")
	if negative {
		intPart = intPart[1:]
		if intPart == "" {
			intPart = "0"
		}
	}

	decPart := ""
	if len(parts) > 1 {
		decPart = parts[1]
	}

	// Pad or truncate decimal part to match decimals
	if len(decPart) < decimals {
		decPart = decPart + strings.Repeat("0", decimals-len(decPart))
	} else if len(decPart) > decimals {
		decPart = decPart[:decimals]
	}

	combined := intPart + decPart

	// Remove leading zeros (but keep at least one digit)
	combined = strings.TrimLeft(combined, "0")
	if combined == "" {
		combined = "0"
	}
	if negative {
		combined = "-" + combined
	}

	result := new(big.Int)
	if _, ok := result.SetString(combined, 10); !ok {
		return nil, fmt.Errorf("invalid amount format")
	}

	return result, nil
}

// FromBaseUnits converts base units (big.Int) to a human-readable string
// E.g., 150000000 with 8 decimals → "1.5"
func FromBaseUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}

	str := amount.String()
	negative := strings.HasPrefix(str, "-")
	if negative {
		str = str[1:]
	}
	if decimals == 0 {
		if negative {
			return "-" + str
		}
		return str
	}

	for len(str) <= decimals {
		str = "0" + str
	}

	pos := len(str) - decimals
	result := str[:pos] + "." + str[pos:]

	result = strings.TrimRight(result, "0")
	result = strings.TrimRight(result, ".")

	if result == "" {
		return "0"
	}
	if negative {
		result = "-" + result
	}

	return result
}

// FromFloat converts a float to base units by formatting to the target
// precision first, so 123.45 with 8 decimals yields exactly 12345000000.
func FromFloat(value float64, decimals int) (*big.Int, error) {
	return ToBaseUnits(strconv.FormatFloat(value, 'f', decimals, 64), decimals)
}

// Value computes (quantity * price) / 10^decimals. Both operands are in
// base units; the result stays in base units.
func Value(quantity, price *big.Int, decimals int) *big.Int {
	if quantity == nil || price == nil || price.Sign() == 0 {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(quantity, price)
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	value.Div(value, divisor)
	return value
}
