package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// SurchargeBasisPoints is the service fee applied on top of the cart
// subtotal at checkout (5%).
const SurchargeBasisPoints int64 = 500

// Surcharge returns the service fee for a subtotal in the smallest
// currency unit, rounded half-up.
func Surcharge(subtotal int64) int64 {
	return (subtotal*SurchargeBasisPoints + 5000) / 10000
}

// TotalCharged returns subtotal plus surcharge, equal to the subtotal
// multiplied by 1.05 and rounded half-up to the cent.
func TotalCharged(subtotal int64) int64 {
	return subtotal + Surcharge(subtotal)
}

// NormalizePrice converts a scraped price string into a canonical
// dot-decimal amount with at most two fraction digits.
//
// Everything outside digits, comma and dot is discarded first, so
// currency symbols and thousands spacing never matter. When both
// separators appear the rightmost one is the decimal mark and the other
// is grouping ("1.234,56" -> "1234.56"). A separator that only groups
// three-digit blocks is dropped ("1.234" -> "1234"); any other single
// separator is the decimal mark ("29,99" -> "29.99"). Unparseable input
// returns the empty string.
func NormalizePrice(raw string) string {
	cleaned := stripNonPrice(raw)
	if cleaned == "" || !strings.ContainsAny(cleaned, "0123456789") {
		return ""
	}

	lastDot := strings.LastIndexByte(cleaned, '.')
	lastComma := strings.LastIndexByte(cleaned, ',')

	var decimal byte
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			decimal = '.'
		} else {
			decimal = ','
		}
	case lastDot >= 0:
		if !groupingOnly(cleaned, '.') {
			decimal = '.'
		}
	case lastComma >= 0:
		if !groupingOnly(cleaned, ',') {
			decimal = ','
		}
	}

	intPart, fracPart := splitAmount(cleaned, decimal)
	if intPart == "" && fracPart == "" {
		return ""
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > 2 {
		fracPart = fracPart[:2]
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	return intPart + "." + fracPart
}

// ParseCents converts a canonical dot-decimal price into the smallest
// currency unit. Callers normalize first; anything else is an error.
func ParseCents(normalized string) (int64, error) {
	if normalized == "" {
		return 0, fmt.Errorf("empty price")
	}
	intPart := normalized
	fracPart := "00"
	if idx := strings.IndexByte(normalized, '.'); idx >= 0 {
		intPart = normalized[:idx]
		fracPart = normalized[idx+1:]
	}
	if len(fracPart) != 2 {
		return 0, fmt.Errorf("price %q: want two fraction digits", normalized)
	}
	units, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("price %q: %w", normalized, err)
	}
	cents, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("price %q: %w", normalized, err)
	}
	return units*100 + cents, nil
}

// FormatCents renders the smallest currency unit as a dot-decimal string.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ClampPriceInput truncates a user-edited price to two fraction digits
// without rounding, preserving whatever separator the user typed so the
// input field stays stable while editing.
func ClampPriceInput(input string) string {
	cleaned := stripNonPrice(input)
	sepIdx := strings.LastIndexAny(cleaned, ".,")
	if sepIdx < 0 {
		return cleaned
	}
	frac := cleaned[sepIdx+1:]
	if len(frac) > 2 {
		frac = frac[:2]
	}
	return cleaned[:sepIdx+1] + frac
}

func stripNonPrice(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// groupingOnly reports whether every occurrence of sep is followed by a
// block of exactly three digits up to the next separator or the end, the
// reading that makes sep a thousands mark rather than a decimal point.
func groupingOnly(s string, sep byte) bool {
	groups := strings.Split(s, string(sep))
	if len(groups) < 2 {
		return false
	}
	if groups[0] == "" {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}

// splitAmount separates the integer and fraction parts of cleaned input,
// dropping every separator except the decimal mark.
func splitAmount(cleaned string, decimal byte) (string, string) {
	decIdx := -1
	if decimal != 0 {
		decIdx = strings.LastIndexByte(cleaned, decimal)
	}
	var intPart, fracPart strings.Builder
	for i := 0; i < len(cleaned); i++ {
		c := cleaned[i]
		if c < '0' || c > '9' {
			continue
		}
		if decIdx >= 0 && i > decIdx {
			fracPart.WriteByte(c)
		} else {
			intPart.WriteByte(c)
		}
	}
	return intPart.String(), fracPart.String()
}
