package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseMinorUnits validates a positive integer amount already expressed in
// minor units and returns its canonical form.
func ParseMinorUnits(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: amount is required", ErrInvalidAmount)
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, value)
	}
	if !parsed.IsInteger() {
		return "", fmt.Errorf("%w: %q is not an integer amount of minor units", ErrInvalidAmount, value)
	}
	if !parsed.IsPositive() {
		return "", fmt.Errorf("%w: %q must be greater than zero", ErrInvalidAmount, value)
	}
	return parsed.String(), nil
}

// ToMinorUnits converts a decimal display amount ("10.00") into minor units
// for the given asset scale. Amounts finer than the scale are rejected.
func ToMinorUnits(display string, assetScale int) (string, error) {
	display = strings.TrimSpace(display)
	if display == "" {
		return "", fmt.Errorf("%w: amount is required", ErrInvalidAmount)
	}
	if assetScale < 0 {
		return "", fmt.Errorf("%w: asset scale %d is negative", ErrInvalidAmount, assetScale)
	}
	parsed, err := decimal.NewFromString(display)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, display)
	}
	shifted := parsed.Shift(int32(assetScale))
	if !shifted.IsInteger() {
		return "", fmt.Errorf("%w: %q has more precision than asset scale %d", ErrInvalidAmount, display, assetScale)
	}
	if !shifted.IsPositive() {
		return "", fmt.Errorf("%w: %q must be greater than zero", ErrInvalidAmount, display)
	}
	return shifted.String(), nil
}

// FormatAmount renders an amount in major units, e.g. "10.00 USD".
func FormatAmount(amount Amount) string {
	value, err := decimal.NewFromString(strings.TrimSpace(amount.Value))
	if err != nil {
		return strings.TrimSpace(amount.Value + " " + amount.AssetCode)
	}
	scale := amount.AssetScale
	if scale < 0 {
		scale = 0
	}
	formatted := value.Shift(-int32(scale)).StringFixed(int32(scale))
	return strings.TrimSpace(formatted + " " + amount.AssetCode)
}
