// Package util provides common utility functions for price calculations.
package util

import (
	"fmt"
	"math"
)

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// FormatLimitPrice renders a limit price the way the TDA order endpoint
// expects it: rounded to the penny, two decimal places, as a string.
func FormatLimitPrice(x float64) string {
	return fmt.Sprintf("%.2f", RoundToTick(x, 0.01))
}
