package storage

import "math"

// Round6 rounds a monetary amount to six decimal places, the precision of
// the billing tables.
func Round6(amount float64) float64 {
	return math.Round(amount*1e6) / 1e6
}
