package store

import "strconv"

// trimTrailingZeros renders f without a forced decimal tail (42 rather
// than 42.00), matching how lab values and reference ranges are quoted
// back to the patient and professional copies.
func trimTrailingZeros(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
