package chainstate

import "math/big"

// bigFromSeconds converts a duration expressed as seconds (already clamped
// to sane bounds by the caller) into a *big.Int, truncating any fraction.
func bigFromSeconds(seconds float64) *big.Int {
	return big.NewInt(int64(seconds))
}
