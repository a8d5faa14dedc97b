package analyzer

import "math/big"

// Wei amounts stay in math/big end to end and are stored and merged as
// decimal strings throughout the snapshot metrics.

func bigOf(s string) *big.Int {
	if s == "" {
		return big.NewInt(0)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return n
}

// addBig returns a+b as a decimal string.
func addBig(a, b string) string {
	return new(big.Int).Add(bigOf(a), bigOf(b)).String()
}

// cmpBig returns -1/0/1 as big.Int.Cmp does, comparing decimal strings.
func cmpBig(a, b string) int {
	return bigOf(a).Cmp(bigOf(b))
}

// gteBig reports whether a >= b.
func gteBig(a, b string) bool {
	return cmpBig(a, b) >= 0
}

// gtBig reports whether a > b.
func gtBig(a, b string) bool {
	return cmpBig(a, b) > 0
}
