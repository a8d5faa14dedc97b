package condition

import "testing"

func TestEvaluateOp(t *testing.T) {
	cases := []struct {
		op, actual, expected string
		want                 bool
	}{
		{"==", "USDC", "usdc", true},
		{"!=", "USDC", "WETH", true},
		{">", "100", "50", true},
		{"<", "10", "50", true},
		{">=", "50", "50", true},
		{"<=", "49.5", "50", true},
		{"gt", "abc", "50", false},
		{"contains", "Uniswap Router", "router", true},
		{"not_contains", "Uniswap Router", "curve", true},
		{"starts_with", "0xABCDEF", "0xabc", true},
		{"unknown_op", "a", "a", false},
	}
	for _, c := range cases {
		got := EvaluateOp(c.op, c.actual, c.expected)
		if got != c.want {
			t.Errorf("EvaluateOp(%q, %q, %q) = %v, want %v", c.op, c.actual, c.expected, got, c.want)
		}
	}
}
