package analyzer

import (
	"encoding/json"
	"testing"
	"time"

	"chainwatch/internal/feed"
)

func TestParseBigIntString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		in    interface{}
		want  string
		valid bool
	}{
		{name: "decimal string", in: "123456789012345678901234567890", want: "123456789012345678901234567890", valid: true},
		{name: "hex string", in: "0xff", want: "255", valid: true},
		{name: "hex string upper", in: "0XFF", want: "255", valid: true},
		{name: "bare 0x", in: "0x", valid: false},
		{name: "float64 integral", in: float64(42), want: "42", valid: true},
		{name: "float64 fractional", in: float64(42.5), valid: false},
		{name: "negative float64", in: float64(-1), valid: false},
		{name: "json number", in: json.Number("9000000000000000000000"), want: "9000000000000000000000", valid: true},
		{name: "empty string", in: "", valid: false},
		{name: "garbage", in: "not-a-number", valid: false},
		{name: "nil-ish type", in: true, valid: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parseBigIntString(tc.in)
			if ok != tc.valid {
				t.Fatalf("parseBigIntString(%v): ok=%v want %v", tc.in, ok, tc.valid)
			}
			if ok && got != tc.want {
				t.Fatalf("parseBigIntString(%v)=%q want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestGetBigStringFallsThroughKeys(t *testing.T) {
	t.Parallel()

	item := feed.Item{"amount": "777"}
	if got := getBigString(item, "value", "amount"); got != "777" {
		t.Fatalf("expected fallback key to be read, got %q", got)
	}
	if got := getBigString(feed.Item{}, "value"); got != "0" {
		t.Fatalf("expected default 0 for missing keys, got %q", got)
	}
}

func TestGetBool(t *testing.T) {
	t.Parallel()

	if !getBool(feed.Item{"status": true}, "status") {
		t.Fatal("expected bool true")
	}
	if !getBool(feed.Item{"status": "true"}, "status") {
		t.Fatal("expected string \"true\" parsed")
	}
	if getBool(feed.Item{"status": "bogus"}, "status") {
		t.Fatal("expected unparseable string to be false")
	}
	if getBool(feed.Item{}, "status") {
		t.Fatal("expected missing key to be false")
	}
}

func TestGetTime(t *testing.T) {
	t.Parallel()

	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	item := feed.Item{"timestamp": want.Format(time.RFC3339)}
	if got := getTime(item, "timestamp"); !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	unix := feed.Item{"timestamp": float64(want.Unix())}
	if got := getTime(unix, "timestamp"); !got.Equal(want) {
		t.Fatalf("expected unix seconds parsed, got %v", got)
	}
}

func TestBigHelpers(t *testing.T) {
	t.Parallel()

	if got := addBig("", "5"); got != "5" {
		t.Fatalf("addBig with empty operand: got %q", got)
	}
	if got := addBig("100000000000000000000", "1"); got != "100000000000000000001" {
		t.Fatalf("addBig overflow-scale: got %q", got)
	}
	if !gtBig("2", "1") || gtBig("1", "1") {
		t.Fatal("gtBig misbehaves")
	}
	if !gteBig("1", "1") || gteBig("0", "1") {
		t.Fatal("gteBig misbehaves")
	}
}
