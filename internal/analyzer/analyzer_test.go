package analyzer

import (
	"errors"
	"fmt"
	"testing"

	"chainwatch/internal/feed"
	"chainwatch/internal/models"
)

func TestValidateAddress(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		address string
		valid   bool
	}{
		{name: "valid lowercase", address: "0xabcdef0123456789abcdef0123456789abcdef01", valid: true},
		{name: "valid mixed case", address: "0xABCdef0123456789abcdef0123456789abcdef01", valid: true},
		{name: "missing prefix", address: "abcdef0123456789abcdef0123456789abcdef01", valid: false},
		{name: "too short", address: "0xabcdef", valid: false},
		{name: "too long", address: "0xabcdef0123456789abcdef0123456789abcdef0123", valid: false},
		{name: "non-hex characters", address: "0xzzcdef0123456789abcdef0123456789abcdef01", valid: false},
		{name: "empty", address: "", valid: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateAddress(tc.address)
			if tc.valid && err != nil {
				t.Fatalf("expected %q valid, got %v", tc.address, err)
			}
			if !tc.valid {
				if err == nil {
					t.Fatalf("expected %q rejected", tc.address)
				}
				if !errors.Is(err, ErrInvalidAddress) {
					t.Fatalf("expected ErrInvalidAddress, got %v", err)
				}
			}
		})
	}
}

func TestDedupeHashes(t *testing.T) {
	t.Parallel()

	items := []feed.Item{
		{"hash": "0xh1"},
		{"txHash": "0xh2"},
		{"hash": "0xh3"},
		{"unrelated": true}, // no hash under any candidate key
	}
	known := map[string]struct{}{"0xh2": {}}

	fresh, hashes := dedupeHashes(items, known, "hash", "txHash", "transactionHash")

	if len(fresh) != 2 || len(hashes) != 2 {
		t.Fatalf("expected 2 fresh items, got %d items / %d hashes", len(fresh), len(hashes))
	}
	if hashes[0] != "0xh1" || hashes[1] != "0xh3" {
		t.Fatalf("expected feed order preserved, got %v", hashes)
	}
}

func TestAppendFIFO(t *testing.T) {
	t.Parallel()

	list := []string{"a", "b", "c"}
	got := appendFIFO(list, []string{"d", "e"}, 4)
	if len(got) != 4 {
		t.Fatalf("expected truncation to 4, got %d", len(got))
	}
	if got[0] != "b" || got[3] != "e" {
		t.Fatalf("expected oldest entries dropped first, got %v", got)
	}

	got = appendFIFO(nil, []string{"x"}, 0)
	if len(got) != 1 {
		t.Fatalf("expected max=0 to mean unbounded, got %v", got)
	}
}

func TestClampRisk(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want int }{
		{-3, 1}, {0, 1}, {1, 1}, {5, 5}, {10, 10}, {37, 10},
	}
	for _, tc := range cases {
		if got := clampRisk(tc.in); got != tc.want {
			t.Errorf("clampRisk(%d)=%d want %d", tc.in, got, tc.want)
		}
	}
}

func TestAlertScoreContribution(t *testing.T) {
	t.Parallel()

	alerts := []models.Alert{
		{Severity: models.SeverityHigh},
		{Severity: models.SeverityHigh},
		{Severity: models.SeverityMedium},
		{Severity: models.SeverityLow},
	}
	if got := alertScoreContribution(alerts); got != 5 {
		t.Fatalf("expected 2x2 + 1 = 5 (LOW contributes nothing), got %d", got)
	}
}

func TestSinkEntriesAreOrdered(t *testing.T) {
	t.Parallel()

	sink := NewSink()
	for i := 0; i < 5; i++ {
		sink.Log(models.LevelInfo, fmt.Sprintf("line %d", i))
	}

	entries := sink.Entries()
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			t.Fatalf("sink entries not monotone at index %d", i)
		}
	}
	if entries[0].Message != "line 0" || entries[4].Message != "line 4" {
		t.Fatal("sink did not preserve append order")
	}
}
