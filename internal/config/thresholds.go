package config

import (
	"fmt"
	"strings"
)

// Thresholds are the numeric bounds the Token-flow and NFT-movement
// analyzers compare against. DefaultThresholds is static, part of
// configuration, and changes only on restart, same as PriceTable; a Job's
// payload may override any subset for that Job (ThresholdsFromPayload).
type Thresholds struct {
	LargeTransfer      string // decimal wei; value >= this is a "large transfer"
	VolumeSpikePercent float64
	MassTransferCount  int
	WhaleTokenCount    int
	SuspiciousMintRate int
	HighActivitySpike  float64
}

// DefaultThresholds are the values used across all networks; there is no
// per-network tuning.
var DefaultThresholds = Thresholds{
	LargeTransfer:      "10000000000000000000", // 10^19
	VolumeSpikePercent: 50,
	MassTransferCount:  20,
	WhaleTokenCount:    50,
	SuspiciousMintRate: 10,
	HighActivitySpike:  50,
}

// WatchedAddresses is the operator-configured base watch list consulted for
// WATCHED_WALLET_ACTIVITY alerts in both the token-flow and NFT-movement
// analyzers. A Job's own payload.watchedAddresses extends this list for
// the lifetime of that Job.
var WatchedAddresses = map[string]struct{}{}

// IsWatched reports whether address (case-insensitively) is on the static
// watch list.
func IsWatched(address string) bool {
	_, ok := WatchedAddresses[strings.ToLower(address)]
	return ok
}

// ThresholdsFromPayload merges a Job's payload.thresholds over
// DefaultThresholds, so a job may override any subset of them. Unrecognised
// or wrong-typed fields are ignored rather than rejected, since payload is
// opaque to validation.
func ThresholdsFromPayload(payload map[string]interface{}) Thresholds {
	th := DefaultThresholds
	raw, ok := payload["thresholds"].(map[string]interface{})
	if !ok {
		return th
	}
	if v, ok := decimalString(raw["largeTransfer"]); ok {
		th.LargeTransfer = v
	}
	if v, ok := toFloat(raw["volumeSpike"]); ok {
		th.VolumeSpikePercent = v
	}
	if v, ok := toFloat(raw["massTransferCount"]); ok {
		th.MassTransferCount = int(v)
	}
	if v, ok := toFloat(raw["whaleTokenCount"]); ok {
		th.WhaleTokenCount = int(v)
	}
	if v, ok := toFloat(raw["suspiciousMintRate"]); ok {
		th.SuspiciousMintRate = int(v)
	}
	if v, ok := toFloat(raw["highActivitySpike"]); ok {
		th.HighActivitySpike = v
	}
	return th
}

// WatchedFromPayload returns the base WatchedAddresses set extended with a
// Job's own payload.watchedAddresses.
func WatchedFromPayload(payload map[string]interface{}) map[string]struct{} {
	set := make(map[string]struct{}, len(WatchedAddresses))
	for addr := range WatchedAddresses {
		set[addr] = struct{}{}
	}
	raw, ok := payload["watchedAddresses"].([]interface{})
	if !ok {
		return set
	}
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			set[strings.ToLower(s)] = struct{}{}
		}
	}
	return set
}

// IsWatchedIn reports whether address is in an explicit watch set, the
// per-job counterpart to IsWatched's static-table lookup.
func IsWatchedIn(set map[string]struct{}, address string) bool {
	_, ok := set[strings.ToLower(address)]
	return ok
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// decimalString coerces a JSON-decoded value (string, float64 from a plain
// number, or int) into the wei-scale decimal-string form thresholds are
// stored in.
func decimalString(v interface{}) (string, bool) {
	switch n := v.(type) {
	case string:
		if n != "" {
			return n, true
		}
	case float64:
		return fmt.Sprintf("%.0f", n), true
	case int:
		return fmt.Sprintf("%d", n), true
	}
	return "", false
}
