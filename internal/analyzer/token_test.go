package analyzer

import (
	"fmt"
	"testing"
	"time"

	"chainwatch/internal/config"
	"chainwatch/internal/feed"
	"chainwatch/internal/models"
)

func tokenTransfer(from, to, value, hash string, ts time.Time) feed.Item {
	return feed.Item{
		"from":      from,
		"to":        to,
		"value":     value,
		"hash":      hash,
		"status":    true,
		"timestamp": ts.Format(time.RFC3339),
	}
}

func TestMergeTokenMetrics_accumulatesVolumeAndAddresses(t *testing.T) {
	now := time.Now().UTC()
	fresh := []feed.Item{
		tokenTransfer("0xaaa0000000000000000000000000000000000a", "0xbbb000000000000000000000000000000000b", "1000", "0xh1", now),
	}

	merged, newLarge, newBurns, anyWatched := mergeTokenMetrics(models.TokenMetrics{}, fresh, config.DefaultThresholds, nil)

	if merged.CumulativeVolume != "1000" {
		t.Fatalf("expected cumulativeVolume=1000, got %s", merged.CumulativeVolume)
	}
	if merged.TotalTransfers != 1 {
		t.Fatalf("expected totalTransfers=1, got %d", merged.TotalTransfers)
	}
	if merged.Windows1h.TransferCount != 1 {
		t.Fatalf("expected windows1h.transferCount=1, got %d", merged.Windows1h.TransferCount)
	}
	if len(merged.UniqueAddresses) != 2 {
		t.Fatalf("expected 2 unique addresses, got %d", len(merged.UniqueAddresses))
	}
	if len(newLarge) != 0 {
		t.Fatalf("expected no large transfers below threshold, got %d", len(newLarge))
	}
	if len(newBurns) != 0 {
		t.Fatalf("expected no burns, got %d", len(newBurns))
	}
	if anyWatched {
		t.Fatal("expected anyWatched=false for unrelated addresses")
	}
}

func TestMergeTokenMetrics_detectsLargeTransferAndBurn(t *testing.T) {
	now := time.Now().UTC()
	fresh := []feed.Item{
		tokenTransfer("0xaaa0000000000000000000000000000000000a", zeroAddress, config.DefaultThresholds.LargeTransfer, "0xh2", now),
	}

	merged, newLarge, newBurns, _ := mergeTokenMetrics(models.TokenMetrics{}, fresh, config.DefaultThresholds, nil)

	if len(newLarge) != 1 {
		t.Fatalf("expected 1 large transfer, got %d", len(newLarge))
	}
	if len(newBurns) != 1 {
		t.Fatalf("expected 1 burn (transfer to zero address), got %d", len(newBurns))
	}
	if len(merged.LargeTransfers) != 1 || len(merged.BurnTransactions) != 1 {
		t.Fatalf("expected merged metrics to carry the large transfer and burn forward")
	}
}

func TestRollWindow_resetsAfterSpanElapsed(t *testing.T) {
	now := time.Now().UTC()
	stale := models.TokenWindow{Start: now.Add(-2 * time.Hour), Volume: "500", TransferCount: 3}

	rolled := rollWindow(stale, now, time.Hour)

	if rolled.Volume != "" || rolled.TransferCount != 0 {
		t.Fatalf("expected window to reset once its span elapsed, got %+v", rolled)
	}
}

func TestRollWindow_keepsAccumulatingWithinSpan(t *testing.T) {
	now := time.Now().UTC()
	fresh := models.TokenWindow{Start: now.Add(-10 * time.Minute), Volume: "500", TransferCount: 3}

	rolled := rollWindow(fresh, now, time.Hour)

	if rolled.Volume != "500" || rolled.TransferCount != 3 {
		t.Fatalf("expected window to be carried forward unchanged, got %+v", rolled)
	}
}

func TestTopNByField_ordersDescendingAndSkipsZero(t *testing.T) {
	stats := map[string]models.AddressFlowStats{
		"0xa": {TotalSent: "100"},
		"0xb": {TotalSent: "500"},
		"0xc": {TotalSent: "0"},
	}

	ranked := topNByField(stats, 10, func(s models.AddressFlowStats) string { return s.TotalSent })

	if len(ranked) != 2 {
		t.Fatalf("expected 2 ranked entries (zero excluded), got %d", len(ranked))
	}
	if ranked[0].Address != "0xb" {
		t.Fatalf("expected 0xb first (highest value), got %s", ranked[0].Address)
	}
}

func TestTokenAlerts_largeTransferAndBurn(t *testing.T) {
	merged := models.TokenMetrics{}
	newLarge := []models.TokenTransferRecord{{Hash: "0xh1"}}
	newBurns := []models.TokenTransferRecord{{Hash: "0xh2"}}

	alerts := tokenAlerts(merged, models.TokenWindow{}, newLarge, newBurns, false, config.DefaultThresholds)

	var sawLarge, sawBurn bool
	for _, a := range alerts {
		if a.Type == "LARGE_TRANSFER" {
			sawLarge = true
		}
		if a.Type == "BURN_DETECTED" {
			sawBurn = true
		}
	}
	if !sawLarge || !sawBurn {
		t.Fatalf("expected LARGE_TRANSFER and BURN_DETECTED alerts, got %+v", alerts)
	}
}

func TestTokenAlerts_volumeSpike(t *testing.T) {
	priorWindow := models.TokenWindow{Volume: "1000"}
	merged := models.TokenMetrics{Windows24h: models.TokenWindow{Volume: "2000"}}

	alerts := tokenAlerts(merged, priorWindow, nil, nil, false, config.DefaultThresholds)

	var sawSpike bool
	for _, a := range alerts {
		if a.Type == "VOLUME_SPIKE" {
			sawSpike = true
		}
	}
	if !sawSpike {
		t.Fatal("expected a VOLUME_SPIKE alert on a 100% 24h volume increase")
	}
}

func TestPercentIncrease(t *testing.T) {
	got := percentIncrease("1000", "2000")
	if got != 100 {
		t.Fatalf("expected 100%% increase, got %v", got)
	}
	if percentIncrease("0", "500") != 0 {
		t.Fatal("expected 0 when prior is zero, to avoid a division by zero")
	}
}

func TestTokenAlerts_whaleMovement(t *testing.T) {
	// Cumulative sent volume at 10x the large-transfer threshold.
	whaleVolume := addBig("0", config.DefaultThresholds.LargeTransfer)
	for i := 0; i < 9; i++ {
		whaleVolume = addBig(whaleVolume, config.DefaultThresholds.LargeTransfer)
	}
	merged := models.TokenMetrics{
		TopSenders: []models.AddressRanking{{Address: "0xwhale", Value: whaleVolume}},
	}

	alerts := tokenAlerts(merged, models.TokenWindow{}, nil, nil, false, config.DefaultThresholds)

	var saw bool
	for _, a := range alerts {
		if a.Type == "WHALE_MOVEMENT" && a.Severity == models.SeverityHigh {
			saw = true
		}
	}
	if !saw {
		t.Fatal("expected a WHALE_MOVEMENT alert at 10x the large-transfer threshold")
	}
}

func TestTokenAlerts_suspiciousPattern(t *testing.T) {
	// >100 cumulative transactions averaging under 100 per tx.
	merged := models.TokenMetrics{
		AddressStats: map[string]models.AddressFlowStats{
			"0xbot": {TotalSent: "5000", SentCount: 101},
		},
	}

	alerts := tokenAlerts(merged, models.TokenWindow{}, nil, nil, false, config.DefaultThresholds)

	var saw bool
	for _, a := range alerts {
		if a.Type == "SUSPICIOUS_PATTERN" {
			saw = true
		}
	}
	if !saw {
		t.Fatal("expected a SUSPICIOUS_PATTERN alert for high-count low-value activity")
	}
}

func TestMergeTokenMetrics_watchedAddress(t *testing.T) {
	now := time.Now().UTC()
	fresh := []feed.Item{
		tokenTransfer("0xaaa0000000000000000000000000000000000a", "0xbbb000000000000000000000000000000000b", "10", "0xh9", now),
	}
	watched := map[string]struct{}{"0xbbb000000000000000000000000000000000b": {}}

	_, _, _, anyWatched := mergeTokenMetrics(models.TokenMetrics{}, fresh, config.DefaultThresholds, watched)
	if !anyWatched {
		t.Fatal("expected the watched receiver to trip the watch flag")
	}
}

func TestTruncateTransfers_keepsMostRecent(t *testing.T) {
	list := make([]models.TokenTransferRecord, 0, 120)
	for i := 0; i < 120; i++ {
		list = append(list, models.TokenTransferRecord{Hash: fmt.Sprintf("0x%d", i)})
	}
	got := truncateTransfers(list, tokenLargeTransferCap)
	if len(got) != tokenLargeTransferCap {
		t.Fatalf("expected %d records, got %d", tokenLargeTransferCap, len(got))
	}
	if got[0].Hash != "0x20" || got[len(got)-1].Hash != "0x119" {
		t.Fatalf("expected oldest entries dropped, got first=%s last=%s", got[0].Hash, got[len(got)-1].Hash)
	}
}
