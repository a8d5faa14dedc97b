package analyzer

import (
	"testing"
	"time"

	"chainwatch/internal/config"
	"chainwatch/internal/feed"
	"chainwatch/internal/models"
)

func transferItem(from, to, tokenID, hash string, ts time.Time) feed.Item {
	return feed.Item{
		"from":      from,
		"to":        to,
		"tokenId":   tokenID,
		"hash":      hash,
		"status":    true,
		"timestamp": ts.Format(time.RFC3339),
	}
}

func TestMergeNFTMetrics_firstCycleMintsAndTransfers(t *testing.T) {
	now := time.Now().UTC()
	fresh := []feed.Item{
		transferItem(zeroAddress, "0xaaa0000000000000000000000000000000000a", "1", "0xh1", now),
		transferItem("0xaaa0000000000000000000000000000000000a", "0xbbb000000000000000000000000000000000b", "1", "0xh2", now),
	}

	merged, mints, _, _ := mergeNFTMetrics(models.NFTMetrics{}, fresh, nil)

	if len(mints) != 1 {
		t.Fatalf("expected 1 mint, got %d", len(mints))
	}
	if merged.TotalTransfers != 2 {
		t.Fatalf("expected totalTransfers=2, got %d", merged.TotalTransfers)
	}
	if merged.CurrentHolders["1"] != "0xbbb000000000000000000000000000000000b" {
		t.Fatalf("expected tokenId 1 held by 0xbbb..., got %q", merged.CurrentHolders["1"])
	}
	if merged.TransfersByTimeframe.OneHour != 2 {
		t.Fatalf("expected 1h window count 2, got %d", merged.TransfersByTimeframe.OneHour)
	}
}

func TestMergeNFTMetrics_carriesPriorStateForward(t *testing.T) {
	now := time.Now().UTC()
	prior := models.NFTMetrics{
		TotalTransfers: 5,
		CurrentHolders: map[string]string{"1": "0xaaa0000000000000000000000000000000000a"},
		Windows1h:      models.NFTIntWindow{Start: now, Count: 5},
	}
	fresh := []feed.Item{
		transferItem("0xaaa0000000000000000000000000000000000a", "0xbbb000000000000000000000000000000000b", "1", "0xh3", now),
	}

	merged, _, _, _ := mergeNFTMetrics(prior, fresh, nil)

	if merged.TotalTransfers != 6 {
		t.Fatalf("expected totalTransfers=6, got %d", merged.TotalTransfers)
	}
	if merged.TransfersByTimeframe.OneHour != 6 {
		t.Fatalf("expected rolled 1h window count 6, got %d", merged.TransfersByTimeframe.OneHour)
	}
}

func TestRebuildHolderCounts_excludesZeroAddress(t *testing.T) {
	owners := map[string]string{
		"1": "0xaaa0000000000000000000000000000000000a",
		"2": "0xaaa0000000000000000000000000000000000a",
		"3": zeroAddress,
	}
	counts, holders := rebuildHolderCounts(owners)

	if counts["0xaaa0000000000000000000000000000000000a"] != 2 {
		t.Fatalf("expected holder count 2, got %d", counts["0xaaa0000000000000000000000000000000000a"])
	}
	if len(holders) != 1 {
		t.Fatalf("expected 1 distinct holder, got %d", len(holders))
	}
}

func TestNFTAlerts_massTransferAndWatchedWallet(t *testing.T) {
	merged := models.NFTMetrics{
		TransfersByTimeframe: models.NFTWindowCounts{OneHour: 25},
	}
	alerts := nftAlerts(merged, 0, nil, nil, true, config.DefaultThresholds)

	var sawMass, sawWatched bool
	for _, a := range alerts {
		if a.Type == "MASS_TRANSFER" {
			sawMass = true
		}
		if a.Type == "WATCHED_WALLET_ACTIVITY" {
			sawWatched = true
		}
	}
	if !sawMass {
		t.Error("expected a MASS_TRANSFER alert")
	}
	if !sawWatched {
		t.Error("expected a WATCHED_WALLET_ACTIVITY alert")
	}
}

func TestNFTRiskScore_clampedByCaller(t *testing.T) {
	merged := models.NFTMetrics{
		TransfersByTimeframe: models.NFTWindowCounts{OneHour: 500},
		Mints:                make([]models.NFTTransferRecord, 150),
	}
	alerts := []models.Alert{{Severity: models.SeverityHigh}, {Severity: models.SeverityHigh}}

	score := nftRiskScore(merged, alerts)
	if clampRisk(score) > 10 {
		t.Fatalf("clampRisk should cap at 10, got %d", clampRisk(score))
	}
	if score < 5 {
		t.Fatalf("expected a high raw score given dense activity + 2 HIGH alerts, got %d", score)
	}
}

func TestBucketFee(t *testing.T) {
	var fees models.FeeBucket
	bucketFee(&fees, "")                     // ignored
	bucketFee(&fees, "0")                    // ignored
	bucketFee(&fees, "1000000000000000")     // 0.001 native -> low
	bucketFee(&fees, "50000000000000000")    // 0.05 native -> medium
	bucketFee(&fees, "500000000000000000")   // 0.5 native -> high

	if fees.Low != 1 || fees.Medium != 1 || fees.High != 1 {
		t.Fatalf("unexpected fee buckets: %+v", fees)
	}
}

func TestNFTAlerts_suspiciousMinting(t *testing.T) {
	now := time.Now().UTC()
	mints := make([]models.NFTTransferRecord, config.DefaultThresholds.SuspiciousMintRate+1)
	for i := range mints {
		mints[i] = models.NFTTransferRecord{Timestamp: now}
	}

	alerts := nftAlerts(models.NFTMetrics{}, 0, mints, nil, false, config.DefaultThresholds)

	var saw bool
	for _, a := range alerts {
		if a.Type == "SUSPICIOUS_MINTING" && a.Severity == models.SeverityHigh {
			saw = true
		}
	}
	if !saw {
		t.Fatal("expected a SUSPICIOUS_MINTING alert above the mint-rate threshold")
	}
}

func TestNFTAlerts_washTrading(t *testing.T) {
	merged := models.NFTMetrics{
		TraderStats: map[string]models.TraderStats{
			"0xflip": {Address: "0xflip", TransferCount: 25, TokensSeen: []string{"1", "2"}},
		},
	}
	alerts := nftAlerts(merged, 0, nil, nil, false, config.DefaultThresholds)

	var saw bool
	for _, a := range alerts {
		if a.Type == "WASH_TRADING" {
			saw = true
		}
	}
	if !saw {
		t.Fatal("expected a WASH_TRADING alert for >20 transfers over <3 tokens")
	}
}

func TestTopHolders_ordersByCount(t *testing.T) {
	counts := map[string]int{"0xa": 2, "0xb": 7, "0xc": 4}
	got := topHolders(counts, 2)
	if len(got) != 2 {
		t.Fatalf("expected top 2, got %d", len(got))
	}
	if got[0].Address != "0xb" || got[1].Address != "0xc" {
		t.Fatalf("expected descending order by count, got %+v", got)
	}
}

func TestNFTRiskScore_concentrationIgnoresBurnedTokens(t *testing.T) {
	// 2 of 4 circulating tokens held by one address (50%); two more
	// tokenIds are burned and must not dilute the denominator.
	merged := models.NFTMetrics{
		CurrentHolders: map[string]string{
			"1": "0xaaa0000000000000000000000000000000000a",
			"2": "0xaaa0000000000000000000000000000000000a",
			"3": "0xbbb000000000000000000000000000000000b",
			"4": "0xccc000000000000000000000000000000000c",
			"5": zeroAddress,
			"6": zeroAddress,
		},
		TopHolders: []models.HolderRanking{{Address: "0xaaa0000000000000000000000000000000000a", Count: 2}},
	}

	if got := nftRiskScore(merged, nil); got != 2 {
		t.Fatalf("expected +2 at 50%% of circulating supply, got %d", got)
	}

	// With the burned tokenIds wrongly counted, 2/10 would fall below the
	// 25% tier; confirm the 25% tier still fires at exactly one quarter.
	merged.CurrentHolders["7"] = "0xddd000000000000000000000000000000000d"
	merged.CurrentHolders["8"] = "0xddd000000000000000000000000000000000d"
	merged.CurrentHolders["9"] = "0xeee000000000000000000000000000000000e"
	merged.CurrentHolders["10"] = "0xfff000000000000000000000000000000000f"
	if got := nftRiskScore(merged, nil); got != 1 {
		t.Fatalf("expected +1 at 25%% of circulating supply, got %d", got)
	}
}
