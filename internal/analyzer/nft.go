package analyzer

import (
	"context"
	"fmt"
	"time"

	"chainwatch/internal/config"
	"chainwatch/internal/feed"
	"chainwatch/internal/models"
)

const (
	nftTransferHistoryCap = 1000
	nftMintCap            = 500
	nftBurnCap            = 500
	nftProcessedHashCap   = 2000
	nftTopHoldersN        = 10
	nftTopTradersN        = 10

	// avgHoldingTime is reported as a flat one-week placeholder until
	// per-token acquisition times are tracked.
	avgHoldingTimePlaceholder = 168 * time.Hour

	feeLowCeiling    = "10000000000000000"  // 0.01 native, in wei
	feeMediumCeiling = "100000000000000000" // 0.1 native, in wei
)

// AnalyzeNFT runs one analyze_nft_movements cycle.
// th and watched are this Job's effective thresholds/watch-list, resolved
// from its payload by the caller.
func AnalyzeNFT(ctx context.Context, deps Deps, collection string, network models.Network, sink *Sink, th config.Thresholds, watched map[string]struct{}) (*models.NFTSnapshot, error) {
	if err := ValidateAddress(collection); err != nil {
		return nil, err
	}
	sink.Log(models.LevelInfo, fmt.Sprintf("fetching NFT transfer feed for %s", collection))

	page, err := deps.Feed.FetchLatest(ctx, collection, models.KindNFT, network, config.DefaultFeedLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch NFT feed: %w", err)
	}
	if page.DataQuality == models.QualityServiceUnavailable {
		// Unlike wallet snapshots there is no partial-data fallback here:
		// without the transfer feed there is nothing to merge.
		return nil, fmt.Errorf("NFT feed unavailable for %s", collection)
	}

	var prior models.NFTMetrics
	header, err := deps.Store.Latest(ctx, models.KindNFT, collection, network, &prior)
	if err != nil {
		return nil, fmt.Errorf("load prior NFT snapshot: %w", err)
	}
	hasPrior := header != nil
	priorWindow24h := prior.TransfersByTimeframe.TwentyFour

	known := toSet(prior.ProcessedTransactionHashes)
	fresh, freshHashes := dedupeHashes(page.Items, known, "hash", "txHash", "transactionHash")

	if len(fresh) == 0 && hasPrior {
		sink.Log(models.LevelInfo, "no new transfers; reusing prior NFT snapshot")
		return nil, nil
	}

	merged, newMints, newBurns, anyWatched := mergeNFTMetrics(prior, fresh, watched)
	merged.ProcessedTransactionHashes = appendFIFO(prior.ProcessedTransactionHashes, freshHashes, nftProcessedHashCap)

	alerts := nftAlerts(merged, priorWindow24h, newMints, newBurns, anyWatched, th)
	risk := clampRisk(nftRiskScore(merged, alerts))

	snapshot := &models.NFTSnapshot{
		EntityAddress: collection,
		Network:       network,
		Timestamp:     time.Now().UTC(),
		Alerts:        alerts,
		RiskScore:     risk,
		AnalysisMetadata: models.AnalysisMetadata{
			NewItemsProcessed: len(fresh),
			TotalItemsKnown:   len(merged.ProcessedTransactionHashes),
			DataQuality:       models.QualityComplete,
			Sources:           []string{"transfers"},
		},
		Metrics: merged,
	}

	if err := deps.Store.AppendNFT(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("persist NFT snapshot: %w", err)
	}
	sink.Log(models.LevelInfo, fmt.Sprintf("NFT snapshot persisted: %d new transfers, risk=%d", len(fresh), risk))
	return snapshot, nil
}

func mergeNFTMetrics(prior models.NFTMetrics, fresh []feed.Item, watched map[string]struct{}) (merged models.NFTMetrics, newMints, newBurns []models.NFTTransferRecord, anyWatched bool) {
	merged = prior

	owners := make(map[string]string, len(prior.CurrentHolders))
	for tokenID, holder := range prior.CurrentHolders {
		owners[tokenID] = holder
	}

	if merged.TraderStats == nil {
		merged.TraderStats = map[string]models.TraderStats{}
	} else {
		cp := make(map[string]models.TraderStats, len(merged.TraderStats))
		for k, v := range merged.TraderStats {
			cp[k] = v
		}
		merged.TraderStats = cp
	}

	now := time.Now().UTC()
	w1 := rollIntWindow(prior.Windows1h, now, time.Hour)
	w6 := rollIntWindow(prior.Windows6h, now, 6*time.Hour)
	w24 := rollIntWindow(prior.Windows24h, now, 24*time.Hour)

	fees := prior.FeeDistribution

	for _, tr := range fresh {
		if !getBool(tr, "status", "success") {
			continue
		}
		from := getString(tr, "from")
		to := getString(tr, "to")
		tokenID := getString(tr, "tokenId")
		hash := getString(tr, "hash", "txHash", "transactionHash")
		ts := getTime(tr, "timestamp")
		fee := getBigString(tr, "fee", "gasFee")

		merged.TotalTransfers++
		w1.Count, w6.Count, w24.Count = w1.Count+1, w6.Count+1, w24.Count+1
		bucketFee(&fees, fee)

		record := models.NFTTransferRecord{Hash: hash, TokenID: tokenID, From: from, To: to, Timestamp: ts}

		switch {
		case isZeroAddress(from):
			newMints = append(newMints, record)
		case isZeroAddress(to):
			newBurns = append(newBurns, record)
		default:
			merged.TransferHistory = append(merged.TransferHistory, record)
		}

		if tokenID != "" {
			owners[tokenID] = to
		}

		if from != "" {
			s := merged.TraderStats[from]
			s.Address = from
			s.Sold++
			s.TransferCount++
			s.TokensSeen = mergeSet(s.TokensSeen, []string{tokenID})
			s.LastActivity = ts
			merged.TraderStats[from] = s
		}
		if to != "" {
			s := merged.TraderStats[to]
			s.Address = to
			s.Bought++
			s.TransferCount++
			s.TokensSeen = mergeSet(s.TokensSeen, []string{tokenID})
			s.LastActivity = ts
			merged.TraderStats[to] = s
		}

		if config.IsWatchedIn(watched, from) || config.IsWatchedIn(watched, to) {
			anyWatched = true
		}
	}

	merged.Mints = truncateNFTRecords(append(prior.Mints, newMints...), nftMintCap)
	merged.Burns = truncateNFTRecords(append(prior.Burns, newBurns...), nftBurnCap)
	merged.TransferHistory = truncateNFTRecords(merged.TransferHistory, nftTransferHistoryCap)

	merged.CurrentHolders = owners
	counts, uniqueHolders := rebuildHolderCounts(owners)
	merged.UniqueHolders = mergeSet(prior.UniqueHolders, uniqueHolders)
	merged.TopHolders = topHolders(counts, nftTopHoldersN)
	merged.MostActiveTraders = topTraderAddresses(merged.TraderStats, nftTopTradersN)

	merged.Windows1h, merged.Windows6h, merged.Windows24h = w1, w6, w24
	merged.TransfersByTimeframe = models.NFTWindowCounts{OneHour: w1.Count, SixHour: w6.Count, TwentyFour: w24.Count}
	merged.FeeDistribution = fees
	merged.AvgHoldingTime = avgHoldingTimePlaceholder

	return merged, newMints, newBurns, anyWatched
}

func bucketFee(fees *models.FeeBucket, fee string) {
	if fee == "" || fee == "0" {
		return
	}
	switch {
	case gtBig(feeLowCeiling, fee) || fee == feeLowCeiling:
		fees.Low++
	case gtBig(feeMediumCeiling, fee) || fee == feeMediumCeiling:
		fees.Medium++
	default:
		fees.High++
	}
}

func isZeroAddress(addr string) bool {
	return addr == "" || addr == zeroAddress
}

func truncateNFTRecords(list []models.NFTTransferRecord, max int) []models.NFTTransferRecord {
	if len(list) <= max {
		return list
	}
	return list[len(list)-max:]
}

// rebuildHolderCounts derives per-address holding counts and the set of
// current holders from the full tokenId->owner map, excluding the zero
// address.
func rebuildHolderCounts(owners map[string]string) (counts map[string]int, holdersThisCycle []string) {
	counts = map[string]int{}
	seen := map[string]struct{}{}
	for _, holder := range owners {
		if isZeroAddress(holder) {
			continue
		}
		counts[holder]++
		if _, ok := seen[holder]; !ok {
			seen[holder] = struct{}{}
			holdersThisCycle = append(holdersThisCycle, holder)
		}
	}
	return counts, holdersThisCycle
}

func topHolders(counts map[string]int, n int) []models.HolderRanking {
	out := make([]models.HolderRanking, 0, len(counts))
	for addr, c := range counts {
		out = append(out, models.HolderRanking{Address: addr, Count: c})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Count > out[j-1].Count; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func topTraderAddresses(stats map[string]models.TraderStats, n int) []string {
	all := make([]models.TraderStats, 0, len(stats))
	for _, s := range stats {
		all = append(all, s)
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].TransferCount > all[j-1].TransferCount; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	if len(all) > n {
		all = all[:n]
	}
	out := make([]string, len(all))
	for i, s := range all {
		out[i] = s.Address
	}
	return out
}

func rollIntWindow(w models.NFTIntWindow, now time.Time, span time.Duration) models.NFTIntWindow {
	if w.Start.IsZero() || now.Sub(w.Start) > span {
		return models.NFTIntWindow{Start: now}
	}
	return w
}

// recentNFTCount counts records timestamped at or after cutoff, the NFT
// counterpart of the token-side recentTransferCount used by the
// windowed alert and risk rules. A zero timestamp (feed didn't supply
// one) counts as recent.
func recentNFTCount(records []models.NFTTransferRecord, cutoff time.Time) int {
	n := 0
	for _, r := range records {
		if r.Timestamp.IsZero() || !r.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n
}

func nftAlerts(merged models.NFTMetrics, priorWindow24h int, newMints, newBurns []models.NFTTransferRecord, anyWatched bool, th config.Thresholds) []models.Alert {
	var alerts []models.Alert
	now := time.Now().UTC()
	hourCutoff := now.Add(-time.Hour)

	if merged.TransfersByTimeframe.OneHour > th.MassTransferCount {
		alerts = append(alerts, models.Alert{
			Type: "MASS_TRANSFER", Severity: models.SeverityHigh, Timestamp: now,
			Message: fmt.Sprintf("%d transfers in the last hour exceeds the mass-transfer threshold", merged.TransfersByTimeframe.OneHour),
		})
	}
	for _, h := range merged.TopHolders {
		if h.Count >= th.WhaleTokenCount {
			alerts = append(alerts, models.Alert{
				Type: "WHALE_ACCUMULATION", Severity: models.SeverityMedium, Timestamp: now,
				Message: fmt.Sprintf("address %s holds %d tokens, at or above the whale threshold", h.Address, h.Count),
			})
			break
		}
	}
	if recent := recentNFTCount(newMints, hourCutoff); recent > th.SuspiciousMintRate {
		alerts = append(alerts, models.Alert{
			Type: "SUSPICIOUS_MINTING", Severity: models.SeverityHigh, Timestamp: now,
			Message: fmt.Sprintf("%d mints within the last hour exceeds the suspicious-mint threshold", recent),
		})
	}
	if priorWindow24h > 0 {
		deltaPct := float64(merged.TransfersByTimeframe.TwentyFour-priorWindow24h) / float64(priorWindow24h) * 100
		if deltaPct > th.HighActivitySpike {
			alerts = append(alerts, models.Alert{
				Type: "HIGH_ACTIVITY_SPIKE", Severity: models.SeverityMedium, Timestamp: now,
				Message: "24h transfer count increased beyond the configured activity-spike threshold",
			})
		}
	}
	for addr, s := range merged.TraderStats {
		if s.TransferCount > 20 && len(s.TokensSeen) < 3 {
			alerts = append(alerts, models.Alert{
				Type: "WASH_TRADING", Severity: models.SeverityMedium, Timestamp: now,
				Message: fmt.Sprintf("address %s has >20 transfers across fewer than 3 distinct tokens", addr),
			})
			break
		}
	}
	if anyWatched {
		alerts = append(alerts, models.Alert{
			Type: "WATCHED_WALLET_ACTIVITY", Severity: models.SeverityLow, Timestamp: now,
			Message: "a new transfer touched a watched address",
		})
	}
	return alerts
}

func nftRiskScore(merged models.NFTMetrics, alerts []models.Alert) int {
	score := 0

	switch {
	case merged.TransfersByTimeframe.OneHour > 100:
		score += 3
	case merged.TransfersByTimeframe.OneHour > 50:
		score += 2
	case merged.TransfersByTimeframe.OneHour > 20:
		score += 1
	}

	if len(merged.TopHolders) > 0 {
		// Concentration is measured against circulating supply: tokens whose
		// current holder is the zero address are burned and out of
		// circulation, so they are excluded from the denominator.
		counts, _ := rebuildHolderCounts(merged.CurrentHolders)
		circulating := 0
		for _, c := range counts {
			circulating += c
		}
		if circulating > 0 {
			concentration := float64(merged.TopHolders[0].Count) / float64(circulating)
			switch {
			case concentration >= 0.5:
				score += 2
			case concentration >= 0.25:
				score += 1
			}
		}
	}

	recentMints := recentNFTCount(merged.Mints, time.Now().UTC().Add(-24*time.Hour))
	switch {
	case recentMints > 100:
		score += 2
	case recentMints > 50:
		score += 1
	}

	for _, s := range merged.TraderStats {
		if s.TransferCount > 20 {
			score++
			break
		}
	}

	score += alertScoreContribution(alerts)
	return score
}
