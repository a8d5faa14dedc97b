package analyzer

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"chainwatch/internal/analyzer/condition"
	"chainwatch/internal/config"
	"chainwatch/internal/feed"
	"chainwatch/internal/models"
)

const (
	tokenLargeTransferCap  = 100
	tokenBurnCap           = 100
	tokenProcessedHashCap  = 1000
	tokenTopN              = 10
	zeroAddress            = "0x0000000000000000000000000000000000000000"
	suspiciousPatternTxMin = 100
	suspiciousPatternAvg   = "100"
)

// AnalyzeToken runs one analyze_coin_flows cycle.
// th and watched are this Job's effective thresholds/watch-list, resolved
// from its payload by the caller.
func AnalyzeToken(ctx context.Context, deps Deps, tokenContract string, network models.Network, sink *Sink, th config.Thresholds, watched map[string]struct{}) (*models.TokenSnapshot, error) {
	if err := ValidateAddress(tokenContract); err != nil {
		return nil, err
	}
	sink.Log(models.LevelInfo, fmt.Sprintf("fetching token feed for %s", tokenContract))

	page, err := deps.Feed.FetchLatest(ctx, tokenContract, models.KindToken, network, config.DefaultFeedLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch token feed: %w", err)
	}
	if page.DataQuality == models.QualityServiceUnavailable {
		// Unlike wallet snapshots there is no partial-data fallback here:
		// without the transfer feed there is nothing to merge.
		return nil, fmt.Errorf("token feed unavailable for %s", tokenContract)
	}

	var prior models.TokenMetrics
	header, err := deps.Store.Latest(ctx, models.KindToken, tokenContract, network, &prior)
	if err != nil {
		return nil, fmt.Errorf("load prior token snapshot: %w", err)
	}
	hasPrior := header != nil
	priorWindow24h := prior.Windows24h

	known := toSet(prior.ProcessedTransactionHashes)
	fresh, freshHashes := dedupeHashes(page.Items, known, "hash", "txHash", "transactionHash")

	if len(fresh) == 0 && hasPrior {
		sink.Log(models.LevelInfo, "no new transfers; reusing prior token snapshot")
		return nil, nil
	}

	merged, newLarge, newBurns, anyWatched := mergeTokenMetrics(prior, fresh, th, watched)
	merged.ProcessedTransactionHashes = appendFIFO(prior.ProcessedTransactionHashes, freshHashes, tokenProcessedHashCap)

	alerts := tokenAlerts(merged, priorWindow24h, newLarge, newBurns, anyWatched, th)
	risk := clampRisk(tokenRiskScore(merged, alerts))

	snapshot := &models.TokenSnapshot{
		EntityAddress: tokenContract,
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

	if err := deps.Store.AppendToken(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("persist token snapshot: %w", err)
	}
	sink.Log(models.LevelInfo, fmt.Sprintf("token snapshot persisted: %d new transfers, risk=%d", len(fresh), risk))
	return snapshot, nil
}

func mergeTokenMetrics(prior models.TokenMetrics, fresh []feed.Item, th config.Thresholds, watched map[string]struct{}) (merged models.TokenMetrics, newLarge, newBurns []models.TokenTransferRecord, anyWatched bool) {
	merged = prior
	if merged.AddressStats == nil {
		merged.AddressStats = map[string]models.AddressFlowStats{}
	} else {
		cp := make(map[string]models.AddressFlowStats, len(merged.AddressStats))
		for k, v := range merged.AddressStats {
			cp[k] = v
		}
		merged.AddressStats = cp
	}

	merged.TotalTransfers = prior.TotalTransfers + len(fresh)

	now := time.Now().UTC()
	w1 := rollWindow(prior.Windows1h, now, time.Hour)
	w6 := rollWindow(prior.Windows6h, now, 6*time.Hour)
	w24 := rollWindow(prior.Windows24h, now, 24*time.Hour)

	addrSet := toSet(prior.UniqueAddresses)
	addrOrder := append([]string{}, prior.UniqueAddresses...)

	for _, tr := range fresh {
		if !getBool(tr, "status", "success") {
			continue
		}
		from := strings.ToLower(getString(tr, "from"))
		to := strings.ToLower(getString(tr, "to"))
		value := getBigString(tr, "value", "amount")
		hash := getString(tr, "hash", "txHash", "transactionHash")
		ts := getTime(tr, "timestamp")

		merged.CumulativeVolume = addBig(merged.CumulativeVolume, value)
		w1.Volume, w1.TransferCount = addBig(w1.Volume, value), w1.TransferCount+1
		w6.Volume, w6.TransferCount = addBig(w6.Volume, value), w6.TransferCount+1
		w24.Volume, w24.TransferCount = addBig(w24.Volume, value), w24.TransferCount+1

		if from != "" {
			stats := merged.AddressStats[from]
			stats.TotalSent = addBig(stats.TotalSent, value)
			stats.SentCount++
			merged.AddressStats[from] = stats
			if _, ok := addrSet[from]; !ok {
				addrSet[from] = struct{}{}
				addrOrder = append(addrOrder, from)
			}
		}
		if to != "" {
			stats := merged.AddressStats[to]
			stats.TotalReceived = addBig(stats.TotalReceived, value)
			stats.ReceivedCount++
			merged.AddressStats[to] = stats
			if _, ok := addrSet[to]; !ok {
				addrSet[to] = struct{}{}
				addrOrder = append(addrOrder, to)
			}
		}

		record := models.TokenTransferRecord{Hash: hash, From: from, To: to, Value: value, Timestamp: ts}
		if gteBig(value, th.LargeTransfer) {
			newLarge = append(newLarge, record)
		}
		if to == zeroAddress {
			newBurns = append(newBurns, record)
		}
		if config.IsWatchedIn(watched, from) || config.IsWatchedIn(watched, to) {
			anyWatched = true
		}
	}

	merged.Windows1h, merged.Windows6h, merged.Windows24h = w1, w6, w24
	merged.UniqueAddresses = addrOrder

	merged.LargeTransfers = truncateTransfers(append(prior.LargeTransfers, newLarge...), tokenLargeTransferCap)
	merged.BurnTransactions = truncateTransfers(append(prior.BurnTransactions, newBurns...), tokenBurnCap)

	merged.TopSenders = topNByField(merged.AddressStats, tokenTopN, func(s models.AddressFlowStats) string { return s.TotalSent })
	merged.TopReceivers = topNByField(merged.AddressStats, tokenTopN, func(s models.AddressFlowStats) string { return s.TotalReceived })

	return merged, newLarge, newBurns, anyWatched
}

// rollWindow re-bases a rolling window once its Start falls further back
// than span, so repeated cycles inside the same span keep accumulating and
// a cycle after the span starts fresh against wall-clock now.
func rollWindow(w models.TokenWindow, now time.Time, span time.Duration) models.TokenWindow {
	if w.Start.IsZero() || now.Sub(w.Start) > span {
		return models.TokenWindow{Start: now}
	}
	return w
}

func truncateTransfers(list []models.TokenTransferRecord, max int) []models.TokenTransferRecord {
	if len(list) <= max {
		return list
	}
	return list[len(list)-max:]
}

func topNByField(stats map[string]models.AddressFlowStats, n int, field func(models.AddressFlowStats) string) []models.AddressRanking {
	rankings := make([]models.AddressRanking, 0, len(stats))
	for addr, s := range stats {
		v := field(s)
		if v == "" || v == "0" {
			continue
		}
		rankings = append(rankings, models.AddressRanking{Address: addr, Value: v})
	}
	for i := 1; i < len(rankings); i++ {
		for j := i; j > 0 && gtBig(rankings[j].Value, rankings[j-1].Value); j-- {
			rankings[j], rankings[j-1] = rankings[j-1], rankings[j]
		}
	}
	if len(rankings) > n {
		rankings = rankings[:n]
	}
	return rankings
}

func tokenAlerts(merged models.TokenMetrics, priorWindow24h models.TokenWindow, newLarge, newBurns []models.TokenTransferRecord, anyWatched bool, th config.Thresholds) []models.Alert {
	var alerts []models.Alert
	now := time.Now().UTC()
	cutoff := now.Add(-time.Hour)

	if recentTransferCount(newLarge, cutoff) > 0 {
		alerts = append(alerts, models.Alert{
			Type: "LARGE_TRANSFER", Severity: models.SeverityHigh, Timestamp: now,
			Message: fmt.Sprintf("%d new transfer(s) at or above the large-transfer threshold in the last hour", recentTransferCount(newLarge, cutoff)),
		})
	}
	if recentTransferCount(newBurns, cutoff) > 0 {
		alerts = append(alerts, models.Alert{
			Type: "BURN_DETECTED", Severity: models.SeverityMedium, Timestamp: now,
			Message: fmt.Sprintf("%d new burn transfer(s) in the last hour", recentTransferCount(newBurns, cutoff)),
		})
	}
	whaleBar := bigOf(th.LargeTransfer)
	whaleBar.Mul(whaleBar, bigOf("10"))
	for _, top := range merged.TopSenders {
		if gteBig(top.Value, whaleBar.String()) {
			alerts = append(alerts, models.Alert{
				Type: "WHALE_MOVEMENT", Severity: models.SeverityHigh, Timestamp: now,
				Message: fmt.Sprintf("address %s has cumulative sent volume at or above 10x the large-transfer threshold", top.Address),
			})
			break
		}
	}
	if priorWindow24h.Volume != "" && priorWindow24h.Volume != "0" {
		deltaPct := percentIncrease(priorWindow24h.Volume, merged.Windows24h.Volume)
		threshold := strconv.FormatFloat(th.VolumeSpikePercent, 'f', -1, 64)
		if condition.EvaluateOp(">", strconv.FormatFloat(deltaPct, 'f', -1, 64), threshold) {
			alerts = append(alerts, models.Alert{
				Type: "VOLUME_SPIKE", Severity: models.SeverityMedium, Timestamp: now,
				Message: "24h volume increased beyond the configured spike threshold",
			})
		}
	}
	for addr, s := range merged.AddressStats {
		total := s.SentCount + s.ReceivedCount
		if total > suspiciousPatternTxMin {
			combined := addBig(s.TotalSent, s.TotalReceived)
			avg := bigOf(combined)
			avg.Div(avg, bigOf(fmt.Sprintf("%d", total)))
			if condition.EvaluateOp("<", avg.String(), suspiciousPatternAvg) {
				alerts = append(alerts, models.Alert{
					Type: "SUSPICIOUS_PATTERN", Severity: models.SeverityMedium, Timestamp: now,
					Message: fmt.Sprintf("address %s has high transaction count with low average value", addr),
				})
				break
			}
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

// recentTransferCount counts records timestamped at or after cutoff
// (a record with a zero timestamp, meaning the feed didn't supply one,
// counts as recent since it was just observed in this cycle).
func recentTransferCount(records []models.TokenTransferRecord, cutoff time.Time) int {
	n := 0
	for _, r := range records {
		if r.Timestamp.IsZero() || !r.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n
}

func tokenRiskScore(merged models.TokenMetrics, alerts []models.Alert) int {
	return alertScoreContribution(alerts)
}

// percentIncrease computes ((current-prior)/prior)*100 keeping both
// operands as big.Int until the final division, so wei-scale values never
// pass through a float until the last step.
func percentIncrease(prior, current string) float64 {
	priorBig := bigOf(prior)
	if priorBig.Sign() == 0 {
		return 0
	}
	delta := new(big.Int).Sub(bigOf(current), priorBig)
	ratio := new(big.Float).SetInt(delta)
	ratio.Quo(ratio, new(big.Float).SetInt(priorBig))
	ratio.Mul(ratio, big.NewFloat(100))
	f, _ := ratio.Float64()
	return f
}
