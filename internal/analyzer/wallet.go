package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"chainwatch/internal/config"
	"chainwatch/internal/feed"
	"chainwatch/internal/models"
)

// ErrNativeBalanceUnavailable is fatal to a wallet_snapshot cycle: every
// other source may degrade to partial data, but the native balance
// cannot.
var ErrNativeBalanceUnavailable = errors.New("native balance unavailable")

const walletProcessedHashCap = 2000 // no explicit cap given for wallet; sized like the NFT window for consistency

// AnalyzeWallet runs one wallet_snapshot cycle.
// Returns (nil, nil) on the no-change short-circuit: no new transactions
// and a prior snapshot already exists.
func AnalyzeWallet(ctx context.Context, deps Deps, address string, network models.Network, sink *Sink) (*models.WalletSnapshot, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	sink.Log(models.LevelInfo, fmt.Sprintf("fetching wallet feed for %s", address))

	page, err := deps.Feed.FetchLatest(ctx, address, models.KindWallet, network, config.DefaultFeedLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch wallet feed: %w", err)
	}

	var prior models.WalletMetrics
	header, err := deps.Store.Latest(ctx, models.KindWallet, address, network, &prior)
	if err != nil {
		return nil, fmt.Errorf("load prior wallet snapshot: %w", err)
	}
	hasPrior := header != nil

	nativeBalance, haveNative := nativeBalanceOf(page)
	if !haveNative {
		return nil, ErrNativeBalanceUnavailable
	}

	known := toSet(prior.ProcessedTransactionHashes)
	fresh, freshHashes := dedupeHashes(page.Items, known, "hash", "txHash", "transactionHash")

	if len(fresh) == 0 && hasPrior {
		sink.Log(models.LevelInfo, "no new transactions; reusing prior wallet snapshot")
		return nil, nil
	}

	sources := []string{"transactions"}
	quality := models.QualityComplete
	if page.DataQuality == models.QualityServiceUnavailable {
		quality = models.QualityPartial
		sources = nil
	}

	holdings, haveHoldings := tokenHoldingsOf(page)
	nfts, haveNFTs := nftHoldingsOf(page)
	if !haveHoldings || !haveNFTs {
		quality = models.QualityPartial
	}
	if haveHoldings {
		sources = append(sources, "erc20Holdings")
	}
	if haveNFTs {
		sources = append(sources, "erc721Holdings")
	}

	batch := processTransactions(fresh, address)

	merged := mergeWalletMetrics(prior, batch, nativeBalance, holdings, nfts)
	merged.ProcessedTransactionHashes = appendFIFO(prior.ProcessedTransactionHashes, freshHashes, walletProcessedHashCap)

	priorValue := prior.PortfolioValueUSD
	alerts := walletAlerts(batch, merged, priorValue)
	risk := clampRisk(walletRiskScore(batch, merged, alerts))

	snapshot := &models.WalletSnapshot{
		EntityAddress: address,
		Network:       network,
		Timestamp:     time.Now().UTC(),
		Alerts:        alerts,
		RiskScore:     risk,
		AnalysisMetadata: models.AnalysisMetadata{
			NewItemsProcessed: len(fresh),
			TotalItemsKnown:   len(merged.ProcessedTransactionHashes),
			DataQuality:       quality,
			Sources:           sources,
		},
		Metrics: merged,
	}

	if err := deps.Store.AppendWallet(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("persist wallet snapshot: %w", err)
	}
	sink.Log(models.LevelInfo, fmt.Sprintf("wallet snapshot persisted: %d new tx, risk=%d", len(fresh), risk))
	return snapshot, nil
}

func nativeBalanceOf(page feed.Page) (string, bool) {
	if page.TokenInfo == nil {
		return "", false
	}
	v, ok := page.TokenInfo["nativeBalance"]
	if !ok {
		return "", false
	}
	if s, ok := parseBigIntString(v); ok {
		return s, true
	}
	return "", false
}

func tokenHoldingsOf(page feed.Page) ([]models.TokenHolding, bool) {
	if page.TokenInfo == nil {
		return nil, false
	}
	raw, ok := page.TokenInfo["tokenHoldings"].([]interface{})
	if !ok {
		return nil, false
	}
	holdings := make([]models.TokenHolding, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		item := feed.Item(m)
		symbol := getString(item, "symbol")
		balance := getBigString(item, "balance")
		holdings = append(holdings, models.TokenHolding{
			ContractAddress: getString(item, "contractAddress", "address"),
			Symbol:          symbol,
			Balance:         balance,
			ValueUSD:        usdValue(symbol, balance),
		})
	}
	return holdings, true
}

func nftHoldingsOf(page feed.Page) ([]models.NFTHolding, bool) {
	if page.TokenInfo == nil {
		return nil, false
	}
	raw, ok := page.TokenInfo["nftHoldings"].([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]models.NFTHolding, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		item := feed.Item(m)
		out = append(out, models.NFTHolding{
			ContractAddress: getString(item, "contractAddress", "address"),
			TokenID:         getString(item, "tokenId"),
		})
	}
	return out, true
}

// weiDecimals is the assumed decimal scale for both the native asset and
// ERC-20 balances reported by the feed.
const weiDecimals = 18

var weiPerUnit = new(big.Float).SetFloat64(1e18)

// usdValue converts a decimal-wei balance string to a float USD estimate
// using the static price table. Non-goal: exact arithmetic on floating
// point USD values — this is an estimate, not an accounting figure.
func usdValue(symbol, balanceWei string) float64 {
	price := config.PriceFor(symbol)
	if price == 0 {
		return 0
	}
	units := new(big.Float).SetInt(bigOf(balanceWei))
	units.Quo(units, weiPerUnit)
	f, _ := units.Float64()
	return f * price
}

type walletBatch struct {
	incoming, outgoing, fees, gasUsed string
	categoryCounts                    map[string]int
	failedCount, successfulCount      int
	newUniqueContracts                []string
	lastActivity                      time.Time
	largeTxCount                      int // value > 10^20
	hugeTxCount                       int // value > 10^21
	zeroValueLargeCalldata            int // zero-value type==2 calls with large calldata
	txCount                           int
	totalGasSuccessful                string
	gasSamples                        int
}

const (
	largeTxThreshold       = "100000000000000000000"  // 10^20
	hugeTxThreshold        = "1000000000000000000000" // 10^21
	highGasTotalThreshold  = "1000000000000000000"     // 10^18
	largeCalldataHexLength = 200
)

func processTransactions(items []feed.Item, wallet string) walletBatch {
	b := walletBatch{categoryCounts: map[string]int{}}
	walletLower := strings.ToLower(wallet)

	for _, tx := range items {
		b.txCount++
		status := getBool(tx, "status", "success")
		from := strings.ToLower(getString(tx, "from"))
		to := strings.ToLower(getString(tx, "to"))
		value := getBigString(tx, "value", "amount")
		data := getString(tx, "data", "input")
		txType := getInt(tx, "type")

		if !status {
			// Failed transactions increment only the failed counter; they
			// contribute to no category or financial sum.
			b.failedCount++
			continue
		}
		b.successfulCount++
		b.categoryCounts[categorize(data, txType)]++

		if to == walletLower {
			b.incoming = addBig(b.incoming, value)
		}
		if from == walletLower {
			b.outgoing = addBig(b.outgoing, value)
			fee := getBigString(tx, "fee")
			gas := getBigString(tx, "gasUsed", "gas")
			b.fees = addBig(b.fees, fee)
			b.gasUsed = addBig(b.gasUsed, gas)
			b.totalGasSuccessful = addBig(b.totalGasSuccessful, gas)
			b.gasSamples++

			if txType == 2 && to != "" {
				b.newUniqueContracts = append(b.newUniqueContracts, to)
			}
			if value == "0" && txType == 2 && len(data) > largeCalldataHexLength {
				b.zeroValueLargeCalldata++
			}
		}

		if gtBig(value, largeTxThreshold) {
			b.largeTxCount++
		}
		if gtBig(value, hugeTxThreshold) {
			b.hugeTxCount++
		}

		ts := getTime(tx, "timestamp")
		if ts.After(b.lastActivity) {
			b.lastActivity = ts
		}
	}
	return b
}

func categorize(data string, txType int) string {
	data = strings.TrimPrefix(strings.ToLower(data), "0x")
	if data == "" {
		if txType == 0 {
			return config.CategoryNativeTransfer
		}
		return config.CategorySimpleCall
	}
	if len(data) < 8 {
		return config.CategoryUnknownContract
	}
	if cat, ok := config.CategoryFor(data[:8]); ok {
		return cat
	}
	return config.CategoryUnknownContract
}

func mergeWalletMetrics(prior models.WalletMetrics, batch walletBatch, nativeBalance string, holdings []models.TokenHolding, nfts []models.NFTHolding) models.WalletMetrics {
	merged := prior
	merged.NativeBalance = nativeBalance
	if holdings != nil {
		merged.TokenHoldings = holdings
	}
	if nfts != nil {
		merged.NFTHoldings = nfts
	}
	merged.TotalIncoming = addBig(prior.TotalIncoming, batch.incoming)
	merged.TotalOutgoing = addBig(prior.TotalOutgoing, batch.outgoing)
	merged.TotalFees = addBig(prior.TotalFees, batch.fees)
	merged.TotalGasUsed = addBig(prior.TotalGasUsed, batch.gasUsed)
	merged.FailedTransactionCount = prior.FailedTransactionCount + batch.failedCount
	merged.SuccessfulTransactionCount = prior.SuccessfulTransactionCount + batch.successfulCount

	if merged.TransactionCountsByCategory == nil {
		merged.TransactionCountsByCategory = map[string]int{}
	} else {
		cp := make(map[string]int, len(merged.TransactionCountsByCategory))
		for k, v := range merged.TransactionCountsByCategory {
			cp[k] = v
		}
		merged.TransactionCountsByCategory = cp
	}
	for cat, n := range batch.categoryCounts {
		merged.TransactionCountsByCategory[cat] += n
	}

	merged.UniqueContracts = mergeSet(prior.UniqueContracts, batch.newUniqueContracts)

	if batch.lastActivity.After(prior.LastActivityTime) {
		merged.LastActivityTime = batch.lastActivity
	}

	merged.PortfolioValueUSD = portfolioValue(nativeBalance, merged.TokenHoldings)
	return merged
}

func portfolioValue(nativeBalance string, holdings []models.TokenHolding) float64 {
	total := usdValue("NATIVE", nativeBalance)
	for _, h := range holdings {
		total += h.ValueUSD
	}
	return total
}

func mergeSet(existing []string, add []string) []string {
	seen := make(map[string]struct{}, len(existing))
	out := append([]string{}, existing...)
	for _, e := range existing {
		seen[e] = struct{}{}
	}
	for _, a := range add {
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

func walletAlerts(batch walletBatch, merged models.WalletMetrics, priorPortfolioValue float64) []models.Alert {
	var alerts []models.Alert
	now := time.Now().UTC()

	if batch.hugeTxCount > 0 {
		alerts = append(alerts, models.Alert{
			Type: "LARGE_TRANSACTION", Severity: models.SeverityHigh, Timestamp: now,
			Message: "a transaction exceeding 10^21 wei was observed",
		})
	}
	if gtBig(merged.TotalGasUsed, highGasTotalThreshold) {
		alerts = append(alerts, models.Alert{
			Type: "HIGH_GAS_USAGE", Severity: models.SeverityMedium, Timestamp: now,
			Message: "cumulative gas usage exceeds 10^18",
		})
	}
	if len(merged.UniqueContracts) > 10 {
		alerts = append(alerts, models.Alert{
			Type: "MULTIPLE_CONTRACT_INTERACTIONS", Severity: models.SeverityMedium, Timestamp: now,
			Message: fmt.Sprintf("wallet has interacted with %d unique contracts", len(merged.UniqueContracts)),
		})
	}
	if priorPortfolioValue > 0 {
		delta := (merged.PortfolioValueUSD - priorPortfolioValue) / priorPortfolioValue
		if delta < -0.2 {
			alerts = append(alerts, models.Alert{
				Type: "PORTFOLIO_VALUE_CHANGE", Severity: models.SeverityHigh, Timestamp: now,
				Message: "portfolio value dropped more than 20%",
			})
		} else if delta > 0.2 {
			alerts = append(alerts, models.Alert{
				Type: "PORTFOLIO_VALUE_CHANGE", Severity: models.SeverityMedium, Timestamp: now,
				Message: "portfolio value rose more than 20%",
			})
		}
	}
	if batch.zeroValueLargeCalldata > 10 {
		alerts = append(alerts, models.Alert{
			Type: "SUSPICIOUS_ACTIVITY", Severity: models.SeverityHigh, Timestamp: now,
			Message: "more than 10 zero-value contract calls with large calldata",
		})
	}
	return alerts
}

func walletRiskScore(batch walletBatch, merged models.WalletMetrics, alerts []models.Alert) int {
	score := 0
	if batch.txCount > 50 {
		score++
	}
	if batch.largeTxCount > 5 {
		score++
	}
	if len(merged.UniqueContracts) > 20 {
		score++
	}
	if batch.gasSamples > 0 {
		avgGas := bigOf(batch.totalGasSuccessful)
		avgGas.Div(avgGas, bigOf(fmt.Sprintf("%d", batch.gasSamples)))
		if avgGas.Cmp(bigOf("200000")) > 0 {
			score++
		}
	}
	if batch.txCount > 0 && float64(batch.failedCount)/float64(batch.txCount) > 0.1 {
		score++
	}
	if batch.txCount > 0 && float64(batch.zeroValueLargeCalldata)/float64(batch.txCount) > 0.5 {
		score++
	}
	score += alertScoreContribution(alerts)
	return score
}
