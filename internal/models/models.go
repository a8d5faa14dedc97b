// Package models defines the durable record types shared by the job
// control plane and the incremental analysis pipeline: Job, the three
// Snapshot kinds, and their common building blocks (LogEntry, Alert).
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the analysis kind a Job dispatches to.
type Action string

const (
	ActionWalletSnapshot  Action = "wallet_snapshot"
	ActionAnalyzeCoinFlow Action = "analyze_coin_flows"
	ActionAnalyzeNFTMoves Action = "analyze_nft_movements"
)

func (a Action) Valid() bool {
	switch a {
	case ActionWalletSnapshot, ActionAnalyzeCoinFlow, ActionAnalyzeNFTMoves:
		return true
	}
	return false
}

// Network is one of the upstream chains the Feed Adapter can target.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
	NetworkDevnet  Network = "devnet"
)

func (n Network) Valid() bool {
	switch n {
	case NetworkMainnet, NetworkTestnet, NetworkDevnet:
		return true
	}
	return false
}

// JobType controls the Job's recurrence model.
type JobType string

const (
	JobTypeScheduled JobType = "scheduled"
	JobTypeRetry     JobType = "retry"
)

// JobStatus is the Job's lifecycle state.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// LogLevel tags a single log entry in a Job's append-only streams.
type LogLevel string

const (
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// LogEntry is one element of Job.Logs or Job.ServiceLogs. Logs is
// Worker-produced; ServiceLogs is Analyzer-produced and captured via the
// per-handler logging sink the worker injects into each analyzer run.
type LogEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Level     LogLevel        `json:"level"`
	Message   string          `json:"message"`
	Function  string          `json:"function,omitempty"`
	Duration  *time.Duration  `json:"duration,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// ErrorDetails captures the last failure seen by a Job's handler.
type ErrorDetails struct {
	Message   string    `json:"message"`
	Stack     string    `json:"stack,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Job is the durable record owned by the Job Store. It is created on
// submission and mutated only by the Scheduler/Worker.
type Job struct {
	ID              string                 `json:"id"`
	Action          Action                 `json:"action"`
	Payload         map[string]interface{} `json:"payload"`
	Network         Network                `json:"network"`
	Type            JobType                `json:"type"`
	ScheduledAt     *time.Time             `json:"scheduledAt,omitempty"`
	IntervalMinutes int                    `json:"intervalMinutes,omitempty"`
	Status          JobStatus              `json:"status"`
	LastRunAt       *time.Time             `json:"lastRunAt,omitempty"`
	NextRunAt       *time.Time             `json:"nextRunAt,omitempty"`
	Logs            []LogEntry             `json:"logs"`
	ServiceLogs     []LogEntry             `json:"serviceLogs"`
	ErrorDetails    *ErrorDetails          `json:"errorDetails,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// IntervalDuration returns IntervalMinutes as a time.Duration.
func (j *Job) IntervalDuration() time.Duration {
	return time.Duration(j.IntervalMinutes) * time.Minute
}

// JobSpec is the validated submission payload.
type JobSpec struct {
	Action          Action                 `json:"action"`
	Payload         map[string]interface{} `json:"payload"`
	Network         Network                `json:"network"`
	Type            JobType                `json:"type"`
	ScheduledAt     *time.Time             `json:"scheduledAt,omitempty"`
	IntervalMinutes int                    `json:"intervalMinutes,omitempty"`
}

// Validate applies the create-time validation rules.
func (s *JobSpec) Validate() error {
	if !s.Action.Valid() {
		return fmt.Errorf("unknown action %q", s.Action)
	}
	if s.Network == "" {
		s.Network = NetworkTestnet
	}
	if !s.Network.Valid() {
		return fmt.Errorf("unknown network %q", s.Network)
	}
	switch s.Type {
	case JobTypeScheduled:
		if s.ScheduledAt == nil {
			return fmt.Errorf("scheduled jobs require scheduledAt")
		}
	case JobTypeRetry:
		if s.IntervalMinutes <= 0 {
			return fmt.Errorf("retry jobs require a positive intervalMinutes")
		}
	default:
		return fmt.Errorf("unknown job type %q", s.Type)
	}
	return nil
}

// Severity is an Alert's severity tier.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Alert is a threshold-triggered finding attached to a Snapshot.
type Alert struct {
	Type      string                 `json:"type"`
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// DataQuality tags how complete a Snapshot's upstream data was.
type DataQuality string

const (
	QualityComplete           DataQuality = "COMPLETE"
	QualityPartial            DataQuality = "PARTIAL"
	QualityLimited            DataQuality = "LIMITED"
	QualityServiceUnavailable DataQuality = "SERVICE_UNAVAILABLE"
)

// AnalysisMetadata carries counts and a data-quality tag common to every
// Snapshot kind.
type AnalysisMetadata struct {
	NewItemsProcessed int         `json:"newItemsProcessed"`
	TotalItemsKnown   int         `json:"totalItemsKnown"`
	DataQuality       DataQuality `json:"dataQuality"`
	Sources           []string    `json:"sources,omitempty"`
}

// SnapshotKind distinguishes the three analyzer flavors.
type SnapshotKind string

const (
	KindWallet SnapshotKind = "wallet"
	KindToken  SnapshotKind = "token"
	KindNFT    SnapshotKind = "nft"
)

// TokenHolding is one ERC-20 balance line in a wallet's portfolio.
type TokenHolding struct {
	ContractAddress string  `json:"contractAddress"`
	Symbol          string  `json:"symbol"`
	Balance         string  `json:"balance"`
	ValueUSD        float64 `json:"valueUsd"`
}

// NFTHolding is one ERC-721 token a wallet currently holds.
type NFTHolding struct {
	ContractAddress string `json:"contractAddress"`
	TokenID         string `json:"tokenId"`
}

// WalletMetrics is the cumulative, merged state tracked by wallet_snapshot
// cycles. Wei-scale fields are decimal strings.
type WalletMetrics struct {
	NativeBalance               string         `json:"nativeBalance"`
	TokenHoldings               []TokenHolding `json:"tokenHoldings,omitempty"`
	NFTHoldings                 []NFTHolding   `json:"nftHoldings,omitempty"`
	PortfolioValueUSD           float64        `json:"portfolioValueUsd"`
	TotalIncoming               string         `json:"totalIncoming"`
	TotalOutgoing               string         `json:"totalOutgoing"`
	TotalFees                   string         `json:"totalFees"`
	TotalGasUsed                string         `json:"totalGasUsed"`
	FailedTransactionCount      int            `json:"failedTransactionCount"`
	SuccessfulTransactionCount  int            `json:"successfulTransactionCount"`
	TransactionCountsByCategory map[string]int `json:"transactionCountsByCategory,omitempty"`
	UniqueContracts             []string       `json:"uniqueContracts,omitempty"`
	LastActivityTime            time.Time      `json:"lastActivityTime"`
	ProcessedTransactionHashes  []string       `json:"processedTransactionHashes,omitempty"`
}

// WalletSnapshot is one persisted wallet_snapshot cycle result.
type WalletSnapshot struct {
	EntityAddress    string           `json:"entityAddress"`
	Network          Network          `json:"network"`
	Timestamp        time.Time        `json:"timestamp"`
	Alerts           []Alert          `json:"alerts"`
	RiskScore        int              `json:"riskScore"`
	AnalysisMetadata AnalysisMetadata `json:"analysisMetadata"`
	Metrics          WalletMetrics    `json:"metrics"`
}

// TokenWindow is a rolling-volume bucket tracked at 1h/6h/24h granularity.
// Start is the wall-clock time at which the bucket was last re-based; the
// analyzer keeps one open bucket per duration and re-bases it once the
// wall-clock moves outside its span.
type TokenWindow struct {
	Start         time.Time `json:"start"`
	Volume        string    `json:"volume"`
	TransferCount int       `json:"transferCount"`
}

// TokenTransferRecord is one large-transfer or burn entry kept in a
// bounded FIFO window.
type TokenTransferRecord struct {
	Hash      string    `json:"hash"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// AddressFlowStats is one address's cumulative send/receive activity
// within a token-flow snapshot.
type AddressFlowStats struct {
	TotalSent     string `json:"totalSent"`
	SentCount     int    `json:"sentCount"`
	TotalReceived string `json:"totalReceived"`
	ReceivedCount int    `json:"receivedCount"`
}

// AddressRanking is one entry of a top-N ranking by cumulative value.
type AddressRanking struct {
	Address string `json:"address"`
	Value   string `json:"value"`
}

// TokenMetrics is the cumulative, merged state tracked by
// analyze_coin_flows cycles.
type TokenMetrics struct {
	TotalTransfers             int                         `json:"totalTransfers"`
	CumulativeVolume           string                      `json:"cumulativeVolume"`
	Windows1h                  TokenWindow                 `json:"windows1h"`
	Windows6h                  TokenWindow                 `json:"windows6h"`
	Windows24h                 TokenWindow                 `json:"windows24h"`
	AddressStats               map[string]AddressFlowStats `json:"addressStats,omitempty"`
	LargeTransfers             []TokenTransferRecord       `json:"largeTransfers,omitempty"`
	BurnTransactions           []TokenTransferRecord       `json:"burnTransactions,omitempty"`
	UniqueAddresses            []string                    `json:"uniqueAddresses,omitempty"`
	TopSenders                 []AddressRanking            `json:"topSenders,omitempty"`
	TopReceivers               []AddressRanking            `json:"topReceivers,omitempty"`
	ProcessedTransactionHashes []string                    `json:"processedTransactionHashes,omitempty"`
}

// TokenSnapshot is one persisted analyze_coin_flows cycle result.
type TokenSnapshot struct {
	EntityAddress    string           `json:"entityAddress"`
	Network          Network          `json:"network"`
	Timestamp        time.Time        `json:"timestamp"`
	Alerts           []Alert          `json:"alerts"`
	RiskScore        int              `json:"riskScore"`
	AnalysisMetadata AnalysisMetadata `json:"analysisMetadata"`
	Metrics          TokenMetrics     `json:"metrics"`
}

// NFTTransferRecord is one entry in an NFT collection's bounded transfer
// history window.
type NFTTransferRecord struct {
	Hash      string    `json:"hash"`
	TokenID   string    `json:"tokenId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// TraderStats tracks one address's buy/sell activity within a collection,
// including the distinct set of tokenIds it has ever transacted (used for
// the wash-trading alert's "high transfer count, few distinct tokens"
// check).
type TraderStats struct {
	Address       string    `json:"address"`
	Bought        int       `json:"bought"`
	Sold          int       `json:"sold"`
	TransferCount int       `json:"transferCount"`
	TokensSeen    []string  `json:"tokensSeen,omitempty"`
	LastActivity  time.Time `json:"lastActivity"`
}

// HolderRanking is one entry of a top-holders-by-token-count ranking.
type HolderRanking struct {
	Address string `json:"address"`
	Count   int    `json:"count"`
}

// NFTIntWindow is a rolling transfer-count bucket, re-based once the
// wall-clock moves outside its span (mirrors TokenWindow's roll semantics
// but counts transfers rather than accumulating a big.Int volume).
type NFTIntWindow struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// NFTWindowCounts is the rolling 1h/6h/24h transfer-count view reported on
// a snapshot.
type NFTWindowCounts struct {
	OneHour    int `json:"oneHour"`
	SixHour    int `json:"sixHour"`
	TwentyFour int `json:"twentyFourHour"`
}

// FeeBucket is the low/med/high fee-distribution histogram.
type FeeBucket struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// NFTMetrics is the cumulative, merged state tracked by
// analyze_nft_movements cycles. CurrentHolders
// is keyed by tokenId; holder
// counts and rankings are derived from it at merge time, not stored
// separately.
type NFTMetrics struct {
	TotalTransfers int `json:"totalTransfers"`

	CurrentHolders map[string]string `json:"currentHolders,omitempty"` // tokenId -> current holder address
	UniqueHolders  []string          `json:"uniqueHolders,omitempty"`  // monotone set, excludes zero address

	TransferHistory []NFTTransferRecord `json:"transferHistory,omitempty"` // bounded <=1000
	Mints           []NFTTransferRecord `json:"mints,omitempty"`           // bounded <=500
	Burns           []NFTTransferRecord `json:"burns,omitempty"`           // bounded <=500

	TraderStats map[string]TraderStats `json:"traderStats,omitempty"`

	TopHolders        []HolderRanking `json:"topHolders,omitempty"`
	MostActiveTraders []string        `json:"mostActiveTraders,omitempty"`

	TransfersByTimeframe NFTWindowCounts `json:"transfersByTimeframe"`
	Windows1h            NFTIntWindow    `json:"windows1h"`
	Windows6h            NFTIntWindow    `json:"windows6h"`
	Windows24h           NFTIntWindow    `json:"windows24h"`

	FeeDistribution FeeBucket     `json:"feeDistribution"`
	AvgHoldingTime  time.Duration `json:"avgHoldingTime"`

	ProcessedTransactionHashes []string `json:"processedTransactionHashes,omitempty"` // bounded <=2000
}

// NFTSnapshot is one persisted analyze_nft_movements cycle result.
type NFTSnapshot struct {
	EntityAddress    string           `json:"entityAddress"`
	Network          Network          `json:"network"`
	Timestamp        time.Time        `json:"timestamp"`
	Alerts           []Alert          `json:"alerts"`
	RiskScore        int              `json:"riskScore"`
	AnalysisMetadata AnalysisMetadata `json:"analysisMetadata"`
	Metrics          NFTMetrics       `json:"metrics"`
}
