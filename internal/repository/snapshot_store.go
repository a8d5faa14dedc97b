package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"chainwatch/internal/models"
)

// Latest returns the most recent Snapshot for (kind, entity, network), or
// nil if none exists yet.
// metrics is decoded into dst, which must be a pointer to the kind's
// metrics struct (models.WalletMetrics, models.TokenMetrics, models.NFTMetrics).
func (r *Repository) Latest(ctx context.Context, kind models.SnapshotKind, entity string, network models.Network, dst interface{}) (*SnapshotHeader, error) {
	var h SnapshotHeader
	var alertsJSON, metadataJSON, metricsJSON []byte

	err := r.db.QueryRow(ctx, `
		SELECT timestamp, alerts, risk_score, analysis_metadata, metrics
		FROM snapshots
		WHERE kind = $1 AND entity_address = $2 AND network = $3
		ORDER BY timestamp DESC LIMIT 1`,
		kind, entity, network,
	).Scan(&h.Timestamp, &alertsJSON, &h.RiskScore, &metadataJSON, &metricsJSON)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest %s snapshot: %w", kind, err)
	}

	if err := json.Unmarshal(alertsJSON, &h.Alerts); err != nil {
		return nil, fmt.Errorf("unmarshal alerts: %w", err)
	}
	if err := json.Unmarshal(metadataJSON, &h.AnalysisMetadata); err != nil {
		return nil, fmt.Errorf("unmarshal analysis metadata: %w", err)
	}
	if err := json.Unmarshal(metricsJSON, dst); err != nil {
		return nil, fmt.Errorf("unmarshal %s metrics: %w", kind, err)
	}
	return &h, nil
}

// SnapshotHeader carries the fields common to all snapshot kinds, decoded
// separately from the kind-specific metrics payload.
type SnapshotHeader struct {
	Timestamp        time.Time
	Alerts           []models.Alert
	RiskScore        int
	AnalysisMetadata models.AnalysisMetadata
}

// AppendWallet persists a new, immutable Wallet snapshot. Append is
// write-only: there is no update-in-place.
func (r *Repository) AppendWallet(ctx context.Context, s *models.WalletSnapshot) error {
	return r.append(ctx, models.KindWallet, s.EntityAddress, s.Network, s.Timestamp, s.Alerts, s.RiskScore, s.AnalysisMetadata, s.Metrics)
}

// AppendToken persists a new, immutable Token-flow snapshot.
func (r *Repository) AppendToken(ctx context.Context, s *models.TokenSnapshot) error {
	return r.append(ctx, models.KindToken, s.EntityAddress, s.Network, s.Timestamp, s.Alerts, s.RiskScore, s.AnalysisMetadata, s.Metrics)
}

// AppendNFT persists a new, immutable NFT-movement snapshot.
func (r *Repository) AppendNFT(ctx context.Context, s *models.NFTSnapshot) error {
	return r.append(ctx, models.KindNFT, s.EntityAddress, s.Network, s.Timestamp, s.Alerts, s.RiskScore, s.AnalysisMetadata, s.Metrics)
}

func (r *Repository) append(ctx context.Context, kind models.SnapshotKind, entity string, network models.Network, timestamp time.Time, alerts []models.Alert, riskScore int, metadata models.AnalysisMetadata, metrics interface{}) error {
	alertsJSON, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("marshal alerts: %w", err)
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal analysis metadata: %w", err)
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal %s metrics: %w", kind, err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO snapshots (kind, entity_address, network, timestamp, alerts, risk_score, analysis_metadata, metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		kind, entity, network, timestamp, alertsJSON, riskScore, metadataJSON, metricsJSON,
	)
	if err != nil {
		return fmt.Errorf("append %s snapshot: %w", kind, err)
	}
	return nil
}

// Count returns the number of persisted snapshots of a kind on a network.
func (r *Repository) Count(ctx context.Context, kind models.SnapshotKind, network models.Network) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM snapshots WHERE kind = $1 AND network = $2`, kind, network).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count %s snapshots: %w", kind, err)
	}
	return count, nil
}
