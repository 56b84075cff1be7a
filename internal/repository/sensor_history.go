package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"wisefido-camera/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// DefaultHistoryTable 默认历史表名
const DefaultHistoryTable = "sensor_history"

// SensorHistoryRepository 传感器读数历史仓库
type SensorHistoryRepository struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// NewSensorHistoryRepository 创建传感器读数历史仓库
func NewSensorHistoryRepository(db *sql.DB, table string, logger *zap.Logger) *SensorHistoryRepository {
	if table == "" {
		table = DefaultHistoryTable
	}
	return &SensorHistoryRepository{
		db:     db,
		table:  pq.QuoteIdentifier(table),
		logger: logger,
	}
}

// EnsureSchema 创建历史表（已存在时不做任何事）
func (r *SensorHistoryRepository) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id               BIGSERIAL PRIMARY KEY,
			sensor_key       TEXT        NOT NULL,
			value            TEXT        NOT NULL,
			recorded_at      TIMESTAMPTZ NOT NULL,
			details          JSONB       NOT NULL DEFAULT '{}'::jsonb,
			has_evidence     BOOLEAN     NOT NULL DEFAULT FALSE,
			correlation_role TEXT,
			correlation_id   TEXT,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, r.table)

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s: %w", r.table, err)
	}
	return nil
}

// Record 在一个事务里写入一批读数（实现 history.Recorder）
func (r *SensorHistoryRepository) Record(ctx context.Context, readings []models.SensorReading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (
			sensor_key,
			value,
			recorded_at,
			details,
			has_evidence,
			correlation_role,
			correlation_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.table)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, reading := range readings {
		details := reading.Details
		if details == nil {
			details = map[string]string{}
		}
		detailsJSON, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to marshal details for %s: %w", reading.SensorKey, err)
		}

		_, err = stmt.ExecContext(ctx,
			reading.SensorKey,
			reading.Value,
			reading.Timestamp,
			string(detailsJSON),
			reading.HasEvidence,
			nullString(string(reading.CorrelationRole)),
			nullString(reading.CorrelationID),
		)
		if err != nil {
			return fmt.Errorf("failed to insert %s history: %w", reading.SensorKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}

	r.logger.Debug("Inserted sensor history", zap.Int("count", len(readings)))
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
