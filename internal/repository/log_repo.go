package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailsched/internal/model"
)

type LogRepository struct {
	db *pgxpool.Pool
}

func NewLogRepository(db *pgxpool.Pool) *LogRepository {
	return &LogRepository{db: db}
}

// Append inserts one audit record. Rows are never updated or deleted.
func (r *LogRepository) Append(ctx context.Context, campaignID *int, kind, message string, at time.Time) error {
	query := `
        INSERT INTO logs (campaign_id, time, error_type, error_message)
        VALUES ($1, $2, $3, $4)
    `
	if _, err := r.db.Exec(ctx, query, campaignID, at, kind, message); err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries first, for operator inspection.
func (r *LogRepository) Recent(ctx context.Context, limit int) ([]model.LogEntry, error) {
	query := `
        SELECT id, campaign_id, time, error_type, error_message, owner_id
        FROM logs
        ORDER BY time DESC
        LIMIT $1
    `
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	defer rows.Close()

	entries := []model.LogEntry{}
	for rows.Next() {
		var e model.LogEntry
		err := rows.Scan(
			&e.ID,
			&e.CampaignID,
			&e.Time,
			&e.ErrorType,
			&e.ErrorMessage,
			&e.OwnerID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
