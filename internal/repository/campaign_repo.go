package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailsched/internal/model"
)

type CampaignRepository struct {
	db *pgxpool.Pool
}

func NewCampaignRepository(db *pgxpool.Pool) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// ListCampaigns returns every campaign, optionally restricted to active
// ones. Ordered by window start, matching the admin listing.
func (r *CampaignRepository) ListCampaigns(ctx context.Context, activeOnly bool) ([]model.Campaign, error) {
	query := `
        SELECT id, name, time_from, time_to, week_day, description,
               message_id, sent, is_active, owner_id
        FROM campaigns
    `
	if activeOnly {
		query += " WHERE is_active"
	}
	query += " ORDER BY time_from"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []model.Campaign{}

	for rows.Next() {
		var (
			c           model.Campaign
			timeFrom    pgtype.Time
			timeTo      pgtype.Time
			weekDay     *int16
			description *string
		)

		err := rows.Scan(
			&c.ID,
			&c.Name,
			&timeFrom,
			&timeTo,
			&weekDay,
			&description,
			&c.MessageID,
			&c.Sent,
			&c.IsActive,
			&c.OwnerID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}

		c.TimeFrom = model.TimeOfDay(timeFrom.Microseconds / 1_000_000)
		c.TimeTo = model.TimeOfDay(timeTo.Microseconds / 1_000_000)
		if weekDay != nil {
			c.WeekDay = model.Weekday(*weekDay)
		}
		if description != nil {
			c.Description = *description
		}

		campaigns = append(campaigns, c)
	}

	return campaigns, rows.Err()
}

// ActiveCampaigns satisfies the dispatcher's campaign source when the cache
// is disabled.
func (r *CampaignRepository) ActiveCampaigns(ctx context.Context) ([]model.Campaign, error) {
	return r.ListCampaigns(ctx, true)
}

// MarkSent arms the per-window flag. The update is conditional on the flag
// still being clear so a concurrent duplicate writer loses; the return
// value reports whether this call won.
func (r *CampaignRepository) MarkSent(ctx context.Context, id int) (bool, error) {
	query := `
        UPDATE campaigns
        SET sent = true
        WHERE id = $1 AND sent = false
    `
	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark campaign %d sent: %w", id, err)
	}
	return ct.RowsAffected() == 1, nil
}

// ResetSent re-arms a campaign whose window has passed.
func (r *CampaignRepository) ResetSent(ctx context.Context, id int) error {
	query := `
        UPDATE campaigns
        SET sent = false
        WHERE id = $1
    `
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("reset campaign %d sent: %w", id, err)
	}
	return nil
}
