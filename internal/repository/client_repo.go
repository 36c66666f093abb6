package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type ClientRepository struct {
	db *pgxpool.Pool
}

func NewClientRepository(db *pgxpool.Pool) *ClientRepository {
	return &ClientRepository{db: db}
}

// Recipients resolves the email addresses joined to a campaign through its
// memberships. Client.is_active is a CRUD-layer concern and is not
// consulted here.
func (r *ClientRepository) Recipients(ctx context.Context, campaignID int) ([]string, error) {
	query := `
        SELECT c.email
        FROM clients c
        JOIN mailing_list m ON m.client_id = c.id
        WHERE m.campaign_id = $1
        ORDER BY c.email
    `
	rows, err := r.db.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("recipients for campaign %d: %w", campaignID, err)
	}
	defer rows.Close()

	emails := []string{}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		emails = append(emails, email)
	}

	return emails, rows.Err()
}
