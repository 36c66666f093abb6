package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailsched/internal/model"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// FindByID returns the message template, or nil when the row no longer
// exists. A campaign may legitimately point at a deleted template, so a
// missing row is not an error here.
func (r *MessageRepository) FindByID(ctx context.Context, id int) (*model.Message, error) {
	query := `
        SELECT id, name, title, body, owner_id
        FROM messages
        WHERE id = $1
    `
	var (
		m     model.Message
		title *string
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&m.ID,
		&m.Name,
		&title,
		&m.Body,
		&m.OwnerID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find message %d: %w", id, err)
	}
	if title != nil {
		m.Title = *title
	}
	return &m, nil
}
