package store

import (
	"context"
	"fmt"

	"github.com/awnexus/billing-service/internal/domain"
)

// InsertLead persists a contact-form submission.
func (r *Repository) InsertLead(ctx context.Context, lead domain.Lead) (*domain.Lead, error) {
	query := `
		INSERT INTO leads (name, email, company, message, source)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	saved := lead
	if err := r.db.QueryRow(ctx, query, lead.Name, lead.Email, lead.Company, lead.Message, lead.Source).
		Scan(&saved.ID, &saved.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert lead: %w", err)
	}
	return &saved, nil
}
