package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// RecordGatewayEvent stores a webhook delivery keyed by eventKey.
// It returns duplicate=true when the event was already recorded and either
// processed or still in flight. Deliveries whose earlier processing failed
// are handed out again so the gateway's redelivery can repair them.
func (r *Repository) RecordGatewayEvent(ctx context.Context, eventKey, eventType string, payload []byte) (string, bool, error) {
	query := `
		INSERT INTO gateway_events (event_key, event_type, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_key) DO UPDATE
		SET received_at = NOW(),
		    process_error = NULL,
		    payload = EXCLUDED.payload
		WHERE gateway_events.process_error IS NOT NULL
		RETURNING id
	`
	var id string
	err := r.db.QueryRow(ctx, query, eventKey, eventType, payload).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", true, nil
		}
		return "", false, fmt.Errorf("record gateway event: %w", err)
	}
	return id, false, nil
}

// MarkGatewayEventProcessed stamps the outcome of handling a webhook delivery.
func (r *Repository) MarkGatewayEventProcessed(ctx context.Context, id string, processErr *string) error {
	query := `
		UPDATE gateway_events
		SET processed_at = NOW(),
		    process_error = $2
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, processErr); err != nil {
		return fmt.Errorf("mark gateway event processed: %w", err)
	}
	return nil
}
