package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"catalog-import-service/internal/models"
)

const webhookColumns = `id, url, event_type, enabled, last_triggered, last_status_code, last_response_time_ms, created_at`

func scanWebhook(row rowScanner) (models.Webhook, error) {
	var (
		w         models.Webhook
		triggered pgtype.Timestamptz
		status    pgtype.Int4
		elapsed   pgtype.Float8
	)
	if err := row.Scan(&w.ID, &w.URL, &w.EventType, &w.Enabled, &triggered, &status, &elapsed, &w.CreatedAt); err != nil {
		return models.Webhook{}, err
	}
	if triggered.Valid {
		t := triggered.Time
		w.LastTriggered = &t
	}
	if status.Valid {
		c := int(status.Int32)
		w.LastStatusCode = &c
	}
	if elapsed.Valid {
		ms := elapsed.Float64
		w.LastResponseTimeMS = &ms
	}
	return w, nil
}

// CreateWebhook registers a subscription.
func (s *Store) CreateWebhook(ctx context.Context, url, eventType string, enabled bool) (models.Webhook, error) {
	w, err := scanWebhook(s.pool.QueryRow(ctx, `
		INSERT INTO webhooks (url, event_type, enabled) VALUES ($1, $2, $3)
		RETURNING `+webhookColumns, url, eventType, enabled))
	if err != nil {
		return models.Webhook{}, fmt.Errorf("insert webhook: %w", err)
	}
	return w, nil
}

// GetWebhook fetches a subscription by id.
func (s *Store) GetWebhook(ctx context.Context, id int64) (models.Webhook, error) {
	w, err := scanWebhook(s.pool.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id))
	if err != nil {
		return models.Webhook{}, notFound(err, "webhook")
	}
	return w, nil
}

// ListWebhooks returns one page of subscriptions matching q.
func (s *Store) ListWebhooks(ctx context.Context, q WebhookQuery) (Page[models.Webhook], error) {
	where, args := q.where()

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhooks`+where, args...).Scan(&total); err != nil {
		return Page[models.Webhook]{}, fmt.Errorf("count webhooks: %w", err)
	}

	limit, limitArgs := limitOffset(len(args), q.Page, q.PerPage)
	rows, err := s.pool.Query(ctx, `SELECT `+webhookColumns+` FROM webhooks`+where+q.orderBy()+limit, append(args, limitArgs...)...)
	if err != nil {
		return Page[models.Webhook]{}, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var items []models.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return Page[models.Webhook]{}, fmt.Errorf("scan webhook: %w", err)
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return Page[models.Webhook]{}, err
	}
	return newPage(items, q.Page, q.PerPage, total), nil
}

// EnabledWebhooksForEvent lists enabled subscriptions for one event type.
func (s *Store) EnabledWebhooksForEvent(ctx context.Context, eventType string) ([]models.Webhook, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+webhookColumns+` FROM webhooks
		WHERE enabled AND event_type = $1
		ORDER BY id
	`, eventType)
	if err != nil {
		return nil, fmt.Errorf("list enabled webhooks: %w", err)
	}
	defer rows.Close()

	var out []models.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// WebhookUpdate holds the editable fields; nil leaves a field unchanged.
type WebhookUpdate struct {
	URL       *string
	EventType *string
	Enabled   *bool
}

// UpdateWebhook edits a subscription. Delivery telemetry is left untouched.
func (s *Store) UpdateWebhook(ctx context.Context, id int64, u WebhookUpdate) (models.Webhook, error) {
	w, err := scanWebhook(s.pool.QueryRow(ctx, `
		UPDATE webhooks
		SET url = COALESCE($2, url), event_type = COALESCE($3, event_type), enabled = COALESCE($4, enabled)
		WHERE id = $1
		RETURNING `+webhookColumns, id, u.URL, u.EventType, u.Enabled))
	if err != nil {
		return models.Webhook{}, notFound(err, "webhook")
	}
	return w, nil
}

// ToggleWebhook flips the enabled flag.
func (s *Store) ToggleWebhook(ctx context.Context, id int64) (models.Webhook, error) {
	w, err := scanWebhook(s.pool.QueryRow(ctx, `
		UPDATE webhooks SET enabled = NOT enabled WHERE id = $1
		RETURNING `+webhookColumns, id))
	if err != nil {
		return models.Webhook{}, notFound(err, "webhook")
	}
	return w, nil
}

// DeleteWebhook removes a subscription.
func (s *Store) DeleteWebhook(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook: %w", ErrNotFound)
	}
	return nil
}

// RecordDelivery writes the three telemetry fields of one attempt together.
func (s *Store) RecordDelivery(ctx context.Context, d models.Delivery) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhooks
		SET last_triggered = $2, last_status_code = $3, last_response_time_ms = $4
		WHERE id = $1
	`, d.WebhookID, d.TriggeredAt, d.StatusCode, d.ResponseTimeMS)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}
