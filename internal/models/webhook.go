package models

import "time"

// Event types a subscription can listen to.
const (
	EventProductUpdated      = "product_updated"
	EventProductDeleted      = "product_deleted"
	EventBulkProductsDeleted = "bulk_products_deleted"
	EventCSVImportComplete   = "csv_import_complete"
	EventCSVImportFailed     = "csv_import_failed"
)

// EventTypes lists every supported event type.
var EventTypes = []string{
	EventProductUpdated,
	EventProductDeleted,
	EventBulkProductsDeleted,
	EventCSVImportComplete,
	EventCSVImportFailed,
}

// ValidEventType reports whether t is a known event type.
func ValidEventType(t string) bool {
	for _, e := range EventTypes {
		if e == t {
			return true
		}
	}
	return false
}

// Webhook is a subscription of one URL to one event type. The Last* fields
// are delivery telemetry and are only written by the dispatcher.
type Webhook struct {
	ID                 int64      `json:"id"`
	URL                string     `json:"url"`
	EventType          string     `json:"event_type"`
	Enabled            bool       `json:"enabled"`
	LastTriggered      *time.Time `json:"last_triggered,omitempty"`
	LastStatusCode     *int       `json:"last_status_code,omitempty"`
	LastResponseTimeMS *float64   `json:"last_response_time_ms,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Delivery is the outcome of one POST to a subscriber. StatusCode 0 means
// the request never produced an HTTP response.
type Delivery struct {
	WebhookID      int64
	StatusCode     int
	ResponseTimeMS float64
	TriggeredAt    time.Time
}
