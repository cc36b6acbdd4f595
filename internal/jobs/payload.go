package jobs

import (
	"errors"
	"fmt"

	"catalog-import-service/internal/models"
)

const (
	keyFilepath  = "filepath"
	keyEventType = "event_type"
	keyPayload   = "payload"
)

func ImportPayload(path string) map[string]any {
	return map[string]any{keyFilepath: path}
}

func DispatchPayload(eventType string, payload map[string]any) map[string]any {
	return map[string]any{keyEventType: eventType, keyPayload: payload}
}

// ImportPath extracts the upload path from a catalog_import job.
func ImportPath(job models.Job) (string, error) {
	path, _ := job.Payload[keyFilepath].(string)
	if path == "" {
		return "", errors.New("payload.filepath is required")
	}
	return path, nil
}

// DispatchEvent extracts the event of a webhook_dispatch job. The payload has
// been through a JSON round trip, so nested values are generic maps.
func DispatchEvent(job models.Job) (string, map[string]any, error) {
	eventType, _ := job.Payload[keyEventType].(string)
	if !models.ValidEventType(eventType) {
		return "", nil, fmt.Errorf("payload.event_type %q is not a known event", eventType)
	}
	payload, ok := job.Payload[keyPayload].(map[string]any)
	if !ok {
		return "", nil, errors.New("payload.payload must be an object")
	}
	return eventType, payload, nil
}
