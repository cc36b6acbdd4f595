package worker

import (
	"context"
	"fmt"

	"catalog-import-service/internal/catalog"
	"catalog-import-service/internal/jobs"
	"catalog-import-service/internal/models"
)

// Importer runs one catalog import.
type Importer interface {
	Run(ctx context.Context, path string, rep catalog.Reporter) (catalog.Result, error)
}

// Dispatcher fans an event out to subscribers.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]any) ([]models.Delivery, error)
}

// ImportHandler runs catalog_import jobs. The csv_import_complete or
// csv_import_failed event rides on the outcome.
func ImportHandler(im Importer) Handler {
	return func(ctx context.Context, job models.Job, rep *Reporter) (Outcome, error) {
		path, err := jobs.ImportPath(job)
		if err != nil {
			return Outcome{}, err
		}
		res, err := im.Run(ctx, path, rep)
		eventType, payload := catalog.ImportEvent(path, res, err)
		events := []Event{{Type: eventType, Payload: payload}}
		if err != nil {
			return Outcome{Events: events}, err
		}
		return Outcome{
			Message: fmt.Sprintf("Import complete: %d rows processed", res.ProcessedRows),
			Result: map[string]any{
				"filepath":             res.Filepath,
				"total_rows":           res.TotalRows,
				"total_rows_processed": res.ProcessedRows,
				"inserted":             res.Inserted,
				"updated":              res.Updated,
				"skipped":              res.Skipped,
			},
			Events: events,
		}, nil
	}
}

// DispatchHandler runs webhook_dispatch jobs. Individual subscriber failures
// are recorded as telemetry and do not fail the job.
func DispatchHandler(d Dispatcher) Handler {
	return func(ctx context.Context, job models.Job, _ *Reporter) (Outcome, error) {
		eventType, payload, err := jobs.DispatchEvent(job)
		if err != nil {
			return Outcome{}, err
		}
		deliveries, err := d.Dispatch(ctx, eventType, payload)
		if err != nil {
			return Outcome{}, err
		}
		failed := 0
		for _, del := range deliveries {
			if del.StatusCode == 0 || del.StatusCode >= 400 {
				failed++
			}
		}
		return Outcome{
			Message: fmt.Sprintf("Delivered %s to %d subscribers", eventType, len(deliveries)),
			Result: map[string]any{
				"event_type": eventType,
				"attempts":   len(deliveries),
				"failed":     failed,
			},
		}, nil
	}
}
