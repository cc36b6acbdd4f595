package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"catalog-import-service/internal/config"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/telemetry"
)

// Reporter receives best-effort progress updates for the running job.
type Reporter interface {
	Progress(ctx context.Context, percent int, message string) error
}

// Opener opens a stored upload by the path it was saved under.
type Opener interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Options tune how an import is applied.
type Options struct {
	ChunkSize int
	// Atomicity is config.AtomicityChunk (each chunk commits on its own) or
	// config.AtomicityJob (the whole file commits or rolls back together).
	Atomicity string
	Encoding  string
}

// Result describes a finished import.
type Result struct {
	Filepath      string `json:"filepath"`
	TotalRows     int    `json:"total_rows"`
	ProcessedRows int    `json:"total_rows_processed"`
	Inserted      int    `json:"inserted"`
	Updated       int    `json:"updated"`
	Skipped       int    `json:"skipped"`
}

// Importer applies an uploaded CSV file to the catalog chunk by chunk.
type Importer struct {
	catalog Catalog
	files   Opener
	opts    Options
	log     *zap.Logger
}

// NewImporter wires an importer. A nil logger disables logging.
func NewImporter(c Catalog, files Opener, opts Options, log *zap.Logger) *Importer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.Atomicity == "" {
		opts.Atomicity = config.AtomicityChunk
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{catalog: c, files: files, opts: opts, log: log}
}

// Run imports the file at path. Chunks are applied strictly in file order.
// Under chunk atomicity a failure rolls back only the in-flight chunk; earlier
// chunks stay committed, so re-running a corrected file is the recovery path.
// The caller announces the outcome with ImportEvent once the job state is final.
func (im *Importer) Run(ctx context.Context, path string, rep Reporter) (Result, error) {
	start := time.Now()
	log := im.log.With(zap.String("filepath", path))

	res, err := im.run(ctx, path, rep)
	telemetry.ImportDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.ImportsFailed.Inc()
		log.Error("catalog import failed", zap.Int("processed_rows", res.ProcessedRows), zap.Error(err))
		return res, err
	}

	telemetry.ImportsSucceeded.Inc()
	log.Info("catalog import finished",
		zap.Int("total_rows", res.TotalRows),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// ImportEvent builds the csv_import_complete or csv_import_failed event for a
// finished Run.
func ImportEvent(path string, res Result, err error) (string, map[string]any) {
	if err != nil {
		return models.EventCSVImportFailed, models.ImportFailedPayload(fmt.Sprintf("Import failed: %v", err), path)
	}
	msg := fmt.Sprintf("Import complete: %d rows processed", res.ProcessedRows)
	return models.EventCSVImportComplete, models.ImportCompletePayload(msg, res.ProcessedRows, path)
}

func (im *Importer) run(ctx context.Context, path string, rep Reporter) (Result, error) {
	res := Result{Filepath: path}

	total, err := im.countRows(ctx, path)
	if err != nil {
		return res, err
	}
	res.TotalRows = total
	im.report(ctx, rep, 0, "Starting import...")

	f, err := im.files.Open(ctx, path)
	if err != nil {
		return res, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	cr, err := NewChunkReader(f, im.opts.ChunkSize, im.opts.Encoding)
	if err != nil {
		return res, err
	}
	if !(Chunk{Columns: cr.Columns()}).HasColumn(ColumnSKU) {
		return res, missingColumn(ColumnSKU)
	}
	if total == 0 {
		im.report(ctx, rep, 100, "No rows to import")
	}

	if im.opts.Atomicity == config.AtomicityJob {
		err = im.catalog.InTx(ctx, func(tx Tx) error {
			return im.stream(ctx, cr, rep, &res, func(fn func(Tx) error) error { return fn(tx) })
		})
	} else {
		err = im.stream(ctx, cr, rep, &res, func(fn func(Tx) error) error { return im.catalog.InTx(ctx, fn) })
	}
	return res, err
}

// stream feeds chunks to Upsert through apply, which decides the transaction
// boundary for each chunk.
func (im *Importer) stream(ctx context.Context, cr *ChunkReader, rep Reporter, res *Result, apply func(func(Tx) error) error) error {
	for n := 1; ; n++ {
		chunk, err := cr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var stats UpsertStats
		err = apply(func(tx Tx) error {
			var uerr error
			stats, uerr = Upsert(ctx, tx, chunk)
			return uerr
		})
		if err != nil {
			return fmt.Errorf("chunk %d: %w", n, err)
		}

		res.ProcessedRows += len(chunk.Rows)
		res.Inserted += stats.Inserted
		res.Updated += stats.Updated
		res.Skipped += stats.Skipped
		telemetry.ImportRows.Add(float64(len(chunk.Rows)))

		im.report(ctx, rep, Percent(res.ProcessedRows, res.TotalRows),
			fmt.Sprintf("Processed %d of %d rows", res.ProcessedRows, res.TotalRows))
	}
}

func (im *Importer) countRows(ctx context.Context, path string) (int, error) {
	f, err := im.files.Open(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()
	return CountRows(f)
}

func (im *Importer) report(ctx context.Context, rep Reporter, percent int, message string) {
	if rep == nil {
		return
	}
	if err := rep.Progress(ctx, percent, message); err != nil {
		im.log.Warn("progress update failed", zap.Int("progress", percent), zap.Error(err))
	}
}

// Percent is ceil(processed/total*100) capped at 100. An empty file is
// complete by definition.
func Percent(processed, total int) int {
	if total <= 0 {
		return 100
	}
	p := (processed*100 + total - 1) / total
	if p > 100 {
		return 100
	}
	return p
}
