package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-import-service/internal/config"
	"catalog-import-service/internal/models"
)

func csvWithRows(n int) string {
	var b strings.Builder
	b.WriteString("sku,name,description\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "SKU%05d,Item %d,desc %d\n", i, i, i)
	}
	return b.String()
}

func newTestImporter(cat *memCatalog, files memFiles, atomicity string) *Importer {
	return NewImporter(cat, files, Options{ChunkSize: 1000, Atomicity: atomicity}, nil)
}

func TestImportReportsMonotonicProgress(t *testing.T) {
	cat := newMemCatalog()
	rep := &recordingReporter{}
	im := newTestImporter(cat, memFiles{"big.csv": csvWithRows(2500)}, config.AtomicityChunk)

	res, err := im.Run(context.Background(), "big.csv", rep)
	require.NoError(t, err)

	assert.Equal(t, 2500, res.TotalRows)
	assert.Equal(t, 2500, res.ProcessedRows)
	assert.Equal(t, []int{0, 40, 80, 100}, rep.percents())
	assert.Equal(t, "Starting import...", rep.calls[0].Message)
	assert.Equal(t, "Processed 1000 of 2500 rows", rep.calls[1].Message)
	assert.Len(t, cat.products(), 2500)
	assert.Equal(t, 3, cat.commits, "one commit per chunk")

	eventType, payload := ImportEvent("big.csv", res, err)
	assert.Equal(t, models.EventCSVImportComplete, eventType)
	assert.Equal(t, models.EventCSVImportComplete, payload["event"])
	assert.Equal(t, 2500, payload["total_rows_processed"])
	assert.Equal(t, "big.csv", payload["filepath"])
	assert.Equal(t, "Import complete: 2500 rows processed", payload["message"])
}

func TestImportHeaderOnlyReportsComplete(t *testing.T) {
	cat := newMemCatalog()
	rep := &recordingReporter{}
	im := newTestImporter(cat, memFiles{"empty.csv": "sku,name,description\n"}, config.AtomicityChunk)

	res, err := im.Run(context.Background(), "empty.csv", rep)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalRows)
	assert.Equal(t, []int{0, 100}, rep.percents())
	eventType, _ := ImportEvent("empty.csv", res, err)
	assert.Equal(t, models.EventCSVImportComplete, eventType)
}

func TestImportScenarioDuplicateSKU(t *testing.T) {
	cat := newMemCatalog()
	src := "sku,name,description\nSKU001,Widget,A desc\nsku001,Widget v2,B desc\n"
	im := newTestImporter(cat, memFiles{"dup.csv": src}, config.AtomicityChunk)

	_, err := im.Run(context.Background(), "dup.csv", nil)
	require.NoError(t, err)

	products := cat.products()
	require.Len(t, products, 1)
	assert.Equal(t, "SKU001", products[0].SKU)
	assert.Equal(t, "Widget v2", products[0].Name)
	assert.Equal(t, "B desc", products[0].Description)
	assert.True(t, products[0].Active)
}

func TestImportMissingSKUColumnFails(t *testing.T) {
	cat := newMemCatalog()
	im := newTestImporter(cat, memFiles{"bad.csv": "code,name\nX,Y\n"}, config.AtomicityChunk)

	res, err := im.Run(context.Background(), "bad.csv", nil)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "sku")
	assert.Empty(t, cat.products())

	eventType, payload := ImportEvent("bad.csv", res, err)
	assert.Equal(t, models.EventCSVImportFailed, eventType)
	assert.Equal(t, "bad.csv", payload["filepath"])
	assert.Contains(t, payload["message"], "Import failed:")
	assert.Contains(t, payload["message"], "sku")
}

func TestImportFileNotFound(t *testing.T) {
	im := newTestImporter(newMemCatalog(), memFiles{}, config.AtomicityChunk)

	_, err := im.Run(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestImportChunkAtomicityKeepsEarlierChunks(t *testing.T) {
	cat := newMemCatalog()
	cat.failOnTx = 2
	im := newTestImporter(cat, memFiles{"f.csv": csvWithRows(2500)}, config.AtomicityChunk)

	res, err := im.Run(context.Background(), "f.csv", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)
	assert.Contains(t, err.Error(), "chunk 2")
	assert.Equal(t, 1000, res.ProcessedRows)
	assert.Len(t, cat.products(), 1000, "first chunk stays committed")
}

func TestImportJobAtomicityRollsBackEverything(t *testing.T) {
	cat := newMemCatalog()
	// the single import-wide transaction fails at commit, after both chunks ran
	src := csvWithRows(1500)
	cat.failOnTx = 1
	im := newTestImporter(cat, memFiles{"f.csv": src}, config.AtomicityJob)

	_, err := im.Run(context.Background(), "f.csv", nil)
	require.Error(t, err)
	assert.Empty(t, cat.products())
	assert.Equal(t, 0, cat.commits)
}

func TestImportIdempotentAcrossRuns(t *testing.T) {
	cat := newMemCatalog()
	files := memFiles{"f.csv": csvWithRows(1200)}
	im := newTestImporter(cat, files, config.AtomicityChunk)

	_, err := im.Run(context.Background(), "f.csv", nil)
	require.NoError(t, err)
	first := cat.products()

	_, err = im.Run(context.Background(), "f.csv", nil)
	require.NoError(t, err)
	assert.Equal(t, first, cat.products())
}
