package catalog

import (
	"context"
	"fmt"
	"strings"

	"catalog-import-service/internal/models"
)

// Tx is the slice of the catalog store the upsert engine needs, scoped to one
// open transaction.
type Tx interface {
	// FindBySKUs returns every product whose uppercased SKU is in canonical.
	FindBySKUs(ctx context.Context, canonical []string) ([]models.Product, error)
	InsertProducts(ctx context.Context, products []models.Product) error
	UpdateProducts(ctx context.Context, products []models.Product) error
}

// Catalog opens transactions on the catalog store. InTx commits when fn
// returns nil and rolls back otherwise.
type Catalog interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// UpsertStats summarises one Upsert call.
type UpsertStats struct {
	Inserted int
	Updated  int
	Skipped  int
}

// Upsert reconciles chunk against the catalog through tx. Matching is on the
// canonical (uppercase) SKU; new products keep the SKU casing of the first row
// that staged them. When a SKU repeats within the chunk the later row's values
// win, for updates and inserts alike. Every touched product ends up active.
func Upsert(ctx context.Context, tx Tx, chunk Chunk) (UpsertStats, error) {
	var stats UpsertStats
	if !chunk.HasColumn(ColumnSKU) {
		return stats, missingColumn(ColumnSKU)
	}

	canonical := make([]string, 0, len(chunk.Rows))
	seen := make(map[string]struct{}, len(chunk.Rows))
	for _, row := range chunk.Rows {
		key := models.CanonicalSKU(row.Get(ColumnSKU))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			canonical = append(canonical, key)
		}
	}
	if len(canonical) == 0 {
		stats.Skipped = len(chunk.Rows)
		return stats, nil
	}

	existing, err := tx.FindBySKUs(ctx, canonical)
	if err != nil {
		return stats, fmt.Errorf("lookup existing skus: %w", err)
	}
	bySKU := make(map[string]*models.Product, len(existing))
	for i := range existing {
		bySKU[models.CanonicalSKU(existing[i].SKU)] = &existing[i]
	}

	var (
		updateOrder []string
		updated     = make(map[string]struct{})
		insertOrder []string
		inserts     = make(map[string]models.Product)
	)
	for _, row := range chunk.Rows {
		raw := strings.TrimSpace(row.Get(ColumnSKU))
		key := models.CanonicalSKU(raw)
		if key == "" {
			stats.Skipped++
			continue
		}
		name := row.Get(ColumnName)
		description := row.Get(ColumnDescription)

		if p, ok := bySKU[key]; ok {
			p.Name = name
			p.Description = description
			p.Active = true
			if _, dup := updated[key]; !dup {
				updated[key] = struct{}{}
				updateOrder = append(updateOrder, key)
			}
			continue
		}
		sku := raw
		if staged, dup := inserts[key]; dup {
			sku = staged.SKU
		} else {
			insertOrder = append(insertOrder, key)
		}
		inserts[key] = models.Product{
			SKU:         sku,
			Name:        name,
			Description: description,
			Active:      true,
		}
	}

	if len(insertOrder) > 0 {
		batch := make([]models.Product, 0, len(insertOrder))
		for _, key := range insertOrder {
			batch = append(batch, inserts[key])
		}
		if err := tx.InsertProducts(ctx, batch); err != nil {
			return stats, fmt.Errorf("insert products: %w", err)
		}
		stats.Inserted = len(batch)
	}
	if len(updateOrder) > 0 {
		batch := make([]models.Product, 0, len(updateOrder))
		for _, key := range updateOrder {
			batch = append(batch, *bySKU[key])
		}
		if err := tx.UpdateProducts(ctx, batch); err != nil {
			return stats, fmt.Errorf("update products: %w", err)
		}
		stats.Updated = len(batch)
	}
	return stats, nil
}
