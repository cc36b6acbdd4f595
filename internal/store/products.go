package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"catalog-import-service/internal/catalog"
	"catalog-import-service/internal/models"
)

const productColumns = `id, sku, name, description, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// InTx runs fn against a catalog transaction. The upsert engine uses this as
// its chunk commit boundary.
func (s *Store) InTx(ctx context.Context, fn func(tx catalog.Tx) error) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return fn(&catalogTx{tx: tx})
	})
}

type catalogTx struct {
	tx pgx.Tx
}

// FindBySKUs locks matching rows so a concurrent edit cannot interleave with
// the chunk.
func (c *catalogTx) FindBySKUs(ctx context.Context, canonical []string) ([]models.Product, error) {
	rows, err := c.tx.Query(ctx, `
		SELECT `+productColumns+`
		FROM products WHERE upper(sku) = ANY($1)
		FOR UPDATE
	`, canonical)
	if err != nil {
		return nil, fmt.Errorf("query products by sku: %w", err)
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *catalogTx) InsertProducts(ctx context.Context, products []models.Product) error {
	b := &pgx.Batch{}
	for _, p := range products {
		b.Queue(`
			INSERT INTO products (sku, name, description, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW(), NOW())
		`, p.SKU, p.Name, p.Description, p.Active)
	}
	if err := c.tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("batch insert: %w", err)
	}
	return nil
}

func (c *catalogTx) UpdateProducts(ctx context.Context, products []models.Product) error {
	b := &pgx.Batch{}
	for _, p := range products {
		b.Queue(`
			UPDATE products SET name = $2, description = $3, active = $4, updated_at = NOW()
			WHERE id = $1
		`, p.ID, p.Name, p.Description, p.Active)
	}
	if err := c.tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("batch update: %w", err)
	}
	return nil
}

// GetProduct fetches a product by id.
func (s *Store) GetProduct(ctx context.Context, id int64) (models.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		return models.Product{}, notFound(err, "product")
	}
	return p, nil
}

// ListProducts returns one page of products matching q.
func (s *Store) ListProducts(ctx context.Context, q ProductQuery) (Page[models.Product], error) {
	where, args := q.where()

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return Page[models.Product]{}, fmt.Errorf("count products: %w", err)
	}

	limit, limitArgs := limitOffset(len(args), q.Page, q.PerPage)
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products`+where+q.orderBy()+limit, append(args, limitArgs...)...)
	if err != nil {
		return Page[models.Product]{}, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var items []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return Page[models.Product]{}, fmt.Errorf("scan product: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return Page[models.Product]{}, err
	}
	return newPage(items, q.Page, q.PerPage, total), nil
}

// ProductUpdate holds the editable fields; nil leaves a field unchanged.
type ProductUpdate struct {
	Name        *string
	Description *string
	Active      *bool
}

// UpdateProduct applies u and returns the product before and after the edit.
func (s *Store) UpdateProduct(ctx context.Context, id int64, u ProductUpdate) (models.Product, models.Product, error) {
	var before, after models.Product
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		before, err = scanProduct(tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err, "product")
		}
		after = before
		if u.Name != nil {
			after.Name = *u.Name
		}
		if u.Description != nil {
			after.Description = *u.Description
		}
		if u.Active != nil {
			after.Active = *u.Active
		}
		after, err = scanProduct(tx.QueryRow(ctx, `
			UPDATE products SET name = $2, description = $3, active = $4, updated_at = NOW()
			WHERE id = $1
			RETURNING `+productColumns, id, after.Name, after.Description, after.Active))
		if err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		return nil
	})
	return before, after, err
}

// ToggleProduct flips the active flag and returns the updated product.
func (s *Store) ToggleProduct(ctx context.Context, id int64) (models.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `
		UPDATE products SET active = NOT active, updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns, id))
	if err != nil {
		return models.Product{}, notFound(err, "product")
	}
	return p, nil
}

// DeleteProduct removes a product and returns what was deleted.
func (s *Store) DeleteProduct(ctx context.Context, id int64) (models.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `DELETE FROM products WHERE id = $1 RETURNING `+productColumns, id))
	if err != nil {
		return models.Product{}, notFound(err, "product")
	}
	return p, nil
}

// DeleteAllProducts empties the catalog and returns the number of rows removed.
func (s *Store) DeleteAllProducts(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products`)
	if err != nil {
		return 0, fmt.Errorf("delete all products: %w", err)
	}
	return tag.RowsAffected(), nil
}
