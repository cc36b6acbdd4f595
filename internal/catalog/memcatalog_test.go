package catalog

import (
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"catalog-import-service/internal/models"
)

// memCatalog is a transactional in-memory catalog keyed by canonical SKU.
type memCatalog struct {
	mu       sync.Mutex
	rows     map[string]models.Product
	nextID   int64
	commits  int
	failOnTx int // 1-based InTx call that fails after Upsert; 0 disables
	txCalls  int
}

func newMemCatalog() *memCatalog {
	return &memCatalog{rows: map[string]models.Product{}}
}

var errInjected = errors.New("injected failure")

func (m *memCatalog) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCalls++

	tx := &memTx{cat: m, staged: make(map[string]models.Product, len(m.rows)), nextID: m.nextID}
	for k, v := range m.rows {
		tx.staged[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	if m.failOnTx == m.txCalls {
		return errInjected
	}
	m.rows = tx.staged
	m.nextID = tx.nextID
	m.commits++
	return nil
}

func (m *memCatalog) products() []models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Product, 0, len(m.rows))
	for _, p := range m.rows {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memCatalog) get(sku string) (models.Product, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[models.CanonicalSKU(sku)]
	return p, ok
}

type memTx struct {
	cat     *memCatalog
	staged  map[string]models.Product
	nextID  int64
	lookups int
}

func (t *memTx) FindBySKUs(_ context.Context, canonical []string) ([]models.Product, error) {
	t.lookups++
	var out []models.Product
	for _, k := range canonical {
		if p, ok := t.staged[k]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *memTx) InsertProducts(_ context.Context, products []models.Product) error {
	for _, p := range products {
		key := models.CanonicalSKU(p.SKU)
		if _, exists := t.staged[key]; exists {
			return errors.New("duplicate key value violates unique constraint")
		}
		t.nextID++
		p.ID = t.nextID
		t.staged[key] = p
	}
	return nil
}

func (t *memTx) UpdateProducts(_ context.Context, products []models.Product) error {
	for _, p := range products {
		key := models.CanonicalSKU(p.SKU)
		if _, exists := t.staged[key]; !exists {
			return errors.New("update of missing product")
		}
		t.staged[key] = p
	}
	return nil
}

// memFiles serves uploads from a map and falls back to the real filesystem.
type memFiles map[string]string

func (f memFiles) Open(_ context.Context, path string) (io.ReadCloser, error) {
	if body, ok := f[path]; ok {
		return io.NopCloser(strings.NewReader(body)), nil
	}
	return os.Open(path)
}

type progressCall struct {
	Percent int
	Message string
}

type recordingReporter struct {
	calls []progressCall
}

func (r *recordingReporter) Progress(_ context.Context, percent int, message string) error {
	r.calls = append(r.calls, progressCall{Percent: percent, Message: message})
	return nil
}

func (r *recordingReporter) percents() []int {
	out := make([]int, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.Percent)
	}
	return out
}
