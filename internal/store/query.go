package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidQuery marks a list request that names an unknown field, filter or order.
var ErrInvalidQuery = errors.New("invalid query")

const (
	defaultPerPage = 20
	maxPerPage     = 200
)

// SortOrder is asc or desc.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

func parseSortOrder(token string) (SortOrder, error) {
	switch SortOrder(strings.ToLower(strings.TrimSpace(token))) {
	case "", SortAsc:
		return SortAsc, nil
	case SortDesc:
		return SortDesc, nil
	}
	return "", fmt.Errorf("%w: sort_order %q", ErrInvalidQuery, token)
}

// ProductField names a product column that may be sorted or searched on.
type ProductField string

const (
	ProductFieldSKU         ProductField = "sku"
	ProductFieldName        ProductField = "name"
	ProductFieldDescription ProductField = "description"
	ProductFieldActive      ProductField = "active"
)

// Column expressions are fixed here; request tokens only ever select a key.
var (
	productSortColumns = map[ProductField]string{
		ProductFieldSKU:         "sku",
		ProductFieldName:        "name",
		ProductFieldDescription: "description",
		ProductFieldActive:      "active",
	}
	productSearchColumns = map[ProductField]string{
		ProductFieldSKU:         "sku",
		ProductFieldName:        "name",
		ProductFieldDescription: "description",
	}
)

// ActiveFilter restricts a product listing by the active flag.
type ActiveFilter string

const (
	ActiveAll      ActiveFilter = "all"
	ActiveOnly     ActiveFilter = "active"
	ActiveInactive ActiveFilter = "inactive"
)

// ProductQuery is a validated product listing request.
type ProductQuery struct {
	Page        int
	PerPage     int
	Active      ActiveFilter
	SearchField ProductField
	SearchValue string
	Exact       bool
	SortBy      ProductField
	SortOrder   SortOrder
}

// ProductQueryParams carries raw request tokens.
type ProductQueryParams struct {
	Page        int
	PerPage     int
	Active      string
	SearchField string
	SearchValue string
	Exact       bool
	SortBy      string
	SortOrder   string
}

// NewProductQuery validates raw tokens against the closed field sets. Empty
// tokens fall back to defaults; unknown tokens are rejected.
func NewProductQuery(p ProductQueryParams) (ProductQuery, error) {
	q := ProductQuery{
		SearchValue: strings.TrimSpace(p.SearchValue),
		Exact:       p.Exact,
	}
	q.Page, q.PerPage = normalizePage(p.Page, p.PerPage)

	switch ActiveFilter(strings.ToLower(strings.TrimSpace(p.Active))) {
	case "", ActiveAll:
		q.Active = ActiveAll
	case ActiveOnly:
		q.Active = ActiveOnly
	case ActiveInactive:
		q.Active = ActiveInactive
	default:
		return ProductQuery{}, fmt.Errorf("%w: active filter %q", ErrInvalidQuery, p.Active)
	}

	if tok := strings.ToLower(strings.TrimSpace(p.SearchField)); tok != "" {
		if _, ok := productSearchColumns[ProductField(tok)]; !ok {
			return ProductQuery{}, fmt.Errorf("%w: search_field %q", ErrInvalidQuery, p.SearchField)
		}
		q.SearchField = ProductField(tok)
	}

	q.SortBy = ProductFieldName
	if tok := strings.ToLower(strings.TrimSpace(p.SortBy)); tok != "" {
		if _, ok := productSortColumns[ProductField(tok)]; !ok {
			return ProductQuery{}, fmt.Errorf("%w: sort_by %q", ErrInvalidQuery, p.SortBy)
		}
		q.SortBy = ProductField(tok)
	}

	order, err := parseSortOrder(p.SortOrder)
	if err != nil {
		return ProductQuery{}, err
	}
	q.SortOrder = order
	return q, nil
}

// where renders the filter clause and its arguments.
func (q ProductQuery) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	switch q.Active {
	case ActiveOnly:
		conds = append(conds, "active = TRUE")
	case ActiveInactive:
		conds = append(conds, "active = FALSE")
	}
	if col, ok := productSearchColumns[q.SearchField]; ok && q.SearchValue != "" {
		args = append(args, q.SearchValue)
		switch {
		case q.Exact && q.SearchField == ProductFieldSKU:
			conds = append(conds, fmt.Sprintf("upper(%s) = upper($%d)", col, len(args)))
		case q.Exact:
			conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
		default:
			args[len(args)-1] = "%" + escapeLike(q.SearchValue) + "%"
			conds = append(conds, fmt.Sprintf("%s ILIKE $%d", col, len(args)))
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (q ProductQuery) orderBy() string {
	return fmt.Sprintf(" ORDER BY %s %s, id ASC", productSortColumns[q.SortBy], strings.ToUpper(string(q.SortOrder)))
}

// WebhookField names a webhook column that may be sorted on.
type WebhookField string

const (
	WebhookFieldID               WebhookField = "id"
	WebhookFieldURL              WebhookField = "url"
	WebhookFieldEventType        WebhookField = "event_type"
	WebhookFieldEnabled          WebhookField = "enabled"
	WebhookFieldLastTriggered    WebhookField = "last_triggered"
	WebhookFieldLastStatusCode   WebhookField = "last_status_code"
	WebhookFieldLastResponseTime WebhookField = "last_response_time"
)

var webhookSortColumns = map[WebhookField]string{
	WebhookFieldID:               "id",
	WebhookFieldURL:              "url",
	WebhookFieldEventType:        "event_type",
	WebhookFieldEnabled:          "enabled",
	WebhookFieldLastTriggered:    "last_triggered",
	WebhookFieldLastStatusCode:   "last_status_code",
	WebhookFieldLastResponseTime: "last_response_time_ms",
}

// WebhookQuery is a validated webhook listing request. An empty EventType
// lists every event.
type WebhookQuery struct {
	Page      int
	PerPage   int
	EventType string
	SortBy    WebhookField
	SortOrder SortOrder
}

// NewWebhookQuery validates raw tokens. validEvent decides which event types
// are accepted as a filter.
func NewWebhookQuery(page, perPage int, eventType, sortBy, sortOrder string, validEvent func(string) bool) (WebhookQuery, error) {
	q := WebhookQuery{SortBy: WebhookFieldID}
	q.Page, q.PerPage = normalizePage(page, perPage)

	if ev := strings.TrimSpace(eventType); ev != "" && ev != "all" {
		if !validEvent(ev) {
			return WebhookQuery{}, fmt.Errorf("%w: event_type %q", ErrInvalidQuery, eventType)
		}
		q.EventType = ev
	}
	if tok := strings.ToLower(strings.TrimSpace(sortBy)); tok != "" {
		if _, ok := webhookSortColumns[WebhookField(tok)]; !ok {
			return WebhookQuery{}, fmt.Errorf("%w: sort_by %q", ErrInvalidQuery, sortBy)
		}
		q.SortBy = WebhookField(tok)
	}
	order, err := parseSortOrder(sortOrder)
	if err != nil {
		return WebhookQuery{}, err
	}
	q.SortOrder = order
	return q, nil
}

func (q WebhookQuery) where() (string, []any) {
	if q.EventType == "" {
		return "", nil
	}
	return " WHERE event_type = $1", []any{q.EventType}
}

func (q WebhookQuery) orderBy() string {
	return fmt.Sprintf(" ORDER BY %s %s NULLS LAST, id ASC", webhookSortColumns[q.SortBy], strings.ToUpper(string(q.SortOrder)))
}

// Page is one page of a listing.
type Page[T any] struct {
	Items   []T   `json:"items"`
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
	Pages   int   `json:"pages"`
}

func newPage[T any](items []T, page, perPage int, total int64) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := int((total + int64(perPage) - 1) / int64(perPage))
	return Page[T]{Items: items, Page: page, PerPage: perPage, Total: total, Pages: pages}
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

func limitOffset(argc, page, perPage int) (string, []any) {
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", argc+1, argc+2), []any{perPage, (page - 1) * perPage}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
