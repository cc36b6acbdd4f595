package api

import (
	"fmt"
	"net/http"

	"catalog-import-service/internal/models"
	"catalog-import-service/internal/store"
)

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query, err := store.NewProductQuery(store.ProductQueryParams{
		Page:        intQuery(r, "page"),
		PerPage:     intQuery(r, "per_page"),
		Active:      q.Get("active"),
		SearchField: q.Get("search_field"),
		SearchValue: q.Get("search_value"),
		Exact:       boolQuery(r, "exact"),
		SortBy:      q.Get("sort_by"),
		SortOrder:   q.Get("sort_order"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	page, err := s.deps.Catalog.ListProducts(r.Context(), query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	p, err := s.deps.Catalog.GetProduct(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SKU is the catalog key and cannot be edited; re-import under a new SKU instead.
type updateProductRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=200"`
	Description *string `json:"description" validate:"omitempty,max=10000"`
	Active      *bool   `json:"active"`
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req updateProductRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	before, after, err := s.deps.Catalog.UpdateProduct(r.Context(), id, store.ProductUpdate{
		Name:        req.Name,
		Description: req.Description,
		Active:      req.Active,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.publish(r.Context(), models.EventProductUpdated, models.ProductUpdatedPayload(id, before.Snapshot(), after.Snapshot()))
	writeJSON(w, http.StatusOK, after)
}

func (s *Server) handleToggleProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	after, err := s.deps.Catalog.ToggleProduct(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	before := after.Snapshot()
	before.Active = !after.Active
	s.publish(r.Context(), models.EventProductUpdated, models.ProductUpdatedPayload(id, before, after.Snapshot()))
	writeJSON(w, http.StatusOK, after)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	deleted, err := s.deps.Catalog.DeleteProduct(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.publish(r.Context(), models.EventProductDeleted, models.ProductDeletedPayload(id, deleted.Snapshot()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAllProducts(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Catalog.DeleteAllProducts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	msg := fmt.Sprintf("All products deleted: %d removed", n)
	s.publish(r.Context(), models.EventBulkProductsDeleted, models.BulkProductsDeletedPayload(msg))
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n, "message": msg})
}
