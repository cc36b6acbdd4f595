package api

import (
	"net/http"

	"catalog-import-service/internal/models"
	"catalog-import-service/internal/store"
)

type createWebhookRequest struct {
	URL       string `json:"url" validate:"required,url,max=2048"`
	EventType string `json:"event_type" validate:"required,event_type"`
	Enabled   *bool  `json:"enabled"`
}

type updateWebhookRequest struct {
	URL       *string `json:"url" validate:"omitempty,url,max=2048"`
	EventType *string `json:"event_type" validate:"omitempty,event_type"`
	Enabled   *bool   `json:"enabled"`
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query, err := store.NewWebhookQuery(intQuery(r, "page"), intQuery(r, "per_page"),
		q.Get("event_type"), q.Get("sort_by"), q.Get("sort_order"), models.ValidEventType)
	if err != nil {
		s.writeError(w, err)
		return
	}
	page, err := s.deps.Registry.ListWebhooks(r.Context(), query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	hook, err := s.deps.Registry.CreateWebhook(r.Context(), req.URL, req.EventType, enabled)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, hook)
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	hook, err := s.deps.Registry.GetWebhook(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req updateWebhookRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	hook, err := s.deps.Registry.UpdateWebhook(r.Context(), id, store.WebhookUpdate{
		URL:       req.URL,
		EventType: req.EventType,
		Enabled:   req.Enabled,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (s *Server) handleToggleWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	hook, err := s.deps.Registry.ToggleWebhook(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := s.deps.Registry.DeleteWebhook(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTestWebhook delivers a sample payload synchronously so the operator
// sees the outcome. Missing or disabled subscriptions are reported as skipped.
func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	res, err := s.deps.Tester.Test(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusOK, map[string]any{"delivered": false, "message": "webhook is missing or disabled"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"delivered":        res.StatusCode != 0,
		"status_code":      res.StatusCode,
		"response_time_ms": res.ResponseTimeMS,
		"last_triggered":   res.TriggeredAt,
	})
}
