/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/friendsincode/themeline/internal/engine"
	"github.com/friendsincode/themeline/internal/logbuffer"
	"github.com/friendsincode/themeline/internal/telemetry"
)

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Get("/status", s.handleStatus)
	s.router.Get("/ws/events", s.handleEventSocket)

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/select", s.handleSelect)
		r.Post("/confirm", s.handleConfirm)
		r.Post("/pause", s.handlePause)
		r.Post("/resume", s.handleResume)
		r.Post("/stop", s.handleStop)
		r.Post("/overlay", s.handleOverlay)
		r.Post("/enabled", s.handleEnabled)

		r.Get("/items", s.handleListItems)
		r.Get("/items/{itemID}", s.handleGetItem)

		r.Get("/logs", s.handleLogs)
		r.Get("/logs/components", s.handleLogComponents)
		r.Get("/logs/stats", s.handleLogStats)

		r.Get("/version", s.handleVersion)
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// coordinatorError maps engine errors to HTTP status codes.
func coordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrNoPlayableTrack),
		errors.Is(err, engine.ErrMissingTrack):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.coordinator.Status())
}

type selectRequest struct {
	ItemID string `json:"item_id"`
	IsNew  *bool  `json:"is_new,omitempty"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ItemID == "" {
		respondError(w, http.StatusBadRequest, "item_id is required")
		return
	}

	// Selections are new unless the host says otherwise.
	isNew := true
	if req.IsNew != nil {
		isNew = *req.IsNew
	}

	if err := s.coordinator.OnItemSelected(r.Context(), req.ItemID, isNew); err != nil {
		coordinatorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.coordinator.Status())
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.Confirm(r.Context()); err != nil {
		coordinatorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.coordinator.Status())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.Pause(); err != nil {
		coordinatorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.coordinator.Status())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.Resume(r.Context()); err != nil {
		coordinatorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.coordinator.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.Stop(); err != nil {
		coordinatorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.coordinator.Status())
}

type overlayRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	var req overlayRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Active {
		s.coordinator.OnOverlayStarted()
	} else {
		s.coordinator.OnOverlayEnded(r.Context())
	}
	respondJSON(w, http.StatusOK, s.coordinator.Status())
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.coordinator.SetEnabled(req.Enabled); err != nil {
		coordinatorError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.coordinator.Status())
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.Items(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	item, err := s.store.Item(r.Context(), itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "item not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logBuffer == nil {
		respondError(w, http.StatusServiceUnavailable, "log buffer not attached")
		return
	}

	params := logbuffer.QueryParams{
		Level:      r.URL.Query().Get("level"),
		Component:  r.URL.Query().Get("component"),
		Search:     r.URL.Query().Get("search"),
		Descending: r.URL.Query().Get("order") != "asc",
		Limit:      200,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			params.Limit = limit
		}
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		if since, err := time.Parse(time.RFC3339, raw); err == nil {
			params.Since = since
		}
	}

	respondJSON(w, http.StatusOK, s.logBuffer.Query(params))
}

func (s *Server) handleLogComponents(w http.ResponseWriter, r *http.Request) {
	if s.logBuffer == nil {
		respondError(w, http.StatusServiceUnavailable, "log buffer not attached")
		return
	}
	respondJSON(w, http.StatusOK, s.logBuffer.GetComponents())
}

func (s *Server) handleLogStats(w http.ResponseWriter, r *http.Request) {
	if s.logBuffer == nil {
		respondError(w, http.StatusServiceUnavailable, "log buffer not attached")
		return
	}
	respondJSON(w, http.StatusOK, s.logBuffer.Stats())
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.checker.Info())
}
