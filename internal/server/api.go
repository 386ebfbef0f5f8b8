/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/reeltime/internal/auth"
	"github.com/friendsincode/reeltime/internal/engine"
	"github.com/friendsincode/reeltime/internal/events"
	"github.com/friendsincode/reeltime/internal/models"
	"github.com/friendsincode/reeltime/internal/playback"
	"github.com/friendsincode/reeltime/internal/store"
	"github.com/friendsincode/reeltime/internal/timeline"
)

// maxBodyBytes caps request bodies; segment lists of a few thousand entries
// fit comfortably.
const maxBodyBytes = 4 << 20

// API serves the playback control endpoints.
type API struct {
	store     store.SegmentStore
	engines   *engine.Manager
	bus       *events.Bus
	jwtSecret []byte
	logger    zerolog.Logger
}

// NewAPI creates the control API. An empty jwtSecret disables authentication.
func NewAPI(st store.SegmentStore, engines *engine.Manager, bus *events.Bus, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		store:     st,
		engines:   engines,
		bus:       bus,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers the API under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if len(a.jwtSecret) > 0 {
			r.Use(auth.Middleware(a.jwtSecret))
		}

		r.Get("/projects", a.handleListProjects)

		r.Route("/projects/{projectID}", func(pr chi.Router) {
			pr.Use(a.requireProjectAccess)

			pr.Get("/", a.handleGetProject)
			pr.With(a.requireRole("editor", "admin")).Put("/", a.handlePutProject)

			pr.Get("/segments", a.handleGetSegments)
			pr.With(a.requireRole("editor", "admin")).Put("/segments", a.handlePutSegments)

			pr.Get("/playback", a.handlePlaybackStatus)
			pr.Delete("/playback", a.handlePlaybackClose)
			pr.Post("/playback/seek", a.handleSeek)
			pr.Put("/playback/bounds", a.handleSetBounds)
			pr.Delete("/playback/bounds", a.handleClearBounds)
			pr.Post("/playback/{action}", a.handleTransport)

			pr.Get("/events", a.handleEvents)
		})
	})
}

func (a *API) requireProjectAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
			if !claims.AllowsProject(chi.URLParam(r, "projectID")) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requireRole only applies when authentication is enabled.
func (a *API) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
				allowed := slices.ContainsFunc(claims.Roles, func(role string) bool {
					return slices.Contains(roles, role)
				})
				if !allowed {
					writeError(w, http.StatusForbidden, "insufficient_role")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *API) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := a.store.ListProjects(r.Context())
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.ProjectID != "" {
		projects = slices.DeleteFunc(projects, func(p models.Project) bool { return !claims.AllowsProject(p.ID) })
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (a *API) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := a.store.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

type projectRequest struct {
	Name      string `json:"name"`
	FrameRate string `json:"frame_rate"`
}

func (a *API) handlePutProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req projectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.FrameRate != "" {
		rate, err := playback.ParseFrameRate(req.FrameRate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_frame_rate")
			return
		}
		req.FrameRate = rate.String()
	}

	var prevRate string
	if existing, err := a.store.GetProject(r.Context(), projectID); err == nil {
		prevRate = existing.FrameRate
	}

	project, err := a.store.SaveProject(r.Context(), models.Project{
		ID:        projectID,
		Name:      strings.TrimSpace(req.Name),
		FrameRate: req.FrameRate,
	})
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}

	// A running engine keeps its clock rate; restart it on the next request.
	if prevRate != project.FrameRate {
		if err := a.engines.Close(projectID); err == nil {
			a.logger.Info().Str("project_id", projectID).Str("frame_rate", project.FrameRate).Msg("engine closed after frame rate change")
		}
	}
	writeJSON(w, http.StatusOK, project)
}

func (a *API) handleGetSegments(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if _, err := a.store.GetProject(r.Context(), projectID); err != nil {
		a.writeFailure(w, r, err)
		return
	}
	segs, err := a.store.ListSegments(r.Context(), projectID)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	if segs == nil {
		segs = []models.Segment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"segments":         segs,
		"timeline_end_sec": models.TimelineEnd(segs),
	})
}

type segmentsRequest struct {
	Segments []models.Segment `json:"segments"`
}

func (a *API) handlePutSegments(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req segmentsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	saved, err := a.store.ReplaceSegments(r.Context(), projectID, req.Segments)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	if err := a.engines.Reload(r.Context(), projectID); err != nil {
		a.logger.Warn().Err(err).Str("project_id", projectID).Msg("engine reload after segment update failed")
	}
	a.bus.Publish(events.EventSegmentsUpdated, events.Payload{
		"project_id": projectID,
		"segments":   len(saved),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"segments":         saved,
		"timeline_end_sec": models.TimelineEnd(saved),
	})
}

func (a *API) engineFor(w http.ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	e, err := a.engines.Ensure(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		a.writeFailure(w, r, err)
		return nil, false
	}
	return e, true
}

func (a *API) handlePlaybackStatus(w http.ResponseWriter, r *http.Request) {
	e, ok := a.engineFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.Status())
}

func (a *API) handlePlaybackClose(w http.ResponseWriter, r *http.Request) {
	if err := a.engines.Close(chi.URLParam(r, "projectID")); err != nil {
		a.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleTransport(w http.ResponseWriter, r *http.Request) {
	var apply func(*engine.Engine)
	switch chi.URLParam(r, "action") {
	case "play":
		apply = (*engine.Engine).Play
	case "pause":
		apply = (*engine.Engine).Pause
	case "stop":
		apply = (*engine.Engine).Stop
	case "toggle":
		apply = (*engine.Engine).TogglePlayPause
	default:
		writeError(w, http.StatusNotFound, "unknown_action")
		return
	}

	e, ok := a.engineFor(w, r)
	if !ok {
		return
	}
	apply(e)
	writeJSON(w, http.StatusOK, e.Status())
}

type seekRequest struct {
	Time *float64 `json:"time"`
}

func (a *API) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Time == nil {
		writeError(w, http.StatusBadRequest, "time_required")
		return
	}

	e, ok := a.engineFor(w, r)
	if !ok {
		return
	}
	e.Seek(*req.Time)
	writeJSON(w, http.StatusOK, e.Status())
}

type boundsRequest struct {
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

func (a *API) handleSetBounds(w http.ResponseWriter, r *http.Request) {
	var req boundsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Start == nil || req.End == nil {
		writeError(w, http.StatusBadRequest, "start_and_end_required")
		return
	}

	e, ok := a.engineFor(w, r)
	if !ok {
		return
	}
	if err := e.SetBounds(*req.Start, *req.End); err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e.Status())
}

func (a *API) handleClearBounds(w http.ResponseWriter, r *http.Request) {
	e, ok := a.engineFor(w, r)
	if !ok {
		return
	}
	e.ClearBounds()
	writeJSON(w, http.StatusOK, e.Status())
}

// writeFailure maps domain errors onto status codes.
func (a *API) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "project_not_found")
	case errors.Is(err, engine.ErrEngineNotFound):
		writeError(w, http.StatusNotFound, "engine_not_found")
	case errors.Is(err, models.ErrInvalidSegment):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid_segments", "detail": err.Error()})
	case errors.Is(err, timeline.ErrInvalidBounds):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_bounds", "detail": err.Error()})
	case errors.Is(err, playback.ErrInvalidFrameRate):
		writeError(w, http.StatusUnprocessableEntity, "invalid_frame_rate")
	case errors.Is(err, engine.ErrDisposed):
		writeError(w, http.StatusConflict, "engine_disposed")
	default:
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
