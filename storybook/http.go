package storybook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/storylink/kit"
	"github.com/hazyhaar/storylink/shield"
)

// RegisterHTTP mounts the JSON bridge on r:
//
//	POST /process   ComponentQuery → ComponentData
//	POST /supports  ComponentQuery → {"supported": bool}
//	GET  /stories   → []Story
//	GET  /healthz   → {"status": "ok"|"initializing"}
func (p *Plugin) RegisterHTTP(r chi.Router) {
	r.Post("/process", p.serveQuery(p.processEndpoint()))
	r.Post("/supports", p.serveQuery(p.supportsEndpoint()))
	r.Get("/stories", p.handleStories)
	r.Get("/healthz", p.handleHealth)
}

// Handler returns a router serving the bridge behind the shield API stack.
func (p *Plugin) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(p.logger) {
		r.Use(mw)
	}
	p.RegisterHTTP(r)
	return r
}

func (p *Plugin) serveQuery(ep kit.Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q ComponentQuery
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				writeError(w, r, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
				return
			}
			writeError(w, r, http.StatusBadRequest, errors.New("invalid request body"))
			return
		}

		resp, err := ep(p.withRun(r.Context()), &q)
		if err != nil {
			writeError(w, r, statusOf(err), err)
			return
		}
		writeJSON(w, r, http.StatusOK, resp)
	}
}

func (p *Plugin) handleStories(w http.ResponseWriter, r *http.Request) {
	resp, err := p.storiesEndpoint()(p.withRun(r.Context()), nil)
	if err != nil {
		writeError(w, r, statusOf(err), err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (p *Plugin) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !p.Ready() {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "initializing"})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		shield.GetLogger(r.Context()).Warn("storybook: write response", "path", r.URL.Path, "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	writeJSON(w, r, code, map[string]string{"error": err.Error()})
}
