package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"search-agent/internal/domain"
	"search-agent/internal/usecase"
)

// NewRouter exposes the same routes as Handle over plain HTTP. Identity is
// taken from the X-Caller-Identity header.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, "", ok("healthy"))
	})

	for _, rt := range routes {
		r.Method(rt.method, rt.path, h.serveRoute(rt))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, correlationID(r), failure(http.StatusNotFound, codeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, correlationID(r), failure(http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed"))
	})
	return r
}

func (h *Handler) serveRoute(rt route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := correlationID(r)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeJSON(w, cid, failure(http.StatusRequestEntityTooLarge, string(usecase.ErrorInvalidInput), "request body too large"))
			return
		}

		res := h.invoke(r.Context(), cid, rt, request{
			method:   r.Method,
			path:     r.URL.Path,
			identity: domain.Identity(strings.TrimSpace(r.Header.Get(headerCallerIdentity))),
			body:     body,
		})
		writeJSON(w, cid, res)
	})
}

func correlationID(r *http.Request) string {
	if v := r.Header.Get(headerCorrelationID); v != "" {
		return v
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, cid string, res response) {
	w.Header().Set("Content-Type", "application/json")
	if cid != "" {
		w.Header().Set(headerCorrelationID, cid)
	}
	w.WriteHeader(res.status)
	_ = json.NewEncoder(w).Encode(res.body)
}
