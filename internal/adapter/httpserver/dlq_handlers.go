package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

// mountDLQ attaches the operator endpoints for dead-lettered jobs.
func (s *Server) mountDLQ(r chi.Router) {
	r.Route("/dlq", func(dlq chi.Router) {
		dlq.Get("/stats", s.handleDLQStats)
		dlq.Get("/items", s.handleDLQList)
		dlq.Get("/items/{id}", s.handleDLQGet)
		dlq.Post("/items/{id}/retry", s.handleDLQRetry)
		dlq.Post("/items/{id}/resolve", s.handleDLQResolve)
		dlq.Delete("/items/{id}", s.handleDLQDelete)
		dlq.Post("/retry-all", s.handleDLQRetryAll)
	})
}

func (s *Server) handleDLQStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.dlq.Stats(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDLQList(w http.ResponseWriter, r *http.Request) {
	items, err := s.dlq.List(r.Context(),
		r.URL.Query().Get("status"),
		queryInt(r, "limit", 50),
		queryInt(r, "offset", 0))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if items == nil {
		items = []domain.DLQRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleDLQGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.dlq.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDLQRetry(w http.ResponseWriter, r *http.Request) {
	rec, err := s.dlq.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDLQResolve(w http.ResponseWriter, r *http.Request) {
	if err := s.dlq.Resolve(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleDLQDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.dlq.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDLQRetryAll(w http.ResponseWriter, r *http.Request) {
	out, err := s.dlq.RetryAll(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"retried": out.Retried,
		"failed":  out.Failed,
		"total":   out.Retried + len(out.Failed),
	})
}
