// Package simulator é o sandbox local dos fornecedores externos: feed de odds
// por WebSocket, trilhos de pagamento e sistema de chamados de suporte.
package simulator

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Feed    *Feed
	Rails   *Rails
	Tickets *Tickets
}

// Router expõe /ws, /feed/*, /rails/* e /tickets
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/ws", s.Feed.HandleWS)
	r.Post("/feed/pause", func(w http.ResponseWriter, _ *http.Request) {
		s.Feed.SetPaused(true)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/feed/resume", func(w http.ResponseWriter, _ *http.Request) {
		s.Feed.SetPaused(false)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/feed", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"provider": s.Feed.provider,
			"paused":   s.Feed.Paused(),
			"clients":  s.Feed.Clients(),
		})
	})

	r.Put("/rails/failure-rate", s.Rails.handleFailureRate)
	r.Post("/rails/{rail}/transfers", s.Rails.handleTransfer)

	r.Post("/tickets", s.Tickets.handleOpen)
	r.Get("/tickets", s.Tickets.handleList)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
