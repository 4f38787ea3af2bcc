package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TheThingsArchive/ttn-gateway-connector/internal/connector"
)

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware (order matters: outermost first)
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints
		r.Get("/health", s.handleHealth)
		r.Get("/session", s.handleGetSession)

		// Ticket-authenticated (the browser WebSocket API cannot set headers)
		r.Get("/ws", s.handleWebSocket)

		// Bearer-token protected
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/uplinks", s.handleSendUplink)
			r.Get("/journal", s.handleListJournal)
			r.Post("/auth/ws-ticket", s.handleWSTicket)
		})
	})

	return r
}

// handleHealth returns the liveness of the process and whether the gateway
// session is currently up. connected means the router handshake completed;
// transport_open only means the socket is open.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"connected":      s.session.State() == connector.StateHandshakeComplete,
		"transport_open": s.session.IsConnected(),
		"websocket":      map[string]any{
			"clients": s.hub.ClientCount(),
			"dropped": s.hub.Dropped(),
		},
	})
}
