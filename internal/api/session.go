package api

import (
	"encoding/json"
	"net/http"

	"github.com/TheThingsArchive/ttn-gateway-connector/internal/codec"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/connector"
)

// sessionResponse is the body of GET /session.
type sessionResponse struct {
	ID            string          `json:"id"`
	State         string          `json:"state"`
	Connected     bool            `json:"connected"`
	TransportOpen bool            `json:"transport_open"`
	DownlinkTopic string          `json:"downlink_topic,omitempty"`
	Stats         connector.Stats `json:"stats"`
}

// handleGetSession returns the gateway session's state and counters.
func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:            s.session.ID(),
		State:         s.session.State().String(),
		Connected:     s.session.State() == connector.StateHandshakeComplete,
		TransportOpen: s.session.IsConnected(),
		DownlinkTopic: s.session.DownlinkTopic(),
		Stats:         s.session.Stats(),
	})
}

// handleSendUplink publishes an uplink supplied as JSON. Payload is base64.
func (s *Server) handleSendUplink(w http.ResponseWriter, r *http.Request) {
	var msg codec.UplinkMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(msg.Payload) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "payload is required")
		return
	}

	err := s.session.SendUplink(r.Context(), &msg)
	if err == nil {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status": "sent",
			"bytes":  len(msg.Payload),
		})
		return
	}
	if writeSessionError(w, err) {
		return
	}
	s.logger.Error("uplink injection failed",
		"error", err,
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	writeInternalError(w, "failed to send uplink")
}
