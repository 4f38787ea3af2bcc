package api

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheThingsArchive/ttn-gateway-connector/internal/codec"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/connector"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/config"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/logging"
)

// Broadcast channels a client can subscribe to.
const (
	ChannelDownlink = "downlink"
	ChannelSession  = "session.event"
)

// channelMask is a set of channels, one bit each.
type channelMask uint8

var channelBits = map[string]channelMask{
	ChannelDownlink: 1 << 0,
	ChannelSession:  1 << 1,
}

// DownlinkEvent is the payload of a ChannelDownlink event.
type DownlinkEvent struct {
	GatewayID string                 `json:"gateway_id"`
	Message   *codec.DownlinkMessage `json:"message"`
}

// SessionEventPayload is the payload of a ChannelSession event.
type SessionEventPayload struct {
	GatewayID string `json:"gateway_id"`
	Kind      string `json:"kind"`
	Topic     string `json:"topic,omitempty"`
	Bytes     int    `json:"bytes,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Hub fans gateway session traffic out to WebSocket clients.
//
// It is a connector.Observer and its Downlink method has the
// connector.DownlinkHandler shape, so one Hub can be wired into a Session
// before the API server exists. Broadcasting never blocks: a client whose
// buffer is full misses the event and the drop is counted.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	dropped atomic.Uint64
}

// NewHub creates a hub. Call Run to tie its lifetime to a context.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", n)
}

// Unregister removes a client and closes its send queue. Safe to call
// for a client that was already removed.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were not queued because a client's
// buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Broadcast queues an event for every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	bit, ok := channelBits[channel]
	if !ok {
		h.logger.Error("broadcast on unknown channel", "channel", channel)
		return
	}

	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding broadcast", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(bit) {
			continue
		}
		if !c.enqueue(data) {
			h.dropped.Add(1)
		}
	}
}

// Downlink broadcasts a downlink on ChannelDownlink. arg is the gateway ID.
func (h *Hub) Downlink(msg *codec.DownlinkMessage, arg any) {
	gatewayID, _ := arg.(string) //nolint:errcheck // a missing ID is broadcast empty
	h.Broadcast(ChannelDownlink, DownlinkEvent{GatewayID: gatewayID, Message: msg})
}

// SessionEvent implements connector.Observer.
func (h *Hub) SessionEvent(e connector.Event) {
	payload := SessionEventPayload{
		GatewayID: e.SessionID,
		Kind:      string(e.Kind),
		Topic:     e.Topic,
		Bytes:     e.Bytes,
	}
	if e.Err != nil {
		payload.Error = e.Err.Error()
	}
	h.Broadcast(ChannelSession, payload)
}
