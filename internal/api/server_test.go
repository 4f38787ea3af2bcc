package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/TheThingsArchive/ttn-gateway-connector/internal/codec"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/connector"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/config"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/logging"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/journal"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeSession records injected uplinks and returns sendErr from SendUplink.
type fakeSession struct {
	mu      sync.Mutex
	state   connector.State
	sent    []*codec.UplinkMessage
	sendErr error
}

func (f *fakeSession) ID() string { return "office" }

func (f *fakeSession) State() connector.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) DownlinkTopic() string {
	if f.State() != connector.StateHandshakeComplete {
		return ""
	}
	return "office/down"
}

func (f *fakeSession) Stats() connector.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return connector.Stats{UplinksSent: uint64(len(f.sent)), Handshakes: 1}
}

func (f *fakeSession) IsConnected() bool {
	state := f.State()
	return state == connector.StateTransportOpen || state == connector.StateHandshakeComplete
}

func (f *fakeSession) setState(state connector.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

func (f *fakeSession) SendUplink(_ context.Context, msg *codec.UplinkMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

// fakeJournal returns canned entries and records the last filter.
type fakeJournal struct {
	last    journal.Filter
	entries []journal.Entry
	err     error
}

func (f *fakeJournal) Record(context.Context, *journal.Entry) error { return nil }

func (f *fakeJournal) List(_ context.Context, filter journal.Filter) (*journal.ListResult, error) {
	f.last = filter
	if f.err != nil {
		return nil, f.err
	}
	return &journal.ListResult{Entries: f.entries, Total: len(f.entries), Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (f *fakeJournal) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

// testServer creates a Server around a connected fake session with a running hub.
func testServer(t *testing.T) (*Server, *fakeSession, *fakeJournal) {
	t.Helper()

	sess := &fakeSession{state: connector.StateHandshakeComplete}
	repo := &fakeJournal{}
	log := testLogger()

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:   "127.0.0.1",
			Secret: testSecret,
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  log,
		Session: sess,
		Journal: repo,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.hub = NewHub(srv.wsCfg, log)
	go srv.hub.Run(ctx)

	return srv, sess, repo
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := IssueToken(testSecret, "forwarder", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}
	return "Bearer " + token
}

func do(srv *Server, method, target, auth string, body []byte) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiredDeps(t *testing.T) {
	log := testLogger()
	sess := &fakeSession{}

	tests := []struct {
		name string
		deps Deps
	}{
		{name: "no logger", deps: Deps{Session: sess, Config: config.APIConfig{Secret: testSecret}}},
		{name: "no session", deps: Deps{Logger: log, Config: config.APIConfig{Secret: testSecret}}},
		{name: "no secret", deps: Deps{Logger: log, Session: sess}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := do(srv, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" || body["connected"] != true || body["transport_open"] != true {
		t.Errorf("body = %v", body)
	}
	ws, ok := body["websocket"].(map[string]any)
	if !ok || ws["clients"] != float64(0) || ws["dropped"] != float64(0) {
		t.Errorf("websocket = %v", body["websocket"])
	}
}

func TestHealth_ConnectedNeedsHandshake(t *testing.T) {
	srv, sess, _ := testServer(t)

	tests := []struct {
		state         connector.State
		connected     bool
		transportOpen bool
	}{
		{connector.StateCreated, false, false},
		{connector.StateTransportOpen, false, true},
		{connector.StateHandshakeComplete, true, true},
		{connector.StateClosed, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			sess.setState(tt.state)

			rec := do(srv, http.MethodGet, "/api/v1/health", "", nil)
			var body map[string]any
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if body["connected"] != tt.connected || body["transport_open"] != tt.transportOpen {
				t.Errorf("connected = %v, transport_open = %v, want %v, %v",
					body["connected"], body["transport_open"], tt.connected, tt.transportOpen)
			}

			rec = do(srv, http.MethodGet, "/api/v1/session", "", nil)
			var session sessionResponse
			if err := json.NewDecoder(rec.Body).Decode(&session); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if session.Connected != tt.connected || session.TransportOpen != tt.transportOpen {
				t.Errorf("session = %+v", session)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := do(srv, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.cfg.CORS.AllowedOrigins = []string{"http://localhost:3000"}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/uplinks", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
		t.Errorf("Allow-Methods = %q", got)
	}
}

func TestGetSession(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := do(srv, http.MethodGet, "/api/v1/session", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.ID != "office" || body.State != "handshake_complete" || !body.Connected || !body.TransportOpen || body.DownlinkTopic != "office/down" {
		t.Errorf("body = %+v", body)
	}
	if body.Stats.Handshakes != 1 {
		t.Errorf("Stats.Handshakes = %d, want 1", body.Stats.Handshakes)
	}
}

func TestSendUplink(t *testing.T) {
	valid := []byte(`{"payload":"AQID","gateway_metadata":{"rssi":-42.5}}`)

	tests := []struct {
		name       string
		auth       func(t *testing.T) string
		body       []byte
		sendErr    error
		wantStatus int
		wantCode   string
	}{
		{name: "sent", auth: bearer, body: valid, wantStatus: http.StatusAccepted},
		{name: "no token", auth: func(*testing.T) string { return "" }, body: valid, wantStatus: http.StatusUnauthorized, wantCode: ErrCodeUnauthorized},
		{name: "garbage token", auth: func(*testing.T) string { return "Bearer nope" }, body: valid, wantStatus: http.StatusUnauthorized, wantCode: ErrCodeUnauthorized},
		{name: "invalid JSON", auth: bearer, body: []byte(`{`), wantStatus: http.StatusBadRequest, wantCode: ErrCodeBadRequest},
		{name: "empty payload", auth: bearer, body: []byte(`{}`), wantStatus: http.StatusBadRequest, wantCode: ErrCodeValidation},
		{
			name: "not connected", auth: bearer, body: valid,
			sendErr:    connector.ErrNotConnected,
			wantStatus: http.StatusConflict, wantCode: ErrCodeNotConnected,
		},
		{
			name: "released", auth: bearer, body: valid,
			sendErr:    connector.ErrReleased,
			wantStatus: http.StatusConflict, wantCode: ErrCodeNotConnected,
		},
		{
			name: "timeout", auth: bearer, body: valid,
			sendErr:    fmt.Errorf("%w: no PUBACK", connector.ErrTimeout),
			wantStatus: http.StatusGatewayTimeout, wantCode: ErrCodeTimeout,
		},
		{
			name: "publish failed", auth: bearer, body: valid,
			sendErr:    fmt.Errorf("%w: broker said no", connector.ErrPublish),
			wantStatus: http.StatusBadGateway, wantCode: ErrCodePublishFailed,
		},
		{
			name: "unexpected", auth: bearer, body: valid,
			sendErr:    errors.New("boom"),
			wantStatus: http.StatusInternalServerError, wantCode: ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, sess, _ := testServer(t)
			sess.sendErr = tt.sendErr

			rec := do(srv, http.MethodPost, "/api/v1/uplinks", tt.auth(t), tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode != "" {
				var e Error
				if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
					t.Fatalf("decoding error body: %v", err)
				}
				if e.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", e.Code, tt.wantCode)
				}
				return
			}

			if len(sess.sent) != 1 {
				t.Fatalf("uplinks sent = %d, want 1", len(sess.sent))
			}
			got := sess.sent[0]
			if !bytes.Equal(got.Payload, []byte{1, 2, 3}) || got.GatewayMetadata == nil || got.GatewayMetadata.RSSI != -42.5 {
				t.Errorf("uplink = %+v", got)
			}
		})
	}
}

func TestListJournal(t *testing.T) {
	srv, _, repo := testServer(t)
	repo.entries = []journal.Entry{{ID: "evt-1", GatewayID: "office", Kind: "connected"}}

	rec := do(srv, http.MethodGet,
		"/api/v1/journal?gateway_id=office&kind=connected&since=2026-10-19T12:00:00Z&limit=10&offset=5",
		bearer(t), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	want := journal.Filter{
		GatewayID: "office",
		Kind:      "connected",
		Since:     time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		Limit:     10,
		Offset:    5,
	}
	if !repo.last.Since.Equal(want.Since) || repo.last.GatewayID != want.GatewayID ||
		repo.last.Kind != want.Kind || repo.last.Limit != want.Limit || repo.last.Offset != want.Offset {
		t.Errorf("filter = %+v, want %+v", repo.last, want)
	}

	var body journal.ListResult
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Total != 1 || body.Entries[0].ID != "evt-1" {
		t.Errorf("body = %+v", body)
	}
}

func TestListJournal_Errors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		noJournal  bool
		listErr    error
		auth       bool
		wantStatus int
	}{
		{name: "unauthenticated", wantStatus: http.StatusUnauthorized},
		{name: "bad since", query: "?since=yesterday", auth: true, wantStatus: http.StatusBadRequest},
		{name: "bad limit", query: "?limit=ten", auth: true, wantStatus: http.StatusBadRequest},
		{name: "negative offset", query: "?offset=-1", auth: true, wantStatus: http.StatusBadRequest},
		{name: "repository error", auth: true, listErr: errors.New("disk gone"), wantStatus: http.StatusInternalServerError},
		{name: "journal disabled", auth: true, noJournal: true, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, repo := testServer(t)
			repo.err = tt.listErr
			if tt.noJournal {
				srv.journal = nil
			}
			auth := ""
			if tt.auth {
				auth = bearer(t)
			}

			rec := do(srv, http.MethodGet, "/api/v1/journal"+tt.query, auth, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestParseToken(t *testing.T) {
	valid, err := IssueToken(testSecret, "forwarder", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}
	expired, err := IssueToken(testSecret, "forwarder", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   "forwarder",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token: %v", err)
	}
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:  tokenIssuer,
		Subject: "forwarder",
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	tests := []struct {
		name    string
		secret  string
		token   string
		wantErr bool
	}{
		{name: "valid", secret: testSecret, token: valid},
		{name: "wrong secret", secret: "another-secret-key-at-least-32-chars", token: valid, wantErr: true},
		{name: "expired", secret: testSecret, token: expired, wantErr: true},
		{name: "alg none", secret: testSecret, token: unsigned, wantErr: true},
		{name: "no expiry", secret: testSecret, token: noExpiry, wantErr: true},
		{name: "garbage", secret: testSecret, token: "a.b.c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, err := ParseToken(tt.secret, tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && subject != "forwarder" {
				t.Errorf("subject = %q, want forwarder", subject)
			}
		})
	}
}

func TestIssueToken_Validation(t *testing.T) {
	if _, err := IssueToken("", "forwarder", time.Minute); err == nil {
		t.Error("IssueToken() without secret succeeded")
	}
	if _, err := IssueToken(testSecret, "", time.Minute); !errors.Is(err, ErrTokenSubject) {
		t.Errorf("IssueToken() without subject error = %v, want %v", err, ErrTokenSubject)
	}
}

func TestWSTicket_SingleUse(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := do(srv, http.MethodPost, "/api/v1/auth/ws-ticket", bearer(t), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	entry, ok := srv.validateTicket(body.Ticket)
	if !ok || entry.subject != "forwarder" {
		t.Fatalf("validateTicket() = %+v, %v; want forwarder, true", entry, ok)
	}
	if _, ok := srv.validateTicket(body.Ticket); ok {
		t.Error("ticket accepted twice")
	}
}

func TestWSTicket_Expiry(t *testing.T) {
	srv, _, _ := testServer(t)

	srv.tickets.tickets["stale"] = ticketEntry{subject: "forwarder", expiresAt: time.Now().Add(-time.Second)}
	if _, ok := srv.validateTicket("stale"); ok {
		t.Error("expired ticket accepted")
	}

	srv.tickets.tickets["stale"] = ticketEntry{expiresAt: time.Now().Add(-time.Second)}
	srv.tickets.tickets["fresh"] = ticketEntry{expiresAt: time.Now().Add(time.Minute)}
	srv.cleanExpiredTickets()
	if _, ok := srv.tickets.tickets["stale"]; ok {
		t.Error("cleanExpiredTickets() kept an expired ticket")
	}
	if _, ok := srv.tickets.tickets["fresh"]; !ok {
		t.Error("cleanExpiredTickets() removed a live ticket")
	}
}

// dialWebSocket obtains a ticket and connects to the hub through ts.
func dialWebSocket(t *testing.T, srv *Server, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	rec := do(srv, http.MethodPost, "/api/v1/auth/ws-ticket", bearer(t), nil)
	var body struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding ticket: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?ticket=" + body.Ticket
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func subscribe(t *testing.T, ws *websocket.Conn, channels ...string) WSMessage {
	t.Helper()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("write subscribe message: %v", err)
	}
	return readMessage(t, ws)
}

func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

func TestWebSocket_Downlink(t *testing.T) {
	srv, _, _ := testServer(t)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ws := dialWebSocket(t, srv, ts)
	if resp := subscribe(t, ws, ChannelDownlink); resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	srv.Hub().Downlink(&codec.DownlinkMessage{Payload: []byte{0xAA}}, "office")

	msg := readMessage(t, ws)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelDownlink {
		t.Fatalf("message = %+v", msg)
	}
	payload, _ := msg.Payload.(map[string]any)
	inner, _ := payload["message"].(map[string]any)
	if payload["gateway_id"] != "office" || inner["payload"] != "qg==" {
		t.Errorf("payload = %v", msg.Payload)
	}
}

func TestWebSocket_SessionEvents(t *testing.T) {
	srv, _, _ := testServer(t)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ws := dialWebSocket(t, srv, ts)
	subscribe(t, ws, ChannelSession)

	// Not subscribed: must not arrive.
	srv.Hub().Downlink(&codec.DownlinkMessage{Payload: []byte{1}}, "office")
	srv.Hub().SessionEvent(connector.Event{
		SessionID: "office",
		Kind:      connector.EventPublishFailed,
		Topic:     "office/up",
		Bytes:     12,
		Err:       errors.New("no PUBACK"),
	})

	msg := readMessage(t, ws)
	if msg.EventType != ChannelSession {
		t.Fatalf("event type = %q, want %q", msg.EventType, ChannelSession)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["kind"] != "publish_failed" || payload["error"] != "no PUBACK" || payload["bytes"] != float64(12) {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_Messages(t *testing.T) {
	srv, _, _ := testServer(t)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ws := dialWebSocket(t, srv, ts)

	tests := []struct {
		name     string
		send     any
		wantType string
	}{
		{name: "ping", send: WSMessage{Type: WSTypePing, ID: "p1"}, wantType: WSTypePong},
		{name: "unknown type", send: WSMessage{Type: "dance", ID: "d1"}, wantType: WSTypeError},
		{name: "unknown channel", send: WSMessage{Type: WSTypeSubscribe, ID: "s1", Payload: WSSubscribePayload{Channels: []string{"devices"}}}, wantType: WSTypeError},
		{name: "unsubscribe", send: WSMessage{Type: WSTypeUnsubscribe, ID: "u1", Payload: WSSubscribePayload{Channels: []string{ChannelDownlink}}}, wantType: WSTypeResponse},
		{name: "invalid JSON", send: "not an object", wantType: WSTypeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ws.WriteJSON(tt.send); err != nil {
				t.Fatalf("write: %v", err)
			}
			if got := readMessage(t, ws); got.Type != tt.wantType {
				t.Errorf("response type = %q, want %q", got.Type, tt.wantType)
			}
		})
	}
}

func TestWebSocket_Rejected(t *testing.T) {
	srv, _, _ := testServer(t)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	for _, query := range []string{"", "?ticket=invalid-ticket"} {
		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err == nil {
			t.Fatalf("dial %q succeeded, want rejection", query)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("dial %q: resp = %v, want 401", query, resp)
		}
	}
}

func TestHub_ClientCount(t *testing.T) {
	srv, _, _ := testServer(t)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	if n := srv.Hub().ClientCount(); n != 0 {
		t.Fatalf("ClientCount() = %d, want 0", n)
	}
	ws := dialWebSocket(t, srv, ts)
	subscribe(t, ws, ChannelDownlink)
	if n := srv.Hub().ClientCount(); n != 1 {
		t.Errorf("ClientCount() = %d, want 1", n)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.cfg.Port = 0

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start() = nil, want error")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestHub_BroadcastFiltersAndDrops(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())

	downlinks := &WSClient{hub: hub, send: make(chan []byte, 1), mask: channelBits[ChannelDownlink]}
	events := &WSClient{hub: hub, send: make(chan []byte, 1), mask: channelBits[ChannelSession]}
	hub.Register(downlinks)
	hub.Register(events)

	hub.Downlink(&codec.DownlinkMessage{Payload: []byte{1}}, "office")
	hub.Downlink(&codec.DownlinkMessage{Payload: []byte{2}}, "office")

	if len(downlinks.send) != 1 {
		t.Errorf("downlink client queued %d messages, want 1", len(downlinks.send))
	}
	if len(events.send) != 0 {
		t.Errorf("session client queued %d messages, want 0", len(events.send))
	}
	if got := hub.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}

	hub.Broadcast("devices", nil)
	if got := hub.Dropped(); got != 1 {
		t.Errorf("Dropped() after unknown channel = %d, want 1", got)
	}

	hub.Unregister(downlinks)
	hub.Unregister(downlinks)
	if downlinks.enqueue([]byte("late")) {
		t.Error("enqueue() on closed client = true")
	}
	if n := hub.ClientCount(); n != 1 {
		t.Errorf("ClientCount() = %d, want 1", n)
	}
}
