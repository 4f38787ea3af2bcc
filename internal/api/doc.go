// Package api implements the local HTTP API and WebSocket server of the
// gateway connector.
//
// This package provides:
//   - Session state and counters (GET /api/v1/session)
//   - Uplink injection for local packet sources (POST /api/v1/uplinks)
//   - The session event journal (GET /api/v1/journal)
//   - A WebSocket hub streaming downlinks and session events (GET /api/v1/ws)
//
// # Security
//
// Mutating and journal endpoints require a bearer token signed with
// api.secret (HS256, see IssueToken). WebSocket connections use single-use
// tickets from POST /api/v1/auth/ws-ticket so the token never appears in a URL.
//
// # Channels
//
//	downlink       every downlink the router sends to this gateway
//	session.event  every connector.Event (connected, uplink_sent, ...)
package api
