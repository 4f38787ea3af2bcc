// Package codec encodes and decodes the binary messages exchanged between a
// gateway and The Things Network router.
//
// Messages use the protocol buffers wire format so they stay compatible with
// the router's generated types, but they are built directly on
// google.golang.org/protobuf/encoding/protowire to keep the gateway free of
// generated code.
//
// # Messages
//
//   - Status: periodic gateway status report, published on "<id>/status"
//   - UplinkMessage: a received radio frame, published on "<id>/up"
//   - DownlinkMessage: a frame to transmit, received on "<id>/down"
//   - ConnectMessage: connect announcement, published on "connect"
//   - DisconnectMessage: disconnect announcement and last will, on "disconnect"
//
// # Compatibility
//
// Unknown fields are skipped so that newer routers can add fields without
// breaking older gateways. A known field carrying the wrong wire type, or
// bytes that are not valid protobuf, fail with ErrDecode.
//
// # Usage
//
//	payload, err := (&codec.Status{Time: time.Now().UnixNano()}).Marshal()
//
//	var down codec.DownlinkMessage
//	if err := down.Unmarshal(payload); err != nil {
//	    // drop the message
//	}
package codec
