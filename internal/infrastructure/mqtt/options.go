package mqtt

import (
	"net"
	"net/url"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultCommandTimeout is the maximum time to wait for any broker acknowledgement.
	defaultCommandTimeout = time.Second

	// defaultKeepAlive is the keepalive interval when ConnectOptions leaves it unset.
	defaultKeepAlive = 20 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// transportURL is handed to paho as the broker address. The connection
	// itself always comes from the ConnSource.
	transportURL = "tcp://transport"
)

// ConnectOptions describes one CONNECT exchange.
type ConnectOptions struct {
	ClientID  string
	KeepAlive time.Duration

	// Username and Password are sent only when Username is non-empty.
	Username string
	Password []byte

	// Will, when set, is registered with the broker as the session's last will.
	Will *Will
}

// Will is a last-will message the broker publishes if the session ends
// without a clean DISCONNECT.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// ConnSource supplies the established socket the client speaks MQTT over.
// transport.TCP implements it.
type ConnSource interface {
	Conn() net.Conn
}

// detachedConn stops paho's reader without closing the socket, which is
// owned by the ConnSource.
type detachedConn struct {
	net.Conn
}

// Close unblocks any pending Read by expiring the read deadline.
func (d detachedConn) Close() error {
	return d.Conn.SetReadDeadline(time.Now())
}

// buildClientOptions creates paho MQTT options for one session.
//
// This configures:
//   - The custom connection hook returning the transport's socket
//   - Client ID and optional credentials
//   - Optional binary last will
//   - Clean session, no auto-reconnect (reconnect is caller policy)
//   - Command and keep-alive timeouts
func buildClientOptions(src ConnSource, opts ConnectOptions, commandTimeout time.Duration) *pahomqtt.ClientOptions {
	po := pahomqtt.NewClientOptions()

	po.AddBroker(transportURL)
	po.SetCustomOpenConnectionFn(func(_ *url.URL, _ pahomqtt.ClientOptions) (net.Conn, error) {
		conn := src.Conn()
		if conn == nil {
			return nil, ErrNoTransport
		}
		// A previous session may have detached the reader.
		if err := conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, err
		}
		return detachedConn{Conn: conn}, nil
	})

	po.SetClientID(opts.ClientID)
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(string(opts.Password))
	}

	if opts.Will != nil {
		po.SetBinaryWill(opts.Will.Topic, opts.Will.Payload, opts.Will.QoS, opts.Will.Retained)
	}

	po.SetCleanSession(true)
	po.SetAutoReconnect(false)
	po.SetConnectRetry(false)
	po.SetResumeSubs(false)

	// Inbound handlers only enqueue, so in-order delivery costs nothing.
	po.SetOrderMatters(true)

	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	po.SetKeepAlive(keepAlive)
	po.SetPingTimeout(commandTimeout)
	po.SetConnectTimeout(commandTimeout)
	po.SetWriteTimeout(commandTimeout)

	return po
}
