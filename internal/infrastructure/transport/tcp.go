package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/config"
)

const (
	// defaultDialTimeout bounds Open when the config leaves it unset.
	defaultDialTimeout = 10 * time.Second

	// defaultHandshakeTimeout bounds the background TLS handshake.
	defaultHandshakeTimeout = 10 * time.Second

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// TCP is a broker connection over TCP with an optional TLS upgrade.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type TCP struct {
	cfg config.BrokerConfig

	mu   sync.Mutex
	conn net.Conn
	host string
	tls  *tlsUpgrade
}

// tlsUpgrade tracks one background handshake. err is written before done
// is closed and only read after.
type tlsUpgrade struct {
	conn   *tls.Conn
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

func (u *tlsUpgrade) finished() bool {
	select {
	case <-u.done:
		return true
	default:
		return false
	}
}

// NewTCP creates a closed transport for the given broker settings.
func NewTCP(cfg config.BrokerConfig) *TCP {
	return &TCP{cfg: cfg}
}

// Open dials host:port. The dial is bounded by both ctx and the configured
// dial timeout.
//
// Returns:
//   - error: ErrAlreadyOpen if a socket is held, ErrDialFailed on dial errors
func (t *TCP) Open(ctx context.Context, host string, port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return ErrAlreadyOpen
	}

	dialer := net.Dialer{Timeout: t.dialTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDialFailed, err)
	}

	t.conn = conn
	t.host = host
	return nil
}

// Close releases the socket and abandons any TLS handshake in progress.
// Closing a closed transport is a no-op.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	if t.tls != nil {
		t.tls.cancel()
		t.tls = nil
	}

	err := t.conn.Close()
	t.conn = nil
	t.host = ""

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// IsConnected reports whether a socket is held.
func (t *TCP) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// IsWriteReady reports whether a frame of size bytes can be written. A TLS
// handshake still in progress is waited on for at most timeout.
func (t *TCP) IsWriteReady(size int, timeout time.Duration) bool {
	t.mu.Lock()
	conn, up := t.conn, t.tls
	t.mu.Unlock()

	if conn == nil || size > t.maxFrameSize() {
		return false
	}
	if up == nil {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-up.done:
		return up.err == nil
	case <-timer.C:
		return false
	}
}

// StartTLS begins a TLS handshake over the open socket and returns without
// waiting for it. Poll IsTLSBusy and IsTLSSecure for the outcome.
func (t *TCP) StartTLS() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return ErrNotOpen
	}
	if t.tls != nil {
		return ErrTLSStarted
	}

	tlsCfg, err := t.clientConfig(t.host)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.handshakeTimeout())
	up := &tlsUpgrade{
		conn:   tls.Client(t.conn, tlsCfg),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	t.tls = up

	go func() {
		defer cancel()
		up.err = up.conn.HandshakeContext(ctx)
		close(up.done)
	}()

	return nil
}

// IsTLSBusy reports whether a handshake started by StartTLS is still running.
func (t *TCP) IsTLSBusy() bool {
	t.mu.Lock()
	up := t.tls
	t.mu.Unlock()
	return up != nil && !up.finished()
}

// IsTLSSecure reports whether the handshake finished and the broker's
// certificate was accepted.
func (t *TCP) IsTLSSecure() bool {
	t.mu.Lock()
	up := t.tls
	t.mu.Unlock()
	return up != nil && up.finished() && up.err == nil
}

// TLSError returns the handshake failure, or nil while busy or on success.
func (t *TCP) TLSError() error {
	t.mu.Lock()
	up := t.tls
	t.mu.Unlock()
	if up == nil || !up.finished() {
		return nil
	}
	return up.err
}

// Conn returns the connection the protocol client should speak over: the
// TLS connection after a successful upgrade, the plain socket when no
// upgrade was started, and nil otherwise. The caller must not close it.
func (t *TCP) Conn() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	if t.tls == nil {
		return t.conn
	}
	if t.tls.finished() && t.tls.err == nil {
		return t.tls.conn
	}
	return nil
}

// clientConfig builds the TLS client configuration for host.
func (t *TCP) clientConfig(host string) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tlsMinVersion,
		ServerName:         host,
		InsecureSkipVerify: t.cfg.TLS.InsecureSkipVerify, // #nosec G402 -- development brokers only, off by default
	}
	if t.cfg.TLS.ServerName != "" {
		cfg.ServerName = t.cfg.TLS.ServerName
	}

	if t.cfg.TLS.CAFile != "" {
		pem, err := os.ReadFile(t.cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA file: %w", ErrTLSConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrTLSConfig, t.cfg.TLS.CAFile)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

func (t *TCP) dialTimeout() time.Duration {
	if t.cfg.DialTimeout > 0 {
		return time.Duration(t.cfg.DialTimeout) * time.Second
	}
	return defaultDialTimeout
}

func (t *TCP) handshakeTimeout() time.Duration {
	if t.cfg.TLS.HandshakeTimeout > 0 {
		return time.Duration(t.cfg.TLS.HandshakeTimeout) * time.Second
	}
	return defaultHandshakeTimeout
}

func (t *TCP) maxFrameSize() int {
	if t.cfg.MaxFrameSize > 0 {
		return t.cfg.MaxFrameSize
	}
	return config.MaxFrameSize
}
