package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheThingsArchive/ttn-gateway-connector/internal/codec"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/connector"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/config"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/influxdb"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/logging"
)

// tlsPollInterval is how often the TLS upgrade is checked for completion.
const tlsPollInterval = 20 * time.Millisecond

// gatewaySession is the part of connector.Session the daemon loop drives.
type gatewaySession interface {
	ID() string
	State() connector.State
	Stats() connector.Stats
	OpenTransport(ctx context.Context, host string, port int) error
	CloseTransport() error
	StartTLS() error
	IsTLSBusy() bool
	Connect(ctx context.Context, key string) error
	Disconnect() error
	SendStatus(ctx context.Context, msg *codec.Status) error
	Poll(timeout time.Duration) error
}

// gateway runs one session: connect, poll, report status, and reconnect
// with backoff when the session is lost.
type gateway struct {
	cfg     *config.Config
	log     *logging.Logger
	session gatewaySession
	metrics *influxdb.Client // nil when InfluxDB is disabled

	bootTime   time.Time
	statusTime int64 // monotonically increasing status counter
}

func newGateway(cfg *config.Config, log *logging.Logger, session gatewaySession, metrics *influxdb.Client) *gateway {
	return &gateway{
		cfg:      cfg,
		log:      log,
		session:  session,
		metrics:  metrics,
		bootTime: time.Now(),
	}
}

// run keeps the session up until ctx is cancelled. It returns an error only
// when reconnect.max_attempts consecutive connects have failed.
func (g *gateway) run(ctx context.Context) error {
	b := newBackoff(
		time.Duration(g.cfg.Reconnect.InitialDelay)*time.Second,
		time.Duration(g.cfg.Reconnect.MaxDelay)*time.Second,
	)
	failures := 0

	for {
		if err := g.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			g.log.Warn("connecting to router failed",
				"error", err,
				"attempt", failures,
				"broker", fmt.Sprintf("%s:%d", g.cfg.Broker.Host, g.cfg.Broker.Port),
			)
			if limit := g.cfg.Reconnect.MaxAttempts; limit > 0 && failures >= limit {
				return fmt.Errorf("giving up after %d connect attempts: %w", failures, err)
			}
		} else {
			failures = 0
			b.reset()

			err := g.serve(ctx)
			g.teardown()
			if ctx.Err() != nil {
				return nil
			}
			g.log.Warn("gateway session lost", "error", err)
		}

		delay := b.next()
		g.log.Info("reconnecting", "delay", delay.String())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// connect opens the transport, completes the optional TLS upgrade and runs
// the MQTT handshake. On failure the transport is closed again: a broker
// that refused the handshake has usually dropped the socket.
func (g *gateway) connect(ctx context.Context) error {
	if err := g.session.OpenTransport(ctx, g.cfg.Broker.Host, g.cfg.Broker.Port); err != nil {
		return err
	}

	if g.cfg.Broker.TLS.Enabled {
		if err := g.session.StartTLS(); err != nil {
			g.closeTransport()
			return err
		}
		if err := g.waitTLS(ctx); err != nil {
			g.closeTransport()
			return err
		}
	}

	if err := g.session.Connect(ctx, g.cfg.Gateway.Key); err != nil {
		g.closeTransport()
		return err
	}

	g.log.Info("gateway session established",
		"gateway_id", g.session.ID(),
		"tls", g.cfg.Broker.TLS.Enabled,
	)
	return nil
}

// waitTLS blocks until the TLS upgrade has finished. Whether it succeeded
// is decided by Connect.
func (g *gateway) waitTLS(ctx context.Context) error {
	ticker := time.NewTicker(tlsPollInterval)
	defer ticker.Stop()

	for g.session.IsTLSBusy() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// serve polls the session and sends a status report every status interval.
// It returns when the session fails or ctx is cancelled.
func (g *gateway) serve(ctx context.Context) error {
	statusTicker := time.NewTicker(g.cfg.GetStatusInterval())
	defer statusTicker.Stop()

	if err := g.sendStatus(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := g.session.Poll(g.cfg.GetPollInterval()); err != nil {
			return err
		}

		select {
		case <-statusTicker.C:
			if err := g.sendStatus(ctx); err != nil {
				return err
			}
		default:
		}
	}
}

// sendStatus publishes one status report. Single lost reports are logged
// and tolerated; only a session that is no longer connected is fatal.
func (g *gateway) sendStatus(ctx context.Context) error {
	g.statusTime++
	stats := g.session.Stats()

	status := &codec.Status{
		Time:         g.statusTime,
		BootTime:     g.bootTime.UnixNano(),
		Platform:     g.cfg.Gateway.Platform,
		ContactEmail: g.cfg.Gateway.ContactEmail,
		Description:  g.cfg.Gateway.Description,
		Region:       g.cfg.Gateway.Region,
		RxOk:         uint32(stats.UplinksSent),       // #nosec G115 -- wraps like the radio counters
		TxIn:         uint32(stats.DownlinksReceived), // #nosec G115 -- wraps like the radio counters
	}

	err := g.session.SendStatus(ctx, status)
	switch {
	case err == nil:
		g.log.Debug("status sent", "time", g.statusTime)
	case errors.Is(err, connector.ErrTimeout), errors.Is(err, connector.ErrPublish):
		g.log.Warn("status report lost", "time", g.statusTime, "error", err)
	default:
		return err
	}

	if g.metrics != nil {
		fields := statsFields(stats)
		fields["metrics_write_failures"] = g.metrics.WriteFailures()
		g.metrics.WriteSessionCounters(g.session.ID(), g.session.State().String(), fields)
	}
	return nil
}

// teardown ends the session gracefully: disconnect announcement, protocol
// DISCONNECT, socket close.
func (g *gateway) teardown() {
	if err := g.session.Disconnect(); err != nil {
		g.log.Warn("gateway session teardown incomplete", "error", err)
		return
	}
	g.log.Info("gateway session closed", "gateway_id", g.session.ID())
}

func (g *gateway) closeTransport() {
	if err := g.session.CloseTransport(); err != nil {
		g.log.Debug("closing transport after failed connect", "error", err)
	}
}

// statsFields maps session counters to InfluxDB field names.
func statsFields(s connector.Stats) map[string]uint64 {
	return map[string]uint64{
		"uplinks_sent":       s.UplinksSent,
		"status_sent":        s.StatusSent,
		"publish_failures":   s.PublishFailures,
		"downlinks_received": s.DownlinksReceived,
		"downlinks_dropped":  s.DownlinksDropped,
		"handshakes":         s.Handshakes,
	}
}

// backoff doubles the reconnect delay up to a ceiling.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, maxDelay time.Duration) *backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return &backoff{initial: initial, max: maxDelay}
}

// next returns the delay before the next attempt.
func (b *backoff) next() time.Duration {
	if b.current == 0 {
		b.current = b.initial
		return b.current
	}
	b.current = min(b.current*2, b.max)
	return b.current
}

func (b *backoff) reset() {
	b.current = 0
}
