// ttngwc - The Things Network gateway connector
//
// This is the main entry point of the gateway connector daemon. It keeps one
// MQTT session to the router's broker alive: it publishes periodic status
// reports, forwards uplinks injected through the local API and hands every
// downlink to local consumers over WebSocket.
//
// Usage:
//
//	ttngwc               run the daemon
//	ttngwc token [sub]   print a bearer token for the local API
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheThingsArchive/ttn-gateway-connector/internal/api"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/codec"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/connector"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/config"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/database"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/influxdb"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/logging"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/mqtt"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/transport"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/journal"
	"github.com/TheThingsArchive/ttn-gateway-connector/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when TTNGWC_CONFIG is not set.
	defaultConfigPath = "configs/config.yaml"

	// journalBuffer is the number of session events queued for SQLite.
	journalBuffer = 256
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:funlen // startup sequence reads top to bottom
	log := logging.Default()
	log.Info("starting gateway connector",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"gateway_id", cfg.Gateway.ID,
		"key", logging.Redact(cfg.Gateway.Key),
	)

	// Open database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	applied, err := db.Migrate(ctx, migrations.FS())
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path(), "migrations_applied", applied)

	journalRepo := journal.NewSQLiteRepository(db.DB)
	recorder := journal.NewRecorder(journalRepo, log, journalBuffer)
	defer recorder.Close()
	observers := connector.Observers{recorder}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		observers = append(observers, metricsObserver{client: influxClient})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// The hub exists before the session so it can observe it from the start.
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log)
		go hub.Run(ctx)
		observers = append(observers, hub)
	}

	tcp := transport.NewTCP(cfg.Broker)
	client := mqtt.New(tcp, cfg.GetCommandTimeout())
	client.SetLogger(log)

	session, err := connector.New(cfg.Gateway.ID, tcp, client, downlinkHandler(log, hub), cfg.Gateway.ID, connector.Options{
		KeepAlive: cfg.GetKeepAlive(),
		Features: connector.Features{
			LastWill:            cfg.Connector.Features.LastWill,
			ConnectAnnouncement: cfg.Connector.Features.ConnectAnnouncement,
		},
		QoS:      qosLevels(cfg.Connector.QoS),
		Logger:   log.With("component", "connector"),
		Observer: observers,
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer func() {
		log.Info("releasing gateway session")
		session.Cleanup()
	}()

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log,
			Session: session,
			Journal: journalRepo,
			Hub:     hub,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if retention := cfg.GetJournalRetention(); retention > 0 {
		go pruneJournalLoop(ctx, journalRepo, retention, log)
	}

	gw := newGateway(cfg, log, session, influxClient)
	if err := gw.run(ctx); err != nil {
		return err
	}

	log.Info("gateway connector stopped")
	return nil
}

// runToken prints a bearer token for the local API, signed with api.secret.
func runToken(args []string, w io.Writer) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	subject := "ttngwc-cli"
	if len(args) > 0 {
		subject = args[0]
	}

	token, err := api.IssueToken(cfg.API.Secret, subject, cfg.GetTokenTTL())
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// getConfigPath returns the configuration file path.
// Uses TTNGWC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TTNGWC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the local infrastructure is healthy. The broker is
// not checked here; the gateway loop reconnects to it on its own.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// qosLevels converts configured delivery levels to the session's.
func qosLevels(c config.QoSConfig) connector.QoSLevels {
	return connector.QoSLevels{
		Status:   byte(c.Status),   // #nosec G115 -- validated 0..2
		Uplink:   byte(c.Uplink),   // #nosec G115 -- validated 0..2
		Downlink: byte(c.Downlink), // #nosec G115 -- validated 0..2
		Connect:  byte(c.Connect),  // #nosec G115 -- validated 0..2
		Will:     byte(c.Will),     // #nosec G115 -- validated 0..2
	}
}

// downlinkHandler logs each downlink and relays it to WebSocket clients.
// hub may be nil when the API is disabled.
func downlinkHandler(log *logging.Logger, hub *api.Hub) connector.DownlinkHandler {
	return func(msg *codec.DownlinkMessage, arg any) {
		attrs := []any{"gateway_id", arg, "bytes", len(msg.Payload)}
		if gc := msg.GatewayConfiguration; gc != nil {
			attrs = append(attrs, "frequency", gc.Frequency, "timestamp", gc.Timestamp)
		}
		log.Info("downlink received", attrs...)

		if hub != nil {
			hub.Downlink(msg, arg)
		}
	}
}

// metricsObserver writes every session event to InfluxDB.
type metricsObserver struct {
	client *influxdb.Client
}

func (m metricsObserver) SessionEvent(e connector.Event) {
	m.client.WriteSessionEvent(e.SessionID, string(e.Kind), e.Bytes, e.Err != nil, e.At)
}

// pruneJournalLoop removes session events older than retention, once at
// start and then daily.
func pruneJournalLoop(ctx context.Context, repo journal.Repository, retention time.Duration, log *logging.Logger) {
	prune := func() {
		n, err := repo.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			log.Warn("pruning journal failed", "error", err)
			return
		}
		if n > 0 {
			log.Info("journal pruned", "removed", n)
		}
	}

	prune()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
