// router - a test router for the gateway connector
//
// It subscribes to the connector topics on a broker, prints every status
// report and uplink, answers each uplink with a downlink and sends a
// downlink to every connected gateway at a fixed interval.
//
// Configuration comes from the environment:
//
//	ROUTER_BROKER             broker URL (default tcp://localhost:1883)
//	ROUTER_CLIENT_ID          MQTT client ID (default ttn-test-router)
//	ROUTER_USERNAME           optional broker username
//	ROUTER_PASSWORD           optional broker password
//	ROUTER_DOWNLINK_INTERVAL  interval between broadcast downlinks (default 4s)
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joeshaw/envdecode"

	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/mqtt"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

type routerConfig struct {
	Broker   string        `env:"ROUTER_BROKER,default=tcp://localhost:1883"`
	ClientID string        `env:"ROUTER_CLIENT_ID,default=ttn-test-router"`
	Username string        `env:"ROUTER_USERNAME"`
	Password string        `env:"ROUTER_PASSWORD"`
	Interval time.Duration `env:"ROUTER_DOWNLINK_INTERVAL,default=4s"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (routerConfig, error) {
	var cfg routerConfig
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return cfg, fmt.Errorf("decoding environment: %w", err)
	}
	if cfg.Interval <= 0 {
		return cfg, fmt.Errorf("ROUTER_DOWNLINK_INTERVAL must be positive, got %s", cfg.Interval)
	}
	return cfg, nil
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connecting to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Broker, err)
	}
	defer client.Disconnect(250)

	r := newRouter(pahoPublisher{client: client}, os.Stdout, uint64(time.Now().UnixNano())) // #nosec G115 -- seed only

	session.Fprintf(os.Stdout, "connected to %s as %s\n", cfg.Broker, cfg.ClientID) //nolint:errcheck // console output

	topics := mqtt.Topics{}
	subs := map[string]func(string, []byte) error{
		topics.AllStatus():  r.handleStatus,
		topics.AllUplinks(): r.handleUplink,
		topics.Connect():    r.handleConnect,
		topics.Disconnect(): r.handleDisconnect,
	}
	for topic, handle := range subs {
		token := client.Subscribe(topic, 0, func(_ pahomqtt.Client, m pahomqtt.Message) {
			if err := handle(m.Topic(), m.Payload()); err != nil {
				failed.Fprintf(os.Stdout, "handling %s: %v\n", m.Topic(), err) //nolint:errcheck // console output
			}
		})
		if !token.WaitTimeout(connectTimeout) {
			return fmt.Errorf("subscribing to %s: timed out", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.broadcast()
		}
	}
}

// pahoPublisher publishes at QoS 0 and waits for the write to complete.
type pahoPublisher struct {
	client pahomqtt.Client
}

func (p pahoPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publishing to %s: timed out", topic)
	}
	return token.Error()
}
