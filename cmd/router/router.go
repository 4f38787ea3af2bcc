package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/fatih/color"

	"github.com/TheThingsArchive/ttn-gateway-connector/internal/codec"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/mqtt"
)

// publisher sends one message to the broker.
type publisher interface {
	Publish(topic string, payload []byte) error
}

// txConfig is one radio setting downlinks are sent with.
type txConfig struct {
	modulation codec.Modulation
	dataRate   string
	bitRate    uint32
	frequency  uint64
}

// txConfigs spans the EU868, US915 and AU915 plans.
var txConfigs = []txConfig{
	{modulation: codec.ModulationLoRa, dataRate: "SF7BW125", frequency: 867100000},
	{modulation: codec.ModulationLoRa, dataRate: "SF8BW125", frequency: 867300000},
	{modulation: codec.ModulationLoRa, dataRate: "SF9BW125", frequency: 869525000},
	{modulation: codec.ModulationLoRa, dataRate: "SF10BW125", frequency: 867700000},
	{modulation: codec.ModulationLoRa, dataRate: "SF11BW125", frequency: 867900000},
	{modulation: codec.ModulationLoRa, dataRate: "SF12BW125", frequency: 867500000},
	{modulation: codec.ModulationFSK, bitRate: 50000, frequency: 868800000},
	{modulation: codec.ModulationLoRa, dataRate: "SF7BW250", frequency: 868300000},
	{modulation: codec.ModulationLoRa, dataRate: "SF10BW125", frequency: 915200000},
	{modulation: codec.ModulationLoRa, dataRate: "SF9BW125", frequency: 915400000},
	{modulation: codec.ModulationLoRa, dataRate: "SF8BW125", frequency: 915600000},
	{modulation: codec.ModulationLoRa, dataRate: "SF7BW125", frequency: 915800000},
	{modulation: codec.ModulationLoRa, dataRate: "SF12BW500", frequency: 915900000},
	{modulation: codec.ModulationLoRa, dataRate: "SF11BW500", frequency: 923300000},
	{modulation: codec.ModulationLoRa, dataRate: "SF10BW500", frequency: 923900000},
}

var fruit = []string{
	"apple", "apricot",
	"avocado", "banana",
	"berry", "blackberry",
	"blood orange", "blueberry",
	"boysenberry", "breadfruit",
}

var (
	received = color.New(color.FgCyan)
	sent     = color.New(color.FgGreen)
	session  = color.New(color.FgYellow)
	failed   = color.New(color.FgRed)
)

// router plays the network side of the connector protocol: it prints
// status reports and uplinks, answers each uplink with a downlink and
// tracks which gateways are connected.
type router struct {
	pub publisher
	out io.Writer
	rnd *rand.Rand

	mu       sync.Mutex
	fcnt     uint32
	gateways map[string]struct{}
}

func newRouter(pub publisher, out io.Writer, seed uint64) *router {
	return &router{
		pub:      pub,
		out:      out,
		rnd:      rand.New(rand.NewPCG(seed, seed)),
		gateways: make(map[string]struct{}),
	}
}

func (r *router) handleStatus(topic string, payload []byte) error {
	var status codec.Status
	if err := status.Unmarshal(payload); err != nil {
		failed.Fprintf(r.out, "invalid status on %s: %v\n", topic, err) //nolint:errcheck // console output
		return err
	}
	received.Fprintf(r.out, "status %s: time=%d rx_ok=%d tx_in=%d platform=%q\n", //nolint:errcheck // console output
		topic, status.Time, status.RxOk, status.TxIn, status.Platform)
	return nil
}

// handleUplink prints the uplink and answers it on the gateway's downlink topic.
func (r *router) handleUplink(topic string, payload []byte) error {
	var up codec.UplinkMessage
	if err := up.Unmarshal(payload); err != nil {
		failed.Fprintf(r.out, "invalid uplink on %s: %v\n", topic, err) //nolint:errcheck // console output
		return err
	}
	received.Fprintf(r.out, "uplink %s: %d bytes\n", topic, len(up.Payload)) //nolint:errcheck // console output

	id, ok := mqtt.GatewayID(topic)
	if !ok {
		return fmt.Errorf("uplink topic %q has no gateway ID", topic)
	}
	return r.sendDownlink(id)
}

func (r *router) handleConnect(_ string, payload []byte) error {
	var msg codec.ConnectMessage
	if err := msg.Unmarshal(payload); err != nil {
		return err
	}
	r.mu.Lock()
	r.gateways[msg.ID] = struct{}{}
	r.mu.Unlock()
	session.Fprintf(r.out, "gateway %s connected\n", msg.ID) //nolint:errcheck // console output
	return nil
}

// handleDisconnect covers both graceful announcements and last wills.
func (r *router) handleDisconnect(_ string, payload []byte) error {
	var msg codec.DisconnectMessage
	if err := msg.Unmarshal(payload); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.gateways, msg.ID)
	r.mu.Unlock()
	session.Fprintf(r.out, "gateway %s disconnected\n", msg.ID) //nolint:errcheck // console output
	return nil
}

// connected returns the IDs of the gateways currently connected, sorted.
func (r *router) connected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.gateways))
	for id := range r.gateways {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// broadcast sends one downlink to every connected gateway.
func (r *router) broadcast() {
	for _, id := range r.connected() {
		if err := r.sendDownlink(id); err != nil {
			failed.Fprintf(r.out, "downlink to %s failed: %v\n", id, err) //nolint:errcheck // console output
		}
	}
}

func (r *router) sendDownlink(gatewayID string) error {
	r.mu.Lock()
	down := r.makeDownlink()
	r.mu.Unlock()

	buf, err := down.Marshal()
	if err != nil {
		return fmt.Errorf("encoding downlink: %w", err)
	}
	if err := r.pub.Publish(mqtt.TopicFor(gatewayID, mqtt.SuffixDownlink), buf); err != nil {
		return fmt.Errorf("publishing downlink: %w", err)
	}

	r.mu.Lock()
	r.fcnt++
	r.mu.Unlock()

	sent.Fprintf(r.out, "downlink %s: fcnt=%d freq=%d %s\n", //nolint:errcheck // console output
		gatewayID, down.ProtocolConfiguration.LoRaWAN.FCnt,
		down.GatewayConfiguration.Frequency, down.ProtocolConfiguration.LoRaWAN.DataRate)
	return nil
}

// makeDownlink builds an unconfirmed LoRaWAN data-down frame to device
// 01020304 with a random radio setting. r.mu must be held.
func (r *router) makeDownlink() *codec.DownlinkMessage {
	cfg := txConfigs[r.rnd.IntN(len(txConfigs))]
	payload := fruit[r.rnd.IntN(len(fruit))]

	return &codec.DownlinkMessage{
		Payload: phyPayload([4]byte{1, 2, 3, 4}, r.fcnt, 1, []byte(payload)),
		ProtocolConfiguration: &codec.ProtocolConfiguration{
			LoRaWAN: &codec.LoRaWANMetadata{
				Modulation: cfg.modulation,
				DataRate:   cfg.dataRate,
				BitRate:    cfg.bitRate,
				CodingRate: "4/5",
				FCnt:       r.fcnt,
			},
		},
		GatewayConfiguration: &codec.GatewayConfiguration{
			Timestamp:             10000 + r.fcnt*10,
			RFChain:               uint32(r.rnd.IntN(2)), // #nosec G115 -- 0 or 1
			Frequency:             cfg.frequency,
			PolarizationInversion: cfg.modulation == codec.ModulationLoRa,
			FrequencyDeviation:    cfg.bitRate / 2,
		},
	}
}

// LoRaWAN 1.0 frame layout constants.
const (
	mhdrUnconfirmedDown = 0x60 // MType 011, Major R1
	micSize             = 4
)

// phyPayload encodes MHDR | DevAddr | FCtrl | FCnt | FPort | FRMPayload | MIC.
// The frame is not encrypted and the MIC is a fixed placeholder.
func phyPayload(devAddr [4]byte, fcnt uint32, fport byte, frm []byte) []byte {
	b := make([]byte, 0, 1+4+1+2+1+len(frm)+micSize)
	b = append(b, mhdrUnconfirmedDown)
	// DevAddr is little endian on air.
	b = append(b, devAddr[3], devAddr[2], devAddr[1], devAddr[0])
	// FCtrl is empty; only the low 16 bits of FCnt go on air.
	b = append(b, 0x00)
	b = binary.LittleEndian.AppendUint16(b, uint16(fcnt)) // #nosec G115
	b = append(b, fport)
	b = append(b, frm...)
	return append(b, 1, 2, 3, 4)
}
