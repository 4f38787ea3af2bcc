package codec

// Modulation is the radio modulation of a frame.
type Modulation int32

// Modulation values.
const (
	ModulationLoRa Modulation = 0
	ModulationFSK  Modulation = 1
)

// String returns the modulation name.
func (m Modulation) String() string {
	switch m {
	case ModulationLoRa:
		return "LORA"
	case ModulationFSK:
		return "FSK"
	default:
		return "UNKNOWN"
	}
}

// GPSMetadata is the location of a gateway.
type GPSMetadata struct {
	Time      int64   `json:"time,omitempty"`
	Latitude  float32 `json:"latitude,omitempty"`
	Longitude float32 `json:"longitude,omitempty"`
	Altitude  int32   `json:"altitude,omitempty"`
}

func (m *GPSMetadata) appendFields(e *encoder) {
	e.int(1, m.Time)
	e.float32(2, m.Latitude)
	e.float32(3, m.Longitude)
	e.int(4, int64(m.Altitude))
}

// Unmarshal decodes b into m.
func (m *GPSMetadata) Unmarshal(b []byte) error {
	*m = GPSMetadata{}
	return decodeFields(b, func(f *field) {
		switch f.num {
		case 1:
			m.Time = f.int64()
		case 2:
			m.Latitude = f.float32()
		case 3:
			m.Longitude = f.float32()
		case 4:
			m.Altitude = f.int32()
		}
	})
}

// Status is the periodic status report of a gateway.
type Status struct {
	Timestamp      uint32       `json:"timestamp,omitempty"`
	Time           int64        `json:"time,omitempty"`
	GatewayTrusted bool         `json:"gateway_trusted,omitempty"`
	BootTime       int64        `json:"boot_time,omitempty"`
	IP             []string     `json:"ip,omitempty"`
	Platform       string       `json:"platform,omitempty"`
	ContactEmail   string       `json:"contact_email,omitempty"`
	Description    string       `json:"description,omitempty"`
	Region         string       `json:"region,omitempty"`
	Bridge         string       `json:"bridge,omitempty"`
	Router         string       `json:"router,omitempty"`
	GPS            *GPSMetadata `json:"gps,omitempty"`
	RTT            uint32       `json:"rtt,omitempty"`
	RxIn           uint32       `json:"rx_in,omitempty"`
	RxOk           uint32       `json:"rx_ok,omitempty"`
	TxIn           uint32       `json:"tx_in,omitempty"`
	TxOk           uint32       `json:"tx_ok,omitempty"`
}

func (m *Status) appendFields(e *encoder) {
	e.uint(1, uint64(m.Timestamp))
	e.int(2, m.Time)
	e.bool(3, m.GatewayTrusted)
	e.int(4, m.BootTime)
	e.repeatedString(11, m.IP)
	e.string(12, m.Platform)
	e.string(13, m.ContactEmail)
	e.string(14, m.Description)
	e.string(15, m.Region)
	e.string(16, m.Bridge)
	e.string(17, m.Router)
	if m.GPS != nil {
		e.message(21, m.GPS)
	}
	e.uint(31, uint64(m.RTT))
	e.uint(41, uint64(m.RxIn))
	e.uint(42, uint64(m.RxOk))
	e.uint(43, uint64(m.TxIn))
	e.uint(44, uint64(m.TxOk))
}

// Marshal encodes the status report.
func (m *Status) Marshal() ([]byte, error) {
	if m == nil {
		return nil, ErrNilMessage
	}
	var e encoder
	m.appendFields(&e)
	return e.buf, nil
}

// Unmarshal decodes b into m.
func (m *Status) Unmarshal(b []byte) error {
	*m = Status{}
	return decodeFields(b, func(f *field) {
		switch f.num {
		case 1:
			m.Timestamp = f.uint32()
		case 2:
			m.Time = f.int64()
		case 3:
			m.GatewayTrusted = f.bool()
		case 4:
			m.BootTime = f.int64()
		case 11:
			m.IP = append(m.IP, f.string())
		case 12:
			m.Platform = f.string()
		case 13:
			m.ContactEmail = f.string()
		case 14:
			m.Description = f.string()
		case 15:
			m.Region = f.string()
		case 16:
			m.Bridge = f.string()
		case 17:
			m.Router = f.string()
		case 21:
			m.GPS = &GPSMetadata{}
			f.message(m.GPS)
		case 31:
			m.RTT = f.uint32()
		case 41:
			m.RxIn = f.uint32()
		case 42:
			m.RxOk = f.uint32()
		case 43:
			m.TxIn = f.uint32()
		case 44:
			m.TxOk = f.uint32()
		}
	})
}

// LoRaWANMetadata describes how a LoRaWAN frame was received or must be sent.
type LoRaWANMetadata struct {
	Modulation Modulation `json:"modulation"`
	DataRate   string     `json:"data_rate,omitempty"`
	BitRate    uint32     `json:"bit_rate,omitempty"`
	CodingRate string     `json:"coding_rate,omitempty"`
	FCnt       uint32     `json:"f_cnt,omitempty"`
}

func (m *LoRaWANMetadata) appendFields(e *encoder) {
	e.int(1, int64(m.Modulation))
	e.string(2, m.DataRate)
	e.uint(3, uint64(m.BitRate))
	e.string(4, m.CodingRate)
	e.uint(15, uint64(m.FCnt))
}

// Unmarshal decodes b into m.
func (m *LoRaWANMetadata) Unmarshal(b []byte) error {
	*m = LoRaWANMetadata{}
	return decodeFields(b, func(f *field) {
		switch f.num {
		case 1:
			m.Modulation = Modulation(f.int32())
		case 2:
			m.DataRate = f.string()
		case 3:
			m.BitRate = f.uint32()
		case 4:
			m.CodingRate = f.string()
		case 15:
			m.FCnt = f.uint32()
		}
	})
}

// ProtocolMetadata carries protocol specific receive metadata.
type ProtocolMetadata struct {
	LoRaWAN *LoRaWANMetadata `json:"lorawan,omitempty"`
}

func (m *ProtocolMetadata) appendFields(e *encoder) {
	if m.LoRaWAN != nil {
		e.message(1, m.LoRaWAN)
	}
}

// Unmarshal decodes b into m.
func (m *ProtocolMetadata) Unmarshal(b []byte) error {
	*m = ProtocolMetadata{}
	return decodeFields(b, func(f *field) {
		if f.num == 1 {
			m.LoRaWAN = &LoRaWANMetadata{}
			f.message(m.LoRaWAN)
		}
	})
}

// GatewayMetadata carries the gateway's receive metadata for an uplink.
type GatewayMetadata struct {
	GatewayID string       `json:"gateway_id,omitempty"`
	Timestamp uint32       `json:"timestamp,omitempty"`
	Time      int64        `json:"time,omitempty"`
	RFChain   uint32       `json:"rf_chain,omitempty"`
	Channel   uint32       `json:"channel,omitempty"`
	Frequency uint64       `json:"frequency,omitempty"`
	RSSI      float32      `json:"rssi,omitempty"`
	SNR       float32      `json:"snr,omitempty"`
	GPS       *GPSMetadata `json:"gps,omitempty"`
}

func (m *GatewayMetadata) appendFields(e *encoder) {
	e.string(1, m.GatewayID)
	e.uint(11, uint64(m.Timestamp))
	e.int(12, m.Time)
	e.uint(21, uint64(m.RFChain))
	e.uint(22, uint64(m.Channel))
	e.uint(31, m.Frequency)
	e.float32(32, m.RSSI)
	e.float32(33, m.SNR)
	if m.GPS != nil {
		e.message(41, m.GPS)
	}
}

// Unmarshal decodes b into m.
func (m *GatewayMetadata) Unmarshal(b []byte) error {
	*m = GatewayMetadata{}
	return decodeFields(b, func(f *field) {
		switch f.num {
		case 1:
			m.GatewayID = f.string()
		case 11:
			m.Timestamp = f.uint32()
		case 12:
			m.Time = f.int64()
		case 21:
			m.RFChain = f.uint32()
		case 22:
			m.Channel = f.uint32()
		case 31:
			m.Frequency = f.uint64()
		case 32:
			m.RSSI = f.float32()
		case 33:
			m.SNR = f.float32()
		case 41:
			m.GPS = &GPSMetadata{}
			f.message(m.GPS)
		}
	})
}

// UplinkMessage is a radio frame received by the gateway.
type UplinkMessage struct {
	Payload          []byte            `json:"payload,omitempty"`
	ProtocolMetadata *ProtocolMetadata `json:"protocol_metadata,omitempty"`
	GatewayMetadata  *GatewayMetadata  `json:"gateway_metadata,omitempty"`
}

func (m *UplinkMessage) appendFields(e *encoder) {
	e.bytes(1, m.Payload)
	if m.ProtocolMetadata != nil {
		e.message(11, m.ProtocolMetadata)
	}
	if m.GatewayMetadata != nil {
		e.message(12, m.GatewayMetadata)
	}
}

// Marshal encodes the uplink.
func (m *UplinkMessage) Marshal() ([]byte, error) {
	if m == nil {
		return nil, ErrNilMessage
	}
	var e encoder
	m.appendFields(&e)
	return e.buf, nil
}

// Unmarshal decodes b into m.
func (m *UplinkMessage) Unmarshal(b []byte) error {
	*m = UplinkMessage{}
	return decodeFields(b, func(f *field) {
		switch f.num {
		case 1:
			m.Payload = f.bytes()
		case 11:
			m.ProtocolMetadata = &ProtocolMetadata{}
			f.message(m.ProtocolMetadata)
		case 12:
			m.GatewayMetadata = &GatewayMetadata{}
			f.message(m.GatewayMetadata)
		}
	})
}

// ProtocolConfiguration carries protocol specific transmit settings.
type ProtocolConfiguration struct {
	LoRaWAN *LoRaWANMetadata `json:"lorawan,omitempty"`
}

func (m *ProtocolConfiguration) appendFields(e *encoder) {
	if m.LoRaWAN != nil {
		e.message(1, m.LoRaWAN)
	}
}

// Unmarshal decodes b into m.
func (m *ProtocolConfiguration) Unmarshal(b []byte) error {
	*m = ProtocolConfiguration{}
	return decodeFields(b, func(f *field) {
		if f.num == 1 {
			m.LoRaWAN = &LoRaWANMetadata{}
			f.message(m.LoRaWAN)
		}
	})
}

// GatewayConfiguration carries the radio settings for a downlink.
type GatewayConfiguration struct {
	Timestamp             uint32 `json:"timestamp,omitempty"`
	RFChain               uint32 `json:"rf_chain,omitempty"`
	Frequency             uint64 `json:"frequency,omitempty"`
	Power                 int32  `json:"power,omitempty"`
	PolarizationInversion bool   `json:"polarization_inversion,omitempty"`
	FrequencyDeviation    uint32 `json:"frequency_deviation,omitempty"`
}

func (m *GatewayConfiguration) appendFields(e *encoder) {
	e.uint(1, uint64(m.Timestamp))
	e.uint(2, uint64(m.RFChain))
	e.uint(3, m.Frequency)
	e.int(4, int64(m.Power))
	e.bool(5, m.PolarizationInversion)
	e.uint(6, uint64(m.FrequencyDeviation))
}

// Unmarshal decodes b into m.
func (m *GatewayConfiguration) Unmarshal(b []byte) error {
	*m = GatewayConfiguration{}
	return decodeFields(b, func(f *field) {
		switch f.num {
		case 1:
			m.Timestamp = f.uint32()
		case 2:
			m.RFChain = f.uint32()
		case 3:
			m.Frequency = f.uint64()
		case 4:
			m.Power = f.int32()
		case 5:
			m.PolarizationInversion = f.bool()
		case 6:
			m.FrequencyDeviation = f.uint32()
		}
	})
}

// DownlinkMessage is a frame the router asks the gateway to transmit.
type DownlinkMessage struct {
	Payload               []byte                 `json:"payload,omitempty"`
	ProtocolConfiguration *ProtocolConfiguration `json:"protocol_configuration,omitempty"`
	GatewayConfiguration  *GatewayConfiguration  `json:"gateway_configuration,omitempty"`
}

func (m *DownlinkMessage) appendFields(e *encoder) {
	e.bytes(1, m.Payload)
	if m.ProtocolConfiguration != nil {
		e.message(11, m.ProtocolConfiguration)
	}
	if m.GatewayConfiguration != nil {
		e.message(12, m.GatewayConfiguration)
	}
}

// Marshal encodes the downlink.
func (m *DownlinkMessage) Marshal() ([]byte, error) {
	if m == nil {
		return nil, ErrNilMessage
	}
	var e encoder
	m.appendFields(&e)
	return e.buf, nil
}

// Unmarshal decodes b into m.
func (m *DownlinkMessage) Unmarshal(b []byte) error {
	*m = DownlinkMessage{}
	return decodeFields(b, func(f *field) {
		switch f.num {
		case 1:
			m.Payload = f.bytes()
		case 11:
			m.ProtocolConfiguration = &ProtocolConfiguration{}
			f.message(m.ProtocolConfiguration)
		case 12:
			m.GatewayConfiguration = &GatewayConfiguration{}
			f.message(m.GatewayConfiguration)
		}
	})
}

// ConnectMessage announces a gateway session on the "connect" topic.
type ConnectMessage struct {
	ID  string `json:"id"`
	Key string `json:"key,omitempty"`
}

// Marshal encodes the announcement.
func (m *ConnectMessage) Marshal() ([]byte, error) {
	if m == nil {
		return nil, ErrNilMessage
	}
	return marshalIdentity(m.ID, m.Key), nil
}

// Unmarshal decodes b into m.
func (m *ConnectMessage) Unmarshal(b []byte) error {
	*m = ConnectMessage{}
	return unmarshalIdentity(b, &m.ID, &m.Key)
}

// DisconnectMessage announces the end of a gateway session on the
// "disconnect" topic. It is also registered as the session's last will.
type DisconnectMessage struct {
	ID  string `json:"id"`
	Key string `json:"key,omitempty"`
}

// Marshal encodes the announcement.
func (m *DisconnectMessage) Marshal() ([]byte, error) {
	if m == nil {
		return nil, ErrNilMessage
	}
	return marshalIdentity(m.ID, m.Key), nil
}

// Unmarshal decodes b into m.
func (m *DisconnectMessage) Unmarshal(b []byte) error {
	*m = DisconnectMessage{}
	return unmarshalIdentity(b, &m.ID, &m.Key)
}

func marshalIdentity(id, key string) []byte {
	var e encoder
	e.string(1, id)
	e.string(2, key)
	return e.buf
}

func unmarshalIdentity(b []byte, id, key *string) error {
	return decodeFields(b, func(f *field) {
		switch f.num {
		case 1:
			*id = f.string()
		case 2:
			*key = f.string()
		}
	})
}
