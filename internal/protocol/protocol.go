package protocol

import "encoding/json"

const Version = "1.0"

// Client -> server.
const (
	TypeHello  = "HELLO"
	TypePaint  = "PAINT"
	TypeSample = "SAMPLE"
	TypeVolume = "VOLUME"
	TypeExport = "EXPORT"
)

// Server -> client. EXPORT_READY is followed by one binary frame holding
// the little-endian GPU buffer.
const (
	TypeWelcome      = "WELCOME"
	TypeAck          = "ACK"
	TypeSampleResult = "SAMPLE_RESULT"
	TypeUpdate       = "UPDATE"
	TypeExportReady  = "EXPORT_READY"
	TypeError        = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ID              string `json:"id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
