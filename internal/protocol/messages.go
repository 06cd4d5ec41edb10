package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
	// Subscribe asks for an UPDATE after every accepted edit.
	Subscribe bool `json:"subscribe,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ClientID        string      `json:"client_id"`
	Revision        uint64      `json:"revision"`
	LogExtent       int         `json:"log_extent"`
	Limits          SceneLimits `json:"limits"`
}

type SceneLimits struct {
	MaxLogExtent    int   `json:"max_log_extent"`
	MaxPaintVoxels  int64 `json:"max_paint_voxels"`
	MaxMessageBytes int64 `json:"max_message_bytes"`
}

// PAINT (client -> server). Answered by ACK.
type PaintMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Offset          [3]int `json:"offset"`
	Extent          [3]int `json:"extent"`
	Value           uint32 `json:"value"`
}

// SAMPLE (client -> server). Answered by SAMPLE_RESULT.
type SampleMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Pos             [3]int `json:"pos"`
	MinLogExtent    int    `json:"min_log_extent,omitempty"`
}

type SampleResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Value           uint32 `json:"value"`
	Revision        uint64 `json:"revision"`
}

// VOLUME (client -> server) replaces the scene with a dense array of
// 8^n values, run-length encoded. Answered by ACK.
type VolumeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	RLE             string `json:"rle"`
}

// EXPORT (client -> server). Answered by EXPORT_READY and a binary frame.
type ExportMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
}

type ExportReadyMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Revision        uint64 `json:"revision"`
	LogExtent       int    `json:"log_extent"`
	Nodes           int    `json:"nodes"`
	Bytes           int    `json:"bytes"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Revision        uint64 `json:"revision"`
}

type UpdateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Revision        uint64 `json:"revision"`
	LogExtent       int    `json:"log_extent"`
	Nodes           int    `json:"nodes"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
