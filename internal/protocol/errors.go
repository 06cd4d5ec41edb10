package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"
	ErrProtoTooLarge   = "E_PROTO_TOO_LARGE"

	// Scene edits and queries.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrTooLarge      = "E_TOO_LARGE"
	ErrOutOfBounds   = "E_OUT_OF_BOUNDS"
	ErrInvalidVolume = "E_INVALID_VOLUME"
	ErrBusy          = "E_BUSY"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrProtoTooLarge:   {},
	ErrBadRequest:      {},
	ErrTooLarge:        {},
	ErrOutOfBounds:     {},
	ErrInvalidVolume:   {},
	ErrBusy:            {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
