package device

// MessageTypeID identifies the semantic type of a user payload. The space is
// the full 8-bit range; numbering beyond the reserved identifiers below is
// policy for the caller, not something this package enforces.
type MessageTypeID uint8

// Reserved identifiers. Callers are free to use any other value in [0, 255].
const (
	MessageTypeTest           MessageTypeID = 0
	MessageTypeConsoleMessage MessageTypeID = 1
	MessageTypeWatchdogPing   MessageTypeID = 2
)
