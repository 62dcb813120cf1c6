package ir

// Version constants for the wire protocol and the bridge.
const (
	// ProtocolVersion is the event envelope version understood by the bridge.
	ProtocolVersion = "1"

	// BridgeVersion is the ghostbridge release.
	BridgeVersion = "0.1.0"
)
