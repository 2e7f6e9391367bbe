package foxglove

// Subprotocol is the WebSocket subprotocol spoken by Foxglove bridges.
const Subprotocol = "foxglove.websocket.v1"

// Server → client operation names handled by the client.
const (
	opServerInfo  = "serverInfo"
	opAdvertise   = "advertise"
	opUnadvertise = "unadvertise"
	opStatus      = "status"
)

// Status levels carried by a status frame.
const (
	statusWarning = 1
	statusError   = 2
)

// envelope is decoded first to dispatch on op.
type envelope struct {
	Op string `json:"op"`
}

type serverInfoMsg struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	SessionID    string   `json:"sessionId,omitempty"`
}

// Channel is one advertised topic channel.
type Channel struct {
	ID             uint64 `json:"id"`
	Topic          string `json:"topic"`
	Encoding       string `json:"encoding"`
	SchemaName     string `json:"schemaName"`
	Schema         string `json:"schema"`
	SchemaEncoding string `json:"schemaEncoding,omitempty"`
}

type advertiseMsg struct {
	Channels []Channel `json:"channels"`
}

type unadvertiseMsg struct {
	ChannelIDs []uint64 `json:"channelIds"`
}

type statusMsg struct {
	Level   int    `json:"level"`
	Message string `json:"message"`
}
