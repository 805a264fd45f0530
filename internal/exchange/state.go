package exchange

import "time"

// ConnStatus describes where the adapter currently is in its connection
// lifecycle.
type ConnStatus string

const (
	StatusDisconnected ConnStatus = "DISCONNECTED"
	StatusConnecting   ConnStatus = "CONNECTING"
	StatusStreaming    ConnStatus = "STREAMING"
	StatusSilent       ConnStatus = "SILENT"
	StatusReconnecting ConnStatus = "RECONNECTING"
)

// ConnectionState is a read-only snapshot of feed connectivity, exposed to
// the session controller for observability only.
type ConnectionState struct {
	Status              ConnStatus
	LastTickAt          time.Time
	ConsecutiveFailures int
	BackoffSeconds      float64
}
