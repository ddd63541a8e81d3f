package websocket

import "time"

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeMaskingSummary reports one completed masking transaction
	EventTypeMaskingSummary EventType = "masking_summary"
	// EventTypeIntegrityRejection reports a finalize refused by the verifier
	EventTypeIntegrityRejection EventType = "integrity_rejection"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// MaskingSummaryEvent carries the counters of one masking transaction.
// Field names and counts only: neither the original text nor the token
// values ever travel over this channel.
type MaskingSummaryEvent struct {
	RequestID    string   `json:"request_id"`
	GuardType    string   `json:"guard_type"`
	MaskedTokens int      `json:"masked_tokens"`
	Fields       []string `json:"fields,omitempty"`
	Warnings     int      `json:"warnings"`
	ProcessingMS float64  `json:"processing_ms"`
}

// IntegrityRejectionEvent reports a finalize attempt blocked before any
// external call because the edited text no longer carried its tokens
// intact.
type IntegrityRejectionEvent struct {
	RequestID     string `json:"request_id"`
	GuardType     string `json:"guard_type"`
	MissingTokens int    `json:"missing_tokens"`
	UnknownTokens int    `json:"unknown_tokens"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalRequests    int64  `json:"total_requests"`
	ActiveProfiles   int    `json:"active_profiles"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}
