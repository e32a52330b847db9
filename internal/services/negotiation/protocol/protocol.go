// Package protocol defines the wire contract of the negotiation realtime
// surface: frame envelope, event names, and payload shapes shared by the
// server and the client synchronization layer.
//
// Every frame is one JSON object {"type", "request_id", "payload"}. The
// server is the sole authority for message identity and ordering; clients
// never invent final message ids.
package protocol

import (
	"encoding/json"
	"time"
)

// Server-pushed event types.
const (
	EventRoomState         = "negotiation.room_state"
	EventCustomerJoined    = "negotiation.customer_joined"
	EventNewMessage        = "negotiation.new_message"
	EventMessageTranslated = "negotiation.message_translated"
	EventMessagesRead      = "negotiation.messages_read"
	EventUserTyping        = "negotiation.user_typing"
	EventSessionUpdate     = "negotiation.session_update"
	EventLanguageChanged   = "negotiation.language_changed"
	EventUserDisconnected  = "negotiation.user_disconnected"
	EventServerShutdown    = "negotiation.server_shutdown"
	EventError             = "negotiation.error"
)

// Client intent types.
const (
	IntentJoin        = "negotiation.join"
	IntentMessage     = "negotiation.message"
	IntentTypingStart = "negotiation.typing_start"
	IntentTypingStop  = "negotiation.typing_stop"
	IntentRead        = "negotiation.read"
	IntentLanguage    = "negotiation.language"
)

// Frame is the envelope for every event in either direction.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Role identifies which side of the negotiation a user is on.
type Role string

const (
	RoleVendor   Role = "VENDOR"
	RoleCustomer Role = "CUSTOMER"
)

// SessionStatus tracks the negotiation lifecycle.
type SessionStatus string

const (
	SessionPending SessionStatus = "PENDING"
	SessionActive  SessionStatus = "ACTIVE"
	SessionClosed  SessionStatus = "CLOSED"
)

// MessageType distinguishes typed text from recorded voice notes.
type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageVoice MessageType = "VOICE"
)

// TranslationStatus tracks the asynchronous translation of a message.
type TranslationStatus string

const (
	TranslationPending   TranslationStatus = "PENDING"
	TranslationCompleted TranslationStatus = "COMPLETED"
	TranslationFailed    TranslationStatus = "FAILED"
)

// Session is one negotiation between exactly two parties. CustomerID and
// CustomerLanguage are empty until the customer joins, at which point the
// status moves PENDING to ACTIVE exactly once.
type Session struct {
	SessionID        string        `json:"session_id"`
	VendorID         string        `json:"vendor_id"`
	CustomerID       string        `json:"customer_id,omitempty"`
	VendorLanguage   string        `json:"vendor_language"`
	CustomerLanguage string        `json:"customer_language,omitempty"`
	Status           SessionStatus `json:"status"`
}

// Message is one unit of communicated content. Content equals
// OriginalContent until a translation lands; Timestamp is the origin clock
// and the sole sort key for the message log.
type Message struct {
	ID                string            `json:"id"`
	SessionID         string            `json:"session_id"`
	SenderID          string            `json:"sender_id"`
	SenderType        Role              `json:"sender_type"`
	Type              MessageType       `json:"type"`
	SourceLanguage    string            `json:"source_language"`
	TargetLanguage    string            `json:"target_language"`
	OriginalContent   string            `json:"original_content"`
	Content           string            `json:"content"`
	TranslationStatus TranslationStatus `json:"translation_status"`
	Timestamp         time.Time         `json:"timestamp"`
	ReadAt            *time.Time        `json:"read_at,omitempty"`
	Audio             string            `json:"audio,omitempty"`
	ClientMessageID   string            `json:"client_message_id,omitempty"`
}

// RoomState is the full-resync payload delivered on join and rejoin.
type RoomState struct {
	Room     Session   `json:"room"`
	Messages []Message `json:"messages"`
}

// CustomerJoined announces the second party entering the negotiation.
type CustomerJoined struct {
	CustomerID       string `json:"customer_id"`
	CustomerLanguage string `json:"customer_language"`
}

// MessageEnvelope wraps a single message for new_message and
// message_translated events.
type MessageEnvelope struct {
	Message Message `json:"message"`
}

// MessagesRead lists messages a user has read.
type MessagesRead struct {
	UserID     string    `json:"user_id"`
	MessageIDs []string  `json:"message_ids"`
	Timestamp  time.Time `json:"timestamp"`
}

// UserTyping flags a typing edge transition for one user.
type UserTyping struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// SessionUpdate carries a partial session patch. Nil fields are left
// untouched by the receiver (shallow merge).
type SessionUpdate struct {
	Status           *SessionStatus `json:"status,omitempty"`
	VendorLanguage   *string        `json:"vendor_language,omitempty"`
	CustomerLanguage *string        `json:"customer_language,omitempty"`
}

// LanguageChanged announces a party switching display language mid-session.
type LanguageChanged struct {
	UserID      string `json:"user_id"`
	NewLanguage string `json:"new_language"`
}

// UserDisconnected announces presence loss. It carries no session status
// change: a dropped socket is not a session end.
type UserDisconnected struct {
	UserID string `json:"user_id"`
}

// ServerShutdown is the terminal, non-retryable notice sent to every peer
// when the service stops.
type ServerShutdown struct {
	Message string `json:"message"`
}

// Join is the intent to enter (or re-enter) a negotiation room.
type Join struct {
	SessionID string `json:"session_id"`
	Role      Role   `json:"role"`
	Language  string `json:"language"`
}

// Send is the intent to publish a message. For voice messages Audio must
// already be normalized to a transport-safe base64 encoding by the caller.
type Send struct {
	ClientMessageID string      `json:"client_message_id"`
	Content         string      `json:"content"`
	Type            MessageType `json:"type"`
	Language        string      `json:"language"`
	Audio           string      `json:"audio,omitempty"`
}

// Read is the intent reporting locally read messages.
type Read struct {
	MessageIDs []string `json:"message_ids"`
}

// Language is the intent to change the caller's display language.
type Language struct {
	Language string `json:"language"`
}

// ErrorPayload is the body of a negotiation.error frame.
type ErrorPayload struct {
	Error Error `json:"error"`
}

// Error is a machine-readable protocol error.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Protocol error codes.
const (
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeForbidden          = "FORBIDDEN"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeFailedPrecondition = "FAILED_PRECONDITION"
	CodeResourceExhausted  = "RESOURCE_EXHAUSTED"
	CodeUnavailable        = "UNAVAILABLE"
)
