// Package telegraph bridges chat platforms (Slack, Discord, etc.) to the
// command router.
package telegraph

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management and message sending/receiving
// for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message or button press received from the
// chat platform.
type InboundMessage struct {
	Platform     string    // e.g. "slack", "discord"
	ChannelID    string    // platform-specific channel identifier
	ThreadID     string    // thread/conversation identifier (empty if top-level)
	UserID       string    // platform-specific user identifier
	UserName     string    // human-readable username
	MessageID    string    // id of the inbound message, used for deletion
	Text         string    // raw message text
	CallbackData string    // button payload; set instead of Text for presses
	Timestamp    time.Time // when the message was sent
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string           // target channel
	ThreadID  string           // thread to reply in (empty for new top-level message)
	Text      string           // message text (plain-text fallback)
	Events    []FormattedEvent // structured attachments
	Buttons   []Button         // interactive buttons
}

// FormattedEvent is a structured block formatted for display in chat.
type FormattedEvent struct {
	Title    string  // headline
	Body     string  // detail text
	Severity string  // "info", "warning", "error", "success"
	Color    string  // sidebar color hint (e.g. "#36a64f" for success)
	Fields   []Field // key-value metadata pairs
}

// Field is a key-value pair displayed in an event attachment.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// Button is one interactive button. Pressing it delivers Data back as
// InboundMessage.CallbackData.
type Button struct {
	ID    string
	Label string
	Data  string
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// MessageDeleter is an optional interface for adapters that can remove an
// inbound message, e.g. one that carried a password.
type MessageDeleter interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}
