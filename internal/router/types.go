package router

import "errors"

// ErrMissingActor is returned by Route when the envelope carries no channel
// or external user id. It signals a caller contract violation, never a
// user-facing outcome.
var ErrMissingActor = errors.New("router: envelope has no channel or external user id")

// Error codes carried by Error blocks.
const (
	CodeValidation      = "VALIDATION"
	CodeForbidden       = "FORBIDDEN"
	CodeNotLinked       = "NOT_LINKED"
	CodeSessionExpired  = "SESSION_EXPIRED"
	CodeUpstreamFailure = "UPSTREAM_FAILURE"
	CodeUnknownCommand  = "UNKNOWN_COMMAND"
	CodeUnknownCallback = "UNKNOWN_CALLBACK"
	CodeEmpty           = "EMPTY"
)

// Envelope is one inbound chat event from a channel adapter. Exactly one of
// Text and CallbackData is expected to be meaningful.
type Envelope struct {
	Channel        string `json:"channel"`
	ExternalUserID string `json:"externalUserId"`
	ChatID         string `json:"chatId"`
	MessageID      string `json:"messageId,omitempty"`
	Text           string `json:"text,omitempty"`
	CallbackData   string `json:"callbackData,omitempty"`
	CorrelationID  string `json:"correlationId,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`
	Locale         string `json:"locale,omitempty"`
}

// Response is the channel-neutral outcome of routing one envelope.
type Response struct {
	Blocks        []Block           `json:"blocks"`
	CorrelationID string            `json:"correlationId,omitempty"`
	SessionID     string            `json:"sessionId"`
	Locale        string            `json:"locale,omitempty"`
	UIHints       map[string]string `json:"uiHints,omitempty"`
}

// ErrorCode returns the code of the first Error block, or "".
func (r Response) ErrorCode() string {
	for _, b := range r.Blocks {
		if b.Type == BlockError && b.Error != nil {
			return b.Error.Code
		}
	}
	return ""
}

// UI hints set on responses for channel adapters.
const (
	// HintAwaiting names the input the conversation is waiting for.
	HintAwaiting = "awaiting"
	// HintDeleteMessage asks the adapter to delete the inbound message
	// (it carried a password).
	HintDeleteMessage = "deleteMessage"
)

// BlockType tags the variant held by a Block.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockNotice   BlockType = "notice"
	BlockList     BlockType = "list"
	BlockTable    BlockType = "table"
	BlockSections BlockType = "sections"
	BlockActions  BlockType = "actions"
	BlockError    BlockType = "error"
)

// Block is one unit of structured output. Type selects which fields are set.
type Block struct {
	Type     BlockType  `json:"type"`
	Text     string     `json:"text,omitempty"`
	Items    []string   `json:"items,omitempty"`
	Columns  []string   `json:"columns,omitempty"`
	Rows     [][]string `json:"rows,omitempty"`
	Format   string     `json:"format,omitempty"`
	Sections []Section  `json:"sections,omitempty"`
	Actions  []Action   `json:"actions,omitempty"`
	Error    *ErrorInfo `json:"error,omitempty"`
}

// Section is one titled group inside a Sections block.
type Section struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Items       []string `json:"items"`
}

// Action is a button. Payload is sent back as the envelope's CallbackData.
type Action struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// ErrorInfo describes a user-facing failure.
type ErrorInfo struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Hint    string            `json:"hint,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// TextBlock returns a Text block.
func TextBlock(text string) Block { return Block{Type: BlockText, Text: text} }

// NoticeBlock returns a Notice block.
func NoticeBlock(text string) Block { return Block{Type: BlockNotice, Text: text} }

// ListBlock returns a List block.
func ListBlock(items ...string) Block { return Block{Type: BlockList, Items: items} }

// TableBlock returns a Table block.
func TableBlock(columns []string, rows [][]string) Block {
	return Block{Type: BlockTable, Columns: columns, Rows: rows, Format: "table"}
}

// SectionsBlock returns a Sections block.
func SectionsBlock(sections ...Section) Block { return Block{Type: BlockSections, Sections: sections} }

// ActionsBlock returns an Actions block.
func ActionsBlock(actions ...Action) Block { return Block{Type: BlockActions, Actions: actions} }

// ErrorBlock returns an Error block.
func ErrorBlock(code, message, hint string) Block {
	return Block{Type: BlockError, Error: &ErrorInfo{Code: code, Message: message, Hint: hint}}
}
