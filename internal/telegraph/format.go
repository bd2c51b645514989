package telegraph

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/775kkk/logic-signal-protector-sub000/internal/router"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "info":
		return ColorInfo
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// errorSeverity returns the severity an error code is displayed with.
// Session and input problems are the caller's to fix; the rest are errors.
func errorSeverity(code string) string {
	switch code {
	case router.CodeSessionExpired, router.CodeValidation, router.CodeEmpty,
		router.CodeUnknownCommand, router.CodeUnknownCallback:
		return "warning"
	default:
		return "error"
	}
}

// Render converts a router response into a chat message. Error blocks become
// colored events, action blocks become buttons and everything else is
// rendered as plain text.
func Render(resp router.Response) OutboundMessage {
	var (
		msg   OutboundMessage
		parts []string
	)
	for _, b := range resp.Blocks {
		switch b.Type {
		case router.BlockError:
			msg.Events = append(msg.Events, FormatError(b))
		case router.BlockActions:
			for _, a := range b.Actions {
				msg.Buttons = append(msg.Buttons, Button{ID: a.ID, Label: a.Title, Data: a.Payload})
			}
		default:
			if s := renderBlock(b); s != "" {
				parts = append(parts, s)
			}
		}
	}
	msg.Text = strings.Join(parts, "\n\n")
	if msg.Text == "" && len(msg.Events) > 0 {
		msg.Text = msg.Events[0].Title
	}
	return msg
}

// FormatError formats an Error block as an event.
func FormatError(b router.Block) FormattedEvent {
	if b.Error == nil {
		return FormattedEvent{Title: "Error", Severity: "error", Color: ColorError}
	}
	severity := errorSeverity(b.Error.Code)
	evt := FormattedEvent{
		Title:    b.Error.Message,
		Body:     b.Error.Hint,
		Severity: severity,
		Color:    severityColor(severity),
		Fields:   []Field{{Name: "Code", Value: b.Error.Code, Short: true}},
	}
	for _, k := range sortedKeys(b.Error.Details) {
		evt.Fields = append(evt.Fields, Field{Name: k, Value: b.Error.Details[k], Short: true})
	}
	return evt
}

// PlainText renders every block of resp as text. Buttons are listed as
// numbered choices in the order they appear.
func PlainText(resp router.Response) string {
	var parts []string
	n := 0
	for _, b := range resp.Blocks {
		switch b.Type {
		case router.BlockError:
			if b.Error == nil {
				continue
			}
			s := fmt.Sprintf("! %s: %s", b.Error.Code, b.Error.Message)
			if b.Error.Hint != "" {
				s += "\n  " + b.Error.Hint
			}
			parts = append(parts, s)
		case router.BlockActions:
			var buttons []string
			for _, a := range b.Actions {
				n++
				buttons = append(buttons, fmt.Sprintf("[%d] %s", n, a.Title))
			}
			if len(buttons) > 0 {
				parts = append(parts, strings.Join(buttons, "  "))
			}
		default:
			if s := renderBlock(b); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

// Buttons returns the payloads of all buttons in resp in display order.
func Buttons(resp router.Response) []string {
	var out []string
	for _, b := range resp.Blocks {
		for _, a := range b.Actions {
			out = append(out, a.Payload)
		}
	}
	return out
}

func renderBlock(b router.Block) string {
	switch b.Type {
	case router.BlockText:
		return b.Text
	case router.BlockNotice:
		return "> " + b.Text
	case router.BlockList:
		lines := make([]string, len(b.Items))
		for i, it := range b.Items {
			lines[i] = "• " + it
		}
		return strings.Join(lines, "\n")
	case router.BlockTable:
		return renderTable(b.Columns, b.Rows)
	case router.BlockSections:
		var out []string
		for _, s := range b.Sections {
			var lines []string
			if s.Title != "" {
				lines = append(lines, "*"+s.Title+"*")
			}
			if s.Description != "" {
				lines = append(lines, s.Description)
			}
			for _, it := range s.Items {
				lines = append(lines, "  "+it)
			}
			out = append(out, strings.Join(lines, "\n"))
		}
		return strings.Join(out, "\n\n")
	}
	return ""
}

func renderTable(cols []string, rows [][]string) string {
	if len(cols) == 0 {
		return ""
	}
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
	return "```\n" + strings.TrimRight(sb.String(), "\n") + "\n```"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
