// Package normalize turns raw channel input (typed text, button payloads,
// underscore shorthands) into one canonical command form.
package normalize

import (
	"strings"

	"github.com/775kkk/logic-signal-protector-sub000/internal/paging"
)

// Prefix starts every canonical command.
const Prefix = "/"

// maxArgs is the number of positional arguments after the keyword. The last
// one captures the unsplit remainder of the input.
const maxArgs = 3

// callbackCommandPrefix marks a button payload that expands to a command.
const callbackCommandPrefix = "cmd:"

// Kind classifies a normalized input.
type Kind int

const (
	KindEmpty Kind = iota
	KindCommand
	KindPagination
	KindFreeText
	KindUnknownCallback
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindCommand:
		return "command"
	case KindPagination:
		return "pagination"
	case KindFreeText:
		return "free-text"
	case KindUnknownCallback:
		return "unknown-callback"
	}
	return "unknown"
}

// Result is the outcome of normalizing one input.
type Result struct {
	Kind         Kind
	Canonical    string   // "/keyword arg1 arg2 rest" for KindCommand
	Keyword      string   // lower-cased, without prefix, aliases resolved
	Args         []string // at most maxArgs
	Rest         string   // everything after the keyword, trimmed but otherwise verbatim
	Token        paging.Token
	Text         string // trimmed input for KindFreeText / KindUnknownCallback
	FromCallback bool
}

// Arg returns the i-th positional argument or "".
func (r Result) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

// DefaultAliases maps alternate and localized spellings to keywords.
var DefaultAliases = map[string]string{
	"?":           "help",
	"помощь":      "help",
	"справка":     "help",
	"меню":        "menu",
	"вход":        "login",
	"войти":       "login",
	"регистрация": "register",
	"выход":       "logout",
	"рынок":       "market",
	"я":           "me",
}

// DefaultReserved lists underscore keywords that are commands in their own
// right and must not be split.
var DefaultReserved = []string{"db_menu"}

// Normalizer converts raw input. It is immutable and safe for concurrent use.
type Normalizer struct {
	aliases  map[string]string
	reserved map[string]bool
}

// Opts holds parameters for creating a Normalizer.
type Opts struct {
	Aliases  map[string]string // merged over DefaultAliases
	Reserved []string          // merged with DefaultReserved
}

// New creates a Normalizer.
func New(opts Opts) *Normalizer {
	n := &Normalizer{
		aliases:  make(map[string]string, len(DefaultAliases)+len(opts.Aliases)),
		reserved: make(map[string]bool),
	}
	for k, v := range DefaultAliases {
		n.aliases[k] = v
	}
	for k, v := range opts.Aliases {
		n.aliases[strings.ToLower(k)] = strings.ToLower(strings.TrimPrefix(v, Prefix))
	}
	for _, r := range DefaultReserved {
		n.reserved[r] = true
	}
	for _, r := range opts.Reserved {
		n.reserved[strings.ToLower(strings.TrimPrefix(r, Prefix))] = true
	}
	return n
}

// Normalize classifies text or callbackData. A non-blank callback payload
// takes precedence over text.
func (n *Normalizer) Normalize(text, callbackData string) Result {
	if cb := strings.TrimSpace(callbackData); cb != "" {
		return n.normalizeCallback(cb)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Kind: KindEmpty}
	}
	if !strings.HasPrefix(text, Prefix) {
		return Result{Kind: KindFreeText, Text: text}
	}
	return n.parseCommand(text)
}

func (n *Normalizer) normalizeCallback(cb string) Result {
	if tok, ok := paging.DecodeKnown(cb); ok {
		return Result{Kind: KindPagination, Token: tok, FromCallback: true}
	}
	if strings.HasPrefix(cb, callbackCommandPrefix) {
		parts := strings.Split(strings.TrimPrefix(cb, callbackCommandPrefix), ":")
		if parts[0] == "" {
			return Result{Kind: KindUnknownCallback, Text: cb, FromCallback: true}
		}
		r := n.parseCommand(Prefix + strings.Join(parts, " "))
		r.FromCallback = true
		return r
	}
	if strings.HasPrefix(cb, Prefix) {
		r := n.parseCommand(cb)
		r.FromCallback = true
		return r
	}
	return Result{Kind: KindUnknownCallback, Text: cb, FromCallback: true}
}

func (n *Normalizer) parseCommand(text string) Result {
	body := strings.TrimSpace(strings.TrimPrefix(text, Prefix))
	head, rest := splitFirst(body)
	if head == "" {
		return Result{Kind: KindEmpty}
	}

	// "/help@some_bot" addresses a specific bot in group chats.
	if at := strings.IndexByte(head, '@'); at > 0 {
		head = head[:at]
	}
	head = strings.ToLower(head)

	if !n.reserved[head] {
		if verb, sub, ok := strings.Cut(head, "_"); ok && verb != "" && sub != "" {
			head = verb
			rest = strings.TrimSpace(sub + " " + rest)
		}
	}
	if canon, ok := n.aliases[head]; ok {
		head = canon
	}

	args := tokenize(rest)
	canonical := Prefix + head
	if len(args) > 0 {
		canonical += " " + strings.Join(args, " ")
	}
	return Result{
		Kind:      KindCommand,
		Canonical: canonical,
		Keyword:   head,
		Args:      args,
		Rest:      rest,
	}
}

// tokenize splits s into at most maxArgs arguments; the last keeps the
// remainder unsplit.
func tokenize(s string) []string {
	var args []string
	for len(args) < maxArgs-1 {
		var tok string
		tok, s = splitFirst(s)
		if tok == "" {
			return args
		}
		args = append(args, tok)
	}
	if s = strings.TrimSpace(s); s != "" {
		args = append(args, s)
	}
	return args
}

// splitFirst returns the first whitespace-delimited token and the trimmed
// remainder.
func splitFirst(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, isSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
