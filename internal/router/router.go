// Package router is the stateful command-routing engine. It normalizes
// inbound envelopes, tracks per-conversation session state, gates commands
// on the caller's effective permissions, dispatches to handlers and
// assembles channel-neutral response blocks.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/775kkk/logic-signal-protector-sub000/internal/catalog"
	"github.com/775kkk/logic-signal-protector-sub000/internal/console"
	"github.com/775kkk/logic-signal-protector-sub000/internal/identity"
	"github.com/775kkk/logic-signal-protector-sub000/internal/market"
	"github.com/775kkk/logic-signal-protector-sub000/internal/normalize"
	"github.com/775kkk/logic-signal-protector-sub000/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Defaults applied by New.
const (
	DefaultTimeout       = 10 * time.Second
	DefaultPageSize      = 10
	DefaultMaxRows       = 200
	DefaultDisplayRows   = 20
	DefaultDisplayCols   = 6
	DefaultBoard         = "TQBR"
	DefaultCredentialTTL = 5 * time.Minute
)

// SwitchAdmin persists feature switches for the /switch command.
type SwitchAdmin interface {
	ListSwitches(ctx context.Context) ([]catalog.Switch, error)
	SetSwitch(ctx context.Context, code string, enabled bool, updatedBy, note string) error
}

// Router routes envelopes. It is safe for concurrent use; conversations are
// independent and no router-wide lock is held.
type Router struct {
	catalog       *catalog.Catalog
	switches      catalog.Switches
	switchAdmin   SwitchAdmin
	sessions      *session.Store
	normalizer    *normalize.Normalizer
	identity      identity.Service
	market        market.Provider
	console       console.Executor
	providerCode  string
	devMode       bool
	timeout       time.Duration
	credentialTTL time.Duration
	pageSize      int
	maxRows       int
	displayRows   int
	displayCols   int
	defaultBoard  string
	newSessionID  func() string
	log           *zap.Logger

	handlers map[string]handlerFunc
}

// Opts holds parameters for creating a Router.
type Opts struct {
	Identity identity.Service // required

	Catalog     *catalog.Catalog      // defaults to catalog.Default()
	Switches    catalog.Switches      // nil: every command enabled
	SwitchAdmin SwitchAdmin           // nil: /switch reports it is unavailable
	Sessions    *session.Store        // defaults to a store with session.DefaultTTL
	Normalizer  *normalize.Normalizer // defaults to normalize.New with built-in aliases
	Market      market.Provider       // nil: /market reports it is unavailable
	Console     console.Executor      // nil: /db reports it is unavailable

	ProviderCode  string        // identity provider code; defaults to the envelope channel
	DevMode       bool          // enables dev-only commands
	Timeout       time.Duration // per collaborator call
	CredentialTTL time.Duration // lifetime of a pending credential prompt
	PageSize      int           // help and instrument page size
	MaxRows       int           // SQL rows fetched per query
	DisplayRows   int           // SQL rows per page
	DisplayCols   int           // SQL columns per window
	DefaultBoard  string        // market board when none is given
	NewSessionID  func() string // defaults to uuid.NewString
	Logger        *zap.Logger
}

// New creates a Router.
func New(opts Opts) (*Router, error) {
	if opts.Identity == nil {
		return nil, fmt.Errorf("router: identity service is required")
	}
	r := &Router{
		catalog:       opts.Catalog,
		switches:      opts.Switches,
		switchAdmin:   opts.SwitchAdmin,
		sessions:      opts.Sessions,
		normalizer:    opts.Normalizer,
		identity:      opts.Identity,
		market:        opts.Market,
		console:       opts.Console,
		providerCode:  opts.ProviderCode,
		devMode:       opts.DevMode,
		timeout:       opts.Timeout,
		credentialTTL: opts.CredentialTTL,
		pageSize:      opts.PageSize,
		maxRows:       opts.MaxRows,
		displayRows:   opts.DisplayRows,
		displayCols:   opts.DisplayCols,
		defaultBoard:  opts.DefaultBoard,
		newSessionID:  opts.NewSessionID,
		log:           opts.Logger,
	}
	if r.catalog == nil {
		r.catalog = catalog.Default()
	}
	if r.sessions == nil {
		r.sessions = session.New(session.Opts{})
	}
	if r.normalizer == nil {
		r.normalizer = normalize.New(normalize.Opts{})
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.credentialTTL <= 0 {
		r.credentialTTL = DefaultCredentialTTL
	}
	if r.pageSize <= 0 {
		r.pageSize = DefaultPageSize
	}
	if r.maxRows <= 0 {
		r.maxRows = DefaultMaxRows
	}
	if r.displayRows <= 0 {
		r.displayRows = DefaultDisplayRows
	}
	if r.displayCols <= 0 {
		r.displayCols = DefaultDisplayCols
	}
	if r.defaultBoard == "" {
		r.defaultBoard = DefaultBoard
	}
	if r.newSessionID == nil {
		r.newSessionID = uuid.NewString
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	r.handlers = map[string]handlerFunc{
		catalog.CodeStart:    r.handleStart,
		catalog.CodeHelp:     r.handleHelp,
		catalog.CodeMenu:     r.handleMenu,
		catalog.CodeLogin:    r.handleLogin,
		catalog.CodeRegister: r.handleRegister,
		catalog.CodeLogout:   r.handleLogout,
		catalog.CodeMe:       r.handleMe,
		catalog.CodeDB:       r.handleDB,
		catalog.CodeDBMenu:   r.handleDBMenu,
		catalog.CodeMarket:   r.handleMarket,
		catalog.CodeSwitch:   r.handleSwitch,
	}
	return r, nil
}

// Catalog returns the command catalog the router dispatches against.
func (r *Router) Catalog() *catalog.Catalog { return r.catalog }

// Sessions returns the router's session store.
func (r *Router) Sessions() *session.Store { return r.sessions }

// PublicCommands returns the commands an unlinked caller would see in help.
func (r *Router) PublicCommands(ctx context.Context) []catalog.Definition {
	return r.visible(ctx, catalog.Access{DevMode: r.devMode})
}

// visible lists the commands acc may see. The switch source is a
// collaborator, so the read is bounded by the collaborator timeout.
func (r *Router) visible(ctx context.Context, acc catalog.Access) []catalog.Definition {
	cctx, cancel := r.call(ctx)
	defer cancel()
	return r.catalog.Visible(cctx, r.switches, acc)
}

// handlerFunc runs one command and returns its blocks.
type handlerFunc func(ctx context.Context, req *request) []Block

// request is the per-envelope routing context.
type request struct {
	env       Envelope
	key       session.ConversationKey
	sessionID string
	input     normalize.Result
	def       catalog.Definition

	link    identity.Link
	linkErr error
	access  catalog.Access

	hints map[string]string
}

func (q *request) hint(k, v string) {
	if q.hints == nil {
		q.hints = make(map[string]string)
	}
	q.hints[k] = v
}

// Route handles one envelope. Routing paths:
//  1. Missing actor → ErrMissingActor (contract violation)
//  2. Blank input → EMPTY
//  3. Pagination token → replay from the cached state of its kind
//  4. Free text while awaiting credentials → credential capture
//  5. Command → gate, then dispatch to its handler
//  6. Everything else → UNKNOWN_COMMAND / UNKNOWN_CALLBACK
//
// User-facing failures are always returned as Error blocks inside a
// well-formed Response.
func (r *Router) Route(ctx context.Context, env Envelope) (Response, error) {
	if env.Channel == "" || env.ExternalUserID == "" {
		return Response{}, ErrMissingActor
	}
	chatID := env.ChatID
	if chatID == "" {
		chatID = env.ExternalUserID
	}
	req := &request{
		env:   env,
		key:   session.ConversationKey{Channel: env.Channel, ExternalUserID: env.ExternalUserID, ChatID: chatID},
		input: r.normalizer.Normalize(env.Text, env.CallbackData),
	}
	req.sessionID = env.SessionID
	if req.input.Kind == normalize.KindPagination {
		req.sessionID = req.input.Token.SessionID
	}
	if req.sessionID == "" {
		req.sessionID = r.newSessionID()
	}

	blocks := r.route(ctx, req)

	r.log.Debug("routed envelope",
		zap.String("channel", env.Channel),
		zap.String("chat", chatID),
		zap.String("kind", req.input.Kind.String()),
		zap.String("keyword", req.input.Keyword),
		zap.String("session_id", req.sessionID),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("error_code", firstErrorCode(blocks)),
	)
	return Response{
		Blocks:        blocks,
		CorrelationID: env.CorrelationID,
		SessionID:     req.sessionID,
		Locale:        env.Locale,
		UIHints:       req.hints,
	}, nil
}

func (r *Router) route(ctx context.Context, req *request) []Block {
	switch req.input.Kind {
	case normalize.KindEmpty:
		return []Block{ErrorBlock(CodeEmpty, "Empty message.", "Send /help to see available commands.")}
	case normalize.KindUnknownCallback:
		return []Block{ErrorBlock(CodeUnknownCallback, "This button is no longer supported.", "Send /menu to get fresh buttons.")}
	case normalize.KindPagination:
		r.resolve(ctx, req)
		return r.handlePage(ctx, req)
	case normalize.KindFreeText:
		if e, ok := r.sessions.Get(req.key.String()); ok && e.State.AwaitingCredentials() {
			return r.captureCredentials(ctx, req, e.State)
		}
		return []Block{ErrorBlock(CodeUnknownCommand, "I only understand commands.", "Send /help to see available commands.")}
	case normalize.KindCommand:
		return r.dispatch(ctx, req)
	default:
		return []Block{ErrorBlock(CodeUnknownCommand, "Unsupported input.", "Send /help to see available commands.")}
	}
}

// dispatch gates and runs a command.
func (r *Router) dispatch(ctx context.Context, req *request) []Block {
	def, ok := r.catalog.ByKeyword(req.input.Keyword)
	if !ok {
		return []Block{ErrorBlock(CodeUnknownCommand,
			fmt.Sprintf("Unknown command /%s.", req.input.Keyword), "Send /help to see available commands.")}
	}
	req.def = def

	// Any command abandons a pending credential prompt.
	if e, ok := r.sessions.Get(req.key.String()); ok && e.State.AwaitingCredentials() {
		r.sessions.Clear(req.key.String())
	}

	r.resolve(ctx, req)
	if def.HasRequirements() && req.linkErr != nil {
		return []Block{r.upstreamError("identity", req.linkErr)}
	}
	if blocks := r.gate(ctx, req); blocks != nil {
		return blocks
	}

	h, ok := r.handlers[def.Code]
	if !ok {
		return []Block{ErrorBlock(CodeUnknownCommand,
			fmt.Sprintf("Command /%s has no handler.", def.Keyword), "Send /help to see available commands.")}
	}
	return h(ctx, req)
}

// gate returns an Error block when req.def may not run, or nil.
func (r *Router) gate(ctx context.Context, req *request) []Block {
	cctx, cancel := r.call(ctx)
	decision := r.catalog.Invocable(cctx, req.def, r.switches, req.access)
	cancel()
	switch decision {
	case catalog.DecisionAllowed:
		return nil
	case catalog.DecisionDisabled:
		return []Block{ErrorBlock(CodeForbidden,
			fmt.Sprintf("/%s is temporarily disabled.", req.def.Keyword), "Try again later.")}
	case catalog.DecisionNotLinked:
		return []Block{ErrorBlock(CodeNotLinked,
			"This command requires a linked account.", "Use /login or /register first.")}
	default:
		return []Block{ErrorBlock(CodeForbidden,
			fmt.Sprintf("You are not allowed to use /%s.", req.def.Keyword), "")}
	}
}

// resolve loads the caller's identity link once per request. A failure
// leaves the caller unlinked and is recorded in req.linkErr.
func (r *Router) resolve(ctx context.Context, req *request) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	link, err := r.identity.Resolve(cctx, r.provider(req), req.env.ExternalUserID)
	if err != nil {
		r.log.Warn("identity resolve failed",
			zap.String("channel", req.env.Channel),
			zap.String("user", req.env.ExternalUserID),
			zap.Error(err))
		req.linkErr = err
		link = identity.Link{}
	}
	req.link = link
	req.access = catalog.Access{
		Perms:   catalog.NewPermSet(link.Perms...),
		Linked:  link.Linked,
		DevMode: r.devMode,
	}
}

func (r *Router) provider(req *request) string {
	if r.providerCode != "" {
		return r.providerCode
	}
	return req.env.Channel
}

// call returns a context bounded by the collaborator timeout.
func (r *Router) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// upstreamError converts a collaborator failure into an Error block.
func (r *Router) upstreamError(collaborator string, err error) Block {
	r.log.Warn("collaborator call failed", zap.String("collaborator", collaborator), zap.Error(err))
	msg := fmt.Sprintf("The %s service is unavailable.", collaborator)
	if errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("The %s service did not respond in time.", collaborator)
	}
	b := ErrorBlock(CodeUpstreamFailure, msg, "Try again in a moment.")
	b.Error.Details = map[string]string{"collaborator": collaborator}
	return b
}

func sessionExpired(restart string) Block {
	return ErrorBlock(CodeSessionExpired, "This view has expired.", "Run "+restart+" again.")
}

func firstErrorCode(blocks []Block) string {
	return Response{Blocks: blocks}.ErrorCode()
}
