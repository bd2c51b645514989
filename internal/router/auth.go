package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/775kkk/logic-signal-protector-sub000/internal/identity"
	"github.com/775kkk/logic-signal-protector-sub000/internal/session"
)

// credentialFlow describes one credential-capture command.
type credentialFlow struct {
	state   session.State
	command string
	prompt  string
	call    func(ctx context.Context, provider, externalUserID, login, password string) (identity.TokenEnvelope, error)
	success string
}

func (r *Router) loginFlow() credentialFlow {
	return credentialFlow{
		state:   session.StateAwaitCredentialsLogin,
		command: "/login",
		prompt:  "Send your login and password separated by a space.",
		call:    r.identity.Login,
		success: "Signed in as %s. This chat is now linked to your account.",
	}
}

func (r *Router) registerFlow() credentialFlow {
	return credentialFlow{
		state:   session.StateAwaitCredentialsRegister,
		command: "/register",
		prompt:  "Choose a login and a password (at least 6 characters) and send them separated by a space.",
		call:    r.identity.Register,
		success: "Account %s created. This chat is now linked to it.",
	}
}

func (r *Router) flowFor(state session.State) (credentialFlow, bool) {
	switch state {
	case session.StateAwaitCredentialsLogin:
		return r.loginFlow(), true
	case session.StateAwaitCredentialsRegister:
		return r.registerFlow(), true
	}
	return credentialFlow{}, false
}

func (r *Router) handleLogin(ctx context.Context, req *request) []Block {
	return r.startCredentials(ctx, req, r.loginFlow())
}

func (r *Router) handleRegister(ctx context.Context, req *request) []Block {
	return r.startCredentials(ctx, req, r.registerFlow())
}

// startCredentials runs the flow with inline arguments, or arms the
// credential-capture state and prompts when none were given.
func (r *Router) startCredentials(ctx context.Context, req *request, flow credentialFlow) []Block {
	if len(req.input.Args) == 0 {
		r.sessions.Set(req.key.String(), flow.state, "", r.credentialTTL)
		req.hint(HintAwaiting, "credentials")
		return []Block{NoticeBlock(flow.prompt)}
	}
	req.hint(HintDeleteMessage, "true")
	login, password, ok := splitCredentials(strings.Join(req.input.Args, " "))
	if !ok {
		return []Block{ErrorBlock(CodeValidation, "Expected a login and a password.",
			fmt.Sprintf("Usage: %s <login> <password>", flow.command))}
	}
	blocks, _ := r.submitCredentials(ctx, req, flow, login, password)
	return blocks
}

// captureCredentials treats free text as the awaited credential payload.
// Success clears the state; failure re-arms it so the user can retry.
func (r *Router) captureCredentials(ctx context.Context, req *request, state session.State) []Block {
	flow, ok := r.flowFor(state)
	if !ok {
		r.sessions.Clear(req.key.String())
		return []Block{ErrorBlock(CodeUnknownCommand, "I only understand commands.", "Send /help to see available commands.")}
	}
	req.hint(HintDeleteMessage, "true")

	login, password, ok := splitCredentials(req.input.Text)
	if !ok {
		r.rearm(req, flow)
		return []Block{ErrorBlock(CodeValidation, "Expected a login and a password separated by a space.", flow.prompt)}
	}
	blocks, ok := r.submitCredentials(ctx, req, flow, login, password)
	if ok {
		r.sessions.Clear(req.key.String())
	} else {
		r.rearm(req, flow)
	}
	return blocks
}

func (r *Router) rearm(req *request, flow credentialFlow) {
	r.sessions.Set(req.key.String(), flow.state, "", r.credentialTTL)
	req.hint(HintAwaiting, "credentials")
}

// submitCredentials calls the identity collaborator and reports whether the
// flow succeeded.
func (r *Router) submitCredentials(ctx context.Context, req *request, flow credentialFlow, login, password string) ([]Block, bool) {
	cctx, cancel := r.call(ctx)
	defer cancel()
	env, err := flow.call(cctx, r.provider(req), req.env.ExternalUserID, login, password)
	switch {
	case err == nil:
		return []Block{NoticeBlock(fmt.Sprintf(flow.success, env.Login))}, true
	case errors.Is(err, identity.ErrInvalidCredentials):
		return []Block{ErrorBlock(CodeValidation, "Invalid login or password.", "Check your credentials and try again.")}, false
	case errors.Is(err, identity.ErrLoginTaken):
		return []Block{ErrorBlock(CodeValidation, fmt.Sprintf("Login %s is already taken.", login), "Choose another login.")}, false
	case errors.Is(err, identity.ErrInvalidInput):
		return []Block{ErrorBlock(CodeValidation, strings.TrimPrefix(err.Error(), "identity: "), flow.prompt)}, false
	default:
		return []Block{r.upstreamError("identity", err)}, false
	}
}

// splitCredentials expects exactly "login password".
func splitCredentials(s string) (login, password string, ok bool) {
	f := strings.Fields(s)
	if len(f) != 2 {
		return "", "", false
	}
	return f[0], f[1], true
}

func (r *Router) handleLogout(ctx context.Context, req *request) []Block {
	cctx, cancel := r.call(ctx)
	defer cancel()
	err := r.identity.Unlink(cctx, r.provider(req), req.env.ExternalUserID)
	if err != nil && !errors.Is(err, identity.ErrNotLinked) {
		return []Block{r.upstreamError("identity", err)}
	}
	for _, k := range []string{
		req.key.String(),
		req.key.WithSuffix(session.SuffixDB),
		req.key.WithSuffix(session.SuffixMarket),
		req.key.WithSuffix(session.SuffixHelp),
	} {
		r.sessions.Clear(k)
	}
	if errors.Is(err, identity.ErrNotLinked) {
		return []Block{NoticeBlock("This chat is not linked to an account.")}
	}
	return []Block{NoticeBlock("Signed out. This chat is no longer linked.")}
}

func (r *Router) handleMe(ctx context.Context, req *request) []Block {
	if req.linkErr != nil {
		return []Block{r.upstreamError("identity", req.linkErr)}
	}
	if !req.link.Linked {
		return []Block{ErrorBlock(CodeNotLinked, "This chat is not linked to an account.", "Use /login or /register first.")}
	}
	return []Block{SectionsBlock(
		Section{Title: "Account", Items: []string{"Login: " + req.link.Login, "User ID: " + req.link.UserID}},
		Section{Title: "Roles", Items: orNone(req.link.Roles)},
		Section{Title: "Permissions", Items: orNone(req.link.Perms)},
	)}
}

func orNone(items []string) []string {
	if len(items) == 0 {
		return []string{"(none)"}
	}
	return items
}
