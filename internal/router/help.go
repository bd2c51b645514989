package router

import (
	"context"
	"fmt"
	"strconv"

	"github.com/775kkk/logic-signal-protector-sub000/internal/catalog"
	"github.com/775kkk/logic-signal-protector-sub000/internal/paging"
	"github.com/775kkk/logic-signal-protector-sub000/internal/session"
)

func (r *Router) handleStart(ctx context.Context, req *request) []Block {
	greeting := "Welcome! Send /help to see what I can do."
	if req.link.Linked {
		greeting = fmt.Sprintf("Welcome back, %s! Send /help to see what I can do.", req.link.Login)
	}
	return []Block{TextBlock(greeting), r.menuActions(ctx, req)}
}

func (r *Router) handleMenu(ctx context.Context, req *request) []Block {
	return []Block{TextBlock("Main menu"), r.menuActions(ctx, req)}
}

// menuActions returns a button per visible command.
func (r *Router) menuActions(ctx context.Context, req *request) Block {
	var actions []Action
	for _, d := range r.visible(ctx, req.access) {
		if d.Code == catalog.CodeMenu {
			continue
		}
		if req.link.Linked && (d.Code == catalog.CodeLogin || d.Code == catalog.CodeRegister) {
			continue
		}
		if !req.link.Linked && (d.Code == catalog.CodeLogout || d.Code == catalog.CodeMe) {
			continue
		}
		actions = append(actions, Action{ID: d.Code, Title: "/" + d.Keyword, Payload: "cmd:" + d.Keyword})
	}
	return ActionsBlock(actions...)
}

func (r *Router) handleHelp(ctx context.Context, req *request) []Block {
	page := 0
	if arg := req.input.Arg(0); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return []Block{ErrorBlock(CodeValidation, fmt.Sprintf("Invalid page %q.", arg), "Usage: /help [page]")}
		}
		page = n - 1
	}
	return r.renderHelp(ctx, req, page)
}

// renderHelp renders one page of visible commands and remembers the view so
// page buttons can be served later.
func (r *Router) renderHelp(ctx context.Context, req *request, page int) []Block {
	visible := r.visible(ctx, req.access)
	pages := (len(visible) + r.pageSize - 1) / r.pageSize
	if pages == 0 {
		pages = 1
	}
	if page >= pages {
		page = pages - 1
	}

	start := page * r.pageSize
	end := min(start+r.pageSize, len(visible))
	items := make([]string, 0, end-start)
	for _, d := range visible[start:end] {
		items = append(items, d.Usage+" - "+d.Description)
	}

	blob := paging.NewBlob().SetInt("page", page).Set("sid", req.sessionID)
	r.sessions.Set(req.key.WithSuffix(session.SuffixHelp), session.StateLastQueryHelp, blob.Encode())

	title := "Available commands"
	if pages > 1 {
		title = fmt.Sprintf("Available commands (page %d/%d)", page+1, pages)
	}
	blocks := []Block{SectionsBlock(Section{Title: title, Items: items})}
	if nav := pageActions(paging.KindHelp, req.sessionID, page, pages); len(nav) > 0 {
		blocks = append(blocks, ActionsBlock(nav...))
	}
	return blocks
}

// pageActions returns previous/next buttons for a page-indexed view.
func pageActions(kind, sessionID string, page, pages int) []Action {
	var out []Action
	if page > 0 {
		out = append(out, Action{ID: "prev", Title: "« Prev", Payload: paging.Encode(kind, sessionID, page-1)})
	}
	if page+1 < pages {
		out = append(out, Action{ID: "next", Title: "Next »", Payload: paging.Encode(kind, sessionID, page+1)})
	}
	return out
}

// handlePage serves a pagination token. The owning command is gated again
// so a stale button never outlives the caller's permissions.
func (r *Router) handlePage(ctx context.Context, req *request) []Block {
	tok := req.input.Token
	var code string
	switch tok.Kind {
	case paging.KindHelp:
		code = catalog.CodeHelp
	case paging.KindDBRows:
		code = catalog.CodeDB
	case paging.KindInstruments:
		code = catalog.CodeMarket
	default:
		return []Block{ErrorBlock(CodeUnknownCallback, "This button is no longer supported.", "Send /menu to get fresh buttons.")}
	}
	def, ok := r.catalog.ByCode(code)
	if !ok {
		return []Block{ErrorBlock(CodeUnknownCallback, "This button is no longer supported.", "Send /menu to get fresh buttons.")}
	}
	req.def = def
	if def.HasRequirements() && req.linkErr != nil {
		return []Block{r.upstreamError("identity", req.linkErr)}
	}
	if blocks := r.gate(ctx, req); blocks != nil {
		return blocks
	}

	switch tok.Kind {
	case paging.KindHelp:
		if _, ok := r.loadState(req, session.SuffixHelp, session.StateLastQueryHelp, tok.SessionID); !ok {
			return []Block{sessionExpired("/help")}
		}
		return r.renderHelp(ctx, req, tok.Page)
	case paging.KindDBRows:
		return r.pageDB(ctx, req, tok)
	default:
		return r.pageInstruments(ctx, req, tok)
	}
}

// loadState returns the cached blob of a sub-key when it holds want and was
// created by the session sessionID.
func (r *Router) loadState(req *request, suffix string, want session.State, sessionID string) (*paging.Blob, bool) {
	e, ok := r.sessions.Get(req.key.WithSuffix(suffix))
	if !ok || e.State != want {
		return nil, false
	}
	blob := paging.DecodeBlob(e.Payload)
	if sessionID != "" && blob.String("sid") != sessionID {
		return nil, false
	}
	return blob, true
}
