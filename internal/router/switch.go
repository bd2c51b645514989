package router

import (
	"context"
	"fmt"
	"strings"
)

// invalidator is implemented by switch caches that can drop their snapshot.
type invalidator interface {
	Invalidate()
}

func (r *Router) handleSwitch(ctx context.Context, req *request) []Block {
	if r.switchAdmin == nil {
		return []Block{ErrorBlock(CodeUpstreamFailure, "Switch storage is not configured.", "")}
	}
	switch sub := strings.ToLower(req.input.Arg(0)); sub {
	case "", "list":
		return r.listSwitches(ctx)
	case "on", "off":
		return r.setSwitch(ctx, req, sub == "on")
	default:
		return []Block{ErrorBlock(CodeValidation, fmt.Sprintf("Unknown switch command %q.", req.input.Arg(0)),
			"Usage: /switch list | /switch <on|off> <code> [note]")}
	}
}

func (r *Router) listSwitches(ctx context.Context) []Block {
	cctx, cancel := r.call(ctx)
	defer cancel()
	stored, err := r.switchAdmin.ListSwitches(cctx)
	if err != nil {
		return []Block{r.upstreamError("switches", err)}
	}
	byCode := make(map[string]int, len(stored))
	for i, s := range stored {
		byCode[s.CommandCode] = i
	}

	var rows [][]string
	for _, d := range r.catalog.All() {
		if !d.Toggleable {
			continue
		}
		row := []string{d.Code, "on", "", "", ""}
		if i, ok := byCode[d.Code]; ok {
			s := stored[i]
			if !s.Enabled {
				row[1] = "off"
			}
			row[2] = s.UpdatedBy
			if !s.UpdatedAt.IsZero() {
				row[3] = s.UpdatedAt.UTC().Format("2006-01-02 15:04")
			}
			row[4] = s.Note
		}
		rows = append(rows, row)
	}
	return []Block{TableBlock([]string{"Command", "State", "Updated by", "Updated at", "Note"}, rows)}
}

func (r *Router) setSwitch(ctx context.Context, req *request, enabled bool) []Block {
	code := strings.ToUpper(req.input.Arg(1))
	if code == "" {
		return []Block{ErrorBlock(CodeValidation, "Missing command code.", "Usage: /switch <on|off> <code> [note]")}
	}
	def, ok := r.catalog.ByCode(code)
	if !ok {
		def, ok = r.catalog.ByKeyword(code)
	}
	if !ok || !def.Toggleable {
		return []Block{ErrorBlock(CodeValidation, fmt.Sprintf("%s is not a toggleable command.", code),
			"Send /switch list to see toggleable commands.")}
	}

	cctx, cancel := r.call(ctx)
	defer cancel()
	if err := r.switchAdmin.SetSwitch(cctx, def.Code, enabled, req.link.Login, req.input.Arg(2)); err != nil {
		return []Block{r.upstreamError("switches", err)}
	}
	if inv, ok := r.switches.(invalidator); ok {
		inv.Invalidate()
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return []Block{NoticeBlock(fmt.Sprintf("/%s is now %s.", def.Keyword, state))}
}
