package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/775kkk/logic-signal-protector-sub000/internal/console"
	"github.com/775kkk/logic-signal-protector-sub000/internal/paging"
	"github.com/775kkk/logic-signal-protector-sub000/internal/session"
)

// Display formats for SQL results.
const (
	FormatTable    = "table"
	FormatList     = "list"
	FormatSections = "sections"
)

// Blob keys of the cached SQL query.
const (
	dbKeySQL    = "q"
	dbKeyFormat = "fmt"
	dbKeyCol    = "col"
	dbKeyPage   = "page"
	dbKeySID    = "sid"
)

const dbRestart = "/db <sql>"

func (r *Router) handleDBMenu(ctx context.Context, req *request) []Block {
	return []Block{
		TextBlock("SQL console. Send /db <sql> to run a statement."),
		ActionsBlock(
			Action{ID: "tables", Title: "Tables", Payload: "cmd:db:tables"},
			Action{ID: "fmt-table", Title: "As table", Payload: "cmd:db:format:table"},
			Action{ID: "fmt-list", Title: "As list", Payload: "cmd:db:format:list"},
			Action{ID: "fmt-sections", Title: "As sections", Payload: "cmd:db:format:sections"},
			Action{ID: "cols-reset", Title: "First columns", Payload: "cmd:db:cols:reset"},
		),
	}
}

func (r *Router) handleDB(ctx context.Context, req *request) []Block {
	if r.console == nil {
		return []Block{ErrorBlock(CodeUpstreamFailure, "The SQL console is not configured.", "")}
	}
	switch strings.ToLower(req.input.Arg(0)) {
	case "":
		return r.handleDBMenu(ctx, req)
	case "tables":
		return r.dbTables(ctx)
	case "format":
		return r.dbFormat(ctx, req)
	case "cols":
		return r.dbCols(ctx, req)
	}

	query := req.input.Rest
	blob := paging.NewBlob().
		Set(dbKeySQL, query).
		Set(dbKeyFormat, FormatTable).
		SetInt(dbKeyCol, 0).
		SetInt(dbKeyPage, 0)
	return r.runQuery(ctx, req, blob)
}

func (r *Router) dbTables(ctx context.Context) []Block {
	cctx, cancel := r.call(ctx)
	defer cancel()
	tables, err := r.console.Tables(cctx)
	if err != nil {
		return []Block{r.upstreamError("sql", err)}
	}
	if len(tables) == 0 {
		return []Block{NoticeBlock("No tables.")}
	}
	return []Block{TextBlock(fmt.Sprintf("%d tables", len(tables))), ListBlock(tables...)}
}

func (r *Router) dbFormat(ctx context.Context, req *request) []Block {
	format := strings.ToLower(req.input.Arg(1))
	switch format {
	case FormatTable, FormatList, FormatSections:
	default:
		return []Block{ErrorBlock(CodeValidation, fmt.Sprintf("Unknown format %q.", req.input.Arg(1)),
			"Usage: /db format <table|list|sections>")}
	}
	blob, ok := r.loadState(req, session.SuffixDB, session.StateLastQueryDB, "")
	if !ok {
		return []Block{sessionExpired(dbRestart)}
	}
	blob.Set(dbKeyFormat, format)
	return r.runQuery(ctx, req, blob)
}

func (r *Router) dbCols(ctx context.Context, req *request) []Block {
	blob, ok := r.loadState(req, session.SuffixDB, session.StateLastQueryDB, "")
	if !ok {
		return []Block{sessionExpired(dbRestart)}
	}
	col := blob.Int(dbKeyCol, 0)
	switch strings.ToLower(req.input.Arg(1)) {
	case "next":
		col += r.displayCols
	case "prev":
		col = max(col-r.displayCols, 0)
	case "reset", "":
		col = 0
	default:
		return []Block{ErrorBlock(CodeValidation, fmt.Sprintf("Unknown column move %q.", req.input.Arg(1)),
			"Usage: /db cols <next|prev|reset>")}
	}
	blob.SetInt(dbKeyCol, col)
	return r.runQuery(ctx, req, blob)
}

// pageDB serves an "m" token by replaying the cached query at another page.
func (r *Router) pageDB(ctx context.Context, req *request, tok paging.Token) []Block {
	if r.console == nil {
		return []Block{ErrorBlock(CodeUpstreamFailure, "The SQL console is not configured.", "")}
	}
	blob, ok := r.loadState(req, session.SuffixDB, session.StateLastQueryDB, tok.SessionID)
	if !ok {
		return []Block{sessionExpired(dbRestart)}
	}
	blob.SetInt(dbKeyPage, tok.Page)
	return r.runQuery(ctx, req, blob)
}

// runQuery executes the statement held in blob and renders the requested
// window. Row-returning statements are cached for replay before returning;
// only the parameters are kept, never the rows.
func (r *Router) runQuery(ctx context.Context, req *request, blob *paging.Blob) []Block {
	query := blob.String(dbKeySQL)
	if query == "" {
		return []Block{ErrorBlock(CodeValidation, "Missing SQL statement.", "Usage: /db <sql>")}
	}
	cctx, cancel := r.call(ctx)
	defer cancel()
	res, err := r.console.Execute(cctx, query, r.maxRows)
	if err != nil {
		return []Block{r.upstreamError("sql", err)}
	}
	if !res.OK {
		return []Block{ErrorBlock(CodeValidation, res.Error, "Check the statement and try again.")}
	}
	if res.Type != console.TypeQuery {
		return []Block{NoticeBlock(fmt.Sprintf("OK, %d rows affected.", res.Updated))}
	}

	pages := max((len(res.Rows)+r.displayRows-1)/r.displayRows, 1)
	page := min(blob.Int(dbKeyPage, 0), pages-1)
	col := blob.Int(dbKeyCol, 0)
	if col >= len(res.Columns) {
		col = max(len(res.Columns)-r.displayCols, 0)
	}
	blob.SetInt(dbKeyPage, page).SetInt(dbKeyCol, col).Set(dbKeySID, req.sessionID)
	r.sessions.Set(req.key.WithSuffix(session.SuffixDB), session.StateLastQueryDB, blob.Encode())

	colEnd := min(col+r.displayCols, len(res.Columns))
	rowStart := page * r.displayRows
	rowEnd := min(rowStart+r.displayRows, len(res.Rows))
	cols := res.Columns[col:colEnd]
	rows := make([][]string, 0, rowEnd-rowStart)
	for _, row := range res.Rows[rowStart:rowEnd] {
		rows = append(rows, row[col:colEnd])
	}

	summary := fmt.Sprintf("%d rows", len(res.Rows))
	if res.Truncated {
		summary = fmt.Sprintf("First %d rows (more available)", len(res.Rows))
	}
	if pages > 1 {
		summary += fmt.Sprintf(", page %d/%d", page+1, pages)
	}
	if colEnd-col < len(res.Columns) {
		summary += fmt.Sprintf(", columns %d-%d of %d", col+1, colEnd, len(res.Columns))
	}

	blocks := []Block{TextBlock(summary), formatRows(blob.String(dbKeyFormat), cols, rows)}
	nav := pageActions(paging.KindDBRows, req.sessionID, page, pages)
	if col > 0 {
		nav = append(nav, Action{ID: "cols-prev", Title: "« Columns", Payload: "cmd:db:cols:prev"})
	}
	if colEnd < len(res.Columns) {
		nav = append(nav, Action{ID: "cols-next", Title: "Columns »", Payload: "cmd:db:cols:next"})
	}
	if len(nav) > 0 {
		blocks = append(blocks, ActionsBlock(nav...))
	}
	return blocks
}

// formatRows renders a result window in one of the display formats.
func formatRows(format string, cols []string, rows [][]string) Block {
	switch format {
	case FormatList:
		items := make([]string, 0, len(rows))
		for _, row := range rows {
			pairs := make([]string, len(cols))
			for i, c := range cols {
				pairs[i] = c + "=" + row[i]
			}
			items = append(items, strings.Join(pairs, "; "))
		}
		b := ListBlock(items...)
		b.Format = FormatList
		return b
	case FormatSections:
		sections := make([]Section, 0, len(rows))
		for _, row := range rows {
			s := Section{}
			if len(cols) > 0 {
				s.Title = cols[0] + ": " + row[0]
			}
			for i := 1; i < len(cols); i++ {
				s.Items = append(s.Items, cols[i]+": "+row[i])
			}
			sections = append(sections, s)
		}
		b := SectionsBlock(sections...)
		b.Format = FormatSections
		return b
	default:
		return TableBlock(cols, rows)
	}
}
