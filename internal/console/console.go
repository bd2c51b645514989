// Package console executes ad-hoc SQL for the developer /db command family
// and returns bounded, display-ready results.
package console

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// Statement types reported in Result.Type.
const (
	TypeQuery = "QUERY"
	TypeExec  = "EXEC"
)

// DefaultMaxRows caps result sets when the caller passes no limit.
const DefaultMaxRows = 200

// Result is the outcome of one SQL execution. SQL errors are reported
// in-band with OK=false; only infrastructure failures are returned as Go
// errors by Execute.
type Result struct {
	OK        bool
	Type      string
	Columns   []string
	Rows      [][]string
	Updated   int64
	Truncated bool
	Error     string
}

// Executor is the SQL console collaborator consumed by the router.
type Executor interface {
	Execute(ctx context.Context, query string, maxRows int) (Result, error)
	Tables(ctx context.Context) ([]string, error)
}

// GormExecutor runs statements against a gorm connection.
type GormExecutor struct {
	db *gorm.DB
}

// NewGormExecutor creates a GormExecutor.
func NewGormExecutor(db *gorm.DB) (*GormExecutor, error) {
	if db == nil {
		return nil, fmt.Errorf("console: db is required")
	}
	return &GormExecutor{db: db}, nil
}

// Execute implements Executor. Row-returning statements fetch at most
// maxRows rows and set Truncated when more were available.
func (e *GormExecutor) Execute(ctx context.Context, query string, maxRows int) (Result, error) {
	query = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	if query == "" {
		return Result{Error: "empty statement"}, nil
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	if StatementType(query) == TypeQuery {
		return e.query(ctx, query, maxRows)
	}
	return e.exec(ctx, query)
}

func (e *GormExecutor) query(ctx context.Context, query string, maxRows int) (Result, error) {
	rows, err := e.db.WithContext(ctx).Raw(query).Rows()
	if err != nil {
		return inBand(TypeQuery, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return inBand(TypeQuery, err)
	}
	res := Result{OK: true, Type: TypeQuery, Columns: cols}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if len(res.Rows) == maxRows {
			res.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return inBand(TypeQuery, err)
		}
		rec := make([]string, len(cols))
		for i, v := range vals {
			rec[i] = display(v)
		}
		res.Rows = append(res.Rows, rec)
	}
	if err := rows.Err(); err != nil {
		return inBand(TypeQuery, err)
	}
	return res, nil
}

func (e *GormExecutor) exec(ctx context.Context, query string) (Result, error) {
	tx := e.db.WithContext(ctx).Exec(query)
	if tx.Error != nil {
		return inBand(TypeExec, tx.Error)
	}
	return Result{OK: true, Type: TypeExec, Updated: tx.RowsAffected}, nil
}

// Tables implements Executor.
func (e *GormExecutor) Tables(ctx context.Context) ([]string, error) {
	tables, err := e.db.WithContext(ctx).Migrator().GetTables()
	if err != nil {
		return nil, fmt.Errorf("console: list tables: %w", err)
	}
	sort.Strings(tables)
	return tables, nil
}

// inBand converts SQL errors into a failed Result. Context errors are
// infrastructure failures and are returned to the caller.
func inBand(typ string, err error) (Result, error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Result{}, fmt.Errorf("console: execute: %w", err)
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, gorm.ErrInvalidDB) {
		return Result{}, fmt.Errorf("console: execute: %w", err)
	}
	return Result{Type: typ, Error: FormatError(err)}, nil
}

// FormatError renders a driver error for display. MySQL server errors keep
// their number and SQLSTATE.
func FormatError(err error) string {
	var me *gomysql.MySQLError
	if errors.As(err, &me) {
		if me.SQLState != [5]byte{} {
			return fmt.Sprintf("ERROR %d (%s): %s", me.Number, string(me.SQLState[:]), me.Message)
		}
		return fmt.Sprintf("ERROR %d: %s", me.Number, me.Message)
	}
	return err.Error()
}

var queryKeywords = map[string]bool{
	"SELECT":   true,
	"SHOW":     true,
	"DESCRIBE": true,
	"DESC":     true,
	"EXPLAIN":  true,
	"PRAGMA":   true,
	"VALUES":   true,
	"TABLE":    true,
}

// StatementType classifies a statement by its leading keyword, skipping
// comments and opening parentheses.
func StatementType(query string) string {
	s := strings.TrimSpace(query)
	for {
		switch {
		case strings.HasPrefix(s, "--"), strings.HasPrefix(s, "#"):
			if i := strings.IndexByte(s, '\n'); i >= 0 {
				s = strings.TrimSpace(s[i+1:])
				continue
			}
			return TypeExec
		case strings.HasPrefix(s, "/*"):
			if i := strings.Index(s, "*/"); i >= 0 {
				s = strings.TrimSpace(s[i+2:])
				continue
			}
			return TypeExec
		case strings.HasPrefix(s, "("):
			s = strings.TrimSpace(s[1:])
			continue
		}
		break
	}
	end := strings.IndexFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '('
	})
	if end < 0 {
		end = len(s)
	}
	verb := strings.ToUpper(s[:end])
	if verb == "WITH" {
		verb = cteVerb(s[end:])
	}
	if queryKeywords[verb] {
		return TypeQuery
	}
	return TypeExec
}

// cteVerb returns the statement keyword that follows the common table
// expressions of a WITH clause, or "" when there is none. MySQL allows
// WITH ... UPDATE and WITH ... DELETE, so the verb decides the type.
func cteVerb(s string) string {
	depth := 0
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			j := i + 1
			for j < len(s) && s[j] != c {
				if s[j] == '\\' {
					j++
				}
				j++
			}
			i = j + 1
		case c == '(':
			depth++
			i++
		case c == ')':
			depth--
			i++
		case depth == 0 && isWordByte(c):
			j := i
			for j < len(s) && isWordByte(s[j]) {
				j++
			}
			if w := strings.ToUpper(s[i:j]); mainVerbs[w] {
				return w
			}
			i = j
		default:
			i++
		}
	}
	return ""
}

var mainVerbs = map[string]bool{
	"SELECT":  true,
	"VALUES":  true,
	"TABLE":   true,
	"INSERT":  true,
	"UPDATE":  true,
	"DELETE":  true,
	"REPLACE": true,
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func display(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(x)
	}
}
