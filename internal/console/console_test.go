package console

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/775kkk/logic-signal-protector-sub000/internal/store"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/google/go-cmp/cmp"
)

func newTestExecutor(t *testing.T) *GormExecutor {
	t.Helper()
	db, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Exec("CREATE TABLE quotes (ticker TEXT, price REAL, note TEXT)").Error; err != nil {
		t.Fatalf("create table: %v", err)
	}
	for _, stmt := range []string{
		"INSERT INTO quotes VALUES ('SBER', 306.5, NULL)",
		"INSERT INTO quotes VALUES ('GAZP', 128, 'ao')",
		"INSERT INTO quotes VALUES ('LKOH', 7100, NULL)",
	} {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	e, err := NewGormExecutor(db)
	if err != nil {
		t.Fatalf("NewGormExecutor: %v", err)
	}
	return e
}

func TestStatementType(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"SELECT 1", TypeQuery},
		{"  select * from t", TypeQuery},
		{"(SELECT 1) UNION (SELECT 2)", TypeQuery},
		{"-- leading comment\nSHOW TABLES", TypeQuery},
		{"/* hint */ WITH x AS (SELECT 1) SELECT * FROM x", TypeQuery},
		{"explain select 1", TypeQuery},
		{"WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i+1 FROM n WHERE i < 3) SELECT i FROM n", TypeQuery},
		{"WITH a AS (SELECT 1), b AS (SELECT 2) TABLE a", TypeQuery},
		{"WITH old AS (SELECT id FROM t) DELETE FROM t WHERE id IN (SELECT id FROM old)", TypeExec},
		{"with s as (select 'x) select' as v) update t set a = (select v from s)", TypeExec},
		{"WITH x AS (SELECT 1)", TypeExec},
		{"DESC users", TypeQuery},
		{"UPDATE t SET a = 1", TypeExec},
		{"insert into t values (1)", TypeExec},
		{"DROP TABLE t", TypeExec},
		{"-- only a comment", TypeExec},
		{"SELECT", TypeQuery},
		{"", TypeExec},
	}
	for _, tt := range tests {
		if got := StatementType(tt.query); got != tt.want {
			t.Errorf("StatementType(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestExecute_Query(t *testing.T) {
	e := newTestExecutor(t)
	res, err := e.Execute(context.Background(), "SELECT ticker, note FROM quotes ORDER BY ticker;", 10)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := Result{
		OK:      true,
		Type:    TypeQuery,
		Columns: []string{"ticker", "note"},
		Rows:    [][]string{{"GAZP", "ao"}, {"LKOH", "NULL"}, {"SBER", "NULL"}},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("Execute mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_Truncated(t *testing.T) {
	e := newTestExecutor(t)
	res, err := e.Execute(context.Background(), "SELECT ticker FROM quotes ORDER BY ticker", 2)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Truncated || len(res.Rows) != 2 {
		t.Errorf("Truncated = %v, rows = %d; want true, 2", res.Truncated, len(res.Rows))
	}

	res, _ = e.Execute(context.Background(), "SELECT ticker FROM quotes", 3)
	if res.Truncated {
		t.Error("Truncated = true for exactly maxRows rows")
	}
}

func TestExecute_Exec(t *testing.T) {
	e := newTestExecutor(t)
	res, err := e.Execute(context.Background(), "UPDATE quotes SET note = 'x' WHERE price > 200", 10)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.OK || res.Type != TypeExec || res.Updated != 2 {
		t.Errorf("result = %+v, want OK EXEC with 2 updated", res)
	}
}

func TestExecute_DataModifyingCTE(t *testing.T) {
	e := newTestExecutor(t)
	res, err := e.Execute(context.Background(),
		"WITH gone AS (SELECT 'GAZP' AS t) DELETE FROM quotes WHERE ticker IN (SELECT t FROM gone)", 10)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.OK || res.Type != TypeExec || res.Updated != 1 {
		t.Errorf("result = %+v, want OK EXEC with 1 updated", res)
	}
}

func TestExecute_SQLErrorInBand(t *testing.T) {
	e := newTestExecutor(t)
	res, err := e.Execute(context.Background(), "SELECT * FROM missing_table", 10)
	if err != nil {
		t.Fatalf("Execute returned Go error: %v", err)
	}
	if res.OK || !strings.Contains(res.Error, "missing_table") {
		t.Errorf("result = %+v, want in-band error naming the table", res)
	}
}

func TestExecute_Empty(t *testing.T) {
	e := newTestExecutor(t)
	res, err := e.Execute(context.Background(), "  ; ", 10)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.OK || res.Error == "" {
		t.Errorf("result = %+v, want in-band error", res)
	}
}

func TestExecute_CanceledContext(t *testing.T) {
	e := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Execute(ctx, "SELECT * FROM quotes", 10)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestTables(t *testing.T) {
	e := newTestExecutor(t)
	tables, err := e.Tables(context.Background())
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	if diff := cmp.Diff([]string{"quotes"}, tables); diff != "" {
		t.Errorf("Tables mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatError(t *testing.T) {
	me := &gomysql.MySQLError{Number: 1146, SQLState: [5]byte{'4', '2', 'S', '0', '2'}, Message: "Table 'lsp.x' doesn't exist"}
	if got, want := FormatError(me), "ERROR 1146 (42S02): Table 'lsp.x' doesn't exist"; got != want {
		t.Errorf("FormatError = %q, want %q", got, want)
	}
	if got := FormatError(errors.New("boom")); got != "boom" {
		t.Errorf("FormatError = %q, want boom", got)
	}
}

func TestNewGormExecutor_NilDB(t *testing.T) {
	if _, err := NewGormExecutor(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}
