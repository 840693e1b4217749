// Package testutil provides a stub database/sql driver for postgres store
// tests. It executes the Postgres dialect the store and the statesql repo
// emit: CREATE TABLE / CREATE INDEX, INSERT with ON CONFLICT (DO NOTHING or
// DO UPDATE SET col = excluded.col) and SELECT with $n placeholders, AND-ed
// comparisons, ORDER BY and LIMIT. Transactions are serialized and roll back
// to a snapshot of the tables.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// StubConn records executed statements and keeps table rows in memory.
type StubConn struct {
	Execs      []string
	Queries    []string
	Tables     map[string][]map[string]any
	FailExec   bool
	FailBegin  bool
	RowsErr    error
	FailTables map[string]bool
	FailCommit bool

	mu      sync.Mutex
	txMu    sync.Mutex
	schemas map[string]*tableSchema
	backup  map[string][]map[string]any
}

type tableSchema struct {
	columns map[string]bool
	key     []string
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{
		Tables:  make(map[string][]map[string]any),
		schemas: make(map[string]*tableSchema),
	}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailExec {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	c.txMu.Lock()
	c.mu.Lock()
	c.backup = cloneTables(c.Tables)
	c.mu.Unlock()
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	q := normalize(query)
	up := strings.ToUpper(q)
	switch {
	case strings.HasPrefix(up, "CREATE TABLE"):
		return driver.RowsAffected(0), c.createTable(q)
	case strings.HasPrefix(up, "CREATE INDEX"), strings.HasPrefix(up, "CREATE UNIQUE INDEX"):
		on := strings.Index(up, " ON ")
		if on == -1 {
			return nil, fmt.Errorf("cannot parse index: %s", q)
		}
		table := strings.ToLower(strings.Fields(q[on+len(" ON "):])[0])
		if _, err := c.schema(table); err != nil {
			return nil, err
		}
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(up, "INSERT INTO"):
		n, err := c.insert(q, args)
		if err != nil {
			return nil, err
		}
		return driver.RowsAffected(n), nil
	}
	return nil, fmt.Errorf("unsupported statement: %s", q)
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Queries = append(c.Queries, query)
	sel, err := parseSelect(normalize(query))
	if err != nil {
		return nil, err
	}
	if c.FailTables[sel.table] {
		return nil, fmt.Errorf("query fail for %s", sel.table)
	}
	schema, err := c.schema(sel.table)
	if err != nil {
		return nil, err
	}
	for _, col := range sel.columns {
		if col != "1" && !schema.columns[col] {
			return nil, fmt.Errorf("column %q does not exist", col)
		}
	}

	var matched []map[string]any
	for _, row := range c.Tables[sel.table] {
		ok, err := sel.matches(row, args)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, row)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		for _, o := range sel.order {
			cmp := compare(matched[i][o.column], matched[j][o.column])
			if cmp == 0 {
				continue
			}
			if o.desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	if sel.limit >= 0 && len(matched) > sel.limit {
		matched = matched[:sel.limit]
	}
	values := make([][]driver.Value, 0, len(matched))
	for _, row := range matched {
		vals := make([]driver.Value, len(sel.columns))
		for i, col := range sel.columns {
			if col == "1" {
				vals[i] = int64(1)
				continue
			}
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: sel.columns, rows: values, err: c.RowsErr}, nil
}

func (c *StubConn) schema(table string) (*tableSchema, error) {
	s, ok := c.schemas[table]
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", table)
	}
	return s, nil
}

func (c *StubConn) createTable(q string) error {
	up := strings.ToUpper(q)
	rest := q[len("CREATE TABLE "):]
	if strings.HasPrefix(up[len("CREATE TABLE "):], "IF NOT EXISTS ") {
		rest = rest[len("IF NOT EXISTS "):]
	}
	open := strings.Index(rest, "(")
	closeIdx := strings.LastIndex(rest, ")")
	if open == -1 || closeIdx <= open {
		return fmt.Errorf("cannot parse create table: %s", q)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:open]))
	if _, exists := c.schemas[table]; exists {
		return nil
	}
	schema := &tableSchema{columns: make(map[string]bool)}
	for _, def := range splitTopLevel(rest[open+1 : closeIdx]) {
		defUp := strings.ToUpper(def)
		if strings.HasPrefix(defUp, "PRIMARY KEY") {
			schema.key = columnList(def[strings.Index(def, "(")+1 : strings.LastIndex(def, ")")])
			continue
		}
		name := strings.ToLower(strings.Fields(def)[0])
		schema.columns[name] = true
		if strings.Contains(defUp, "PRIMARY KEY") {
			schema.key = []string{name}
		}
	}
	c.schemas[table] = schema
	return nil
}

func (c *StubConn) insert(q string, args []driver.NamedValue) (int64, error) {
	ins, err := parseInsert(q)
	if err != nil {
		return 0, err
	}
	if c.FailTables[ins.table] {
		return 0, fmt.Errorf("exec fail for %s", ins.table)
	}
	schema, err := c.schema(ins.table)
	if err != nil {
		return 0, err
	}
	if len(ins.columns) != len(ins.params) {
		return 0, fmt.Errorf("column/value mismatch for %s", ins.table)
	}
	row := make(map[string]any, len(ins.columns))
	for i, col := range ins.columns {
		if !schema.columns[col] {
			return 0, fmt.Errorf("column %q of relation %q does not exist", col, ins.table)
		}
		v, err := arg(args, ins.params[i])
		if err != nil {
			return 0, err
		}
		row[col] = v
	}

	key := schema.key
	if ins.conflict != nil {
		key = ins.conflict
	}
	rows := c.Tables[ins.table]
	for i, existing := range rows {
		if len(key) == 0 || !sameKey(existing, row, key) {
			continue
		}
		switch {
		case ins.conflict == nil:
			return 0, fmt.Errorf("duplicate key value violates unique constraint on %s", ins.table)
		case ins.doNothing:
			return 0, nil
		}
		updated := make(map[string]any, len(existing))
		for col, v := range existing {
			updated[col] = v
		}
		for col, src := range ins.set {
			updated[col] = row[src]
		}
		rows[i] = updated
		return 1, nil
	}
	c.Tables[ins.table] = append(rows, row)
	return 1, nil
}

type stubTx struct {
	conn *StubConn
	done bool
}

func (t *stubTx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	defer t.conn.txMu.Unlock()
	if t.conn.FailCommit {
		t.conn.restore()
		return fmt.Errorf("commit fail")
	}
	t.conn.mu.Lock()
	t.conn.backup = nil
	t.conn.mu.Unlock()
	return nil
}

func (t *stubTx) Rollback() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	defer t.conn.txMu.Unlock()
	t.conn.restore()
	return nil
}

func (c *StubConn) restore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Tables = c.backup
	c.backup = nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

type insertStmt struct {
	table     string
	columns   []string
	params    []string
	conflict  []string
	doNothing bool
	// set maps an updated column to the excluded column it takes.
	set map[string]string
}

func parseInsert(q string) (insertStmt, error) {
	up := strings.ToUpper(q)
	rest := q[len("INSERT INTO "):]
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx <= open {
		return insertStmt{}, fmt.Errorf("cannot parse insert: %s", q)
	}
	ins := insertStmt{
		table:   strings.ToLower(strings.TrimSpace(rest[:open])),
		columns: columnList(rest[open+1 : closeIdx]),
	}
	valuesIdx := strings.Index(up, "VALUES")
	if valuesIdx == -1 {
		return insertStmt{}, fmt.Errorf("cannot parse insert values: %s", q)
	}
	vals := q[valuesIdx:]
	vOpen, vClose := strings.Index(vals, "("), strings.Index(vals, ")")
	if vOpen == -1 || vClose <= vOpen {
		return insertStmt{}, fmt.Errorf("cannot parse insert values: %s", q)
	}
	ins.params = columnList(vals[vOpen+1 : vClose])

	conflictIdx := strings.Index(up, "ON CONFLICT")
	if conflictIdx == -1 {
		return ins, nil
	}
	tail := q[conflictIdx:]
	tOpen, tClose := strings.Index(tail, "("), strings.Index(tail, ")")
	if tOpen == -1 || tClose <= tOpen {
		return insertStmt{}, fmt.Errorf("cannot parse conflict target: %s", q)
	}
	ins.conflict = columnList(tail[tOpen+1 : tClose])
	action := strings.TrimSpace(tail[tClose+1:])
	actionUp := strings.ToUpper(action)
	switch {
	case strings.HasPrefix(actionUp, "DO NOTHING"):
		ins.doNothing = true
	case strings.HasPrefix(actionUp, "DO UPDATE SET "):
		ins.set = make(map[string]string)
		for _, assign := range strings.Split(action[len("DO UPDATE SET "):], ",") {
			col, src, ok := strings.Cut(assign, "=")
			if !ok {
				return insertStmt{}, fmt.Errorf("cannot parse assignment %q", assign)
			}
			src = strings.ToLower(strings.TrimSpace(src))
			if !strings.HasPrefix(src, "excluded.") {
				return insertStmt{}, fmt.Errorf("unsupported assignment %q", assign)
			}
			ins.set[strings.ToLower(strings.TrimSpace(col))] = strings.TrimPrefix(src, "excluded.")
		}
	default:
		return insertStmt{}, fmt.Errorf("unsupported conflict action: %s", action)
	}
	return ins, nil
}

type condition struct {
	column string
	op     string
	param  string
}

type ordering struct {
	column string
	desc   bool
}

type selectStmt struct {
	table      string
	columns    []string
	conditions []condition
	order      []ordering
	limit      int
}

func parseSelect(q string) (selectStmt, error) {
	up := strings.ToUpper(q)
	if !strings.HasPrefix(up, "SELECT ") {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", q)
	}
	fromIdx := strings.Index(up, " FROM ")
	if fromIdx == -1 {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", q)
	}
	sel := selectStmt{columns: columnList(q[len("SELECT "):fromIdx]), limit: -1}

	end := len(q)
	clause := func(token string) string {
		idx := strings.LastIndex(up[:end], token)
		if idx == -1 || idx < fromIdx {
			return ""
		}
		out := strings.TrimSpace(q[idx+len(token) : end])
		end = idx
		return out
	}
	if limit := clause(" LIMIT "); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return selectStmt{}, fmt.Errorf("cannot parse limit %q", limit)
		}
		sel.limit = n
	}
	if order := clause(" ORDER BY "); order != "" {
		for _, part := range strings.Split(order, ",") {
			fields := strings.Fields(part)
			o := ordering{column: strings.ToLower(fields[0])}
			if len(fields) > 1 && strings.EqualFold(fields[1], "DESC") {
				o.desc = true
			}
			sel.order = append(sel.order, o)
		}
	}
	if where := clause(" WHERE "); where != "" {
		for _, part := range splitAnd(where) {
			cond, err := parseCondition(part)
			if err != nil {
				return selectStmt{}, err
			}
			sel.conditions = append(sel.conditions, cond)
		}
	}
	table := strings.Fields(q[fromIdx+len(" FROM ") : end])
	if len(table) == 0 {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", q)
	}
	sel.table = strings.ToLower(table[0])
	return sel, nil
}

func (s selectStmt) matches(row map[string]any, args []driver.NamedValue) (bool, error) {
	for _, cond := range s.conditions {
		want, err := arg(args, cond.param)
		if err != nil {
			return false, err
		}
		cmp := compare(row[cond.column], want)
		var ok bool
		switch cond.op {
		case "=":
			ok = cmp == 0
		case "<>":
			ok = cmp != 0
		case "<":
			ok = cmp < 0
		case "<=":
			ok = cmp <= 0
		case ">":
			ok = cmp > 0
		case ">=":
			ok = cmp >= 0
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func parseCondition(s string) (condition, error) {
	for _, op := range []string{">=", "<=", "<>", "=", "<", ">"} {
		col, param, ok := strings.Cut(s, op)
		if !ok {
			continue
		}
		return condition{
			column: strings.ToLower(strings.TrimSpace(col)),
			op:     op,
			param:  strings.TrimSpace(param),
		}, nil
	}
	return condition{}, fmt.Errorf("cannot parse condition %q", s)
}

func splitAnd(s string) []string {
	var out []string
	up := strings.ToUpper(s)
	for {
		idx := strings.Index(up, " AND ")
		if idx == -1 {
			return append(out, strings.TrimSpace(s))
		}
		out = append(out, strings.TrimSpace(s[:idx]))
		s, up = s[idx+len(" AND "):], up[idx+len(" AND "):]
	}
}

// arg resolves a $n placeholder against the bound arguments.
func arg(args []driver.NamedValue, param string) (any, error) {
	if !strings.HasPrefix(param, "$") {
		return nil, fmt.Errorf("expected $n placeholder, got %q", param)
	}
	n, err := strconv.Atoi(param[1:])
	if err != nil || n < 1 || n > len(args) {
		return nil, fmt.Errorf("placeholder %s out of range (%d args)", param, len(args))
	}
	v := args[n-1].Value
	if b, ok := v.([]byte); ok {
		return append([]byte(nil), b...), nil
	}
	return v, nil
}

func sameKey(a, b map[string]any, key []string) bool {
	for _, col := range key {
		if compare(a[col], b[col]) != 0 {
			return false
		}
	}
	return true
}

// compare orders nil first, then integers, floats and text.
func compare(a, b any) int {
	if b, ok := b.([]byte); ok {
		return compare(a, string(b))
	}
	switch x := a.(type) {
	case nil:
		if b == nil {
			return 0
		}
		return -1
	case []byte:
		return compare(string(x), b)
	case int64:
		if y, ok := b.(int64); ok {
			return cmpOrdered(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmpOrdered(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok && x == y {
			return 0
		}
	}
	if b == nil {
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T int64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func normalize(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

func columnList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}

// splitTopLevel splits on commas outside parentheses.
func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

func cloneTables(in map[string][]map[string]any) map[string][]map[string]any {
	out := make(map[string][]map[string]any, len(in))
	for table, rows := range in {
		copied := make([]map[string]any, len(rows))
		for i, row := range rows {
			r := make(map[string]any, len(row))
			for k, v := range row {
				r[k] = v
			}
			copied[i] = r
		}
		out[table] = copied
	}
	return out
}
