package litedpi

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"unsafe"

	"github.com/SimonWaldherr/dmdb/internal/dpi"
)

type statement struct {
	id   dpi.Handle
	con  dpi.Handle
	sql  string
	prep *sql.Stmt

	params map[uint16]binding

	cols    []column
	rows    [][]any
	row     int // 1-based index of the current row, 0 before the first fetch
	offsets []int
	done    []bool
}

type binding struct {
	ctype   dpi.CType
	sqlType dpi.SQLType
	buf     unsafe.Pointer
	bufLen  int64
	ind     *int64
}

type column struct {
	name  string
	typ   dpi.SQLType
	size  uint64
	scale int16
}

func (st *statement) close() {
	if st.prep != nil {
		_ = st.prep.Close()
		st.prep = nil
	}
	st.resetResult()
}

func (st *statement) resetResult() {
	st.cols = nil
	st.rows = nil
	st.row = 0
	st.offsets = nil
	st.done = nil
}

// lookup returns the statement and its live connection. rt is non-OK when
// the call must not proceed.
func (a *API) lookup(stmt dpi.StmtHandle) (*statement, *connection, dpi.Return) {
	st, ok := a.stmts[dpi.Handle(stmt)]
	if !ok {
		return nil, nil, dpi.InvalidHandle
	}
	delete(a.diags, st.id)
	c := a.cons[st.con]
	if c == nil || c.dead {
		return nil, nil, a.fail(st.id, CodeConnectionLost, "connection lost")
	}
	if c.conn == nil {
		return nil, nil, a.fail(st.id, CodeNotConnected, "connection not established")
	}
	return st, c, dpi.Success
}

func (a *API) AllocStmt(con dpi.ConHandle) (dpi.StmtHandle, dpi.Return) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.cons[dpi.Handle(con)]
	if !ok {
		return 0, dpi.InvalidHandle
	}
	delete(a.diags, c.id)
	if c.dead {
		return 0, a.fail(c.id, CodeConnectionLost, "connection lost")
	}
	if c.conn == nil {
		return 0, a.fail(c.id, CodeNotConnected, "connection not established")
	}
	st := &statement{id: a.handle(), con: c.id, params: make(map[uint16]binding)}
	a.stmts[st.id] = st
	return dpi.StmtHandle(st.id), dpi.Success
}

func (a *API) FreeStmt(stmt dpi.StmtHandle) dpi.Return {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.stmts[dpi.Handle(stmt)]
	if !ok {
		return dpi.InvalidHandle
	}
	st.close()
	delete(a.stmts, st.id)
	delete(a.diags, st.id)
	return dpi.Success
}

func (a *API) Prepare(stmt dpi.StmtHandle, query string) dpi.Return {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, c, rt := a.lookup(stmt)
	if !rt.OK() {
		return rt
	}
	st.close()
	st.params = make(map[uint16]binding)
	st.sql = query
	if txControl(query) != "" {
		return dpi.Success
	}
	prep, err := c.conn.PrepareContext(context.Background(), query)
	if err != nil {
		return a.fail(st.id, CodeSyntax, "%v", err)
	}
	st.prep = prep
	return dpi.Success
}

func (a *API) BindParam(stmt dpi.StmtHandle, pos uint16, dir dpi.ParamDirection, ctype dpi.CType, sqlType dpi.SQLType,
	precision uint64, scale int16, buf unsafe.Pointer, bufLen int64, ind *int64) dpi.Return {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, _, rt := a.lookup(stmt)
	if !rt.OK() {
		return rt
	}
	if pos == 0 {
		return a.fail(st.id, CodeBind, "parameter position must be 1 or greater")
	}
	if dir != dpi.ParamInput {
		return a.fail(st.id, CodeBind, "parameter %d: unsupported direction %d", pos, dir)
	}
	switch ctype {
	case dpi.CChar, dpi.CBinary, dpi.CSBigInt, dpi.CDouble, dpi.CTimestamp:
	default:
		return a.fail(st.id, CodeBind, "parameter %d: unsupported C type %v", pos, ctype)
	}
	if buf == nil && bufLen > 0 {
		return a.fail(st.id, CodeBind, "parameter %d: nil buffer with length %d", pos, bufLen)
	}
	st.params[pos] = binding{ctype: ctype, sqlType: sqlType, buf: buf, bufLen: bufLen, ind: ind}
	return dpi.Success
}

func (a *API) Exec(stmt dpi.StmtHandle) dpi.Return {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, c, rt := a.lookup(stmt)
	if !rt.OK() {
		return rt
	}
	st.resetResult()
	ctx := context.Background()

	switch txControl(st.sql) {
	case "BEGIN":
		if _, err := c.conn.ExecContext(ctx, "BEGIN"); err != nil {
			return a.fail(st.id, CodeExec, "%v", err)
		}
		c.inTx = true
		return dpi.Success
	case "COMMIT", "ROLLBACK":
		verb := txControl(st.sql)
		if !c.inTx {
			return dpi.Success
		}
		if _, err := c.conn.ExecContext(ctx, verb); err != nil {
			return a.fail(st.id, CodeExec, "%v", err)
		}
		c.inTx = false
		return dpi.Success
	}
	if st.prep == nil {
		return a.fail(st.id, CodeSequence, "statement not prepared")
	}

	args := make([]any, len(st.params))
	for i := range args {
		b, ok := st.params[uint16(i+1)]
		if !ok {
			return a.fail(st.id, CodeBind, "parameter %d not bound", i+1)
		}
		v, err := b.read(c.code)
		if err != nil {
			return a.fail(st.id, CodeBind, "parameter %d: %v", i+1, err)
		}
		args[i] = v
	}

	if !c.autocommit && !c.inTx {
		if _, err := c.conn.ExecContext(ctx, "BEGIN"); err != nil {
			return a.fail(st.id, CodeExec, "implicit begin: %v", err)
		}
		c.inTx = true
	}

	rows, err := st.prep.QueryContext(ctx, args...)
	if err != nil {
		return a.fail(st.id, CodeExec, "%v", err)
	}
	defer rows.Close()
	types, err := rows.ColumnTypes()
	if err != nil {
		return a.fail(st.id, CodeExec, "%v", err)
	}
	var data [][]any
	for rows.Next() {
		vals := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return a.fail(st.id, CodeExec, "%v", err)
		}
		data = append(data, vals)
	}
	if err := rows.Err(); err != nil {
		return a.fail(st.id, CodeExec, "%v", err)
	}
	cols := make([]column, len(types))
	for i, ct := range types {
		cols[i] = describe(ct.Name(), ct.DatabaseTypeName(), data, i)
	}
	st.cols = cols
	st.rows = data
	st.offsets = make([]int, len(cols))
	st.done = make([]bool, len(cols))
	return dpi.Success
}

func (a *API) NumberColumns(stmt dpi.StmtHandle) (int16, dpi.Return) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, _, rt := a.lookup(stmt)
	if !rt.OK() {
		return 0, rt
	}
	return int16(len(st.cols)), dpi.Success
}

func (a *API) DescColumn(stmt dpi.StmtHandle, col uint16) (dpi.ColumnDesc, dpi.Return) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, _, rt := a.lookup(stmt)
	if !rt.OK() {
		return dpi.ColumnDesc{}, rt
	}
	if st.row > 0 {
		return dpi.ColumnDesc{}, a.fail(st.id, CodeSequence, "column description requested after fetch")
	}
	if col == 0 || int(col) > len(st.cols) {
		return dpi.ColumnDesc{}, a.fail(st.id, CodeIndex, "column %d out of range", col)
	}
	c := st.cols[col-1]
	return dpi.ColumnDesc{Name: c.name, SQLType: c.typ, Size: c.size, Scale: c.scale, Nullable: true}, dpi.Success
}

func (a *API) Fetch(stmt dpi.StmtHandle) dpi.Return {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, _, rt := a.lookup(stmt)
	if !rt.OK() {
		return rt
	}
	if st.cols == nil {
		return a.fail(st.id, CodeSequence, "no result set")
	}
	if st.row >= len(st.rows) {
		st.row = len(st.rows) + 1
		return dpi.NoData
	}
	st.row++
	for i := range st.offsets {
		st.offsets[i] = 0
		st.done[i] = false
	}
	return dpi.Success
}

func (a *API) GetData(stmt dpi.StmtHandle, col uint16, ctype dpi.CType, buf unsafe.Pointer, bufLen int64, ind *int64) dpi.Return {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, c, rt := a.lookup(stmt)
	if !rt.OK() {
		return rt
	}
	if st.row <= 0 || st.row > len(st.rows) {
		return a.fail(st.id, CodeSequence, "no current row")
	}
	if col == 0 || int(col) > len(st.cols) {
		return a.fail(st.id, CodeIndex, "column %d out of range", col)
	}
	if ind == nil {
		return a.fail(st.id, CodeSequence, "column %d: nil indicator", col)
	}
	i := int(col) - 1
	v := st.rows[st.row-1][i]
	if v == nil {
		*ind = dpi.NullData
		return dpi.Success
	}

	switch ctype {
	case dpi.CSBigInt:
		n, err := toInt64(v)
		if err != nil {
			return a.fail(st.id, CodeCast, "column %d: %v", col, err)
		}
		if buf == nil || bufLen < 8 {
			return a.fail(st.id, CodeSequence, "column %d: buffer too small", col)
		}
		*(*int64)(buf) = n
		*ind = 8
		return dpi.Success
	case dpi.CDouble:
		f, err := toFloat64(v)
		if err != nil {
			return a.fail(st.id, CodeCast, "column %d: %v", col, err)
		}
		if buf == nil || bufLen < 8 {
			return a.fail(st.id, CodeSequence, "column %d: buffer too small", col)
		}
		*(*float64)(buf) = f
		*ind = 8
		return dpi.Success
	case dpi.CTimestamp:
		ts, err := toTimestamp(v)
		if err != nil {
			return a.fail(st.id, CodeCast, "column %d: %v", col, err)
		}
		if buf == nil || bufLen < dpi.TimestampSize {
			return a.fail(st.id, CodeSequence, "column %d: buffer too small", col)
		}
		*(*dpi.Timestamp)(buf) = ts
		*ind = dpi.TimestampSize
		return dpi.Success
	case dpi.CChar, dpi.CBinary:
	default:
		return a.fail(st.id, CodeCast, "column %d: unsupported C type %v", col, ctype)
	}

	if st.done[i] {
		return dpi.NoData
	}
	data, err := toBytes(v, ctype, c.code)
	if err != nil {
		return a.fail(st.id, CodeCast, "column %d: %v", col, err)
	}
	room := bufLen
	if ctype == dpi.CChar {
		room--
	}
	if room < 0 || (room > 0 && buf == nil) {
		return a.fail(st.id, CodeSequence, "column %d: buffer too small", col)
	}
	off := st.offsets[i]
	remaining := len(data) - off
	n := remaining
	if int64(n) > room {
		n = int(room)
	}
	if bufLen > 0 {
		out := unsafe.Slice((*byte)(buf), bufLen)
		copy(out, data[off:off+n])
		if ctype == dpi.CChar {
			out[n] = 0
		}
	}
	*ind = int64(remaining)
	st.offsets[i] += n
	if n < remaining {
		return a.info(st.id, CodeTruncated, "string data, right truncated")
	}
	st.done[i] = true
	return dpi.Success
}

// txControl returns BEGIN, COMMIT or ROLLBACK when query is a bare
// transaction control statement.
func txControl(query string) string {
	q := strings.ToUpper(strings.TrimSpace(query))
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	switch q {
	case "BEGIN", "BEGIN TRANSACTION", "START TRANSACTION":
		return "BEGIN"
	case "COMMIT", "COMMIT WORK", "END", "END TRANSACTION":
		return "COMMIT"
	case "ROLLBACK", "ROLLBACK WORK":
		return "ROLLBACK"
	}
	return ""
}

// describe builds the column description from the declared type, falling
// back to the first non-NULL value for expressions.
func describe(name, decl string, data [][]any, i int) column {
	c := column{name: name}
	base, size, scale := splitDecl(decl)
	if base == "" {
		c.typ = inferType(data, i)
		return c
	}
	c.typ = declType(base)
	c.size = size
	c.scale = scale
	return c
}

func splitDecl(decl string) (base string, size uint64, scale int16) {
	d := strings.ToUpper(strings.TrimSpace(decl))
	open := strings.IndexByte(d, '(')
	if open < 0 {
		return d, 0, 0
	}
	base = strings.TrimSpace(d[:open])
	args := strings.TrimSuffix(strings.TrimSpace(d[open+1:]), ")")
	parts := strings.Split(args, ",")
	if n, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64); err == nil {
		size = n
	}
	if len(parts) > 1 {
		if n, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 16); err == nil {
			scale = int16(n)
		}
	}
	return base, size, scale
}

func declType(base string) dpi.SQLType {
	switch base {
	case "BIT", "BOOL", "BOOLEAN":
		return dpi.SQLBit
	case "TINYINT", "BYTE":
		return dpi.SQLTinyInt
	case "SMALLINT":
		return dpi.SQLSmallInt
	case "INT", "INTEGER", "MEDIUMINT":
		return dpi.SQLInt
	case "BIGINT":
		return dpi.SQLBigInt
	case "DEC", "DECIMAL", "NUMERIC", "NUMBER":
		return dpi.SQLDec
	case "FLOAT", "REAL":
		return dpi.SQLFloat
	case "DOUBLE", "DOUBLE PRECISION":
		return dpi.SQLDouble
	case "CHAR", "CHARACTER", "NCHAR":
		return dpi.SQLChar
	case "VARCHAR", "VARCHAR2", "NVARCHAR", "CHARACTER VARYING":
		return dpi.SQLVarchar
	case "TEXT", "CLOB", "LONGVARCHAR":
		return dpi.SQLClob
	case "BLOB", "IMAGE", "LONGVARBINARY":
		return dpi.SQLBlob
	case "BINARY":
		return dpi.SQLBinary
	case "VARBINARY":
		return dpi.SQLVarbinary
	case "DATE":
		return dpi.SQLDate
	case "TIME":
		return dpi.SQLTime
	case "TIMESTAMP", "DATETIME":
		return dpi.SQLTimestamp
	}
	return dpi.SQLUnknown
}

func inferType(data [][]any, i int) dpi.SQLType {
	for _, row := range data {
		switch row[i].(type) {
		case nil:
			continue
		case int64, bool:
			return dpi.SQLBigInt
		case float64:
			return dpi.SQLDouble
		case []byte:
			return dpi.SQLBlob
		default:
			return dpi.SQLVarchar
		}
	}
	return dpi.SQLVarchar
}
