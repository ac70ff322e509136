package dmdb

import (
	"bytes"
	"strconv"
	"unsafe"

	"github.com/SimonWaldherr/dmdb/internal/dpi"
)

// ColumnInfo describes one result column.
type ColumnInfo struct {
	Name     string
	TypeName string
	TypeCode int16
	Length   uint64
	Scale    int16
	Nullable bool
}

// Rows is a forward only cursor over a result set.
type Rows struct {
	stmt     *Stmt
	cols     []ColumnInfo
	types    []dpi.SQLType
	gen      uint64
	done     bool
	closed   bool
	ownsStmt bool
}

func newRows(s *Stmt) (*Rows, error) {
	api, h := s.sess.api, s.handle
	n, rt := api.NumberColumns(h)
	if err := check(api, rt, dpi.HandleStmt, dpi.Handle(h), KindStatement, "number columns"); err != nil {
		return nil, err
	}
	r := &Rows{stmt: s, cols: make([]ColumnInfo, n), types: make([]dpi.SQLType, n)}
	for i := range r.cols {
		d, rt := api.DescColumn(h, uint16(i+1))
		if err := check(api, rt, dpi.HandleStmt, dpi.Handle(h), KindStatement,
			"describe column "+strconv.Itoa(i+1)); err != nil {
			return nil, err
		}
		r.types[i] = d.SQLType
		r.cols[i] = ColumnInfo{
			Name:     d.Name,
			TypeName: d.SQLType.String(),
			TypeCode: int16(d.SQLType),
			Length:   d.Size,
			Scale:    d.Scale,
			Nullable: d.Nullable,
		}
	}
	return r, nil
}

// Columns returns the result column descriptions.
func (r *Rows) Columns() []ColumnInfo { return r.cols }

func (r *Rows) usable() error {
	if r.closed {
		return newError(KindInternal, "use", "rows are closed")
	}
	if err := r.stmt.usable(); err != nil {
		return err
	}
	if r.stmt.rows != r {
		return newError(KindInternal, "use", "cursor was superseded by a later execution")
	}
	return nil
}

// Next advances to the next row. It returns a nil Row and nil error once
// the result set is exhausted. The returned Row is only valid until the
// following call to Next.
func (r *Rows) Next() (*Row, error) {
	if r.done {
		return nil, nil
	}
	if err := r.usable(); err != nil {
		return nil, err
	}
	rt := r.stmt.sess.api.Fetch(r.stmt.handle)
	if rt == dpi.NoData {
		r.done = true
		r.gen++
		return nil, nil
	}
	if err := check(r.stmt.sess.api, rt, dpi.HandleStmt, dpi.Handle(r.stmt.handle),
		KindStatement, "fetch"); err != nil {
		return nil, r.stmt.fail(err)
	}
	r.gen++
	return &Row{rows: r, gen: r.gen}, nil
}

// Close releases the cursor. Statements opened by Conn.Query or Tx.Query
// are freed with it.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.gen++
	if r.stmt.rows == r {
		r.stmt.rows = nil
	}
	if r.ownsStmt {
		return r.stmt.Close()
	}
	return nil
}

// Row is the current row of a Rows. Decoded columns are cached, so a
// column may be read more than once.
type Row struct {
	rows  *Rows
	gen   uint64
	cache map[int]Value
}

// Len returns the number of columns.
func (r *Row) Len() int { return len(r.rows.cols) }

// Value decodes column i, counted from 1.
func (r *Row) Value(i int) (Value, error) {
	if r.gen != r.rows.gen {
		return nil, newError(KindInternal, "use", "row is no longer current")
	}
	if err := r.rows.usable(); err != nil {
		return nil, err
	}
	if i < 1 || i > len(r.rows.cols) {
		return nil, &Error{Kind: KindIndex, Op: "get column",
			Msg: "column index " + strconv.Itoa(i) + " out of range [1, " + strconv.Itoa(len(r.rows.cols)) + "]"}
	}
	if v, ok := r.cache[i]; ok {
		return v, nil
	}
	v, err := r.rows.decode(i)
	if err != nil {
		return nil, r.rows.stmt.fail(err)
	}
	if r.cache == nil {
		r.cache = make(map[int]Value, len(r.rows.cols))
	}
	r.cache[i] = v
	return v, nil
}

// ScanColumn decodes column i into dest, see FromValue.
func (r *Row) ScanColumn(i int, dest any) error {
	v, err := r.Value(i)
	if err != nil {
		return err
	}
	return FromValue(v, dest)
}

// Scan decodes the row's columns, in order, into dest.
func (r *Row) Scan(dest ...any) error {
	if len(dest) != r.Len() {
		return newError(KindIndex, "scan", "expected %d destination arguments, got %d", r.Len(), len(dest))
	}
	for i, d := range dest {
		if err := r.ScanColumn(i+1, d); err != nil {
			return err
		}
	}
	return nil
}

// Values decodes every column of the row.
func (r *Row) Values() ([]Value, error) {
	out := make([]Value, r.Len())
	for i := range out {
		v, err := r.Value(i + 1)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// decode reads column i of the current row and maps the native type onto
// a Value variant.
func (r *Rows) decode(i int) (Value, error) {
	op := "get column " + strconv.Itoa(i)
	switch t := r.types[i-1]; t {
	case dpi.SQLChar, dpi.SQLVarchar, dpi.SQLClob:
		b, null, err := r.readStream(i, dpi.CChar, op)
		if err != nil || null {
			return Null{}, err
		}
		s, err := r.stmt.sess.cfg.Charset.decode(b)
		if err != nil {
			if e, ok := err.(*Error); ok {
				e.Op = op
			}
			return nil, err
		}
		return Text(s), nil
	case dpi.SQLBlob, dpi.SQLBinary, dpi.SQLVarbinary:
		b, null, err := r.readStream(i, dpi.CBinary, op)
		if err != nil || null {
			return Null{}, err
		}
		return Blob(b), nil
	case dpi.SQLBit, dpi.SQLTinyInt, dpi.SQLSmallInt, dpi.SQLInt, dpi.SQLBigInt:
		var n int64
		null, err := r.readFixed(i, dpi.CSBigInt, unsafe.Pointer(&n), 8, op)
		if err != nil || null {
			return Null{}, err
		}
		return Integer(n), nil
	case dpi.SQLDec, dpi.SQLFloat, dpi.SQLDouble:
		var f float64
		null, err := r.readFixed(i, dpi.CDouble, unsafe.Pointer(&f), 8, op)
		if err != nil || null {
			return Null{}, err
		}
		return Float(f), nil
	case dpi.SQLTimestamp:
		var ts dpi.Timestamp
		null, err := r.readFixed(i, dpi.CTimestamp, unsafe.Pointer(&ts), dpi.TimestampSize, op)
		if err != nil || null {
			return Null{}, err
		}
		return DateTime{
			Year:        uint16(ts.Year),
			Month:       uint8(ts.Month),
			Day:         uint8(ts.Day),
			Hour:        uint8(ts.Hour),
			Minute:      uint8(ts.Minute),
			Second:      uint8(ts.Second),
			Microsecond: ts.Fraction / 1000,
		}, nil
	default:
		return nil, newError(KindInternal, op, "unsupported column type %v of column %q", t, r.cols[i-1].Name)
	}
}

// readFixed performs a single GetData call into a fixed size buffer. A
// negative indicator means NULL.
func (r *Rows) readFixed(i int, ctype dpi.CType, buf unsafe.Pointer, size int64, op string) (bool, error) {
	api, h := r.stmt.sess.api, r.stmt.handle
	var ind int64
	rt := api.GetData(h, uint16(i), ctype, buf, size, &ind)
	if err := check(api, rt, dpi.HandleStmt, dpi.Handle(h), KindStatement, op); err != nil {
		return false, err
	}
	return ind < 0, nil
}

// readStream reads a variable length column in ChunkSize pieces until the
// native side reports the final piece or no more data.
func (r *Rows) readStream(i int, ctype dpi.CType, op string) ([]byte, bool, error) {
	api, h := r.stmt.sess.api, r.stmt.handle
	chunk := make([]byte, r.stmt.sess.cfg.ChunkSize)
	room := int64(len(chunk))
	if ctype == dpi.CChar {
		room--
	}
	out := []byte{}
	for first := true; ; first = false {
		var ind int64
		rt := api.GetData(h, uint16(i), ctype, unsafe.Pointer(&chunk[0]), int64(len(chunk)), &ind)
		if rt == dpi.NoData {
			return out, false, nil
		}
		if err := check(api, rt, dpi.HandleStmt, dpi.Handle(h), KindStatement, op); err != nil {
			return nil, false, err
		}
		if ind == dpi.NullData {
			if first {
				return nil, true, nil
			}
			return nil, false, newError(KindStatement, op, "NULL indicator after partial data")
		}
		n := room
		switch {
		case ind >= 0 && ind < room:
			n = ind
		case ind < 0 && rt == dpi.Success:
			// A final piece without a length: only character data marks its
			// end, with the terminating NUL.
			if ctype != dpi.CChar {
				return nil, false, newError(KindStatement, op, "final piece reported without a length")
			}
			end := bytes.IndexByte(chunk[:room+1], 0)
			if end < 0 {
				return nil, false, newError(KindStatement, op, "final piece reported without a length or terminator")
			}
			n = int64(end)
		}
		out = append(out, chunk[:n]...)
		if rt == dpi.Success || (ind >= 0 && ind <= room) {
			return out, false, nil
		}
		if n == 0 {
			return nil, false, newError(KindInternal, op, "no progress reading column data")
		}
	}
}
