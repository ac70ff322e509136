package dmdb

import (
	"bytes"
	"unsafe"

	"github.com/SimonWaldherr/dmdb/internal/dpi"
)

// Bind metadata per variant.
const (
	integerPrecision  = 19
	dateTimePrecision = 26
	dateTimeScale     = 6
)

// arena owns the memory behind the parameters bound on a statement. The
// native side may read those addresses at any later Exec, so nothing in it
// is released or reused until the next bind or until the statement is
// freed.
type arena struct {
	values     []Value
	ints       []*int64
	floats     []*float64
	bytes      [][]byte
	timestamps []*dpi.Timestamp
	indicators []*int64
}

func (a *arena) reset() {
	clear(a.values)
	clear(a.ints)
	clear(a.floats)
	clear(a.bytes)
	clear(a.timestamps)
	clear(a.indicators)
	a.values = a.values[:0]
	a.ints = a.ints[:0]
	a.floats = a.floats[:0]
	a.bytes = a.bytes[:0]
	a.timestamps = a.timestamps[:0]
	a.indicators = a.indicators[:0]
}

// param is one BindParam call worth of arguments.
type param struct {
	ctype     dpi.CType
	sqlType   dpi.SQLType
	precision uint64
	scale     int16
	buf       unsafe.Pointer
	bufLen    int64
	ind       *int64
}

// add stores v in the arena and describes how to bind it.
func (a *arena) add(v Value, cfg *Config) (param, error) {
	var p param
	switch x := v.(type) {
	case Null:
		return p, newError(KindParameter, "bind", "NULL cannot be bound as a parameter")
	case Integer:
		n := new(int64)
		*n = int64(x)
		a.ints = append(a.ints, n)
		p = param{ctype: dpi.CSBigInt, sqlType: dpi.SQLBigInt, precision: integerPrecision,
			buf: unsafe.Pointer(n), bufLen: 8}
	case Float:
		f := new(float64)
		*f = float64(x)
		a.floats = append(a.floats, f)
		p = param{ctype: dpi.CDouble, sqlType: dpi.SQLDouble, precision: cfg.FloatPrecision,
			scale: cfg.FloatScale, buf: unsafe.Pointer(f), bufLen: 8}
	case Text:
		b, err := cfg.Charset.encode(string(x))
		if err != nil {
			return p, err
		}
		p = a.addBytes(b, dpi.CChar, dpi.SQLClob)
	case Blob:
		p = a.addBytes(bytes.Clone(x), dpi.CBinary, dpi.SQLBlob)
	case DateTime:
		if x.Microsecond > 999999 {
			return p, newError(KindParameter, "bind", "microsecond %d out of range", x.Microsecond)
		}
		ts := &dpi.Timestamp{
			Year:     int16(x.Year),
			Month:    uint16(x.Month),
			Day:      uint16(x.Day),
			Hour:     uint16(x.Hour),
			Minute:   uint16(x.Minute),
			Second:   uint16(x.Second),
			Fraction: x.Microsecond * 1000,
		}
		a.timestamps = append(a.timestamps, ts)
		p = param{ctype: dpi.CTimestamp, sqlType: dpi.SQLTimestamp, precision: dateTimePrecision,
			scale: dateTimeScale, buf: unsafe.Pointer(ts), bufLen: dpi.TimestampSize}
	default:
		return p, newError(KindInternal, "bind", "unhandled value type %T", v)
	}
	ind := new(int64)
	*ind = p.bufLen
	a.indicators = append(a.indicators, ind)
	a.values = append(a.values, v)
	p.ind = ind
	return p, nil
}

// addBytes keeps b alive in the arena. An empty value still gets a valid
// one byte allocation so the bound address is never nil.
func (a *arena) addBytes(b []byte, ctype dpi.CType, sqlType dpi.SQLType) param {
	n := len(b)
	if n == 0 {
		b = make([]byte, 1)
	}
	a.bytes = append(a.bytes, b)
	return param{ctype: ctype, sqlType: sqlType, precision: uint64(n),
		buf: unsafe.Pointer(&b[0]), bufLen: int64(n)}
}
