package dmdb

import (
	"bytes"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// Value is a dynamically typed SQL value. The concrete type is always one
// of Null, Integer, Float, Text, Blob or DateTime.
type Value interface {
	// Type reports the variant.
	Type() ValueType
	String() string
	isValue()
}

// ValueType names a Value variant.
type ValueType uint8

const (
	TypeNull ValueType = iota
	TypeInteger
	TypeFloat
	TypeText
	TypeBlob
	TypeDateTime
)

func (t ValueType) String() string {
	switch t {
	case TypeNull:
		return "NULL"
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "FLOAT"
	case TypeText:
		return "TEXT"
	case TypeBlob:
		return "BLOB"
	case TypeDateTime:
		return "DATETIME"
	}
	return "ValueType(" + strconv.Itoa(int(t)) + ")"
}

type (
	// Null is SQL NULL.
	Null struct{}
	// Integer is a signed 64-bit integer.
	Integer int64
	// Float is a 64-bit IEEE float.
	Float float64
	// Text is character data. Results are valid UTF-8 once decoded.
	Text string
	// Blob is binary data.
	Blob []byte
)

// DateTime is a calendar timestamp with microsecond resolution. It carries
// no time zone.
type DateTime struct {
	Year        uint16
	Month       uint8
	Day         uint8
	Hour        uint8
	Minute      uint8
	Second      uint8
	Microsecond uint32
}

func (Null) Type() ValueType     { return TypeNull }
func (Integer) Type() ValueType  { return TypeInteger }
func (Float) Type() ValueType    { return TypeFloat }
func (Text) Type() ValueType     { return TypeText }
func (Blob) Type() ValueType     { return TypeBlob }
func (DateTime) Type() ValueType { return TypeDateTime }

func (Null) String() string       { return "NULL" }
func (v Integer) String() string  { return strconv.FormatInt(int64(v), 10) }
func (v Float) String() string    { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (v Text) String() string     { return string(v) }
func (v Blob) String() string     { return "x'" + hex.EncodeToString(v) + "'" }
func (v DateTime) String() string { return v.Format() }

func (Null) isValue()     {}
func (Integer) isValue()  {}
func (Float) isValue()    {}
func (Text) isValue()     {}
func (Blob) isValue()     {}
func (DateTime) isValue() {}

// Format renders d as YYYY-MM-DD HH:MM:SS.ffffff.
func (d DateTime) Format() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%06d",
		d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second, d.Microsecond)
}

// Time returns d as a time.Time in UTC.
func (d DateTime) Time() time.Time {
	return time.Date(int(d.Year), time.Month(d.Month), int(d.Day),
		int(d.Hour), int(d.Minute), int(d.Second), int(d.Microsecond)*1000, time.UTC)
}

// DateTimeOf takes the wall clock fields of t, truncated to microseconds.
func DateTimeOf(t time.Time) DateTime {
	return DateTime{
		Year:        uint16(t.Year()),
		Month:       uint8(t.Month()),
		Day:         uint8(t.Day()),
		Hour:        uint8(t.Hour()),
		Minute:      uint8(t.Minute()),
		Second:      uint8(t.Second()),
		Microsecond: uint32(t.Nanosecond() / 1000),
	}
}

// Equal reports whether a and b are the same variant with the same
// content.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	if ab, ok := a.(Blob); ok {
		bb, ok := b.(Blob)
		return ok && bytes.Equal(ab, bb)
	}
	if _, ok := b.(Blob); ok {
		return false
	}
	return a == b
}

// Valuer is implemented by types that convert themselves into a Value
// when passed as a parameter.
type Valuer interface {
	DMValue() (Value, error)
}

// Unmarshaler is implemented by destinations that decode a Value
// themselves.
type Unmarshaler interface {
	UnmarshalDM(Value) error
}

// ToValue converts a Go value into a Value. nil, a nil pointer and a nil
// []byte become Null; pointers are dereferenced; sized integers become
// Integer, unsigned values through a two's complement conversion; bool
// becomes Integer 0 or 1; time.Time becomes its DateTime. Valuer and
// driver.Valuer implementations are consulted.
func ToValue(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return v, nil
	case Valuer:
		return v.DMValue()
	case bool:
		if v {
			return Integer(1), nil
		}
		return Integer(0), nil
	case int:
		return Integer(v), nil
	case int8:
		return Integer(v), nil
	case int16:
		return Integer(v), nil
	case int32:
		return Integer(v), nil
	case int64:
		return Integer(v), nil
	case uint:
		return Integer(v), nil
	case uint8:
		return Integer(v), nil
	case uint16:
		return Integer(v), nil
	case uint32:
		return Integer(v), nil
	case uint64:
		return Integer(v), nil
	case float32:
		return Float(v), nil
	case float64:
		return Float(v), nil
	case string:
		return Text(v), nil
	case []byte:
		if v == nil {
			return Null{}, nil
		}
		return Blob(v), nil
	case time.Time:
		return DateTimeOf(v), nil
	case driver.Valuer:
		dv, err := callValuer(v)
		if err != nil {
			return nil, &Error{Kind: KindParameter, Op: "convert", Msg: err.Error(), Err: err}
		}
		if _, again := dv.(driver.Valuer); again {
			return nil, newError(KindParameter, "convert", "%T.Value returned another driver.Valuer", v)
		}
		return ToValue(dv)
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return Null{}, nil
		}
		return ToValue(rv.Elem().Interface())
	case reflect.Bool:
		return ToValue(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Integer(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Integer(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.String:
		return Text(rv.String()), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			if rv.IsNil() {
				return Null{}, nil
			}
			return Blob(rv.Bytes()), nil
		}
	}
	return nil, newError(KindParameter, "convert", "unsupported parameter type %T", x)
}

// callValuer calls Value on a driver.Valuer, treating a nil pointer
// receiver as NULL the way database/sql does.
func callValuer(vr driver.Valuer) (driver.Value, error) {
	if rv := reflect.ValueOf(vr); rv.Kind() == reflect.Pointer && rv.IsNil() &&
		rv.Type().Elem().Implements(reflect.TypeFor[driver.Valuer]()) {
		return nil, nil
	}
	return vr.Value()
}

// FromValue stores v into dest, which must be a non-nil pointer.
//
// Integer fits any integer or float destination with Go conversion
// semantics and a bool as v != 0; Float fits float and integer
// destinations, truncating toward zero; Text fits string and []byte; Blob
// fits []byte; DateTime fits DateTime and time.Time (UTC). A destination of
// pointer-to-pointer type is optional: Null sets it to nil, anything else
// allocates and converts into the pointee. *Value, Unmarshaler and
// sql.Scanner destinations accept every variant.
func FromValue(v Value, dest any) error {
	if v == nil {
		v = Null{}
	}
	switch d := dest.(type) {
	case nil:
		return newError(KindFromValue, "scan", "destination is nil")
	case *Value:
		*d = v
		return nil
	case Unmarshaler:
		return d.UnmarshalDM(v)
	case sql.Scanner:
		return d.Scan(driverValue(v))
	case *string:
		if s, ok := v.(Text); ok {
			*d = string(s)
			return nil
		}
	case *[]byte:
		switch x := v.(type) {
		case Blob:
			*d = bytes.Clone(x)
			if *d == nil {
				*d = []byte{}
			}
			return nil
		case Text:
			*d = []byte(x)
			return nil
		}
	case *DateTime:
		if t, ok := v.(DateTime); ok {
			*d = t
			return nil
		}
	case *time.Time:
		if t, ok := v.(DateTime); ok {
			*d = t.Time()
			return nil
		}
	}

	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return newError(KindFromValue, "scan", "destination %T is not a non-nil pointer", dest)
	}
	ev := rv.Elem()
	if ev.Kind() == reflect.Pointer {
		if _, null := v.(Null); null {
			ev.SetZero()
			return nil
		}
		p := reflect.New(ev.Type().Elem())
		if err := FromValue(v, p.Interface()); err != nil {
			return err
		}
		ev.Set(p)
		return nil
	}

	switch x := v.(type) {
	case Integer:
		switch ev.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			ev.SetInt(int64(x))
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			ev.SetUint(uint64(x))
			return nil
		case reflect.Float32, reflect.Float64:
			ev.SetFloat(float64(x))
			return nil
		case reflect.Bool:
			ev.SetBool(x != 0)
			return nil
		}
	case Float:
		switch ev.Kind() {
		case reflect.Float32, reflect.Float64:
			ev.SetFloat(float64(x))
			return nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			ev.SetInt(int64(x))
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			ev.SetUint(uint64(x))
			return nil
		}
	case Text:
		if ev.Kind() == reflect.String {
			ev.SetString(string(x))
			return nil
		}
	case Blob:
		if ev.Kind() == reflect.Slice && ev.Type().Elem().Kind() == reflect.Uint8 {
			ev.SetBytes(bytes.Clone(x))
			return nil
		}
	}
	return newError(KindFromValue, "scan", "cannot convert %s into %s", v.Type(), ev.Type())
}

// driverValue maps v onto the database/sql value set.
func driverValue(v Value) driver.Value {
	switch x := v.(type) {
	case Integer:
		return int64(x)
	case Float:
		return float64(x)
	case Text:
		return string(x)
	case Blob:
		return []byte(x)
	case DateTime:
		return x.Time()
	}
	return nil
}

// Get converts column i (1-based) of row into a T.
func Get[T any](row *Row, i int) (T, error) {
	var out T
	v, err := row.Value(i)
	if err != nil {
		return out, err
	}
	if err := FromValue(v, &out); err != nil {
		return out, err
	}
	return out, nil
}
