package dpi

import (
	"fmt"
	"time"
)

// Handle types (opaque native pointers).
type Handle uintptr

type EnvHandle Handle
type ConHandle Handle
type StmtHandle Handle

// HandleType identifies the kind of handle passed to GetDiagRec.
type HandleType int16

const (
	HandleEnv  HandleType = 1
	HandleDBC  HandleType = 2
	HandleStmt HandleType = 3
)

func (t HandleType) String() string {
	switch t {
	case HandleEnv:
		return "env"
	case HandleDBC:
		return "dbc"
	case HandleStmt:
		return "stmt"
	default:
		return fmt.Sprintf("handle(%d)", int16(t))
	}
}

// Return is the status code of every native call.
type Return int16

const (
	Success         Return = 0
	SuccessWithInfo Return = 1
	NoData          Return = 100
	NeedData        Return = 99
	Error           Return = -1
	InvalidHandle   Return = -2
)

// OK reports whether rt is Success or SuccessWithInfo.
func (rt Return) OK() bool { return rt == Success || rt == SuccessWithInfo }

func (rt Return) String() string {
	switch rt {
	case Success:
		return "SUCCESS"
	case SuccessWithInfo:
		return "SUCCESS_WITH_INFO"
	case NoData:
		return "NO_DATA"
	case NeedData:
		return "NEED_DATA"
	case Error:
		return "ERROR"
	case InvalidHandle:
		return "INVALID_HANDLE"
	default:
		return fmt.Sprintf("RETURN(%d)", int16(rt))
	}
}

// Length/indicator sentinels.
const (
	NullData int64 = -1
	NoTotal  int64 = -4
)

// ParamDirection of a bound parameter. Only input parameters are used.
type ParamDirection int16

const (
	ParamInput ParamDirection = 1
)

// Attr is a connection attribute id.
type Attr int32

const (
	AttrAutocommit Attr = 102
	AttrLocalCode  Attr = 12345
)

// Autocommit attribute values.
const (
	AutocommitOff uintptr = 0
	AutocommitOn  uintptr = 1
)

// LocalCode values for AttrLocalCode.
const (
	CodeUTF8    uintptr = 1
	CodeGB18030 uintptr = 10
)

// SQLType is a native column/parameter type code.
type SQLType int16

const (
	SQLUnknown   SQLType = 0
	SQLChar      SQLType = 1
	SQLVarchar   SQLType = 2
	SQLBit       SQLType = 3
	SQLTinyInt   SQLType = 5
	SQLSmallInt  SQLType = 6
	SQLInt       SQLType = 7
	SQLBigInt    SQLType = 8
	SQLDec       SQLType = 9
	SQLFloat     SQLType = 10
	SQLDouble    SQLType = 11
	SQLBlob      SQLType = 12
	SQLDate      SQLType = 14
	SQLTime      SQLType = 15
	SQLTimestamp SQLType = 16
	SQLBinary    SQLType = 17
	SQLVarbinary SQLType = 18
	SQLClob      SQLType = 19
)

var sqlTypeNames = map[SQLType]string{
	SQLChar:      "CHAR",
	SQLVarchar:   "VARCHAR",
	SQLBit:       "BIT",
	SQLTinyInt:   "TINYINT",
	SQLSmallInt:  "SMALLINT",
	SQLInt:       "INT",
	SQLBigInt:    "BIGINT",
	SQLDec:       "DEC",
	SQLFloat:     "FLOAT",
	SQLDouble:    "DOUBLE",
	SQLBlob:      "BLOB",
	SQLDate:      "DATE",
	SQLTime:      "TIME",
	SQLTimestamp: "TIMESTAMP",
	SQLBinary:    "BINARY",
	SQLVarbinary: "VARBINARY",
	SQLClob:      "CLOB",
}

func (t SQLType) String() string {
	if n, ok := sqlTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("SQLTYPE(%d)", int16(t))
}

// CType is the C buffer type used for binding and GetData.
type CType int16

const (
	CChar      CType = 1
	CSBigInt   CType = -25
	CDouble    CType = 8
	CBinary    CType = -2
	CTimestamp CType = 93
)

func (t CType) String() string {
	switch t {
	case CChar:
		return "C_CHAR"
	case CSBigInt:
		return "C_SBIGINT"
	case CDouble:
		return "C_DOUBLE"
	case CBinary:
		return "C_BINARY"
	case CTimestamp:
		return "C_TIMESTAMP"
	default:
		return fmt.Sprintf("CTYPE(%d)", int16(t))
	}
}

// Timestamp has the layout of the native timestamp struct. Fraction is in
// nanoseconds.
type Timestamp struct {
	Year     int16
	Month    uint16
	Day      uint16
	Hour     uint16
	Minute   uint16
	Second   uint16
	Fraction uint32
}

// TimestampSize is the byte size of Timestamp as laid out in C.
const TimestampSize = 16

// Time converts ts to a time.Time in loc. Out of range fields normalize the
// way time.Date does.
func (ts Timestamp) Time(loc *time.Location) time.Time {
	return time.Date(int(ts.Year), time.Month(ts.Month), int(ts.Day),
		int(ts.Hour), int(ts.Minute), int(ts.Second), int(ts.Fraction), loc)
}

// TimestampOf converts t to a Timestamp using its wall clock fields.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp{
		Year:     int16(t.Year()),
		Month:    uint16(t.Month()),
		Day:      uint16(t.Day()),
		Hour:     uint16(t.Hour()),
		Minute:   uint16(t.Minute()),
		Second:   uint16(t.Second()),
		Fraction: uint32(t.Nanosecond()),
	}
}
