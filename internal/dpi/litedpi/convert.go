package litedpi

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/SimonWaldherr/dmdb/internal/dpi"
)

const timestampLayout = "%04d-%02d-%02d %02d:%02d:%02d.%06d"

// read copies the bound buffer into a value SQLite can store. Character
// data is converted from the session code to UTF-8.
func (b binding) read(code uintptr) (any, error) {
	if b.ind != nil && *b.ind == dpi.NullData {
		return nil, nil
	}
	switch b.ctype {
	case dpi.CSBigInt:
		if b.buf == nil || b.bufLen < 8 {
			return nil, fmt.Errorf("integer buffer too small (%d)", b.bufLen)
		}
		return *(*int64)(b.buf), nil
	case dpi.CDouble:
		if b.buf == nil || b.bufLen < 8 {
			return nil, fmt.Errorf("double buffer too small (%d)", b.bufLen)
		}
		return *(*float64)(b.buf), nil
	case dpi.CTimestamp:
		if b.buf == nil || b.bufLen < dpi.TimestampSize {
			return nil, fmt.Errorf("timestamp buffer too small (%d)", b.bufLen)
		}
		return formatTimestamp(*(*dpi.Timestamp)(b.buf)), nil
	case dpi.CChar, dpi.CBinary:
		n := b.bufLen
		if b.ind != nil && *b.ind >= 0 {
			n = *b.ind
		}
		if n > b.bufLen {
			return nil, fmt.Errorf("length %d exceeds buffer length %d", n, b.bufLen)
		}
		raw := make([]byte, n)
		if n > 0 {
			copy(raw, unsafe.Slice((*byte)(b.buf), n))
		}
		if b.ctype == dpi.CBinary {
			return raw, nil
		}
		s, err := decodeText(raw, code)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported C type %v", b.ctype)
}

func formatTimestamp(ts dpi.Timestamp) string {
	return fmt.Sprintf(timestampLayout, ts.Year, ts.Month, ts.Day, ts.Hour, ts.Minute, ts.Second, ts.Fraction/1000)
}

func parseTimestamp(s string) (dpi.Timestamp, error) {
	var ts dpi.Timestamp
	var micros uint32
	s = strings.TrimSpace(s)
	if strings.IndexByte(s, '.') < 0 {
		s += ".000000"
	}
	if _, err := fmt.Sscanf(s, "%d-%d-%d %d:%d:%d.%d",
		&ts.Year, &ts.Month, &ts.Day, &ts.Hour, &ts.Minute, &ts.Second, &micros); err != nil {
		return ts, fmt.Errorf("invalid timestamp %q: %v", s, err)
	}
	ts.Fraction = micros * 1000
	return ts, nil
}

func decodeText(raw []byte, code uintptr) (string, error) {
	if code != dpi.CodeGB18030 {
		return string(raw), nil
	}
	out, err := simplifiedchinese.GB18030.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode gb18030: %v", err)
	}
	return string(out), nil
}

func encodeText(s string, code uintptr) ([]byte, error) {
	if code != dpi.CodeGB18030 {
		return []byte(s), nil
	}
	out, err := simplifiedchinese.GB18030.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode gb18030: %v", err)
	}
	return out, nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		return parseInt(x)
	case []byte:
		return parseInt(string(x))
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return int64(f), nil
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", x)
		}
		return f, nil
	case []byte:
		return toFloat64(string(x))
	}
	return 0, fmt.Errorf("cannot convert %T to double", v)
}

func toTimestamp(v any) (dpi.Timestamp, error) {
	switch x := v.(type) {
	case time.Time:
		return dpi.TimestampOf(x), nil
	case string:
		return parseTimestamp(x)
	case []byte:
		return parseTimestamp(string(x))
	}
	return dpi.Timestamp{}, fmt.Errorf("cannot convert %T to timestamp", v)
}

func toBytes(v any, ctype dpi.CType, code uintptr) ([]byte, error) {
	var s string
	switch x := v.(type) {
	case []byte:
		if ctype == dpi.CBinary {
			return x, nil
		}
		s = string(x)
	case string:
		if ctype == dpi.CBinary {
			return []byte(x), nil
		}
		s = x
	case int64:
		s = strconv.FormatInt(x, 10)
	case float64:
		s = strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		s = strconv.FormatBool(x)
	case time.Time:
		s = formatTimestamp(dpi.TimestampOf(x))
	default:
		return nil, fmt.Errorf("cannot convert %T to character data", v)
	}
	return encodeText(s, code)
}
