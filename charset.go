package dmdb

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/SimonWaldherr/dmdb/internal/dpi"
)

// Charset is the client character set negotiated at login.
type Charset string

const (
	CharsetUTF8    Charset = "utf8"
	CharsetGB18030 Charset = "gb18030"
)

// ParseCharset accepts the common spellings of the supported charsets.
func ParseCharset(s string) (Charset, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "")) {
	case "", "utf8":
		return CharsetUTF8, nil
	case "gb18030":
		return CharsetGB18030, nil
	}
	return "", fmt.Errorf("dmdb: unsupported charset %q", s)
}

func (c Charset) localCode() uintptr {
	if c == CharsetGB18030 {
		return dpi.CodeGB18030
	}
	return dpi.CodeUTF8
}

// encode converts a Go string into client encoded bytes.
func (c Charset) encode(s string) ([]byte, error) {
	if c != CharsetGB18030 {
		return []byte(s), nil
	}
	b, err := simplifiedchinese.GB18030.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, &Error{Kind: KindParameter, Op: "encode", Msg: err.Error(), Err: err}
	}
	return b, nil
}

// decode converts client encoded bytes into a UTF-8 string.
func (c Charset) decode(b []byte) (string, error) {
	if c == CharsetGB18030 {
		out, err := simplifiedchinese.GB18030.NewDecoder().Bytes(b)
		if err != nil {
			return "", &Error{Kind: KindInternal, Op: "decode", Msg: err.Error(), Err: err}
		}
		// The decoder substitutes U+FFFD for malformed input. A real
		// U+FFFD in the data survives the round trip, a substitute does not.
		if bytes.ContainsRune(out, utf8.RuneError) {
			back, err := simplifiedchinese.GB18030.NewEncoder().Bytes(out)
			if err != nil || !bytes.Equal(back, b) {
				return "", newError(KindInternal, "decode", "text column is not valid GB18030")
			}
		}
		b = out
	}
	if !utf8.Valid(b) {
		return "", newError(KindInternal, "decode", "text column is not valid UTF-8")
	}
	return string(b), nil
}
