package dmdb

import (
	"fmt"
	"unicode/utf8"

	"github.com/SimonWaldherr/dmdb/internal/dpi"
)

// MaxDiagMessage bounds the diagnostic text copied out of the native
// library, in bytes.
const MaxDiagMessage = 512

// diagnose fetches the first diagnostic record for a handle. When the
// native side has none, the message names the return code instead.
func diagnose(api dpi.API, ht dpi.HandleType, h dpi.Handle, rt dpi.Return) (int32, string) {
	code, msg, drt := api.GetDiagRec(ht, h, 1)
	if !drt.OK() || msg == "" {
		return code, fmt.Sprintf("%s handle returned %v", ht, rt)
	}
	return code, truncateDiag(msg)
}

func truncateDiag(msg string) string {
	if len(msg) <= MaxDiagMessage {
		return msg
	}
	n := MaxDiagMessage
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n]
}

// check turns a failed native return into an *Error carrying the handle's
// diagnostic. Successful returns, including SuccessWithInfo, yield nil.
func check(api dpi.API, rt dpi.Return, ht dpi.HandleType, h dpi.Handle, kind Kind, op string) error {
	if rt.OK() {
		return nil
	}
	code, msg := diagnose(api, ht, h, rt)
	return &Error{Kind: kind, Op: op, Code: code, Msg: msg}
}
