//go:build go1.18

package domain

import (
	"strings"
	"testing"
	"unicode/utf8"
)

// FuzzParseRecordID tests that parsing never panics on arbitrary input and
// never accepts a value that would span more than one path segment.
//
// Justification: Trust boundary functions must handle arbitrary input safely.
func FuzzParseRecordID(f *testing.F) {
	f.Add("")
	f.Add("0190f0a1-7b6c-7d3e-9f00-1234567890ab")
	f.Add("../auditLogs")
	f.Add("a/b")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseRecordID(input)
		if err != nil {
			return
		}
		if strings.Contains(id.String(), "/") {
			t.Errorf("accepted id with separator: %q", input)
		}
		if !utf8.ValidString(input) {
			t.Error("Non-UTF8 input was accepted")
		}
		roundTrip, err := ParseRecordID(id.String())
		if err != nil || roundTrip != id {
			t.Error("Valid ID failed round-trip")
		}
	})
}
