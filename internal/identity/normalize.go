// Package identity holds the matching policy for roster identity claims.
//
// Names are compared case-sensitively after Unicode NFC normalization,
// trimming, and collapsing runs of whitespace to a single space. Contact
// numbers keep only their digits, plus a leading '+' when one was given.
// The roster stores keys produced by these same functions.
package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NameKey returns the comparison key for a display name.
func NameKey(name string) string {
	return strings.Join(strings.Fields(norm.NFC.String(name)), " ")
}

// ContactKey returns the comparison key for a contact number.
func ContactKey(contact string) string {
	contact = strings.TrimSpace(norm.NFKC.String(contact))

	var b strings.Builder
	b.Grow(len(contact))
	if strings.HasPrefix(contact, "+") {
		b.WriteByte('+')
	}
	for _, r := range contact {
		if r < unicode.MaxASCII && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 1 && strings.HasPrefix(b.String(), "+") {
		return ""
	}
	return b.String()
}
