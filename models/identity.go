package models

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ClientID hashes "{name}_{phone}" exactly as given. Identical pairs always
// produce the same 32-char hex id; no trimming or case folding happens here.
func ClientID(name, phone string) string {
	return digest(name + "_" + phone)
}

// VisitID hashes "{timestamp}_{name}_{phone}". Two submissions for the same
// client within one second collide.
func VisitID(timestamp, name, phone string) string {
	return digest(timestamp + "_" + name + "_" + phone)
}

func digest(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Normalizer canonicalises identity inputs before they are hashed and stored.
type Normalizer func(name, phone string) (string, string)

// RawIdentity keeps inputs untouched, matching ids already on disk.
func RawIdentity(name, phone string) (string, string) {
	return name, phone
}

// CanonicalIdentity applies NFC, trims and collapses whitespace in the name
// and keeps only digits (and a leading '+') in the phone.
func CanonicalIdentity(name, phone string) (string, string) {
	name = strings.Join(strings.Fields(norm.NFC.String(name)), " ")

	phone = norm.NFC.String(strings.TrimSpace(phone))
	var b strings.Builder
	for i, r := range phone {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return name, b.String()
}
