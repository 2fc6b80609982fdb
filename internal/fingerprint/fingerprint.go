// Package fingerprint derives stable identity keys for deduplicating search
// candidates across queries and runs. The same real-world entity captured
// under different phrasings, casings, or scripts should normalize to the
// same key; anything the normalizer cannot make stable is flagged
// merge-unsafe rather than risking a cross-entity merge.
package fingerprint

import (
	"hash/fnv"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Basis records which identity fields a fingerprint was derived from.
type Basis string

const (
	BasisNameAddress Basis = "name_address"
	BasisNamePhone   Basis = "name_phone"
	BasisNameOnly    Basis = "name_only"
)

// Fingerprint is a derived identity key. MergeUnsafe keys are stored but
// excluded from automatic duplicate matching: either the source fields were
// too sparse to identify the entity, or the name could not be romanized and
// an equality check against Latin-script captures would be meaningless.
type Fingerprint struct {
	Hash        string
	Basis       Basis
	MergeUnsafe bool
}

// stripMarks removes combining marks after NFD decomposition, so that
// "café" and "cafe" normalize identically.
var stripMarks = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Compute derives a fingerprint from a candidate's name, address, and phone.
// Preference order: name+address, then name+phone, then name alone (flagged
// merge-unsafe). A name that still contains non-Latin letters after
// normalization also flags the result merge-unsafe: we prefer a missed merge
// over a false one.
func Compute(name, address, phone string) Fingerprint {
	normName := Normalize(name)
	normAddr := Normalize(address)
	normPhone := normalizePhone(phone)

	unsafe := !isRomanized(normName) || normName == ""

	switch {
	case normAddr != "":
		return Fingerprint{
			Hash:        hashKey(normName + "|" + normAddr),
			Basis:       BasisNameAddress,
			MergeUnsafe: unsafe,
		}
	case normPhone != "":
		return Fingerprint{
			Hash:        hashKey(normName + "|" + normPhone),
			Basis:       BasisNamePhone,
			MergeUnsafe: unsafe,
		}
	default:
		return Fingerprint{
			Hash:        hashKey(normName),
			Basis:       BasisNameOnly,
			MergeUnsafe: true,
		}
	}
}

// Normalize lower-cases, strips diacritics and punctuation, and collapses
// whitespace. Letters outside Latin script survive normalization unchanged;
// isRomanized decides whether the result is usable for merging.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	stripped, _, err := transform.String(stripMarks, s)
	if err == nil {
		s = stripped
	}

	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// normalizePhone keeps digits only. A result shorter than 7 digits is
// treated as unusable.
func normalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() < 7 {
		return ""
	}
	return b.String()
}

// isRomanized reports whether every letter in s belongs to the Latin script.
// Digits and spaces are always fine.
func isRomanized(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return false
		}
	}
	return true
}

func hashKey(key string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return strconv.FormatUint(h.Sum64(), 16)
}
