// Package phone normalizes Brazilian phone numbers and derives the
// lookup keys used to match WhatsApp threads.
package phone

import "strings"

const (
	countryCode = "55"
	// SuffixLen is the number of trailing digits that identify a subscriber
	// regardless of country code or the mobile ninth digit.
	SuffixLen = 8
	// JIDDomain is appended to digits to form a WhatsApp user JID.
	JIDDomain = "@s.whatsapp.net"
)

// Digits strips everything except 0-9. A JID domain, if present, is dropped first.
func Digits(raw string) string {
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		raw = raw[:i]
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize returns the number with country code, digits only. Trunk
// prefixes (leading zeros) are removed and 10 or 11 digit national numbers
// get the 55 prefix. Anything shorter than 10 digits is returned as is.
func Normalize(raw string) string {
	d := strings.TrimLeft(Digits(raw), "0")
	switch len(d) {
	case 10, 11:
		return countryCode + d
	default:
		return d
	}
}

// Valid reports whether raw has at least 10 digits after normalization.
func Valid(raw string) bool {
	return len(Normalize(raw)) >= 10
}

// Suffix returns the last SuffixLen digits, or everything when shorter.
func Suffix(raw string) string {
	d := Digits(raw)
	if len(d) <= SuffixLen {
		return d
	}
	return d[len(d)-SuffixLen:]
}

// Variants returns the normalized number plus its counterpart with or
// without the mobile ninth digit (55 DD 9XXXXXXXX vs 55 DD XXXXXXXX).
func Variants(raw string) []string {
	n := Normalize(raw)
	if n == "" {
		return nil
	}
	out := []string{n}
	if !strings.HasPrefix(n, countryCode) {
		return out
	}
	switch len(n) {
	case 13:
		if n[4] == '9' {
			out = append(out, n[:4]+n[5:])
		}
	case 12:
		out = append(out, n[:4]+"9"+n[4:])
	}
	return out
}

// JIDs turns Variants into WhatsApp JIDs, keeping the bare digits too since
// some gateways store remote ids without the domain.
func JIDs(raw string) []string {
	vs := Variants(raw)
	out := make([]string, 0, len(vs)*2)
	for _, v := range vs {
		out = append(out, v+JIDDomain, v)
	}
	return out
}

// Mask hides all but the last four digits for logging.
func Mask(raw string) string {
	d := Digits(raw)
	if len(d) <= 4 {
		return strings.Repeat("*", len(d))
	}
	return strings.Repeat("*", len(d)-4) + d[len(d)-4:]
}
