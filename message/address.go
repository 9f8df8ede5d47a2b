package message

import (
	"sort"
	"strings"

	"github.com/emersion/go-message/mail"
	"golang.org/x/text/cases"
)

// CoreAddress is a bare localpart@domain address with display name and
// comments removed, case-folded for comparison.
type CoreAddress string

// ParseCoreAddress reduces a single address in any RFC 5322 form
// ("Bill" <bill@x>, bill@x (Bill), <bill@x>) to its core address.
func ParseCoreAddress(text string) (CoreAddress, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(text))
	if err != nil {
		return "", err
	}
	return NormalizeAddress(addr.Address), nil
}

// NormalizeAddress case-folds an already bare address.
func NormalizeAddress(addr string) CoreAddress {
	return CoreAddress(cases.Fold().String(strings.TrimSpace(addr)))
}

// ParseCoreAddressList parses an address list, returning the core addresses
// that could be parsed and the entries that could not.
func ParseCoreAddressList(text string) ([]CoreAddress, []string) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if list, err := mail.ParseAddressList(text); err == nil {
		out := make([]CoreAddress, 0, len(list))
		for _, a := range list {
			out = append(out, NormalizeAddress(a.Address))
		}
		return out, nil
	}

	// One bad entry fails the whole list; retry entry by entry.
	var (
		out []CoreAddress
		bad []string
	)
	for _, part := range splitAddressList(text) {
		if strings.TrimSpace(part) == "" {
			continue
		}
		ca, err := ParseCoreAddress(part)
		if err != nil {
			bad = append(bad, part)
			continue
		}
		out = append(out, ca)
	}
	return out, bad
}

// splitAddressList splits on commas that are outside quotes, angle
// brackets and comments.
func splitAddressList(text string) []string {
	var (
		parts   []string
		start   int
		quoted  bool
		angle   int
		comment int
	)
	for i := 0; i < len(text); i++ {
		switch c := text[i]; {
		case c == '\\' && (quoted || comment > 0):
			i++
		case c == '"' && comment == 0:
			quoted = !quoted
		case quoted:
		case c == '(':
			comment++
		case c == ')' && comment > 0:
			comment--
		case comment > 0:
		case c == '<':
			angle++
		case c == '>' && angle > 0:
			angle--
		case c == ',' && angle == 0:
			parts = append(parts, text[start:i])
			start = i + 1
		}
	}
	return append(parts, text[start:])
}

// Domain returns the part after the last @, or "" if there is none.
func (a CoreAddress) Domain() string {
	s := string(a)
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		return s[i+1:]
	}
	return ""
}

// LocalPart returns the part before the last @.
func (a CoreAddress) LocalPart() string {
	s := string(a)
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		return s[:i]
	}
	return s
}

func (a CoreAddress) String() string { return string(a) }

// AddressSet is a set of core addresses.
type AddressSet map[CoreAddress]struct{}

// NewAddressSet builds a set from addresses.
func NewAddressSet(addrs ...CoreAddress) AddressSet {
	s := make(AddressSet, len(addrs))
	for _, a := range addrs {
		s[a] = struct{}{}
	}
	return s
}

// Add inserts a.
func (s AddressSet) Add(a CoreAddress) { s[a] = struct{}{} }

// Has reports whether a is in the set.
func (s AddressSet) Has(a CoreAddress) bool {
	_, ok := s[a]
	return ok
}

// Merge adds every member of other.
func (s AddressSet) Merge(other AddressSet) {
	for a := range other {
		s[a] = struct{}{}
	}
}

// Intersects reports whether s and other share a member.
func (s AddressSet) Intersects(other AddressSet) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for a := range small {
		if large.Has(a) {
			return true
		}
	}
	return false
}

// Sorted returns the members in lexical order.
func (s AddressSet) Sorted() []CoreAddress {
	out := make([]CoreAddress, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
