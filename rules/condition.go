package rules

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/infodancer/mailfiler/message"
)

var (
	defaultAddressHeaders = []string{"to", "cc", "bcc"}
	defaultRegexHeaders   = []string{"subject"}
)

// Condition is a single boolean test over a message header.
type Condition interface {
	Match(hv *message.HeaderView) bool
	String() string
	condition()
}

// matchSafely evaluates c, treating a panic as a non-match.
func matchSafely(c Condition, hv *message.HeaderView, logger *slog.Logger) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("condition failed, treating as non-match",
				slog.String("condition", c.String()),
				slog.Any("panic", r))
			ok = false
		}
	}()
	return c.Match(hv)
}

// Always matches every message. It stands for a negated "." condition.
type Always struct{}

func (Always) Match(*message.HeaderView) bool { return true }
func (Always) String() string                 { return "." }
func (Always) condition()                     {}

// Not negates a condition. A panic in the inner condition is not
// recovered here; it reaches the rule's recovery, which treats the whole
// condition as a non-match. Not(c) is the negation of c only for
// conditions that evaluate without panicking.
type Not struct {
	Cond Condition
}

func (n Not) Match(hv *message.HeaderView) bool { return !n.Cond.Match(hv) }
func (n Not) String() string                    { return "! " + n.Cond.String() }
func (Not) condition()                          {}

// KeyKind classifies an address condition key.
type KeyKind int

const (
	KeyAddress KeyKind = iota
	KeyDomain
	KeyGroup
)

// AddressKey is one term of an address condition: a literal core
// address, an @domain, or a group name.
type AddressKey struct {
	Kind  KeyKind
	Value string
}

func (k AddressKey) String() string {
	switch k.Kind {
	case KeyDomain:
		return "@" + k.Value
	case KeyGroup:
		return strings.ToUpper(k.Value)
	}
	return k.Value
}

// AddressCondition matches when any address in Headers equals a literal
// key, falls in a key domain, or belongs to a key group.
type AddressCondition struct {
	Headers []string
	Keys    []AddressKey

	addrs   message.AddressSet
	domains map[string]struct{}
}

// NewAddressCondition builds the condition and binds literal and domain
// keys. Group keys stay unresolved until bindGroups.
func NewAddressCondition(headers []string, keys []AddressKey) *AddressCondition {
	if len(headers) == 0 {
		headers = defaultAddressHeaders
	}
	c := &AddressCondition{
		Headers: headers,
		Keys:    keys,
		addrs:   make(message.AddressSet),
		domains: make(map[string]struct{}),
	}
	for _, k := range keys {
		switch k.Kind {
		case KeyAddress:
			c.addrs.Add(message.NormalizeAddress(k.Value))
		case KeyDomain:
			c.domains[string(message.NormalizeAddress(k.Value))] = struct{}{}
		}
	}
	return c
}

// Groups lists the group names the condition refers to.
func (c *AddressCondition) Groups() []string {
	var out []string
	for _, k := range c.Keys {
		if k.Kind == KeyGroup {
			out = append(out, k.Value)
		}
	}
	return out
}

func (c *AddressCondition) bindGroups(groups map[string]message.AddressSet) error {
	for _, name := range c.Groups() {
		members, ok := groups[name]
		if !ok {
			return fmt.Errorf("group %q not resolved", name)
		}
		c.addrs.Merge(members)
	}
	return nil
}

func (c *AddressCondition) Match(hv *message.HeaderView) bool {
	for a := range hv.Addresses(c.Headers...) {
		if c.addrs.Has(a) {
			return true
		}
		if len(c.domains) > 0 {
			if _, ok := c.domains[a.Domain()]; ok {
				return true
			}
		}
	}
	return false
}

func (c *AddressCondition) String() string {
	keys := make([]string, len(c.Keys))
	for i, k := range c.Keys {
		keys[i] = k.String()
	}
	return strings.Join(c.Headers, ",") + ":(" + strings.Join(keys, "|") + ")"
}

func (*AddressCondition) condition() {}

// RegexCondition matches when Pattern is found in any occurrence of any
// of Headers. The pattern is unanchored.
type RegexCondition struct {
	Headers []string
	Pattern string

	re *regexp.Regexp
}

// NewRegexCondition compiles pattern.
func NewRegexCondition(headers []string, pattern string) (*RegexCondition, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		headers = defaultRegexHeaders
	}
	return &RegexCondition{Headers: headers, Pattern: pattern, re: re}, nil
}

func (c *RegexCondition) Match(hv *message.HeaderView) bool {
	for _, h := range c.Headers {
		for _, v := range hv.Texts(h) {
			if c.re.MatchString(v) {
				return true
			}
		}
	}
	return false
}

func (c *RegexCondition) String() string {
	return strings.Join(c.Headers, ",") + ":/" + c.Pattern + "/"
}

func (*RegexCondition) condition() {}

// FunctionCondition applies a registered test function with a single
// argument to every occurrence of every header.
type FunctionCondition struct {
	Headers []string
	Name    string
	Arg     string

	fn TestFunc
}

func (c *FunctionCondition) Match(hv *message.HeaderView) bool {
	for _, h := range c.Headers {
		for _, v := range hv.Values(h) {
			if c.fn(v, c.Arg) {
				return true
			}
		}
	}
	return false
}

func (c *FunctionCondition) String() string {
	return fmt.Sprintf("%s.%s(%q)", strings.Join(c.Headers, ","), c.Name, c.Arg)
}

func (*FunctionCondition) condition() {}
