package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	mferrors "github.com/infodancer/mailfiler/errors"
	"github.com/infodancer/mailfiler/message"
)

var (
	reHeaderPrefix = regexp.MustCompile(`^[A-Za-z][-A-Za-z0-9]*(,[A-Za-z][-A-Za-z0-9]*)*:`)
	reFuncName     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*`)
	reAssign       = regexp.MustCompile(`(?s)^([A-Za-z_][A-Za-z0-9_]*)=(.*)$`)
	reFuncCond     = regexp.MustCompile(`(?s)^([A-Za-z][-A-Za-z0-9]*(?:,[A-Za-z][-A-Za-z0-9]*)*)\.([A-Za-z_][A-Za-z0-9_]*)\((.*)\)$`)
	reGroupName    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	reUpperGroup   = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	reInt          = regexp.MustCompile(`^-?[0-9]+$`)
)

func syntaxErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", mferrors.ErrSyntax, fmt.Sprintf(format, args...))
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

func skipWhite(s string, offset int) int {
	for offset < len(s) && isSpace(s[offset]) {
		offset++
	}
	return offset
}

func getNonWhite(s string, offset int) (string, int) {
	start := offset
	for offset < len(s) && !isSpace(s[offset]) {
		offset++
	}
	return s[start:offset], offset
}

// getQString parses a double-quoted string at offset, removing one level
// of backslash escaping. It returns the text and the offset after the
// closing quote.
func getQString(s string, offset int) (string, int, error) {
	if offset >= len(s) || s[offset] != '"' {
		return "", offset, syntaxErr("expected quoted string at offset %d", offset)
	}
	var sb strings.Builder
	for i := offset + 1; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			i++
			if i >= len(s) {
				return "", offset, syntaxErr("unterminated quoted string")
			}
			sb.WriteByte(s[i])
		case '"':
			return sb.String(), i + 1, nil
		default:
			sb.WriteByte(c)
		}
	}
	return "", offset, syntaxErr("unterminated quoted string")
}

func splitHeaderNames(prefix string) []string {
	prefix = strings.TrimSuffix(prefix, ":")
	var out []string
	for _, h := range strings.Split(prefix, ",") {
		if h != "" {
			out = append(out, strings.ToLower(h))
		}
	}
	return out
}

// ParseTargets parses a comma-separated target list starting at offset
// and returns the targets and the offset of the first character after
// the list.
func ParseTargets(s string, offset int) ([]Target, int, error) {
	var targets []Target
	for offset < len(s) && !isSpace(s[offset]) {
		t, next, err := parseTarget(s, offset)
		if err != nil {
			return nil, offset, err
		}
		targets = append(targets, t)
		offset = next
		if offset < len(s) && s[offset] == ',' {
			offset++
			continue
		}
		break
	}
	return targets, offset, nil
}

// ParseTargetList parses a complete target list such as the value of
// $DEFAULT; surrounding whitespace is ignored.
func ParseTargetList(s string) ([]Target, error) {
	s = strings.TrimSpace(s)
	targets, offset, err := ParseTargets(s, 0)
	if err != nil {
		return nil, err
	}
	if offset != len(s) {
		return nil, syntaxErr("unparsed text after targets: %q", s[offset:])
	}
	return targets, nil
}

func parseTarget(s string, offset int) (Target, int, error) {
	if s[offset] == '"' {
		text, next, err := getQString(s, offset)
		if err != nil {
			return nil, offset, err
		}
		t, err := ClassifyTarget(text)
		return t, next, err
	}
	end, err := bareTargetEnd(s, offset)
	if err != nil {
		return nil, offset, err
	}
	t, err := ClassifyTarget(s[offset:end])
	return t, end, err
}

// bareTargetEnd finds the end of an unquoted target. Substitutions and
// function calls may contain commas; everything else ends at a comma or
// whitespace.
func bareTargetEnd(s string, offset int) (int, error) {
	rest := s[offset:]
	i := offset
	hasPrefix := false
	if loc := reHeaderPrefix.FindStringIndex(rest); loc != nil {
		after := rest[loc[1]:]
		if strings.HasPrefix(after, "s/") || reFuncName.MatchString(after) {
			i += loc[1]
			hasPrefix = true
		}
	}
	if strings.HasPrefix(s[i:], "s/") {
		_, _, _, end, err := parseSubstitution(s, i)
		return end, err
	}
	if hasPrefix {
		i += len(reFuncName.FindString(s[i:]))
		if i < len(s) && s[i] == '(' {
			return closingParen(s, i)
		}
		return i, nil
	}
	for i < len(s) && s[i] != ',' && !isSpace(s[i]) {
		i++
	}
	return i, nil
}

// closingParen returns the offset after the parenthesis matching the one
// at offset, skipping quoted strings.
func closingParen(s string, offset int) (int, error) {
	depth := 0
	for i := offset; i < len(s); i++ {
		switch s[i] {
		case '"':
			_, next, err := getQString(s, i)
			if err != nil {
				return offset, err
			}
			i = next - 1
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
	}
	return offset, syntaxErr("unbalanced parentheses")
}

// parseSubstitution parses s/pattern/replacement/flags at offset.
func parseSubstitution(s string, offset int) (pattern, replacement, flags string, end int, err error) {
	if !strings.HasPrefix(s[offset:], "s/") {
		return "", "", "", offset, syntaxErr("expected s/")
	}
	i := offset + 2
	part := func() (string, error) {
		var sb strings.Builder
		for ; i < len(s); i++ {
			c := s[i]
			if c == '\\' && i+1 < len(s) {
				if s[i+1] == '/' {
					sb.WriteByte('/')
				} else {
					sb.WriteByte(c)
					sb.WriteByte(s[i+1])
				}
				i++
				continue
			}
			if c == '/' {
				i++
				return sb.String(), nil
			}
			sb.WriteByte(c)
		}
		return "", syntaxErr("unterminated substitution")
	}
	if pattern, err = part(); err != nil {
		return "", "", "", offset, err
	}
	if replacement, err = part(); err != nil {
		return "", "", "", offset, err
	}
	start := i
	for i < len(s) && unicode.IsLetter(rune(s[i])) {
		i++
	}
	return pattern, replacement, s[start:i], i, nil
}

// ClassifyTarget turns the text of one target into a Target.
func ClassifyTarget(text string) (Target, error) {
	if text == "" {
		return nil, syntaxErr("empty target")
	}
	if text[0] == '|' {
		cmd := strings.TrimSpace(text[1:])
		if cmd == "" {
			return nil, syntaxErr("empty pipe command")
		}
		return &PipeTarget{Command: cmd}, nil
	}
	if m := reAssign.FindStringSubmatch(text); m != nil {
		return &AssignTarget{Name: m[1], Value: m[2]}, nil
	}

	var headers []string
	rest := text
	if prefix := reHeaderPrefix.FindString(text); prefix != "" {
		headers = splitHeaderNames(prefix)
		rest = text[len(prefix):]
	}
	if strings.HasPrefix(rest, "s/") {
		pattern, repl, flags, end, err := parseSubstitution(rest, 0)
		if err != nil {
			return nil, err
		}
		if end != len(rest) {
			return nil, syntaxErr("unparsed text after substitution: %q", rest[end:])
		}
		t, err := NewSubstituteTarget(headers, pattern, repl, flags)
		if err != nil {
			return nil, syntaxErr("substitution %q: %v", text, err)
		}
		return t, nil
	}
	if headers != nil {
		return parseFunctionTarget(headers, rest)
	}

	if len(text) == 1 {
		if f, err := message.ParseFlag(text); err == nil {
			return &FlagTarget{Flag: f}, nil
		}
	}
	if strings.Contains(text, "@") {
		return &AddressTarget{Address: text}, nil
	}
	return &FolderTarget{Path: text}, nil
}

func parseFunctionTarget(headers []string, text string) (Target, error) {
	name := reFuncName.FindString(text)
	if name == "" {
		return nil, syntaxErr("unknown target syntax: %q", text)
	}
	fn, ok := lookupAction(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", mferrors.ErrUnknownFunction, name)
	}
	rest := text[len(name):]
	var args []Arg
	if rest != "" {
		if rest[0] != '(' || rest[len(rest)-1] != ')' {
			return nil, syntaxErr("bad function call syntax: %q", text)
		}
		var err error
		if args, err = parseArgs(rest[1 : len(rest)-1]); err != nil {
			return nil, err
		}
	}
	return &FunctionTarget{Headers: headers, Name: name, Args: args, fn: fn}, nil
}

// parseArgs parses a comma-separated argument list: GROUP names, @domain,
// integers and quoted strings.
func parseArgs(text string) ([]Arg, error) {
	var args []Arg
	i := 0
	for {
		i = skipWhite(text, i)
		if i >= len(text) {
			break
		}
		var arg Arg
		if text[i] == '"' {
			s, next, err := getQString(text, i)
			if err != nil {
				return nil, err
			}
			arg = Arg{Kind: ArgString, Text: s}
			i = next
		} else {
			start := i
			for i < len(text) && text[i] != ',' && !isSpace(text[i]) {
				i++
			}
			word := text[start:i]
			switch {
			case strings.HasPrefix(word, "@") && len(word) > 1:
				arg = Arg{Kind: ArgDomain, Text: strings.ToLower(word[1:])}
			case reInt.MatchString(word):
				n, err := strconv.Atoi(word)
				if err != nil {
					return nil, fmt.Errorf("%w: %q: %v", mferrors.ErrBadArgument, word, err)
				}
				arg = Arg{Kind: ArgInt, Text: word, Int: n}
			case reGroupName.MatchString(word):
				arg = Arg{Kind: ArgGroup, Text: strings.ToLower(word)}
			default:
				return nil, fmt.Errorf("%w: %q", mferrors.ErrBadArgument, word)
			}
		}
		args = append(args, arg)
		i = skipWhite(text, i)
		if i < len(text) {
			if text[i] != ',' {
				return nil, fmt.Errorf("%w: expected ',' at %q", mferrors.ErrBadArgument, text[i:])
			}
			i++
		}
	}
	return args, nil
}

// ParseCondition parses the text of one condition. It returns nil for the
// always-true "." condition. Group references are left unresolved.
func ParseCondition(text string) (Condition, error) {
	text = strings.TrimSpace(text)
	negate := false
	if strings.HasPrefix(text, "!") {
		negate = true
		text = strings.TrimSpace(text[1:])
	}
	if strings.HasPrefix(text, `"`) {
		if q, end, err := getQString(text, 0); err == nil && end == len(text) {
			text = strings.TrimSpace(q)
		}
	}
	if text == "" {
		return nil, syntaxErr("empty condition")
	}

	c, err := parsePositiveCondition(text)
	if err != nil {
		return nil, err
	}
	if !negate {
		return c, nil
	}
	if c == nil {
		return Not{Cond: Always{}}, nil
	}
	return Not{Cond: c}, nil
}

func parsePositiveCondition(text string) (Condition, error) {
	if text == "." {
		return nil, nil
	}

	if m := reFuncCond.FindStringSubmatch(text); m != nil {
		fn, ok := lookupTest(m[2])
		if !ok {
			return nil, fmt.Errorf("%w: %s", mferrors.ErrUnknownFunction, m[2])
		}
		arg := strings.TrimSpace(m[3])
		if strings.HasPrefix(arg, `"`) {
			q, end, err := getQString(arg, 0)
			if err != nil {
				return nil, err
			}
			if end != len(arg) {
				return nil, syntaxErr("unparsed text after argument: %q", arg[end:])
			}
			arg = q
		}
		return &FunctionCondition{Headers: splitHeaderNames(m[1]), Name: m[2], Arg: arg, fn: fn}, nil
	}

	var headers []string
	rest := text
	if prefix := reHeaderPrefix.FindString(text); prefix != "" {
		headers = splitHeaderNames(prefix)
		rest = strings.TrimSpace(text[len(prefix):])
		if rest == "" {
			return nil, syntaxErr("missing match after header names")
		}
	}

	if rest[0] == '/' {
		pattern := trimRegexDelimiter(rest[1:])
		c, err := NewRegexCondition(headers, pattern)
		if err != nil {
			return nil, syntaxErr("regexp %q: %v", pattern, err)
		}
		return c, nil
	}

	keys, err := parseAddressKeys(rest)
	if err != nil {
		return nil, err
	}
	return NewAddressCondition(headers, keys), nil
}

// trimRegexDelimiter drops an optional closing '/' so that /re/ and /re
// mean the same thing.
func trimRegexDelimiter(p string) string {
	if strings.HasSuffix(p, "/") && !strings.HasSuffix(p, `\/`) {
		return p[:len(p)-1]
	}
	return p
}

func parseAddressKeys(text string) ([]AddressKey, error) {
	if strings.HasPrefix(text, "(") {
		if !strings.HasSuffix(text, ")") {
			return nil, syntaxErr("extra text after group alternation: %q", text)
		}
		var keys []AddressKey
		for _, tok := range strings.Split(text[1:len(text)-1], "|") {
			tok = strings.TrimSpace(tok)
			switch {
			case tok == "":
				return nil, syntaxErr("empty term in %q", text)
			case strings.HasPrefix(tok, "@"):
				keys = append(keys, AddressKey{Kind: KeyDomain, Value: tok[1:]})
			case strings.Contains(tok, "@"):
				keys = append(keys, literalKey(tok))
			case reGroupName.MatchString(tok):
				keys = append(keys, AddressKey{Kind: KeyGroup, Value: strings.ToLower(tok)})
			default:
				return nil, syntaxErr("bad group name %q", tok)
			}
		}
		return keys, nil
	}
	if reUpperGroup.MatchString(text) {
		return []AddressKey{{Kind: KeyGroup, Value: strings.ToLower(text)}}, nil
	}
	var keys []AddressKey
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
		case strings.HasPrefix(part, "@"):
			keys = append(keys, AddressKey{Kind: KeyDomain, Value: part[1:]})
		default:
			keys = append(keys, literalKey(part))
		}
	}
	if len(keys) == 0 {
		return nil, syntaxErr("no addresses in %q", text)
	}
	return keys, nil
}

// literalKey reduces "Joe Blogs <joe@bar>" to joe@bar; text that does not
// parse as an address is kept, case-folded, as given.
func literalKey(text string) AddressKey {
	if ca, err := message.ParseCoreAddress(text); err == nil {
		return AddressKey{Kind: KeyAddress, Value: string(ca)}
	}
	return AddressKey{Kind: KeyAddress, Value: string(message.NormalizeAddress(text))}
}
