package rules

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	mferrors "github.com/infodancer/mailfiler/errors"
	"github.com/infodancer/mailfiler/message"
)

// DefaultMaxIncludeDepth bounds nested "< file" includes.
const DefaultMaxIncludeDepth = 16

var reLineAssign = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)=`)

// LoadOptions control rule file loading.
type LoadOptions struct {
	// Groups resolves group names used in address conditions. A rule file
	// that names a group fails to load when Groups is nil.
	Groups GroupResolver
	// Env seeds the variables of every message evaluation. It is also
	// used to substitute include file names.
	Env Env
	// MaxIncludeDepth defaults to DefaultMaxIncludeDepth.
	MaxIncludeDepth int
	Logger          *slog.Logger
}

// LoadError reports a rule file problem with its location.
type LoadError struct {
	File string
	Line int
	Err  error
}

func (e *LoadError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("%s: %v", e.File, e.Err)
	}
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load reads the rule file at path and everything it includes, then
// resolves address groups. The RuleSet is returned only if every line
// parsed and every group resolved.
func Load(ctx context.Context, path string, opts LoadOptions) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &LoadError{File: path, Err: fmt.Errorf("%w: %v", mferrors.ErrNoRules, err)}
		}
		return nil, &LoadError{File: path, Err: err}
	}
	defer func() { _ = f.Close() }()
	return Parse(ctx, f, path, opts)
}

// Parse reads rules from r. name is used in errors and as the base for
// relative include paths.
func Parse(ctx context.Context, r io.Reader, name string, opts LoadOptions) (*RuleSet, error) {
	if opts.MaxIncludeDepth <= 0 {
		opts.MaxIncludeDepth = DefaultMaxIncludeDepth
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &parser{
		opts: opts,
		env:  opts.Env.Clone(),
	}
	if err := p.parse(r, name, 0); err != nil {
		return nil, err
	}

	groups, err := p.resolveGroups(ctx)
	if err != nil {
		return nil, err
	}

	opts.Logger.Debug("loaded rules",
		slog.String("path", name),
		slog.Int("rules", len(p.rules)),
		slog.Int("files", len(p.files)))

	return &RuleSet{
		Path:     name,
		Rules:    p.rules,
		Seed:     opts.Env.Clone(),
		Files:    p.files,
		Groups:   groups,
		LoadedAt: time.Now(),
	}, nil
}

type parser struct {
	opts  LoadOptions
	env   Env
	rules []*Rule
	files []string
	stack []string
}

func (p *parser) parse(r io.Reader, name string, depth int) error {
	if depth > p.opts.MaxIncludeDepth {
		return &LoadError{File: name, Err: fmt.Errorf("%w: %d levels", mferrors.ErrIncludeDepth, depth)}
	}
	key := name
	if abs, err := filepath.Abs(name); err == nil {
		key = abs
	}
	for _, open := range p.stack {
		if open == key {
			return &LoadError{File: name, Err: fmt.Errorf("%w: include cycle", mferrors.ErrIncludeDepth)}
		}
	}
	p.stack = append(p.stack, key)
	defer func() { p.stack = p.stack[:len(p.stack)-1] }()
	p.files = append(p.files, name)

	var cur *Rule
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineno := 0
	for scanner.Scan() {
		lineno++
		raw := scanner.Text()
		if strings.HasPrefix(raw, "#") {
			continue
		}
		line := strings.TrimRight(raw, " \t\r")
		if line == "" {
			continue
		}
		fail := func(err error) error {
			var le *LoadError
			if errors.As(err, &le) {
				return err
			}
			return &LoadError{File: name, Line: lineno, Err: err}
		}

		if isSpace(line[0]) {
			if cur == nil {
				return fail(fmt.Errorf("%w: condition without a rule", mferrors.ErrSyntax))
			}
			c, err := ParseCondition(line)
			if err != nil {
				return fail(err)
			}
			if c != nil {
				cur.Conditions = append(cur.Conditions, c)
			}
			continue
		}
		cur = nil

		if line[0] == '<' {
			if err := p.include(line, name, depth); err != nil {
				return fail(err)
			}
			continue
		}

		if m := reLineAssign.FindStringSubmatch(line); m != nil {
			value := line[len(m[0]):]
			p.env[m[1]] = p.env.Expand(value)
			p.rules = append(p.rules, &Rule{
				Targets: []Target{&AssignTarget{Name: m[1], Value: value}},
				File:    name,
				Line:    lineno,
			})
			continue
		}

		rule, err := p.parseRuleLine(line)
		if err != nil {
			return fail(err)
		}
		rule.File = name
		rule.Line = lineno
		p.rules = append(p.rules, rule)
		cur = rule
	}
	if err := scanner.Err(); err != nil {
		return &LoadError{File: name, Line: lineno, Err: err}
	}
	return nil
}

func (p *parser) include(line, name string, depth int) error {
	sub, _ := getNonWhite(line, skipWhite(line, 1))
	if sub == "" {
		return fmt.Errorf("%w: missing include file name", mferrors.ErrSyntax)
	}
	sub = p.env.Expand(sub)
	if !filepath.IsAbs(sub) {
		sub = filepath.Join(filepath.Dir(name), sub)
	}
	f, err := os.Open(sub)
	if err != nil {
		return fmt.Errorf("include: %w", err)
	}
	defer func() { _ = f.Close() }()
	return p.parse(f, sub, depth+1)
}

func (p *parser) parseRuleLine(line string) (*Rule, error) {
	r := &Rule{}
	offset := 0
	switch line[offset] {
	case '+':
		offset++
	case '=':
		r.Stop = true
		offset++
	}
	if offset < len(line) && line[offset] == '!' {
		r.Alert = true
		offset++
	}

	targets, offset, err := ParseTargets(line, offset)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no targets", mferrors.ErrSyntax)
	}
	if offset < len(line) && !isSpace(line[offset]) {
		return nil, fmt.Errorf("%w: unexpected %q after targets", mferrors.ErrSyntax, line[offset:])
	}
	r.Targets = targets

	offset = skipWhite(line, offset)
	if offset == len(line) {
		p.opts.Logger.Warn("rule has no label or condition", slog.String("rule", line))
		return r, nil
	}
	var label string
	if line[offset] == '"' {
		label, offset, err = getQString(line, offset)
		if err != nil {
			return nil, err
		}
	} else {
		label, offset = getNonWhite(line, offset)
	}
	if label != "." {
		r.Label = label
	}

	offset = skipWhite(line, offset)
	if offset == len(line) {
		p.opts.Logger.Warn("rule has no condition", slog.String("rule", line))
		return r, nil
	}
	c, err := ParseCondition(line[offset:])
	if err != nil {
		return nil, err
	}
	if c != nil {
		r.Conditions = append(r.Conditions, c)
	}
	return r, nil
}

// groupRefs walks c (through negations) and reports every address
// condition found.
func groupRefs(c Condition, fn func(*AddressCondition)) {
	switch c := c.(type) {
	case *AddressCondition:
		fn(c)
	case Not:
		groupRefs(c.Cond, fn)
	}
}

func (p *parser) resolveGroups(ctx context.Context) (map[string]message.AddressSet, error) {
	groups := make(map[string]message.AddressSet)
	for _, r := range p.rules {
		for _, c := range r.Conditions {
			var err error
			groupRefs(c, func(ac *AddressCondition) {
				if err != nil {
					return
				}
				for _, name := range ac.Groups() {
					if _, ok := groups[name]; ok {
						continue
					}
					if err = ctx.Err(); err != nil {
						return
					}
					var members message.AddressSet
					if members, err = p.resolveGroup(ctx, name); err != nil {
						return
					}
					groups[name] = members
				}
				err = ac.bindGroups(groups)
			})
			if err != nil {
				return nil, &LoadError{File: r.File, Line: r.Line, Err: err}
			}
		}
	}
	return groups, nil
}

func (p *parser) resolveGroup(ctx context.Context, name string) (message.AddressSet, error) {
	if p.opts.Groups == nil {
		return nil, fmt.Errorf("%w: %s: no group database", mferrors.ErrUnknownGroup, strings.ToUpper(name))
	}
	addrs, err := p.opts.Groups.ResolveGroup(ctx, name)
	if err != nil {
		if errors.Is(err, mferrors.ErrUnknownGroup) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", mferrors.ErrUnknownGroup, strings.ToUpper(name), err)
	}
	p.opts.Logger.Debug("resolved group",
		slog.String("group", name),
		slog.Int("members", len(addrs)))
	return message.NewAddressSet(addrs...), nil
}
