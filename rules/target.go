package rules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/infodancer/mailfiler/message"
)

// Target is one entry in a rule's target list.
type Target interface {
	String() string
	target()
}

// Deliverable targets place a copy of the message somewhere. They are
// accrued during evaluation and dispatched once all rules have run.
type Deliverable interface {
	Target
	Delivery(s *State, label string) Delivery
}

// Action targets change per-message state and apply immediately.
type Action interface {
	Target
	Apply(ctx context.Context, s *State) error
}

// DeliveryKind distinguishes deliverable destinations.
type DeliveryKind int

const (
	DeliverFolder DeliveryKind = iota
	DeliverAddress
	DeliverPipe
)

func (k DeliveryKind) String() string {
	switch k {
	case DeliverFolder:
		return "folder"
	case DeliverAddress:
		return "address"
	case DeliverPipe:
		return "pipe"
	}
	return "unknown"
}

// Delivery is a deliverable target with variables substituted, ready to
// dispatch.
type Delivery struct {
	Kind   DeliveryKind
	Dest   string
	Label  string
	Target Target
}

// Key identifies the destination; deliveries with equal keys collapse.
func (d Delivery) Key() string {
	return d.Kind.String() + ":" + d.Dest
}

func (d Delivery) String() string {
	switch d.Kind {
	case DeliverPipe:
		return "|" + d.Dest
	}
	return d.Dest
}

// FolderTarget files into a Maildir or mbox.
type FolderTarget struct {
	Path string
}

func (t *FolderTarget) Delivery(s *State, label string) Delivery {
	return Delivery{Kind: DeliverFolder, Dest: s.Env.Expand(t.Path), Label: label, Target: t}
}

func (t *FolderTarget) String() string { return t.Path }
func (*FolderTarget) target()          {}

// AddressTarget forwards a copy to an email address.
type AddressTarget struct {
	Address string
}

func (t *AddressTarget) Delivery(s *State, label string) Delivery {
	dest := s.Env.Expand(t.Address)
	if ca, err := message.ParseCoreAddress(dest); err == nil {
		dest = string(ca)
	}
	return Delivery{Kind: DeliverAddress, Dest: dest, Label: label, Target: t}
}

func (t *AddressTarget) String() string { return t.Address }
func (*AddressTarget) target()          {}

// PipeTarget runs a shell command with the message on standard input.
type PipeTarget struct {
	Command string
}

func (t *PipeTarget) Delivery(s *State, label string) Delivery {
	return Delivery{Kind: DeliverPipe, Dest: s.Env.Expand(t.Command), Label: label, Target: t}
}

func (t *PipeTarget) String() string { return "|" + t.Command }
func (*PipeTarget) target()          {}

// AssignTarget sets a variable. The value is substituted against the
// variables and the current header values when applied.
type AssignTarget struct {
	Name  string
	Value string
}

func (t *AssignTarget) Apply(_ context.Context, s *State) error {
	v := expandWith(t.Value, s.Env, s.View().HeaderMap())
	s.Env[t.Name] = v
	s.Logger.Debug("assign", slog.String("name", t.Name), slog.String("value", v))
	return nil
}

func (t *AssignTarget) String() string { return t.Name + "=" + t.Value }
func (*AssignTarget) target()          {}

// FlagTarget sets a message flag.
type FlagTarget struct {
	Flag message.Flag
}

func (t *FlagTarget) Apply(_ context.Context, s *State) error {
	s.Message.Flags.Set(t.Flag)
	return nil
}

func (t *FlagTarget) String() string { return string(rune(t.Flag)) }
func (*FlagTarget) target()          {}

// SubstituteTarget rewrites header values with a regular expression,
// like sed's s/pattern/replacement/. The replacement may refer to $0 (the
// whole match), $1.. (numbered groups), named groups, header values by
// variable name, and rule variables, in that order of precedence.
type SubstituteTarget struct {
	Headers     []string
	Pattern     string
	Replacement string
	Global      bool

	re *regexp.Regexp
}

// NewSubstituteTarget compiles pattern. flags may contain g (every match)
// and i (case-insensitive).
func NewSubstituteTarget(headers []string, pattern, replacement, flags string) (*SubstituteTarget, error) {
	expr := pattern
	global := false
	for _, f := range flags {
		switch f {
		case 'g':
			global = true
		case 'i':
			expr = "(?i)" + expr
		default:
			return nil, fmt.Errorf("unknown substitution flag %q", f)
		}
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		headers = defaultRegexHeaders
	}
	return &SubstituteTarget{
		Headers:     headers,
		Pattern:     pattern,
		Replacement: replacement,
		Global:      global,
		re:          re,
	}, nil
}

func (t *SubstituteTarget) Apply(_ context.Context, s *State) error {
	hv := s.View()
	hmap := hv.HeaderMap()
	changed := false
	for _, h := range t.Headers {
		values := hv.Values(h)
		if len(values) == 0 {
			continue
		}
		out := make([]string, len(values))
		differs := false
		for i, v := range values {
			out[i] = t.rewrite(v, hmap, s.Env)
			if out[i] != v {
				differs = true
			}
		}
		if differs {
			s.Message.SetHeaderValues(h, out)
			changed = true
		}
	}
	if changed {
		s.headersChanged()
	}
	return nil
}

func (t *SubstituteTarget) rewrite(value string, hmap map[string]string, env Env) string {
	n := 1
	if t.Global {
		n = -1
	}
	matches := t.re.FindAllStringSubmatchIndex(value, n)
	if len(matches) == 0 {
		return value
	}
	names := t.re.SubexpNames()
	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(value[last:m[0]])
		captures := make(map[string]string, len(names))
		for i, name := range names {
			var g string
			if m[2*i] >= 0 {
				g = value[m[2*i]:m[2*i+1]]
			}
			captures[strconv.Itoa(i)] = g
			if name != "" {
				captures[name] = g
			}
		}
		sb.WriteString(os.Expand(t.Replacement, func(name string) string {
			if v, ok := captures[name]; ok {
				return v
			}
			if v, ok := hmap[name]; ok {
				return v
			}
			return env[name]
		}))
		last = m[1]
	}
	sb.WriteString(value[last:])
	return sb.String()
}

func (t *SubstituteTarget) String() string {
	flags := ""
	if t.Global {
		flags = "g"
	}
	return strings.Join(t.Headers, ",") + ":s/" + t.Pattern + "/" + t.Replacement + "/" + flags
}

func (*SubstituteTarget) target() {}

// ArgKind classifies a function target argument.
type ArgKind int

const (
	ArgGroup ArgKind = iota
	ArgDomain
	ArgInt
	ArgString
)

// Arg is a parsed function target argument.
type Arg struct {
	Kind ArgKind
	Text string
	Int  int
}

func (a Arg) String() string {
	switch a.Kind {
	case ArgDomain:
		return "@" + a.Text
	case ArgInt:
		return strconv.Itoa(a.Int)
	case ArgString:
		return strconv.Quote(a.Text)
	}
	return strings.ToUpper(a.Text)
}

// FunctionTarget calls a registered action once per occurrence of each
// named header.
type FunctionTarget struct {
	Headers []string
	Name    string
	Args    []Arg

	fn ActionFunc
}

func (t *FunctionTarget) Apply(ctx context.Context, s *State) error {
	for _, h := range t.Headers {
		for _, v := range s.View().Values(h) {
			fc := &FuncContext{State: s, Headers: t.Headers, Header: h, Value: v}
			if err := t.fn(ctx, fc, t.Args); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *FunctionTarget) String() string {
	args := make([]string, len(t.Args))
	for i, a := range t.Args {
		args[i] = a.String()
	}
	return strings.Join(t.Headers, ",") + ":" + t.Name + "(" + strings.Join(args, ",") + ")"
}

func (*FunctionTarget) target() {}

// ActionError records an action target that failed. Action failures are
// logged and never fail the message.
type ActionError struct {
	Target Target
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s: %v", e.Target, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Accrual is the ordered, de-duplicated set of deliveries for one message.
type Accrual struct {
	list []Delivery
	seen map[string]struct{}
}

// NewAccrual returns an empty accrual set.
func NewAccrual() *Accrual {
	return &Accrual{seen: make(map[string]struct{})}
}

// Add appends d unless a delivery with the same key is already present.
func (a *Accrual) Add(d Delivery) bool {
	if _, ok := a.seen[d.Key()]; ok {
		return false
	}
	a.seen[d.Key()] = struct{}{}
	a.list = append(a.list, d)
	return true
}

// List returns the deliveries in accrual order.
func (a *Accrual) List() []Delivery { return a.list }

// Len returns the number of deliveries.
func (a *Accrual) Len() int { return len(a.list) }

// ApplyTargets applies action targets in order and accrues deliverable
// ones. It returns the action failures, which have already been logged.
func ApplyTargets(ctx context.Context, s *State, targets []Target, label string, acc *Accrual) []error {
	var errs []error
	for _, t := range targets {
		switch t := t.(type) {
		case Deliverable:
			acc.Add(t.Delivery(s, label))
		case Action:
			if err := applySafely(ctx, s, t); err != nil {
				aerr := &ActionError{Target: t, Err: err}
				s.Logger.Warn("action failed",
					slog.String("target", t.String()),
					slog.String("error", err.Error()))
				errs = append(errs, aerr)
			}
		}
	}
	return errs
}

func applySafely(ctx context.Context, s *State, a Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.Apply(ctx, s)
}
