package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/infodancer/mailfiler/message"
)

// Rule is one filing rule: when every condition matches, its targets are
// applied or accrued.
type Rule struct {
	Targets    []Target
	Label      string
	Conditions []Condition
	// Stop ends rule evaluation after this rule matches ("=" prefix).
	Stop bool
	// Alert marks the message for alerting ("!" prefix).
	Alert bool

	File string
	Line int
}

// Source returns "file:line" for log messages.
func (r *Rule) Source() string {
	return fmt.Sprintf("%s:%d", r.File, r.Line)
}

// Match reports whether all conditions hold. A rule without conditions
// always matches. A condition that panics counts as a non-match.
func (r *Rule) Match(hv *message.HeaderView, logger *slog.Logger) bool {
	for _, c := range r.Conditions {
		if !matchSafely(c, hv, logger) {
			return false
		}
	}
	return true
}

func (r *Rule) String() string {
	var sb strings.Builder
	if r.Stop {
		sb.WriteByte('=')
	}
	if r.Alert {
		sb.WriteByte('!')
	}
	targets := make([]string, len(r.Targets))
	for i, t := range r.Targets {
		targets[i] = t.String()
	}
	sb.WriteString(strings.Join(targets, ","))
	label := r.Label
	if label == "" {
		label = "."
	}
	sb.WriteString(" " + label)
	if len(r.Conditions) == 0 {
		sb.WriteString(" .")
	}
	for i, c := range r.Conditions {
		if i > 0 {
			sb.WriteString("\n\t")
		} else {
			sb.WriteByte(' ')
		}
		sb.WriteString(c.String())
	}
	return sb.String()
}

// RuleSet is an ordered list of rules loaded from one rule file and its
// includes. A RuleSet is immutable once loaded and may be evaluated by
// many goroutines at once.
type RuleSet struct {
	Path  string
	Rules []*Rule
	// Seed is the environment each message evaluation starts from.
	Seed Env
	// Files lists the rule file and every file it included.
	Files []string
	// Groups holds the group memberships resolved at load time.
	Groups   map[string]message.AddressSet
	LoadedAt time.Time
}

// NewEnv returns a fresh copy of the seed environment.
func (rs *RuleSet) NewEnv() Env {
	return rs.Seed.Clone()
}

// Evaluation is the result of running a RuleSet over one message.
type Evaluation struct {
	Deliveries *Accrual
	Alert      bool
	// Matched lists matching rules in evaluation order.
	Matched []*Rule
	// StoppedBy is the "=" rule that ended evaluation, if any.
	StoppedBy    *Rule
	ActionErrors []error
}

// Labels returns the non-empty labels of the matched rules.
func (e *Evaluation) Labels() []string {
	var out []string
	for _, r := range e.Matched {
		if r.Label != "" {
			out = append(out, r.Label)
		}
	}
	return out
}

// Evaluate runs the rules in order against the message in s. Action
// targets mutate s as they are applied; deliverable targets are accrued
// in the returned Evaluation and nothing is dispatched.
func (rs *RuleSet) Evaluate(ctx context.Context, s *State) *Evaluation {
	ev := &Evaluation{Deliveries: NewAccrual()}
	for _, r := range rs.Rules {
		if !r.Match(s.View(), s.Logger) {
			continue
		}
		s.Logger.Debug("rule matched",
			slog.String("rule", r.Source()),
			slog.String("label", r.Label))
		ev.Matched = append(ev.Matched, r)
		ev.ActionErrors = append(ev.ActionErrors, ApplyTargets(ctx, s, r.Targets, r.Label, ev.Deliveries)...)
		if r.Alert {
			ev.Alert = true
		}
		if r.Stop {
			ev.StoppedBy = r
			break
		}
	}
	return ev
}
