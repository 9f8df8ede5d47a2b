package rules

import (
	"os"
	"sort"
	"strings"
)

// Env holds rule variables. A RuleSet keeps a seed Env; each message is
// evaluated against its own copy so assignments never leak between messages.
type Env map[string]string

// EnvFromEnviron builds an Env from KEY=value strings as returned by os.Environ.
func EnvFromEnviron(environ []string) Env {
	env := make(Env, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}

// Clone returns an independent copy.
func (e Env) Clone() Env {
	out := make(Env, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Expand replaces $NAME and ${NAME} with variable values; unset names
// expand to the empty string.
func (e Env) Expand(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return os.Expand(s, func(name string) string { return e[name] })
}

// Environ renders the Env as sorted KEY=value strings for subprocesses.
func (e Env) Environ() []string {
	out := make([]string, 0, len(e))
	for k, v := range e {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// expandWith substitutes from each lookup in turn; the first map holding
// the name wins.
func expandWith(s string, lookups ...map[string]string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return os.Expand(s, func(name string) string {
		for _, m := range lookups {
			if v, ok := m[name]; ok {
				return v
			}
		}
		return ""
	})
}
