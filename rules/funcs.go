package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/infodancer/mailfiler/message"
)

// TestFunc is a boolean header test used by function conditions such as
// list-id.contains("<x>"). value is one header occurrence.
type TestFunc func(value, arg string) bool

// FuncContext is passed to an ActionFunc once per header occurrence.
type FuncContext struct {
	State *State
	// Headers are all header names the target named.
	Headers []string
	// Header and Value identify the occurrence being processed.
	Header string
	Value  string
}

// ActionFunc implements a function target such as from:learn_addresses(FRIENDS).
type ActionFunc func(ctx context.Context, fc *FuncContext, args []Arg) error

var (
	funcRegistryMu sync.RWMutex
	testRegistry   = make(map[string]TestFunc)
	actionRegistry = make(map[string]ActionFunc)
)

// RegisterTest adds a test function usable in conditions.
// It panics if called with an empty name or nil function,
// or if the name is already registered.
func RegisterTest(name string, fn TestFunc) {
	if name == "" {
		panic("rules: RegisterTest called with empty name")
	}
	if fn == nil {
		panic("rules: RegisterTest called with nil function")
	}

	funcRegistryMu.Lock()
	defer funcRegistryMu.Unlock()

	if _, exists := testRegistry[name]; exists {
		panic("rules: RegisterTest called twice for " + name)
	}
	testRegistry[name] = fn
}

// RegisterAction adds an action function usable in targets. Dotted names
// ("module.function") are plain registry keys.
// It panics if called with an empty name or nil function,
// or if the name is already registered.
func RegisterAction(name string, fn ActionFunc) {
	if name == "" {
		panic("rules: RegisterAction called with empty name")
	}
	if fn == nil {
		panic("rules: RegisterAction called with nil function")
	}

	funcRegistryMu.Lock()
	defer funcRegistryMu.Unlock()

	if _, exists := actionRegistry[name]; exists {
		panic("rules: RegisterAction called twice for " + name)
	}
	actionRegistry[name] = fn
}

func lookupTest(name string) (TestFunc, bool) {
	funcRegistryMu.RLock()
	defer funcRegistryMu.RUnlock()
	fn, ok := testRegistry[name]
	return fn, ok
}

func lookupAction(name string) (ActionFunc, bool) {
	funcRegistryMu.RLock()
	defer funcRegistryMu.RUnlock()
	fn, ok := actionRegistry[name]
	return fn, ok
}

// RegisteredActions returns a sorted list of registered action names.
func RegisteredActions() []string {
	funcRegistryMu.RLock()
	defer funcRegistryMu.RUnlock()

	names := make([]string, 0, len(actionRegistry))
	for name := range actionRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisteredTests returns a sorted list of registered test names.
func RegisteredTests() []string {
	funcRegistryMu.RLock()
	defer funcRegistryMu.RUnlock()

	names := make([]string, 0, len(testRegistry))
	for name := range testRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterTest("contains", func(value, arg string) bool {
		return strings.Contains(value, arg)
	})
	RegisterTest("icontains", func(value, arg string) bool {
		return strings.Contains(strings.ToLower(value), strings.ToLower(arg))
	})
	RegisterTest("equals", func(value, arg string) bool {
		return strings.TrimSpace(value) == arg
	})
	RegisterTest("startswith", func(value, arg string) bool {
		return strings.HasPrefix(strings.TrimSpace(value), arg)
	})
	RegisterTest("endswith", func(value, arg string) bool {
		return strings.HasSuffix(strings.TrimSpace(value), arg)
	})

	RegisterAction("learn_addresses", learnAddresses)
	RegisterAction("log", logHeader)
}

// learnAddresses adds every address in the header occurrence to each
// group argument.
func learnAddresses(ctx context.Context, fc *FuncContext, args []Arg) error {
	if fc.State.Learner == nil {
		return fmt.Errorf("learn_addresses: no group database")
	}
	addrs, _ := message.ParseCoreAddressList(fc.Value)
	if len(addrs) == 0 {
		return nil
	}
	var groups []string
	for _, a := range args {
		if a.Kind != ArgGroup {
			return fmt.Errorf("learn_addresses: expected group name, got %s", a)
		}
		groups = append(groups, a.Text)
	}
	for _, g := range groups {
		if err := fc.State.Learner.LearnAddresses(ctx, g, addrs); err != nil {
			return fmt.Errorf("learn_addresses %s: %w", g, err)
		}
	}
	return nil
}

// logHeader writes the header occurrence to the log, prefixed by any
// string arguments.
func logHeader(_ context.Context, fc *FuncContext, args []Arg) error {
	var prefix []string
	for _, a := range args {
		prefix = append(prefix, fc.expandArg(a))
	}
	fc.State.Logger.Info(strings.Join(prefix, " "),
		slog.String("header", fc.Header),
		slog.String("value", fc.Value))
	return nil
}

func (fc *FuncContext) expandArg(a Arg) string {
	if a.Kind != ArgString {
		return a.String()
	}
	return expandWith(a.Text, fc.State.Env, fc.State.View().HeaderMap())
}
