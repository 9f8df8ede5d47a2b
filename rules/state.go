package rules

import (
	"context"
	"log/slog"

	"github.com/infodancer/mailfiler/message"
)

// GroupResolver resolves a lower-case address group name to its members.
// It is consulted once per rule file load.
type GroupResolver interface {
	ResolveGroup(ctx context.Context, name string) ([]message.CoreAddress, error)
}

// GroupLearner records addresses as members of a group. Functions such as
// learn_addresses use it to update the group database.
type GroupLearner interface {
	LearnAddresses(ctx context.Context, group string, addrs []message.CoreAddress) error
}

// State is the mutable per-message state that rule evaluation and action
// targets operate on.
type State struct {
	Message *message.Message
	Env     Env
	// Source is the folder the message came from; the "." folder target.
	Source  string
	Learner GroupLearner
	Logger  *slog.Logger

	view *message.HeaderView
}

// NewState prepares evaluation state for msg with a private copy of env.
func NewState(msg *message.Message, env Env, source string, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		Message: msg,
		Env:     env.Clone(),
		Source:  source,
		Logger:  logger,
	}
}

// View returns a HeaderView of the message as it currently stands. Header
// rewrites invalidate the cached view.
func (s *State) View() *message.HeaderView {
	if s.view == nil {
		s.view = s.Message.View(s.Logger)
	}
	return s.view
}

func (s *State) headersChanged() {
	s.view = nil
}
