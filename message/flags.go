package message

import (
	"fmt"
	"strings"
)

// Flag is a single message flag, named by its Maildir info letter.
type Flag rune

const (
	FlagDraft   Flag = 'D'
	FlagFlagged Flag = 'F'
	FlagPassed  Flag = 'P'
	FlagReplied Flag = 'R'
	FlagSeen    Flag = 'S'
	FlagTrashed Flag = 'T'
)

var allFlags = []Flag{FlagDraft, FlagFlagged, FlagPassed, FlagReplied, FlagSeen, FlagTrashed}

// Flags is a flag set.
type Flags uint8

func bit(f Flag) Flags {
	for i, af := range allFlags {
		if af == f {
			return 1 << uint(i)
		}
	}
	return 0
}

// ParseFlag maps a flag letter to its Flag.
func ParseFlag(letter string) (Flag, error) {
	if len(letter) == 1 {
		f := Flag(letter[0])
		if bit(f) != 0 {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown flag %q", letter)
}

// Name returns the lower-case flag name, e.g. "seen".
func (f Flag) Name() string {
	switch f {
	case FlagDraft:
		return "draft"
	case FlagFlagged:
		return "flagged"
	case FlagPassed:
		return "passed"
	case FlagReplied:
		return "replied"
	case FlagSeen:
		return "seen"
	case FlagTrashed:
		return "trashed"
	}
	return "unknown"
}

// Set adds f to the set.
func (fs *Flags) Set(f Flag) { *fs |= bit(f) }

// Clear removes f from the set.
func (fs *Flags) Clear(f Flag) { *fs &^= bit(f) }

// Has reports whether f is in the set.
func (fs Flags) Has(f Flag) bool { return fs&bit(f) != 0 }

// List returns the set flags in Maildir info order (alphabetical).
func (fs Flags) List() []Flag {
	var out []Flag
	for _, f := range allFlags {
		if fs.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// FlagsOf builds a set from a list of flags.
func FlagsOf(flags ...Flag) Flags {
	var fs Flags
	for _, f := range flags {
		fs.Set(f)
	}
	return fs
}

func (fs Flags) String() string {
	var sb strings.Builder
	for _, f := range fs.List() {
		sb.WriteRune(rune(f))
	}
	return sb.String()
}
