// Package hooks implements the host's extension points: a registry of
// plugin-contributed handlers keyed by hook name, and a dispatcher that
// fires those handlers under kind-specific semantics.
//
// DESIGN: Three hook kinds, selected by the name's prefix:
//
//	filter:post.save   → Filter: threads one value through the chain
//	action:user.login  → Action: fire-and-forget notification
//	render.header      → Static: sequential, each handler signals completion
//
// Handlers are capability-typed function values resolved once at
// registration time. The registry is read-mostly shared state; reads take
// an RLock and see immutable slices that are replaced wholesale on every
// mutation, so a concurrent List never observes a half-updated set.
package hooks

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind determines the dispatch semantics of a hook. It is derived from the
// hook name and never changes at runtime.
type Kind int

const (
	KindFilter Kind = iota + 1
	KindAction
	KindStatic
)

// String returns the kind's name for logging.
func (k Kind) String() string {
	switch k {
	case KindFilter:
		return "filter"
	case KindAction:
		return "action"
	case KindStatic:
		return "static"
	default:
		return "unknown"
	}
}

// Name prefixes for filter and action hooks. Static hooks carry no prefix.
const (
	filterPrefix = "filter:"
	actionPrefix = "action:"
)

// staticName is the host's naming convention for static hooks:
// dot-separated lowercase segments, no colon.
var staticName = regexp.MustCompile(`^[a-z0-9_-]+(\.[a-z0-9_-]+)*$`)

// ParseName derives the hook kind from its name.
// Returns ErrUnknownHookKind for an empty name, an unrecognized prefix, or
// a prefix-less name that does not follow the static naming convention.
func ParseName(name string) (Kind, error) {
	switch {
	case name == "":
		return 0, fmt.Errorf("empty hook name: %w", ErrUnknownHookKind)
	case strings.HasPrefix(name, filterPrefix):
		if name == filterPrefix {
			return 0, fmt.Errorf("hook %q has no event path: %w", name, ErrUnknownHookKind)
		}
		return KindFilter, nil
	case strings.HasPrefix(name, actionPrefix):
		if name == actionPrefix {
			return 0, fmt.Errorf("hook %q has no event path: %w", name, ErrUnknownHookKind)
		}
		return KindAction, nil
	case staticName.MatchString(name):
		return KindStatic, nil
	default:
		return 0, fmt.Errorf("hook %q: %w", name, ErrUnknownHookKind)
	}
}
