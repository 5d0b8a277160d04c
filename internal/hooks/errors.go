package hooks

import (
	"errors"
	"fmt"
)

// Registration errors. These are returned synchronously to the plugin
// manager at registration time, never deferred to firing time.

// ErrInvalidPriority is returned when a registration's priority does not
// fit in the bounded range the registry supports.
var ErrInvalidPriority = errors.New("hook priority out of range")

// ErrUnknownHookKind is returned for a malformed hook name: empty,
// carrying an unrecognized prefix, or a prefix-less name that does not
// match the static-hook naming convention.
var ErrUnknownHookKind = errors.New("unknown hook kind")

// ErrHandlerType is returned when the handler value does not implement
// the signature required by the hook's kind.
var ErrHandlerType = errors.New("handler does not match hook kind")

// Dispatch errors.

// ErrKindMismatch is returned when a firing method is called with a hook
// name of a different kind, e.g. Filter with an action: name.
var ErrKindMismatch = errors.New("hook kind does not match dispatch method")

// ErrQueueFull is returned by action firings when the worker queue cannot
// accept more tasks. No handlers run for the rejected firing.
var ErrQueueFull = errors.New("action worker queue is full")

// ErrDispatcherClosed is returned when firing through a dispatcher whose
// worker pool has been shut down.
var ErrDispatcherClosed = errors.New("dispatcher is closed")

// ErrStaticTimeout is the cause recorded when a static handler does not
// signal completion within the dispatcher's configured deadline.
var ErrStaticTimeout = errors.New("static handler did not signal completion")

// HandlerError reports a handler failure during a filter or static firing.
// It identifies the plugin and hook so the caller can log or surface the
// failure; the underlying cause is available through Unwrap.
type HandlerError struct {
	Plugin string
	Hook   string
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("plugin %s: hook %s: %v", e.Plugin, e.Hook, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
