// Package reqctx carries the ambient execution context of one inbound
// unit of work — an HTTP request or a websocket event — so hook handlers
// can reach the request, response, socket or user identity without every
// intermediate call threading them as parameters.
//
// DESIGN: A Frame rides on context.Context under an unexported key. Each
// With call installs a new frame that shadows any outer one for the
// dynamic extent of the derived context; when a nested operation returns,
// the caller still holds its own context and therefore its own frame.
// Concurrent units of work each own their context chain, so frames are
// never visible across units and need no locking.
package reqctx

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// HTTPContext is the ambient frame content for an inbound HTTP request.
type HTTPContext struct {
	Req *http.Request
	Res http.ResponseWriter
}

// WSContext is the ambient frame content for one inbound socket event.
type WSContext struct {
	Conn    *websocket.Conn
	UID     string
	Event   string
	Payload []byte
}

// Frame is the per-unit-of-work ambient context. Exactly one of HTTP/WS is
// typically set; Values carries any additional host-defined entries.
// A frame is owned by the unit of work that created it and must not be
// mutated after installation.
type Frame struct {
	HTTP   *HTTPContext
	WS     *WSContext
	Values map[string]any
}

type frameKey struct{}

// With returns a context carrying f as the innermost frame. Any frame on
// ctx is shadowed, not replaced: contexts derived before this call keep
// seeing the outer frame.
func With(ctx context.Context, f Frame) context.Context {
	return context.WithValue(ctx, frameKey{}, f)
}

// Run installs f for the dynamic extent of fn. Whatever frame was active
// on ctx is active again once Run returns, normally or not.
func Run(ctx context.Context, f Frame, fn func(ctx context.Context) error) error {
	return fn(With(ctx, f))
}

// Current returns the innermost frame, if any.
func Current(ctx context.Context) (Frame, bool) {
	f, ok := ctx.Value(frameKey{}).(Frame)
	return f, ok
}

// HTTP returns the innermost frame's HTTP context. The second return is
// false when no frame is active or the active frame has no HTTP context;
// absence is normal (a socket event has no HTTP frame).
func HTTP(ctx context.Context) (*HTTPContext, bool) {
	f, ok := Current(ctx)
	if !ok || f.HTTP == nil {
		return nil, false
	}
	return f.HTTP, true
}

// WS returns the innermost frame's websocket context, if any.
func WS(ctx context.Context) (*WSContext, bool) {
	f, ok := Current(ctx)
	if !ok || f.WS == nil {
		return nil, false
	}
	return f.WS, true
}

// Value returns a host-defined entry from the innermost frame. Only the
// innermost frame is consulted: a nested frame does not inherit the outer
// frame's values.
func Value(ctx context.Context, key string) (any, bool) {
	f, ok := Current(ctx)
	if !ok {
		return nil, false
	}
	v, ok := f.Values[key]
	return v, ok
}
