// Package transport declares the external message-transport contract
// the dispatcher depends on: reliable, ordered point-to-point delivery
// of framed messages with peer-keyed connections. The real transport
// (sockets, retries, framing) lives outside this module; the core only
// ever calls it through this interface.
package transport

import "context"

// Conn is a connection handle to one daemon.
type Conn interface {
	// Send delivers msg best-effort, reliably and in order. It
	// consumes one reference on msg: callers must not touch msg's
	// buffer after Send returns without error.
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// Dialer opens connections to daemon addresses. The daemon registry
// calls Connect lazily the first time a request routes to a new
// ordinal.
type Dialer interface {
	Connect(ctx context.Context, addr string) (Conn, error)
}

// ReplyCallback is invoked by the transport when a framed OSD_OPREPLY
// message arrives. Implementations must not block.
type ReplyCallback func(msg []byte)

// ResetCallback is invoked by the transport when a connection to addr
// is reset, signaling that every request routed there needs a kick.
type ResetCallback func(addr string)

// PreparePagesCallback is invoked before an inbound reply is decoded so
// the caller can attach a page vector to receive the reply's payload.
// Returns false if no page vector is available (the transport then
// discards the payload bytes).
type PreparePagesCallback func(msg []byte, want int) bool

// Callbacks bundles the three notifications a transport delivers into
// the core.
type Callbacks struct {
	OnReply         ReplyCallback
	OnReset         ResetCallback
	OnPreparePages  PreparePagesCallback
}
