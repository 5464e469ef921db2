// Package replyhandler decodes OSD_OPREPLY messages, dedups ack vs.
// commit, and drives each request's completion signals and callbacks.
package replyhandler

import (
	"context"

	"github.com/marmos91/osdc/internal/logger"
	"github.com/marmos91/osdc/pkg/dispatcher"
	"github.com/marmos91/osdc/pkg/wire"
)

// Handler wires decoded replies to the request index owned by a
// Dispatcher.
type Handler struct {
	d *dispatcher.Dispatcher
}

// New returns a reply handler bound to d.
func New(d *dispatcher.Dispatcher) *Handler {
	return &Handler{d: d}
}

// OnReply is the transport callback entry point. msg is the raw framed
// OSD_OPREPLY payload.
func (h *Handler) OnReply(ctx context.Context, msg []byte) {
	rep, err := wire.DecodeReply(msg)
	if err != nil {
		logger.WarnCtx(ctx, "corrupt reply, dropping", logger.Err(err))
		return
	}
	h.handle(ctx, rep)
}

func (h *Handler) handle(ctx context.Context, rep wire.Reply) {
	req, ok := h.d.Lookup(rep.Header.Tid)
	if !ok {
		// Not an error: the request may already have been aborted and
		// unregistered.
		logger.DebugCtx(ctx, "reply for unknown tid, dropping", logger.Tid(rep.Header.Tid))
		return
	}

	req.Get()
	defer req.Put()

	if req.Aborted() {
		h.d.CompleteAndUnregister(req)
		return
	}

	onDisk := rep.Header.Flags&wire.FlagOndisk != 0

	if !req.GotReply() {
		req.ResultMu.Lock()
		req.Result = rep.Header.Result
		req.ResultMu.Unlock()
		req.ReassertVersion = rep.Header.ReassertVersion
		req.SetGotReply()
	} else if !onDisk {
		// Duplicate ack: harmless no-op.
		return
	}

	if onDisk || !req.RequiresSafePhase() {
		h.d.CompleteAndUnregister(req)
	}

	if req.Callback != nil {
		req.Callback(req)
	} else {
		req.SignalDone()
	}

	if onDisk {
		if req.SafeCallback != nil {
			req.SafeCallback(req)
		}
		req.SignalSafe()
	}
}
