// Package request implements the in-flight operation record: the unit
// the dispatcher, reply handler and timeout worker all operate on.
package request

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/osdc/pkg/placement"
	"github.com/marmos91/osdc/pkg/wire"
)

// Status bits tracked on a Request, separate from the protocol Flags
// carried on the wire.
const (
	StatusGotReply uint32 = 1 << iota
	StatusAborted
	StatusPreparedPages
	StatusResend
	StatusSafe
	StatusOwnPages
)

var (
	// ErrNoSnapshotOnWrite is returned when a write targets a
	// snapshotted vino; writes are only valid against the live head.
	ErrNoSnapshotOnWrite = errors.New("request: write requires vino.Snap == NoSnap")
)

// SnapContext is the list of snapshot ids a write must remain visible
// in. It is a shared, reference-counted handle in the source system;
// here it is an immutable value so sharing needs no refcounting.
type SnapContext struct {
	Seq   uint64
	Snaps []uint64
}

// PageVector is the borrowed or owned buffer a request reads into or
// writes out of. The front end (VFS/page-cache) owns the memory unless
// Owned is true.
type PageVector struct {
	Pages [][]byte
	Owned bool
}

// Len returns the total byte length of the page vector.
func (p PageVector) Len() uint64 {
	var n uint64
	for _, pg := range p.Pages {
		n += uint64(len(pg))
	}
	return n
}

// Request is one in-flight object operation.
type Request struct {
	mu sync.Mutex

	Tid         uint64
	Oid         string
	FileLayout  placement.FileLayout
	Vino        placement.Vino
	Off         uint64
	Plen        uint64
	PgID        uint64
	SnapContext *SnapContext
	Pages       PageVector

	Flags  uint32
	Ops    []wire.Op
	Ticket []byte

	ResultMu sync.Mutex
	Result   int32

	ReassertVersion wire.EVersion
	TimeoutStamp    time.Time
	OsdmapEpoch     uint32

	// RoutedOsd is the daemon ordinal this request is currently routed
	// to, or -1 if unrouted. Per the source's r_last_osd/r_osd
	// question, this single field stands for both notions.
	RoutedOsd int32

	status atomic.Uint32
	refs   atomic.Int32

	Done     chan struct{}
	doneOnce sync.Once
	Safe     chan struct{}
	safeOnce sync.Once

	Callback     func(r *Request)
	SafeCallback func(r *Request)
}

// BuildParams collects Build's arguments; spec.md's build(...) signature
// is wide enough that a struct reads better than positional args.
type BuildParams struct {
	Layout      placement.FileLayout
	Vino        placement.Vino
	Off         uint64
	Plen        uint64
	Opcode      uint16
	Flags       uint32
	SnapContext *SnapContext
	DoSync      bool
	TruncSeq    uint32
	TruncSize   uint64
	Mtime       wire.Timespec
	Map         placement.OsdMap
}

// Build composes a new Request from the given parameters, consulting
// the placement engine to shorten Plen at an object boundary and to
// resolve the object name and placement group. Returns the record with
// a refcount of 1; the caller owns that reference.
func Build(p BuildParams) (*Request, placement.Result) {
	pr := placement.Place(p.Layout, p.Vino, p.Off, p.Plen, p.Map)

	req := &Request{
		Oid:             pr.Oid,
		FileLayout:      p.Layout,
		Vino:            p.Vino,
		Off:             p.Off,
		Plen:            pr.ObjectLength,
		PgID:            pr.PgID,
		SnapContext:     p.SnapContext,
		Flags:           p.Flags,
		ReassertVersion: wire.EVersion{},
		RoutedOsd:       placement.NoPrimary,
		Done:            make(chan struct{}),
		Safe:            make(chan struct{}),
	}
	req.refs.Store(1)

	primaryOp := wire.Op{
		Opcode:     p.Opcode,
		Offset:     pr.ObjectOffset,
		Length:     pr.ObjectLength,
		PayloadLen: uint32(pr.ObjectLength),
	}
	req.Ops = append(req.Ops, primaryOp)

	if p.TruncSeq != 0 {
		truncOp := wire.Op{
			TruncateSeq:  p.TruncSeq,
			TruncateSize: p.TruncSize - (p.Off - pr.ObjectOffset),
		}
		if p.Opcode == wire.OpRead {
			truncOp.Opcode = wire.OpMaskTrunc
		} else {
			truncOp.Opcode = wire.OpSetTrunc
		}
		req.Ops = append(req.Ops, truncOp)
	}

	if p.DoSync {
		req.Ops = append(req.Ops, wire.Op{Opcode: wire.OpStartSync})
	}

	return req, pr
}

// Get takes a reference on the request.
func (r *Request) Get() { r.refs.Add(1) }

// Put releases a reference. On the last reference it releases the page
// vector if owned and drops the snapshot context.
func (r *Request) Put() {
	if r.refs.Add(-1) == 0 {
		r.mu.Lock()
		if r.Pages.Owned {
			r.Pages.Pages = nil
		}
		r.SnapContext = nil
		r.mu.Unlock()
	}
}

// Refs reports the current reference count, for tests and diagnostics.
func (r *Request) Refs() int32 { return r.refs.Load() }

func (r *Request) setStatus(bit uint32)      { r.status.Or(bit) }
func (r *Request) clearStatus(bit uint32)    { r.status.And(^bit) }
func (r *Request) hasStatus(bit uint32) bool { return r.status.Load()&bit != 0 }

// GotReply reports whether the first response has been recorded.
func (r *Request) GotReply() bool { return r.hasStatus(StatusGotReply) }

// SetGotReply marks the first response recorded. Transitions false to
// true exactly once; later calls are no-ops.
func (r *Request) SetGotReply() { r.setStatus(StatusGotReply) }

// Aborted reports whether Abort has been called on this request.
func (r *Request) Aborted() bool { return r.hasStatus(StatusAborted) }

// SetAborted marks the request aborted.
func (r *Request) SetAborted() { r.setStatus(StatusAborted) }

// Resend reports whether the request is queued for a timeout-driven
// resend.
func (r *Request) Resend() bool { return r.hasStatus(StatusResend) }

// SetResend sets or clears the resend flag.
func (r *Request) SetResend(v bool) {
	if v {
		r.setStatus(StatusResend)
	} else {
		r.clearStatus(StatusResend)
	}
}

// IsSafe reports whether the durable-commit signal has fired.
func (r *Request) IsSafe() bool { return r.hasStatus(StatusSafe) }

// SignalDone fires the first-response completion signal exactly once.
func (r *Request) SignalDone() {
	r.doneOnce.Do(func() { close(r.Done) })
}

// SignalSafe fires the durable-commit completion signal exactly once,
// and only meaningfully after SignalDone: safe implies got_reply per
// the ack/commit ordering rule.
func (r *Request) SignalSafe() {
	r.setStatus(StatusSafe)
	r.safeOnce.Do(func() { close(r.Safe) })
}

// IsWrite reports whether this request's primary op is a write.
func (r *Request) IsWrite() bool {
	return r.Flags&wire.FlagWrite != 0
}

// RequiresSafePhase reports whether this request must wait for an
// ONDISK reply rather than completing on the first ack. Reads have no
// safe phase.
func (r *Request) RequiresSafePhase() bool {
	return r.IsWrite()
}
