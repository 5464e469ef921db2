// Package dispatcher implements the request lifecycle: registration,
// placement-driven routing, send, and the kick protocol that
// re-resolves and resends requests after a map change or a transport
// reset.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marmos91/osdc/internal/logger"
	"github.com/marmos91/osdc/pkg/placement"
	"github.com/marmos91/osdc/pkg/reqindex"
	"github.com/marmos91/osdc/pkg/request"
	"github.com/marmos91/osdc/pkg/session"
	"github.com/marmos91/osdc/pkg/transport"
	"github.com/marmos91/osdc/pkg/wire"
)

// ErrNoMem signals allocation failure in request build or session
// creation; the caller decides how to respond.
var ErrNoMem = errors.New("dispatcher: allocation failure")

// MapResult is the outcome of re-resolving a request's routing against
// the current map.
type MapResult int

const (
	MapUnchanged MapResult = iota
	MapChanged
	MapNoPrimary
)

func (r MapResult) String() string {
	switch r {
	case MapUnchanged:
		return "unchanged"
	case MapChanged:
		return "changed"
	case MapNoPrimary:
		return "no_primary"
	default:
		return "unknown"
	}
}

// Monitor is the external monitor client: it fetches new topology
// snapshots on request and is notified when the epoch we're running
// changes.
type Monitor interface {
	RequestNewerMap(ctx context.Context)
	NotifyEpoch(epoch uint32)
}

// ArmTimeoutFunc is called when the live request count transitions
// 0->1, so the timeout worker can arm its next sweep.
type ArmTimeoutFunc func(anchorTid uint64, at time.Time)

// Dispatcher owns the map, the request index and the daemon registry,
// and implements start/send/map_osds/kick_requests against them.
type Dispatcher struct {
	mapMu sync.RWMutex
	m     placement.OsdMap

	reqMu         sync.Mutex
	index         *reqindex.Index
	registry      *session.Registry
	nextTid       uint64
	liveCount     int
	timeoutAnchor uint64

	monitor    Monitor
	osdTimeout time.Duration
	armTimeout ArmTimeoutFunc
}

// New constructs a Dispatcher against an initial map and dialer.
func New(m placement.OsdMap, dialer transport.Dialer, monitor Monitor, osdTimeout time.Duration, armTimeout ArmTimeoutFunc) *Dispatcher {
	return &Dispatcher{
		m:          m,
		index:      reqindex.New(),
		registry:   session.New(dialer),
		monitor:    monitor,
		osdTimeout: osdTimeout,
		armTimeout: armTimeout,
	}
}

// CurrentMap returns the active osd map.
func (d *Dispatcher) CurrentMap() placement.OsdMap {
	d.mapMu.RLock()
	defer d.mapMu.RUnlock()
	return d.m
}

// SwapMap replaces the active osd map. Callers (the map handler) hold
// this as the exclusive map_lock acquisition described in the
// concurrency model.
func (d *Dispatcher) SwapMap(m placement.OsdMap) {
	d.mapMu.Lock()
	d.m = m
	d.mapMu.Unlock()
}

// LiveCount returns the number of currently registered requests.
func (d *Dispatcher) LiveCount() int {
	d.reqMu.Lock()
	defer d.reqMu.Unlock()
	return d.liveCount
}

// SessionCount returns the number of live daemon sessions.
func (d *Dispatcher) SessionCount() int {
	d.reqMu.Lock()
	defer d.reqMu.Unlock()
	return d.registry.Len()
}

// LastTid returns the most recently assigned tid, for Sync's snapshot
// of "writes registered so far".
func (d *Dispatcher) LastTid() uint64 {
	d.reqMu.Lock()
	defer d.reqMu.Unlock()
	return d.nextTid
}

// StartRequest registers req, assigns its tid, and attempts to send it.
// If nofail is set, a send failure is absorbed: the request is marked
// for resend and the timeout worker will retry it. Otherwise a send
// failure unregisters the request and is returned to the caller.
func (d *Dispatcher) StartRequest(ctx context.Context, req *request.Request, nofail bool) error {
	d.register(req)

	d.mapMu.RLock()
	d.reqMu.Lock()
	err := d.sendLocked(ctx, req)
	d.reqMu.Unlock()
	d.mapMu.RUnlock()

	if err != nil {
		if nofail {
			req.SetResend(true)
			logger.WarnCtx(ctx, "send failed, marked for resend", logger.Tid(req.Tid), logger.Err(err))
			return nil
		}
		d.unregister(req)
		return err
	}
	return nil
}

// register assigns the next tid and inserts req into the index, arming
// the timeout worker if this is the first live request.
func (d *Dispatcher) register(req *request.Request) {
	d.reqMu.Lock()
	defer d.reqMu.Unlock()

	d.nextTid++
	req.Tid = d.nextTid
	d.index.Insert(req)
	req.Get() // reference held on behalf of the index
	d.liveCount++

	if d.liveCount == 1 {
		d.timeoutAnchor = req.Tid
		if d.armTimeout != nil {
			d.armTimeout(req.Tid, time.Now().Add(d.osdTimeout))
		}
	}
}

// unregister removes req from the index and its daemon session,
// dropping the index's reference.
func (d *Dispatcher) unregister(req *request.Request) {
	d.reqMu.Lock()
	defer d.reqMu.Unlock()
	d.unregisterLocked(req)
}

func (d *Dispatcher) unregisterLocked(req *request.Request) {
	if _, ok := d.index.Lookup(req.Tid); !ok {
		return
	}
	d.index.Erase(req.Tid)
	d.registry.Unroute(req)
	d.liveCount--
	req.Put()
}

// mapOsds re-resolves req's routing against the current map. Must be
// called with mapMu held for read and reqMu held.
func (d *Dispatcher) mapOsds(ctx context.Context, req *request.Request) (MapResult, error) {
	pr := placement.Place(req.FileLayout, req.Vino, req.Off, req.Plen, d.m)
	req.PgID = pr.PgID

	if pr.PrimaryOrNeg1 < 0 {
		d.registry.Unroute(req)
		return MapNoPrimary, nil
	}
	if pr.PrimaryOrNeg1 == req.RoutedOsd {
		return MapUnchanged, nil
	}

	d.registry.Unroute(req)
	addr, ok := d.m.Addr(pr.PrimaryOrNeg1)
	if !ok {
		return MapNoPrimary, nil
	}
	if _, err := d.registry.Route(ctx, pr.PrimaryOrNeg1, addr, req); err != nil {
		return MapChanged, ErrNoMem
	}
	return MapChanged, nil
}

// sendLocked implements send(req). Must be called with mapMu held for
// read and reqMu held.
func (d *Dispatcher) sendLocked(ctx context.Context, req *request.Request) error {
	if req.Aborted() {
		return nil
	}

	res, err := d.mapOsds(ctx, req)
	if err != nil {
		return err
	}
	if res == MapNoPrimary {
		d.monitor.RequestNewerMap(ctx)
		return nil
	}

	req.OsdmapEpoch = d.m.Epoch()

	sess, ok := d.registry.Lookup(req.RoutedOsd)
	if !ok {
		// Routed but the session vanished between mapOsds and here is
		// not reachable under reqMu, but guard anyway.
		return errors.New("dispatcher: routed request has no session")
	}

	req.TimeoutStamp = time.Now().Add(d.osdTimeout)

	msg, err := wire.EncodeRequest(wire.Request{
		Header: wire.RequestHeader{
			Tid:             req.Tid,
			Layout:          wire.PGRouting{PoolID: req.FileLayout.PoolID, PgID: req.PgID},
			Flags:           req.Flags,
			OsdmapEpoch:     req.OsdmapEpoch,
			ReassertVersion: req.ReassertVersion,
		},
		Ops:    req.Ops,
		Oid:    req.Oid,
		Ticket: req.Ticket,
	})
	if err != nil {
		return err
	}

	req.Get() // reference held on behalf of the transport
	if err := sess.Conn.Send(ctx, msg); err != nil {
		req.Put()
		return err
	}
	return nil
}

// KickRequests walks the index in tid order and resends every request
// that needs it: requests already marked resend, requests routed to
// addr (when addr is non-empty), and requests whose placement has
// changed since they were last sent.
func (d *Dispatcher) KickRequests(ctx context.Context, addr string) {
	d.mapMu.RLock()
	defer d.mapMu.RUnlock()

	d.reqMu.Lock()
	tids := make([]uint64, 0, d.index.Len())
	d.index.Range(func(req *request.Request) bool {
		tids = append(tids, req.Tid)
		return true
	})
	d.reqMu.Unlock()

	for _, tid := range tids {
		d.kickOne(ctx, tid, addr)
	}
}

func (d *Dispatcher) kickOne(ctx context.Context, tid uint64, addr string) {
	d.reqMu.Lock()
	req, ok := d.index.Lookup(tid)
	if !ok {
		d.reqMu.Unlock()
		return
	}
	req.Get()
	defer func() { req.Put() }()

	if req.Aborted() {
		d.unregisterLocked(req)
		d.reqMu.Unlock()
		return
	}

	currentAddr, hasAddr := d.m.Addr(req.RoutedOsd)
	forceResend := req.Resend() || (addr != "" && hasAddr && currentAddr == addr)

	if !forceResend {
		res, err := d.mapOsds(ctx, req)
		if err != nil || res == MapUnchanged {
			d.reqMu.Unlock()
			return
		}
		if res == MapNoPrimary {
			d.reqMu.Unlock()
			d.monitor.RequestNewerMap(ctx)
			return
		}
	}

	req.Flags |= wire.FlagRetry
	err := d.sendLocked(ctx, req)
	d.reqMu.Unlock()

	if err != nil {
		req.SetResend(true)
	} else {
		req.SetResend(false)
	}
}

// CompleteAndUnregister removes req from the index/registry. Used by
// the reply handler once a request reaches its terminal state.
func (d *Dispatcher) CompleteAndUnregister(req *request.Request) {
	d.unregister(req)
}

// Lookup returns the request for tid, for use by the reply handler.
func (d *Dispatcher) Lookup(tid uint64) (*request.Request, bool) {
	d.reqMu.Lock()
	defer d.reqMu.Unlock()
	return d.index.Lookup(tid)
}

// RangeFromTid iterates every registered request with tid >= from, in
// tid order, under the request mutex, calling fn once per request with
// the mutex released (per the sync suspension-point pattern: a
// reference is held across each release). Used by sync.
func (d *Dispatcher) RangeFromTid(from uint64, fn func(req *request.Request)) {
	d.reqMu.Lock()
	tids := make([]uint64, 0)
	d.index.RangeFrom(from, func(req *request.Request) bool {
		tids = append(tids, req.Tid)
		return true
	})
	d.reqMu.Unlock()

	for _, tid := range tids {
		d.reqMu.Lock()
		req, ok := d.index.Lookup(tid)
		if !ok {
			d.reqMu.Unlock()
			continue
		}
		req.Get()
		d.reqMu.Unlock()

		fn(req)
		req.Put()
	}
}

// ForEachTimedOut calls fn on every registered request, under the map
// read lock and request mutex, for the timeout worker's sweep.
func (d *Dispatcher) ForEachTimedOut(ctx context.Context, fn func(req *request.Request)) {
	d.mapMu.RLock()
	d.reqMu.Lock()
	var tids []uint64
	d.index.Range(func(req *request.Request) bool {
		tids = append(tids, req.Tid)
		return true
	})
	d.reqMu.Unlock()
	d.mapMu.RUnlock()

	for _, tid := range tids {
		d.reqMu.Lock()
		req, ok := d.index.Lookup(tid)
		d.reqMu.Unlock()
		if !ok {
			continue
		}
		fn(req)
	}
}

// ResendOne sends req again, taking both locks in the required order.
// Used by the timeout worker for requests marked resend.
func (d *Dispatcher) ResendOne(ctx context.Context, req *request.Request) error {
	d.mapMu.RLock()
	d.reqMu.Lock()
	err := d.sendLocked(ctx, req)
	d.reqMu.Unlock()
	d.mapMu.RUnlock()
	return err
}

// DaemonAddr returns the current network address routed requests use
// for ordinal, for pinging during a timeout sweep.
func (d *Dispatcher) DaemonAddr(ordinal int32) (string, bool) {
	d.mapMu.RLock()
	defer d.mapMu.RUnlock()
	return d.m.Addr(ordinal)
}

// DaemonConn returns the connection currently open to ordinal, if any.
func (d *Dispatcher) DaemonConn(ordinal int32) (transport.Conn, bool) {
	d.reqMu.Lock()
	defer d.reqMu.Unlock()
	s, ok := d.registry.Lookup(ordinal)
	if !ok {
		return nil, false
	}
	return s.Conn, true
}
