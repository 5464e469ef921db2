// Package osdclient is the top-level client facade: ReadPages,
// WritePages, Sync, Abort, Wait, Init and Stop over the dispatcher,
// reply handler, map handler and timeout worker.
package osdclient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/marmos91/osdc/internal/logger"
	"github.com/marmos91/osdc/pkg/dispatcher"
	"github.com/marmos91/osdc/pkg/maphandler"
	"github.com/marmos91/osdc/pkg/placement"
	"github.com/marmos91/osdc/pkg/replyhandler"
	"github.com/marmos91/osdc/pkg/request"
	"github.com/marmos91/osdc/pkg/timeout"
	"github.com/marmos91/osdc/pkg/transport"
	"github.com/marmos91/osdc/pkg/wire"
)

// ErrInterrupted is returned by Wait when ctx is canceled before the
// request completes; the request is aborted before returning.
var ErrInterrupted = errors.New("osdclient: interrupted while waiting")

var tracer = otel.Tracer("github.com/marmos91/osdc/pkg/osdclient")

// Config bundles a Client's dependencies.
type Config struct {
	Map        placement.OsdMap
	Dialer     transport.Dialer
	Monitor    dispatcher.Monitor
	Decoder    maphandler.Decoder
	Pinger     timeout.Pinger
	LocalFSID  string
	OsdTimeout time.Duration
}

// Client is the OSD client facade used by the VFS/page-cache front end.
type Client struct {
	cfg     Config
	d       *dispatcher.Dispatcher
	reply   *replyhandler.Handler
	mapH    *maphandler.Handler
	worker  *timeout.Worker
	session string
}

// Init constructs and arms a Client: it builds the dispatcher, wires
// the reply and map handlers, and arms the timeout worker.
func Init(cfg Config) *Client {
	// armTimeout re-arms the sweep worker whenever the live-request count
	// transitions 0->1; Worker.Start is idempotent, so this also revives
	// the worker after it has exited from an idle period.
	var worker *timeout.Worker
	armTimeout := func(anchorTid uint64, at time.Time) {
		if worker != nil {
			worker.Start(context.Background())
		}
	}

	d := dispatcher.New(cfg.Map, cfg.Dialer, cfg.Monitor, cfg.OsdTimeout, armTimeout)
	c := &Client{
		cfg:     cfg,
		d:       d,
		reply:   replyhandler.New(d),
		mapH:    maphandler.New(d, cfg.Decoder, cfg.Monitor, cfg.LocalFSID),
		session: uuid.NewString(),
	}
	worker = timeout.New(d, cfg.Monitor, cfg.Pinger, cfg.OsdTimeout)
	c.worker = worker
	c.worker.Start(context.Background())
	return c
}

// Stop cancels and joins the timeout worker. It does not force-fail
// outstanding requests; callers must have drained or aborted them.
func (c *Client) Stop() {
	c.worker.Stop()
}

// OnReply forwards a decoded transport reply to the reply handler.
func (c *Client) OnReply(ctx context.Context, msg []byte) {
	c.reply.OnReply(ctx, msg)
}

// OnReset forwards a transport reset notification to the map handler's
// mass-resubmission path.
func (c *Client) OnReset(ctx context.Context, addr string) {
	c.mapH.OnReset(ctx, addr)
}

// OnMapMessage forwards a decoded map update to the map handler.
func (c *Client) OnMapMessage(ctx context.Context, msg maphandler.Message) error {
	return c.mapH.OnMapMessage(ctx, msg)
}

// ReadPages builds and starts a READ request for the given extent,
// waits for its single completion, and returns the byte count or a
// negative errno.
func (c *Client) ReadPages(ctx context.Context, vino placement.Vino, layout placement.FileLayout, off, plen uint64, truncSeq uint32, truncSize uint64, pages [][]byte) (int32, error) {
	ctx, span := tracer.Start(ctx, "osdclient.ReadPages")
	defer span.End()

	req, pr := request.Build(request.BuildParams{
		Layout:    layout,
		Vino:      vino,
		Off:       off,
		Plen:      plen,
		Opcode:    wire.OpRead,
		Flags:     wire.FlagRead,
		TruncSeq:  truncSeq,
		TruncSize: truncSize,
		Map:       c.d.CurrentMap(),
	})
	req.Pages = request.PageVector{Pages: shrinkPages(pages, pr.ObjectLength)}

	if err := c.d.StartRequest(ctx, req, false); err != nil {
		req.Put()
		logger.ErrorCtx(ctx, "read start failed", logger.Oid(req.Oid), logger.Err(err))
		return 0, err
	}
	return c.Wait(ctx, req)
}

// WritePages builds and starts a WRITE request. vino must not be a
// snapshot (writes are only valid against the live head). Waits for
// the first completion (not the durable/safe one) and returns the
// written length on success.
func (c *Client) WritePages(ctx context.Context, vino placement.Vino, layout placement.FileLayout, snapc *request.SnapContext, off, length uint64, truncSeq uint32, truncSize uint64, mtime wire.Timespec, pages [][]byte, flags uint32, doSync, nofail bool) (int32, error) {
	if vino.Snap != placement.NoSnap {
		return 0, request.ErrNoSnapshotOnWrite
	}

	ctx, span := tracer.Start(ctx, "osdclient.WritePages")
	defer span.End()

	req, pr := request.Build(request.BuildParams{
		Layout:      layout,
		Vino:        vino,
		Off:         off,
		Plen:        length,
		Opcode:      wire.OpWrite,
		Flags:       flags | wire.FlagOndisk | wire.FlagWrite,
		SnapContext: snapc,
		DoSync:      doSync,
		TruncSeq:    truncSeq,
		TruncSize:   truncSize,
		Mtime:       mtime,
		Map:         c.d.CurrentMap(),
	})
	req.Pages = request.PageVector{Pages: shrinkPages(pages, pr.ObjectLength)}

	if err := c.d.StartRequest(ctx, req, nofail); err != nil {
		req.Put()
		logger.ErrorCtx(ctx, "write start failed", logger.Oid(req.Oid), logger.Err(err))
		return 0, err
	}
	result, err := c.Wait(ctx, req)
	if err != nil || result < 0 {
		return result, err
	}
	return int32(pr.ObjectLength), nil
}

// Sync waits for every write registered up to the current tid to reach
// its durable/safe completion. New writes started after Sync begins get
// higher tids and are not waited on, so Sync cannot starve.
func (c *Client) Sync(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "osdclient.Sync")
	defer span.End()

	lastTid := c.d.LastTid()
	c.d.RangeFromTid(0, func(req *request.Request) {
		if req.Tid > lastTid || !req.RequiresSafePhase() {
			return
		}
		select {
		case <-req.Safe:
		case <-ctx.Done():
		}
	})
}

// Abort marks req aborted and unregisters it immediately: subsequent
// sends of this request are skipped and any later reply for its tid
// produces no callback or completion signal.
func (c *Client) Abort(req *request.Request) {
	req.SetAborted()
	c.d.CompleteAndUnregister(req)
}

// Wait blocks until req's first-response completion fires or ctx is
// canceled. On cancellation it aborts req and returns ErrInterrupted;
// otherwise it returns the recorded result.
func (c *Client) Wait(ctx context.Context, req *request.Request) (int32, error) {
	defer req.Put()
	select {
	case <-req.Done:
		req.ResultMu.Lock()
		defer req.ResultMu.Unlock()
		return req.Result, nil
	case <-ctx.Done():
		c.Abort(req)
		return 0, ErrInterrupted
	}
}

// HealthCheck reports whether the client has a usable map. It does not
// inspect the timeout worker, which exits on its own whenever no
// requests are live.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.d.CurrentMap() == nil {
		return errors.New("osdclient: no map populated")
	}
	return nil
}

// Stats is a structured snapshot of client-visible state, for callers
// that don't run a Prometheus scraper.
type Stats struct {
	LiveRequests int
	Sessions     int
	Epoch        uint32
}

// Stats returns a point-in-time snapshot.
func (c *Client) Stats() Stats {
	return Stats{
		LiveRequests: c.d.LiveCount(),
		Sessions:     c.d.SessionCount(),
		Epoch:        c.d.CurrentMap().Epoch(),
	}
}

func shrinkPages(pages [][]byte, objectLength uint64) [][]byte {
	remaining := objectLength
	out := make([][]byte, 0, len(pages))
	for _, pg := range pages {
		if remaining == 0 {
			break
		}
		if uint64(len(pg)) > remaining {
			pg = pg[:remaining]
		}
		remaining -= uint64(len(pg))
		out = append(out, pg)
	}
	return out
}
