// Package maphandler applies incremental and full osd map updates and
// triggers mass resubmission of affected requests.
package maphandler

import (
	"context"
	"errors"

	"github.com/marmos91/osdc/internal/logger"
	"github.com/marmos91/osdc/pkg/dispatcher"
	"github.com/marmos91/osdc/pkg/placement"
)

// ErrCorrupt is returned when a map message cannot be parsed.
var ErrCorrupt = errors.New("maphandler: corrupt msg")

// Decoder is the external osd-map decoder: applying an incremental
// update against a base map, or decoding a full map from scratch.
type Decoder interface {
	// ApplyIncremental applies the incremental update encoded in data
	// to base, returning the resulting map. ok is false if epoch did
	// not chain onto base (caller should ignore the incremental).
	ApplyIncremental(base placement.OsdMap, epoch uint32, data []byte) (placement.OsdMap, bool, error)
	// DecodeFull decodes a standalone full map snapshot.
	DecodeFull(data []byte) (placement.OsdMap, error)
}

// Message is a parsed MDS_MAP/OSD_MAP payload: zero or more
// incrementals followed by zero or more full maps.
type Message struct {
	FSID          string
	Incrementals  []Incremental
	FullMaps      []FullMap
}

// Incremental is one incremental update entry.
type Incremental struct {
	Epoch uint32
	Data  []byte
}

// FullMap is one full map entry.
type FullMap struct {
	Epoch uint32
	Data  []byte
}

// Handler applies map updates to a Dispatcher's active map.
type Handler struct {
	d        *dispatcher.Dispatcher
	decoder  Decoder
	monitor  dispatcher.Monitor
	localFSID string
}

// New returns a map handler bound to d. localFSID is the cluster
// filesystem identifier this client expects; messages for any other
// identifier are dropped.
func New(d *dispatcher.Dispatcher, decoder Decoder, monitor dispatcher.Monitor, localFSID string) *Handler {
	return &Handler{d: d, decoder: decoder, monitor: monitor, localFSID: localFSID}
}

// OnMapMessage applies msg per the map handler contract: incrementals
// take priority over full maps; only the chain of contiguous epochs is
// applied; otherwise only the last full map is considered, and it is
// applied only if its epoch is newer than the current one.
func (h *Handler) OnMapMessage(ctx context.Context, msg Message) error {
	if msg.FSID != h.localFSID {
		logger.WarnCtx(ctx, "fsid mismatch, dropping map message", logger.FSID(msg.FSID))
		return nil
	}

	before := h.d.CurrentMap()
	applied := false
	current := before

	for _, inc := range msg.Incrementals {
		if current.Epoch()+1 != inc.Epoch {
			continue
		}
		next, ok, err := h.decoder.ApplyIncremental(current, inc.Epoch, inc.Data)
		if err != nil {
			logger.ErrorCtx(ctx, "corrupt msg", logger.Err(err))
			return ErrCorrupt
		}
		if !ok {
			continue
		}
		current = next
		applied = true
	}

	if !applied && len(msg.FullMaps) > 0 {
		last := msg.FullMaps[len(msg.FullMaps)-1]
		if last.Epoch > current.Epoch() {
			decoded, err := h.decoder.DecodeFull(last.Data)
			if err != nil {
				logger.ErrorCtx(ctx, "corrupt msg", logger.Err(err))
				return ErrCorrupt
			}
			current = decoded
			applied = true
		}
	}

	h.d.SwapMap(current)
	h.monitor.NotifyEpoch(current.Epoch())

	if applied && current.Epoch() != before.Epoch() {
		h.d.KickRequests(ctx, "")
	}
	return nil
}

// OnReset is the transport's reset callback: every request routed to
// addr must be resolved and resent.
func (h *Handler) OnReset(ctx context.Context, addr string) {
	logger.WarnCtx(ctx, "transport reset, mass-resubmitting", logger.OsdAddr(addr))
	h.d.KickRequests(ctx, addr)
}
