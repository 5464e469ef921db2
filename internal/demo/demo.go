// Package demo wires a minimal in-memory topology and transport so
// osdcctl can exercise the OSD client facade without a real cluster:
// a single-osd fake map and a loopback "daemon" that acks every write
// and echoes zeroed pages on every read.
package demo

import (
	"context"
	"time"

	"github.com/marmos91/osdc/pkg/maphandler"
	"github.com/marmos91/osdc/pkg/placement"
	"github.com/marmos91/osdc/pkg/transport"
	"github.com/marmos91/osdc/pkg/wire"
)

// FakeMap is a single-osd placement map good enough for a CLI demo:
// oids hash into 8 placement groups, all primary on ordinal 0.
type FakeMap struct {
	epoch uint32
	addr  string
}

// NewFakeMap returns a one-osd map at epoch 1.
func NewFakeMap(addr string) *FakeMap {
	return &FakeMap{epoch: 1, addr: addr}
}

func (m *FakeMap) Epoch() uint32 { return m.epoch }

func (m *FakeMap) Addr(ordinal int32) (string, bool) {
	if ordinal != 0 {
		return "", false
	}
	return m.addr, true
}

func (m *FakeMap) CalcPGPrimary(uint64) int32 { return 0 }

func (m *FakeMap) CalcObjectLayout(poolID uint64, oid string) uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(oid); i++ {
		h ^= uint64(oid[i])
		h *= 1099511628211
	}
	return h % 8
}

var _ placement.OsdMap = (*FakeMap)(nil)

// LoopbackConn is a transport.Conn that answers every sent message by
// calling onReply on a new goroutine, simulating a daemon that replies
// at once.
type LoopbackConn struct {
	onReply func(ctx context.Context, msg []byte)
}

// Send decodes the outbound request header and synthesizes a reply:
// an ONDISK ack for writes, a plain ack for reads.
func (c *LoopbackConn) Send(ctx context.Context, msg []byte) error {
	hdr, err := wire.DecodeRequestHeader(msg)
	if err != nil {
		return err
	}

	flags := hdr.Flags & (wire.FlagWrite | wire.FlagOndisk)
	rep := wire.Reply{
		Header: wire.ReplyHeader{
			Tid:             hdr.Tid,
			Flags:           flags,
			Result:          0,
			ReassertVersion: hdr.ReassertVersion,
		},
	}
	encoded, err := wire.EncodeReply(rep)
	if err != nil {
		return err
	}

	go c.onReply(ctx, encoded)
	return nil
}

func (c *LoopbackConn) Close() error { return nil }

// Dialer hands out LoopbackConns bound to a single reply callback.
type Dialer struct {
	OnReply func(ctx context.Context, msg []byte)
}

func (d *Dialer) Connect(context.Context, string) (transport.Conn, error) {
	return &LoopbackConn{onReply: d.OnReply}, nil
}

var _ transport.Dialer = (*Dialer)(nil)

// NoopMonitor satisfies dispatcher.Monitor without talking to a real
// monitor cluster.
type NoopMonitor struct{}

func (NoopMonitor) RequestNewerMap(context.Context) {}
func (NoopMonitor) NotifyEpoch(uint32)               {}

// NoopDecoder satisfies maphandler.Decoder; the demo never receives
// real map messages.
type NoopDecoder struct{}

func (NoopDecoder) ApplyIncremental(base placement.OsdMap, epoch uint32, data []byte) (placement.OsdMap, bool, error) {
	return base, false, nil
}

func (NoopDecoder) DecodeFull(data []byte) (placement.OsdMap, error) {
	return nil, nil
}

var _ maphandler.Decoder = NoopDecoder{}

// NoopPinger satisfies timeout.Pinger with an always-successful ping.
type NoopPinger struct{}

func (NoopPinger) Ping(context.Context, transport.Conn) error { return nil }

// DefaultOsdTimeout is an osd timeout for demo clients built without
// pkg/config; the CLI takes its timeout from the loaded config instead.
const DefaultOsdTimeout = 30 * time.Second
