package maphandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/osdc/pkg/dispatcher"
	"github.com/marmos91/osdc/pkg/placement"
	"github.com/marmos91/osdc/pkg/transport"
)

type fakeMap struct {
	epoch     uint32
	addrs     map[int32]string
	primaries map[uint64]int32
}

func (m *fakeMap) Epoch() uint32 { return m.epoch }
func (m *fakeMap) Addr(ordinal int32) (string, bool) {
	a, ok := m.addrs[ordinal]
	return a, ok
}
func (m *fakeMap) CalcPGPrimary(pgID uint64) int32 {
	if p, ok := m.primaries[pgID]; ok {
		return p
	}
	return placement.NoPrimary
}
func (m *fakeMap) CalcObjectLayout(uint64, string) uint64 { return 1 }

type fakeConn struct{}

func (fakeConn) Send(context.Context, []byte) error { return nil }
func (fakeConn) Close() error                        { return nil }

type fakeDialer struct{}

func (fakeDialer) Connect(context.Context, string) (transport.Conn, error) { return fakeConn{}, nil }

type fakeMonitor struct {
	epoch uint32
}

func (m *fakeMonitor) RequestNewerMap(context.Context) {}
func (m *fakeMonitor) NotifyEpoch(epoch uint32)        { m.epoch = epoch }

type fakeDecoder struct {
	applyErr error
}

func (d *fakeDecoder) ApplyIncremental(base placement.OsdMap, epoch uint32, data []byte) (placement.OsdMap, bool, error) {
	if d.applyErr != nil {
		return nil, false, d.applyErr
	}
	b := base.(*fakeMap)
	next := &fakeMap{epoch: epoch, addrs: cloneAddrs(b.addrs), primaries: clonePrimaries(b.primaries)}
	for k, v := range decodeIncrementalData(data) {
		next.primaries[k] = v
	}
	return next, true, nil
}

func (d *fakeDecoder) DecodeFull(data []byte) (placement.OsdMap, error) {
	return &fakeMap{epoch: 100, addrs: map[int32]string{}, primaries: map[uint64]int32{}}, nil
}

func cloneAddrs(m map[int32]string) map[int32]string {
	out := make(map[int32]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clonePrimaries(m map[uint64]int32) map[uint64]int32 {
	out := make(map[uint64]int32, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// decodeIncrementalData is a test-only stand-in: real data would be an
// encoded diff, here it's just a single pg->ordinal pair.
func decodeIncrementalData(data []byte) map[uint64]int32 {
	if len(data) < 2 {
		return nil
	}
	return map[uint64]int32{uint64(data[0]): int32(data[1])}
}

func TestIncrementalAppliedAndMonitorNotified(t *testing.T) {
	m := &fakeMap{epoch: 4, addrs: map[int32]string{5: "osd5"}, primaries: map[uint64]int32{1: 3}}
	d := dispatcher.New(m, fakeDialer{}, &fakeMonitor{}, time.Second, nil)
	mon := &fakeMonitor{}
	h := New(d, &fakeDecoder{}, mon, "fs-1")

	err := h.OnMapMessage(context.Background(), Message{
		FSID:         "fs-1",
		Incrementals: []Incremental{{Epoch: 5, Data: []byte{1, 5}}},
	})
	require.NoError(t, err)

	assert.EqualValues(t, 5, d.CurrentMap().Epoch())
	assert.EqualValues(t, 5, mon.epoch)
}

func TestFsidMismatchDropped(t *testing.T) {
	m := &fakeMap{epoch: 4}
	d := dispatcher.New(m, fakeDialer{}, &fakeMonitor{}, time.Second, nil)
	h := New(d, &fakeDecoder{}, &fakeMonitor{}, "fs-1")

	err := h.OnMapMessage(context.Background(), Message{FSID: "other"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, d.CurrentMap().Epoch(), "map must not change")
}

func TestNonContiguousIncrementalIgnored(t *testing.T) {
	m := &fakeMap{epoch: 4}
	d := dispatcher.New(m, fakeDialer{}, &fakeMonitor{}, time.Second, nil)
	h := New(d, &fakeDecoder{}, &fakeMonitor{}, "fs-1")

	err := h.OnMapMessage(context.Background(), Message{
		FSID:         "fs-1",
		Incrementals: []Incremental{{Epoch: 9, Data: []byte{1, 2}}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4, d.CurrentMap().Epoch())
}

func TestFullMapAppliedWhenNoIncrementals(t *testing.T) {
	m := &fakeMap{epoch: 4}
	d := dispatcher.New(m, fakeDialer{}, &fakeMonitor{}, time.Second, nil)
	h := New(d, &fakeDecoder{}, &fakeMonitor{}, "fs-1")

	err := h.OnMapMessage(context.Background(), Message{
		FSID:     "fs-1",
		FullMaps: []FullMap{{Epoch: 50}, {Epoch: 100}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 100, d.CurrentMap().Epoch())
}

func TestCorruptIncrementalReturnsError(t *testing.T) {
	m := &fakeMap{epoch: 4}
	d := dispatcher.New(m, fakeDialer{}, &fakeMonitor{}, time.Second, nil)
	h := New(d, &fakeDecoder{applyErr: errors.New("bad bytes")}, &fakeMonitor{}, "fs-1")

	err := h.OnMapMessage(context.Background(), Message{
		FSID:         "fs-1",
		Incrementals: []Incremental{{Epoch: 5, Data: []byte{1, 2}}},
	})
	assert.ErrorIs(t, err, ErrCorrupt)
}
