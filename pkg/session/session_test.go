package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/osdc/pkg/request"
	"github.com/marmos91/osdc/pkg/transport"
)

type fakeConn struct {
	closed bool
}

func (c *fakeConn) Send(context.Context, []byte) error { return nil }
func (c *fakeConn) Close() error                        { c.closed = true; return nil }

type fakeDialer struct {
	opened map[string]*fakeConn
	fail   bool
}

func (d *fakeDialer) Connect(_ context.Context, addr string) (transport.Conn, error) {
	if d.fail {
		return nil, errors.New("connect failed")
	}
	c := &fakeConn{}
	d.opened[addr] = c
	return c, nil
}

func newRegistry() (*Registry, *fakeDialer) {
	d := &fakeDialer{opened: map[string]*fakeConn{}}
	return New(d), d
}

func TestRouteCreatesSessionLazily(t *testing.T) {
	reg, d := newRegistry()
	req := &request.Request{Tid: 1}

	s, err := reg.Route(context.Background(), 3, "10.0.0.3:6800", req)
	require.NoError(t, err)
	assert.Equal(t, int32(3), s.OsdOrdinal)
	assert.EqualValues(t, 3, req.RoutedOsd)
	assert.Contains(t, d.opened, "10.0.0.3:6800")
	assert.Equal(t, 1, reg.Len())
}

func TestUnrouteDestroysEmptySession(t *testing.T) {
	reg, d := newRegistry()
	req := &request.Request{Tid: 1}
	_, err := reg.Route(context.Background(), 3, "addr", req)
	require.NoError(t, err)

	reg.Unroute(req)

	_, ok := reg.Lookup(3)
	assert.False(t, ok)
	assert.EqualValues(t, -1, req.RoutedOsd)
	assert.True(t, d.opened["addr"].closed)
}

func TestUnrouteKeepsSessionWithOtherRequests(t *testing.T) {
	reg, _ := newRegistry()
	r1 := &request.Request{Tid: 1}
	r2 := &request.Request{Tid: 2}
	_, err := reg.Route(context.Background(), 3, "addr", r1)
	require.NoError(t, err)
	_, err = reg.Route(context.Background(), 3, "addr", r2)
	require.NoError(t, err)

	reg.Unroute(r1)

	s, ok := reg.Lookup(3)
	require.True(t, ok)
	assert.Len(t, s.Requests, 1)
}

func TestRouteConnectFailurePropagates(t *testing.T) {
	reg := New(&fakeDialer{opened: map[string]*fakeConn{}, fail: true})
	_, err := reg.Route(context.Background(), 3, "addr", &request.Request{Tid: 1})
	assert.Error(t, err)
}

func TestRangeOrdinalOrder(t *testing.T) {
	reg, _ := newRegistry()
	ctx := context.Background()
	_, _ = reg.Route(ctx, 5, "a5", &request.Request{Tid: 1})
	_, _ = reg.Route(ctx, 1, "a1", &request.Request{Tid: 2})
	_, _ = reg.Route(ctx, 3, "a3", &request.Request{Tid: 3})

	var order []int32
	reg.Range(func(s *Session) bool {
		order = append(order, s.OsdOrdinal)
		return true
	})

	assert.Equal(t, []int32{1, 3, 5}, order)
}
