// Package session implements the daemon registry: the ordered map from
// osd ordinal to daemon session, whose lifetime is coupled to the
// request table via non-emptiness of each session's request list.
package session

import (
	"context"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/marmos91/osdc/pkg/request"
	"github.com/marmos91/osdc/pkg/transport"
)

// Session bundles a connection to one daemon with the requests
// currently routed there. Per spec's data model, its lifetime is
// bounded by non-emptiness of Requests: the registry destroys a
// session the moment its request list empties.
type Session struct {
	OsdOrdinal int32
	Addr       string
	Conn       transport.Conn
	Requests   []*request.Request
}

// attach appends req to the session's request list.
func (s *Session) attach(req *request.Request) {
	s.Requests = append(s.Requests, req)
	req.RoutedOsd = s.OsdOrdinal
}

// detach removes req from the session's request list. Reports whether
// the session is now empty.
func (s *Session) detach(req *request.Request) bool {
	for i, r := range s.Requests {
		if r == req {
			s.Requests = append(s.Requests[:i], s.Requests[i+1:]...)
			break
		}
	}
	req.RoutedOsd = -1
	return len(s.Requests) == 0
}

// Registry is the key-ordered map from osd ordinal to Session.
// Not safe for concurrent use on its own; callers hold the shared
// request mutex around every call (same lock reqindex.Index uses).
type Registry struct {
	m      *orderedmap.OrderedMap[int32, *Session]
	dialer transport.Dialer
}

// New returns an empty daemon registry. dialer.Connect is called lazily
// the first time a request routes to an ordinal with no existing
// session.
func New(dialer transport.Dialer) *Registry {
	return &Registry{
		m:      orderedmap.New[int32, *Session](),
		dialer: dialer,
	}
}

// Lookup returns the session for ordinal, if one exists.
func (r *Registry) Lookup(ordinal int32) (*Session, bool) {
	return r.m.Get(ordinal)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int { return r.m.Len() }

// Route attaches req to the session for ordinal, creating the session
// (and opening its connection) if this is the first request routed
// there.
func (r *Registry) Route(ctx context.Context, ordinal int32, addr string, req *request.Request) (*Session, error) {
	s, ok := r.m.Get(ordinal)
	if !ok {
		conn, err := r.dialer.Connect(ctx, addr)
		if err != nil {
			return nil, err
		}
		s = &Session{OsdOrdinal: ordinal, Addr: addr, Conn: conn}
		r.m.Set(ordinal, s)
	}
	s.attach(req)
	return s, nil
}

// Unroute detaches req from its current session (looked up by
// req.RoutedOsd) and destroys the session if it becomes empty. It is a
// no-op if req is not currently routed.
func (r *Registry) Unroute(req *request.Request) {
	if req.RoutedOsd < 0 {
		return
	}
	ordinal := req.RoutedOsd
	s, ok := r.m.Get(ordinal)
	if !ok {
		return
	}
	if empty := s.detach(req); empty {
		r.m.Delete(ordinal)
		if s.Conn != nil {
			_ = s.Conn.Close()
		}
	}
}

// Range calls fn for every session in osd_ordinal order, stopping early
// if fn returns false. The backing map is insertion-ordered rather than
// key-ordered, so Range sorts a snapshot of the current sessions by
// ordinal before iterating.
func (r *Registry) Range(fn func(s *Session) bool) {
	sessions := make([]*Session, 0, r.m.Len())
	for pair := r.m.Oldest(); pair != nil; pair = pair.Next() {
		sessions = append(sessions, pair.Value)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].OsdOrdinal < sessions[j].OsdOrdinal
	})
	for _, s := range sessions {
		if !fn(s) {
			return
		}
	}
}
