// Package reqindex implements the tid-ordered request index: the
// table of in-flight requests keyed by their transaction id.
package reqindex

import (
	"fmt"

	"github.com/tidwall/btree"

	"github.com/marmos91/osdc/pkg/request"
)

// Index is a key-ordered associative container from tid to Request.
// It is not safe for concurrent use on its own; callers hold the
// shared request mutex (see pkg/dispatcher) around every call.
type Index struct {
	m btree.Map[uint64, *request.Request]
}

// New returns an empty request index.
func New() *Index {
	return &Index{}
}

// Insert adds req keyed by req.Tid. A tid collision is a caller bug: the
// dispatcher's transaction-id counter is monotonic, so this can only
// happen if two requests were registered with the same tid.
func (idx *Index) Insert(req *request.Request) {
	if _, replaced := idx.m.Set(req.Tid, req); replaced {
		panic(fmt.Sprintf("reqindex: duplicate tid %d", req.Tid))
	}
}

// Lookup returns the request for tid, if present.
func (idx *Index) Lookup(tid uint64) (*request.Request, bool) {
	return idx.m.Get(tid)
}

// Erase removes tid from the index.
func (idx *Index) Erase(tid uint64) {
	idx.m.Delete(tid)
}

// Len returns the number of indexed requests.
func (idx *Index) Len() int {
	return idx.m.Len()
}

// First returns the lowest-tid request in the index.
func (idx *Index) First() (*request.Request, bool) {
	_, v, ok := idx.m.Min()
	return v, ok
}

// LowestGE returns the lowest-tid request with tid >= the given tid.
func (idx *Index) LowestGE(tid uint64) (*request.Request, bool) {
	var found *request.Request
	idx.m.Ascend(tid, func(_ uint64, v *request.Request) bool {
		found = v
		return false
	})
	return found, found != nil
}

// Range calls fn for every request in tid order, stopping early if fn
// returns false.
func (idx *Index) Range(fn func(req *request.Request) bool) {
	idx.m.Scan(func(_ uint64, v *request.Request) bool {
		return fn(v)
	})
}

// RangeFrom calls fn for every request with tid >= from, in tid order,
// stopping early if fn returns false.
func (idx *Index) RangeFrom(from uint64, fn func(req *request.Request) bool) {
	idx.m.Ascend(from, func(_ uint64, v *request.Request) bool {
		return fn(v)
	})
}
