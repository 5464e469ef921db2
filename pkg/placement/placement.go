// Package placement computes where a file extent lands in object space
// and which daemon currently owns it. It is a pure function of the
// caller-supplied layout and the current osd map; it holds no state of
// its own and talks to no transport.
package placement

import (
	"github.com/marmos91/osdc/pkg/wire"
)

// NoPrimary is returned as the primary ordinal when the placement
// group has no up member to route to yet.
const NoPrimary int32 = -1

// Vino identifies a versioned inode: the file whose extent is being
// placed, plus its snapshot id (NoSnap for the live head).
type Vino struct {
	Ino  uint64
	Snap uint64
}

// NoSnap is the snapshot id of the live (non-snapshotted) file head.
const NoSnap uint64 = ^uint64(0)

// FileLayout describes how a file's bytes are striped across objects.
// It is a caller-owned snapshot, copied at request-build time so later
// layout changes on the file do not affect in-flight requests.
type FileLayout struct {
	// ObjectSize is the size in bytes of each backing object.
	ObjectSize uint64
	// StripeUnit is the size of one stripe across the object set.
	StripeUnit uint64
	// StripeCount is the number of objects a stripe spans before
	// wrapping back to the first.
	StripeCount uint32
	// PoolID identifies the pool objects for this file are stored in.
	PoolID uint64
}

// OsdMap is the external topology collaborator: a versioned snapshot of
// cluster membership and placement rules. The core only ever consults
// it through this narrow interface; decoding and the underlying
// placement math live outside the core.
type OsdMap interface {
	// Epoch returns the map's version number.
	Epoch() uint32
	// Addr returns the network address of the given daemon ordinal.
	Addr(ordinal int32) (string, bool)
	// CalcPGPrimary returns the primary daemon ordinal for a placement
	// group, or NoPrimary if the group currently has no up member.
	CalcPGPrimary(pgID uint64) int32
	// CalcObjectLayout maps a pool+oid hash to a placement group id.
	CalcObjectLayout(poolID uint64, oid string) uint64
}

// Result is the outcome of placing one extent.
type Result struct {
	Oid           string
	ObjectOffset  uint64
	ObjectLength  uint64
	PgID          uint64
	PrimaryOrNeg1 int32
}

// Place maps a file-relative extent to an object, a placement group and
// (if the map has one) a primary daemon ordinal. len may come back
// shorter than requested if the extent crosses an object boundary;
// callers must re-check the returned ObjectLength rather than assuming
// the full request was honored.
func Place(layout FileLayout, vino Vino, off, plen uint64, m OsdMap) Result {
	objectSize := layout.ObjectSize
	if objectSize == 0 {
		objectSize = layout.StripeUnit
	}

	blockNo := off / objectSize
	objOff := off % objectSize
	objLen := plen
	if remaining := objectSize - objOff; objLen > remaining {
		objLen = remaining
	}

	oid := wire.FormatOid(vino.Ino, blockNo)
	pgID := m.CalcObjectLayout(layout.PoolID, oid)
	primary := m.CalcPGPrimary(pgID)

	return Result{
		Oid:           oid,
		ObjectOffset:  objOff,
		ObjectLength:  objLen,
		PgID:          pgID,
		PrimaryOrNeg1: primary,
	}
}
