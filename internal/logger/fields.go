package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the OSD client.
// Use these keys consistently so log lines from the dispatcher, reply
// handler, map handler and timeout worker can be correlated and queried
// together.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Request identity
	// ========================================================================
	KeyTid    = "tid"    // transaction id
	KeyOid    = "oid"    // object name
	KeyOpcode = "opcode" // primary op code (READ, WRITE, ...)
	KeyFlags  = "flags"  // request flag bitset

	// ========================================================================
	// Placement & routing
	// ========================================================================
	KeyPgID    = "pg_id"    // placement group id
	KeyOsd     = "osd"      // daemon ordinal a request is routed to
	KeyOsdAddr = "osd_addr" // daemon network address
	KeyEpoch   = "epoch"    // osd map epoch
	KeyFSID    = "fsid"     // cluster filesystem identifier

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyResult     = "result"      // byte count or negative errno
	KeyAttempt    = "attempt"     // retry/resend attempt number

	// ========================================================================
	// I/O
	// ========================================================================
	KeyOffset = "offset" // object or file offset
	KeyLength = "length" // byte length of an operation
)

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Tid returns a slog.Attr for a transaction id
func Tid(tid uint64) slog.Attr {
	return slog.Uint64(KeyTid, tid)
}

// Oid returns a slog.Attr for an object name
func Oid(oid string) slog.Attr {
	return slog.String(KeyOid, oid)
}

// Opcode returns a slog.Attr for an op code
func Opcode(op uint16) slog.Attr {
	return slog.Int(KeyOpcode, int(op))
}

// Flags returns a slog.Attr for a request flag bitset
func Flags(f uint32) slog.Attr {
	return slog.Uint64(KeyFlags, uint64(f))
}

// PgID returns a slog.Attr for a placement group id
func PgID(pg uint64) slog.Attr {
	return slog.Uint64(KeyPgID, pg)
}

// Osd returns a slog.Attr for a daemon ordinal
func Osd(ordinal int32) slog.Attr {
	return slog.Int64(KeyOsd, int64(ordinal))
}

// OsdAddr returns a slog.Attr for a daemon network address
func OsdAddr(addr string) slog.Attr {
	return slog.String(KeyOsdAddr, addr)
}

// Epoch returns a slog.Attr for an osd map epoch
func Epoch(e uint32) slog.Attr {
	return slog.Uint64(KeyEpoch, uint64(e))
}

// FSID returns a slog.Attr for the cluster filesystem identifier
func FSID(id string) slog.Attr {
	return slog.String(KeyFSID, id)
}

// Err returns a slog.Attr for an error value
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Result returns a slog.Attr for a reply's result code
func Result(result int32) slog.Attr {
	return slog.Int64(KeyResult, int64(result))
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Offset returns a slog.Attr for a byte offset
func Offset(off uint64) slog.Attr {
	return slog.Uint64(KeyOffset, off)
}

// Length returns a slog.Attr for a byte length
func Length(n uint64) slog.Attr {
	return slog.Uint64(KeyLength, n)
}
