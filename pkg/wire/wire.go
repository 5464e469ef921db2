// Package wire encodes and decodes the messages exchanged with an object
// storage daemon: OSD_OP requests and OSD_OPREPLY responses.
//
// Everything here is little-endian and fixed-layout per the cluster's
// published wire ABI; it deliberately does not reuse a general-purpose
// XDR codec because the ABI is not XDR (no length padding, no
// big-endian) — see DESIGN.md.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Flag bits carried in RequestHeader.Flags / ReplyHeader.Flags.
const (
	FlagRead   uint32 = 1 << 0
	FlagWrite  uint32 = 1 << 1
	FlagOndisk uint32 = 1 << 2
	FlagRetry  uint32 = 1 << 3
	FlagAck    uint32 = 1 << 4
)

// Op codes for individual ops within a request.
const (
	OpRead      uint16 = 1
	OpWrite     uint16 = 2
	OpStartSync uint16 = 3
	OpMaskTrunc uint16 = 4
	OpSetTrunc  uint16 = 5
)

// EVersion is the opaque "reassert version" token: an epoch plus a
// monotonic counter within that epoch, echoed by the client on retry so
// the daemon can recognize a duplicate write.
type EVersion struct {
	Epoch   uint32
	Version uint64
}

// Timespec is a wire-format seconds/nanoseconds timestamp.
type Timespec struct {
	Sec  uint32
	Nsec uint32
}

// PGRouting names the placement group a request maps to.
type PGRouting struct {
	PoolID uint64
	PgID   uint64
}

// RequestHeader is the fixed portion of an outbound OSD_OP message.
type RequestHeader struct {
	ClientInc       uint32
	Tid             uint64
	Layout          PGRouting
	SnapID          uint64
	SnapSeq         uint64
	NumSnaps        uint32
	ObjectLen       uint32
	TicketLen       uint32
	OsdmapEpoch     uint32
	Flags           uint32
	Mtime           Timespec
	ReassertVersion EVersion
	NumOps          uint16
}

// ReplyHeader is the fixed portion of an inbound OSD_OPREPLY message.
type ReplyHeader struct {
	Tid             uint64
	Flags           uint32
	Result          int32
	ObjectLen       uint32
	NumOps          uint32
	ReassertVersion EVersion
}

// Op is a single per-object operation, either in a request or a reply.
type Op struct {
	Opcode       uint16
	Offset       uint64
	Length       uint64
	PayloadLen   uint32
	TruncateSeq  uint32
	TruncateSize uint64
}

const (
	requestHeaderSize = 4 + 8 + 16 + 8 + 8 + 4 + 4 + 4 + 4 + 4 + 8 + 12 + 2
	replyHeaderSize   = 8 + 4 + 4 + 4 + 4 + 12
	opSize            = 2 + 8 + 8 + 4 + 4 + 8
)

// ReplyHeaderSize returns the encoded size of a ReplyHeader in bytes.
func ReplyHeaderSize() int { return replyHeaderSize }

// OpSize returns the encoded size of a single Op in bytes.
func OpSize() int { return opSize }

// Request is a fully composed outbound OSD_OP message body.
type Request struct {
	Header  RequestHeader
	Ops     []Op
	Oid     string
	Ticket  []byte
	SnapIDs []uint64
}

// EncodeRequest serializes a Request to its wire form.
func EncodeRequest(r Request) ([]byte, error) {
	r.Header.NumOps = uint16(len(r.Ops))
	r.Header.ObjectLen = uint32(len(r.Oid))
	r.Header.TicketLen = uint32(len(r.Ticket))
	r.Header.NumSnaps = uint32(len(r.SnapIDs))

	buf := new(bytes.Buffer)
	if err := writeRequestHeader(buf, r.Header); err != nil {
		return nil, fmt.Errorf("encode request header: %w", err)
	}
	for i, op := range r.Ops {
		if err := writeOp(buf, op); err != nil {
			return nil, fmt.Errorf("encode op %d: %w", i, err)
		}
	}
	if _, err := buf.WriteString(r.Oid); err != nil {
		return nil, fmt.Errorf("encode oid: %w", err)
	}
	if _, err := buf.Write(r.Ticket); err != nil {
		return nil, fmt.Errorf("encode ticket: %w", err)
	}
	for _, snap := range r.SnapIDs {
		if err := binary.Write(buf, binary.LittleEndian, snap); err != nil {
			return nil, fmt.Errorf("encode snap id: %w", err)
		}
	}

	out := buf.Bytes()
	wantLen := requestHeaderSize + len(r.Ops)*opSize + len(r.Oid) + len(r.Ticket) + len(r.SnapIDs)*8
	if len(out) != wantLen {
		return nil, fmt.Errorf("internal error: encoded %d bytes, expected %d", len(out), wantLen)
	}
	return out, nil
}

func writeRequestHeader(buf *bytes.Buffer, h RequestHeader) error {
	fields := []any{
		h.ClientInc, h.Tid,
		h.Layout.PoolID, h.Layout.PgID,
		h.SnapID, h.SnapSeq, h.NumSnaps,
		h.ObjectLen, h.TicketLen, h.OsdmapEpoch, h.Flags,
		h.Mtime.Sec, h.Mtime.Nsec,
		h.ReassertVersion.Epoch, h.ReassertVersion.Version,
		h.NumOps,
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func writeOp(buf *bytes.Buffer, op Op) error {
	fields := []any{op.Opcode, op.Offset, op.Length, op.PayloadLen, op.TruncateSeq, op.TruncateSize}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

// DecodeRequestHeader decodes just the fixed header, used by transport
// test doubles that need to read the tid without decoding the full body.
func DecodeRequestHeader(b []byte) (RequestHeader, error) {
	if len(b) < requestHeaderSize {
		return RequestHeader{}, fmt.Errorf("short request header: %d bytes", len(b))
	}
	r := bytes.NewReader(b)
	var h RequestHeader
	fields := []any{
		&h.ClientInc, &h.Tid,
		&h.Layout.PoolID, &h.Layout.PgID,
		&h.SnapID, &h.SnapSeq, &h.NumSnaps,
		&h.ObjectLen, &h.TicketLen, &h.OsdmapEpoch, &h.Flags,
		&h.Mtime.Sec, &h.Mtime.Nsec,
		&h.ReassertVersion.Epoch, &h.ReassertVersion.Version,
		&h.NumOps,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return RequestHeader{}, err
		}
	}
	return h, nil
}

// Reply is a fully decoded inbound OSD_OPREPLY message body.
type Reply struct {
	Header ReplyHeader
	Ops    []Op
	Oid    string
}

// DecodeReply parses and validates an OSD_OPREPLY message.
//
// Per the wire contract (spec §4.6 step 1), the front length must be at
// least sizeof(header) and must equal exactly
// sizeof(header) + object_len + num_ops*sizeof(op); anything else is a
// corrupt/truncated reply.
func DecodeReply(b []byte) (Reply, error) {
	if len(b) < replyHeaderSize {
		return Reply{}, fmt.Errorf("short reply: %d bytes, want at least %d", len(b), replyHeaderSize)
	}

	r := bytes.NewReader(b)
	var h ReplyHeader
	fields := []any{
		&h.Tid, &h.Flags, &h.Result, &h.ObjectLen, &h.NumOps,
		&h.ReassertVersion.Epoch, &h.ReassertVersion.Version,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return Reply{}, fmt.Errorf("decode reply header: %w", err)
		}
	}

	wantLen := replyHeaderSize + int(h.NumOps)*opSize + int(h.ObjectLen)
	if len(b) != wantLen {
		return Reply{}, fmt.Errorf("corrupt reply: got %d bytes, want %d (header=%d ops=%d*%d oid=%d)",
			len(b), wantLen, replyHeaderSize, h.NumOps, opSize, h.ObjectLen)
	}

	ops := make([]Op, h.NumOps)
	for i := range ops {
		var op Op
		opFields := []any{&op.Opcode, &op.Offset, &op.Length, &op.PayloadLen, &op.TruncateSeq, &op.TruncateSize}
		for _, f := range opFields {
			if err := binary.Read(r, binary.LittleEndian, f); err != nil {
				return Reply{}, fmt.Errorf("decode op %d: %w", i, err)
			}
		}
		ops[i] = op
	}

	oidBytes := make([]byte, h.ObjectLen)
	if h.ObjectLen > 0 {
		if _, err := r.Read(oidBytes); err != nil {
			return Reply{}, fmt.Errorf("decode oid: %w", err)
		}
	}

	return Reply{Header: h, Ops: ops, Oid: string(oidBytes)}, nil
}

// EncodeReply serializes a Reply to its wire form. Used by test doubles
// that play the role of a daemon.
func EncodeReply(rep Reply) ([]byte, error) {
	rep.Header.NumOps = uint32(len(rep.Ops))
	rep.Header.ObjectLen = uint32(len(rep.Oid))

	buf := new(bytes.Buffer)
	fields := []any{
		rep.Header.Tid, rep.Header.Flags, rep.Header.Result, rep.Header.ObjectLen, rep.Header.NumOps,
		rep.Header.ReassertVersion.Epoch, rep.Header.ReassertVersion.Version,
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("encode reply header: %w", err)
		}
	}
	for i, op := range rep.Ops {
		if err := writeOp(buf, op); err != nil {
			return nil, fmt.Errorf("encode reply op %d: %w", i, err)
		}
	}
	if _, err := buf.WriteString(rep.Oid); err != nil {
		return nil, fmt.Errorf("encode reply oid: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatOid renders the canonical object-name format: "<inode-hex>.<blockno-hex08>".
func FormatOid(ino uint64, blockNo uint64) string {
	return fmt.Sprintf("%x.%08x", ino, blockNo)
}
