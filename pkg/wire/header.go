// Package wire implements the legacy binary message protocol: frame
// header, typed little-endian (de)serialization primitives, and the
// closed message-id registry. Byte layout is load-bearing — it is
// consumed by filesystem peers this service does not control.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderLen is the fixed on-wire size of a frame header.
const HeaderLen = 40

// DataVersion is the low 32 bits of MagicPrefix.
const DataVersion = 0

// MagicPrefix identifies a valid frame; mismatch means the stream is not
// speaking this protocol (or is desynchronized) and must be dropped.
const MagicPrefix uint64 = (0x42474653 << 32) | DataVersion

// Header is the fixed 40-byte frame header, little-endian on the wire.
type Header struct {
	TotalLen     uint32 // header + body length
	FeatureFlags uint16
	CompatFlags  uint8
	Flags        uint8
	MagicPrefix  uint64
	MsgID        uint16
	TargetID     uint16
	UserID       uint32
	Seq          uint64
	SeqDone      uint64
}

// NewHeader builds a header for an outbound message of the given body
// length and msg id, with the magic prefix and zeroed optional fields.
func NewHeader(bodyLen int, msgID uint16, featureFlags uint16) Header {
	return Header{
		TotalLen:     uint32(HeaderLen + bodyLen),
		FeatureFlags: featureFlags,
		MagicPrefix:  MagicPrefix,
		MsgID:        msgID,
	}
}

// ErrShortHeader is returned by DecodeHeader when buf is smaller than HeaderLen.
var ErrShortHeader = fmt.Errorf("wire: short header, need %d bytes", HeaderLen)

// ErrBadMagic is returned when the decoded magic prefix does not match MagicPrefix.
var ErrBadMagic = fmt.Errorf("wire: magic prefix mismatch")

// ErrBodyTooLarge is returned when TotalLen is below HeaderLen or above
// MaxFrameLen.
var ErrBodyTooLarge = fmt.Errorf("wire: total_len outside [header length, maximum frame size]")

// MaxFrameLen bounds a single frame (UDP datagrams are additionally
// capped at 65535 bytes by the transport layer).
const MaxFrameLen = 16 << 20

// Encode writes h into buf, which must be at least HeaderLen bytes.
func (h Header) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.TotalLen)
	binary.LittleEndian.PutUint16(buf[4:6], h.FeatureFlags)
	buf[6] = h.CompatFlags
	buf[7] = h.Flags
	binary.LittleEndian.PutUint64(buf[8:16], h.MagicPrefix)
	binary.LittleEndian.PutUint16(buf[16:18], h.MsgID)
	binary.LittleEndian.PutUint16(buf[18:20], h.TargetID)
	binary.LittleEndian.PutUint32(buf[20:24], h.UserID)
	binary.LittleEndian.PutUint64(buf[24:32], h.Seq)
	binary.LittleEndian.PutUint64(buf[32:40], h.SeqDone)
}

// DecodeHeader parses a Header from buf, which must hold at least
// HeaderLen bytes. It validates the magic prefix and TotalLen bound.
func DecodeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderLen {
		return h, ErrShortHeader
	}
	h.TotalLen = binary.LittleEndian.Uint32(buf[0:4])
	h.FeatureFlags = binary.LittleEndian.Uint16(buf[4:6])
	h.CompatFlags = buf[6]
	h.Flags = buf[7]
	h.MagicPrefix = binary.LittleEndian.Uint64(buf[8:16])
	h.MsgID = binary.LittleEndian.Uint16(buf[16:18])
	h.TargetID = binary.LittleEndian.Uint16(buf[18:20])
	h.UserID = binary.LittleEndian.Uint32(buf[20:24])
	h.Seq = binary.LittleEndian.Uint64(buf[24:32])
	h.SeqDone = binary.LittleEndian.Uint64(buf[32:40])

	if h.MagicPrefix != MagicPrefix {
		return h, ErrBadMagic
	}
	if h.TotalLen < HeaderLen || h.TotalLen > MaxFrameLen {
		return h, ErrBodyTooLarge
	}
	return h, nil
}

// BodyLen returns the expected body length for this header.
func (h Header) BodyLen() int {
	return int(h.TotalLen) - HeaderLen
}
