// Package frame implements the fixed-width 162-byte wire record shared by
// both ends of a message socket connection: an 8-byte CRC-32 (IEEE) in
// lowercase hex, an 8-byte hex sequence counter, a 26-byte ISO-8601 local
// timestamp, and a 120-byte space-padded payload.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
	"time"
)

// Field widths, all in bytes of ASCII text.
const (
	CRCLen       = 8
	SeqLen       = 8
	HexLen       = CRCLen + SeqLen
	TimestampLen = 26
	// HeaderShortLen is the minimum stripped-frame length below which a
	// frame is rejected as short before any field is parsed. Width is as
	// specified; it is less than HeaderLen (CRC+seq+timestamp), so frames
	// between HeaderShortLen and HeaderLen are also treated as short once
	// the missing field would otherwise be sliced out of range.
	HeaderShortLen = 34
	HeaderLen      = HexLen + TimestampLen
	DataLen        = 120
	Len            = HeaderLen + DataLen

	// TimestampLayout mirrors Python's isoformat('|') with forced
	// microseconds: YYYY-MM-DD|HH:MM:SS.ffffff.
	TimestampLayout = "2006-01-02|15:04:05.000000"
)

// Sentinel decode error kinds, classified via errors.Is.
var (
	ErrShort     = errors.New("frame: short")
	ErrCRC       = errors.New("frame: crc mismatch")
	ErrTimestamp = errors.New("frame: timestamp parse")
)

// Decoded is the result of a successful Decode.
type Decoded struct {
	Payload   string
	Seq       uint32
	Timestamp time.Time
}

// NextSeq advances a 32-bit sequence counter, wrapping at 2^32.
func NextSeq(seq uint32) uint32 {
	if seq == 0xffffffff {
		return 0
	}
	return seq + 1
}

// Encode builds a 162-byte frame for payload at sequence seq, timestamped
// now. The payload is stripped of leading/trailing whitespace and, if still
// longer than DataLen, truncated; truncated reports whether that happened so
// callers can emit the "message truncated" warning with the original text.
func Encode(payload string, seq uint32, now time.Time) (wire []byte, truncated bool) {
	payload = strings.TrimSpace(payload)
	if len(payload) > DataLen {
		truncated = true
		payload = payload[:DataLen]
	}
	ts := now.Format(TimestampLayout)

	// CRC covers every byte after the CRC field: seq, timestamp, and the
	// space-padded payload (Len-CRCLen = 154 bytes).
	var body bytes.Buffer
	body.Grow(Len - CRCLen)
	fmt.Fprintf(&body, "%08x", seq)
	body.WriteString(ts)
	body.WriteString(payload)
	for body.Len() < Len-CRCLen {
		body.WriteByte(' ')
	}
	crc := crc32.ChecksumIEEE(body.Bytes())

	var out bytes.Buffer
	out.Grow(Len)
	fmt.Fprintf(&out, "%08x", crc)
	out.Write(body.Bytes())
	return out.Bytes(), truncated
}

// Decode parses a raw frame (expected to be Len bytes, but any length is
// accepted) into its payload, sequence, and timestamp. Outer whitespace is
// stripped before the fields are parsed, matching the peer's own
// strip-before-send discipline; the CRC is recomputed over the raw bytes
// after the CRC field, padding included.
func Decode(raw []byte) (Decoded, error) {
	s := strings.TrimSpace(string(raw))
	if len(s) < HeaderShortLen {
		return Decoded{}, ErrShort
	}

	crcField := s[:CRCLen]
	crcWant, err := strconv.ParseUint(crcField, 16, 32)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrShort, err)
	}
	crcGot := crc32.ChecksumIEEE(raw[CRCLen:])
	if uint32(crcWant) != crcGot {
		return Decoded{}, ErrCRC
	}

	// Deviation from spec's literal (a) short, (b) crc, (c) timestamp
	// ordering: a frame between HeaderShortLen and HeaderLen bytes that
	// happens to pass the CRC check is reported here as short rather than
	// attempted against the timestamp field it doesn't fully contain.
	if len(s) < HeaderLen {
		return Decoded{}, ErrShort
	}
	seqField := s[CRCLen:HexLen]
	tsField := s[HexLen:HeaderLen]

	ts, err := time.ParseInLocation(TimestampLayout, tsField, time.Local)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrTimestamp, err)
	}

	seq, err := strconv.ParseUint(seqField, 16, 32)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrShort, err)
	}

	return Decoded{
		Payload:   s[HeaderLen:],
		Seq:       uint32(seq),
		Timestamp: ts,
	}, nil
}
