package frame

import (
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"strings"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.Local)
	wire, truncated := Encode("ping", 7, now)
	if truncated {
		t.Fatalf("unexpected truncation")
	}
	if len(wire) != Len {
		t.Fatalf("frame length = %d, want %d", len(wire), Len)
	}
	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Payload != "ping" {
		t.Fatalf("payload = %q, want %q", got.Payload, "ping")
	}
	if got.Seq != 7 {
		t.Fatalf("seq = %d, want 7", got.Seq)
	}
	if !got.Timestamp.Equal(now) {
		t.Fatalf("timestamp = %v, want %v", got.Timestamp, now)
	}
}

func TestEncodeZeroMicrosecondsAlwaysRendered(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	wire, _ := Encode("x", 0, now)
	s := string(wire)
	if !strings.Contains(s, ".000000") {
		t.Fatalf("expected zero microseconds rendered, got %q", s)
	}
}

func TestEncodeTruncation(t *testing.T) {
	long := strings.Repeat("a", 150)
	wire, truncated := Encode(long, 1, time.Now())
	if !truncated {
		t.Fatalf("expected truncation flag")
	}
	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Payload != long[:DataLen] {
		t.Fatalf("payload not truncated to %d bytes, got len %d", DataLen, len(got.Payload))
	}
}

func TestEncodeStripsWhitespace(t *testing.T) {
	wire, truncated := Encode("  hello  ", 1, time.Now())
	if truncated {
		t.Fatalf("unexpected truncation")
	}
	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Payload != "hello" {
		t.Fatalf("payload = %q, want %q", got.Payload, "hello")
	}
}

func TestDecodeShort(t *testing.T) {
	_, err := Decode([]byte("too short"))
	if err != ErrShort {
		t.Fatalf("err = %v, want ErrShort", err)
	}
}

func TestDecodeCRCSensitivity(t *testing.T) {
	wire, _ := Encode("payload", 42, time.Now())
	for _, i := range []int{CRCLen + 1, CRCLen + 20, Len - 1} {
		mutated := append([]byte(nil), wire...)
		mutated[i] ^= 0x01
		if _, err := Decode(mutated); err != ErrCRC {
			t.Fatalf("byte %d: err = %v, want ErrCRC", i, err)
		}
	}
}

func TestDecodeTimestampError(t *testing.T) {
	wire, _ := Encode("x", 1, time.Now())
	mutated := append([]byte(nil), wire...)
	// Corrupt the timestamp field (right after the 16 hex chars) without
	// touching the CRC so the frame reaches the timestamp parse step.
	bogus := []byte(strings.Repeat("x", TimestampLen))
	copy(mutated[HexLen:HexLen+TimestampLen], bogus)
	// Recompute CRC over the mutated body so only the dt parse fails.
	rest := mutated[CRCLen:]
	recomputeCRC(t, mutated, rest)
	if _, err := Decode(mutated); !errors.Is(err, ErrTimestamp) {
		t.Fatalf("err = %v, want ErrTimestamp", err)
	}
}

func TestNextSeqWraps(t *testing.T) {
	if got := NextSeq(0xffffffff); got != 0 {
		t.Fatalf("NextSeq(max) = %d, want 0", got)
	}
	if got := NextSeq(5); got != 6 {
		t.Fatalf("NextSeq(5) = %d, want 6", got)
	}
}

func TestSequenceAcrossMany(t *testing.T) {
	var seq uint32
	for i := 0; i < 1000; i++ {
		wire, _ := Encode("x", seq, time.Now())
		got, err := Decode(wire)
		if err != nil {
			t.Fatalf("iter %d: %v", i, err)
		}
		if got.Seq != seq {
			t.Fatalf("iter %d: seq = %d, want %d", i, got.Seq, seq)
		}
		seq = NextSeq(seq)
	}
}

func TestLatencyIsCloseToNow(t *testing.T) {
	wire, _ := Encode("x", 0, time.Now())
	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	latencyMS := math.Abs(time.Since(got.Timestamp).Seconds() * 1000)
	if latencyMS > 1000 {
		t.Fatalf("timestamp not close to now: %v ms", latencyMS)
	}
}

func recomputeCRC(t *testing.T, full []byte, rest []byte) {
	t.Helper()
	crc := crc32.ChecksumIEEE(rest)
	copy(full[:CRCLen], []byte(fmt.Sprintf("%08x", crc)))
}
