package frame

import (
	"testing"
	"time"
)

func BenchmarkEncode(b *testing.B) {
	now := time.Now()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Encode("benchmark payload", uint32(i), now)
	}
}

func BenchmarkDecode(b *testing.B) {
	wire, _ := Encode("benchmark payload", 0, time.Now())
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Decode(wire)
	}
}
