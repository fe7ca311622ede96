package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnRecvOK_FirstSequenceAcceptedBlindly(t *testing.T) {
	s := New("peer", WithStatusInterval(time.Hour))
	s.OnRecvOK(500, 1.0) // arbitrary first sequence, no prior expectation
	snap := s.Snapshot()
	assert.Zero(t, snap.SeqErrs)
	assert.EqualValues(t, 1, snap.Recvd)
}

func TestOnRecvOK_SequenceGapCountedOnce(t *testing.T) {
	s := New("peer", WithStatusInterval(time.Hour))
	s.OnRecvOK(0, 1.0)
	s.OnRecvOK(1, 1.0) // in order, no gap
	s.OnRecvOK(9, 1.0) // gap
	s.OnRecvOK(10, 1.0) // resynced, in order again
	snap := s.Snapshot()
	assert.EqualValues(t, 1, snap.SeqErrs)
	assert.EqualValues(t, 4, snap.Recvd)
}

func TestLatencyAggregates(t *testing.T) {
	s := New("peer", WithStatusInterval(time.Hour))
	latencies := []float64{10, 20, 30, 40}
	seq := uint32(0)
	for _, l := range latencies {
		s.OnRecvOK(seq, l)
		seq++
	}
	snap := s.Snapshot()
	require.EqualValues(t, 4, snap.Recvd)
	assert.InDelta(t, 10, snap.Min, 1e-9)
	assert.InDelta(t, 40, snap.Max, 1e-9)
	assert.InDelta(t, 25, snap.Avg, 1e-9)
	// population stddev of [10,20,30,40] is sqrt(125) ~ 11.18
	assert.InDelta(t, 11.1803, snap.Stddev, 1e-3)
}

func TestNoFramesMeansZeroAvgAndStddev(t *testing.T) {
	s := New("peer", WithStatusInterval(time.Hour))
	s.OnSendOK()
	snap := s.Snapshot()
	assert.Zero(t, snap.Avg)
	assert.Zero(t, snap.Stddev)
}

func TestReportingResetsCountersAfterWindow(t *testing.T) {
	s := New("peer", WithStatusInterval(20*time.Millisecond))
	s.OnCRCErr()
	s.OnCRCErr()
	snap := s.Snapshot()
	assert.EqualValues(t, 2, snap.CRCErrs)

	time.Sleep(30 * time.Millisecond)
	// The short is counted first, then report() emits the window (including
	// it) and resets every counter.
	s.OnShort()
	snap = s.Snapshot()
	assert.EqualValues(t, 0, snap.Shorts)
	assert.Zero(t, snap.CRCErrs)
}

func TestErrorCountersIndependent(t *testing.T) {
	s := New("peer", WithStatusInterval(time.Hour))
	s.OnShort()
	s.OnDTErr()
	s.OnSendErr()
	s.OnSendTimeout()
	snap := s.Snapshot()
	assert.EqualValues(t, 1, snap.Shorts)
	assert.EqualValues(t, 1, snap.DTErrs)
	assert.EqualValues(t, 1, snap.SendErrs)
	assert.EqualValues(t, 1, snap.SendTimeouts)
}
