package dlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dragonradio/iqbuf"
)

func TestBlobStoreAppendReturnsContiguousOffsets(t *testing.T) {
	var b blobStore

	off1, len1 := b.append([]byte("abc"))
	off2, len2 := b.append([]byte("de"))

	require.Equal(t, uint64(0), off1)
	require.Equal(t, uint32(3), len1)
	require.Equal(t, uint64(3), off2)
	require.Equal(t, uint32(2), len2)
	require.Equal(t, []byte("abcde"), b.bytes())
}

func TestU16StoreAppendReturnsContiguousCounts(t *testing.T) {
	var s u16Store

	off1, n1 := s.append([]uint16{1, 2, 3})
	off2, n2 := s.append([]uint16{4, 5})

	require.Equal(t, uint64(0), off1)
	require.Equal(t, uint32(3), n1)
	require.Equal(t, uint64(3), off2)
	require.Equal(t, uint32(2), n2)
	require.Equal(t, []uint16{1, 2, 3, 4, 5}, s.values())
}

func TestLogSlotRecordsCompressedIQOffset(t *testing.T) {
	l, err := Open(48000)
	require.NoError(t, err)
	defer l.Close()

	iq := make([]complex64, 128)
	for i := range iq {
		iq[i] = complex(float32(i)/128-0.5, float32(i)/256)
	}

	now := time.Unix(1000, 0)
	l.LogSlot(now, now, 915e6, 48000, iq)

	require.Len(t, l.slots, 1)
	rec := l.slots[0]
	require.Equal(t, uint32(len(iq)), rec.IQDataLen)
	require.Equal(t, uint64(0), rec.IQOffset)
	require.Greater(t, rec.IQCompLen, uint32(0))
	require.Equal(t, int(rec.IQCompLen), len(l.slotsIQ.bytes()))
}

func TestLogEventCompressesTextIntoCompanionDataset(t *testing.T) {
	l, err := Open(48000)
	require.NoError(t, err)
	defer l.Close()

	now := time.Unix(2000, 0)
	l.LogEvent(now, now, "link to node 3 established")
	l.LogEvent(now, now, "link to node 3 established")

	require.Len(t, l.events, 2)
	require.Equal(t, l.events[0].TextCompLen, l.events[1].TextCompLen,
		"identical text compresses to identical length")
	require.Greater(t, l.events[1].TextOffset, l.events[0].TextOffset)
}

func TestLogARQEventFlattensSackRangesAndCount(t *testing.T) {
	l, err := Open(48000)
	require.NoError(t, err)
	defer l.Close()

	now := time.Unix(3000, 0)
	sacks := []Sack{{Start: 10, End: 20}, {Start: 30, End: 31}}
	l.LogARQEvent(now, now, 1, 5, 42, sacks)

	require.Len(t, l.arqEvents, 1)
	rec := l.arqEvents[0]
	require.Equal(t, uint32(len(sacks)), rec.SackCount)
	require.Equal(t, []uint16{10, 20, 30, 31}, l.sacks.values())
}

func TestLogSnapshotBufSkipsBuffersOutsideSnapshotStream(t *testing.T) {
	l, err := Open(48000)
	require.NoError(t, err)
	defer l.Close()

	buf := iqbuf.New(16)
	l.LogSnapshotBuf(buf)
	require.Empty(t, l.snapshots, "SnapshotOff defaults to -1, so this buffer is not part of a snapshot")
}

func TestLogSelfTXSpanRecordsLocalFlag(t *testing.T) {
	l, err := Open(48000)
	require.NoError(t, err)
	defer l.Close()

	now := time.Unix(4000, 0)
	l.LogSelfTXSpan(now, true, 100, 200, 915e6, 48000)

	require.Len(t, l.selftx, 1)
	require.Equal(t, uint8(1), l.selftx[0].IsLocal)
	require.Equal(t, int32(100), l.selftx[0].Start)
	require.Equal(t, int32(200), l.selftx[0].End)
}

func TestTXNotifierDrainsBatchesAsynchronously(t *testing.T) {
	l, err := Open(48000)
	require.NoError(t, err)
	defer l.Close()

	n := NewTXNotifier(l, 4)
	n.Transmitted(nil, time.Unix(5000, 0))
	n.Transmitted(nil, time.Unix(5001, 0))
	n.Close()

	require.Len(t, l.txRecords, 2)
}
