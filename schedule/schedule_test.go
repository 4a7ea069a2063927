package schedule

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func slotted() *Schedule {
	s := New(2, 2, 10*time.Millisecond, time.Millisecond)
	s.Bits[0][0] = true
	s.Bits[1][0] = true
	return s
}

func TestCanTransmitConsistency(t *testing.T) {
	s := slotted()
	require.True(t, s.CanTransmit())
	require.True(t, s.CanTransmitInSlot(0))
	require.False(t, s.CanTransmitInSlot(1))

	empty := New(1, 2, time.Millisecond, 0)
	require.False(t, empty.CanTransmit())
}

func TestMayOverfill(t *testing.T) {
	s := New(1, 2, time.Millisecond, 0)
	s.Bits[0][0] = true
	s.Bits[0][1] = true
	require.True(t, s.MayOverfill(0, 0))

	s2 := slotted()
	require.False(t, s2.MayOverfill(0, 0)) // slot 1 not permitted on ch0
}

func TestFindNextSlotReturnsPermittedAndFuture(t *testing.T) {
	s := slotted()
	epoch := time.Unix(0, 0)
	idx, start := s.FindNextSlot(epoch)
	require.True(t, s.CanTransmitInSlot(idx))
	require.False(t, start.Before(epoch))
}

func TestSlotAtBoundaries(t *testing.T) {
	s := New(1, 4, 10*time.Millisecond, 0)
	require.Equal(t, 0, s.SlotAt(time.Unix(0, 0)))
	require.Equal(t, 1, s.SlotAt(time.Unix(0, 10*int64(time.Millisecond))))
	require.Equal(t, 0, s.SlotAt(time.Unix(0, 40*int64(time.Millisecond)))) // wraps
}

func TestLoadRoundTripsThroughSave(t *testing.T) {
	s := slotted()
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	require.NoError(t, s.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, s.Bits, loaded.Bits)
	require.Equal(t, s.SlotSize, loaded.SlotSize)
}

func TestLoadRejectsNewerFormatVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	data := "version: \"99.0.0\"\nslot_ms: 10\nguard_us: 100\nbits:\n  - [true, false]\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadAcceptsMissingVersionField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	data := "slot_ms: 10\nguard_us: 100\nbits:\n  - [true, false]\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	_, err := Load(path)
	require.NoError(t, err)
}
