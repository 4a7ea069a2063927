// Package schedule implements the channel x slot transmission bitmap
// that the MAC, synthesizer, and channelizer all read under the
// reconfiguration barrier (see package mac).
package schedule

import (
	"fmt"
	"os"
	"time"

	hashiversion "github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"
)

// MaxSupportedVersion is the highest schedule file format version this
// build understands. A schedule file declaring a newer version is
// rejected at load rather than silently misparsed: new fields a newer
// writer added (and an older reader doesn't know about) could change
// the schedule's meaning without the reader noticing.
const MaxSupportedVersion = "1.0.0"

// Schedule is a 2-D boolean matrix indexed by (channel, slot): cell
// true iff this node may transmit on that channel in that slot.
type Schedule struct {
	Bits      [][]bool // Bits[ch][slot]
	SlotSize  time.Duration
	GuardSize time.Duration
}

// New builds an empty (all-false) schedule for nchannels channels and
// nslots slots per frame.
func New(nchannels, nslots int, slotSize, guardSize time.Duration) *Schedule {
	bits := make([][]bool, nchannels)
	for i := range bits {
		bits[i] = make([]bool, nslots)
	}
	return &Schedule{Bits: bits, SlotSize: slotSize, GuardSize: guardSize}
}

// Nslots returns the number of slots per frame.
func (s *Schedule) Nslots() int {
	if len(s.Bits) == 0 {
		return 0
	}
	return len(s.Bits[0])
}

// Nchannels returns the number of channels.
func (s *Schedule) Nchannels() int {
	return len(s.Bits)
}

// FrameDuration is the wall-clock duration of one full frame
// (Nslots * SlotSize).
func (s *Schedule) FrameDuration() time.Duration {
	return time.Duration(s.Nslots()) * s.SlotSize
}

// SlotAt returns the slot index containing monotonic time t:
// floor((t mod (nslots*slot_size)) / slot_size).
func (s *Schedule) SlotAt(t time.Time) int {
	frame := s.FrameDuration()
	if frame <= 0 {
		return 0
	}
	elapsed := t.UnixNano() % frame.Nanoseconds()
	if elapsed < 0 {
		elapsed += frame.Nanoseconds()
	}
	return int(time.Duration(elapsed) / s.SlotSize)
}

// SlotOffsetAt returns how far into its slot t falls.
func (s *Schedule) SlotOffsetAt(t time.Time) time.Duration {
	frame := s.FrameDuration()
	if frame <= 0 {
		return 0
	}
	elapsed := t.UnixNano() % frame.Nanoseconds()
	if elapsed < 0 {
		elapsed += frame.Nanoseconds()
	}
	return time.Duration(elapsed) % s.SlotSize
}

// CanTransmit reports whether this node may transmit in any slot on
// any channel: OR across the whole matrix.
func (s *Schedule) CanTransmit() bool {
	for _, row := range s.Bits {
		for _, v := range row {
			if v {
				return true
			}
		}
	}
	return false
}

// CanTransmitInSlot reports whether any channel permits TX in slot.
func (s *Schedule) CanTransmitInSlot(slot int) bool {
	for _, row := range s.Bits {
		if row[mod(slot, len(row))] {
			return true
		}
	}
	return false
}

// MayOverfill reports whether (ch, slot) and (ch, slot+1) are both
// permitted, allowing a burst to spill past the slot boundary.
func (s *Schedule) MayOverfill(ch, slot int) bool {
	row := s.Bits[ch]
	n := len(row)
	return row[mod(slot, n)] && row[mod(slot+1, n)]
}

// FindNextSlot returns the first slot index s (mod Nslots) with
// CanTransmitInSlot(s) true whose wall-clock start is >= t. The first
// candidate is the slot immediately following the one t falls inside,
// since the currently running slot cannot be (re)scheduled into.
func (s *Schedule) FindNextSlot(t time.Time) (slotIdx int, start time.Time) {
	nslots := s.Nslots()
	if nslots == 0 {
		return 0, t
	}
	cur := s.SlotAt(t)
	off := s.SlotOffsetAt(t)
	curStart := t.Add(-off)
	nextStart := curStart.Add(s.SlotSize)
	for i := 1; i <= nslots; i++ {
		candidate := mod(cur+i, nslots)
		candidateStart := nextStart.Add(time.Duration(i-1) * s.SlotSize)
		if s.CanTransmitInSlot(candidate) {
			return candidate, candidateStart
		}
	}
	return cur, curStart
}

func mod(a, n int) int {
	if n == 0 {
		return 0
	}
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}

// fileFormat is the on-disk YAML schedule file shape, mirroring the
// teacher's Config struct-of-structs + yaml tag idiom.
type fileFormat struct {
	Version   string   `yaml:"version"`
	SlotMs    int      `yaml:"slot_ms"`
	GuardUs   int      `yaml:"guard_us"`
	Channels  []string `yaml:"channels"` // informational labels only
	Bits      [][]bool `yaml:"bits"`     // Bits[ch][slot]
}

// Load reads a schedule from a YAML file on disk.
func Load(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schedule: read %s: %w", path, err)
	}
	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("schedule: parse %s: %w", path, err)
	}
	if len(ff.Bits) == 0 {
		return nil, fmt.Errorf("schedule: %s has no channel rows", path)
	}
	if err := checkVersion(ff.Version); err != nil {
		return nil, fmt.Errorf("schedule: %s: %w", path, err)
	}
	return &Schedule{
		Bits:      ff.Bits,
		SlotSize:  time.Duration(ff.SlotMs) * time.Millisecond,
		GuardSize: time.Duration(ff.GuardUs) * time.Microsecond,
	}, nil
}

// Save writes the schedule to a YAML file.
func (s *Schedule) Save(path string) error {
	ff := fileFormat{
		Version: MaxSupportedVersion,
		SlotMs:  int(s.SlotSize / time.Millisecond),
		GuardUs: int(s.GuardSize / time.Microsecond),
		Bits:    s.Bits,
	}
	data, err := yaml.Marshal(ff)
	if err != nil {
		return fmt.Errorf("schedule: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// checkVersion rejects a schedule file whose declared format version
// is newer than this build supports. An empty/unparseable version is
// treated as version 0 rather than an error, so hand-written schedule
// files from before this field existed still load.
func checkVersion(declared string) error {
	if declared == "" {
		return nil
	}
	v, err := hashiversion.NewVersion(declared)
	if err != nil {
		return nil
	}
	max, err := hashiversion.NewVersion(MaxSupportedVersion)
	if err != nil {
		return err
	}
	if v.GreaterThan(max) {
		return fmt.Errorf("schedule file format version %s is newer than supported version %s", declared, max)
	}
	return nil
}
