package dlog

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	hdf5 "github.com/sbinet/go-hdf5"

	"dragonradio/iqcodec"
)

// Logger accumulates log records in memory and writes them out as an
// HDF5 file with one dataset per record kind plus the companion flat
// datasets that hold variable-length payloads, on Flush. This
// accumulate-then-flush design trades streaming writes (the original
// extends a chunked dataset as records arrive) for a much smaller,
// easier-to-get-right surface against go-hdf5's dataset API; a
// session's log is bounded by the run, not unbounded, so holding it
// in memory until Flush is a reasonable trade.
type Logger struct {
	mu sync.Mutex

	sampleRate uint32

	slots     []SlotRecord
	txRecords []TXRecordEntry
	snapshots []SnapshotRecord
	selftx    []SelfTXRecord
	recv      []RecvRecord
	send      []SendRecord
	events    []EventRecord
	arqEvents []ARQEventRecord

	slotsIQ     blobStore
	snapshotsIQ blobStore
	eventText   blobStore
	sacks       u16Store

	enc *zstd.Encoder
}

// Open creates an empty in-memory session logger; no file is written
// until Flush. sampleRate is recorded
// alongside each IQ blob so iqcodec.Decompress has what it needs.
func Open(sampleRate uint32) (*Logger, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("dlog: new zstd encoder: %w", err)
	}
	return &Logger{sampleRate: sampleRate, enc: enc}, nil
}

func (l *Logger) LogSlot(t, monoT time.Time, fc, fs float32, iq []complex64) {
	compressed := iqcodec.Compress(iq, l.sampleRate)
	l.mu.Lock()
	defer l.mu.Unlock()
	off, clen := l.slotsIQ.append(compressed)
	l.slots = append(l.slots, SlotRecord{
		Timestamp:     toUnix(t),
		MonoTimestamp: toUnix(monoT),
		FC:            fc,
		FS:            fs,
		IQDataLen:     uint32(len(iq)),
		IQOffset:      off,
		IQCompLen:     clen,
	})
}

func (l *Logger) LogTXRecord(t, monoT time.Time, nsamples int64, fs float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txRecords = append(l.txRecords, TXRecordEntry{
		Timestamp:     toUnix(t),
		MonoTimestamp: toUnix(monoT),
		NSamples:      nsamples,
		FS:            fs,
	})
}

func (l *Logger) LogSnapshot(t, monoT time.Time, fs float32, iq []complex64) {
	compressed := iqcodec.Compress(iq, l.sampleRate)
	l.mu.Lock()
	defer l.mu.Unlock()
	off, clen := l.snapshotsIQ.append(compressed)
	l.snapshots = append(l.snapshots, SnapshotRecord{
		Timestamp:     toUnix(t),
		MonoTimestamp: toUnix(monoT),
		FS:            fs,
		IQDataLen:     uint32(len(iq)),
		IQOffset:      off,
		IQCompLen:     clen,
	})
}

func (l *Logger) LogSelfTX(rec SelfTXRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selftx = append(l.selftx, rec)
}

func (l *Logger) LogRecv(rec RecvRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recv = append(l.recv, rec)
}

func (l *Logger) LogSend(rec SendRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.send = append(l.send, rec)
}

func (l *Logger) LogEvent(t, monoT time.Time, text string) {
	compressed := l.enc.EncodeAll([]byte(text), nil)
	l.mu.Lock()
	defer l.mu.Unlock()
	off, clen := l.eventText.append(compressed)
	l.events = append(l.events, EventRecord{
		Timestamp:     toUnix(t),
		MonoTimestamp: toUnix(monoT),
		TextOffset:    off,
		TextCompLen:   clen,
	})
}

func (l *Logger) LogARQEvent(t, monoT time.Time, kind, node uint8, seq uint16, sacks []Sack) {
	flat := make([]uint16, 0, 2*len(sacks))
	for _, s := range sacks {
		flat = append(flat, s.Start, s.End)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	off, count := l.sacks.append(flat)
	l.arqEvents = append(l.arqEvents, ARQEventRecord{
		Timestamp:     toUnix(t),
		MonoTimestamp: toUnix(monoT),
		Type:          kind,
		Node:          node,
		Seq:           seq,
		SackOffset:    off,
		SackCount:     count / 2,
	})
}

// Flush writes every accumulated record to path as a new HDF5 file.
// The logger's in-memory buffers are left intact, so Flush may be
// called more than once (e.g. periodic checkpoints) before Close.
func (l *Logger) Flush(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return fmt.Errorf("dlog: create %s: %w", path, err)
	}
	defer f.Close()

	writers := []func() error{
		func() error { return writeDataset(f, "slots", &l.slots) },
		func() error { return writeDataset(f, "tx_records", &l.txRecords) },
		func() error { return writeDataset(f, "snapshots", &l.snapshots) },
		func() error { return writeDataset(f, "selftx", &l.selftx) },
		func() error { return writeDataset(f, "recv", &l.recv) },
		func() error { return writeDataset(f, "send", &l.send) },
		func() error { return writeDataset(f, "event", &l.events) },
		func() error { return writeDataset(f, "arq_event", &l.arqEvents) },
	}
	for _, w := range writers {
		if err := w(); err != nil {
			return err
		}
	}

	slotsIQ := l.slotsIQ.bytes()
	snapshotsIQ := l.snapshotsIQ.bytes()
	eventText := l.eventText.bytes()
	sackValues := l.sacks.values()

	blobs := []func() error{
		func() error { return writeDataset(f, "slots_iq", &slotsIQ) },
		func() error { return writeDataset(f, "snapshots_iq", &snapshotsIQ) },
		func() error { return writeDataset(f, "event_text", &eventText) },
		func() error { return writeDataset(f, "arq_event_sacks", &sackValues) },
	}
	for _, w := range blobs {
		if err := w(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the logger's zstd encoder. It does not write any
// file; call Flush first if the accumulated records should be
// persisted.
func (l *Logger) Close() error {
	if l.enc != nil {
		l.enc.Close()
	}
	return nil
}

func toUnix(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

// writeDataset creates an HDF5 dataset named name holding *slicePtr
// (a pointer to a Go slice of a fixed-layout record or scalar type)
// and writes it in one shot. A nil or empty slice is a no-op: an
// absent dataset means "no records of this kind," matching the
// original's behavior of simply not writing unused datasets.
func writeDataset(f *hdf5.File, name string, slicePtr interface{}) error {
	v := reflect.ValueOf(slicePtr).Elem()
	if v.Len() == 0 {
		return nil
	}

	elem := reflect.New(v.Type().Elem()).Elem().Interface()
	dtype, err := hdf5.NewDatatypeFromValue(elem)
	if err != nil {
		return fmt.Errorf("dlog: datatype for %s: %w", name, err)
	}
	defer dtype.Close()

	dspace, err := hdf5.NewDataspaceSimple([]uint{uint(v.Len())}, nil)
	if err != nil {
		return fmt.Errorf("dlog: dataspace for %s: %w", name, err)
	}
	defer dspace.Close()

	ds, err := f.CreateDataset(name, dtype, dspace)
	if err != nil {
		return fmt.Errorf("dlog: create dataset %s: %w", name, err)
	}
	defer ds.Close()

	if err := ds.Write(slicePtr); err != nil {
		return fmt.Errorf("dlog: write dataset %s: %w", name, err)
	}
	return nil
}
