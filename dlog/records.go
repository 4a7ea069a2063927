// Package dlog writes the node's HDF5 session log: one dataset per
// kind of event (slots, tx_records, snapshots, selftx, recv, send,
// event, arq_event), mirroring original_source/src/Logger.cc's
// dataset list and record layouts field-for-field. IQ payloads are
// FLAC-compressed via dragonradio/iqcodec before being written.
//
// Variable-length payloads (compressed IQ blobs, selective-ACK
// ranges) are not stored as nested variable-length compound members
// — go-hdf5's struct-reflection datatype builder does not expose
// hvl_t-style nesting — but as offset/length references into a
// companion flat dataset alongside the fixed-layout record table,
// a standard HDF5 pattern for variable-size payloads next to a
// structured table.
package dlog

// SlotRecord is one entry in the slots dataset: a received slot's
// buffer, before channelization. Corresponds to Logger.cc's
// SlotEntry; IQData is stored in the companion "slots_iq" dataset.
type SlotRecord struct {
	Timestamp     float64 // wall-clock seconds
	MonoTimestamp float64 // monotonic seconds
	FC            float32 // center frequency, Hz
	FS            float32 // sample rate, Hz
	IQDataLen     uint32  // number of IQ samples before compression
	IQOffset      uint64  // byte offset into "slots_iq"
	IQCompLen     uint32  // compressed byte length in "slots_iq"
}

// TXRecordEntry is one entry in the tx_records dataset: one finalized
// TX burst. Corresponds to Logger.cc's TXRecordEntry.
type TXRecordEntry struct {
	Timestamp     float64
	MonoTimestamp float64
	NSamples      int64
	FS            float64
}

// SnapshotRecord is one entry in the snapshots dataset: a raw IQ
// capture taken independently of slot boundaries, for spectrum
// analysis. Corresponds to Logger.cc's SnapshotEntry; IQData is
// stored in the companion "snapshots_iq" dataset.
type SnapshotRecord struct {
	Timestamp     float64
	MonoTimestamp float64
	FS            float32
	IQDataLen     uint32
	IQOffset      uint64
	IQCompLen     uint32
}

// SelfTXRecord is one entry in the selftx dataset: where, within a
// snapshot, this node's own transmission appears (so the snapshot
// viewer can mask out self-interference). Corresponds to Logger.cc's
// SelfTXEntry.
type SelfTXRecord struct {
	Timestamp     float64
	MonoTimestamp float64
	IsLocal       uint8
	Start         int32
	End           int32
	FC            float32
	FS            float32
}

// RecvRecord is one entry in the recv dataset: a demodulated packet.
// Corresponds to Logger.cc's PacketRecvEntry.
type RecvRecord struct {
	SlotTimestamp float64
	Timestamp     float64
	MonoTimestamp float64
	StartSamples  int32
	EndSamples    int32
	HeaderValid   uint8
	PayloadValid  uint8
	Curhop        uint8
	Nexthop       uint8
	Seq           uint16
	Flags         uint8
	Src           uint8
	Dest          uint8
	Ack           uint16
	DataLen       uint16
	MCSIdx        uint8
	EVM           float32
	RSSI          float32
	CFO           float32
	FC            float32
	BW            float32
	ChanFC        float32
	ChanBW        float32
	DemodLatency  float64
	TuntapLatency float64
	Size          uint32
}

// SendRecord is one entry in the send dataset: a transmitted packet.
// Corresponds to Logger.cc's PacketSendEntry.
type SendRecord struct {
	Timestamp      float64
	MonoTimestamp  float64
	NetTimestamp   float64
	WallTimestamp  float64
	Deadline       float64
	Dropped        uint8
	Curhop         uint8
	Nexthop        uint8
	Seq            uint16
	Flags          uint8
	Src            uint8
	Dest           uint8
	Ack            uint16
	DataLen        uint16
	MCSIdx         uint8
	FC             float32
	BW             float32
	EnqueueLatency float64
	DequeueLatency float64
	QueueLatency   float64
	ModLatency     float64
	TuntapLatency  float64
	LLCLatency     float64
	SynthLatency   float64
	Size           uint32
	NSamples       int32
}

// EventRecord is one entry in the event dataset: a free-text log
// line, timestamped. Corresponds to Logger.cc's EventEntry; the text
// itself is zstd-compressed into the companion "event_text" dataset
// rather than stored as a variable-length string member, for the same
// struct-reflection reason documented above.
type EventRecord struct {
	Timestamp     float64
	MonoTimestamp float64
	TextOffset    uint64
	TextCompLen   uint32
}

// ARQEventRecord is one entry in the arq_event dataset: an ARQ/LLC
// protocol event (ACK, NAK, retransmission). Corresponds to
// Logger.cc's ARQEventEntry; selective-ACK ranges are stored in the
// companion "arq_event_sacks" dataset.
type ARQEventRecord struct {
	Timestamp     float64
	MonoTimestamp float64
	Type          uint8
	Node          uint8
	Seq           uint16
	SackOffset    uint64
	SackCount     uint32
}

// Sack is one selective-ACK range, [Start, End).
type Sack struct {
	Start uint16
	End   uint16
}
