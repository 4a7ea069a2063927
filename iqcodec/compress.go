package iqcodec

import (
	"encoding/binary"
)

// Compress encodes an IQ buffer as a standalone FLAC stream: one
// STREAMINFO metadata block followed by one or more frames, each
// carrying two independent VERBATIM subframes (I, then Q) of
// BitsPerSample-bit signed samples. sampleRate is recorded in
// STREAMINFO so a decoder never has to be told separately.
func Compress(samples []complex64, sampleRate uint32) []byte {
	var out []byte
	out = append(out, 'f', 'L', 'a', 'C')

	minBlock, maxBlock := uint32(maxBlockSamples), uint32(0)
	var frames []byte
	for off := 0; off < len(samples); {
		n := len(samples) - off
		if n > maxBlockSamples {
			n = maxBlockSamples
		}
		block := samples[off : off+n]
		frames = append(frames, encodeFrame(block, uint64(off), sampleRate)...)
		if uint32(n) < minBlock {
			minBlock = uint32(n)
		}
		if uint32(n) > maxBlock {
			maxBlock = uint32(n)
		}
		off += n
	}
	if maxBlock == 0 {
		minBlock, maxBlock = 0, 0
	}

	out = append(out, streamInfo(minBlock, maxBlock, sampleRate, uint64(len(samples)))...)
	out = append(out, frames...)
	return out
}

// streamInfo builds the 4-byte metadata block header plus the 34-byte
// STREAMINFO body, marked as the last metadata block.
func streamInfo(minBlock, maxBlock uint32, sampleRate uint32, totalSamples uint64) []byte {
	w := &bitWriter{}
	w.writeBits(1, 1)  // last-metadata-block flag
	w.writeBits(0, 7)  // block type 0 = STREAMINFO
	w.writeBits(34, 24) // block length in bytes
	w.align()
	header := append([]byte(nil), w.buf...)

	body := &bitWriter{}
	body.writeBits(uint64(minBlock), 16)
	body.writeBits(uint64(maxBlock), 16)
	body.writeBits(0, 24) // min frame size: unknown
	body.writeBits(0, 24) // max frame size: unknown
	body.writeBits(uint64(sampleRate), 20)
	body.writeBits(1, 3) // channels-1: 2 channels
	body.writeBits(BitsPerSample-1, 5)
	body.writeBits(totalSamples, 36)
	body.align()
	bodyBytes := body.buf
	bodyBytes = append(bodyBytes, make([]byte, 16)...) // MD5: not computed

	return append(header, bodyBytes...)
}

// encodeFrame writes one FLAC frame (header, two VERBATIM subframes,
// zero-padding, CRC-16 footer) covering block starting at sample
// offset startSample.
func encodeFrame(block []complex64, startSample uint64, sampleRate uint32) []byte {
	hdr := &bitWriter{}
	hdr.writeBits(0x3FFE, 14) // sync code
	hdr.writeBits(0, 1)       // reserved
	hdr.writeBits(1, 1)       // blocking strategy: variable
	hdr.writeBits(7, 4)       // block size: 16-bit value follows
	hdr.writeBits(0, 4)       // sample rate: get from STREAMINFO
	hdr.writeBits(1, 4)       // channel assignment: 2 independent channels
	hdr.writeBits(0, 3)       // sample size: get from STREAMINFO
	hdr.writeBits(0, 1)       // reserved
	hdr.writeUTF8(startSample)
	hdr.writeBits(uint64(len(block)-1), 16)
	hdr.align()

	headerBytes := hdr.buf
	headerBytes = append(headerBytes, crc8(headerBytes))

	body := &bitWriter{}
	body.writeBits(0, 1)      // subframe reserved bit
	body.writeBits(1, 6)      // subframe type: VERBATIM
	body.writeBits(0, 1)      // no wasted bits
	for _, s := range block {
		body.writeSigned(quantize(real(s)), BitsPerSample)
	}
	body.writeBits(0, 1)
	body.writeBits(1, 6)
	body.writeBits(0, 1)
	for _, s := range block {
		body.writeSigned(quantize(imag(s)), BitsPerSample)
	}
	body.align()

	frame := append(headerBytes, body.buf...)
	crc := crc16(frame)
	crcBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(crcBytes, crc)
	return append(frame, crcBytes...)
}

// quantize maps a float sample in [-1, 1] to a signed BitsPerSample
// integer, clamping out-of-range input.
func quantize(x float32) int32 {
	v := int32(x * sampleScale)
	if v > sampleScale {
		v = sampleScale
	}
	if v < -sampleScale-1 {
		v = -sampleScale - 1
	}
	return v
}
