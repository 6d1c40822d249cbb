package editlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"sort"
)

// Snapshot is a raster state together with the log prefix that produced it.
// Replaying records [Count, Length) on top of Heights gives the same raster
// as replaying the whole log from zero.
type Snapshot struct {
	Count   uint64
	Width   int
	Height  int
	Heights []float32
	// Origins holds the highest OriginSeq applied per origin, so duplicate
	// suppression keeps working after a restore.
	Origins map[string]uint64
}

// Clone deep-copies the snapshot
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Heights = append([]float32(nil), s.Heights...)
	out.Origins = make(map[string]uint64, len(s.Origins))
	for k, v := range s.Origins {
		out.Origins[k] = v
	}
	return out
}

const (
	snapshotVersion = 1
	payloadLenBytes = 4
	checksumBytes   = 4
)

var (
	ErrSnapshotCorrupt = errors.New("editlog: snapshot corrupt")
	castagnoli         = crc32.MakeTable(crc32.Castagnoli)
)

// EncodeSnapshot frames a snapshot as
//
//	| PayloadLen | CRC32C  | Payload   |
//	| 4 bytes BE | 4 bytes | N bytes   |
//
// The payload is little-endian: version u16, width u32, height u32,
// count u64, origin count u32, then (len u16, name, seq u64) per origin,
// then width*height float32 heights.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	if len(s.Heights) != s.Width*s.Height {
		return nil, fmt.Errorf("encode snapshot: %d heights for %dx%d", len(s.Heights), s.Width, s.Height)
	}

	origins := make([]string, 0, len(s.Origins))
	for name := range s.Origins {
		if len(name) > math.MaxUint16 {
			return nil, fmt.Errorf("encode snapshot: origin name too long (%d bytes)", len(name))
		}
		origins = append(origins, name)
	}
	sort.Strings(origins)

	size := 2 + 4 + 4 + 8 + 4 + 4*len(s.Heights)
	for _, name := range origins {
		size += 2 + len(name) + 8
	}

	payload := make([]byte, 0, size)
	le := binary.LittleEndian
	payload = le.AppendUint16(payload, snapshotVersion)
	payload = le.AppendUint32(payload, uint32(s.Width))
	payload = le.AppendUint32(payload, uint32(s.Height))
	payload = le.AppendUint64(payload, s.Count)
	payload = le.AppendUint32(payload, uint32(len(origins)))
	for _, name := range origins {
		payload = le.AppendUint16(payload, uint16(len(name)))
		payload = append(payload, name...)
		payload = le.AppendUint64(payload, s.Origins[name])
	}
	for _, h := range s.Heights {
		payload = le.AppendUint32(payload, math.Float32bits(h))
	}

	record := make([]byte, 0, payloadLenBytes+checksumBytes+len(payload))
	record = binary.BigEndian.AppendUint32(record, uint32(len(payload)))
	record = binary.BigEndian.AppendUint32(record, crc32.Checksum(payload, castagnoli))
	return append(record, payload...), nil
}

// DecodeSnapshot reverses EncodeSnapshot, validating length and checksum
func DecodeSnapshot(data []byte) (Snapshot, error) {
	if len(data) < payloadLenBytes+checksumBytes {
		return Snapshot{}, fmt.Errorf("%w: %d byte frame", ErrSnapshotCorrupt, len(data))
	}
	payloadLen := binary.BigEndian.Uint32(data)
	expected := binary.BigEndian.Uint32(data[payloadLenBytes:])
	payload := data[payloadLenBytes+checksumBytes:]
	if uint64(len(payload)) != uint64(payloadLen) {
		return Snapshot{}, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrSnapshotCorrupt, len(payload), payloadLen)
	}
	if actual := crc32.Checksum(payload, castagnoli); actual != expected {
		return Snapshot{}, fmt.Errorf("%w: crc %x, want %x", ErrSnapshotCorrupt, actual, expected)
	}

	r := reader{buf: payload}
	if v := r.u16(); v != snapshotVersion {
		return Snapshot{}, fmt.Errorf("%w: version %d", ErrSnapshotCorrupt, v)
	}
	s := Snapshot{
		Width:  int(r.u32()),
		Height: int(r.u32()),
		Count:  r.u64(),
	}
	n := int(r.u32())
	s.Origins = make(map[string]uint64, n)
	for i := 0; i < n && r.err == nil; i++ {
		name := string(r.bytes(int(r.u16())))
		s.Origins[name] = r.u64()
	}
	cells := s.Width * s.Height
	if r.err == nil && len(r.buf)-r.pos != 4*cells {
		return Snapshot{}, fmt.Errorf("%w: %d height bytes for %dx%d", ErrSnapshotCorrupt, len(r.buf)-r.pos, s.Width, s.Height)
	}
	s.Heights = make([]float32, 0, cells)
	for i := 0; i < cells && r.err == nil; i++ {
		s.Heights = append(s.Heights, math.Float32frombits(r.u32()))
	}
	if r.err != nil {
		return Snapshot{}, r.err
	}
	return s, nil
}

// reader walks a little-endian payload, remembering the first short read
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("%w: truncated at byte %d", ErrSnapshotCorrupt, r.pos)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u16() uint16 {
	if b := r.bytes(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.bytes(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.bytes(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}
