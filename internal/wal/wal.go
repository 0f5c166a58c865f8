// Package wal implements the write-ahead log of spec §4.6: an append-only
// sequence of framed records with strictly monotone, contiguous LSNs,
// truncated only by segment. Grounded on the
// abdoElHodaky-tradSys/internal/eventsourcing/core EventStore/SnapshotStore
// split — this package plays the same role, specialized to the fixed
// binary record format spec §6 names instead of a generic event store.
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/waiver-exchange/core/internal/xerrors"
)

// RecordKind tags a WAL record's payload.
type RecordKind uint8

const (
	KindInput RecordKind = iota
	KindEvent
	KindSnapshotMarker
)

// Record is one WAL entry: { lsn, tick, kind, length, payload, crc32c }
// per spec §6. The checksum covers tick+kind+length+payload; lsn is not
// covered since a segment-relative re-numbering during compaction must
// not invalidate the checksum of a record whose content hasn't changed.
// (No pack example ships a CRC32C implementation, so this one computation
// is stdlib hash/crc32 by necessity — recorded in DESIGN.md.)
type Record struct {
	LSN     uint64
	Tick    uint64
	Kind    RecordKind
	Payload []byte
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func checksum(tick uint64, kind RecordKind, payload []byte) uint32 {
	h := crc32.New(castagnoli)
	var hdr [9]byte
	binary.BigEndian.PutUint64(hdr[0:8], tick)
	hdr[8] = byte(kind)
	h.Write(hdr[:])
	h.Write(payload)
	return h.Sum32()
}

const defaultSegmentCapBytes = 64 * 1024 * 1024

// Writer is the WAL's single writer (spec §5: "the WAL has a single
// writer"). It owns segment rotation and LSN contiguity.
type Writer struct {
	mu            sync.Mutex
	dir           string
	segmentCap    int64
	file          *os.File
	firstLSNInSeg uint64
	lastLSN       uint64
	bytesInSeg    int64
}

// NewWriter opens (or creates) the active segment under dir, resuming LSN
// numbering from resumeLSN (0 for a fresh WAL, or the last durable LSN
// recovered from a prior run).
func NewWriter(dir string, resumeLSN uint64) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}
	w := &Writer{dir: dir, segmentCap: defaultSegmentCapBytes, lastLSN: resumeLSN}
	if err := w.openNewSegment(resumeLSN + 1); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) openNewSegment(firstLSN uint64) error {
	path := filepath.Join(w.dir, fmt.Sprintf("segment-%020d.wal", firstLSN))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open segment: %w", err)
	}
	w.file = f
	w.firstLSNInSeg = firstLSN
	w.bytesInSeg = 0
	return nil
}

// Append writes one record, assigning it the next contiguous LSN, and
// returns the assigned LSN. A record is durable once this returns nil —
// callers (the execution manager) must not acknowledge client-visible
// effects before Append succeeds (spec §4.5).
func (w *Writer) Append(tick uint64, kind RecordKind, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := w.lastLSN + 1
	frame, err := encodeFrame(lsn, tick, kind, payload)
	if err != nil {
		return 0, err
	}

	if w.bytesInSeg > 0 && w.bytesInSeg+int64(len(frame)) > w.segmentCap {
		if err := w.file.Close(); err != nil {
			return 0, xerrors.Wrap(err, xerrors.CodeWalCorruption, "close full segment")
		}
		if err := w.openNewSegment(lsn); err != nil {
			return 0, err
		}
	}

	if _, err := w.file.Write(frame); err != nil {
		return 0, xerrors.Wrap(err, xerrors.CodeWalCorruption, "append record")
	}
	if err := w.file.Sync(); err != nil {
		return 0, xerrors.Wrap(err, xerrors.CodeWalCorruption, "fsync segment")
	}

	w.lastLSN = lsn
	w.bytesInSeg += int64(len(frame))
	return lsn, nil
}

// LastLSN returns the last durable LSN.
func (w *Writer) LastLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastLSN
}

// Close closes the active segment file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func encodeFrame(lsn, tick uint64, kind RecordKind, payload []byte) ([]byte, error) {
	if len(payload) > 0xFFFFFFFF {
		return nil, xerrors.New(xerrors.CodeWalCorruption, "payload exceeds u32 length field")
	}
	buf := make([]byte, 8+8+1+4+len(payload)+4)
	binary.BigEndian.PutUint64(buf[0:8], lsn)
	binary.BigEndian.PutUint64(buf[8:16], tick)
	buf[16] = byte(kind)
	binary.BigEndian.PutUint32(buf[17:21], uint32(len(payload)))
	copy(buf[21:21+len(payload)], payload)
	crc := checksum(tick, kind, payload)
	binary.BigEndian.PutUint32(buf[21+len(payload):], crc)
	return buf, nil
}

// Reader replays records from a directory of segments in LSN order,
// starting strictly after afterLSN (spec §4.6 recovery: "replay WAL
// records with lsn > S.wal_lsn_covered").
type Reader struct {
	dir string
}

func NewReader(dir string) *Reader {
	return &Reader{dir: dir}
}

// ReadAfter returns every record with LSN > afterLSN, across all segments
// in the directory, in ascending LSN order. Any checksum mismatch or
// broken LSN contiguity aborts with CodeWalCorruption — recovery must not
// silently skip a corrupt record.
func (r *Reader) ReadAfter(afterLSN uint64) ([]Record, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("wal: read dir: %w", err)
	}
	var segments []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".wal" {
			segments = append(segments, filepath.Join(r.dir, e.Name()))
		}
	}
	sort.Strings(segments)

	var out []Record
	expected := afterLSN + 1
	for _, path := range segments {
		recs, err := readSegment(path)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if rec.LSN < expected {
				continue
			}
			if rec.LSN != expected {
				return nil, xerrors.Newf(xerrors.CodeWalCorruption, "lsn gap: expected %d, got %d", expected, rec.LSN)
			}
			out = append(out, rec)
			expected++
		}
	}
	return out, nil
}

func readSegment(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wal: open segment %s: %w", path, err)
	}
	defer f.Close()

	var records []Record
	var hdr [21]byte
	for {
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, xerrors.Wrap(err, xerrors.CodeWalCorruption, "read record header")
		}
		lsn := binary.BigEndian.Uint64(hdr[0:8])
		tick := binary.BigEndian.Uint64(hdr[8:16])
		kind := RecordKind(hdr[16])
		length := binary.BigEndian.Uint32(hdr[17:21])

		payload := make([]byte, length)
		if _, err := io.ReadFull(f, payload); err != nil {
			return nil, xerrors.Wrap(err, xerrors.CodeWalCorruption, "read record payload")
		}
		var crcBuf [4]byte
		if _, err := io.ReadFull(f, crcBuf[:]); err != nil {
			return nil, xerrors.Wrap(err, xerrors.CodeWalCorruption, "read record crc")
		}
		want := binary.BigEndian.Uint32(crcBuf[:])
		if got := checksum(tick, kind, payload); got != want {
			return nil, xerrors.Newf(xerrors.CodeWalCorruption, "checksum mismatch at lsn %d", lsn)
		}
		records = append(records, Record{LSN: lsn, Tick: tick, Kind: kind, Payload: payload})
	}
	return records, nil
}
