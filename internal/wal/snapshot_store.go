package wal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/klauspost/compress/zstd"

	"github.com/waiver-exchange/core/internal/xerrors"
)

// manifestFormatVersion is the semver this build writes; recovery refuses
// to replay a manifest whose major version it doesn't understand (spec
// SPEC_FULL.md §4.6).
const manifestFormatVersion = "1.0.0"

// Manifest describes one tick-aligned snapshot: which symbols were
// captured, the WAL LSN covered, and the per-symbol payload files.
type Manifest struct {
	FormatVersion string                 `json:"format_version"`
	Tick          uint64                 `json:"tick"`
	WALLSNCovered uint64                 `json:"wal_lsn_covered"`
	Symbols       map[int64]SymbolRecord `json:"symbols"`
}

// SymbolRecord points at one symbol's compressed payload file and its
// uncompressed length, so recovery can pre-size its decode buffer.
type SymbolRecord struct {
	File               string `json:"file"`
	UncompressedLength int    `json:"uncompressed_length"`
}

// SnapshotStore persists per-symbol engine snapshots beside the WAL
// segments, semver-versioned and zstd-compressed (SPEC_FULL.md §4.6).
// Written by one thread, read only on startup (spec §5).
type SnapshotStore struct {
	dir string
}

func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create snapshot dir: %w", err)
	}
	return &SnapshotStore{dir: dir}, nil
}

// Save writes one manifest + one compressed payload file per symbol for
// tick T, covering WAL up to walLSNCovered.
func (s *SnapshotStore) Save(tick uint64, walLSNCovered uint64, symbolSnapshots map[int64][]byte) error {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("wal: new zstd encoder: %w", err)
	}
	defer enc.Close()

	manifest := Manifest{
		FormatVersion: manifestFormatVersion,
		Tick:          tick,
		WALLSNCovered: walLSNCovered,
		Symbols:       make(map[int64]SymbolRecord, len(symbolSnapshots)),
	}

	tickDir := filepath.Join(s.dir, fmt.Sprintf("tick-%020d", tick))
	if err := os.MkdirAll(tickDir, 0o755); err != nil {
		return fmt.Errorf("wal: create tick snapshot dir: %w", err)
	}

	for symbolID, payload := range symbolSnapshots {
		compressed := enc.EncodeAll(payload, nil)
		fileName := fmt.Sprintf("symbol-%d.zst", symbolID)
		if err := os.WriteFile(filepath.Join(tickDir, fileName), compressed, 0o644); err != nil {
			return fmt.Errorf("wal: write symbol snapshot: %w", err)
		}
		manifest.Symbols[symbolID] = SymbolRecord{File: fileName, UncompressedLength: len(payload)}
	}

	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("wal: marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(tickDir, "manifest.json"), manifestBytes, 0o644)
}

// LoadLatest locates the highest-tick manifest under the store directory
// and returns the decompressed per-symbol payloads.
func (s *SnapshotStore) LoadLatest() (*Manifest, map[int64][]byte, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, nil, fmt.Errorf("wal: read snapshot dir: %w", err)
	}
	var latest string
	for _, e := range entries {
		if e.IsDir() && (latest == "" || e.Name() > latest) {
			latest = e.Name()
		}
	}
	if latest == "" {
		return nil, nil, nil
	}
	return s.load(filepath.Join(s.dir, latest))
}

func (s *SnapshotStore) load(tickDir string) (*Manifest, map[int64][]byte, error) {
	manifestBytes, err := os.ReadFile(filepath.Join(tickDir, "manifest.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("wal: read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, nil, fmt.Errorf("wal: unmarshal manifest: %w", err)
	}

	wantVer, err := semver.NewVersion(manifestFormatVersion)
	if err != nil {
		return nil, nil, err
	}
	gotVer, err := semver.NewVersion(manifest.FormatVersion)
	if err != nil {
		return nil, nil, xerrors.Wrap(err, xerrors.CodeSnapshotCorruption, "unparseable manifest format version")
	}
	if gotVer.Major() != wantVer.Major() {
		return nil, nil, xerrors.Newf(xerrors.CodeSnapshotCorruption, "manifest major version %d unsupported (build understands %d)", gotVer.Major(), wantVer.Major())
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("wal: new zstd decoder: %w", err)
	}
	defer dec.Close()

	payloads := make(map[int64][]byte, len(manifest.Symbols))
	for symbolID, rec := range manifest.Symbols {
		compressed, err := os.ReadFile(filepath.Join(tickDir, rec.File))
		if err != nil {
			return nil, nil, fmt.Errorf("wal: read symbol snapshot: %w", err)
		}
		decoded, err := dec.DecodeAll(compressed, make([]byte, 0, rec.UncompressedLength))
		if err != nil {
			return nil, nil, xerrors.Wrap(err, xerrors.CodeSnapshotCorruption, "decompress symbol snapshot")
		}
		payloads[symbolID] = decoded
	}
	return &manifest, payloads, nil
}
