package mosaic

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
)

const indexFile = "index.gob.zst"

// indexVersion is bumped whenever the entry layout or signature math changes.
const indexVersion = 2

type indexEntry struct {
	Hash      string
	Signature Signature
}

// signatureIndex caches tile signatures between loads, keyed by relative
// path. Entries are only trusted when the content hash still matches.
type signatureIndex struct {
	Version int
	Space   SignatureSpace
	Entries map[string]indexEntry
}

func newIndex(space SignatureSpace) *signatureIndex {
	return &signatureIndex{Version: indexVersion, Space: space, Entries: map[string]indexEntry{}}
}

func (idx *signatureIndex) lookup(name string) *indexEntry {
	if idx == nil {
		return nil
	}
	e, ok := idx.Entries[name]
	if !ok {
		return nil
	}
	return &e
}

func (idx *signatureIndex) put(t Tile) {
	idx.Entries[t.Name] = indexEntry{Hash: t.Hash, Signature: t.Signature}
}

// loadIndex reads the index from cacheDir. A missing, corrupt or stale index
// yields nil and every tile is rebuilt.
func loadIndex(cacheDir string) *signatureIndex {
	path := filepath.Join(cacheDir, indexFile)
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		log.WithError(err).Debug("tile index unreadable")
		return nil
	}
	defer zr.Close()

	var idx signatureIndex
	if err := gob.NewDecoder(zr).Decode(&idx); err != nil {
		log.WithError(err).WithField("path", path).Warn("discarding corrupt tile index")
		return nil
	}
	if idx.Version != indexVersion {
		return nil
	}
	return &idx
}

// loadIndexFor returns the cached index only when it was built in space.
func loadIndexFor(cacheDir string, space SignatureSpace) *signatureIndex {
	idx := loadIndex(cacheDir)
	if idx == nil || idx.Space != space {
		return nil
	}
	return idx
}

func (idx *signatureIndex) save(cacheDir string) error {
	tmp, err := os.CreateTemp(cacheDir, ".index-*")
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		tmp.Close()
		return fmt.Errorf("zstd writer: %w", err)
	}
	if err := gob.NewEncoder(zw).Encode(idx); err != nil {
		zw.Close()
		tmp.Close()
		return fmt.Errorf("encode index: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(cacheDir, indexFile))
}
