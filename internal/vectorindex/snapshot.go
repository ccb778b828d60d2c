package vectorindex

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/ragpp/ragpp/internal/apperr"
)

// snapshotMagic identifies a vector index snapshot file.
var snapshotMagic = [4]byte{'B', 'A', 'I', 'X'}

// snapshotVersion is bumped whenever the on-disk header layout changes.
const snapshotVersion uint16 = 1

// header is the fixed-size preamble written ahead of the gob-encoded body.
// It lets Load reject incompatible snapshots before paying for a full
// decode.
type header struct {
	Magic     [4]byte
	Version   uint16
	Dimension uint32
	Count     uint64
	Space     Space
	Seed      uint64
}

// snapshotBody carries everything Load needs to reconstruct the index that
// coder/hnsw's own graph.Export/Import cannot represent: the doc_id<->key
// mapping and the config used to build the graph.
type snapshotBody struct {
	IDToKey map[string]uint64
	NextKey uint64
	Config  Config
}

// Save persists the index to path using a lockfile plus a write-to-temp,
// fsync, rename sequence so a crash mid-write can never leave a corrupt or
// half-written snapshot at the canonical path.
func (ix *Index) Save(path string) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return apperr.SnapshotIO("failed to acquire snapshot lock", err)
	}
	defer lock.Unlock()

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.closed {
		return apperr.ServiceUnavailable()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.SnapshotIO("failed to create snapshot directory", err)
	}

	graphTmp := path + ".tmp"
	gf, err := os.Create(graphTmp)
	if err != nil {
		return apperr.SnapshotIO("failed to create snapshot temp file", err)
	}
	if err := ix.graph.Export(gf); err != nil {
		gf.Close()
		os.Remove(graphTmp)
		return apperr.SnapshotIO("failed to export graph", err)
	}
	if err := gf.Sync(); err != nil {
		gf.Close()
		os.Remove(graphTmp)
		return apperr.SnapshotIO("failed to sync snapshot temp file", err)
	}
	if err := gf.Close(); err != nil {
		os.Remove(graphTmp)
		return apperr.SnapshotIO("failed to close snapshot temp file", err)
	}
	if err := os.Rename(graphTmp, path); err != nil {
		os.Remove(graphTmp)
		return apperr.SnapshotIO("failed to rename snapshot into place", err)
	}

	metaPath := path + ".meta"
	if err := ix.saveMetadata(metaPath); err != nil {
		return err
	}
	return nil
}

func (ix *Index) saveMetadata(metaPath string) error {
	tmpPath := metaPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return apperr.SnapshotIO("failed to create metadata temp file", err)
	}

	h := header{
		Magic:     snapshotMagic,
		Version:   snapshotVersion,
		Dimension: uint32(ix.cfg.Dimension),
		Count:     uint64(len(ix.idToKey)),
		Space:     ix.cfg.Space,
		Seed:      ix.cfg.Seed,
	}
	if err := binary.Write(f, binary.LittleEndian, h.Magic); err != nil {
		return closeAndFail(f, tmpPath, err)
	}
	if err := binary.Write(f, binary.LittleEndian, h.Version); err != nil {
		return closeAndFail(f, tmpPath, err)
	}
	if err := binary.Write(f, binary.LittleEndian, h.Dimension); err != nil {
		return closeAndFail(f, tmpPath, err)
	}
	if err := binary.Write(f, binary.LittleEndian, h.Count); err != nil {
		return closeAndFail(f, tmpPath, err)
	}
	spaceBytes := [16]byte{}
	copy(spaceBytes[:], h.Space)
	if err := binary.Write(f, binary.LittleEndian, spaceBytes); err != nil {
		return closeAndFail(f, tmpPath, err)
	}
	if err := binary.Write(f, binary.LittleEndian, h.Seed); err != nil {
		return closeAndFail(f, tmpPath, err)
	}

	body := snapshotBody{
		IDToKey: ix.idToKey,
		NextKey: ix.nextKey,
		Config:  ix.cfg,
	}
	if err := gob.NewEncoder(f).Encode(body); err != nil {
		return closeAndFail(f, tmpPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return apperr.SnapshotIO("failed to close metadata file", err)
	}
	if err := os.Rename(tmpPath, metaPath); err != nil {
		return apperr.SnapshotIO("failed to rename metadata into place", err)
	}
	return nil
}

func closeAndFail(f *os.File, tmpPath string, cause error) error {
	f.Close()
	os.Remove(tmpPath)
	return apperr.SnapshotIO("failed to write snapshot metadata", cause)
}

// Load builds a new Index from the snapshot at path, using the config
// recorded in the snapshot. It verifies the snapshot's header (magic,
// version, and dimension against want.Dimension when that is non-zero)
// before importing the graph; the recorded space is not compared with
// want.Space.
func Load(path string, want Config) (*Index, error) {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, apperr.SnapshotIO("failed to acquire snapshot lock", err)
	}
	defer lock.Unlock()

	metaPath := path + ".meta"
	h, body, err := loadMetadata(metaPath)
	if err != nil {
		return nil, err
	}

	if h.Magic != snapshotMagic {
		return nil, apperr.SnapshotIncompatible("snapshot magic mismatch: not a vector index snapshot")
	}
	if h.Version != snapshotVersion {
		return nil, apperr.SnapshotIncompatible(fmt.Sprintf("snapshot version %d is not supported (want %d)", h.Version, snapshotVersion))
	}
	if want.Dimension != 0 && int(h.Dimension) != want.Dimension {
		return nil, apperr.SnapshotIncompatible(fmt.Sprintf("snapshot dimension %d does not match configured dimension %d", h.Dimension, want.Dimension))
	}

	ix, err := New(body.Config)
	if err != nil {
		return nil, apperr.SnapshotIO("failed to construct index from snapshot config", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.SnapshotIO("failed to open snapshot file", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	if err := ix.graph.Import(reader); err != nil {
		return nil, apperr.SnapshotIO("failed to import graph", err)
	}

	ix.idToKey = body.IDToKey
	ix.keyToID = make(map[uint64]string, len(body.IDToKey))
	for id, key := range body.IDToKey {
		ix.keyToID[key] = id
	}
	ix.nextKey = body.NextKey

	return ix, nil
}

func loadMetadata(metaPath string) (header, snapshotBody, error) {
	var h header
	var body snapshotBody

	f, err := os.Open(metaPath)
	if err != nil {
		return h, body, apperr.SnapshotIO("failed to open snapshot metadata", err)
	}
	defer f.Close()

	if err := binary.Read(f, binary.LittleEndian, &h.Magic); err != nil {
		return h, body, apperr.SnapshotIO("failed to read snapshot magic", err)
	}
	if err := binary.Read(f, binary.LittleEndian, &h.Version); err != nil {
		return h, body, apperr.SnapshotIO("failed to read snapshot version", err)
	}
	if err := binary.Read(f, binary.LittleEndian, &h.Dimension); err != nil {
		return h, body, apperr.SnapshotIO("failed to read snapshot dimension", err)
	}
	if err := binary.Read(f, binary.LittleEndian, &h.Count); err != nil {
		return h, body, apperr.SnapshotIO("failed to read snapshot count", err)
	}
	var spaceBytes [16]byte
	if err := binary.Read(f, binary.LittleEndian, &spaceBytes); err != nil {
		return h, body, apperr.SnapshotIO("failed to read snapshot space tag", err)
	}
	n := 0
	for n < len(spaceBytes) && spaceBytes[n] != 0 {
		n++
	}
	h.Space = Space(spaceBytes[:n])
	if err := binary.Read(f, binary.LittleEndian, &h.Seed); err != nil {
		return h, body, apperr.SnapshotIO("failed to read snapshot seed", err)
	}

	if err := gob.NewDecoder(f).Decode(&body); err != nil {
		return h, body, apperr.SnapshotIO("failed to decode snapshot body", err)
	}
	return h, body, nil
}
