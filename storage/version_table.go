package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/quarrylabs/quarry/felt"
)

// VersionRecord is one committed block height: the global root reached at
// that height plus the block metadata kept for queries.
type VersionRecord struct {
	Height           uint64    `json:"height"`
	Root             felt.Felt `json:"root"`
	Timestamp        uint64    `json:"timestamp"`
	SequencerAddress felt.Felt `json:"sequencer_address"`
}

// VersionTable is the height index: a monotone mapping from block height to
// the committed global root. Rows are keyed by big-endian height so the
// natural leveldb ordering is height order.
type VersionTable struct {
	store *PersistenceStore
}

func NewVersionTable(store *PersistenceStore) *VersionTable {
	return &VersionTable{store: store}
}

func versionKey(height uint64) []byte {
	var hb [8]byte
	binary.BigEndian.PutUint64(hb[:], height)
	return prefixed(prefixVersion, hb[:])
}

// Stage adds the version row for rec to batch.
func (vt *VersionTable) Stage(batch *leveldb.Batch, rec *VersionRecord) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal version %d: %w", rec.Height, err)
	}
	batch.Put(versionKey(rec.Height), blob)
	return nil
}

// At returns the record committed at height, or ErrNotFound.
func (vt *VersionTable) At(height uint64) (*VersionRecord, error) {
	blob, ok, err := vt.store.Get(versionKey(height))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("version %d: %w", height, ErrNotFound)
	}
	var rec VersionRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal version %d: %w", height, err)
	}
	return &rec, nil
}

// RootAt returns the global root committed at height.
func (vt *VersionTable) RootAt(height uint64) (felt.Felt, error) {
	rec, err := vt.At(height)
	if err != nil {
		return felt.Zero, err
	}
	return rec.Root, nil
}

// Head returns the highest committed record, or ErrNotFound when no block
// has been committed yet.
func (vt *VersionTable) Head() (*VersionRecord, error) {
	it := vt.store.NewIterator(prefixVersion)
	defer it.Release()
	if !it.Last() {
		if err := it.Error(); err != nil {
			return nil, fmt.Errorf("iterate versions: %w: %v", ErrIO, err)
		}
		return nil, fmt.Errorf("head: %w", ErrNotFound)
	}
	var rec VersionRecord
	if err := json.Unmarshal(it.Value(), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal head: %w", err)
	}
	return &rec, nil
}

// StageRollback deletes every version row above height. Trie nodes stay in
// place: they are content addressed, so rows reachable from surviving roots
// remain valid and orphans are merely unreferenced.
func (vt *VersionTable) StageRollback(batch *leveldb.Batch, height uint64) error {
	it := vt.store.NewIterator(prefixVersion)
	defer it.Release()
	for ok := it.Seek(versionKey(height + 1)); ok; ok = it.Next() {
		key := make([]byte, len(it.Key()))
		copy(key, it.Key())
		batch.Delete(key)
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("iterate versions: %w: %v", ErrIO, err)
	}
	return nil
}
