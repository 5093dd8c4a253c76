package node

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/felt"
	"github.com/quarrylabs/quarry/statedb"
	"github.com/quarrylabs/quarry/storage"
	"github.com/quarrylabs/quarry/types"
)

func newTestStateDB(t *testing.T) *statedb.StateDB {
	t.Helper()
	store, err := storage.NewMemoryPersistenceStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	s, err := statedb.New(store)
	require.NoError(t, err)
	return s
}

// memSource serves a fixed chain of diffs from memory.
type memSource struct {
	blocks map[uint64]*types.BlockDiff
	first  uint64
	// ioFailures counts down transient failures injected before BlockAt
	// succeeds.
	ioFailures int
}

func (m *memSource) FirstAvailable(_ context.Context) (uint64, error) {
	return m.first, nil
}

func (m *memSource) BlockAt(_ context.Context, height uint64) (*types.BlockDiff, error) {
	if m.ioFailures > 0 {
		m.ioFailures--
		return nil, fmt.Errorf("fetch %d: %w", height, storage.ErrIO)
	}
	block, ok := m.blocks[height]
	if !ok {
		return nil, fmt.Errorf("height %d: %w", height, ErrNoDiff)
	}
	return block, nil
}

func chainOf(t *testing.T, n int) map[uint64]*types.BlockDiff {
	t.Helper()
	blocks := make(map[uint64]*types.BlockDiff, n)
	for h := uint64(1); h <= uint64(n); h++ {
		addr := felt.New(0xabc)
		blocks[h] = &types.BlockDiff{
			Height: h,
			Diff: types.StateDiff{
				StorageDiffs: map[felt.Felt][]types.StorageEntry{
					addr: {{Key: felt.New(1), Value: felt.New(h * 10)}},
				},
			},
		}
	}
	return blocks
}

func TestFollowerReplaysChain(t *testing.T) {
	db := newTestStateDB(t)
	source := &memSource{blocks: chainOf(t, 5), first: 1}

	f := NewFollower(db, source)
	require.NoError(t, f.Run(context.Background()))

	head := db.Head()
	require.NotNil(t, head)
	require.Equal(t, uint64(5), head.Height)

	addr, key := felt.New(0xabc), felt.New(1)
	v, err := db.StorageAt(3, &addr, &key)
	require.NoError(t, err)
	want := felt.New(30)
	require.True(t, v.Equal(&want))
}

func TestFollowerResumesFromHead(t *testing.T) {
	db := newTestStateDB(t)
	blocks := chainOf(t, 6)

	f := NewFollower(db, &memSource{blocks: blocks, first: 1})
	require.NoError(t, f.Run(context.Background()))
	require.Equal(t, uint64(6), db.Head().Height)

	// a second run over the same chain has nothing to do
	require.NoError(t, f.Run(context.Background()))
	require.Equal(t, uint64(6), db.Head().Height)
}

func TestFollowerRetriesTransientFetchFailures(t *testing.T) {
	db := newTestStateDB(t)
	source := &memSource{blocks: chainOf(t, 2), first: 1, ioFailures: 2}

	f := NewFollower(db, source)
	require.NoError(t, f.Run(context.Background()))
	require.Equal(t, uint64(2), db.Head().Height)
}

func TestFollowerHaltsOnDivergence(t *testing.T) {
	db := newTestStateDB(t)
	blocks := chainOf(t, 3)
	bogus := felt.New(0xdead)
	blocks[2].ExpectedRoot = &bogus

	f := NewFollower(db, &memSource{blocks: blocks, first: 1})
	err := f.Run(context.Background())

	var divergence *statedb.DivergenceError
	require.ErrorAs(t, err, &divergence)
	require.Equal(t, uint64(2), divergence.Height)

	// block 1 landed, block 2 did not
	require.Equal(t, uint64(1), db.Head().Height)
}

func TestFollowerStopsOnContextCancel(t *testing.T) {
	db := newTestStateDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFollower(db, &memSource{blocks: chainOf(t, 3), first: 1})
	err := f.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFileDiffSource(t *testing.T) {
	dir := t.TempDir()
	addr := felt.New(7)
	for h := uint64(3); h <= 5; h++ {
		block := &types.BlockDiff{
			Height: h,
			Diff: types.StateDiff{
				StorageDiffs: map[felt.Felt][]types.StorageEntry{
					addr: {{Key: felt.New(1), Value: felt.New(h)}},
				},
			},
		}
		blob, err := json.Marshal(block)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.json", h)), blob, 0o644))
	}

	source := NewFileDiffSource(dir)
	first, err := source.FirstAvailable(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(3), first)

	block, err := source.BlockAt(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, uint64(4), block.Height)

	_, err = source.BlockAt(context.Background(), 6)
	require.ErrorIs(t, err, ErrNoDiff)
}

func TestFollowerWithFileSource(t *testing.T) {
	dir := t.TempDir()
	addr := felt.New(0x42)
	for h := uint64(1); h <= 3; h++ {
		block := &types.BlockDiff{
			Height: h,
			Diff: types.StateDiff{
				StorageDiffs: map[felt.Felt][]types.StorageEntry{
					addr: {{Key: felt.New(9), Value: felt.New(h * 100)}},
				},
			},
		}
		blob, err := json.Marshal(block)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.json", h)), blob, 0o644))
	}

	db := newTestStateDB(t)
	f := NewFollower(db, NewFileDiffSource(dir))
	require.NoError(t, f.Run(context.Background()))
	require.Equal(t, uint64(3), db.Head().Height)

	key := felt.New(9)
	v, err := db.StorageAt(2, &addr, &key)
	require.NoError(t, err)
	want := felt.New(200)
	require.True(t, v.Equal(&want))
}
