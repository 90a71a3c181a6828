package indexer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-is-near/engine-migration-tool/pkg/types"
)

func TestReadCheckpointMissingFile(t *testing.T) {
	t.Parallel()
	cp, err := ReadCheckpoint(filepath.Join(t.TempDir(), "nope.borsh"))
	require.NoError(t, err)
	assert.Zero(t, cp.LastBlock)
	assert.NotNil(t, cp.MissedBlocks)
	assert.NotNil(t, cp.Data.Accounts)
}

func TestReadCheckpointCorruptFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "data.borsh")
	require.NoError(t, os.WriteFile(path, []byte("not borsh"), 0o644))
	_, err := ReadCheckpoint(path)
	require.Error(t, err)
}

func TestCheckpointFileRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "data.borsh")
	proof := "proof-1"
	cp := newCheckpoint()
	cp.FirstBlock = 100
	cp.LastBlock = 106
	cp.LastHandledBlock = 105
	cp.CurrentBlock = 110
	cp.LastBlockHash = "h105"
	cp.MissedBlocks[103] = true
	cp.Data.Accounts["alice.test"] = true
	cp.Data.Proofs[proof] = true
	cp.Data.Logs = []BlockActions{{
		Height: 105,
		Records: []ActionRecord{{
			Method:   "finish_deposit",
			Accounts: []types.AccountID{"alice.test"},
			Proof:    &proof,
		}},
	}}
	require.NoError(t, cp.WriteFile(path))

	got, err := ReadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, cp.FirstBlock, got.FirstBlock)
	assert.Equal(t, cp.LastBlock, got.LastBlock)
	assert.Equal(t, cp.LastHandledBlock, got.LastHandledBlock)
	assert.Equal(t, cp.LastBlockHash, got.LastBlockHash)
	assert.Equal(t, cp.MissedBlocks, got.MissedBlocks)
	assert.Equal(t, cp.Data.Accounts, got.Data.Accounts)
	require.Len(t, got.Data.Logs, 1)
	require.NotNil(t, got.Data.Logs[0].Records[0].Proof)
	assert.Equal(t, proof, *got.Data.Logs[0].Records[0].Proof)
}

func TestNewStoreOverride(t *testing.T) {
	t.Parallel()
	cp := newCheckpoint()
	cp.FirstBlock = 100
	cp.LastBlock = 200

	s := NewStore(cp.Clone(), 0)
	assert.Equal(t, uint64(200), s.NextHeight())

	s = NewStore(cp.Clone(), 150)
	assert.Equal(t, uint64(150), s.NextHeight())
	assert.Equal(t, uint64(100), s.Snapshot().FirstBlock)

	// Restarting below the first block unpins it.
	s = NewStore(cp.Clone(), 50)
	assert.Equal(t, uint64(50), s.NextHeight())
	assert.Zero(t, s.Snapshot().FirstBlock)
}

func TestStoreMergeBlock(t *testing.T) {
	t.Parallel()
	s := NewStore(newCheckpoint(), 0)
	s.RecordMissed(99)

	records := []ActionRecord{{Method: "ft_transfer", Accounts: []types.AccountID{"bob.test"}}}
	s.MergeBlock(100, "h100",
		map[types.AccountID]struct{}{"alice.test": {}, "bob.test": {}},
		map[string]struct{}{"proof-1": {}},
		records,
		map[uint64]struct{}{98: {}},
	)

	cp := s.Snapshot()
	assert.Equal(t, uint64(100), cp.FirstBlock)
	assert.Equal(t, uint64(100), cp.LastHandledBlock)
	assert.Equal(t, "h100", cp.LastBlockHash)
	assert.Equal(t, uint64(101), cp.LastBlock)
	assert.Len(t, cp.Data.Accounts, 2)
	assert.Len(t, cp.Data.Proofs, 1)
	require.Len(t, cp.Data.Logs, 1)
	// Client-side failures join the missed set; 99 stays visible.
	assert.Equal(t, map[uint64]bool{98: true, 99: true}, cp.MissedBlocks)

	// Re-merging the same height is idempotent: no duplicate log entry.
	s.MergeBlock(100, "h100b", nil, nil, records, nil)
	cp = s.Snapshot()
	assert.Len(t, cp.Data.Logs, 1)
	assert.Equal(t, "h100b", cp.LastBlockHash)
}

func TestStoreMergeClearsOwnMissedHeight(t *testing.T) {
	t.Parallel()
	s := NewStore(newCheckpoint(), 0)
	s.RecordMissed(100)
	assert.Equal(t, uint64(101), s.NextHeight())

	s.MergeBlock(100, "h100", nil, nil, nil, nil)
	_, _, missed := s.Counts()
	assert.Zero(t, missed)
}

func TestStoreRollback(t *testing.T) {
	t.Parallel()
	s := NewStore(newCheckpoint(), 0)
	s.MergeBlock(100, "h100", nil, nil, nil, nil)
	assert.Equal(t, uint64(101), s.NextHeight())

	s.Rollback()
	assert.Equal(t, uint64(100), s.NextHeight())
	assert.Equal(t, uint64(100), s.LastHandled())
}

func TestStoreBeginSaveSerialized(t *testing.T) {
	t.Parallel()
	s := NewStore(newCheckpoint(), 0)
	s.MergeBlock(100, "h100", map[types.AccountID]struct{}{"alice.test": {}}, nil, nil, nil)

	clone, ok := s.BeginSave()
	require.True(t, ok)
	_, ok = s.BeginSave()
	assert.False(t, ok)

	// The clone is detached from later mutations.
	s.MergeBlock(101, "h101", map[types.AccountID]struct{}{"bob.test": {}}, nil, nil, nil)
	assert.Len(t, clone.Data.Accounts, 1)
	assert.Equal(t, uint64(100), clone.LastHandledBlock)

	s.EndSave()
	_, ok = s.BeginSave()
	assert.True(t, ok)
}
