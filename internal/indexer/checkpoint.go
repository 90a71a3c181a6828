package indexer

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/near/borsh-go"

	"github.com/aurora-is-near/engine-migration-tool/pkg/types"
)

// ActionRecord is one recognized contract call observed on chain.
type ActionRecord struct {
	Method   string
	Accounts []types.AccountID
	Proof    *string
}

// BlockActions groups the records of one block for the audit log.
type BlockActions struct {
	Height  uint64
	Records []ActionRecord
}

// Dataset is the accumulated scan output: account and proof sets plus the
// append-only per-block action log. Account keys are plain strings; the Borsh
// codec cannot populate maps keyed by a named type.
type Dataset struct {
	Accounts map[string]bool
	Proofs   map[string]bool
	Logs     []BlockActions
}

// Checkpoint is the persisted resume state of the indexer. On disk it is one
// Borsh-encoded file, always written as a whole.
type Checkpoint struct {
	FirstBlock       uint64
	LastBlock        uint64 // next height to attempt
	LastHandledBlock uint64 // last height successfully merged
	CurrentBlock     uint64 // last observed chain tip
	LastBlockHash    string // hash of the block at LastHandledBlock
	MissedBlocks     map[uint64]bool
	Data             Dataset
}

func newCheckpoint() Checkpoint {
	return Checkpoint{
		MissedBlocks: make(map[uint64]bool),
		Data: Dataset{
			Accounts: make(map[string]bool),
			Proofs:   make(map[string]bool),
		},
	}
}

func (cp *Checkpoint) ensureMaps() {
	if cp.MissedBlocks == nil {
		cp.MissedBlocks = make(map[uint64]bool)
	}
	if cp.Data.Accounts == nil {
		cp.Data.Accounts = make(map[string]bool)
	}
	if cp.Data.Proofs == nil {
		cp.Data.Proofs = make(map[string]bool)
	}
}

// Clone returns a deep copy, safe to serialize while the original keeps
// mutating.
func (cp *Checkpoint) Clone() Checkpoint {
	out := *cp
	out.MissedBlocks = make(map[uint64]bool, len(cp.MissedBlocks))
	for h := range cp.MissedBlocks {
		out.MissedBlocks[h] = true
	}
	out.Data.Accounts = make(map[string]bool, len(cp.Data.Accounts))
	for a := range cp.Data.Accounts {
		out.Data.Accounts[a] = true
	}
	out.Data.Proofs = make(map[string]bool, len(cp.Data.Proofs))
	for p := range cp.Data.Proofs {
		out.Data.Proofs[p] = true
	}
	out.Data.Logs = make([]BlockActions, len(cp.Data.Logs))
	copy(out.Data.Logs, cp.Data.Logs)
	return out
}

// WriteFile persists the checkpoint atomically (temp file + rename), so the
// on-disk file always holds one complete snapshot.
func (cp *Checkpoint) WriteFile(path string) error {
	raw, err := borsh.Serialize(*cp)
	if err != nil {
		return fmt.Errorf("serialize checkpoint: %w", err)
	}
	return types.AtomicWrite(path, raw)
}

// ReadCheckpoint loads a checkpoint file. A missing file yields a fresh
// default checkpoint; an unreadable one is an error, never silently reset.
func ReadCheckpoint(path string) (Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newCheckpoint(), nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	var cp Checkpoint
	if err := borsh.Deserialize(&cp, raw); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	cp.ensureMaps()
	return cp, nil
}

// MissedHeights returns the missed heights in ascending order.
func (cp *Checkpoint) MissedHeights() []uint64 {
	out := make([]uint64, 0, len(cp.MissedBlocks))
	for h := range cp.MissedBlocks {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Report renders index statistics; full adds the missed heights and the
// per-block action log.
func (cp *Checkpoint) Report(full bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "First block:        %d\n", cp.FirstBlock)
	fmt.Fprintf(&b, "Next block:         %d\n", cp.LastBlock)
	fmt.Fprintf(&b, "Last handled block: %d\n", cp.LastHandledBlock)
	fmt.Fprintf(&b, "Observed tip:       %d\n", cp.CurrentBlock)
	fmt.Fprintf(&b, "Accounts:           %d\n", len(cp.Data.Accounts))
	fmt.Fprintf(&b, "Proofs:             %d\n", len(cp.Data.Proofs))
	fmt.Fprintf(&b, "Logged blocks:      %d\n", len(cp.Data.Logs))
	fmt.Fprintf(&b, "Missed blocks:      %d\n", len(cp.MissedBlocks))
	if !full {
		return b.String()
	}
	if len(cp.MissedBlocks) > 0 {
		fmt.Fprintf(&b, "Missed heights:     %v\n", cp.MissedHeights())
	}
	for _, blk := range cp.Data.Logs {
		fmt.Fprintf(&b, "Block %d:\n", blk.Height)
		for _, rec := range blk.Records {
			if rec.Proof != nil {
				fmt.Fprintf(&b, "  %s %v proof=%s\n", rec.Method, rec.Accounts, *rec.Proof)
			} else {
				fmt.Fprintf(&b, "  %s %v\n", rec.Method, rec.Accounts)
			}
		}
	}
	return b.String()
}

// Store owns the in-memory checkpoint. The lock is held only for field
// access or a whole-structure clone, never across a network call. The save
// path only ever sees immutable clones, and at most one save runs at a time.
type Store struct {
	mu           sync.Mutex
	cp           Checkpoint
	logged       map[uint64]struct{}
	saveInFlight bool
}

// NewStore wraps a loaded checkpoint. fromBlock, when non-zero, overrides the
// resume height; an override below FirstBlock unpins it so the next merge
// re-establishes the true first height.
func NewStore(cp Checkpoint, fromBlock uint64) *Store {
	cp.ensureMaps()
	if fromBlock > 0 {
		cp.LastBlock = fromBlock
		if fromBlock < cp.FirstBlock {
			cp.FirstBlock = 0
		}
	}
	logged := make(map[uint64]struct{}, len(cp.Data.Logs))
	for _, blk := range cp.Data.Logs {
		logged[blk.Height] = struct{}{}
	}
	return &Store{cp: cp, logged: logged}
}

// NextHeight returns the next height the scan should attempt; zero means the
// checkpoint is fresh and no start height was supplied.
func (s *Store) NextHeight() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cp.LastBlock
}

// SetNextHeight pins the scan start (used once when a fresh checkpoint
// starts from the observed tip).
func (s *Store) SetNextHeight(h uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp.LastBlock = h
}

// ChainTip returns the last observed final height.
func (s *Store) ChainTip() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cp.CurrentBlock
}

// SetChainTip records a freshly observed final height.
func (s *Store) SetChainTip(h uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp.CurrentBlock = h
}

// LastHandled returns the last successfully merged height.
func (s *Store) LastHandled() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cp.LastHandledBlock
}

// LastBlockHash returns the hash recorded at the last merged height, or ""
// when none was merged yet.
func (s *Store) LastBlockHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cp.LastBlockHash
}

// Rollback resets the scan pointer to the last handled height after a
// reorganization. LastHandledBlock itself is untouched; the refetched block
// re-establishes the hash chain.
func (s *Store) Rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp.LastBlock = s.cp.LastHandledBlock
}

// RecordMissed marks a height as unfetchable and advances the pointer past
// it. Gaps are tolerated, not retried.
func (s *Store) RecordMissed(h uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp.MissedBlocks[h] = true
	if s.cp.LastBlock <= h {
		s.cp.LastBlock = h + 1
	}
}

// MergeBlock folds one fetched block into the dataset: set union for
// accounts and proofs, append for logs (skipped for heights already logged,
// which makes re-merging after a rollback idempotent), and union of the
// client's unresolved heights into the missed set so they stay visible
// across restarts. The watermarks advance afterwards; LastHandledBlock never
// decreases.
func (s *Store) MergeBlock(
	height uint64,
	hash string,
	accounts map[types.AccountID]struct{},
	proofs map[string]struct{},
	records []ActionRecord,
	unresolved map[uint64]struct{},
) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for a := range accounts {
		s.cp.Data.Accounts[string(a)] = true
	}
	for p := range proofs {
		s.cp.Data.Proofs[p] = true
	}
	if _, done := s.logged[height]; !done && len(records) > 0 {
		s.cp.Data.Logs = append(s.cp.Data.Logs, BlockActions{Height: height, Records: records})
		s.logged[height] = struct{}{}
	}
	for h := range unresolved {
		s.cp.MissedBlocks[h] = true
	}

	if s.cp.FirstBlock == 0 {
		s.cp.FirstBlock = height
	}
	if height >= s.cp.LastHandledBlock {
		s.cp.LastHandledBlock = height
		s.cp.LastBlockHash = hash
	}
	s.cp.LastBlock = height + 1
	delete(s.cp.MissedBlocks, height)
}

// Counts returns the dataset sizes for progress reporting.
func (s *Store) Counts() (accounts, proofs, missed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cp.Data.Accounts), len(s.cp.Data.Proofs), len(s.cp.MissedBlocks)
}

// Snapshot returns a deep copy of the current checkpoint.
func (s *Store) Snapshot() Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cp.Clone()
}

// BeginSave claims the single save slot and returns a clone to persist.
// Returns false when a save is already in flight; saves are serialized so an
// older snapshot can never overwrite a newer one.
func (s *Store) BeginSave() (Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveInFlight {
		return Checkpoint{}, false
	}
	s.saveInFlight = true
	return s.cp.Clone(), true
}

// EndSave releases the save slot.
func (s *Store) EndSave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveInFlight = false
}
