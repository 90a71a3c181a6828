// Package indexer drives the resumable block-by-block scan of the tracked
// contract. A single sequential loop fetches blocks, validates hash-chain
// continuity, merges recognized contract calls into the dataset and
// periodically persists the checkpoint in the background.
package indexer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/aurora-is-near/engine-migration-tool/internal/rpc"
	"github.com/aurora-is-near/engine-migration-tool/pkg/metrics"
	"github.com/aurora-is-near/engine-migration-tool/pkg/types"
)

// Client is the chain access the scan loop needs.
type Client interface {
	LatestHeight(ctx context.Context) (uint64, error)
	Block(ctx context.Context, height uint64) (rpc.Block, error)
	Chunk(ctx context.Context, chunkID string) (rpc.Chunk, error)
	UnresolvedBlocks() map[uint64]struct{}
}

// Config tunes the scan loop.
type Config struct {
	Contract       types.AccountID
	CheckpointPath string

	SaveInterval       time.Duration // zero means 60s
	TipRefreshInterval time.Duration // zero means 10s
	TipBackoff         time.Duration // zero means 2s
}

func (c *Config) applyDefaults() {
	if c.SaveInterval <= 0 {
		c.SaveInterval = time.Minute
	}
	if c.TipRefreshInterval <= 0 {
		c.TipRefreshInterval = 10 * time.Second
	}
	if c.TipBackoff <= 0 {
		c.TipBackoff = 2 * time.Second
	}
}

// Indexer owns the checkpoint and the scan loop.
type Indexer struct {
	log     *zap.SugaredLogger
	client  Client
	store   *Store
	cfg     Config
	metrics *metrics.Metrics // nil if metrics disabled

	lastSave   time.Time
	tipFetched time.Time
	saves      chan struct{} // closed-loop tracking of the detached save
}

// New creates an Indexer over a loaded checkpoint store.
func New(log *zap.SugaredLogger, client Client, store *Store, cfg Config, opts ...Option) (*Indexer, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if client == nil {
		return nil, errors.New("invalid client: must not be nil")
	}
	if store == nil {
		return nil, errors.New("invalid store: must not be nil")
	}
	if cfg.Contract == "" {
		return nil, errors.New("invalid config: contract must not be empty")
	}
	if cfg.CheckpointPath == "" {
		return nil, errors.New("invalid config: checkpoint path must not be empty")
	}
	cfg.applyDefaults()

	ix := &Indexer{
		log:      log,
		client:   client,
		store:    store,
		cfg:      cfg,
		lastSave: time.Now(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// Option configures the Indexer.
type Option func(*Indexer)

// WithMetrics enables scan instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Indexer) { ix.metrics = m }
}

// Run executes the scan loop until ctx is cancelled. Shutdown is only acted
// on between iterations; before returning, any outstanding background save
// is awaited and one final synchronous save is performed, so the on-disk
// checkpoint always reflects a fully applied iteration.
func (ix *Indexer) Run(ctx context.Context) error {
	if ix.store.NextHeight() == 0 {
		tip, err := ix.client.LatestHeight(ctx)
		if err != nil {
			return err
		}
		ix.store.SetChainTip(tip)
		ix.store.SetNextHeight(tip)
		ix.tipFetched = time.Now()
		ix.log.Infow("fresh checkpoint, starting from chain tip", "height", tip)
	} else {
		ix.log.Infow("resuming scan", "height", ix.store.NextHeight())
	}

	for ctx.Err() == nil {
		ix.iterate(ctx)
	}

	ix.awaitSave()
	final := ix.store.Snapshot()
	if err := final.WriteFile(ix.cfg.CheckpointPath); err != nil {
		return err
	}
	ix.log.Infow("checkpoint saved on shutdown", "path", ix.cfg.CheckpointPath)
	return nil
}

// iterate performs one scan step: refresh the tip when stale, fetch the next
// block, check continuity, collect and merge its contract calls.
func (ix *Indexer) iterate(ctx context.Context) {
	if ix.store.ChainTip() == 0 || time.Since(ix.tipFetched) > ix.cfg.TipRefreshInterval {
		tip, err := ix.client.LatestHeight(ctx)
		if err != nil {
			if ctx.Err() == nil {
				ix.log.Warnw("failed to refresh chain tip", "error", err)
			}
			return
		}
		ix.store.SetChainTip(tip)
		ix.tipFetched = time.Now()
		if ix.metrics != nil {
			ix.metrics.ChainTip.Set(float64(tip))
		}
	}

	next := ix.store.NextHeight()
	if next > ix.store.ChainTip() {
		// At the tip; do not fetch a block that does not exist yet.
		sleepCtx(ctx, ix.cfg.TipBackoff)
		return
	}

	blk, err := ix.client.Block(ctx, next)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		var unavailable *rpc.BlockUnavailableError
		if errors.As(err, &unavailable) {
			ix.log.Warnw("block unavailable, skipping", "height", next)
			ix.store.RecordMissed(next)
			ix.reportProgress()
			return
		}
		ix.log.Warnw("block fetch failed", "height", next, "error", err)
		return
	}

	// Continuity check: the fetched block must extend the block we merged
	// last. A parent mismatch means the chain reorganized under us.
	if prev := ix.store.LastBlockHash(); prev != "" &&
		next == ix.store.LastHandled()+1 && blk.PrevHash != prev {
		ix.log.Warnw("reorganization detected, rolling back",
			"height", next,
			"expected_parent", prev,
			"actual_parent", blk.PrevHash,
		)
		if ix.metrics != nil {
			ix.metrics.Reorgs.Inc()
		}
		ix.store.Rollback()
		return
	}

	accounts, proofs, records := ix.collectBlock(ctx, blk)
	ix.store.MergeBlock(blk.Height, blk.Hash, accounts, proofs, records, ix.client.UnresolvedBlocks())
	if ix.metrics != nil {
		ix.metrics.BlocksIndexed.Inc()
	}
	ix.reportProgress()
	ix.maybeSave()
}

// collectBlock walks the block's chunks and extracts every recognized call
// addressed to the tracked contract, from transactions and action receipts
// alike. The caller's signer and the contract itself count as affected
// accounts.
func (ix *Indexer) collectBlock(ctx context.Context, blk rpc.Block) (
	map[types.AccountID]struct{}, map[string]struct{}, []ActionRecord,
) {
	accounts := make(map[types.AccountID]struct{})
	proofs := make(map[string]struct{})
	var records []ActionRecord

	handle := func(signer types.AccountID, extra []types.AccountID, actions []rpc.Action) {
		for _, action := range actions {
			fc := action.FunctionCall
			if fc == nil {
				continue
			}
			args, err := fc.DecodeArgs()
			if err != nil {
				ix.log.Warnw("undecodable call args", "height", blk.Height, "method", fc.MethodName, "error", err)
				continue
			}
			res := rpc.ParseCall(ix.log, fc.MethodName, args)
			if !res.Recognized {
				continue
			}

			affected := make([]types.AccountID, 0, len(res.Accounts)+2+len(extra))
			affected = append(affected, signer, ix.cfg.Contract)
			affected = append(affected, extra...)
			affected = append(affected, res.Accounts...)
			for _, a := range affected {
				if a != "" {
					accounts[a] = struct{}{}
				}
			}
			if res.Proof != nil {
				proofs[*res.Proof] = struct{}{}
			}
			records = append(records, ActionRecord{
				Method:   fc.MethodName,
				Accounts: affected,
				Proof:    res.Proof,
			})
		}
	}

	for _, chunkID := range blk.ChunkIDs {
		chunk, err := ix.client.Chunk(ctx, chunkID)
		if err != nil {
			if ctx.Err() != nil {
				return accounts, proofs, records
			}
			ix.log.Warnw("chunk unavailable", "height", blk.Height, "chunk", chunkID, "error", err)
			continue
		}

		for _, tx := range chunk.Transactions {
			if tx.ReceiverID != ix.cfg.Contract {
				continue
			}
			handle(tx.SignerID, nil, tx.Actions)
		}
		for i := range chunk.Receipts {
			rcpt := &chunk.Receipts[i]
			if rcpt.ReceiverID != ix.cfg.Contract {
				continue
			}
			handle(rcpt.Signer(), []types.AccountID{rcpt.PredecessorID}, rcpt.Actions())
		}
	}
	return accounts, proofs, records
}

func (ix *Indexer) reportProgress() {
	if ix.metrics == nil {
		return
	}
	nAccounts, nProofs, nMissed := ix.store.Counts()
	ix.metrics.CurrentHeight.Set(float64(ix.store.NextHeight()))
	ix.metrics.LastHandledHeight.Set(float64(ix.store.LastHandled()))
	ix.metrics.AccountsDiscovered.Set(float64(nAccounts))
	ix.metrics.ProofsDiscovered.Set(float64(nProofs))
	ix.metrics.MissedBlocks.Set(float64(nMissed))
}

// maybeSave spawns a detached save of a cloned checkpoint when the save
// interval elapsed. The scan loop never waits for it; at most one save is in
// flight at a time.
func (ix *Indexer) maybeSave() {
	if time.Since(ix.lastSave) < ix.cfg.SaveInterval {
		return
	}
	cp, ok := ix.store.BeginSave()
	if !ok {
		return
	}
	ix.lastSave = time.Now()

	done := make(chan struct{})
	ix.saves = done
	go func() {
		defer close(done)
		defer ix.store.EndSave()
		if err := cp.WriteFile(ix.cfg.CheckpointPath); err != nil {
			ix.log.Errorw("checkpoint save failed", "path", ix.cfg.CheckpointPath, "error", err)
			return
		}
		ix.log.Debugw("checkpoint saved",
			"path", ix.cfg.CheckpointPath,
			"last_handled", cp.LastHandledBlock,
		)
	}()
}

func (ix *Indexer) awaitSave() {
	if ix.saves != nil {
		<-ix.saves
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
