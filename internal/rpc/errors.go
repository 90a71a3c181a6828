package rpc

import "fmt"

// BlockUnavailableError reports that a block at a specific height could not
// be fetched. The client records the height and does not retry; the caller
// decides how to proceed.
type BlockUnavailableError struct {
	Height uint64
	Err    error
}

func (e *BlockUnavailableError) Error() string {
	return fmt.Sprintf("block %d unavailable: %v", e.Height, e.Err)
}

func (e *BlockUnavailableError) Unwrap() error { return e.Err }

// ChunkUnavailableError reports that a chunk could not be fetched.
type ChunkUnavailableError struct {
	ChunkID string
	Err     error
}

func (e *ChunkUnavailableError) Error() string {
	return fmt.Sprintf("chunk %s unavailable: %v", e.ChunkID, e.Err)
}

func (e *ChunkUnavailableError) Unwrap() error { return e.Err }

// CommitError reports a transaction commit that exhausted its retry budget.
// It is fatal: a failed commit must never be skipped silently.
type CommitError struct {
	Method   string
	Attempts uint64
	Err      error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s failed after %d attempts: %v", e.Method, e.Attempts, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
