// Package migration replays a decoded ledger into the target contract in
// size-bounded batches and independently re-verifies every batch.
package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aurora-is-near/engine-migration-tool/pkg/metrics"
	"github.com/aurora-is-near/engine-migration-tool/pkg/types"
)

// Target contract entry points.
const (
	MethodMigrate = "migrate"
	MethodCheck   = "check_migration_correctness"
)

// Chain is the contract access the executor needs: one state-mutating commit
// and one read-only view.
type Chain interface {
	CommitTransaction(ctx context.Context, contract types.AccountID, method string, args []byte) error
	ViewCall(ctx context.Context, contract types.AccountID, method string, args []byte) ([]byte, error)
}

// Config tunes the executor.
type Config struct {
	Contract     types.AccountID
	BatchLimit   int  // zero means DefaultBatchLimit
	ValidateOnly bool // skip the commit phase, only verify
}

// Executor drives the commit/verify pipeline. It is strictly sequential:
// batches for one signer must respect an increasing transaction nonce.
type Executor struct {
	log     *zap.SugaredLogger
	chain   Chain
	cfg     Config
	metrics *metrics.Metrics // nil if metrics disabled

	// Batches committed (or assumed committed in validate-only mode), kept
	// so the verify phase resubmits byte-identical payloads.
	committed []Batch
}

// New creates an Executor.
func New(log *zap.SugaredLogger, chain Chain, cfg Config, opts ...Option) (*Executor, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if chain == nil {
		return nil, errors.New("invalid chain: must not be nil")
	}
	if cfg.Contract == "" {
		return nil, errors.New("invalid config: contract must not be empty")
	}
	if cfg.BatchLimit == 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	if cfg.BatchLimit < 0 {
		return nil, errors.New("invalid config: batch limit must be greater than 0")
	}

	e := &Executor{log: log, chain: chain, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Option configures the Executor.
type Option func(*Executor)

// WithMetrics enables migration instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// Run batches the ledger, commits every batch (unless validate-only) and
// verifies all of them. A failed commit aborts the run: a half-migrated,
// unverifiable state is never an acceptable stopping point. Verification
// mismatches are reported in the returned Report but do not fail the run.
func (e *Executor) Run(ctx context.Context, state *types.StateData) (*Report, error) {
	if err := state.Validate(); err != nil {
		return nil, err
	}

	batches, err := BuildBatches(state, e.cfg.BatchLimit)
	if err != nil {
		return nil, err
	}
	e.log.Infow("migration plan",
		"batches", len(batches),
		"accounts", len(state.Accounts),
		"proofs", len(state.Proofs),
		"batch_limit", e.cfg.BatchLimit,
		"validate_only", e.cfg.ValidateOnly,
	)

	if e.cfg.ValidateOnly {
		e.committed = batches
	} else {
		if err := e.commitAll(ctx, batches); err != nil {
			return nil, err
		}
	}

	return e.verifyAll(ctx), nil
}

func (e *Executor) commitAll(ctx context.Context, batches []Batch) error {
	for i, b := range batches {
		if err := e.chain.CommitTransaction(ctx, e.cfg.Contract, MethodMigrate, b.Raw); err != nil {
			return fmt.Errorf("commit batch %d/%d (%s): %w", i+1, len(batches), b.Kind, err)
		}
		e.committed = append(e.committed, b)
		if e.metrics != nil {
			e.metrics.BatchesCommitted.Inc()
		}
		e.log.Infow("batch committed",
			"batch", i+1,
			"of", len(batches),
			"kind", b.Kind,
			"records", b.Count,
			"progress", b.Progress,
		)
	}
	return nil
}

// verifyAll resubmits every committed payload to the read-only correctness
// check and classifies the typed outcome. Mismatches are an audit signal,
// not a crash condition.
func (e *Executor) verifyAll(ctx context.Context) *Report {
	report := &Report{Total: len(e.committed)}
	for i, b := range e.committed {
		raw, err := e.chain.ViewCall(ctx, e.cfg.Contract, MethodCheck, b.Raw)
		if err != nil {
			e.recordFailure(report, i, b, "view_error", err.Error())
			continue
		}
		res, err := DecodeCheckResult(raw)
		if err != nil {
			e.recordFailure(report, i, b, "undecodable", err.Error())
			continue
		}
		if e.metrics != nil {
			e.metrics.RecordVerification(res.Name())
		}
		if res.OK() {
			report.Succeeded++
			e.log.Infow("batch verified", "batch", i+1, "of", report.Total, "kind", b.Kind)
			continue
		}
		report.Failures = append(report.Failures, Failure{
			Batch:   i + 1,
			Kind:    b.Kind,
			Outcome: res.Name(),
			Detail:  res.Detail(),
		})
		e.log.Warnw("batch verification mismatch",
			"batch", i+1,
			"of", report.Total,
			"kind", b.Kind,
			"outcome", res.Name(),
			"detail", res.Detail(),
		)
	}
	return report
}

func (e *Executor) recordFailure(report *Report, i int, b Batch, outcome, detail string) {
	if e.metrics != nil {
		e.metrics.RecordVerification(outcome)
	}
	report.Failures = append(report.Failures, Failure{
		Batch:   i + 1,
		Kind:    b.Kind,
		Outcome: outcome,
		Detail:  detail,
	})
	e.log.Warnw("batch verification failed",
		"batch", i+1,
		"kind", b.Kind,
		"outcome", outcome,
		"detail", detail,
	)
}

// Failure is one batch that did not verify cleanly.
type Failure struct {
	Batch   int
	Kind    string
	Outcome string
	Detail  string
}

// Report is the full verification outcome of a run.
type Report struct {
	Total     int
	Succeeded int
	Failures  []Failure
}

// Clean reports whether every batch verified successfully.
func (r *Report) Clean() bool { return len(r.Failures) == 0 }

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Verified %d/%d batches\n", r.Succeeded, r.Total)
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "  batch %d (%s): %s: %s\n", f.Batch, f.Kind, f.Outcome, f.Detail)
	}
	return b.String()
}
