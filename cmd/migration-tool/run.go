package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aurora-is-near/engine-migration-tool/internal/indexer"
	"github.com/aurora-is-near/engine-migration-tool/internal/migration"
	"github.com/aurora-is-near/engine-migration-tool/internal/rpc"
	"github.com/aurora-is-near/engine-migration-tool/internal/snapshot"
	"github.com/aurora-is-near/engine-migration-tool/pkg/metrics"
	"github.com/aurora-is-near/engine-migration-tool/pkg/types"
	"github.com/aurora-is-near/engine-migration-tool/pkg/utils"
)

// setupMetrics starts the metrics server when enabled. It returns a nil
// Metrics when disabled; every consumer treats that as a no-op.
func setupMetrics(cfg networkConfig, sugar *zap.SugaredLogger) (*metrics.Metrics, *metrics.Server, <-chan error, error) {
	if !cfg.MetricsEnabled() {
		return nil, nil, nil, nil
	}
	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry, metrics.Labels{
		Network:  cfg.Network,
		Contract: string(cfg.Contract),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create metrics: %w", err)
	}
	server := metrics.NewServer(cfg.MetricsAddr(), registry)
	errCh := server.Start()
	sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr())
	return m, server, errCh, nil
}

func shutdownMetrics(server *metrics.Server, sugar *zap.SugaredLogger) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		sugar.Warnw("metrics server shutdown error", "error", err)
	}
}

func newClient(cfg networkConfig, sugar *zap.SugaredLogger, m *metrics.Metrics, opts ...rpc.Option) (*rpc.Client, error) {
	if m != nil {
		opts = append(opts, rpc.WithMetrics(m))
	}
	return rpc.New(rpc.Config{
		URL:          cfg.RPCURL,
		RequestDelay: cfg.RequestDelay,
	}, sugar, opts...)
}

func runIndex(c *cli.Context) error {
	cfg, err := buildNetworkConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush

	m, server, metricsErrCh, err := setupMetrics(cfg, sugar)
	if err != nil {
		return err
	}

	client, err := newClient(cfg, sugar, m)
	if err != nil {
		return fmt.Errorf("failed to create chain client: %w", err)
	}

	checkpointPath := c.String("checkpoint")
	cp, err := indexer.ReadCheckpoint(checkpointPath)
	if err != nil {
		return err
	}
	store := indexer.NewStore(cp, c.Uint64("from-block"))

	var ixOpts []indexer.Option
	if m != nil {
		ixOpts = append(ixOpts, indexer.WithMetrics(m))
	}
	ix, err := indexer.New(sugar, client, store, indexer.Config{
		Contract:       cfg.Contract,
		CheckpointPath: checkpointPath,
		SaveInterval:   c.Duration("save-interval"),
	}, ixOpts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ix.Run(gctx)
	})
	if metricsErrCh != nil {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case err := <-metricsErrCh:
				return err
			}
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	shutdownMetrics(server, sugar)

	final := store.Snapshot()
	fmt.Print(final.Report(false))
	return err
}

func runStats(c *cli.Context) error {
	cp, err := indexer.ReadCheckpoint(c.String("checkpoint"))
	if err != nil {
		return err
	}
	fmt.Print(cp.Report(c.Bool("full")))
	return nil
}

func runParse(c *cli.Context) error {
	sugar, err := utils.NewSugaredLogger(c.Bool("verbose"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush

	export, err := snapshot.ReadExport(c.String("input"))
	if err != nil {
		return err
	}
	state, err := snapshot.NewDecoder(sugar).Decode(export)
	if err != nil {
		return err
	}

	output := c.String("output")
	if output == "" {
		output = fmt.Sprintf("contract_state%d.borsh", export.Result.BlockHeight)
	}
	if err := state.WriteFile(output); err != nil {
		return err
	}
	sugar.Infow("migration-ready file written",
		"path", output,
		"accounts", len(state.Accounts),
		"proofs", len(state.Proofs),
	)
	return nil
}

func runPrepare(c *cli.Context) error {
	cfg, err := buildNetworkConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush

	client, err := newClient(cfg, sugar, nil)
	if err != nil {
		return fmt.Errorf("failed to create chain client: %w", err)
	}

	cp, err := indexer.ReadCheckpoint(c.String("checkpoint"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state, err := migration.Prepare(ctx, sugar, client, cfg.Contract, &cp)
	if err != nil {
		return err
	}
	if err := state.WriteFile(c.String("output")); err != nil {
		return err
	}
	sugar.Infow("migration-ready file written",
		"path", c.String("output"),
		"accounts", len(state.Accounts),
		"proofs", len(state.Proofs),
	)
	return nil
}

func runMigrate(c *cli.Context) error {
	return runMigration(c, false)
}

func runCheck(c *cli.Context) error {
	return runMigration(c, true)
}

func runMigration(c *cli.Context, validateOnly bool) error {
	cfg, err := buildNetworkConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush

	m, server, _, err := setupMetrics(cfg, sugar)
	if err != nil {
		return err
	}
	defer shutdownMetrics(server, sugar)

	var clientOpts []rpc.Option
	if !validateOnly {
		signerID, err := types.ParseAccountID(c.String("signer"))
		if err != nil {
			return err
		}
		signer, err := rpc.NewSigner(signerID, c.String("signer-key"))
		if err != nil {
			return err
		}
		clientOpts = append(clientOpts, rpc.WithSigner(signer))
	}
	client, err := newClient(cfg, sugar, m, clientOpts...)
	if err != nil {
		return fmt.Errorf("failed to create chain client: %w", err)
	}

	state, err := types.ReadStateData(c.String("state"))
	if err != nil {
		return err
	}

	var execOpts []migration.Option
	if m != nil {
		execOpts = append(execOpts, migration.WithMetrics(m))
	}
	exec, err := migration.New(sugar, client, migration.Config{
		Contract:     cfg.Contract,
		BatchLimit:   c.Int("batch-size"),
		ValidateOnly: validateOnly,
	}, execOpts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := exec.Run(ctx, state)
	if report != nil {
		// The verification report is always printed, even when some batches
		// failed verification.
		fmt.Print(report.String())
	}
	return err
}

func runCombine(c *cli.Context) error {
	first, err := types.ReadStateData(c.String("first"))
	if err != nil {
		return err
	}
	second, err := types.ReadStateData(c.String("second"))
	if err != nil {
		return err
	}
	first.Merge(second)
	if err := first.WriteFile(c.String("output")); err != nil {
		return err
	}
	fmt.Printf("Merged: %d accounts, %d proofs -> %s\n",
		len(first.Accounts), len(first.Proofs), c.String("output"))
	return nil
}
