package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/aurora-is-near/engine-migration-tool/internal/rpc"
)

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
			EnvVars: []string{"VERBOSE"},
			Value:   false,
		},
	}
}

func networkFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.StringFlag{
			Name:     "rpc-url",
			Aliases:  []string{"r"},
			Usage:    "The chain node JSON-RPC URL",
			EnvVars:  []string{"RPC_URL"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "contract",
			Aliases: []string{"c"},
			Usage:   "The tracked contract account id",
			EnvVars: []string{"CONTRACT"},
			Value:   "aurora",
		},
		&cli.DurationFlag{
			Name:    "request-delay",
			Usage:   "Minimum delay between remote RPC calls",
			EnvVars: []string{"REQUEST_DELAY"},
			Value:   rpc.DefaultRequestDelay,
		},
		&cli.StringFlag{
			Name:    "network",
			Usage:   "Network name used as a metrics label (e.g. 'mainnet')",
			EnvVars: []string{"NETWORK"},
			Value:   "mainnet",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Aliases: []string{"m"},
			Usage:   "Port for the Prometheus metrics server (0 disables it)",
			EnvVars: []string{"METRICS_PORT"},
			Value:   0,
		},
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "Host for the Prometheus metrics server (empty for all interfaces)",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
	)
}

func indexFlags() []cli.Flag {
	return append(networkFlags(),
		&cli.StringFlag{
			Name:    "checkpoint",
			Aliases: []string{"d"},
			Usage:   "Path of the checkpoint file",
			EnvVars: []string{"CHECKPOINT"},
			Value:   "indexer_data.borsh",
		},
		&cli.Uint64Flag{
			Name:    "from-block",
			Aliases: []string{"s"},
			Usage:   "Override the resume height (defaults to the checkpoint, or the chain tip)",
			EnvVars: []string{"FROM_BLOCK"},
		},
		&cli.DurationFlag{
			Name:    "save-interval",
			Usage:   "Interval between background checkpoint saves",
			EnvVars: []string{"SAVE_INTERVAL"},
			Value:   time.Minute,
		},
	)
}

func statsFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.StringFlag{
			Name:    "checkpoint",
			Aliases: []string{"d"},
			Usage:   "Path of the checkpoint file",
			EnvVars: []string{"CHECKPOINT"},
			Value:   "indexer_data.borsh",
		},
		&cli.BoolFlag{
			Name:    "full",
			Aliases: []string{"f"},
			Usage:   "Include missed heights and the per-block action log",
			Value:   false,
		},
	)
}

func parseFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.StringFlag{
			Name:     "input",
			Aliases:  []string{"i"},
			Usage:    "Path of the snapshot export document",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Path of the migration-ready file (defaults to contract_state<height>.borsh)",
		},
	)
}

func prepareFlags() []cli.Flag {
	return append(networkFlags(),
		&cli.StringFlag{
			Name:    "checkpoint",
			Aliases: []string{"d"},
			Usage:   "Path of the checkpoint file",
			EnvVars: []string{"CHECKPOINT"},
			Value:   "indexer_data.borsh",
		},
		&cli.StringFlag{
			Name:     "output",
			Aliases:  []string{"o"},
			Usage:    "Path of the migration-ready file",
			Required: true,
		},
	)
}

func migrateFlags() []cli.Flag {
	return append(networkFlags(),
		&cli.StringFlag{
			Name:     "state",
			Aliases:  []string{"f"},
			Usage:    "Path of the migration-ready file",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "signer",
			Usage:    "Account id that signs migration transactions",
			EnvVars:  []string{"SIGNER_ACCOUNT_ID"},
			Required: true,
		},
		&cli.StringFlag{
			Name:     "signer-key",
			Usage:    "ed25519 secret key of the signer",
			EnvVars:  []string{"SIGNER_SECRET_KEY"},
			Required: true,
		},
		&cli.IntFlag{
			Name:    "batch-size",
			Aliases: []string{"b"},
			Usage:   "Maximum records per migration batch",
			EnvVars: []string{"BATCH_SIZE"},
			Value:   0,
		},
	)
}

func checkFlags() []cli.Flag {
	return append(networkFlags(),
		&cli.StringFlag{
			Name:     "state",
			Aliases:  []string{"f"},
			Usage:    "Path of the migration-ready file",
			Required: true,
		},
		&cli.IntFlag{
			Name:    "batch-size",
			Aliases: []string{"b"},
			Usage:   "Maximum records per migration batch (must match the migrate run)",
			EnvVars: []string{"BATCH_SIZE"},
			Value:   0,
		},
	)
}

func combineFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.StringFlag{
			Name:     "first",
			Usage:    "Path of the first migration-ready file",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "second",
			Usage:    "Path of the second migration-ready file (wins on conflicts)",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "output",
			Aliases:  []string{"o"},
			Usage:    "Path of the merged migration-ready file",
			Required: true,
		},
	)
}
