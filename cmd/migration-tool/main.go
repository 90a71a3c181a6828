package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "migration-tool",
		Usage:   "index and migrate the engine's fungible-token ledger",
		Version: "1.2.0",
		Commands: []*cli.Command{
			{
				Name:   "index",
				Usage:  "Scan the chain for accounts and deposit proofs touched by the contract",
				Flags:  indexFlags(),
				Action: runIndex,
			},
			{
				Name:   "stats",
				Usage:  "Print indexing statistics from a checkpoint file",
				Flags:  statsFlags(),
				Action: runStats,
			},
			{
				Name:   "parse",
				Usage:  "Decode a storage snapshot export into a migration-ready file",
				Flags:  parseFlags(),
				Action: runParse,
			},
			{
				Name:   "prepare",
				Usage:  "Build a migration-ready file from an indexed checkpoint via live balance queries",
				Flags:  prepareFlags(),
				Action: runPrepare,
			},
			{
				Name:   "migrate",
				Usage:  "Replay a migration-ready file into the target contract and verify it",
				Flags:  migrateFlags(),
				Action: runMigrate,
			},
			{
				Name:   "check",
				Usage:  "Verify an already-migrated contract without committing anything",
				Flags:  checkFlags(),
				Action: runCheck,
			},
			{
				Name:   "combine",
				Usage:  "Merge two migration-ready files into one",
				Flags:  combineFlags(),
				Action: runCombine,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
