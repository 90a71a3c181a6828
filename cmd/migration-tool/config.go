package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/aurora-is-near/engine-migration-tool/pkg/types"
)

// networkConfig is the node/contract configuration shared by every command
// that talks to the chain.
type networkConfig struct {
	Verbose      bool
	RPCURL       string
	Contract     types.AccountID
	RequestDelay time.Duration
	Network      string
	MetricsHost  string
	MetricsPort  int
}

func buildNetworkConfig(c *cli.Context) (networkConfig, error) {
	contract, err := types.ParseAccountID(c.String("contract"))
	if err != nil {
		return networkConfig{}, err
	}
	cfg := networkConfig{
		Verbose:      c.Bool("verbose"),
		RPCURL:       c.String("rpc-url"),
		Contract:     contract,
		RequestDelay: c.Duration("request-delay"),
		Network:      c.String("network"),
		MetricsHost:  c.String("metrics-host"),
		MetricsPort:  c.Int("metrics-port"),
	}
	if cfg.RPCURL == "" {
		return networkConfig{}, errors.New("rpc-url must not be empty")
	}
	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return networkConfig{}, fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}
	return cfg, nil
}

// MetricsEnabled reports whether a metrics server should be started.
func (c networkConfig) MetricsEnabled() bool { return c.MetricsPort > 0 }

// MetricsAddr returns the listen address of the metrics server.
func (c networkConfig) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}
