// Package rpc is the sole point of contact with the remote chain node. Every
// request is rate limited to stay under the node's published quota, issued
// one at a time, and surfaced to callers as an explicit success/failure
// outcome.
package rpc

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ybbus/jsonrpc/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aurora-is-near/engine-migration-tool/pkg/metrics"
	"github.com/aurora-is-near/engine-migration-tool/pkg/retry"
	"github.com/aurora-is-near/engine-migration-tool/pkg/types"
)

const (
	// DefaultRequestDelay is the minimum gap between remote calls.
	DefaultRequestDelay = 60 * time.Millisecond

	// DefaultCommitRetries bounds transaction commit attempts; exhausting it
	// is fatal.
	DefaultCommitRetries uint64 = 10

	defaultCommitBackoff = 3 * time.Second
)

// Config describes the node endpoint and commit policy.
type Config struct {
	URL           string
	RequestDelay  time.Duration // zero means DefaultRequestDelay
	CommitRetries uint64        // zero means DefaultCommitRetries
	CommitBackoff time.Duration // zero means a 3s constant backoff
}

func (c *Config) applyDefaults() {
	if c.RequestDelay <= 0 {
		c.RequestDelay = DefaultRequestDelay
	}
	if c.CommitRetries == 0 {
		c.CommitRetries = DefaultCommitRetries
	}
	if c.CommitBackoff <= 0 {
		c.CommitBackoff = defaultCommitBackoff
	}
}

// Client wraps the node's JSON-RPC endpoint.
type Client struct {
	rpc     jsonrpc.RPCClient
	limiter *rate.Limiter
	log     *zap.SugaredLogger
	metrics *metrics.Metrics // nil if metrics disabled
	cfg     Config
	signer  *Signer // nil unless commit credentials were configured

	mu               sync.Mutex
	unresolvedBlocks map[uint64]struct{}
	unresolvedChunks map[string]struct{}
}

// Option configures the Client.
type Option func(*Client)

// WithMetrics enables RPC instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithSigner attaches the commit credential.
func WithSigner(s *Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithTransport replaces the underlying JSON-RPC client (test hook).
func WithTransport(rc jsonrpc.RPCClient) Option {
	return func(c *Client) { c.rpc = rc }
}

// New creates a rate-limited client for the given node.
func New(cfg Config, log *zap.SugaredLogger, opts ...Option) (*Client, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	cfg.applyDefaults()

	c := &Client{
		limiter:          rate.NewLimiter(rate.Every(cfg.RequestDelay), 1),
		log:              log,
		cfg:              cfg,
		unresolvedBlocks: make(map[uint64]struct{}),
		unresolvedChunks: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rpc == nil {
		if cfg.URL == "" {
			return nil, errors.New("invalid config: URL must not be empty")
		}
		c.rpc = jsonrpc.NewClient(cfg.URL)
	}
	return c, nil
}

// call issues one rate-limited JSON-RPC request and decodes the result into
// out (skipped when out is nil).
func (c *Client) call(ctx context.Context, out any, method string, params any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.RPCInFlight.Inc()
		defer c.metrics.RPCInFlight.Dec()
	}

	err := c.doCall(ctx, out, method, params)
	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, err)
	}
	return err
}

func (c *Client) doCall(ctx context.Context, out any, method string, params any) error {
	resp, err := c.rpc.Call(ctx, method, params)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("rpc %s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
	}
	if out == nil {
		return nil
	}
	if err := resp.GetObject(out); err != nil {
		return fmt.Errorf("rpc %s: decode result: %w", method, err)
	}
	return nil
}

// LatestHeight returns the height of the latest final block.
func (c *Client) LatestHeight(ctx context.Context) (uint64, error) {
	var v blockView
	if err := c.call(ctx, &v, "block", map[string]any{"finality": "final"}); err != nil {
		return 0, err
	}
	return v.Header.Height, nil
}

// Block fetches the block at the given height. Failures are recorded in the
// unresolved set and returned as BlockUnavailableError; the client does not
// retry this call.
func (c *Client) Block(ctx context.Context, height uint64) (Block, error) {
	var v blockView
	if err := c.call(ctx, &v, "block", map[string]any{"block_id": height}); err != nil {
		// A call cut short by shutdown says nothing about the block itself.
		if ctx.Err() == nil {
			c.mu.Lock()
			c.unresolvedBlocks[height] = struct{}{}
			c.mu.Unlock()
		}
		return Block{}, &BlockUnavailableError{Height: height, Err: err}
	}
	return v.toBlock(), nil
}

// Chunk fetches one chunk by id.
func (c *Client) Chunk(ctx context.Context, chunkID string) (Chunk, error) {
	var v Chunk
	if err := c.call(ctx, &v, "chunk", map[string]any{"chunk_id": chunkID}); err != nil {
		if ctx.Err() == nil {
			c.mu.Lock()
			c.unresolvedChunks[chunkID] = struct{}{}
			c.mu.Unlock()
		}
		return Chunk{}, &ChunkUnavailableError{ChunkID: chunkID, Err: err}
	}
	return v, nil
}

// UnresolvedBlocks returns a copy of the heights whose block fetch failed.
func (c *Client) UnresolvedBlocks() map[uint64]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uint64]struct{}, len(c.unresolvedBlocks))
	for h := range c.unresolvedBlocks {
		out[h] = struct{}{}
	}
	return out
}

// TxStatus reports whether the transaction reached a successful final state.
func (c *Client) TxStatus(ctx context.Context, hash string, signer types.AccountID) (bool, error) {
	var v txStatusView
	err := c.call(ctx, &v, "tx", map[string]any{
		"tx_hash":           hash,
		"sender_account_id": string(signer),
	})
	if err != nil {
		return false, err
	}
	if msg, failed := v.failed(); failed {
		return false, fmt.Errorf("transaction %s failed: %s", hash, msg)
	}
	return v.succeeded(), nil
}

// AccessKey fetches the signer key's current nonce and a recent block hash to
// anchor the next transaction to.
func (c *Client) AccessKey(ctx context.Context, account types.AccountID, publicKey string) (uint64, [32]byte, error) {
	var v accessKeyView
	err := c.call(ctx, &v, "query", map[string]any{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   string(account),
		"public_key":   publicKey,
	})
	if err != nil {
		return 0, [32]byte{}, err
	}
	if v.BlockHash == "" {
		return 0, [32]byte{}, fmt.Errorf("access key query for %s returned no block hash", account)
	}
	blockHash, err := DecodeHash(v.BlockHash)
	if err != nil {
		return 0, [32]byte{}, err
	}
	return v.Nonce, blockHash, nil
}

// broadcastView is the broadcast_tx_commit response.
type broadcastView struct {
	txStatusView
	Transaction struct {
		Hash string `json:"hash"`
	} `json:"transaction"`
}

// CommitTransaction signs a function call with the configured credential,
// broadcasts it, and waits for finality. Transient failures are retried up to
// the configured bound; exhausting it returns a CommitError, which the caller
// must treat as fatal.
func (c *Client) CommitTransaction(ctx context.Context, contract types.AccountID, method string, args []byte) error {
	if c.signer == nil {
		return errors.New("commit requires a signer credential")
	}

	attempt := 0
	op := func() error {
		attempt++
		nonce, blockHash, err := c.AccessKey(ctx, c.signer.AccountID, c.signer.PublicKeyString())
		if err != nil {
			return fmt.Errorf("fetch access key: %w", err)
		}

		signed, err := c.signer.SignFunctionCall(contract, nonce+1, blockHash, method, args)
		if err != nil {
			// A transaction we cannot even serialize will never succeed.
			return retry.Permanent(fmt.Errorf("sign transaction: %w", err))
		}

		var v broadcastView
		err = c.call(ctx, &v, "broadcast_tx_commit", []string{
			base64.StdEncoding.EncodeToString(signed),
		})
		if err != nil {
			return fmt.Errorf("broadcast: %w", err)
		}
		if msg, failed := v.failed(); failed {
			return fmt.Errorf("execution failed: %s", msg)
		}
		if v.succeeded() {
			return nil
		}

		// The broadcast returned without a final outcome; confirm via a
		// status query before counting the attempt as failed.
		if v.Transaction.Hash != "" {
			ok, statusErr := c.TxStatus(ctx, v.Transaction.Hash, c.signer.AccountID)
			if statusErr == nil && ok {
				return nil
			}
		}
		return fmt.Errorf("no final outcome for %s", method)
	}

	notify := func(err error, next time.Duration) {
		c.log.Warnw("commit retry",
			"method", method,
			"attempt", attempt,
			"backoff", next,
			"error", err,
		)
	}

	if err := retry.Notify(ctx, c.cfg.CommitRetries, c.cfg.CommitBackoff, op, notify); err != nil {
		return &CommitError{Method: method, Attempts: c.cfg.CommitRetries, Err: err}
	}
	return nil
}

// ViewCall performs a read-only contract call at the latest final block and
// returns the raw result payload. A response that is not a successful call
// result is an error.
func (c *Client) ViewCall(ctx context.Context, contract types.AccountID, method string, args []byte) ([]byte, error) {
	var v callFunctionView
	err := c.call(ctx, &v, "query", map[string]any{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   string(contract),
		"method_name":  method,
		"args_base64":  base64.StdEncoding.EncodeToString(args),
	})
	if err != nil {
		return nil, err
	}
	return v.bytes(), nil
}
