package rpc

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ybbus/jsonrpc/v3"
	"go.uber.org/zap"
)

// fakeTransport scripts JSON-RPC responses per method and records call times.
type fakeTransport struct {
	mu     sync.Mutex
	calls  []recordedCall
	handle func(method string, params any) (*jsonrpc.RPCResponse, error)
}

type recordedCall struct {
	method string
	params any
	at     time.Time
}

func (f *fakeTransport) Call(_ context.Context, method string, params ...interface{}) (*jsonrpc.RPCResponse, error) {
	var p any
	if len(params) > 0 {
		p = params[0]
	}
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{method: method, params: p, at: time.Now()})
	f.mu.Unlock()
	return f.handle(method, p)
}

func (f *fakeTransport) CallRaw(context.Context, *jsonrpc.RPCRequest) (*jsonrpc.RPCResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTransport) CallFor(context.Context, interface{}, string, ...interface{}) error {
	return errors.New("not implemented")
}

func (f *fakeTransport) CallBatch(context.Context, jsonrpc.RPCRequests) (jsonrpc.RPCResponses, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTransport) CallBatchRaw(context.Context, jsonrpc.RPCRequests) (jsonrpc.RPCResponses, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTransport) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func (f *fakeTransport) countOf(method string) int {
	n := 0
	for _, c := range f.recorded() {
		if c.method == method {
			n++
		}
	}
	return n
}

func okResult(result any) (*jsonrpc.RPCResponse, error) {
	return &jsonrpc.RPCResponse{JSONRPC: "2.0", Result: result}, nil
}

func blockResult(height uint64, hash, prevHash string) any {
	return map[string]any{
		"header": map[string]any{
			"height":    height,
			"hash":      hash,
			"prev_hash": prevHash,
		},
		"chunks": []any{
			map[string]any{"chunk_hash": "chunk-a", "shard_id": 0},
		},
	}
}

func newTestClient(t *testing.T, cfg Config, ft *fakeTransport, opts ...Option) *Client {
	t.Helper()
	opts = append(opts, WithTransport(ft))
	c, err := New(cfg, zap.NewNop().Sugar(), opts...)
	require.NoError(t, err)
	return c
}

func TestLatestHeight(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{handle: func(method string, params any) (*jsonrpc.RPCResponse, error) {
		require.Equal(t, "block", method)
		require.Equal(t, map[string]any{"finality": "final"}, params)
		return okResult(blockResult(1042, "h1042", "h1041"))
	}}
	c := newTestClient(t, Config{RequestDelay: time.Millisecond}, ft)

	h, err := c.LatestHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1042), h)
}

func TestRequestPacing(t *testing.T) {
	t.Parallel()
	const delay = 40 * time.Millisecond
	ft := &fakeTransport{handle: func(string, any) (*jsonrpc.RPCResponse, error) {
		return okResult(blockResult(1, "h1", "h0"))
	}}
	c := newTestClient(t, Config{RequestDelay: delay}, ft)

	for i := 0; i < 4; i++ {
		_, err := c.LatestHeight(context.Background())
		require.NoError(t, err)
	}

	calls := ft.recorded()
	require.Len(t, calls, 4)
	for i := 1; i < len(calls); i++ {
		gap := calls[i].at.Sub(calls[i-1].at)
		assert.GreaterOrEqual(t, gap, delay-5*time.Millisecond,
			"calls %d and %d issued %v apart", i-1, i, gap)
	}
}

func TestBlockRecordsUnresolved(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{handle: func(method string, params any) (*jsonrpc.RPCResponse, error) {
		p := params.(map[string]any)
		if p["block_id"] == uint64(7) {
			return nil, errors.New("node has garbage collected the block")
		}
		h := p["block_id"].(uint64)
		return okResult(blockResult(h, "hash", "prev"))
	}}
	c := newTestClient(t, Config{RequestDelay: time.Millisecond}, ft)

	_, err := c.Block(context.Background(), 7)
	var unavailable *BlockUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, uint64(7), unavailable.Height)

	b, err := c.Block(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), b.Height)
	assert.Equal(t, []string{"chunk-a"}, b.ChunkIDs)

	assert.Equal(t, map[uint64]struct{}{7: {}}, c.UnresolvedBlocks())
}

func TestBlockCancelledContextNotRecorded(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{handle: func(string, any) (*jsonrpc.RPCResponse, error) {
		return nil, errors.New("must not be reached")
	}}
	c := newTestClient(t, Config{RequestDelay: time.Millisecond}, ft)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Block(ctx, 7)
	require.Error(t, err)
	// A shutdown-interrupted fetch must not mark the height unresolved.
	assert.Empty(t, c.UnresolvedBlocks())
}

func TestViewCall(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{handle: func(method string, params any) (*jsonrpc.RPCResponse, error) {
		require.Equal(t, "query", method)
		p := params.(map[string]any)
		require.Equal(t, "call_function", p["request_type"])
		require.Equal(t, "aurora", p["account_id"])
		return okResult(map[string]any{"result": []int{104, 105}, "logs": []string{}})
	}}
	c := newTestClient(t, Config{RequestDelay: time.Millisecond}, ft)

	out, err := c.ViewCall(context.Background(), "aurora", "check_migration_correctness", []byte{1})
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), out)
}

func TestCommitTransaction(t *testing.T) {
	t.Parallel()
	signer, _ := testSigner(t)
	var anchor [32]byte
	anchor[0] = 0x11

	ft := &fakeTransport{}
	ft.handle = func(method string, params any) (*jsonrpc.RPCResponse, error) {
		switch method {
		case "query":
			return okResult(map[string]any{
				"nonce":      uint64(9),
				"block_hash": base58.Encode(anchor[:]),
			})
		case "broadcast_tx_commit":
			return okResult(map[string]any{
				"status":      map[string]any{"SuccessValue": ""},
				"transaction": map[string]any{"hash": "txhash"},
			})
		default:
			return nil, errors.New("unexpected method " + method)
		}
	}
	c := newTestClient(t, Config{RequestDelay: time.Millisecond}, ft, WithSigner(signer))

	require.NoError(t, c.CommitTransaction(context.Background(), "aurora", "migrate", []byte{0xaa}))

	// The broadcast carried the signed transaction we expect.
	var broadcast recordedCall
	for _, call := range ft.recorded() {
		if call.method == "broadcast_tx_commit" {
			broadcast = call
		}
	}
	require.NotNil(t, broadcast.params)
	encoded := broadcast.params.([]string)
	require.Len(t, encoded, 1)
	raw, err := base64.StdEncoding.DecodeString(encoded[0])
	require.NoError(t, err)

	var signed wireSignedTransaction
	require.NoError(t, borsh.Deserialize(&signed, raw))
	assert.Equal(t, "aurora", signed.Transaction.ReceiverID)
	assert.Equal(t, uint64(10), signed.Transaction.Nonce)
	assert.Equal(t, anchor, [32]byte(signed.Transaction.BlockHash))
	require.Len(t, signed.Transaction.Actions, 1)
	assert.Equal(t, "migrate", signed.Transaction.Actions[0].FunctionCall.MethodName)
}

func TestCommitTransactionRetriesExhausted(t *testing.T) {
	t.Parallel()
	signer, _ := testSigner(t)
	var anchor [32]byte

	ft := &fakeTransport{}
	ft.handle = func(method string, params any) (*jsonrpc.RPCResponse, error) {
		switch method {
		case "query":
			return okResult(map[string]any{
				"nonce":      uint64(1),
				"block_hash": base58.Encode(anchor[:]),
			})
		case "broadcast_tx_commit":
			return nil, errors.New("node timeout")
		default:
			return nil, errors.New("unexpected method " + method)
		}
	}
	c := newTestClient(t, Config{
		RequestDelay:  time.Millisecond,
		CommitRetries: 3,
		CommitBackoff: time.Millisecond,
	}, ft, WithSigner(signer))

	err := c.CommitTransaction(context.Background(), "aurora", "migrate", nil)
	var commitErr *CommitError
	require.ErrorAs(t, err, &commitErr)
	assert.Equal(t, "migrate", commitErr.Method)
	assert.Equal(t, uint64(3), commitErr.Attempts)
	assert.Equal(t, 3, ft.countOf("broadcast_tx_commit"))
}

func TestCommitTransactionRequiresSigner(t *testing.T) {
	t.Parallel()
	ft := &fakeTransport{handle: func(string, any) (*jsonrpc.RPCResponse, error) {
		return nil, errors.New("must not be called")
	}}
	c := newTestClient(t, Config{RequestDelay: time.Millisecond}, ft)
	require.Error(t, c.CommitTransaction(context.Background(), "aurora", "migrate", nil))
	assert.Empty(t, ft.recorded())
}
