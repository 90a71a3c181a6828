package rpc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aurora-is-near/engine-migration-tool/pkg/types"
)

// Block is the subset of a block the scan loop needs: identity, the link to
// its parent, and the chunk ids to fetch.
type Block struct {
	Height   uint64
	Hash     string
	PrevHash string
	ChunkIDs []string
}

// Chunk carries the transactions and receipts of one shard-scoped chunk.
type Chunk struct {
	Transactions []Transaction `json:"transactions"`
	Receipts     []Receipt     `json:"receipts"`
}

// Transaction is a directly submitted transaction inside a chunk.
type Transaction struct {
	Hash       string          `json:"hash"`
	SignerID   types.AccountID `json:"signer_id"`
	ReceiverID types.AccountID `json:"receiver_id"`
	Actions    []Action        `json:"actions"`
}

// Receipt is an asynchronously routed unit of contract execution.
type Receipt struct {
	PredecessorID types.AccountID `json:"predecessor_id"`
	ReceiverID    types.AccountID `json:"receiver_id"`
	Receipt       receiptBody     `json:"receipt"`
}

type receiptBody struct {
	Action *ActionReceipt `json:"Action"`
}

// ActionReceipt is the action-carrying receipt variant; data receipts have no
// contract calls and are ignored.
type ActionReceipt struct {
	SignerID types.AccountID `json:"signer_id"`
	Actions  []Action        `json:"actions"`
}

// Actions returns the receipt's actions, or nil for non-action receipts.
func (r *Receipt) Actions() []Action {
	if r.Receipt.Action == nil {
		return nil
	}
	return r.Receipt.Action.Actions
}

// Signer returns the receipt's signer, or "" for non-action receipts.
func (r *Receipt) Signer() types.AccountID {
	if r.Receipt.Action == nil {
		return ""
	}
	return r.Receipt.Action.SignerID
}

// Action is one action of a transaction or receipt. Only function calls carry
// data we care about; every other variant leaves FunctionCall nil.
type Action struct {
	FunctionCall *FunctionCall `json:"FunctionCall"`
}

// UnmarshalJSON tolerates unit variants that the node encodes as bare strings
// (e.g. "CreateAccount").
func (a *Action) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return nil
	}
	type plain Action
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Action(p)
	return nil
}

// FunctionCall is a contract method invocation with base64-encoded arguments.
type FunctionCall struct {
	MethodName string `json:"method_name"`
	Args       string `json:"args"`
}

// DecodeArgs returns the raw argument bytes.
func (fc *FunctionCall) DecodeArgs() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(fc.Args)
	if err != nil {
		return nil, fmt.Errorf("decode args of %s: %w", fc.MethodName, err)
	}
	return raw, nil
}

// Wire views of the node's JSON-RPC responses.

type blockView struct {
	Header struct {
		Height   uint64 `json:"height"`
		Hash     string `json:"hash"`
		PrevHash string `json:"prev_hash"`
	} `json:"header"`
	Chunks []struct {
		ChunkHash string `json:"chunk_hash"`
		ShardID   uint64 `json:"shard_id"`
	} `json:"chunks"`
}

func (v *blockView) toBlock() Block {
	b := Block{
		Height:   v.Header.Height,
		Hash:     v.Header.Hash,
		PrevHash: v.Header.PrevHash,
		ChunkIDs: make([]string, 0, len(v.Chunks)),
	}
	for _, c := range v.Chunks {
		b.ChunkIDs = append(b.ChunkIDs, c.ChunkHash)
	}
	return b
}

type accessKeyView struct {
	Nonce     uint64 `json:"nonce"`
	BlockHash string `json:"block_hash"`
}

// callFunctionView is the call_function query result; the node encodes the
// return payload as a JSON array of byte values.
type callFunctionView struct {
	Result []int    `json:"result"`
	Logs   []string `json:"logs"`
}

func (v *callFunctionView) bytes() []byte {
	out := make([]byte, len(v.Result))
	for i, b := range v.Result {
		out[i] = byte(b)
	}
	return out
}

// txStatusView is the subset of a transaction status response used to decide
// whether an execution reached a successful final state.
type txStatusView struct {
	Status map[string]json.RawMessage `json:"status"`
}

func (v *txStatusView) succeeded() bool {
	_, ok := v.Status["SuccessValue"]
	return ok
}

func (v *txStatusView) failed() (string, bool) {
	raw, ok := v.Status["Failure"]
	if !ok {
		return "", false
	}
	return string(raw), true
}
