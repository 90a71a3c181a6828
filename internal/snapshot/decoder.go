// Package snapshot decodes a full key-space export of the tracked contract's
// storage into a typed ledger. Every decode error is fatal to the call: the
// decoder never emits a partial or internally inconsistent result.
package snapshot

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/near/borsh-go"
	"go.uber.org/zap"

	"github.com/aurora-is-near/engine-migration-tool/pkg/types"
)

// Storage key layout: a format-version byte, the connector subsystem byte,
// and a field discriminator, optionally followed by a record suffix.
const (
	versionByte   = 0x07
	connectorByte = 0x06

	fieldFungibleToken   = 0x01
	fieldUsedEvent       = 0x02
	fieldAccountsCounter = 0x04
)

func fieldKey(field byte) []byte {
	return []byte{versionByte, connectorByte, field}
}

// Export is the input document: a block height and the full key/value dump at
// that height, both fields transport-encoded.
type Export struct {
	Result struct {
		BlockHeight uint64 `json:"block_height"`
		Values      []struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"values"`
	} `json:"result"`
}

// ReadExport loads a snapshot export document from disk.
func ReadExport(path string) (*Export, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot export %s: %w", path, err)
	}
	var e Export
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode snapshot export %s: %w", path, err)
	}
	return &e, nil
}

// keyKind classifies one storage key.
type keyKind int

const (
	kindUnrecognized keyKind = iota
	kindAccountBalance
	kindContractTotals
	kindUsedProof
	kindAccountsCounter
)

// classify matches a raw key against the known structural prefixes and
// returns the record suffix where one applies. Unrecognized keys are ignored,
// not an error: the export covers the whole contract, not just the ledger.
func classify(key []byte) (keyKind, []byte) {
	accountPrefix := fieldKey(fieldFungibleToken)
	proofPrefix := fieldKey(fieldUsedEvent)

	switch {
	case len(key) > len(proofPrefix) && bytes.HasPrefix(key, proofPrefix):
		return kindUsedProof, key[len(proofPrefix):]
	case len(key) > len(accountPrefix) && bytes.HasPrefix(key, accountPrefix):
		return kindAccountBalance, key[len(accountPrefix):]
	case bytes.Equal(key, fieldKey(fieldAccountsCounter)):
		return kindAccountsCounter, nil
	case bytes.Equal(key, accountPrefix):
		return kindContractTotals, nil
	default:
		return kindUnrecognized, nil
	}
}

// Decoder turns a storage export into a StateData record.
type Decoder struct {
	log *zap.SugaredLogger
}

func NewDecoder(log *zap.SugaredLogger) *Decoder {
	return &Decoder{log: log}
}

// Decode classifies and decodes every exported pair. The result is checked
// for internal consistency before it is returned; an accounts/counter
// mismatch fails the whole decode.
func (d *Decoder) Decode(e *Export) (*types.StateData, error) {
	state := &types.StateData{
		Accounts: make(map[string]big.Int),
	}

	for i, pair := range e.Result.Values {
		key, err := base64.StdEncoding.DecodeString(pair.Key)
		if err != nil {
			return nil, fmt.Errorf("entry %d: decode key: %w", i, err)
		}

		kind, suffix := classify(key)
		if kind == kindUnrecognized {
			continue
		}

		value, err := base64.StdEncoding.DecodeString(pair.Value)
		if err != nil {
			return nil, fmt.Errorf("entry %d: decode value: %w", i, err)
		}

		switch kind {
		case kindAccountBalance:
			account, err := types.ParseAccountID(string(suffix))
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			balance, err := readBalance(value)
			if err != nil {
				return nil, fmt.Errorf("entry %d: balance of %s: %w", i, account, err)
			}
			state.Accounts[string(account)] = *balance

		case kindUsedProof:
			state.Proofs = append(state.Proofs, string(suffix))

		case kindAccountsCounter:
			counter, err := readUint64(value)
			if err != nil {
				return nil, fmt.Errorf("entry %d: accounts counter: %w", i, err)
			}
			state.AccountsCounter = counter

		case kindContractTotals:
			var totals types.FungibleToken
			if err := borsh.Deserialize(&totals, value); err != nil {
				return nil, fmt.Errorf("entry %d: contract totals: %w", i, err)
			}
			state.ContractData = totals
		}
	}

	if err := state.Validate(); err != nil {
		return nil, err
	}

	d.log.Infow("snapshot decoded",
		"height", e.Result.BlockHeight,
		"entries", len(e.Result.Values),
		"accounts", len(state.Accounts),
		"proofs", len(state.Proofs),
	)
	return state, nil
}

// readBalance decodes a fixed-width 128-bit little-endian amount.
func readBalance(value []byte) (*big.Int, error) {
	if len(value) != 16 {
		return nil, fmt.Errorf("invalid balance length: %d", len(value))
	}
	be := make([]byte, 16)
	for i, b := range value {
		be[15-i] = b
	}
	return new(big.Int).SetBytes(be), nil
}

// readUint64 decodes an 8-byte little-endian counter; any other length is a
// format error.
func readUint64(value []byte) (uint64, error) {
	if len(value) != 8 {
		return 0, fmt.Errorf("invalid u64 length: %d", len(value))
	}
	return binary.LittleEndian.Uint64(value), nil
}
