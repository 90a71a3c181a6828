package migration

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/near/borsh-go"

	"github.com/aurora-is-near/engine-migration-tool/pkg/types"
)

// DefaultBatchLimit caps records per batch so a batch's serialized payload
// stays under the chain's per-call size and gas ceiling.
const DefaultBatchLimit = 750

// Batch kinds, in submission order.
const (
	KindProofs   = "proofs"
	KindAccounts = "accounts"
	KindTotals   = "totals"
)

// Payload is the argument record accepted by both the state-mutating migrate
// entry point and the read-only correctness check.
type Payload struct {
	Accounts            map[string]big.Int
	TotalSupply         *big.Int
	AccountStorageUsage *uint64
	AccountsCounter     *uint64
	Proofs              []string
}

// Batch is one bounded chunk of the ledger with its serialized payload and
// the cumulative record count after it is applied.
type Batch struct {
	Kind     string
	Count    int
	Progress int
	Raw      []byte
}

// BuildBatches splits the ledger into consecutive chunks of at most limit
// records: all proof batches, then all account batches, then one totals
// batch. Iteration orders are sorted, so the same snapshot always yields
// byte-identical batches.
func BuildBatches(state *types.StateData, limit int) ([]Batch, error) {
	if limit <= 0 {
		return nil, errors.New("invalid batch limit: must be greater than 0")
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}

	var (
		batches  []Batch
		progress int
	)

	proofs := append([]string(nil), state.Proofs...)
	sort.Strings(proofs)
	for start := 0; start < len(proofs); start += limit {
		end := min(start+limit, len(proofs))
		chunk := proofs[start:end]
		raw, err := borsh.Serialize(Payload{Proofs: chunk})
		if err != nil {
			return nil, fmt.Errorf("serialize proof batch: %w", err)
		}
		progress += len(chunk)
		batches = append(batches, Batch{
			Kind:     KindProofs,
			Count:    len(chunk),
			Progress: progress,
			Raw:      raw,
		})
	}

	ids := state.SortedAccounts()
	for start := 0; start < len(ids); start += limit {
		end := min(start+limit, len(ids))
		chunk := make(map[string]big.Int, end-start)
		for _, id := range ids[start:end] {
			chunk[id] = state.Accounts[id]
		}
		raw, err := borsh.Serialize(Payload{Accounts: chunk})
		if err != nil {
			return nil, fmt.Errorf("serialize account batch: %w", err)
		}
		progress += len(chunk)
		batches = append(batches, Batch{
			Kind:     KindAccounts,
			Count:    len(chunk),
			Progress: progress,
			Raw:      raw,
		})
	}

	// Aggregate totals go last, after every per-record batch succeeded.
	supply := new(big.Int).Set(&state.ContractData.TotalEthSupplyOnNear)
	usage := state.ContractData.AccountStorageUsage
	counter := state.AccountsCounter
	raw, err := borsh.Serialize(Payload{
		TotalSupply:         supply,
		AccountStorageUsage: &usage,
		AccountsCounter:     &counter,
	})
	if err != nil {
		return nil, fmt.Errorf("serialize totals batch: %w", err)
	}
	progress++
	batches = append(batches, Batch{
		Kind:     KindTotals,
		Count:    1,
		Progress: progress,
		Raw:      raw,
	})

	return batches, nil
}
