package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"go.uber.org/zap"

	"github.com/aurora-is-near/engine-migration-tool/internal/indexer"
	"github.com/aurora-is-near/engine-migration-tool/pkg/types"
)

// Viewer is the read-only contract access used to enrich indexed accounts
// with live balances.
type Viewer interface {
	ViewCall(ctx context.Context, contract types.AccountID, method string, args []byte) ([]byte, error)
}

// Prepare turns an indexed checkpoint into a migration-ready ledger by
// querying the live balance of every discovered account and the contract's
// current total supply. Accounts are queried in sorted order so progress is
// reproducible.
func Prepare(
	ctx context.Context,
	log *zap.SugaredLogger,
	viewer Viewer,
	contract types.AccountID,
	cp *indexer.Checkpoint,
) (*types.StateData, error) {
	state := &types.StateData{
		Accounts: make(map[string]big.Int, len(cp.Data.Accounts)),
	}

	ids := make([]string, 0, len(cp.Data.Accounts))
	for id := range cp.Data.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for i, id := range ids {
		args, err := json.Marshal(map[string]string{"account_id": id})
		if err != nil {
			return nil, fmt.Errorf("marshal balance args for %s: %w", id, err)
		}
		raw, err := viewer.ViewCall(ctx, contract, "ft_balance_of", args)
		if err != nil {
			return nil, fmt.Errorf("query balance of %s: %w", id, err)
		}
		balance, err := parseAmount(raw)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", id, err)
		}
		state.Accounts[id] = *balance

		if (i+1)%100 == 0 {
			log.Infow("balances fetched", "done", i+1, "of", len(ids))
		}
	}

	raw, err := viewer.ViewCall(ctx, contract, "ft_total_supply", []byte("{}"))
	if err != nil {
		return nil, fmt.Errorf("query total supply: %w", err)
	}
	supply, err := parseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("total supply: %w", err)
	}
	state.ContractData.TotalEthSupplyOnNear = *supply

	for p := range cp.Data.Proofs {
		state.Proofs = append(state.Proofs, p)
	}
	sort.Strings(state.Proofs)
	state.AccountsCounter = uint64(len(state.Accounts))
	return state, nil
}

// parseAmount decodes the contract's JSON-quoted decimal amount, e.g. "\"10\"".
func parseAmount(raw []byte) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode amount %q: %w", raw, err)
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}
