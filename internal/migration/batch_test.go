package migration

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/near/borsh-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-is-near/engine-migration-tool/pkg/types"
)

func ledgerFixture(accounts, proofs int) *types.StateData {
	state := &types.StateData{
		ContractData: types.FungibleToken{
			TotalEthSupplyOnNear: *big.NewInt(1000),
			AccountStorageUsage:  100,
		},
		Accounts: make(map[string]big.Int, accounts),
	}
	for i := 0; i < accounts; i++ {
		id := fmt.Sprintf("user-%03d.test", i)
		state.Accounts[id] = *big.NewInt(int64(i + 1))
	}
	for i := 0; i < proofs; i++ {
		state.Proofs = append(state.Proofs, fmt.Sprintf("proof-%03d", i))
	}
	state.AccountsCounter = uint64(accounts)
	return state
}

func TestBuildBatchesCoverage(t *testing.T) {
	t.Parallel()
	state := ledgerFixture(5, 3)

	batches, err := BuildBatches(state, 2)
	require.NoError(t, err)

	// ceil(3/2) proof batches, ceil(5/2) account batches, one totals batch.
	require.Len(t, batches, 2+3+1)
	assert.Equal(t, KindProofs, batches[0].Kind)
	assert.Equal(t, KindAccounts, batches[2].Kind)
	assert.Equal(t, KindTotals, batches[5].Kind)

	gotAccounts := make(map[string]big.Int)
	var gotProofs []string
	for _, b := range batches {
		assert.LessOrEqual(t, b.Count, 2)

		var p Payload
		require.NoError(t, borsh.Deserialize(&p, b.Raw))
		for id, amount := range p.Accounts {
			gotAccounts[id] = amount
		}
		gotProofs = append(gotProofs, p.Proofs...)
		if b.Kind == KindTotals {
			require.NotNil(t, p.TotalSupply)
			assert.Equal(t, "1000", p.TotalSupply.String())
			require.NotNil(t, p.AccountsCounter)
			assert.Equal(t, uint64(5), *p.AccountsCounter)
			require.NotNil(t, p.AccountStorageUsage)
			assert.Equal(t, uint64(100), *p.AccountStorageUsage)
		}
	}

	// The union of all batches is exactly the input ledger.
	assert.Equal(t, state.Accounts, gotAccounts)
	assert.ElementsMatch(t, state.Proofs, gotProofs)

	last := batches[len(batches)-1]
	assert.Equal(t, 5+3+1, last.Progress)
}

func TestBuildBatchesDeterministic(t *testing.T) {
	t.Parallel()
	state := ledgerFixture(7, 4)

	first, err := BuildBatches(state, 3)
	require.NoError(t, err)
	second, err := BuildBatches(state, 3)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Raw, second[i].Raw, "batch %d", i)
	}
}

func TestBuildBatchesSingleBatchPerKind(t *testing.T) {
	t.Parallel()
	state := ledgerFixture(3, 2)

	batches, err := BuildBatches(state, DefaultBatchLimit)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, KindProofs, batches[0].Kind)
	assert.Equal(t, KindAccounts, batches[1].Kind)
	assert.Equal(t, KindTotals, batches[2].Kind)
}

func TestBuildBatchesRejectsBadInput(t *testing.T) {
	t.Parallel()
	state := ledgerFixture(3, 0)

	_, err := BuildBatches(state, 0)
	require.Error(t, err)

	state.AccountsCounter = 99
	_, err = BuildBatches(state, 2)
	require.Error(t, err)
}
