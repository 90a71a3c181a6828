package migration

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/near/borsh-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aurora-is-near/engine-migration-tool/pkg/types"
)

// fakeContract mimics the target contract: migrate mutates its ledger, the
// correctness check compares a payload against it and answers with the typed
// mismatch classes.
type fakeContract struct {
	accounts     map[string]big.Int
	proofs       map[string]bool
	totalSupply  *big.Int
	storageUsage uint64

	commits     int
	failCommitN int // fail the n-th commit (1-based), 0 disables
}

func newFakeContract() *fakeContract {
	return &fakeContract{
		accounts: make(map[string]big.Int),
		proofs:   make(map[string]bool),
	}
}

func (f *fakeContract) CommitTransaction(_ context.Context, _ types.AccountID, method string, args []byte) error {
	f.commits++
	if f.failCommitN > 0 && f.commits == f.failCommitN {
		return errors.New("node timeout")
	}
	if method != MethodMigrate {
		return errors.New("unexpected method " + method)
	}
	var p Payload
	if err := borsh.Deserialize(&p, args); err != nil {
		return err
	}
	for id, amount := range p.Accounts {
		f.accounts[id] = amount
	}
	for _, proof := range p.Proofs {
		f.proofs[proof] = true
	}
	if p.TotalSupply != nil {
		f.totalSupply = new(big.Int).Set(p.TotalSupply)
	}
	if p.AccountStorageUsage != nil {
		f.storageUsage = *p.AccountStorageUsage
	}
	return nil
}

func (f *fakeContract) ViewCall(_ context.Context, _ types.AccountID, method string, args []byte) ([]byte, error) {
	if method != MethodCheck {
		return nil, errors.New("unexpected method " + method)
	}
	var p Payload
	if err := borsh.Deserialize(&p, args); err != nil {
		return nil, err
	}

	res := CheckResult{Enum: resultSuccess}
	var missingAccounts []types.AccountID
	wrongAmounts := make(map[string]big.Int)
	for id, want := range p.Accounts {
		got, ok := f.accounts[id]
		if !ok {
			missingAccounts = append(missingAccounts, types.AccountID(id))
			continue
		}
		if got.Cmp(&want) != 0 {
			wrongAmounts[id] = got
		}
	}
	var missingProofs []string
	for _, proof := range p.Proofs {
		if !f.proofs[proof] {
			missingProofs = append(missingProofs, proof)
		}
	}

	switch {
	case len(missingAccounts) > 0:
		res = CheckResult{Enum: resultAccountNotExist, AccountNotExist: missingAccounts}
	case len(wrongAmounts) > 0:
		res = CheckResult{Enum: resultAccountAmount, AccountAmount: wrongAmounts}
	case len(missingProofs) > 0:
		res = CheckResult{Enum: resultProof, Proof: missingProofs}
	case p.TotalSupply != nil && (f.totalSupply == nil || f.totalSupply.Cmp(p.TotalSupply) != 0):
		got := big.NewInt(0)
		if f.totalSupply != nil {
			got = f.totalSupply
		}
		res = CheckResult{Enum: resultTotalSupply, TotalSupply: *got}
	case p.AccountStorageUsage != nil && f.storageUsage != *p.AccountStorageUsage:
		res = CheckResult{Enum: resultStorageUsage, StorageUsage: f.storageUsage}
	}
	return borsh.Serialize(res)
}

func threeAccountLedger() *types.StateData {
	return &types.StateData{
		ContractData: types.FungibleToken{
			TotalEthSupplyOnNear: *big.NewInt(60),
			AccountStorageUsage:  10,
		},
		Accounts: map[string]big.Int{
			"alice.test": *big.NewInt(10),
			"bob.test":   *big.NewInt(20),
			"carol.test": *big.NewInt(30),
		},
		AccountsCounter: 3,
	}
}

func newTestExecutor(t *testing.T, chain Chain, cfg Config) *Executor {
	t.Helper()
	if cfg.Contract == "" {
		cfg.Contract = "aurora"
	}
	e, err := New(zap.NewNop().Sugar(), chain, cfg)
	require.NoError(t, err)
	return e
}

func TestExecutorRun(t *testing.T) {
	t.Parallel()
	contract := newFakeContract()
	e := newTestExecutor(t, contract, Config{BatchLimit: 2})

	report, err := e.Run(context.Background(), threeAccountLedger())
	require.NoError(t, err)

	// Two account batches plus the totals batch, all verified.
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Succeeded)
	assert.True(t, report.Clean())
	assert.Equal(t, 3, contract.commits)

	require.Len(t, contract.accounts, 3)
	alice := contract.accounts["alice.test"]
	assert.Equal(t, "10", alice.String())
	require.NotNil(t, contract.totalSupply)
	assert.Equal(t, "60", contract.totalSupply.String())
	assert.Equal(t, uint64(10), contract.storageUsage)
}

func TestExecutorRunWithProofs(t *testing.T) {
	t.Parallel()
	contract := newFakeContract()
	state := threeAccountLedger()
	state.Proofs = []string{"proof-b", "proof-a"}

	e := newTestExecutor(t, contract, Config{BatchLimit: 2})
	report, err := e.Run(context.Background(), state)
	require.NoError(t, err)

	assert.True(t, report.Clean())
	assert.True(t, contract.proofs["proof-a"])
	assert.True(t, contract.proofs["proof-b"])
}

func TestExecutorValidateOnlyReportsMissingAccount(t *testing.T) {
	t.Parallel()
	// The contract holds a partial migration: carol.test never made it.
	contract := newFakeContract()
	contract.accounts["alice.test"] = *big.NewInt(10)
	contract.accounts["bob.test"] = *big.NewInt(20)
	contract.totalSupply = big.NewInt(60)
	contract.storageUsage = 10

	e := newTestExecutor(t, contract, Config{BatchLimit: 2, ValidateOnly: true})
	report, err := e.Run(context.Background(), threeAccountLedger())
	require.NoError(t, err)

	// Nothing was committed; the second account batch is flagged.
	assert.Zero(t, contract.commits)
	assert.False(t, report.Clean())
	assert.Equal(t, 2, report.Succeeded)
	require.Len(t, report.Failures, 1)
	f := report.Failures[0]
	assert.Equal(t, 2, f.Batch)
	assert.Equal(t, KindAccounts, f.Kind)
	assert.Equal(t, "account_not_exist", f.Outcome)
	assert.Contains(t, f.Detail, "carol.test")
}

func TestExecutorValidateOnlyReportsWrongBalance(t *testing.T) {
	t.Parallel()
	contract := newFakeContract()
	contract.accounts["alice.test"] = *big.NewInt(999)
	contract.accounts["bob.test"] = *big.NewInt(20)
	contract.accounts["carol.test"] = *big.NewInt(30)
	contract.totalSupply = big.NewInt(60)
	contract.storageUsage = 10

	e := newTestExecutor(t, contract, Config{BatchLimit: 2, ValidateOnly: true})
	report, err := e.Run(context.Background(), threeAccountLedger())
	require.NoError(t, err)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "account_amount", report.Failures[0].Outcome)
	assert.Contains(t, report.Failures[0].Detail, "alice.test=999")
}

func TestExecutorAbortsOnCommitFailure(t *testing.T) {
	t.Parallel()
	contract := newFakeContract()
	contract.failCommitN = 2

	e := newTestExecutor(t, contract, Config{BatchLimit: 2})
	report, err := e.Run(context.Background(), threeAccountLedger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit batch 2/3")
	assert.Nil(t, report)
}

func TestExecutorRejectsInvalidState(t *testing.T) {
	t.Parallel()
	state := threeAccountLedger()
	state.AccountsCounter = 99

	e := newTestExecutor(t, newFakeContract(), Config{})
	_, err := e.Run(context.Background(), state)
	require.Error(t, err)
}

func TestDecodeCheckResult(t *testing.T) {
	t.Parallel()

	raw, err := borsh.Serialize(CheckResult{Enum: resultSuccess})
	require.NoError(t, err)
	res, err := DecodeCheckResult(raw)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "success", res.Name())

	raw, err = borsh.Serialize(CheckResult{
		Enum:            resultAccountNotExist,
		AccountNotExist: []types.AccountID{"ghost.test"},
	})
	require.NoError(t, err)
	res, err = DecodeCheckResult(raw)
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, "account_not_exist", res.Name())
	assert.Contains(t, res.Detail(), "ghost.test")

	raw, err = borsh.Serialize(CheckResult{
		Enum:          resultAccountAmount,
		AccountAmount: map[string]big.Int{"alice.test": *big.NewInt(7)},
	})
	require.NoError(t, err)
	res, err = DecodeCheckResult(raw)
	require.NoError(t, err)
	assert.Equal(t, "account_amount", res.Name())
	assert.Contains(t, res.Detail(), "alice.test=7")

	_, err = DecodeCheckResult(nil)
	require.Error(t, err)
}
