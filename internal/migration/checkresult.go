package migration

import (
	"fmt"
	"math/big"

	"github.com/near/borsh-go"

	"github.com/aurora-is-near/engine-migration-tool/pkg/types"
)

// CheckResult is the typed outcome of the contract's correctness check: a
// closed tagged union of success and the specific mismatch classes.
type CheckResult struct {
	Enum            borsh.Enum `borsh_enum:"true"`
	Success         struct{}
	AccountNotExist []types.AccountID
	AccountAmount   map[string]big.Int
	Proof           []string
	TotalSupply     big.Int
	StorageUsage    uint64
}

const (
	resultSuccess borsh.Enum = iota
	resultAccountNotExist
	resultAccountAmount
	resultProof
	resultTotalSupply
	resultStorageUsage
)

// DecodeCheckResult parses the raw view-call payload.
func DecodeCheckResult(raw []byte) (*CheckResult, error) {
	var r CheckResult
	if err := borsh.Deserialize(&r, raw); err != nil {
		return nil, fmt.Errorf("decode check result: %w", err)
	}
	if r.Enum > resultStorageUsage {
		return nil, fmt.Errorf("unknown check result variant: %d", r.Enum)
	}
	return &r, nil
}

// OK reports whether the batch verified cleanly.
func (r *CheckResult) OK() bool { return r.Enum == resultSuccess }

// Name returns the variant name used for logs and metrics labels.
func (r *CheckResult) Name() string {
	switch r.Enum {
	case resultSuccess:
		return "success"
	case resultAccountNotExist:
		return "account_not_exist"
	case resultAccountAmount:
		return "account_amount"
	case resultProof:
		return "proof"
	case resultTotalSupply:
		return "total_supply"
	case resultStorageUsage:
		return "storage_usage"
	default:
		return "unknown"
	}
}

// Detail renders the mismatched items and their count.
func (r *CheckResult) Detail() string {
	switch r.Enum {
	case resultSuccess:
		return "ok"
	case resultAccountNotExist:
		return fmt.Sprintf("%d missing accounts: %v", len(r.AccountNotExist), r.AccountNotExist)
	case resultAccountAmount:
		items := make([]string, 0, len(r.AccountAmount))
		for id := range r.AccountAmount {
			amount := r.AccountAmount[id]
			items = append(items, fmt.Sprintf("%s=%s", id, amount.String()))
		}
		return fmt.Sprintf("%d mismatched balances: %v", len(r.AccountAmount), items)
	case resultProof:
		return fmt.Sprintf("%d missing proofs: %v", len(r.Proof), r.Proof)
	case resultTotalSupply:
		return fmt.Sprintf("total supply mismatch: %s", r.TotalSupply.String())
	case resultStorageUsage:
		return fmt.Sprintf("storage usage mismatch: %d", r.StorageUsage)
	default:
		return "unknown variant"
	}
}
