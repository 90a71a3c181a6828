package rpc

import (
	"encoding/json"
	"math/big"

	"github.com/near/borsh-go"
	"go.uber.org/zap"

	"github.com/aurora-is-near/engine-migration-tool/pkg/types"
)

// Recognized contract methods. Anything else is ignored without error.
const (
	MethodFtTransfer     = "ft_transfer"
	MethodFtTransferCall = "ft_transfer_call"
	MethodWithdraw       = "withdraw"
	MethodFinishDeposit  = "finish_deposit"
	MethodDeposit        = "deposit"
)

// CallResult is the outcome of parsing one contract call.
type CallResult struct {
	// Accounts referenced by the call arguments (not including the signer).
	Accounts []types.AccountID
	// Proof is the deposit proof consumed by the call, if any.
	Proof *string
	// Recognized reports whether the method belongs to the tracked set.
	// Malformed arguments for a recognized method still set it.
	Recognized bool
}

type ftTransferArgs struct {
	ReceiverID types.AccountID `json:"receiver_id"`
	Amount     json.RawMessage `json:"amount"`
	Memo       *string         `json:"memo"`
}

type ftTransferCallArgs struct {
	ReceiverID types.AccountID `json:"receiver_id"`
	Amount     json.RawMessage `json:"amount"`
	Memo       *string         `json:"memo"`
	Msg        string          `json:"msg"`
}

// finishDepositArgs is the Borsh layout of the deposit-finalization call.
type finishDepositArgs struct {
	NewOwnerID types.AccountID
	Amount     big.Int
	ProofKey   string
	RelayerID  types.AccountID
	Fee        big.Int
	Msg        *[]byte
}

// ParseCall decodes the arguments of one recognized contract call into the
// accounts and proof it touches. Unknown methods yield an empty, unrecognized
// result; a recognized method with undecodable arguments yields an empty
// recognized result and a diagnostic, never an error.
func ParseCall(log *zap.SugaredLogger, method string, args []byte) CallResult {
	switch method {
	case MethodFtTransfer:
		var a ftTransferArgs
		if err := json.Unmarshal(args, &a); err != nil || a.ReceiverID == "" {
			log.Warnw("malformed ft_transfer args", "error", err)
			return CallResult{Recognized: true}
		}
		return CallResult{Accounts: []types.AccountID{a.ReceiverID}, Recognized: true}

	case MethodFtTransferCall:
		var a ftTransferCallArgs
		if err := json.Unmarshal(args, &a); err != nil || a.ReceiverID == "" {
			log.Warnw("malformed ft_transfer_call args", "error", err)
			return CallResult{Recognized: true}
		}
		return CallResult{Accounts: []types.AccountID{a.ReceiverID}, Recognized: true}

	case MethodWithdraw:
		// Withdrawals burn from the signer; the arguments reference an
		// external-chain recipient, not a ledger account.
		return CallResult{Recognized: true}

	case MethodFinishDeposit:
		var a finishDepositArgs
		if err := borsh.Deserialize(&a, args); err != nil {
			log.Warnw("malformed finish_deposit args", "error", err)
			return CallResult{Recognized: true}
		}
		return CallResult{
			Accounts:   []types.AccountID{a.NewOwnerID, a.RelayerID},
			Proof:      &a.ProofKey,
			Recognized: true,
		}

	case MethodDeposit:
		// The deposit proof only becomes consumed at finish_deposit; the raw
		// proof blob here carries no ledger accounts.
		return CallResult{Recognized: true}

	default:
		return CallResult{}
	}
}
