package rpc

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"

	"github.com/aurora-is-near/engine-migration-tool/pkg/types"
)

const ed25519Prefix = "ed25519:"

// Gas attached to every committed transaction (300 Tgas).
const gasForCommit uint64 = 300_000_000_000_000

// PublicKey is the chain's wire representation of an ed25519 public key.
type PublicKey struct {
	KeyType uint8
	Data    [32]uint8
}

// Signer holds the credential used to sign migration transactions.
type Signer struct {
	AccountID types.AccountID
	PublicKey PublicKey

	secret ed25519.PrivateKey
}

// NewSigner parses an "ed25519:<base58>" secret key. Both the 64-byte
// expanded form and the 32-byte seed form are accepted.
func NewSigner(accountID types.AccountID, secretKey string) (*Signer, error) {
	if !strings.HasPrefix(secretKey, ed25519Prefix) {
		return nil, fmt.Errorf("unsupported key type: want %q prefix", ed25519Prefix)
	}
	raw, err := base58.Decode(strings.TrimPrefix(secretKey, ed25519Prefix))
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}

	var secret ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		secret = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		secret = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("invalid secret key length: %d", len(raw))
	}

	s := &Signer{
		AccountID: accountID,
		PublicKey: PublicKey{KeyType: 0},
		secret:    secret,
	}
	copy(s.PublicKey.Data[:], secret.Public().(ed25519.PublicKey))
	return s, nil
}

// PublicKeyString returns the key in the node's text form for access key
// queries.
func (s *Signer) PublicKeyString() string {
	return ed25519Prefix + base58.Encode(s.PublicKey.Data[:])
}

// Borsh wire format of a signed transaction. Action is a closed enum; only
// the function-call variant is ever emitted, the earlier variants exist to
// pin its discriminant.
type txAction struct {
	Enum           borsh.Enum `borsh_enum:"true"`
	CreateAccount  struct{}
	DeployContract struct{ Code []byte }
	FunctionCall   functionCallAction
}

type functionCallAction struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    big.Int
}

type wireTransaction struct {
	SignerID   string
	PublicKey  PublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  [32]uint8
	Actions    []txAction
}

type wireSignature struct {
	KeyType uint8
	Data    [64]uint8
}

type wireSignedTransaction struct {
	Transaction wireTransaction
	Signature   wireSignature
}

// SignFunctionCall builds, signs and serializes a single function-call
// transaction. blockHash anchors the transaction to a recent block, nonce
// must exceed the access key's current nonce.
func (s *Signer) SignFunctionCall(
	receiver types.AccountID,
	nonce uint64,
	blockHash [32]byte,
	method string,
	args []byte,
) ([]byte, error) {
	tx := wireTransaction{
		SignerID:   string(s.AccountID),
		PublicKey:  s.PublicKey,
		Nonce:      nonce,
		ReceiverID: string(receiver),
		BlockHash:  blockHash,
		Actions: []txAction{{
			Enum: 2, // function call
			FunctionCall: functionCallAction{
				MethodName: method,
				Args:       args,
				Gas:        gasForCommit,
			},
		}},
	}

	raw, err := borsh.Serialize(tx)
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}
	digest := sha256.Sum256(raw)

	signed := wireSignedTransaction{
		Transaction: tx,
		Signature:   wireSignature{KeyType: 0},
	}
	copy(signed.Signature.Data[:], ed25519.Sign(s.secret, digest[:]))

	out, err := borsh.Serialize(signed)
	if err != nil {
		return nil, fmt.Errorf("serialize signed transaction: %w", err)
	}
	return out, nil
}

// DecodeHash parses a base58 block or transaction hash.
func DecodeHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := base58.Decode(s)
	if err != nil {
		return out, fmt.Errorf("decode hash %q: %w", s, err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("invalid hash length %d for %q", len(raw), s)
	}
	copy(out[:], raw)
	return out, nil
}
