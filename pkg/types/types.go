// Package types holds the domain records shared by the indexer, the snapshot
// decoder and the migration executor, together with their Borsh codecs.
package types

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/near/borsh-go"
)

// AccountID is a chain account identifier (e.g. "alice.near", "aurora").
type AccountID string

var accountIDRe = regexp.MustCompile(`^(([a-z\d]+[-_])*[a-z\d]+\.)*([a-z\d]+[-_])*[a-z\d]+$`)

// ParseAccountID validates s against the chain's account naming rules.
func ParseAccountID(s string) (AccountID, error) {
	if len(s) < 2 || len(s) > 64 || !accountIDRe.MatchString(s) {
		return "", fmt.Errorf("invalid account id: %q", s)
	}
	return AccountID(s), nil
}

// Balance is a token amount. The contract stores balances as 128-bit
// little-endian unsigned integers; Borsh maps big.Int to exactly that width.
type Balance = big.Int

// FungibleToken is the contract's aggregate totals record.
type FungibleToken struct {
	TotalEthSupplyOnNear   big.Int
	TotalEthSupplyOnAurora big.Int
	AccountStorageUsage    uint64
}

// StateData is a full decoded ledger: migration input and the payload of a
// migration-ready file. Account keys are validated ids stored as plain
// strings; the Borsh codec cannot populate maps keyed by a named type.
type StateData struct {
	ContractData    FungibleToken
	Accounts        map[string]big.Int
	AccountsCounter uint64
	Proofs          []string
}

// Validate checks the internal consistency of the decoded ledger.
// An accounts/counter mismatch means the decode lost or invented records.
func (s *StateData) Validate() error {
	if uint64(len(s.Accounts)) != s.AccountsCounter {
		return fmt.Errorf(
			"inconsistent state: %d accounts but counter reports %d",
			len(s.Accounts), s.AccountsCounter,
		)
	}
	return nil
}

// SortedAccounts returns the account ids in lexicographic order. Batch
// construction iterates this order so re-runs produce identical payloads.
func (s *StateData) SortedAccounts() []string {
	ids := make([]string, 0, len(s.Accounts))
	for id := range s.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WriteFile serializes the ledger and writes it atomically: the payload goes
// to a temp file in the target directory first, then replaces path by rename.
func (s *StateData) WriteFile(path string) error {
	if err := s.Validate(); err != nil {
		return err
	}
	raw, err := borsh.Serialize(*s)
	if err != nil {
		return fmt.Errorf("serialize state data: %w", err)
	}
	return AtomicWrite(path, raw)
}

// ReadStateData loads and validates a migration-ready file.
func ReadStateData(path string) (*StateData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state data %s: %w", path, err)
	}
	var s StateData
	if err := borsh.Deserialize(&s, raw); err != nil {
		return nil, fmt.Errorf("decode state data %s: %w", path, err)
	}
	if s.Accounts == nil {
		s.Accounts = map[string]big.Int{}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Merge combines another ledger into this one: account and proof sets union,
// with other's balance winning on conflict, totals taken from other when set.
// The counter is recomputed from the merged account set.
func (s *StateData) Merge(other *StateData) {
	for id, amount := range other.Accounts {
		s.Accounts[id] = amount
	}
	seen := make(map[string]struct{}, len(s.Proofs))
	for _, p := range s.Proofs {
		seen[p] = struct{}{}
	}
	for _, p := range other.Proofs {
		if _, ok := seen[p]; !ok {
			s.Proofs = append(s.Proofs, p)
			seen[p] = struct{}{}
		}
	}
	sort.Strings(s.Proofs)
	zero := big.Int{}
	if other.ContractData.TotalEthSupplyOnNear.Cmp(&zero) != 0 ||
		other.ContractData.AccountStorageUsage != 0 {
		s.ContractData = other.ContractData
	}
	s.AccountsCounter = uint64(len(s.Accounts))
}

// AtomicWrite writes raw to path via a temp file and rename, so readers only
// ever observe a complete file.
func AtomicWrite(path string, raw []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	return nil
}
