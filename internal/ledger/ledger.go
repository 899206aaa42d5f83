// Package ledger tracks per-identity credit balances for generation metering.
package ledger

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/parlalabs/parla-core/internal/config"
)

// UnlimitedBalance marks accounts that are never decremented.
const UnlimitedBalance int64 = -1

// Tier labels an account's metering class.
type Tier string

const (
	TierStandard   Tier = "standard"
	TierPrivileged Tier = "privileged"
)

// Account is a ledger entry for one identity. Balances are counted in
// characters of synthesized text.
type Account struct {
	Identity string `json:"identity"`
	Balance  int64  `json:"balance"`
	Tier     Tier   `json:"tier"`
}

// Unlimited reports whether the account bypasses metering.
func (a Account) Unlimited() bool { return a.Balance == UnlimitedBalance }

// InsufficientCreditsError is returned when a deduction would overdraw the
// balance. The balance is left unchanged.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// Ledger is the process-wide credit store. Accounts are created lazily and
// live until the process exits. A single mutex serializes check-and-deduct;
// the expected concurrent-request load is single digit, so per-identity
// locking is not worth the bookkeeping.
type Ledger struct {
	mu        sync.Mutex
	accounts  map[string]*Account
	starting  int64
	unlimited map[string]struct{}
	logger    *slog.Logger
}

func New(cfg config.LedgerConfig, log *slog.Logger) *Ledger {
	unlimited := make(map[string]struct{}, len(cfg.UnlimitedIdentities))
	for _, id := range cfg.UnlimitedIdentities {
		unlimited[id] = struct{}{}
	}
	return &Ledger{
		accounts:  make(map[string]*Account),
		starting:  cfg.StartingBalance,
		unlimited: unlimited,
		logger:    log.With(slog.String("component", "ledger")),
	}
}

// Resolve returns the account for identity, creating it on first sight.
// Allow-listed identities receive the unlimited sentinel and privileged tier.
// Resolve never fails and is idempotent.
func (l *Ledger) Resolve(identity string) Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.resolveLocked(identity)
}

func (l *Ledger) resolveLocked(identity string) *Account {
	if acct, ok := l.accounts[identity]; ok {
		return acct
	}
	acct := &Account{Identity: identity, Balance: l.starting, Tier: TierStandard}
	if _, ok := l.unlimited[identity]; ok {
		acct.Balance = UnlimitedBalance
		acct.Tier = TierPrivileged
	}
	l.accounts[identity] = acct
	l.logger.Info("account created",
		slog.String("identity", identity),
		slog.String("tier", string(acct.Tier)))
	return acct
}

// Check verifies that identity can afford amount without mutating anything.
func (l *Ledger) Check(identity string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.resolveLocked(identity)
	if acct.Unlimited() {
		return nil
	}
	if acct.Balance < amount {
		return &InsufficientCreditsError{Required: amount, Available: acct.Balance}
	}
	return nil
}

// CheckAndDeduct atomically checks the balance and deducts amount. Unlimited
// accounts succeed without mutation. On insufficient funds the balance is
// unchanged and an InsufficientCreditsError is returned. The balance of a
// standard account never goes below zero, regardless of concurrent callers.
func (l *Ledger) CheckAndDeduct(identity string, amount int64) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.resolveLocked(identity)
	if acct.Unlimited() {
		return *acct, nil
	}
	if acct.Balance < amount {
		return *acct, &InsufficientCreditsError{Required: amount, Available: acct.Balance}
	}
	acct.Balance -= amount
	return *acct, nil
}
