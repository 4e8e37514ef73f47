// Package ledger implements the token ledger the escrow engine settles
// against: named accounts with per-token balances, persisted in a key-value
// store. Each call is atomic: a failed transfer leaves every balance
// untouched.
package ledger

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"gigescrow/core/types"
	"gigescrow/native/gig"
	"gigescrow/storage"
)

const accountKeyPrefix = "ledger/account/"

var (
	// ErrInsufficientFunds is returned when a debit exceeds the source
	// account's balance. The whole call fails; nothing is applied.
	ErrInsufficientFunds = errors.New("ledger: insufficient balance")

	// ErrBadCustodyAuthorization is returned when an authority settlement
	// presents a custody address that does not derive from its contract id.
	ErrBadCustodyAuthorization = errors.New("ledger: custody authorization does not match derivation")
)

// Ledger is a mutex-guarded token ledger over a storage.Database. It
// implements gig.TokenLedger.
type Ledger struct {
	mu sync.Mutex
	db storage.Database
}

// NewLedger creates a ledger backed by the given database.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func accountKey(addr [20]byte) []byte {
	return []byte(accountKeyPrefix + hex.EncodeToString(addr[:]))
}

func (l *Ledger) getAccount(addr [20]byte) (*types.Account, error) {
	raw, err := l.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		// Unknown accounts start empty.
		return &types.Account{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read account: %w", err)
	}
	account := &types.Account{}
	if err := json.Unmarshal(raw, account); err != nil {
		return nil, fmt.Errorf("ledger: corrupt account record: %w", err)
	}
	return account, nil
}

func (l *Ledger) putAccount(addr [20]byte, account *types.Account) error {
	raw, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return l.db.Put(accountKey(addr), raw)
}

// writeAccounts persists every account in one atomic batch so a storage
// failure cannot leave a multi-account mutation half applied.
func (l *Ledger) writeAccounts(accounts map[[20]byte]*types.Account) error {
	entries := make([]storage.BatchEntry, 0, len(accounts))
	for addr, account := range accounts {
		raw, err := json.Marshal(account)
		if err != nil {
			return err
		}
		entries = append(entries, storage.BatchEntry{Key: accountKey(addr), Value: raw})
	}
	return l.db.WriteBatch(entries)
}

func balanceRef(account *types.Account, token string) (*uint64, error) {
	normalized, err := gig.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	switch normalized {
	case "GIG":
		return &account.BalanceGIG, nil
	case "USD":
		return &account.BalanceUSD, nil
	default:
		return nil, fmt.Errorf("ledger: unsupported token %s", token)
	}
}

// BalanceOf returns the balance of addr in the given token.
func (l *Ledger) BalanceOf(addr [20]byte, token string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	account, err := l.getAccount(addr)
	if err != nil {
		return 0, err
	}
	balance, err := balanceRef(account, token)
	if err != nil {
		return 0, err
	}
	return *balance, nil
}

// Transfer moves amount from one account to another. The debit and credit are
// applied under one lock; insufficient funds fail the whole call.
func (l *Ledger) Transfer(from, to [20]byte, token string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(from, to, token, amount)
}

func (l *Ledger) transferLocked(from, to [20]byte, token string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if from == to {
		return fmt.Errorf("ledger: self transfer")
	}
	fromAcc, err := l.getAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := l.getAccount(to)
	if err != nil {
		return err
	}
	fromBal, err := balanceRef(fromAcc, token)
	if err != nil {
		return err
	}
	toBal, err := balanceRef(toAcc, token)
	if err != nil {
		return err
	}
	if *fromBal < amount {
		return ErrInsufficientFunds
	}
	if *toBal > math.MaxUint64-amount {
		return fmt.Errorf("ledger: balance overflow")
	}
	*fromBal -= amount
	*toBal += amount
	return l.writeAccounts(map[[20]byte]*types.Account{from: fromAcc, to: toAcc})
}

// AuthoritySettle executes a batch of outbound payments from a custody
// account under protocol authority. The custody authorization must match the
// deterministic derivation of its contract id, and the custody balance must
// cover the batch total; every leg is applied or none is.
func (l *Ledger) AuthoritySettle(auth gig.CustodyAuthorization, token string, payments []gig.Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if auth.Address != gig.DeriveCustodyAddress(auth.ContractID) {
		return ErrBadCustodyAuthorization
	}
	var total uint64
	for _, payment := range payments {
		if payment.Amount > math.MaxUint64-total {
			return fmt.Errorf("ledger: settlement total overflow")
		}
		total += payment.Amount
	}
	custody, err := l.getAccount(auth.Address)
	if err != nil {
		return err
	}
	balance, err := balanceRef(custody, token)
	if err != nil {
		return err
	}
	if *balance < total {
		return ErrInsufficientFunds
	}
	// Stage every leg in memory first so a bad destination cannot leave the
	// batch half applied.
	staged := map[[20]byte]*types.Account{auth.Address: custody}
	for _, payment := range payments {
		if payment.Amount == 0 {
			continue
		}
		if payment.To == auth.Address {
			return fmt.Errorf("ledger: settlement leg targets custody")
		}
		account, ok := staged[payment.To]
		if !ok {
			var err error
			account, err = l.getAccount(payment.To)
			if err != nil {
				return err
			}
			staged[payment.To] = account
		}
		dest, err := balanceRef(account, token)
		if err != nil {
			return err
		}
		if *dest > math.MaxUint64-payment.Amount {
			return fmt.Errorf("ledger: balance overflow")
		}
		*dest += payment.Amount
	}
	*balance -= total
	return l.writeAccounts(staged)
}

// Mint credits freshly issued tokens to an account. Operational funding hook;
// the escrow engine itself never mints.
func (l *Ledger) Mint(to [20]byte, token string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	account, err := l.getAccount(to)
	if err != nil {
		return err
	}
	balance, err := balanceRef(account, token)
	if err != nil {
		return err
	}
	if *balance > math.MaxUint64-amount {
		return fmt.Errorf("ledger: balance overflow")
	}
	*balance += amount
	return l.putAccount(to, account)
}
