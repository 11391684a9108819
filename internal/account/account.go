// Package account implements the process-wide store of user accounts. An
// account holds a cash balance and a share inventory, each guarded by the
// account's own mutex so that conditional debits are atomic.
package account

import (
	"errors"
	"math"
	"sync"

	"github.com/bourse-exchange/bourse/pkg/logging"
)

// Funds is an amount of currency. There are no fractional units.
type Funds = uint32

// Quantity is a number of shares.
type Quantity = uint32

// ErrCapacity is returned by Lookup when the store is full.
var ErrCapacity = errors.New("account store capacity exhausted")

// ErrEmptyName is returned by Lookup for an empty user name.
var ErrEmptyName = errors.New("empty account name")

// Account is a single user's holdings. Balance and inventory are always >= 0
// and never wrap around.
type Account struct {
	mu        sync.Mutex
	name      string
	balance   Funds
	inventory Quantity
}

// Name returns the user name the account is keyed by.
func (a *Account) Name() string {
	return a.name
}

// IncreaseBalance atomically adds amount to the balance. It reports false and
// leaves the account untouched if the addition would overflow.
func (a *Account) IncreaseBalance(amount Funds) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.balance > math.MaxUint32-amount {
		return false
	}
	a.balance += amount
	return true
}

// DecreaseBalance atomically subtracts amount from the balance. It reports
// false and leaves the account untouched if the balance is insufficient.
func (a *Account) DecreaseBalance(amount Funds) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.balance < amount {
		return false
	}
	a.balance -= amount
	return true
}

// IncreaseInventory atomically adds quantity to the inventory. It reports
// false and leaves the account untouched if the addition would overflow.
func (a *Account) IncreaseInventory(quantity Quantity) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inventory > math.MaxUint32-quantity {
		return false
	}
	a.inventory += quantity
	return true
}

// DecreaseInventory atomically subtracts quantity from the inventory. It
// reports false and leaves the account untouched if the inventory is
// insufficient.
func (a *Account) DecreaseInventory(quantity Quantity) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inventory < quantity {
		return false
	}
	a.inventory -= quantity
	return true
}

// Snapshot returns the balance and inventory read together under the account
// mutex.
func (a *Account) Snapshot() (Funds, Quantity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, a.inventory
}

// Store maps user names to accounts. Accounts are created on first lookup and
// live for the rest of the process.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*Account
	capacity int
	log      *logging.Logger
}

// NewStore creates an account store bounded by capacity.
func NewStore(capacity int) *Store {
	return &Store{
		accounts: make(map[string]*Account),
		capacity: capacity,
		log:      logging.GetDefault().Component("accounts"),
	}
}

// Lookup returns the account for name, creating it with zero balance and
// inventory if it does not exist yet. Creation fails once the store holds
// capacity accounts.
func (s *Store) Lookup(name string) (*Account, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[name]; ok {
		return a, nil
	}
	if len(s.accounts) >= s.capacity {
		return nil, ErrCapacity
	}

	a := &Account{name: name}
	s.accounts[name] = a
	s.log.Debug("Created account", "name", name)
	return a, nil
}

// Len returns the number of accounts in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}
