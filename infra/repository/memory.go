package repository

import (
	"context"
	"sync"

	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/amirasaad/coopcredit/pkg/withdrawal"
	"github.com/google/uuid"
)

// MemoryStore is an in-process account reader and ledger for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]withdrawal.Account
	entries  map[uuid.UUID]withdrawal.Entry
}

// NewMemoryStore creates a store seeded with accounts.
func NewMemoryStore(accounts ...withdrawal.Account) *MemoryStore {
	s := &MemoryStore{
		accounts: make(map[string]withdrawal.Account, len(accounts)),
		entries:  make(map[uuid.UUID]withdrawal.Entry),
	}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

// Put inserts or replaces an account.
func (s *MemoryStore) Put(a withdrawal.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

// GetAccount implements withdrawal.AccountReader.
func (s *MemoryStore) GetAccount(ctx context.Context, memberID string) (*withdrawal.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[memberID]
	if !ok {
		return nil, withdrawal.ErrAccountNotFound
	}
	return &a, nil
}

// Record implements withdrawal.Ledger with the same semantics as Ledger.Record.
func (s *MemoryStore) Record(ctx context.Context, e withdrawal.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[e.RequestID]; ok {
		return nil
	}
	a, ok := s.accounts[e.MemberID]
	if !ok {
		return withdrawal.ErrAccountNotFound
	}
	balance, err := a.Balance(e.NetDebit.Code())
	if err != nil {
		return err
	}
	after, err := balance.Subtract(e.NetDebit)
	if err != nil {
		return err
	}
	if c, err := after.Cmp(e.MinBalance); err != nil {
		return err
	} else if c < 0 {
		return withdrawal.ErrInsufficientBalance
	}

	switch after.Code() {
	case money.FC:
		a.BalanceFC = after
	case money.USD:
		a.BalanceUSD = after
	}
	s.accounts[a.ID] = a
	s.entries[e.RequestID] = e
	return nil
}

// Entries returns the booked entries of a member.
func (s *MemoryStore) Entries(memberID string) []withdrawal.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []withdrawal.Entry
	for _, e := range s.entries {
		if e.MemberID == memberID {
			out = append(out, e)
		}
	}
	return out
}
