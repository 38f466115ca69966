// Package wallet is the balance and reputation store the engine settles against.
package wallet

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stakeproof/internal/domain"
)

// Entry is one line of an atomic settlement batch.
type Entry struct {
	UserID     string
	Amount     int64
	Reputation int
	// Voted marks a settled vote; Correct tells whether it matched the verdict.
	Voted   bool
	Correct bool
}

type Wallet interface {
	Account(ctx context.Context, userID string) (domain.Account, error)
	Credit(ctx context.Context, userID string, amount int64) (domain.Account, error)
	// Debit fails with domain.ErrInsufficientFunds rather than going negative.
	Debit(ctx context.Context, userID string, amount int64) (domain.Account, error)
	AdjustReputation(ctx context.Context, userID string, delta int) (domain.Account, error)
	// Settle applies every entry or none, at most once per key. A key that was
	// already applied makes the call a no-op. Amounts are signed and may overdraw.
	Settle(ctx context.Context, key string, entries []Entry) error
	List(ctx context.Context) ([]domain.Account, error)
}

// ValidKey rejects an empty settlement key.
func ValidKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: settlement key is required", domain.ErrValidation)
	}
	return nil
}

// ValidAmount rejects zero and negative credit or debit amounts.
func ValidAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", domain.ErrValidation, amount)
	}
	return nil
}

// Apply folds an entry into an account.
func Apply(a *domain.Account, e Entry) {
	a.Balance += e.Amount
	a.Reputation += e.Reputation
	if e.Voted {
		a.TotalVotes++
		if e.Correct {
			a.CorrectVotes++
		}
	}
}

// Memory opens accounts lazily with StartingBalance.
type Memory struct {
	StartingBalance int64

	mu       sync.Mutex
	accounts map[string]*domain.Account
	settled  map[string]struct{}
}

func NewMemory(startingBalance int64) *Memory {
	return &Memory{
		StartingBalance: startingBalance,
		accounts:        map[string]*domain.Account{},
		settled:         map[string]struct{}{},
	}
}

func (m *Memory) get(userID string) *domain.Account {
	if m.accounts == nil {
		m.accounts = map[string]*domain.Account{}
	}
	a, ok := m.accounts[userID]
	if !ok {
		a = &domain.Account{UserID: userID, Balance: m.StartingBalance}
		m.accounts[userID] = a
	}
	return a
}

func (m *Memory) Account(_ context.Context, userID string) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.get(userID), nil
}

func (m *Memory) Credit(_ context.Context, userID string, amount int64) (domain.Account, error) {
	if err := ValidAmount(amount); err != nil {
		return domain.Account{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.get(userID)
	a.Balance += amount
	return *a, nil
}

func (m *Memory) Debit(_ context.Context, userID string, amount int64) (domain.Account, error) {
	if err := ValidAmount(amount); err != nil {
		return domain.Account{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.get(userID)
	if a.Balance < amount {
		return *a, fmt.Errorf("%w: %s has %d, needs %d", domain.ErrInsufficientFunds, userID, a.Balance, amount)
	}
	a.Balance -= amount
	return *a, nil
}

func (m *Memory) AdjustReputation(_ context.Context, userID string, delta int) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.get(userID)
	a.Reputation += delta
	return *a, nil
}

func (m *Memory) Settle(_ context.Context, key string, entries []Entry) error {
	if err := ValidKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.settled[key]; ok {
		return nil
	}
	if m.settled == nil {
		m.settled = map[string]struct{}{}
	}
	m.settled[key] = struct{}{}
	for _, e := range entries {
		Apply(m.get(e.UserID), e)
	}
	return nil
}

func (m *Memory) List(_ context.Context) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
