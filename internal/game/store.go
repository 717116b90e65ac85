package game

import (
	"context"
	"sync"
)

// BalanceStore holds the authoritative spendable balance per player. Add must
// be atomic with respect to concurrent callers for the same player.
type BalanceStore interface {
	Balance(ctx context.Context, playerID string) (float64, error)
	Add(ctx context.Context, playerID string, delta float64) (float64, error)
	Set(ctx context.Context, playerID string, balance float64) error
}

// BetStore durably persists settled bets. SaveBet must be idempotent keyed by
// bet ID so settlement retries cannot create duplicate records.
type BetStore interface {
	SaveBet(ctx context.Context, bet *Bet) error
}

// HistoryStore durably persists finished round records for the fairness
// audit trail.
type HistoryStore interface {
	AppendRound(ctx context.Context, rec RoundRecord) error
	RecentRounds(ctx context.Context, limit int) ([]RoundRecord, error)
}

// AuditSink receives settlement and round-close records for the external
// audit stream. Implementations must tolerate being called from the ledger's
// background workers.
type AuditSink interface {
	BetSettled(ctx context.Context, bet *Bet) error
	RoundClosed(ctx context.Context, rec RoundRecord) error
}

// MemoryBalanceStore is an in-process BalanceStore used in tests and local
// runs without Redis.
type MemoryBalanceStore struct {
	mu       sync.Mutex
	balances map[string]float64
}

func NewMemoryBalanceStore() *MemoryBalanceStore {
	return &MemoryBalanceStore{balances: make(map[string]float64)}
}

func (m *MemoryBalanceStore) Balance(_ context.Context, playerID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[playerID], nil
}

func (m *MemoryBalanceStore) Add(_ context.Context, playerID string, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[playerID] += delta
	return m.balances[playerID], nil
}

func (m *MemoryBalanceStore) Set(_ context.Context, playerID string, balance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[playerID] = balance
	return nil
}
