package game

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skycrash/internal/metrics"
)

const lockStripes = 64

type LedgerConfig struct {
	MinBet float64
	MaxBet float64

	// Durable persistence retry policy for settled bets.
	PersistQueueSize int
	PersistAttempts  int
	PersistBackoff   time.Duration
}

func (c *LedgerConfig) applyDefaults() {
	if c.MinBet <= 0 {
		c.MinBet = 1.0
	}
	if c.MaxBet <= 0 {
		c.MaxBet = 10000.0
	}
	if c.PersistQueueSize <= 0 {
		c.PersistQueueSize = 1024
	}
	if c.PersistAttempts <= 0 {
		c.PersistAttempts = 5
	}
	if c.PersistBackoff <= 0 {
		c.PersistBackoff = 200 * time.Millisecond
	}
}

// Ledger is the only component allowed to mutate a player's spendable
// balance. Every mutation is paired with a bet record: placement debits the
// stake atomically with recording the bet, cash-out credits the payout
// atomically with the terminal status, and a loss forfeits the stake that was
// already debited.
//
// Per-player mutations are serialized through striped locks so two
// concurrent placeBet/cashOut calls for the same player can never interleave
// their read-modify-write of the balance. Bet field writes additionally hold
// l.mu, so Bet and PendingBets can copy records from any goroutine.
type Ledger struct {
	cfg      LedgerConfig
	balances BalanceStore
	store    BetStore
	audit    AuditSink
	log      *zap.Logger

	mu   sync.RWMutex
	bets map[string]*Bet

	locks [lockStripes]sync.Mutex

	persistCh chan Bet
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewLedger(balances BalanceStore, store BetStore, audit AuditSink, cfg LedgerConfig, log *zap.Logger) *Ledger {
	cfg.applyDefaults()
	l := &Ledger{
		cfg:       cfg,
		balances:  balances,
		store:     store,
		audit:     audit,
		log:       log,
		bets:      make(map[string]*Bet),
		persistCh: make(chan Bet, cfg.PersistQueueSize),
		stopCh:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.persistLoop()
	return l
}

// Close stops the background persister after draining queued records.
func (l *Ledger) Close() {
	close(l.stopCh)
	l.wg.Wait()
}

func (l *Ledger) playerLock(playerID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(playerID))
	return &l.locks[h.Sum32()%lockStripes]
}

// PlaceBet validates the stake, debits the player's balance and records the
// bet. The debit and the record happen together or not at all: a failed
// record rolls the debit back.
func (l *Ledger) PlaceBet(ctx context.Context, playerID, roundID string, amount, autoCashout float64) (Bet, float64, error) {
	if amount < l.cfg.MinBet || amount > l.cfg.MaxBet {
		return Bet{}, 0, fmt.Errorf("%w: %.2f not in [%.2f, %.2f]", ErrInvalidAmount, amount, l.cfg.MinBet, l.cfg.MaxBet)
	}
	if autoCashout != 0 && autoCashout <= MinMultiplier {
		return Bet{}, 0, ErrInvalidAutoCashout
	}

	lock := l.playerLock(playerID)
	lock.Lock()
	defer lock.Unlock()

	balance, err := l.balances.Balance(ctx, playerID)
	if err != nil {
		return Bet{}, 0, fmt.Errorf("read balance: %w", err)
	}
	if balance < amount {
		return Bet{}, balance, ErrInsufficientBalance
	}

	newBalance, err := l.balances.Add(ctx, playerID, -amount)
	if err != nil {
		return Bet{}, balance, fmt.Errorf("debit stake: %w", err)
	}
	if newBalance < 0 {
		// Lost the race against an external mutation; undo the debit.
		l.balances.Add(ctx, playerID, amount)
		return Bet{}, balance, ErrInsufficientBalance
	}

	bet := &Bet{
		BetID:       uuid.NewString(),
		PlayerID:    playerID,
		RoundID:     roundID,
		Amount:      amount,
		AutoCashout: autoCashout,
		Status:      BetPending,
		PlacedAt:    time.Now(),
	}

	l.mu.Lock()
	l.bets[bet.BetID] = bet
	l.mu.Unlock()

	metrics.BetsPlacedTotal.Inc()
	return *bet, newBalance, nil
}

// CashOut settles a pending bet as a win at the given multiplier and credits
// the payout. It is idempotent under concurrent duplicates: exactly one
// caller gets the credit, every other caller gets ErrAlreadySettled.
func (l *Ledger) CashOut(ctx context.Context, betID string, multiplier float64) (Bet, float64, error) {
	l.mu.RLock()
	bet := l.bets[betID]
	l.mu.RUnlock()
	if bet == nil {
		return Bet{}, 0, ErrBetNotFound
	}

	lock := l.playerLock(bet.PlayerID)
	lock.Lock()
	defer lock.Unlock()

	if bet.Status != BetPending {
		return *bet, 0, ErrAlreadySettled
	}

	payout := roundCents(bet.Amount * multiplier)
	newBalance, err := l.balances.Add(ctx, bet.PlayerID, payout)
	if err != nil {
		// Bet stays pending; the engine retries on its next pass.
		return Bet{}, 0, fmt.Errorf("credit payout: %w", err)
	}

	l.mu.Lock()
	bet.Status = BetWon
	bet.SettledMultiplier = multiplier
	bet.Payout = payout
	bet.SettledAt = time.Now()
	l.mu.Unlock()

	l.enqueuePersist(*bet)
	metrics.CashoutsTotal.Inc()
	return *bet, newBalance, nil
}

// SettleLoss marks a pending bet as lost. The stake was already debited at
// placement, so no balance mutation happens here.
func (l *Ledger) SettleLoss(ctx context.Context, betID string) (Bet, error) {
	l.mu.RLock()
	bet := l.bets[betID]
	l.mu.RUnlock()
	if bet == nil {
		return Bet{}, ErrBetNotFound
	}

	lock := l.playerLock(bet.PlayerID)
	lock.Lock()
	defer lock.Unlock()

	if bet.Status != BetPending {
		return *bet, ErrAlreadySettled
	}

	l.mu.Lock()
	bet.Status = BetLost
	bet.SettledAt = time.Now()
	l.mu.Unlock()

	l.enqueuePersist(*bet)
	metrics.LossesTotal.Inc()
	return *bet, nil
}

// CancelBet voids a pending bet and refunds the stake. Used when the process
// shuts down while a round is still accepting bets.
func (l *Ledger) CancelBet(ctx context.Context, betID string) (Bet, float64, error) {
	l.mu.RLock()
	bet := l.bets[betID]
	l.mu.RUnlock()
	if bet == nil {
		return Bet{}, 0, ErrBetNotFound
	}

	lock := l.playerLock(bet.PlayerID)
	lock.Lock()
	defer lock.Unlock()

	if bet.Status != BetPending {
		return *bet, 0, ErrAlreadySettled
	}

	newBalance, err := l.balances.Add(ctx, bet.PlayerID, bet.Amount)
	if err != nil {
		return Bet{}, 0, fmt.Errorf("refund stake: %w", err)
	}

	l.mu.Lock()
	bet.Status = BetCancelled
	bet.SettledAt = time.Now()
	l.mu.Unlock()

	l.enqueuePersist(*bet)
	return *bet, newBalance, nil
}

// Bet returns a copy of the bet, if known.
func (l *Ledger) Bet(betID string) (Bet, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bet := l.bets[betID]
	if bet == nil {
		return Bet{}, false
	}
	return *bet, true
}

// PendingBets returns the round's unsettled bets in placement order.
func (l *Ledger) PendingBets(roundID string) []Bet {
	l.mu.RLock()
	pending := make([]Bet, 0, len(l.bets))
	for _, bet := range l.bets {
		if bet.RoundID == roundID && bet.Status == BetPending {
			pending = append(pending, *bet)
		}
	}
	l.mu.RUnlock()

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].PlacedAt.Before(pending[j].PlacedAt)
	})
	return pending
}

// DropRound evicts a finished round's bets from the working set. Settlement
// records already went to the durable store; pending bets are never dropped.
func (l *Ledger) DropRound(roundID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, bet := range l.bets {
		if bet.RoundID == roundID && bet.Status != BetPending {
			delete(l.bets, id)
		}
	}
}

func (l *Ledger) Balance(ctx context.Context, playerID string) (float64, error) {
	return l.balances.Balance(ctx, playerID)
}

// SetBalance overwrites a player's balance. Deposit/withdrawal gateways are
// external collaborators; this is the seam they and the admin tooling use.
func (l *Ledger) SetBalance(ctx context.Context, playerID string, balance float64) error {
	if balance < 0 {
		return ErrInvalidAmount
	}
	lock := l.playerLock(playerID)
	lock.Lock()
	defer lock.Unlock()
	return l.balances.Set(ctx, playerID, balance)
}

func (l *Ledger) enqueuePersist(bet Bet) {
	if l.store == nil && l.audit == nil {
		return
	}
	select {
	case l.persistCh <- bet:
	default:
		metrics.SettlementFailuresTotal.Inc()
		l.log.Error("settlement persist queue full, operator attention required",
			zap.String("bet_id", bet.BetID),
			zap.String("player_id", bet.PlayerID))
	}
}

func (l *Ledger) persistLoop() {
	defer l.wg.Done()
	for {
		select {
		case bet := <-l.persistCh:
			l.persist(bet)
		case <-l.stopCh:
			for {
				select {
				case bet := <-l.persistCh:
					l.persist(bet)
				default:
					return
				}
			}
		}
	}
}

// persist writes a settled bet to the durable store, retrying with backoff.
// The bet ID is the idempotency key, so a retry after a half-applied write
// cannot double-record. Exhausted retries escalate to an operator alert
// rather than being dropped: balance and record would otherwise diverge.
func (l *Ledger) persist(bet Bet) {
	if l.store != nil {
		var err error
		for attempt := 1; attempt <= l.cfg.PersistAttempts; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = l.store.SaveBet(ctx, &bet)
			cancel()
			if err == nil {
				break
			}
			metrics.SettlementRetriesTotal.Inc()
			time.Sleep(l.cfg.PersistBackoff * time.Duration(attempt))
		}
		if err != nil {
			metrics.SettlementFailuresTotal.Inc()
			l.log.Error("settlement persistence failed after retries, operator attention required",
				zap.String("bet_id", bet.BetID),
				zap.String("player_id", bet.PlayerID),
				zap.Error(err))
			return
		}
	}

	if l.audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.audit.BetSettled(ctx, &bet); err != nil {
			l.log.Warn("audit publish failed", zap.String("bet_id", bet.BetID), zap.Error(err))
		}
		cancel()
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
