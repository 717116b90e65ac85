package game

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skycrash/internal/metrics"
)

type EngineConfig struct {
	TickInterval   time.Duration // multiplier update rate while flying
	BettingWindow  time.Duration // how long the waiting phase accepts bets
	Cooldown       time.Duration // pause between crash and the next round
	RequestTimeout time.Duration // per-call wait for a loop response
	GrowthRate     float64       // per-tick exponential growth
	MaxCrash       float64
	RequestQueue   int

	// Seeder supplies the round's seed pair. Tests inject fixed seeds to get
	// known crash points; production uses crypto/rand.
	Seeder func() (serverSeed, clientSeed string)
}

func (c *EngineConfig) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 50 * time.Millisecond
	}
	if c.BettingWindow <= 0 {
		c.BettingWindow = 5 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 2 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.GrowthRate <= 0 {
		c.GrowthRate = 0.01
	}
	if c.MaxCrash < MinMultiplier {
		c.MaxCrash = DefaultMaxCrash
	}
	if c.RequestQueue <= 0 {
		c.RequestQueue = 1024
	}
	if c.Seeder == nil {
		c.Seeder = func() (string, string) { return NewSeed(), NewSeed() }
	}
}

type betRequest struct {
	playerID    string
	amount      float64
	autoCashout float64
	resp        chan betResult
}

type betResult struct {
	bet     Bet
	balance float64
	err     error
}

type cashoutRequest struct {
	playerID string
	betID    string
	resp     chan cashoutResult
}

type cashoutResult struct {
	bet     Bet
	balance float64
	err     error
}

// Engine owns all round state and drives the tick clock. One goroutine runs
// the waiting -> flying -> crashed cycle; bet and cashout requests arrive
// over buffered channels and are answered inside that goroutine, so the
// phase check and the terminal mutation are a single atomic step. Nothing in
// the loop blocks on broadcast or durable I/O.
type Engine struct {
	cfg      EngineConfig
	ledger   *Ledger
	sessions *SessionRegistry
	hub      *Hub
	history  *History
	log      *zap.Logger

	mu    sync.RWMutex
	round *Round

	// prevRound is the last archived round, evicted from the ledger when the
	// next round opens. Only the loop goroutine touches it.
	prevRound string

	betCh     chan betRequest
	cashoutCh chan cashoutRequest
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewEngine(ledger *Ledger, sessions *SessionRegistry, hub *Hub, history *History, cfg EngineConfig, log *zap.Logger) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:       cfg,
		ledger:    ledger,
		sessions:  sessions,
		hub:       hub,
		history:   history,
		log:       log,
		betCh:     make(chan betRequest, cfg.RequestQueue),
		cashoutCh: make(chan cashoutRequest, cfg.RequestQueue),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

func (e *Engine) Start() {
	go e.loop()
}

// Stop ends the round cycle. Pending bets of the in-flight round are
// cancelled and refunded so no stake is stranded by a shutdown.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

// CurrentRound returns a copy of the live round state. The server seed and
// crash point are not serialized until the round crashes.
func (e *Engine) CurrentRound() (Round, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.round == nil {
		return Round{}, false
	}
	return *e.round, true
}

// PlaceBet queues a bet request for the loop. Bets queued during the
// cooldown land in the next round's betting window.
func (e *Engine) PlaceBet(ctx context.Context, playerID string, amount, autoCashout float64) (Bet, float64, error) {
	req := betRequest{
		playerID:    playerID,
		amount:      amount,
		autoCashout: autoCashout,
		resp:        make(chan betResult, 1),
	}

	select {
	case e.betCh <- req:
	default:
		return Bet{}, 0, ErrEngineBusy
	}

	select {
	case res := <-req.resp:
		return res.bet, res.balance, res.err
	case <-ctx.Done():
		return Bet{}, 0, ctx.Err()
	case <-time.After(e.cfg.RequestTimeout):
		return Bet{}, 0, ErrEngineBusy
	}
}

// CashOut queues a manual cash-out for the loop. The settlement multiplier
// is the live multiplier at the moment the loop processes the request.
func (e *Engine) CashOut(ctx context.Context, playerID, betID string) (Bet, float64, error) {
	req := cashoutRequest{
		playerID: playerID,
		betID:    betID,
		resp:     make(chan cashoutResult, 1),
	}

	select {
	case e.cashoutCh <- req:
	default:
		return Bet{}, 0, ErrEngineBusy
	}

	select {
	case res := <-req.resp:
		return res.bet, res.balance, res.err
	case <-ctx.Done():
		return Bet{}, 0, ctx.Err()
	case <-time.After(e.cfg.RequestTimeout):
		return Bet{}, 0, ErrEngineBusy
	}
}

func (e *Engine) loop() {
	defer close(e.doneCh)
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		if stopped := e.runRound(); stopped {
			return
		}
		if stopped := e.cooldown(); stopped {
			return
		}
	}
}

// cooldown pauses between rounds. Cash-outs are rejected immediately; bets
// stay queued and land in the next round's betting window.
func (e *Engine) cooldown() bool {
	timer := time.NewTimer(e.cfg.Cooldown)
	defer timer.Stop()
	for {
		select {
		case <-e.stopCh:
			return true
		case <-timer.C:
			return false
		case req := <-e.cashoutCh:
			req.resp <- cashoutResult{err: ErrRoundNotFlying}
		}
	}
}

// runRound drives one full waiting -> flying -> crashed cycle. Returns true
// if the engine was stopped mid-round.
func (e *Engine) runRound() bool {
	serverSeed, clientSeed := e.cfg.Seeder()
	crashPoint := DeriveCrashPoint(serverSeed, clientSeed, e.cfg.MaxCrash)

	round := &Round{
		ID:                uuid.NewString(),
		ServerSeed:        serverSeed,
		SeedCommitment:    SeedCommitment(serverSeed),
		ClientSeed:        clientSeed,
		CrashPoint:        crashPoint,
		Phase:             PhaseWaiting,
		CurrentMultiplier: MinMultiplier,
	}

	e.mu.Lock()
	e.round = round
	e.mu.Unlock()

	// The previous round's settled bets stayed queryable through the
	// cooldown; evict them now that a new round replaces it.
	if e.prevRound != "" {
		e.ledger.DropRound(e.prevRound)
	}
	e.prevRound = round.ID

	e.sessions.ResetRound()

	e.log.Info("round open",
		zap.String("round_id", round.ID),
		zap.String("commitment", round.SeedCommitment[:16]))

	e.hub.Publish(EventRoundStart, RoundStartData{
		RoundID:        round.ID,
		SeedCommitment: round.SeedCommitment,
		ClientSeed:     round.ClientSeed,
		BettingSeconds: e.cfg.BettingWindow.Seconds(),
		Players:        e.sessions.Snapshot(),
	})

	// Waiting phase: the only window in which bets are accepted.
	bettingTimer := time.NewTimer(e.cfg.BettingWindow)
	defer bettingTimer.Stop()

	for {
		select {
		case <-bettingTimer.C:
		case req := <-e.betCh:
			e.handleBet(req)
			continue
		case req := <-e.cashoutCh:
			req.resp <- cashoutResult{err: ErrRoundNotFlying}
			continue
		case <-e.stopCh:
			e.cancelPending(round.ID)
			return true
		}
		break
	}

	// Freeze the bet list and start the clock. The crash point was derived
	// before any bet existed; from here it only gets compared.
	e.mu.Lock()
	e.round.Phase = PhaseFlying
	e.round.StartedAt = time.Now()
	e.mu.Unlock()

	e.hub.Publish(EventRoundTick, RoundTickData{
		RoundID:    round.ID,
		Multiplier: MinMultiplier,
		Phase:      PhaseFlying,
	})

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if crashed := e.tick(); crashed {
				e.drainCashouts()
				return false
			}
		case req := <-e.betCh:
			req.resp <- betResult{err: ErrBettingClosed}
		case req := <-e.cashoutCh:
			e.handleCashout(req)
		case <-e.stopCh:
			e.cancelPending(round.ID)
			return true
		}
	}
}

// tick advances the multiplier once and settles whatever it reached.
// Reports whether the round crashed on this tick.
func (e *Engine) tick() bool {
	e.mu.Lock()
	next := e.round.CurrentMultiplier * (1 + e.cfg.GrowthRate)
	crashed := next >= e.round.CrashPoint
	if crashed {
		// Freeze at the crash point, never beyond it.
		next = e.round.CrashPoint
		e.round.Phase = PhaseCrashed
		e.round.CrashedAt = time.Now()
	}
	e.round.CurrentMultiplier = next
	snap := *e.round
	e.mu.Unlock()

	// Auto targets at or below the (clamped) multiplier win at exactly the
	// target, regardless of tick granularity.
	e.settleAutoCashouts(snap)

	if crashed {
		e.settleLosses(snap)
		e.archive(snap)
		return true
	}

	e.hub.Publish(EventRoundTick, RoundTickData{
		RoundID:    snap.ID,
		Multiplier: snap.CurrentMultiplier,
		Phase:      snap.Phase,
	})
	return false
}

func (e *Engine) handleBet(req betRequest) {
	e.mu.RLock()
	roundID := e.round.ID
	phase := e.round.Phase
	e.mu.RUnlock()

	if phase != PhaseWaiting {
		req.resp <- betResult{err: ErrBettingClosed}
		return
	}

	bet, balance, err := e.ledger.PlaceBet(context.Background(), req.playerID, roundID, req.amount, req.autoCashout)
	if err != nil {
		req.resp <- betResult{balance: balance, err: err}
		return
	}

	e.sessions.SetBet(bet.PlayerID, bet.BetID)
	e.hub.Publish(EventPlayerBet, PlayerBetData{
		BetID:       bet.BetID,
		Username:    e.sessions.Username(bet.PlayerID),
		Amount:      bet.Amount,
		AutoCashout: bet.AutoCashout,
	})

	req.resp <- betResult{bet: bet, balance: balance}
}

func (e *Engine) handleCashout(req cashoutRequest) {
	e.mu.RLock()
	roundID := e.round.ID
	phase := e.round.Phase
	multiplier := e.round.CurrentMultiplier
	e.mu.RUnlock()

	if phase != PhaseFlying {
		req.resp <- cashoutResult{err: ErrRoundNotFlying}
		return
	}

	bet, ok := e.ledger.Bet(req.betID)
	if !ok || bet.RoundID != roundID || bet.PlayerID != req.playerID {
		req.resp <- cashoutResult{err: ErrBetNotFound}
		return
	}

	settled, balance, err := e.ledger.CashOut(context.Background(), req.betID, multiplier)
	if err != nil {
		req.resp <- cashoutResult{bet: settled, err: err}
		return
	}

	e.sessions.UpdateStatus(settled.PlayerID, SessionCashedOut)
	e.hub.Publish(EventPlayerCashout, PlayerCashoutData{
		BetID:      settled.BetID,
		Username:   e.sessions.Username(settled.PlayerID),
		Multiplier: settled.SettledMultiplier,
		Payout:     settled.Payout,
	})

	req.resp <- cashoutResult{bet: settled, balance: balance}
}

func (e *Engine) settleAutoCashouts(snap Round) {
	for _, bet := range e.ledger.PendingBets(snap.ID) {
		if bet.AutoCashout <= 0 || bet.AutoCashout > snap.CurrentMultiplier {
			continue
		}
		settled, _, err := e.ledger.CashOut(context.Background(), bet.BetID, bet.AutoCashout)
		if err != nil {
			// Leave the bet pending; the next tick retries it.
			e.log.Error("auto cashout failed",
				zap.String("bet_id", bet.BetID), zap.Error(err))
			continue
		}
		e.sessions.UpdateStatus(settled.PlayerID, SessionCashedOut)
		e.hub.Publish(EventPlayerCashout, PlayerCashoutData{
			BetID:      settled.BetID,
			Username:   e.sessions.Username(settled.PlayerID),
			Multiplier: settled.SettledMultiplier,
			Payout:     settled.Payout,
		})
	}
}

func (e *Engine) settleLosses(snap Round) {
	for _, bet := range e.ledger.PendingBets(snap.ID) {
		settled, err := e.ledger.SettleLoss(context.Background(), bet.BetID)
		if err != nil {
			e.log.Error("loss settlement failed",
				zap.String("bet_id", bet.BetID), zap.Error(err))
			continue
		}
		e.sessions.UpdateStatus(settled.PlayerID, SessionCrashed)
		e.hub.Publish(EventPlayerCrash, PlayerCrashData{
			BetID:    settled.BetID,
			Username: e.sessions.Username(settled.PlayerID),
		})
	}
}

// archive reveals the seed pair, appends the round to history and broadcasts
// the crash. After this any party can recompute the crash point.
func (e *Engine) archive(snap Round) {
	rec := RoundRecord{
		RoundID:        snap.ID,
		CrashPoint:     snap.CrashPoint,
		ServerSeed:     snap.ServerSeed,
		SeedCommitment: snap.SeedCommitment,
		ClientSeed:     snap.ClientSeed,
		Timestamp:      snap.CrashedAt,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	e.history.Append(ctx, rec)
	cancel()

	metrics.RoundsTotal.Inc()
	metrics.CrashPoints.Observe(snap.CrashPoint)

	e.hub.Publish(EventRoundCrashed, RoundCrashedData{
		RoundID:        snap.ID,
		CrashPoint:     snap.CrashPoint,
		ServerSeed:     snap.ServerSeed,
		SeedCommitment: snap.SeedCommitment,
		ClientSeed:     snap.ClientSeed,
	})

	e.log.Info("round crashed",
		zap.String("round_id", snap.ID),
		zap.Float64("crash_point", snap.CrashPoint))
}

// drainCashouts answers requests that raced the crash. The round is already
// over, so they are rejected rather than left waiting out the cooldown.
func (e *Engine) drainCashouts() {
	for {
		select {
		case req := <-e.cashoutCh:
			req.resp <- cashoutResult{err: ErrRoundNotFlying}
		default:
			return
		}
	}
}

// cancelPending refunds every unsettled bet of the round on shutdown.
func (e *Engine) cancelPending(roundID string) {
	for _, bet := range e.ledger.PendingBets(roundID) {
		if _, _, err := e.ledger.CancelBet(context.Background(), bet.BetID); err != nil {
			e.log.Error("bet cancel failed",
				zap.String("bet_id", bet.BetID), zap.Error(err))
		}
	}
}
