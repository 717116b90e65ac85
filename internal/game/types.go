package game

import (
	"time"
)

// Phase is the round lifecycle state. Rounds cycle waiting -> flying ->
// crashed forever; there is no terminal state.
type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhaseFlying  Phase = "flying"
	PhaseCrashed Phase = "crashed"
)

// BetStatus is the bet lifecycle state. A bet moves from pending to exactly
// one terminal status and is immutable afterwards.
type BetStatus string

const (
	BetPending   BetStatus = "pending"
	BetWon       BetStatus = "won"
	BetLost      BetStatus = "lost"
	BetCancelled BetStatus = "cancelled"
)

// SessionStatus mirrors the player's bet state for fast broadcast.
type SessionStatus string

const (
	SessionWatching  SessionStatus = "watching"
	SessionBetting   SessionStatus = "betting"
	SessionCashedOut SessionStatus = "cashed_out"
	SessionCrashed   SessionStatus = "crashed"
)

// Round holds all state for one crash round. The server seed and crash point
// stay hidden until the round crashes.
type Round struct {
	ID                string    `json:"round_id"`
	ServerSeed        string    `json:"-"`
	SeedCommitment    string    `json:"seed_commitment"`
	ClientSeed        string    `json:"client_seed"`
	CrashPoint        float64   `json:"-"`
	Phase             Phase     `json:"phase"`
	CurrentMultiplier float64   `json:"current_multiplier"`
	StartedAt         time.Time `json:"started_at"`
	CrashedAt         time.Time `json:"crashed_at,omitempty"`
}

// Bet is a player's stake in a single round.
type Bet struct {
	BetID             string    `json:"bet_id"`
	PlayerID          string    `json:"player_id"`
	RoundID           string    `json:"round_id"`
	Amount            float64   `json:"amount"`
	AutoCashout       float64   `json:"auto_cashout,omitempty"`
	Status            BetStatus `json:"status"`
	SettledMultiplier float64   `json:"settled_multiplier,omitempty"`
	Payout            float64   `json:"payout,omitempty"`
	PlacedAt          time.Time `json:"placed_at"`
	SettledAt         time.Time `json:"settled_at,omitempty"`
}

// RoundRecord is the archived, verifiable outcome of a finished round. With
// the revealed seed pair anyone can recompute the crash point and check it
// against CrashPoint.
type RoundRecord struct {
	RoundID        string    `json:"round_id"`
	CrashPoint     float64   `json:"crash_point"`
	ServerSeed     string    `json:"server_seed"`
	SeedCommitment string    `json:"seed_commitment"`
	ClientSeed     string    `json:"client_seed"`
	Timestamp      time.Time `json:"timestamp"`
}

// PlayerSession is the ephemeral per-connection view tracked by the
// SessionRegistry. It is not the balance source of truth.
type PlayerSession struct {
	PlayerID    string        `json:"player_id"`
	Username    string        `json:"username"`
	BetID       string        `json:"bet_id,omitempty"`
	Status      SessionStatus `json:"status"`
	ConnectedAt time.Time     `json:"connected_at"`
}

// Event is the envelope for every message fanned out to spectators.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type RoundStartData struct {
	RoundID        string          `json:"round_id"`
	SeedCommitment string          `json:"seed_commitment"`
	ClientSeed     string          `json:"client_seed"`
	BettingSeconds float64         `json:"betting_seconds"`
	Players        []PlayerSession `json:"players,omitempty"`
}

type RoundTickData struct {
	RoundID    string  `json:"round_id"`
	Multiplier float64 `json:"multiplier"`
	Phase      Phase   `json:"phase"`
}

type RoundCrashedData struct {
	RoundID        string  `json:"round_id"`
	CrashPoint     float64 `json:"crash_point"`
	ServerSeed     string  `json:"server_seed"`
	SeedCommitment string  `json:"seed_commitment"`
	ClientSeed     string  `json:"client_seed"`
}

type PlayerBetData struct {
	BetID       string  `json:"bet_id"`
	Username    string  `json:"username"`
	Amount      float64 `json:"amount"`
	AutoCashout float64 `json:"auto_cashout,omitempty"`
}

type PlayerCashoutData struct {
	BetID      string  `json:"bet_id"`
	Username   string  `json:"username"`
	Multiplier float64 `json:"multiplier"`
	Payout     float64 `json:"payout"`
}

type PlayerCrashData struct {
	BetID    string `json:"bet_id"`
	Username string `json:"username"`
}

const (
	EventRoundStart    = "round_start"
	EventRoundTick     = "round_tick"
	EventRoundCrashed  = "round_crashed"
	EventPlayerBet     = "player_bet"
	EventPlayerCashout = "player_cashout"
	EventPlayerCrash   = "player_crash"
	EventInitialState  = "initial_state"
)
