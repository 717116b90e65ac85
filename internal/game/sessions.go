package game

import (
	"sort"
	"sync"
	"time"
)

// SessionRegistry tracks the live in-memory view of connected players for
// broadcast purposes. It is not the balance source of truth; the round-scoped
// fields mirror the ledger's bets so spectators can render players cheaply.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*PlayerSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*PlayerSession)}
}

// Attach registers a live connection. Reconnecting replaces the previous
// session but keeps the identity.
func (r *SessionRegistry) Attach(playerID, username string) {
	if playerID == "" {
		return
	}
	if username == "" {
		username = playerID
	}
	r.mu.Lock()
	r.sessions[playerID] = &PlayerSession{
		PlayerID:    playerID,
		Username:    username,
		Status:      SessionWatching,
		ConnectedAt: time.Now(),
	}
	r.mu.Unlock()
}

func (r *SessionRegistry) Detach(playerID string) {
	r.mu.Lock()
	delete(r.sessions, playerID)
	r.mu.Unlock()
}

// SetBet records the player's bet for the current round.
func (r *SessionRegistry) SetBet(playerID, betID string) {
	r.mu.Lock()
	if s, ok := r.sessions[playerID]; ok {
		s.BetID = betID
		s.Status = SessionBetting
	}
	r.mu.Unlock()
}

func (r *SessionRegistry) UpdateStatus(playerID string, status SessionStatus) {
	r.mu.Lock()
	if s, ok := r.sessions[playerID]; ok {
		s.Status = status
	}
	r.mu.Unlock()
}

// Username resolves a player's display name, falling back to the ID for
// players betting over plain REST without a live session.
func (r *SessionRegistry) Username(playerID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[playerID]; ok {
		return s.Username
	}
	return playerID
}

// ResetRound clears round-scoped fields on every session when a new round
// enters the waiting phase. Identity and connection survive.
func (r *SessionRegistry) ResetRound() {
	r.mu.Lock()
	for _, s := range r.sessions {
		s.BetID = ""
		s.Status = SessionWatching
	}
	r.mu.Unlock()
}

// Snapshot returns the sessions ordered by connection time.
func (r *SessionRegistry) Snapshot() []PlayerSession {
	r.mu.RLock()
	out := make([]PlayerSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
