package database

import (
	"context"
	"database/sql"
	"fmt"

	"skycrash/internal/game"
)

// BetStore persists settled bets. Writes are upserts keyed by bet ID so
// settlement retries are idempotent.
type BetStore struct{ db *sql.DB }

func NewBetStore(db *sql.DB) *BetStore { return &BetStore{db: db} }

func (s *BetStore) SaveBet(ctx context.Context, b *game.Bet) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bets (id, player_id, round_id, amount, auto_cashout, status, settled_multiplier, payout, placed_at, settled_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			settled_multiplier = EXCLUDED.settled_multiplier,
			payout = EXCLUDED.payout,
			settled_at = EXCLUDED.settled_at`,
		b.BetID, b.PlayerID, b.RoundID, b.Amount, b.AutoCashout,
		string(b.Status), b.SettledMultiplier, b.Payout, b.PlacedAt, b.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("save bet %s: %w", b.BetID, err)
	}
	return nil
}

// RoundStore persists the verifiable round history.
type RoundStore struct{ db *sql.DB }

func NewRoundStore(db *sql.DB) *RoundStore { return &RoundStore{db: db} }

func (s *RoundStore) AppendRound(ctx context.Context, rec game.RoundRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rounds (id, crash_point, server_seed, seed_commitment, client_seed, crashed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO NOTHING`,
		rec.RoundID, rec.CrashPoint, rec.ServerSeed, rec.SeedCommitment,
		rec.ClientSeed, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append round %s: %w", rec.RoundID, err)
	}
	return nil
}

func (s *RoundStore) RecentRounds(ctx context.Context, limit int) ([]game.RoundRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, crash_point, server_seed, seed_commitment, client_seed, crashed_at
		FROM rounds ORDER BY crashed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent rounds: %w", err)
	}
	defer rows.Close()

	var out []game.RoundRecord
	for rows.Next() {
		var rec game.RoundRecord
		if err := rows.Scan(&rec.RoundID, &rec.CrashPoint, &rec.ServerSeed,
			&rec.SeedCommitment, &rec.ClientSeed, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
