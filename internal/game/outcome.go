package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
)

const (
	MinMultiplier   = 1.00
	DefaultMaxCrash = 1000.00

	// One round in crashModulus is an instant crash at 1.00x. This is the
	// entire house edge; the continuous branch is left unskewed.
	crashModulus = 33

	// 52-bit prefix of the HMAC digest, 13 hex characters.
	seedBits    = 52
	seedHexLen  = seedBits / 4
	seedModulus = float64(1 << seedBits)
)

// DeriveCrashPoint computes the crash multiplier for a seed pair. It is pure
// and deterministic: the same inputs always yield the same multiplier, which
// is what makes a revealed round verifiable by any third party.
//
// HMAC-SHA256 keyed with the server seed over the client seed, first 52 bits
// taken as X. X mod 33 == 0 is an instant crash; otherwise the multiplier is
// floor((1 / (1 - X/2^52)) * 100) / 100, clamped to [1.00, maxCrash].
func DeriveCrashPoint(serverSeed, clientSeed string, maxCrash float64) float64 {
	if maxCrash < MinMultiplier {
		maxCrash = DefaultMaxCrash
	}

	mac := hmac.New(sha256.New, []byte(serverSeed))
	mac.Write([]byte(clientSeed))
	digest := hex.EncodeToString(mac.Sum(nil))

	x, err := strconv.ParseUint(digest[:seedHexLen], 16, 64)
	if err != nil {
		// Unreachable for a hex digest; treat as the house edge branch.
		return MinMultiplier
	}

	if x%crashModulus == 0 {
		return MinMultiplier
	}

	u := float64(x) / seedModulus
	crash := math.Floor(100.0/(1.0-u)) / 100.0

	if crash < MinMultiplier {
		return MinMultiplier
	}
	if crash > maxCrash {
		return maxCrash
	}
	return crash
}

// NewSeed returns a 32-byte seed from a cryptographically secure source,
// hex encoded.
func NewSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// SeedCommitment returns the SHA-256 commitment published before the round
// starts, so the server cannot swap seeds after bets are in.
func SeedCommitment(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// VerifyOutcome recomputes the crash point from a revealed seed pair and
// checks it against the claimed value. The derivation is deterministic, so
// anything short of exact equality is a forged claim.
func VerifyOutcome(serverSeed, clientSeed string, claimed, maxCrash float64) bool {
	return DeriveCrashPoint(serverSeed, clientSeed, maxCrash) == claimed
}

// VerifyCommitment checks that a revealed server seed matches the commitment
// published at round start.
func VerifyCommitment(serverSeed, commitment string) bool {
	return SeedCommitment(serverSeed) == commitment
}
