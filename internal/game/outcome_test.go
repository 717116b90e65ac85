package game

import (
	"fmt"
	"testing"
)

const fixtureServerSeed = "fixture-server-seed"

func TestDeriveCrashPoint_KnownValues(t *testing.T) {
	tests := []struct {
		name       string
		clientSeed string
		want       float64
	}{
		{"instant crash branch", "fixture-client-57", 1.00},
		{"mid multiplier", "fixture-client-982", 2.45},
		{"alpha", "alpha", 1.84},
		{"beta", "beta", 1.51},
		{"gamma", "gamma", 6.13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveCrashPoint(fixtureServerSeed, tt.clientSeed, DefaultMaxCrash)
			if got != tt.want {
				t.Errorf("DeriveCrashPoint() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeriveCrashPoint_Deterministic(t *testing.T) {
	first := DeriveCrashPoint("server_abc", "client_xyz", DefaultMaxCrash)
	for i := 0; i < 10; i++ {
		if got := DeriveCrashPoint("server_abc", "client_xyz", DefaultMaxCrash); got != first {
			t.Fatalf("DeriveCrashPoint() not deterministic: got %v then %v", first, got)
		}
	}
}

func TestDeriveCrashPoint_Range(t *testing.T) {
	for i := 0; i < 5000; i++ {
		client := fmt.Sprintf("range-client-%d", i)
		got := DeriveCrashPoint(fixtureServerSeed, client, DefaultMaxCrash)
		if got < MinMultiplier {
			t.Fatalf("DeriveCrashPoint(%q) = %v below %v", client, got, MinMultiplier)
		}
		if got > DefaultMaxCrash {
			t.Fatalf("DeriveCrashPoint(%q) = %v above %v", client, got, DefaultMaxCrash)
		}
	}
}

func TestDeriveCrashPoint_Clamp(t *testing.T) {
	// gamma derives 6.13 unclamped; a lower ceiling must cap it.
	got := DeriveCrashPoint(fixtureServerSeed, "gamma", 5.0)
	if got != 5.0 {
		t.Errorf("DeriveCrashPoint() with maxCrash 5.0 = %v, want 5.0", got)
	}
}

func TestDeriveCrashPoint_InstantCrashFrequency(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping distribution test in short mode")
	}

	const trials = 100000
	instant := 0
	for i := 0; i < trials; i++ {
		if DeriveCrashPoint(fixtureServerSeed, fmt.Sprintf("trial-%d", i), DefaultMaxCrash) == MinMultiplier {
			instant++
		}
	}

	// Expect ~1/33 of rounds to crash instantly. Allow generous variance.
	fraction := float64(instant) / trials
	if fraction < 0.020 || fraction > 0.045 {
		t.Errorf("instant crash fraction = %.4f, want ~%.4f", fraction, 1.0/33.0)
	}
}

func TestNewSeed(t *testing.T) {
	a := NewSeed()
	b := NewSeed()
	if a == b {
		t.Error("NewSeed() produced duplicate seeds")
	}
	if len(a) != 64 {
		t.Errorf("NewSeed() length = %d, want 64", len(a))
	}
}

func TestSeedCommitment(t *testing.T) {
	seed := "commitment_test_seed"
	a := SeedCommitment(seed)
	b := SeedCommitment(seed)
	if a != b {
		t.Error("SeedCommitment() is not deterministic")
	}
	if len(a) != 64 {
		t.Errorf("SeedCommitment() length = %d, want 64", len(a))
	}
	if !VerifyCommitment(seed, a) {
		t.Error("VerifyCommitment() rejected a valid commitment")
	}
	if VerifyCommitment("other_seed", a) {
		t.Error("VerifyCommitment() accepted the wrong seed")
	}
}

func TestVerifyOutcome(t *testing.T) {
	actual := DeriveCrashPoint(fixtureServerSeed, "verify-client", DefaultMaxCrash)

	tests := []struct {
		name       string
		serverSeed string
		claimed    float64
		want       bool
	}{
		{"valid claim", fixtureServerSeed, actual, true},
		{"off by less than a cent", fixtureServerSeed, actual + 0.004, false},
		{"off by one cent", fixtureServerSeed, actual + 0.01, false},
		{"inflated claim", fixtureServerSeed, actual + 10.0, false},
		{"wrong server seed", "forged-seed", actual, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VerifyOutcome(tt.serverSeed, "verify-client", tt.claimed, DefaultMaxCrash)
			if got != tt.want {
				t.Errorf("VerifyOutcome() = %v, want %v", got, tt.want)
			}
		})
	}
}

func BenchmarkDeriveCrashPoint(b *testing.B) {
	for i := 0; i < b.N; i++ {
		DeriveCrashPoint(fixtureServerSeed, "bench-client", DefaultMaxCrash)
	}
}

func BenchmarkNewSeed(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewSeed()
	}
}
