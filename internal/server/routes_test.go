package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"skycrash/internal/config"
	"skycrash/internal/game"
)

const testServerSeed = "fixture-server-seed"

// newTestServer wires the handlers against in-memory stores. The engine is
// created but not started; tests that need a live round start it themselves.
func newTestServer(t *testing.T) *FiberServer {
	t.Helper()
	log := zap.NewNop()

	ledger := game.NewLedger(game.NewMemoryBalanceStore(), nil, nil, game.LedgerConfig{
		MinBet: 1,
		MaxBet: 10000,
	}, log)
	t.Cleanup(ledger.Close)

	hub := game.NewHub(log)
	sessions := game.NewSessionRegistry()
	history := game.NewHistory(nil, nil, 10, log)
	engine := game.NewEngine(ledger, sessions, hub, history, game.EngineConfig{
		TickInterval:  time.Millisecond,
		BettingWindow: time.Hour,
		Cooldown:      time.Hour,
		Seeder:        func() (string, string) { return testServerSeed, "fixture-client-982" },
	}, log)

	s := &FiberServer{
		App:      fiber.New(),
		cfg:      config.Config{MaxCrash: game.DefaultMaxCrash},
		log:      log,
		ledger:   ledger,
		engine:   engine,
		sessions: sessions,
		hub:      hub,
		history:  history,
	}
	s.RegisterRoutes()
	return s
}

func startEngine(t *testing.T, s *FiberServer) {
	t.Helper()
	s.engine.Start()
	t.Cleanup(s.engine.Stop)

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := s.engine.CurrentRound(); ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("engine never opened a round")
		case <-time.After(time.Millisecond):
		}
	}
}

func doJSON(t *testing.T, app *fiber.App, method, target, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}

	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("%s %s: bad response body: %v", method, target, err)
	}
	return resp, decoded
}

func TestGameStateHandler_NoRound(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s.App, "GET", "/api/v1/game/state", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if body["error"] != "no active round" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestGameStateHandler_HidesSeeds(t *testing.T) {
	s := newTestServer(t)
	startEngine(t, s)

	resp, body := doJSON(t, s.App, "GET", "/api/v1/game/state", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["phase"] != string(game.PhaseWaiting) {
		t.Errorf("phase = %v, want waiting", body["phase"])
	}
	if body["seed_commitment"] == "" {
		t.Error("seed commitment missing from live state")
	}
	for _, key := range []string{"server_seed", "ServerSeed", "crash_point", "CrashPoint"} {
		if _, leaked := body[key]; leaked {
			t.Errorf("%s leaked before crash", key)
		}
	}
}

func TestBalanceHandlers(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s.App, "POST", "/api/v1/user/p1/balance", `{"balance": 1000}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("set balance status = %d, want 200", resp.StatusCode)
	}
	if body["balance"].(float64) != 1000 {
		t.Errorf("balance = %v, want 1000", body["balance"])
	}

	resp, body = doJSON(t, s.App, "GET", "/api/v1/user/p1/balance", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("get balance status = %d, want 200", resp.StatusCode)
	}
	if body["balance"].(float64) != 1000 {
		t.Errorf("balance = %v, want 1000", body["balance"])
	}

	_, body = doJSON(t, s.App, "GET", "/api/v1/user/nobody/balance", "")
	if body["balance"].(float64) != 0 {
		t.Errorf("unknown player balance = %v, want 0", body["balance"])
	}
}

func TestSetBalanceHandler_KeyStableAcrossRequests(t *testing.T) {
	s := newTestServer(t)

	// The stored player ID must not alias the request buffer: later requests
	// reuse it, and a retained param would corrupt the map key.
	doJSON(t, s.App, "POST", "/api/v1/user/alice/balance", `{"balance": 500}`)
	doJSON(t, s.App, "POST", "/api/v1/user/bobby/balance", `{"balance": 7}`)

	_, body := doJSON(t, s.App, "GET", "/api/v1/user/alice/balance", "")
	if body["balance"].(float64) != 500 {
		t.Errorf("alice balance after unrelated request = %v, want 500", body["balance"])
	}

	balance, err := s.ledger.Balance(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if balance != 500 {
		t.Errorf("ledger balance for alice = %v, want 500", balance)
	}
}

func TestPlaceBetHandler(t *testing.T) {
	s := newTestServer(t)
	startEngine(t, s)
	doJSON(t, s.App, "POST", "/api/v1/user/p1/balance", `{"balance": 1000}`)

	resp, body := doJSON(t, s.App, "POST", "/api/v1/game/bet", `{"player_id":"p1","amount":100}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if body["bet_id"] == "" {
		t.Error("response missing bet_id")
	}
	if body["new_balance"].(float64) != 900 {
		t.Errorf("new_balance = %v, want 900", body["new_balance"])
	}
}

func TestPlaceBetHandler_Errors(t *testing.T) {
	s := newTestServer(t)
	startEngine(t, s)
	doJSON(t, s.App, "POST", "/api/v1/user/p1/balance", `{"balance": 50}`)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"player_id":`, fiber.StatusBadRequest},
		{"missing player", `{"amount": 100}`, fiber.StatusBadRequest},
		{"zero amount", `{"player_id":"p1","amount":0}`, fiber.StatusBadRequest},
		{"negative amount", `{"player_id":"p1","amount":-5}`, fiber.StatusBadRequest},
		{"insufficient balance", `{"player_id":"p1","amount":100}`, fiber.StatusBadRequest},
		{"auto target at floor", `{"player_id":"p1","amount":10,"auto_cashout":1.0}`, fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doJSON(t, s.App, "POST", "/api/v1/game/bet", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestCashoutHandler_Errors(t *testing.T) {
	s := newTestServer(t)
	startEngine(t, s)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"bet_id":`, fiber.StatusBadRequest},
		{"missing fields", `{"player_id":"p1"}`, fiber.StatusBadRequest},
		// During the betting window no cash-out is valid.
		{"round not flying", `{"player_id":"p1","bet_id":"b1"}`, fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doJSON(t, s.App, "POST", "/api/v1/game/cashout", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestVerifyHandler(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s.App, "GET",
		"/api/v1/game/verify?server_seed="+testServerSeed+"&client_seed=fixture-client-982", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["crash_point"].(float64) != 2.45 {
		t.Errorf("crash_point = %v, want 2.45", body["crash_point"])
	}
	if body["seed_commitment"] != game.SeedCommitment(testServerSeed) {
		t.Errorf("seed_commitment = %v", body["seed_commitment"])
	}

	resp, body = doJSON(t, s.App, "GET",
		"/api/v1/game/verify?server_seed="+testServerSeed+"&client_seed=fixture-client-982&crash_point=2.45", "")
	if resp.StatusCode != fiber.StatusOK || body["valid"] != true {
		t.Errorf("honest claim: status = %d, valid = %v", resp.StatusCode, body["valid"])
	}

	_, body = doJSON(t, s.App, "GET",
		"/api/v1/game/verify?server_seed="+testServerSeed+"&client_seed=fixture-client-982&crash_point=9.99", "")
	if body["valid"] != false {
		t.Errorf("forged claim: valid = %v, want false", body["valid"])
	}

	resp, _ = doJSON(t, s.App, "GET", "/api/v1/game/verify?server_seed=only", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("missing client seed: status = %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, s.App, "GET",
		"/api/v1/game/verify?server_seed=a&client_seed=b&crash_point=abc", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("non-numeric claim: status = %d, want 400", resp.StatusCode)
	}
}

func TestHistoryHandler(t *testing.T) {
	s := newTestServer(t)
	s.history.Append(context.Background(), game.RoundRecord{RoundID: "r1", CrashPoint: 2.45})
	s.history.Append(context.Background(), game.RoundRecord{RoundID: "r2", CrashPoint: 1.00})

	resp, body := doJSON(t, s.App, "GET", "/api/v1/game/history?limit=1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	rounds := body["rounds"].([]interface{})
	if len(rounds) != 1 {
		t.Fatalf("rounds len = %d, want 1", len(rounds))
	}
	if first := rounds[0].(map[string]interface{}); first["round_id"] != "r2" {
		t.Errorf("first round = %v, want newest (r2)", first["round_id"])
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{game.ErrBetNotFound, fiber.StatusNotFound},
		{game.ErrAlreadySettled, fiber.StatusConflict},
		{game.ErrInvalidAmount, fiber.StatusBadRequest},
		{game.ErrInvalidAutoCashout, fiber.StatusBadRequest},
		{game.ErrInsufficientBalance, fiber.StatusBadRequest},
		{game.ErrBettingClosed, fiber.StatusBadRequest},
		{game.ErrRoundNotFlying, fiber.StatusBadRequest},
		{game.ErrEngineBusy, fiber.StatusServiceUnavailable},
		{errors.New("something else"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
