package tests

import (
	"math/big"
	"testing"

	"github.com/tolelom/htlcescrow/core"
	"github.com/tolelom/htlcescrow/crypto"
	"github.com/tolelom/htlcescrow/engine"
	"github.com/tolelom/htlcescrow/events"
	"github.com/tolelom/htlcescrow/internal/testutil"
	"github.com/tolelom/htlcescrow/storage"
	"github.com/tolelom/htlcescrow/vm"
	"github.com/tolelom/htlcescrow/wallet"

	// Register VM modules
	_ "github.com/tolelom/htlcescrow/vm/modules/escrowmodule"
)

type fixedClock struct{ height uint64 }

func (c *fixedClock) CurrentBlock() uint64 { return c.height }

func newTestEngine(t *testing.T, clock engine.Clock, authorities []string) (*storage.StateDB, *engine.Engine) {
	t.Helper()
	state := storage.NewStateDB(testutil.NewMemDB())
	if len(authorities) == 0 {
		// Params.Validate requires at least one authority; tests that never
		// toggle pause get a placeholder.
		authorities = []string{"root"}
	}
	params := engine.Params{
		MinTimelock:          5,
		MaxTimelock:          1000,
		MaxEscrowsPerAccount: 16,
		PalletID:             [32]byte{1, 2, 3},
		Authorities:          authorities,
	}
	eng := engine.New(state, state, clock, params, events.NewEmitter())
	return state, eng
}

func fundAccount(t *testing.T, state *storage.StateDB, addr string, balance uint64) {
	t.Helper()
	if err := state.SetAccount(&core.Account{Address: addr, Balance: balance}); err != nil {
		t.Fatal(err)
	}
}

func creditLedger(t *testing.T, state *storage.StateDB, account string, amount int64) {
	t.Helper()
	if err := state.Credit(core.Native(), account, big.NewInt(amount)); err != nil {
		t.Fatal(err)
	}
}

// TestCreateFundComplete drives create_escrow, fund_escrow, and
// complete_escrow through the VM executor's registered handlers end to end.
func TestCreateFundComplete(t *testing.T) {
	clock := &fixedClock{height: 10}
	state, eng := newTestEngine(t, clock, nil)
	exec := vm.NewExecutor(state, eng, events.NewEmitter())

	maker, _ := wallet.Generate()
	taker, _ := wallet.Generate()
	fundAccount(t, state, maker.PubKey(), 1000)
	fundAccount(t, state, taker.PubKey(), 1000)
	creditLedger(t, state, maker.PubKey(), 500)

	preimage := []byte("correct horse battery staple")
	secretHash := crypto.Hashlock(preimage)

	createTx, _ := maker.CreateEscrowTx(0, 0, secretHash, 20, taker.PubKey(), core.Native(), big.NewInt(100), nil, nil)
	block := core.NewBlock(1, "0000", maker.PubKey(), []*core.Transaction{createTx})
	if err := exec.ExecuteTx(block, createTx); err != nil {
		t.Fatalf("create_escrow: %v", err)
	}

	id, err := eng.GetBySecret(secretHash)
	if err != nil {
		t.Fatalf("GetBySecret: %v", err)
	}

	fundTx, _ := maker.FundEscrowTx(1, 0, id)
	if err := exec.ExecuteTx(block, fundTx); err != nil {
		t.Fatalf("fund_escrow: %v", err)
	}

	active, err := eng.IsActive(id)
	if err != nil || !active {
		t.Fatalf("expected escrow %d active, err=%v", id, err)
	}

	completeTx, _ := taker.CompleteEscrowTx(0, 0, id, preimage)
	if err := exec.ExecuteTx(block, completeTx); err != nil {
		t.Fatalf("complete_escrow: %v", err)
	}

	e, err := eng.GetEscrow(id)
	if err != nil {
		t.Fatal(err)
	}
	if e.State != core.StateCompleted {
		t.Errorf("state: got %s want Completed", e.State)
	}

	bal, err := state.Balance(core.Native(), taker.PubKey())
	if err != nil {
		t.Fatal(err)
	}
	if bal.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("taker balance: got %s want 100", bal.String())
	}
}

// TestCompleteWrongPreimageRejected verifies complete_escrow rejects a
// preimage that does not hash to the stored secret_hash.
func TestCompleteWrongPreimageRejected(t *testing.T) {
	clock := &fixedClock{height: 1}
	state, eng := newTestEngine(t, clock, nil)
	exec := vm.NewExecutor(state, eng, events.NewEmitter())

	maker, _ := wallet.Generate()
	taker, _ := wallet.Generate()
	fundAccount(t, state, maker.PubKey(), 1000)
	fundAccount(t, state, taker.PubKey(), 1000)
	creditLedger(t, state, maker.PubKey(), 500)

	secretHash := crypto.Hashlock([]byte("the-real-secret"))
	createTx, _ := maker.CreateEscrowTx(0, 0, secretHash, 20, taker.PubKey(), core.Native(), big.NewInt(50), nil, nil)
	block := core.NewBlock(1, "0000", maker.PubKey(), nil)
	if err := exec.ExecuteTx(block, createTx); err != nil {
		t.Fatal(err)
	}
	id, _ := eng.GetBySecret(secretHash)

	fundTx, _ := maker.FundEscrowTx(1, 0, id)
	if err := exec.ExecuteTx(block, fundTx); err != nil {
		t.Fatal(err)
	}

	badTx, _ := taker.CompleteEscrowTx(0, 0, id, []byte("wrong-secret"))
	if err := exec.ExecuteTx(block, badTx); err == nil {
		t.Error("expected complete_escrow with wrong preimage to fail")
	}

	e, _ := eng.GetEscrow(id)
	if e.State != core.StateActive {
		t.Errorf("escrow state should be unchanged, got %s", e.State)
	}
}

// TestTogglePauseRequiresAuthority verifies toggle_pause is rejected from a
// non-authority caller and accepted from a configured one.
func TestTogglePauseRequiresAuthority(t *testing.T) {
	clock := &fixedClock{height: 1}
	outsider, _ := wallet.Generate()
	authority, _ := wallet.Generate()
	state, eng := newTestEngine(t, clock, []string{authority.PubKey()})
	exec := vm.NewExecutor(state, eng, events.NewEmitter())
	fundAccount(t, state, outsider.PubKey(), 100)
	fundAccount(t, state, authority.PubKey(), 100)

	block := core.NewBlock(1, "0000", authority.PubKey(), nil)

	badTx, _ := outsider.TogglePauseTx(0, 0)
	if err := exec.ExecuteTx(block, badTx); err == nil {
		t.Error("expected toggle_pause from non-authority to fail")
	}
	paused, _ := eng.IsPaused()
	if paused {
		t.Error("pause flag should be unchanged after rejected attempt")
	}

	goodTx, _ := authority.TogglePauseTx(0, 0)
	if err := exec.ExecuteTx(block, goodTx); err != nil {
		t.Fatalf("toggle_pause: %v", err)
	}
	paused, _ = eng.IsPaused()
	if !paused {
		t.Error("pause flag should be set after authority toggles it")
	}
}

// TestNonceReplay verifies that replaying a transaction with the same nonce fails.
func TestNonceReplay(t *testing.T) {
	clock := &fixedClock{height: 1}
	w, _ := wallet.Generate()
	state, eng := newTestEngine(t, clock, []string{w.PubKey()})
	exec := vm.NewExecutor(state, eng, events.NewEmitter())
	fundAccount(t, state, w.PubKey(), 1000)

	block := core.NewBlock(1, "0000", w.PubKey(), nil)
	tx1, _ := w.TogglePauseTx(0, 0)
	if err := exec.ExecuteTx(block, tx1); err != nil {
		t.Fatalf("first toggle_pause should succeed: %v", err)
	}

	// Replay the exact same (nonce=0) transaction again.
	if err := exec.ExecuteTx(block, tx1); err == nil {
		t.Error("replay with the same nonce should fail")
	}
}
