package engine

import (
	"math/big"
	"testing"

	"github.com/tolelom/htlcescrow/core"
	"github.com/tolelom/htlcescrow/crypto"
	"github.com/tolelom/htlcescrow/events"
	"github.com/tolelom/htlcescrow/internal/testutil"
	"github.com/tolelom/htlcescrow/ledger"
	"github.com/tolelom/htlcescrow/storage"
)

type testClock struct{ height uint64 }

func (c *testClock) CurrentBlock() uint64 { return c.height }

func newTestEngine(t *testing.T, height uint64, authorities []string) (*Engine, *ledger.MemoryBackend, *testClock) {
	t.Helper()
	store := storage.NewStateDB(testutil.NewMemDB())
	backend := ledger.NewMemoryBackend(big.NewInt(0))
	clock := &testClock{height: height}
	if len(authorities) == 0 {
		// Params.Validate requires at least one authority; tests that never
		// toggle pause get a placeholder.
		authorities = []string{"root"}
	}
	params := Params{
		MinTimelock:          5,
		MaxTimelock:          1000,
		MaxEscrowsPerAccount: 4,
		PalletID:             [32]byte{9, 9, 9},
		Authorities:          authorities,
	}
	eng := New(store, backend, clock, params, events.NewEmitter())
	return eng, backend, clock
}

func mustCredit(t *testing.T, backend *ledger.MemoryBackend, account string, amount int64) {
	t.Helper()
	if err := backend.Credit(core.Native(), account, big.NewInt(amount)); err != nil {
		t.Fatal(err)
	}
}

// TestHappyPath: create → fund → complete moves funds to the taker.
func TestHappyPath(t *testing.T) {
	eng, backend, _ := newTestEngine(t, 10, nil)
	mustCredit(t, backend, "maker", 1000)

	preimage := []byte("shared-secret")
	hash := crypto.Hashlock(preimage)

	id, err := eng.CreateEscrow(Signed("maker"), CreateEscrowParams{
		SecretHash: hash,
		Timelock:   20,
		Taker:      "taker",
		Asset:      core.Native(),
		Amount:     big.NewInt(300),
	})
	if err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}
	if err := eng.FundEscrow(Signed("maker"), id); err != nil {
		t.Fatalf("FundEscrow: %v", err)
	}
	if err := eng.CompleteEscrow(Signed("anyone"), id, preimage); err != nil {
		t.Fatalf("CompleteEscrow: %v", err)
	}

	bal, _ := backend.Balance(core.Native(), "taker")
	if bal.Cmp(big.NewInt(300)) != 0 {
		t.Errorf("taker balance: got %s want 300", bal)
	}
	makerBal, _ := backend.Balance(core.Native(), "maker")
	if makerBal.Cmp(big.NewInt(700)) != 0 {
		t.Errorf("maker balance: got %s want 700", makerBal)
	}
	e, _ := eng.GetEscrow(id)
	if e.State != core.StateCompleted {
		t.Errorf("state: got %s want Completed", e.State)
	}
}

// TestWrongPreimageRejected verifies complete_escrow rejects a preimage
// that doesn't hash to the stored secret_hash.
func TestWrongPreimageRejected(t *testing.T) {
	eng, backend, _ := newTestEngine(t, 1, nil)
	mustCredit(t, backend, "maker", 1000)
	hash := crypto.Hashlock([]byte("real-secret"))

	id, err := eng.CreateEscrow(Signed("maker"), CreateEscrowParams{
		SecretHash: hash, Timelock: 10, Taker: "taker", Asset: core.Native(), Amount: big.NewInt(50),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.FundEscrow(Signed("maker"), id); err != nil {
		t.Fatal(err)
	}

	if err := eng.CompleteEscrow(Signed("taker"), id, []byte("wrong")); err != ErrInvalidSecret {
		t.Errorf("expected ErrInvalidSecret, got %v", err)
	}
	e, _ := eng.GetEscrow(id)
	if e.State != core.StateActive {
		t.Errorf("state should remain Active, got %s", e.State)
	}
}

// TestRefundAfterExpiry verifies cancel_after_timelock is rejected before
// expiry and succeeds exactly at the timelock height.
func TestRefundAfterExpiry(t *testing.T) {
	eng, backend, clock := newTestEngine(t, 1, nil)
	mustCredit(t, backend, "maker", 1000)
	hash := crypto.Hashlock([]byte("secret"))

	id, err := eng.CreateEscrow(Signed("maker"), CreateEscrowParams{
		SecretHash: hash, Timelock: 10, Taker: "taker", Asset: core.Native(), Amount: big.NewInt(100),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.FundEscrow(Signed("maker"), id); err != nil {
		t.Fatal(err)
	}

	if err := eng.CancelAfterTimelock(Signed("maker"), id); err != ErrTimelockNotExpired {
		t.Errorf("cancel before expiry: got %v want ErrTimelockNotExpired", err)
	}

	clock.height = 10
	if err := eng.CancelAfterTimelock(Signed("maker"), id); err != nil {
		t.Fatalf("CancelAfterTimelock at exact bound: %v", err)
	}
	bal, _ := backend.Balance(core.Native(), "maker")
	if bal.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("maker refunded balance: got %s want 1000", bal)
	}
}

// TestCancelBeforeFundingFreesSecretHash verifies a cancelled-before-funding
// escrow's secret_hash can be reused by a later create_escrow.
func TestCancelBeforeFundingFreesSecretHash(t *testing.T) {
	eng, backend, _ := newTestEngine(t, 1, nil)
	mustCredit(t, backend, "maker", 1000)
	hash := crypto.Hashlock([]byte("secret"))

	id, err := eng.CreateEscrow(Signed("maker"), CreateEscrowParams{
		SecretHash: hash, Timelock: 10, Taker: "taker", Asset: core.Native(), Amount: big.NewInt(100),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.CancelBeforeFunding(Signed("maker"), id); err != nil {
		t.Fatalf("CancelBeforeFunding: %v", err)
	}

	// The secret hash should now be reusable.
	id2, err := eng.CreateEscrow(Signed("maker"), CreateEscrowParams{
		SecretHash: hash, Timelock: 10, Taker: "taker", Asset: core.Native(), Amount: big.NewInt(50),
	})
	if err != nil {
		t.Fatalf("expected secret_hash reuse to succeed, got %v", err)
	}
	if id2 == id {
		t.Error("new escrow should have a fresh id")
	}
}

// TestPerAssetIsolation verifies funding one asset does
// not touch another asset's balance for the same accounts.
func TestPerAssetIsolation(t *testing.T) {
	eng, backend, _ := newTestEngine(t, 1, nil)
	mustCredit(t, backend, "maker", 1000)
	if err := backend.Credit(core.Asset(7), "maker", big.NewInt(1000)); err != nil {
		t.Fatal(err)
	}

	hashA := crypto.Hashlock([]byte("a"))
	idA, err := eng.CreateEscrow(Signed("maker"), CreateEscrowParams{
		SecretHash: hashA, Timelock: 10, Taker: "taker", Asset: core.Native(), Amount: big.NewInt(100),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.FundEscrow(Signed("maker"), idA); err != nil {
		t.Fatal(err)
	}

	nativeBal, _ := backend.Balance(core.Native(), "maker")
	assetBal, _ := backend.Balance(core.Asset(7), "maker")
	if nativeBal.Cmp(big.NewInt(900)) != 0 {
		t.Errorf("native balance: got %s want 900", nativeBal)
	}
	if assetBal.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("indexed-asset balance should be untouched: got %s want 1000", assetBal)
	}
}

// TestPauseQuarantine verifies that while paused, create_escrow is
// rejected with ErrPalletPaused and toggle_pause still succeeds.
func TestPauseQuarantine(t *testing.T) {
	eng, backend, _ := newTestEngine(t, 1, []string{"root"})
	mustCredit(t, backend, "maker", 1000)

	if err := eng.TogglePause(Root()); err != nil {
		t.Fatalf("TogglePause: %v", err)
	}
	paused, _ := eng.IsPaused()
	if !paused {
		t.Fatal("expected paused=true")
	}

	_, err := eng.CreateEscrow(Signed("maker"), CreateEscrowParams{
		SecretHash: crypto.Hashlock([]byte("x")), Timelock: 10, Taker: "taker", Asset: core.Native(), Amount: big.NewInt(1),
	})
	if err != ErrPalletPaused {
		t.Errorf("expected ErrPalletPaused, got %v", err)
	}

	if err := eng.TogglePause(Root()); err != nil {
		t.Fatalf("un-pausing should still succeed while paused: %v", err)
	}
}

// TestCreateEscrowBoundaries covers the amount=0 and maker=taker rejections
// and the exact min/max timelock bounds.
func TestCreateEscrowBoundaries(t *testing.T) {
	eng, backend, _ := newTestEngine(t, 100, nil)
	mustCredit(t, backend, "maker", 1000)

	cases := []struct {
		name     string
		p        CreateEscrowParams
		wantErr  error
	}{
		{"zero amount", CreateEscrowParams{SecretHash: crypto.Hashlock([]byte("1")), Timelock: 110, Taker: "taker", Asset: core.Native(), Amount: big.NewInt(0)}, ErrInvalidAsset},
		{"maker is taker", CreateEscrowParams{SecretHash: crypto.Hashlock([]byte("2")), Timelock: 110, Taker: "maker", Asset: core.Native(), Amount: big.NewInt(1)}, ErrInvalidTaker},
		{"timelock too soon", CreateEscrowParams{SecretHash: crypto.Hashlock([]byte("3")), Timelock: 104, Taker: "taker", Asset: core.Native(), Amount: big.NewInt(1)}, ErrInvalidTimelock},
		{"timelock too far", CreateEscrowParams{SecretHash: crypto.Hashlock([]byte("4")), Timelock: 2000, Taker: "taker", Asset: core.Native(), Amount: big.NewInt(1)}, ErrInvalidTimelock},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := eng.CreateEscrow(Signed("maker"), c.p); err != c.wantErr {
				t.Errorf("got %v want %v", err, c.wantErr)
			}
		})
	}

	// Exact bounds (min=5, max=1000 relative to now=100) must succeed.
	if _, err := eng.CreateEscrow(Signed("maker"), CreateEscrowParams{
		SecretHash: crypto.Hashlock([]byte("min-bound")), Timelock: 105, Taker: "taker", Asset: core.Native(), Amount: big.NewInt(1),
	}); err != nil {
		t.Errorf("min-bound timelock should succeed: %v", err)
	}
	if _, err := eng.CreateEscrow(Signed("maker"), CreateEscrowParams{
		SecretHash: crypto.Hashlock([]byte("max-bound")), Timelock: 1100, Taker: "taker", Asset: core.Native(), Amount: big.NewInt(1),
	}); err != nil {
		t.Errorf("max-bound timelock should succeed: %v", err)
	}
}

// TestDuplicateSecretHashRejected verifies hash uniqueness among live
// commitments.
func TestDuplicateSecretHashRejected(t *testing.T) {
	eng, backend, _ := newTestEngine(t, 1, nil)
	mustCredit(t, backend, "maker", 1000)
	hash := crypto.Hashlock([]byte("dup"))

	if _, err := eng.CreateEscrow(Signed("maker"), CreateEscrowParams{
		SecretHash: hash, Timelock: 10, Taker: "taker", Asset: core.Native(), Amount: big.NewInt(1),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.CreateEscrow(Signed("maker"), CreateEscrowParams{
		SecretHash: hash, Timelock: 10, Taker: "taker2", Asset: core.Native(), Amount: big.NewInt(1),
	}); err != ErrDuplicateSecretHash {
		t.Errorf("got %v want ErrDuplicateSecretHash", err)
	}
}

// TestNftUnsupported verifies fund_escrow rejects NFT asset kinds outright
// (NFT custody is not implemented).
func TestNftUnsupported(t *testing.T) {
	eng, backend, _ := newTestEngine(t, 1, nil)
	mustCredit(t, backend, "maker", 1000)

	id, err := eng.CreateEscrow(Signed("maker"), CreateEscrowParams{
		SecretHash: crypto.Hashlock([]byte("nft")), Timelock: 10, Taker: "taker", Asset: core.Nft(1, 1), Amount: big.NewInt(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.FundEscrow(Signed("maker"), id); err != ErrUnsupportedAsset {
		t.Errorf("got %v want ErrUnsupportedAsset", err)
	}
}

// TestDoubleComplete verifies a second complete_escrow against an
// already-Completed record is rejected and does not move funds twice.
func TestDoubleComplete(t *testing.T) {
	eng, backend, _ := newTestEngine(t, 1, nil)
	mustCredit(t, backend, "maker", 1000)
	preimage := []byte("once-only")
	hash := crypto.Hashlock(preimage)

	id, err := eng.CreateEscrow(Signed("maker"), CreateEscrowParams{
		SecretHash: hash, Timelock: 10, Taker: "taker", Asset: core.Native(), Amount: big.NewInt(100),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.FundEscrow(Signed("maker"), id); err != nil {
		t.Fatal(err)
	}
	if err := eng.CompleteEscrow(Signed("anyone"), id, preimage); err != nil {
		t.Fatalf("first CompleteEscrow: %v", err)
	}

	if err := eng.CompleteEscrow(Signed("anyone"), id, preimage); err != ErrInvalidEscrowState {
		t.Errorf("second CompleteEscrow: got %v want ErrInvalidEscrowState", err)
	}
	bal, _ := backend.Balance(core.Native(), "taker")
	if bal.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("taker balance should be unaffected by the replay: got %s want 100", bal)
	}
}

// TestDoubleCancel verifies a second cancel_after_timelock against an
// already-Cancelled record is rejected and does not refund twice.
func TestDoubleCancel(t *testing.T) {
	eng, backend, clock := newTestEngine(t, 1, nil)
	mustCredit(t, backend, "maker", 1000)
	hash := crypto.Hashlock([]byte("refund-once"))

	id, err := eng.CreateEscrow(Signed("maker"), CreateEscrowParams{
		SecretHash: hash, Timelock: 10, Taker: "taker", Asset: core.Native(), Amount: big.NewInt(100),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.FundEscrow(Signed("maker"), id); err != nil {
		t.Fatal(err)
	}
	clock.height = 10
	if err := eng.CancelAfterTimelock(Signed("maker"), id); err != nil {
		t.Fatalf("first CancelAfterTimelock: %v", err)
	}

	if err := eng.CancelAfterTimelock(Signed("maker"), id); err != ErrInvalidEscrowState {
		t.Errorf("second CancelAfterTimelock: got %v want ErrInvalidEscrowState", err)
	}
	bal, _ := backend.Balance(core.Native(), "maker")
	if bal.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("maker balance should be unaffected by the replay: got %s want 1000", bal)
	}
}

// TestDoubleFund verifies a second fund_escrow against an already-Active
// record is rejected rather than moving custody twice.
func TestDoubleFund(t *testing.T) {
	eng, backend, _ := newTestEngine(t, 1, nil)
	mustCredit(t, backend, "maker", 1000)
	hash := crypto.Hashlock([]byte("fund-once"))

	id, err := eng.CreateEscrow(Signed("maker"), CreateEscrowParams{
		SecretHash: hash, Timelock: 10, Taker: "taker", Asset: core.Native(), Amount: big.NewInt(100),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.FundEscrow(Signed("maker"), id); err != nil {
		t.Fatalf("first FundEscrow: %v", err)
	}

	if err := eng.FundEscrow(Signed("maker"), id); err != ErrInvalidEscrowState {
		t.Errorf("second FundEscrow: got %v want ErrInvalidEscrowState", err)
	}
	bal, _ := backend.Balance(core.Native(), "maker")
	if bal.Cmp(big.NewInt(900)) != 0 {
		t.Errorf("maker balance should reflect exactly one funding: got %s want 900", bal)
	}
}

// TestDoubleCancelBeforeFunding verifies a second cancel_before_funding
// against an already-Cancelled record is rejected.
func TestDoubleCancelBeforeFunding(t *testing.T) {
	eng, backend, _ := newTestEngine(t, 1, nil)
	mustCredit(t, backend, "maker", 1000)
	hash := crypto.Hashlock([]byte("cancel-once"))

	id, err := eng.CreateEscrow(Signed("maker"), CreateEscrowParams{
		SecretHash: hash, Timelock: 10, Taker: "taker", Asset: core.Native(), Amount: big.NewInt(100),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.CancelBeforeFunding(Signed("maker"), id); err != nil {
		t.Fatalf("first CancelBeforeFunding: %v", err)
	}
	if err := eng.CancelBeforeFunding(Signed("maker"), id); err != ErrInvalidEscrowState {
		t.Errorf("second CancelBeforeFunding: got %v want ErrInvalidEscrowState", err)
	}
}
