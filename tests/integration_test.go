package tests

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/tolelom/htlcescrow/config"
	"github.com/tolelom/htlcescrow/consensus"
	"github.com/tolelom/htlcescrow/core"
	"github.com/tolelom/htlcescrow/crypto"
	"github.com/tolelom/htlcescrow/engine"
	"github.com/tolelom/htlcescrow/events"
	"github.com/tolelom/htlcescrow/indexer"
	"github.com/tolelom/htlcescrow/internal/testutil"
	"github.com/tolelom/htlcescrow/network"
	"github.com/tolelom/htlcescrow/rpc"
	"github.com/tolelom/htlcescrow/storage"
	"github.com/tolelom/htlcescrow/vm"
	"github.com/tolelom/htlcescrow/wallet"

	_ "github.com/tolelom/htlcescrow/vm/modules/escrowmodule"
)

// rpcCall is a helper that sends a JSON-RPC request and decodes the result.
func rpcCall(t *testing.T, url, method string, params any) json.RawMessage {
	t.Helper()
	body := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("rpc %s: %v", method, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		t.Fatalf("rpc %s decode: %v (raw: %s)", method, err, raw)
	}
	if rpcResp.Error != nil {
		t.Fatalf("rpc %s error: [%d] %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result
}

func sendTx(t *testing.T, url string, tx *core.Transaction) string {
	t.Helper()
	result := rpcCall(t, url, "sendTx", tx)
	var out struct {
		TxID string `json:"tx_id"`
	}
	json.Unmarshal(result, &out)
	t.Logf("  -> tx submitted: %s", out.TxID)
	return out.TxID
}

func waitBlock(t *testing.T, url string, targetHeight uint64) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		result := rpcCall(t, url, "getBlockHeight", map[string]any{})
		var h uint64
		json.Unmarshal(result, &h)
		if h >= targetHeight {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatal("timed out waiting for block")
}

// startTestNode starts a full node (P2P + RPC + consensus) and returns
// cleanup func. validatorWallet doubles as the sole configured escrow
// Root-equivalent authority.
func startTestNode(t *testing.T, validatorWallet *wallet.Wallet, ledgerAlloc map[string]string, feeAlloc map[string]uint64) (rpcURL string, cleanup func()) {
	t.Helper()

	db := testutil.NewMemDB()
	stateDB := storage.NewStateDB(db)
	blockStore := testutil.NewMemBlockStore()
	bc := core.NewBlockchain(blockStore)
	if err := bc.Init(); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		NodeID:      "test-node",
		DataDir:     "./data",
		RPCPort:     1,
		P2PPort:     2,
		MaxBlockTxs: 500,
		Validators:  []string{validatorWallet.PubKey()},
		Genesis: config.GenesisConfig{
			ChainID:     "test-chain",
			Alloc:       feeAlloc,
			LedgerAlloc: ledgerAlloc,
		},
		Escrow: config.EscrowConfig{
			MinTimelock:          1,
			MaxTimelock:          100_000,
			MaxEscrowsPerAccount: 64,
			PalletID:             hex.EncodeToString([]byte("integration-test-pallet-id!!!!!!")),
		},
	}

	params := engine.Params{
		MinTimelock:          cfg.Escrow.MinTimelock,
		MaxTimelock:          cfg.Escrow.MaxTimelock,
		MaxEscrowsPerAccount: cfg.Escrow.MaxEscrowsPerAccount,
		PalletID:             cfg.PalletIDBytes(),
		Authorities:          cfg.Validators,
	}
	emitter := events.NewEmitter()
	eng := engine.New(stateDB, stateDB, bc, params, emitter)

	genesis, err := config.CreateGenesisBlock(cfg, stateDB, stateDB, stateDB, validatorWallet.PrivKey())
	if err != nil {
		t.Fatal(err)
	}
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatal(err)
	}

	idx := indexer.New(db, emitter)
	mempool := core.NewMempool()
	exec := vm.NewExecutor(stateDB, eng, emitter)
	poa := consensus.New(cfg, bc, stateDB, mempool, exec, emitter, validatorWallet.PrivKey())

	node := network.NewNode("test-node", ":0", mempool, nil)
	_ = network.NewSyncer(node, bc, poa, exec, stateDB)
	if err := node.Start(); err != nil {
		t.Fatal(err)
	}

	handler := rpc.NewHandler(bc, mempool, stateDB, eng, idx)
	rpcServer := rpc.NewServer(":0", handler, "")
	if err := rpcServer.Start(); err != nil {
		t.Fatal(err)
	}

	rpcAddr := rpcServer.Addr().String()
	url := fmt.Sprintf("http://%s/", rpcAddr)

	done := make(chan struct{})
	go poa.Run(300*time.Millisecond, done)

	waitBlock(t, url, 1)

	return url, func() {
		close(done)
		rpcServer.Stop()
		node.Stop()
	}
}

// TestEscrowIntegration drives the full create → fund → complete lifecycle
// (and a separate create → cancel_before_funding lifecycle) over the JSON-RPC surface
// against a running node with live PoA block production.
func TestEscrowIntegration(t *testing.T) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		t.Skip("SKIP_INTEGRATION set")
	}

	validator, _ := wallet.Generate()
	maker, _ := wallet.Generate()
	taker, _ := wallet.Generate()

	t.Logf("Validator: %s", validator.PubKey())
	t.Logf("Maker:     %s", maker.PubKey())
	t.Logf("Taker:     %s", taker.PubKey())

	feeAlloc := map[string]uint64{
		validator.PubKey(): 10_000_000,
		maker.PubKey():     10_000,
		taker.PubKey():     10_000,
	}
	ledgerAlloc := map[string]string{
		maker.PubKey(): "1000",
	}
	url, cleanup := startTestNode(t, validator, ledgerAlloc, feeAlloc)
	defer cleanup()

	var makerNonce, takerNonce uint64

	cancelledHash := crypto.Hashlock([]byte("abandoned-swap"))
	var cancelledID core.EscrowID

	t.Run("1_CreateThenCancelBeforeFunding", func(t *testing.T) {
		tx, err := maker.CreateEscrowTx(makerNonce, 10, cancelledHash, 50, taker.PubKey(), core.Native(), big.NewInt(50), nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		sendTx(t, url, tx)
		makerNonce++
		waitBlock(t, url, 2)

		result := rpcCall(t, url, "getEscrowBySecret", map[string]string{"secret_hash": hex.EncodeToString(cancelledHash[:])})
		var id uint32
		json.Unmarshal(result, &id)
		if id == 0 {
			t.Fatal("expected a non-zero escrow id")
		}
		cancelledID = core.EscrowID(id)

		cancelTx, _ := maker.CancelBeforeFundingTx(makerNonce, 10, cancelledID)
		sendTx(t, url, cancelTx)
		makerNonce++
		waitBlock(t, url, 3)

		result = rpcCall(t, url, "getEscrow", map[string]any{"id": uint32(cancelledID)})
		var e core.Escrow
		json.Unmarshal(result, &e)
		if e.State != core.StateCancelled {
			t.Fatalf("state: got %v want Cancelled", e.State)
		}
	})

	preimage := []byte("atomic-swap-secret")
	secretHash := crypto.Hashlock(preimage)
	var escrowID core.EscrowID

	t.Run("2_CreateFundComplete", func(t *testing.T) {
		tx, err := maker.CreateEscrowTx(makerNonce, 10, secretHash, 50, taker.PubKey(), core.Native(), big.NewInt(100), nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		sendTx(t, url, tx)
		makerNonce++
		waitBlock(t, url, 4)

		result := rpcCall(t, url, "getEscrowBySecret", map[string]string{"secret_hash": hex.EncodeToString(secretHash[:])})
		var id uint32
		json.Unmarshal(result, &id)
		if id == 0 {
			t.Fatal("expected a non-zero escrow id")
		}
		escrowID = core.EscrowID(id)

		fundTx, _ := maker.FundEscrowTx(makerNonce, 10, escrowID)
		sendTx(t, url, fundTx)
		makerNonce++
		waitBlock(t, url, 5)

		result = rpcCall(t, url, "isEscrowActive", map[string]any{"id": uint32(escrowID)})
		var active bool
		json.Unmarshal(result, &active)
		if !active {
			t.Fatal("escrow should be active after funding")
		}

		completeTx, _ := taker.CompleteEscrowTx(takerNonce, 10, escrowID, preimage)
		sendTx(t, url, completeTx)
		takerNonce++
		waitBlock(t, url, 6)

		result = rpcCall(t, url, "getEscrow", map[string]any{"id": uint32(escrowID)})
		var e core.Escrow
		json.Unmarshal(result, &e)
		if e.State != core.StateCompleted {
			t.Fatalf("state: got %v want Completed", e.State)
		}
	})

	t.Run("3_QueryByMaker", func(t *testing.T) {
		result := rpcCall(t, url, "escrowsByMaker", map[string]string{"account": maker.PubKey()})
		var ids []uint32
		json.Unmarshal(result, &ids)
		if len(ids) != 2 {
			t.Fatalf("escrowsByMaker: got %v want 2 entries", ids)
		}
	})

	t.Log("=== Escrow integration test passed ===")
}
