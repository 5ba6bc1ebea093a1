package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/tolelom/htlcescrow/core"
	"github.com/tolelom/htlcescrow/crypto"
	"github.com/tolelom/htlcescrow/ledger"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock builds and signs block #0 from the config's Alloc
// and LedgerAlloc maps. It sets initial fee-account balances in state,
// seeds the custody ledger's native-asset balances (if backend supports
// Crediter), initialises the escrow store's pause flag to false, and
// commits. next_id is left to the store's own lazy default (1) — there is
// nothing to initialise explicitly since AllocateID starts there itself.
func CreateGenesisBlock(cfg *Config, state core.State, store core.Store, backend ledger.Backend, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	proposerPub := proposerPriv.Public()

	for pubkeyHex, balance := range cfg.Genesis.Alloc {
		acc := &core.Account{
			Address: pubkeyHex,
			Balance: balance,
			Nonce:   0,
		}
		if err := state.SetAccount(acc); err != nil {
			return nil, err
		}
	}

	if len(cfg.Genesis.LedgerAlloc) > 0 {
		crediter, ok := backend.(ledger.Crediter)
		if !ok {
			return nil, fmt.Errorf("genesis: ledger_alloc configured but backend does not support crediting")
		}
		for account, amountStr := range cfg.Genesis.LedgerAlloc {
			amount, ok := new(big.Int).SetString(amountStr, 10)
			if !ok {
				return nil, fmt.Errorf("genesis: malformed ledger_alloc amount %q for %s", amountStr, account)
			}
			if err := crediter.Credit(core.Native(), account, amount); err != nil {
				return nil, fmt.Errorf("genesis: credit %s: %w", account, err)
			}
		}
	}

	if err := store.SetPaused(false); err != nil {
		return nil, err
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlock(0, GenesisHash, proposerPub.Hex(), nil)
	block.Header.StateRoot = stateRoot
	// There is no ChainID field on BlockHeader; the chain id is instead
	// folded into the empty genesis block's TxRoot so peers can detect a
	// network mismatch from the genesis block alone.
	block.Header.TxRoot = crypto.Hash([]byte(cfg.Genesis.ChainID))
	block.Sign(proposerPriv)
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
