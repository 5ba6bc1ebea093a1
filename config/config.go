package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`   // CA certificate PEM path
	NodeCert string `json:"node_cert"` // node certificate PEM path
	NodeKey  string `json:"node_key"`  // node private key PEM path
}

// SeedPeer identifies a remote node to connect to on startup.
type SeedPeer struct {
	ID   string `json:"id"`   // remote node ID
	Addr string `json:"addr"` // host:port
}

// EscrowConfig carries the escrow engine's Clock & Config bounds (C1):
// the timelock window, the per-account escrow quota, and
// the pallet id the sovereign custodian account is derived from.
type EscrowConfig struct {
	MinTimelock          uint64 `json:"min_timelock"`
	MaxTimelock          uint64 `json:"max_timelock"`
	MaxEscrowsPerAccount uint32 `json:"max_escrows_per_account"`
	// PalletID is 64 hex chars (32 bytes); the sovereign custodian account
	// is deterministically derived from it (ledger.SovereignAccount).
	PalletID string `json:"pallet_id"`
}

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID string            `json:"chain_id"`
	Alloc   map[string]uint64 `json:"alloc"` // pubkey hex → initial fee-account balance
	// LedgerAlloc seeds the escrow custody ledger's native-asset balances
	// (pubkey hex → decimal uint128 string), independent of the fee
	// Alloc above: the custody ledger and the fee-paying Account balance
	// are separate concerns (weight/fee accounting is handled independently
	// of the custody ledger).
	LedgerAlloc map[string]string `json:"ledger_alloc,omitempty"`
}

// Config holds all node configuration.
type Config struct {
	NodeID       string        `json:"node_id"`
	DataDir      string        `json:"data_dir"`
	RPCPort      int           `json:"rpc_port"`
	P2PPort      int           `json:"p2p_port"`
	MaxBlockTxs  int           `json:"max_block_txs"` // max transactions per block; 0 → 500
	Validators   []string      `json:"validators"`    // authorised proposer pubkey hexes; also the escrow engine's Root-equivalent authority set
	Genesis      GenesisConfig `json:"genesis"`
	Escrow       EscrowConfig  `json:"escrow"`
	SeedPeers    []SeedPeer    `json:"seed_peers,omitempty"`     // initial peers to connect to
	TLS          *TLSConfig    `json:"tls,omitempty"`            // nil → plain TCP
	RPCAuthToken string        `json:"rpc_auth_token,omitempty"` // empty → no auth
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:      "node0",
		DataDir:     "./data",
		RPCPort:     8545,
		P2PPort:     30303,
		MaxBlockTxs: 500,
		Genesis: GenesisConfig{
			ChainID: "htlcescrow-dev",
			Alloc:   map[string]uint64{},
		},
		Escrow: EscrowConfig{
			MinTimelock:          10,
			MaxTimelock:          100_000,
			MaxEscrowsPerAccount: 64,
			PalletID:             hex.EncodeToString([]byte("htlcescrow/default-pallet-id!!!!")),
		},
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Genesis.ChainID == "" {
		return fmt.Errorf("genesis.chain_id must not be empty")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port must be 1-65535, got %d", c.RPCPort)
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if c.RPCPort == c.P2PPort {
		return fmt.Errorf("rpc_port and p2p_port must not be the same (%d)", c.RPCPort)
	}
	if len(c.Validators) == 0 {
		return fmt.Errorf("validators list must not be empty")
	}
	for i, v := range c.Validators {
		b, err := hex.DecodeString(v)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("validators[%d]: must be 64-char hex (32 bytes ed25519 pubkey), got %q", i, v)
		}
	}
	if c.Escrow.MinTimelock == 0 {
		return fmt.Errorf("escrow.min_timelock must be > 0")
	}
	if c.Escrow.MaxTimelock < c.Escrow.MinTimelock {
		return fmt.Errorf("escrow.max_timelock must be >= escrow.min_timelock")
	}
	if c.Escrow.MaxEscrowsPerAccount == 0 {
		return fmt.Errorf("escrow.max_escrows_per_account must be > 0")
	}
	palletID, err := hex.DecodeString(c.Escrow.PalletID)
	if err != nil || len(palletID) != 32 {
		return fmt.Errorf("escrow.pallet_id must be 64-char hex (32 bytes), got %q", c.Escrow.PalletID)
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// PalletIDBytes decodes Escrow.PalletID, already validated by Validate.
func (c *Config) PalletIDBytes() [32]byte {
	var id [32]byte
	b, _ := hex.DecodeString(c.Escrow.PalletID)
	copy(id[:], b)
	return id
}
