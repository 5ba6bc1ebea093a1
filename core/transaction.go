package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/htlcescrow/crypto"
)

// TxType identifies which of the six escrow dispatch entry points a
// transaction invokes.
type TxType string

const (
	TxCreateEscrow        TxType = "create_escrow"
	TxFundEscrow          TxType = "fund_escrow"
	TxCompleteEscrow      TxType = "complete_escrow"
	TxCancelAfterTimelock TxType = "cancel_after_timelock"
	TxCancelBeforeFunding TxType = "cancel_before_funding"
	TxTogglePause         TxType = "toggle_pause"
)

// Transaction is the atomic unit the mempool queues and a block commits.
// From holds the signer's full hex-encoded ed25519 public key. Root-origin
// operations (toggle_pause) are still signed transactions; the dispatch
// layer grants Root only when From is a configured validator (see
// engine.Origin and config.Config.Validators).
type Transaction struct {
	ID        string          `json:"id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields covered by the signature.
type signingBody struct {
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
func (tx *Transaction) Hash() string {
	body := signingBody{
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types, one per dispatch entry point ----

// CreateEscrowPayload is the payload for TxCreateEscrow.
type CreateEscrowPayload struct {
	SecretHash     [32]byte  `json:"secret_hash"`
	Timelock       uint64    `json:"timelock"`
	Taker          string    `json:"taker"`
	Asset          AssetKind `json:"asset"`
	Amount         string    `json:"amount"` // decimal string encoding of a uint128
	XcmDestination []byte    `json:"xcm_destination,omitempty"`
	Metadata       []byte    `json:"metadata,omitempty"`
}

// FundEscrowPayload is the payload for TxFundEscrow.
type FundEscrowPayload struct {
	ID EscrowID `json:"id"`
}

// CompleteEscrowPayload is the payload for TxCompleteEscrow.
type CompleteEscrowPayload struct {
	ID       EscrowID `json:"id"`
	Preimage []byte   `json:"preimage"`
}

// CancelAfterTimelockPayload is the payload for TxCancelAfterTimelock.
type CancelAfterTimelockPayload struct {
	ID EscrowID `json:"id"`
}

// CancelBeforeFundingPayload is the payload for TxCancelBeforeFunding.
type CancelBeforeFundingPayload struct {
	ID EscrowID `json:"id"`
}

// TogglePausePayload is the (empty) payload for TxTogglePause.
type TogglePausePayload struct{}
