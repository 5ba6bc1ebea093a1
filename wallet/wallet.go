package wallet

import (
	"math/big"

	"github.com/tolelom/htlcescrow/core"
	"github.com/tolelom/htlcescrow/crypto"
)

// Wallet holds a key pair and provides transaction-building helpers for
// the six escrow dispatch entry points.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as "from" address).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (first 20 bytes of SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// NewTx creates a signed transaction. nonce should match the account's
// current nonce.
func (w *Wallet) NewTx(typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(typ, w.pub.Hex(), nonce, fee, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// CreateEscrowTx builds a signed create_escrow transaction.
func (w *Wallet) CreateEscrowTx(nonce, fee uint64, secretHash [32]byte, timelock uint64, taker string, asset core.AssetKind, amount *big.Int, destination, metadata []byte) (*core.Transaction, error) {
	return w.NewTx(core.TxCreateEscrow, nonce, fee, core.CreateEscrowPayload{
		SecretHash:     secretHash,
		Timelock:       timelock,
		Taker:          taker,
		Asset:          asset,
		Amount:         amount.String(),
		XcmDestination: destination,
		Metadata:       metadata,
	})
}

// FundEscrowTx builds a signed fund_escrow transaction.
func (w *Wallet) FundEscrowTx(nonce, fee uint64, id core.EscrowID) (*core.Transaction, error) {
	return w.NewTx(core.TxFundEscrow, nonce, fee, core.FundEscrowPayload{ID: id})
}

// CompleteEscrowTx builds a signed complete_escrow transaction, revealing
// preimage on-chain.
func (w *Wallet) CompleteEscrowTx(nonce, fee uint64, id core.EscrowID, preimage []byte) (*core.Transaction, error) {
	return w.NewTx(core.TxCompleteEscrow, nonce, fee, core.CompleteEscrowPayload{ID: id, Preimage: preimage})
}

// CancelEscrowTx builds a signed post-timelock refund transaction.
func (w *Wallet) CancelEscrowTx(nonce, fee uint64, id core.EscrowID) (*core.Transaction, error) {
	return w.NewTx(core.TxCancelAfterTimelock, nonce, fee, core.CancelAfterTimelockPayload{ID: id})
}

// CancelBeforeFundingTx builds a signed cancel_before_funding transaction.
func (w *Wallet) CancelBeforeFundingTx(nonce, fee uint64, id core.EscrowID) (*core.Transaction, error) {
	return w.NewTx(core.TxCancelBeforeFunding, nonce, fee, core.CancelBeforeFundingPayload{ID: id})
}

// TogglePauseTx builds a signed toggle_pause transaction. The dispatch
// layer grants Root only if this wallet's public key hex (PubKey, the
// transaction's From) is a configured authority (engine.Params.Authorities); otherwise it is rejected with
// BadOrigin like any other Signed caller.
func (w *Wallet) TogglePauseTx(nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTogglePause, nonce, fee, core.TogglePausePayload{})
}
