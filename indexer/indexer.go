// Package indexer maintains secondary read-models over escrow events:
// per-asset total-value-locked counters and a destination-hint lookup,
// so RPC clients can answer "how much is locked" and "where is this
// escrow's counterparty chain" without replaying the whole ledger.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"

	"github.com/tolelom/htlcescrow/core"
	"github.com/tolelom/htlcescrow/events"
	"github.com/tolelom/htlcescrow/storage"
)

const (
	prefixTVL         = "idx:tvl:"
	prefixDestination = "idx:dest:"
)

// Indexer subscribes to engine events and updates secondary lookup tables.
// It never sees raw state; it only ever reacts to the Data payload the
// engine already chose to publish.
type Indexer struct {
	db      storage.DB
	emitter *events.Emitter
}

// New creates an Indexer backed by db and subscribes to escrow events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventEscrowFunded, idx.onEscrowFunded)
	emitter.Subscribe(events.EventEscrowCompleted, idx.onEscrowCompleted)
	emitter.Subscribe(events.EventEscrowCancelled, idx.onEscrowCancelled)
	emitter.Subscribe(events.EventEscrowCreated, idx.onEscrowCreated)
	return idx
}

// TotalValueLocked returns the current locked amount for asset, and
// whether any entry exists for it at all.
func (idx *Indexer) TotalValueLocked(asset string) (*big.Int, bool) {
	if _, err := idx.db.Get([]byte(prefixTVL + asset)); errors.Is(err, core.ErrNotFound) {
		return nil, false
	}
	v, err := idx.getAmount(prefixTVL + asset)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, false
		}
		log.Printf("[indexer] tvl read failed (asset=%s): %v", asset, err)
		return nil, false
	}
	return v, true
}

// DestinationHint returns the raw XCM destination recorded at creation
// time for a given escrow ID, if any.
func (idx *Indexer) DestinationHint(id core.EscrowID) ([]byte, bool) {
	data, err := idx.db.Get([]byte(fmt.Sprintf("%s%d", prefixDestination, uint32(id))))
	if err != nil {
		return nil, false
	}
	return data, true
}

// ---- event handlers ----

// onEscrowCreated records the XCM destination hint up front, independent
// of whether the escrow is ever funded — the hint describes intent, not
// custody.
func (idx *Indexer) onEscrowCreated(ev events.Event) {
	idRaw, ok := ev.Data["id"]
	if !ok {
		return
	}
	id, ok := toUint32(idRaw)
	if !ok {
		return
	}
	dest, _ := ev.Data["xcm_destination"].([]byte)
	if len(dest) == 0 {
		return
	}
	key := []byte(fmt.Sprintf("%s%d", prefixDestination, id))
	if err := idx.db.Set(key, dest); err != nil {
		log.Printf("[indexer] destination hint write failed (id=%d): %v", id, err)
	}
}

// onEscrowFunded adds the escrow's amount to its asset's TVL counter —
// this is the only point at which custody actually moves into the
// sovereign account.
func (idx *Indexer) onEscrowFunded(ev events.Event) {
	idx.adjustTVL(ev, 1)
}

// onEscrowCompleted and onEscrowCancelled both release custody back out
// of the sovereign account, so both subtract from TVL. A cancellation
// before funding carries no asset/amount (nothing was ever locked), so
// adjustTVL's empty-field guard makes that a no-op.
func (idx *Indexer) onEscrowCompleted(ev events.Event) {
	idx.adjustTVL(ev, -1)
}

func (idx *Indexer) onEscrowCancelled(ev events.Event) {
	idx.adjustTVL(ev, -1)
}

func (idx *Indexer) adjustTVL(ev events.Event, sign int64) {
	asset, _ := ev.Data["asset"].(string)
	amountStr, _ := ev.Data["amount"].(string)
	if asset == "" || amountStr == "" {
		return
	}
	delta, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		log.Printf("[indexer] tvl malformed amount %q for asset %s", amountStr, asset)
		return
	}
	if sign < 0 {
		delta.Neg(delta)
	}
	if err := idx.addAmount(prefixTVL+asset, delta); err != nil {
		log.Printf("[indexer] tvl update failed (asset=%s): %v", asset, err)
	}
}

// ---- amount helpers ----

func (idx *Indexer) getAmount(key string) (*big.Int, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	v, ok := new(big.Int).SetString(string(data), 10)
	if !ok {
		return nil, fmt.Errorf("indexer: malformed amount at %s", key)
	}
	return v, nil
}

func (idx *Indexer) addAmount(key string, delta *big.Int) error {
	cur, err := idx.getAmount(key)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(cur, delta)
	if next.Sign() < 0 {
		next.SetInt64(0)
	}
	return idx.db.Set([]byte(key), []byte(next.String()))
}

func toUint32(v any) (uint32, bool) {
	switch n := v.(type) {
	case uint32:
		return n, true
	case int:
		return uint32(n), true
	case float64:
		return uint32(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return uint32(i), true
	default:
		return 0, false
	}
}
