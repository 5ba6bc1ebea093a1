package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/tolelom/htlcescrow/core"
	"github.com/tolelom/htlcescrow/crypto"
	"github.com/tolelom/htlcescrow/ledger"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it.  All prefix constants must be declared
// via this function; manually editing statePrefixes is not required.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
// ComputeRoot() iterates these prefixes to build the full world-state view.
var statePrefixes []string

var (
	prefixAccount = registerPrefix("acct:")
	prefixEscrow  = registerPrefix("escrow:")
	prefixSecret  = registerPrefix("secret:")
	prefixMaker   = registerPrefix("maker:")
	prefixTaker   = registerPrefix("taker:")
	prefixBalance = registerPrefix("bal:")
	_             = registerPrefix("meta:")

	metaNextID = "meta:next_id"
	metaPaused = "meta:paused"
)

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements both core.Store (escrow records, indices, the id
// counter, and the pause flag) and ledger.Backend (the
// fungible custody ledger) on top of one DB with a shared
// in-memory write buffer, snapshot/rollback, and deterministic state-root
// computation. Sharing the buffer between the two interfaces is what
// gives custody conservation its atomicity: a dispatch's escrow
// record transition and its custodial balance move commit, or roll back,
// together — never separately.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

// ---- core.State: Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	data, err := s.get(prefixAccount + address)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	var acc core.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	s.set(prefixAccount+acc.Address, data)
	return nil
}

// ---- core.Store: Escrow ----

func escrowKey(id core.EscrowID) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(id))
	return prefixEscrow + string(b[:])
}

func (s *StateDB) GetEscrow(id core.EscrowID) (*core.Escrow, error) {
	data, err := s.get(escrowKey(id))
	if err != nil {
		return nil, err
	}
	var e core.Escrow
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *StateDB) SetEscrow(e *core.Escrow) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.set(escrowKey(e.ID), data)
	return nil
}

// ---- core.Store: secret-hash index ----

func secretKey(hash [32]byte) string {
	return prefixSecret + string(hash[:])
}

func (s *StateDB) GetBySecret(hash [32]byte) (core.EscrowID, error) {
	data, err := s.get(secretKey(hash))
	if err != nil {
		return 0, err
	}
	return core.EscrowID(binary.BigEndian.Uint32(data)), nil
}

func (s *StateDB) SetBySecret(hash [32]byte, id core.EscrowID) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(id))
	s.set(secretKey(hash), b[:])
	return nil
}

func (s *StateDB) DeleteBySecret(hash [32]byte) error {
	s.del(secretKey(hash))
	return nil
}

// ---- core.Store: maker/taker indices ----

func (s *StateDB) idList(key string) ([]core.EscrowID, error) {
	data, err := s.get(key)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []core.EscrowID
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *StateDB) appendIDList(key string, id core.EscrowID) error {
	ids, err := s.idList(key)
	if err != nil {
		return err
	}
	ids = append(ids, id)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

func (s *StateDB) MakerEscrows(addr string) ([]core.EscrowID, error) {
	return s.idList(prefixMaker + addr)
}

func (s *StateDB) AppendMakerEscrow(addr string, id core.EscrowID) error {
	return s.appendIDList(prefixMaker+addr, id)
}

func (s *StateDB) TakerEscrows(addr string) ([]core.EscrowID, error) {
	return s.idList(prefixTaker + addr)
}

func (s *StateDB) AppendTakerEscrow(addr string, id core.EscrowID) error {
	return s.appendIDList(prefixTaker+addr, id)
}

// ---- core.Store: id counter ----

// ErrCounterOverflow is returned by AllocateID instead of wrapping the
// uint32 id counter around.
var ErrCounterOverflow = errors.New("storage: escrow id counter overflow")

// AllocateID returns the next unused EscrowID (starting at 1) and
// advances the counter.
func (s *StateDB) AllocateID() (core.EscrowID, error) {
	data, err := s.get(metaNextID)
	var next uint32 = 1
	if err == nil {
		next = binary.BigEndian.Uint32(data)
	} else if !errors.Is(err, core.ErrNotFound) {
		return 0, err
	}
	if next == ^uint32(0) {
		return 0, ErrCounterOverflow
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], next+1)
	s.set(metaNextID, b[:])
	return core.EscrowID(next), nil
}

// ---- core.Store: pause flag ----

func (s *StateDB) IsPaused() (bool, error) {
	data, err := s.get(metaPaused)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(data) > 0 && data[0] == 1, nil
}

func (s *StateDB) SetPaused(paused bool) error {
	v := byte(0)
	if paused {
		v = 1
	}
	s.set(metaPaused, []byte{v})
	return nil
}

// ---- ledger.Backend ----

func balanceKey(asset core.AssetKind, account string) string {
	return prefixBalance + asset.Key() + ":" + account
}

func (s *StateDB) Balance(asset core.AssetKind, account string) (*big.Int, error) {
	data, err := s.get(balanceKey(asset, account))
	if errors.Is(err, core.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	bal, ok := new(big.Int).SetString(string(data), 10)
	if !ok {
		return nil, fmt.Errorf("corrupt balance at %s", balanceKey(asset, account))
	}
	return bal, nil
}

func (s *StateDB) setBalance(asset core.AssetKind, account string, bal *big.Int) {
	s.set(balanceKey(asset, account), []byte(bal.String()))
}

// Transfer implements ledger.Backend. This reference backend enforces no
// existential-deposit floor of its own (Preserve and Expendable behave
// identically here); a hosting chain's own balance pallet is where that
// floor would really live — see ledger.MemoryBackend for a backend that
// does enforce one, used in engine-level tests.
func (s *StateDB) Transfer(asset core.AssetKind, from, to string, amount *big.Int, preservation ledger.Preservation) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative amount")
	}
	fromBal, err := s.Balance(asset, from)
	if err != nil {
		return err
	}
	remaining := new(big.Int).Sub(fromBal, amount)
	if remaining.Sign() < 0 {
		return ledger.ErrInsufficientBalance
	}
	toBal, err := s.Balance(asset, to)
	if err != nil {
		return err
	}
	s.setBalance(asset, from, remaining)
	s.setBalance(asset, to, new(big.Int).Add(toBal, amount))
	return nil
}

// Credit sets up a starting balance (genesis allocation). Not part of the
// Backend interface.
func (s *StateDB) Credit(asset core.AssetKind, account string, amount *big.Int) error {
	cur, err := s.Balance(asset, account)
	if err != nil {
		return err
	}
	s.setBalance(asset, account, new(big.Int).Add(cur, amount))
	return nil
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete world state.
// It merges all persisted state entries (scanned from DB by the known state
// prefixes) with the current write buffer, then hashes the sorted key-value
// pairs using length-prefix encoding.  It does NOT flush or modify state,
// so it is safe to call before signing a block.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}

	for k, v := range s.dirty {
		merged[k] = v
	}

	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// WriteBatch and then clears it. Call ComputeRoot() before signing the block,
// then call Commit() after the block is safely stored.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
