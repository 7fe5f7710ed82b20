package state

import (
	"errors"
	"fmt"
	"math"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"payguard/native/escrow"
	"payguard/storage"
)

var (
	contractPrefix = []byte("payguard/contract/")
	balancePrefix  = []byte("payguard/balance/")
	custodyPrefix  = []byte("payguard/custody/")
	vaultNamespace = []byte("payguard/vault/")
)

// Manager provides keyed access to contract records, party balances and
// per-contract custody ledgers on top of a raw key-value store. Records are
// RLP encoded at keccak-hashed, prefixed keys so no two keyspaces can
// collide. Balance mutations take a manager-wide lock; the escrow engine
// already serializes per contract, the lock covers cross-contract account
// traffic.
type Manager struct {
	db storage.Database
	mu sync.Mutex
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func contractKey(addr [32]byte) []byte {
	return ethcrypto.Keccak256(contractPrefix, addr[:])
}

func balanceKey(addr [20]byte, asset string) []byte {
	return ethcrypto.Keccak256(balancePrefix, []byte(asset), []byte{':'}, addr[:])
}

func custodyKey(addr [32]byte, asset string) []byte {
	return ethcrypto.Keccak256(custodyPrefix, []byte(asset), []byte{':'}, addr[:])
}

// storedMilestone is the persisted milestone layout: fixed-width integers and
// fixed 32-byte hashes only, so the encoding stays RLP-clean and
// deterministic.
type storedMilestone struct {
	Amount               uint64
	Description          string
	DescriptionHash      [32]byte
	Status               uint8
	ProofHash            [32]byte
	DisputeReasonHash    [32]byte
	ArbitrationProofHash [32]byte
	SubmittedAt          uint64
}

// storedContract is the persisted contract layout. The milestone array keeps
// its full capacity with a count field; unused slots are zero sentinels.
type storedContract struct {
	ID              uint64
	Client          [20]byte
	Freelancer      [20]byte
	Arbitrator      [20]byte
	Asset           string
	TotalAmount     uint64
	ReleasedAmount  uint64
	DescriptionHash [32]byte
	Status          uint8
	CreatedAt       uint64
	Funded          bool
	MilestoneCount  uint8
	Milestones      [escrow.MaxMilestones]storedMilestone
}

func toStored(c *escrow.Contract) *storedContract {
	stored := &storedContract{
		ID:              c.ID,
		Client:          c.Client,
		Freelancer:      c.Freelancer,
		Arbitrator:      c.Arbitrator,
		Asset:           c.Asset,
		TotalAmount:     c.TotalAmount,
		ReleasedAmount:  c.ReleasedAmount,
		DescriptionHash: c.DescriptionHash,
		Status:          uint8(c.Status),
		CreatedAt:       uint64(c.CreatedAt),
		Funded:          c.Funded,
		MilestoneCount:  c.MilestoneCount,
	}
	for i := range c.Milestones {
		ms := c.Milestones[i]
		stored.Milestones[i] = storedMilestone{
			Amount:               ms.Amount,
			Description:          ms.Description,
			DescriptionHash:      ms.DescriptionHash,
			Status:               uint8(ms.Status),
			ProofHash:            ms.ProofHash,
			DisputeReasonHash:    ms.DisputeReasonHash,
			ArbitrationProofHash: ms.ArbitrationProofHash,
			SubmittedAt:          uint64(ms.SubmittedAt),
		}
	}
	return stored
}

func fromStored(s *storedContract) *escrow.Contract {
	contract := &escrow.Contract{
		ID:              s.ID,
		Client:          s.Client,
		Freelancer:      s.Freelancer,
		Arbitrator:      s.Arbitrator,
		Asset:           s.Asset,
		TotalAmount:     s.TotalAmount,
		ReleasedAmount:  s.ReleasedAmount,
		DescriptionHash: s.DescriptionHash,
		Status:          escrow.ContractStatus(s.Status),
		CreatedAt:       int64(s.CreatedAt),
		Funded:          s.Funded,
		MilestoneCount:  s.MilestoneCount,
	}
	for i := range s.Milestones {
		ms := s.Milestones[i]
		contract.Milestones[i] = escrow.Milestone{
			Amount:               ms.Amount,
			Description:          ms.Description,
			DescriptionHash:      ms.DescriptionHash,
			Status:               escrow.MilestoneStatus(ms.Status),
			ProofHash:            ms.ProofHash,
			DisputeReasonHash:    ms.DisputeReasonHash,
			ArbitrationProofHash: ms.ArbitrationProofHash,
			SubmittedAt:          int64(ms.SubmittedAt),
		}
	}
	return contract
}

// ContractPut sanitizes and atomically replaces the contract record at its
// derived address.
func (m *Manager) ContractPut(c *escrow.Contract) error {
	sanitized, err := escrow.SanitizeContract(c)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(toStored(sanitized))
	if err != nil {
		return err
	}
	return m.db.Put(contractKey(sanitized.Address()), encoded)
}

// ContractGet loads the contract stored at the given address. The second
// return value reports existence.
func (m *Manager) ContractGet(addr [32]byte) (*escrow.Contract, bool) {
	data, err := m.db.Get(contractKey(addr))
	if err != nil {
		return nil, false
	}
	stored := new(storedContract)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	return fromStored(stored), true
}

// VaultAddress derives the module custody account for an asset. The address
// is the tail of a namespaced keccak hash, so no keypair can ever sign for
// it.
func (m *Manager) VaultAddress(asset string) ([20]byte, error) {
	normalized, err := escrow.NormalizeAsset(asset)
	if err != nil {
		return [20]byte{}, err
	}
	digest := ethcrypto.Keccak256(vaultNamespace, []byte(normalized))
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr, nil
}

func (m *Manager) readBalance(key []byte) (uint64, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var balance uint64
	if err := rlp.DecodeBytes(data, &balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (m *Manager) writeBalance(key []byte, balance uint64) error {
	encoded, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// BalanceOf returns the asset balance held by a party account.
func (m *Manager) BalanceOf(addr [20]byte, asset string) (uint64, error) {
	normalized, err := escrow.NormalizeAsset(asset)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBalance(balanceKey(addr, normalized))
}

// Mint credits new value to an account. Reserved for genesis allocations and
// tests; regular operation only moves existing value.
func (m *Manager) Mint(addr [20]byte, asset string, amount uint64) error {
	normalized, err := escrow.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := balanceKey(addr, normalized)
	balance, err := m.readBalance(key)
	if err != nil {
		return err
	}
	if balance > math.MaxUint64-amount {
		return fmt.Errorf("state: mint overflows balance")
	}
	return m.writeBalance(key, balance+amount)
}

// Transfer moves an amount between two accounts, failing without any write
// when the source balance is insufficient. This is the fund-transfer
// boundary the escrow engine relies on.
func (m *Manager) Transfer(from, to [20]byte, asset string, amount uint64) error {
	normalized, err := escrow.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	if from == to {
		return fmt.Errorf("state: transfer to self")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fromKey := balanceKey(from, normalized)
	fromBalance, err := m.readBalance(fromKey)
	if err != nil {
		return err
	}
	if fromBalance < amount {
		return fmt.Errorf("state: insufficient balance: have %d, need %d", fromBalance, amount)
	}
	toKey := balanceKey(to, normalized)
	toBalance, err := m.readBalance(toKey)
	if err != nil {
		return err
	}
	if toBalance > math.MaxUint64-amount {
		return fmt.Errorf("state: transfer overflows recipient balance")
	}
	if err := m.writeBalance(fromKey, fromBalance-amount); err != nil {
		return err
	}
	return m.writeBalance(toKey, toBalance+amount)
}

// CustodyCredit records value entering a contract's custody.
func (m *Manager) CustodyCredit(addr [32]byte, asset string, amount uint64) error {
	normalized, err := escrow.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := custodyKey(addr, normalized)
	balance, err := m.readBalance(key)
	if err != nil {
		return err
	}
	if balance > math.MaxUint64-amount {
		return fmt.Errorf("state: custody credit overflows")
	}
	return m.writeBalance(key, balance+amount)
}

// CustodyDebit records value leaving a contract's custody, rejecting any
// debit below zero as a solvency breach.
func (m *Manager) CustodyDebit(addr [32]byte, asset string, amount uint64) error {
	normalized, err := escrow.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := custodyKey(addr, normalized)
	balance, err := m.readBalance(key)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("state: custody debit below zero: have %d, need %d", balance, amount)
	}
	return m.writeBalance(key, balance-amount)
}

// CustodyBalance returns the value currently held for a contract.
func (m *Manager) CustodyBalance(addr [32]byte, asset string) (uint64, error) {
	normalized, err := escrow.NormalizeAsset(asset)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBalance(custodyKey(addr, normalized))
}
