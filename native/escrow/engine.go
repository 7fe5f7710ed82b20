package escrow

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"payguard/core/events"
	"payguard/core/types"
)

var errNilState = errors.New("escrow engine: state not configured")

// LedgerState is the storage and value-transfer boundary the engine depends
// on. ContractPut/ContractGet back the account store, the custody methods
// track per-contract escrow balances, and Transfer is the fund-transfer
// adapter moving already-validated amounts between accounts.
type LedgerState interface {
	ContractPut(*Contract) error
	ContractGet(addr [32]byte) (*Contract, bool)
	CustodyCredit(addr [32]byte, asset string, amount uint64) error
	CustodyDebit(addr [32]byte, asset string, amount uint64) error
	CustodyBalance(addr [32]byte, asset string) (uint64, error)
	VaultAddress(asset string) ([20]byte, error)
	Transfer(from, to [20]byte, asset string, amount uint64) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine owns every contract transition. Each operation loads one contract,
// validates against a staged clone, moves funds, and commits with a single
// ContractPut; a failure at any step leaves the stored record untouched.
// Operations on the same contract serialize on a per-address lock; different
// contracts proceed independently.
type Engine struct {
	state   LedgerState
	emitter events.Emitter
	nowFn   func() int64

	mu    sync.Mutex
	locks map[[32]byte]*sync.Mutex
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		locks:   make(map[[32]byte]*sync.Mutex),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state LedgerState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily so tests can pin
// timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) lockContract(addr [32]byte) func() {
	e.mu.Lock()
	lock, ok := e.locks[addr]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[addr] = lock
	}
	e.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func (e *Engine) loadContract(addr [32]byte) (*Contract, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	contract, ok := e.state.ContractGet(addr)
	if !ok {
		return nil, ErrNotFound
	}
	return contract, nil
}

// custodyCovers verifies the solvency invariant before any payout leaves the
// vault: custody for this contract must still hold the amount about to move.
func (e *Engine) custodyCovers(addr [32]byte, asset string, amount uint64) error {
	balance, err := e.state.CustodyBalance(addr, asset)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: custody %d below payout %d", ErrInvariantViolation, balance, amount)
	}
	return nil
}

// payout moves an already-validated amount from the contract's custody to a
// party account and debits the custody ledger. Transfer failures surface as
// ErrTransferFailed before the contract record is committed.
func (e *Engine) payout(addr [32]byte, asset string, to [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := e.custodyCovers(addr, asset, amount); err != nil {
		return err
	}
	vault, err := e.state.VaultAddress(asset)
	if err != nil {
		return err
	}
	if err := e.state.Transfer(vault, to, asset, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return e.state.CustodyDebit(addr, asset, amount)
}

// MilestoneSpec is one milestone definition in a creation payload.
type MilestoneSpec struct {
	Amount          uint64
	Description     string
	DescriptionHash [32]byte
}

// CreateParams carries the full creation payload for a contract.
type CreateParams struct {
	ID              uint64
	Client          [20]byte
	Freelancer      [20]byte
	Arbitrator      [20]byte
	Asset           string
	TotalAmount     uint64
	DescriptionHash [32]byte
	Milestones      []MilestoneSpec
}

// Create validates the payload and persists a new contract with all
// milestones pending. No funds move; funding is a separate step. The caller
// must be the prospective client.
func (e *Engine) Create(caller [20]byte, params CreateParams) (*Contract, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if caller != params.Client {
		return nil, fmt.Errorf("%w: create requires the client", ErrUnauthorized)
	}
	asset, err := NormalizeAsset(params.Asset)
	if err != nil {
		return nil, err
	}
	if params.Client == params.Freelancer {
		return nil, fmt.Errorf("escrow: client and freelancer must differ")
	}
	if params.Arbitrator == params.Client || params.Arbitrator == params.Freelancer {
		return nil, fmt.Errorf("escrow: arbitrator must be a third party")
	}
	if len(params.Milestones) == 0 || len(params.Milestones) > MaxMilestones {
		return nil, fmt.Errorf("%w: count %d outside [1,%d]", ErrInvalidMilestoneSet, len(params.Milestones), MaxMilestones)
	}
	var sum uint64
	for i, spec := range params.Milestones {
		if spec.Amount == 0 {
			return nil, fmt.Errorf("%w: milestone %d amount must be positive", ErrInvalidMilestoneSet, i)
		}
		if len(spec.Description) > MaxDescriptionLen {
			return nil, fmt.Errorf("%w: milestone %d description exceeds %d bytes", ErrInvalidMilestoneSet, i, MaxDescriptionLen)
		}
		if sum > math.MaxUint64-spec.Amount {
			return nil, fmt.Errorf("%w: milestone amounts", ErrArithmeticOverflow)
		}
		sum += spec.Amount
	}
	if sum != params.TotalAmount {
		return nil, fmt.Errorf("%w: milestone amounts sum to %d, total is %d", ErrInvalidMilestoneSet, sum, params.TotalAmount)
	}

	addr := ContractAddress(params.Client, params.ID)
	unlock := e.lockContract(addr)
	defer unlock()

	if _, exists := e.state.ContractGet(addr); exists {
		return nil, fmt.Errorf("%w: id %d for this creator", ErrAlreadyExists, params.ID)
	}
	contract := &Contract{
		ID:              params.ID,
		Client:          params.Client,
		Freelancer:      params.Freelancer,
		Arbitrator:      params.Arbitrator,
		Asset:           asset,
		TotalAmount:     params.TotalAmount,
		ReleasedAmount:  0,
		DescriptionHash: params.DescriptionHash,
		Status:          ContractActive,
		CreatedAt:       e.now(),
		MilestoneCount:  uint8(len(params.Milestones)),
	}
	for i, spec := range params.Milestones {
		contract.Milestones[i] = Milestone{
			Amount:          spec.Amount,
			Description:     spec.Description,
			DescriptionHash: spec.DescriptionHash,
			Status:          MilestonePending,
		}
	}
	if err := e.state.ContractPut(contract); err != nil {
		return nil, err
	}
	e.emit(NewContractCreatedEvent(contract))
	return contract.Clone(), nil
}

// Fund moves the full contract amount from the client into custody. Partial
// funding is not modelled: the amount must equal the contract total.
func (e *Engine) Fund(addr [32]byte, caller [20]byte, amount uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	unlock := e.lockContract(addr)
	defer unlock()

	contract, err := e.loadContract(addr)
	if err != nil {
		return err
	}
	if err := CanFund(contract, caller); err != nil {
		return err
	}
	if contract.Status != ContractActive {
		return fmt.Errorf("%w: status %s", ErrContractNotActive, contract.Status)
	}
	if contract.Funded {
		return ErrAlreadyFunded
	}
	if amount != contract.TotalAmount {
		return fmt.Errorf("%w: got %d, contract total is %d", ErrAmountMismatch, amount, contract.TotalAmount)
	}
	vault, err := e.state.VaultAddress(contract.Asset)
	if err != nil {
		return err
	}
	if err := e.state.Transfer(contract.Client, vault, contract.Asset, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.CustodyCredit(addr, contract.Asset, amount); err != nil {
		return err
	}
	staged := contract.Clone()
	staged.Funded = true
	if err := e.state.ContractPut(staged); err != nil {
		return err
	}
	e.emit(NewContractFundedEvent(staged))
	return nil
}

// SubmitMilestone records the freelancer's claim of completion along with the
// hash of the delivery evidence.
func (e *Engine) SubmitMilestone(addr [32]byte, caller [20]byte, index uint8, proofHash [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	unlock := e.lockContract(addr)
	defer unlock()

	contract, err := e.loadContract(addr)
	if err != nil {
		return err
	}
	if err := CanSubmitMilestone(contract, caller); err != nil {
		return err
	}
	if contract.Status != ContractActive {
		return fmt.Errorf("%w: status %s", ErrContractNotActive, contract.Status)
	}
	staged := contract.Clone()
	ms, err := staged.MilestoneAt(index)
	if err != nil {
		return err
	}
	if ms.Status != MilestonePending {
		return fmt.Errorf("%w: milestone %d is %s", ErrMilestoneNotPending, index, ms.Status)
	}
	ms.Status = MilestoneSubmitted
	ms.ProofHash = proofHash
	ms.SubmittedAt = e.now()
	if err := e.state.ContractPut(staged); err != nil {
		return err
	}
	e.emit(NewMilestoneSubmittedEvent(staged, index))
	return nil
}

// ApproveMilestone releases the milestone amount to the freelancer and marks
// the contract completed once the full total has been released with no open
// dispute.
func (e *Engine) ApproveMilestone(addr [32]byte, caller [20]byte, index uint8) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	unlock := e.lockContract(addr)
	defer unlock()

	contract, err := e.loadContract(addr)
	if err != nil {
		return err
	}
	if err := CanApproveMilestone(contract, caller); err != nil {
		return err
	}
	if contract.Status != ContractActive {
		return fmt.Errorf("%w: status %s", ErrContractNotActive, contract.Status)
	}
	if !contract.Funded {
		return ErrNotFunded
	}
	staged := contract.Clone()
	ms, err := staged.MilestoneAt(index)
	if err != nil {
		return err
	}
	if ms.Status != MilestoneSubmitted {
		return fmt.Errorf("%w: milestone %d is %s", ErrMilestoneNotSubmitted, index, ms.Status)
	}
	released, err := addReleased(staged, ms.Amount)
	if err != nil {
		return err
	}
	if err := e.payout(addr, staged.Asset, staged.Freelancer, ms.Amount); err != nil {
		return err
	}
	ms.Status = MilestoneApproved
	staged.ReleasedAmount = released
	completed := e.maybeComplete(staged)
	if err := e.state.ContractPut(staged); err != nil {
		return err
	}
	e.emit(NewMilestoneApprovedEvent(staged, index))
	if completed {
		e.emit(NewContractCompletedEvent(staged))
	}
	return nil
}

// RaiseDispute flags a submitted milestone for external arbitration. Either
// party may invoke it.
func (e *Engine) RaiseDispute(addr [32]byte, caller [20]byte, index uint8, reasonHash [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	unlock := e.lockContract(addr)
	defer unlock()

	contract, err := e.loadContract(addr)
	if err != nil {
		return err
	}
	if err := CanRaiseDispute(contract, caller); err != nil {
		return err
	}
	if contract.Status != ContractActive {
		return fmt.Errorf("%w: status %s", ErrContractNotActive, contract.Status)
	}
	staged := contract.Clone()
	ms, err := staged.MilestoneAt(index)
	if err != nil {
		return err
	}
	if ms.Status != MilestoneSubmitted {
		return fmt.Errorf("%w: milestone %d is %s", ErrMilestoneNotSubmitted, index, ms.Status)
	}
	ms.Status = MilestoneDisputed
	ms.DisputeReasonHash = reasonHash
	if err := e.state.ContractPut(staged); err != nil {
		return err
	}
	e.emit(NewMilestoneDisputedEvent(staged, index))
	return nil
}

// ResolveDispute applies an external arbitration verdict to a disputed
// milestone. The freelancer share (full, zero, or a floor-divided split)
// leaves custody; any client share stays in custody and returns through
// cancellation, keeping released_amount the exact measure of paid-out value.
func (e *Engine) ResolveDispute(addr [32]byte, caller [20]byte, index uint8, verdict Verdict) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	unlock := e.lockContract(addr)
	defer unlock()

	contract, err := e.loadContract(addr)
	if err != nil {
		return err
	}
	if err := CanResolveDispute(contract, caller); err != nil {
		return err
	}
	if contract.Status != ContractActive {
		return fmt.Errorf("%w: status %s", ErrContractNotActive, contract.Status)
	}
	if !contract.Funded {
		return ErrNotFunded
	}
	staged := contract.Clone()
	ms, err := staged.MilestoneAt(index)
	if err != nil {
		return err
	}
	if ms.Status != MilestoneDisputed {
		return fmt.Errorf("%w: milestone %d is %s", ErrMilestoneNotDisputed, index, ms.Status)
	}
	share, err := verdict.FreelancerShare(ms.Amount)
	if err != nil {
		return err
	}
	released := staged.ReleasedAmount
	if share > 0 {
		released, err = addReleased(staged, share)
		if err != nil {
			return err
		}
		if err := e.payout(addr, staged.Asset, staged.Freelancer, share); err != nil {
			return err
		}
		ms.Status = MilestoneApproved
	} else {
		ms.Status = MilestoneRejected
	}
	ms.ArbitrationProofHash = verdict.ProofHash
	staged.ReleasedAmount = released
	completed := e.maybeComplete(staged)
	if err := e.state.ContractPut(staged); err != nil {
		return err
	}
	e.emit(NewMilestoneResolvedEvent(staged, index, verdict, share))
	if completed {
		e.emit(NewContractCompletedEvent(staged))
	}
	return nil
}

// CancelContract refunds all unreleased funds to the client and closes the
// contract. Milestones that never reached approval are abandoned; no further
// submission or approval is possible.
func (e *Engine) CancelContract(addr [32]byte, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	unlock := e.lockContract(addr)
	defer unlock()

	contract, err := e.loadContract(addr)
	if err != nil {
		return err
	}
	if err := CanCancelContract(contract, caller); err != nil {
		return err
	}
	if contract.Status != ContractActive {
		return fmt.Errorf("%w: status %s", ErrContractNotActive, contract.Status)
	}
	staged := contract.Clone()
	var refund uint64
	if staged.Funded {
		refund = staged.TotalAmount - staged.ReleasedAmount
		if err := e.payout(addr, staged.Asset, staged.Client, refund); err != nil {
			return err
		}
	}
	staged.Status = ContractCancelled
	if err := e.state.ContractPut(staged); err != nil {
		return err
	}
	e.emit(NewContractCancelledEvent(staged, refund))
	return nil
}

// Get returns a copy of the stored contract together with its custody
// balance, so inspection tooling can check the solvency invariant.
func (e *Engine) Get(addr [32]byte) (*Contract, uint64, error) {
	if e == nil || e.state == nil {
		return nil, 0, errNilState
	}
	contract, err := e.loadContract(addr)
	if err != nil {
		return nil, 0, err
	}
	balance, err := e.state.CustodyBalance(addr, contract.Asset)
	if err != nil {
		return nil, 0, err
	}
	return contract, balance, nil
}

// addReleased computes the new released counter, rejecting overflow and any
// value that would exceed the contract total.
func addReleased(c *Contract, amount uint64) (uint64, error) {
	if c.ReleasedAmount > math.MaxUint64-amount {
		return 0, fmt.Errorf("%w: released amount", ErrArithmeticOverflow)
	}
	released := c.ReleasedAmount + amount
	if released > c.TotalAmount {
		return 0, fmt.Errorf("%w: release %d exceeds total %d", ErrInvariantViolation, released, c.TotalAmount)
	}
	return released, nil
}

// maybeComplete flips the contract to completed when the full total has been
// released and no milestone remains disputed. Reports whether it did.
func (e *Engine) maybeComplete(c *Contract) bool {
	if c.ReleasedAmount == c.TotalAmount && !c.HasOpenDispute() {
		c.Status = ContractCompleted
		return true
	}
	return false
}
