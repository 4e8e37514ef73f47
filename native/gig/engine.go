package gig

import (
	"errors"
	"fmt"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"gigescrow/core/events"
	"gigescrow/core/types"
)

var (
	errNilStore    = errors.New("gig engine: contract store not configured")
	errNilLedger   = errors.New("gig engine: token ledger not configured")
	errNilArbiter  = errors.New("gig engine: arbiter identity not configured")
	errNilPayToken = errors.New("gig engine: pay token not configured")
)

// CustodySeed is the derivation seed for per-contract custody accounts.
const CustodySeed = "gig_contract"

// DeriveCustodyAddress returns the deterministic custody account address for a
// contract identifier: the trailing 20 bytes of keccak256(seed || id).
func DeriveCustodyAddress(contractID string) [20]byte {
	hash := ethcrypto.Keccak256([]byte(CustodySeed), []byte(contractID))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// ContractStore persists contract records keyed by their identifier.
type ContractStore interface {
	ContractPut(*Contract) error
	ContractGet(id string) (*Contract, bool)
}

// Payment is one outbound settlement leg from a custody account.
type Payment struct {
	To     [20]byte
	Amount uint64
}

// CustodyAuthorization is the capability handed to the token ledger for
// protocol-authorized outbound transfers. The ledger verifies that the address
// matches the derivation of the contract identifier before moving funds.
type CustodyAuthorization struct {
	ContractID string
	Address    [20]byte
}

// TokenLedger is the external value-transfer collaborator. Implementations
// must apply each call atomically: either the whole transfer (or batch)
// completes or nothing moves.
type TokenLedger interface {
	Transfer(from, to [20]byte, token string, amount uint64) error
	AuthoritySettle(auth CustodyAuthorization, token string, payments []Payment) error
	BalanceOf(addr [20]byte, token string) (uint64, error)
}

type contractEvent struct {
	evt *types.Event
}

func (e contractEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e contractEvent) Event() *types.Event { return e.evt }

// Engine wires the escrow state machine with the contract store, the token
// ledger and an event emitter. All five protocol operations live here; each
// call validates the claimed actor against the stored roles, applies exactly
// one state transition and requests zero or more value transfers.
type Engine struct {
	store    ContractStore
	ledger   TokenLedger
	payToken string
	arbiter  [20]byte
	emitter  events.Emitter
	nowFn    func() int64
}

// NewEngine creates an engine with a no-op emitter. Callers configure the
// collaborators via the Set* methods before serving traffic.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetStore configures the contract persistence backend.
func (e *Engine) SetStore(store ContractStore) { e.store = store }

// SetLedger configures the token ledger used for value transfers.
func (e *Engine) SetLedger(ledger TokenLedger) { e.ledger = ledger }

// SetPayToken configures the only denomination contracts may be paid in.
func (e *Engine) SetPayToken(token string) error {
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	e.payToken = normalized
	return nil
}

// SetArbiter configures the single identity authorized to resolve pending and
// disputed contracts. Injected from deployment configuration, never a compiled
// constant, so tests and key rotations can swap it.
func (e *Engine) SetArbiter(addr [20]byte) { e.arbiter = addr }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if e.payToken == "" {
		return errNilPayToken
	}
	if e.arbiter == ([20]byte{}) {
		return errNilArbiter
	}
	return nil
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(contractEvent{evt: evt})
}

func (e *Engine) loadContract(id string) (*Contract, error) {
	contract, ok := e.store.ContractGet(id)
	if !ok {
		return nil, ErrContractNotFound
	}
	return contract.Clone(), nil
}

func (e *Engine) storeContract(c *Contract) error {
	sanitized, err := SanitizeContract(c)
	if err != nil {
		return err
	}
	return e.store.ContractPut(sanitized)
}

// Contract returns a copy of the stored record for the given identifier.
func (e *Engine) Contract(id string) (*Contract, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadContract(id)
}

// CustodyBalance reports the current custody account balance for a contract.
func (e *Engine) CustodyBalance(id string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if _, err := e.loadContract(id); err != nil {
		return 0, err
	}
	return e.ledger.BalanceOf(DeriveCustodyAddress(id), e.payToken)
}

// PayToken returns the configured pay token symbol.
func (e *Engine) PayToken() string { return e.payToken }

// Arbiter returns the configured arbitration identity.
func (e *Engine) Arbiter() [20]byte { return e.arbiter }

// Start allocates a new contract record on behalf of the buyer and moves the
// principal plus the buyer's stake into custody. Nothing is persisted when the
// inbound transfer fails.
func (e *Engine) Start(contractID string, buyer, seller [20]byte, token string, amount, disputeFee uint64, deadline int64) (*Contract, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	normalized, err := NormalizeToken(token)
	if err != nil || normalized != e.payToken {
		return nil, ErrPayTokenMint
	}
	if disputeFee != FixedDisputeFee {
		return nil, ErrInvalidDisputeAmount
	}
	if amount == 0 {
		return nil, fmt.Errorf("gig: contract amount must be positive")
	}
	if _, ok := e.store.ContractGet(contractID); ok {
		return nil, ErrContractExists
	}
	total, err := checkedAdd(amount, disputeFee)
	if err != nil {
		return nil, err
	}
	contract := &Contract{
		ContractID: contractID,
		Buyer:      buyer,
		Seller:     seller,
		StartTime:  e.now(),
		Deadline:   deadline,
		Amount:     amount,
		DisputeFee: disputeFee,
		Status:     StatusCreated,
	}
	custody := DeriveCustodyAddress(contractID)
	if err := e.ledger.Transfer(buyer, custody, e.payToken, total); err != nil {
		return nil, fmt.Errorf("gig: funding transfer failed: %w", err)
	}
	if err := e.storeContract(contract); err != nil {
		return nil, err
	}
	e.emit(NewStartedEvent(contract))
	return contract.Clone(), nil
}

// Activate records the seller's acceptance of the engagement and moves their
// matching stake into custody. After activation custody holds
// amount + 2*disputeFee.
func (e *Engine) Activate(contractID string, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	contract, err := e.loadContract(contractID)
	if err != nil {
		return err
	}
	if caller != contract.Seller {
		return ErrInvalidActivator
	}
	if contract.Status != StatusCreated {
		return ErrCantRelease
	}
	custody := DeriveCustodyAddress(contractID)
	if err := e.ledger.Transfer(contract.Seller, custody, e.payToken, contract.DisputeFee); err != nil {
		return fmt.Errorf("gig: stake transfer failed: %w", err)
	}
	contract.Status = StatusActive
	if err := e.storeContract(contract); err != nil {
		return err
	}
	e.emit(NewActivatedEvent(contract))
	return nil
}

// BuyerApprove records the buyer's release decision. Split is true when the
// buyer is dissatisfied and requests a 50/50 outcome. The buyer-side approval
// never evaluates settlement; that is driven by the seller-side operation.
func (e *Engine) BuyerApprove(contractID string, caller [20]byte, split bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	contract, err := e.loadContract(contractID)
	if err != nil {
		return err
	}
	if caller != contract.Buyer {
		return ErrInvalidBuyer
	}
	if contract.Status != StatusActive && contract.Status != StatusPending {
		return ErrCantRelease
	}
	contract.Status = StatusPending
	contract.BuyerApproved = true
	contract.Split = split
	if err := e.storeContract(contract); err != nil {
		return err
	}
	e.emit(NewBuyerApprovedEvent(contract))
	return nil
}

// SellerApprove records the seller's release decision and, when the buyer has
// already approved, evaluates the finalize branch: agreed split, mutual
// release, or escalation to dispute when the seller rejects a requested split.
func (e *Engine) SellerApprove(contractID string, caller [20]byte, sellerSatisfied bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	contract, err := e.loadContract(contractID)
	if err != nil {
		return err
	}
	if caller != contract.Seller {
		return ErrInvalidSeller
	}
	if contract.Status != StatusActive && contract.Status != StatusPending {
		return ErrCantRelease
	}
	contract.Status = StatusPending
	contract.SellerApproved = true
	contract.SellerSatisfied = sellerSatisfied

	if !contract.BuyerApproved {
		if err := e.storeContract(contract); err != nil {
			return err
		}
		e.emit(NewSellerApprovedEvent(contract))
		return nil
	}

	if contract.Split && !sellerSatisfied {
		contract.Status = StatusDispute
		if err := e.storeContract(contract); err != nil {
			return err
		}
		e.emit(NewDisputedEvent(contract))
		return nil
	}

	branch := SettleRelease
	outcome := "release"
	if contract.Split {
		branch = SettleAgreedSplit
		outcome = "agreed_split"
	}
	payout, err := e.settleCustody(contract, branch)
	if err != nil {
		return err
	}
	contract.Status = StatusCompleted
	if err := e.storeContract(contract); err != nil {
		return err
	}
	e.emit(NewSettledEvent(contract, outcome, payout))
	return nil
}

// AdminApprove resolves a pending or disputed contract with the configured
// arbiter's decision.
//
// On a Pending contract (the buyer went silent after the seller approved) the
// payout defaults in the seller's favour and the platform keeps the buyer's
// forfeited stake, but the status deliberately stays Pending. Re-settlement is
// impossible because the drained custody fails the net-principal check.
func (e *Engine) AdminApprove(contractID string, caller [20]byte, decision Decision) error {
	if err := e.ready(); err != nil {
		return err
	}
	contract, err := e.loadContract(contractID)
	if err != nil {
		return err
	}
	if caller != e.arbiter {
		return ErrInvalidAdmin
	}
	if contract.Status != StatusPending && contract.Status != StatusDispute {
		return ErrNotReadyYet
	}
	if !decision.Valid() {
		return ErrInvalidDecision
	}
	contract.AdminApproved = true

	if contract.Status == StatusPending {
		payout, err := e.settleCustody(contract, SettleDefaultSeller)
		if err != nil {
			return err
		}
		if err := e.storeContract(contract); err != nil {
			return err
		}
		e.emit(NewSettledEvent(contract, "default_seller", payout))
		return nil
	}

	var branch func(balance, fee uint64) (Payout, error)
	var outcome string
	switch decision {
	case DecisionSellerFavored, DecisionAutoAcceptSeller:
		branch = SettleDefaultSeller
		outcome = "seller_favored"
	case DecisionBuyerFavored:
		branch = SettleDefaultBuyer
		outcome = "buyer_favored"
	case DecisionSplit:
		branch = SettleArbitratedSplit
		outcome = "arbitrated_split"
	default:
		return ErrInvalidDecision
	}
	payout, err := e.settleCustody(contract, branch)
	if err != nil {
		return err
	}
	contract.Status = StatusCompleted
	if err := e.storeContract(contract); err != nil {
		return err
	}
	e.emit(NewSettledEvent(contract, outcome, payout))
	return nil
}

// settleCustody evaluates the branch against the live custody balance and
// executes the payout as one all-or-nothing authority-signed batch. Every
// branch's legs sum to the custody balance exactly, so the account is empty
// afterwards.
func (e *Engine) settleCustody(contract *Contract, branch func(balance, fee uint64) (Payout, error)) (Payout, error) {
	custody := DeriveCustodyAddress(contract.ContractID)
	balance, err := e.ledger.BalanceOf(custody, e.payToken)
	if err != nil {
		return Payout{}, err
	}
	payout, err := branch(balance, contract.DisputeFee)
	if err != nil {
		return Payout{}, err
	}
	payments := make([]Payment, 0, 3)
	if payout.Seller > 0 {
		payments = append(payments, Payment{To: contract.Seller, Amount: payout.Seller})
	}
	if payout.Buyer > 0 {
		payments = append(payments, Payment{To: contract.Buyer, Amount: payout.Buyer})
	}
	if payout.Admin > 0 {
		payments = append(payments, Payment{To: e.arbiter, Amount: payout.Admin})
	}
	auth := CustodyAuthorization{ContractID: contract.ContractID, Address: custody}
	if err := e.ledger.AuthoritySettle(auth, e.payToken, payments); err != nil {
		return Payout{}, fmt.Errorf("gig: settlement transfer failed: %w", err)
	}
	return payout, nil
}
