package gig

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

type mockStore struct {
	contracts map[string]*Contract
	failPut   bool
}

func newMockStore() *mockStore {
	return &mockStore{contracts: make(map[string]*Contract)}
}

func (m *mockStore) ContractPut(c *Contract) error {
	if m.failPut {
		return fmt.Errorf("store unavailable")
	}
	sanitized, err := SanitizeContract(c)
	if err != nil {
		return err
	}
	m.contracts[sanitized.ContractID] = sanitized.Clone()
	return nil
}

func (m *mockStore) ContractGet(id string) (*Contract, bool) {
	c, ok := m.contracts[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

type mockLedger struct {
	balances     map[[20]byte]map[string]uint64
	transfers    int
	settlements  int
	failTransfer bool
	failSettle   bool
}

func newMockLedger() *mockLedger {
	return &mockLedger{balances: make(map[[20]byte]map[string]uint64)}
}

func (m *mockLedger) credit(addr [20]byte, token string, amount uint64) {
	if m.balances[addr] == nil {
		m.balances[addr] = make(map[string]uint64)
	}
	m.balances[addr][token] += amount
}

func (m *mockLedger) Transfer(from, to [20]byte, token string, amount uint64) error {
	if m.failTransfer {
		return fmt.Errorf("ledger rejected transfer")
	}
	if m.balances[from][token] < amount {
		return fmt.Errorf("insufficient balance")
	}
	m.balances[from][token] -= amount
	m.credit(to, token, amount)
	m.transfers++
	return nil
}

func (m *mockLedger) AuthoritySettle(auth CustodyAuthorization, token string, payments []Payment) error {
	if m.failSettle {
		return fmt.Errorf("ledger rejected settlement")
	}
	if auth.Address != DeriveCustodyAddress(auth.ContractID) {
		return fmt.Errorf("custody authorization mismatch")
	}
	var total uint64
	for _, p := range payments {
		total += p.Amount
	}
	if m.balances[auth.Address][token] < total {
		return fmt.Errorf("insufficient custody balance")
	}
	for _, p := range payments {
		m.balances[auth.Address][token] -= p.Amount
		m.credit(p.To, token, p.Amount)
	}
	m.settlements++
	return nil
}

func (m *mockLedger) BalanceOf(addr [20]byte, token string) (uint64, error) {
	return m.balances[addr][token], nil
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

const (
	testToken  = "GIG"
	testAmount = uint64(1_000_000_000)
)

var (
	buyerAddr  = newTestAddress(0x11)
	sellerAddr = newTestAddress(0x22)
	adminAddr  = newTestAddress(0x33)
)

func newTestEngine(t *testing.T) (*Engine, *mockStore, *mockLedger) {
	t.Helper()
	store := newMockStore()
	ledger := newMockLedger()
	ledger.credit(buyerAddr, testToken, 10_000_000_000)
	ledger.credit(sellerAddr, testToken, 10_000_000_000)
	engine := NewEngine()
	engine.SetStore(store)
	engine.SetLedger(ledger)
	engine.SetArbiter(adminAddr)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	if err := engine.SetPayToken(testToken); err != nil {
		t.Fatalf("set pay token: %v", err)
	}
	return engine, store, ledger
}

func startContract(t *testing.T, engine *Engine, id string) {
	t.Helper()
	if _, err := engine.Start(id, buyerAddr, sellerAddr, testToken, testAmount, FixedDisputeFee, 1_700_100_000); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func activateContract(t *testing.T, engine *Engine, id string) {
	t.Helper()
	startContract(t, engine, id)
	if err := engine.Activate(id, sellerAddr); err != nil {
		t.Fatalf("activate: %v", err)
	}
}

func custodyBalance(t *testing.T, ledger *mockLedger, id string) uint64 {
	t.Helper()
	balance, err := ledger.BalanceOf(DeriveCustodyAddress(id), testToken)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func TestStartCreatesContractAndFundsCustody(t *testing.T) {
	engine, store, ledger := newTestEngine(t)
	contract, err := engine.Start("job-1", buyerAddr, sellerAddr, testToken, testAmount, FixedDisputeFee, 1_700_100_000)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if contract.Status != StatusCreated {
		t.Fatalf("status = %v, want created", contract.Status)
	}
	if contract.StartTime != 1_700_000_000 {
		t.Fatalf("start time = %d", contract.StartTime)
	}
	stored, ok := store.ContractGet("job-1")
	if !ok {
		t.Fatal("contract not persisted")
	}
	if stored.Amount != testAmount || stored.DisputeFee != FixedDisputeFee {
		t.Fatalf("stored amounts mismatch: %+v", stored)
	}
	if got := custodyBalance(t, ledger, "job-1"); got != testAmount+FixedDisputeFee {
		t.Fatalf("custody = %d, want %d", got, testAmount+FixedDisputeFee)
	}
}

func TestStartRejectsWrongDisputeFee(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	for _, fee := range []uint64{FixedDisputeFee - 1, FixedDisputeFee + 1, 0} {
		if _, err := engine.Start("job-1", buyerAddr, sellerAddr, testToken, testAmount, fee, 0); !errors.Is(err, ErrInvalidDisputeAmount) {
			t.Fatalf("fee %d: expected ErrInvalidDisputeAmount, got %v", fee, err)
		}
	}
	if _, ok := store.ContractGet("job-1"); ok {
		t.Fatal("rejected start must not persist a record")
	}
}

func TestStartRejectsWrongPayToken(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.Start("job-1", buyerAddr, sellerAddr, "USD", testAmount, FixedDisputeFee, 0); !errors.Is(err, ErrPayTokenMint) {
		t.Fatalf("expected ErrPayTokenMint, got %v", err)
	}
	if _, err := engine.Start("job-1", buyerAddr, sellerAddr, "DOGE", testAmount, FixedDisputeFee, 0); !errors.Is(err, ErrPayTokenMint) {
		t.Fatalf("expected ErrPayTokenMint, got %v", err)
	}
}

func TestStartRejectsDuplicateID(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	startContract(t, engine, "job-1")
	if _, err := engine.Start("job-1", buyerAddr, sellerAddr, testToken, testAmount, FixedDisputeFee, 0); !errors.Is(err, ErrContractExists) {
		t.Fatalf("expected ErrContractExists, got %v", err)
	}
}

func TestStartTransferFailureLeavesNoRecord(t *testing.T) {
	engine, store, ledger := newTestEngine(t)
	ledger.failTransfer = true
	if _, err := engine.Start("job-1", buyerAddr, sellerAddr, testToken, testAmount, FixedDisputeFee, 0); err == nil {
		t.Fatal("expected transfer failure to abort start")
	}
	if _, ok := store.ContractGet("job-1"); ok {
		t.Fatal("failed start must not persist a record")
	}
}

func TestActivateRequiresStoredSeller(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	startContract(t, engine, "job-1")
	if err := engine.Activate("job-1", buyerAddr); !errors.Is(err, ErrInvalidActivator) {
		t.Fatalf("expected ErrInvalidActivator, got %v", err)
	}
	if err := engine.Activate("missing", sellerAddr); !errors.Is(err, ErrContractNotFound) {
		t.Fatalf("expected ErrContractNotFound, got %v", err)
	}
}

func TestActivateMovesSellerStake(t *testing.T) {
	engine, store, ledger := newTestEngine(t)
	activateContract(t, engine, "job-1")
	stored, _ := store.ContractGet("job-1")
	if stored.Status != StatusActive {
		t.Fatalf("status = %v, want active", stored.Status)
	}
	if got := custodyBalance(t, ledger, "job-1"); got != testAmount+2*FixedDisputeFee {
		t.Fatalf("custody = %d, want %d", got, testAmount+2*FixedDisputeFee)
	}
}

func TestActivateTwiceRejected(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	activateContract(t, engine, "job-1")
	if err := engine.Activate("job-1", sellerAddr); !errors.Is(err, ErrCantRelease) {
		t.Fatalf("expected ErrCantRelease, got %v", err)
	}
}

func TestBuyerApproveGuards(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	startContract(t, engine, "job-1")
	// Not yet active.
	if err := engine.BuyerApprove("job-1", buyerAddr, false); !errors.Is(err, ErrCantRelease) {
		t.Fatalf("expected ErrCantRelease, got %v", err)
	}
	if err := engine.Activate("job-1", sellerAddr); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := engine.BuyerApprove("job-1", sellerAddr, false); !errors.Is(err, ErrInvalidBuyer) {
		t.Fatalf("expected ErrInvalidBuyer, got %v", err)
	}
	if err := engine.BuyerApprove("job-1", buyerAddr, true); err != nil {
		t.Fatalf("buyer approve: %v", err)
	}
	stored, _ := store.ContractGet("job-1")
	if stored.Status != StatusPending || !stored.BuyerApproved || !stored.Split {
		t.Fatalf("unexpected record after buyer approve: %+v", stored)
	}
}

func TestBuyerApproveNeverSettles(t *testing.T) {
	engine, store, ledger := newTestEngine(t)
	activateContract(t, engine, "job-1")
	if err := engine.SellerApprove("job-1", sellerAddr, false); err != nil {
		t.Fatalf("seller approve: %v", err)
	}
	before := ledger.settlements
	// Buyer approves second; settlement is driven by the seller-side
	// operation only, so custody stays untouched.
	if err := engine.BuyerApprove("job-1", buyerAddr, false); err != nil {
		t.Fatalf("buyer approve: %v", err)
	}
	if ledger.settlements != before {
		t.Fatal("buyer approve must not trigger settlement")
	}
	stored, _ := store.ContractGet("job-1")
	if stored.Status != StatusPending {
		t.Fatalf("status = %v, want pending", stored.Status)
	}
	if got := custodyBalance(t, ledger, "job-1"); got != testAmount+2*FixedDisputeFee {
		t.Fatalf("custody drained by buyer approve: %d", got)
	}
}

func TestSellerApproveBeforeBuyerStaysPending(t *testing.T) {
	engine, store, ledger := newTestEngine(t)
	activateContract(t, engine, "job-1")
	if err := engine.SellerApprove("job-1", sellerAddr, false); err != nil {
		t.Fatalf("seller approve: %v", err)
	}
	stored, _ := store.ContractGet("job-1")
	if stored.Status != StatusPending || !stored.SellerApproved {
		t.Fatalf("unexpected record: %+v", stored)
	}
	if ledger.settlements != 0 {
		t.Fatal("no settlement expected before the buyer approves")
	}
}

func TestMutualReleaseHappyPath(t *testing.T) {
	engine, store, ledger := newTestEngine(t)
	activateContract(t, engine, "job-1")

	buyerBefore := ledger.balances[buyerAddr][testToken]
	sellerBefore := ledger.balances[sellerAddr][testToken]

	if err := engine.BuyerApprove("job-1", buyerAddr, false); err != nil {
		t.Fatalf("buyer approve: %v", err)
	}
	if err := engine.SellerApprove("job-1", sellerAddr, false); err != nil {
		t.Fatalf("seller approve: %v", err)
	}

	stored, _ := store.ContractGet("job-1")
	if stored.Status != StatusCompleted {
		t.Fatalf("status = %v, want completed", stored.Status)
	}
	if got := custodyBalance(t, ledger, "job-1"); got != 0 {
		t.Fatalf("custody not drained: %d", got)
	}
	if got := ledger.balances[sellerAddr][testToken] - sellerBefore; got != 950_000_000 {
		t.Fatalf("seller received %d, want 950000000", got)
	}
	if got := ledger.balances[buyerAddr][testToken] - buyerBefore; got != 50_000_000 {
		t.Fatalf("buyer received %d, want 50000000", got)
	}
	if got := ledger.balances[adminAddr][testToken]; got != 100_000_000 {
		t.Fatalf("admin received %d, want 100000000", got)
	}
}

func TestAgreedSplit(t *testing.T) {
	engine, store, ledger := newTestEngine(t)
	activateContract(t, engine, "job-1")

	buyerBefore := ledger.balances[buyerAddr][testToken]
	sellerBefore := ledger.balances[sellerAddr][testToken]

	if err := engine.BuyerApprove("job-1", buyerAddr, true); err != nil {
		t.Fatalf("buyer approve: %v", err)
	}
	if err := engine.SellerApprove("job-1", sellerAddr, true); err != nil {
		t.Fatalf("seller approve: %v", err)
	}

	stored, _ := store.ContractGet("job-1")
	if stored.Status != StatusCompleted {
		t.Fatalf("status = %v, want completed", stored.Status)
	}
	if got := ledger.balances[sellerAddr][testToken] - sellerBefore; got != 500_000_000 {
		t.Fatalf("seller received %d, want 500000000", got)
	}
	if got := ledger.balances[buyerAddr][testToken] - buyerBefore; got != 500_000_000 {
		t.Fatalf("buyer received %d, want 500000000", got)
	}
	if got := ledger.balances[adminAddr][testToken]; got != 100_000_000 {
		t.Fatalf("admin received %d, want 100000000", got)
	}
}

func TestSplitRejectedEscalatesToDispute(t *testing.T) {
	engine, store, ledger := newTestEngine(t)
	activateContract(t, engine, "job-1")
	if err := engine.BuyerApprove("job-1", buyerAddr, true); err != nil {
		t.Fatalf("buyer approve: %v", err)
	}
	if err := engine.SellerApprove("job-1", sellerAddr, false); err != nil {
		t.Fatalf("seller approve: %v", err)
	}
	stored, _ := store.ContractGet("job-1")
	if stored.Status != StatusDispute {
		t.Fatalf("status = %v, want dispute", stored.Status)
	}
	if ledger.settlements != 0 {
		t.Fatal("escalation must not move funds")
	}
	// Party approvals are locked out during arbitration.
	if err := engine.BuyerApprove("job-1", buyerAddr, true); !errors.Is(err, ErrCantRelease) {
		t.Fatalf("expected ErrCantRelease, got %v", err)
	}
	if err := engine.SellerApprove("job-1", sellerAddr, true); !errors.Is(err, ErrCantRelease) {
		t.Fatalf("expected ErrCantRelease, got %v", err)
	}
}

func raiseDispute(t *testing.T, engine *Engine, id string) {
	t.Helper()
	activateContract(t, engine, id)
	if err := engine.BuyerApprove(id, buyerAddr, true); err != nil {
		t.Fatalf("buyer approve: %v", err)
	}
	if err := engine.SellerApprove(id, sellerAddr, false); err != nil {
		t.Fatalf("seller approve: %v", err)
	}
}

func TestAdminResolvesDisputeForBuyer(t *testing.T) {
	engine, store, ledger := newTestEngine(t)
	raiseDispute(t, engine, "job-1")

	buyerBefore := ledger.balances[buyerAddr][testToken]
	if err := engine.AdminApprove("job-1", adminAddr, DecisionBuyerFavored); err != nil {
		t.Fatalf("admin approve: %v", err)
	}
	stored, _ := store.ContractGet("job-1")
	if stored.Status != StatusCompleted || !stored.AdminApproved {
		t.Fatalf("unexpected record: %+v", stored)
	}
	if got := ledger.balances[buyerAddr][testToken] - buyerBefore; got != 950_000_000 {
		t.Fatalf("buyer received %d, want 950000000", got)
	}
	// The platform keeps the seller's forfeited stake on top of its share.
	if got := ledger.balances[adminAddr][testToken]; got != 150_000_000 {
		t.Fatalf("admin received %d, want 150000000", got)
	}
	if got := custodyBalance(t, ledger, "job-1"); got != 0 {
		t.Fatalf("custody not drained: %d", got)
	}
}

func TestAdminResolvesDisputeForSeller(t *testing.T) {
	for _, decision := range []Decision{DecisionSellerFavored, DecisionAutoAcceptSeller} {
		engine, store, ledger := newTestEngine(t)
		raiseDispute(t, engine, "job-1")
		sellerBefore := ledger.balances[sellerAddr][testToken]
		if err := engine.AdminApprove("job-1", adminAddr, decision); err != nil {
			t.Fatalf("decision %v: %v", decision, err)
		}
		stored, _ := store.ContractGet("job-1")
		if stored.Status != StatusCompleted {
			t.Fatalf("decision %v: status = %v", decision, stored.Status)
		}
		if got := ledger.balances[sellerAddr][testToken] - sellerBefore; got != 950_000_000 {
			t.Fatalf("decision %v: seller received %d", decision, got)
		}
		if got := ledger.balances[adminAddr][testToken]; got != 150_000_000 {
			t.Fatalf("decision %v: admin received %d", decision, got)
		}
	}
}

func TestAdminResolvesDisputeWithSplit(t *testing.T) {
	engine, _, ledger := newTestEngine(t)
	raiseDispute(t, engine, "job-1")
	buyerBefore := ledger.balances[buyerAddr][testToken]
	sellerBefore := ledger.balances[sellerAddr][testToken]
	if err := engine.AdminApprove("job-1", adminAddr, DecisionSplit); err != nil {
		t.Fatalf("admin approve: %v", err)
	}
	// Each party takes 45% of net plus half their stake back.
	if got := ledger.balances[sellerAddr][testToken] - sellerBefore; got != 475_000_000 {
		t.Fatalf("seller received %d, want 475000000", got)
	}
	if got := ledger.balances[buyerAddr][testToken] - buyerBefore; got != 475_000_000 {
		t.Fatalf("buyer received %d, want 475000000", got)
	}
	if got := ledger.balances[adminAddr][testToken]; got != 150_000_000 {
		t.Fatalf("admin received %d, want 150000000", got)
	}
}

func TestAdminApproveGuards(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	activateContract(t, engine, "job-1")
	// Active is neither pending nor disputed.
	if err := engine.AdminApprove("job-1", adminAddr, DecisionSplit); !errors.Is(err, ErrNotReadyYet) {
		t.Fatalf("expected ErrNotReadyYet, got %v", err)
	}
	if err := engine.BuyerApprove("job-1", buyerAddr, false); err != nil {
		t.Fatalf("buyer approve: %v", err)
	}
	if err := engine.AdminApprove("job-1", sellerAddr, DecisionSplit); !errors.Is(err, ErrInvalidAdmin) {
		t.Fatalf("expected ErrInvalidAdmin, got %v", err)
	}
	if err := engine.AdminApprove("job-1", adminAddr, Decision(9)); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
}

func TestAdminDefaultsUnresponsiveBuyerToSeller(t *testing.T) {
	engine, store, ledger := newTestEngine(t)
	activateContract(t, engine, "job-1")
	if err := engine.SellerApprove("job-1", sellerAddr, false); err != nil {
		t.Fatalf("seller approve: %v", err)
	}

	sellerBefore := ledger.balances[sellerAddr][testToken]
	if err := engine.AdminApprove("job-1", adminAddr, DecisionAutoAcceptSeller); err != nil {
		t.Fatalf("admin approve: %v", err)
	}
	stored, _ := store.ContractGet("job-1")
	// The record deliberately stays pending in this branch.
	if stored.Status != StatusPending || !stored.AdminApproved {
		t.Fatalf("unexpected record: %+v", stored)
	}
	if got := ledger.balances[sellerAddr][testToken] - sellerBefore; got != 950_000_000 {
		t.Fatalf("seller received %d, want 950000000", got)
	}
	if got := ledger.balances[adminAddr][testToken]; got != 150_000_000 {
		t.Fatalf("admin received %d, want 150000000", got)
	}
	if got := custodyBalance(t, ledger, "job-1"); got != 0 {
		t.Fatalf("custody not drained: %d", got)
	}
	// A second arbitration attempt finds the custody drained and aborts
	// without moving funds.
	settlements := ledger.settlements
	if err := engine.AdminApprove("job-1", adminAddr, DecisionAutoAcceptSeller); !errors.Is(err, ErrArithmetic) {
		t.Fatalf("expected arithmetic abort on drained custody, got %v", err)
	}
	if ledger.settlements != settlements {
		t.Fatal("re-settlement must not move funds")
	}
}

func TestIdempotentApprovalsBeforeCounterpart(t *testing.T) {
	engine, store, ledger := newTestEngine(t)
	activateContract(t, engine, "job-1")
	if err := engine.BuyerApprove("job-1", buyerAddr, true); err != nil {
		t.Fatalf("buyer approve: %v", err)
	}
	first, _ := store.ContractGet("job-1")
	transfers := ledger.transfers
	if err := engine.BuyerApprove("job-1", buyerAddr, true); err != nil {
		t.Fatalf("repeat buyer approve: %v", err)
	}
	second, _ := store.ContractGet("job-1")
	if *first != *second {
		t.Fatalf("repeat approval changed the record: %+v vs %+v", first, second)
	}
	if ledger.transfers != transfers {
		t.Fatal("repeat approval must not transfer")
	}
}

func TestNoTransitionOutOfCompleted(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	activateContract(t, engine, "job-1")
	if err := engine.BuyerApprove("job-1", buyerAddr, false); err != nil {
		t.Fatalf("buyer approve: %v", err)
	}
	if err := engine.SellerApprove("job-1", sellerAddr, false); err != nil {
		t.Fatalf("seller approve: %v", err)
	}
	if err := engine.Activate("job-1", sellerAddr); !errors.Is(err, ErrCantRelease) {
		t.Fatalf("activate on completed: %v", err)
	}
	if err := engine.BuyerApprove("job-1", buyerAddr, false); !errors.Is(err, ErrCantRelease) {
		t.Fatalf("buyer approve on completed: %v", err)
	}
	if err := engine.SellerApprove("job-1", sellerAddr, false); !errors.Is(err, ErrCantRelease) {
		t.Fatalf("seller approve on completed: %v", err)
	}
	if err := engine.AdminApprove("job-1", adminAddr, DecisionSplit); !errors.Is(err, ErrNotReadyYet) {
		t.Fatalf("admin approve on completed: %v", err)
	}
}

func TestSettlementFailureLeavesRecordUntouched(t *testing.T) {
	engine, store, ledger := newTestEngine(t)
	activateContract(t, engine, "job-1")
	if err := engine.BuyerApprove("job-1", buyerAddr, false); err != nil {
		t.Fatalf("buyer approve: %v", err)
	}
	before, _ := store.ContractGet("job-1")
	ledger.failSettle = true
	if err := engine.SellerApprove("job-1", sellerAddr, false); err == nil {
		t.Fatal("expected settlement failure to abort the operation")
	}
	after, _ := store.ContractGet("job-1")
	if *before != *after {
		t.Fatalf("failed settlement mutated the record: %+v vs %+v", before, after)
	}
	if got := custodyBalance(t, ledger, "job-1"); got != testAmount+2*FixedDisputeFee {
		t.Fatalf("custody changed on failed settlement: %d", got)
	}
}

func TestDeriveCustodyAddressIsDeterministic(t *testing.T) {
	a := DeriveCustodyAddress("job-1")
	b := DeriveCustodyAddress("job-1")
	if a != b {
		t.Fatal("derivation must be deterministic")
	}
	if a == DeriveCustodyAddress("job-2") {
		t.Fatal("distinct contract ids must derive distinct custody accounts")
	}
	if a == ([20]byte{}) {
		t.Fatal("custody address must be non-zero")
	}
}
