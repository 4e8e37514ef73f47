package state

import (
	"testing"

	"gigescrow/native/gig"
	"gigescrow/storage"
)

func TestContractRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	contract := &gig.Contract{
		ContractID: "job-1",
		Buyer:      [20]byte{0x11},
		Seller:     [20]byte{0x22},
		StartTime:  1_700_000_000,
		Deadline:   1_700_100_000,
		Amount:     1_000_000_000,
		DisputeFee: gig.FixedDisputeFee,
		Status:     gig.StatusCreated,
	}
	if err := manager.ContractPut(contract); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok := manager.ContractGet("job-1")
	if !ok {
		t.Fatal("contract not found after put")
	}
	if *loaded != *contract {
		t.Fatalf("round trip mismatch: %+v vs %+v", loaded, contract)
	}
}

func TestContractGetMissing(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	if _, ok := manager.ContractGet("missing"); ok {
		t.Fatal("missing contract should not be found")
	}
}

func TestContractPutRejectsInvalid(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	if err := manager.ContractPut(&gig.Contract{ContractID: ""}); err == nil {
		t.Fatal("blank id should be rejected")
	}
	if err := manager.ContractPut(nil); err == nil {
		t.Fatal("nil contract should be rejected")
	}
}
