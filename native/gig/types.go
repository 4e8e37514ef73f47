package gig

import (
	"fmt"
	"strings"
)

// Status represents the lifecycle state of a gig contract.
type Status uint8

const (
	StatusNoExist Status = iota
	StatusCreated
	StatusActive
	StatusPending
	StatusDispute
	StatusCompleted
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusNoExist, StatusCreated, StatusActive, StatusPending, StatusDispute, StatusCompleted:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusNoExist:
		return "noexist"
	case StatusCreated:
		return "created"
	case StatusActive:
		return "active"
	case StatusPending:
		return "pending"
	case StatusDispute:
		return "dispute"
	case StatusCompleted:
		return "completed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Decision enumerates the outcomes the arbiter may hand down when resolving a
// pending or disputed contract.
type Decision uint8

const (
	DecisionAutoAcceptSeller Decision = iota
	DecisionSellerFavored
	DecisionBuyerFavored
	DecisionSplit
)

// Valid reports whether the decision value is within the supported range.
func (d Decision) Valid() bool {
	switch d {
	case DecisionAutoAcceptSeller, DecisionSellerFavored, DecisionBuyerFavored, DecisionSplit:
		return true
	default:
		return false
	}
}

func (d Decision) String() string {
	switch d {
	case DecisionAutoAcceptSeller:
		return "auto_accept_seller"
	case DecisionSellerFavored:
		return "seller_favored"
	case DecisionBuyerFavored:
		return "buyer_favored"
	case DecisionSplit:
		return "split"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(d))
	}
}

// Contract captures the full state of a single buyer/seller engagement. One
// record exists per caller-supplied contract identifier; the identifier also
// determines the custody account address, so it must never change after
// creation.
type Contract struct {
	ContractID      string   `json:"contractId"`
	Buyer           [20]byte `json:"buyer"`
	Seller          [20]byte `json:"seller"`
	StartTime       int64    `json:"startTime"`
	Deadline        int64    `json:"deadline"`
	Amount          uint64   `json:"amount"`
	DisputeFee      uint64   `json:"disputeFee"`
	Split           bool     `json:"split"`
	SellerSatisfied bool     `json:"sellerSatisfied"`
	BuyerApproved   bool     `json:"buyerApproved"`
	SellerApproved  bool     `json:"sellerApproved"`
	AdminApproved   bool     `json:"adminApproved"`
	Status          Status   `json:"status"`
}

// Clone returns a copy of the contract so callers can mutate it without
// affecting the stored instance.
func (c *Contract) Clone() *Contract {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// NormalizeToken ensures the provided token symbol matches a supported value
// ("GIG" or "USD") and returns the canonical uppercase form.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	switch trimmed {
	case "GIG", "USD":
		return trimmed, nil
	default:
		return "", fmt.Errorf("unsupported pay token: %s", symbol)
	}
}

// SanitizeContract validates the supplied contract record and returns a clone
// with canonical field values. The original value is not mutated.
func SanitizeContract(c *Contract) (*Contract, error) {
	if c == nil {
		return nil, fmt.Errorf("nil contract")
	}
	clone := c.Clone()
	clone.ContractID = strings.TrimSpace(clone.ContractID)
	if clone.ContractID == "" {
		return nil, fmt.Errorf("contract id must not be empty")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid contract status: %d", clone.Status)
	}
	if clone.Status == StatusCompleted && (!clone.BuyerApproved && !clone.SellerApproved && !clone.AdminApproved) {
		return nil, fmt.Errorf("completed contract without any recorded approval")
	}
	return clone, nil
}
