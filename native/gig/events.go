package gig

import (
	"encoding/hex"
	"strconv"

	"gigescrow/core/types"
)

const (
	EventTypeContractStarted        = "gig.contract.started"
	EventTypeContractActivated      = "gig.contract.activated"
	EventTypeContractBuyerApproved  = "gig.contract.buyer_approved"
	EventTypeContractSellerApproved = "gig.contract.seller_approved"
	EventTypeContractDisputed       = "gig.contract.disputed"
	EventTypeContractSettled        = "gig.contract.settled"
)

// NewStartedEvent returns the canonical event payload for a newly created
// contract.
func NewStartedEvent(c *Contract) *types.Event { return newContractEvent(EventTypeContractStarted, c) }

// NewActivatedEvent returns the canonical event payload emitted when the
// seller stakes their dispute fee.
func NewActivatedEvent(c *Contract) *types.Event {
	return newContractEvent(EventTypeContractActivated, c)
}

// NewBuyerApprovedEvent returns the payload emitted after the buyer-side
// approval.
func NewBuyerApprovedEvent(c *Contract) *types.Event {
	return newContractEvent(EventTypeContractBuyerApproved, c)
}

// NewSellerApprovedEvent returns the payload emitted after the seller-side
// approval when no settlement fires.
func NewSellerApprovedEvent(c *Contract) *types.Event {
	return newContractEvent(EventTypeContractSellerApproved, c)
}

// NewDisputedEvent returns the payload emitted when the seller rejects a
// requested split and the contract escalates to arbitration.
func NewDisputedEvent(c *Contract) *types.Event {
	return newContractEvent(EventTypeContractDisputed, c)
}

// NewSettledEvent returns the payload emitted when custody is paid out. The
// outcome names the settlement branch that fired.
func NewSettledEvent(c *Contract, outcome string, payout Payout) *types.Event {
	evt := newContractEvent(EventTypeContractSettled, c)
	evt.Attributes["outcome"] = outcome
	evt.Attributes["payoutSeller"] = strconv.FormatUint(payout.Seller, 10)
	evt.Attributes["payoutBuyer"] = strconv.FormatUint(payout.Buyer, 10)
	evt.Attributes["payoutAdmin"] = strconv.FormatUint(payout.Admin, 10)
	return evt
}

func newContractEvent(eventType string, c *Contract) *types.Event {
	attrs := make(map[string]string)
	if c == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["contractId"] = c.ContractID
	attrs["buyer"] = hex.EncodeToString(c.Buyer[:])
	attrs["seller"] = hex.EncodeToString(c.Seller[:])
	attrs["amount"] = strconv.FormatUint(c.Amount, 10)
	attrs["disputeFee"] = strconv.FormatUint(c.DisputeFee, 10)
	attrs["status"] = c.Status.String()
	attrs["split"] = strconv.FormatBool(c.Split)
	return &types.Event{Type: eventType, Attributes: attrs}
}
