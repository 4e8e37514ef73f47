package gig

import "math"

// TokenDecimals is the base-unit precision of the pay token.
const TokenDecimals = 8

// FixedDisputeFee is the per-party stake required on every contract: half a
// token in base units. Start rejects any other value.
const FixedDisputeFee uint64 = 50_000_000

// Percentage shares applied to the net principal (custody balance minus both
// stakes). The admin leg is always derived as the remainder of the custody
// balance, so the three legs of every branch sum to the balance exactly and
// integer truncation accrues to the platform.
const (
	sellerSharePct   = 90
	splitSharePct    = 45
	platformSharePct = 10
)

// Payout is the result of evaluating one settlement branch against a custody
// balance. Amounts are in pay-token base units.
type Payout struct {
	Seller uint64 `json:"seller"`
	Buyer  uint64 `json:"buyer"`
	Admin  uint64 `json:"admin"`
}

// Total returns the checked sum of all three legs.
func (p Payout) Total() (uint64, error) {
	sum, err := checkedAdd(p.Seller, p.Buyer)
	if err != nil {
		return 0, err
	}
	return checkedAdd(sum, p.Admin)
}

func checkedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrArithmetic
	}
	return a + b, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if a < b {
		return 0, ErrArithmetic
	}
	return a - b, nil
}

func checkedPct(v, pct uint64) (uint64, error) {
	if pct != 0 && v > math.MaxUint64/pct {
		return 0, ErrArithmetic
	}
	return v * pct / 100, nil
}

// netPrincipal returns balance minus both parties' stakes. A balance below
// 2*fee means custody was never fully staked (or already drained) and is a
// hard error.
func netPrincipal(balance, fee uint64) (uint64, error) {
	stakes, err := checkedAdd(fee, fee)
	if err != nil {
		return 0, err
	}
	return checkedSub(balance, stakes)
}

// settle computes a payout where the seller and buyer legs are explicit and
// the admin leg is the remainder of the balance.
func settle(balance, seller, buyer uint64) (Payout, error) {
	partial, err := checkedAdd(seller, buyer)
	if err != nil {
		return Payout{}, err
	}
	admin, err := checkedSub(balance, partial)
	if err != nil {
		return Payout{}, err
	}
	return Payout{Seller: seller, Buyer: buyer, Admin: admin}, nil
}

// SettleRelease is the mutual-agreement branch without a split request: the
// seller collects 90% of the net principal plus their stake back, the buyer
// only recovers their stake and the platform keeps the remaining 10%.
func SettleRelease(balance, fee uint64) (Payout, error) {
	net, err := netPrincipal(balance, fee)
	if err != nil {
		return Payout{}, err
	}
	share, err := checkedPct(net, sellerSharePct)
	if err != nil {
		return Payout{}, err
	}
	seller, err := checkedAdd(share, fee)
	if err != nil {
		return Payout{}, err
	}
	return settle(balance, seller, fee)
}

// SettleAgreedSplit is the branch where the buyer requested a split and the
// seller accepted: both parties take 45% of the net principal plus their own
// stake back.
func SettleAgreedSplit(balance, fee uint64) (Payout, error) {
	net, err := netPrincipal(balance, fee)
	if err != nil {
		return Payout{}, err
	}
	share, err := checkedPct(net, splitSharePct)
	if err != nil {
		return Payout{}, err
	}
	each, err := checkedAdd(share, fee)
	if err != nil {
		return Payout{}, err
	}
	return settle(balance, each, each)
}

// SettleDefaultSeller pays the seller 90% of the net principal plus their
// stake; the platform absorbs the buyer's forfeited stake. Used when the buyer
// never responded or when arbitration sides with the seller.
func SettleDefaultSeller(balance, fee uint64) (Payout, error) {
	net, err := netPrincipal(balance, fee)
	if err != nil {
		return Payout{}, err
	}
	share, err := checkedPct(net, sellerSharePct)
	if err != nil {
		return Payout{}, err
	}
	seller, err := checkedAdd(share, fee)
	if err != nil {
		return Payout{}, err
	}
	return settle(balance, seller, 0)
}

// SettleDefaultBuyer mirrors SettleDefaultSeller in the buyer's favour; the
// platform absorbs the seller's forfeited stake.
func SettleDefaultBuyer(balance, fee uint64) (Payout, error) {
	net, err := netPrincipal(balance, fee)
	if err != nil {
		return Payout{}, err
	}
	share, err := checkedPct(net, sellerSharePct)
	if err != nil {
		return Payout{}, err
	}
	buyer, err := checkedAdd(share, fee)
	if err != nil {
		return Payout{}, err
	}
	return settle(balance, 0, buyer)
}

// SettleArbitratedSplit is the arbiter-imposed split: both parties take 45% of
// the net principal plus half their stake back; the platform keeps the rest,
// which includes the other halves of both stakes.
func SettleArbitratedSplit(balance, fee uint64) (Payout, error) {
	net, err := netPrincipal(balance, fee)
	if err != nil {
		return Payout{}, err
	}
	share, err := checkedPct(net, splitSharePct)
	if err != nil {
		return Payout{}, err
	}
	each, err := checkedAdd(share, fee/2)
	if err != nil {
		return Payout{}, err
	}
	return settle(balance, each, each)
}
