package gig

import "errors"

// Role and state-guard errors mirror the wire-level error taxonomy: every
// failed operation surfaces exactly one of these (or a wrapped ledger error)
// and leaves the record untouched.
var (
	// ErrInvalidActivator is returned when someone other than the stored
	// seller attempts to activate the contract.
	ErrInvalidActivator = errors.New("gig: invalid seller is trying to activate contract")

	// ErrInvalidSeller is returned when someone other than the stored seller
	// attempts the seller-side approval.
	ErrInvalidSeller = errors.New("gig: invalid seller is trying to release funds")

	// ErrInvalidBuyer is returned when someone other than the stored buyer
	// attempts the buyer-side approval.
	ErrInvalidBuyer = errors.New("gig: invalid buyer is trying to release funds")

	// ErrInvalidAdmin is returned when someone other than the configured
	// arbiter attempts arbitration.
	ErrInvalidAdmin = errors.New("gig: invalid admin is trying to release funds")

	// ErrInvalidDisputeAmount is returned when the supplied dispute fee does
	// not equal the fixed protocol stake.
	ErrInvalidDisputeAmount = errors.New("gig: dispute fee must be exactly the protocol stake")

	// ErrPayTokenMint is returned when the payment denomination does not match
	// the configured pay token.
	ErrPayTokenMint = errors.New("gig: invalid payment token")

	// ErrCantRelease is returned when a party approval or activation arrives
	// while the contract is not in a state that permits it.
	ErrCantRelease = errors.New("gig: contract is not active yet or already completed")

	// ErrNotReadyYet is returned when arbitration is attempted while the
	// contract is neither pending nor disputed.
	ErrNotReadyYet = errors.New("gig: contract is not pending or disputed yet")

	// ErrContractExists is returned when Start is called with an identifier
	// that already has a record.
	ErrContractExists = errors.New("gig: contract id already exists")

	// ErrContractNotFound is returned when no record exists for the supplied
	// identifier.
	ErrContractNotFound = errors.New("gig: contract not found")

	// ErrInvalidDecision is returned when arbitration is invoked with a
	// decision value outside the supported set.
	ErrInvalidDecision = errors.New("gig: invalid arbitration decision")

	// ErrArithmetic is returned when a settlement formula would overflow or
	// underflow. Settlement amounts are never clamped.
	ErrArithmetic = errors.New("gig: settlement arithmetic overflow")
)
