package auctions

import (
	"errors"
	"fmt"
)

// domainError is a sentinel that can refine a broader sentinel, so callers
// may match either the specific kind or its family with errors.Is.
type domainError struct {
	msg    string
	parent error
}

func (e *domainError) Error() string { return e.msg }

func (e *domainError) Unwrap() error { return e.parent }

func refine(parent error, msg string) error {
	return &domainError{msg: msg, parent: parent}
}

// Bid and lifecycle rejections
var (
	ErrAuctionNotActive       = fmt.Errorf("auction is not active")
	ErrAuctionAlreadyTerminal = refine(ErrAuctionNotActive, "auction is already closed")
	ErrAuctionEnded           = refine(ErrAuctionAlreadyTerminal, "auction has ended")

	ErrBidTooLow       = fmt.Errorf("bid amount is below the next allowed bid")
	ErrMaxBidNotRaised = refine(ErrBidTooLow, "maximum bid must be higher than your current maximum")

	ErrInvalidAmount          = fmt.Errorf("bid amount must be positive")
	ErrSelfBidForbidden       = fmt.Errorf("seller cannot bid on their own auction")
	ErrBidderSuspended        = fmt.Errorf("bidder is suspended")
	ErrReserveNotMetForHammer = fmt.Errorf("reserve price has not been met")
	ErrNoBids                 = fmt.Errorf("auction has no bids")
	ErrUnauthorizedActor      = fmt.Errorf("only the seller can perform this action")
	ErrAuctionTypeMismatch    = fmt.Errorf("operation is not supported for this auction type")
)

// Lookup and infrastructure errors
var (
	ErrAuctionNotFound        = fmt.Errorf("auction not found")
	ErrMaxBidNotFound         = fmt.Errorf("no maximum bid placed")
	ErrConcurrentModification = fmt.Errorf("auction was modified concurrently")
	ErrLedgerFrozen           = fmt.Errorf("bid ledger is frozen")
	ErrLedgerOutOfOrder       = fmt.Errorf("bid sequence out of order")
	ErrEngineClosed           = fmt.Errorf("auction engine is shut down")
)

// Creation errors
var (
	ErrInvalidAuction      = fmt.Errorf("invalid auction")
	ErrInvalidAuctionType  = refine(ErrInvalidAuction, "auction type must be LIVE or TIMED")
	ErrInvalidStartPrice   = refine(ErrInvalidAuction, "start price must be positive")
	ErrInvalidReservePrice = refine(ErrInvalidAuction, "reserve price must not be below the start price")
	ErrInvalidEndTime      = refine(ErrInvalidAuction, "end time must be in the future and after the start time")
)

// IsRejection reports whether err is a validation outcome rather than an
// infrastructure failure.
func IsRejection(err error) bool {
	for _, kind := range []error{
		ErrAuctionNotActive, ErrBidTooLow, ErrInvalidAmount, ErrSelfBidForbidden,
		ErrBidderSuspended, ErrReserveNotMetForHammer, ErrNoBids, ErrUnauthorizedActor,
		ErrAuctionTypeMismatch, ErrInvalidAuction, ErrAuctionNotFound, ErrMaxBidNotFound,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
