package auctions

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// The functions in this file are the auction state machine. Each one takes
// the current state and returns the next state as a new value, leaving the
// input untouched so a failed commit can simply discard the result.

// newAuction validates a create command and builds the initial state.
func newAuction(cmd CreateAuctionCommand, now time.Time) (*Auction, error) {
	if !cmd.Type.Valid() {
		return nil, ErrInvalidAuctionType
	}
	if cmd.StartPrice <= 0 {
		return nil, ErrInvalidStartPrice
	}
	if cmd.ReservePrice != nil && *cmd.ReservePrice < cmd.StartPrice {
		return nil, ErrInvalidReservePrice
	}

	start := cmd.StartTime
	if start.IsZero() || start.Before(now) {
		start = now
	}
	if !cmd.EndTime.After(start) {
		return nil, ErrInvalidEndTime
	}

	status := StatusActive
	if start.After(now) {
		status = StatusScheduled
	}

	return &Auction{
		ID:           uuid.New(),
		Type:         cmd.Type,
		Status:       status,
		SellerID:     cmd.SellerID,
		StartPrice:   cmd.StartPrice,
		ReservePrice: clonePtr(cmd.ReservePrice),
		StartTime:    start,
		EndTime:      cmd.EndTime,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// checkBiddable applies the rejections shared by both auction types.
func checkBiddable(a *Auction, bidderID uuid.UUID, suspended bool, now time.Time) error {
	switch {
	case a.Status == StatusCancelled:
		return ErrAuctionAlreadyTerminal
	case a.Status.IsTerminal():
		return ErrAuctionEnded
	case a.Status != StatusActive:
		return ErrAuctionNotActive
	case !now.Before(a.EndTime):
		return ErrAuctionEnded
	case bidderID == a.SellerID:
		return ErrSelfBidForbidden
	case suspended:
		return ErrBidderSuspended
	}
	return nil
}

// liveBid accepts a fixed-amount bid on a live auction.
func liveBid(a *Auction, bidderID uuid.UUID, amount int64, now time.Time) (*Auction, error) {
	if next := a.NextBidAmount(); amount < next {
		return nil, fmt.Errorf("%w: minimum is %d", ErrBidTooLow, next)
	}
	return extended(withPrice(a, bidderID, amount, 1, now), now), nil
}

// withPrice records a new public price and leader and re-checks the reserve.
// newRows is the number of ledger rows the change adds.
func withPrice(a *Auction, leader uuid.UUID, price int64, newRows int, now time.Time) *Auction {
	next := a.Clone()
	next.CurrentBid = price
	next.HighestBidderID = &leader
	next.BidCount += newRows
	if next.ReservePrice != nil && price >= *next.ReservePrice {
		next.ReserveMet = true
	}
	return touched(next, now)
}

// extended applies the soft-close rule for a submission accepted at now.
func extended(a *Auction, now time.Time) *Auction {
	end, moved := SoftCloseFor(a.Type).Extend(a.EndTime, now)
	if !moved {
		return a
	}
	next := a.Clone()
	next.EndTime = end
	return next
}

func touched(a *Auction, now time.Time) *Auction {
	a.Version++
	a.UpdatedAt = now
	return a
}

// activated promotes a scheduled auction once its start time has passed.
func activated(a *Auction, now time.Time) *Auction {
	next := a.Clone()
	next.Status = StatusActive
	return touched(next, now)
}

// expired resolves an auction whose end time has passed.
func expired(a *Auction, now time.Time) (*Auction, EventType) {
	next := a.Clone()
	if !a.ReserveSatisfied() || !a.HasBids() {
		next.Status = StatusReserveNotMet
		return touched(next, now), EventAuctionReserveNotMet
	}
	return sold(next, now), EventAuctionSold
}

func sold(next *Auction, now time.Time) *Auction {
	next.Status = StatusSold
	next.WinnerID = clonePtr(next.HighestBidderID)
	winning := next.CurrentBid
	next.WinningBid = &winning
	return touched(next, now)
}

// hammered closes the auction early at the seller's request.
func hammered(a *Auction, sellerID uuid.UUID, now time.Time) (*Auction, error) {
	switch {
	case a.Status == StatusCancelled:
		return nil, ErrAuctionAlreadyTerminal
	case a.Status.IsTerminal():
		return nil, ErrAuctionEnded
	case a.Status != StatusActive:
		return nil, ErrAuctionNotActive
	case !now.Before(a.EndTime):
		return nil, ErrAuctionEnded
	case sellerID != a.SellerID:
		return nil, ErrUnauthorizedActor
	case !a.ReserveSatisfied():
		return nil, ErrReserveNotMetForHammer
	case !a.HasBids():
		return nil, ErrNoBids
	}
	return sold(a.Clone(), now), nil
}

// cancelled withdraws an auction before it resolves.
func cancelled(a *Auction, actorID uuid.UUID, system bool, now time.Time) (*Auction, error) {
	if a.Status.IsTerminal() {
		return nil, ErrAuctionAlreadyTerminal
	}
	if !system && actorID != a.SellerID {
		return nil, ErrUnauthorizedActor
	}
	next := a.Clone()
	next.Status = StatusCancelled
	return touched(next, now), nil
}
