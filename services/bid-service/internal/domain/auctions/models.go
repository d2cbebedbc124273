package auctions

import (
	"time"

	"github.com/google/uuid"
)

// AuctionType selects the bidding format.
type AuctionType string

const (
	AuctionTypeLive  AuctionType = "LIVE"
	AuctionTypeTimed AuctionType = "TIMED"
)

func (t AuctionType) Valid() bool {
	return t == AuctionTypeLive || t == AuctionTypeTimed
}

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus string

const (
	StatusScheduled     AuctionStatus = "SCHEDULED"
	StatusActive        AuctionStatus = "ACTIVE"
	StatusSold          AuctionStatus = "SOLD"
	StatusReserveNotMet AuctionStatus = "RESERVE_NOT_MET"
	StatusCancelled     AuctionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s AuctionStatus) IsTerminal() bool {
	return s == StatusSold || s == StatusReserveNotMet || s == StatusCancelled
}

// Auction is the authoritative state of one auction. Amounts are minor units.
type Auction struct {
	ID              uuid.UUID     `db:"id"`
	Type            AuctionType   `db:"type"`
	Status          AuctionStatus `db:"status"`
	SellerID        uuid.UUID     `db:"seller_id"`
	StartPrice      int64         `db:"start_price"`
	ReservePrice    *int64        `db:"reserve_price"`
	CurrentBid      int64         `db:"current_bid"`
	HighestBidderID *uuid.UUID    `db:"highest_bidder_id"`
	StartTime       time.Time     `db:"start_time"`
	EndTime         time.Time     `db:"end_time"`
	BidCount        int           `db:"bid_count"`
	ReserveMet      bool          `db:"reserve_met"`
	WinnerID        *uuid.UUID    `db:"winner_id"`
	WinningBid      *int64        `db:"winning_bid"`
	Version         int64         `db:"version"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
}

// HasBids reports whether anyone currently leads the auction.
func (a *Auction) HasBids() bool {
	return a.HighestBidderID != nil
}

// NextBidAmount is the lowest amount the next bid may carry.
func (a *Auction) NextBidAmount() int64 {
	if !a.HasBids() {
		return a.StartPrice
	}
	return NextBidAmount(a.CurrentBid)
}

// ReserveSatisfied is true when there is no reserve or it has been reached.
func (a *Auction) ReserveSatisfied() bool {
	return a.ReservePrice == nil || a.ReserveMet
}

// Clone returns a deep copy safe to hand outside the serializer.
func (a *Auction) Clone() *Auction {
	c := *a
	c.ReservePrice = clonePtr(a.ReservePrice)
	c.HighestBidderID = clonePtr(a.HighestBidderID)
	c.WinnerID = clonePtr(a.WinnerID)
	c.WinningBid = clonePtr(a.WinningBid)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Bid is one row of the public bid history. For timed auctions Amount is
// the visible price, never the bidder's private maximum.
type Bid struct {
	ID        uuid.UUID `db:"id"`
	AuctionID uuid.UUID `db:"auction_id"`
	BidderID  uuid.UUID `db:"bidder_id"`
	Amount    int64     `db:"amount"`
	BidTime   time.Time `db:"bid_time"`
	IsAutoBid bool      `db:"is_auto_bid"`
	Seq       int64     `db:"seq"`
}

// ProxyBid is a bidder's private ceiling on a timed auction.
type ProxyBid struct {
	AuctionID uuid.UUID `db:"auction_id"`
	BidderID  uuid.UUID `db:"bidder_id"`
	MaxBid    int64     `db:"max_bid"`
	Seq       int64     `db:"seq"`
	UpdatedAt time.Time `db:"updated_at"`
}

// EventType names a state change. The values double as outbox routing keys.
type EventType string

const (
	EventSnapshot             EventType = "auction.snapshot"
	EventAuctionCreated       EventType = "auction.created"
	EventBidPlaced            EventType = "bid.placed"
	EventAuctionStarted       EventType = "auction.started"
	EventAuctionSold          EventType = "auction.sold"
	EventAuctionReserveNotMet EventType = "auction.reserve_not_met"
	EventAuctionCancelled     EventType = "auction.cancelled"
)

// StateEvent is what subscribers of an auction topic receive.
type StateEvent struct {
	Type            EventType
	AuctionID       uuid.UUID
	Status          AuctionStatus
	CurrentBid      int64
	HighestBidderID *uuid.UUID
	NextBidAmount   int64
	EndTime         time.Time
	ReserveMet      bool
	WinnerID        *uuid.UUID
	WinningBid      *int64
	NewBids         []Bid
	Version         int64
	OccurredAt      time.Time
}

// NewStateEvent builds an event from a snapshot of a.
func NewStateEvent(t EventType, a *Auction, newBids []*Bid, at time.Time) StateEvent {
	ev := StateEvent{
		Type:            t,
		AuctionID:       a.ID,
		Status:          a.Status,
		CurrentBid:      a.CurrentBid,
		HighestBidderID: clonePtr(a.HighestBidderID),
		NextBidAmount:   a.NextBidAmount(),
		EndTime:         a.EndTime,
		ReserveMet:      a.ReserveMet,
		WinnerID:        clonePtr(a.WinnerID),
		WinningBid:      clonePtr(a.WinningBid),
		Version:         a.Version,
		OccurredAt:      at,
	}
	for _, b := range newBids {
		ev.NewBids = append(ev.NewBids, *b)
	}
	return ev
}

// CreateAuctionCommand is issued by the seller-facing collaborator.
type CreateAuctionCommand struct {
	SellerID     uuid.UUID
	Type         AuctionType
	StartPrice   int64
	ReservePrice *int64
	StartTime    time.Time // zero means now
	EndTime      time.Time
}

type PlaceBidCommand struct {
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Amount    int64
}

type PlaceMaxBidCommand struct {
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	MaxBid    int64
}

type CancelCommand struct {
	AuctionID uuid.UUID
	ActorID   uuid.UUID
	// System marks an operator or platform action; it bypasses the seller check.
	System bool
}

type HammerDownCommand struct {
	AuctionID uuid.UUID
	SellerID  uuid.UUID
}

// BidResult is returned to the bidder after an accepted submission.
type BidResult struct {
	Auction *Auction
	NewBids []Bid
	// Leading tells a timed-auction bidder whether their ceiling currently leads.
	Leading bool
}
