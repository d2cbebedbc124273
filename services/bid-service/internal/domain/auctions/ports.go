package auctions

import (
	"context"

	"github.com/google/uuid"

	"github.com/floroz/auctioneer/pkg/events"
)

// BidCommit is everything one accepted submission persists atomically.
type BidCommit struct {
	Auction         *Auction
	ExpectedVersion int64
	Bids            []*Bid
	// Ceiling is set for timed auctions.
	Ceiling *ProxyBid
	// Outbox is nil when the submission produced no public bid.
	Outbox *events.OutboxEvent
}

// Store persists auctions, their ledgers and ceilings.
// Writes that carry an expected version fail with ErrConcurrentModification
// when the stored version differs.
type Store interface {
	CreateAuction(ctx context.Context, auction *Auction, outbox *events.OutboxEvent) error
	CommitBid(ctx context.Context, commit *BidCommit) error
	CommitTransition(ctx context.Context, auction *Auction, expectedVersion int64, outbox *events.OutboxEvent) error

	// GetAuction returns ErrAuctionNotFound for unknown ids.
	GetAuction(ctx context.Context, id uuid.UUID) (*Auction, error)
	// ListBids returns bids newest first; limit <= 0 returns all.
	ListBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]*Bid, error)
	ListProxyBids(ctx context.Context, auctionID uuid.UUID) ([]*ProxyBid, error)
	// ListOpenAuctions returns SCHEDULED and ACTIVE auctions.
	ListOpenAuctions(ctx context.Context) ([]*Auction, error)
}

// StatePublisher fans state events out to subscribers of an auction.
// Publish must not block.
type StatePublisher interface {
	Publish(auctionID uuid.UUID, event StateEvent) int
}

// SuspensionChecker reports whether a bidder is inside a ban window.
type SuspensionChecker interface {
	IsSuspended(ctx context.Context, bidderID uuid.UUID) (bool, error)
}
