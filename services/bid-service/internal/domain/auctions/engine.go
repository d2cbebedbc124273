package auctions

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Engine indexes auction serializers by id. It holds no auction state of
// its own; every read and write goes through the owning serializer.
type Engine struct {
	store       Store
	publisher   StatePublisher
	suspensions SuspensionChecker
	now         func() time.Time
	logger      *slog.Logger

	retention    time.Duration
	retryDelay   time.Duration
	storeTimeout time.Duration

	mu     sync.RWMutex
	actors map[uuid.UUID]*actor
	closed bool
}

type Option func(*Engine)

// WithClock replaces time.Now. Tests use it to drive expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithSuspensions enables the bidder ban check.
func WithSuspensions(s SuspensionChecker) Option {
	return func(e *Engine) { e.suspensions = s }
}

// WithRetention sets how long a closed auction stays in memory.
func WithRetention(d time.Duration) Option {
	return func(e *Engine) { e.retention = d }
}

// WithRetryDelay sets the backoff for a time-driven transition that failed to commit.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) { e.retryDelay = d }
}

// WithStoreTimeout bounds store calls made by timers.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) { e.storeTimeout = d }
}

// NewEngine creates an engine. Call Recover to resume open auctions.
func NewEngine(store Store, publisher StatePublisher, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		publisher:    publisher,
		now:          time.Now,
		logger:       slog.Default(),
		retention:    10 * time.Minute,
		retryDelay:   time.Second,
		storeTimeout: 5 * time.Second,
		actors:       make(map[uuid.UUID]*actor),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Recover starts a serializer for every open auction in the store.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	open, err := e.store.ListOpenAuctions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open auctions: %w", err)
	}

	for _, auction := range open {
		if _, err := e.load(ctx, auction); err != nil {
			return 0, err
		}
	}
	e.logger.Info("Recovered open auctions", "count", len(open))
	return len(open), nil
}

// CreateAuction validates and stores a new auction and starts its serializer.
func (e *Engine) CreateAuction(ctx context.Context, cmd CreateAuctionCommand) (*Auction, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrEngineClosed
	}

	now := e.now()
	auction, err := newAuction(cmd, now)
	if err != nil {
		return nil, err
	}

	outbox, err := newOutboxEvent(EventAuctionCreated, auction, nil, now)
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateAuction(ctx, auction, outbox); err != nil {
		return nil, fmt.Errorf("failed to save auction: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// the auction is stored either way; after a close it is picked up by Recover
	if !e.closed {
		e.actors[auction.ID] = e.newActor(auction.Clone(), nil, nil)
	}

	e.logger.Info("Auction created",
		"auction_id", auction.ID,
		"type", auction.Type,
		"status", auction.Status,
		"end_time", auction.EndTime,
	)
	return auction, nil
}

// PlaceBid submits a bid. On a timed auction the amount is the bidder's
// maximum and the visible price is resolved by proxy bidding.
func (e *Engine) PlaceBid(ctx context.Context, cmd PlaceBidCommand) (*BidResult, error) {
	if cmd.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return e.submit(ctx, cmd.AuctionID, cmd.BidderID, func(a *actor, suspended bool) (*BidResult, error) {
		return a.placeBid(ctx, cmd.BidderID, cmd.Amount, suspended)
	})
}

// PlaceMaxBid submits or raises a proxy ceiling on a timed auction.
func (e *Engine) PlaceMaxBid(ctx context.Context, cmd PlaceMaxBidCommand) (*BidResult, error) {
	if cmd.MaxBid <= 0 {
		return nil, ErrInvalidAmount
	}
	return e.submit(ctx, cmd.AuctionID, cmd.BidderID, func(a *actor, suspended bool) (*BidResult, error) {
		return a.placeMaxBid(ctx, cmd.BidderID, cmd.MaxBid, suspended)
	})
}

func (e *Engine) submit(
	ctx context.Context,
	auctionID, bidderID uuid.UUID,
	op func(a *actor, suspended bool) (*BidResult, error),
) (*BidResult, error) {
	act, err := e.actorFor(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	// looked up outside the serializer so a slow registry never holds it
	suspended := e.isSuspended(ctx, bidderID)

	var (
		res   *BidResult
		opErr error
	)
	if err := act.exec(ctx, func() { res, opErr = op(act, suspended) }); err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}

	e.logger.Info("Bid accepted",
		"auction_id", auctionID,
		"bidder_id", bidderID,
		"current_bid", res.Auction.CurrentBid,
		"rows", len(res.NewBids),
	)
	return res, nil
}

// Cancel withdraws an auction that has not resolved yet.
func (e *Engine) Cancel(ctx context.Context, cmd CancelCommand) (*Auction, error) {
	act, err := e.actorFor(ctx, cmd.AuctionID)
	if err != nil {
		return nil, err
	}

	var (
		out   *Auction
		opErr error
	)
	if err := act.exec(ctx, func() { out, opErr = act.cancel(ctx, cmd.ActorID, cmd.System) }); err != nil {
		return nil, err
	}
	return out, opErr
}

// HammerDown sells the auction immediately to the current leader.
func (e *Engine) HammerDown(ctx context.Context, cmd HammerDownCommand) (*Auction, error) {
	act, err := e.actorFor(ctx, cmd.AuctionID)
	if err != nil {
		return nil, err
	}

	var (
		out   *Auction
		opErr error
	)
	if err := act.exec(ctx, func() { out, opErr = act.hammerDown(ctx, cmd.SellerID) }); err != nil {
		return nil, err
	}
	return out, opErr
}

// GetAuctionState returns the current snapshot of an auction.
func (e *Engine) GetAuctionState(ctx context.Context, auctionID uuid.UUID) (*Auction, error) {
	act, err := e.actorFor(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	var out *Auction
	if err := act.exec(ctx, func() { out = act.snapshot() }); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBidHistory returns up to limit bids, newest first.
func (e *Engine) GetBidHistory(ctx context.Context, auctionID uuid.UUID, limit int) ([]Bid, error) {
	act, err := e.actorFor(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	var out []Bid
	if err := act.exec(ctx, func() { out = act.ledger.Recent(limit) }); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMyMaxBid returns the caller's own ceiling on a timed auction.
func (e *Engine) GetMyMaxBid(ctx context.Context, auctionID, bidderID uuid.UUID) (*ProxyBid, error) {
	act, err := e.actorFor(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	var (
		out   *ProxyBid
		opErr error
	)
	if err := act.exec(ctx, func() { out, opErr = act.maxBid(bidderID) }); err != nil {
		return nil, err
	}
	return out, opErr
}

// Close stops every serializer and waits for them to exit.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	actors := make([]*actor, 0, len(e.actors))
	for _, act := range e.actors {
		actors = append(actors, act)
	}
	e.mu.Unlock()

	for _, act := range actors {
		act.shutdown()
	}
	for _, act := range actors {
		<-act.stopped
	}
}

// actorFor returns the serializer of an auction, loading it from the store
// when this process has not seen the auction yet or has evicted it.
func (e *Engine) actorFor(ctx context.Context, auctionID uuid.UUID) (*actor, error) {
	e.mu.RLock()
	act, ok := e.actors[auctionID]
	closed := e.closed
	e.mu.RUnlock()

	if closed {
		return nil, ErrEngineClosed
	}
	if ok {
		return act, nil
	}

	auction, err := e.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load auction: %w", err)
	}
	return e.load(ctx, auction)
}

func (e *Engine) load(ctx context.Context, auction *Auction) (*actor, error) {
	bids, err := e.store.ListBids(ctx, auction.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load bids: %w", err)
	}
	ceilings, err := e.store.ListProxyBids(ctx, auction.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load proxy bids: %w", err)
	}
	slices.Reverse(bids)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if existing, ok := e.actors[auction.ID]; ok {
		return existing, nil
	}

	act := e.newActor(auction, bids, ceilings)
	e.actors[auction.ID] = act
	if auction.Status.IsTerminal() {
		e.scheduleEvictionLocked(auction.ID)
	}
	return act, nil
}

func (e *Engine) scheduleEviction(auctionID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scheduleEvictionLocked(auctionID)
}

func (e *Engine) scheduleEvictionLocked(auctionID uuid.UUID) {
	if e.closed {
		return
	}
	time.AfterFunc(e.retention, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.actors, auctionID)
	})
}

func (e *Engine) isSuspended(ctx context.Context, bidderID uuid.UUID) bool {
	if e.suspensions == nil {
		return false
	}
	suspended, err := e.suspensions.IsSuspended(ctx, bidderID)
	if err != nil {
		e.logger.Warn("Suspension check failed, allowing bid", "bidder_id", bidderID, "error", err)
		return false
	}
	return suspended
}
