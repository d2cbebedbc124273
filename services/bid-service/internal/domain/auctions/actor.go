package auctions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/floroz/auctioneer/pkg/events"
)

// actor serializes every command of one auction on a single goroutine.
// Only code running inside exec may touch auction, ledger, book or timer.
type actor struct {
	auction *Auction
	ledger  *Ledger
	book    *ProxyBook

	store     Store
	publisher StatePublisher
	now       func() time.Time
	logger    *slog.Logger

	retryDelay   time.Duration
	storeTimeout time.Duration
	onTerminal   func(id uuid.UUID)

	mailbox  chan func()
	quit     chan struct{}
	quitOnce sync.Once
	stopped  chan struct{}
	timer    *time.Timer
}

func (e *Engine) newActor(auction *Auction, bids []*Bid, ceilings []*ProxyBid) *actor {
	a := &actor{
		auction:      auction,
		ledger:       NewLedger(bids),
		book:         NewProxyBook(auction.ID, ceilings),
		store:        e.store,
		publisher:    e.publisher,
		now:          e.now,
		logger:       e.logger.With("auction_id", auction.ID),
		retryDelay:   e.retryDelay,
		storeTimeout: e.storeTimeout,
		onTerminal:   e.scheduleEviction,
		mailbox:      make(chan func()),
		quit:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	if auction.Status.IsTerminal() {
		a.ledger.Freeze()
		close(a.stopped)
		return a
	}
	go a.run()
	return a
}

func (a *actor) run() {
	defer close(a.stopped)

	a.catchUp()
	a.schedule()

	for !a.auction.Status.IsTerminal() {
		select {
		case fn := <-a.mailbox:
			fn()
		case <-a.quit:
			a.stopTimer()
			return
		}
	}

	a.stopTimer()
	a.onTerminal(a.auction.ID)
}

// exec runs fn on the serializer and waits for it. Once the serializer has
// stopped on a terminal auction the state is frozen and fn runs inline.
func (a *actor) exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}

	select {
	case a.mailbox <- task:
		<-done
		return nil
	case <-a.stopped:
		if !a.auction.Status.IsTerminal() {
			return ErrEngineClosed
		}
		fn()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *actor) shutdown() {
	a.quitOnce.Do(func() { close(a.quit) })
}

func (a *actor) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.storeTimeout)
}

// catchUp applies any time-driven transition that is due. It runs before
// every command so a command never observes an auction past its end.
func (a *actor) catchUp() {
	now := a.now()

	if a.auction.Status == StatusScheduled && !now.Before(a.auction.StartTime) {
		ctx, cancel := a.storeContext()
		err := a.commitTransition(ctx, activated(a.auction, now), EventAuctionStarted)
		cancel()
		if err != nil {
			a.logger.Error("Failed to start auction", "error", err)
			return
		}
	}

	if a.auction.Status == StatusActive && !now.Before(a.auction.EndTime) {
		next, eventType := expired(a.auction, now)
		ctx, cancel := a.storeContext()
		err := a.commitTransition(ctx, next, eventType)
		cancel()
		if err != nil {
			// bids keep failing with ErrAuctionEnded until the retry succeeds
			a.logger.Error("Failed to close auction, will retry", "error", err)
		}
	}
}

// schedule arms the one-shot timer for the next time-driven transition.
func (a *actor) schedule() {
	a.stopTimer()

	var at time.Time
	switch a.auction.Status {
	case StatusScheduled:
		at = a.auction.StartTime
	case StatusActive:
		at = a.auction.EndTime
	default:
		return
	}

	d := at.Sub(a.now())
	if d <= 0 {
		// only reachable when the last transition failed to commit
		d = a.retryDelay
	}
	a.timer = time.AfterFunc(d, func() {
		_ = a.exec(context.Background(), a.onTimer)
	})
}

func (a *actor) onTimer() {
	a.catchUp()
	a.schedule()
}

func (a *actor) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *actor) commitTransition(ctx context.Context, next *Auction, eventType EventType) error {
	outbox, err := newOutboxEvent(eventType, next, nil, next.UpdatedAt)
	if err != nil {
		return err
	}

	if err := a.store.CommitTransition(ctx, next, a.auction.Version, outbox); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			a.resync(ctx)
		}
		return fmt.Errorf("failed to commit %s: %w", eventType, err)
	}

	a.auction = next
	if next.Status.IsTerminal() {
		a.ledger.Freeze()
		a.stopTimer()
	}
	a.logger.Info("Auction transitioned", "status", next.Status, "event", eventType)
	a.publish(eventType, nil)
	return nil
}

func (a *actor) commitBids(ctx context.Context, next *Auction, rows []*Bid, ceiling *ProxyBid, bidderID uuid.UUID) (*BidResult, error) {
	// a leader raising their own ceiling changes nothing public; observers
	// only hear about it as a plain snapshot when the end time moved
	eventType := EventBidPlaced
	var outbox *events.OutboxEvent
	if len(rows) == 0 {
		eventType = EventSnapshot
	} else {
		ev, err := newOutboxEvent(eventType, next, rows, next.UpdatedAt)
		if err != nil {
			return nil, err
		}
		outbox = ev
	}

	commit := &BidCommit{
		Auction:         next,
		ExpectedVersion: a.auction.Version,
		Bids:            rows,
		Ceiling:         ceiling,
		Outbox:          outbox,
	}
	if err := a.store.CommitBid(ctx, commit); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			a.resync(ctx)
		}
		return nil, fmt.Errorf("failed to commit bid: %w", err)
	}

	if err := a.ledger.Append(rows...); err != nil {
		a.logger.Error("Ledger rejected committed bids", "error", err)
	}
	if ceiling != nil {
		a.book.Put(*ceiling)
	}
	endMoved := !next.EndTime.Equal(a.auction.EndTime)
	a.auction = next
	if endMoved {
		a.schedule()
	}
	if len(rows) > 0 || endMoved {
		a.publish(eventType, rows)
	}

	result := &BidResult{
		Auction: next.Clone(),
		Leading: next.HighestBidderID != nil && *next.HighestBidderID == bidderID,
	}
	for _, r := range rows {
		result.NewBids = append(result.NewBids, *r)
	}
	return result, nil
}

// resync reloads state written by another node.
func (a *actor) resync(ctx context.Context) {
	fresh, err := a.store.GetAuction(ctx, a.auction.ID)
	if err != nil {
		a.logger.Error("Failed to reload auction", "error", err)
		return
	}
	bids, err := a.store.ListBids(ctx, a.auction.ID, 0)
	if err != nil {
		a.logger.Error("Failed to reload bids", "error", err)
		return
	}
	ceilings, err := a.store.ListProxyBids(ctx, a.auction.ID)
	if err != nil {
		a.logger.Error("Failed to reload ceilings", "error", err)
		return
	}

	slices.Reverse(bids)
	a.auction = fresh
	a.ledger = NewLedger(bids)
	a.book = NewProxyBook(fresh.ID, ceilings)
	if fresh.Status.IsTerminal() {
		a.ledger.Freeze()
	}
	a.schedule()
	a.logger.Warn("Auction reloaded after concurrent modification", "version", fresh.Version)
}

func (a *actor) publish(eventType EventType, rows []*Bid) {
	a.publisher.Publish(a.auction.ID, NewStateEvent(eventType, a.auction, rows, a.now()))
}

func (a *actor) placeBid(ctx context.Context, bidderID uuid.UUID, amount int64, suspended bool) (*BidResult, error) {
	a.catchUp()
	now := a.now()
	if err := checkBiddable(a.auction, bidderID, suspended, now); err != nil {
		return nil, err
	}

	if a.auction.Type == AuctionTypeTimed {
		return a.resolveCeiling(ctx, bidderID, amount, now)
	}

	next, err := liveBid(a.auction, bidderID, amount, now)
	if err != nil {
		return nil, err
	}
	bid := &Bid{
		ID:        uuid.New(),
		AuctionID: a.auction.ID,
		BidderID:  bidderID,
		Amount:    amount,
		BidTime:   now,
		Seq:       a.ledger.NextSeq(),
	}
	return a.commitBids(ctx, next, []*Bid{bid}, nil, bidderID)
}

func (a *actor) placeMaxBid(ctx context.Context, bidderID uuid.UUID, maxBid int64, suspended bool) (*BidResult, error) {
	a.catchUp()
	now := a.now()
	if err := checkBiddable(a.auction, bidderID, suspended, now); err != nil {
		return nil, err
	}
	if a.auction.Type != AuctionTypeTimed {
		return nil, ErrAuctionTypeMismatch
	}
	return a.resolveCeiling(ctx, bidderID, maxBid, now)
}

func (a *actor) resolveCeiling(ctx context.Context, bidderID uuid.UUID, maxBid int64, now time.Time) (*BidResult, error) {
	res, err := ResolveProxy(a.book, ProxyInput{
		StartPrice: a.auction.StartPrice,
		CurrentBid: a.auction.CurrentBid,
		LeaderID:   a.auction.HighestBidderID,
		BidderID:   bidderID,
		MaxBid:     maxBid,
		At:         now,
	})
	if err != nil {
		return nil, err
	}

	seq := a.ledger.NextSeq()
	rows := make([]*Bid, 0, len(res.AutoBids))
	for i, auto := range res.AutoBids {
		rows = append(rows, &Bid{
			ID:        uuid.New(),
			AuctionID: a.auction.ID,
			BidderID:  auto.BidderID,
			Amount:    auto.Amount,
			BidTime:   now,
			IsAutoBid: true,
			Seq:       seq + int64(i),
		})
	}

	next := extended(withPrice(a.auction, res.LeaderID, res.PublicBid, len(rows), now), now)
	ceiling := res.Ceiling
	return a.commitBids(ctx, next, rows, &ceiling, bidderID)
}

func (a *actor) hammerDown(ctx context.Context, sellerID uuid.UUID) (*Auction, error) {
	a.catchUp()
	next, err := hammered(a.auction, sellerID, a.now())
	if err != nil {
		return nil, err
	}
	if err := a.commitTransition(ctx, next, EventAuctionSold); err != nil {
		return nil, err
	}
	return a.auction.Clone(), nil
}

func (a *actor) cancel(ctx context.Context, actorID uuid.UUID, system bool) (*Auction, error) {
	a.catchUp()
	next, err := cancelled(a.auction, actorID, system, a.now())
	if err != nil {
		return nil, err
	}
	if err := a.commitTransition(ctx, next, EventAuctionCancelled); err != nil {
		return nil, err
	}
	return a.auction.Clone(), nil
}

func (a *actor) snapshot() *Auction {
	a.catchUp()
	return a.auction.Clone()
}

func (a *actor) maxBid(bidderID uuid.UUID) (*ProxyBid, error) {
	if a.auction.Type != AuctionTypeTimed {
		return nil, ErrAuctionTypeMismatch
	}
	p, ok := a.book.Get(bidderID)
	if !ok {
		return nil, ErrMaxBidNotFound
	}
	return &p, nil
}
