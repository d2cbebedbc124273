package auctions_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/floroz/auctioneer/pkg/events"
	"github.com/floroz/auctioneer/services/bid-service/internal/adapters/memory"
	"github.com/floroz/auctioneer/services/bid-service/internal/broadcast"
	"github.com/floroz/auctioneer/services/bid-service/internal/domain/auctions"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	engine *auctions.Engine
	store  *memory.AuctionStore
	hub    *broadcast.Hub[auctions.StateEvent]
	clock  *fakeClock
	bans   *memory.Suspensions
	seller uuid.UUID
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupEngine(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  memory.NewAuctionStore(),
		hub:    broadcast.NewHub[auctions.StateEvent](32),
		clock:  newFakeClock(),
		bans:   memory.NewSuspensions(),
		seller: uuid.New(),
	}
	env.engine = auctions.NewEngine(env.store, env.hub,
		auctions.WithClock(env.clock.Now),
		auctions.WithLogger(quietLogger()),
		auctions.WithSuspensions(env.bans),
		auctions.WithRetention(time.Hour),
	)
	t.Cleanup(env.engine.Close)
	return env
}

func (env *testEnv) create(t *testing.T, typ auctions.AuctionType, start int64, reserve *int64, endIn time.Duration) *auctions.Auction {
	t.Helper()
	a, err := env.engine.CreateAuction(context.Background(), auctions.CreateAuctionCommand{
		SellerID:     env.seller,
		Type:         typ,
		StartPrice:   start,
		ReservePrice: reserve,
		EndTime:      env.clock.Now().Add(endIn),
	})
	require.NoError(t, err)
	return a
}

func (env *testEnv) bid(auctionID, bidder uuid.UUID, amount int64) (*auctions.BidResult, error) {
	return env.engine.PlaceBid(context.Background(), auctions.PlaceBidCommand{
		AuctionID: auctionID,
		BidderID:  bidder,
		Amount:    amount,
	})
}

func (env *testEnv) state(t *testing.T, id uuid.UUID) *auctions.Auction {
	t.Helper()
	a, err := env.engine.GetAuctionState(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (env *testEnv) outboxTypes() []string {
	var out []string
	for _, ev := range env.store.OutboxEvents() {
		out = append(out, ev.EventType)
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func TestEngine_LiveBidSequence(t *testing.T) {
	env := setupEngine(t)
	a := env.create(t, auctions.AuctionTypeLive, 50_000, nil, time.Hour)
	alice, bob := uuid.New(), uuid.New()

	res, err := env.bid(a.ID, alice, 50_000)
	require.NoError(t, err)
	assert.Equal(t, int64(51_000), res.Auction.NextBidAmount())
	assert.True(t, res.Leading)

	_, err = env.bid(a.ID, bob, 51_000)
	require.NoError(t, err)

	_, err = env.bid(a.ID, alice, 51_500)
	require.ErrorIs(t, err, auctions.ErrBidTooLow)

	res, err = env.bid(a.ID, alice, 60_000)
	require.NoError(t, err)
	require.Len(t, res.NewBids, 1)
	assert.False(t, res.NewBids[0].IsAutoBid)

	state := env.state(t, a.ID)
	assert.Equal(t, int64(60_000), state.CurrentBid)
	assert.Equal(t, alice, *state.HighestBidderID)
	assert.Equal(t, 3, state.BidCount)
	assert.Equal(t, int64(61_000), state.NextBidAmount())

	history, err := env.engine.GetBidHistory(context.Background(), a.ID, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(60_000), history[0].Amount)
	assert.Equal(t, int64(51_000), history[1].Amount)

	assert.Equal(t, []string{"auction.created", "bid.placed", "bid.placed", "bid.placed"}, env.outboxTypes())
}

func TestEngine_RejectionsDoNotMutateOrBroadcast(t *testing.T) {
	env := setupEngine(t)
	a := env.create(t, auctions.AuctionTypeLive, 50_000, nil, time.Hour)
	alice, banned := uuid.New(), uuid.New()
	require.NoError(t, env.bans.Suspend(context.Background(), banned, time.Now().Add(24*time.Hour)))

	_, err := env.bid(a.ID, alice, 50_000)
	require.NoError(t, err)

	sub := env.hub.Subscribe(a.ID)
	defer sub.Close()
	before := env.state(t, a.ID)
	outboxBefore := len(env.store.OutboxEvents())

	tests := []struct {
		name   string
		bidder uuid.UUID
		amount int64
		want   error
	}{
		{"below next bid", uuid.New(), 50_500, auctions.ErrBidTooLow},
		{"seller bidding", env.seller, 70_000, auctions.ErrSelfBidForbidden},
		{"suspended bidder", banned, 70_000, auctions.ErrBidderSuspended},
		{"non positive amount", uuid.New(), 0, auctions.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.bid(a.ID, tt.bidder, tt.amount)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, auctions.IsRejection(err))
		})
	}

	_, err = env.engine.PlaceMaxBid(context.Background(), auctions.PlaceMaxBidCommand{
		AuctionID: a.ID, BidderID: uuid.New(), MaxBid: 90_000,
	})
	require.ErrorIs(t, err, auctions.ErrAuctionTypeMismatch)

	_, err = env.bid(uuid.New(), alice, 90_000)
	require.ErrorIs(t, err, auctions.ErrAuctionNotFound)

	assert.Equal(t, before, env.state(t, a.ID))
	assert.Empty(t, sub.C)
	assert.Len(t, env.store.OutboxEvents(), outboxBefore)
}

func TestEngine_TimedProxyScenario(t *testing.T) {
	env := setupEngine(t)
	a := env.create(t, auctions.AuctionTypeTimed, 50_000, nil, 24*time.Hour)
	alice, bob := uuid.New(), uuid.New()
	ctx := context.Background()

	res, err := env.engine.PlaceMaxBid(ctx, auctions.PlaceMaxBidCommand{AuctionID: a.ID, BidderID: alice, MaxBid: 100_000})
	require.NoError(t, err)
	assert.True(t, res.Leading)
	assert.Equal(t, int64(50_000), res.Auction.CurrentBid)

	// PlaceBid on a timed auction treats the amount as a maximum
	res, err = env.bid(a.ID, bob, 150_000)
	require.NoError(t, err)
	assert.True(t, res.Leading)
	assert.Equal(t, int64(105_000), res.Auction.CurrentBid)
	assert.Equal(t, bob, *res.Auction.HighestBidderID)
	require.Len(t, res.NewBids, 1)
	assert.True(t, res.NewBids[0].IsAutoBid)
	assert.Equal(t, int64(105_000), res.NewBids[0].Amount)

	mine, err := env.engine.GetMyMaxBid(ctx, a.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), mine.MaxBid)

	_, err = env.engine.GetMyMaxBid(ctx, a.ID, uuid.New())
	require.ErrorIs(t, err, auctions.ErrMaxBidNotFound)

	// raising one's own standing maximum keeps the price and adds no rows
	res, err = env.engine.PlaceMaxBid(ctx, auctions.PlaceMaxBidCommand{AuctionID: a.ID, BidderID: bob, MaxBid: 400_000})
	require.NoError(t, err)
	assert.Empty(t, res.NewBids)
	assert.Equal(t, int64(105_000), res.Auction.CurrentBid)

	_, err = env.engine.PlaceMaxBid(ctx, auctions.PlaceMaxBidCommand{AuctionID: a.ID, BidderID: bob, MaxBid: 300_000})
	require.ErrorIs(t, err, auctions.ErrMaxBidNotRaised)

	history, err := env.engine.GetBidHistory(ctx, a.ID, 0)
	require.NoError(t, err)
	for _, b := range history {
		assert.NotEqual(t, int64(150_000), b.Amount, "private maximums never appear in history")
		assert.NotEqual(t, int64(400_000), b.Amount)
	}
}

func TestEngine_TimedReserveStaysConfidential(t *testing.T) {
	ctx := context.Background()

	t.Run("second price below the reserve", func(t *testing.T) {
		env := setupEngine(t)
		a := env.create(t, auctions.AuctionTypeTimed, 50_000, ptr(int64(120_000)), 24*time.Hour)
		sub := env.hub.Subscribe(a.ID)
		defer sub.Close()

		_, err := env.engine.PlaceMaxBid(ctx, auctions.PlaceMaxBidCommand{AuctionID: a.ID, BidderID: uuid.New(), MaxBid: 100_000})
		require.NoError(t, err)
		res, err := env.engine.PlaceMaxBid(ctx, auctions.PlaceMaxBidCommand{AuctionID: a.ID, BidderID: uuid.New(), MaxBid: 150_000})
		require.NoError(t, err)
		assert.Equal(t, int64(105_000), res.Auction.CurrentBid)
		assert.False(t, res.Auction.ReserveMet)

		for len(sub.C) > 0 {
			ev := <-sub.C
			assert.NotEqual(t, int64(120_000), ev.CurrentBid)
		}
		history, err := env.engine.GetBidHistory(ctx, a.ID, 0)
		require.NoError(t, err)
		for _, b := range history {
			assert.NotEqual(t, int64(120_000), b.Amount)
		}
	})

	t.Run("lone ceiling above the reserve", func(t *testing.T) {
		env := setupEngine(t)
		a := env.create(t, auctions.AuctionTypeTimed, 50_000, ptr(int64(87_300)), 24*time.Hour)

		res, err := env.engine.PlaceMaxBid(ctx, auctions.PlaceMaxBidCommand{AuctionID: a.ID, BidderID: uuid.New(), MaxBid: 200_000})
		require.NoError(t, err)
		assert.Equal(t, int64(50_000), res.Auction.CurrentBid)
		assert.False(t, res.Auction.ReserveMet)
	})
}

func TestEngine_LeaderRaiseIsNotBroadcast(t *testing.T) {
	ctx := context.Background()
	env := setupEngine(t)
	a := env.create(t, auctions.AuctionTypeTimed, 50_000, nil, 24*time.Hour)
	alice := uuid.New()

	_, err := env.engine.PlaceMaxBid(ctx, auctions.PlaceMaxBidCommand{AuctionID: a.ID, BidderID: alice, MaxBid: 100_000})
	require.NoError(t, err)

	sub := env.hub.Subscribe(a.ID)
	defer sub.Close()
	outboxBefore := len(env.store.OutboxEvents())

	_, err = env.engine.PlaceMaxBid(ctx, auctions.PlaceMaxBidCommand{AuctionID: a.ID, BidderID: alice, MaxBid: 200_000})
	require.NoError(t, err)
	assert.Empty(t, sub.C, "a raise that changes nothing public is not announced")
	assert.Len(t, env.store.OutboxEvents(), outboxBefore)

	// inside the soft-close window the new end time is public
	env.clock.Advance(24*time.Hour - 2*time.Minute)
	res, err := env.engine.PlaceMaxBid(ctx, auctions.PlaceMaxBidCommand{AuctionID: a.ID, BidderID: alice, MaxBid: 300_000})
	require.NoError(t, err)
	require.Len(t, sub.C, 1)
	ev := <-sub.C
	assert.Equal(t, auctions.EventSnapshot, ev.Type)
	assert.Empty(t, ev.NewBids)
	assert.Equal(t, res.Auction.EndTime, ev.EndTime)
	assert.Equal(t, int64(50_000), ev.CurrentBid)
}

func TestEngine_SoftClose(t *testing.T) {
	t.Run("live bid keeps a later end", func(t *testing.T) {
		env := setupEngine(t)
		a := env.create(t, auctions.AuctionTypeLive, 10_000, nil, 30*time.Second)

		res, err := env.bid(a.ID, uuid.New(), 10_000)
		require.NoError(t, err)
		assert.Equal(t, a.EndTime, res.Auction.EndTime)
	})

	t.Run("live bid in the last seconds extends to now plus 20s", func(t *testing.T) {
		env := setupEngine(t)
		a := env.create(t, auctions.AuctionTypeLive, 10_000, nil, 30*time.Second)
		env.clock.Advance(25 * time.Second)

		res, err := env.bid(a.ID, uuid.New(), 10_000)
		require.NoError(t, err)
		assert.Equal(t, env.clock.Now().Add(20*time.Second), res.Auction.EndTime)

		// every qualifying late bid re-extends
		env.clock.Advance(15 * time.Second)
		res, err = env.bid(a.ID, uuid.New(), 10_500)
		require.NoError(t, err)
		assert.Equal(t, env.clock.Now().Add(20*time.Second), res.Auction.EndTime)
	})

	t.Run("timed bid near the end extends by five minutes", func(t *testing.T) {
		env := setupEngine(t)
		a := env.create(t, auctions.AuctionTypeTimed, 10_000, nil, time.Hour)
		env.clock.Advance(58 * time.Minute)

		res, err := env.bid(a.ID, uuid.New(), 20_000)
		require.NoError(t, err)
		assert.Equal(t, env.clock.Now().Add(5*time.Minute), res.Auction.EndTime)
	})
}

func TestEngine_NaturalExpiry(t *testing.T) {
	t.Run("sold to the leader", func(t *testing.T) {
		env := setupEngine(t)
		a := env.create(t, auctions.AuctionTypeLive, 50_000, ptr(int64(55_000)), time.Hour)
		alice := uuid.New()
		_, err := env.bid(a.ID, alice, 60_000)
		require.NoError(t, err)

		sub := env.hub.Subscribe(a.ID)
		defer sub.Close()
		env.clock.Advance(time.Hour)

		_, err = env.bid(a.ID, uuid.New(), 70_000)
		require.ErrorIs(t, err, auctions.ErrAuctionEnded)
		assert.ErrorIs(t, err, auctions.ErrAuctionNotActive)

		state := env.state(t, a.ID)
		assert.Equal(t, auctions.StatusSold, state.Status)
		assert.Equal(t, alice, *state.WinnerID)
		assert.Equal(t, int64(60_000), *state.WinningBid)

		ev := <-sub.C
		assert.Equal(t, auctions.EventAuctionSold, ev.Type)
		assert.Empty(t, sub.C, "the terminal transition is broadcast once")

		var sold int
		for _, typ := range env.outboxTypes() {
			if typ == "auction.sold" {
				sold++
			}
		}
		assert.Equal(t, 1, sold)
	})

	t.Run("reserve not met", func(t *testing.T) {
		env := setupEngine(t)
		a := env.create(t, auctions.AuctionTypeLive, 50_000, ptr(int64(200_000)), time.Hour)
		_, err := env.bid(a.ID, uuid.New(), 150_000)
		require.NoError(t, err)

		env.clock.Advance(2 * time.Hour)
		state := env.state(t, a.ID)
		assert.Equal(t, auctions.StatusReserveNotMet, state.Status)
		assert.Nil(t, state.WinnerID)
	})

	t.Run("no bids", func(t *testing.T) {
		env := setupEngine(t)
		a := env.create(t, auctions.AuctionTypeTimed, 50_000, nil, time.Hour)

		env.clock.Advance(time.Hour)
		assert.Equal(t, auctions.StatusReserveNotMet, env.state(t, a.ID).Status)
	})
}

func TestEngine_ExpiryTimerFires(t *testing.T) {
	store := memory.NewAuctionStore()
	hub := broadcast.NewHub[auctions.StateEvent](8)
	engine := auctions.NewEngine(store, hub, auctions.WithLogger(quietLogger()))
	defer engine.Close()

	a, err := engine.CreateAuction(context.Background(), auctions.CreateAuctionCommand{
		SellerID:   uuid.New(),
		Type:       auctions.AuctionTypeLive,
		StartPrice: 1_000,
		EndTime:    time.Now().Add(100 * time.Millisecond),
	})
	require.NoError(t, err)

	sub := hub.Subscribe(a.ID)
	defer sub.Close()

	select {
	case ev := <-sub.C:
		assert.Equal(t, auctions.EventAuctionReserveNotMet, ev.Type)
		assert.Equal(t, auctions.StatusReserveNotMet, ev.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("expiry timer did not fire")
	}
}

func TestEngine_ReserveMetNeverReverts(t *testing.T) {
	env := setupEngine(t)
	a := env.create(t, auctions.AuctionTypeLive, 50_000, ptr(int64(60_000)), time.Hour)

	res, err := env.bid(a.ID, uuid.New(), 55_000)
	require.NoError(t, err)
	assert.False(t, res.Auction.ReserveMet)

	res, err = env.bid(a.ID, uuid.New(), 60_000)
	require.NoError(t, err)
	assert.True(t, res.Auction.ReserveMet)

	res, err = env.bid(a.ID, uuid.New(), 70_000)
	require.NoError(t, err)
	assert.True(t, res.Auction.ReserveMet)
}

func TestEngine_HammerDown(t *testing.T) {
	ctx := context.Background()

	t.Run("reserve not met", func(t *testing.T) {
		env := setupEngine(t)
		a := env.create(t, auctions.AuctionTypeLive, 50_000, ptr(int64(200_000)), time.Hour)
		_, err := env.bid(a.ID, uuid.New(), 150_000)
		require.NoError(t, err)

		_, err = env.engine.HammerDown(ctx, auctions.HammerDownCommand{AuctionID: a.ID, SellerID: env.seller})
		require.ErrorIs(t, err, auctions.ErrReserveNotMetForHammer)
		assert.Equal(t, auctions.StatusActive, env.state(t, a.ID).Status)
	})

	t.Run("no bids", func(t *testing.T) {
		env := setupEngine(t)
		a := env.create(t, auctions.AuctionTypeLive, 50_000, nil, time.Hour)

		_, err := env.engine.HammerDown(ctx, auctions.HammerDownCommand{AuctionID: a.ID, SellerID: env.seller})
		require.ErrorIs(t, err, auctions.ErrNoBids)
	})

	t.Run("only the seller", func(t *testing.T) {
		env := setupEngine(t)
		a := env.create(t, auctions.AuctionTypeLive, 50_000, nil, time.Hour)
		_, err := env.bid(a.ID, uuid.New(), 50_000)
		require.NoError(t, err)

		_, err = env.engine.HammerDown(ctx, auctions.HammerDownCommand{AuctionID: a.ID, SellerID: uuid.New()})
		require.ErrorIs(t, err, auctions.ErrUnauthorizedActor)
	})

	t.Run("sells to the leader", func(t *testing.T) {
		env := setupEngine(t)
		a := env.create(t, auctions.AuctionTypeLive, 50_000, ptr(int64(50_000)), time.Hour)
		alice := uuid.New()
		_, err := env.bid(a.ID, alice, 50_000)
		require.NoError(t, err)

		sold, err := env.engine.HammerDown(ctx, auctions.HammerDownCommand{AuctionID: a.ID, SellerID: env.seller})
		require.NoError(t, err)
		assert.Equal(t, auctions.StatusSold, sold.Status)
		assert.Equal(t, alice, *sold.WinnerID)

		_, err = env.engine.HammerDown(ctx, auctions.HammerDownCommand{AuctionID: a.ID, SellerID: env.seller})
		require.ErrorIs(t, err, auctions.ErrAuctionAlreadyTerminal)
		_, err = env.bid(a.ID, uuid.New(), 90_000)
		require.ErrorIs(t, err, auctions.ErrAuctionNotActive)
	})
}

func TestEngine_Cancel(t *testing.T) {
	ctx := context.Background()
	env := setupEngine(t)
	a := env.create(t, auctions.AuctionTypeTimed, 50_000, nil, time.Hour)
	_, err := env.bid(a.ID, uuid.New(), 80_000)
	require.NoError(t, err)

	_, err = env.engine.Cancel(ctx, auctions.CancelCommand{AuctionID: a.ID, ActorID: uuid.New()})
	require.ErrorIs(t, err, auctions.ErrUnauthorizedActor)

	out, err := env.engine.Cancel(ctx, auctions.CancelCommand{AuctionID: a.ID, ActorID: env.seller})
	require.NoError(t, err)
	assert.Equal(t, auctions.StatusCancelled, out.Status)

	_, err = env.engine.Cancel(ctx, auctions.CancelCommand{AuctionID: a.ID, ActorID: env.seller})
	require.ErrorIs(t, err, auctions.ErrAuctionAlreadyTerminal)

	_, err = env.bid(a.ID, uuid.New(), 200_000)
	require.ErrorIs(t, err, auctions.ErrAuctionAlreadyTerminal)

	history, err := env.engine.GetBidHistory(ctx, a.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1, "history outlives the auction")

	t.Run("system actor", func(t *testing.T) {
		b := env.create(t, auctions.AuctionTypeLive, 50_000, nil, time.Hour)
		out, err := env.engine.Cancel(ctx, auctions.CancelCommand{AuctionID: b.ID, ActorID: uuid.New(), System: true})
		require.NoError(t, err)
		assert.Equal(t, auctions.StatusCancelled, out.Status)

		// only the explicit flag grants platform rights
		c := env.create(t, auctions.AuctionTypeLive, 50_000, nil, time.Hour)
		_, err = env.engine.Cancel(ctx, auctions.CancelCommand{AuctionID: c.ID, ActorID: uuid.Nil})
		require.ErrorIs(t, err, auctions.ErrUnauthorizedActor)
		assert.Equal(t, auctions.StatusActive, env.state(t, c.ID).Status)
	})
}

func TestEngine_ScheduledAuction(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	a, err := env.engine.CreateAuction(ctx, auctions.CreateAuctionCommand{
		SellerID:   env.seller,
		Type:       auctions.AuctionTypeLive,
		StartPrice: 10_000,
		StartTime:  env.clock.Now().Add(time.Hour),
		EndTime:    env.clock.Now().Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, auctions.StatusScheduled, a.Status)

	_, err = env.bid(a.ID, uuid.New(), 10_000)
	require.ErrorIs(t, err, auctions.ErrAuctionNotActive)
	assert.NotErrorIs(t, err, auctions.ErrAuctionAlreadyTerminal)

	env.clock.Advance(time.Hour)
	_, err = env.bid(a.ID, uuid.New(), 10_000)
	require.NoError(t, err)
	assert.Contains(t, env.outboxTypes(), "auction.started")

	t.Run("seller withdraws before start", func(t *testing.T) {
		b, err := env.engine.CreateAuction(ctx, auctions.CreateAuctionCommand{
			SellerID:   env.seller,
			Type:       auctions.AuctionTypeLive,
			StartPrice: 10_000,
			StartTime:  env.clock.Now().Add(time.Hour),
			EndTime:    env.clock.Now().Add(2 * time.Hour),
		})
		require.NoError(t, err)
		out, err := env.engine.Cancel(ctx, auctions.CancelCommand{AuctionID: b.ID, ActorID: env.seller})
		require.NoError(t, err)
		assert.Equal(t, auctions.StatusCancelled, out.Status)
	})
}

func TestEngine_CreateAuctionValidation(t *testing.T) {
	env := setupEngine(t)
	now := env.clock.Now()

	tests := []struct {
		name string
		cmd  auctions.CreateAuctionCommand
		want error
	}{
		{"bad type", auctions.CreateAuctionCommand{Type: "DUTCH", StartPrice: 1, EndTime: now.Add(time.Hour)}, auctions.ErrInvalidAuctionType},
		{"zero start", auctions.CreateAuctionCommand{Type: auctions.AuctionTypeLive, EndTime: now.Add(time.Hour)}, auctions.ErrInvalidStartPrice},
		{"reserve below start", auctions.CreateAuctionCommand{Type: auctions.AuctionTypeLive, StartPrice: 100, ReservePrice: ptr(int64(50)), EndTime: now.Add(time.Hour)}, auctions.ErrInvalidReservePrice},
		{"end in past", auctions.CreateAuctionCommand{Type: auctions.AuctionTypeLive, StartPrice: 100, EndTime: now.Add(-time.Minute)}, auctions.ErrInvalidEndTime},
		{"end before start", auctions.CreateAuctionCommand{Type: auctions.AuctionTypeLive, StartPrice: 100, StartTime: now.Add(2 * time.Hour), EndTime: now.Add(time.Hour)}, auctions.ErrInvalidEndTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.CreateAuction(context.Background(), tt.cmd)
			require.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, auctions.ErrInvalidAuction)
		})
	}
}

func TestEngine_ConcurrentBidsAreSerialized(t *testing.T) {
	env := setupEngine(t)
	a := env.create(t, auctions.AuctionTypeLive, 1_000, nil, time.Hour)

	var wg sync.WaitGroup
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.bid(a.ID, uuid.New(), 1_000+int64(i)*500)
		}()
	}
	wg.Wait()

	history, err := env.engine.GetBidHistory(context.Background(), a.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, history)

	// newest first: every accepted bid cleared the ladder over its predecessor
	for i := 0; i < len(history)-1; i++ {
		assert.GreaterOrEqual(t, history[i].Amount, auctions.NextBidAmount(history[i+1].Amount))
		assert.Equal(t, history[i+1].Seq+1, history[i].Seq)
	}
	state := env.state(t, a.ID)
	assert.Equal(t, history[0].Amount, state.CurrentBid)
	assert.Equal(t, len(history), state.BidCount)
}

func TestEngine_RecoverResumesOpenAuctions(t *testing.T) {
	store := memory.NewAuctionStore()
	clock := newFakeClock()
	seller, alice, bob := uuid.New(), uuid.New(), uuid.New()
	ctx := context.Background()

	first := auctions.NewEngine(store, broadcast.NewHub[auctions.StateEvent](1),
		auctions.WithClock(clock.Now), auctions.WithLogger(quietLogger()))
	a, err := first.CreateAuction(ctx, auctions.CreateAuctionCommand{
		SellerID: seller, Type: auctions.AuctionTypeTimed, StartPrice: 50_000, EndTime: clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = first.PlaceBid(ctx, auctions.PlaceBidCommand{AuctionID: a.ID, BidderID: alice, Amount: 100_000})
	require.NoError(t, err)
	first.Close()

	second := auctions.NewEngine(store, broadcast.NewHub[auctions.StateEvent](1),
		auctions.WithClock(clock.Now), auctions.WithLogger(quietLogger()))
	defer second.Close()

	n, err := second.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// alice's ceiling survived the restart
	res, err := second.PlaceBid(ctx, auctions.PlaceBidCommand{AuctionID: a.ID, BidderID: bob, Amount: 150_000})
	require.NoError(t, err)
	assert.Equal(t, int64(105_000), res.Auction.CurrentBid)
	require.Len(t, res.NewBids, 1)
	assert.Equal(t, int64(2), res.NewBids[0].Seq)
}

func TestEngine_ClosedEngineRejectsCommands(t *testing.T) {
	env := setupEngine(t)
	a := env.create(t, auctions.AuctionTypeLive, 1_000, nil, time.Hour)
	env.engine.Close()

	_, err := env.bid(a.ID, uuid.New(), 1_000)
	require.ErrorIs(t, err, auctions.ErrEngineClosed)

	t.Run("create is refused before anything is stored", func(t *testing.T) {
		stored := len(env.store.OutboxEvents())
		_, err := env.engine.CreateAuction(context.Background(), auctions.CreateAuctionCommand{
			SellerID:   env.seller,
			Type:       auctions.AuctionTypeLive,
			StartPrice: 1_000,
			EndTime:    env.clock.Now().Add(time.Hour),
		})
		require.ErrorIs(t, err, auctions.ErrEngineClosed)
		assert.Len(t, env.store.OutboxEvents(), stored)

		open, err := env.store.ListOpenAuctions(context.Background())
		require.NoError(t, err)
		assert.Len(t, open, 1)
	})
}

// MockStore is a testify mock of auctions.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateAuction(ctx context.Context, a *auctions.Auction, outbox *events.OutboxEvent) error {
	return m.Called(ctx, a, outbox).Error(0)
}

func (m *MockStore) CommitBid(ctx context.Context, commit *auctions.BidCommit) error {
	return m.Called(ctx, commit).Error(0)
}

func (m *MockStore) CommitTransition(ctx context.Context, a *auctions.Auction, expectedVersion int64, outbox *events.OutboxEvent) error {
	return m.Called(ctx, a, expectedVersion, outbox).Error(0)
}

func (m *MockStore) GetAuction(ctx context.Context, id uuid.UUID) (*auctions.Auction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auctions.Auction), args.Error(1)
}

func (m *MockStore) ListBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]*auctions.Bid, error) {
	args := m.Called(ctx, auctionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*auctions.Bid), args.Error(1)
}

func (m *MockStore) ListProxyBids(ctx context.Context, auctionID uuid.UUID) ([]*auctions.ProxyBid, error) {
	args := m.Called(ctx, auctionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*auctions.ProxyBid), args.Error(1)
}

func (m *MockStore) ListOpenAuctions(ctx context.Context) ([]*auctions.Auction, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*auctions.Auction), args.Error(1)
}

func TestEngine_StoreFailureLeavesStateUntouched(t *testing.T) {
	store := new(MockStore)
	hub := broadcast.NewHub[auctions.StateEvent](4)
	clock := newFakeClock()
	engine := auctions.NewEngine(store, hub, auctions.WithClock(clock.Now), auctions.WithLogger(quietLogger()))
	defer engine.Close()
	ctx := context.Background()

	store.On("CreateAuction", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	a, err := engine.CreateAuction(ctx, auctions.CreateAuctionCommand{
		SellerID: uuid.New(), Type: auctions.AuctionTypeLive, StartPrice: 1_000, EndTime: clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	sub := hub.Subscribe(a.ID)
	defer sub.Close()

	store.On("CommitBid", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()
	_, err = engine.PlaceBid(ctx, auctions.PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: 1_000})
	require.Error(t, err)
	assert.False(t, auctions.IsRejection(err))

	state, err := engine.GetAuctionState(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Version, state.Version)
	assert.False(t, state.HasBids())
	assert.Empty(t, sub.C)

	store.On("CommitBid", mock.Anything, mock.MatchedBy(func(c *auctions.BidCommit) bool {
		return c.ExpectedVersion == a.Version && len(c.Bids) == 1 && c.Outbox != nil && c.Outbox.EventType == "bid.placed"
	})).Return(nil).Once()
	res, err := engine.PlaceBid(ctx, auctions.PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: 1_000})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.NewBids[0].Seq)
	store.AssertExpectations(t)
}

func TestEngine_ExpiryStoreFailureKeepsRejectingBids(t *testing.T) {
	store := new(MockStore)
	hub := broadcast.NewHub[auctions.StateEvent](4)
	clock := newFakeClock()
	engine := auctions.NewEngine(store, hub,
		auctions.WithClock(clock.Now),
		auctions.WithLogger(quietLogger()),
		auctions.WithRetryDelay(time.Hour),
	)
	defer engine.Close()
	ctx := context.Background()

	store.On("CreateAuction", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	a, err := engine.CreateAuction(ctx, auctions.CreateAuctionCommand{
		SellerID: uuid.New(), Type: auctions.AuctionTypeLive, StartPrice: 1_000, EndTime: clock.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	store.On("CommitTransition", mock.Anything, mock.Anything, a.Version, mock.Anything).Return(errors.New("db down")).Once()
	clock.Advance(time.Minute)

	_, err = engine.PlaceBid(ctx, auctions.PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: 1_000})
	require.ErrorIs(t, err, auctions.ErrAuctionEnded)

	store.On("CommitTransition", mock.Anything, mock.MatchedBy(func(next *auctions.Auction) bool {
		return next.Status == auctions.StatusReserveNotMet
	}), a.Version, mock.Anything).Return(nil).Once()

	state, err := engine.GetAuctionState(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, auctions.StatusReserveNotMet, state.Status)
	store.AssertExpectations(t)
}
