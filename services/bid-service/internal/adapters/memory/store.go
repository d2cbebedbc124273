// Package memory holds in-process adapters used for local development and
// tests when no database or Redis is configured.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/floroz/auctioneer/pkg/events"
	"github.com/floroz/auctioneer/services/bid-service/internal/domain/auctions"
)

// AuctionStore implements auctions.Store in memory.
type AuctionStore struct {
	mu       sync.RWMutex
	auctions map[uuid.UUID]*auctions.Auction
	bids     map[uuid.UUID][]*auctions.Bid
	ceilings map[uuid.UUID]map[uuid.UUID]*auctions.ProxyBid
	outbox   []*events.OutboxEvent
}

func NewAuctionStore() *AuctionStore {
	return &AuctionStore{
		auctions: make(map[uuid.UUID]*auctions.Auction),
		bids:     make(map[uuid.UUID][]*auctions.Bid),
		ceilings: make(map[uuid.UUID]map[uuid.UUID]*auctions.ProxyBid),
	}
}

func (s *AuctionStore) CreateAuction(_ context.Context, auction *auctions.Auction, outbox *events.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions[auction.ID] = auction.Clone()
	s.appendOutbox(outbox)
	return nil
}

func (s *AuctionStore) CommitBid(_ context.Context, commit *auctions.BidCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(commit.Auction.ID, commit.ExpectedVersion); err != nil {
		return err
	}

	s.auctions[commit.Auction.ID] = commit.Auction.Clone()
	for _, b := range commit.Bids {
		row := *b
		s.bids[b.AuctionID] = append(s.bids[b.AuctionID], &row)
	}
	if commit.Ceiling != nil {
		c := *commit.Ceiling
		book, ok := s.ceilings[c.AuctionID]
		if !ok {
			book = make(map[uuid.UUID]*auctions.ProxyBid)
			s.ceilings[c.AuctionID] = book
		}
		book[c.BidderID] = &c
	}
	s.appendOutbox(commit.Outbox)
	return nil
}

func (s *AuctionStore) CommitTransition(_ context.Context, auction *auctions.Auction, expectedVersion int64, outbox *events.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(auction.ID, expectedVersion); err != nil {
		return err
	}
	s.auctions[auction.ID] = auction.Clone()
	s.appendOutbox(outbox)
	return nil
}

func (s *AuctionStore) checkVersion(id uuid.UUID, expected int64) error {
	current, ok := s.auctions[id]
	if !ok {
		return auctions.ErrAuctionNotFound
	}
	if current.Version != expected {
		return auctions.ErrConcurrentModification
	}
	return nil
}

func (s *AuctionStore) appendOutbox(ev *events.OutboxEvent) {
	if ev != nil {
		s.outbox = append(s.outbox, ev)
	}
}

func (s *AuctionStore) GetAuction(_ context.Context, id uuid.UUID) (*auctions.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[id]
	if !ok {
		return nil, auctions.ErrAuctionNotFound
	}
	return a.Clone(), nil
}

func (s *AuctionStore) ListBids(_ context.Context, auctionID uuid.UUID, limit int) ([]*auctions.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.bids[auctionID]
	out := make([]*auctions.Bid, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		row := *rows[i]
		out = append(out, &row)
	}
	return out, nil
}

func (s *AuctionStore) ListProxyBids(_ context.Context, auctionID uuid.UUID) ([]*auctions.ProxyBid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*auctions.ProxyBid, 0, len(s.ceilings[auctionID]))
	for _, c := range s.ceilings[auctionID] {
		row := *c
		out = append(out, &row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *AuctionStore) ListOpenAuctions(_ context.Context) ([]*auctions.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*auctions.Auction
	for _, a := range s.auctions {
		if !a.Status.IsTerminal() {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}

// OutboxEvents returns the events recorded so far, oldest first.
func (s *AuctionStore) OutboxEvents() []*events.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*events.OutboxEvent, len(s.outbox))
	copy(out, s.outbox)
	return out
}
