package auctions

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ProxyBook holds the standing ceilings of one timed auction. It is owned by
// the auction's serializer and is not safe for concurrent use.
type ProxyBook struct {
	auctionID uuid.UUID
	ceilings  map[uuid.UUID]*ProxyBid
	nextSeq   int64
}

// NewProxyBook builds a book from persisted ceilings.
func NewProxyBook(auctionID uuid.UUID, existing []*ProxyBid) *ProxyBook {
	b := &ProxyBook{
		auctionID: auctionID,
		ceilings:  make(map[uuid.UUID]*ProxyBid, len(existing)),
		nextSeq:   1,
	}
	for _, p := range existing {
		b.Put(*p)
	}
	return b
}

// Get returns a copy of the bidder's ceiling.
func (b *ProxyBook) Get(bidderID uuid.UUID) (ProxyBid, bool) {
	p, ok := b.ceilings[bidderID]
	if !ok {
		return ProxyBid{}, false
	}
	return *p, true
}

// Put stores or replaces a ceiling.
func (b *ProxyBook) Put(p ProxyBid) {
	b.ceilings[p.BidderID] = &p
	if p.Seq >= b.nextSeq {
		b.nextSeq = p.Seq + 1
	}
}

func (b *ProxyBook) Len() int {
	return len(b.ceilings)
}

// ranked returns ceilings highest first; equal ceilings keep submission order.
func (b *ProxyBook) ranked(override *ProxyBid) []ProxyBid {
	out := make([]ProxyBid, 0, len(b.ceilings)+1)
	for id, p := range b.ceilings {
		if override != nil && id == override.BidderID {
			continue
		}
		out = append(out, *p)
	}
	if override != nil {
		out = append(out, *override)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MaxBid != out[j].MaxBid {
			return out[i].MaxBid > out[j].MaxBid
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// ProxyInput is the public state a new ceiling is resolved against. The
// reserve is not part of it; only reserveMet depends on the reserve.
type ProxyInput struct {
	StartPrice int64
	CurrentBid int64
	LeaderID   *uuid.UUID
	BidderID   uuid.UUID
	MaxBid     int64
	At         time.Time
}

// AutoBid is a visible bid the system places on a leader's behalf.
type AutoBid struct {
	BidderID uuid.UUID
	Amount   int64
}

// ProxyResolution is the outcome of one ceiling submission. Nothing is
// applied to the book until the caller commits it with Put.
type ProxyResolution struct {
	Ceiling       ProxyBid
	LeaderID      uuid.UUID
	PublicBid     int64
	LeaderChanged bool
	AutoBids      []AutoBid
}

// ResolveProxy runs second-price resolution of a new ceiling against the book.
// The public price is the lowest amount that keeps the leader ahead of the
// runner-up, never above the leader's ceiling and never below the start price.
func ResolveProxy(book *ProxyBook, in ProxyInput) (*ProxyResolution, error) {
	hasBids := in.LeaderID != nil
	next := in.StartPrice
	if hasBids {
		next = NextBidAmount(in.CurrentBid)
	}
	if in.MaxBid < next {
		return nil, fmt.Errorf("%w: minimum is %d", ErrBidTooLow, next)
	}

	if existing, ok := book.Get(in.BidderID); ok && in.MaxBid <= existing.MaxBid {
		return nil, fmt.Errorf("%w: current maximum is %d", ErrMaxBidNotRaised, existing.MaxBid)
	}

	ceiling := ProxyBid{
		AuctionID: book.auctionID,
		BidderID:  in.BidderID,
		MaxBid:    in.MaxBid,
		Seq:       book.nextSeq,
		UpdatedAt: in.At,
	}

	ranked := book.ranked(&ceiling)
	leader := ranked[0]

	var public int64
	selfRaise := hasBids && *in.LeaderID == in.BidderID
	switch {
	case selfRaise:
		// raising one's own standing maximum does not bid against oneself
		public = in.CurrentBid
	case len(ranked) == 1:
		public = in.StartPrice
	default:
		second := ranked[1].MaxBid
		public = min(leader.MaxBid, second+MinIncrement(second))
	}

	public = max(public, in.StartPrice)
	if hasBids {
		public = max(public, in.CurrentBid)
	}

	res := &ProxyResolution{
		Ceiling:       ceiling,
		LeaderID:      leader.BidderID,
		PublicBid:     public,
		LeaderChanged: !hasBids || *in.LeaderID != leader.BidderID,
	}
	if res.LeaderChanged || public > in.CurrentBid {
		res.AutoBids = []AutoBid{{BidderID: leader.BidderID, Amount: public}}
	}
	return res, nil
}
