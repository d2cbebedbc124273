package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/floroz/auctioneer/services/bid-service/internal/broadcast"
	"github.com/floroz/auctioneer/services/bid-service/internal/domain/auctions"
)

// Wire messages of auction.v1.AuctionService. Timestamps are RFC 3339
// strings and amounts are minor currency units.

type CreateAuctionRequest struct {
	Type         string `json:"type"`
	StartPrice   int64  `json:"startPrice"`
	ReservePrice *int64 `json:"reservePrice,omitempty"`
	StartTime    string `json:"startTime,omitempty"`
	EndTime      string `json:"endTime"`
}

type CreateAuctionResponse struct {
	Auction *Auction `json:"auction"`
}

type PlaceBidRequest struct {
	AuctionID string `json:"auctionId"`
	Amount    int64  `json:"amount"`
}

type PlaceMaxBidRequest struct {
	AuctionID string `json:"auctionId"`
	MaxBid    int64  `json:"maxBid"`
}

type PlaceBidResponse struct {
	Auction *Auction `json:"auction"`
	Bids    []*Bid   `json:"bids"`
	Leading bool     `json:"leading"`
}

type CancelAuctionRequest struct {
	AuctionID string `json:"auctionId"`
}

type CancelAuctionResponse struct {
	Auction *Auction `json:"auction"`
}

type HammerDownRequest struct {
	AuctionID string `json:"auctionId"`
}

type HammerDownResponse struct {
	Auction *Auction `json:"auction"`
}

type GetMyMaxBidRequest struct {
	AuctionID string `json:"auctionId"`
}

type GetMyMaxBidResponse struct {
	MaxBid    int64  `json:"maxBid"`
	UpdatedAt string `json:"updatedAt"`
}

type GetAuctionStateRequest struct {
	AuctionID string `json:"auctionId"`
}

type GetAuctionStateResponse struct {
	Auction *Auction `json:"auction"`
}

type GetBidHistoryRequest struct {
	AuctionID string `json:"auctionId"`
	Limit     int32  `json:"limit,omitempty"`
}

type GetBidHistoryResponse struct {
	Bids []*Bid `json:"bids"`
}

type SubscribeRequest struct {
	AuctionID string `json:"auctionId"`
}

type SubscribeViewersRequest struct {
	AuctionID string `json:"auctionId"`
}

// Auction is the public view of an auction. The reserve amount is never
// exposed, only whether one exists and whether it has been reached.
type Auction struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	SellerID        string `json:"sellerId"`
	StartPrice      int64  `json:"startPrice"`
	CurrentBid      int64  `json:"currentBid"`
	HighestBidderID string `json:"highestBidderId,omitempty"`
	NextBidAmount   int64  `json:"nextBidAmount"`
	StartTime       string `json:"startTime"`
	EndTime         string `json:"endTime"`
	BidCount        int    `json:"bidCount"`
	HasReserve      bool   `json:"hasReserve"`
	ReserveMet      bool   `json:"reserveMet"`
	WinnerID        string `json:"winnerId,omitempty"`
	WinningBid      *int64 `json:"winningBid,omitempty"`
	Version         int64  `json:"version"`
}

type Bid struct {
	ID        string `json:"id"`
	AuctionID string `json:"auctionId"`
	BidderID  string `json:"bidderId"`
	Amount    int64  `json:"amount"`
	BidTime   string `json:"bidTime"`
	IsAutoBid bool   `json:"isAutoBid"`
	Seq       int64  `json:"seq"`
}

// AuctionEvent is one message of the Subscribe stream. The first message
// is always an auction.snapshot.
type AuctionEvent struct {
	Type            string `json:"type"`
	AuctionID       string `json:"auctionId"`
	Status          string `json:"status"`
	CurrentBid      int64  `json:"currentBid"`
	HighestBidderID string `json:"highestBidderId,omitempty"`
	NextBidAmount   int64  `json:"nextBidAmount"`
	EndTime         string `json:"endTime"`
	ReserveMet      bool   `json:"reserveMet"`
	WinnerID        string `json:"winnerId,omitempty"`
	WinningBid      *int64 `json:"winningBid,omitempty"`
	NewBids         []*Bid `json:"newBids,omitempty"`
	Version         int64  `json:"version"`
	OccurredAt      string `json:"occurredAt"`
}

type ViewerCount struct {
	AuctionID string `json:"auctionId"`
	Count     int64  `json:"count"`
	At        string `json:"at"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func optionalID(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func mapAuction(a *auctions.Auction) *Auction {
	return &Auction{
		ID:              a.ID.String(),
		Type:            string(a.Type),
		Status:          string(a.Status),
		SellerID:        a.SellerID.String(),
		StartPrice:      a.StartPrice,
		CurrentBid:      a.CurrentBid,
		HighestBidderID: optionalID(a.HighestBidderID),
		NextBidAmount:   a.NextBidAmount(),
		StartTime:       formatTime(a.StartTime),
		EndTime:         formatTime(a.EndTime),
		BidCount:        a.BidCount,
		HasReserve:      a.ReservePrice != nil,
		ReserveMet:      a.ReserveMet,
		WinnerID:        optionalID(a.WinnerID),
		WinningBid:      a.WinningBid,
		Version:         a.Version,
	}
}

func mapBid(b auctions.Bid) *Bid {
	return &Bid{
		ID:        b.ID.String(),
		AuctionID: b.AuctionID.String(),
		BidderID:  b.BidderID.String(),
		Amount:    b.Amount,
		BidTime:   formatTime(b.BidTime),
		IsAutoBid: b.IsAutoBid,
		Seq:       b.Seq,
	}
}

func mapBids(bids []auctions.Bid) []*Bid {
	out := make([]*Bid, len(bids))
	for i, b := range bids {
		out[i] = mapBid(b)
	}
	return out
}

func mapEvent(ev auctions.StateEvent) *AuctionEvent {
	out := &AuctionEvent{
		Type:            string(ev.Type),
		AuctionID:       ev.AuctionID.String(),
		Status:          string(ev.Status),
		CurrentBid:      ev.CurrentBid,
		HighestBidderID: optionalID(ev.HighestBidderID),
		NextBidAmount:   ev.NextBidAmount,
		EndTime:         formatTime(ev.EndTime),
		ReserveMet:      ev.ReserveMet,
		WinnerID:        optionalID(ev.WinnerID),
		WinningBid:      ev.WinningBid,
		Version:         ev.Version,
		OccurredAt:      formatTime(ev.OccurredAt),
	}
	if len(ev.NewBids) > 0 {
		out.NewBids = mapBids(ev.NewBids)
	}
	return out
}

func mapViewerCount(v broadcast.ViewerCount) *ViewerCount {
	return &ViewerCount{
		AuctionID: v.AuctionID.String(),
		Count:     v.Count,
		At:        formatTime(v.At),
	}
}
