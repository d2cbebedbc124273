package auctions

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/floroz/auctioneer/pkg/events"
)

// newOutboxEvent encodes a state change for collaborators listening on the
// auction exchange. The routing key is the event type.
func newOutboxEvent(t EventType, a *Auction, bids []*Bid, at time.Time) (*events.OutboxEvent, error) {
	fields := map[string]any{
		"auction_id":      a.ID.String(),
		"auction_type":    string(a.Type),
		"seller_id":       a.SellerID.String(),
		"status":          string(a.Status),
		"current_bid":     a.CurrentBid,
		"next_bid_amount": a.NextBidAmount(),
		"end_time":        a.EndTime.UTC().Format(time.RFC3339Nano),
		"reserve_met":     a.ReserveMet,
		"bid_count":       a.BidCount,
		"version":         a.Version,
		"occurred_at":     at.UTC().Format(time.RFC3339Nano),
	}
	if a.HighestBidderID != nil {
		fields["highest_bidder_id"] = a.HighestBidderID.String()
	}
	if a.WinnerID != nil {
		fields["winner_id"] = a.WinnerID.String()
	}
	if a.WinningBid != nil {
		fields["winning_bid"] = *a.WinningBid
	}
	if len(bids) > 0 {
		rows := make([]any, 0, len(bids))
		for _, b := range bids {
			rows = append(rows, map[string]any{
				"bid_id":      b.ID.String(),
				"bidder_id":   b.BidderID.String(),
				"amount":      b.Amount,
				"bid_time":    b.BidTime.UTC().Format(time.RFC3339Nano),
				"is_auto_bid": b.IsAutoBid,
			})
		}
		fields["bids"] = rows
	}

	payload, err := events.MarshalPayload(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", t, err)
	}

	return &events.OutboxEvent{
		ID:          uuid.New(),
		AggregateID: a.ID,
		EventType:   string(t),
		Payload:     payload,
		Status:      events.OutboxStatusPending,
		CreatedAt:   at,
	}, nil
}
