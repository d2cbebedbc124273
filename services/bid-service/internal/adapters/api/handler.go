package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/floroz/auctioneer/pkg/auth"
	"github.com/floroz/auctioneer/services/bid-service/internal/broadcast"
	"github.com/floroz/auctioneer/services/bid-service/internal/domain/auctions"
)

// PermissionAuctionsAdmin lets a token cancel any auction as the platform.
const PermissionAuctionsAdmin = "auctions:admin"

const defaultHistoryLimit = 50

type AuctionServiceHandler struct {
	engine  *auctions.Engine
	states  *broadcast.Hub[auctions.StateEvent]
	viewers *broadcast.Hub[broadcast.ViewerCount]
	now     func() time.Time
}

func NewAuctionServiceHandler(
	engine *auctions.Engine,
	states *broadcast.Hub[auctions.StateEvent],
	viewers *broadcast.Hub[broadcast.ViewerCount],
) *AuctionServiceHandler {
	return &AuctionServiceHandler{
		engine:  engine,
		states:  states,
		viewers: viewers,
		now:     time.Now,
	}
}

// CreateAuction opens a new auction owned by the caller.
func (h *AuctionServiceHandler) CreateAuction(
	ctx context.Context,
	req *connect.Request[CreateAuctionRequest],
) (*connect.Response[CreateAuctionResponse], error) {
	sellerID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}

	endTime, err := time.Parse(time.RFC3339, req.Msg.EndTime)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid end_time format"))
	}
	var startTime time.Time
	if req.Msg.StartTime != "" {
		startTime, err = time.Parse(time.RFC3339, req.Msg.StartTime)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid start_time format"))
		}
	}

	auction, err := h.engine.CreateAuction(ctx, auctions.CreateAuctionCommand{
		SellerID:     sellerID,
		Type:         auctions.AuctionType(req.Msg.Type),
		StartPrice:   req.Msg.StartPrice,
		ReservePrice: req.Msg.ReservePrice,
		StartTime:    startTime,
		EndTime:      endTime,
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&CreateAuctionResponse{Auction: mapAuction(auction)}), nil
}

// PlaceBid submits a bid as the caller. On a timed auction the amount is
// treated as the caller's maximum.
func (h *AuctionServiceHandler) PlaceBid(
	ctx context.Context,
	req *connect.Request[PlaceBidRequest],
) (*connect.Response[PlaceBidResponse], error) {
	bidderID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	auctionID, err := parseAuctionID(req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}

	res, err := h.engine.PlaceBid(ctx, auctions.PlaceBidCommand{
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    req.Msg.Amount,
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(mapBidResult(res)), nil
}

// PlaceMaxBid sets or raises the caller's proxy ceiling on a timed auction.
func (h *AuctionServiceHandler) PlaceMaxBid(
	ctx context.Context,
	req *connect.Request[PlaceMaxBidRequest],
) (*connect.Response[PlaceBidResponse], error) {
	bidderID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	auctionID, err := parseAuctionID(req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}

	res, err := h.engine.PlaceMaxBid(ctx, auctions.PlaceMaxBidCommand{
		AuctionID: auctionID,
		BidderID:  bidderID,
		MaxBid:    req.Msg.MaxBid,
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(mapBidResult(res)), nil
}

// CancelAuction withdraws an auction. Callers holding the admin
// permission act as the platform and skip the ownership check.
func (h *AuctionServiceHandler) CancelAuction(
	ctx context.Context,
	req *connect.Request[CancelAuctionRequest],
) (*connect.Response[CancelAuctionResponse], error) {
	actorID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	auctionID, err := parseAuctionID(req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}

	auction, err := h.engine.Cancel(ctx, auctions.CancelCommand{
		AuctionID: auctionID,
		ActorID:   actorID,
		System:    auth.HasPermission(ctx, PermissionAuctionsAdmin),
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&CancelAuctionResponse{Auction: mapAuction(auction)}), nil
}

func (h *AuctionServiceHandler) HammerDown(
	ctx context.Context,
	req *connect.Request[HammerDownRequest],
) (*connect.Response[HammerDownResponse], error) {
	sellerID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	auctionID, err := parseAuctionID(req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}

	auction, err := h.engine.HammerDown(ctx, auctions.HammerDownCommand{
		AuctionID: auctionID,
		SellerID:  sellerID,
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&HammerDownResponse{Auction: mapAuction(auction)}), nil
}

// GetMyMaxBid returns the caller's own ceiling. Nobody can read another
// bidder's maximum.
func (h *AuctionServiceHandler) GetMyMaxBid(
	ctx context.Context,
	req *connect.Request[GetMyMaxBidRequest],
) (*connect.Response[GetMyMaxBidResponse], error) {
	bidderID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	auctionID, err := parseAuctionID(req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}

	ceiling, err := h.engine.GetMyMaxBid(ctx, auctionID, bidderID)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&GetMyMaxBidResponse{
		MaxBid:    ceiling.MaxBid,
		UpdatedAt: formatTime(ceiling.UpdatedAt),
	}), nil
}

func (h *AuctionServiceHandler) GetAuctionState(
	ctx context.Context,
	req *connect.Request[GetAuctionStateRequest],
) (*connect.Response[GetAuctionStateResponse], error) {
	auctionID, err := parseAuctionID(req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}

	auction, err := h.engine.GetAuctionState(ctx, auctionID)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&GetAuctionStateResponse{Auction: mapAuction(auction)}), nil
}

// GetBidHistory returns bids newest first (default 50).
func (h *AuctionServiceHandler) GetBidHistory(
	ctx context.Context,
	req *connect.Request[GetBidHistoryRequest],
) (*connect.Response[GetBidHistoryResponse], error) {
	auctionID, err := parseAuctionID(req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}
	limit := int(req.Msg.Limit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	bids, err := h.engine.GetBidHistory(ctx, auctionID, limit)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&GetBidHistoryResponse{Bids: mapBids(bids)}), nil
}

// Subscribe streams a snapshot followed by every state change of one
// auction. The stream ends after the terminal event. Delivery is at most
// once: a client that sees a gap in versions should refetch the state.
func (h *AuctionServiceHandler) Subscribe(
	ctx context.Context,
	req *connect.Request[SubscribeRequest],
	stream *connect.ServerStream[AuctionEvent],
) error {
	auctionID, err := parseAuctionID(req.Msg.AuctionID)
	if err != nil {
		return err
	}

	// subscribe before the snapshot so nothing falls between the two
	sub := h.states.Subscribe(auctionID)
	defer sub.Close()

	snapshot, err := h.engine.GetAuctionState(ctx, auctionID)
	if err != nil {
		return toConnectError(err)
	}
	first := auctions.NewStateEvent(auctions.EventSnapshot, snapshot, nil, h.now())
	if err := stream.Send(mapEvent(first)); err != nil {
		return err
	}
	if snapshot.Status.IsTerminal() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if ev.Version <= snapshot.Version {
				continue
			}
			if err := stream.Send(mapEvent(ev)); err != nil {
				return err
			}
			if ev.Status.IsTerminal() {
				return nil
			}
		}
	}
}

// SubscribeViewers streams the number of spectators watching an auction.
func (h *AuctionServiceHandler) SubscribeViewers(
	ctx context.Context,
	req *connect.Request[SubscribeViewersRequest],
	stream *connect.ServerStream[ViewerCount],
) error {
	auctionID, err := parseAuctionID(req.Msg.AuctionID)
	if err != nil {
		return err
	}

	sub := h.viewers.Subscribe(auctionID)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case count, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := stream.Send(mapViewerCount(count)); err != nil {
				return err
			}
		}
	}
}

func mapBidResult(res *auctions.BidResult) *PlaceBidResponse {
	return &PlaceBidResponse{
		Auction: mapAuction(res.Auction),
		Bids:    mapBids(res.NewBids),
		Leading: res.Leading,
	}
}

// callerID reads the subject placed in ctx by the auth interceptor.
func callerID(ctx context.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.MustGetUserID(ctx))
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInternal, errors.New("invalid user_id in token"))
	}
	// the nil id is never a user
	if id == uuid.Nil {
		return uuid.Nil, connect.NewError(connect.CodeUnauthenticated, errors.New("invalid user_id in token"))
	}
	return id, nil
}

func parseAuctionID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid auction_id"))
	}
	return id, nil
}

// toConnectError maps domain errors to RPC codes. Anything unrecognised
// is an infrastructure failure.
func toConnectError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, auctions.ErrAuctionNotFound), errors.Is(err, auctions.ErrMaxBidNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, auctions.ErrInvalidAuction), errors.Is(err, auctions.ErrInvalidAmount):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, auctions.ErrSelfBidForbidden),
		errors.Is(err, auctions.ErrBidderSuspended),
		errors.Is(err, auctions.ErrUnauthorizedActor):
		return connect.NewError(connect.CodePermissionDenied, err)
	case errors.Is(err, auctions.ErrBidTooLow),
		errors.Is(err, auctions.ErrAuctionNotActive),
		errors.Is(err, auctions.ErrReserveNotMetForHammer),
		errors.Is(err, auctions.ErrNoBids),
		errors.Is(err, auctions.ErrAuctionTypeMismatch):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, auctions.ErrConcurrentModification):
		return connect.NewError(connect.CodeAborted, err)
	case errors.Is(err, auctions.ErrEngineClosed):
		return connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewError(connect.CodeInternal, fmt.Errorf("internal error: %w", err))
}
