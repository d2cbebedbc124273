package api

import (
	"net/http"

	"connectrpc.com/connect"

	"github.com/floroz/auctioneer/pkg/auth"
)

const AuctionServiceName = "auction.v1.AuctionService"

const (
	CreateAuctionProcedure    = "/auction.v1.AuctionService/CreateAuction"
	PlaceBidProcedure         = "/auction.v1.AuctionService/PlaceBid"
	PlaceMaxBidProcedure      = "/auction.v1.AuctionService/PlaceMaxBid"
	CancelAuctionProcedure    = "/auction.v1.AuctionService/CancelAuction"
	HammerDownProcedure       = "/auction.v1.AuctionService/HammerDown"
	GetMyMaxBidProcedure      = "/auction.v1.AuctionService/GetMyMaxBid"
	GetAuctionStateProcedure  = "/auction.v1.AuctionService/GetAuctionState"
	GetBidHistoryProcedure    = "/auction.v1.AuctionService/GetBidHistory"
	SubscribeProcedure        = "/auction.v1.AuctionService/Subscribe"
	SubscribeViewersProcedure = "/auction.v1.AuctionService/SubscribeViewers"
)

// NewAuctionServiceRoutes mounts every procedure and returns the path
// prefix to register the handler under. Procedures that act on behalf
// of a user sit behind the auth interceptor; reads and streams are public.
func NewAuctionServiceRoutes(h *AuctionServiceHandler, signer *auth.Signer, opts ...connect.HandlerOption) (string, http.Handler) {
	public := make([]connect.HandlerOption, 0, len(opts)+1)
	public = append(public, connect.WithCodec(jsonCodec{}))
	public = append(public, opts...)

	authed := make([]connect.HandlerOption, 0, len(public)+1)
	authed = append(authed, public...)
	authed = append(authed, connect.WithInterceptors(auth.NewAuthInterceptor(signer)))

	mux := http.NewServeMux()
	mux.Handle(CreateAuctionProcedure, connect.NewUnaryHandler(CreateAuctionProcedure, h.CreateAuction, authed...))
	mux.Handle(PlaceBidProcedure, connect.NewUnaryHandler(PlaceBidProcedure, h.PlaceBid, authed...))
	mux.Handle(PlaceMaxBidProcedure, connect.NewUnaryHandler(PlaceMaxBidProcedure, h.PlaceMaxBid, authed...))
	mux.Handle(CancelAuctionProcedure, connect.NewUnaryHandler(CancelAuctionProcedure, h.CancelAuction, authed...))
	mux.Handle(HammerDownProcedure, connect.NewUnaryHandler(HammerDownProcedure, h.HammerDown, authed...))
	mux.Handle(GetMyMaxBidProcedure, connect.NewUnaryHandler(GetMyMaxBidProcedure, h.GetMyMaxBid, authed...))
	mux.Handle(GetAuctionStateProcedure, connect.NewUnaryHandler(GetAuctionStateProcedure, h.GetAuctionState, public...))
	mux.Handle(GetBidHistoryProcedure, connect.NewUnaryHandler(GetBidHistoryProcedure, h.GetBidHistory, public...))
	mux.Handle(SubscribeProcedure, connect.NewServerStreamHandler(SubscribeProcedure, h.Subscribe, public...))
	mux.Handle(SubscribeViewersProcedure, connect.NewServerStreamHandler(SubscribeViewersProcedure, h.SubscribeViewers, public...))

	return "/" + AuctionServiceName + "/", mux
}
