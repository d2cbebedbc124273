package api

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// AuctionServiceClient calls auction.v1.AuctionService over connect.
type AuctionServiceClient struct {
	createAuction    *connect.Client[CreateAuctionRequest, CreateAuctionResponse]
	placeBid         *connect.Client[PlaceBidRequest, PlaceBidResponse]
	placeMaxBid      *connect.Client[PlaceMaxBidRequest, PlaceBidResponse]
	cancelAuction    *connect.Client[CancelAuctionRequest, CancelAuctionResponse]
	hammerDown       *connect.Client[HammerDownRequest, HammerDownResponse]
	getMyMaxBid      *connect.Client[GetMyMaxBidRequest, GetMyMaxBidResponse]
	getAuctionState  *connect.Client[GetAuctionStateRequest, GetAuctionStateResponse]
	getBidHistory    *connect.Client[GetBidHistoryRequest, GetBidHistoryResponse]
	subscribe        *connect.Client[SubscribeRequest, AuctionEvent]
	subscribeViewers *connect.Client[SubscribeViewersRequest, ViewerCount]
}

func NewAuctionServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *AuctionServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)

	return &AuctionServiceClient{
		createAuction:    connect.NewClient[CreateAuctionRequest, CreateAuctionResponse](httpClient, baseURL+CreateAuctionProcedure, opts...),
		placeBid:         connect.NewClient[PlaceBidRequest, PlaceBidResponse](httpClient, baseURL+PlaceBidProcedure, opts...),
		placeMaxBid:      connect.NewClient[PlaceMaxBidRequest, PlaceBidResponse](httpClient, baseURL+PlaceMaxBidProcedure, opts...),
		cancelAuction:    connect.NewClient[CancelAuctionRequest, CancelAuctionResponse](httpClient, baseURL+CancelAuctionProcedure, opts...),
		hammerDown:       connect.NewClient[HammerDownRequest, HammerDownResponse](httpClient, baseURL+HammerDownProcedure, opts...),
		getMyMaxBid:      connect.NewClient[GetMyMaxBidRequest, GetMyMaxBidResponse](httpClient, baseURL+GetMyMaxBidProcedure, opts...),
		getAuctionState:  connect.NewClient[GetAuctionStateRequest, GetAuctionStateResponse](httpClient, baseURL+GetAuctionStateProcedure, opts...),
		getBidHistory:    connect.NewClient[GetBidHistoryRequest, GetBidHistoryResponse](httpClient, baseURL+GetBidHistoryProcedure, opts...),
		subscribe:        connect.NewClient[SubscribeRequest, AuctionEvent](httpClient, baseURL+SubscribeProcedure, opts...),
		subscribeViewers: connect.NewClient[SubscribeViewersRequest, ViewerCount](httpClient, baseURL+SubscribeViewersProcedure, opts...),
	}
}

func (c *AuctionServiceClient) CreateAuction(ctx context.Context, req *connect.Request[CreateAuctionRequest]) (*connect.Response[CreateAuctionResponse], error) {
	return c.createAuction.CallUnary(ctx, req)
}

func (c *AuctionServiceClient) PlaceBid(ctx context.Context, req *connect.Request[PlaceBidRequest]) (*connect.Response[PlaceBidResponse], error) {
	return c.placeBid.CallUnary(ctx, req)
}

func (c *AuctionServiceClient) PlaceMaxBid(ctx context.Context, req *connect.Request[PlaceMaxBidRequest]) (*connect.Response[PlaceBidResponse], error) {
	return c.placeMaxBid.CallUnary(ctx, req)
}

func (c *AuctionServiceClient) CancelAuction(ctx context.Context, req *connect.Request[CancelAuctionRequest]) (*connect.Response[CancelAuctionResponse], error) {
	return c.cancelAuction.CallUnary(ctx, req)
}

func (c *AuctionServiceClient) HammerDown(ctx context.Context, req *connect.Request[HammerDownRequest]) (*connect.Response[HammerDownResponse], error) {
	return c.hammerDown.CallUnary(ctx, req)
}

func (c *AuctionServiceClient) GetMyMaxBid(ctx context.Context, req *connect.Request[GetMyMaxBidRequest]) (*connect.Response[GetMyMaxBidResponse], error) {
	return c.getMyMaxBid.CallUnary(ctx, req)
}

func (c *AuctionServiceClient) GetAuctionState(ctx context.Context, req *connect.Request[GetAuctionStateRequest]) (*connect.Response[GetAuctionStateResponse], error) {
	return c.getAuctionState.CallUnary(ctx, req)
}

func (c *AuctionServiceClient) GetBidHistory(ctx context.Context, req *connect.Request[GetBidHistoryRequest]) (*connect.Response[GetBidHistoryResponse], error) {
	return c.getBidHistory.CallUnary(ctx, req)
}

func (c *AuctionServiceClient) Subscribe(ctx context.Context, req *connect.Request[SubscribeRequest]) (*connect.ServerStreamForClient[AuctionEvent], error) {
	return c.subscribe.CallServerStream(ctx, req)
}

func (c *AuctionServiceClient) SubscribeViewers(ctx context.Context, req *connect.Request[SubscribeViewersRequest]) (*connect.ServerStreamForClient[ViewerCount], error) {
	return c.subscribeViewers.CallServerStream(ctx, req)
}
