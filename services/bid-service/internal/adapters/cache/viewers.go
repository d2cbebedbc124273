package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ViewerKeyPrefix namespaces the per-auction viewer hashes.
const ViewerKeyPrefix = "auction:viewers:"

// RedisViewerAggregator sums viewer counts across nodes. Each auction has
// a hash with one field per node holding "count:unix". Fields older than
// ttl belong to nodes that stopped reporting and are dropped.
type RedisViewerAggregator struct {
	client *redis.Client
	nodeID string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisViewerAggregator(client *redis.Client, nodeID string, ttl time.Duration) *RedisViewerAggregator {
	return &RedisViewerAggregator{
		client: client,
		nodeID: nodeID,
		ttl:    ttl,
		now:    time.Now,
	}
}

func viewerKey(auctionID uuid.UUID) string {
	return ViewerKeyPrefix + auctionID.String()
}

// Report writes this node's counts and returns the cluster totals for the
// same auctions.
func (a *RedisViewerAggregator) Report(ctx context.Context, local map[uuid.UUID]int) (map[uuid.UUID]int64, error) {
	if len(local) == 0 {
		return map[uuid.UUID]int64{}, nil
	}
	now := a.now()

	reads := make(map[uuid.UUID]*redis.MapStringStringCmd, len(local))
	_, err := a.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for auctionID, n := range local {
			key := viewerKey(auctionID)
			pipe.HSet(ctx, key, a.nodeID, formatEntry(n, now))
			pipe.Expire(ctx, key, a.ttl)
			reads[auctionID] = pipe.HGetAll(ctx, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to report viewer counts: %w", err)
	}

	totals := make(map[uuid.UUID]int64, len(local))
	stale := make(map[uuid.UUID][]string)
	for auctionID, cmd := range reads {
		total, expired := sumFresh(cmd.Val(), now, a.ttl)
		totals[auctionID] = total
		if len(expired) > 0 {
			stale[auctionID] = expired
		}
	}

	if len(stale) > 0 {
		_, err := a.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for auctionID, fields := range stale {
				pipe.HDel(ctx, viewerKey(auctionID), fields...)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to prune viewer counts: %w", err)
		}
	}
	return totals, nil
}

func formatEntry(count int, at time.Time) string {
	return strconv.Itoa(count) + ":" + strconv.FormatInt(at.Unix(), 10)
}

// sumFresh adds the counts reported within ttl of now and returns the
// fields that are older or malformed.
func sumFresh(fields map[string]string, now time.Time, ttl time.Duration) (int64, []string) {
	var (
		total int64
		stale []string
	)
	for node, raw := range fields {
		countPart, tsPart, ok := strings.Cut(raw, ":")
		count, countErr := strconv.ParseInt(countPart, 10, 64)
		ts, tsErr := strconv.ParseInt(tsPart, 10, 64)
		if !ok || countErr != nil || tsErr != nil || now.Sub(time.Unix(ts, 0)) > ttl {
			stale = append(stale, node)
			continue
		}
		total += count
	}
	return total, stale
}
