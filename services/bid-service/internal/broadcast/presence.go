package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ViewerCount is the approximate number of clients watching an auction.
type ViewerCount struct {
	AuctionID uuid.UUID
	Count     int64
	At        time.Time
}

// CountSource reports local subscriber counts per topic.
type CountSource interface {
	Counts() map[uuid.UUID]int
}

// Aggregator merges this node's counts with those of other nodes.
type Aggregator interface {
	Report(ctx context.Context, local map[uuid.UUID]int) (map[uuid.UUID]int64, error)
}

// Presence periodically publishes viewer counts on a separate hub. The
// counts are a gauge: eventually consistent and never on the bid path.
type Presence struct {
	source     CountSource
	viewers    *Hub[ViewerCount]
	aggregator Aggregator
	interval   time.Duration
	logger     *slog.Logger

	previous map[uuid.UUID]int
}

// NewPresence creates a presence publisher. aggregator may be nil for a
// single node.
func NewPresence(source CountSource, viewers *Hub[ViewerCount], aggregator Aggregator, interval time.Duration, logger *slog.Logger) *Presence {
	return &Presence{
		source:     source,
		viewers:    viewers,
		aggregator: aggregator,
		interval:   interval,
		logger:     logger,
		previous:   map[uuid.UUID]int{},
	}
}

// Run publishes counts every interval until ctx is cancelled.
func (p *Presence) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick publishes one round of counts to every topic with state or viewer
// subscribers. Topics that lost their last state subscriber report a zero.
func (p *Presence) Tick(ctx context.Context) {
	local := p.source.Counts()

	// report zeros for topics that emptied so other nodes see them drop
	report := make(map[uuid.UUID]int, len(local)+len(p.previous))
	for topic := range p.previous {
		report[topic] = 0
	}
	for topic, n := range local {
		report[topic] = n
	}
	// clients watching only the viewer stream still get a count
	for topic := range p.viewers.Counts() {
		if _, ok := report[topic]; !ok {
			report[topic] = 0
		}
	}

	totals := make(map[uuid.UUID]int64, len(report))
	for topic, n := range report {
		totals[topic] = int64(n)
	}
	if p.aggregator != nil {
		merged, err := p.aggregator.Report(ctx, report)
		if err != nil {
			p.logger.Warn("Failed to aggregate viewer counts, using local counts", "error", err)
		} else {
			for topic, n := range merged {
				totals[topic] = n
			}
		}
	}

	now := time.Now()
	for topic, n := range totals {
		p.viewers.Publish(topic, ViewerCount{AuctionID: topic, Count: n, At: now})
	}
	p.previous = local
}
