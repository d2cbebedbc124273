package auctions

// incrementStep applies from its lower bound (inclusive) up to the next step.
type incrementStep struct {
	from      int64
	increment int64
}

// ladder is ordered from the highest bound down so the first match wins.
var ladder = []incrementStep{
	{from: 50_000_000, increment: 2_000_000},
	{from: 20_000_000, increment: 1_000_000},
	{from: 10_000_000, increment: 500_000},
	{from: 5_000_000, increment: 200_000},
	{from: 3_000_000, increment: 100_000},
	{from: 1_000_000, increment: 50_000},
	{from: 300_000, increment: 10_000},
	{from: 100_000, increment: 5_000},
	{from: 50_000, increment: 1_000},
	{from: 0, increment: 500},
}

// MinIncrement returns the smallest raise allowed over currentBid.
func MinIncrement(currentBid int64) int64 {
	for _, step := range ladder {
		if currentBid >= step.from {
			return step.increment
		}
	}
	return ladder[len(ladder)-1].increment
}

// NextBidAmount returns currentBid plus its ladder increment.
func NextBidAmount(currentBid int64) int64 {
	return currentBid + MinIncrement(currentBid)
}
