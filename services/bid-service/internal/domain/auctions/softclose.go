package auctions

import "time"

// SoftCloseRule extends an auction when a bid lands inside Window of the end.
type SoftCloseRule struct {
	Window   time.Duration
	ExtendTo time.Duration
}

var (
	LiveSoftClose  = SoftCloseRule{Window: 60 * time.Second, ExtendTo: 20 * time.Second}
	TimedSoftClose = SoftCloseRule{Window: 10 * time.Minute, ExtendTo: 5 * time.Minute}
)

// SoftCloseFor returns the anti-sniping rule of an auction type.
func SoftCloseFor(t AuctionType) SoftCloseRule {
	if t == AuctionTypeTimed {
		return TimedSoftClose
	}
	return LiveSoftClose
}

// Extend returns the end time after a bid accepted at now. The result is
// never earlier than endTime.
func (r SoftCloseRule) Extend(endTime, now time.Time) (time.Time, bool) {
	if endTime.Sub(now) > r.Window {
		return endTime, false
	}
	candidate := now.Add(r.ExtendTo)
	if !candidate.After(endTime) {
		return endTime, false
	}
	return candidate, true
}
