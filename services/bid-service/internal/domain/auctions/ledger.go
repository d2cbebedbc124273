package auctions

import "fmt"

// Ledger is the append-only bid history of one auction, oldest first.
// It is owned by the auction's serializer.
type Ledger struct {
	bids   []*Bid
	frozen bool
}

// NewLedger restores a ledger from rows ordered oldest first.
func NewLedger(existing []*Bid) *Ledger {
	l := &Ledger{bids: make([]*Bid, 0, len(existing))}
	l.bids = append(l.bids, existing...)
	return l
}

// NextSeq is the sequence number the next appended row must carry.
func (l *Ledger) NextSeq() int64 {
	if len(l.bids) == 0 {
		return 1
	}
	return l.bids[len(l.bids)-1].Seq + 1
}

// Append adds rows in order. Rows must carry consecutive sequence numbers
// starting at NextSeq.
func (l *Ledger) Append(bids ...*Bid) error {
	if l.frozen {
		return ErrLedgerFrozen
	}
	next := l.NextSeq()
	for i, b := range bids {
		if b.Seq != next+int64(i) {
			return fmt.Errorf("%w: got %d, want %d", ErrLedgerOutOfOrder, b.Seq, next+int64(i))
		}
	}
	l.bids = append(l.bids, bids...)
	return nil
}

// Freeze rejects all further appends.
func (l *Ledger) Freeze() {
	l.frozen = true
}

func (l *Ledger) Frozen() bool {
	return l.frozen
}

func (l *Ledger) Len() int {
	return len(l.bids)
}

// Recent returns up to limit rows newest first. A limit of zero or less
// returns everything.
func (l *Ledger) Recent(limit int) []Bid {
	n := len(l.bids)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Bid, 0, n)
	for i := len(l.bids) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, *l.bids[i])
	}
	return out
}
