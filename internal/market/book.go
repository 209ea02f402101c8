package market

import "github.com/google/btree"

// bookEntry is a single open order in a rate-sorted book. Seq is a
// monotonically increasing insertion counter used for stable time priority
// between orders at the same rate.
type bookEntry struct {
	Rate float64
	Seq  uint64
	ID   string
}

// offerLess orders the sell side: rate ascending, then insertion order, then
// id. Min() returns the cheapest offer.
func offerLess(a, b bookEntry) bool {
	if a.Rate != b.Rate {
		return a.Rate < b.Rate
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.ID < b.ID
}

// bidLess orders the buy side: rate descending, then insertion order, then
// id. Min() returns the most aggressive bid.
func bidLess(a, b bookEntry) bool {
	if a.Rate != b.Rate {
		return a.Rate > b.Rate
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.ID < b.ID
}

// book maintains one side of a market's open orders in a B-tree with a
// secondary index for O(log n) removal by order id.
type book struct {
	tree  *btree.BTreeG[bookEntry]
	index map[string]bookEntry
	seq   uint64
}

func newBook(less func(a, b bookEntry) bool) *book {
	const degree = 32
	return &book{
		tree:  btree.NewG[bookEntry](degree, less),
		index: make(map[string]bookEntry),
	}
}

func (b *book) insert(id string, rate float64) {
	b.seq++
	entry := bookEntry{Rate: rate, Seq: b.seq, ID: id}
	b.tree.ReplaceOrInsert(entry)
	b.index[id] = entry
}

func (b *book) remove(id string) {
	entry, ok := b.index[id]
	if !ok {
		return
	}
	delete(b.index, id)
	b.tree.Delete(entry)
}

// ascend walks the book in priority order. The callback returns false to stop.
func (b *book) ascend(fn func(bookEntry) bool) {
	b.tree.Ascend(fn)
}

// best returns the highest-priority entry (cheapest offer / most aggressive
// bid).
func (b *book) best() (bookEntry, bool) {
	return b.tree.Min()
}

// worst returns the lowest-priority entry.
func (b *book) worst() (bookEntry, bool) {
	return b.tree.Max()
}

func (b *book) len() int {
	return b.tree.Len()
}

func (b *book) clear() {
	b.tree.Clear(false)
	b.index = make(map[string]bookEntry)
}
