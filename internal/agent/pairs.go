package agent

// pair links an order in the engine's source market with its forwarded copy
// in the target market.
type pair[T any] struct {
	sourceID string
	targetID string
	source   T
	target   T
}

// pairTable indexes forwarded-order pairs by both the source and the target
// order id, so events from either market resolve to the same pair.
type pairTable[T any] struct {
	byID map[string]*pair[T]
}

func newPairTable[T any]() *pairTable[T] {
	return &pairTable[T]{byID: make(map[string]*pair[T])}
}

func (t *pairTable[T]) add(sourceID, targetID string, source, target T) {
	p := &pair[T]{sourceID: sourceID, targetID: targetID, source: source, target: target}
	t.byID[sourceID] = p
	t.byID[targetID] = p
}

// lookup resolves an order id from either market to its pair.
func (t *pairTable[T]) lookup(id string) (*pair[T], bool) {
	p, ok := t.byID[id]
	return p, ok
}

func (t *pairTable[T]) remove(p *pair[T]) {
	delete(t.byID, p.sourceID)
	delete(t.byID, p.targetID)
}

// contains reports whether either side of any pair carries the id.
func (t *pairTable[T]) contains(id string) bool {
	_, ok := t.byID[id]
	return ok
}
