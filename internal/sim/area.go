package sim

import (
	"time"

	"github.com/efreitasn/gridmarket/internal/agent"
	"github.com/efreitasn/gridmarket/internal/area"
	"github.com/efreitasn/gridmarket/internal/market"
)

// Area is one node of the grid hierarchy. Interior areas own markets that
// their children's agents trade into; leaf areas carry a device strategy
// and trade in their parent's market.
type Area struct {
	Name     string
	Fee      market.GridFee
	Strategy Strategy // non-nil only on leaves
	Children []*Area

	parent  *Area
	markets *area.Markets
	agents  map[time.Time]*agent.AreaAgent // boundary agents keyed by slot
}

// NewArea builds an interior area holding markets of its own.
func NewArea(name string, fee market.GridFee, children ...*Area) *Area {
	a := &Area{Name: name, Fee: fee, Children: children}
	for _, c := range children {
		c.parent = a
	}
	return a
}

// NewLeaf builds a leaf area whose device trades in its parent's market.
func NewLeaf(name string, strategy Strategy) *Area {
	return &Area{Name: name, Strategy: strategy}
}

// Leaf reports whether the area is a device rather than a sub-grid.
func (a *Area) Leaf() bool {
	return len(a.Children) == 0
}

// Markets returns the area's market collection. Nil for leaves.
func (a *Area) Markets() *area.Markets {
	return a.markets
}

// Walk visits the area and every descendant, parents before children.
func (a *Area) Walk(fn func(*Area)) {
	a.walk(fn)
}

func (a *Area) walk(fn func(*Area)) {
	fn(a)
	for _, c := range a.Children {
		c.walk(fn)
	}
}

// find returns the named area in this subtree, if any.
func (a *Area) find(name string) (*Area, bool) {
	var found *Area
	a.walk(func(n *Area) {
		if n.Name == name {
			found = n
		}
	})
	return found, found != nil
}
