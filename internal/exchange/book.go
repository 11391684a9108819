package exchange

import (
	"container/list"

	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"

	"github.com/bourse-exchange/bourse/internal/account"
	"github.com/bourse-exchange/bourse/internal/trader"
)

// Side is the side of an order.
type Side int

// Order sides.
const (
	SideBuy Side = iota
	SideSell
)

// String returns the side name used in log output.
func (s Side) String() string {
	if s == SideBuy {
		return "BUY"
	}
	return "SELL"
}

// Order is a resting limit order. It holds one reference on its owning
// session from post until fill, cancel or exchange teardown.
type Order struct {
	ID        uint32
	Side      Side
	Remaining account.Quantity
	Price     account.Funds
	Owner     *trader.Trader

	elem  *list.Element
	level *priceLevel
}

// priceLevel is the FIFO queue of orders at one price. The front of the queue
// is the earliest arrival.
type priceLevel struct {
	price  account.Funds
	orders *list.List
}

// bookSide holds one side of the book as a price-ordered tree of FIFO levels.
// The tree comparator is descending for bids and ascending for asks, so the
// leftmost level is always the best price and its front order is the match
// candidate: best price, earliest arrival.
type bookSide struct {
	levels *rbt.Tree[account.Funds, *priceLevel]
}

func newBookSide(side Side) *bookSide {
	cmp := func(a, b account.Funds) int {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
	if side == SideBuy {
		asc := cmp
		cmp = func(a, b account.Funds) int { return -asc(a, b) }
	}
	return &bookSide{levels: rbt.NewWith[account.Funds, *priceLevel](cmp)}
}

// insert appends the order to its price level, creating the level if needed.
func (b *bookSide) insert(o *Order) {
	level, ok := b.levels.Get(o.Price)
	if !ok {
		level = &priceLevel{price: o.Price, orders: list.New()}
		b.levels.Put(o.Price, level)
	}
	o.elem = level.orders.PushBack(o)
	o.level = level
}

// remove unlinks the order, dropping its price level if it becomes empty.
func (b *bookSide) remove(o *Order) {
	if o.level == nil {
		return
	}
	o.level.orders.Remove(o.elem)
	if o.level.orders.Len() == 0 {
		b.levels.Remove(o.level.price)
	}
	o.elem = nil
	o.level = nil
}

// best returns the match candidate: the earliest order at the best price, or
// nil if the side is empty.
func (b *bookSide) best() *Order {
	node := b.levels.Left()
	if node == nil {
		return nil
	}
	return node.Value.orders.Front().Value.(*Order)
}

// bestPrice returns the best price on the side, or 0 if it is empty.
func (b *bookSide) bestPrice() account.Funds {
	node := b.levels.Left()
	if node == nil {
		return 0
	}
	return node.Key
}

// each calls fn for every order on the side, best level first.
func (b *bookSide) each(fn func(*Order)) {
	for _, level := range b.levels.Values() {
		for e := level.orders.Front(); e != nil; e = e.Next() {
			fn(e.Value.(*Order))
		}
	}
}
