package exchange

import "testing"

func TestBookSideBestPrice(t *testing.T) {
	bids := newBookSide(SideBuy)
	asks := newBookSide(SideSell)

	if bids.best() != nil || bids.bestPrice() != 0 {
		t.Error("empty bid side reported a best order")
	}
	if asks.best() != nil || asks.bestPrice() != 0 {
		t.Error("empty ask side reported a best order")
	}

	for i, price := range []uint32{10, 20, 15} {
		bids.insert(&Order{ID: uint32(i + 1), Side: SideBuy, Remaining: 1, Price: price})
		asks.insert(&Order{ID: uint32(i + 4), Side: SideSell, Remaining: 1, Price: price})
	}

	if got := bids.bestPrice(); got != 20 {
		t.Errorf("best bid = %d, want 20", got)
	}
	if got := asks.bestPrice(); got != 10 {
		t.Errorf("best ask = %d, want 10", got)
	}
}

func TestBookSideFIFOWithinLevel(t *testing.T) {
	asks := newBookSide(SideSell)
	first := &Order{ID: 1, Side: SideSell, Remaining: 5, Price: 50}
	second := &Order{ID: 2, Side: SideSell, Remaining: 5, Price: 50}
	asks.insert(first)
	asks.insert(second)

	if got := asks.best(); got != first {
		t.Errorf("best = order %d, want order 1 (earliest arrival)", got.ID)
	}

	asks.remove(first)
	if got := asks.best(); got != second {
		t.Errorf("best after removal = order %d, want order 2", got.ID)
	}
}

func TestBookSideBetterPriceBeatsArrival(t *testing.T) {
	bids := newBookSide(SideBuy)
	early := &Order{ID: 1, Side: SideBuy, Remaining: 1, Price: 90}
	late := &Order{ID: 2, Side: SideBuy, Remaining: 1, Price: 100}
	bids.insert(early)
	bids.insert(late)

	if got := bids.best(); got != late {
		t.Errorf("best = order %d, want the higher-priced order 2", got.ID)
	}
}

func TestBookSideRemoveDropsEmptyLevel(t *testing.T) {
	asks := newBookSide(SideSell)
	o := &Order{ID: 1, Side: SideSell, Remaining: 1, Price: 30}
	asks.insert(o)
	asks.remove(o)

	if asks.best() != nil {
		t.Error("side not empty after removing its only order")
	}
	// A second remove of the same order is a no-op.
	asks.remove(o)

	asks.insert(&Order{ID: 2, Side: SideSell, Remaining: 1, Price: 40})
	if got := asks.bestPrice(); got != 40 {
		t.Errorf("best ask = %d, want 40", got)
	}
}

func TestBookSideEach(t *testing.T) {
	bids := newBookSide(SideBuy)
	for i, price := range []uint32{10, 30, 20} {
		bids.insert(&Order{ID: uint32(i + 1), Side: SideBuy, Remaining: 1, Price: price})
	}

	var ids []uint32
	bids.each(func(o *Order) { ids = append(ids, o.ID) })
	// Best level first: prices 30, 20, 10.
	want := []uint32{2, 3, 1}
	if len(ids) != len(want) {
		t.Fatalf("visited %d orders, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("visit order = %v, want %v", ids, want)
			break
		}
	}
}
