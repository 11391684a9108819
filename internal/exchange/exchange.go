// Package exchange implements the order book and matching engine for the
// single traded instrument. Posting encumbers the trader's funds or
// inventory, a dedicated matchmaker goroutine pairs crossing orders, and
// every path that removes an order restores whatever encumbrance it still
// carried, so cash and inventory are conserved across any interleaving of
// posts, matches, cancels and shutdown.
package exchange

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/bourse-exchange/bourse/internal/account"
	"github.com/bourse-exchange/bourse/internal/protocol"
	"github.com/bourse-exchange/bourse/internal/trader"
	"github.com/bourse-exchange/bourse/pkg/logging"
)

// ErrRejected is the base error for order posts the exchange refuses.
var ErrRejected = errors.New("order rejected")

// Exchange is one instrument's book plus its matchmaker. A single mutex
// protects both book sides, the order-id counter and the last trade price.
type Exchange struct {
	mu        sync.Mutex
	bids      *bookSide
	asks      *bookSide
	byID      map[uint32]*Order
	nextID    uint32
	lastPrice account.Funds

	traders *trader.Registry
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	closer  sync.Once
	log     *logging.Logger
}

// New creates an exchange and starts its matchmaker goroutine.
func New(traders *trader.Registry) *Exchange {
	x := &Exchange{
		bids:    newBookSide(SideBuy),
		asks:    newBookSide(SideSell),
		byID:    make(map[uint32]*Order),
		nextID:  1,
		traders: traders,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     logging.GetDefault().Component("exchange"),
	}
	go x.matchmaker()
	x.log.Debug("Matchmaker starting")
	return x
}

// signal wakes the matchmaker. Wake-ups coalesce; the matchmaker always runs
// to quiescence, so one pending signal is enough.
func (x *Exchange) signal() {
	select {
	case x.wake <- struct{}{}:
	default:
	}
}

// PostBuy posts a limit buy, encumbering quantity*price from the trader's
// balance. It returns the new order id, or an error wrapping ErrRejected.
func (x *Exchange) PostBuy(t *trader.Trader, quantity account.Quantity, price account.Funds) (uint32, error) {
	if quantity == 0 || price == 0 {
		return 0, fmt.Errorf("%w: zero quantity or price", ErrRejected)
	}
	cost := uint64(quantity) * uint64(price)
	if cost > math.MaxUint32 {
		return 0, fmt.Errorf("%w: cost overflows", ErrRejected)
	}
	if !t.Account().DecreaseBalance(account.Funds(cost)) {
		return 0, fmt.Errorf("%w: insufficient funds", ErrRejected)
	}

	id := x.admit(&Order{Side: SideBuy, Remaining: quantity, Price: price, Owner: t})
	x.log.Debug("Posted", "side", SideBuy, "order", id, "quantity", quantity, "price", price, "trader", t.Name())
	return id, nil
}

// PostSell posts a limit sell, encumbering quantity from the trader's
// inventory. It returns the new order id, or an error wrapping ErrRejected.
func (x *Exchange) PostSell(t *trader.Trader, quantity account.Quantity, price account.Funds) (uint32, error) {
	if quantity == 0 || price == 0 {
		return 0, fmt.Errorf("%w: zero quantity or price", ErrRejected)
	}
	if !t.Account().DecreaseInventory(quantity) {
		return 0, fmt.Errorf("%w: insufficient inventory", ErrRejected)
	}

	id := x.admit(&Order{Side: SideSell, Remaining: quantity, Price: price, Owner: t})
	x.log.Debug("Posted", "side", SideSell, "order", id, "quantity", quantity, "price", price, "trader", t.Name())
	return id, nil
}

// admit assigns an id, takes the order's reference on its owner and enters it
// into the book, then wakes the matchmaker.
func (x *Exchange) admit(o *Order) uint32 {
	x.mu.Lock()
	o.ID = x.nextID
	x.nextID++
	o.Owner.Ref("order")
	x.side(o.Side).insert(o)
	x.byID[o.ID] = o
	x.mu.Unlock()

	x.signal()
	return o.ID
}

func (x *Exchange) side(s Side) *bookSide {
	if s == SideBuy {
		return x.bids
	}
	return x.asks
}

// Cancel removes the order with the given id if it exists and belongs to t,
// refunds its remaining encumbrance and broadcasts CANCELED. It returns the
// remaining quantity and whether the cancel happened; an order owned by
// someone else is reported the same as a missing one.
func (x *Exchange) Cancel(t *trader.Trader, id uint32) (account.Quantity, bool) {
	x.mu.Lock()
	o, ok := x.byID[id]
	if !ok || o.Owner != t {
		x.mu.Unlock()
		return 0, false
	}

	x.side(o.Side).remove(o)
	delete(x.byID, id)
	remaining := o.Remaining
	x.refund(o)
	x.mu.Unlock()

	o.Owner.Unref("cancel")
	x.log.Debug("Canceled", "order", id, "remaining", remaining, "trader", t.Name())

	notify := protocol.NotifyInfo{Quantity: remaining}
	if o.Side == SideBuy {
		notify.Buyer = id
	} else {
		notify.Seller = id
	}
	payload := notify.Encode()
	x.traders.Broadcast(protocol.NewHeader(protocol.CanceledPkt, len(payload)), payload)

	return remaining, true
}

// refund restores an order's remaining encumbrance to its owner's account.
// Called with the exchange mutex held.
func (x *Exchange) refund(o *Order) {
	acct := o.Owner.Account()
	if o.Side == SideBuy {
		x.credit(acct, o.Remaining*o.Price)
	} else {
		if !acct.IncreaseInventory(o.Remaining) {
			x.log.Error("Inventory overflow on refund", "order", o.ID, "trader", o.Owner.Name())
		}
	}
}

// credit adds funds to an account. Overflow is only possible when an account
// sits at the uint32 ceiling; the excess is forfeited loudly rather than
// wrapped.
func (x *Exchange) credit(acct *account.Account, amount account.Funds) {
	if !acct.IncreaseBalance(amount) {
		x.log.Error("Balance overflow on credit", "account", acct.Name(), "amount", amount)
	}
}

// Status reports the exchange and account state for an ACK. The order id and
// quantity fields stay zero; the connection servicer fills them in for
// BUY/SELL/CANCEL responses.
func (x *Exchange) Status(acct *account.Account) protocol.StatusInfo {
	x.mu.Lock()
	defer x.mu.Unlock()

	var s protocol.StatusInfo
	if acct != nil {
		s.Balance, s.Inventory = acct.Snapshot()
	}
	s.Bid = x.bids.bestPrice()
	s.Ask = x.asks.bestPrice()
	s.Last = x.lastPrice
	return s
}

// LastTradePrice returns the price of the most recent trade, 0 if none.
func (x *Exchange) LastTradePrice() account.Funds {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.lastPrice
}

// matchmaker runs until Close, matching the book to quiescence on each
// wake-up.
func (x *Exchange) matchmaker() {
	defer close(x.done)
	for {
		select {
		case <-x.quit:
			return
		case <-x.wake:
		}
		x.matchAll()
	}
}

// matchAll pairs crossing orders until none remain, applying each trade's
// account transfers and emitting notifications. Runs under the exchange
// mutex; sends acquire only session write locks, which is the permitted
// direction of the lock order.
func (x *Exchange) matchAll() {
	x.mu.Lock()
	defer x.mu.Unlock()

	for {
		buy := x.bids.best()
		sell := x.asks.best()
		if buy == nil || sell == nil || buy.Price < sell.Price {
			return
		}

		price := tradePrice(sell.Price, buy.Price, x.lastPrice)
		qty := min(buy.Remaining, sell.Remaining)
		buyLimit := buy.Price

		buy.Remaining -= qty
		sell.Remaining -= qty
		x.lastPrice = price

		x.credit(sell.Owner.Account(), qty*price)
		if !buy.Owner.Account().IncreaseInventory(qty) {
			x.log.Error("Inventory overflow on trade", "order", buy.ID, "trader", buy.Owner.Name())
		}
		if refundAmt := qty * (buyLimit - price); refundAmt > 0 {
			x.credit(buy.Owner.Account(), refundAmt)
		}

		x.log.Info("Trade", "buy", buy.ID, "sell", sell.ID, "quantity", qty, "price", price)

		notify := protocol.NotifyInfo{Buyer: buy.ID, Seller: sell.ID, Quantity: qty, Price: price}
		payload := notify.Encode()
		if err := buy.Owner.SendPacket(protocol.NewHeader(protocol.BoughtPkt, len(payload)), payload); err != nil {
			x.log.Debug("BOUGHT send failed", "order", buy.ID, "error", err)
		}
		if err := sell.Owner.SendPacket(protocol.NewHeader(protocol.SoldPkt, len(payload)), payload); err != nil {
			x.log.Debug("SOLD send failed", "order", sell.ID, "error", err)
		}
		x.traders.Broadcast(protocol.NewHeader(protocol.TradedPkt, len(payload)), payload)

		if buy.Remaining == 0 {
			x.bids.remove(buy)
			delete(x.byID, buy.ID)
			buy.Owner.Unref("filled")
		}
		if sell.Remaining == 0 {
			x.asks.remove(sell)
			delete(x.byID, sell.ID)
			sell.Owner.Unref("filled")
		}
	}
}

// tradePrice picks the execution price inside the [low, high] overlap: the
// midpoint when no trade has happened yet, otherwise the last trade price
// clamped into the overlap.
func tradePrice(low, high, last account.Funds) account.Funds {
	switch {
	case last == 0:
		return account.Funds((uint64(low) + uint64(high)) / 2)
	case last >= low && last <= high:
		return last
	case last < low:
		return low
	default:
		return high
	}
}

// Close stops the matchmaker, then refunds the remaining encumbrance of every
// resting order and releases its session reference, exactly as cancellation
// would.
func (x *Exchange) Close() {
	x.closer.Do(func() {
		close(x.quit)
		<-x.done

		x.mu.Lock()
		var orphans []*Order
		x.bids.each(func(o *Order) { orphans = append(orphans, o) })
		x.asks.each(func(o *Order) { orphans = append(orphans, o) })
		for _, o := range orphans {
			x.side(o.Side).remove(o)
			delete(x.byID, o.ID)
			x.refund(o)
		}
		x.mu.Unlock()

		for _, o := range orphans {
			o.Owner.Unref("exchange close")
		}
		x.log.Debug("Exchange closed", "refunded", len(orphans))
	})
}
