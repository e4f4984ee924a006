package engine

import (
	"fmt"
	"sort"

	"github.com/google/btree"
)

type bidLevelItem struct {
	Level *PriceLevel
}

func (p *bidLevelItem) Less(than btree.Item) bool {
	other := than.(*bidLevelItem)
	return p.Level.PriceTick > other.Level.PriceTick
}

type askLevelItem struct {
	Level *PriceLevel
}

func (p *askLevelItem) Less(than btree.Item) bool {
	other := than.(*askLevelItem)
	return p.Level.PriceTick < other.Level.PriceTick
}

// OrderBook is a price-time-priority book for a single simulated instrument.
// Bids and Asks are btrees of price levels; Min() of each tree is the best
// price on that side. An id lookup finds an order's price level in O(log P);
// removing the order from that level scans the level's FIFO slice, so cancel
// and size-up modify are also linear in the number of orders at that price.
type OrderBook struct {
	Bids     *btree.BTree
	Asks     *btree.BTree
	Orders   map[int64]*Order // active orders only
	tradeLog *TradeLog
	metrics  *Metrics // may be nil in isolated tests
	nextID   int64
}

// NewOrderBook builds an empty book. Fills are reported to metrics when a
// non-nil Metrics is supplied.
func NewOrderBook(metrics *Metrics) *OrderBook {
	return &OrderBook{
		Bids:     btree.New(32),
		Asks:     btree.New(32),
		Orders:   make(map[int64]*Order),
		tradeLog: NewTradeLog(),
		metrics:  metrics,
		nextID:   1,
	}
}

func (ob *OrderBook) TradeLog() *TradeLog {
	return ob.tradeLog
}

// AddLimitOrder matches the incoming order against resting liquidity and
// rests any residual quantity. The assigned id is always returned; an order
// that fills entirely on submission is left inactive and is not indexed.
func (ob *OrderBook) AddLimitOrder(isBuy bool, priceTick, quantity, tsUs int64) (int64, []*Trade, error) {
	if priceTick <= 0 {
		return 0, nil, &InvalidOrderError{Message: "limit order price must be positive"}
	}
	if quantity <= 0 {
		return 0, nil, &InvalidOrderError{Message: "limit order quantity must be positive"}
	}

	order := &Order{
		ID:             ob.nextID,
		IsBuy:          isBuy,
		PriceTick:      priceTick,
		Quantity:       quantity,
		IsActive:       false,
		TsCreatedUs:    tsUs,
		TsLastUpdateUs: tsUs,
	}
	ob.nextID++

	// placement is recorded before matching so instant fills find the cache entry
	if ob.metrics != nil {
		ob.metrics.OnOrderPlaced(order.ID, sideOf(isBuy), ob.metrics.MarkPriceTicks(), tsUs, quantity, false)
	}

	trades := ob.matchAggressor(order, priceTick, tsUs)

	if order.Quantity > 0 {
		order.IsActive = true
		ob.restOrder(order)
		ob.assertUncrossed()
	}

	return order.ID, trades, nil
}

// AddIOCOrder consumes opposite liquidity at progressively worse prices until
// the quantity is exhausted or the book runs dry. The remainder is discarded,
// never rested. Returns the filled quantity.
func (ob *OrderBook) AddIOCOrder(isBuy bool, quantity, tsUs int64) (int64, []*Trade, error) {
	if quantity <= 0 {
		return 0, nil, &InvalidOrderError{Message: "IOC order quantity must be positive"}
	}

	order := &Order{
		ID:             ob.nextID,
		IsBuy:          isBuy,
		Quantity:       quantity,
		IsActive:       false,
		TsCreatedUs:    tsUs,
		TsLastUpdateUs: tsUs,
	}
	ob.nextID++

	if ob.metrics != nil {
		ob.metrics.OnOrderPlaced(order.ID, sideOf(isBuy), ob.metrics.MarkPriceTicks(), tsUs, quantity, true)
	}

	// edge case: no price limit, so the IOC walks every opposite level
	var limit int64
	if isBuy {
		limit = int64(^uint64(0) >> 1)
	}
	trades := ob.matchAggressor(order, limit, tsUs)

	return quantity - order.Quantity, trades, nil
}

// matchAggressor walks the opposite side while the aggressor's limit crosses
// the best resting price, filling FIFO at the resting order's price.
func (ob *OrderBook) matchAggressor(order *Order, limitTick, tsUs int64) []*Trade {
	trades := make([]*Trade, 0)

	for order.Quantity > 0 {
		var item btree.Item
		if order.IsBuy {
			item = ob.Asks.Min()
		} else {
			item = ob.Bids.Min()
		}
		if item == nil {
			break
		}

		var level *PriceLevel
		if order.IsBuy {
			level = item.(*askLevelItem).Level
			if limitTick < level.PriceTick {
				break
			}
		} else {
			level = item.(*bidLevelItem).Level
			if limitTick > level.PriceTick {
				break
			}
		}

		for order.Quantity > 0 && len(level.Orders) > 0 {
			resting := level.Orders[0]

			execQty := order.Quantity
			if execQty > resting.Quantity {
				execQty = resting.Quantity
			}

			trade := &Trade{
				PriceTick:   level.PriceTick,
				Quantity:    execQty,
				TimestampUs: tsUs,
				WasInstant:  true,
			}
			if order.IsBuy {
				trade.BuyOrderID = order.ID
				trade.SellOrderID = resting.ID
			} else {
				trade.BuyOrderID = resting.ID
				trade.SellOrderID = order.ID
			}
			ob.tradeLog.Append(trade)
			trades = append(trades, trade)

			order.Quantity -= execQty
			resting.Quantity -= execQty
			resting.TsLastUpdateUs = tsUs

			if ob.metrics != nil {
				ob.metrics.OnFill(resting.ID, execQty, trade.PriceTick, true, tsUs)
				ob.metrics.OnFill(order.ID, execQty, trade.PriceTick, false, tsUs)
			}

			if resting.Quantity == 0 {
				resting.IsActive = false
				level.Orders = level.Orders[1:]
				delete(ob.Orders, resting.ID)
			}
		}

		// edge case: remove exhausted price level before probing the next one
		if len(level.Orders) == 0 {
			if order.IsBuy {
				ob.Asks.Delete(&askLevelItem{Level: level})
			} else {
				ob.Bids.Delete(&bidLevelItem{Level: level})
			}
		}
	}

	return trades
}

func (ob *OrderBook) restOrder(order *Order) {
	ob.Orders[order.ID] = order

	if order.IsBuy {
		probe := &bidLevelItem{Level: &PriceLevel{PriceTick: order.PriceTick}}
		if existing := ob.Bids.Get(probe); existing != nil {
			level := existing.(*bidLevelItem).Level
			level.Orders = append(level.Orders, order)
			return
		}
		level := &PriceLevel{PriceTick: order.PriceTick, Orders: []*Order{order}}
		ob.Bids.ReplaceOrInsert(&bidLevelItem{Level: level})
		return
	}

	probe := &askLevelItem{Level: &PriceLevel{PriceTick: order.PriceTick}}
	if existing := ob.Asks.Get(probe); existing != nil {
		level := existing.(*askLevelItem).Level
		level.Orders = append(level.Orders, order)
		return
	}
	level := &PriceLevel{PriceTick: order.PriceTick, Orders: []*Order{order}}
	ob.Asks.ReplaceOrInsert(&askLevelItem{Level: level})
}

// CancelOrder removes an active order. Unknown or already inactive ids return
// false and leave the book unchanged.
func (ob *OrderBook) CancelOrder(orderID int64) bool {
	order, ok := ob.Orders[orderID]
	if !ok {
		return false
	}

	remaining := order.Quantity
	ob.removeFromLevel(order)
	delete(ob.Orders, orderID)
	order.IsActive = false

	if ob.metrics != nil {
		ob.metrics.OnOrderCancelled(orderID, remaining)
	}
	return true
}

func (ob *OrderBook) removeFromLevel(order *Order) {
	var level *PriceLevel
	if order.IsBuy {
		item := ob.Bids.Get(&bidLevelItem{Level: &PriceLevel{PriceTick: order.PriceTick}})
		if item == nil {
			panic(fmt.Sprintf("orderbook: active order %d missing from bid level %d", order.ID, order.PriceTick))
		}
		level = item.(*bidLevelItem).Level
	} else {
		item := ob.Asks.Get(&askLevelItem{Level: &PriceLevel{PriceTick: order.PriceTick}})
		if item == nil {
			panic(fmt.Sprintf("orderbook: active order %d missing from ask level %d", order.ID, order.PriceTick))
		}
		level = item.(*askLevelItem).Level
	}

	for i, o := range level.Orders {
		if o.ID == order.ID {
			level.Orders = append(level.Orders[:i], level.Orders[i+1:]...)
			break
		}
	}

	if len(level.Orders) == 0 {
		if order.IsBuy {
			ob.Bids.Delete(&bidLevelItem{Level: level})
		} else {
			ob.Asks.Delete(&askLevelItem{Level: level})
		}
	}
}

// ModifyOrder resets the quantity of an active order. Reducing keeps time
// priority in place; increasing re-queues the order at the back of its level.
// Unknown or inactive ids return false.
func (ob *OrderBook) ModifyOrder(orderID, newQuantity, tsUs int64) (bool, error) {
	if newQuantity <= 0 {
		return false, &InvalidOrderError{Message: "modified quantity must be positive"}
	}

	order, ok := ob.Orders[orderID]
	if !ok {
		return false, nil
	}

	if newQuantity > order.Quantity {
		// edge case: size-up loses time priority, so re-queue at the back
		ob.removeFromLevel(order)
		order.Quantity = newQuantity
		order.TsLastUpdateUs = tsUs
		if order.IsBuy {
			probe := &bidLevelItem{Level: &PriceLevel{PriceTick: order.PriceTick}}
			if existing := ob.Bids.Get(probe); existing != nil {
				level := existing.(*bidLevelItem).Level
				level.Orders = append(level.Orders, order)
			} else {
				level := &PriceLevel{PriceTick: order.PriceTick, Orders: []*Order{order}}
				ob.Bids.ReplaceOrInsert(&bidLevelItem{Level: level})
			}
		} else {
			probe := &askLevelItem{Level: &PriceLevel{PriceTick: order.PriceTick}}
			if existing := ob.Asks.Get(probe); existing != nil {
				level := existing.(*askLevelItem).Level
				level.Orders = append(level.Orders, order)
			} else {
				level := &PriceLevel{PriceTick: order.PriceTick, Orders: []*Order{order}}
				ob.Asks.ReplaceOrInsert(&askLevelItem{Level: level})
			}
		}
		return true, nil
	}

	order.Quantity = newQuantity
	order.TsLastUpdateUs = tsUs
	return true, nil
}

// FillResting executes a simulated fill against an active order at its own
// price, consuming the whole remaining quantity. The counterparty order id is
// zero: the other side is the synthetic market, not a resting order.
func (ob *OrderBook) FillResting(orderID, tsUs int64) (*Trade, bool) {
	order, ok := ob.Orders[orderID]
	if !ok {
		return nil, false
	}

	trade := &Trade{
		PriceTick:   order.PriceTick,
		Quantity:    order.Quantity,
		TimestampUs: tsUs,
		WasInstant:  false,
	}
	if order.IsBuy {
		trade.BuyOrderID = order.ID
	} else {
		trade.SellOrderID = order.ID
	}
	ob.tradeLog.Append(trade)

	qty := order.Quantity
	order.Quantity = 0
	ob.removeFromLevel(order)
	delete(ob.Orders, orderID)
	order.IsActive = false

	if ob.metrics != nil {
		ob.metrics.OnFill(orderID, qty, trade.PriceTick, true, tsUs)
	}

	return trade, true
}

func (ob *OrderBook) GetOrder(orderID int64) (*Order, bool) {
	order, ok := ob.Orders[orderID]
	return order, ok
}

// ActiveOrderIDs returns the ids of all resting orders in ascending order.
// The deterministic ordering matters: the market engine consumes PRNG draws
// while scanning, so iteration order is part of the reproducibility contract.
func (ob *OrderBook) ActiveOrderIDs() []int64 {
	ids := make([]int64, 0, len(ob.Orders))
	for id := range ob.Orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (ob *OrderBook) BestBid() (price int64, quantity int64, ok bool) {
	item := ob.Bids.Min()
	if item == nil {
		return 0, 0, false
	}
	level := item.(*bidLevelItem).Level
	return level.PriceTick, level.TotalQuantity(), true
}

func (ob *OrderBook) BestAsk() (price int64, quantity int64, ok bool) {
	item := ob.Asks.Min()
	if item == nil {
		return 0, 0, false
	}
	level := item.(*askLevelItem).Level
	return level.PriceTick, level.TotalQuantity(), true
}

// Mid returns the integer mid price when both sides are populated.
func (ob *OrderBook) Mid() (int64, bool) {
	bid, _, hasBid := ob.BestBid()
	ask, _, hasAsk := ob.BestAsk()
	if !hasBid || !hasAsk {
		return 0, false
	}
	return (bid + ask) / 2, true
}

func (ob *OrderBook) BidLevel(priceTick int64) *PriceLevel {
	item := ob.Bids.Get(&bidLevelItem{Level: &PriceLevel{PriceTick: priceTick}})
	if item == nil {
		return nil
	}
	return item.(*bidLevelItem).Level
}

func (ob *OrderBook) AskLevel(priceTick int64) *PriceLevel {
	item := ob.Asks.Get(&askLevelItem{Level: &PriceLevel{PriceTick: priceTick}})
	if item == nil {
		return nil
	}
	return item.(*askLevelItem).Level
}

type LevelSnapshot struct {
	PriceTick int64
	Quantity  int64
}

// Snapshot returns up to depth aggregated levels per side, best first.
func (ob *OrderBook) Snapshot(depth int) (bids []LevelSnapshot, asks []LevelSnapshot) {
	bids = make([]LevelSnapshot, 0, depth)
	asks = make([]LevelSnapshot, 0, depth)

	count := 0
	ob.Bids.Ascend(func(item btree.Item) bool {
		if count >= depth {
			return false
		}
		level := item.(*bidLevelItem).Level
		bids = append(bids, LevelSnapshot{PriceTick: level.PriceTick, Quantity: level.TotalQuantity()})
		count++
		return true
	})

	count = 0
	ob.Asks.Ascend(func(item btree.Item) bool {
		if count >= depth {
			return false
		}
		level := item.(*askLevelItem).Level
		asks = append(asks, LevelSnapshot{PriceTick: level.PriceTick, Quantity: level.TotalQuantity()})
		count++
		return true
	})

	return bids, asks
}

// assertUncrossed terminates the simulation when matching has left the book
// crossed: downstream statistics would be meaningless past this point.
func (ob *OrderBook) assertUncrossed() {
	bid, _, hasBid := ob.BestBid()
	ask, _, hasAsk := ob.BestAsk()
	if hasBid && hasAsk && bid >= ask {
		panic(fmt.Sprintf("orderbook: crossed book, best bid %d >= best ask %d", bid, ask))
	}
}
