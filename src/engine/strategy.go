package engine

import (
	"container/heap"
	"math/rand"
	"sort"
)

type State int

const (
	WaitingToBuy  State = 0
	WaitingToSell State = 1
	Balanced      State = 2
)

func (s State) String() string {
	switch s {
	case WaitingToBuy:
		return "WAITING_TO_BUY"
	case WaitingToSell:
		return "WAITING_TO_SELL"
	default:
		return "BALANCED"
	}
}

// PongLeg is a pending offsetting quote created when a ping fills. The order
// id is zero until the deferred send executes.
type PongLeg struct {
	PriceTick int64
	OrderID   int64
	Quantity  int64
}

// buy-pongs pop cheapest first, sell-pongs pop dearest first
type pongHeap struct {
	legs []PongLeg
	min  bool
}

func (h *pongHeap) Len() int { return len(h.legs) }

func (h *pongHeap) Less(i, j int) bool {
	if h.min {
		return h.legs[i].PriceTick < h.legs[j].PriceTick
	}
	return h.legs[i].PriceTick > h.legs[j].PriceTick
}

func (h *pongHeap) Swap(i, j int) { h.legs[i], h.legs[j] = h.legs[j], h.legs[i] }

func (h *pongHeap) Push(x any) { h.legs = append(h.legs, x.(PongLeg)) }

func (h *pongHeap) Pop() any {
	n := len(h.legs)
	leg := h.legs[n-1]
	h.legs = h.legs[:n-1]
	return leg
}

// Strategy is the ping-pong quoting state machine. It quotes both sides of
// the mid, and when a ping fills it schedules an offsetting pong two offsets
// away to capture the spread. Every book action goes through the latency
// queue.
type Strategy struct {
	metrics *Metrics
	book    *OrderBook
	latency *LatencyQueue

	quoteSize                 int64
	tickOffset                int64
	maxInventory              int64
	cancelThresholdTicks      int64
	cooldownBetweenRequotesUs int64

	state                   State
	activeBuyOrderID        int64
	activeSellOrderID       int64
	lastPingedMidPriceTicks int64
	lastQuoteTimeUs         int64
	currentMarketPriceTicks int64

	// a scheduled ping that has not executed yet suppresses duplicate sends
	pendingBuyPing  bool
	pendingSellPing bool

	buyPongs   pongHeap
	sellPongs  pongHeap
	pongOrders map[int64]bool
}

func NewStrategy(metrics *Metrics, book *OrderBook, rng *rand.Rand,
	quoteSize, tickOffset, maxInventory, cancelThresholdTicks, cooldownBetweenRequotesUs int64) *Strategy {
	s := &Strategy{
		metrics:                   metrics,
		book:                      book,
		latency:                   NewLatencyQueue(rng),
		quoteSize:                 quoteSize,
		tickOffset:                tickOffset,
		maxInventory:              maxInventory,
		cancelThresholdTicks:      cancelThresholdTicks,
		cooldownBetweenRequotesUs: cooldownBetweenRequotesUs,
		state:                     Balanced,
		buyPongs:                  pongHeap{min: true},
		sellPongs:                 pongHeap{min: false},
		pongOrders:                make(map[int64]bool),
	}
	heap.Init(&s.buyPongs)
	heap.Init(&s.sellPongs)
	return s
}

// OnMarketUpdate runs the per-tick quoting logic: cooldown gate, stale-quote
// cancels, then inventory-capped requotes around the mid.
func (s *Strategy) OnMarketUpdate(tsUs, marketPriceTicks int64) {
	s.currentMarketPriceTicks = marketPriceTicks

	if tsUs-s.lastQuoteTimeUs < s.cooldownBetweenRequotesUs {
		s.refreshState()
		return
	}

	mid, ok := s.book.Mid()
	if !ok {
		mid = marketPriceTicks
	}

	s.cancelStaleQuotes(mid, tsUs)
	quoted := s.requote(mid, tsUs)
	if quoted {
		s.lastPingedMidPriceTicks = mid
		s.lastQuoteTimeUs = tsUs
	}
	s.refreshState()
}

func (s *Strategy) cancelStaleQuotes(mid, tsUs int64) {
	for _, id := range []int64{s.activeBuyOrderID, s.activeSellOrderID} {
		if id == 0 {
			continue
		}
		order, ok := s.book.GetOrder(id)
		if !ok {
			continue
		}
		if absInt64(mid-order.PriceTick) > s.cancelThresholdTicks {
			s.latency.Schedule(Action{Type: ActionCancel, OrderID: id}, tsUs)
		}
	}
}

func (s *Strategy) requote(mid, tsUs int64) bool {
	quoted := false
	position := s.metrics.Position

	if s.activeBuyOrderID == 0 && !s.pendingBuyPing && position > -s.maxInventory {
		size := s.quoteSize
		if room := s.maxInventory + position; room < size {
			size = room
		}
		price := mid - s.tickOffset
		if size > 0 && price > 0 {
			s.latency.Schedule(Action{Type: ActionOrderSend, IsBuy: true, PriceTick: price, Quantity: size}, tsUs)
			s.pendingBuyPing = true
			quoted = true
		}
	}

	if s.activeSellOrderID == 0 && !s.pendingSellPing && position < s.maxInventory {
		size := s.quoteSize
		if room := s.maxInventory - position; room < size {
			size = room
		}
		price := mid + s.tickOffset
		if size > 0 && price > 0 {
			s.latency.Schedule(Action{Type: ActionOrderSend, IsBuy: false, PriceTick: price, Quantity: size}, tsUs)
			s.pendingSellPing = true
			quoted = true
		}
	}

	return quoted
}

// OnFill reacts to an execution touching one of the strategy's orders. A ping
// fill enqueues the opposite-side pong at filled price +/- twice the offset;
// a pong fill just retires its bookkeeping entry.
func (s *Strategy) OnFill(trade *Trade) {
	if trade.BuyOrderID != 0 {
		s.onSideFill(trade.BuyOrderID, true, trade)
	}
	if trade.SellOrderID != 0 {
		s.onSideFill(trade.SellOrderID, false, trade)
	}
	s.refreshState()
}

func (s *Strategy) onSideFill(orderID int64, isBuy bool, trade *Trade) {
	switch {
	case isBuy && orderID == s.activeBuyOrderID:
		s.activeBuyOrderID = 0
		pongPrice := trade.PriceTick + 2*s.tickOffset
		heap.Push(&s.sellPongs, PongLeg{PriceTick: pongPrice, Quantity: trade.Quantity})
		s.latency.Schedule(Action{Type: ActionOrderSend, IsBuy: false, PriceTick: pongPrice, Quantity: trade.Quantity, IsPong: true}, trade.TimestampUs)
	case !isBuy && orderID == s.activeSellOrderID:
		s.activeSellOrderID = 0
		pongPrice := trade.PriceTick - 2*s.tickOffset
		// edge case: a pong below one tick cannot be quoted; fall back to one tick
		if pongPrice <= 0 {
			pongPrice = 1
		}
		heap.Push(&s.buyPongs, PongLeg{PriceTick: pongPrice, Quantity: trade.Quantity})
		s.latency.Schedule(Action{Type: ActionOrderSend, IsBuy: true, PriceTick: pongPrice, Quantity: trade.Quantity, IsPong: true}, trade.TimestampUs)
	case s.pongOrders[orderID]:
		delete(s.pongOrders, orderID)
		s.pruneDeadPongs()
	}
}

// pruneDeadPongs drops heap entries whose order ids are no longer live.
// Removal is lazy: entries are only verified when they reach the top.
func (s *Strategy) pruneDeadPongs() {
	for s.buyPongs.Len() > 0 {
		top := s.buyPongs.legs[0]
		if top.OrderID == 0 || s.pongOrders[top.OrderID] {
			break
		}
		heap.Pop(&s.buyPongs)
	}
	for s.sellPongs.Len() > 0 {
		top := s.sellPongs.legs[0]
		if top.OrderID == 0 || s.pongOrders[top.OrderID] {
			break
		}
		heap.Pop(&s.sellPongs)
	}
}

// ExecuteLatencyQueue drains every action due at or before tsUs, applying it
// to the order book.
func (s *Strategy) ExecuteLatencyQueue(tsUs int64) {
	s.latency.ProcessUntil(tsUs, func(a Action) {
		switch a.Type {
		case ActionOrderSend:
			s.executeSend(a, tsUs)
		case ActionCancel:
			if s.book.CancelOrder(a.OrderID) {
				if a.OrderID == s.activeBuyOrderID {
					s.activeBuyOrderID = 0
				}
				if a.OrderID == s.activeSellOrderID {
					s.activeSellOrderID = 0
				}
				if s.pongOrders[a.OrderID] {
					delete(s.pongOrders, a.OrderID)
					s.pruneDeadPongs()
				}
			}
		case ActionModify:
			_, _ = s.book.ModifyOrder(a.OrderID, a.Quantity, tsUs)
		case ActionAcknowledgeFill, ActionMarketUpdate:
			// internal notification slots, no book side effects
		}
	})
	s.refreshState()
}

func (s *Strategy) executeSend(a Action, tsUs int64) {
	id, trades, err := s.book.AddLimitOrder(a.IsBuy, a.PriceTick, a.Quantity, tsUs)
	if err != nil {
		return
	}

	if a.IsPong {
		s.pongOrders[id] = true
		s.adoptPongID(a.IsBuy, a.PriceTick, id)
	} else if a.IsBuy {
		s.pendingBuyPing = false
		s.activeBuyOrderID = id
	} else {
		s.pendingSellPing = false
		s.activeSellOrderID = id
	}

	for _, trade := range trades {
		s.OnFill(trade)
	}
}

// adoptPongID attaches the assigned order id to the queued leg that was
// pushed when the ping filled.
func (s *Strategy) adoptPongID(isBuy bool, priceTick, id int64) {
	h := &s.sellPongs
	if isBuy {
		h = &s.buyPongs
	}
	for i := range h.legs {
		if h.legs[i].OrderID == 0 && h.legs[i].PriceTick == priceTick {
			h.legs[i].OrderID = id
			return
		}
	}
}

func (s *Strategy) refreshState() {
	buyLive := s.activeBuyOrderID != 0
	sellLive := s.activeSellOrderID != 0
	switch {
	case buyLive && !sellLive:
		s.state = WaitingToBuy
	case sellLive && !buyLive:
		s.state = WaitingToSell
	default:
		s.state = Balanced
	}
}

// ----- market state getters -----

func (s *Strategy) GetBestBidTicks() (int64, bool) {
	price, _, ok := s.book.BestBid()
	return price, ok
}

func (s *Strategy) GetBestAskTicks() (int64, bool) {
	price, _, ok := s.book.BestAsk()
	return price, ok
}

func (s *Strategy) GetMidPriceTicks() int64 {
	if mid, ok := s.book.Mid(); ok {
		return mid
	}
	return s.currentMarketPriceTicks
}

func (s *Strategy) GetCurrentMarketPriceTicks() int64 { return s.currentMarketPriceTicks }

func (s *Strategy) GetSpreadTicks() int64 {
	bid, _, hasBid := s.book.BestBid()
	ask, _, hasAsk := s.book.BestAsk()
	if !hasBid || !hasAsk {
		return 0
	}
	return ask - bid
}

func (s *Strategy) GetCurrentInventory() int64 { return s.metrics.Position }

// ----- parameter getters and setters -----

func (s *Strategy) GetQuoteSize() int64                { return s.quoteSize }
func (s *Strategy) GetTickOffsetFromMid() int64        { return s.tickOffset }
func (s *Strategy) GetMaxInventory() int64             { return s.maxInventory }
func (s *Strategy) GetCancelThresholdTicks() int64     { return s.cancelThresholdTicks }
func (s *Strategy) GetCooldownBetweenRequotes() int64  { return s.cooldownBetweenRequotesUs }
func (s *Strategy) SetQuoteSize(v int64)               { s.quoteSize = v }
func (s *Strategy) SetTickOffsetFromMid(v int64)       { s.tickOffset = v }
func (s *Strategy) SetMaxInventory(v int64)            { s.maxInventory = v }
func (s *Strategy) SetCancelThresholdTicks(v int64)    { s.cancelThresholdTicks = v }
func (s *Strategy) SetCooldownBetweenRequotes(v int64) { s.cooldownBetweenRequotesUs = v }
func (s *Strategy) SetActiveBuyOrderID(v int64)        { s.activeBuyOrderID = v }
func (s *Strategy) SetActiveSellOrderID(v int64)       { s.activeSellOrderID = v }
func (s *Strategy) SetLastPingedMidPriceTicks(v int64) { s.lastPingedMidPriceTicks = v }
func (s *Strategy) SetLastQuoteTimeUs(v int64)         { s.lastQuoteTimeUs = v }
func (s *Strategy) SetState(v State)                   { s.state = v }

// ----- order state getters -----

func (s *Strategy) GetActiveBuyOrderID() int64        { return s.activeBuyOrderID }
func (s *Strategy) GetActiveSellOrderID() int64       { return s.activeSellOrderID }
func (s *Strategy) GetLastPingedMidPriceTicks() int64 { return s.lastPingedMidPriceTicks }
func (s *Strategy) GetLastQuoteTimeUs() int64         { return s.lastQuoteTimeUs }
func (s *Strategy) GetState() State                   { return s.state }

func (s *Strategy) GetMetrics() *Metrics           { return s.metrics }
func (s *Strategy) GetLatencyQueue() *LatencyQueue { return s.latency }

// GetActiveBuyOrderData fails with a missing-entity error when no buy ping is
// live; callers should check GetActiveBuyOrderID first.
func (s *Strategy) GetActiveBuyOrderData() (*Order, error) {
	if s.activeBuyOrderID == 0 {
		return nil, &UnknownOrderError{OrderID: 0}
	}
	order, ok := s.book.GetOrder(s.activeBuyOrderID)
	if !ok {
		return nil, &UnknownOrderError{OrderID: s.activeBuyOrderID}
	}
	return order, nil
}

func (s *Strategy) GetActiveSellOrderData() (*Order, error) {
	if s.activeSellOrderID == 0 {
		return nil, &UnknownOrderError{OrderID: 0}
	}
	order, ok := s.book.GetOrder(s.activeSellOrderID)
	if !ok {
		return nil, &UnknownOrderError{OrderID: s.activeSellOrderID}
	}
	return order, nil
}

// GetBuyPongs returns the pending buy pong legs, cheapest first.
func (s *Strategy) GetBuyPongs() []PongLeg {
	legs := append([]PongLeg(nil), s.buyPongs.legs...)
	sort.Slice(legs, func(i, j int) bool { return legs[i].PriceTick < legs[j].PriceTick })
	return legs
}

// GetSellPongs returns the pending sell pong legs, dearest first.
func (s *Strategy) GetSellPongs() []PongLeg {
	legs := append([]PongLeg(nil), s.sellPongs.legs...)
	sort.Slice(legs, func(i, j int) bool { return legs[i].PriceTick > legs[j].PriceTick })
	return legs
}

// SetLatencyConfig configures all ten latency bounds atomically.
func (s *Strategy) SetLatencyConfig(
	orderSendMin, orderSendMax,
	cancelMin, cancelMax,
	modifyMin, modifyMax,
	acknowledgeFillMin, acknowledgeFillMax,
	marketUpdateMin, marketUpdateMax int64,
) error {
	return s.latency.ResetLatencyProfile(
		orderSendMin, orderSendMax,
		cancelMin, cancelMax,
		modifyMin, modifyMax,
		acknowledgeFillMin, acknowledgeFillMax,
		marketUpdateMin, marketUpdateMax,
	)
}
