package engine

// TradeLog is an append-only record of executed trades. The order book is the
// sole producer, so no deduplication is performed.
type TradeLog struct {
	trades      []*Trade
	nextTradeID int64
}

func NewTradeLog() *TradeLog {
	return &TradeLog{
		trades:      make([]*Trade, 0),
		nextTradeID: 1,
	}
}

// Append assigns the next monotonic trade id and records the trade.
func (tl *TradeLog) Append(trade *Trade) {
	trade.TradeID = tl.nextTradeID
	tl.nextTradeID++
	tl.trades = append(tl.trades, trade)
}

func (tl *TradeLog) Get(index int) (*Trade, bool) {
	if index < 0 || index >= len(tl.trades) {
		return nil, false
	}
	return tl.trades[index], true
}

func (tl *TradeLog) Trades() []*Trade {
	return tl.trades
}

func (tl *TradeLog) Len() int {
	return len(tl.trades)
}
