// Package exchange matches orders against the persisted book with
// price-time priority. All mutation of a single player's book happens
// under that player's mutex; cross-player activity runs concurrently.
package exchange

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"sportfolio/internal/store"
)

var (
	ErrInvalidOrder   = errors.New("invalid order")
	ErrPlayerInactive = errors.New("player is not tradable")
	ErrNoLiquidity    = errors.New("no resting orders on the opposite side")
	ErrNotYourOrder   = errors.New("order belongs to another user")
)

// MaxOrderQuantity bounds a single order.
const MaxOrderQuantity = 100000

// Broadcaster pushes market events to connected clients. Implementations
// must not block.
type Broadcaster interface {
	TradeExecuted(t *store.Trade)
	BookUpdated(playerID int64)
}

// NopBroadcaster drops all events. Used by tests and batch jobs.
type NopBroadcaster struct{}

func (NopBroadcaster) TradeExecuted(*store.Trade) {}
func (NopBroadcaster) BookUpdated(int64)          {}

// Engine is the matching engine. Safe for concurrent use.
type Engine struct {
	store *store.Store
	log   *logrus.Logger
	bcast Broadcaster

	mu    sync.Mutex
	books map[int64]*sync.Mutex
}

func New(st *store.Store, log *logrus.Logger, b Broadcaster) *Engine {
	if b == nil {
		b = NopBroadcaster{}
	}
	return &Engine{
		store: st,
		log:   log,
		bcast: b,
		books: make(map[int64]*sync.Mutex),
	}
}

// bookLock returns the mutex serializing one player's book.
func (e *Engine) bookLock(playerID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.books[playerID]
	if !ok {
		m = &sync.Mutex{}
		e.books[playerID] = m
	}
	return m
}

func opposite(side string) string {
	if side == store.SideBuy {
		return store.SideSell
	}
	return store.SideBuy
}

func validateSide(side string) error {
	if side != store.SideBuy && side != store.SideSell {
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, side)
	}
	return nil
}

func (e *Engine) checkPlayer(playerID int64) error {
	p, err := e.store.GetPlayer(playerID)
	if err != nil {
		return err
	}
	if !p.IsActive {
		return ErrPlayerInactive
	}
	return nil
}

// PlaceLimitOrder books a limit order, matches it against the opposite
// side, and returns the order plus any trades it produced. Fills execute
// at the resting order's limit price.
func (e *Engine) PlaceLimitOrder(userID string, playerID int64, side string, quantity, limitPrice int64) (*store.Order, []*store.Trade, error) {
	if err := validateSide(side); err != nil {
		return nil, nil, err
	}
	if quantity <= 0 || quantity > MaxOrderQuantity {
		return nil, nil, fmt.Errorf("%w: quantity %d", ErrInvalidOrder, quantity)
	}
	if limitPrice <= 0 {
		return nil, nil, fmt.Errorf("%w: limit price %d", ErrInvalidOrder, limitPrice)
	}
	if err := e.checkPlayer(playerID); err != nil {
		return nil, nil, err
	}

	lock := e.bookLock(playerID)
	lock.Lock()
	defer lock.Unlock()

	order := &store.Order{
		ID:         uuid.New().String(),
		UserID:     userID,
		PlayerID:   playerID,
		Side:       side,
		OrderType:  store.TypeLimit,
		Quantity:   quantity,
		LimitPrice: nullInt64(limitPrice),
	}
	if err := e.store.InsertOrder(order, limitPrice); err != nil {
		return nil, nil, err
	}

	trades, err := e.match(order, limitPrice)
	if err != nil {
		return order, trades, err
	}

	e.bcast.BookUpdated(playerID)
	return order, trades, nil
}

// match crosses an incoming limit order against the book until prices no
// longer cross or the order fills.
func (e *Engine) match(incoming *store.Order, buyLockPrice int64) ([]*store.Trade, error) {
	var trades []*store.Trade
	for incoming.Remaining() > 0 {
		resting, err := e.store.BestRestingOrder(incoming.PlayerID, opposite(incoming.Side))
		if err != nil {
			return trades, err
		}
		if resting == nil {
			break
		}

		limit := incoming.LimitPrice.Int64
		restingPrice := resting.LimitPrice.Int64
		if incoming.Side == store.SideBuy && restingPrice > limit {
			break
		}
		if incoming.Side == store.SideSell && restingPrice < limit {
			break
		}

		trade, err := e.cross(incoming, resting, restingPrice, buyLockPrice)
		if err != nil {
			return trades, err
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// cross fills the overlap of an incoming and a resting order at the
// resting price and broadcasts the trade.
func (e *Engine) cross(incoming, resting *store.Order, price, incomingBuyLockPrice int64) (*store.Trade, error) {
	qty := incoming.Remaining()
	if r := resting.Remaining(); r < qty {
		qty = r
	}

	fill := store.Fill{Quantity: qty, Price: price}
	if incoming.Side == store.SideBuy {
		fill.BuyOrder = incoming
		fill.SellOrder = resting
		fill.BuyLockPrice = incomingBuyLockPrice
	} else {
		fill.BuyOrder = resting
		fill.SellOrder = incoming
		fill.BuyLockPrice = resting.LimitPrice.Int64
	}

	trade, err := e.store.ExecuteFill(fill)
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"player":   trade.PlayerID,
		"quantity": trade.Quantity,
		"price":    trade.Price,
	}).Debug("trade executed")
	e.bcast.TradeExecuted(trade)
	return trade, nil
}

// MarketOrderResult reports how a market order resolved.
type MarketOrderResult struct {
	Order             *store.Order    `json:"order"`
	RequestedQuantity int64           `json:"requestedQuantity"`
	FilledQuantity    int64           `json:"filledQuantity"`
	CancelledQuantity int64           `json:"cancelledQuantity"`
	AvgFillPrice      decimal.Decimal `json:"avgFillPrice"` // cents
	TotalCost         int64           `json:"totalCost"`    // cents
	Trades            []*store.Trade  `json:"trades"`
}

// PlaceMarketOrder fills immediately against the book. Quantity beyond
// resting depth is cancelled, never left resting. Buys reserve cash at the
// worst resting ask so partial walks can always settle.
func (e *Engine) PlaceMarketOrder(userID string, playerID int64, side string, quantity int64) (*MarketOrderResult, error) {
	if err := validateSide(side); err != nil {
		return nil, err
	}
	if quantity <= 0 || quantity > MaxOrderQuantity {
		return nil, fmt.Errorf("%w: quantity %d", ErrInvalidOrder, quantity)
	}
	if err := e.checkPlayer(playerID); err != nil {
		return nil, err
	}

	lock := e.bookLock(playerID)
	lock.Lock()
	defer lock.Unlock()

	depth, worstPrice, err := e.store.RestingDepth(playerID, opposite(side))
	if err != nil {
		return nil, err
	}
	if depth == 0 {
		return nil, ErrNoLiquidity
	}

	// Only the fillable portion is booked; the rest is cancelled up front.
	fillable := quantity
	if depth < fillable {
		fillable = depth
	}

	lockPrice := worstPrice
	order := &store.Order{
		ID:        uuid.New().String(),
		UserID:    userID,
		PlayerID:  playerID,
		Side:      side,
		OrderType: store.TypeMarket,
		Quantity:  fillable,
	}
	if err := e.store.InsertOrder(order, lockPrice); err != nil {
		return nil, err
	}

	var trades []*store.Trade
	for order.Remaining() > 0 {
		resting, err := e.store.BestRestingOrder(playerID, opposite(side))
		if err != nil {
			return nil, err
		}
		if resting == nil {
			break
		}
		trade, err := e.cross(order, resting, resting.LimitPrice.Int64, lockPrice)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}

	// Depth can shrink between the pre-check and the walk; finalize
	// whatever is left either way.
	if err := e.store.CancelResidual(order.ID); err != nil {
		return nil, err
	}

	result := &MarketOrderResult{
		Order:             order,
		RequestedQuantity: quantity,
		Trades:            trades,
	}
	for _, t := range trades {
		result.FilledQuantity += t.Quantity
		result.TotalCost += t.Quantity * t.Price
	}
	result.CancelledQuantity = quantity - result.FilledQuantity
	if result.FilledQuantity > 0 {
		result.AvgFillPrice = decimal.NewFromInt(result.TotalCost).
			DivRound(decimal.NewFromInt(result.FilledQuantity), 4)
	}

	e.bcast.BookUpdated(playerID)
	return result, nil
}

// CancelOrder cancels a user's own resting order and releases its
// reservation.
func (e *Engine) CancelOrder(userID, orderID string) (*store.Order, error) {
	o, err := e.store.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotYourOrder
	}

	lock := e.bookLock(o.PlayerID)
	lock.Lock()
	defer lock.Unlock()

	cancelled, err := e.store.CancelOrder(orderID)
	if err != nil {
		return nil, err
	}
	e.bcast.BookUpdated(o.PlayerID)
	return cancelled, nil
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}
