package match

import (
	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
)

// priceUnit is one price level: a FIFO of resting orders at the same price.
type priceUnit struct {
	price     decimal.Decimal
	totalSize int64
	head      *RestingOrder
	tail      *RestingOrder
	count     int64
}

type queue struct {
	side        Side
	totalOrders int64
	depths      int64
	depthList   *skiplist.SkipList
	priceList   map[string]*skiplist.Element
	orders      map[uint64]*RestingOrder
}

// priceKey normalises a price so 10.5 and 10.50 land on the same level.
func priceKey(price decimal.Decimal) string {
	return price.String()
}

// NewBuyerQueue creates a new queue for buy orders (bids).
// The levels are sorted by price in descending order (highest price first).
func NewBuyerQueue() *queue {
	return &queue{
		side: Buy,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(decimal.Decimal)
			d2, _ := rhs.(decimal.Decimal)
			return d2.Cmp(d1)
		})),
		priceList: make(map[string]*skiplist.Element),
		orders:    make(map[uint64]*RestingOrder),
	}
}

// NewSellerQueue creates a new queue for sell orders (asks).
// The levels are sorted by price in ascending order (lowest price first).
func NewSellerQueue() *queue {
	return &queue{
		side: Sell,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(decimal.Decimal)
			d2, _ := rhs.(decimal.Decimal)
			return d1.Cmp(d2)
		})),
		priceList: make(map[string]*skiplist.Element),
		orders:    make(map[uint64]*RestingOrder),
	}
}

// insertOrder appends the order at the tail of its price level, creating the
// level when it does not exist yet.
func (q *queue) insertOrder(order *RestingOrder) {
	key := priceKey(order.Price)
	order.next = nil
	order.prev = nil

	el, ok := q.priceList[key]
	if ok {
		unit, _ := el.Value.(*priceUnit)
		order.prev = unit.tail
		if unit.tail != nil {
			unit.tail.next = order
		}
		unit.tail = order
		if unit.head == nil {
			unit.head = order
		}

		unit.totalSize += order.RemainingQuantity
		unit.count++
		q.orders[order.OrderNumber] = order
		q.totalOrders++
		return
	}

	unit := &priceUnit{
		price:     order.Price,
		head:      order,
		tail:      order,
		totalSize: order.RemainingQuantity,
		count:     1,
	}

	q.orders[order.OrderNumber] = order
	q.priceList[key] = q.depthList.Set(order.Price, unit)
	q.totalOrders++
	q.depths++
}

// removeOrder unlinks the order from its level and drops the level once it
// is empty. Returns nil if the order is not in this queue.
func (q *queue) removeOrder(orderNumber uint64) *RestingOrder {
	order, ok := q.orders[orderNumber]
	if !ok {
		return nil
	}

	key := priceKey(order.Price)
	skipElement, ok := q.priceList[key]
	if !ok {
		return nil
	}
	unit, _ := skipElement.Value.(*priceUnit)

	if order.prev != nil {
		order.prev.next = order.next
	} else {
		unit.head = order.next
	}

	if order.next != nil {
		order.next.prev = order.prev
	} else {
		unit.tail = order.prev
	}

	order.next = nil
	order.prev = nil

	unit.totalSize -= order.RemainingQuantity
	unit.count--
	delete(q.orders, orderNumber)
	q.totalOrders--

	if unit.count == 0 {
		q.depthList.RemoveElement(skipElement)
		delete(q.priceList, key)
		q.depths--
	}

	return order
}

// bestUnit returns the level at the front of the queue.
func (q *queue) bestUnit() *priceUnit {
	el := q.depthList.Front()
	if el == nil {
		return nil
	}
	unit, _ := el.Value.(*priceUnit)
	return unit
}

// bestPrice returns the price of the best level.
func (q *queue) bestPrice() (decimal.Decimal, bool) {
	unit := q.bestUnit()
	if unit == nil {
		return decimal.Zero, false
	}
	return unit.price, true
}

// popHeadAt removes and returns the oldest order resting at price.
func (q *queue) popHeadAt(price decimal.Decimal) *RestingOrder {
	el, ok := q.priceList[priceKey(price)]
	if !ok {
		return nil
	}
	unit, _ := el.Value.(*priceUnit)
	if unit.head == nil {
		return nil
	}
	return q.removeOrder(unit.head.OrderNumber)
}

// bestOrders copies the orders at the best level in FIFO order.
func (q *queue) bestOrders() []RestingOrder {
	unit := q.bestUnit()
	if unit == nil {
		return nil
	}

	result := make([]RestingOrder, 0, unit.count)
	for order := unit.head; order != nil; order = order.next {
		cpy := *order
		cpy.next = nil
		cpy.prev = nil
		result = append(result, cpy)
	}
	return result
}

// orderCount returns the total number of orders in the queue.
func (q *queue) orderCount() int64 {
	return q.totalOrders
}

// depthCount returns the number of price levels in the queue.
func (q *queue) depthCount() int64 {
	return q.depths
}

// depth returns up to limit aggregated levels, best first.
func (q *queue) depth(limit int) []PriceLevel {
	result := make([]PriceLevel, 0, min(limit, int(q.depths)))

	el := q.depthList.Front()
	for i := 0; i < limit && el != nil; i++ {
		unit, _ := el.Value.(*priceUnit)
		result = append(result, PriceLevel{
			Price:      unit.price,
			Quantity:   unit.totalSize,
			OrderCount: unit.count,
		})
		el = el.Next()
	}

	return result
}

// toSnapshot lists every resting order, level by level, preserving priority.
func (q *queue) toSnapshot() []RestingOrder {
	snapshots := make([]RestingOrder, 0, q.totalOrders)

	for elem := q.depthList.Front(); elem != nil; elem = elem.Next() {
		unit := elem.Value.(*priceUnit)
		for order := unit.head; order != nil; order = order.next {
			cpy := *order
			cpy.next = nil
			cpy.prev = nil
			snapshots = append(snapshots, cpy)
		}
	}

	return snapshots
}
