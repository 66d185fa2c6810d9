package oracle

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrFeedNotFound     = errors.New("oracle: price feed not found")
	ErrNonPositivePrice = errors.New("oracle: non-positive price")
)

// Price is a single oracle observation.
type Price struct {
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime int64
}

// PriceReader is the query surface the risk engine consumes. The feed's update
// mechanism is external; only valid, positive prices are usable.
type PriceReader interface {
	QueryPrice(feed common.Hash) (Price, error)
}

// StaticOracle serves prices from an in-memory table, set from configuration
// or by tests.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[common.Hash]Price
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[common.Hash]Price)}
}

func (o *StaticOracle) SetPrice(feed common.Hash, price Price) {
	o.mu.Lock()
	o.prices[feed] = price
	o.mu.Unlock()
}

func (o *StaticOracle) QueryPrice(feed common.Hash) (Price, error) {
	o.mu.RLock()
	price, ok := o.prices[feed]
	o.mu.RUnlock()
	if !ok {
		return Price{}, ErrFeedNotFound
	}
	return price, nil
}
