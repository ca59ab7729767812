// Package broker provides TD Ameritrade connectivity for the delta roller:
// position/order/quote/chain retrieval and custom order submission. The
// decision core consumes it only through the Broker interface.
package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tmacey/delta-roller/internal/orders"
)

// Instrument describes the security behind a position or order leg.
type Instrument struct {
	AssetType        string `json:"assetType"`
	Symbol           string `json:"symbol"`
	UnderlyingSymbol string `json:"underlyingSymbol,omitempty"`
	PutCall          string `json:"putCall,omitempty"`
}

// Position is one raw account position as TDA reports it.
type Position struct {
	Instrument    Instrument `json:"instrument"`
	LongQuantity  float64    `json:"longQuantity"`
	ShortQuantity float64    `json:"shortQuantity"`
	AveragePrice  float64    `json:"averagePrice"`
	MarketValue   float64    `json:"marketValue"`
}

// OrderLeg is one line of a raw order's leg collection.
type OrderLeg struct {
	OrderLegType string     `json:"orderLegType"`
	Instruction  string     `json:"instruction"`
	Quantity     float64    `json:"quantity"`
	Instrument   Instrument `json:"instrument"`
}

// Order is one raw account order as TDA reports it.
type Order struct {
	OrderID            int64      `json:"orderId"`
	Status             string     `json:"status"`
	EnteredTime        string     `json:"enteredTime,omitempty"`
	CloseTime          string     `json:"closeTime,omitempty"`
	OrderLegCollection []OrderLeg `json:"orderLegCollection"`
}

// Contract is one option contract record from a quote or chain response.
type Contract struct {
	Symbol         string  `json:"symbol"`
	Description    string  `json:"description"`
	PutCall        string  `json:"putCall"`
	Bid            float64 `json:"bid"`
	Ask            float64 `json:"ask"`
	Last           float64 `json:"last"`
	Mark           float64 `json:"mark"`
	Delta          float64 `json:"delta"`
	StrikePrice    float64 `json:"strikePrice"`
	TotalVolume    int64   `json:"totalVolume"`
	OpenInterest   int64   `json:"openInterest"`
	ExpirationDate int64   `json:"expirationDate"`
}

// ChainResponse is the option chain payload: contracts nested under
// expiration-date keys ("2020-04-03:7") and strike keys ("28.0").
type ChainResponse struct {
	Symbol         string                           `json:"symbol"`
	Status         string                           `json:"status"`
	CallExpDateMap map[string]map[string][]Contract `json:"callExpDateMap"`
	PutExpDateMap  map[string]map[string][]Contract `json:"putExpDateMap"`
}

// IsEmpty reports whether the chain carries no contracts at all.
func (c *ChainResponse) IsEmpty() bool {
	return c == nil || (len(c.CallExpDateMap) == 0 && len(c.PutExpDateMap) == 0)
}

// ChainRequest parameterizes an option chain lookup.
type ChainRequest struct {
	Symbol       string
	ContractType string // "CALL", "PUT", or "ALL"
	StrikeCount  int
	FromDate     string // YYYY-MM-DD
	ToDate       string // YYYY-MM-DD
}

// Broker defines the brokerage connectivity contract the decision core
// consumes. All calls are synchronous; any blocking happens inside them.
type Broker interface {
	// Positions returns every open position in the account.
	Positions(ctx context.Context) ([]Position, error)
	// Orders returns the account's recent orders, open and closed.
	Orders(ctx context.Context) ([]Order, error)
	// Quote returns contract records keyed by symbol. One logical contract
	// may map to several entries across accumulation lots.
	Quote(ctx context.Context, symbol string) (map[string]Contract, error)
	// OptionChains returns the chain for an underlying within a date window.
	OptionChains(ctx context.Context, req ChainRequest) (*ChainResponse, error)
	// PlaceCustomOrder submits a built order payload.
	PlaceCustomOrder(ctx context.Context, order orders.Request) error
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality so
// a flapping API trips open instead of hammering the brokerage.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// Positions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) Positions(ctx context.Context) ([]Position, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Position, error) {
		return b.Positions(ctx)
	})
}

// Orders wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) Orders(ctx context.Context) ([]Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Order, error) {
		return b.Orders(ctx)
	})
}

// Quote wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) Quote(ctx context.Context, symbol string) (map[string]Contract, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (map[string]Contract, error) {
		return b.Quote(ctx, symbol)
	})
}

// OptionChains wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) OptionChains(ctx context.Context, req ChainRequest) (*ChainResponse, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*ChainResponse, error) {
		return b.OptionChains(ctx, req)
	})
}

// PlaceCustomOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) PlaceCustomOrder(ctx context.Context, order orders.Request) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.PlaceCustomOrder(ctx, order)
	})
	return err
}
