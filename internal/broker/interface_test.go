package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tmacey/delta-roller/internal/orders"
)

// flakyBroker fails a configurable number of times before succeeding.
type flakyBroker struct {
	failures int
	calls    int
}

var _ Broker = (*flakyBroker)(nil)

func (f *flakyBroker) Positions(_ context.Context) ([]Position, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("server error")
	}
	return []Position{{LongQuantity: 1}}, nil
}

func (f *flakyBroker) Orders(_ context.Context) ([]Order, error) {
	return []Order{}, nil
}

func (f *flakyBroker) Quote(_ context.Context, symbol string) (map[string]Contract, error) {
	return map[string]Contract{symbol: {Symbol: symbol}}, nil
}

func (f *flakyBroker) OptionChains(_ context.Context, req ChainRequest) (*ChainResponse, error) {
	return &ChainResponse{Symbol: req.Symbol}, nil
}

func (f *flakyBroker) PlaceCustomOrder(_ context.Context, _ orders.Request) error {
	return nil
}

func TestCircuitBreaker_PassThrough(t *testing.T) {
	cb := NewCircuitBreakerBroker(&flakyBroker{})

	positions, err := cb.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("len(positions) = %d, want 1", len(positions))
	}

	quotes, err := cb.Quote(context.Background(), "FAS_040320C28")
	if err != nil {
		t.Fatalf("Quote error: %v", err)
	}
	if _, ok := quotes["FAS_040320C28"]; !ok {
		t.Fatalf("quote missing: %v", quotes)
	}

	if err := cb.PlaceCustomOrder(context.Background(), orders.Request{}); err != nil {
		t.Fatalf("PlaceCustomOrder error: %v", err)
	}
}

func TestCircuitBreaker_TripsAfterFailureRatio(t *testing.T) {
	flaky := &flakyBroker{failures: 100}
	cb := NewCircuitBreakerBrokerWithSettings(flaky, CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.6,
	})

	for i := 0; i < 3; i++ {
		if _, err := cb.Positions(context.Background()); err == nil {
			t.Fatalf("attempt %d: expected failure", i)
		}
	}

	callsBefore := flaky.calls
	if _, err := cb.Positions(context.Background()); err == nil {
		t.Fatal("expected open-circuit error")
	}
	if flaky.calls != callsBefore {
		t.Fatalf("broker called while circuit open: %d -> %d", callsBefore, flaky.calls)
	}
}

func TestChainResponse_IsEmpty(t *testing.T) {
	var nilChain *ChainResponse
	if !nilChain.IsEmpty() {
		t.Fatal("nil chain should be empty")
	}
	if !(&ChainResponse{}).IsEmpty() {
		t.Fatal("zero chain should be empty")
	}
	chain := &ChainResponse{
		PutExpDateMap: map[string]map[string][]Contract{"2020-04-03:7": {}},
	}
	if chain.IsEmpty() {
		t.Fatal("chain with put map should not be empty")
	}
}
