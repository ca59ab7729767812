// Package mock provides a canned, deterministic broker for integration runs
// and tests. The account it serves exercises every decision path: a 3-leg
// synthetic whose single is deep in the money, a decayed standalone short,
// an underlying frozen by a queued order, and an equity position the
// normalizer must skip.
package mock

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/tmacey/delta-roller/internal/broker"
	"github.com/tmacey/delta-roller/internal/orders"
)

// Broker serves a fixed account snapshot. Placed orders are recorded, not
// simulated.
type Broker struct {
	positions []broker.Position
	orders    []broker.Order
	quotes    map[string]map[string]broker.Contract
	spots     map[string]float64

	// Placed collects every order submitted through PlaceCustomOrder.
	Placed []orders.Request
}

// Ensure Broker implements broker.Broker at compile time.
var _ broker.Broker = (*Broker)(nil)

const mockExpiration = "121826" // 2026-12-18

// NewBroker builds the canned account.
func NewBroker() *Broker {
	return &Broker{
		positions: []broker.Position{
			// FAS synthetic: deep call single over a put vertical.
			optionPosition("FAS_"+mockExpiration+"C22", "FAS", "CALL", 10, 0, 9000),
			optionPosition("FAS_"+mockExpiration+"P18", "FAS", "PUT", 10, 0, 800),
			optionPosition("FAS_"+mockExpiration+"P20", "FAS", "PUT", 0, 10, 1800),
			// XOP: standalone short put decayed to pocket change.
			optionPosition("XOP_"+mockExpiration+"P15", "XOP", "PUT", 0, 5, 20),
			// UAL: long call past the trigger but frozen by a queued order.
			optionPosition("UAL_"+mockExpiration+"C30", "UAL", "CALL", 2, 0, 900),
			// Equity position the normalizer skips.
			{
				Instrument:   broker.Instrument{AssetType: "EQUITY", Symbol: "SPY"},
				LongQuantity: 100,
				MarketValue:  45000,
			},
		},
		orders: []broker.Order{
			{
				OrderID: 1001,
				Status:  "QUEUED",
				OrderLegCollection: []broker.OrderLeg{{
					OrderLegType: "OPTION",
					Instruction:  "SELL_TO_CLOSE",
					Quantity:     2,
					Instrument:   broker.Instrument{AssetType: "OPTION", Symbol: "UAL_" + mockExpiration + "C30"},
				}},
			},
			{
				OrderID:   1002,
				Status:    "FILLED",
				CloseTime: "2026-08-28T15:30:00+0000",
				OrderLegCollection: []broker.OrderLeg{{
					OrderLegType: "OPTION",
					Instruction:  "BUY_TO_OPEN",
					Quantity:     10,
					Instrument:   broker.Instrument{AssetType: "OPTION", Symbol: "FAS_" + mockExpiration + "C22"},
				}},
			},
		},
		quotes: map[string]map[string]broker.Contract{
			"FAS_" + mockExpiration + "C22": {
				"FAS_" + mockExpiration + "C22": {
					Symbol: "FAS_" + mockExpiration + "C22", PutCall: "CALL",
					Bid: 8.90, Ask: 9.10, Mark: 9.00, Delta: 0.91,
					StrikePrice: 22, OpenInterest: 340,
				},
			},
			"UAL_" + mockExpiration + "C30": {
				"UAL_" + mockExpiration + "C30": {
					Symbol: "UAL_" + mockExpiration + "C30", PutCall: "CALL",
					Bid: 4.40, Ask: 4.60, Mark: 4.50, Delta: 0.88,
					StrikePrice: 30, OpenInterest: 120,
				},
			},
		},
		spots: map[string]float64{
			"FAS": 30.0,
			"XOP": 14.5,
			"UAL": 34.0,
		},
	}
}

func optionPosition(symbol, underlying, putCall string, long, short, marketValue float64) broker.Position {
	return broker.Position{
		Instrument: broker.Instrument{
			AssetType:        "OPTION",
			Symbol:           symbol,
			UnderlyingSymbol: underlying,
			PutCall:          putCall,
		},
		LongQuantity:  long,
		ShortQuantity: short,
		MarketValue:   marketValue,
	}
}

// Positions returns the canned positions.
func (m *Broker) Positions(_ context.Context) ([]broker.Position, error) {
	return append([]broker.Position(nil), m.positions...), nil
}

// Orders returns the canned orders.
func (m *Broker) Orders(_ context.Context) ([]broker.Order, error) {
	return append([]broker.Order(nil), m.orders...), nil
}

// Quote returns the canned quote map for the symbol.
func (m *Broker) Quote(_ context.Context, symbol string) (map[string]broker.Contract, error) {
	quotes, ok := m.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote found for symbol: %s", symbol)
	}
	out := make(map[string]broker.Contract, len(quotes))
	for k, v := range quotes {
		out[k] = v
	}
	return out, nil
}

// OptionChains generates a chain around the underlying's spot price with
// deltas decaying away from the money.
func (m *Broker) OptionChains(_ context.Context, req broker.ChainRequest) (*broker.ChainResponse, error) {
	spot, ok := m.spots[req.Symbol]
	if !ok {
		return &broker.ChainResponse{Symbol: req.Symbol, Status: "FAILED"}, nil
	}

	resp := &broker.ChainResponse{
		Symbol:         req.Symbol,
		Status:         "SUCCESS",
		CallExpDateMap: map[string]map[string][]broker.Contract{},
		PutExpDateMap:  map[string]map[string][]broker.Contract{},
	}
	expKey := req.FromDate + ":112"
	if req.ContractType == "CALL" || req.ContractType == "ALL" {
		resp.CallExpDateMap[expKey] = m.generateStrikes(req.Symbol, spot, "C")
	}
	if req.ContractType == "PUT" || req.ContractType == "ALL" {
		resp.PutExpDateMap[expKey] = m.generateStrikes(req.Symbol, spot, "P")
	}
	return resp, nil
}

// generateStrikes builds one expiration's worth of contracts. Delta decays
// exponentially with distance from the money, pinned to 0.5 at the money.
func (m *Broker) generateStrikes(underlying string, spot float64, typeChar string) map[string][]broker.Contract {
	strikes := make(map[string][]broker.Contract)

	strikeInterval := 2.0
	startStrike := math.Floor(spot/strikeInterval)*strikeInterval - 10
	endStrike := startStrike + 20

	for strike := startStrike; strike <= endStrike; strike += strikeInterval {
		distance := math.Abs(strike - spot)
		decay := math.Exp(-0.15 * distance)

		callDelta := 0.5 * decay
		if strike <= spot {
			callDelta = 1 - 0.5*decay
		}
		delta := callDelta
		intrinsic := math.Max(spot-strike, 0)
		if typeChar == "P" {
			delta = callDelta - 1
			intrinsic = math.Max(strike-spot, 0)
		}

		mark := intrinsic + 1.5*decay
		strikeStr := strconv.FormatFloat(strike, 'f', -1, 64)
		symbol := underlying + "_" + mockExpiration + typeChar + strikeStr

		strikes[strikeStr+".0"] = []broker.Contract{{
			Symbol:         symbol,
			PutCall:        putCallOf(typeChar),
			Bid:            math.Max(mark-0.05, 0),
			Ask:            mark + 0.05,
			Mark:           mark,
			Delta:          delta,
			StrikePrice:    strike,
			OpenInterest:   int64(50 + distance*10),
			ExpirationDate: time.Date(2026, 12, 18, 0, 0, 0, 0, time.UTC).UnixMilli(),
		}}
	}
	return strikes
}

func putCallOf(typeChar string) string {
	if typeChar == "P" {
		return "PUT"
	}
	return "CALL"
}

// PlaceCustomOrder records the order.
func (m *Broker) PlaceCustomOrder(_ context.Context, order orders.Request) error {
	m.Placed = append(m.Placed, order)
	return nil
}
