package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/tmacey/delta-roller/internal/broker"
	"github.com/tmacey/delta-roller/internal/models"
	"github.com/tmacey/delta-roller/internal/orders"
)

// ErrNoChainData indicates the chain lookup returned no contracts for the
// leg's expiration and type.
var ErrNoChainData = errors.New("no chain data for expiration")

const sharesPerContract = 100

// checkCheapShort covers a net-short option once the cost to close drops to
// ShortCloseAsk per share or less. The boundary is inclusive; a non-positive
// market value never triggers.
func (e *Engine) checkCheapShort(underlying string, leg models.Leg) *Decision {
	shortQty := leg.ShortQuantity
	if shortQty == 0 {
		shortQty = -leg.Quantity
	}
	if shortQty <= 0 {
		return nil
	}

	value := leg.MarketValue
	bound := e.cfg.ShortCloseAsk * sharesPerContract * shortQty
	if value <= 0 || value > bound {
		return nil
	}

	if e.blocked(underlying) {
		return nil
	}

	limit := value / (sharesPerContract * shortQty)
	e.logger.WithFields(logrus.Fields{
		"underlying": underlying,
		"symbol":     leg.Symbol,
		"value":      value,
		"limit":      limit,
	}).Info("short option cheap enough to cover")

	order := orders.NewCloseOrder(leg.Symbol, shortQty, limit)
	return &Decision{
		Underlying: underlying,
		Reason: fmt.Sprintf("cover short %s: market value %.2f within %.2f bound",
			leg.Symbol, value, bound),
		Order: order,
	}
}

// checkDeltaRoll rolls a net-long option back toward half delta once its
// quote delta crosses the trigger. The roll must be value-accretive: the
// replacement's cost has to come in under the current leg's market value,
// and the order is priced at the resulting per-share credit. A chain
// transport failure is returned and aborts the run; an empty chain only
// skips the leg.
func (e *Engine) checkDeltaRoll(ctx context.Context, underlying string, leg models.Leg) (*Decision, error) {
	quotes, err := e.broker.Quote(ctx, leg.Symbol)
	if err != nil {
		e.logger.WithError(err).WithField("symbol", leg.Symbol).Warn("quote fetch failed, skipping leg")
		return nil, nil
	}

	triggered := false
	var triggerDelta float64
	for _, symbol := range sortedKeys(quotes) {
		delta := quotes[symbol].Delta
		if (leg.IsCall() && delta >= e.cfg.MinDelta) || (leg.IsPut() && delta <= -e.cfg.MinDelta) {
			triggered = true
			triggerDelta = delta
			break
		}
	}
	if !triggered {
		return nil, nil
	}

	e.logger.WithFields(logrus.Fields{
		"underlying": underlying,
		"symbol":     leg.Symbol,
		"delta":      triggerDelta,
	}).Info("long option past delta trigger")

	if e.blocked(underlying) {
		return nil, nil
	}

	expiration := leg.Expiration.Format("2006-01-02")
	chain, err := e.broker.OptionChains(ctx, broker.ChainRequest{
		Symbol:       underlying,
		ContractType: string(leg.Type),
		StrikeCount:  e.cfg.StrikeCount,
		FromDate:     expiration,
		ToDate:       expiration,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching chain for %s: %w", underlying, err)
	}

	replacement, err := findHalfDeltaContract(chain, leg.Type)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"underlying": underlying,
			"expiration": expiration,
		}).Warn("no roll candidate, skipping leg")
		return nil, nil
	}

	if replacement.OpenInterest < e.cfg.MinOpenInterest {
		e.logger.WithFields(logrus.Fields{
			"symbol":        replacement.Symbol,
			"open_interest": replacement.OpenInterest,
		}).Warn("roll candidate has thin open interest")
	}

	longQty := leg.LongQuantity
	if longQty == 0 {
		longQty = leg.Quantity
	}
	if longQty <= 0 {
		return nil, nil
	}

	newCost := replacement.Ask * sharesPerContract * longQty
	oldValue := leg.MarketValue
	if newCost >= oldValue {
		e.logger.WithFields(logrus.Fields{
			"symbol":    leg.Symbol,
			"new_cost":  newCost,
			"old_value": oldValue,
		}).Info("replacement costs more than current value, not rolling")
		return nil, nil
	}

	credit := oldValue - newCost
	netLimit := credit / (sharesPerContract * longQty)
	e.logger.WithFields(logrus.Fields{
		"underlying": underlying,
		"from":       leg.Symbol,
		"to":         replacement.Symbol,
		"delta":      replacement.Delta,
		"credit":     credit,
	}).Info("rolling long option toward half delta")

	order := orders.NewRollOrder(replacement.Symbol, leg.Symbol, longQty, netLimit)
	return &Decision{
		Underlying: underlying,
		Reason: fmt.Sprintf("roll %s (delta %.2f) to %s (delta %.2f) for %.2f credit",
			leg.Symbol, triggerDelta, replacement.Symbol, replacement.Delta, credit),
		Order: order,
	}, nil
}

// findHalfDeltaContract picks the chain contract whose delta magnitude sits
// closest to 0.5. Iteration order is deterministic: expiration keys sorted,
// strikes in numeric order, first encountered wins ties.
func findHalfDeltaContract(chain *broker.ChainResponse, optType models.OptionType) (broker.Contract, error) {
	var best broker.Contract
	if chain.IsEmpty() {
		return best, ErrNoChainData
	}

	expMap := chain.CallExpDateMap
	if optType == models.OptionTypePut {
		expMap = chain.PutExpDateMap
	}

	found := false
	bestScore := math.Inf(1)
	for _, expKey := range sortedKeys(expMap) {
		strikes := expMap[expKey]
		for _, strikeKey := range sortedStrikeKeys(strikes) {
			for _, contract := range strikes[strikeKey] {
				score := math.Abs(0.5 - math.Abs(contract.Delta))
				if score < bestScore {
					bestScore = score
					best = contract
					found = true
				}
			}
		}
	}
	if !found {
		return best, ErrNoChainData
	}
	return best, nil
}

// sortedStrikeKeys orders strike keys numerically; "28.0" sorts before
// "100.0" despite the lexical order.
func sortedStrikeKeys(strikes map[string][]broker.Contract) []string {
	keys := make([]string, 0, len(strikes))
	for k := range strikes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.ParseFloat(keys[i], 64)
		b, errB := strconv.ParseFloat(keys[j], 64)
		if errA != nil || errB != nil {
			return keys[i] < keys[j]
		}
		return a < b
	})
	return keys
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
