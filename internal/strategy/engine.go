// Package strategy evaluates open option positions against the two
// management rules: roll a deep long option back toward half delta, and
// cover a short option once it has decayed to pocket change. One pass over
// one account snapshot; the engine holds no state between runs.
package strategy

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tmacey/delta-roller/internal/broker"
	"github.com/tmacey/delta-roller/internal/models"
	"github.com/tmacey/delta-roller/internal/orders"
)

// Settings carries the rule thresholds.
type Settings struct {
	// MinDelta is the absolute quote delta at which a long option rolls.
	MinDelta float64
	// ShortCloseAsk is the per-share value at or below which a short
	// option is covered.
	ShortCloseAsk float64
	// StrikeCount bounds the chain lookup around the money.
	StrikeCount int
	// MinOpenInterest is the liquidity floor for roll candidates. Thinner
	// candidates still trade but draw a warning.
	MinOpenInterest int64
}

// Decision is one order the pass decided to place, with the reasoning that
// produced it.
type Decision struct {
	Underlying string
	Reason     string
	Order      orders.Request
}

// Engine runs the rules over one account snapshot.
type Engine struct {
	broker broker.Broker
	logger *logrus.Logger
	cfg    Settings

	// acted records underlyings already given an order this run. One order
	// per underlying per pass; the next pass sees the fill and re-decides.
	acted      map[string]bool
	openOrders []models.OpenOrder
}

// NewEngine creates an engine bound to a broker and rule settings.
func NewEngine(b broker.Broker, logger *logrus.Logger, cfg Settings) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		broker: b,
		logger: logger,
		cfg:    cfg,
	}
}

// Run fetches the account snapshot, evaluates every underlying, and returns
// the decisions in deterministic underlying order. Snapshot fetch failure and
// chain transport failure abort the run; anything narrower is logged and
// skipped.
func (e *Engine) Run(ctx context.Context) ([]Decision, error) {
	var positions []broker.Position
	var rawOrders []broker.Order

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		positions, err = e.broker.Positions(gctx)
		if err != nil {
			return fmt.Errorf("fetching positions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		rawOrders, err = e.broker.Orders(gctx)
		if err != nil {
			return fmt.Errorf("fetching orders: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.acted = make(map[string]bool)
	e.openOrders = e.openOrders[:0]
	for _, raw := range rawOrders {
		order, err := models.NewOpenOrder(raw)
		if err != nil {
			e.logger.WithError(err).WithField("order_id", raw.OrderID).Warn("skipping unreadable order")
			continue
		}
		e.openOrders = append(e.openOrders, order)
	}

	legs := make([]models.Leg, 0, len(positions))
	for _, p := range positions {
		leg, err := models.NewLeg(p)
		if err != nil {
			e.logger.WithError(err).WithField("symbol", p.Instrument.Symbol).Warn("skipping unreadable position")
			continue
		}
		legs = append(legs, leg)
	}

	groups := models.GroupByUnderlying(legs)
	underlyings := make([]string, 0, len(groups))
	for u := range groups {
		underlyings = append(underlyings, u)
	}
	sort.Strings(underlyings)

	var decisions []Decision
	for _, underlying := range underlyings {
		decision, err := e.evaluateGroup(ctx, underlying, groups[underlying])
		if err != nil {
			return nil, err
		}
		if decision != nil {
			e.acted[underlying] = true
			decisions = append(decisions, *decision)
		}
	}
	return decisions, nil
}

// evaluateGroup applies the rules to one underlying's legs. A recognized
// synthetic narrows the evaluation to its exposed legs: the short spread leg
// for the cheap close and the single for the roll. Unrecognized groups get
// every leg checked, shorts first. Only a chain transport failure comes back
// as an error; it is fatal for the run.
func (e *Engine) evaluateGroup(ctx context.Context, underlying string, legs []models.Leg) (*Decision, error) {
	if synthetic := models.IdentifySynthetic(legs); synthetic != nil {
		e.logger.WithFields(logrus.Fields{
			"underlying": underlying,
			"single":     synthetic.Single.Symbol,
			"short":      synthetic.SpreadShort.Symbol,
		}).Debug("recognized synthetic trade")

		if d := e.checkCheapShort(underlying, synthetic.SpreadShort); d != nil {
			return d, nil
		}
		return e.checkDeltaRoll(ctx, underlying, synthetic.Single)
	}

	for _, leg := range legs {
		if leg.Quantity >= 0 || !leg.IsOption() {
			continue
		}
		if d := e.checkCheapShort(underlying, leg); d != nil {
			return d, nil
		}
	}
	for _, leg := range legs {
		if leg.Quantity <= 0 || !leg.IsOption() {
			continue
		}
		d, err := e.checkDeltaRoll(ctx, underlying, leg)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
	}
	return nil, nil
}

// blocked reports whether the underlying already has an order this run or a
// queued option order sitting at the broker.
func (e *Engine) blocked(underlying string) bool {
	if e.acted[underlying] {
		e.logger.WithField("underlying", underlying).Info("already acted on this underlying, skipping")
		return true
	}
	if models.AnyOptionOrderOpen(e.openOrders, underlying) {
		e.logger.WithField("underlying", underlying).Info("open option order pending, skipping")
		return true
	}
	return false
}
