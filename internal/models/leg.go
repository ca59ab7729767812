package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/tmacey/delta-roller/internal/broker"
)

// ErrInvalidPosition is returned when a raw position record lacks the fields
// the roller needs. The record is skipped and logged; it does not abort the run.
var ErrInvalidPosition = errors.New("invalid position record")

// ErrInvalidOrder is returned when a raw order record cannot be normalized.
var ErrInvalidOrder = errors.New("invalid order record")

// OrderStatusQueued marks an order still waiting at the broker. Only queued,
// not-yet-closed orders block new activity on an underlying.
const OrderStatusQueued = "QUEUED"

// orderLegTypeOption identifies option legs inside an order leg collection.
const orderLegTypeOption = "OPTION"

// Leg is a normalized position: one contract with derived quantity and
// decoded contract attributes. Legs are built once per run and never mutated.
type Leg struct {
	Symbol        string // full TDA contract identifier
	Underlying    string
	Expiration    time.Time
	Strike        float64
	Type          OptionType
	Quantity      float64 // longQuantity - shortQuantity; positive = net long
	LongQuantity  float64
	ShortQuantity float64
	// MarketValue is carried through unsigned from the feed: for a short
	// leg it is the cost to close, not a signed liability.
	MarketValue float64
}

// IsCall reports whether the leg is a call option.
func (l Leg) IsCall() bool { return l.Type == OptionTypeCall }

// IsPut reports whether the leg is a put option.
func (l Leg) IsPut() bool { return l.Type == OptionTypePut }

// IsOption reports whether the leg is an option (not equity).
func (l Leg) IsOption() bool { return l.IsCall() || l.IsPut() }

// NewLeg normalizes a raw broker position into a Leg. The instrument symbol
// is decoded through the symbol codec; net quantity is long minus short.
func NewLeg(p broker.Position) (Leg, error) {
	if p.Instrument.Symbol == "" {
		return Leg{}, fmt.Errorf("%w: missing instrument symbol", ErrInvalidPosition)
	}

	cid, err := ParseOptionSymbol(p.Instrument.Symbol)
	if err != nil {
		return Leg{}, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}

	// The instrument's own option-type field wins over the decoded flag when
	// present; TDA reports it explicitly for option positions.
	optType := cid.Type
	switch p.Instrument.PutCall {
	case string(OptionTypeCall):
		optType = OptionTypeCall
	case string(OptionTypePut):
		optType = OptionTypePut
	}

	underlying := p.Instrument.UnderlyingSymbol
	if underlying == "" {
		underlying = cid.Underlying
	}

	return Leg{
		Symbol:        p.Instrument.Symbol,
		Underlying:    underlying,
		Expiration:    cid.Expiration,
		Strike:        cid.Strike,
		Type:          optType,
		Quantity:      p.LongQuantity - p.ShortQuantity,
		LongQuantity:  p.LongQuantity,
		ShortQuantity: p.ShortQuantity,
		MarketValue:   p.MarketValue,
	}, nil
}

// OrderLegRef is the slice of an open order the roller cares about: the leg
// type flag and the instrument symbol. Symbols are decoded lazily.
type OrderLegRef struct {
	Type   string
	Symbol string
}

// OpenOrder is a normalized open order, used only to check whether an
// underlying already has unresolved activity.
type OpenOrder struct {
	Status    string
	CloseTime string
	Legs      []OrderLegRef
}

// NewOpenOrder performs the shallow conversion of a raw order record.
func NewOpenOrder(o broker.Order) (OpenOrder, error) {
	if o.Status == "" {
		return OpenOrder{}, fmt.Errorf("%w: missing status", ErrInvalidOrder)
	}
	legs := make([]OrderLegRef, 0, len(o.OrderLegCollection))
	for _, l := range o.OrderLegCollection {
		legs = append(legs, OrderLegRef{Type: l.OrderLegType, Symbol: l.Instrument.Symbol})
	}
	return OpenOrder{Status: o.Status, CloseTime: o.CloseTime, Legs: legs}, nil
}

// ReferencesOptionsOn reports whether the order is still pending and carries
// an option leg on the given underlying. Legs whose symbols fail to decode
// are ignored; a partially malformed order must not block unrelated symbols.
func (o OpenOrder) ReferencesOptionsOn(underlying string) bool {
	if o.Status != OrderStatusQueued || o.CloseTime != "" {
		return false
	}
	for _, leg := range o.Legs {
		if leg.Type != orderLegTypeOption {
			continue
		}
		cid, err := ParseOptionSymbol(leg.Symbol)
		if err != nil {
			continue
		}
		if cid.Underlying == underlying {
			return true
		}
	}
	return false
}

// AnyOptionOrderOpen reports whether any order in the snapshot still
// references options on the underlying.
func AnyOptionOrderOpen(orders []OpenOrder, underlying string) bool {
	for _, o := range orders {
		if o.ReferencesOptionsOn(underlying) {
			return true
		}
	}
	return false
}

// GroupByUnderlying partitions legs by underlying symbol. Every input leg
// lands in exactly one group and input order is preserved within each group.
func GroupByUnderlying(legs []Leg) map[string][]Leg {
	groups := make(map[string][]Leg)
	for _, leg := range legs {
		groups[leg.Underlying] = append(groups[leg.Underlying], leg)
	}
	return groups
}
