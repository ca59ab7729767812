// Package orders builds TDA custom order payloads. Construction is pure and
// side-effect free; submitting the payload to the broker is the connectivity
// layer's responsibility.
package orders

import (
	"github.com/google/uuid"

	"github.com/tmacey/delta-roller/internal/util"
)

// Fixed attributes every order built here carries.
const (
	strategySingle = "SINGLE"
	typeLimit      = "LIMIT"
	sessionNormal  = "NORMAL"
	durationDay    = "DAY"

	complexStrategyCustom = "CUSTOM"

	assetTypeOption = "OPTION"

	// InstructionBuyToOpen opens (or, per TDA's custom-order convention for
	// covering a short, re-opens) a long position in the instrument.
	InstructionBuyToOpen = "BUY_TO_OPEN"
	// InstructionSellToClose closes an existing long position.
	InstructionSellToClose = "SELL_TO_CLOSE"
)

// InstrumentRef names the instrument one order leg acts on.
type InstrumentRef struct {
	AssetType string `json:"assetType"`
	Symbol    string `json:"symbol"`
}

// LegEntry is one line of an order leg collection.
type LegEntry struct {
	Instruction string        `json:"instruction"`
	Quantity    float64       `json:"quantity"`
	Instrument  InstrumentRef `json:"instrument"`
}

// Request is the custom order payload accepted by the TDA order endpoint.
type Request struct {
	OrderStrategyType        string     `json:"orderStrategyType"`
	OrderType                string     `json:"orderType"`
	Session                  string     `json:"session"`
	Duration                 string     `json:"duration"`
	Price                    string     `json:"price"`
	ComplexOrderStrategyType string     `json:"complexOrderStrategyType,omitempty"`
	Tag                      string     `json:"tag,omitempty"`
	OrderLegCollection       []LegEntry `json:"orderLegCollection"`
}

// NewRollOrder builds the two-leg roll: buy-to-open the replacement contract
// and sell-to-close the original, same quantity, at the given net limit.
func NewRollOrder(newSymbol, oldSymbol string, quantity, netLimit float64) Request {
	return Request{
		OrderStrategyType:        strategySingle,
		OrderType:                typeLimit,
		Session:                  sessionNormal,
		Duration:                 durationDay,
		Price:                    util.FormatLimitPrice(netLimit),
		ComplexOrderStrategyType: complexStrategyCustom,
		Tag:                      newTag("roll"),
		OrderLegCollection: []LegEntry{
			{
				Instruction: InstructionBuyToOpen,
				Quantity:    quantity,
				Instrument:  InstrumentRef{AssetType: assetTypeOption, Symbol: newSymbol},
			},
			{
				Instruction: InstructionSellToClose,
				Quantity:    quantity,
				Instrument:  InstrumentRef{AssetType: assetTypeOption, Symbol: oldSymbol},
			},
		},
	}
}

// NewCloseOrder builds the single-leg order that covers a short contract at
// the given limit price per share.
func NewCloseOrder(symbol string, quantity, limit float64) Request {
	return Request{
		OrderStrategyType: strategySingle,
		OrderType:         typeLimit,
		Session:           sessionNormal,
		Duration:          durationDay,
		Price:             util.FormatLimitPrice(limit),
		Tag:               newTag("close"),
		OrderLegCollection: []LegEntry{
			{
				Instruction: InstructionBuyToOpen,
				Quantity:    quantity,
				Instrument:  InstrumentRef{AssetType: assetTypeOption, Symbol: symbol},
			},
		},
	}
}

// newTag produces a short idempotency tag like "roll-1b9d6bcd".
func newTag(prefix string) string {
	id := uuid.NewString()
	if len(id) > 8 {
		id = id[:8]
	}
	return prefix + "-" + id
}
