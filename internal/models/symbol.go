// Package models defines the typed domain records for the delta roller:
// decoded contract identifiers, normalized position legs and open orders,
// and the grouping/matching logic that recognizes multi-leg structures.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedSymbol is returned when a TDA option symbol cannot be decoded.
// Callers must treat this as fatal for the leg in question rather than
// falling back to a default contract.
var ErrMalformedSymbol = errors.New("malformed option symbol")

// OptionType classifies the asset behind a contract identifier.
type OptionType string

const (
	// OptionTypeCall represents a call option contract.
	OptionTypeCall OptionType = "CALL"
	// OptionTypePut represents a put option contract.
	OptionTypePut OptionType = "PUT"
	// OptionTypeStock represents an equity (non-option) instrument.
	OptionTypeStock OptionType = "STOCK"
)

// typeChars maps the single-character asset flag inside a TDA symbol to an
// OptionType. Both 'S' and 'E' encode equity instruments.
var typeChars = map[byte]OptionType{
	'C': OptionTypeCall,
	'P': OptionTypePut,
	'S': OptionTypeStock,
	'E': OptionTypeStock,
}

// ContractID holds the semantic attributes decoded from a TDA contract
// identifier such as "FAS_040320C28".
type ContractID struct {
	Underlying string
	Expiration time.Time
	Type       OptionType
	Strike     float64
}

// ParseOptionSymbol decodes a TDA symbol of the form
// <UNDERLYING>_<MMDDYY><TYPECHAR><STRIKE>. The two-digit year is windowed
// as 2000+YY; no century rollover handling.
func ParseOptionSymbol(symbol string) (ContractID, error) {
	delim := strings.IndexByte(symbol, '_')
	if delim <= 0 {
		return ContractID{}, fmt.Errorf("%w: %q missing underscore separator", ErrMalformedSymbol, symbol)
	}
	rest := symbol[delim+1:]
	// MMDDYY + type char + at least one strike digit
	if len(rest) < 8 {
		return ContractID{}, fmt.Errorf("%w: %q truncated after separator", ErrMalformedSymbol, symbol)
	}

	month, err := strconv.Atoi(rest[0:2])
	if err != nil {
		return ContractID{}, fmt.Errorf("%w: %q has non-numeric month", ErrMalformedSymbol, symbol)
	}
	day, err := strconv.Atoi(rest[2:4])
	if err != nil {
		return ContractID{}, fmt.Errorf("%w: %q has non-numeric day", ErrMalformedSymbol, symbol)
	}
	year, err := strconv.Atoi(rest[4:6])
	if err != nil {
		return ContractID{}, fmt.Errorf("%w: %q has non-numeric year", ErrMalformedSymbol, symbol)
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return ContractID{}, fmt.Errorf("%w: %q has out-of-range date %02d/%02d", ErrMalformedSymbol, symbol, month, day)
	}

	optType, ok := typeChars[rest[6]]
	if !ok {
		return ContractID{}, fmt.Errorf("%w: %q has unknown asset flag %q", ErrMalformedSymbol, symbol, rest[6])
	}

	strike, err := strconv.ParseFloat(rest[7:], 64)
	if err != nil {
		return ContractID{}, fmt.Errorf("%w: %q has unparseable strike %q", ErrMalformedSymbol, symbol, rest[7:])
	}

	return ContractID{
		Underlying: symbol[:delim],
		Expiration: time.Date(2000+year, time.Month(month), day, 0, 0, 0, 0, time.UTC),
		Type:       optType,
		Strike:     strike,
	}, nil
}
