package models

import "math"

// SyntheticTrade is a recognized 3-leg structure: one unmatched long option
// (the single) plus a vertical spread of the opposite option type. It is a
// read-only aggregate built fresh from each run's position snapshot.
type SyntheticTrade struct {
	Single      Leg
	SpreadLong  Leg
	SpreadShort Leg
}

// IdentifySynthetic attempts to recognize a synthetic trade in a group of
// legs from one underlying. It returns nil the moment any structural
// invariant fails; an unrecognized group is a normal outcome, not an error.
// Matching is deliberately conservative: ambiguous groups are never forced
// into a structure.
func IdentifySynthetic(legs []Leg) *SyntheticTrade {
	// Synthetics are exactly 3-legged.
	if len(legs) != 3 {
		return nil
	}

	// All legs must share expiration and absolute quantity.
	qty := math.Abs(legs[0].Quantity)
	if qty == 0 {
		return nil
	}
	exp := legs[0].Expiration
	for _, leg := range legs[1:] {
		if math.Abs(leg.Quantity) != qty || !leg.Expiration.Equal(exp) {
			return nil
		}
	}

	// Exactly one net-short leg; the other two net long.
	var short *Leg
	longs := make([]Leg, 0, 2)
	for i := range legs {
		switch {
		case legs[i].Quantity < 0:
			if short != nil {
				return nil
			}
			short = &legs[i]
		case legs[i].Quantity > 0:
			longs = append(longs, legs[i])
		}
	}
	if short == nil || len(longs) != 2 {
		return nil
	}

	// Equity legs never participate in a synthetic.
	if !short.IsOption() || !longs[0].IsOption() || !longs[1].IsOption() {
		return nil
	}

	// Exactly one long leg shares option type with the short; that one is
	// the spread long, the other is the single. Zero or two matches means
	// there is no well-formed vertical spread here.
	match0 := longs[0].Type == short.Type
	match1 := longs[1].Type == short.Type
	if match0 == match1 {
		return nil
	}
	var spreadLong, single Leg
	if match0 {
		spreadLong, single = longs[0], longs[1]
	} else {
		spreadLong, single = longs[1], longs[0]
	}

	// Strike geometry. A call single hedges a put spread stacked below it;
	// a put single hedges a call spread stacked above it.
	switch single.Type {
	case OptionTypeCall:
		if !(single.Strike >= short.Strike && short.Strike > spreadLong.Strike) {
			return nil
		}
	case OptionTypePut:
		if !(single.Strike <= short.Strike && short.Strike < spreadLong.Strike) {
			return nil
		}
	default:
		return nil
	}

	return &SyntheticTrade{
		Single:      single,
		SpreadLong:  spreadLong,
		SpreadShort: *short,
	}
}
