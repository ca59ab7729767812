package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testExp = time.Date(2026, time.December, 18, 0, 0, 0, 0, time.UTC)

func syntheticLeg(symbol string, optType OptionType, strike, qty float64) Leg {
	return Leg{
		Symbol:     symbol,
		Underlying: "FAS",
		Expiration: testExp,
		Strike:     strike,
		Type:       optType,
		Quantity:   qty,
	}
}

func TestIdentifySynthetic_CallSingle(t *testing.T) {
	legs := []Leg{
		syntheticLeg("FAS_121826C28", OptionTypeCall, 28, 10),
		syntheticLeg("FAS_121826P24", OptionTypePut, 24, 10),
		syntheticLeg("FAS_121826P26", OptionTypePut, 26, -10),
	}

	st := IdentifySynthetic(legs)
	require.NotNil(t, st)
	assert.Equal(t, "FAS_121826C28", st.Single.Symbol)
	assert.Equal(t, "FAS_121826P24", st.SpreadLong.Symbol)
	assert.Equal(t, "FAS_121826P26", st.SpreadShort.Symbol)
}

func TestIdentifySynthetic_PutSingle(t *testing.T) {
	legs := []Leg{
		syntheticLeg("FAS_121826P24", OptionTypePut, 24, 5),
		syntheticLeg("FAS_121826C28", OptionTypeCall, 28, 5),
		syntheticLeg("FAS_121826C26", OptionTypeCall, 26, -5),
	}

	st := IdentifySynthetic(legs)
	require.NotNil(t, st)
	assert.Equal(t, "FAS_121826P24", st.Single.Symbol)
	assert.Equal(t, "FAS_121826C28", st.SpreadLong.Symbol)
	assert.Equal(t, "FAS_121826C26", st.SpreadShort.Symbol)
}

func TestIdentifySynthetic_BoundaryStrikeAllowed(t *testing.T) {
	// Call single may sit exactly on the short strike.
	legs := []Leg{
		syntheticLeg("FAS_121826C26", OptionTypeCall, 26, 10),
		syntheticLeg("FAS_121826P24", OptionTypePut, 24, 10),
		syntheticLeg("FAS_121826P26", OptionTypePut, 26, -10),
	}
	require.NotNil(t, IdentifySynthetic(legs))
}

func TestIdentifySynthetic_Rejections(t *testing.T) {
	base := func() []Leg {
		return []Leg{
			syntheticLeg("FAS_121826C28", OptionTypeCall, 28, 10),
			syntheticLeg("FAS_121826P24", OptionTypePut, 24, 10),
			syntheticLeg("FAS_121826P26", OptionTypePut, 26, -10),
		}
	}

	tests := []struct {
		name   string
		mutate func([]Leg) []Leg
	}{
		{"two legs", func(l []Leg) []Leg { return l[:2] }},
		{"four legs", func(l []Leg) []Leg {
			return append(l, syntheticLeg("FAS_121826C30", OptionTypeCall, 30, 10))
		}},
		{"zero quantity", func(l []Leg) []Leg { l[0].Quantity = 0; return l }},
		{"quantity mismatch", func(l []Leg) []Leg { l[1].Quantity = 5; return l }},
		{"expiration mismatch", func(l []Leg) []Leg {
			l[1].Expiration = testExp.AddDate(0, 1, 0)
			return l
		}},
		{"two shorts", func(l []Leg) []Leg { l[1].Quantity = -10; return l }},
		{"no short", func(l []Leg) []Leg { l[2].Quantity = 10; return l }},
		{"stock leg", func(l []Leg) []Leg { l[0].Type = OptionTypeStock; return l }},
		{"ambiguous both longs match short", func(l []Leg) []Leg {
			l[0].Type = OptionTypePut
			l[0].Strike = 22
			return l
		}},
		{"no long matches short", func(l []Leg) []Leg { l[1].Type = OptionTypeCall; return l }},
		{"call single below short strike", func(l []Leg) []Leg { l[0].Strike = 25; return l }},
		{"spread inverted", func(l []Leg) []Leg {
			l[1].Strike = 27 // long put above short put
			return l
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, IdentifySynthetic(tt.mutate(base())))
		})
	}

	t.Run("put single above short strike", func(t *testing.T) {
		legs := []Leg{
			syntheticLeg("FAS_121826P27", OptionTypePut, 27, 5),
			syntheticLeg("FAS_121826C28", OptionTypeCall, 28, 5),
			syntheticLeg("FAS_121826C26", OptionTypeCall, 26, -5),
		}
		assert.Nil(t, IdentifySynthetic(legs))
	})
}
