package merchants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeKhipuVocabulary(t *testing.T) {
	cases := map[string]State{
		"pending":   StatePending,
		"verifying": StateProcessing,
		"done":      StateSucceeded,
		"expired":   StateCancelled,
		"rejected":  StateFailed,
		"reversed":  StateRefunded,
	}
	for raw, want := range cases {
		assert.Equal(t, want, Normalize(KeyKhipu, raw), "khipu %q", raw)
	}
}

func TestNormalizeGenericFallback(t *testing.T) {
	cases := map[string]State{
		"PAID":                    StateSucceeded,
		"settlement_is_not_known": StateUnknown,
		"requires_action":         StatePending,
		" Completed ":             StateSucceeded,
		"voided":                  StateCancelled,
		"":                        StateUnknown,
		"garbage \x00 bytes":      StateUnknown,
	}
	for raw, want := range cases {
		assert.Equal(t, want, Normalize("some-gateway", raw), "raw %q", raw)
	}
}

func TestNormalizeUnknownProviderUsesGenericTable(t *testing.T) {
	assert.Equal(t, StateSucceeded, Normalize("stripe", "succeeded"))
	assert.Equal(t, StateFailed, Normalize("paypal", "declined"))
}

func TestTransitionGraph(t *testing.T) {
	legal := []struct{ from, to State }{
		{StatePending, StateProcessing},
		{StatePending, StateSucceeded},
		{StatePending, StateCancelled},
		{StatePending, StateFailed},
		{StateProcessing, StateSucceeded},
		{StateProcessing, StateFailed},
		{StateProcessing, StateCancelled},
		{StateSucceeded, StateRefunded},
	}
	for _, edge := range legal {
		assert.True(t, edge.from.CanTransition(edge.to), "%s -> %s should be legal", edge.from, edge.to)
	}

	illegal := []struct{ from, to State }{
		{StatePending, StateRefunded},
		{StateSucceeded, StateSucceeded},
		{StateSucceeded, StateFailed},
		{StateFailed, StateProcessing},
		{StateCancelled, StateSucceeded},
		{StateRefunded, StateSucceeded},
		{StateProcessing, StateUnknown},
		{StateUnknown, StateSucceeded},
	}
	for _, edge := range illegal {
		assert.False(t, edge.from.CanTransition(edge.to), "%s -> %s should be illegal", edge.from, edge.to)
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []State{StateFailed, StateCancelled, StateRefunded} {
		assert.True(t, s.Terminal(), "%s", s)
	}
	for _, s := range []State{StatePending, StateProcessing, StateSucceeded} {
		assert.False(t, s.Terminal(), "%s", s)
	}
}

func TestStateValid(t *testing.T) {
	assert.False(t, StateUnknown.Valid())
	assert.False(t, State("banana").Valid())
	assert.True(t, StateRefunded.Valid())
}

func FuzzNormalizeTotal(f *testing.F) {
	f.Add("khipu", "done")
	f.Add("cafeteria", "paid")
	f.Add("", "")
	f.Add("x", "\x00\xff")
	f.Fuzz(func(t *testing.T, provider, raw string) {
		state := Normalize(provider, raw)
		if state != StateUnknown && !state.Valid() {
			t.Fatalf("Normalize(%q, %q) produced invalid state %q", provider, raw, state)
		}
	})
}
