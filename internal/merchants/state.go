package merchants

import "strings"

// State is the canonical, rail-agnostic payment state. Every provider's raw
// status vocabulary is normalised into one of these values before the engine
// sees it.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
	StateRefunded   State = "refunded"
	// StateUnknown is a normalisation fallback. It is never stored on a
	// payment and never applied as a transition.
	StateUnknown State = "unknown"
)

// Valid reports whether s is a storable canonical state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateProcessing, StateSucceeded, StateFailed, StateCancelled, StateRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further transitions leave s.
func (s State) Terminal() bool {
	switch s {
	case StateFailed, StateCancelled, StateRefunded:
		return true
	}
	return false
}

// transitions is the fixed legal-edge graph. Anything not listed here is
// discarded by the engine as an idempotent no-op. Pending accepts succeeded
// directly: gateways may settle without ever emitting an intermediate
// verifying/processing event, and a lost processing webhook must not strand
// the money.
var transitions = map[State][]State{
	StatePending:    {StateProcessing, StateSucceeded, StateCancelled, StateFailed},
	StateProcessing: {StateSucceeded, StateFailed, StateCancelled},
	StateSucceeded:  {StateRefunded},
}

// CanTransition reports whether next is a legal edge from s.
func (s State) CanTransition(next State) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// providerVocab maps each rail's raw status vocabulary onto canonical states.
// Lookups fall back to genericVocab, then to StateUnknown; Normalize is total.
var providerVocab = map[string]map[string]State{
	KeyKhipu: {
		"pending":   StatePending,
		"verifying": StateProcessing,
		"done":      StateSucceeded,
		"expired":   StateCancelled,
		"rejected":  StateFailed,
		"reversed":  StateRefunded,
	},
	KeyCafeteria: {
		"created":    StatePending,
		"processing": StateProcessing,
		"paid":       StateSucceeded,
		"declined":   StateFailed,
		"cancelled":  StateCancelled,
		"refunded":   StateRefunded,
	},
}

// genericVocab covers the synonyms common across gateway APIs.
var genericVocab = map[string]State{
	"requires_payment_method": StatePending,
	"requires_confirmation":   StatePending,
	"requires_action":         StatePending,
	"created":                 StatePending,
	"pending":                 StatePending,
	"processing":              StateProcessing,
	"approved":                StateProcessing,
	"succeeded":               StateSucceeded,
	"success":                 StateSucceeded,
	"successful":              StateSucceeded,
	"completed":               StateSucceeded,
	"paid":                    StateSucceeded,
	"settled":                 StateSucceeded,
	"failed":                  StateFailed,
	"error":                   StateFailed,
	"declined":                StateFailed,
	"deny":                    StateFailed,
	"canceled":                StateCancelled,
	"cancelled":               StateCancelled,
	"voided":                  StateCancelled,
	"expired":                 StateCancelled,
	"refunded":                StateRefunded,
}

// Normalize maps a raw provider status string onto a canonical State. It is
// total: unrecognised, empty or garbage input yields StateUnknown rather than
// an error, which lets the webhook path shrug off attacker-controlled bytes.
func Normalize(providerKey, raw string) State {
	needle := strings.ToLower(strings.TrimSpace(raw))
	if needle == "" {
		return StateUnknown
	}
	if vocab, ok := providerVocab[strings.ToLower(strings.TrimSpace(providerKey))]; ok {
		if state, ok := vocab[needle]; ok {
			return state
		}
	}
	if state, ok := genericVocab[needle]; ok {
		return state
	}
	return StateUnknown
}
