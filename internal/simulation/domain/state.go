package simulation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownState indicates a state name outside the catalog.
var ErrUnknownState = errors.New("simulation: unknown state")

// IntRange is a closed integer interval.
type IntRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// FloatRange is a closed float interval.
type FloatRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// State is a named physiological profile the generator draws from.
type State struct {
	Name      string     `json:"name"`
	HeartRate IntRange   `json:"heart_rate"`
	SpO2      IntRange   `json:"spo2"`
	TempSkin  FloatRange `json:"temp_skin"`
}

const (
	StateNormal   = "normal"
	StateCritical = "critical"
	StateDeath    = "death"
)

var states = map[string]State{
	StateNormal: {
		Name:      StateNormal,
		HeartRate: IntRange{Min: 60, Max: 100},
		SpO2:      IntRange{Min: 95, Max: 100},
		TempSkin:  FloatRange{Min: 36.0, Max: 37.5},
	},
	StateCritical: {
		Name:      StateCritical,
		HeartRate: IntRange{Min: 120, Max: 180},
		SpO2:      IntRange{Min: 70, Max: 89},
		TempSkin:  FloatRange{Min: 38.5, Max: 42.0},
	},
	StateDeath: {
		Name:      StateDeath,
		HeartRate: IntRange{Min: 0, Max: 30},
		SpO2:      IntRange{Min: 0, Max: 50},
		TempSkin:  FloatRange{Min: 30.0, Max: 35.0},
	},
}

// LookupState resolves a state by name, case-insensitively.
func LookupState(name string) (State, error) {
	state, ok := states[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return State{}, fmt.Errorf("%w: %q (available: %s)", ErrUnknownState, name, strings.Join(StateNames(), ", "))
	}
	return state, nil
}

// States lists the catalog in name order.
func States() []State {
	out := make([]State, 0, len(states))
	for _, name := range StateNames() {
		out = append(out, states[name])
	}
	return out
}

// StateNames lists catalog names in order.
func StateNames() []string {
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
