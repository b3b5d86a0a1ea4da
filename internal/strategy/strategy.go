// Package strategy implements the pace-mode state machine: a closed set of
// modes, each carrying a fixed multiplier applied to optimal sector times,
// and the delay thresholds that drive automatic transitions.
package strategy

import (
	"fmt"
	"strings"
)

// Mode is a driving pace setting.
type Mode int

const (
	Economy Mode = iota
	Normal
	Attack
)

// Modes lists every valid mode in declaration order.
var Modes = []Mode{Economy, Normal, Attack}

// InvalidStrategyError reports an unknown mode name.
type InvalidStrategyError struct {
	Name string
}

func (e *InvalidStrategyError) Error() string {
	return fmt.Sprintf("invalid strategy %q", e.Name)
}

// Parse maps a mode name to a Mode.
func Parse(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "economy":
		return Economy, nil
	case "normal":
		return Normal, nil
	case "attack":
		return Attack, nil
	}
	return Normal, &InvalidStrategyError{Name: name}
}

func (m Mode) String() string {
	switch m {
	case Economy:
		return "economy"
	case Normal:
		return "normal"
	case Attack:
		return "attack"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Multiplier is the factor applied to optimal times under this mode.
func (m Mode) Multiplier() float64 {
	switch m {
	case Economy:
		return 0.85
	case Attack:
		return 1.2
	}
	return 1.0
}

// Valid reports whether m is one of the declared modes.
func (m Mode) Valid() bool {
	return m >= Economy && m <= Attack
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, &InvalidStrategyError{Name: m.String()}
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
