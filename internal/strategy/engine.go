package strategy

// Thresholds are the delay bounds, in seconds, used by the engine.
type Thresholds struct {
	// Light: a delay below -Light while attacking returns to normal.
	Light float64
	// Critical separates a warning from a danger level.
	Critical float64
	// Urgent: a delay above it escalates to attack.
	Urgent float64
}

// DefaultThresholds mirrors the pit-wall alert levels: 2s, 5s, 10s.
func DefaultThresholds() Thresholds {
	return Thresholds{Light: 2, Critical: 5, Urgent: 10}
}

// Level classifies an accumulated delay.
type Level string

const (
	LevelOK      Level = "ok"
	LevelWarning Level = "warning"
	LevelDanger  Level = "danger"
)

// Engine evaluates automatic transitions. It holds no mode itself; the
// session owns the current mode and asks the engine what comes next.
type Engine struct {
	thresholds Thresholds
}

func NewEngine(th Thresholds) *Engine {
	return &Engine{thresholds: th}
}

// Next returns the mode to switch to for the given delay and whether a
// transition fires. Escalation goes to attack from any other mode;
// de-escalation only leaves attack, and only for normal.
func (e *Engine) Next(current Mode, delay float64) (Mode, bool) {
	if delay > e.thresholds.Urgent && current != Attack {
		return Attack, true
	}
	if delay < -e.thresholds.Light && current == Attack {
		return Normal, true
	}
	return current, false
}

// Level maps a delay to an alert level.
func (e *Engine) Level(delay float64) Level {
	switch {
	case delay < e.thresholds.Light:
		return LevelOK
	case delay < e.thresholds.Critical:
		return LevelWarning
	}
	return LevelDanger
}
