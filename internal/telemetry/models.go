package telemetry

import (
	"errors"
	"fmt"
	"time"

	"backend-etaone/internal/shared/geo"
	"backend-etaone/internal/strategy"
	"backend-etaone/internal/track"
)

// ErrUnknownSector is returned when a strategy change names a sector the
// track does not have.
var ErrUnknownSector = errors.New("unknown sector")

// StaleTimestampError rejects a position older than the last accepted one.
type StaleTimestampError struct {
	Timestamp    time.Time
	LastAccepted time.Time
}

func (e *StaleTimestampError) Error() string {
	return fmt.Sprintf("stale position at %s, last accepted %s",
		e.Timestamp.Format(time.RFC3339Nano), e.LastAccepted.Format(time.RFC3339Nano))
}

// State is a point-in-time copy of the session record.
type State struct {
	LatestPosition   *geo.Coordinate  `json:"latestPosition"`
	StartedAt        *time.Time       `json:"startedAt"`
	CurrentSectorID  int              `json:"currentSectorId"`
	CurrentStrategy  strategy.Mode    `json:"currentStrategy"`
	Multiplier       float64          `json:"multiplier"`
	AccumulatedDelay float64          `json:"accumulatedDelay"`
	History          []geo.Coordinate `json:"history"`
	ReaderCount      int              `json:"readerCount"`
}

type Statistics struct {
	TotalPoints          int            `json:"totalPoints"`
	Elapsed              float64        `json:"elapsed"`
	AverageSpeed         float64        `json:"averageSpeed"`
	ConnectedReaders     int            `json:"connectedReaders"`
	Progress             float64        `json:"progress"`
	RemainingOptimalTime float64        `json:"remainingOptimalTime"`
	Level                strategy.Level `json:"level"`
}

// Snapshot is sent to a reader on (re)connect and on request.
type Snapshot struct {
	State      State      `json:"state"`
	Circuit    track.Info `json:"circuit"`
	Statistics Statistics `json:"statistics"`
}

// PositionUpdate is broadcast for every accepted position.
type PositionUpdate struct {
	geo.Coordinate
	SectorID         int      `json:"sectorId"`
	AccumulatedDelay float64  `json:"accumulatedDelay"`
	Speed            float64  `json:"speed"`
	Elapsed          float64  `json:"elapsedSinceStart"`
	// Heading is the bearing from the previous position in degrees, omitted
	// while the producer stays within GPS jitter.
	Heading          *float64 `json:"heading,omitempty"`
}

// SectorChange is broadcast when the nearest sector changes.
type SectorChange struct {
	From      int       `json:"from"`
	To        int       `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Elapsed   float64   `json:"elapsedSinceStart"`
}

// StrategyChange is broadcast for manual and automatic mode changes.
type StrategyChange struct {
	Mode       strategy.Mode `json:"mode"`
	SectorID   int           `json:"sectorId"`
	Multiplier float64       `json:"multiplier"`
	Timestamp  time.Time     `json:"timestamp"`
	Elapsed    float64       `json:"elapsedSinceStart"`
	Automatic  bool          `json:"automatic"`
}

// ErrorPayload is sent only to the reader whose request failed.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ExportDocument is the self-contained session export.
type ExportDocument struct {
	Session         State      `json:"session"`
	Statistics      Statistics `json:"statistics"`
	Circuit         track.Info `json:"circuit"`
	ExportTimestamp time.Time  `json:"exportTimestamp"`
}

// ExportFilename names an export by its date, e.g. eta-one-2025-06-05.json.
func ExportFilename(at time.Time, ext string) string {
	return "eta-one-" + at.UTC().Format("2006-01-02") + "." + ext
}
