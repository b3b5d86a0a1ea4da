package archive

import (
	"context"
	"errors"
	"time"

	"backend-etaone/internal/shared/geo"
	"backend-etaone/internal/telemetry"
)

// DefaultLimit is the number of archived sessions kept.
const DefaultLimit = 50

var ErrNotFound = errors.New("session not found")

// DelaySample is the accumulated delay observed at one accepted position.
type DelaySample struct {
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	SectorID  int       `json:"sectorId" bson:"sector_id"`
	Delay     float64   `json:"delay" bson:"delay"`
}

// Summary is the list view of an archived session.
type Summary struct {
	ID          string    `json:"id" bson:"_id"`
	Circuit     string    `json:"circuit" bson:"circuit"`
	StartedAt   time.Time `json:"startedAt" bson:"started_at"`
	EndedAt     time.Time `json:"endedAt" bson:"ended_at"`
	CreatedAt   time.Time `json:"createdAt" bson:"created_at"`
	TotalPoints int       `json:"totalPoints" bson:"total_points"`
}

// Record is a completed session with its timelines.
type Record struct {
	Summary    `bson:",inline"`
	Positions  []geo.Coordinate           `json:"positions" bson:"positions"`
	Sectors    []telemetry.SectorChange   `json:"sectors" bson:"sectors"`
	Strategies []telemetry.StrategyChange `json:"strategies" bson:"strategies"`
	Delays     []DelaySample              `json:"delays" bson:"delays"`
}

// Repository stores completed sessions, keeping only the newest ones.
type Repository interface {
	Save(ctx context.Context, rec Record) error
	List(ctx context.Context) ([]Summary, error)
	Get(ctx context.Context, id string) (Record, error)
}
