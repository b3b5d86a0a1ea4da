package track

import (
	"fmt"
	"math"

	"backend-etaone/internal/shared/geo"
)

// ConfigError reports a malformed track model. It is fatal at load.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "track config: " + e.Reason
}

// Point is a lat/lon pair without timing information.
type Point struct {
	Lat float64 `json:"lat" toml:"lat"`
	Lon float64 `json:"lon" toml:"lon"`
}

// Sector is a fixed track segment with its precomputed optimal traversal time.
type Sector struct {
	ID          int     `json:"id" toml:"id"`
	TargetSpeed float64 `json:"targetSpeed" toml:"target_speed"`
	Length      float64 `json:"length" toml:"length"`
	OptimalTime float64 `json:"optimalTime" toml:"optimal_time"`
	Start       Point   `json:"start" toml:"start"`
}

// Track is an immutable ordered sequence of sectors plus circuit metadata.
type Track struct {
	Name    string   `json:"name"`
	Country string   `json:"country,omitempty"`
	Center  Point    `json:"center"`
	Sectors []Sector `json:"sectors"`

	totalOptimal float64
	distance     float64
}

// New validates sectors and returns a Track. Sector ids must form the
// contiguous sequence 0..n-1 in ascending order.
func New(name, country string, center Point, sectors []Sector) (*Track, error) {
	if len(sectors) == 0 {
		return nil, &ConfigError{Reason: "no sectors"}
	}

	t := &Track{
		Name:    name,
		Country: country,
		Center:  center,
		Sectors: make([]Sector, len(sectors)),
	}
	for i, s := range sectors {
		if s.ID != i {
			return nil, &ConfigError{Reason: fmt.Sprintf("sector at position %d has id %d, want %d", i, s.ID, i)}
		}
		if s.OptimalTime < 0 || math.IsNaN(s.OptimalTime) {
			return nil, &ConfigError{Reason: fmt.Sprintf("sector %d has invalid optimal time %v", s.ID, s.OptimalTime)}
		}
		if err := geo.Validate(geo.Coordinate{Lat: s.Start.Lat, Lon: s.Start.Lon}); err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("sector %d start: %v", s.ID, err)}
		}
		t.Sectors[i] = s
		t.totalOptimal += s.OptimalTime
		t.distance += s.Length
	}
	return t, nil
}

// Len returns the number of sectors.
func (t *Track) Len() int {
	return len(t.Sectors)
}

// Has reports whether id names a sector of this track.
func (t *Track) Has(id int) bool {
	return id >= 0 && id < len(t.Sectors)
}

// TotalOptimalTime is the sum of every sector's optimal time at multiplier 1.
func (t *Track) TotalOptimalTime() float64 {
	return t.totalOptimal
}

// Distance is the sum of sector lengths in meters.
func (t *Track) Distance() float64 {
	return t.distance
}

// NearestSector returns the id of the sector whose start point is closest to
// pos. Ties go to the lowest id.
//
// This is a nearest-start-point approximation, not distance along the track:
// sectors whose starts are geometrically close can be misclassified.
func (t *Track) NearestSector(pos geo.Coordinate) int {
	best := 0
	bestDist := math.Inf(1)
	for _, s := range t.Sectors {
		d := geo.Distance(pos, geo.Coordinate{Lat: s.Start.Lat, Lon: s.Start.Lon})
		if d < bestDist {
			bestDist = d
			best = s.ID
		}
	}
	return best
}

// CumulativeOptimalTime sums OptimalTime*multiplier over sectors with
// id <= upto.
func (t *Track) CumulativeOptimalTime(upto int, multiplier float64) float64 {
	total := 0.0
	for i := 0; i <= upto && i < len(t.Sectors); i++ {
		total += t.Sectors[i].OptimalTime * multiplier
	}
	return total
}

// RemainingOptimalTime sums OptimalTime*multiplier over sectors with
// id >= from.
func (t *Track) RemainingOptimalTime(from int, multiplier float64) float64 {
	if from < 0 {
		from = 0
	}
	total := 0.0
	for i := from; i < len(t.Sectors); i++ {
		total += t.Sectors[i].OptimalTime * multiplier
	}
	return total
}

// Progress returns the share of the lap reached at sector id, in percent.
func (t *Track) Progress(id int) float64 {
	return float64(id+1) / float64(len(t.Sectors)) * 100
}

// Info is the JSON view of a track sent to readers as circuit config.
type Info struct {
	Name             string   `json:"name"`
	Country          string   `json:"country,omitempty"`
	Center           Point    `json:"center"`
	Distance         float64  `json:"distance"`
	TotalOptimalTime float64  `json:"totalOptimalTime"`
	Sectors          []Sector `json:"sectors"`
}

// Info returns a copy of the circuit configuration.
func (t *Track) Info() Info {
	sectors := make([]Sector, len(t.Sectors))
	copy(sectors, t.Sectors)
	return Info{
		Name:             t.Name,
		Country:          t.Country,
		Center:           t.Center,
		Distance:         t.distance,
		TotalOptimalTime: t.totalOptimal,
		Sectors:          sectors,
	}
}
