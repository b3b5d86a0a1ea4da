package producer

import (
	"context"
	"errors"
	"log"
	"time"

	"backend-etaone/internal/shared/geo"
	"backend-etaone/internal/telemetry"

	"github.com/tkrajina/gpxgo/gpx"
)

var ErrNoPoints = errors.New("gpx file has no track points")

// DefaultInterval spaces points that carry no timestamp.
const DefaultInterval = time.Second

// LoadGPX reads every track point of a GPX file in order. Files without
// tracks fall back to their routes.
func LoadGPX(path string) ([]geo.Coordinate, error) {
	doc, err := gpx.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return pointsOf(doc)
}

// ParseGPX is LoadGPX for data held in memory.
func ParseGPX(data []byte) ([]geo.Coordinate, error) {
	doc, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, err
	}
	return pointsOf(doc)
}

func pointsOf(doc *gpx.GPX) ([]geo.Coordinate, error) {
	var points []geo.Coordinate
	add := func(p gpx.GPXPoint) {
		c := geo.Coordinate{Lat: p.Latitude, Lon: p.Longitude, Timestamp: p.Timestamp}
		if p.HorizontalDilution.NotNull() {
			c.Accuracy = p.HorizontalDilution.Value() * 5
		}
		points = append(points, c)
	}
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			for _, p := range seg.Points {
				add(p)
			}
		}
	}
	if len(points) == 0 {
		for _, rte := range doc.Routes {
			for _, p := range rte.Points {
				add(p)
			}
		}
	}
	if len(points) == 0 {
		return nil, ErrNoPoints
	}
	return points, nil
}

type ReplayOptions struct {
	// Speed scales playback; 2 plays twice as fast. Zero means real time.
	Speed float64
	// Rebase shifts timestamps so the first point is sent with the current
	// time, keeping the recorded spacing.
	Rebase bool
	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Replay publishes points at their recorded pace and returns how many were
// sent.
func Replay(ctx context.Context, points []geo.Coordinate, pub Publisher, opts ReplayOptions) (int, error) {
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}

	var offset time.Duration
	base := opts.Now()
	sent := 0
	for i, p := range points {
		if i > 0 {
			gap := DefaultInterval
			if !p.Timestamp.IsZero() && !points[i-1].Timestamp.IsZero() {
				gap = p.Timestamp.Sub(points[i-1].Timestamp)
			}
			if gap < 0 {
				gap = 0
			}
			if err := opts.Sleep(ctx, time.Duration(float64(gap)/opts.Speed)); err != nil {
				return sent, err
			}
			offset += gap
		}

		if opts.Rebase || p.Timestamp.IsZero() {
			p.Timestamp = base.Add(offset)
		}
		if err := pub.PublishPosition(ctx, telemetry.NewPositionRequest(p)); err != nil {
			return sent, err
		}
		sent++
	}
	log.Printf("producer: replayed %d points", sent)
	return sent, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
