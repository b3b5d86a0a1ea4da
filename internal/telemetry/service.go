package telemetry

import (
	"fmt"
	"log"
	"sync"
	"time"

	"backend-etaone/internal/shared/geo"
	"backend-etaone/internal/strategy"
	"backend-etaone/internal/stream"
	"backend-etaone/internal/track"

	"github.com/tkrajina/gpxgo/gpx"
)

// Broadcaster fans envelopes out to readers without blocking.
type Broadcaster interface {
	Broadcast(env stream.Envelope, except string) int
}

type Options struct {
	HistoryCapacity int
	InitialStrategy strategy.Mode
	Now             func() time.Time
}

type session struct {
	latest    geo.Coordinate
	hasLatest bool
	startedAt time.Time
	started   bool
	sectorID  int
	mode      strategy.Mode
	delay     float64
	history   *History
	readers   int
}

// Service owns the session state. Every mutation and the broadcast it causes
// happen under one lock, so readers observe events in mutation order and a
// reset never interleaves with an ingest.
type Service struct {
	track  *track.Track
	engine *strategy.Engine
	hub    Broadcaster
	opts   Options

	mu    sync.RWMutex
	state *session
}

func NewService(tr *track.Track, engine *strategy.Engine, hub Broadcaster, opts Options) *Service {
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = DefaultHistoryCapacity
	}
	if !opts.InitialStrategy.Valid() {
		opts.InitialStrategy = strategy.Normal
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Service{
		track:  tr,
		engine: engine,
		hub:    hub,
		opts:   opts,
	}
	s.state = s.newSession()
	return s
}

func (s *Service) newSession() *session {
	return &session{
		mode:    s.opts.InitialStrategy,
		history: NewHistory(s.opts.HistoryCapacity),
	}
}

func (s *Service) Track() *track.Track {
	return s.track
}

// IngestPosition applies one producer fix. A zero timestamp is replaced by
// the arrival time. The position and any sector or automatic strategy change
// it causes go to every reader except origin.
func (s *Service) IngestPosition(coord geo.Coordinate, origin string) (PositionUpdate, error) {
	if err := geo.Validate(coord); err != nil {
		return PositionUpdate{}, err
	}
	if coord.Timestamp.IsZero() {
		coord.Timestamp = s.opts.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state

	if st.hasLatest && coord.Timestamp.Before(st.latest.Timestamp) {
		err := &StaleTimestampError{Timestamp: coord.Timestamp, LastAccepted: st.latest.Timestamp}
		log.Printf("telemetry: stale position dropped: %v", err)
		return PositionUpdate{}, err
	}

	prev, hadPrev := st.latest, st.hasLatest
	if !st.started {
		st.startedAt = coord.Timestamp
		st.started = true
		log.Printf("telemetry: session started at %s", coord.Timestamp.Format(time.RFC3339))
	}
	st.history.Push(coord)
	st.latest = coord
	st.hasLatest = true

	elapsed := coord.Timestamp.Sub(st.startedAt).Seconds()

	var sectorEvt *SectorChange
	if sector := s.track.NearestSector(coord); sector != st.sectorID {
		sectorEvt = &SectorChange{From: st.sectorID, To: sector, Timestamp: coord.Timestamp, Elapsed: elapsed}
		st.sectorID = sector
	}

	st.delay = elapsed - s.track.CumulativeOptimalTime(st.sectorID, st.mode.Multiplier())

	var strategyEvt *StrategyChange
	if next, fired := s.engine.Next(st.mode, st.delay); fired {
		log.Printf("telemetry: automatic strategy %s -> %s at delay %.1fs", st.mode, next, st.delay)
		st.mode = next
		strategyEvt = &StrategyChange{
			Mode:       next,
			SectorID:   st.sectorID,
			Multiplier: next.Multiplier(),
			Timestamp:  coord.Timestamp,
			Elapsed:    elapsed,
			Automatic:  true,
		}
	}

	update := PositionUpdate{
		Coordinate:       coord,
		SectorID:         st.sectorID,
		AccumulatedDelay: st.delay,
		Elapsed:          elapsed,
	}
	if hadPrev {
		update.Speed = geo.Speed(prev, coord)
		if geo.Distance(prev, coord) > geo.JitterFloorM {
			heading := geo.Bearing(prev, coord)
			update.Heading = &heading
		}
	}

	s.broadcast(stream.KindPositionUpdate, update, origin)
	if sectorEvt != nil {
		s.broadcast(stream.KindSectorChange, *sectorEvt, origin)
	}
	if strategyEvt != nil {
		s.broadcast(stream.KindStrategyUpdate, *strategyEvt, origin)
	}
	return update, nil
}

// ChangeStrategy applies a manual mode change and broadcasts it to every
// reader, the originator included. sectorID is optional.
func (s *Service) ChangeStrategy(name string, sectorID *int) (StrategyChange, error) {
	mode, err := strategy.Parse(name)
	if err != nil {
		return StrategyChange{}, err
	}
	if sectorID != nil && !s.track.Has(*sectorID) {
		return StrategyChange{}, fmt.Errorf("%w: %d", ErrUnknownSector, *sectorID)
	}

	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state

	st.mode = mode
	if sectorID != nil {
		st.sectorID = *sectorID
	}

	evt := StrategyChange{
		Mode:       mode,
		SectorID:   st.sectorID,
		Multiplier: mode.Multiplier(),
		Timestamp:  now,
	}
	if st.started {
		evt.Elapsed = now.Sub(st.startedAt).Seconds()
	}
	log.Printf("telemetry: strategy changed to %s (sector %d)", mode, st.sectorID)

	s.broadcast(stream.KindStrategyUpdate, evt, "")
	return evt, nil
}

// Reset replaces the session with a fresh one, keeping only the reader count,
// and notifies every reader.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	readers := s.state.readers
	s.state = s.newSession()
	s.state.readers = readers
	log.Println("telemetry: session reset")

	s.broadcast(stream.KindSessionReset, nil, "")
}

// Latest returns the last accepted position.
func (s *Service) Latest() (geo.Coordinate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.latest, s.state.hasLatest
}

// Snapshot returns a full copy of the session with derived statistics.
// Elapsed time is measured up to the latest accepted position, so repeated
// snapshots without an intervening mutation are identical.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, stats := s.copyState()
	return Snapshot{State: state, Circuit: s.track.Info(), Statistics: stats}
}

// SnapshotTo builds a snapshot and hands it to fn under the session lock, so
// no broadcast can be queued between building and delivering it. fn must not
// call back into the service.
func (s *Service) SnapshotTo(fn func(Snapshot)) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, stats := s.copyState()
	fn(Snapshot{State: state, Circuit: s.track.Info(), Statistics: stats})
}

// Export returns the session as a self-contained document.
func (s *Service) Export() ExportDocument {
	now := s.opts.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	state, stats := s.copyState()
	return ExportDocument{
		Session:         state,
		Statistics:      stats,
		Circuit:         s.track.Info(),
		ExportTimestamp: now.UTC(),
	}
}

// ExportGPX renders the position history as a GPX 1.1 track.
func (s *Service) ExportGPX() ([]byte, error) {
	s.mu.RLock()
	points := s.state.history.Slice()
	s.mu.RUnlock()

	seg := gpx.GPXTrackSegment{Points: make([]gpx.GPXPoint, 0, len(points))}
	for _, c := range points {
		seg.Points = append(seg.Points, gpx.GPXPoint{
			Point:     gpx.Point{Latitude: c.Lat, Longitude: c.Lon},
			Timestamp: c.Timestamp.UTC(),
		})
	}
	doc := gpx.GPX{
		Version: "1.1",
		Creator: "eta-one",
		Tracks: []gpx.GPXTrack{{
			Name:     s.track.Name,
			Segments: []gpx.GPXTrackSegment{seg},
		}},
	}
	return doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
}

func (s *Service) ReaderConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.readers++
}

func (s *Service) ReaderDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.readers > 0 {
		s.state.readers--
	}
	if s.state.readers == 0 && s.state.started {
		log.Printf("telemetry: last reader left, %d points collected", s.state.history.Len())
	}
}

// copyState must be called with s.mu held.
func (s *Service) copyState() (State, Statistics) {
	st := s.state
	state := State{
		CurrentSectorID:  st.sectorID,
		CurrentStrategy:  st.mode,
		Multiplier:       st.mode.Multiplier(),
		AccumulatedDelay: st.delay,
		History:          st.history.Slice(),
		ReaderCount:      st.readers,
	}
	if st.hasLatest {
		latest := st.latest
		state.LatestPosition = &latest
	}
	if st.started {
		started := st.startedAt
		state.StartedAt = &started
	}

	stats := Statistics{
		TotalPoints:          len(state.History),
		AverageSpeed:         averageSpeed(state.History),
		ConnectedReaders:     st.readers,
		Progress:             s.track.Progress(st.sectorID),
		RemainingOptimalTime: s.track.RemainingOptimalTime(st.sectorID, st.mode.Multiplier()),
		Level:                s.engine.Level(st.delay),
	}
	if st.started && st.hasLatest {
		stats.Elapsed = st.latest.Timestamp.Sub(st.startedAt).Seconds()
	}
	return state, stats
}

// averageSpeed is path length over time span of the history, in km/h. It
// sums the path rather than taking first-to-last displacement, which would
// read near zero after a closed lap.
func averageSpeed(points []geo.Coordinate) float64 {
	if len(points) < 2 {
		return 0
	}
	span := points[len(points)-1].Timestamp.Sub(points[0].Timestamp).Seconds()
	if span <= 0 {
		return 0
	}
	return geo.PathLength(points) / span * 3.6
}

// broadcast must be called with s.mu held.
func (s *Service) broadcast(kind stream.Kind, data any, except string) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(stream.Envelope{Type: kind, Data: data}, except)
}
