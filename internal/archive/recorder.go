package archive

import (
	"context"
	"log"
	"sync"
	"time"

	"backend-etaone/internal/stream"
	"backend-etaone/internal/telemetry"

	"github.com/google/uuid"
)

// Subscriber is the part of the hub the recorder listens on.
type Subscriber interface {
	Subscribe(kind stream.Kind, fn stream.Handler) func()
}

// Recorder builds the running session's timelines from hub events and
// archives the session when it is reset. Handlers run on the broadcasting
// goroutine, so saving happens in the background.
type Recorder struct {
	repo     Repository
	circuit  string
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	current *Record
	pending sync.WaitGroup
}

func NewRecorder(repo Repository, circuit string, capacity int) *Recorder {
	if capacity <= 0 {
		capacity = telemetry.DefaultHistoryCapacity
	}
	return &Recorder{repo: repo, circuit: circuit, capacity: capacity, now: time.Now}
}

// Attach subscribes the recorder to hub events and returns a detach func.
func (r *Recorder) Attach(hub Subscriber) func() {
	unsubs := []func(){
		hub.Subscribe(stream.KindPositionUpdate, r.onPosition),
		hub.Subscribe(stream.KindSectorChange, r.onSector),
		hub.Subscribe(stream.KindStrategyUpdate, r.onStrategy),
		hub.Subscribe(stream.KindSessionReset, func(stream.Envelope) { r.archive() }),
	}
	return func() {
		for _, fn := range unsubs {
			fn()
		}
	}
}

// Flush archives the session in progress, if any, and waits for pending
// saves.
func (r *Recorder) Flush(ctx context.Context) error {
	r.archive()

	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) session() *Record {
	if r.current == nil {
		r.current = &Record{Summary: Summary{Circuit: r.circuit}}
	}
	return r.current
}

func (r *Recorder) onPosition(env stream.Envelope) {
	upd, ok := env.Data.(telemetry.PositionUpdate)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.session()
	if rec.TotalPoints == 0 {
		rec.StartedAt = upd.Timestamp.Add(-time.Duration(upd.Elapsed * float64(time.Second)))
	}
	rec.TotalPoints++
	rec.EndedAt = upd.Timestamp
	rec.Positions = append(rec.Positions, upd.Coordinate)
	rec.Delays = append(rec.Delays, DelaySample{Timestamp: upd.Timestamp, SectorID: upd.SectorID, Delay: upd.AccumulatedDelay})
	if over := len(rec.Positions) - r.capacity; over > 0 {
		rec.Positions = rec.Positions[over:]
		rec.Delays = rec.Delays[over:]
	}
}

func (r *Recorder) onSector(env stream.Envelope) {
	evt, ok := env.Data.(telemetry.SectorChange)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.session()
	rec.Sectors = append(rec.Sectors, evt)
}

func (r *Recorder) onStrategy(env stream.Envelope) {
	evt, ok := env.Data.(telemetry.StrategyChange)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.session()
	rec.Strategies = append(rec.Strategies, evt)
}

// archive detaches the current session and saves it in the background when
// it recorded at least one position.
func (r *Recorder) archive() {
	r.mu.Lock()
	rec := r.current
	r.current = nil
	r.mu.Unlock()

	if rec == nil || rec.TotalPoints == 0 {
		return
	}
	rec.ID = uuid.NewString()
	rec.CreatedAt = r.now().UTC()

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.repo.Save(ctx, *rec); err != nil {
			log.Printf("archive: save session %s: %v", rec.ID, err)
			return
		}
		log.Printf("archive: session %s saved (%d points)", rec.ID, rec.TotalPoints)
	}()
}
