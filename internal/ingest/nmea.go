package ingest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"backend-etaone/internal/shared/geo"

	nmea "github.com/adrianmo/go-nmea"
)

var (
	// ErrNoFix is returned for sentences flagged as not carrying a valid fix.
	ErrNoFix = errors.New("nmea: no fix")
	// ErrUnsupportedSentence is returned for sentence types other than RMC and GGA.
	ErrUnsupportedSentence = errors.New("nmea: unsupported sentence")
	// ErrDuplicateFix is returned for a sentence reporting the same epoch as
	// the last decoded one; receivers send RMC and GGA for every fix.
	ErrDuplicateFix = errors.New("nmea: fix already decoded")
)

// hdopMeters converts horizontal dilution of precision to an approximate
// accuracy radius.
const hdopMeters = 5.0

// Decoder turns RMC and GGA sentences into coordinates. GGA carries no date,
// so the decoder reuses the date of the last RMC it saw, falling back to the
// current UTC date. Each fix epoch is decoded once, whichever sentence
// reports it first.
type Decoder struct {
	now func() time.Time

	mu      sync.Mutex
	date    nmea.Date
	last    nmea.Time
	hasLast bool
}

func NewDecoder() *Decoder {
	return &Decoder{now: time.Now}
}

func (d *Decoder) Decode(line string) (geo.Coordinate, error) {
	sentence, err := nmea.Parse(line)
	if err != nil {
		return geo.Coordinate{}, err
	}

	switch m := sentence.(type) {
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			return geo.Coordinate{}, ErrNoFix
		}
		if m.Date.Valid {
			d.mu.Lock()
			d.date = m.Date
			d.mu.Unlock()
		}
		return d.coordinate(m.Latitude, m.Longitude, 0, m.Date, m.Time)

	case nmea.GGA:
		if m.FixQuality == nmea.Invalid {
			return geo.Coordinate{}, ErrNoFix
		}
		d.mu.Lock()
		date := d.date
		d.mu.Unlock()
		return d.coordinate(m.Latitude, m.Longitude, m.HDOP*hdopMeters, date, m.Time)
	}
	return geo.Coordinate{}, fmt.Errorf("%w: %s", ErrUnsupportedSentence, sentence.DataType())
}

func (d *Decoder) coordinate(lat, lon, accuracy float64, date nmea.Date, t nmea.Time) (geo.Coordinate, error) {
	c := geo.Coordinate{Lat: lat, Lon: lon, Accuracy: accuracy, Timestamp: d.timestamp(date, t)}
	if err := geo.Validate(c); err != nil {
		return geo.Coordinate{}, err
	}
	if t.Valid {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.hasLast && d.last == t {
			return geo.Coordinate{}, ErrDuplicateFix
		}
		d.last, d.hasLast = t, true
	}
	return c, nil
}

func (d *Decoder) timestamp(date nmea.Date, t nmea.Time) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	year, month, day := d.now().UTC().Date()
	if date.Valid {
		year, month, day = fullYear(date.YY), time.Month(date.MM), date.DD
	}
	return time.Date(year, month, day, t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}

// fullYear expands a two-digit NMEA year; 80-99 are 1900s.
func fullYear(yy int) int {
	if yy < 80 {
		return 2000 + yy
	}
	return 1900 + yy
}
