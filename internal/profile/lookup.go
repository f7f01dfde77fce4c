package profile

import (
	"context"

	"github.com/connectmytask/taskui/internal/geocode"
)

// Lookup tracks one country lookup started by SelectCountry. Its accessors
// are meaningful once Done is closed.
type Lookup struct {
	Country string

	done    chan struct{}
	applied bool
	coords  geocode.Coordinates
	err     error
}

func newLookup(country string) *Lookup {
	return &Lookup{Country: country, done: make(chan struct{})}
}

func (l *Lookup) finish(applied bool, coords geocode.Coordinates, err error) {
	l.applied = applied
	l.coords = coords
	l.err = err
	close(l.done)
}

// Done is closed when the result has been applied or discarded.
func (l *Lookup) Done() <-chan struct{} { return l.done }

// Wait blocks until Done or ctx ends, returning ctx's error in the latter case.
func (l *Lookup) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Applied reports whether the result reached the draft. It is false when a
// newer selection, a re-initialize or Close superseded the lookup.
func (l *Lookup) Applied() bool { return l.applied }

// Coordinates returns what the geocoder answered.
func (l *Lookup) Coordinates() geocode.Coordinates { return l.coords }

// Err returns the geocoder's error, if any.
func (l *Lookup) Err() error { return l.err }
