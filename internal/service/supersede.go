package service

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"

	"github.com/kjstillabower/forecast-service/internal/models"
)

var errSuperseded = errors.New("superseded by a newer request for the same location")

// supersedeRegistry tracks the newest in-flight request per location.
// acquire cancels whichever request held the key before.
type supersedeRegistry struct {
	mu     sync.Mutex
	active map[string]*supersedeEntry
}

type supersedeEntry struct {
	cancel context.CancelCauseFunc
}

func newSupersedeRegistry() *supersedeRegistry {
	return &supersedeRegistry{
		active: make(map[string]*supersedeEntry),
	}
}

// acquire registers a request for key and returns its cancellable context.
// Caller must call release when the request finishes.
func (r *supersedeRegistry) acquire(ctx context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	entry := &supersedeEntry{cancel: cancel}

	r.mu.Lock()
	if prev, ok := r.active[key]; ok {
		prev.cancel(errSuperseded)
	}
	r.active[key] = entry
	r.mu.Unlock()

	return ctx, func() {
		r.mu.Lock()
		if r.active[key] == entry {
			delete(r.active, key)
		}
		r.mu.Unlock()
		cancel(nil)
	}
}

// inFlight returns the number of locations with a registered request.
func (r *supersedeRegistry) inFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// locationKey rounds coordinates to 4 decimals (~11 m).
func locationKey(req models.ForecastRequest) string {
	return roundCoord(*req.Latitude) + "," + roundCoord(*req.Longitude)
}

func roundCoord(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e4)/1e4, 'f', 4, 64)
}
