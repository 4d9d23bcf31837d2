package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/formly-app/formly/internal/bus"
)

// State represents the sync state of one local resource (a conversation or a
// formation).
type State string

const (
	Uninitialized State = "UNINITIALIZED"
	Loading       State = "LOADING"
	Ready         State = "READY"
	Syncing       State = "SYNCING"
	Error         State = "ERROR"
)

// Source says where the Ready data came from. Ready(cache) is the degraded
// but functional state: reads keep working, the data just isn't confirmed
// fresh.
type Source string

const (
	SourceNone   Source = ""
	SourceCache  Source = "cache"
	SourceServer Source = "server"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Uninitialized: {Loading, Error},
	Loading:       {Ready, Error},
	Ready:         {Syncing, Error},
	Syncing:       {Ready, Error},
	Error:         {Loading, Syncing},
}

// Snapshot is the externally visible state of one resource.
type Snapshot struct {
	State  State
	Source Source
}

// Tracker tracks and enforces per-resource sync state transitions. Resources
// start Uninitialized; every transition is published on the bus so the UI can
// render sync indicators without polling.
type Tracker struct {
	mu        sync.RWMutex
	resources map[string]Snapshot
	bus       *bus.Bus
}

// NewTracker creates an empty tracker.
func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{
		resources: make(map[string]Snapshot),
		bus:       b,
	}
}

// Get returns the current snapshot for a resource.
func (t *Tracker) Get(resource string) Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.resources[resource]; ok {
		return s
	}
	return Snapshot{State: Uninitialized}
}

// Transition attempts to move a resource to a new state. Returns an error if
// the transition is invalid.
func (t *Tracker) Transition(resource string, to State, source Source) error {
	t.mu.Lock()
	from := t.resources[resource]
	if from.State == "" {
		from.State = Uninitialized
	}

	allowed := validTransitions[from.State]
	if !slices.Contains(allowed, to) {
		t.mu.Unlock()
		return fmt.Errorf("invalid transition for %q from %s to %s", resource, from.State, to)
	}
	t.resources[resource] = Snapshot{State: to, Source: source}
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Publish(bus.Event{
			Kind:      "sync.status_changed",
			Timestamp: time.Now(),
			Payload: StatusChange{
				Resource: resource,
				From:     from.State,
				To:       to,
				Source:   source,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	Resource string
	From     State
	To       State
	Source   Source
}
