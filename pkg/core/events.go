package core

import (
	"sync"
	"time"
)

// EventType identifies a lifecycle notification
type EventType int

const (
	EventDatasetCreated EventType = iota
	EventDatasetDeleted
	EventDatasetLoaded
	EventDatasetSaved
	EventDatasetModified
	EventDatasetQueried
	EventAlgorithmStarted
	EventAlgorithmCompleted
	EventPipelineCompleted
)

// String returns the string representation of the event type
func (t EventType) String() string {
	switch t {
	case EventDatasetCreated:
		return "dataset_created"
	case EventDatasetDeleted:
		return "dataset_deleted"
	case EventDatasetLoaded:
		return "dataset_loaded"
	case EventDatasetSaved:
		return "dataset_saved"
	case EventDatasetModified:
		return "dataset_modified"
	case EventDatasetQueried:
		return "dataset_queried"
	case EventAlgorithmStarted:
		return "algorithm_started"
	case EventAlgorithmCompleted:
		return "algorithm_completed"
	case EventPipelineCompleted:
		return "pipeline_completed"
	default:
		return "unknown"
	}
}

// Event is a notification about a dataset, algorithm or pipeline.
// Algorithm and pipeline events fill Name, Duration, Success and Err.
type Event struct {
	Type     EventType
	Dataset  string
	Kind     Kind
	Name     string
	Duration time.Duration
	Success  bool
	Err      error
	Time     time.Time
}

// Listener receives events synchronously on the emitting goroutine
type Listener func(Event)

// Emitter fans events out to listeners registered on one store or catalog
// instance. A nil *Emitter is valid and drops everything.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[uint64]Listener
	next      uint64
}

// NewEmitter creates an emitter with no listeners
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[uint64]Listener)}
}

// Subscribe registers l and returns a function that removes it
func (e *Emitter) Subscribe(l Listener) (unsubscribe func()) {
	if e == nil || l == nil {
		return func() {}
	}

	e.mu.Lock()
	id := e.next
	e.next++
	e.listeners[id] = l
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

// Channel returns a buffered channel receiving every event. Events are
// dropped when the buffer is full. cancel unsubscribes and closes the channel.
func (e *Emitter) Channel(buffer int) (events <-chan Event, cancel func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	var mu sync.Mutex
	closed := false
	unsubscribe := e.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
		}
	})

	return ch, func() {
		unsubscribe()
		mu.Lock()
		if !closed {
			closed = true
			close(ch)
		}
		mu.Unlock()
	}
}

// Emit delivers ev to every listener
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	e.mu.RLock()
	listeners := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		listeners = append(listeners, l)
	}
	e.mu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

// EmitDataset is shorthand for a dataset lifecycle event
func (e *Emitter) EmitDataset(t EventType, name string, kind Kind) {
	e.Emit(Event{Type: t, Dataset: name, Kind: kind, Success: true})
}
