package watcher

import (
	"sync"
	"time"

	"orchestra/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Event represents a single file change after debouncing.
type Event struct {
	Path      string
	Op        fsnotify.Op
	Timestamp time.Time
}

// Handle releases a registration.
type Handle interface {
	Close() error
}

// Options controls watcher behavior.
type Options struct {
	Logger   *logging.Logger
	Debounce time.Duration
}

// Metrics reports watcher counters.
type Metrics struct {
	WatchedDirs     int
	EventsDelivered uint64
	EventsDropped   uint64
	Errors          uint64
}

// Watcher is the fsnotify-backed implementation.
type Watcher struct {
	watcher   *fsnotify.Watcher
	mutex     sync.Mutex
	callbacks map[string][]callbackEntry
	dirs      map[string]int
	debouncer *debouncer
	events    chan fsnotify.Event
	errors    chan error
	done      chan struct{}
	closed    bool
	logger    *logging.Logger
	nextID    uint64

	eventsDelivered uint64
	eventsDropped   uint64
	errorCount      uint64
}

type callbackEntry struct {
	id       uint64
	callback func(Event)
}
