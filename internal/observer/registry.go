package observer

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const sendBufferSize = 32

// Connection is one observer client.
type Connection struct {
	ID      string
	Subject string
	Meta    map[string]string

	send    chan []byte
	limiter *rate.Limiter
	once    sync.Once
}

// NewConnection allows maxPerSecond messages per second with an equal burst.
func NewConnection(subject string, meta map[string]string, maxPerSecond int) *Connection {
	if maxPerSecond <= 0 {
		maxPerSecond = DefaultMaxMessagesPerSecond
	}
	return &Connection{
		ID:      uuid.NewString(),
		Subject: subject,
		Meta:    meta,
		send:    make(chan []byte, sendBufferSize),
		limiter: rate.NewLimiter(rate.Limit(maxPerSecond), maxPerSecond),
	}
}

// Allow records one inbound message and reports whether it is within the rate.
func (c *Connection) Allow() bool {
	return c.limiter.Allow()
}

// Enqueue drops the payload when the client is not keeping up.
func (c *Connection) Enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Connection) close() {
	c.once.Do(func() { close(c.send) })
}

// Registry tracks live connections keyed by connection id.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID] = conn
}

// Remove unregisters a connection and closes its send queue.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if ok {
		conn.close()
	}
}

// Broadcast sends payload to every connection and returns how many accepted it.
func (r *Registry) Broadcast(payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	delivered := 0
	for _, conn := range r.conns {
		if conn.Enqueue(data) {
			delivered++
		}
	}
	return delivered, nil
}

// Subjects lists the subjects of live connections, sorted.
func (r *Registry) Subjects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subjects := make([]string, 0, len(r.conns))
	for _, conn := range r.conns {
		subjects = append(subjects, conn.Subject)
	}
	sort.Strings(subjects)
	return subjects
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
