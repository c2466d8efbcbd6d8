// Package metrics keeps observer counters and renders them in the
// Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type Registry struct {
	connectionsOpened atomic.Int64
	connectionsClosed atomic.Int64
	messagesRelayed   atomic.Int64
	runsBroadcasts    atomic.Int64
	rejections        sync.Map
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) IncConnectionOpened() {
	if r == nil {
		return
	}
	r.connectionsOpened.Add(1)
}

func (r *Registry) IncConnectionClosed() {
	if r == nil {
		return
	}
	r.connectionsClosed.Add(1)
}

func (r *Registry) IncMessageRelayed() {
	if r == nil {
		return
	}
	r.messagesRelayed.Add(1)
}

func (r *Registry) IncRunsBroadcast() {
	if r == nil {
		return
	}
	r.runsBroadcasts.Add(1)
}

// IncRejected counts a refused handshake or message by reason.
func (r *Registry) IncRejected(reason string) {
	if r == nil {
		return
	}
	if strings.TrimSpace(reason) == "" {
		reason = "unknown"
	}
	value, _ := r.rejections.LoadOrStore(reason, &atomic.Int64{})
	value.(*atomic.Int64).Add(1)
}

// Rejected returns the count recorded for reason.
func (r *Registry) Rejected(reason string) int64 {
	if r == nil {
		return 0
	}
	value, ok := r.rejections.Load(reason)
	if !ok {
		return 0
	}
	return value.(*atomic.Int64).Load()
}

func (r *Registry) ConnectionsOpened() int64 {
	if r == nil {
		return 0
	}
	return r.connectionsOpened.Load()
}

func (r *Registry) MessagesRelayed() int64 {
	if r == nil {
		return 0
	}
	return r.messagesRelayed.Load()
}

// WritePrometheus renders all counters plus the active connection gauge.
func (r *Registry) WritePrometheus(writer io.Writer, activeConnections int) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "orchestra_observer_connections_opened_total", "Observer connections accepted", r.connectionsOpened.Load())
	writeCounter(writer, "orchestra_observer_connections_closed_total", "Observer connections closed", r.connectionsClosed.Load())
	writeCounter(writer, "orchestra_observer_messages_relayed_total", "Client messages broadcast to observers", r.messagesRelayed.Load())
	writeCounter(writer, "orchestra_observer_runs_broadcasts_total", "Ledger change broadcasts", r.runsBroadcasts.Load())

	writeHelp(writer, "orchestra_observer_connections", "Observer connections currently open")
	fmt.Fprintln(writer, "# TYPE orchestra_observer_connections gauge")
	fmt.Fprintf(writer, "orchestra_observer_connections %d\n", activeConnections)

	reasons := r.rejectionReasons()
	sort.Strings(reasons)
	writeHelp(writer, "orchestra_observer_rejections_total", "Refused handshakes and messages")
	fmt.Fprintln(writer, "# TYPE orchestra_observer_rejections_total counter")
	for _, reason := range reasons {
		fmt.Fprintf(writer, "orchestra_observer_rejections_total{reason=%s} %d\n", formatLabel(reason), r.Rejected(reason))
	}
	return nil
}

func (r *Registry) rejectionReasons() []string {
	var reasons []string
	r.rejections.Range(func(key, _ any) bool {
		if reason, ok := key.(string); ok {
			reasons = append(reasons, reason)
		}
		return true
	})
	return reasons
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
