// Package stats provides a minimal metrics interface backed by go-metrics.
// We wrap go-metrics so callers get a receiver that can be passed down a
// call tree and scoped at each level, and so the dependency doesn't leak to
// anyone pulling kiln in as a library.
//
// Hierarchical names are stored with a '/' separator. Variadic name elements
// have '/' characters replaced rather than rejected, because some stat names
// are generated dynamically (pool and worker names).
package stats

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rcrowley/go-metrics"
)

// Stats users can either reference this global receiver or construct their own.
var CurrentStatsReceiver StatsReceiver = NilStatsReceiver()

// StatsReceiver registers and hands out instruments scoped to a namespace.
type StatsReceiver interface {
	// Return a stats receiver that will automatically namespace elements
	// with the given scope args.
	//
	//   statsReceiver.Scope("pool", "default").Gauge("workers")  // equivalent to
	//   statsReceiver.Gauge("pool", "default", "workers")
	Scope(scope ...string) StatsReceiver

	// Provides an event counter.
	Counter(name ...string) Counter

	// Provides a gauge holding an int64 value that can be set arbitrarily.
	Gauge(name ...string) Gauge

	// Removes the given named stats item if it exists.
	Remove(name ...string)

	// Render the current snapshot of all instruments as JSON.
	Render(pretty bool) []byte
}

type Counter interface {
	Inc(int64)
	Count() int64
	Clear()
}

type Gauge interface {
	Update(int64)
	Value() int64
}

// DefaultStatsReceiver returns a receiver over a fresh go-metrics registry.
func DefaultStatsReceiver() StatsReceiver {
	return &defaultStatsReceiver{registry: metrics.NewRegistry()}
}

// NilStatsReceiver discards everything but stays safe to call.
func NilStatsReceiver(scope ...string) StatsReceiver {
	return &nilStatsReceiver{}
}

type defaultStatsReceiver struct {
	mu       sync.Mutex
	registry metrics.Registry
	scope    []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{registry: s.registry, scope: append(append([]string{}, s.scope...), scope...)}
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.GetOrRegister(s.scoped(name), metrics.NewCounter).(metrics.Counter)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.GetOrRegister(s.scoped(name), metrics.NewGauge).(metrics.Gauge)
}

func (s *defaultStatsReceiver) Remove(name ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry.Unregister(s.scoped(name))
}

func (s *defaultStatsReceiver) Render(pretty bool) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := map[string]interface{}{}
	s.registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			snapshot[name] = m.Count()
		case metrics.Gauge:
			snapshot[name] = m.Value()
		}
	})
	var b []byte
	var err error
	if pretty {
		b, err = json.MarshalIndent(snapshot, "", "  ")
	} else {
		b, err = json.Marshal(snapshot)
	}
	if err != nil {
		return []byte("{}")
	}
	return b
}

func (s *defaultStatsReceiver) scoped(name []string) string {
	elems := append(append([]string{}, s.scope...), name...)
	for i, e := range elems {
		elems[i] = strings.Replace(e, "/", "_SLASH_", -1)
	}
	return strings.Join(elems, "/")
}

type nilStatsReceiver struct{}

func (s *nilStatsReceiver) Scope(scope ...string) StatsReceiver { return s }
func (s *nilStatsReceiver) Counter(name ...string) Counter      { return &nilCounter{} }
func (s *nilStatsReceiver) Gauge(name ...string) Gauge          { return &nilGauge{} }
func (s *nilStatsReceiver) Remove(name ...string)               {}
func (s *nilStatsReceiver) Render(pretty bool) []byte           { return []byte("{}") }

type nilCounter struct{}

func (c *nilCounter) Inc(int64)    {}
func (c *nilCounter) Count() int64 { return 0 }
func (c *nilCounter) Clear()       {}

type nilGauge struct{}

func (g *nilGauge) Update(int64) {}
func (g *nilGauge) Value() int64 { return 0 }
