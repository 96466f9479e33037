// Package circuitbreaker stops calling a failing dependency for a cooldown
// period, then lets a single probe through to test recovery.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Do when the circuit for a key is rejecting calls.
var ErrOpen = errors.New("circuit open")

var transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gatewarden",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit state transitions by key and new state.",
}, []string{"key", "to"})

func init() {
	prometheus.MustRegister(transitionsTotal)
}

const (
	stateClosed = iota
	stateOpen
	stateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half_open"}

type circuit struct {
	state    int
	fails    int
	openedAt time.Time
	probing  bool
}

// Breaker holds one independent circuit per key. A circuit opens after
// trip consecutive failures and stays open for the cooldown; the first
// call after the cooldown runs as a probe while everyone else still gets
// ErrOpen. A successful probe closes the circuit, a failed one re-opens it.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	trip     int
	cooldown time.Duration
}

func New(trip int, cooldown time.Duration) *Breaker {
	if trip <= 0 {
		trip = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		circuits: make(map[string]*circuit),
		trip:     trip,
		cooldown: cooldown,
	}
}

// Do runs fn under the circuit for key. It returns ErrOpen without calling
// fn when the circuit is rejecting, otherwise it returns fn's error and
// updates the circuit from it.
func (b *Breaker) Do(key string, fn func() error) error {
	probe, ok := b.admit(key)
	if !ok {
		return ErrOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuits[key]
	if probe {
		c.probing = false
	}
	if err != nil {
		c.fails++
		if c.state == stateHalfOpen || (c.state == stateClosed && c.fails >= b.trip) {
			b.moveTo(key, c, stateOpen)
			c.openedAt = time.Now()
		}
		return err
	}
	c.fails = 0
	if c.state != stateClosed {
		b.moveTo(key, c, stateClosed)
	}
	return nil
}

// State reports the circuit state for key, "closed" for unseen keys.
func (b *Breaker) State(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[key]; ok {
		return stateNames[c.state]
	}
	return stateNames[stateClosed]
}

// admit decides whether a call may proceed and whether it is the recovery
// probe for a half-open circuit.
func (b *Breaker) admit(key string) (probe, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, seen := b.circuits[key]
	if !seen {
		c = &circuit{}
		b.circuits[key] = c
	}

	switch c.state {
	case stateClosed:
		return false, true
	case stateOpen:
		if time.Since(c.openedAt) < b.cooldown {
			return false, false
		}
		b.moveTo(key, c, stateHalfOpen)
		c.probing = true
		return true, true
	default: // half-open
		if c.probing {
			return false, false
		}
		c.probing = true
		return true, true
	}
}

// moveTo changes the circuit state. Caller holds b.mu.
func (b *Breaker) moveTo(key string, c *circuit, to int) {
	if c.state == to {
		return
	}
	c.state = to
	transitionsTotal.WithLabelValues(key, stateNames[to]).Inc()
}
