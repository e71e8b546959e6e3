package control

import (
	"sort"
	"sync"
	"time"
)

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

const (
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 30 * time.Second
)

// CircuitBreaker guards one module. Consecutive failures are counted per
// error class and the circuit opens when any class reaches the threshold.
// Once the cooldown has passed a single probe call is admitted; its outcome
// closes or reopens the circuit.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    CircuitState
	failures map[string]int
	openedAt time.Time
	class    string
	probing  bool
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     CircuitClosed,
		failures:  map[string]int{},
	}
}

func (b *CircuitBreaker) Threshold() int          { return b.threshold }
func (b *CircuitBreaker) Cooldown() time.Duration { return b.cooldown }

func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may start at now. While half-open only the
// probe already in flight is allowed.
func (b *CircuitBreaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if now.Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = CircuitHalfOpen
		b.probing = true
		return true
	default:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// Success closes the circuit and forgets past failures.
func (b *CircuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.class = ""
	b.probing = false
	clear(b.failures)
}

// Failure records a failed call and reports whether it opened the circuit.
func (b *CircuitBreaker) Failure(class string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if class == "" {
		class = "unknown"
	}
	if b.state == CircuitHalfOpen {
		b.open(class, now)
		return true
	}
	if b.state == CircuitOpen {
		return false
	}
	b.failures[class]++
	if b.failures[class] >= b.threshold {
		b.open(class, now)
		return true
	}
	return false
}

// Release gives back an admitted call whose outcome says nothing about the
// module, such as a cancelled run. A pending probe may be retried.
func (b *CircuitBreaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

func (b *CircuitBreaker) open(class string, now time.Time) {
	b.state = CircuitOpen
	b.openedAt = now
	b.class = class
	b.probing = false
}

// OpenedClass is the error class that last opened the circuit.
func (b *CircuitBreaker) OpenedClass() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.class
}

// Breakers hands out one breaker per module, created on first use. A nil
// *Breakers disables circuit breaking.
type Breakers struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	byModule map[string]*CircuitBreaker
}

// NewBreakers returns nil when threshold is not positive.
func NewBreakers(threshold int, cooldown time.Duration) *Breakers {
	if threshold <= 0 {
		return nil
	}
	return &Breakers{
		threshold: threshold,
		cooldown:  cooldown,
		byModule:  map[string]*CircuitBreaker{},
	}
}

func (s *Breakers) For(module string) *CircuitBreaker {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byModule[module]
	if !ok {
		b = NewCircuitBreaker(s.threshold, s.cooldown)
		s.byModule[module] = b
	}
	return b
}

// State reports the circuit state of module without creating a breaker.
func (s *Breakers) State(module string) CircuitState {
	if s == nil {
		return CircuitClosed
	}
	s.mu.Lock()
	b, ok := s.byModule[module]
	s.mu.Unlock()
	if !ok {
		return CircuitClosed
	}
	return b.State()
}

// Open lists modules whose circuit is not closed, sorted.
func (s *Breakers) Open() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name, b := range s.byModule {
		if b.State() != CircuitClosed {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
