package resilience

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ServiceBreaker wraps gobreaker with kubeslot defaults and provides
// a simpler API for guarding cluster API calls.
type ServiceBreaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// BreakerOption configures a ServiceBreaker
type BreakerOption func(*gobreaker.Settings)

// WithMaxRequests sets the maximum number of requests allowed in half-open state
func WithMaxRequests(n uint32) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.MaxRequests = n
	}
}

// WithInterval sets the cyclic period of the closed state for clearing counts
func WithInterval(d time.Duration) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.Interval = d
	}
}

// WithTimeout sets the period of the open state before becoming half-open
func WithTimeout(d time.Duration) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.Timeout = d
	}
}

// WithFailureThreshold sets the number of consecutive failures before opening
func WithFailureThreshold(n uint32) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= n
		}
	}
}

// WithOnStateChange sets a callback for state changes
func WithOnStateChange(fn func(name string, from, to string)) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.OnStateChange = func(name string, from, to gobreaker.State) {
			fn(name, from.String(), to.String())
		}
	}
}

// NewServiceBreaker creates a circuit breaker with defaults sized for a
// short-lived CLI session: trip after 5 consecutive failures, stay open
// for 30s, allow 3 trial requests when half-open.
func NewServiceBreaker(name string, opts ...BreakerOption) *ServiceBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	for _, opt := range opts {
		opt(&settings)
	}

	return &ServiceBreaker{
		cb:   gobreaker.NewCircuitBreaker[any](settings),
		name: name,
	}
}

// Execute runs an operation through the circuit breaker.
// Returns an error if the circuit is open or if the operation fails.
func (b *ServiceBreaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// ExecuteWithResult runs an operation that returns a result through the circuit breaker.
func ExecuteWithResult[T any](b *ServiceBreaker, fn func() (T, error)) (T, error) {
	result, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// State returns the current state of the circuit breaker
func (b *ServiceBreaker) State() string {
	return b.cb.State().String()
}

// Name returns the name of the circuit breaker
func (b *ServiceBreaker) Name() string {
	return b.name
}

// IsOpen returns true if the circuit is open (blocking requests)
func (b *ServiceBreaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = fmt.Errorf("circuit breaker is open")

// clusterBreaker protects control-plane reads and writes; probeBreaker
// protects the per-pod health endpoint, which fails independently of
// the control plane.
var (
	clusterBreaker *ServiceBreaker
	probeBreaker   *ServiceBreaker
)

// GetClusterBreaker returns the shared cluster API circuit breaker
func GetClusterBreaker() *ServiceBreaker {
	if clusterBreaker == nil {
		clusterBreaker = NewServiceBreaker("cluster",
			WithFailureThreshold(5),
			WithTimeout(30*time.Second),
		)
	}
	return clusterBreaker
}

// GetProbeBreaker returns the shared health-probe circuit breaker
func GetProbeBreaker() *ServiceBreaker {
	if probeBreaker == nil {
		probeBreaker = NewServiceBreaker("probe",
			WithFailureThreshold(3),
			WithTimeout(60*time.Second),
		)
	}
	return probeBreaker
}
