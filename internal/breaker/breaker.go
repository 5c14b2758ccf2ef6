// internal/breaker/breaker.go
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// State is the health of one remote dependency.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

const (
	defaultFailureThreshold = 3
	defaultCooldown         = 30 * time.Second
	defaultCallTimeout      = 5 * time.Second
)

// OpenError is returned when the breaker rejects a call without attempting it.
type OpenError struct {
	Service string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s: circuit breaker is open", e.Service)
}

// CallError wraps a remote call that was attempted and failed or timed out.
type CallError struct {
	Service string
	Err     error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.Service, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Breaker guards calls to one named remote dependency. It trips open after
// a run of consecutive failures and fails fast while open, re-admitting a
// trial call once the cooldown has elapsed. One Breaker is created per
// dependency at process start and shared by all requests.
type Breaker struct {
	service string
	tracer  trace.Tracer

	threshold int
	cooldown  time.Duration
	timeout   time.Duration
	now       func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures trip the breaker.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) { b.threshold = n }
}

// WithCooldown sets how long the breaker stays open before permitting a trial.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) { b.cooldown = d }
}

// WithCallTimeout bounds each guarded call.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Breaker) { b.timeout = d }
}

// New creates a closed breaker for the named service.
func New(service string, opts ...Option) *Breaker {
	b := &Breaker{
		service:   service,
		tracer:    otel.Tracer("librelend/breaker"),
		threshold: defaultFailureThreshold,
		cooldown:  defaultCooldown,
		timeout:   defaultCallTimeout,
		now:       time.Now,
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs fn under the breaker's policy. While open it rejects with
// *OpenError before any I/O happens; the attempt that finds the cooldown
// elapsed flips the state to half-open but is itself still rejected, so the
// next call becomes the trial. An attempted call that fails is wrapped in
// *CallError after the failure is recorded.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	ctx, span := b.tracer.Start(ctx, "breaker.execute",
		trace.WithAttributes(attribute.String("breaker.service", b.service)),
	)
	defer span.End()

	if err := b.admit(); err != nil {
		span.SetAttributes(attribute.Bool("breaker.rejected", true))
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	err := fn(callCtx)
	b.record(err == nil)

	if err != nil {
		span.RecordError(err)
		return &CallError{Service: b.service, Err: err}
	}
	return nil
}

// admit decides whether a call may proceed. The lock is released before any
// remote I/O happens.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) > b.cooldown {
			b.state = StateHalfOpen
		}
		return &OpenError{Service: b.service}
	}
	return nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.failures = 0
		}
		return
	}

	b.failures++
	b.lastFailure = b.now()
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
	}
}

// State reports the breaker's current health.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
