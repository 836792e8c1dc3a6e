package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"

	apperrors "github.com/timbouc/cart/pkg/errors"
)

// BreakerConfig holds configuration for a storage circuit breaker.
type BreakerConfig struct {
	// Name identifies the breaker in metrics and logs.
	Name string

	// MaxRequests is the number of calls allowed while half-open. 0 means 1.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for clearing counts.
	Interval time.Duration

	// Timeout is how long the breaker stays open before moving to half-open.
	Timeout time.Duration

	// FailureRatio trips the breaker once failures/requests reaches it.
	FailureRatio float64

	// MinRequests is the number of calls needed before the ratio is evaluated.
	MinRequests uint32
}

// DefaultBreakerConfig returns sensible defaults for a remote storage.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// ErrBreakerOpen is wrapped in the error returned while the breaker is open.
var ErrBreakerOpen = gobreaker.ErrOpenState

var breakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "cart_storage_breaker_state",
		Help: "Current state of the storage circuit breaker (0=closed, 1=half-open, 2=open)",
	},
	[]string{"name"},
)

func init() {
	prometheus.MustRegister(breakerState)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// Breaker decorates a Storage with circuit breaker protection. A missing key
// is not counted as a failure.
type Breaker struct {
	next    Storage
	breaker *gobreaker.CircuitBreaker[any]
	name    string
}

var _ Storage = (*Breaker)(nil)

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(next Storage, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, apperrors.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("storage circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}

	breakerState.WithLabelValues(cfg.Name).Set(0)

	return &Breaker{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		name:    cfg.Name,
	}
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}

func (b *Breaker) Has(ctx context.Context, key string) (bool, error) {
	v, err := b.breaker.Execute(func() (any, error) {
		return b.next.Has(ctx, key)
	})
	if err != nil {
		return false, b.wrap("has", err)
	}
	return v.(bool), nil
}

func (b *Breaker) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.breaker.Execute(func() (any, error) {
		return b.next.Get(ctx, key)
	})
	if err != nil {
		return nil, b.wrap("get", err)
	}
	return v.([]byte), nil
}

func (b *Breaker) Put(ctx context.Context, key string, value []byte) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.next.Put(ctx, key, value)
	})
	return b.wrap("put", err)
}

func (b *Breaker) Delete(ctx context.Context, key string) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.next.Delete(ctx, key)
	})
	return b.wrap("delete", err)
}

func (b *Breaker) Clear(ctx context.Context) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.next.Clear(ctx)
	})
	return b.wrap("clear", err)
}

// wrap marks breaker rejections as IO failures and passes storage errors through.
func (b *Breaker) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return IO(b.name+" "+op, err)
	}
	return err
}
