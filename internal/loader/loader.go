// Package loader buffers one cart session between the cart operations and its
// storage. Reads are throttled on the leading edge and writes on the trailing
// edge, so a burst of mutations results in a single storage write.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/timbouc/cart/internal/domain"
	"github.com/timbouc/cart/internal/storage"
	apperrors "github.com/timbouc/cart/pkg/errors"
	"github.com/timbouc/cart/pkg/tracing"
)

const tracerScope = "github.com/timbouc/cart/internal/loader"

// Options configures a Loader.
type Options struct {
	// ReadWait is the minimum interval between two storage reads. Zero reads on every Get.
	ReadWait time.Duration
	// WriteWait delays and coalesces writes. Zero writes synchronously on every Set.
	WriteWait time.Duration
	Logger    *slog.Logger
}

// Loader is safe for concurrent use.
type Loader struct {
	mu       sync.Mutex
	store    storage.Storage
	key      string
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
	content  *domain.CartContent
	readAt   time.Time
	loaded   bool
	dirty    bool
	timer    *time.Timer
	asyncErr error
}

// New creates a loader for session key backed by store.
func New(store storage.Storage, key string, opts Options) *Loader {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		store:  store,
		key:    key,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// SessionKey returns the current session key.
func (l *Loader) SessionKey() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.key
}

// Storage returns the backing storage.
func (l *Loader) Storage() storage.Storage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store
}

// Get returns a copy of the session content. A session with nothing stored
// yields an empty cart.
func (l *Loader) Get(ctx context.Context) (*domain.CartContent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.takeAsyncErr(); err != nil {
		return nil, err
	}
	if l.loaded && l.opts.ReadWait > 0 && l.now().Sub(l.readAt) < l.opts.ReadWait {
		return l.content.Clone(), nil
	}

	// Pending content goes out before storage is read back.
	if err := l.flushLocked(ctx); err != nil {
		return nil, err
	}
	content, err := l.read(ctx)
	if err != nil {
		return nil, err
	}
	l.content = content
	l.readAt = l.now()
	l.loaded = true
	return content.Clone(), nil
}

// Set replaces the session content.
func (l *Loader) Set(ctx context.Context, content *domain.CartContent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.takeAsyncErr(); err != nil {
		return err
	}

	l.content = content.Clone()
	l.loaded = true
	l.readAt = l.now()
	l.dirty = true

	if l.opts.WriteWait <= 0 {
		return l.flushLocked(ctx)
	}
	if l.timer == nil {
		l.timer = time.AfterFunc(l.opts.WriteWait, l.flushAsync)
	}
	return nil
}

// Flush writes any pending content now.
func (l *Loader) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeAsyncErr(); err != nil {
		return err
	}
	return l.flushLocked(ctx)
}

// Key flushes pending content and switches to another session.
func (l *Loader) Key(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.flushLocked(ctx); err != nil {
		return err
	}
	l.key = key
	l.reset()
	return nil
}

// Use flushes pending content and switches the backing storage.
func (l *Loader) Use(ctx context.Context, store storage.Storage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.flushLocked(ctx); err != nil {
		return err
	}
	l.store = store
	l.reset()
	return nil
}

// Close flushes pending content. The loader stays usable.
func (l *Loader) Close(ctx context.Context) error {
	return l.Flush(ctx)
}

func (l *Loader) reset() {
	l.content = nil
	l.loaded = false
	l.readAt = time.Time{}
	l.asyncErr = nil
}

func (l *Loader) takeAsyncErr() error {
	err := l.asyncErr
	l.asyncErr = nil
	return err
}

func (l *Loader) flushAsync() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timer = nil
	if !l.dirty {
		return
	}
	if err := l.write(context.Background()); err != nil {
		l.logger.Error("failed to write cart session",
			slog.String("session", l.key),
			slog.String("error", err.Error()),
		)
		l.asyncErr = err
	}
}

func (l *Loader) flushLocked(ctx context.Context) error {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if !l.dirty {
		return nil
	}
	return l.write(ctx)
}

func (l *Loader) write(ctx context.Context) (err error) {
	ctx, span := tracing.Start(ctx, tracerScope, "cart.save", attribute.String("cart.session_id", l.key))
	defer func() { tracing.End(span, err) }()

	raw, err := json.Marshal(l.content)
	if err != nil {
		return fmt.Errorf("marshal cart content: %w", err)
	}
	span.SetAttributes(attribute.Int("cart.bytes", len(raw)))
	if err := l.store.Put(ctx, l.key, raw); err != nil {
		return err
	}
	l.dirty = false
	return nil
}

func (l *Loader) read(ctx context.Context) (_ *domain.CartContent, err error) {
	ctx, span := tracing.Start(ctx, tracerScope, "cart.load", attribute.String("cart.session_id", l.key))
	defer func() { tracing.End(span, err) }()

	raw, err := l.store.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.NewContent(), nil
		}
		return nil, err
	}
	content := domain.NewContent()
	if err := json.Unmarshal(raw, content); err != nil {
		return nil, storage.IO("decode cart content", err)
	}
	if content.Items == nil {
		content.Items = []domain.CartItem{}
	}
	if content.Conditions == nil {
		content.Conditions = []domain.CartCondition{}
	}
	return content, nil
}
