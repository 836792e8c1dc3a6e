package loader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/timbouc/cart/internal/domain"
	"github.com/timbouc/cart/internal/storage"
	"github.com/timbouc/cart/internal/storage/memory"
)

// countingStorage records calls and can be told to fail writes.
type countingStorage struct {
	*memory.Storage
	gets atomic.Int32
	puts atomic.Int32

	mu     sync.Mutex
	putErr error
}

func newCountingStorage() *countingStorage {
	return &countingStorage{Storage: memory.New()}
}

func (c *countingStorage) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets.Add(1)
	return c.Storage.Get(ctx, key)
}

func (c *countingStorage) Put(ctx context.Context, key string, value []byte) error {
	c.puts.Add(1)
	c.mu.Lock()
	err := c.putErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Storage.Put(ctx, key, value)
}

func (c *countingStorage) failPuts(err error) {
	c.mu.Lock()
	c.putErr = err
	c.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func contentWith(itemIDs ...string) *domain.CartContent {
	c := domain.NewContent()
	for _, id := range itemIDs {
		c.Items = append(c.Items, domain.CartItem{ItemID: id, ID: "p" + id, Price: decimal.NewFromInt(10), Quantity: 1})
	}
	return c
}

// ============================================================================
// Reads
// ============================================================================

func TestGet_MissingSessionIsEmpty(t *testing.T) {
	l := New(memory.New(), "s1", Options{Logger: testLogger()})

	got, err := l.Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Items)
	assert.Empty(t, got.Conditions)
	assert.True(t, got.Total.IsZero())
}

func TestGet_ReadThrottle(t *testing.T) {
	store := newCountingStorage()
	l := New(store, "s1", Options{ReadWait: time.Hour, Logger: testLogger()})
	ctx := context.Background()

	_, err := l.Get(ctx)
	require.NoError(t, err)
	_, err = l.Get(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 1, store.gets.Load())
}

func TestGet_NoReadThrottle(t *testing.T) {
	store := newCountingStorage()
	l := New(store, "s1", Options{Logger: testLogger()})
	ctx := context.Background()

	_, err := l.Get(ctx)
	require.NoError(t, err)
	_, err = l.Get(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 2, store.gets.Load())
}

func TestGet_ReadWindowExpires(t *testing.T) {
	store := newCountingStorage()
	l := New(store, "s1", Options{ReadWait: time.Second, Logger: testLogger()})
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := l.Get(ctx)
	require.NoError(t, err)
	now = now.Add(2 * time.Second)
	_, err = l.Get(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 2, store.gets.Load())
}

func TestGet_ReturnsCopy(t *testing.T) {
	l := New(memory.New(), "s1", Options{ReadWait: time.Hour, Logger: testLogger()})
	ctx := context.Background()
	require.NoError(t, l.Set(ctx, contentWith("1")))

	got, err := l.Get(ctx)
	require.NoError(t, err)
	got.Items[0].Quantity = 99

	again, err := l.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Items[0].Quantity)
}

// ============================================================================
// Writes
// ============================================================================

func TestSet_SynchronousWithoutWriteWait(t *testing.T) {
	store := newCountingStorage()
	l := New(store, "s1", Options{Logger: testLogger()})

	require.NoError(t, l.Set(context.Background(), contentWith("1")))

	assert.EqualValues(t, 1, store.puts.Load())
	ok, err := store.Has(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSet_SynchronousErrorIsReturned(t *testing.T) {
	store := newCountingStorage()
	store.failPuts(storage.IO("put", errors.New("disk full")))
	l := New(store, "s1", Options{Logger: testLogger()})

	err := l.Set(context.Background(), contentWith("1"))
	assert.ErrorIs(t, err, storage.ErrIO)
}

func TestLoadAndSave_Spans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	store := newCountingStorage()
	l := New(store, "s1", Options{Logger: testLogger()})

	_, err := l.Get(context.Background())
	require.NoError(t, err)
	store.failPuts(storage.IO("put", errors.New("disk full")))
	require.Error(t, l.Set(context.Background(), contentWith("1")))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "cart.load", spans[0].Name)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	assert.Equal(t, "cart.save", spans[1].Name)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
}

func TestSet_CoalescesWrites(t *testing.T) {
	store := newCountingStorage()
	l := New(store, "s1", Options{WriteWait: 20 * time.Millisecond, Logger: testLogger()})
	ctx := context.Background()

	require.NoError(t, l.Set(ctx, contentWith("1")))
	require.NoError(t, l.Set(ctx, contentWith("1", "2")))
	require.NoError(t, l.Set(ctx, contentWith("1", "2", "3")))
	assert.EqualValues(t, 0, store.puts.Load())

	assert.Eventually(t, func() bool { return store.puts.Load() == 1 }, time.Second, 5*time.Millisecond)

	fresh := New(store, "s1", Options{Logger: testLogger()})
	got, err := fresh.Get(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Items, 3)
}

func TestGet_ServesPendingWriteInsideReadWindow(t *testing.T) {
	store := newCountingStorage()
	l := New(store, "s1", Options{ReadWait: time.Second, WriteWait: time.Hour, Logger: testLogger()})
	ctx := context.Background()

	for i := range 3 {
		require.NoError(t, l.Set(ctx, contentWith(strconv.Itoa(i+1))))
		got, err := l.Get(ctx)
		require.NoError(t, err)
		assert.Len(t, got.Items, 1)
	}

	assert.Zero(t, store.puts.Load(), "writes stay buffered until the window closes")
	assert.Zero(t, store.gets.Load())
}

func TestGet_FlushesPendingWriteWhenReadWindowExpires(t *testing.T) {
	store := newCountingStorage()
	l := New(store, "s1", Options{ReadWait: time.Second, WriteWait: time.Hour, Logger: testLogger()})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, l.Set(ctx, contentWith("1")))
	now = now.Add(2 * time.Second)

	got, err := l.Get(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)
	assert.EqualValues(t, 1, store.puts.Load())
	assert.EqualValues(t, 1, store.gets.Load())
}

func TestSet_AsyncErrorSurfacesOnNextCall(t *testing.T) {
	store := newCountingStorage()
	store.failPuts(storage.IO("put", errors.New("connection refused")))
	l := New(store, "s1", Options{WriteWait: 10 * time.Millisecond, Logger: testLogger()})
	ctx := context.Background()

	require.NoError(t, l.Set(ctx, contentWith("1")))
	assert.Eventually(t, func() bool { return store.puts.Load() >= 1 }, time.Second, 5*time.Millisecond)

	// Give the timer goroutine time to record the failure after Put returned.
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.asyncErr != nil
	}, time.Second, 5*time.Millisecond)

	err := l.Flush(ctx)
	assert.ErrorIs(t, err, storage.ErrIO)

	store.failPuts(nil)
	assert.NoError(t, l.Flush(ctx), "the pending content is retried")
	ok, err := store.Has(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
}

// ============================================================================
// Session and storage switching
// ============================================================================

func TestKey_FlushesAndSwitchesSession(t *testing.T) {
	store := newCountingStorage()
	l := New(store, "s1", Options{WriteWait: time.Hour, ReadWait: time.Hour, Logger: testLogger()})
	ctx := context.Background()

	require.NoError(t, l.Set(ctx, contentWith("1")))
	require.NoError(t, l.Key(ctx, "s2"))
	assert.Equal(t, "s2", l.SessionKey())

	got, err := l.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Items, "new session starts empty")

	ok, err := store.Has(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok, "previous session was flushed")
}

func TestUse_SwitchesStorage(t *testing.T) {
	first, second := memory.New(), memory.New()
	l := New(first, "s1", Options{WriteWait: time.Hour, Logger: testLogger()})
	ctx := context.Background()

	require.NoError(t, l.Set(ctx, contentWith("1")))
	require.NoError(t, l.Use(ctx, second))
	assert.Same(t, second, l.Storage())

	assert.Equal(t, 1, first.Len())
	got, err := l.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Items)
}

func TestClose_Flushes(t *testing.T) {
	store := newCountingStorage()
	l := New(store, "s1", Options{WriteWait: time.Hour, Logger: testLogger()})
	ctx := context.Background()

	require.NoError(t, l.Set(ctx, contentWith("1")))
	require.NoError(t, l.Close(ctx))
	assert.EqualValues(t, 1, store.puts.Load())

	require.NoError(t, l.Close(ctx))
	assert.EqualValues(t, 1, store.puts.Load(), "nothing pending")
}
