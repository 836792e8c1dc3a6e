package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/timbouc/cart/pkg/errors"
)

func TestStorage_RoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	ok, err := s.Has(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, s.Put(ctx, "k", []byte(`{"a":1}`)))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	ok, err = s.Has(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "k"))
	assert.Equal(t, 0, s.Len())
}

func TestStorage_CopiesValues(t *testing.T) {
	s := New()
	ctx := context.Background()
	in := []byte(`{"a":1}`)
	require.NoError(t, s.Put(ctx, "k", in))
	in[2] = 'b'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	got[2] = 'c'

	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(again))
}

func TestStorage_Clear(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a", []byte(`1`)))
	require.NoError(t, s.Put(ctx, "b", []byte(`2`)))

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Len())
}
