package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, ok, err := s.Get(ctx, "expenses")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "expenses", "[]"))
	v, ok, err := s.Get(ctx, "expenses")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[]", v)

	require.NoError(t, s.Set(ctx, "expenses", `[{"id":1}]`))
	v, _, _ = s.Get(ctx, "expenses")
	assert.Equal(t, `[{"id":1}]`, v)

	require.NoError(t, s.Remove(ctx, "expenses"))
	_, ok, _ = s.Get(ctx, "expenses")
	assert.False(t, ok)

	assert.NoError(t, s.Remove(ctx, "missing"))
}
