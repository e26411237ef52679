package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRejectsStaleRevision(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Put(Variant{ID: "v1", Links: []Link{{FilePath: "a"}, {FilePath: "b"}}})

	first, err := s.Variant(ctx, "v1")
	require.NoError(t, err)
	second, err := s.Variant(ctx, "v1")
	require.NoError(t, err)

	_, err = s.SwapLinks(ctx, first, []Link{{FilePath: "a", IsUsed: true}, {FilePath: "b"}})
	require.NoError(t, err)

	_, err = s.SwapLinks(ctx, second, []Link{{FilePath: "a"}, {FilePath: "b", IsUsed: true}})
	assert.ErrorIs(t, err, ErrRevisionConflict)

	cur, err := s.Variant(ctx, "v1")
	require.NoError(t, err)
	used, unused := Counts(cur.Links)
	assert.Equal(t, 1, used)
	assert.Equal(t, 1, unused)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Put(Variant{ID: "v1", Links: []Link{{FilePath: "a"}}})

	v, err := s.Variant(ctx, "v1")
	require.NoError(t, err)
	v.Links[0].IsUsed = true

	again, err := s.Variant(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, again.Links[0].IsUsed)
}

func TestMemoryStoreUnknownVariant(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Variant(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrVariantNotFound)
	_, err = s.SwapLinks(context.Background(), Variant{ID: "nope"}, nil)
	assert.ErrorIs(t, err, ErrVariantNotFound)
}
