//go:build integration

package catalog_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-digital-store/internal/allocator"
	"github.com/ariefcatur/go-digital-store/internal/catalog"
	"github.com/ariefcatur/go-digital-store/internal/postgres"
)

// Run with: STORE_TEST_POSTGRES_DSN=postgres://... go test -tags integration ./internal/catalog/
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("STORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STORE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = postgres.Migrate(ctx, pool)
	require.NoError(t, err)
	return pool
}

func seedVariant(t *testing.T, s *catalog.PGStore, n int) catalog.Variant {
	t.Helper()
	ctx := context.Background()
	id := "var-" + uuid.NewString()
	require.NoError(t, s.UpsertVariant(ctx, catalog.Variant{ID: id, ProductID: "prod-1", ProductName: "Account", VariantName: "Gold"}))
	v, err := s.Variant(ctx, id)
	require.NoError(t, err)
	links := make([]catalog.Link, n)
	for i := range links {
		links[i] = catalog.Link{FilePath: fmt.Sprintf("/links/%s/%02d.txt", id, i)}
	}
	v, err = s.SwapLinks(ctx, v, links)
	require.NoError(t, err)
	return v
}

func TestPGStoreSwapLinksRevisionGuard(t *testing.T) {
	ctx := context.Background()
	s := &catalog.PGStore{DB: testPool(t)}
	v := seedVariant(t, s, 2)

	next, err := s.SwapLinks(ctx, v, []catalog.Link{{FilePath: "/a", IsUsed: true}})
	require.NoError(t, err)
	assert.NotEqual(t, v.Revision, next.Revision)
	assert.Equal(t, []catalog.Link{{FilePath: "/a", IsUsed: true}}, next.Links)

	_, err = s.SwapLinks(ctx, v, nil)
	assert.ErrorIs(t, err, catalog.ErrRevisionConflict)

	_, err = s.SwapLinks(ctx, catalog.Variant{ID: "missing-" + uuid.NewString(), Revision: "1"}, nil)
	assert.ErrorIs(t, err, catalog.ErrVariantNotFound)
}

func TestPGStoreClaimLinksPartial(t *testing.T) {
	ctx := context.Background()
	s := &catalog.PGStore{DB: testPool(t)}
	v := seedVariant(t, s, 2)

	c, err := s.ClaimLinks(ctx, v.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Available)
	assert.Equal(t, []string{v.Links[0].FilePath, v.Links[1].FilePath}, c.Paths)
	assert.Equal(t, "Account", c.Variant.ProductName)

	c, err = s.ClaimLinks(ctx, v.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, c.Paths)

	_, err = s.ClaimLinks(ctx, "missing-"+uuid.NewString(), 1)
	assert.ErrorIs(t, err, catalog.ErrVariantNotFound)
}

func TestPGStoreConcurrentClaimsNeverShareALink(t *testing.T) {
	ctx := context.Background()
	s := &catalog.PGStore{DB: testPool(t)}
	const links, buyers = 10, 25
	v := seedVariant(t, s, links)

	var (
		mu  sync.Mutex
		got = map[string]int{}
		wg  sync.WaitGroup
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := s.ClaimLinks(ctx, v.ID, 1)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, p := range c.Paths {
				got[p]++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, got, links)
	for p, n := range got {
		assert.Equal(t, 1, n, "link %s handed out %d times", p, n)
	}
}

func TestPGStoreClaimsAndReleasesDoNotDeadlock(t *testing.T) {
	ctx := context.Background()
	s := &catalog.PGStore{DB: testPool(t)}
	v := seedVariant(t, s, 4)
	a := allocator.New(s, 64, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				res, err := a.Allocate(ctx, allocator.Request{VariantID: v.ID, Quantity: 1})
				if err != nil {
					errs <- err
					return
				}
				paths := make([]string, 0, len(res.Links))
				for _, l := range res.Links {
					paths = append(paths, l.FilePath)
				}
				if err := a.Release(ctx, v.ID, paths); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "40P01" {
			t.Fatalf("deadlock between claim and release: %v", err)
		}
		assert.NoError(t, err)
	}

	final, err := s.Variant(ctx, v.ID)
	require.NoError(t, err)
	used, unused := catalog.Counts(final.Links)
	assert.Zero(t, used)
	assert.Equal(t, 4, unused)
}
