package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-digital-store/internal/catalog"
)

func seed(t *testing.T, used []bool) *catalog.MemoryStore {
	t.Helper()
	links := make([]catalog.Link, len(used))
	for i, u := range used {
		links[i] = catalog.Link{FilePath: fmt.Sprintf("/links/%02d.txt", i), IsUsed: u}
	}
	s := catalog.NewMemoryStore()
	s.Put(catalog.Variant{ID: "var-1", ProductID: "prod-1", ProductName: "Account", VariantName: "Gold", Links: links})
	return s
}

func newTestAllocator(s catalog.Store) *Allocator {
	a := New(s, 64, nil)
	a.backoff = time.Millisecond
	return a
}

func TestAllocateEnoughLinks(t *testing.T) {
	ctx := context.Background()
	s := seed(t, []bool{false, false, false})
	a := newTestAllocator(s)

	res, err := a.Allocate(ctx, Request{ProductID: "prod-1", VariantID: "var-1", Quantity: 2})
	require.NoError(t, err)

	assert.True(t, res.HasEnoughLinks)
	assert.Equal(t, 3, res.AvailableCount)
	assert.Equal(t, 2, res.NeededCount)
	require.Len(t, res.Links, 2)
	assert.Equal(t, AllocatedLink{FilePath: "/links/00.txt", ProductName: "Account", VariantName: "Gold"}, res.Links[0])
	assert.Equal(t, "/links/01.txt", res.Links[1].FilePath)

	v, err := s.Variant(ctx, "var-1")
	require.NoError(t, err)
	used, unused := catalog.Counts(v.Links)
	assert.Equal(t, 2, used)
	assert.Equal(t, 1, unused)
}

func TestAllocatePartialWhenScarce(t *testing.T) {
	ctx := context.Background()
	s := seed(t, []bool{true, false, true})
	a := newTestAllocator(s)

	res, err := a.Allocate(ctx, Request{VariantID: "var-1", Quantity: 2})
	require.NoError(t, err)

	assert.False(t, res.HasEnoughLinks)
	assert.Equal(t, 1, res.AvailableCount)
	require.Len(t, res.Links, 1)
	assert.Equal(t, "/links/01.txt", res.Links[0].FilePath)
	assert.Equal(t, 1, res.Shortfall())

	v, err := s.Variant(ctx, "var-1")
	require.NoError(t, err)
	_, unused := catalog.Counts(v.Links)
	assert.Zero(t, unused)
}

func TestAllocateEmptyPoolWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := seed(t, []bool{true, true})
	before, _ := s.Variant(ctx, "var-1")
	a := newTestAllocator(s)

	res, err := a.Allocate(ctx, Request{VariantID: "var-1", Quantity: 1})
	require.NoError(t, err)
	assert.Empty(t, res.Links)
	assert.False(t, res.HasEnoughLinks)

	after, _ := s.Variant(ctx, "var-1")
	assert.Equal(t, before.Revision, after.Revision)
}

func TestAllocateDefaultsQuantityToOne(t *testing.T) {
	a := newTestAllocator(seed(t, []bool{false, false}))

	res, err := a.Allocate(context.Background(), Request{VariantID: "var-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.NeededCount)
	assert.Len(t, res.Links, 1)
}

func TestAllocateValidation(t *testing.T) {
	a := newTestAllocator(seed(t, []bool{false}))

	_, err := a.Allocate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrMissingVariant)

	_, err = a.Allocate(context.Background(), Request{ProductID: "other", VariantID: "var-1"})
	assert.ErrorIs(t, err, ErrProductMismatch)

	_, err = a.Allocate(context.Background(), Request{VariantID: "missing"})
	assert.ErrorIs(t, err, catalog.ErrVariantNotFound)
}

func TestAllocatePreservesLinkCount(t *testing.T) {
	ctx := context.Background()
	pools := [][]bool{
		{},
		{false},
		{true, false, true, false, false},
		{false, false, false, false, false, false, false},
	}
	for i, pool := range pools {
		for qty := 1; qty <= 4; qty++ {
			t.Run(fmt.Sprintf("pool%d/qty%d", i, qty), func(t *testing.T) {
				s := seed(t, pool)
				_, unusedBefore := catalog.Counts(mustVariant(t, s).Links)

				res, err := newTestAllocator(s).Allocate(ctx, Request{VariantID: "var-1", Quantity: qty})
				require.NoError(t, err)

				v := mustVariant(t, s)
				used, unused := catalog.Counts(v.Links)
				assert.Equal(t, len(pool), used+unused)
				assert.Equal(t, min(qty, unusedBefore), len(res.Links))
				assert.Equal(t, unusedBefore-len(res.Links), unused)
				assert.Equal(t, unusedBefore >= qty, res.HasEnoughLinks)
			})
		}
	}
}

func TestConcurrentAllocationsNeverShareALink(t *testing.T) {
	ctx := context.Background()
	const links, buyers = 10, 25
	s := seed(t, make([]bool, links))
	a := newTestAllocator(s)

	var (
		mu   sync.Mutex
		got  = map[string]int{}
		wg   sync.WaitGroup
		errs = make(chan error, buyers)
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := a.Allocate(ctx, Request{VariantID: "var-1", Quantity: 1})
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, l := range res.Links {
				got[l.FilePath]++
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("allocate: %v", err)
	}

	assert.Len(t, got, links)
	for path, n := range got {
		assert.Equal(t, 1, n, "link %s handed out %d times", path, n)
	}
	used, unused := catalog.Counts(mustVariant(t, s).Links)
	assert.Equal(t, links, used)
	assert.Zero(t, unused)
}

type conflictingStore struct {
	*catalog.MemoryStore
	conflicts int
	writes    int
}

func (c *conflictingStore) SwapLinks(ctx context.Context, v catalog.Variant, links []catalog.Link) (catalog.Variant, error) {
	c.writes++
	if c.conflicts > 0 {
		c.conflicts--
		return catalog.Variant{}, catalog.ErrRevisionConflict
	}
	return c.MemoryStore.SwapLinks(ctx, v, links)
}

func TestAllocateRetriesOnConflict(t *testing.T) {
	s := &conflictingStore{MemoryStore: seed(t, []bool{false}), conflicts: 2}
	a := newTestAllocator(s)

	res, err := a.Allocate(context.Background(), Request{VariantID: "var-1"})
	require.NoError(t, err)
	assert.Len(t, res.Links, 1)
	assert.Equal(t, 3, s.writes)
}

func TestAllocateGivesUpAfterMaxAttempts(t *testing.T) {
	s := &conflictingStore{MemoryStore: seed(t, []bool{false}), conflicts: 100}
	a := New(s, 3, nil)
	a.backoff = time.Millisecond

	_, err := a.Allocate(context.Background(), Request{VariantID: "var-1"})
	assert.ErrorIs(t, err, catalog.ErrRevisionConflict)
	assert.Equal(t, 3, s.writes)
}

type failingStore struct{ *catalog.MemoryStore }

func (failingStore) SwapLinks(context.Context, catalog.Variant, []catalog.Link) (catalog.Variant, error) {
	return catalog.Variant{}, errors.New("cms unavailable")
}

func TestAllocateWriteFailureAllocatesNothing(t *testing.T) {
	s := seed(t, []bool{false, false})
	a := newTestAllocator(failingStore{s})

	res, err := a.Allocate(context.Background(), Request{VariantID: "var-1", Quantity: 2})
	require.Error(t, err)
	assert.Empty(t, res.Links)

	_, unused := catalog.Counts(mustVariant(t, s).Links)
	assert.Equal(t, 2, unused)
}

type fakeClaimer struct {
	*catalog.MemoryStore
	claim catalog.Claim
	calls int
}

func (f *fakeClaimer) ClaimLinks(context.Context, string, int) (catalog.Claim, error) {
	f.calls++
	return f.claim, nil
}

func TestAllocateUsesClaimerWhenAvailable(t *testing.T) {
	f := &fakeClaimer{
		MemoryStore: seed(t, nil),
		claim: catalog.Claim{
			Variant:   catalog.Variant{ID: "var-1", ProductName: "Account", VariantName: "Gold"},
			Paths:     []string{"/x.txt"},
			Available: 1,
		},
	}
	res, err := newTestAllocator(f).Allocate(context.Background(), Request{VariantID: "var-1", Quantity: 3})
	require.NoError(t, err)

	assert.Equal(t, 1, f.calls)
	assert.False(t, res.HasEnoughLinks)
	assert.Equal(t, []AllocatedLink{{FilePath: "/x.txt", ProductName: "Account", VariantName: "Gold"}}, res.Links)
}

func TestAllocateOne(t *testing.T) {
	ctx := context.Background()
	a := newTestAllocator(seed(t, []bool{false, false}))

	first, err := a.AllocateOne(ctx, "var-1")
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, 1, first.RemainingLinks)

	second, err := a.AllocateOne(ctx, "var-1")
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Zero(t, second.RemainingLinks)

	third, err := a.AllocateOne(ctx, "var-1")
	require.NoError(t, err)
	assert.False(t, third.Success)
	assert.Equal(t, "No download links available", third.Message)
}

func TestReleaseReturnsLinksToPool(t *testing.T) {
	ctx := context.Background()
	s := seed(t, []bool{false, false, false})
	a := newTestAllocator(s)

	res, err := a.Allocate(ctx, Request{VariantID: "var-1", Quantity: 2})
	require.NoError(t, err)

	require.NoError(t, a.Release(ctx, "var-1", []string{res.Links[0].FilePath, "/unknown"}))

	v := mustVariant(t, s)
	assert.False(t, v.Links[0].IsUsed)
	assert.True(t, v.Links[1].IsUsed)
}

func TestReplaceAndAppendLinks(t *testing.T) {
	ctx := context.Background()
	s := seed(t, []bool{true})
	a := newTestAllocator(s)

	v, err := a.ReplaceLinks(ctx, "var-1", []catalog.Link{{FilePath: "/n1"}, {FilePath: "/n2", IsUsed: true}})
	require.NoError(t, err)
	assert.Len(t, v.Links, 2)

	v, err = a.AppendLinks(ctx, "var-1", []string{" /n3 "})
	require.NoError(t, err)
	assert.Equal(t, catalog.Link{FilePath: "/n3"}, v.Links[2])

	_, err = a.ReplaceLinks(ctx, "var-1", []catalog.Link{{FilePath: "/a"}, {FilePath: "/a"}})
	assert.ErrorIs(t, err, ErrDuplicateLink)

	_, err = a.ReplaceLinks(ctx, "var-1", []catalog.Link{{FilePath: " "}})
	assert.ErrorIs(t, err, ErrInvalidLink)

	_, err = a.AppendLinks(ctx, "var-1", []string{"/n1"})
	assert.ErrorIs(t, err, ErrDuplicateLink)
}

func mustVariant(t *testing.T, s catalog.Store) catalog.Variant {
	t.Helper()
	v, err := s.Variant(context.Background(), "var-1")
	require.NoError(t, err)
	return v
}
