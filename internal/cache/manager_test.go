package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapidan/newsletter-hub-sub004/internal/domain"
	"github.com/zapidan/newsletter-hub-sub004/internal/querykey"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(Options{DebounceWindow: 20 * time.Millisecond}, nil, nil)
	t.Cleanup(m.Close)
	return m
}

func testPage(items ...*domain.Newsletter) *domain.NewsletterPage {
	return &domain.NewsletterPage{Items: items, Total: len(items)}
}

func testNewsletter(id domain.NewsletterID, source domain.SourceID) *domain.Newsletter {
	return &domain.Newsletter{
		ID:         id,
		SourceID:   source,
		Title:      "Issue " + string(id),
		ReceivedAt: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestManager_GetReturnsCopies(t *testing.T) {
	m := newTestManager(t)
	key := querykey.NewsletterList(domain.NewsletterFilter{})
	m.Set(key, testPage(testNewsletter("n1", "s1")))

	v, ok, stale := m.Get(key)
	require.True(t, ok)
	assert.False(t, stale)

	// Editing the returned copy must not reach the resident entry.
	v.(*domain.NewsletterPage).Items[0].IsRead = true

	again, _, _ := m.Get(key)
	assert.False(t, again.(*domain.NewsletterPage).Items[0].IsRead)
}

func TestManager_UpdateNewsletterIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	fixed := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return fixed })

	key := querykey.NewsletterList(domain.NewsletterFilter{})
	m.Set(key, testPage(testNewsletter("n1", "s1")))

	patch := domain.NewsletterPatch{IsRead: domain.Bool(true)}
	m.UpdateNewsletter("n1", patch)
	once, _, _ := m.Get(key)
	m.UpdateNewsletter("n1", patch)
	twice, _, _ := m.Get(key)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("second update changed state (-want +got):\n%s", diff)
	}
}

func TestManager_UpdateNewsletterAbsentIsNoop(t *testing.T) {
	m := newTestManager(t)
	key := querykey.NewsletterList(domain.NewsletterFilter{})
	m.Set(key, testPage(testNewsletter("n1", "s1")))

	m.UpdateNewsletter("missing", domain.NewsletterPatch{IsRead: domain.Bool(true)})

	v, _, _ := m.Get(key)
	assert.False(t, v.(*domain.NewsletterPage).Items[0].IsRead)
}

func TestManager_UpdateReachesEveryResidentView(t *testing.T) {
	m := newTestManager(t)
	n := testNewsletter("n1", "s1")
	m.Set(querykey.NewsletterList(domain.NewsletterFilter{}), testPage(n))
	m.Set(querykey.NewsletterDetail("n1"), n)
	m.Set(querykey.Queue(), []*domain.QueueItem{
		{ID: "q1", NewsletterID: "n1", Newsletter: n},
	})

	m.UpdateNewsletter("n1", domain.NewsletterPatch{IsLiked: domain.Bool(true)})

	page, _, _ := m.Get(querykey.NewsletterList(domain.NewsletterFilter{}))
	assert.True(t, page.(*domain.NewsletterPage).Items[0].IsLiked)
	detail, _, _ := m.Get(querykey.NewsletterDetail("n1"))
	assert.True(t, detail.(*domain.Newsletter).IsLiked)
	queue, _, _ := m.Get(querykey.Queue())
	assert.True(t, queue.([]*domain.QueueItem)[0].Newsletter.IsLiked)
}

func TestManager_OverlappingPatchesMerge(t *testing.T) {
	m := newTestManager(t)
	key := querykey.NewsletterDetail("n1")
	m.Set(key, testNewsletter("n1", "s1"))

	// Two concurrent optimistic mutations touch different fields; the
	// second must not clobber the first.
	m.UpdateNewsletter("n1", domain.NewsletterPatch{IsLiked: domain.Bool(true)})
	m.UpdateNewsletter("n1", domain.NewsletterPatch{IsRead: domain.Bool(true)})

	v, _, _ := m.Get(key)
	n := v.(*domain.Newsletter)
	assert.True(t, n.IsLiked)
	assert.True(t, n.IsRead)
}

func TestManager_BatchUpdateObservedAtomically(t *testing.T) {
	m := newTestManager(t)
	key := querykey.NewsletterList(domain.NewsletterFilter{})
	m.Set(key, testPage(
		testNewsletter("n1", "s1"),
		testNewsletter("n2", "s1"),
		testNewsletter("n3", "s1"),
	))

	updates := []NewsletterUpdate{
		{ID: "n1", Patch: domain.NewsletterPatch{IsArchived: domain.Bool(true)}},
		{ID: "n2", Patch: domain.NewsletterPatch{IsArchived: domain.Bool(true)}},
		{ID: "n3", Patch: domain.NewsletterPatch{IsArchived: domain.Bool(true)}},
	}

	// Readers hammering the entry must only ever see 0 or 3 archived.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			v, ok, _ := m.Get(key)
			if !ok {
				continue
			}
			archived := 0
			for _, n := range v.(*domain.NewsletterPage).Items {
				if n.IsArchived {
					archived++
				}
			}
			if archived != 0 && archived != 3 {
				t.Errorf("observed partially applied batch: %d of 3", archived)
				return
			}
		}
	}()

	m.BatchUpdate(updates)
	close(done)
	wg.Wait()

	v, _, _ := m.Get(key)
	for _, n := range v.(*domain.NewsletterPage).Items {
		assert.True(t, n.IsArchived)
	}
}

func TestManager_RemoveNewsletters(t *testing.T) {
	m := newTestManager(t)
	listKey := querykey.NewsletterList(domain.NewsletterFilter{})
	m.Set(listKey, testPage(
		testNewsletter("n1", "s1"),
		testNewsletter("n2", "s1"),
	))
	m.Set(querykey.NewsletterDetail("n1"), testNewsletter("n1", "s1"))
	m.Set(querykey.Queue(), []*domain.QueueItem{
		{ID: "q1", NewsletterID: "n1"},
		{ID: "q2", NewsletterID: "n2"},
	})

	m.RemoveNewsletters([]domain.NewsletterID{"n1"})

	page, _, _ := m.Get(listKey)
	require.Len(t, page.(*domain.NewsletterPage).Items, 1)
	assert.Equal(t, domain.NewsletterID("n2"), page.(*domain.NewsletterPage).Items[0].ID)
	assert.Equal(t, 1, page.(*domain.NewsletterPage).Total)

	_, ok, _ := m.Get(querykey.NewsletterDetail("n1"))
	assert.False(t, ok, "detail entry dropped")

	queue, _, _ := m.Get(querykey.Queue())
	require.Len(t, queue.([]*domain.QueueItem), 1)
	assert.Equal(t, domain.NewsletterID("n2"), queue.([]*domain.QueueItem)[0].NewsletterID)
}

func TestManager_SnapshotRestoreIsVerbatim(t *testing.T) {
	m := newTestManager(t)
	listKey := querykey.NewsletterList(domain.NewsletterFilter{})
	detailKey := querykey.NewsletterDetail("n1")
	m.Set(listKey, testPage(testNewsletter("n1", "s1")))
	m.Set(detailKey, testNewsletter("n1", "s1"))

	counts := domain.NewUnreadCounts()
	counts.Total = 10
	counts.BySource["s1"] = 10
	m.SetUnreadCounts(counts)

	scope := querykey.AnyOf(
		querykey.PrefixPredicate(querykey.Newsletters()),
		querykey.PrefixPredicate(querykey.UnreadCounts()),
	)

	before := map[string]any{}
	for _, key := range []querykey.Key{listKey, detailKey, querykey.UnreadCounts()} {
		v, _, _ := m.Get(key)
		before[key.String()] = v
	}

	snap := m.Snapshot(scope)

	// Mutate everything in scope, including the aggregate, and create a
	// new entry inside the scope.
	m.UpdateNewsletter("n1", domain.NewsletterPatch{IsRead: domain.Bool(true)})
	m.AdjustUnread(domain.UnreadDelta{Total: -1, BySource: map[domain.SourceID]int{"s1": -1}})
	m.Set(querykey.NewsletterDetail("n2"), testNewsletter("n2", "s1"))

	m.Restore(snap)

	for canonical, want := range before {
		got, ok, _ := m.Get(querykey.Parse(canonical))
		require.True(t, ok, canonical)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("restore differs for %s (-want +got):\n%s", canonical, diff)
		}
	}
	_, ok, _ := m.Get(querykey.NewsletterDetail("n2"))
	assert.False(t, ok, "entry created after the snapshot is dropped on restore")
}

func TestManager_AdjustUnreadWithoutAggregateIsNoop(t *testing.T) {
	m := newTestManager(t)
	m.AdjustUnread(domain.UnreadDelta{Total: -1})
	_, ok := m.UnreadCounts()
	assert.False(t, ok)
}

func TestManager_MarkStaleSchedulesRefetch(t *testing.T) {
	m := newTestManager(t)
	listKey := querykey.NewsletterList(domain.NewsletterFilter{})
	m.Set(listKey, testPage(testNewsletter("n1", "s1")))

	fetched := make(chan querykey.Key, 1)
	m.RegisterFetcher(querykey.Newsletters(), func(ctx context.Context, key querykey.Key) error {
		fetched <- key
		m.Set(key, testPage(testNewsletter("n1", "s1"), testNewsletter("n2", "s1")))
		return nil
	})

	m.MarkStale(querykey.PrefixPredicate(querykey.Newsletters()), "test")

	select {
	case key := <-fetched:
		assert.True(t, key.Equal(listKey))
	case <-time.After(time.Second):
		t.Fatal("refetch never fired")
	}

	require.Eventually(t, func() bool {
		v, ok, stale := m.Get(listKey)
		return ok && !stale && len(v.(*domain.NewsletterPage).Items) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestManager_CancelRefetches(t *testing.T) {
	m := newTestManager(t)
	listKey := querykey.NewsletterList(domain.NewsletterFilter{})
	m.Set(listKey, testPage(testNewsletter("n1", "s1")))

	started := make(chan struct{})
	canceled := make(chan struct{})
	m.RegisterFetcher(querykey.Newsletters(), func(ctx context.Context, key querykey.Key) error {
		close(started)
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	})

	m.MarkStale(querykey.PrefixPredicate(querykey.Newsletters()), "test")
	<-started

	m.CancelRefetches(querykey.PrefixPredicate(querykey.Newsletters()))

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("in-flight refetch was not cancelled")
	}
}

func TestManager_LateCancelledRefetchLeavesSuccessorRegistered(t *testing.T) {
	m := newTestManager(t)
	listKey := querykey.NewsletterList(domain.NewsletterFilter{})
	m.Set(listKey, testPage(testNewsletter("n1", "s1")))

	// Each fetch blocks on its own gate so the first one can outlive its
	// cancellation while a second fetch for the same key is in flight.
	gates := make(chan chan struct{}, 2)
	gate1 := make(chan struct{})
	gate2 := make(chan struct{})
	gates <- gate1
	gates <- gate2
	m.RegisterFetcher(querykey.Newsletters(), func(ctx context.Context, key querykey.Key) error {
		<-(<-gates)
		return ctx.Err()
	})

	m.MarkStale(querykey.PrefixPredicate(querykey.Newsletters()), "test")
	require.Eventually(t, func() bool { return m.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	m.CancelRefetches(querykey.PrefixPredicate(querykey.Newsletters()))
	assert.Equal(t, 0, m.Stats().InFlight)

	m.MarkStale(querykey.PrefixPredicate(querykey.Newsletters()), "test")
	require.Eventually(t, func() bool { return m.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	// The first fetch finishes only now, after its replacement started.
	close(gate1)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, m.Stats().InFlight, "finished cancelled fetch must not unregister its successor")

	close(gate2)
	require.Eventually(t, func() bool { return m.Stats().InFlight == 0 }, time.Second, time.Millisecond)
}

func TestManager_InvalidateRelatedDebouncesAggregates(t *testing.T) {
	m := newTestManager(t)

	var mu sync.Mutex
	fetches := map[string]int{}
	record := func(key querykey.Key) {
		mu.Lock()
		fetches[key.String()]++
		mu.Unlock()
	}
	m.RegisterFetcher(querykey.UnreadCounts(), func(ctx context.Context, key querykey.Key) error {
		record(key)
		return nil
	})
	m.RegisterFetcher(querykey.Sources(), func(ctx context.Context, key querykey.Key) error {
		record(key)
		return nil
	})

	// A burst of mutations on newsletters requests the unread aggregate
	// many times; it must refetch once.
	for i := 0; i < 5; i++ {
		m.InvalidateRelated(EntityNewsletter, []string{"n1"}, "mutation")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fetches[querykey.UnreadCounts().String()] > 0
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fetches[querykey.UnreadCounts().String()])
}

func TestManager_UpdateTagReachesEmbeddedTags(t *testing.T) {
	m := newTestManager(t)
	n := testNewsletter("n1", "s1")
	n.Tags = []domain.Tag{{ID: "t1", Name: "go", Color: "#00ADD8"}}
	m.Set(querykey.NewsletterDetail("n1"), n)
	m.Set(querykey.TagList(), []*domain.Tag{{ID: "t1", Name: "go", Color: "#00ADD8"}})

	m.UpdateTag("t1", domain.TagPatch{Name: domain.String("golang")})

	tags, _, _ := m.Get(querykey.TagList())
	assert.Equal(t, "golang", tags.([]*domain.Tag)[0].Name)
	detail, _, _ := m.Get(querykey.NewsletterDetail("n1"))
	assert.Equal(t, "golang", detail.(*domain.Newsletter).Tags[0].Name)
}

func TestManager_RemoveTagStripsNewsletters(t *testing.T) {
	m := newTestManager(t)
	n := testNewsletter("n1", "s1")
	n.Tags = []domain.Tag{{ID: "t1", Name: "go"}, {ID: "t2", Name: "news"}}
	m.Set(querykey.NewsletterDetail("n1"), n)
	m.Set(querykey.TagList(), []*domain.Tag{{ID: "t1", Name: "go"}, {ID: "t2", Name: "news"}})

	m.RemoveTag("t1")

	tags, _, _ := m.Get(querykey.TagList())
	require.Len(t, tags.([]*domain.Tag), 1)
	detail, _, _ := m.Get(querykey.NewsletterDetail("n1"))
	require.Len(t, detail.(*domain.Newsletter).Tags, 1)
	assert.Equal(t, domain.TagID("t2"), detail.(*domain.Newsletter).Tags[0].ID)
}
