package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapidan/newsletter-hub-sub004/internal/auth"
	"github.com/zapidan/newsletter-hub-sub004/internal/cache"
	"github.com/zapidan/newsletter-hub-sub004/internal/domain"
	"github.com/zapidan/newsletter-hub-sub004/internal/mutation"
	"github.com/zapidan/newsletter-hub-sub004/internal/notify"
	"github.com/zapidan/newsletter-hub-sub004/internal/querykey"
	"github.com/zapidan/newsletter-hub-sub004/internal/remote"
	"github.com/zapidan/newsletter-hub-sub004/internal/retry"
	apperrors "github.com/zapidan/newsletter-hub-sub004/pkg/errors"
)

// stubRemote records every remote call and serves programmable
// responses. The per-entity interfaces share method names with
// different signatures, so thin delegate types adapt one recorder to
// the full surface.
type stubRemote struct {
	mu sync.Mutex

	listCalls   int
	listPage    *domain.NewsletterPage
	updateCalls int
	updateErrs  []error // popped per write call; empty means success
	updates     []domain.NewsletterPatch
	onUpdate    func(call int) // runs after each Update is recorded
	bulkIDs     [][]domain.NewsletterID
	deleted     [][]domain.NewsletterID

	assigned   [][2]string
	unassigned [][2]string

	queueAdds    []domain.NewsletterID
	queueRemoves []domain.NewsletterID
	reorders     [][]domain.QueueItemID

	countsCalls int
}

func (s *stubRemote) surface() remote.Surface {
	return remote.Surface{
		Newsletters: stubNewsletters{s},
		Tags:        stubTags{s},
		Sources:     stubSources{s},
		Groups:      stubGroups{s},
		Queue:       stubQueue{s},
		Aggregates:  stubAggregates{s},
	}
}

// popWriteErr must be called with s.mu held.
func (s *stubRemote) popWriteErr() error {
	if len(s.updateErrs) == 0 {
		return nil
	}
	err := s.updateErrs[0]
	s.updateErrs = s.updateErrs[1:]
	return err
}

func (s *stubRemote) snapshot() stubRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stubRemote{
		listCalls:   s.listCalls,
		updateCalls: s.updateCalls,
		countsCalls: s.countsCalls,
	}
}

type stubNewsletters struct{ r *stubRemote }

func (s stubNewsletters) List(ctx context.Context, filter domain.NewsletterFilter) (*domain.NewsletterPage, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.listCalls++
	if s.r.listPage != nil {
		return s.r.listPage, nil
	}
	return &domain.NewsletterPage{}, nil
}

func (s stubNewsletters) Get(ctx context.Context, id domain.NewsletterID) (*domain.Newsletter, error) {
	return &domain.Newsletter{ID: id}, nil
}

func (s stubNewsletters) Update(ctx context.Context, id domain.NewsletterID, patch domain.NewsletterPatch) error {
	s.r.mu.Lock()
	s.r.updateCalls++
	call := s.r.updateCalls
	s.r.updates = append(s.r.updates, patch)
	err := s.r.popWriteErr()
	hook := s.r.onUpdate
	s.r.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	return err
}

func (s stubNewsletters) BulkUpdate(ctx context.Context, ids []domain.NewsletterID, patch domain.NewsletterPatch) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.bulkIDs = append(s.r.bulkIDs, ids)
	return s.r.popWriteErr()
}

func (s stubNewsletters) Delete(ctx context.Context, ids []domain.NewsletterID) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.deleted = append(s.r.deleted, ids)
	return s.r.popWriteErr()
}

type stubTags struct{ r *stubRemote }

func (s stubTags) List(ctx context.Context) ([]*domain.Tag, error) { return nil, nil }

func (s stubTags) Create(ctx context.Context, input domain.CreateTagInput) (*domain.Tag, error) {
	return &domain.Tag{ID: "t-created", Name: input.Name, Color: input.Color}, nil
}

func (s stubTags) Update(ctx context.Context, id domain.TagID, patch domain.TagPatch) error {
	return nil
}

func (s stubTags) Delete(ctx context.Context, id domain.TagID) error { return nil }

func (s stubTags) Assign(ctx context.Context, newsletterID domain.NewsletterID, tagID domain.TagID) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.assigned = append(s.r.assigned, [2]string{string(newsletterID), string(tagID)})
	return s.r.popWriteErr()
}

func (s stubTags) Unassign(ctx context.Context, newsletterID domain.NewsletterID, tagID domain.TagID) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.unassigned = append(s.r.unassigned, [2]string{string(newsletterID), string(tagID)})
	return nil
}

type stubSources struct{ r *stubRemote }

func (s stubSources) List(ctx context.Context) ([]*domain.Source, error) { return nil, nil }

func (s stubSources) Update(ctx context.Context, id domain.SourceID, patch domain.SourcePatch) error {
	return nil
}

type stubGroups struct{ r *stubRemote }

func (s stubGroups) List(ctx context.Context) ([]*domain.SourceGroup, error) { return nil, nil }

func (s stubGroups) Create(ctx context.Context, input domain.CreateGroupInput) (*domain.SourceGroup, error) {
	return &domain.SourceGroup{ID: "g-created", Name: input.Name}, nil
}

func (s stubGroups) Update(ctx context.Context, id domain.GroupID, patch domain.GroupPatch) error {
	return nil
}

func (s stubGroups) Delete(ctx context.Context, id domain.GroupID) error { return nil }

type stubQueue struct{ r *stubRemote }

func (s stubQueue) List(ctx context.Context) ([]*domain.QueueItem, error) { return nil, nil }

func (s stubQueue) Add(ctx context.Context, newsletterID domain.NewsletterID) (*domain.QueueItem, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.queueAdds = append(s.r.queueAdds, newsletterID)
	return &domain.QueueItem{ID: "q-created", NewsletterID: newsletterID}, s.r.popWriteErr()
}

func (s stubQueue) Remove(ctx context.Context, newsletterID domain.NewsletterID) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.queueRemoves = append(s.r.queueRemoves, newsletterID)
	return nil
}

func (s stubQueue) Reorder(ctx context.Context, orderedIDs []domain.QueueItemID) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.reorders = append(s.r.reorders, orderedIDs)
	return nil
}

type stubAggregates struct{ r *stubRemote }

func (s stubAggregates) UnreadCounts(ctx context.Context) (*domain.UnreadCounts, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.countsCalls++
	counts := domain.NewUnreadCounts()
	counts.Total = 42
	return counts, nil
}

type captureSink struct {
	mu            sync.Mutex
	notifications []notify.Notification
}

func (s *captureSink) Notify(n notify.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifications)
}

func newTestEngine(t *testing.T, stub *stubRemote, session *auth.Manager, sink notify.Sink) (*Engine, *cache.Manager) {
	return newTestEngineWithRetries(t, stub, session, sink, 0)
}

func newTestEngineWithRetries(t *testing.T, stub *stubRemote, session *auth.Manager, sink notify.Sink, retries int) (*Engine, *cache.Manager) {
	t.Helper()
	c := cache.NewManager(cache.Options{DebounceWindow: 50 * time.Millisecond}, nil, nil)
	t.Cleanup(c.Close)

	exec := retry.NewExecutor(retry.Config{
		MaxRetries:     retries,
		BaseDelay:      time.Millisecond,
		MaxDelay:       time.Millisecond,
		Multiplier:     1,
		AttemptTimeout: time.Second,
	}, nil, nil, nil)

	ctrl := mutation.NewController(c, exec, nil, nil, nil)
	return New(c, ctrl, exec, stub.surface(), session, sink, nil), c
}

func seedInbox(c *cache.Manager, unread int, items ...*domain.Newsletter) {
	c.Set(querykey.NewsletterList(domain.NewsletterFilter{}), &domain.NewsletterPage{
		Items: items,
		Total: len(items),
	})
	counts := domain.NewUnreadCounts()
	counts.Total = unread
	counts.BySource["s1"] = unread
	c.SetUnreadCounts(counts)
}

func inboxItem(id domain.NewsletterID) *domain.Newsletter {
	return &domain.Newsletter{ID: id, SourceID: "s1", Title: "Issue " + string(id)}
}

func TestEngine_NewslettersServeFromCacheAfterFirstFetch(t *testing.T) {
	stub := &stubRemote{listPage: &domain.NewsletterPage{
		Items: []*domain.Newsletter{inboxItem("n1")},
		Total: 1,
	}}
	e, _ := newTestEngine(t, stub, nil, nil)

	first, err := e.Newsletters(context.Background(), domain.NewsletterFilter{})
	require.NoError(t, err)
	second, err := e.Newsletters(context.Background(), domain.NewsletterFilter{})
	require.NoError(t, err)

	assert.Equal(t, 1, stub.snapshot().listCalls, "second read must come from the cache")
	assert.Equal(t, first.Total, second.Total)
}

func TestEngine_MarkReadCommitsOptimisticState(t *testing.T) {
	stub := &stubRemote{}
	e, c := newTestEngine(t, stub, nil, nil)
	seedInbox(c, 10, inboxItem("n1"))

	require.NoError(t, e.MarkRead(context.Background(), "n1"))

	n, ok := c.Newsletter("n1")
	require.True(t, ok)
	assert.True(t, n.IsRead)

	counts, ok := c.UnreadCounts()
	require.True(t, ok)
	assert.Equal(t, 9, counts.Total)
	assert.Equal(t, 9, counts.BySource["s1"])

	require.Len(t, stub.updates, 1)
	require.NotNil(t, stub.updates[0].IsRead)
	assert.True(t, *stub.updates[0].IsRead)
}

func TestEngine_MarkReadRollsBackAndNotifiesOnFailure(t *testing.T) {
	stub := &stubRemote{updateErrs: []error{
		apperrors.NewService("backend down", 500, nil),
	}}
	sink := &captureSink{}
	e, c := newTestEngine(t, stub, nil, sink)
	seedInbox(c, 10, inboxItem("n1"))

	err := e.MarkRead(context.Background(), "n1")
	require.Error(t, err)

	n, ok := c.Newsletter("n1")
	require.True(t, ok)
	assert.False(t, n.IsRead, "failed mutation must roll back")

	counts, ok := c.UnreadCounts()
	require.True(t, ok)
	assert.Equal(t, 10, counts.Total)

	assert.Equal(t, 1, sink.count())
}

func TestEngine_ToggleLikePersistsTheStateItApplied(t *testing.T) {
	stub := &stubRemote{updateErrs: []error{
		apperrors.NewService("backend hiccup", 503, nil),
	}}
	e, c := newTestEngineWithRetries(t, stub, nil, nil, 1)

	item := inboxItem("n1")
	item.LikeCount = 3
	seedInbox(c, 5, item)

	// Between the failed first attempt and the retry, another actor
	// flips the resident record back. The retry must still persist the
	// state this toggle applied, not whatever the cache holds now.
	stub.onUpdate = func(call int) {
		if call == 1 {
			c.UpdateNewsletter("n1", domain.NewsletterPatch{
				IsLiked:   domain.Bool(false),
				LikeCount: domain.Int(3),
			})
		}
	}

	require.NoError(t, e.ToggleLike(context.Background(), "n1"))

	require.Len(t, stub.updates, 2)
	for _, patch := range stub.updates {
		require.NotNil(t, patch.IsLiked)
		assert.True(t, *patch.IsLiked, "every attempt carries the toggled state")
	}
}

func TestEngine_UnauthorizedWriteRefreshesAndRetries(t *testing.T) {
	refresher := &stubRefresher{session: auth.Session{
		UserID:      "u1",
		AccessToken: "new-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	session := auth.NewManager(refresher, time.Minute, nil)
	require.NoError(t, session.SetSession(auth.Session{
		UserID:       "u1",
		AccessToken:  "old-token",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	stub := &stubRemote{updateErrs: []error{
		apperrors.NewUnauthorized("token expired"),
		nil,
	}}
	e, c := newTestEngine(t, stub, session, nil)
	seedInbox(c, 5, inboxItem("n1"))

	require.NoError(t, e.MarkRead(context.Background(), "n1"))

	assert.Equal(t, 1, refresher.calls())
	assert.Equal(t, 2, stub.snapshot().updateCalls)

	n, ok := c.Newsletter("n1")
	require.True(t, ok)
	assert.True(t, n.IsRead)
}

func TestEngine_ReadsRequireIdentity(t *testing.T) {
	session := auth.NewManager(nil, time.Minute, nil)
	stub := &stubRemote{}
	e, _ := newTestEngine(t, stub, session, nil)

	_, err := e.Newsletters(context.Background(), domain.NewsletterFilter{})
	require.Error(t, err)
	assert.True(t, apperrors.IsUnauthorized(err))
	assert.Equal(t, 0, stub.snapshot().listCalls, "unauthenticated reads must not hit the backend")
}

func TestEngine_AssignTagEmbedsResidentTag(t *testing.T) {
	stub := &stubRemote{}
	e, c := newTestEngine(t, stub, nil, nil)
	seedInbox(c, 1, inboxItem("n1"))
	c.Set(querykey.TagList(), []*domain.Tag{
		{ID: "t1", Name: "golang", Color: "#00add8", NewsletterCount: 3},
	})

	require.NoError(t, e.AssignTag(context.Background(), "n1", "t1"))

	n, ok := c.Newsletter("n1")
	require.True(t, ok)
	require.Len(t, n.Tags, 1)
	assert.Equal(t, "golang", n.Tags[0].Name)

	v, ok, _ := c.Get(querykey.TagList())
	require.True(t, ok)
	assert.Equal(t, 4, v.([]*domain.Tag)[0].NewsletterCount)

	require.Len(t, stub.assigned, 1)
	assert.Equal(t, [2]string{"n1", "t1"}, stub.assigned[0])
}

func TestEngine_QueueAddAndRemove(t *testing.T) {
	stub := &stubRemote{}
	e, c := newTestEngine(t, stub, nil, nil)
	seedInbox(c, 2, inboxItem("n1"), inboxItem("n2"))
	c.Set(querykey.Queue(), []*domain.QueueItem{})

	require.NoError(t, e.AddToQueue(context.Background(), "n1"))
	require.NoError(t, e.AddToQueue(context.Background(), "n2"))

	v, ok, _ := c.Get(querykey.Queue())
	require.True(t, ok)
	items := v.([]*domain.QueueItem)
	require.Len(t, items, 2)
	assert.Equal(t, 0, items[0].Position)
	assert.Equal(t, 1, items[1].Position)
	require.NotNil(t, items[0].Newsletter, "resident newsletter must be embedded")
	assert.Equal(t, domain.NewsletterID("n1"), items[0].Newsletter.ID)

	require.NoError(t, e.RemoveFromQueue(context.Background(), "n1"))

	v, ok, _ = c.Get(querykey.Queue())
	require.True(t, ok)
	items = v.([]*domain.QueueItem)
	require.Len(t, items, 1)
	assert.Equal(t, domain.NewsletterID("n2"), items[0].NewsletterID)
	assert.Equal(t, 0, items[0].Position, "positions must close the gap")
}

func TestEngine_DeleteRemovesAndAdjustsUnread(t *testing.T) {
	stub := &stubRemote{}
	e, c := newTestEngine(t, stub, nil, nil)
	seedInbox(c, 3, inboxItem("n1"), inboxItem("n2"), inboxItem("n3"))

	require.NoError(t, e.Delete(context.Background(), []domain.NewsletterID{"n1", "n3"}))

	_, ok := c.Newsletter("n1")
	assert.False(t, ok)
	_, ok = c.Newsletter("n3")
	assert.False(t, ok)

	counts, ok := c.UnreadCounts()
	require.True(t, ok)
	assert.Equal(t, 1, counts.Total)
}

func TestEngine_SettleRefetchesUnreadCounts(t *testing.T) {
	stub := &stubRemote{}
	e, c := newTestEngine(t, stub, nil, nil)
	seedInbox(c, 10, inboxItem("n1"))

	require.NoError(t, e.MarkRead(context.Background(), "n1"))

	assert.Eventually(t, func() bool {
		return stub.snapshot().countsCalls >= 1
	}, time.Second, 10*time.Millisecond, "debounced settle must re-fetch the aggregate")
}

type stubRefresher struct {
	mu      sync.Mutex
	n       int
	session auth.Session
}

func (r *stubRefresher) Refresh(ctx context.Context, refreshToken string) (auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return r.session, nil
}

func (r *stubRefresher) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
