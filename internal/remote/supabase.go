package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/supabase-community/gotrue-go/types"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/zapidan/newsletter-hub-sub004/internal/auth"
	"github.com/zapidan/newsletter-hub-sub004/internal/domain"
	apperrors "github.com/zapidan/newsletter-hub-sub004/pkg/errors"
	"github.com/zapidan/newsletter-hub-sub004/pkg/observability"
)

// Backend table names. The reading app owns these through migrations on
// the server side; the client only references them.
const (
	tableNewsletters    = "newsletters"
	tableTags           = "tags"
	tableNewsletterTags = "newsletter_tags"
	tableSources        = "newsletter_sources"
	tableGroups         = "newsletter_source_groups"
	tableQueue          = "reading_queue"
	viewUnreadCounts    = "unread_counts"

	newsletterColumns = "*, source:newsletter_sources(*), tags(*)"
	defaultPageSize   = 50
)

// TokenSource supplies the access token for request signing. The auth
// manager implements it.
type TokenSource interface {
	Token() (string, bool)
}

// SupabaseClient talks to the PostgREST data API and the Supabase auth
// endpoint. One instance serves the whole engine.
type SupabaseClient struct {
	client  *supabase.Client
	tokens  TokenSource
	metrics *observability.Collector
	logger  *zap.Logger
}

// NewSupabaseClient creates the backend adapter. metrics may be nil.
func NewSupabaseClient(url, anonKey string, tokens TokenSource, metrics *observability.Collector, logger *zap.Logger) (*SupabaseClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := supabase.NewClient(url, anonKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}
	return &SupabaseClient{
		client:  client,
		tokens:  tokens,
		metrics: metrics,
		logger:  logger.Named("remote"),
	}, nil
}

// Surface returns the per-entity APIs backed by this client.
func (c *SupabaseClient) Surface() Surface {
	return Surface{
		Newsletters: &newsletterAPI{c},
		Tags:        &tagAPI{c},
		Sources:     &sourceAPI{c},
		Groups:      &groupAPI{c},
		Queue:       &queueAPI{c},
		Aggregates:  &aggregateAPI{c},
	}
}

// Refresh implements auth.Refresher against the Supabase auth endpoint.
func (c *SupabaseClient) Refresh(ctx context.Context, refreshToken string) (auth.Session, error) {
	resp, err := c.client.Auth.RefreshToken(refreshToken)
	if err != nil {
		return auth.Session{}, apperrors.NewUnauthorized("session refresh rejected").WithOperation("auth.refresh")
	}
	return auth.Session{
		UserID:       resp.User.ID.String(),
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

// authorize installs the current access token on the underlying client.
// Requests without a session run with the anon key and hit row-level
// security, which surfaces as unauthorized.
func (c *SupabaseClient) authorize() {
	if c.tokens == nil {
		return
	}
	if token, ok := c.tokens.Token(); ok {
		c.client.UpdateAuthSession(types.Session{AccessToken: token})
	}
}

// observe records one round trip against op.
func (c *SupabaseClient) observe(op string, err error, started time.Time) {
	if c.metrics == nil {
		return
	}
	status := 200
	if err != nil {
		status = apperrors.StatusOf(err)
	}
	c.metrics.ObserveRemote(op, status, time.Since(started))
}

// wrap converts a PostgREST failure into the classified taxonomy. This
// is the remote half of the single classification point; the retry
// engine handles everything that still comes through raw.
//
// postgrest-go flattens the backend's error body into a plain
// "(CODE) message" string, so the code is recovered from that shape
// here, once, before anything above sees the error.
func (c *SupabaseClient) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if code, message, ok := parsePostgrestError(err); ok {
		switch code {
		case "PGRST116":
			return apperrors.NewNotFound("record").WithOperation(op)
		case "PGRST301", "42501":
			return apperrors.NewUnauthorized(message).WithOperation(op)
		case "23505", "23503", "23514":
			return apperrors.NewValidation(message).WithOperation(op)
		default:
			return apperrors.NewService(message, 0, err).WithOperation(op)
		}
	}
	return apperrors.Classify(op, err)
}

// parsePostgrestError splits the "(CODE) message" string postgrest-go
// builds from a non-2xx response body. ok is false for errors of any
// other shape (transport failures, context errors).
func parsePostgrestError(err error) (code, message string, ok bool) {
	s := err.Error()
	if len(s) < 2 || s[0] != '(' {
		return "", "", false
	}
	end := strings.Index(s, ") ")
	if end <= 1 {
		return "", "", false
	}
	return s[1:end], s[end+2:], true
}

// execute runs one PostgREST round trip and honors ctx. The underlying
// client cannot cancel a request in flight, so the call runs on its own
// goroutine and an expired context abandons the wait; the late response
// is discarded.
func (c *SupabaseClient) execute(ctx context.Context, run func() ([]byte, int64, error)) ([]byte, int64, error) {
	type result struct {
		data  []byte
		count int64
		err   error
	}
	done := make(chan result, 1)
	go func() {
		data, count, err := run()
		done <- result{data: data, count: count, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case r := <-done:
		return r.data, r.count, r.err
	}
}

// rangeBounds converts page/pageSize into PostgREST's inclusive range.
func rangeBounds(page, pageSize int) (int, int) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if page <= 0 {
		page = 1
	}
	from := (page - 1) * pageSize
	return from, from + pageSize - 1
}

type newsletterAPI struct{ c *SupabaseClient }

func (a *newsletterAPI) List(ctx context.Context, filter domain.NewsletterFilter) (*domain.NewsletterPage, error) {
	const op = "newsletters.list"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableNewsletters).Select(newsletterColumns, "exact", false)
	q = applyNewsletterFilter(q, filter)

	orderBy := filter.OrderBy
	if orderBy == "" {
		orderBy = "received_at"
	}
	q = q.Order(orderBy, &postgrest.OrderOpts{Ascending: filter.Ascending})

	from, to := rangeBounds(filter.Page, filter.PageSize)
	q = q.Range(from, to, "")

	data, count, err := a.c.execute(ctx, q.Execute)
	if err != nil {
		wrapped := a.c.wrap(op, err)
		a.c.observe(op, wrapped, started)
		return nil, wrapped
	}
	a.c.observe(op, nil, started)

	var items []*domain.Newsletter
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, apperrors.NewService("malformed newsletter list response", 0, err).WithOperation(op)
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	return &domain.NewsletterPage{
		Items:    items,
		Total:    int(count),
		Page:     page,
		PageSize: pageSize,
		HasMore:  from+len(items) < int(count),
	}, nil
}

func (a *newsletterAPI) Get(ctx context.Context, id domain.NewsletterID) (*domain.Newsletter, error) {
	const op = "newsletters.get"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableNewsletters).
		Select(newsletterColumns, "", false).
		Eq("id", string(id)).
		Single()
	data, _, err := a.c.execute(ctx, q.Execute)
	if err != nil {
		wrapped := a.c.wrap(op, err)
		a.c.observe(op, wrapped, started)
		return nil, wrapped
	}
	a.c.observe(op, nil, started)

	var n domain.Newsletter
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, apperrors.NewService("malformed newsletter response", 0, err).WithOperation(op)
	}
	return &n, nil
}

func (a *newsletterAPI) Update(ctx context.Context, id domain.NewsletterID, patch domain.NewsletterPatch) error {
	const op = "newsletters.update"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableNewsletters).
		Update(patch, "", "").
		Eq("id", string(id))
	_, _, err := a.c.execute(ctx, q.Execute)
	wrapped := a.c.wrap(op, err)
	a.c.observe(op, wrapped, started)
	return wrapped
}

func (a *newsletterAPI) BulkUpdate(ctx context.Context, ids []domain.NewsletterID, patch domain.NewsletterPatch) error {
	const op = "newsletters.bulkUpdate"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableNewsletters).
		Update(patch, "", "").
		In("id", newsletterIDStrings(ids))
	_, _, err := a.c.execute(ctx, q.Execute)
	wrapped := a.c.wrap(op, err)
	a.c.observe(op, wrapped, started)
	return wrapped
}

func (a *newsletterAPI) Delete(ctx context.Context, ids []domain.NewsletterID) error {
	const op = "newsletters.delete"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableNewsletters).
		Delete("", "").
		In("id", newsletterIDStrings(ids))
	_, _, err := a.c.execute(ctx, q.Execute)
	wrapped := a.c.wrap(op, err)
	a.c.observe(op, wrapped, started)
	return wrapped
}

// applyNewsletterFilter translates the filter's set fields into
// PostgREST predicates. Unset fields add nothing, mirroring how the
// query key factory drops them.
func applyNewsletterFilter(q *postgrest.FilterBuilder, f domain.NewsletterFilter) *postgrest.FilterBuilder {
	if f.IsRead != nil {
		q = q.Eq("is_read", boolString(*f.IsRead))
	}
	if f.IsArchived != nil {
		q = q.Eq("is_archived", boolString(*f.IsArchived))
	}
	if f.IsLiked != nil {
		q = q.Eq("is_liked", boolString(*f.IsLiked))
	}
	if len(f.SourceIDs) > 0 {
		q = q.In("newsletter_source_id", sourceIDStrings(f.SourceIDs))
	}
	if f.Search != "" {
		q = q.Ilike("title", "%"+f.Search+"%")
	}
	return q
}

type tagAPI struct{ c *SupabaseClient }

func (a *tagAPI) List(ctx context.Context) ([]*domain.Tag, error) {
	const op = "tags.list"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableTags).
		Select("*", "", false).
		Order("name", &postgrest.OrderOpts{Ascending: true})
	data, _, err := a.c.execute(ctx, q.Execute)
	if err != nil {
		wrapped := a.c.wrap(op, err)
		a.c.observe(op, wrapped, started)
		return nil, wrapped
	}
	a.c.observe(op, nil, started)

	var tags []*domain.Tag
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil, apperrors.NewService("malformed tag list response", 0, err).WithOperation(op)
	}
	return tags, nil
}

func (a *tagAPI) Create(ctx context.Context, input domain.CreateTagInput) (*domain.Tag, error) {
	const op = "tags.create"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableTags).
		Insert(input, false, "", "representation", "")
	data, _, err := a.c.execute(ctx, q.Execute)
	if err != nil {
		wrapped := a.c.wrap(op, err)
		a.c.observe(op, wrapped, started)
		return nil, wrapped
	}
	a.c.observe(op, nil, started)

	var created []*domain.Tag
	if err := json.Unmarshal(data, &created); err != nil || len(created) == 0 {
		return nil, apperrors.NewService("malformed tag create response", 0, err).WithOperation(op)
	}
	return created[0], nil
}

func (a *tagAPI) Update(ctx context.Context, id domain.TagID, patch domain.TagPatch) error {
	const op = "tags.update"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableTags).
		Update(patch, "", "").
		Eq("id", string(id))
	_, _, err := a.c.execute(ctx, q.Execute)
	wrapped := a.c.wrap(op, err)
	a.c.observe(op, wrapped, started)
	return wrapped
}

func (a *tagAPI) Delete(ctx context.Context, id domain.TagID) error {
	const op = "tags.delete"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableTags).
		Delete("", "").
		Eq("id", string(id))
	_, _, err := a.c.execute(ctx, q.Execute)
	wrapped := a.c.wrap(op, err)
	a.c.observe(op, wrapped, started)
	return wrapped
}

func (a *tagAPI) Assign(ctx context.Context, newsletterID domain.NewsletterID, tagID domain.TagID) error {
	const op = "tags.assign"
	a.c.authorize()
	started := time.Now()

	row := map[string]string{
		"newsletter_id": string(newsletterID),
		"tag_id":        string(tagID),
	}
	q := a.c.client.From(tableNewsletterTags).
		Insert(row, true, "newsletter_id,tag_id", "minimal", "")
	_, _, err := a.c.execute(ctx, q.Execute)
	wrapped := a.c.wrap(op, err)
	a.c.observe(op, wrapped, started)
	return wrapped
}

func (a *tagAPI) Unassign(ctx context.Context, newsletterID domain.NewsletterID, tagID domain.TagID) error {
	const op = "tags.unassign"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableNewsletterTags).
		Delete("", "").
		Eq("newsletter_id", string(newsletterID)).
		Eq("tag_id", string(tagID))
	_, _, err := a.c.execute(ctx, q.Execute)
	wrapped := a.c.wrap(op, err)
	a.c.observe(op, wrapped, started)
	return wrapped
}

type sourceAPI struct{ c *SupabaseClient }

func (a *sourceAPI) List(ctx context.Context) ([]*domain.Source, error) {
	const op = "sources.list"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableSources).
		Select("*", "", false).
		Order("name", &postgrest.OrderOpts{Ascending: true})
	data, _, err := a.c.execute(ctx, q.Execute)
	if err != nil {
		wrapped := a.c.wrap(op, err)
		a.c.observe(op, wrapped, started)
		return nil, wrapped
	}
	a.c.observe(op, nil, started)

	var sources []*domain.Source
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, apperrors.NewService("malformed source list response", 0, err).WithOperation(op)
	}
	return sources, nil
}

func (a *sourceAPI) Update(ctx context.Context, id domain.SourceID, patch domain.SourcePatch) error {
	const op = "sources.update"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableSources).
		Update(patch, "", "").
		Eq("id", string(id))
	_, _, err := a.c.execute(ctx, q.Execute)
	wrapped := a.c.wrap(op, err)
	a.c.observe(op, wrapped, started)
	return wrapped
}

type groupAPI struct{ c *SupabaseClient }

func (a *groupAPI) List(ctx context.Context) ([]*domain.SourceGroup, error) {
	const op = "groups.list"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableGroups).
		Select("*", "", false).
		Order("name", &postgrest.OrderOpts{Ascending: true})
	data, _, err := a.c.execute(ctx, q.Execute)
	if err != nil {
		wrapped := a.c.wrap(op, err)
		a.c.observe(op, wrapped, started)
		return nil, wrapped
	}
	a.c.observe(op, nil, started)

	var groups []*domain.SourceGroup
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, apperrors.NewService("malformed group list response", 0, err).WithOperation(op)
	}
	return groups, nil
}

func (a *groupAPI) Create(ctx context.Context, input domain.CreateGroupInput) (*domain.SourceGroup, error) {
	const op = "groups.create"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableGroups).
		Insert(input, false, "", "representation", "")
	data, _, err := a.c.execute(ctx, q.Execute)
	if err != nil {
		wrapped := a.c.wrap(op, err)
		a.c.observe(op, wrapped, started)
		return nil, wrapped
	}
	a.c.observe(op, nil, started)

	var created []*domain.SourceGroup
	if err := json.Unmarshal(data, &created); err != nil || len(created) == 0 {
		return nil, apperrors.NewService("malformed group create response", 0, err).WithOperation(op)
	}
	return created[0], nil
}

func (a *groupAPI) Update(ctx context.Context, id domain.GroupID, patch domain.GroupPatch) error {
	const op = "groups.update"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableGroups).
		Update(patch, "", "").
		Eq("id", string(id))
	_, _, err := a.c.execute(ctx, q.Execute)
	wrapped := a.c.wrap(op, err)
	a.c.observe(op, wrapped, started)
	return wrapped
}

func (a *groupAPI) Delete(ctx context.Context, id domain.GroupID) error {
	const op = "groups.delete"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableGroups).
		Delete("", "").
		Eq("id", string(id))
	_, _, err := a.c.execute(ctx, q.Execute)
	wrapped := a.c.wrap(op, err)
	a.c.observe(op, wrapped, started)
	return wrapped
}

type queueAPI struct{ c *SupabaseClient }

func (a *queueAPI) List(ctx context.Context) ([]*domain.QueueItem, error) {
	const op = "queue.list"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableQueue).
		Select("*, newsletter:newsletters(*)", "", false).
		Order("position", &postgrest.OrderOpts{Ascending: true})
	data, _, err := a.c.execute(ctx, q.Execute)
	if err != nil {
		wrapped := a.c.wrap(op, err)
		a.c.observe(op, wrapped, started)
		return nil, wrapped
	}
	a.c.observe(op, nil, started)

	var items []*domain.QueueItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, apperrors.NewService("malformed queue response", 0, err).WithOperation(op)
	}
	return items, nil
}

func (a *queueAPI) Add(ctx context.Context, newsletterID domain.NewsletterID) (*domain.QueueItem, error) {
	const op = "queue.add"
	a.c.authorize()
	started := time.Now()

	row := map[string]string{"newsletter_id": string(newsletterID)}
	q := a.c.client.From(tableQueue).
		Insert(row, false, "", "representation", "")
	data, _, err := a.c.execute(ctx, q.Execute)
	if err != nil {
		wrapped := a.c.wrap(op, err)
		a.c.observe(op, wrapped, started)
		return nil, wrapped
	}
	a.c.observe(op, nil, started)

	var created []*domain.QueueItem
	if err := json.Unmarshal(data, &created); err != nil || len(created) == 0 {
		return nil, apperrors.NewService("malformed queue add response", 0, err).WithOperation(op)
	}
	return created[0], nil
}

func (a *queueAPI) Remove(ctx context.Context, newsletterID domain.NewsletterID) error {
	const op = "queue.remove"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(tableQueue).
		Delete("", "").
		Eq("newsletter_id", string(newsletterID))
	_, _, err := a.c.execute(ctx, q.Execute)
	wrapped := a.c.wrap(op, err)
	a.c.observe(op, wrapped, started)
	return wrapped
}

func (a *queueAPI) Reorder(ctx context.Context, orderedIDs []domain.QueueItemID) error {
	const op = "queue.reorder"
	a.c.authorize()
	started := time.Now()

	rows := make([]map[string]any, len(orderedIDs))
	for i, id := range orderedIDs {
		rows[i] = map[string]any{"id": string(id), "position": i}
	}
	q := a.c.client.From(tableQueue).
		Insert(rows, true, "id", "minimal", "")
	_, _, err := a.c.execute(ctx, q.Execute)
	wrapped := a.c.wrap(op, err)
	a.c.observe(op, wrapped, started)
	return wrapped
}

type aggregateAPI struct{ c *SupabaseClient }

// unreadRow is one row of the unread_counts view the backend maintains.
type unreadRow struct {
	SourceID domain.SourceID `json:"newsletter_source_id"`
	Unread   int             `json:"unread"`
}

func (a *aggregateAPI) UnreadCounts(ctx context.Context) (*domain.UnreadCounts, error) {
	const op = "aggregates.unreadCounts"
	a.c.authorize()
	started := time.Now()

	q := a.c.client.From(viewUnreadCounts).
		Select("*", "", false)
	data, _, err := a.c.execute(ctx, q.Execute)
	if err != nil {
		wrapped := a.c.wrap(op, err)
		a.c.observe(op, wrapped, started)
		return nil, wrapped
	}
	a.c.observe(op, nil, started)

	var rows []unreadRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, apperrors.NewService("malformed unread counts response", 0, err).WithOperation(op)
	}

	counts := domain.NewUnreadCounts()
	for _, row := range rows {
		counts.BySource[row.SourceID] = row.Unread
		counts.Total += row.Unread
	}
	return counts, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func newsletterIDStrings(ids []domain.NewsletterID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func sourceIDStrings(ids []domain.SourceID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
