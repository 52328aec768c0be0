package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapidan/newsletter-hub-sub004/internal/cache"
	"github.com/zapidan/newsletter-hub-sub004/internal/domain"
	"github.com/zapidan/newsletter-hub-sub004/internal/querykey"
)

type staticTokens struct{ token string }

func (s staticTokens) Token() (string, bool) { return s.token, s.token != "" }

// feedServer is a one-connection websocket server pushing canned events.
func feedServer(t *testing.T, events []Event, gotToken *string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotToken = r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for _, ev := range events {
			data, _ := json.Marshal(ev)
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestListener_EventsInvalidateCache(t *testing.T) {
	c := cache.NewManager(cache.Options{DebounceWindow: 5 * time.Millisecond}, nil, nil)
	defer c.Close()

	listKey := querykey.NewsletterList(domain.NewsletterFilter{})
	c.Set(listKey, &domain.NewsletterPage{Items: nil, Total: 0})

	refetched := make(chan querykey.Key, 4)
	c.RegisterFetcher(querykey.Newsletters(), func(ctx context.Context, key querykey.Key) error {
		refetched <- key
		return nil
	})

	var gotToken string
	srv := feedServer(t, []Event{
		{Entity: "newsletters", IDs: []string{"n1"}, Change: "update"},
	}, &gotToken)
	defer srv.Close()

	l := NewListener(Config{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		PingInterval:      time.Second,
		ReconnectBaseWait: 10 * time.Millisecond,
	}, c, staticTokens{token: "session-token"}, nil, nil)

	l.Start(context.Background())
	defer l.Close()

	select {
	case key := <-refetched:
		assert.True(t, key.Equal(listKey), "newsletter list refetched after feed event")
	case <-time.After(2 * time.Second):
		t.Fatal("feed event did not trigger a refetch")
	}
	assert.Equal(t, "session-token", gotToken, "feed authenticates with the session token")
}

func TestListener_CloseStopsLoop(t *testing.T) {
	c := cache.NewManager(cache.Options{}, nil, nil)
	defer c.Close()

	var gotToken string
	srv := feedServer(t, nil, &gotToken)
	defer srv.Close()

	l := NewListener(Config{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectBaseWait: 10 * time.Millisecond,
	}, c, nil, nil, nil)

	l.Start(context.Background())
	done := make(chan struct{})
	go func() {
		l.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestEntityFor(t *testing.T) {
	for name, want := range map[string]cache.Entity{
		"newsletters":              cache.EntityNewsletter,
		"tags":                     cache.EntityTag,
		"newsletter_sources":       cache.EntitySource,
		"newsletter_source_groups": cache.EntityGroup,
		"reading_queue":            cache.EntityQueue,
	} {
		entity, ok := entityFor(name)
		require.True(t, ok, name)
		assert.Equal(t, want, entity)
	}
	_, ok := entityFor("unknown")
	assert.False(t, ok)
}
