// Package realtime subscribes to the backend's change feed and turns
// pushed record changes into cache invalidations. A lost connection or a
// missed event never corrupts anything: it only delays convergence until
// the next settle-time invalidation or reconnect.
package realtime

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zapidan/newsletter-hub-sub004/internal/cache"
	"github.com/zapidan/newsletter-hub-sub004/pkg/observability"
)

// Event is one change notice from the backend feed.
type Event struct {
	Entity string   `json:"entity"`
	IDs    []string `json:"ids"`
	Change string   `json:"change"` // insert, update, or delete
}

// TokenSource supplies the session token the feed authenticates with.
type TokenSource interface {
	Token() (string, bool)
}

// Config holds the listener settings.
type Config struct {
	URL               string
	PingInterval      time.Duration
	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration
}

// Listener maintains the websocket connection and feeds events into the
// cache manager's invalidation path.
type Listener struct {
	cfg     Config
	cache   *cache.Manager
	tokens  TokenSource
	metrics *observability.Collector
	logger  *zap.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	startOne sync.Once
	stopOne  sync.Once
}

// NewListener creates a listener. metrics may be nil.
func NewListener(cfg Config, c *cache.Manager, tokens TokenSource, metrics *observability.Collector, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = time.Second
	}
	if cfg.ReconnectMaxWait < cfg.ReconnectBaseWait {
		cfg.ReconnectMaxWait = 30 * time.Second
	}
	return &Listener{
		cfg:     cfg,
		cache:   c,
		tokens:  tokens,
		metrics: metrics,
		logger:  logger.Named("realtime"),
		done:    make(chan struct{}),
	}
}

// Start begins the connect/read loop. It returns immediately; the loop
// reconnects with exponential backoff until Close or ctx cancellation.
func (l *Listener) Start(ctx context.Context) {
	l.startOne.Do(func() {
		ctx, l.cancel = context.WithCancel(ctx)
		go l.run(ctx)
	})
}

// Close stops the loop and waits for it to exit.
func (l *Listener) Close() {
	l.stopOne.Do(func() {
		if l.cancel != nil {
			l.cancel()
			<-l.done
		} else {
			close(l.done)
		}
	})
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)

	wait := l.cfg.ReconnectBaseWait
	for {
		if ctx.Err() != nil {
			return
		}

		err := l.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("change feed disconnected, reconnecting",
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait *= 2
		if wait > l.cfg.ReconnectMaxWait {
			wait = l.cfg.ReconnectMaxWait
		}
	}
}

// connectAndRead dials once and reads events until the connection dies.
// A successful read resets the reconnect backoff via its return path.
func (l *Listener) connectAndRead(ctx context.Context) error {
	dialURL, err := l.feedURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	l.logger.Info("change feed connected")

	// Close the socket when the context dies so the read loop unblocks.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(l.cfg.PingInterval * 2))
	})
	if err := conn.SetReadDeadline(time.Now().Add(l.cfg.PingInterval * 2)); err != nil {
		return err
	}

	pings := time.NewTicker(l.cfg.PingInterval)
	defer pings.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pings.C:
				deadline := time.Now().Add(10 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		l.handle(data)
	}
}

func (l *Listener) feedURL() (string, error) {
	u, err := url.Parse(l.cfg.URL)
	if err != nil {
		return "", err
	}
	if l.tokens != nil {
		if token, ok := l.tokens.Token(); ok {
			q := u.Query()
			q.Set("token", token)
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), nil
}

// handle decodes one event and hands it to the invalidation path. The
// debounced invalidator underneath absorbs event bursts.
func (l *Listener) handle(data []byte) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		l.logger.Warn("undecodable change feed event", zap.Error(err))
		return
	}

	entity, ok := entityFor(ev.Entity)
	if !ok {
		l.logger.Debug("change feed event for unknown entity",
			zap.String("entity", ev.Entity))
		return
	}

	if l.metrics != nil {
		l.metrics.RealtimeEvents.WithLabelValues(ev.Entity).Inc()
	}
	l.cache.InvalidateRelated(entity, ev.IDs, "realtime")
}

func entityFor(name string) (cache.Entity, bool) {
	switch name {
	case "newsletters", "newsletter":
		return cache.EntityNewsletter, true
	case "tags", "tag":
		return cache.EntityTag, true
	case "newsletter_sources", "source":
		return cache.EntitySource, true
	case "newsletter_source_groups", "group":
		return cache.EntityGroup, true
	case "reading_queue", "queue":
		return cache.EntityQueue, true
	}
	return "", false
}
