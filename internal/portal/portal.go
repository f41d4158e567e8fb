// Package portal exposes the renovation portal's resources (auth, users, projects,
// updates, gallery, chat) on top of the api.Client.
//
// Mutations report their outcome through the notifier unless the context was marked
// with notify.Suppress. Reads populate the query cache; mutations keep it coherent.
package portal

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/khgapparov/flipApp/internal/api"
	perrors "github.com/khgapparov/flipApp/internal/errors"
	"github.com/khgapparov/flipApp/internal/eventbus"
	"github.com/khgapparov/flipApp/internal/notify"
	"github.com/khgapparov/flipApp/internal/poll"
	"github.com/khgapparov/flipApp/internal/querycache"
	"github.com/khgapparov/flipApp/internal/session"
)

// Intervals are the polling periods per resource.
type Intervals struct {
	Project time.Duration
	Updates time.Duration
	Gallery time.Duration
	Chat    time.Duration
}

// DefaultIntervals polls chat faster than everything else.
func DefaultIntervals() Intervals {
	return Intervals{
		Project: poll.DefaultInterval,
		Updates: poll.DefaultInterval,
		Gallery: poll.DefaultInterval,
		Chat:    poll.DefaultChatInterval,
	}
}

// Portal bundles the resource services.
type Portal struct {
	client    *api.Client
	sessions  *session.Store
	notifier  notify.Notifier
	cache     *querycache.Cache
	polls     *poll.Manager
	bus       *eventbus.Bus
	feed      *eventbus.Feed
	intervals Intervals
	search    time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	Auth     *AuthService
	Users    *UserService
	Projects *ProjectService
	Updates  *UpdateService
	Gallery  *GalleryService
	Chat     *ChatService
}

// Option configures a Portal.
type Option func(*Portal)

// WithNotifier sets where success and failure notices go.
func WithNotifier(n notify.Notifier) Option {
	return func(p *Portal) { p.notifier = n }
}

// WithCache replaces the default query cache.
func WithCache(c *querycache.Cache) Option {
	return func(p *Portal) { p.cache = c }
}

// WithPollManager sets the manager that owns subscriptions.
func WithPollManager(m *poll.Manager) Option {
	return func(p *Portal) { p.polls = m }
}

// WithIntervals overrides the polling periods. Zero fields keep their defaults.
func WithIntervals(iv Intervals) Option {
	return func(p *Portal) {
		if iv.Project > 0 {
			p.intervals.Project = iv.Project
		}
		if iv.Updates > 0 {
			p.intervals.Updates = iv.Updates
		}
		if iv.Gallery > 0 {
			p.intervals.Gallery = iv.Gallery
		}
		if iv.Chat > 0 {
			p.intervals.Chat = iv.Chat
		}
	}
}

// WithClock overrides the clock used for client-side timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Portal) { p.now = now }
}

// WithSearchDelay sets how long Projects.Search waits for typing to settle.
func WithSearchDelay(d time.Duration) Option {
	return func(p *Portal) { p.search = d }
}

// WithEventBus sets the bus real-time events are dispatched on.
func WithEventBus(b *eventbus.Bus) Option {
	return func(p *Portal) { p.bus = b }
}

// WithEventFeed enables the WebSocket event feed.
func WithEventFeed(f *eventbus.Feed) Option {
	return func(p *Portal) { p.feed = f }
}

// New creates the portal services.
func New(client *api.Client, sessions *session.Store, logger zerolog.Logger, opts ...Option) *Portal {
	p := &Portal{
		client:    client,
		sessions:  sessions,
		notifier:  notify.Nop{},
		intervals: DefaultIntervals(),
		search:    DefaultSearchDelay,
		now:       time.Now,
		logger:    logger.With().Str("component", "portal").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cache == nil {
		p.cache = querycache.New(256, 5*time.Minute)
	}
	if p.polls == nil {
		p.polls = poll.NewManager(logger, nil)
	}
	if p.bus == nil {
		p.bus = eventbus.New(p.notifier, logger)
	}

	p.Auth = &AuthService{p: p}
	p.Users = &UserService{p: p}
	p.Projects = newProjectService(p)
	p.Updates = &UpdateService{p: p}
	p.Gallery = &GalleryService{p: p}
	p.Chat = &ChatService{p: p}
	return p
}

// Cache returns the query cache.
func (p *Portal) Cache() *querycache.Cache { return p.cache }

// Events returns the real-time event bus.
func (p *Portal) Events() *eventbus.Bus { return p.bus }

// Session returns the current session.
func (p *Portal) Session(ctx context.Context) session.Session { return p.sessions.Get(ctx) }

// ConnectEvents opens the event feed with the current token. It is a no-op without a feed.
func (p *Portal) ConnectEvents(ctx context.Context) error {
	if p.feed == nil {
		return nil
	}
	return p.feed.Connect(ctx, p.sessions.Token(ctx))
}

// Close cancels every subscription and closes the event feed.
func (p *Portal) Close() {
	p.polls.Close()
	if p.feed != nil {
		_ = p.feed.Close()
	}
}

func (p *Portal) timestamp() string {
	return p.now().Format(TimestampLayout)
}

func (p *Portal) succeed(ctx context.Context, msg string) {
	if notify.Suppressed(ctx) {
		return
	}
	notify.Success(ctx, p.notifier, msg)
}

// fail reports err with the server message or fallback and returns err unchanged.
func (p *Portal) fail(ctx context.Context, err error, fallback string) error {
	if !notify.Suppressed(ctx) {
		notify.Error(ctx, p.notifier, perrors.MessageOr(err, fallback))
	}
	return err
}

// relabel returns err with msg as its user-facing message, keeping its kind and status.
func relabel(err error, kind perrors.Kind, status int, msg string) error {
	if apiErr, ok := perrors.As(err); ok {
		out := *apiErr
		out.Message = msg
		out.Err = apiErr
		return &out
	}
	out := perrors.NewAPIError(kind, status, msg)
	out.Err = err
	return out
}
