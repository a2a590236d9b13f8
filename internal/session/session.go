// Package session binds one authenticated credential to its channel and
// stores. Everything it owns is discarded together on Close.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/agenda"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/apiclient"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/auth"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/errs"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/model"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/notifications"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/realtime"
	"go.uber.org/zap"
)

const (
	// SocketPath is appended to the API base when no socket url is configured.
	SocketPath = "/ws"

	errorBufferSize = 32
)

var (
	errMissingToken   = errors.New("session: token is required")
	errAlreadyStarted = errors.New("session: already started")
)

// Config describes one session.
type Config struct {
	BaseURL   string
	SocketURL string
	TenantID  string
	Token     string
	// UserID overrides the identity carried by the token.
	UserID   string
	Timeout  time.Duration
	PageSize int
	// ResyncSchedule is a cron spec for the periodic safety refresh; empty
	// disables it.
	ResyncSchedule string
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	HTTPClient     *http.Client
	// Dialer replaces the websocket transport.
	Dialer        realtime.Dialer
	Logger        *zap.Logger
	OnAuthFailure func(error)
}

// Session owns the REST client, the channel and both stores for one token.
type Session struct {
	token    string
	userID   model.ID
	logger   *zap.Logger
	schedule string

	client        *apiclient.Client
	channel       *realtime.ConnectionManager
	agenda        *agenda.Store
	notifications *notifications.Store
	scheduler     *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
	errors  chan error
}

// New wires a session. Nothing touches the network until Start.
func New(cfg Config) (*Session, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errMissingToken
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	userID := strings.TrimSpace(cfg.UserID)
	if userID == "" {
		fromToken, err := auth.UserIDFromToken(token)
		if err != nil {
			logger.Warn("session identity unavailable; only broadcast notifications will be accepted", zap.Error(err))
		}
		userID = fromToken
	}
	identity, err := model.NewID(userID)
	if err != nil && userID != "" {
		return nil, fmt.Errorf("session: user id: %w", err)
	}

	client, err := apiclient.New(apiclient.Config{
		BaseURL:       cfg.BaseURL,
		TenantID:      cfg.TenantID,
		Token:         token,
		HTTPClient:    cfg.HTTPClient,
		Timeout:       cfg.Timeout,
		Logger:        logger.Named("apiclient"),
		OnAuthFailure: cfg.OnAuthFailure,
	})
	if err != nil {
		return nil, err
	}

	dialer := cfg.Dialer
	if dialer == nil {
		socketURL := strings.TrimSpace(cfg.SocketURL)
		if socketURL == "" {
			socketURL, err = realtime.SocketURLFromBase(cfg.BaseURL, SocketPath)
			if err != nil {
				return nil, fmt.Errorf("session: derive socket url: %w", err)
			}
		}
		header := http.Header{}
		header.Set(apiclient.TenantHeader, strings.TrimSpace(cfg.TenantID))
		dialer, err = realtime.NewWebSocketDialer(realtime.WebSocketDialerConfig{
			URL:     socketURL,
			Header:  header,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
	}

	channel, err := realtime.NewConnectionManager(realtime.ManagerConfig{
		Dialer:       dialer,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Logger:       logger.Named("channel"),
	})
	if err != nil {
		return nil, err
	}

	session := &Session{
		token:    token,
		userID:   identity,
		logger:   logger,
		schedule: strings.TrimSpace(cfg.ResyncSchedule),
		client:   client,
		channel:  channel,
		errors:   make(chan error, errorBufferSize),
	}

	session.agenda, err = agenda.NewStore(agenda.StoreConfig{
		API:     client,
		Logger:  logger.Named("agenda"),
		OnError: session.report,
	})
	if err != nil {
		return nil, err
	}
	session.notifications, err = notifications.NewStore(notifications.StoreConfig{
		API:        client,
		UserID:     identity,
		PageSize:   cfg.PageSize,
		IDProvider: notifications.NewUUIDProvider(),
		Logger:     logger.Named("notifications"),
		OnError:    session.report,
	})
	if err != nil {
		return nil, err
	}

	if session.schedule != "" {
		session.scheduler = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		if _, err := session.scheduler.AddFunc(session.schedule, func() {
			session.Resync(session.ctx)
		}); err != nil {
			return nil, fmt.Errorf("session: resync schedule %q: %w", session.schedule, err)
		}
	}

	return session, nil
}

// Start attaches both stores to the channel and opens it. The first
// handshake triggers the initial hydration.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.ErrSessionClosed
	}
	if s.started {
		return errAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.agenda.Attach(s.ctx, s.channel)
	s.notifications.Attach(s.ctx, s.channel)
	s.channel.SetToken(s.token)
	if s.scheduler != nil {
		s.scheduler.Start()
	}
	s.logger.Info("session started", zap.String("user_id", s.userID.String()))
	return nil
}

// Resync re-fetches the agenda and the first notification page.
func (s *Session) Resync(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.agenda.Refresh(ctx)
	}()
	go func() {
		defer wg.Done()
		s.notifications.Refresh(ctx, 1)
	}()
	wg.Wait()
}

// SetForeground forwards app foreground/background transitions.
func (s *Session) SetForeground(foreground bool) {
	s.channel.SetForeground(foreground)
}

// SetOnline forwards device connectivity changes.
func (s *Session) SetOnline(online bool) {
	s.channel.SetOnline(online)
}

func (s *Session) Agenda() *agenda.Store {
	return s.agenda
}

func (s *Session) Notifications() *notifications.Store {
	return s.notifications
}

// Channel exposes the connection for lifecycle subscriptions.
func (s *Session) Channel() *realtime.ConnectionManager {
	return s.channel
}

func (s *Session) UserID() model.ID {
	return s.userID
}

// Errors carries failures the stores swallowed. Values are dropped when the
// buffer is full. The channel closes on Close.
func (s *Session) Errors() <-chan error {
	return s.errors
}

// Close tears the session down: the channel returns to idle, both stores
// discard their sets and late results become no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	scheduler := s.scheduler
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	s.channel.SetToken("")
	s.agenda.Close()
	s.notifications.Close()
	s.channel.Close()

	s.mu.Lock()
	close(s.errors)
	s.mu.Unlock()
	s.logger.Info("session closed", zap.String("user_id", s.userID.String()))
}

func (s *Session) report(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.errors <- err:
	default:
		s.logger.Debug("session error dropped", zap.Error(err))
	}
}
