// Package notifications reconciles notification history pages with live
// channel deltas into one de-duplicated set ordered newest first.
//
// Read flags are local truth: MarkAsRead and MarkAllAsRead flip the flag
// before the server answers and never roll it back. Everything else follows
// the server.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/urquidy/mhl-homes-frontend-sub001/internal/apiclient"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/errs"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/model"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/realtime"
	"go.uber.org/zap"
)

const (
	opRefresh     = "notifications.refresh"
	opLive        = "notifications.live"
	opMarkRead    = "notifications.mark_read"
	opMarkAllRead = "notifications.mark_all_read"
	opAddLocal    = "notifications.add_local"

	// DefaultPageSize is the server page size used when none is configured.
	DefaultPageSize = 20
	watchBufferSize = 4
)

var errMissingAPI = errors.New("notifications: api dependency required")

// API is the REST collaborator used by the store.
type API interface {
	ListNotifications(ctx context.Context, page, limit int) (apiclient.NotificationPage, error)
	MarkNotificationRead(ctx context.Context, id model.ID) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Channel is the subscription surface of the session's ConnectionManager.
type Channel interface {
	Subscribe(event string, handler realtime.Handler) func()
}

type StoreConfig struct {
	API API
	// UserID is the session identity live messages are matched against.
	UserID     model.ID
	PageSize   int
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	// OnError receives failures that never reach the caller: refreshes and
	// read-state confirmations.
	OnError func(error)
}

// Cursor is the server paging state.
type Cursor struct {
	// Page is the deepest server page merged so far; zero before the first.
	Page    int
	HasMore bool
}

// Snapshot is an immutable view of the store.
type Snapshot struct {
	Items       []model.AppNotification
	UnreadCount int
	Cursor      Cursor
	Loaded      bool
}

// Store is the NotificationStore.
type Store struct {
	api        API
	userID     model.ID
	pageSize   int
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	onError    func(error)
	changes    *realtime.Broadcaster[Snapshot]

	mu            sync.RWMutex
	items         []model.AppNotification
	cursor        Cursor
	loaded        bool
	loadingMore   bool
	closed        bool
	unsubscribers []func()
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.API == nil {
		return nil, errMissingAPI
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		api:        cfg.API,
		userID:     cfg.UserID,
		pageSize:   pageSize,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
		onError:    cfg.OnError,
		changes:    realtime.NewBroadcaster[Snapshot](watchBufferSize),
	}, nil
}

// Attach re-fetches the first page on every channel handshake and merges
// live notification messages. ctx bounds the refreshes it starts.
func (s *Store) Attach(ctx context.Context, channel Channel) {
	unsubscribers := []func(){
		channel.Subscribe(realtime.EventConnect, func(realtime.Message) {
			go s.Refresh(ctx, 1)
		}),
		channel.Subscribe(realtime.EventNotification, func(message realtime.Message) {
			s.HandleLiveMessage(message.Data)
		}),
	}
	s.mu.Lock()
	s.unsubscribers = append(s.unsubscribers, unsubscribers...)
	s.mu.Unlock()
}

// Refresh fetches one history page and merges it by id. Entries already
// present are kept; failures leave the set unchanged and go to OnError.
func (s *Store) Refresh(ctx context.Context, page int) {
	if page < 1 {
		page = 1
	}
	if s.isClosed() {
		return
	}

	result, err := s.api.ListNotifications(ctx, page, s.pageSize)
	if err != nil {
		s.report(opRefresh, "fetch_failed", err, zap.Int("page", page))
		return
	}

	fetchedAt := s.clock()
	incoming := make([]model.AppNotification, 0, len(result.Items))
	for _, payload := range result.Items {
		notification, err := payload.ToNotification(fetchedAt)
		if err != nil {
			s.logger.Warn("notification payload rejected",
				zap.String("operation", opRefresh),
				zap.String("reason", "invalid_payload"),
				zap.String("notification_id", payload.ID.String()),
				zap.Error(err))
			continue
		}
		incoming = append(incoming, notification)
	}

	s.mutate(func() {
		for _, notification := range incoming {
			s.mergeLocked(notification)
		}
		if page >= s.cursor.Page {
			s.cursor = Cursor{Page: page, HasMore: result.HasMore}
		}
		s.loaded = true
	})
}

// LoadMore fetches the next server page. It is a no-op while another
// LoadMore is running or when the server has nothing more.
func (s *Store) LoadMore(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.loadingMore || (s.loaded && !s.cursor.HasMore) {
		s.mu.Unlock()
		return
	}
	s.loadingMore = true
	next := s.cursor.Page + 1
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loadingMore = false
		s.mu.Unlock()
	}()
	s.Refresh(ctx, next)
}

// HandleLiveMessage merges a live notification payload. Payloads addressed
// to another user are discarded silently.
func (s *Store) HandleLiveMessage(raw json.RawMessage) {
	var payload model.NotificationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("live notification undecodable",
			zap.String("operation", opLive),
			zap.String("reason", "decode_failed"),
			zap.Error(err))
		return
	}
	if !payload.Addressed(s.userID) {
		s.logger.Debug("live notification for another recipient",
			zap.String("notification_id", payload.ID.String()),
			zap.String("recipient_id", payload.Recipient().String()))
		return
	}
	notification, err := payload.ToNotification(s.clock())
	if err != nil {
		s.logger.Warn("live notification rejected",
			zap.String("operation", opLive),
			zap.String("reason", "invalid_payload"),
			zap.String("notification_id", payload.ID.String()),
			zap.Error(err))
		return
	}
	s.mutate(func() {
		s.mergeLocked(notification)
	})
}

// MarkAsRead flips the read flag locally, then confirms with the server.
// Only validation errors are returned; confirmation failures go to OnError
// and the local flag stays set.
func (s *Store) MarkAsRead(ctx context.Context, id model.ID) error {
	if id.IsZero() {
		return errs.NewValidationError("id", "required")
	}
	if s.isClosed() {
		return errs.ErrSessionClosed
	}
	localOnly := false
	s.mutate(func() {
		for index := range s.items {
			if s.items[index].ID == id {
				s.items[index].Read = true
				localOnly = s.items[index].LocalOnly
				return
			}
		}
	})
	if localOnly {
		return nil
	}
	if err := s.api.MarkNotificationRead(ctx, id); err != nil {
		s.report(opMarkRead, "confirm_failed", err, zap.String("notification_id", id.String()))
	}
	return nil
}

// MarkAllAsRead flips every known entry, then issues one server call with
// the same non-rollback policy as MarkAsRead.
func (s *Store) MarkAllAsRead(ctx context.Context) error {
	if s.isClosed() {
		return errs.ErrSessionClosed
	}
	s.mutate(func() {
		for index := range s.items {
			s.items[index].Read = true
		}
	})
	if err := s.api.MarkAllNotificationsRead(ctx); err != nil {
		s.report(opMarkAllRead, "confirm_failed", err)
	}
	return nil
}

// AddLocalOnly inserts a client-only notification that never reaches the
// server.
func (s *Store) AddLocalOnly(text string, severity model.Severity) (model.AppNotification, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.AppNotification{}, errs.NewValidationError("text", "required")
	}
	if s.isClosed() {
		return model.AppNotification{}, errs.ErrSessionClosed
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logger.Error("local notification id failed",
			zap.String("operation", opAddLocal),
			zap.String("reason", "id_generation_failed"),
			zap.Error(err))
		return model.AppNotification{}, err
	}
	notification := model.AppNotification{
		ID:        id,
		Text:      text,
		Date:      s.clock().UTC(),
		Type:      severity,
		LocalOnly: true,
	}
	s.mutate(func() {
		s.mergeLocked(notification)
	})
	return notification, nil
}

// Notifications returns a copy of the reconciled set, newest first.
func (s *Store) Notifications() []model.AppNotification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.AppNotification(nil), s.items...)
}

// UnreadCount is derived from the current set on every call.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return UnreadCount(s.items)
}

// Cursor returns the server paging state.
func (s *Store) Cursor() Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// View derives the filtered, windowed slice of the current set.
func (s *Store) View(filter Filter, limit int) View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Apply(s.items, filter, Window{Limit: limit, RemoteHasMore: s.cursor.HasMore})
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Watch streams a snapshot after every change.
func (s *Store) Watch(ctx context.Context) (<-chan Snapshot, func()) {
	return s.changes.Subscribe(ctx)
}

// Close detaches from the channel and discards the set. Results of calls
// still in flight are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribers := s.unsubscribers
	s.unsubscribers = nil
	s.items = nil
	s.cursor = Cursor{}
	s.loaded = false
	s.mu.Unlock()

	for _, unsubscribe := range unsubscribers {
		unsubscribe()
	}
	s.changes.Close()
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// mutate applies change under the lock, restores ordering and publishes.
func (s *Store) mutate(change func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	change()
	sort.SliceStable(s.items, func(i, j int) bool {
		return s.items[i].NewerThan(s.items[j])
	})
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.changes.Publish(snapshot)
}

// mergeLocked inserts incoming or merges it into the entry with the same id.
// A known entry keeps its local read flag; only MarkAsRead and MarkAllAsRead
// change it. Other fields come from whichever side carries the newer date.
func (s *Store) mergeLocked(incoming model.AppNotification) {
	for index := range s.items {
		existing := s.items[index]
		if existing.ID != incoming.ID {
			continue
		}
		merged := existing
		if !existing.Date.After(incoming.Date) {
			merged = incoming
			merged.LocalOnly = existing.LocalOnly && incoming.LocalOnly
		}
		merged.Read = existing.Read
		s.items[index] = merged
		return
	}
	s.items = append(s.items, incoming)
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Items:       append([]model.AppNotification(nil), s.items...),
		UnreadCount: UnreadCount(s.items),
		Cursor:      s.cursor,
		Loaded:      s.loaded,
	}
}

func (s *Store) report(operation, reason string, err error, fields ...zap.Field) {
	attrs := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	s.logger.Warn("notification store error", attrs...)
	if s.onError != nil {
		s.onError(err)
	}
}
