// Package agenda holds the session's calendar events. Event writes reconcile
// with server truth: nothing is inserted, replaced or removed locally until the
// REST collaborator confirms it.
package agenda

import (
	"context"
	"errors"
	"sync"

	"github.com/urquidy/mhl-homes-frontend-sub001/internal/errs"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/model"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/realtime"
	"go.uber.org/zap"
)

const (
	opRefresh = "agenda.refresh"
	opAdd     = "agenda.add"
	opUpdate  = "agenda.update"
	opDelete  = "agenda.delete"

	watchBufferSize = 4
)

var errMissingAPI = errors.New("agenda: api dependency required")

// API is the REST collaborator used by the store.
type API interface {
	ListEvents(ctx context.Context) ([]model.CalendarEvent, error)
	CreateEvent(ctx context.Context, draft model.EventDraft) (model.CalendarEvent, error)
	UpdateEvent(ctx context.Context, event model.CalendarEvent) (model.CalendarEvent, error)
	DeleteEvent(ctx context.Context, id model.ID) error
}

// Channel is the subscription surface of the session's ConnectionManager.
type Channel interface {
	Subscribe(event string, handler realtime.Handler) func()
}

type StoreConfig struct {
	API    API
	Logger *zap.Logger
	// OnError receives refresh failures, which never reach the caller.
	OnError func(error)
}

// Snapshot is an immutable view of the store.
type Snapshot struct {
	Events []model.CalendarEvent
	Loaded bool
}

// Store is the EventStore: an unordered set of events keyed by id.
type Store struct {
	api     API
	logger  *zap.Logger
	onError func(error)
	changes *realtime.Broadcaster[Snapshot]

	mu            sync.RWMutex
	events        []model.CalendarEvent
	loaded        bool
	closed        bool
	refreshSeq    int64
	appliedSeq    int64
	mutationEpoch int64
	unsubscribers []func()
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.API == nil {
		return nil, errMissingAPI
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		api:     cfg.API,
		logger:  logger,
		onError: cfg.OnError,
		changes: realtime.NewBroadcaster[Snapshot](watchBufferSize),
	}, nil
}

// Attach refreshes on every channel handshake and on agenda_updated. ctx
// bounds the refreshes it starts.
func (s *Store) Attach(ctx context.Context, channel Channel) {
	trigger := func(message realtime.Message) {
		s.logger.Debug("agenda refresh triggered", zap.String("event", message.Event))
		go s.Refresh(ctx)
	}
	unsubscribers := []func(){
		channel.Subscribe(realtime.EventConnect, trigger),
		channel.Subscribe(realtime.EventAgendaUpdated, trigger),
	}
	s.mu.Lock()
	s.unsubscribers = append(s.unsubscribers, unsubscribers...)
	s.mu.Unlock()
}

// Refresh replaces the local set wholesale with the server collection. On
// failure the set is left unchanged and the error goes to OnError.
func (s *Store) Refresh(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.refreshSeq++
	seq := s.refreshSeq
	epoch := s.mutationEpoch
	s.mu.Unlock()

	events, err := s.api.ListEvents(ctx)
	if err != nil {
		s.report(opRefresh, "fetch_failed", err)
		return
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return
	case seq < s.appliedSeq:
		s.mu.Unlock()
		s.logger.Debug("agenda refresh superseded", zap.Int64("seq", seq))
		return
	case epoch != s.mutationEpoch:
		// the snapshot predates a confirmed write
		s.mu.Unlock()
		s.logger.Debug("agenda refresh predates local write", zap.Int64("seq", seq))
		s.Refresh(ctx)
		return
	}
	s.appliedSeq = seq
	s.events = dedupe(events)
	s.loaded = true
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.changes.Publish(snapshot)
}

// Add submits draft and inserts the server-returned event.
func (s *Store) Add(ctx context.Context, draft model.EventDraft) (model.CalendarEvent, error) {
	if err := draft.Validate(); err != nil {
		return model.CalendarEvent{}, err
	}
	if err := s.ensureOpen(); err != nil {
		return model.CalendarEvent{}, err
	}
	created, err := s.api.CreateEvent(ctx, draft)
	if err != nil {
		s.logFailure(opAdd, err)
		return model.CalendarEvent{}, err
	}
	s.apply(func() {
		s.upsertLocked(created)
	})
	return created.Clone(), nil
}

// Update submits a full replacement and applies it in place once confirmed.
func (s *Store) Update(ctx context.Context, event model.CalendarEvent) (model.CalendarEvent, error) {
	if err := event.Validate(); err != nil {
		return model.CalendarEvent{}, err
	}
	if err := s.ensureOpen(); err != nil {
		return model.CalendarEvent{}, err
	}
	updated, err := s.api.UpdateEvent(ctx, event)
	if err != nil {
		s.logFailure(opUpdate, err, zap.String("event_id", event.ID.String()))
		return model.CalendarEvent{}, err
	}
	s.apply(func() {
		s.upsertLocked(updated)
	})
	return updated.Clone(), nil
}

// Delete removes id once the server confirms.
func (s *Store) Delete(ctx context.Context, id model.ID) error {
	if id.IsZero() {
		return errs.NewValidationError("id", "required")
	}
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.api.DeleteEvent(ctx, id); err != nil {
		s.logFailure(opDelete, err, zap.String("event_id", id.String()))
		return err
	}
	s.apply(func() {
		s.removeLocked(id)
	})
	return nil
}

// Events returns a copy of the current set.
func (s *Store) Events() []model.CalendarEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked().Events
}

// Event looks an event up by id.
func (s *Store) Event(id model.ID) (model.CalendarEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, event := range s.events {
		if event.ID == id {
			return event.Clone(), true
		}
	}
	return model.CalendarEvent{}, false
}

// Snapshot returns the current immutable view.
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
	s.events = nil
	s.loaded = false
	s.mu.Unlock()

	for _, unsubscribe := range unsubscribers {
		unsubscribe()
	}
	s.changes.Close()
}

func (s *Store) ensureOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errs.ErrSessionClosed
	}
	return nil
}

func (s *Store) apply(mutate func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	mutate()
	s.mutationEpoch++
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.changes.Publish(snapshot)
}

func (s *Store) upsertLocked(event model.CalendarEvent) {
	for index := range s.events {
		if s.events[index].ID == event.ID {
			s.events[index] = event.Clone()
			return
		}
	}
	s.events = append(s.events, event.Clone())
}

func (s *Store) removeLocked(id model.ID) {
	for index := range s.events {
		if s.events[index].ID == id {
			s.events = append(s.events[:index], s.events[index+1:]...)
			return
		}
	}
}

func (s *Store) snapshotLocked() Snapshot {
	events := make([]model.CalendarEvent, 0, len(s.events))
	for _, event := range s.events {
		events = append(events, event.Clone())
	}
	return Snapshot{Events: events, Loaded: s.loaded}
}

func (s *Store) report(operation, reason string, err error) {
	s.logger.Warn("agenda store error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err))
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *Store) logFailure(operation string, err error, fields ...zap.Field) {
	attrs := append([]zap.Field{zap.String("operation", operation), zap.Error(err)}, fields...)
	s.logger.Info("agenda write rejected", attrs...)
}

// dedupe keeps the last occurrence of each id.
func dedupe(events []model.CalendarEvent) []model.CalendarEvent {
	positions := make(map[model.ID]int, len(events))
	result := make([]model.CalendarEvent, 0, len(events))
	for _, event := range events {
		if event.ID.IsZero() {
			continue
		}
		if index, ok := positions[event.ID]; ok {
			result[index] = event.Clone()
			continue
		}
		positions[event.ID] = len(result)
		result = append(result, event.Clone())
	}
	return result
}
