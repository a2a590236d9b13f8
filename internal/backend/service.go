// Package backend stores the agenda and notification collections served by
// the development backend.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urquidy/mhl-homes-frontend-sub001/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound marks lookups of records that do not exist for the caller.
	ErrNotFound = errors.New("backend: record not found")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingTenantID   = errors.New("tenant identifier is required")
	errMissingMessage    = errors.New("notification message is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew          = "backend.service.new"
	opListEvents          = "backend.list_events"
	opCreateEvent         = "backend.create_event"
	opUpdateEvent         = "backend.update_event"
	opDeleteEvent         = "backend.delete_event"
	opListNotifications   = "backend.list_notifications"
	opCreateNotification  = "backend.create_notification"
	opMarkNotification    = "backend.mark_notification_read"
	opMarkAllNotification = "backend.mark_all_notifications_read"

	defaultPageLimit = 20
	maxPageLimit     = 100
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// ListEvents returns every agenda event of the tenant ordered by date.
func (s *Service) ListEvents(ctx context.Context, tenantID string) ([]model.CalendarEvent, error) {
	if tenantID == "" {
		return nil, newServiceError(opListEvents, "missing_tenant_id", errMissingTenantID)
	}
	var records []EventRecord
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("event_date ASC, event_time ASC, id ASC").
		Find(&records).Error; err != nil {
		s.logError(opListEvents, "query_failed", err, zap.String("tenant_id", tenantID))
		return nil, newServiceError(opListEvents, "query_failed", err)
	}
	events := make([]model.CalendarEvent, 0, len(records))
	for _, record := range records {
		events = append(events, record.toModel())
	}
	return events, nil
}

// CreateEvent validates draft and stores it under a new server id.
func (s *Service) CreateEvent(ctx context.Context, tenantID string, draft model.EventDraft) (model.CalendarEvent, error) {
	if tenantID == "" {
		return model.CalendarEvent{}, newServiceError(opCreateEvent, "missing_tenant_id", errMissingTenantID)
	}
	if err := draft.Validate(); err != nil {
		return model.CalendarEvent{}, err
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateEvent, "id_generation_failed", err)
		return model.CalendarEvent{}, newServiceError(opCreateEvent, "id_generation_failed", err)
	}
	record := EventRecord{ID: id.String(), TenantID: tenantID}
	record.apply(draft)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreateEvent, "insert_failed", err, zap.String("tenant_id", tenantID))
		return model.CalendarEvent{}, newServiceError(opCreateEvent, "insert_failed", err)
	}
	return record.toModel(), nil
}

// UpdateEvent replaces the event with id.
func (s *Service) UpdateEvent(ctx context.Context, tenantID string, id model.ID, draft model.EventDraft) (model.CalendarEvent, error) {
	if tenantID == "" {
		return model.CalendarEvent{}, newServiceError(opUpdateEvent, "missing_tenant_id", errMissingTenantID)
	}
	if err := draft.Validate(); err != nil {
		return model.CalendarEvent{}, err
	}
	var record EventRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ? AND id = ?", tenantID, id.String()).Take(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newServiceError(opUpdateEvent, "not_found", ErrNotFound)
			}
			s.logError(opUpdateEvent, "select_failed", err, zap.String("event_id", id.String()))
			return newServiceError(opUpdateEvent, "select_failed", err)
		}
		record.apply(draft)
		if err := tx.Save(&record).Error; err != nil {
			s.logError(opUpdateEvent, "save_failed", err, zap.String("event_id", id.String()))
			return newServiceError(opUpdateEvent, "save_failed", err)
		}
		return nil
	})
	if err != nil {
		return model.CalendarEvent{}, err
	}
	return record.toModel(), nil
}

// DeleteEvent removes the event with id.
func (s *Service) DeleteEvent(ctx context.Context, tenantID string, id model.ID) error {
	if tenantID == "" {
		return newServiceError(opDeleteEvent, "missing_tenant_id", errMissingTenantID)
	}
	result := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id.String()).
		Delete(&EventRecord{})
	if result.Error != nil {
		s.logError(opDeleteEvent, "delete_failed", result.Error, zap.String("event_id", id.String()))
		return newServiceError(opDeleteEvent, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDeleteEvent, "not_found", ErrNotFound)
	}
	return nil
}

// NotificationPage is one page of a user's notification feed.
type NotificationPage struct {
	Items []model.NotificationPayload
	Page  int
	Limit int
	Total int64
}

// ListNotifications pages the feed of userID, newest first. The feed holds
// notifications addressed to the user plus tenant-wide broadcasts.
func (s *Service) ListNotifications(ctx context.Context, tenantID, userID string, page, limit int) (NotificationPage, error) {
	if tenantID == "" {
		return NotificationPage{}, newServiceError(opListNotifications, "missing_tenant_id", errMissingTenantID)
	}
	if page < 1 {
		page = 1
	}
	switch {
	case limit <= 0:
		limit = defaultPageLimit
	case limit > maxPageLimit:
		limit = maxPageLimit
	}

	feed := s.feed(ctx, tenantID, userID)
	var total int64
	if err := feed.Model(&NotificationRecord{}).Count(&total).Error; err != nil {
		s.logError(opListNotifications, "count_failed", err, zap.String("tenant_id", tenantID))
		return NotificationPage{}, newServiceError(opListNotifications, "count_failed", err)
	}
	var records []NotificationRecord
	if err := s.feed(ctx, tenantID, userID).
		Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&records).Error; err != nil {
		s.logError(opListNotifications, "query_failed", err, zap.String("tenant_id", tenantID))
		return NotificationPage{}, newServiceError(opListNotifications, "query_failed", err)
	}

	result := NotificationPage{
		Items: make([]model.NotificationPayload, 0, len(records)),
		Page:  page,
		Limit: limit,
		Total: total,
	}
	for _, record := range records {
		result.Items = append(result.Items, record.toPayload())
	}
	return result, nil
}

// NotificationInput describes a notification to create.
type NotificationInput struct {
	RecipientID string
	Title       string
	Message     string
	Severity    string
	Category    string
	ReferenceID string
}

// CreateNotification stores a notification and returns its wire payload.
func (s *Service) CreateNotification(ctx context.Context, tenantID string, input NotificationInput) (model.NotificationPayload, error) {
	if tenantID == "" {
		return model.NotificationPayload{}, newServiceError(opCreateNotification, "missing_tenant_id", errMissingTenantID)
	}
	message := strings.TrimSpace(input.Message)
	if message == "" {
		return model.NotificationPayload{}, newServiceError(opCreateNotification, "missing_message", errMissingMessage)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateNotification, "id_generation_failed", err)
		return model.NotificationPayload{}, newServiceError(opCreateNotification, "id_generation_failed", err)
	}
	record := NotificationRecord{
		ID:          id.String(),
		TenantID:    tenantID,
		RecipientID: strings.TrimSpace(input.RecipientID),
		Title:       strings.TrimSpace(input.Title),
		Message:     message,
		Severity:    string(model.ParseSeverity(input.Severity)),
		Category:    string(model.ParseCategory(input.Category)),
		ReferenceID: strings.TrimSpace(input.ReferenceID),
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreateNotification, "insert_failed", err, zap.String("tenant_id", tenantID))
		return model.NotificationPayload{}, newServiceError(opCreateNotification, "insert_failed", err)
	}
	return record.toPayload(), nil
}

// MarkNotificationRead sets the read flag of one feed entry. Marking an
// already-read entry succeeds.
func (s *Service) MarkNotificationRead(ctx context.Context, tenantID, userID string, id model.ID) error {
	if tenantID == "" {
		return newServiceError(opMarkNotification, "missing_tenant_id", errMissingTenantID)
	}
	var record NotificationRecord
	if err := s.feed(ctx, tenantID, userID).Where("id = ?", id.String()).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opMarkNotification, "not_found", ErrNotFound)
		}
		s.logError(opMarkNotification, "select_failed", err, zap.String("notification_id", id.String()))
		return newServiceError(opMarkNotification, "select_failed", err)
	}
	if record.Read {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Model(&NotificationRecord{}).
		Where("id = ?", record.ID).
		Update("is_read", true).Error; err != nil {
		s.logError(opMarkNotification, "update_failed", err, zap.String("notification_id", id.String()))
		return newServiceError(opMarkNotification, "update_failed", err)
	}
	return nil
}

// MarkAllNotificationsRead sets the read flag of the user's whole feed.
func (s *Service) MarkAllNotificationsRead(ctx context.Context, tenantID, userID string) error {
	if tenantID == "" {
		return newServiceError(opMarkAllNotification, "missing_tenant_id", errMissingTenantID)
	}
	if err := s.feed(ctx, tenantID, userID).
		Model(&NotificationRecord{}).
		Where("is_read = ?", false).
		Update("is_read", true).Error; err != nil {
		s.logError(opMarkAllNotification, "update_failed", err, zap.String("tenant_id", tenantID))
		return newServiceError(opMarkAllNotification, "update_failed", err)
	}
	return nil
}

func (s *Service) feed(ctx context.Context, tenantID, userID string) *gorm.DB {
	return s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Where("(recipient_id = '' OR recipient_id = ?)", userID)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("backend service error", attrs...)
}
