package backend

import (
	"time"

	"github.com/urquidy/mhl-homes-frontend-sub001/internal/model"
)

// EventRecord persists one agenda event of a tenant.
type EventRecord struct {
	ID           string    `gorm:"column:id;primaryKey;size:64"`
	TenantID     string    `gorm:"column:tenant_id;size:190;not null;index"`
	Title        string    `gorm:"column:title;size:320;not null"`
	Description  string    `gorm:"column:description;type:text"`
	Date         string    `gorm:"column:event_date;size:10;not null;index"`
	Time         string    `gorm:"column:event_time;size:16"`
	Type         string    `gorm:"column:event_type;size:32"`
	InvitedUsers []string  `gorm:"column:invited_users;serializer:json"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing agenda events.
func (EventRecord) TableName() string {
	return "agenda_events"
}

func (r EventRecord) toModel() model.CalendarEvent {
	event := model.CalendarEvent{
		ID:          model.ID(r.ID),
		Title:       r.Title,
		Description: r.Description,
		Date:        r.Date,
		Time:        r.Time,
		Type:        model.EventType(r.Type),
	}
	for _, invited := range r.InvitedUsers {
		event.InvitedUsers = append(event.InvitedUsers, model.ID(invited))
	}
	return event
}

func (r *EventRecord) apply(draft model.EventDraft) {
	r.Title = draft.Title
	r.Description = draft.Description
	r.Date = draft.Date
	r.Time = draft.Time
	r.Type = string(draft.Type)
	r.InvitedUsers = r.InvitedUsers[:0]
	for _, invited := range draft.InvitedUsers {
		r.InvitedUsers = append(r.InvitedUsers, invited.String())
	}
}

// NotificationRecord persists one notification. An empty RecipientID
// addresses every user of the tenant.
type NotificationRecord struct {
	ID          string    `gorm:"column:id;primaryKey;size:64"`
	TenantID    string    `gorm:"column:tenant_id;size:190;not null;index:idx_notifications_feed,priority:1"`
	RecipientID string    `gorm:"column:recipient_id;size:190;not null;default:'';index"`
	Title       string    `gorm:"column:title;size:320"`
	Message     string    `gorm:"column:message;type:text;not null"`
	Severity    string    `gorm:"column:severity;size:16"`
	Category    string    `gorm:"column:category;size:16"`
	ReferenceID string    `gorm:"column:reference_id;size:190"`
	Read        bool      `gorm:"column:is_read;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;index:idx_notifications_feed,priority:2"`
}

// TableName exposes the table backing notifications.
func (NotificationRecord) TableName() string {
	return "notifications"
}

func (r NotificationRecord) toPayload() model.NotificationPayload {
	return model.NewNotificationPayload(model.AppNotification{
		ID:          model.ID(r.ID),
		Title:       r.Title,
		Text:        r.Message,
		Date:        r.CreatedAt,
		Read:        r.Read,
		Type:        model.Severity(r.Severity),
		Category:    model.Category(r.Category),
		ReferenceID: r.ReferenceID,
	}, model.ID(r.RecipientID))
}
