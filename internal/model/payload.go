package model

import (
	"strings"
	"time"

	"github.com/urquidy/mhl-homes-frontend-sub001/internal/errs"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// NotificationPayload is the wire shape shared by REST history pages and the
// live notification message. Text may arrive as message, text or body and the
// instant as createdAt or date.
type NotificationPayload struct {
	ID          ID     `json:"id"`
	Type        string `json:"type,omitempty"`
	Message     string `json:"message,omitempty"`
	Text        string `json:"text,omitempty"`
	Body        string `json:"body,omitempty"`
	Title       string `json:"title,omitempty"`
	Category    string `json:"category,omitempty"`
	ReferenceID ID     `json:"referenceId,omitempty"`
	RecipientID ID     `json:"recipientId,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
	Date        string `json:"date,omitempty"`
	Read        bool   `json:"read,omitempty"`
}

// Recipient returns the addressed user; empty means broadcast.
func (p NotificationPayload) Recipient() ID {
	return p.RecipientID
}

// Addressed reports whether the payload is meant for userID.
func (p NotificationPayload) Addressed(userID ID) bool {
	recipient := p.Recipient()
	return recipient.IsZero() || recipient == userID
}

// ToNotification normalises the payload. fallback stamps payloads that carry
// no parsable instant.
func (p NotificationPayload) ToNotification(fallback time.Time) (AppNotification, error) {
	if p.ID.IsZero() {
		return AppNotification{}, errs.NewValidationError("id", "required")
	}
	text := firstNonEmpty(p.Message, p.Text, p.Body)
	if text == "" {
		return AppNotification{}, errs.NewValidationError("text", "required")
	}
	date, ok := parseTimestamp(firstNonEmpty(p.CreatedAt, p.Date))
	if !ok {
		date = fallback
	}
	return AppNotification{
		ID:          p.ID,
		Title:       strings.TrimSpace(p.Title),
		Text:        text,
		Date:        date.UTC(),
		Read:        p.Read,
		Type:        ParseSeverity(p.Type),
		Category:    ParseCategory(p.Category),
		ReferenceID: p.ReferenceID.String(),
	}, nil
}

// NewNotificationPayload renders a notification back to its wire shape.
func NewNotificationPayload(n AppNotification, recipient ID) NotificationPayload {
	return NotificationPayload{
		ID:          n.ID,
		Type:        string(n.Type),
		Message:     n.Text,
		Title:       n.Title,
		Category:    string(n.Category),
		ReferenceID: ID(n.ReferenceID),
		RecipientID: recipient,
		CreatedAt:   n.Date.UTC().Format(time.RFC3339Nano),
		Read:        n.Read,
	}
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
