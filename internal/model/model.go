package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/urquidy/mhl-homes-frontend-sub001/internal/errs"
)

const (
	maxIdentifierLength = 190
	// DateLayout is the calendar-day layout of CalendarEvent.Date and agenda reference ids.
	DateLayout = "2006-01-02"
)

// ID is an identifier normalised to its string form. Servers may emit ids as
// JSON numbers or strings; both decode to the same ID.
type ID string

// NewID validates raw input and returns an ID.
func NewID(rawInput string) (ID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", errs.NewValidationError("id", "empty")
	}
	if len(trimmed) > maxIdentifierLength {
		return "", errs.NewValidationError("id", fmt.Sprintf("exceeds %d characters", maxIdentifierLength))
	}
	return ID(trimmed), nil
}

// String returns the underlying identifier.
func (id ID) String() string {
	return string(id)
}

// IsZero reports whether the identifier is empty.
func (id ID) IsZero() bool {
	return id == ""
}

// UnmarshalJSON accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}
	if trimmed[0] == '"' {
		var value string
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(value))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return fmt.Errorf("id: unsupported json value %s", string(trimmed))
	}
	*id = ID(number.String())
	return nil
}

// EventType enumerates calendar event kinds.
type EventType string

const (
	EventTypeMeeting    EventType = "Meeting"
	EventTypeInspection EventType = "Inspection"
	EventTypeDelivery   EventType = "Delivery"
	EventTypeDeadline   EventType = "Deadline"
	EventTypeOther      EventType = "Other"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeMeeting, EventTypeInspection, EventTypeDelivery, EventTypeDeadline, EventTypeOther:
		return true
	}
	return false
}

// CalendarEvent is an agenda item. Date is a timezone-naive calendar day and
// is compared and grouped as a string.
type CalendarEvent struct {
	ID           ID        `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	Type         EventType `json:"type"`
	InvitedUsers []ID      `json:"invitedUsers,omitempty"`
}

// EventDraft is a CalendarEvent that has not been assigned a server id.
type EventDraft struct {
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	Type         EventType `json:"type"`
	InvitedUsers []ID      `json:"invitedUsers,omitempty"`
}

// Validate rejects drafts the server would not accept.
func (d EventDraft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return errs.NewValidationError("title", "required")
	}
	if err := ValidateDate(d.Date); err != nil {
		return err
	}
	if d.Type != "" && !d.Type.Valid() {
		return errs.NewValidationError("type", fmt.Sprintf("unknown event type %q", d.Type))
	}
	return nil
}

// Validate rejects events that cannot be submitted as a full replacement.
func (e CalendarEvent) Validate() error {
	if e.ID.IsZero() {
		return errs.NewValidationError("id", "required")
	}
	return e.Draft().Validate()
}

// Draft strips the identifier from the event.
func (e CalendarEvent) Draft() EventDraft {
	return EventDraft{
		Title:        e.Title,
		Description:  e.Description,
		Date:         e.Date,
		Time:         e.Time,
		Type:         e.Type,
		InvitedUsers: append([]ID(nil), e.InvitedUsers...),
	}
}

// Clone returns a deep copy.
func (e CalendarEvent) Clone() CalendarEvent {
	copied := e
	copied.InvitedUsers = append([]ID(nil), e.InvitedUsers...)
	return copied
}

// ValidateDate checks the YYYY-MM-DD calendar day format.
func ValidateDate(value string) error {
	if strings.TrimSpace(value) == "" {
		return errs.NewValidationError("date", "required")
	}
	if _, err := time.Parse(DateLayout, value); err != nil {
		return errs.NewValidationError("date", "expected YYYY-MM-DD")
	}
	return nil
}

// Severity drives icon selection only.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
	SeveritySuccess Severity = "SUCCESS"
)

// ParseSeverity normalises a wire value; unknown values map to empty.
func ParseSeverity(value string) Severity {
	switch severity := Severity(strings.ToUpper(strings.TrimSpace(value))); severity {
	case SeverityInfo, SeverityWarning, SeverityError, SeveritySuccess:
		return severity
	}
	return ""
}

// Category drives the tap-navigation target.
type Category string

const (
	CategoryProject   Category = "PROJECT"
	CategoryAgenda    Category = "AGENDA"
	CategoryChecklist Category = "CHECKLIST"
	CategoryBudget    Category = "BUDGET"
)

// ParseCategory normalises a wire value; unknown values map to empty.
func ParseCategory(value string) Category {
	switch category := Category(strings.ToUpper(strings.TrimSpace(value))); category {
	case CategoryProject, CategoryAgenda, CategoryChecklist, CategoryBudget:
		return category
	}
	return ""
}

// AppNotification is one entry of the reconciled notification set.
type AppNotification struct {
	ID          ID
	Title       string
	Text        string
	Date        time.Time
	Read        bool
	Type        Severity
	Category    Category
	ReferenceID string
	// LocalOnly marks synthetic entries that never round-trip to the server.
	LocalOnly bool
}

// NewerThan orders notifications by date descending.
func (n AppNotification) NewerThan(other AppNotification) bool {
	return n.Date.After(other.Date)
}
