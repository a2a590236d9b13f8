package backend

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/errs"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/model"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (model.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return model.ID(fmt.Sprintf("id-%03d", p.next)), nil
}

func newTestService(t *testing.T) (*Service, *time.Time) {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "backend.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.AutoMigrate(&EventRecord{}, &NotificationRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	service, err := NewService(ServiceConfig{
		Database:   database,
		Clock:      func() time.Time { return now },
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, &now
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{IDProvider: &sequenceIDProvider{}}); err == nil {
		t.Fatalf("expected missing database error")
	}
}

func TestAgendaLifecycle(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.CreateEvent(ctx, "acme", model.EventDraft{
		Title:        "Slab inspection",
		Date:         "2024-05-02",
		Time:         "09:30",
		Type:         model.EventTypeInspection,
		InvitedUsers: []model.ID{"user-1", "user-2"},
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if created.ID != "id-001" || len(created.InvitedUsers) != 2 {
		t.Fatalf("unexpected created event: %+v", created)
	}

	if _, err := service.CreateEvent(ctx, "acme", model.EventDraft{Date: "2024-05-02"}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if _, err := service.CreateEvent(ctx, "other", model.EventDraft{Title: "Elsewhere", Date: "2024-05-01"}); err != nil {
		t.Fatalf("create foreign event: %v", err)
	}

	updated, err := service.UpdateEvent(ctx, "acme", created.ID, model.EventDraft{Title: "Moved", Date: "2024-05-03"})
	if err != nil {
		t.Fatalf("update event: %v", err)
	}
	if updated.Title != "Moved" || len(updated.InvitedUsers) != 0 {
		t.Fatalf("expected full replacement, got %+v", updated)
	}

	events, err := service.ListEvents(ctx, "acme")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Date != "2024-05-03" {
		t.Fatalf("expected tenant-scoped list, got %+v", events)
	}

	if _, err := service.UpdateEvent(ctx, "other", created.ID, model.EventDraft{Title: "Hijack", Date: "2024-05-03"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found across tenants, got %v", err)
	}
	if err := service.DeleteEvent(ctx, "acme", created.ID); err != nil {
		t.Fatalf("delete event: %v", err)
	}
	if err := service.DeleteEvent(ctx, "acme", created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestNotificationFeed(t *testing.T) {
	service, now := newTestService(t)
	ctx := context.Background()

	inputs := []NotificationInput{
		{RecipientID: "user-1", Message: "Budget approved", Category: "budget"},
		{Message: "Site closed tomorrow", Severity: "warning"},
		{RecipientID: "user-2", Message: "Not for user-1"},
		{RecipientID: "user-1", Message: "Checklist due", Category: "CHECKLIST"},
	}
	for _, input := range inputs {
		*now = now.Add(time.Minute)
		if _, err := service.CreateNotification(ctx, "acme", input); err != nil {
			t.Fatalf("create notification: %v", err)
		}
	}

	page, err := service.ListNotifications(ctx, "acme", "user-1", 1, 2)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 2 {
		t.Fatalf("expected 2 of 3 feed entries, got %d of %d", len(page.Items), page.Total)
	}
	if page.Items[0].Message != "Checklist due" || page.Items[1].Message != "Site closed tomorrow" {
		t.Fatalf("expected newest first, got %q then %q", page.Items[0].Message, page.Items[1].Message)
	}
	if page.Items[1].RecipientID != "" || page.Items[1].Type != string(model.SeverityWarning) {
		t.Fatalf("expected broadcast warning, got %+v", page.Items[1])
	}

	second, err := service.ListNotifications(ctx, "acme", "user-1", 2, 2)
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].Category != string(model.CategoryBudget) {
		t.Fatalf("unexpected second page: %+v", second.Items)
	}

	if err := service.MarkNotificationRead(ctx, "acme", "user-1", page.Items[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := service.MarkNotificationRead(ctx, "acme", "user-1", page.Items[0].ID); err != nil {
		t.Fatalf("second mark read should succeed: %v", err)
	}
	if err := service.MarkNotificationRead(ctx, "acme", "user-1", "id-003"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected other user's entry to be hidden, got %v", err)
	}

	if err := service.MarkAllNotificationsRead(ctx, "acme", "user-1"); err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	all, err := service.ListNotifications(ctx, "acme", "user-1", 1, 10)
	if err != nil {
		t.Fatalf("list after mark all: %v", err)
	}
	for _, item := range all.Items {
		if !item.Read {
			t.Fatalf("expected %s to be read", item.ID)
		}
	}
	other, err := service.ListNotifications(ctx, "acme", "user-2", 1, 10)
	if err != nil {
		t.Fatalf("list other user: %v", err)
	}
	for _, item := range other.Items {
		if item.RecipientID == "user-2" && item.Read {
			t.Fatalf("mark all must not touch another user's entries")
		}
	}

	if _, err := service.CreateNotification(ctx, "acme", NotificationInput{Message: "  "}); err == nil {
		t.Fatalf("expected missing message error")
	}
}
