package notifications

import (
	"errors"
	"testing"

	"github.com/urquidy/mhl-homes-frontend-sub001/internal/errs"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/model"
)

func sampleItems() []model.AppNotification {
	return []model.AppNotification{
		{ID: "5", Date: t3, Category: model.CategoryProject},
		{ID: "4", Date: t3, Category: model.CategoryAgenda, Read: true},
		{ID: "3", Date: t2, Category: model.CategoryBudget},
		{ID: "2", Date: t2, Category: model.CategoryChecklist, Read: true},
		{ID: "1", Date: t1},
	}
}

func TestApplyFilters(t *testing.T) {
	testCases := []struct {
		name     string
		filter   Filter
		expected []model.ID
	}{
		{name: "all", filter: FilterAll, expected: []model.ID{"5", "4", "3", "2", "1"}},
		{name: "unread", filter: FilterUnread, expected: []model.ID{"5", "3", "1"}},
		{name: "read", filter: FilterRead, expected: []model.ID{"4", "2"}},
		{name: "project", filter: FilterProject, expected: []model.ID{"5"}},
		{name: "agenda", filter: FilterAgenda, expected: []model.ID{"4"}},
		{name: "checklist", filter: FilterChecklist, expected: []model.ID{"2"}},
		{name: "budget", filter: FilterBudget, expected: []model.ID{"3"}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			view := Apply(sampleItems(), testCase.filter, Window{})
			got := ids(view.Items)
			if len(got) != len(testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, got)
			}
			for index := range got {
				if got[index] != testCase.expected[index] {
					t.Fatalf("expected %v, got %v", testCase.expected, got)
				}
			}
			if view.HasMore {
				t.Fatalf("expected no more items without a window")
			}
		})
	}
}

func TestApplyWindow(t *testing.T) {
	items := sampleItems()

	view := Apply(items, FilterUnread, Window{Limit: 2})
	if len(view.Items) != 2 || view.Matching != 3 || !view.HasMore {
		t.Fatalf("unexpected windowed view: %+v", view)
	}

	view = Apply(items, FilterUnread, Window{Limit: 3})
	if view.HasMore {
		t.Fatalf("expected the full match set to fit the window")
	}

	view = Apply(items, FilterUnread, Window{Limit: 3, RemoteHasMore: true})
	if !view.HasMore {
		t.Fatalf("expected remote pages to keep the view open")
	}
	if items[0].ID != "5" || len(items) != 5 {
		t.Fatalf("apply must not mutate its input")
	}
}

func TestParseFilter(t *testing.T) {
	filter, err := ParseFilter(" unread ")
	if err != nil || filter != FilterUnread {
		t.Fatalf("expected UNREAD, got %q (%v)", filter, err)
	}
	filter, err = ParseFilter("")
	if err != nil || filter != FilterAll {
		t.Fatalf("expected ALL for empty input, got %q (%v)", filter, err)
	}
	if _, err := ParseFilter("archived"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUnreadCount(t *testing.T) {
	if got := UnreadCount(sampleItems()); got != 3 {
		t.Fatalf("expected 3 unread, got %d", got)
	}
	if got := UnreadCount(nil); got != 0 {
		t.Fatalf("expected 0 unread for an empty set, got %d", got)
	}
}
