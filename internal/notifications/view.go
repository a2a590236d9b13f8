package notifications

import (
	"strings"

	"github.com/urquidy/mhl-homes-frontend-sub001/internal/errs"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/model"
)

// Filter selects which notifications a view shows.
type Filter string

const (
	FilterAll       Filter = "ALL"
	FilterUnread    Filter = "UNREAD"
	FilterRead      Filter = "READ"
	FilterProject   Filter = "PROJECT"
	FilterAgenda    Filter = "AGENDA"
	FilterChecklist Filter = "CHECKLIST"
	FilterBudget    Filter = "BUDGET"
)

// Filters lists every filter in display order.
var Filters = []Filter{
	FilterAll,
	FilterUnread,
	FilterRead,
	FilterProject,
	FilterAgenda,
	FilterChecklist,
	FilterBudget,
}

// ParseFilter accepts any case; empty means ALL.
func ParseFilter(value string) (Filter, error) {
	normalized := Filter(strings.ToUpper(strings.TrimSpace(value)))
	if normalized == "" {
		return FilterAll, nil
	}
	for _, filter := range Filters {
		if filter == normalized {
			return filter, nil
		}
	}
	return "", errs.NewValidationError("filter", "unknown filter "+value)
}

// Matches reports whether n passes the filter.
func (f Filter) Matches(n model.AppNotification) bool {
	switch f {
	case FilterAll, "":
		return true
	case FilterUnread:
		return !n.Read
	case FilterRead:
		return n.Read
	case FilterProject:
		return n.Category == model.CategoryProject
	case FilterAgenda:
		return n.Category == model.CategoryAgenda
	case FilterChecklist:
		return n.Category == model.CategoryChecklist
	case FilterBudget:
		return n.Category == model.CategoryBudget
	}
	return false
}

// Window is the client-side page window of a view.
type Window struct {
	// Limit caps the number of rendered items; zero or less renders everything.
	Limit int
	// RemoteHasMore reports whether the server holds pages not loaded yet.
	RemoteHasMore bool
}

// View is the ordered slice to render.
type View struct {
	Filter Filter
	Items  []model.AppNotification
	// Matching counts every loaded entry that passes the filter.
	Matching int
	HasMore  bool
}

// Apply derives the view of items, which must already be sorted newest first.
// It never mutates items.
func Apply(items []model.AppNotification, filter Filter, window Window) View {
	view := View{Filter: filter, Items: []model.AppNotification{}}
	for _, item := range items {
		if !filter.Matches(item) {
			continue
		}
		view.Matching++
		if window.Limit > 0 && len(view.Items) >= window.Limit {
			continue
		}
		view.Items = append(view.Items, item)
	}
	view.HasMore = len(view.Items) < view.Matching || window.RemoteHasMore
	return view
}

// UnreadCount counts entries with read == false.
func UnreadCount(items []model.AppNotification) int {
	count := 0
	for _, item := range items {
		if !item.Read {
			count++
		}
	}
	return count
}
