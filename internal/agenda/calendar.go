package agenda

import (
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/model"
)

const (
	icsProductID = "-//mhl-homes//agenda sync//EN"
	timeLayout   = "15:04"
)

// DayGroup is the events of one calendar day.
type DayGroup struct {
	Date   string
	Events []model.CalendarEvent
}

// GroupByDate groups events by their date string in ascending date order.
// Within a day events are ordered by time, then title.
func GroupByDate(events []model.CalendarEvent) []DayGroup {
	byDate := make(map[string][]model.CalendarEvent)
	for _, event := range events {
		byDate[event.Date] = append(byDate[event.Date], event.Clone())
	}
	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	groups := make([]DayGroup, 0, len(dates))
	for _, date := range dates {
		dayEvents := byDate[date]
		sort.SliceStable(dayEvents, func(i, j int) bool {
			if dayEvents[i].Time != dayEvents[j].Time {
				return dayEvents[i].Time < dayEvents[j].Time
			}
			return dayEvents[i].Title < dayEvents[j].Title
		})
		groups = append(groups, DayGroup{Date: date, Events: dayEvents})
	}
	return groups
}

// ExportOptions tunes ExportICS.
type ExportOptions struct {
	// Location interprets the advisory HH:MM time; nil means UTC.
	Location *time.Location
	// Duration of timed events; zero means one hour.
	Duration time.Duration
	Stamp    time.Time
}

// ExportICS renders events as an iCalendar document. Events whose time is not
// a valid HH:MM become all-day entries.
func ExportICS(events []model.CalendarEvent, opts ExportOptions) string {
	location := opts.Location
	if location == nil {
		location = time.UTC
	}
	duration := opts.Duration
	if duration <= 0 {
		duration = time.Hour
	}
	stamp := opts.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}

	calendar := ical.NewCalendar()
	calendar.SetMethod(ical.MethodPublish)
	calendar.SetProductId(icsProductID)

	for _, group := range GroupByDate(events) {
		day, err := time.ParseInLocation(model.DateLayout, group.Date, location)
		if err != nil {
			continue
		}
		for _, event := range group.Events {
			entry := calendar.AddEvent(event.ID.String() + "@mhl-homes")
			entry.SetDtStampTime(stamp.UTC())
			entry.SetSummary(event.Title)
			if description := strings.TrimSpace(event.Description); description != "" {
				entry.SetDescription(description)
			}
			if event.Type != "" {
				entry.SetProperty(ical.ComponentPropertyCategories, string(event.Type))
			}
			if clock, err := time.Parse(timeLayout, strings.TrimSpace(event.Time)); err == nil {
				start := time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, location)
				entry.SetStartAt(start.UTC())
				entry.SetEndAt(start.Add(duration).UTC())
				continue
			}
			entry.SetAllDayStartAt(day)
			entry.SetAllDayEndAt(day.AddDate(0, 0, 1))
		}
	}
	return calendar.Serialize()
}
