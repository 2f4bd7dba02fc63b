package calendar

import (
	"bytes"
	"fmt"
	"time"

	"github.com/emersion/go-ical"
	"google.golang.org/api/calendar/v3"
)

const productID = "-//IFSports//Calendar Service//PT"

// EncodeICS renders created events as a single iCalendar document.
func EncodeICS(events []*calendar.Event) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	now := time.Now().UTC()
	for _, event := range events {
		vevent, err := eventToICal(event, now)
		if err != nil {
			return nil, err
		}
		cal.Children = append(cal.Children, vevent)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("failed to encode iCalendar: %w", err)
	}
	return buf.Bytes(), nil
}

// eventToICal converts a Google Calendar Event to a VEVENT component.
func eventToICal(event *calendar.Event, stamp time.Time) (*ical.Component, error) {
	if event == nil {
		return nil, fmt.Errorf("event is nil")
	}

	vevent := ical.NewComponent(ical.CompEvent)
	if event.Id != "" {
		vevent.Props.SetText(ical.PropUID, event.Id)
	} else {
		vevent.Props.SetText(ical.PropUID, fmt.Sprintf("%s@calendar-service", stamp.Format(time.RFC3339Nano)))
	}
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp)

	if event.Summary != "" {
		vevent.Props.SetText(ical.PropSummary, event.Summary)
	}
	if event.Description != "" {
		vevent.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		vevent.Props.SetText(ical.PropLocation, event.Location)
	}

	start, err := eventTime(event.Start)
	if err != nil {
		return nil, fmt.Errorf("event %s: invalid start: %w", event.Id, err)
	}
	end, err := eventTime(event.End)
	if err != nil {
		return nil, fmt.Errorf("event %s: invalid end: %w", event.Id, err)
	}
	// Times are written in UTC so the document needs no VTIMEZONE
	vevent.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())

	if event.Reminders != nil {
		for _, reminder := range event.Reminders.Overrides {
			if reminder == nil || reminder.Method != "popup" {
				continue
			}
			vevent.Children = append(vevent.Children, displayAlarm(event.Summary, reminder.Minutes))
		}
	}

	return vevent, nil
}

func displayAlarm(summary string, minutes int64) *ical.Component {
	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	alarm.Props.SetText(ical.PropDescription, summary)

	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = fmt.Sprintf("-PT%dM", minutes)
	alarm.Props.Set(trigger)
	return alarm
}

func eventTime(dt *calendar.EventDateTime) (time.Time, error) {
	if dt == nil {
		return time.Time{}, fmt.Errorf("missing date")
	}
	if dt.DateTime != "" {
		return time.Parse(time.RFC3339, dt.DateTime)
	}
	if dt.Date != "" {
		return time.Parse("2006-01-02", dt.Date)
	}
	return time.Time{}, fmt.Errorf("missing date")
}
