package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/ifsports/calendar-service/internal/apperr"
	"github.com/ifsports/calendar-service/internal/calendar"
)

// Layouts accepted for start_time and end_time. Layouts without an offset are read
// in the event time zone.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// MatchDetails describes one event in a create request.
type MatchDetails struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Location    string `json:"location,omitempty"`
}

func (m MatchDetails) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Summary, validation.Required, validation.Length(1, 1024)),
		validation.Field(&m.Description, validation.Length(0, 8192)),
		validation.Field(&m.StartTime, validation.Required, validation.By(isTimestamp)),
		validation.Field(&m.EndTime, validation.Required, validation.By(isTimestamp)),
	)
}

// CreateEventsRequest is the body of POST /events.
type CreateEventsRequest struct {
	UserEmail    string         `json:"user_email"`
	MatchDetails []MatchDetails `json:"match_details"`
}

func (r CreateEventsRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserEmail, validation.Required, is.EmailFormat),
		validation.Field(&r.MatchDetails, validation.Required),
	)
}

// Descriptors converts the validated request into gateway input.
func (r CreateEventsRequest) Descriptors(loc *time.Location) ([]calendar.EventDescriptor, error) {
	descriptors := make([]calendar.EventDescriptor, 0, len(r.MatchDetails))
	for i, match := range r.MatchDetails {
		start, err := parseTimestamp(match.StartTime, loc)
		if err != nil {
			return nil, err
		}
		end, err := parseTimestamp(match.EndTime, loc)
		if err != nil {
			return nil, err
		}
		if !end.After(start) {
			return nil, apperr.BadInput(
				fmt.Sprintf("match_details[%d]: end_time must be after start_time", i),
				map[string]any{"index": i},
			)
		}
		descriptors = append(descriptors, calendar.EventDescriptor{
			Summary:     match.Summary,
			Description: match.Description,
			Location:    match.Location,
			Start:       start,
			End:         end,
		})
	}
	return descriptors, nil
}

func isTimestamp(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := parseTimestamp(s, time.UTC); err != nil {
		return errors.New("must be an ISO 8601 date-time")
	}
	return nil
}

func parseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperr.BadInput(fmt.Sprintf("invalid date-time %q", value), nil)
}

// validationError turns ozzo validation errors into a bad input error listing the fields.
func validationError(err error) error {
	var fields validation.Errors
	if errors.As(err, &fields) {
		return apperr.BadInput("invalid request: "+err.Error(), map[string]any{"fields": fields})
	}
	return apperr.BadInput(err.Error(), nil)
}
