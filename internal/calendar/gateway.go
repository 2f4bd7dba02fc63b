package calendar

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ifsports/calendar-service/internal/apperr"
	"github.com/ifsports/calendar-service/internal/auth"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Popup reminders attached to every created event, in minutes before start.
var reminderMinutes = []int64{60, 15}

// CredentialProvider hands out credentials and authenticated HTTP clients per user.
// *auth.Manager implements it.
type CredentialProvider interface {
	Require(ctx context.Context, email string) (auth.LoadResult, error)
	HTTPClient(ctx context.Context, creds auth.LoadResult) *http.Client
}

// EventDescriptor is the caller supplied description of one event.
type EventDescriptor struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
}

// BatchResult lists the events created by CreateEvents, in input order.
type BatchResult struct {
	EventIDs []string
	Events   []*calendar.Event
}

// Settings controls the payload of created events.
type Settings struct {
	CalendarID      string
	TimeZone        string
	DefaultLocation string
}

// Gateway creates calendar events on behalf of authorized users.
type Gateway struct {
	credentials   CredentialProvider
	settings      Settings
	location      *time.Location
	clientOptions []option.ClientOption
	logger        *log.Logger
}

// NewGateway creates a Gateway. clientOptions are passed to every Calendar client it builds.
func NewGateway(credentials CredentialProvider, settings Settings, logger *log.Logger, clientOptions ...option.ClientOption) (*Gateway, error) {
	if settings.CalendarID == "" {
		settings.CalendarID = "primary"
	}
	if settings.TimeZone == "" {
		settings.TimeZone = "UTC"
	}
	location, err := time.LoadLocation(settings.TimeZone)
	if err != nil {
		return nil, apperr.Configuration(err, "invalid event time zone "+settings.TimeZone)
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Gateway{
		credentials:   credentials,
		settings:      settings,
		location:      location,
		clientOptions: clientOptions,
		logger:        logger.WithPrefix("calendar"),
	}, nil
}

// Location is the zone event times are expressed in.
func (g *Gateway) Location() *time.Location {
	return g.location
}

// CreateEvents inserts one event per descriptor, in order, into the user's calendar.
// The batch stops at the first failure; events created before it are kept and reported
// in both the result and the error metadata.
func (g *Gateway) CreateEvents(ctx context.Context, email string, descriptors []EventDescriptor) (BatchResult, error) {
	if len(descriptors) == 0 {
		return BatchResult{}, apperr.BadInput("at least one event is required", nil)
	}

	creds, err := g.credentials.Require(ctx, email)
	if err != nil {
		return BatchResult{}, err
	}

	client, err := NewClient(ctx, g.credentials.HTTPClient(ctx, creds), g.clientOptions...)
	if err != nil {
		return BatchResult{}, apperr.Internal(err, "failed to build calendar client")
	}

	result := BatchResult{
		EventIDs: make([]string, 0, len(descriptors)),
		Events:   make([]*calendar.Event, 0, len(descriptors)),
	}
	for i, descriptor := range descriptors {
		created, err := client.InsertEvent(ctx, g.settings.CalendarID, g.buildEvent(creds.Email, descriptor))
		if err != nil {
			g.logger.Error("event insert failed", "email", creds.Email, "index", i, "created", len(result.EventIDs), "err", err)
			return result, apperr.RemoteProvider(err, "calendar provider rejected the event", map[string]any{
				"user_email":        creds.Email,
				"failed_index":      i,
				"created_event_ids": append([]string{}, result.EventIDs...),
				"provider_status":   providerStatus(err),
			})
		}
		result.EventIDs = append(result.EventIDs, created.Id)
		result.Events = append(result.Events, created)
	}

	g.logger.Info("created events", "email", creds.Email, "count", len(result.EventIDs))
	return result, nil
}

func (g *Gateway) buildEvent(email string, descriptor EventDescriptor) *calendar.Event {
	location := strings.TrimSpace(descriptor.Location)
	if location == "" {
		location = g.settings.DefaultLocation
	}

	overrides := make([]*calendar.EventReminder, 0, len(reminderMinutes))
	for _, minutes := range reminderMinutes {
		overrides = append(overrides, &calendar.EventReminder{Method: "popup", Minutes: minutes})
	}

	return &calendar.Event{
		Summary:     descriptor.Summary,
		Description: descriptor.Description,
		Location:    location,
		Start: &calendar.EventDateTime{
			DateTime: descriptor.Start.In(g.location).Format(time.RFC3339),
			TimeZone: g.settings.TimeZone,
		},
		End: &calendar.EventDateTime{
			DateTime: descriptor.End.In(g.location).Format(time.RFC3339),
			TimeZone: g.settings.TimeZone,
		},
		Attendees: []*calendar.EventAttendee{{Email: email}},
		Reminders: &calendar.EventReminders{
			UseDefault: false,
			Overrides:  overrides,
			// UseDefault is omitted from the payload unless forced
			ForceSendFields: []string{"UseDefault"},
		},
	}
}

func providerStatus(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
