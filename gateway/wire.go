// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package gateway

import (
	"fmt"
	"strings"
	"time"
)

// JSON shapes of the calendar API's resources.

// localDateTimeLayout is the API's zone-less dateTime form. Fractional seconds
// are accepted when parsing.
const localDateTimeLayout = "2006-01-02T15:04:05"

type userResource struct {
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	MailboxSettings   *struct {
		TimeZone string `json:"timeZone"`
	} `json:"mailboxSettings"`
}

type dateTimeTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type emailAddressResource struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

type recipientResource struct {
	EmailAddress emailAddressResource `json:"emailAddress"`
}

type attendeeResource struct {
	Type         string               `json:"type"`
	EmailAddress emailAddressResource `json:"emailAddress"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type eventResource struct {
	ID        string             `json:"id,omitempty"`
	Subject   string             `json:"subject"`
	Organizer *recipientResource `json:"organizer,omitempty"`
	Start     *dateTimeTimeZone  `json:"start"`
	End       *dateTimeTimeZone  `json:"end"`
	Body      *itemBody          `json:"body,omitempty"`
	Attendees []attendeeResource `json:"attendees,omitempty"`
}

type eventCollection struct {
	Value []eventResource `json:"value"`
}

func newEventResource(r *EventRequest, displayZone string, loc *time.Location) *eventResource {
	ev := &eventResource{
		Subject: r.Subject,
		Start:   &dateTimeTimeZone{DateTime: r.Start.In(loc).Format(localDateTimeLayout), TimeZone: displayZone},
		End:     &dateTimeTimeZone{DateTime: r.End.In(loc).Format(localDateTimeLayout), TimeZone: displayZone},
		Body:    &itemBody{ContentType: "text", Content: r.Body},
	}
	for _, a := range r.attendees() {
		ev.Attendees = append(ev.Attendees, attendeeResource{
			Type:         "required",
			EmailAddress: emailAddressResource{Address: a},
		})
	}
	return ev
}

func (g *Gateway) eventRecord(ev *eventResource) (*EventRecord, error) {
	start, err := g.parseDateTime(ev.Start)
	if err != nil {
		return nil, fmt.Errorf("event %q start: %w", ev.ID, err)
	}
	end, err := g.parseDateTime(ev.End)
	if err != nil {
		return nil, fmt.Errorf("event %q end: %w", ev.ID, err)
	}
	rec := &EventRecord{
		ID:      ev.ID,
		Subject: ev.Subject,
		Start:   start,
		End:     end,
	}
	if ev.Organizer != nil {
		rec.Organizer = EmailAddress{
			Name:    ev.Organizer.EmailAddress.Name,
			Address: ev.Organizer.EmailAddress.Address,
		}
	}
	return rec, nil
}

// parseDateTime reads d in the zone it names and returns the instant in UTC.
// Values carrying their own offset keep it.
func (g *Gateway) parseDateTime(d *dateTimeTimeZone) (time.Time, error) {
	if d == nil || d.DateTime == "" {
		return time.Time{}, fmt.Errorf("missing dateTime: %w", ErrMalformedResponse)
	}
	if t, err := time.Parse(time.RFC3339Nano, d.DateTime); err == nil {
		return t.UTC(), nil
	}
	loc := time.UTC
	if tz := strings.TrimSpace(d.TimeZone); tz != "" && tz != "UTC" {
		var err error
		if loc, err = g.resolver.Location(tz); err != nil {
			return time.Time{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
	}
	t, err := time.ParseInLocation(localDateTimeLayout, d.DateTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return t.UTC(), nil
}
