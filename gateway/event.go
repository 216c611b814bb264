// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package gateway

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Names of EventRequest fields reported by InvalidEventRequestError.
const (
	FieldSubject   = "subject"
	FieldStart     = "start"
	FieldEnd       = "end"
	FieldAttendees = "attendees"
)

// EventRequest describes a calendar event to create.
type EventRequest struct {
	Subject string
	Start   time.Time
	End     time.Time
	Body    string

	// Attendees are bare email addresses. Duplicates are sent once.
	Attendees []string
}

// Validate checks the request and returns an *InvalidEventRequestError listing
// every violation, or nil.
func (r *EventRequest) Validate() error {
	var errs *multierror.Error
	if strings.TrimSpace(r.Subject) == "" {
		errs = multierror.Append(errs, &Violation{Field: FieldSubject, Reason: "must not be empty"})
	}
	if r.Start.IsZero() {
		errs = multierror.Append(errs, &Violation{Field: FieldStart, Reason: "must be set"})
	}
	if r.End.IsZero() {
		errs = multierror.Append(errs, &Violation{Field: FieldEnd, Reason: "must be set"})
	}
	if !r.Start.IsZero() && !r.End.IsZero() && !r.Start.Before(r.End) {
		errs = multierror.Append(errs, &Violation{Field: FieldEnd, Reason: "must be after start"})
	}
	for _, a := range r.Attendees {
		if !validAddress(a) {
			errs = multierror.Append(errs, &Violation{
				Field:  FieldAttendees,
				Reason: fmt.Sprintf("%q is not a valid email address", a),
			})
		}
	}
	if errs == nil {
		return nil
	}
	return &InvalidEventRequestError{errs: errs}
}

// validAddress accepts a bare addr-spec only: no display name, no angle
// brackets, no surrounding text.
func validAddress(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Name == "" && addr.Address == s
}

// attendees returns the distinct addresses in r, first occurrence first.
func (r *EventRequest) attendees() []string {
	var out []string
	seen := make(map[string]bool, len(r.Attendees))
	for _, a := range r.Attendees {
		k := strings.ToLower(a)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
	}
	return out
}

// ParseAttendees splits a ';' delimited list of addresses, trimming blanks and
// dropping empty entries. The addresses aren't validated.
func ParseAttendees(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ";") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// EmailAddress names a mailbox.
type EmailAddress struct {
	Name    string
	Address string
}

// EventRecord is an event as returned by the API. Start and End are always in
// time.UTC.
type EventRecord struct {
	ID        string
	Subject   string
	Organizer EmailAddress
	Start     time.Time
	End       time.Time
}

// Profile is the signed-in user's profile.
type Profile struct {
	DisplayName string
	Email       string

	// TimeZone is the mailbox's native (Windows) time zone name.
	TimeZone string
}
