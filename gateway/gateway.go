// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package gateway calls a Microsoft Graph shaped calendar API on behalf of a
// signed-in account, using access tokens from a TokenSource such as a
// broker.Broker.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-delegate/broker"
	sdkhttp "github.com/hashicorp/go-delegate/sdk/http"
	"github.com/hashicorp/go-delegate/timezone"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"
)

// DefaultHTTPTimeout bounds API calls made with the default client.
const DefaultHTTPTimeout = 30 * time.Second

// maxBodySize caps how much of a response is read.
const maxBodySize = 4 << 20

const (
	profileSelect = "displayName,mail,mailboxSettings,userPrincipalName"
	eventSelect   = "subject,organizer,start,end"
)

// TokenSource returns a valid access token for an account key.
type TokenSource interface {
	AccessToken(ctx context.Context, key string) (string, error)
}

// ensure that broker.Broker implements the TokenSource interface.
var _ TokenSource = (*broker.Broker)(nil)

// Gateway makes authenticated calls to the calendar API. Tokens are fetched
// from its TokenSource for every call and never retried.
type Gateway struct {
	baseURL  *url.URL
	tokens   TokenSource
	client   *http.Client
	logger   hclog.Logger
	pageSize int
	limiter  *rate.Limiter
	resolver *timezone.Resolver
}

// NewGateway creates a new Gateway for the API rooted at baseURL (for example
// https://graph.microsoft.com/v1.0).
//
//	Supports the options:
//	 * WithHTTPClient
//	 * WithLogger
//	 * WithPageSize
//	 * WithRateLimiter
//	 * WithResolver
func NewGateway(baseURL string, ts TokenSource, opt ...Option) (*Gateway, error) {
	const op = "gateway.NewGateway"
	if ts == nil {
		return nil, fmt.Errorf("%s: token source is nil: %w", op, ErrNilParameter)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid base url: %w: %w", op, ErrInvalidParameter, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("%s: base url %q must be an absolute http(s) url: %w", op, baseURL, ErrInvalidParameter)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery, u.Fragment = "", ""

	opts := getGatewayOpts(opt...)
	if opts.withPageSize <= 0 {
		return nil, fmt.Errorf("%s: page size must be positive: %w", op, ErrInvalidParameter)
	}
	client := opts.withHTTPClient
	if client == nil {
		if client, err = sdkhttp.NewClient("", DefaultHTTPTimeout); err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}
	return &Gateway{
		baseURL:  u,
		tokens:   ts,
		client:   client,
		logger:   opts.withLogger,
		pageSize: opts.withPageSize,
		limiter:  opts.withRateLimiter,
		resolver: opts.withResolver,
	}, nil
}

// FetchProfile returns the account's profile. The email falls back to the
// user principal name when the mailbox has no address.
func (g *Gateway) FetchProfile(ctx context.Context, key string) (*Profile, error) {
	const op = "Gateway.FetchProfile"
	if key == "" {
		return nil, fmt.Errorf("%s: account key is empty: %w", op, ErrInvalidParameter)
	}
	q := url.Values{"$select": {profileSelect}}
	var u userResource
	if err := g.call(ctx, key, http.MethodGet, "/me", q, nil, "", &u); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p := &Profile{
		DisplayName: u.DisplayName,
		Email:       u.Mail,
	}
	if p.Email == "" {
		p.Email = u.UserPrincipalName
	}
	if u.MailboxSettings != nil {
		p.TimeZone = u.MailboxSettings.TimeZone
	}
	return p, nil
}

// ListEvents returns up to the page size of the account's events that overlap
// w, ordered by start time. The bounds are sent in displayZone, a native
// (Windows) zone name, and the results are returned in UTC. Callers needing
// more events must ask for a narrower window.
func (g *Gateway) ListEvents(ctx context.Context, key string, w TimeWindow, displayZone string) ([]*EventRecord, error) {
	const op = "Gateway.ListEvents"
	if key == "" {
		return nil, fmt.Errorf("%s: account key is empty: %w", op, ErrInvalidParameter)
	}
	if err := w.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	loc, err := g.resolver.Location(displayZone)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	q := url.Values{
		"startDateTime": {w.Start.In(loc).Format(time.RFC3339)},
		"endDateTime":   {w.End.In(loc).Format(time.RFC3339)},
		"$select":       {eventSelect},
		"$orderby":      {"start/dateTime"},
		"$top":          {strconv.Itoa(g.pageSize)},
	}
	var c eventCollection
	if err := g.call(ctx, key, http.MethodGet, "/me/calendarview", q, nil, displayZone, &c); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	records := make([]*EventRecord, 0, len(c.Value))
	for i := range c.Value {
		rec, err := g.eventRecord(&c.Value[i])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !w.Overlaps(rec.Start, rec.End) {
			g.logger.Debug("dropping event outside window", "id", rec.ID, "start", rec.Start, "end", rec.End)
			continue
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Start.Before(records[j].Start)
	})
	if len(records) > g.pageSize {
		records = records[:g.pageSize]
	}
	return records, nil
}

// CreateEvent validates r and creates the event in the account's calendar,
// expressing its times in displayZone. Validation failures are returned as an
// *InvalidEventRequestError without calling the API.
func (g *Gateway) CreateEvent(ctx context.Context, key string, r *EventRequest, displayZone string) (*EventRecord, error) {
	const op = "Gateway.CreateEvent"
	if key == "" {
		return nil, fmt.Errorf("%s: account key is empty: %w", op, ErrInvalidParameter)
	}
	if r == nil {
		return nil, fmt.Errorf("%s: event request is nil: %w", op, ErrNilParameter)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	loc, err := g.resolver.Location(displayZone)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var created eventResource
	if err := g.call(ctx, key, http.MethodPost, "/me/events", nil, newEventResource(r, displayZone, loc), displayZone, &created); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rec, err := g.eventRecord(&created)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

// call sends one authenticated request and decodes a 2xx JSON response into
// out. A non-empty displayZone asks the API to express times in that zone.
func (g *Gateway) call(ctx context.Context, key, method, path string, q url.Values, in interface{}, displayZone string, out interface{}) error {
	token, err := g.tokens.AccessToken(ctx, key)
	switch {
	case errors.Is(err, broker.ErrReauthRequired):
		return fmt.Errorf("%w: %w", ErrAuthExpired, err)
	case err != nil:
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("unable to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	u := *g.baseURL
	u.Path += path
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("unable to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if displayZone != "" {
		req.Header.Set("Prefer", fmt.Sprintf("outlook.timezone=%q", displayZone))
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}
	g.logger.Debug("calling api", "method", method, "path", path)
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: unable to read response: %w", ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Warn("api call failed", "method", method, "path", path, "status", resp.StatusCode)
		return &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}
