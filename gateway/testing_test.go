// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-delegate/account"
	"github.com/hashicorp/go-delegate/broker"
	"github.com/hashicorp/go-delegate/oidc"
	"github.com/stretchr/testify/require"
)

// testTokenSource hands out "tok-<key>" unless err is set.
type testTokenSource struct {
	err   error
	calls atomic.Int32
}

func (s *testTokenSource) AccessToken(_ context.Context, key string) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return "tok-" + key, nil
}

// testAPI is a fake calendar API. Every request is recorded and answered with
// the configured status and JSON reply.
type testAPI struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	status   int
	reply    interface{}
	requests []*testRecordedRequest
}

type testRecordedRequest struct {
	method string
	path   string
	query  map[string][]string
	header http.Header
	body   []byte
}

func startTestAPI(t *testing.T) *testAPI {
	t.Helper()
	a := &testAPI{t: t, status: http.StatusOK, reply: map[string]interface{}{}}
	a.server = httptest.NewServer(a)
	t.Cleanup(a.server.Close)
	return a
}

func (a *testAPI) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	require.NoError(a.t, err)
	a.mu.Lock()
	a.requests = append(a.requests, &testRecordedRequest{
		method: req.Method,
		path:   req.URL.Path,
		query:  req.URL.Query(),
		header: req.Header.Clone(),
		body:   body,
	})
	status, reply := a.status, a.reply
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if s, ok := reply.(string); ok {
		_, _ = w.Write([]byte(s))
		return
	}
	_ = json.NewEncoder(w).Encode(reply)
}

func (a *testAPI) setReply(status int, reply interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status, a.reply = status, reply
}

func (a *testAPI) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

func (a *testAPI) lastRequest() *testRecordedRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(a.t, a.requests)
	return a.requests[len(a.requests)-1]
}

func testGateway(t *testing.T, opt ...Option) (*testAPI, *testTokenSource, *Gateway) {
	t.Helper()
	api := startTestAPI(t)
	ts := &testTokenSource{}
	g, err := NewGateway(api.server.URL+"/v1.0", ts, opt...)
	require.NoError(t, err)
	return api, ts, g
}

func testEvent(id, subject, start, end, zone string) map[string]interface{} {
	return map[string]interface{}{
		"id":      id,
		"subject": subject,
		"organizer": map[string]interface{}{
			"emailAddress": map[string]interface{}{"name": "Alice", "address": "alice@example.com"},
		},
		"start": map[string]interface{}{"dateTime": start, "timeZone": zone},
		"end":   map[string]interface{}{"dateTime": end, "timeZone": zone},
	}
}

// testRealBroker returns a broker wired to a running oidc.TestProvider.
func testRealBroker(t *testing.T) (*oidc.TestProvider, *account.MemStore, *broker.Broker) {
	t.Helper()
	require := require.New(t)
	tp := oidc.StartTestProvider(t)
	p, err := oidc.NewProvider(tp.Config(t, "https://example.com/auth/callback"))
	require.NoError(err)
	t.Cleanup(p.Done)
	s, err := account.NewMemStore()
	require.NoError(err)
	b, err := broker.NewBroker(p, s)
	require.NoError(err)
	return tp, s, b
}

// testStoreAccount stores an account with access token "at_cached" expiring at
// expiry and a refresh token the provider doesn't know.
func testStoreAccount(t *testing.T, s account.Store, key string, expiry time.Time) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), &account.Account{
		Key: key,
		Credential: &account.Credential{
			AccessToken:  "at_cached",
			Expiry:       expiry,
			RefreshToken: oidc.RefreshToken("rt_" + key),
		},
	}))
}
