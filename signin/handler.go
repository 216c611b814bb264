// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package signin

import (
	"fmt"
	"net/http"
)

// SessionFunc returns the id of the session a request belongs to.
type SessionFunc func(req *http.Request) (string, error)

// SuccessResponseFunc writes the response for a completed sign-in.
type SuccessResponseFunc func(accountKey string, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc writes the response for a failed sign-in. respErr is set
// when the provider reported the failure in its callback; e is always set.
type ErrorResponseFunc func(respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request)

// AuthenErrorResponse is an OAuth2 authorization error response. See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string
	Description string
	Uri         string
}

// CallbackHandler creates an authorization code callback handler. It reads
// the state and code (or the provider's error) from the request's query or
// form body and completes the session's pending sign-in.
func CallbackHandler(o *Orchestrator, sessionFn SessionFunc, successFn SuccessResponseFunc, errorFn ErrorResponseFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		const op = "signin.CallbackHandler"
		sessionID, err := sessionFn(req)
		if err != nil {
			errorFn(nil, fmt.Errorf("%s: unable to read session: %w", op, err), w, req)
			return
		}

		// FormValue prioritizes body values, if found.
		if e := req.FormValue("error"); e != "" {
			o.Abandon(sessionID)
			respErr := &AuthenErrorResponse{
				Error:       e,
				Description: req.FormValue("error_description"),
				Uri:         req.FormValue("error_uri"),
			}
			o.logger.Warn("provider rejected sign-in", "session", sessionID, "error", e, "description", respErr.Description)
			errorFn(respErr, fmt.Errorf("%s: provider error %q: %w", op, e, ErrCodeExchangeFailed), w, req)
			return
		}

		key, err := o.CompleteSignIn(req.Context(), sessionID, req.FormValue("state"), req.FormValue("code"))
		if err != nil {
			errorFn(nil, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		successFn(key, w, req)
	}
}
