// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package platform

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Taxonomy
// =============================================================================
//
// Callers need to distinguish three situations that a naive client would
// collapse into one error value:
//
//	1. The record does not exist (ErrRecordNotFound). Normal outcome for an
//	   id lookup; the resolution engine treats it as "keep searching".
//	2. The platform could not be reached or refused the call
//	   (*TransportError). The engine retries these within its attempt budget
//	   and only surfaces them once the budget is exhausted, so "couldn't
//	   check" is never reported as "doesn't exist".
//	3. A search returned zero rows. Not an error at all — Search returns an
//	   empty slice and a nil error.

// ErrRecordNotFound indicates an id lookup addressed a record that does not
// exist (or is not visible to the caller). Wrap with %w; test with IsNotFound.
var ErrRecordNotFound = errors.New("record not found")

// TransportError reports a failure of the platform call itself: network
// error, authentication failure, rate limiting, or a 5xx from the platform.
// StatusCode is 0 when the request never produced an HTTP response.
type TransportError struct {
	Op         string // "search", "get", "create", "update", "delete", "version"
	Collection string // may be empty for non-collection calls
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("platform %s %s: status %d: %v", e.Op, e.Collection, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("platform %s: status %d: %v", e.Op, e.StatusCode, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is (or wraps) ErrRecordNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// IsTransport reports whether err is (or wraps) a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
