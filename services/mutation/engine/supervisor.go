// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import "time"

// supervisor enforces the wall-clock deadline over a chunked execution.
//
// The deadline is computed once at invocation start and checked between
// chunks only: a chunk transaction, once started, finishes or fails on its
// own terms. The supervisor never aborts an in-flight transaction, so the
// store is never left in an indeterminate state.
type supervisor struct {
	deadline time.Time
	now      func() time.Time
}

// newSupervisor starts a deadline of now+timeout. A zero timeout disables
// the deadline (REINDEX delegates its bound to the store).
func newSupervisor(timeout time.Duration) *supervisor {
	s := &supervisor{now: time.Now}
	if timeout > 0 {
		s.deadline = s.now().Add(timeout)
	}
	return s
}

// expired reports whether the deadline has passed. Always false when no
// deadline is set.
func (s *supervisor) expired() bool {
	if s.deadline.IsZero() {
		return false
	}
	return !s.now().Before(s.deadline)
}

// remaining returns the time left before the deadline, or zero when no
// deadline is set.
func (s *supervisor) remaining() time.Duration {
	if s.deadline.IsZero() {
		return 0
	}
	d := s.deadline.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}
