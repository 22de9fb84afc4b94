// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNilContext is returned when a nil context is provided.
	ErrNilContext = errors.New("context must not be nil")

	// ErrUnknownKind is returned for an unrecognized operation kind.
	ErrUnknownKind = errors.New("unknown operation kind")

	// ErrConfirmationRequired is returned when execution is requested
	// without explicit confirmation. Nothing is read or written before this
	// check.
	ErrConfirmationRequired = errors.New("execution requires confirm=true")

	// ErrInvalidTarget is returned when the request's selector is incomplete
	// for its kind.
	ErrInvalidTarget = errors.New("invalid target selector")
)

// LimitError reports that the affected entity count exceeds the operation's
// ceiling, or that a requested budget exceeds the hard cap. It is raised
// during planning, before any transaction is opened.
type LimitError struct {
	// Kind is the operation that was refused.
	Kind Kind

	// Affected is the counted or requested entity total.
	Affected int64

	// Limit is the ceiling that was exceeded.
	Limit int64
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	return fmt.Sprintf("%s would affect %d entities, exceeding the limit of %d",
		e.Kind, e.Affected, e.Limit)
}

// IsValidation reports whether err is a local validation failure: bad
// parameters, a missing confirmation, or an exceeded size limit. Validation
// failures mean nothing happened; they are never retried by the engine.
func IsValidation(err error) bool {
	var limitErr *LimitError
	return errors.Is(err, ErrConfirmationRequired) ||
		errors.Is(err, ErrInvalidTarget) ||
		errors.Is(err, ErrUnknownKind) ||
		errors.As(err, &limitErr)
}
