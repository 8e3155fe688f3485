// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when a query is stopped by the user,
// either before spawn (/stop raced the queue) or mid-run.
var ErrCancelled = errors.New("session: query cancelled")

// PolicyViolationError terminates a query whose agent attempted a
// blocked command or an out-of-bounds file access.
type PolicyViolationError struct {
	Reason string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("session: policy violation: %s", e.Reason)
}
