// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "errors"

type rateLimited interface {
	IsRateLimited() bool
}

// IsRateLimited reports whether err (or anything it wraps) indicates
// transport-level throttling, such as a Telegram 429 response.
func IsRateLimited(err error) bool {
	var rl rateLimited
	return errors.As(err, &rl) && rl.IsRateLimited()
}
