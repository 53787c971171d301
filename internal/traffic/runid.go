package traffic

import "github.com/google/uuid"

// NewRunID mints a fresh 128-bit relay run id (§3). Consumers of
// /internal/traffic-stats use this to detect a relay restart and avoid
// double-counting across a process boundary.
func NewRunID() string {
	return uuid.NewString()
}
