package service

import (
	"time"
)

// expiresAt turns a relative expires_in (seconds) into an absolute time.
// Zero or negative means the platform did not say.
func expiresAt(now time.Time, expiresIn int64) time.Time {
	if expiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(expiresIn) * time.Second)
}
