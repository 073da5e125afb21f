package services

import "time"

// Clock supplies the current time. Window arithmetic goes through it so the
// time-based paths are testable with a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a Clock backed by the wall clock in UTC.
func SystemClock() Clock { return systemClock{} }
