package main

import (
	"time"
)

var _ TickerClocker = (*Clock)(nil)

// Clocker provides the current time. Book and rating timestamps,
// token expiries and log entries all read it.
type Clocker interface {
	Now() time.Time
}

// TickerClocker is a Clocker that can also drive periodic jobs
// such as the rate limiter sweep.
type TickerClocker interface {
	Clocker
	NewTicker(time.Duration) *time.Ticker
}

// Clock is the wall clock pinned to a location.
type Clock struct {
	loc *time.Location
}

// NewClock returns a clock in UTC for production and in the
// local timezone otherwise.
func NewClock(isProd bool) *Clock {
	loc := time.Local
	if isProd {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

func (c *Clock) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}
