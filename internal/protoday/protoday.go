// Package protoday maps timestamps to protocol days counted from launch.
package protoday

import (
	"fmt"
	"time"
)

// SecondsPerDay is the length of one protocol day.
const SecondsPerDay = 86400

// Day returns the 1-based protocol day containing ts, or 0 before launch.
func Day(ts, launch time.Time) uint64 {
	if ts.Before(launch) {
		return 0
	}
	elapsed := ts.Unix() - launch.Unix()
	return uint64(elapsed/SecondsPerDay) + 1
}

// Start returns the first instant of protocol day. Day 0 has no start.
func Start(day uint64, launch time.Time) (time.Time, error) {
	if day == 0 {
		return time.Time{}, fmt.Errorf("protocol days start at 1")
	}
	return launch.Add(time.Duration(day-1) * SecondsPerDay * time.Second), nil
}

// Clock stamps times with protocol days for a fixed launch.
type Clock struct {
	Launch time.Time
	Now    func() time.Time
}

// Enabled reports whether a launch time is set.
func (c Clock) Enabled() bool {
	return !c.Launch.IsZero()
}

// At is the protocol day containing ts. A zero launch disables stamping.
func (c Clock) At(ts time.Time) uint64 {
	if !c.Enabled() {
		return 0
	}
	return Day(ts, c.Launch)
}

// Today is the protocol day at Now.
func (c Clock) Today() uint64 {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return c.At(now())
}
