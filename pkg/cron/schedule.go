package cron

import (
	"fmt"
	"time"
)

// Schedule determines when a job should run next.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

// intervalSchedule fires on wall-clock multiples of every (e.g. :00, :15, :30 for 15m),
// so restarts do not shift the cadence.
type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	next := from.Truncate(s.every).Add(s.every)
	if !next.After(from) {
		next = next.Add(s.every)
	}
	return next
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %v", s.every)
}

// dailySchedule fires once a day at hour:minute in loc (from's location when nil).
type dailySchedule struct {
	hour   int
	minute int
	loc    *time.Location
}

func (s dailySchedule) Next(from time.Time) time.Time {
	loc := s.loc
	if loc == nil {
		loc = from.Location()
	}
	local := from.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	if s.loc != nil {
		return fmt.Sprintf("daily at %02d:%02d %s", s.hour, s.minute, s.loc)
	}
	return fmt.Sprintf("daily at %02d:%02d", s.hour, s.minute)
}

// Every runs at fixed wall-clock aligned intervals. Panics on non-positive d.
func Every(d time.Duration) Schedule {
	if d <= 0 {
		panic("cron: Every requires a positive duration")
	}
	return intervalSchedule{every: d}
}

// DailyAtIn runs once a day at hour:minute in loc. A nil loc follows the
// location of the reference time.
func DailyAtIn(hour, minute int, loc *time.Location) Schedule {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		panic("cron: DailyAtIn expects hour 0-23 and minute 0-59")
	}
	return dailySchedule{hour: hour, minute: minute, loc: loc}
}
