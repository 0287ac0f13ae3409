package trader

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Cron schedules carry no timezone of their own; they are read as
// wall-clock time in the US Eastern trading timezone because NYSE opens
// and closes at fixed America/New_York times regardless of where the
// process runs. Everything else in the system is UTC.
var eastern = mustLoadEastern()

func mustLoadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
	return loc
}

// Standard five-field cron, with an optional leading seconds field.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// dueNow reports whether a schedule that last fired at ref (or was started
// then, if it never fired) is due at now. It walks the cron's fire times
// forward from ref and keeps the last one at or before now; the schedule is
// due only when now has reached that fire time and both still fall in the
// same clock hour. A firing missed by more than an hour is skipped, not
// caught up.
func dueNow(schedule string, ref, now time.Time) (bool, error) {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return false, fmt.Errorf("parsing schedule %q: %w", schedule, err)
	}

	nowET := now.In(eastern)
	// Round the reference up to the next whole minute: the cron evaluator
	// ignores sub-minute precision and would otherwise re-fire on every
	// poll for the rest of the same minute.
	refET := roundUpMinute(ref.In(eastern))

	// Next is exclusive of its argument; back off one second so a
	// reference sitting exactly on a fire minute is included. Start
	// timestamps are routinely entered on a whole minute and their first
	// firing must count.
	next := sched.Next(refET.Add(-time.Second))
	candidate := next
	for !next.IsZero() && !next.After(nowET) {
		candidate = next
		next = sched.Next(next)
	}
	if candidate.IsZero() || nowET.Before(candidate) {
		return false, nil
	}
	return nowET.Truncate(time.Hour).Equal(candidate.Truncate(time.Hour)), nil
}

func roundUpMinute(t time.Time) time.Time {
	floored := t.Truncate(time.Minute)
	if floored.Equal(t) {
		return t
	}
	return floored.Add(time.Minute)
}
